package tier

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the on-disk policy override format.
type File struct {
	Tiers map[string]TierFile `yaml:"tiers"`
}

// TierFile overrides one tier. Unset fields keep their defaults.
type TierFile struct {
	MonthlyCredits     *int64                  `yaml:"monthly-credits"`
	MaxSessionDuration string                  `yaml:"max-session-duration"`
	Restricted         []string                `yaml:"restricted"`
	DataTypes          map[string]DataTypeFile `yaml:"data-types"`
}

// DataTypeFile overrides one (tier, data type) entry.
type DataTypeFile struct {
	SessionDuration string         `yaml:"session-duration"`
	CacheTTL        string         `yaml:"cache-ttl"`
	CreditCost      *int           `yaml:"credit-cost"`
	RangeCosts      map[string]int `yaml:"range-costs"`
}

// LoadTable returns the default table merged with the override file at path.
// An empty path returns the defaults.
func LoadTable(path string) (*Table, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return nil, fmt.Errorf("tier: read policy file: %w", errRead)
	}
	var file File
	if errUnmarshal := yaml.Unmarshal(data, &file); errUnmarshal != nil {
		return nil, fmt.Errorf("tier: parse policy file: %w", errUnmarshal)
	}
	return Merge(Default(), file)
}

// Merge applies file onto a copy of base and validates the result.
func Merge(base *Table, file File) (*Table, error) {
	out := base.clone()
	for rawTier, override := range file.Tiers {
		name, ok := ParseTier(rawTier)
		if !ok {
			return nil, fmt.Errorf("tier: unknown tier %q", rawTier)
		}
		row := out.tiers[name]
		if row == nil {
			row = &tierRow{restricted: make(map[string]struct{}), entries: make(map[string]Entry)}
			out.tiers[name] = row
		}
		if override.MonthlyCredits != nil {
			if *override.MonthlyCredits < 0 {
				return nil, fmt.Errorf("tier: %s: negative monthly credits", name)
			}
			row.monthlyCredits = *override.MonthlyCredits
		}
		if override.MaxSessionDuration != "" {
			d, errParse := parseDuration(override.MaxSessionDuration)
			if errParse != nil {
				return nil, fmt.Errorf("tier: %s: max-session-duration: %w", name, errParse)
			}
			row.maxSessionDuration = d
		}
		if override.Restricted != nil {
			row.restricted = make(map[string]struct{}, len(override.Restricted))
			for _, dataType := range override.Restricted {
				row.restricted[strings.TrimSpace(dataType)] = struct{}{}
			}
		}
		for dataType, entryFile := range override.DataTypes {
			entry, errEntry := mergeEntry(row.entries[dataType], entryFile)
			if errEntry != nil {
				return nil, fmt.Errorf("tier: %s/%s: %w", name, dataType, errEntry)
			}
			row.entries[dataType] = entry
		}
	}
	if errValidate := out.validate(); errValidate != nil {
		return nil, errValidate
	}
	return out, nil
}

func mergeEntry(entry Entry, file DataTypeFile) (Entry, error) {
	entry = entry.clone()
	if file.SessionDuration != "" {
		d, err := parseDuration(file.SessionDuration)
		if err != nil {
			return Entry{}, fmt.Errorf("session-duration: %w", err)
		}
		entry.SessionDuration = d
	}
	if file.CacheTTL != "" {
		d, err := parseDuration(file.CacheTTL)
		if err != nil {
			return Entry{}, fmt.Errorf("cache-ttl: %w", err)
		}
		entry.CacheTTL = d
	}
	if file.CreditCost != nil {
		entry.CreditCost = *file.CreditCost
	}
	if file.RangeCosts != nil {
		entry.RangeCosts = make(map[string]int, len(file.RangeCosts))
		for timeRange, cost := range file.RangeCosts {
			entry.RangeCosts[timeRange] = cost
		}
	}
	return entry, nil
}

func (t *Table) validate() error {
	for name, row := range t.tiers {
		for dataType, entry := range row.entries {
			if entry.CacheTTL <= 0 {
				return fmt.Errorf("tier: %s/%s: cache ttl must be positive", name, dataType)
			}
			if entry.SessionDuration < 0 {
				return fmt.Errorf("tier: %s/%s: negative session duration", name, dataType)
			}
			if entry.CreditCost < 0 {
				return fmt.Errorf("tier: %s/%s: negative credit cost", name, dataType)
			}
			for timeRange, cost := range entry.RangeCosts {
				if cost < 0 {
					return fmt.Errorf("tier: %s/%s/%s: negative range cost", name, dataType, timeRange)
				}
			}
		}
	}
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", raw)
	}
	return d, nil
}
