package cachestore

import (
	"context"
	"fmt"

	"github.com/hrvstr/datagate/internal/models"
)

// TypeStats counts rows of one data type.
type TypeStats struct {
	DataType string `json:"data_type"`
	Total    int64  `json:"total"`
	Live     int64  `json:"live"`
	Expired  int64  `json:"expired"`
}

// Stats summarizes the cache contents and the in-process lookup counters.
type Stats struct {
	Total   int64       `json:"total"`
	Live    int64       `json:"live"`
	Expired int64       `json:"expired"`
	ByType  []TypeStats `json:"by_type"`
	Hits    int64       `json:"hits"`
	Misses  int64       `json:"misses"`
	HitRate float64     `json:"hit_rate"`
}

// Stats reports row counts per data type plus hit and miss counts since start.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var rows []TypeStats
	if errScan := s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Select("data_type, COUNT(*) AS total, COALESCE(SUM(CASE WHEN expires_at > ? THEN 1 ELSE 0 END), 0) AS live", s.now()).
		Group("data_type").
		Order("data_type ASC").
		Scan(&rows).Error; errScan != nil {
		return Stats{}, fmt.Errorf("cachestore: stats: %w", errScan)
	}

	out := Stats{ByType: make([]TypeStats, 0, len(rows))}
	for _, row := range rows {
		row.Expired = row.Total - row.Live
		out.Total += row.Total
		out.Live += row.Live
		out.Expired += row.Expired
		out.ByType = append(out.ByType, row)
	}
	out.Hits = s.hits.Load()
	out.Misses = s.misses.Load()
	if lookups := out.Hits + out.Misses; lookups > 0 {
		out.HitRate = float64(out.Hits) / float64(lookups)
	}
	return out, nil
}
