package payload

import "math"

// Strength labels.
const (
	StrengthStrong   = "strong"
	StrengthModerate = "moderate"
	StrengthWeak     = "weak"
	StrengthNeutral  = "neutral"
)

// Quality labels.
const (
	QualityHigh    = "high"
	QualityMedium  = "medium"
	QualityLow     = "low"
	QualityVeryLow = "very_low"
)

// StrengthOf buckets the magnitude of a sentiment score.
func StrengthOf(score float64) string {
	abs := math.Abs(score)
	switch {
	case abs >= 0.7:
		return StrengthStrong
	case abs >= 0.4:
		return StrengthModerate
	case abs >= 0.1:
		return StrengthWeak
	default:
		return StrengthNeutral
	}
}

// QualityOf buckets a confidence value.
func QualityOf(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return QualityHigh
	case confidence >= 0.6:
		return QualityMedium
	case confidence >= 0.4:
		return QualityLow
	default:
		return QualityVeryLow
	}
}

// LabelOf maps a score onto bullish, bearish or neutral.
func LabelOf(score float64) string {
	switch {
	case score > 0.1:
		return "bullish"
	case score < -0.1:
		return "bearish"
	default:
		return "neutral"
	}
}

// Normalize fills derived labels left empty by the upstream source.
func (s Sentiment) Normalize() Sentiment {
	if s.Label == "" {
		s.Label = LabelOf(s.Score)
	}
	if s.Strength == "" {
		s.Strength = StrengthOf(s.Score)
	}
	if s.Quality == "" {
		s.Quality = QualityOf(s.Confidence)
	}
	return s
}
