package rules

import "math"

// Alert severities, ordered from least to most urgent.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// SeverityRank orders severities for comparisons. Unknown severities rank
// below LOW.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// SeverityFromDeviation grades an alert by how far the value strayed from the
// threshold, relative to the threshold's magnitude. A zero threshold offers
// no scale, so it grades MEDIUM.
func SeverityFromDeviation(value, threshold float64) string {
	if threshold == 0 {
		return SeverityMedium
	}
	deviation := math.Abs(value-threshold) / math.Abs(threshold)
	switch {
	case deviation > 2.0:
		return SeverityCritical
	case deviation > 1.0:
		return SeverityHigh
	case deviation > 0.5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
