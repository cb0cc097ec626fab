package analysis

import (
	"time"

	"github.com/smukkama/weather-tracker/internal/record"
)

// ThresholdStatus is the outcome of a quota check
type ThresholdStatus int

const (
	StatusOK ThresholdStatus = iota
	StatusWarning
)

func (s ThresholdStatus) String() string {
	if s == StatusWarning {
		return "warning"
	}
	return "ok"
}

// EvaluateThreshold warns when total is strictly above ratio of quota, so a
// total exactly at the limit is still ok.
func EvaluateThreshold(total, quota, ratio float64) ThresholdStatus {
	if total > quota*ratio {
		return StatusWarning
	}
	return StatusOK
}

// UsageRatio is total as a fraction of quota; zero when quota is not positive
func UsageRatio(total, quota float64) float64 {
	if quota <= 0 {
		return 0
	}
	return total / quota
}

// TotalOn sums the numeric values of field over rows dated on the same
// calendar day as day
func TotalOn(rows []record.Observation, field string, day time.Time) float64 {
	y, m, d := day.Date()

	var total float64
	for _, r := range rows {
		ry, rm, rd := r.Timestamp.Date()
		if ry != y || rm != m || rd != d {
			continue
		}
		if v, ok := r.Float(field); ok {
			total += v
		}
	}
	return total
}
