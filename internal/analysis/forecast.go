package analysis

import (
	"strings"
	"time"

	"github.com/smukkama/weather-tracker/internal/record"
)

// MovingAverage returns the trailing mean over each full window of values.
// The result has len(values)-window+1 entries, or none when the window does
// not fit.
func MovingAverage(values []float64, window int) []float64 {
	if window <= 0 || window > len(values) {
		return nil
	}

	out := make([]float64, 0, len(values)-window+1)
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out
}

// Forecast predicts the next value as the mean of the last window values
func Forecast(values []float64, window int) (float64, bool) {
	if window <= 0 || window > len(values) {
		return 0, false
	}
	tail := values[len(values)-window:]
	var sum float64
	for _, v := range tail {
		sum += v
	}
	return sum / float64(window), true
}

// Series extracts the numeric values of field in row order, skipping rows
// without one
func Series(rows []record.Observation, field string) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v, ok := r.Float(field); ok {
			out = append(out, v)
		}
	}
	return out
}

// Filter keeps rows whose timestamp falls within [from, to]. A zero bound is open.
func Filter(rows []record.Observation, from, to time.Time) []record.Observation {
	var out []record.Observation
	for _, r := range rows {
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && r.Timestamp.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Where keeps rows whose field equals value, ignoring surrounding whitespace
func Where(rows []record.Observation, field, value string) []record.Observation {
	var out []record.Observation
	for _, r := range rows {
		if strings.TrimSpace(r.Get(field).String()) == value {
			out = append(out, r)
		}
	}
	return out
}
