package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/smukkama/weather-tracker/internal/record"
)

// Period is the calendar unit rows are bucketed by
type Period string

const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Aggregation reduces the values of one bucket
type Aggregation string

const (
	AggSum  Aggregation = "sum"
	AggMean Aggregation = "mean"
)

// ParsePeriod accepts day/month/year and the pandas style D/M/Y aliases
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "day", "daily", "d":
		return PeriodDay, nil
	case "month", "monthly", "m":
		return PeriodMonth, nil
	case "year", "yearly", "y":
		return PeriodYear, nil
	default:
		return "", fmt.Errorf("unknown period: %s", s)
	}
}

// ParseAggregation accepts sum and mean
func ParseAggregation(s string) (Aggregation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sum", "total":
		return AggSum, nil
	case "mean", "avg", "average":
		return AggMean, nil
	default:
		return "", fmt.Errorf("unknown aggregation: %s", s)
	}
}

// Bucket is the aggregate of one populated period
type Bucket struct {
	Start time.Time
	Key   string
	Value float64
	Count int
}

// Truncate returns the start of the period containing t, in t's location
func (p Period) Truncate(t time.Time) (time.Time, error) {
	switch p {
	case PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()), nil
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()), nil
	case PeriodYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location()), nil
	default:
		return time.Time{}, fmt.Errorf("unknown period: %s", p)
	}
}

// Key formats the start of a period as its bucket label
func (p Period) Key(start time.Time) string {
	switch p {
	case PeriodMonth:
		return start.Format("2006-01")
	case PeriodYear:
		return start.Format("2006")
	default:
		return start.Format("2006-01-02")
	}
}

// GroupByPeriod buckets rows by truncating their timestamp to the period and
// aggregates the numeric values of field in each bucket. Buckets come back in
// chronological order; periods without values are omitted, not zero-filled.
func GroupByPeriod(rows []record.Observation, period Period, field string, agg Aggregation) ([]Bucket, error) {
	if agg != AggSum && agg != AggMean {
		return nil, fmt.Errorf("unknown aggregation: %s", agg)
	}
	if _, err := period.Truncate(time.Time{}); err != nil {
		return nil, err
	}

	byKey := make(map[string]*Bucket)
	for _, r := range rows {
		v, ok := r.Float(field)
		if !ok {
			continue
		}

		start, _ := period.Truncate(r.Timestamp)
		key := period.Key(start)

		b, ok := byKey[key]
		if !ok {
			b = &Bucket{Start: start, Key: key}
			byKey[key] = b
		}
		b.Value += v
		b.Count++
	}

	buckets := make([]Bucket, 0, len(byKey))
	for _, b := range byKey {
		if agg == AggMean {
			b.Value /= float64(b.Count)
		}
		buckets = append(buckets, *b)
	}

	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Start.Before(buckets[j].Start)
	})
	return buckets, nil
}
