package analysis

import (
	"math"
	"strings"

	"github.com/smukkama/weather-tracker/internal/record"
)

// FieldStats holds descriptive statistics of one numeric field. Pointers are
// nil when the statistic is undefined for the input.
type FieldStats struct {
	Field  string
	Count  int
	Mean   *float64
	StdDev *float64
	Min    *float64
	Max    *float64
}

// CategoryCount is the number of rows holding one categorical value
type CategoryCount struct {
	Value string
	Count int
}

// CategoryStats holds the mode and the frequency table of a text field
type CategoryStats struct {
	Field       string
	Count       int
	Mode        *string
	Frequencies []CategoryCount
}

// Summary is a transient aggregate over a set of rows
type Summary struct {
	Rows        int
	Numeric     []FieldStats
	Categorical []CategoryStats
}

// Field returns the statistics for a numeric field
func (s Summary) Field(name string) (FieldStats, bool) {
	for _, f := range s.Numeric {
		if f.Field == name {
			return f, true
		}
	}
	return FieldStats{}, false
}

// Category returns the statistics for a categorical field
func (s Summary) Category(name string) (CategoryStats, bool) {
	for _, c := range s.Categorical {
		if c.Field == name {
			return c, true
		}
	}
	return CategoryStats{}, false
}

// Summarize computes count, mean, sample standard deviation, min and max for
// each numeric field, and mode plus frequencies for each categorical field.
// Missing and non-numeric values are ignored. Mode ties go to the value seen
// first. An empty input yields a summary with every statistic nil.
func Summarize(rows []record.Observation, numericFields []string, categoricalFields ...string) Summary {
	summary := Summary{
		Rows:        len(rows),
		Numeric:     make([]FieldStats, 0, len(numericFields)),
		Categorical: make([]CategoryStats, 0, len(categoricalFields)),
	}

	for _, field := range numericFields {
		summary.Numeric = append(summary.Numeric, numericStats(rows, field))
	}
	for _, field := range categoricalFields {
		summary.Categorical = append(summary.Categorical, categoryStats(rows, field))
	}
	return summary
}

func numericStats(rows []record.Observation, field string) FieldStats {
	stats := FieldStats{Field: field}

	var sum, min, max float64
	values := make([]float64, 0, len(rows))
	for _, r := range rows {
		v, ok := r.Float(field)
		if !ok {
			continue
		}
		if len(values) == 0 || v < min {
			min = v
		}
		if len(values) == 0 || v > max {
			max = v
		}
		sum += v
		values = append(values, v)
	}

	stats.Count = len(values)
	if stats.Count == 0 {
		return stats
	}

	mean := sum / float64(stats.Count)
	stats.Mean = &mean
	stats.Min = &min
	stats.Max = &max

	if stats.Count > 1 {
		var sq float64
		for _, v := range values {
			d := v - mean
			sq += d * d
		}
		std := math.Sqrt(sq / float64(stats.Count-1))
		stats.StdDev = &std
	}
	return stats
}

func categoryStats(rows []record.Observation, field string) CategoryStats {
	stats := CategoryStats{Field: field}

	index := make(map[string]int)
	for _, r := range rows {
		value := strings.TrimSpace(r.Get(field).String())
		if value == "" {
			continue
		}
		stats.Count++
		if i, ok := index[value]; ok {
			stats.Frequencies[i].Count++
			continue
		}
		index[value] = len(stats.Frequencies)
		stats.Frequencies = append(stats.Frequencies, CategoryCount{Value: value, Count: 1})
	}

	best := -1
	for i, f := range stats.Frequencies {
		if best < 0 || f.Count > stats.Frequencies[best].Count {
			best = i
		}
	}
	if best >= 0 {
		mode := stats.Frequencies[best].Value
		stats.Mode = &mode
	}
	return stats
}
