package analysis

import (
	"fmt"
	"time"

	"github.com/smukkama/weather-tracker/internal/record"
)

// Scorer labels each value of a series as an outlier (true) or not. It sees
// the whole series so it can fit a model over it.
type Scorer interface {
	Score(series []float64) ([]bool, error)
}

// ScorerFunc adapts a plain function to the Scorer interface
type ScorerFunc func(series []float64) ([]bool, error)

// Score calls f
func (f ScorerFunc) Score(series []float64) ([]bool, error) {
	return f(series)
}

// Label is the statistical verdict for one row
type Label int

const (
	Normal Label = iota
	Anomaly
)

func (l Label) String() string {
	if l == Anomaly {
		return "anomaly"
	}
	return "normal"
}

// Severity is the absolute tier of a value, independent of its label
type Severity int

const (
	Low Severity = iota
	Medium
	High
)

func (s Severity) String() string {
	switch s {
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "low"
	}
}

// Severity breakpoints in the deployment's native units
const (
	LowCeiling    = 20.0
	MediumCeiling = 40.0
)

// SeverityFor maps a value to its tier: Low up to 20, Medium up to 40, High above
func SeverityFor(v float64) Severity {
	switch {
	case v <= LowCeiling:
		return Low
	case v <= MediumCeiling:
		return Medium
	default:
		return High
	}
}

// Flag is the anomaly verdict for one row
type Flag struct {
	ID        string
	Timestamp time.Time
	Value     float64
	Label     Label
	Severity  Severity
}

// IsAnomaly reports whether the row was labelled as an outlier
func (f Flag) IsAnomaly() bool {
	return f.Label == Anomaly
}

// ScoreAnomalies runs scorer over the numeric series of field and returns one
// flag per row, in row order. Every row must hold a numeric value. A scorer
// failure is returned as a ModelError; it never degrades to all-normal.
func ScoreAnomalies(rows []record.Observation, field string, scorer Scorer) ([]Flag, error) {
	if scorer == nil {
		return nil, &record.ModelError{Err: fmt.Errorf("no scorer configured")}
	}

	series := make([]float64, len(rows))
	for i, r := range rows {
		v, ok := r.Float(field)
		if !ok {
			return nil, &record.ValidationError{
				Field:   field,
				Value:   r.Get(field).String(),
				Message: fmt.Sprintf("row %s has no numeric value to score", r.ID),
			}
		}
		series[i] = v
	}

	labels, err := scorer.Score(series)
	if err != nil {
		return nil, &record.ModelError{Scorer: scorerName(scorer), Err: err}
	}
	if len(labels) != len(series) {
		return nil, &record.ModelError{
			Scorer: scorerName(scorer),
			Err:    fmt.Errorf("scorer returned %d labels for %d rows", len(labels), len(series)),
		}
	}

	flags := make([]Flag, len(rows))
	for i, r := range rows {
		label := Normal
		if labels[i] {
			label = Anomaly
		}
		flags[i] = Flag{
			ID:        r.ID,
			Timestamp: r.Timestamp,
			Value:     series[i],
			Label:     label,
			Severity:  SeverityFor(series[i]),
		}
	}
	return flags, nil
}

// Anomalies returns only the flags labelled as outliers
func Anomalies(flags []Flag) []Flag {
	var out []Flag
	for _, f := range flags {
		if f.IsAnomaly() {
			out = append(out, f)
		}
	}
	return out
}

// scorerName uses the scorer's own name when it has one
func scorerName(s Scorer) string {
	if named, ok := s.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", s)
}
