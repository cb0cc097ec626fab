package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/smukkama/weather-tracker/internal/record"
)

// Kind is the type of a column
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindDate
	KindID
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindID:
		return "id"
	default:
		return "text"
	}
}

// Column describes one field of a deployment's table
type Column struct {
	Name        string
	Kind        Kind
	Required    bool
	Categorical bool
	Min         float64
	Max         float64
}

// Schema is the fixed, ordered column set of one deployment
type Schema struct {
	Name    string
	Layout  string
	Columns []Column
}

// Header returns the column names in file order
func (s *Schema) Header() []string {
	header := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		header[i] = c.Name
	}
	return header
}

// Column looks up a column by name
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// IDColumn returns the name of the id column, or "" when rows carry no id
func (s *Schema) IDColumn() string {
	return s.firstOfKind(KindID)
}

// DateColumn returns the name of the timestamp column
func (s *Schema) DateColumn() string {
	return s.firstOfKind(KindDate)
}

func (s *Schema) firstOfKind(kind Kind) string {
	for _, c := range s.Columns {
		if c.Kind == kind {
			return c.Name
		}
	}
	return ""
}

// NumericFields returns the names of the numeric columns
func (s *Schema) NumericFields() []string {
	var names []string
	for _, c := range s.Columns {
		if c.Kind == KindNumber {
			names = append(names, c.Name)
		}
	}
	return names
}

// CategoricalFields returns the names of the text columns used for frequency counts
func (s *Schema) CategoricalFields() []string {
	var names []string
	for _, c := range s.Columns {
		if c.Categorical {
			names = append(names, c.Name)
		}
	}
	return names
}

// MatchesHeader reports whether a file header equals the schema header
func (s *Schema) MatchesHeader(header []string) bool {
	if len(header) != len(s.Columns) {
		return false
	}
	for i, c := range s.Columns {
		name := header[i]
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if strings.TrimSpace(name) != c.Name {
			return false
		}
	}
	return true
}

// ParseTime parses a timestamp with the deployment layout
func (s *Schema) ParseTime(value string) (time.Time, error) {
	return time.Parse(s.Layout, strings.TrimSpace(value))
}

// FormatTime formats a timestamp with the deployment layout
func (s *Schema) FormatTime(t time.Time) string {
	return t.Format(s.Layout)
}

// Decode turns one CSV record into an observation. The id is left empty for
// schemas without an id column.
func (s *Schema) Decode(fields []string, line int) (record.Observation, error) {
	if len(fields) != len(s.Columns) {
		return record.Observation{}, &record.ParseError{
			Line: line,
			Err:  fmt.Errorf("expected %d columns, got %d", len(s.Columns), len(fields)),
		}
	}

	obs := record.Observation{Fields: make(map[string]record.Value, len(s.Columns))}
	for i, c := range s.Columns {
		raw := fields[i]
		switch c.Kind {
		case KindID:
			obs.ID = strings.TrimSpace(raw)
		case KindDate:
			ts, err := s.ParseTime(raw)
			if err != nil {
				return record.Observation{}, &record.ParseError{Line: line, Field: c.Name, Value: raw, Err: err}
			}
			obs.Timestamp = ts
		case KindNumber:
			obs.Fields[c.Name] = record.ParseNumber(raw)
		default:
			obs.Fields[c.Name] = record.Text(raw)
		}
	}
	return obs, nil
}

// Encode turns an observation into a CSV record in header order
func (s *Schema) Encode(obs record.Observation) []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		switch c.Kind {
		case KindID:
			out[i] = obs.ID
		case KindDate:
			out[i] = s.FormatTime(obs.Timestamp)
		default:
			out[i] = obs.Get(c.Name).String()
		}
	}
	return out
}

// Prepare validates an observation against the schema and returns a normalized
// copy: every known column present, numeric columns parsed, unknown fields
// rejected.
func (s *Schema) Prepare(obs record.Observation) (record.Observation, error) {
	if obs.Timestamp.IsZero() {
		return record.Observation{}, &record.ValidationError{Field: s.DateColumn(), Message: "timestamp is required"}
	}

	for name := range obs.Fields {
		c, ok := s.Column(name)
		if !ok {
			return record.Observation{}, &record.ValidationError{
				Field:   name,
				Message: fmt.Sprintf("not a %s column", s.Name),
				Err:     record.ErrUnknownField,
			}
		}
		if c.Kind == KindID || c.Kind == KindDate {
			return record.Observation{}, &record.ValidationError{
				Field:   name,
				Message: "set through the observation id or timestamp, not as a field",
			}
		}
	}

	out := record.Observation{ID: obs.ID, Timestamp: obs.Timestamp, Fields: make(map[string]record.Value, len(s.Columns))}
	for _, c := range s.Columns {
		if c.Kind == KindID || c.Kind == KindDate {
			continue
		}

		v := obs.Get(c.Name)
		if strings.ContainsAny(v.String(), "\r\n") {
			return record.Observation{}, &record.ValidationError{Field: c.Name, Value: v.String(), Message: "line breaks are not allowed"}
		}
		if v.IsEmpty() {
			if c.Required {
				return record.Observation{}, &record.ValidationError{Field: c.Name, Message: "value is required"}
			}
			out.Fields[c.Name] = record.Text("")
			continue
		}

		if c.Kind != KindNumber {
			out.Fields[c.Name] = v
			continue
		}

		if !v.IsNumeric() {
			v = record.ParseNumber(v.String())
		}
		f, ok := v.Float()
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return record.Observation{}, &record.ValidationError{Field: c.Name, Value: v.String(), Message: "must be a number"}
		}
		if f < c.Min || f > c.Max {
			return record.Observation{}, &record.ValidationError{
				Field:   c.Name,
				Value:   v.String(),
				Message: fmt.Sprintf("must be between %s and %s", formatBound(c.Min), formatBound(c.Max)),
			}
		}
		out.Fields[c.Name] = v
	}
	return out, nil
}

func formatBound(f float64) string {
	if math.IsInf(f, 0) {
		if f > 0 {
			return "+inf"
		}
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
