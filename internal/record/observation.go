package record

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Value is a single field value: either a number or free text.
type Value struct {
	text    string
	num     float64
	numeric bool
}

// Number creates a numeric value
func Number(f float64) Value {
	return Value{text: strconv.FormatFloat(f, 'f', -1, 64), num: f, numeric: true}
}

// Text creates a text value
func Text(s string) Value {
	return Value{text: s}
}

// ParseNumber interprets s as a number when it parses, and as text otherwise.
// Surrounding whitespace is ignored for the numeric check only.
func ParseNumber(s string) Value {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Text(s)
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Text(s)
	}
	return Value{text: trimmed, num: f, numeric: true}
}

// String returns the value as it is written to the table
func (v Value) String() string {
	return v.text
}

// Float returns the numeric value and whether the value is numeric
func (v Value) Float() (float64, bool) {
	return v.num, v.numeric
}

// IsNumeric reports whether the value holds a number
func (v Value) IsNumeric() bool {
	return v.numeric
}

// IsEmpty reports whether the value is missing
func (v Value) IsEmpty() bool {
	return !v.numeric && strings.TrimSpace(v.text) == ""
}

// Observation is one timestamped row of a table
type Observation struct {
	ID        string
	Timestamp time.Time
	Fields    map[string]Value
}

// New creates an observation with an empty field set
func New(ts time.Time) Observation {
	return Observation{Timestamp: ts, Fields: make(map[string]Value)}
}

// Set stores a field value and returns the observation for chaining
func (o Observation) Set(name string, v Value) Observation {
	if o.Fields == nil {
		o.Fields = make(map[string]Value)
	}
	o.Fields[name] = v
	return o
}

// Get returns a field value; missing fields yield an empty value
func (o Observation) Get(name string) Value {
	return o.Fields[name]
}

// Float returns the numeric value of a field
func (o Observation) Float(name string) (float64, bool) {
	v, ok := o.Fields[name]
	if !ok {
		return 0, false
	}
	return v.Float()
}

// Clone returns a deep copy so callers can mutate the field map safely
func (o Observation) Clone() Observation {
	c := Observation{ID: o.ID, Timestamp: o.Timestamp, Fields: make(map[string]Value, len(o.Fields))}
	for k, v := range o.Fields {
		c.Fields[k] = v
	}
	return c
}
