package record

import (
	"errors"
	"fmt"
)

var (
	ErrSchemaMismatch = errors.New("table header does not match schema")
	ErrDuplicateID    = errors.New("observation id already exists")
	ErrUnknownField   = errors.New("unknown field")
)

// ParseError is a row that could not be decoded during load
type ParseError struct {
	Line  int
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: field %s=%q: %v", e.Line, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError rejects a new or edited observation before it is written
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s: %s (got: %q)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StorageError is a failed read or write of the backing file
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ModelError is a scorer that could not label a series
type ModelError struct {
	Scorer string
	Err    error
}

func (e *ModelError) Error() string {
	if e.Scorer == "" {
		return fmt.Sprintf("anomaly scoring failed: %v", e.Err)
	}
	return fmt.Sprintf("anomaly scoring failed (%s): %v", e.Scorer, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }
