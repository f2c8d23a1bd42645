package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedSchema is returned when a descriptor schema cannot be compiled.
var ErrUnsupportedSchema = errors.New("unsupported argument schema")

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Key    string // Field path, slash separated; empty for the root object
	Reason string // Human-readable reason for failure
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return e.Reason
	}
	return fmt.Sprintf("field %q: %s", e.Key, e.Reason)
}

// AggregateError represents multiple validation failures.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation errors:", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, err.Error())
	}
	return b.String()
}

// ValidationErrors returns all validation errors if err is an AggregateError.
// Otherwise returns nil.
func ValidationErrors(err error) []error {
	var aggr *AggregateError
	if errors.As(err, &aggr) {
		return aggr.Errors
	}
	return nil
}
