package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// ParseArguments decodes data as a JSON object.
func ParseArguments(data string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if dec.More() {
		return nil, errors.New("arguments contain trailing data")
	}
	if args == nil {
		return nil, errors.New("arguments must be a JSON object, got null")
	}
	return args, nil
}

// Compile converts a JSON Schema document into a kin-openapi schema.
func Compile(doc map[string]any) (*openapi3.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSchema, err)
	}
	var s openapi3.Schema
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSchema, err)
	}
	return &s, nil
}

// Validate checks args against the JSON Schema doc. A nil or empty doc
// accepts any object. Failures are returned as an *AggregateError of
// *ValidationError.
func Validate(doc map[string]any, args map[string]any) error {
	if len(doc) == 0 {
		return nil
	}
	s, err := Compile(doc)
	if err != nil {
		return err
	}

	// VisitJSON expects the generic JSON shapes produced by encoding/json.
	var value any = map[string]any{}
	if args != nil {
		value = args
	}

	err = s.VisitJSON(value, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	return &AggregateError{Errors: flatten(err)}
}

func flatten(err error) []error {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []error
		for _, e := range multi {
			out = append(out, flatten(e)...)
		}
		return out
	}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		return []error{&ValidationError{
			Key:    strings.Join(se.JSONPointer(), "/"),
			Reason: se.Reason,
		}}
	}
	return []error{&ValidationError{Reason: err.Error()}}
}
