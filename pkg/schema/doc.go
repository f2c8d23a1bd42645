// Package schema validates action argument payloads against the JSON Schema
// an action publishes in its descriptor.
//
// Basic usage:
//
//	args, err := schema.ParseArguments(`{"path": "/tmp/y"}`)
//	if err != nil {
//	    // not a JSON object
//	}
//	if err := schema.Validate(descriptor.Schema, args); err != nil {
//	    for _, e := range schema.ValidationErrors(err) {
//	        // each e is a *ValidationError naming the offending field
//	    }
//	}
//
// Schemas are evaluated with kin-openapi, which covers the JSON Schema subset
// tool servers publish (types, required, properties, enums, items, bounds).
package schema
