package check

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MessageResponseSchema describes the body POST /message must return.
const MessageResponseSchema = `{
  "type": "object",
  "required": ["timestamp"],
  "properties": {
    "timestamp": {"type": ["integer", "string"]}
  }
}`

// CompileSchema compiles a JSON Schema document.
func CompileSchema(schemaStr string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("schema.json", strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return schema, nil
}

// BodyMatchesSchema passes when the response body is JSON valid against schema.
func BodyMatchesSchema(name string, schema *jsonschema.Schema) Predicate {
	return Predicate{
		Name: name,
		Fn: func(resp *Response) error {
			dec := json.NewDecoder(bytes.NewReader(resp.Body))
			dec.UseNumber()

			var doc interface{}
			if err := dec.Decode(&doc); err != nil {
				return fmt.Errorf("invalid JSON: %w", err)
			}

			if err := schema.Validate(doc); err != nil {
				if verr, ok := err.(*jsonschema.ValidationError); ok {
					leaf := leafCause(verr)
					return fmt.Errorf("schema violation at %q: %s", leaf.InstanceLocation, leaf.Message)
				}
				return err
			}
			return nil
		},
	}
}

// leafCause returns the first concrete cause of a validation error.
func leafCause(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}
