package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const outputSchemaURL = "output-schema.json"

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(outputSchemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("docket: add output schema: %w", err)
	}
	schema, err := compiler.Compile(outputSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("docket: compile output schema: %w", err)
	}
	return schema, nil
}

// validateOutput checks output against the configured schema. It returns
// nil when no schema is configured.
func (eng *Engine) validateOutput(output json.RawMessage) error {
	if eng.schema == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(output, &v); err != nil {
		return fmt.Errorf("output is not valid JSON: %w", err)
	}
	if err := eng.schema.Validate(v); err != nil {
		return fmt.Errorf("output does not match schema: %w", err)
	}
	return nil
}
