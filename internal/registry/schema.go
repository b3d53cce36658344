package registry

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// utilityMetadataSchema validates a builtin's utility.json before it is
// registered, rejecting malformed builtins instead of silently admitting
// them into the pool the generator is told about.
const utilityMetadataSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "description", "docs", "identifiers"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string", "minLength": 1},
    "deps": {"type": "array", "items": {"type": "string"}},
    "docs": {"type": "string"},
    "identifiers": {"type": "array", "items": {"type": "string"}}
  }
}`

var utilityMetadataSchema = mustCompileSchema("utility.json", utilityMetadataSchemaJSON)

func mustCompileSchema(name, schemaJSON string) *jsonschema.Schema {
	schema, err := jsonschema.CompileString(name, schemaJSON)
	if err != nil {
		panic(fmt.Sprintf("registry: invalid embedded schema %s: %v", name, err))
	}
	return schema
}

// validateUtilityMetadata checks raw against the utility.json schema, then
// decodes it into a utilityMetadata on success.
func validateUtilityMetadata(raw []byte) (*utilityMetadata, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode utility.json: %w", err)
	}
	if err := utilityMetadataSchema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("utility.json failed schema validation: %w", err)
	}

	var meta utilityMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode utility.json: %w", err)
	}
	return &meta, nil
}
