package genrelay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const entrySchemaResource = "genrelay://schemas/generation-entry.json"

// entrySchemaJSON constrains the fields the backend contract requires;
// the result payload stays an open object.
const entrySchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["userId", "topic", "platform", "provider"],
	"properties": {
		"id": {"type": "string"},
		"userId": {"type": "string", "minLength": 1},
		"userDisplayName": {"type": ["string", "null"]},
		"topic": {"type": "string", "minLength": 1},
		"platform": {"type": "string", "minLength": 1},
		"provider": {"type": "string", "minLength": 1},
		"result": {"type": "object"},
		"createdAt": {"type": "string"}
	}
}`

// EntryValidator checks a generation entry against the save endpoint's
// payload contract before the entry goes over the wire.
type EntryValidator struct {
	schema *jsonschema.Schema
}

func NewEntryValidator() (*EntryValidator, error) {
	document, err := jsonschema.UnmarshalJSON(strings.NewReader(entrySchemaJSON))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(entrySchemaResource, document); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(entrySchemaResource)
	if err != nil {
		return nil, err
	}
	return &EntryValidator{schema: schema}, nil
}

func (v *EntryValidator) Validate(entry GenerationRecord) error {
	if v == nil || v.schema == nil {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	if err := v.schema.Validate(instance); err != nil {
		return fmt.Errorf("generation entry rejected by schema: %w", err)
	}
	return nil
}
