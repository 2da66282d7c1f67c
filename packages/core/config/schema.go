package config

import (
	_ "embed"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	hwerrors "github.com/abdul-hamid-achik/hitwire/packages/errors"
)

//go:embed schema.json
var schemaJSON []byte

// Schema returns the JSON schema configuration documents are checked against.
func Schema() []byte {
	out := make([]byte, len(schemaJSON))
	copy(out, schemaJSON)
	return out
}

// Validate checks a JSON configuration document against the schema.
func Validate(doc []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(schemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return &hwerrors.ConfigurationError{Key: "config", Reason: "schema validation error", Cause: err}
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &hwerrors.ConfigurationError{
		Key:    result.Errors()[0].Field(),
		Reason: "schema validation failed: " + strings.Join(problems, "; "),
	}
}
