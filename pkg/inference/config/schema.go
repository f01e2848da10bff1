package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed model_config.schema.json
var modelConfigSchema string

const modelConfigSchemaURL = "model_config.schema.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(modelConfigSchemaURL, strings.NewReader(modelConfigSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile(modelConfigSchemaURL)
})

// checkStructure validates a document against the embedded JSON schema and
// returns one error per violated leaf constraint.
func checkStructure(cfg *ModelConfig) []error {
	schema, err := compileSchema()
	if err != nil {
		return []error{fmt.Errorf("compiling model config schema: %w", err)}
	}
	err = schema.Validate(cfg.document())
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []error{err}
	}
	var errs []error
	for _, leaf := range schemaLeaves(verr) {
		location := leaf.InstanceLocation
		if location == "" {
			location = "/"
		}
		errs = append(errs, fmt.Errorf("at '%s': %s", location, leaf.Message))
	}
	return errs
}

func schemaLeaves(e *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(e.Causes) == 0 {
		return []*jsonschema.ValidationError{e}
	}
	var leaves []*jsonschema.ValidationError
	for _, cause := range e.Causes {
		leaves = append(leaves, schemaLeaves(cause)...)
	}
	return leaves
}
