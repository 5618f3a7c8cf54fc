// Package validation checks job variables against the input schemas of the
// activity registry.
package validation

import (
	"fmt"
	"sort"
	"strings"

	apperrors "grant-workers/internal/common/errors"
	"grant-workers/pkg/registry"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator holds one compiled schema per task type.
type SchemaValidator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewSchemaValidator compiles every non-empty input schema of reg. A schema
// that fails to compile is reported with its activity id.
func NewSchemaValidator(reg *registry.ActivityRegistry) (*SchemaValidator, error) {
	v := &SchemaValidator{schemas: make(map[string]*gojsonschema.Schema)}
	for _, activity := range reg.Activities {
		if len(activity.InputSchema) == 0 {
			continue
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(activity.InputSchema))
		if err != nil {
			return nil, fmt.Errorf("activity %s: invalid input schema: %w", activity.ID, err)
		}
		v.schemas[activity.TaskType] = schema
	}
	return v, nil
}

// LoadSchemaValidator reads the registry file and compiles it.
func LoadSchemaValidator(path string) (*SchemaValidator, error) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load activity registry: %w", err)
	}
	return NewSchemaValidator(reg)
}

// Has reports whether taskType has a schema.
func (v *SchemaValidator) Has(taskType string) bool {
	_, ok := v.schemas[taskType]
	return ok
}

// ValidateJob validates raw job variables. Task types without a schema pass.
func (v *SchemaValidator) ValidateJob(taskType, variables string) error {
	schema, ok := v.schemas[taskType]
	if !ok {
		return nil
	}
	if strings.TrimSpace(variables) == "" {
		variables = "{}"
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(variables))
	if err != nil {
		return apperrors.NewInvalidInputError(fmt.Sprintf("job variables are not valid JSON: %v", err))
	}
	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		messages = append(messages, e.String())
	}
	sort.Strings(messages)
	return apperrors.NewInvalidInputError(strings.Join(messages, "; "))
}
