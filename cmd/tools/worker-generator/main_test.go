package main

import (
	"strings"
	"testing"

	"grant-workers/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsFor(t *testing.T) {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"caller", "applicationId"},
		"properties": map[string]interface{}{
			"caller":        map[string]interface{}{"type": "string"},
			"applicationId": map[string]interface{}{"type": "integer"},
			"milestoneId":   map[string]interface{}{"type": "integer"},
			"active":        map[string]interface{}{"type": "boolean"},
			"disbursal":     map[string]interface{}{"type": "object"},
		},
	}

	got := fieldsFor(schema)

	assert.Equal(t, []Field{
		{Name: "Active", Type: "bool", JSON: "active,omitempty"},
		{Name: "ApplicationID", Type: "uint64", JSON: "applicationId", Required: true},
		{Name: "Caller", Type: "string", JSON: "caller", Required: true},
		{Name: "Disbursal", Type: "map[string]interface{}", JSON: "disbursal,omitempty"},
		{Name: "MilestoneID", Type: "int", JSON: "milestoneId,omitempty"},
	}, got)
}

func TestRender_ProducesFormattedSource(t *testing.T) {
	data := newWorkerData(&registry.Activity{
		ID:          "disburse-from-pool",
		DisplayName: "Disburse From Pool",
		Description: "pays an approved milestone from the grant pool.",
		Category:    "disbursal",
		TaskType:    "disburse-from-pool",
		ErrorCodes:  []string{"UNAUTHORIZED", "ALREADY_DISBURSED"},
		InputSchema: map[string]interface{}{
			"properties": map[string]interface{}{
				"applicationId": map[string]interface{}{"type": "integer"},
				"amount":        map[string]interface{}{"type": "string"},
			},
		},
	})

	for name, tmpl := range map[string]string{
		"config.go":       configTemplate,
		"models.go":       modelsTemplate,
		"handler.go":      handlerTemplate,
		"handler_test.go": testTemplate,
	} {
		src, err := render(name, tmpl, data)
		require.NoError(t, err, name)
		assert.True(t, strings.HasPrefix(string(src), "package disbursefrompool\n"), name)
	}

	src, err := render("models.go", modelsTemplate, data)
	require.NoError(t, err)
	assert.Contains(t, string(src), "ApplicationID uint64 `json:\"applicationId,omitempty\"`")

	src, err = render("handler.go", handlerTemplate, data)
	require.NoError(t, err)
	assert.Contains(t, string(src), `const TaskType = "disburse-from-pool"`)
	assert.Contains(t, string(src), "// Errors: UNAUTHORIZED, ALREADY_DISBURSED.")
}
