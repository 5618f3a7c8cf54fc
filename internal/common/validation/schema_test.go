package validation

import (
	"fmt"
	"path/filepath"
	"testing"

	apperrors "grant-workers/internal/common/errors"
	"grant-workers/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *registry.ActivityRegistry {
	return &registry.ActivityRegistry{Activities: []registry.Activity{
		{
			ID:       "change-application-state",
			TaskType: "change-application-state",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []interface{}{"caller", "applicationId", "workspaceId", "newState"},
				"properties": map[string]interface{}{
					"caller":        map[string]interface{}{"type": "string", "minLength": 1},
					"applicationId": map[string]interface{}{"type": "integer", "minimum": 0},
					"workspaceId":   map[string]interface{}{"type": "integer", "minimum": 0},
					"newState":      map[string]interface{}{"type": "string", "enum": []interface{}{"Resubmit", "Approved", "Rejected"}},
				},
			},
		},
		{ID: "no-schema", TaskType: "no-schema"},
	}}
}

func TestValidateJob(t *testing.T) {
	v, err := NewSchemaValidator(testRegistry())
	require.NoError(t, err)

	tests := []struct {
		name      string
		taskType  string
		variables string
		wantErr   bool
	}{
		{"valid", "change-application-state", `{"caller":"a","applicationId":1,"workspaceId":7,"newState":"Approved"}`, false},
		{"missing field", "change-application-state", `{"caller":"a","applicationId":1,"newState":"Approved"}`, true},
		{"unknown state", "change-application-state", `{"caller":"a","applicationId":1,"workspaceId":7,"newState":"Complete"}`, true},
		{"negative id", "change-application-state", `{"caller":"a","applicationId":-1,"workspaceId":7,"newState":"Approved"}`, true},
		{"not json", "change-application-state", `{"caller":`, true},
		{"empty variables", "change-application-state", ``, true},
		{"no schema", "no-schema", `{"anything":true}`, false},
		{"unknown task type", "other", `{}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateJob(tt.taskType, tt.variables)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.Normalize(err).Code)
		})
	}
}

func TestNewSchemaValidator_RejectsBrokenSchema(t *testing.T) {
	reg := &registry.ActivityRegistry{Activities: []registry.Activity{{
		ID:          "broken",
		TaskType:    "broken",
		InputSchema: map[string]interface{}{"type": 12},
	}}}
	_, err := NewSchemaValidator(reg)
	assert.ErrorContains(t, err, "broken")
}

func TestLoadSchemaValidator_ShippedRegistry(t *testing.T) {
	v, err := LoadSchemaValidator(filepath.Join("..", "..", "..", "configs", "activity-registry.json"))
	require.NoError(t, err)
	assert.True(t, v.Has("approve-milestone"))
	assert.True(t, v.Has("disburse-from-pool"))

	const job = `{"caller":"applicant-1","applicationId":0,"grantId":"grant-1","workspaceId":7,"metadataHash":"ipfs://a","milestoneCount":%d}`
	for _, taskType := range []string{"submit-application", "resubmit-application"} {
		assert.NoError(t, v.ValidateJob(taskType, fmt.Sprintf(job, 1000)), taskType)

		err := v.ValidateJob(taskType, fmt.Sprintf(job, 1001))
		require.Error(t, err, taskType)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.Normalize(err).Code)
	}
}
