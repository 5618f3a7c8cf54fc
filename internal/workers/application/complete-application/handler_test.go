package completeapplication

import (
	"testing"
	"time"

	"grant-workers/internal/common/camunda/camundatest"
	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/common/logger"
	"grant-workers/internal/grants/grantstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	tests := []struct {
		name     string
		caller   string
		approve  []int
		wantCode apperrors.ErrorCode
	}{
		{name: "all milestones approved", caller: grantstest.Admin, approve: []int{0, 1, 2}},
		{name: "only final milestone approved", caller: grantstest.Admin, approve: []int{2}},
		{name: "final milestone pending", caller: grantstest.Admin, approve: []int{0, 1}, wantCode: apperrors.ErrCodeMilestonesIncomplete},
		{name: "not an admin", caller: grantstest.Applicant, approve: []int{2}, wantCode: apperrors.ErrCodeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := grantstest.New(t)
			app := f.Approved(t, grantstest.Applicant, 3)
			for _, ms := range tt.approve {
				f.ApproveMilestone(t, app.ID, ms)
			}
			h := NewHandler(&Config{Timeout: 5 * time.Second}, f.Store, logger.NewTestLogger(t))

			out, err := h.Execute(f.Ctx, &Input{
				Caller:        tt.caller,
				ApplicationID: app.ID,
				WorkspaceID:   grantstest.Workspace,
				Reason:        "delivered",
			})
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apperrors.Normalize(err).Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "complete", out.State)
			assert.True(t, out.MilestonesDone)
		})
	}
}

func TestExecute_CompleteTwice(t *testing.T) {
	f := grantstest.New(t)
	app := f.Approved(t, grantstest.Applicant, 1)
	f.ApproveMilestone(t, app.ID, 0)
	h := NewHandler(&Config{Timeout: 5 * time.Second}, f.Store, logger.NewTestLogger(t))

	in := &Input{Caller: grantstest.Admin, ApplicationID: app.ID, WorkspaceID: grantstest.Workspace}
	_, err := h.Execute(f.Ctx, in)
	require.NoError(t, err)

	_, err = h.Execute(f.Ctx, in)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidState, apperrors.Normalize(err).Code)
}

func TestHandle_ThrowsMilestonesIncomplete(t *testing.T) {
	f := grantstest.New(t)
	app := f.Approved(t, grantstest.Applicant, 2)
	h := NewHandler(&Config{Timeout: 5 * time.Second}, f.Store, logger.NewTestLogger(t))
	client := camundatest.NewJobClient()

	h.Handle(client, camundatest.Job(TaskType, Input{
		Caller: grantstest.Admin, ApplicationID: app.ID, WorkspaceID: grantstest.Workspace,
	}))

	assert.False(t, client.Completed(nil))
	assert.Equal(t, "MILESTONES_INCOMPLETE", client.ThrownCode())
}
