package updategrantaccessibility

import (
	"context"
	"testing"
	"time"

	"grant-workers/internal/common/camunda/camundatest"
	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/common/logger"
	"grant-workers/internal/grants"
	"grant-workers/internal/grants/grantstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func newHandler(t *testing.T) (*Handler, *grantstest.Fixture) {
	f := grantstest.New(t)
	return NewHandler(&Config{Timeout: 5 * time.Second}, f.Store, logger.NewTestLogger(t)), f
}

func TestExecute_ClosingBlocksNewApplications(t *testing.T) {
	h, f := newHandler(t)
	existing := f.Submit(t, grantstest.Applicant, 1)

	out, err := h.Execute(f.Ctx, &Input{
		Caller: grantstest.Admin, GrantID: grantstest.GrantID, WorkspaceID: grantstest.Workspace, Active: boolPtr(false),
	})
	require.NoError(t, err)
	assert.False(t, out.Active)

	_, err = f.Store.Submit(f.Ctx, "applicant-2", grantstest.GrantID, grantstest.Workspace, "ipfs://late", 1)
	assert.Equal(t, apperrors.ErrCodeGrantInactive, apperrors.Normalize(err).Code)

	_, err = f.Store.Application(f.Ctx, existing.ID)
	assert.NoError(t, err)

	out, err = h.Execute(f.Ctx, &Input{
		Caller: grantstest.Admin, GrantID: grantstest.GrantID, WorkspaceID: grantstest.Workspace, Active: boolPtr(true),
	})
	require.NoError(t, err)
	assert.True(t, out.Active)
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    Input
		wantCode apperrors.ErrorCode
	}{
		{
			name:     "active missing",
			input:    Input{Caller: grantstest.Admin, GrantID: grantstest.GrantID, WorkspaceID: grantstest.Workspace},
			wantCode: apperrors.ErrCodeInvalidInput,
		},
		{
			name:     "not an admin",
			input:    Input{Caller: grantstest.Applicant, GrantID: grantstest.GrantID, WorkspaceID: grantstest.Workspace, Active: boolPtr(false)},
			wantCode: apperrors.ErrCodeUnauthorized,
		},
		{
			name:     "unknown grant",
			input:    Input{Caller: grantstest.Admin, GrantID: "missing", WorkspaceID: grantstest.Workspace, Active: boolPtr(false)},
			wantCode: apperrors.ErrCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, f := newHandler(t)
			_, err := h.Execute(f.Ctx, &tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.Normalize(err).Code)
		})
	}
}

func TestExecute_WorkspaceMismatch(t *testing.T) {
	ctx := context.Background()
	both := grants.AuthorityFunc(func(_ context.Context, _ uint64, p string) (bool, error) {
		return p == grantstest.Admin, nil
	})
	store := grants.NewApplicationStore(grants.NewMemoryRepository(), both, &grantstest.Ledger{}, logger.NewTestLogger(t))
	_, err := store.CreateGrant(ctx, grantstest.Admin, grantstest.Workspace, "ipfs://g", "custody-g", "grant-g")
	require.NoError(t, err)

	h := NewHandler(&Config{Timeout: 5 * time.Second}, store, logger.NewTestLogger(t))
	_, err = h.Execute(ctx, &Input{
		Caller: grantstest.Admin, GrantID: "grant-g", WorkspaceID: grantstest.OtherWorkspace, Active: boolPtr(false),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeWorkspaceMismatch, apperrors.Normalize(err).Code)
}

func TestHandle(t *testing.T) {
	h, _ := newHandler(t)
	client := camundatest.NewJobClient()

	h.Handle(client, camundatest.Job(TaskType, Input{
		Caller: grantstest.Admin, GrantID: grantstest.GrantID, WorkspaceID: grantstest.Workspace, Active: boolPtr(false),
	}))

	var out Output
	require.True(t, client.Completed(&out))
	assert.False(t, out.Active)
}
