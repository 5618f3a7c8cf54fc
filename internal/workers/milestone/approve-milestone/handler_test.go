package approvemilestone

import (
	"errors"
	"math/big"
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

func newHandler(t *testing.T, f *grantstest.Fixture) *Handler {
	return NewHandler(&Config{Timeout: 5 * time.Second}, f.Store, logger.NewTestLogger(t))
}

func TestExecute_ApproveOnly(t *testing.T) {
	f := grantstest.New(t)
	app := f.Approved(t, grantstest.Applicant, 2)
	h := newHandler(t, f)

	out, err := h.Execute(f.Ctx, &Input{
		Caller: grantstest.Admin, ApplicationID: app.ID, MilestoneID: 0, WorkspaceID: grantstest.Workspace,
	})
	require.NoError(t, err)
	assert.False(t, out.MilestonesDone)
	assert.Empty(t, out.DisbursalStatus)

	out, err = h.Execute(f.Ctx, &Input{
		Caller: grantstest.Admin, ApplicationID: app.ID, MilestoneID: 1, WorkspaceID: grantstest.Workspace,
	})
	require.NoError(t, err)
	assert.True(t, out.MilestonesDone)
	assert.Equal(t, []grants.MilestoneState{grants.MilestoneApproved, grants.MilestoneApproved}, f.Milestones(t, app.ID))
}

func TestExecute_WithPoolDisbursal(t *testing.T) {
	f := grantstest.New(t)
	f.Deposit(t, 1000)
	app := f.Approved(t, grantstest.Applicant, 1)
	h := newHandler(t, f)

	out, err := h.Execute(f.Ctx, &Input{
		Caller: grantstest.Admin, ApplicationID: app.ID, MilestoneID: 0, WorkspaceID: grantstest.Workspace,
		Disbursal: &Disbursal{Mode: "pool", Asset: grantstest.Asset, Amount: "250"},
	})
	require.NoError(t, err)

	assert.Equal(t, "succeeded", out.DisbursalStatus)
	assert.Equal(t, grants.DisbursalReference(app.ID, 0, grants.DisbursalFromPool, grantstest.Custody, grantstest.Asset, big.NewInt(250)), out.Reference)
	assert.True(t, out.MilestonesDone)
	assert.Equal(t, big.NewInt(750), f.Balance(t))
	assert.Equal(t, big.NewInt(250), f.Ledger.Credited(grantstest.Applicant))
}

func TestExecute_FailedDisbursalStillApproves(t *testing.T) {
	f := grantstest.New(t)
	app := f.Approved(t, grantstest.Applicant, 1)
	h := newHandler(t, f)

	out, err := h.Execute(f.Ctx, &Input{
		Caller: grantstest.Admin, ApplicationID: app.ID, MilestoneID: 0, WorkspaceID: grantstest.Workspace,
		Disbursal: &Disbursal{Mode: "pool", Asset: grantstest.Asset, Amount: "250"},
	})
	require.NoError(t, err)

	assert.Equal(t, "failed", out.DisbursalStatus)
	assert.Equal(t, string(apperrors.ErrCodeTransferFailed), out.FailureCode)
	assert.Equal(t, grants.MilestoneApproved, f.Milestones(t, app.ID)[0])
}

func TestExecute_P2PLedgerDown(t *testing.T) {
	f := grantstest.New(t)
	f.Ledger.Err = &grants.TransferError{Reason: "ledger unreachable", Err: errors.New("dial tcp: refused")}
	app := f.Approved(t, grantstest.Applicant, 1)
	h := newHandler(t, f)

	out, err := h.Execute(f.Ctx, &Input{
		Caller: grantstest.Admin, ApplicationID: app.ID, MilestoneID: 0, WorkspaceID: grantstest.Workspace,
		Disbursal: &Disbursal{Mode: "p2p", Asset: grantstest.Asset, Amount: "10"},
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", out.DisbursalStatus)
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    Input
		wantCode apperrors.ErrorCode
	}{
		{
			name:     "not an admin",
			input:    Input{Caller: grantstest.Applicant, WorkspaceID: grantstest.Workspace},
			wantCode: apperrors.ErrCodeUnauthorized,
		},
		{
			name:     "out of range",
			input:    Input{Caller: grantstest.Admin, WorkspaceID: grantstest.Workspace, MilestoneID: 5},
			wantCode: apperrors.ErrCodeInvalidMilestoneID,
		},
		{
			name: "bad amount",
			input: Input{Caller: grantstest.Admin, WorkspaceID: grantstest.Workspace,
				Disbursal: &Disbursal{Mode: "pool", Asset: grantstest.Asset, Amount: "-3"}},
			wantCode: apperrors.ErrCodeInvalidInput,
		},
		{
			name: "unknown mode",
			input: Input{Caller: grantstest.Admin, WorkspaceID: grantstest.Workspace,
				Disbursal: &Disbursal{Mode: "wire", Asset: grantstest.Asset, Amount: "3"}},
			wantCode: apperrors.ErrCodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := grantstest.New(t)
			app := f.Approved(t, grantstest.Applicant, 2)
			h := newHandler(t, f)

			in := tt.input
			in.ApplicationID = app.ID
			_, err := h.Execute(f.Ctx, &in)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.Normalize(err).Code)
			assert.Equal(t, grants.MilestoneSubmitted, f.Milestones(t, app.ID)[0])
		})
	}
}

func TestHandle_CompletesWithOutcome(t *testing.T) {
	f := grantstest.New(t)
	f.Deposit(t, 100)
	app := f.Approved(t, grantstest.Applicant, 1)
	h := newHandler(t, f)
	client := camundatest.NewJobClient()

	h.Handle(client, camundatest.Job(TaskType, map[string]interface{}{
		"caller":        grantstest.Admin,
		"applicationId": app.ID,
		"milestoneId":   0,
		"workspaceId":   grantstest.Workspace,
		"disbursal":     map[string]interface{}{"mode": "pool", "asset": grantstest.Asset, "amount": "100"},
	}))

	var out Output
	require.True(t, client.Completed(&out))
	assert.Equal(t, "succeeded", out.DisbursalStatus)
	assert.True(t, out.MilestonesDone)
}
