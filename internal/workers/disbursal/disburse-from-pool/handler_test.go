package disbursefrompool

import (
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

func setup(t *testing.T, deposit int64) (*Handler, *grantstest.Fixture, *grants.Application) {
	t.Helper()
	f := grantstest.New(t)
	if deposit > 0 {
		f.Deposit(t, deposit)
	}
	app := f.Approved(t, grantstest.Applicant, 2)
	f.ApproveMilestone(t, app.ID, 0)
	return NewHandler(&Config{Timeout: 5 * time.Second}, f.Store, logger.NewTestLogger(t)), f, app
}

func TestExecute_Success(t *testing.T) {
	h, f, app := setup(t, 1000)

	out, err := h.Execute(f.Ctx, &Input{
		Caller: grantstest.Admin, ApplicationID: app.ID, MilestoneID: 0, Asset: grantstest.Asset, Amount: "400",
	})
	require.NoError(t, err)

	assert.Equal(t, "succeeded", out.DisbursalStatus)
	assert.Equal(t, grantstest.Applicant, out.Recipient)
	assert.Equal(t, "400", out.Amount)
	assert.Equal(t, big.NewInt(600), f.Balance(t))
	assert.Equal(t, big.NewInt(400), f.Ledger.Credited(grantstest.Applicant))

	d, err := f.Store.Disbursal(f.Ctx, app.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, grantstest.Custody, d.Source)
}

func TestExecute_InsufficientBalanceCompletesAsFailed(t *testing.T) {
	h, f, app := setup(t, 100)

	out, err := h.Execute(f.Ctx, &Input{
		Caller: grantstest.Admin, ApplicationID: app.ID, MilestoneID: 0, Asset: grantstest.Asset, Amount: "400",
	})
	require.NoError(t, err)

	assert.Equal(t, "failed", out.DisbursalStatus)
	assert.Equal(t, "TRANSFER_FAILED", out.FailureCode)
	assert.Contains(t, out.FailureReason, "insufficient")
	assert.Equal(t, big.NewInt(100), f.Balance(t))
	assert.Empty(t, f.Ledger.Requests()[1:], "no transfer should reach the ledger")

	d, err := f.Store.Disbursal(f.Ctx, app.ID, 0)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    func(appID uint64) Input
		before   func(t *testing.T, h *Handler, f *grantstest.Fixture, appID uint64)
		wantCode apperrors.ErrorCode
	}{
		{
			name: "milestone not approved",
			input: func(id uint64) Input {
				return Input{Caller: grantstest.Admin, ApplicationID: id, MilestoneID: 1, Asset: grantstest.Asset, Amount: "1"}
			},
			wantCode: apperrors.ErrCodeInvalidState,
		},
		{
			name: "not an admin",
			input: func(id uint64) Input {
				return Input{Caller: grantstest.Applicant, ApplicationID: id, MilestoneID: 0, Asset: grantstest.Asset, Amount: "1"}
			},
			wantCode: apperrors.ErrCodeUnauthorized,
		},
		{
			name: "paid twice",
			input: func(id uint64) Input {
				return Input{Caller: grantstest.Admin, ApplicationID: id, MilestoneID: 0, Asset: grantstest.Asset, Amount: "1"}
			},
			before: func(t *testing.T, h *Handler, f *grantstest.Fixture, id uint64) {
				out, err := h.Execute(f.Ctx, &Input{Caller: grantstest.Admin, ApplicationID: id, MilestoneID: 0, Asset: grantstest.Asset, Amount: "1"})
				require.NoError(t, err)
				require.Equal(t, "succeeded", out.DisbursalStatus)
			},
			wantCode: apperrors.ErrCodeAlreadyDisbursed,
		},
		{
			name: "zero amount",
			input: func(id uint64) Input {
				return Input{Caller: grantstest.Admin, ApplicationID: id, MilestoneID: 0, Asset: grantstest.Asset, Amount: "0"}
			},
			wantCode: apperrors.ErrCodeInvalidInput,
		},
		{
			name: "amount not a number",
			input: func(id uint64) Input {
				return Input{Caller: grantstest.Admin, ApplicationID: id, MilestoneID: 0, Asset: grantstest.Asset, Amount: "ten"}
			},
			wantCode: apperrors.ErrCodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, f, app := setup(t, 1000)
			if tt.before != nil {
				tt.before(t, h, f, app.ID)
			}
			in := tt.input(app.ID)
			_, err := h.Execute(f.Ctx, &in)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.Normalize(err).Code)
		})
	}
}

func TestHandle(t *testing.T) {
	h, _, app := setup(t, 50)
	client := camundatest.NewJobClient()

	h.Handle(client, camundatest.Job(TaskType, Input{
		Caller: grantstest.Admin, ApplicationID: app.ID, MilestoneID: 0, Asset: grantstest.Asset, Amount: "50",
	}))

	var out Output
	require.True(t, client.Completed(&out))
	assert.Equal(t, "succeeded", out.DisbursalStatus)
	assert.Equal(t, grants.DisbursalReference(app.ID, 0, grants.DisbursalFromPool, grantstest.Custody, grantstest.Asset, big.NewInt(50)), out.Reference)
}
