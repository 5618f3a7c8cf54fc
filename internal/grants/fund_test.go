package grants

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGrant(t *testing.T) {
	f := newFixture(t)

	grant, err := f.store.CreateGrant(f.ctx, testAdmin, testWorkspace, "ipfs://g2", "custody-2", "")
	require.NoError(t, err)
	assert.NotEmpty(t, grant.ID, "an id is generated when none is given")
	assert.True(t, grant.Active)
	assert.Zero(t, grant.NumApplicants)

	_, err = f.store.CreateGrant(f.ctx, testAdmin, testWorkspace, "ipfs://g", "custody", testGrant)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.store.CreateGrant(f.ctx, "intruder", testWorkspace, "ipfs://g3", "custody-3", "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.store.CreateGrant(f.ctx, testAdmin, testWorkspace, "", "custody-4", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateGrantAccessibility(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.UpdateGrantAccessibility(f.ctx, "intruder", testGrant, testWorkspace, false)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.store.UpdateGrantAccessibility(f.ctx, testAdmin, "missing", testWorkspace, false)
	assert.ErrorIs(t, err, ErrNotFound)

	grant, err := f.store.UpdateGrantAccessibility(f.ctx, testAdmin, testGrant, testWorkspace, false)
	require.NoError(t, err)
	assert.False(t, grant.Active)

	_, err = f.store.Submit(f.ctx, testApplicant, testGrant, testWorkspace, "ipfs://a", 1)
	assert.ErrorIs(t, err, ErrGrantInactive)

	_, err = f.store.UpdateGrantAccessibility(f.ctx, testAdmin, testGrant, testWorkspace, true)
	require.NoError(t, err)
	f.submit(t, testApplicant, 1)
}

func TestUpdateGrantAccessibility_WorkspaceMismatch(t *testing.T) {
	f := newFixture(t)
	f.store.authority = AuthorityFunc(func(_ context.Context, _ uint64, principal string) (bool, error) {
		return principal == testAdmin, nil
	})

	_, err := f.store.UpdateGrantAccessibility(f.ctx, testAdmin, testGrant, otherSpace, false)
	assert.ErrorIs(t, err, ErrWorkspaceMismatch)
}

func TestDepositFunds(t *testing.T) {
	f := newFixture(t)

	balance, err := f.store.DepositFunds(f.ctx, "sponsor", testGrant, testAsset, big.NewInt(250))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(250), balance)
	assert.Equal(t, big.NewInt(250), f.ledger.credited(testCustody))

	_, err = f.store.DepositFunds(f.ctx, "sponsor", testGrant, testAsset, big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.store.DepositFunds(f.ctx, "sponsor", "missing", testAsset, big.NewInt(1))
	assert.ErrorIs(t, err, ErrNotFound)

	f.ledger.fail(errors.New("ledger unavailable"))
	_, err = f.store.DepositFunds(f.ctx, "sponsor", testGrant, testAsset, big.NewInt(10))
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, big.NewInt(250), f.balance(t))
}
