// Package grantstest builds an in-memory ApplicationStore with one active
// grant for worker tests.
package grantstest

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"grant-workers/internal/common/logger"
	"grant-workers/internal/grants"

	"github.com/stretchr/testify/require"
)

const (
	Workspace      = uint64(7)
	OtherWorkspace = uint64(8)
	Admin          = "admin-1"
	Applicant      = "applicant-1"
	GrantID        = "grant-1"
	Custody        = "custody-grant-1"
	Asset          = "USDC"
)

var Now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Ledger credits recipients in memory. Set Err to make every transfer fail.
type Ledger struct {
	mu       sync.Mutex
	credits  map[string]*big.Int
	requests []grants.TransferRequest
	Err      error
}

func (l *Ledger) Transfer(_ context.Context, req grants.TransferRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if l.Err != nil {
		return l.Err
	}
	if l.credits == nil {
		l.credits = make(map[string]*big.Int)
	}
	key := req.To + "/" + req.Asset
	if l.credits[key] == nil {
		l.credits[key] = new(big.Int)
	}
	l.credits[key].Add(l.credits[key], req.Amount)
	return nil
}

// Credited returns what account received in Asset.
func (l *Ledger) Credited(account string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.credits[account+"/"+Asset]; c != nil {
		return new(big.Int).Set(c)
	}
	return new(big.Int)
}

func (l *Ledger) Requests() []grants.TransferRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]grants.TransferRequest(nil), l.requests...)
}

type Fixture struct {
	Ctx    context.Context
	Repo   *grants.MemoryRepository
	Ledger *Ledger
	Store  *grants.ApplicationStore
}

// New returns a store where Admin administers Workspace and GrantID is open.
func New(t *testing.T, opts ...grants.Option) *Fixture {
	t.Helper()
	f := &Fixture{
		Ctx:    context.Background(),
		Repo:   grants.NewMemoryRepository(),
		Ledger: &Ledger{},
	}
	authority := grants.AuthorityFunc(func(_ context.Context, ws uint64, p string) (bool, error) {
		return ws == Workspace && p == Admin, nil
	})
	opts = append([]grants.Option{grants.WithClock(func() time.Time { return Now })}, opts...)
	f.Store = grants.NewApplicationStore(f.Repo, authority, f.Ledger, logger.NewTestLogger(t), opts...)

	_, err := f.Store.CreateGrant(f.Ctx, Admin, Workspace, "ipfs://grant-1", Custody, GrantID)
	require.NoError(t, err)
	return f
}

func (f *Fixture) Submit(t *testing.T, owner string, milestones int) *grants.Application {
	t.Helper()
	app, err := f.Store.Submit(f.Ctx, owner, GrantID, Workspace, "ipfs://app-"+owner, milestones)
	require.NoError(t, err)
	return app
}

// Approved submits an application and approves it.
func (f *Fixture) Approved(t *testing.T, owner string, milestones int) *grants.Application {
	t.Helper()
	app := f.Submit(t, owner, milestones)
	app, err := f.Store.ChangeState(f.Ctx, Admin, app.ID, Workspace, grants.StateApproved, "looks good")
	require.NoError(t, err)
	return app
}

func (f *Fixture) ApproveMilestone(t *testing.T, appID uint64, milestoneID int) {
	t.Helper()
	_, _, err := f.Store.ApproveMilestone(f.Ctx, Admin, appID, milestoneID, Workspace, "done", nil)
	require.NoError(t, err)
}

func (f *Fixture) Deposit(t *testing.T, amount int64) {
	t.Helper()
	_, err := f.Store.DepositFunds(f.Ctx, "sponsor", GrantID, Asset, big.NewInt(amount))
	require.NoError(t, err)
}

func (f *Fixture) Balance(t *testing.T) *big.Int {
	t.Helper()
	b, err := f.Store.GrantBalance(f.Ctx, GrantID, Asset)
	require.NoError(t, err)
	return b
}

func (f *Fixture) Milestones(t *testing.T, appID uint64) []grants.MilestoneState {
	t.Helper()
	states, err := f.Store.Milestones(f.Ctx, appID)
	require.NoError(t, err)
	return states
}
