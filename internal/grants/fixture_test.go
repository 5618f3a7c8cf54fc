package grants

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"grant-workers/internal/common/logger"

	"github.com/stretchr/testify/require"
)

const (
	testWorkspace = uint64(7)
	otherSpace    = uint64(8)
	testAdmin     = "admin-1"
	testApplicant = "applicant-1"
	testGrant     = "grant-1"
	testCustody   = "custody-grant-1"
	testAsset     = "USDC"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeLedger struct {
	mu       sync.Mutex
	credits  map[string]*big.Int
	requests []TransferRequest
	err      error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{credits: make(map[string]*big.Int)}
}

func (l *fakeLedger) Transfer(_ context.Context, req TransferRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if l.err != nil {
		return l.err
	}
	key := req.To + "/" + req.Asset
	if l.credits[key] == nil {
		l.credits[key] = new(big.Int)
	}
	l.credits[key].Add(l.credits[key], req.Amount)
	return nil
}

func (l *fakeLedger) credited(account string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c := l.credits[account+"/"+testAsset]; c != nil {
		return new(big.Int).Set(c)
	}
	return new(big.Int)
}

func (l *fakeLedger) fail(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events []Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	ctx       context.Context
	repo      *MemoryRepository
	ledger    *fakeLedger
	publisher *recordingPublisher
	store     *ApplicationStore
}

func onlyAdmin(_ context.Context, workspaceID uint64, principal string) (bool, error) {
	return workspaceID == testWorkspace && principal == testAdmin, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:       context.Background(),
		repo:      NewMemoryRepository(),
		ledger:    newFakeLedger(),
		publisher: &recordingPublisher{},
	}
	f.store = NewApplicationStore(f.repo, AuthorityFunc(onlyAdmin), f.ledger, logger.NewTestLogger(t),
		WithPublisher(f.publisher),
		WithClock(func() time.Time { return fixedNow }),
	)

	_, err := f.store.CreateGrant(f.ctx, testAdmin, testWorkspace, "ipfs://grant-1", testCustody, testGrant)
	require.NoError(t, err)
	return f
}

func (f *fixture) submit(t *testing.T, owner string, milestones int) *Application {
	t.Helper()
	app, err := f.store.Submit(f.ctx, owner, testGrant, testWorkspace, "ipfs://app-"+owner, milestones)
	require.NoError(t, err)
	return app
}

// approved returns an application that passed review.
func (f *fixture) approved(t *testing.T, owner string, milestones int) *Application {
	t.Helper()
	app := f.submit(t, owner, milestones)
	app, err := f.store.ChangeState(f.ctx, testAdmin, app.ID, testWorkspace, StateApproved, "looks good")
	require.NoError(t, err)
	return app
}

func (f *fixture) approveMilestone(t *testing.T, appID uint64, milestoneID int) {
	t.Helper()
	_, _, err := f.store.ApproveMilestone(f.ctx, testAdmin, appID, milestoneID, testWorkspace, "done", nil)
	require.NoError(t, err)
}

func (f *fixture) deposit(t *testing.T, amount int64) {
	t.Helper()
	_, err := f.store.DepositFunds(f.ctx, "sponsor", testGrant, testAsset, big.NewInt(amount))
	require.NoError(t, err)
}

func (f *fixture) milestones(t *testing.T, appID uint64) []MilestoneState {
	t.Helper()
	states, err := f.store.Milestones(f.ctx, appID)
	require.NoError(t, err)
	return states
}

func (f *fixture) balance(t *testing.T) *big.Int {
	t.Helper()
	b, err := f.store.GrantBalance(f.ctx, testGrant, testAsset)
	require.NoError(t, err)
	return b
}
