package grants

import (
	"context"
	"math/big"
	"sync"
)

type appliedKey struct {
	owner   string
	grantID string
}

type balanceKey struct {
	grantID string
	asset   string
}

type slotKey struct {
	applicationID uint64
	milestoneID   int
}

// MemoryRepository keeps all state in process. Transactions are serialized
// by a single mutex; a failed transaction is undone by replaying its undo log
// in reverse.
type MemoryRepository struct {
	mu sync.Mutex

	nextID     uint64
	apps       map[uint64]Application
	milestones map[uint64][]MilestoneState
	applied    map[appliedKey]uint64
	grants     map[string]Grant
	balances   map[balanceKey]*big.Int
	disbursals map[slotKey]Disbursal
	events     []Event
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		apps:       make(map[uint64]Application),
		milestones: make(map[uint64][]MilestoneState),
		applied:    make(map[appliedKey]uint64),
		grants:     make(map[string]Grant),
		balances:   make(map[balanceKey]*big.Int),
		disbursals: make(map[slotKey]Disbursal),
	}
}

func (r *MemoryRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

type memoryTx struct {
	repo *MemoryRepository
	undo []func()
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memoryTx) NextApplicationID(context.Context) (uint64, error) {
	id := t.repo.nextID
	t.repo.nextID++
	t.undo = append(t.undo, func() { t.repo.nextID = id })
	return id, nil
}

func (t *memoryTx) HasApplied(_ context.Context, owner, grantID string) (bool, error) {
	_, ok := t.repo.applied[appliedKey{owner, grantID}]
	return ok, nil
}

func (t *memoryTx) MarkApplied(_ context.Context, owner, grantID string, applicationID uint64) error {
	key := appliedKey{owner, grantID}
	if _, ok := t.repo.applied[key]; ok {
		return wrap(ErrDuplicateApplication, "%q already applied to grant %s", owner, grantID)
	}
	t.repo.applied[key] = applicationID
	t.undo = append(t.undo, func() { delete(t.repo.applied, key) })
	return nil
}

func (t *memoryTx) GetApplication(_ context.Context, id uint64, _ bool) (*Application, error) {
	app, ok := t.repo.apps[id]
	if !ok {
		return nil, wrap(ErrNotFound, "application %d", id)
	}
	return &app, nil
}

func (t *memoryTx) InsertApplication(_ context.Context, app *Application) error {
	if _, ok := t.repo.apps[app.ID]; ok {
		return wrap(ErrInvalidInput, "application %d already exists", app.ID)
	}
	t.repo.apps[app.ID] = *app
	id := app.ID
	t.undo = append(t.undo, func() { delete(t.repo.apps, id) })
	return nil
}

func (t *memoryTx) UpdateApplication(_ context.Context, app *Application) error {
	prev, ok := t.repo.apps[app.ID]
	if !ok {
		return wrap(ErrNotFound, "application %d", app.ID)
	}
	t.repo.apps[app.ID] = *app
	t.undo = append(t.undo, func() { t.repo.apps[prev.ID] = prev })
	return nil
}

func (t *memoryTx) Milestones(_ context.Context, applicationID uint64, count int) ([]MilestoneState, error) {
	slots := t.repo.milestones[applicationID]
	out := make([]MilestoneState, count)
	copy(out, slots)
	return out, nil
}

func (t *memoryTx) SetMilestoneState(_ context.Context, applicationID uint64, index int, state MilestoneState) error {
	slots := t.repo.milestones[applicationID]
	if index < 0 || index >= len(slots) {
		return wrap(ErrInvalidMilestoneID, "milestone %d of application %d", index, applicationID)
	}
	prev := slots[index]
	slots[index] = state
	t.undo = append(t.undo, func() { t.repo.milestones[applicationID][index] = prev })
	return nil
}

func (t *memoryTx) ResetMilestones(_ context.Context, applicationID uint64, count int) error {
	prev, had := t.repo.milestones[applicationID]
	t.repo.milestones[applicationID] = make([]MilestoneState, count)
	t.undo = append(t.undo, func() {
		if had {
			t.repo.milestones[applicationID] = prev
		} else {
			delete(t.repo.milestones, applicationID)
		}
	})
	return nil
}

func (t *memoryTx) GetGrant(_ context.Context, id string, _ bool) (*Grant, error) {
	g, ok := t.repo.grants[id]
	if !ok {
		return nil, wrap(ErrNotFound, "grant %s", id)
	}
	return &g, nil
}

func (t *memoryTx) InsertGrant(_ context.Context, grant *Grant) error {
	if _, ok := t.repo.grants[grant.ID]; ok {
		return wrap(ErrInvalidInput, "grant %s already exists", grant.ID)
	}
	t.repo.grants[grant.ID] = *grant
	id := grant.ID
	t.undo = append(t.undo, func() { delete(t.repo.grants, id) })
	return nil
}

func (t *memoryTx) UpdateGrant(_ context.Context, grant *Grant) error {
	prev, ok := t.repo.grants[grant.ID]
	if !ok {
		return wrap(ErrNotFound, "grant %s", grant.ID)
	}
	t.repo.grants[grant.ID] = *grant
	t.undo = append(t.undo, func() { t.repo.grants[prev.ID] = prev })
	return nil
}

func (t *memoryTx) Balance(_ context.Context, grantID, asset string) (*big.Int, error) {
	if b, ok := t.repo.balances[balanceKey{grantID, asset}]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (t *memoryTx) AdjustBalance(_ context.Context, grantID, asset string, delta *big.Int) error {
	key := balanceKey{grantID, asset}
	prev, had := t.repo.balances[key]

	next := new(big.Int).Set(delta)
	if had {
		next.Add(prev, delta)
	}
	if next.Sign() < 0 {
		return &TransferError{Reason: "custodial balance would go negative"}
	}

	t.repo.balances[key] = next
	t.undo = append(t.undo, func() {
		if had {
			t.repo.balances[key] = prev
		} else {
			delete(t.repo.balances, key)
		}
	})
	return nil
}

func (t *memoryTx) GetDisbursal(_ context.Context, applicationID uint64, milestoneID int) (*Disbursal, error) {
	d, ok := t.repo.disbursals[slotKey{applicationID, milestoneID}]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (t *memoryTx) InsertDisbursal(_ context.Context, d *Disbursal) error {
	key := slotKey{d.ApplicationID, d.MilestoneID}
	if _, ok := t.repo.disbursals[key]; ok {
		return wrap(ErrAlreadyDisbursed, "milestone %d of application %d", d.MilestoneID, d.ApplicationID)
	}
	rec := *d
	rec.Amount = new(big.Int).Set(d.Amount)
	t.repo.disbursals[key] = rec
	t.undo = append(t.undo, func() { delete(t.repo.disbursals, key) })
	return nil
}

func (t *memoryTx) AppendEvent(_ context.Context, event Event) error {
	n := len(t.repo.events)
	t.repo.events = append(t.repo.events, event)
	t.undo = append(t.undo, func() { t.repo.events = t.repo.events[:n] })
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
