package grants

import (
	"context"
	"math/big"
)

// AuthorityProvider answers whether principal administers workspaceID.
// It is a pure capability check and is never mutated by this package.
type AuthorityProvider interface {
	IsAdmin(ctx context.Context, workspaceID uint64, principal string) (bool, error)
}

// AuthorityFunc adapts a function to AuthorityProvider.
type AuthorityFunc func(ctx context.Context, workspaceID uint64, principal string) (bool, error)

func (f AuthorityFunc) IsAdmin(ctx context.Context, workspaceID uint64, principal string) (bool, error) {
	return f(ctx, workspaceID, principal)
}

// AssetTransfer moves funds between external ledger accounts.
type AssetTransfer interface {
	Transfer(ctx context.Context, req TransferRequest) error
}

// EventPublisher receives events after their transaction committed.
type EventPublisher interface {
	Publish(ctx context.Context, events []Event) error
}

// Repository runs every operation inside InTx. fn either returns nil and all
// writes made through tx become visible together, or returns an error and
// none of them do.
type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional view of persisted state. Lookups return an error
// matching ErrNotFound for unknown ids. forUpdate takes a row lock that is
// held until the transaction ends.
type Tx interface {
	NextApplicationID(ctx context.Context) (uint64, error)
	HasApplied(ctx context.Context, owner, grantID string) (bool, error)
	MarkApplied(ctx context.Context, owner, grantID string, applicationID uint64) error

	GetApplication(ctx context.Context, id uint64, forUpdate bool) (*Application, error)
	InsertApplication(ctx context.Context, app *Application) error
	UpdateApplication(ctx context.Context, app *Application) error

	// Milestones returns the first count slots in index order.
	Milestones(ctx context.Context, applicationID uint64, count int) ([]MilestoneState, error)
	SetMilestoneState(ctx context.Context, applicationID uint64, index int, state MilestoneState) error
	// ResetMilestones drops every slot and creates count fresh Submitted slots.
	ResetMilestones(ctx context.Context, applicationID uint64, count int) error

	GetGrant(ctx context.Context, id string, forUpdate bool) (*Grant, error)
	InsertGrant(ctx context.Context, grant *Grant) error
	UpdateGrant(ctx context.Context, grant *Grant) error
	Balance(ctx context.Context, grantID, asset string) (*big.Int, error)
	AdjustBalance(ctx context.Context, grantID, asset string, delta *big.Int) error

	// GetDisbursal returns nil, nil when the milestone was never paid out.
	GetDisbursal(ctx context.Context, applicationID uint64, milestoneID int) (*Disbursal, error)
	InsertDisbursal(ctx context.Context, d *Disbursal) error

	AppendEvent(ctx context.Context, event Event) error
}
