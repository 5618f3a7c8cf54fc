package grants

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// grantFund is a transaction-scoped view of one grant: its accessibility,
// applicant counter and custodial balances.
type grantFund struct {
	tx       Tx
	grant    *Grant
	transfer AssetTransfer
}

func newGrantFund(tx Tx, grant *Grant, transfer AssetTransfer) *grantFund {
	return &grantFund{tx: tx, grant: grant, transfer: transfer}
}

func (f *grantFund) IsActive() bool { return f.grant.Active }

func (f *grantFund) WorkspaceID() uint64 { return f.grant.WorkspaceID }

// IncrementApplicantCount is only called from Submit, after the application
// row has been written.
func (f *grantFund) IncrementApplicantCount(ctx context.Context, now time.Time) error {
	f.grant.NumApplicants++
	f.grant.UpdatedAt = now
	return f.tx.UpdateGrant(ctx, f.grant)
}

func (f *grantFund) CustodialBalance(ctx context.Context, asset string) (*big.Int, error) {
	return f.tx.Balance(ctx, f.grant.ID, asset)
}

// TransferFromPool pays recipient out of the custody account. Insufficient
// balance and ledger failures come back as *TransferError with the balance
// untouched; any other error is a storage failure.
func (f *grantFund) TransferFromPool(ctx context.Context, asset string, amount *big.Int, recipient, reference string) error {
	balance, err := f.CustodialBalance(ctx, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return &TransferError{Reason: "insufficient custodial balance: have " + balance.String() + ", need " + amount.String()}
	}

	err = f.transfer.Transfer(ctx, TransferRequest{
		Asset:     asset,
		Amount:    amount,
		From:      f.grant.CustodyAccount,
		To:        recipient,
		Reference: reference,
	})
	if err != nil {
		return asTransferError(err)
	}

	return f.tx.AdjustBalance(ctx, f.grant.ID, asset, new(big.Int).Neg(amount))
}

func asTransferError(err error) *TransferError {
	var te *TransferError
	if errors.As(err, &te) {
		return te
	}
	return &TransferError{Reason: "ledger transfer rejected", Err: err}
}

// CreateGrant opens a new active grant in workspaceID. An empty id gets a
// generated UUID.
func (s *ApplicationStore) CreateGrant(ctx context.Context, caller string, workspaceID uint64, metadata, custodyAccount, id string) (*Grant, error) {
	if metadata == "" || custodyAccount == "" {
		return nil, wrap(ErrInvalidInput, "metadata and custodyAccount are required")
	}
	if id == "" {
		id = uuid.NewString()
	}

	var grant *Grant
	err := s.run(ctx, "create_grant", []attribute.KeyValue{
		attribute.String("grant.id", id),
		attribute.Int64("workspace.id", int64(workspaceID)),
	}, func(ctx context.Context, sc *txScope) error {
		if err := s.requireAdmin(ctx, workspaceID, caller); err != nil {
			return err
		}

		_, err := sc.tx.GetGrant(ctx, id, false)
		switch {
		case err == nil:
			return wrap(ErrInvalidInput, "grant %s already exists", id)
		case !errors.Is(err, ErrNotFound):
			return err
		}

		grant = &Grant{
			ID:             id,
			WorkspaceID:    workspaceID,
			Active:         true,
			MetadataHash:   metadata,
			CustodyAccount: custodyAccount,
			CreatedAt:      sc.now,
			UpdatedAt:      sc.now,
		}
		if err := sc.tx.InsertGrant(ctx, grant); err != nil {
			return err
		}

		sc.emit(Event{
			Type:        EventGrantCreated,
			Actor:       caller,
			WorkspaceID: workspaceID,
			GrantID:     id,
			Data: map[string]interface{}{
				"metadataHash":   metadata,
				"custodyAccount": custodyAccount,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("grant created", map[string]interface{}{
		"grantId":     id,
		"workspaceId": workspaceID,
	})
	return grant, nil
}

// UpdateGrantAccessibility opens or closes a grant to new applications.
func (s *ApplicationStore) UpdateGrantAccessibility(ctx context.Context, caller, grantID string, workspaceID uint64, active bool) (*Grant, error) {
	var grant *Grant
	err := s.run(ctx, "update_grant_accessibility", []attribute.KeyValue{
		attribute.String("grant.id", grantID),
		attribute.Bool("grant.active", active),
	}, func(ctx context.Context, sc *txScope) error {
		if err := s.requireAdmin(ctx, workspaceID, caller); err != nil {
			return err
		}

		var err error
		grant, err = sc.tx.GetGrant(ctx, grantID, true)
		if err != nil {
			return err
		}
		if grant.WorkspaceID != workspaceID {
			return wrap(ErrWorkspaceMismatch, "grant %s belongs to workspace %d, not %d",
				grantID, grant.WorkspaceID, workspaceID)
		}

		grant.Active = active
		grant.UpdatedAt = sc.now
		if err := sc.tx.UpdateGrant(ctx, grant); err != nil {
			return err
		}

		sc.emit(Event{
			Type:        EventGrantAccessibilityUpdated,
			Actor:       caller,
			WorkspaceID: workspaceID,
			GrantID:     grantID,
			Data:        map[string]interface{}{"active": active},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// DepositFunds moves amount from caller's ledger account into the grant's
// custody account and credits the custodial balance. Unlike disbursal, a
// transfer failure aborts the call with an error matching ErrTransferFailed.
func (s *ApplicationStore) DepositFunds(ctx context.Context, caller, grantID, asset string, amount *big.Int) (*big.Int, error) {
	if caller == "" || asset == "" {
		return nil, wrap(ErrInvalidInput, "caller and asset are required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, wrap(ErrInvalidInput, "amount must be positive")
	}

	var balance *big.Int
	err := s.run(ctx, "deposit_funds", []attribute.KeyValue{
		attribute.String("grant.id", grantID),
		attribute.String("asset", asset),
	}, func(ctx context.Context, sc *txScope) error {
		grant, err := sc.tx.GetGrant(ctx, grantID, true)
		if err != nil {
			return err
		}

		reference := "grant-deposit-" + uuid.NewString()
		err = s.transfer.Transfer(ctx, TransferRequest{
			Asset:     asset,
			Amount:    amount,
			From:      caller,
			To:        grant.CustodyAccount,
			Reference: reference,
		})
		if err != nil {
			te := asTransferError(err)
			return wrap(ErrTransferFailed, "deposit into grant %s: %s", grantID, te.Error())
		}

		if err := sc.tx.AdjustBalance(ctx, grantID, asset, amount); err != nil {
			return err
		}
		if balance, err = sc.tx.Balance(ctx, grantID, asset); err != nil {
			return err
		}

		sc.emit(Event{
			Type:        EventFundsDeposited,
			Actor:       caller,
			WorkspaceID: grant.WorkspaceID,
			GrantID:     grantID,
			Data: map[string]interface{}{
				"asset":     asset,
				"amount":    amount.String(),
				"balance":   balance.String(),
				"reference": reference,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// Grant returns the grant record for id.
func (s *ApplicationStore) Grant(ctx context.Context, id string) (*Grant, error) {
	var grant *Grant
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		grant, err = tx.GetGrant(ctx, id, false)
		return err
	})
	return grant, err
}

// GrantBalance returns the custodial balance of asset held for grantID.
func (s *ApplicationStore) GrantBalance(ctx context.Context, grantID, asset string) (*big.Int, error) {
	var balance *big.Int
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetGrant(ctx, grantID, false); err != nil {
			return err
		}
		var err error
		balance, err = tx.Balance(ctx, grantID, asset)
		return err
	})
	return balance, err
}
