package grants

import (
	"context"
	"errors"
	"math/big"

	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/common/metrics"

	"go.opentelemetry.io/otel/attribute"
)

func validateInstruction(mode DisbursalMode, asset string, amount *big.Int) error {
	if !mode.Valid() {
		return wrap(ErrInvalidInput, "unknown disbursal mode %q", mode)
	}
	if asset == "" {
		return wrap(ErrInvalidInput, "asset is required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return wrap(ErrInvalidInput, "amount must be positive")
	}
	return nil
}

// DisburseFromPool pays amount of asset from the grant's custodial balance to
// the application owner.
func (s *ApplicationStore) DisburseFromPool(ctx context.Context, caller string, applicationID uint64, milestoneID int, asset string, amount *big.Int) (*DisbursalOutcome, error) {
	return s.disburse(ctx, caller, applicationID, milestoneID, DisbursalInstruction{
		Mode: DisbursalFromPool, Asset: asset, Amount: amount,
	})
}

// DisburseP2P pays amount of asset from the calling admin's own ledger
// account to the application owner. The grant balance is not touched.
func (s *ApplicationStore) DisburseP2P(ctx context.Context, caller string, applicationID uint64, milestoneID int, asset string, amount *big.Int) (*DisbursalOutcome, error) {
	return s.disburse(ctx, caller, applicationID, milestoneID, DisbursalInstruction{
		Mode: DisbursalP2P, Asset: asset, Amount: amount,
	})
}

// disburse validates the request and runs the transfer. Validation failures
// abort with an error; a transfer failure commits a DisbursalFailed event and
// comes back as a failed outcome with a nil error.
func (s *ApplicationStore) disburse(ctx context.Context, caller string, applicationID uint64, milestoneID int, instr DisbursalInstruction) (*DisbursalOutcome, error) {
	if err := validateInstruction(instr.Mode, instr.Asset, instr.Amount); err != nil {
		return nil, err
	}

	var outcome *DisbursalOutcome
	err := s.run(ctx, "disburse_"+string(instr.Mode), []attribute.KeyValue{
		attribute.Int64("application.id", int64(applicationID)),
		attribute.Int("milestone.id", milestoneID),
		attribute.String("asset", instr.Asset),
	}, func(ctx context.Context, sc *txScope) error {
		app, err := sc.tx.GetApplication(ctx, applicationID, true)
		if err != nil {
			return err
		}
		if err := s.requireAdmin(ctx, app.WorkspaceID, caller); err != nil {
			return err
		}
		if err := checkMilestoneBounds(app, milestoneID); err != nil {
			return err
		}

		states, err := sc.tx.Milestones(ctx, applicationID, app.MilestoneCount)
		if err != nil {
			return err
		}
		if states[milestoneID] != MilestoneApproved {
			return wrap(ErrInvalidState, "milestone %d of application %d is %s, disbursal requires %s",
				milestoneID, applicationID, states[milestoneID], MilestoneApproved)
		}

		prior, err := sc.tx.GetDisbursal(ctx, applicationID, milestoneID)
		if err != nil {
			return err
		}
		if prior != nil {
			return wrap(ErrAlreadyDisbursed, "milestone %d of application %d was paid out by %s (%s)",
				milestoneID, applicationID, prior.DisbursedBy, prior.Reference)
		}

		outcome, err = s.executeDisbursal(ctx, sc, caller, app, milestoneID, instr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// disburseApproved runs the disbursal attached to a milestone approval. A
// milestone that was already paid out before a resubmission reset yields a
// failed outcome instead of aborting the approval.
func (s *ApplicationStore) disburseApproved(ctx context.Context, sc *txScope, caller string, app *Application, milestoneID int, instr DisbursalInstruction) (*DisbursalOutcome, error) {
	prior, err := sc.tx.GetDisbursal(ctx, app.ID, milestoneID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		outcome := s.newOutcome(app, milestoneID, instr, prior.Reference)
		return s.recordFailure(sc, caller, app, outcome, string(apperrors.ErrCodeAlreadyDisbursed),
			"milestone was already paid out under "+prior.Reference), nil
	}
	return s.executeDisbursal(ctx, sc, caller, app, milestoneID, instr)
}

func (s *ApplicationStore) newOutcome(app *Application, milestoneID int, instr DisbursalInstruction, reference string) *DisbursalOutcome {
	return &DisbursalOutcome{
		ApplicationID: app.ID,
		MilestoneID:   milestoneID,
		Mode:          instr.Mode,
		Asset:         instr.Asset,
		Amount:        new(big.Int).Set(instr.Amount),
		Recipient:     app.Owner,
		Reference:     reference,
	}
}

// executeDisbursal moves the funds. Only storage errors are returned; they
// abort the surrounding transaction.
func (s *ApplicationStore) executeDisbursal(ctx context.Context, sc *txScope, caller string, app *Application, milestoneID int, instr DisbursalInstruction) (*DisbursalOutcome, error) {
	source := caller
	var fund *grantFund
	if instr.Mode == DisbursalFromPool {
		grant, err := sc.tx.GetGrant(ctx, app.GrantID, true)
		if err != nil {
			return nil, err
		}
		source = grant.CustodyAccount
		fund = newGrantFund(sc.tx, grant, s.transfer)
	}
	outcome := s.newOutcome(app, milestoneID, instr,
		DisbursalReference(app.ID, milestoneID, instr.Mode, source, instr.Asset, instr.Amount))

	var err error
	switch instr.Mode {
	case DisbursalFromPool:
		err = fund.TransferFromPool(ctx, instr.Asset, instr.Amount, app.Owner, outcome.Reference)
	case DisbursalP2P:
		if terr := s.transfer.Transfer(ctx, TransferRequest{
			Asset:     instr.Asset,
			Amount:    instr.Amount,
			From:      caller,
			To:        app.Owner,
			Reference: outcome.Reference,
		}); terr != nil {
			err = asTransferError(terr)
		}
	}

	if err != nil {
		var te *TransferError
		if !errors.As(err, &te) {
			return nil, err
		}
		return s.recordFailure(sc, caller, app, outcome, string(apperrors.ErrCodeTransferFailed), te.Error()), nil
	}

	if err := sc.tx.InsertDisbursal(ctx, &Disbursal{
		ApplicationID: app.ID,
		MilestoneID:   milestoneID,
		Mode:          instr.Mode,
		Asset:         instr.Asset,
		Amount:        outcome.Amount,
		Source:        source,
		Recipient:     app.Owner,
		Reference:     outcome.Reference,
		DisbursedBy:   caller,
		DisbursedAt:   sc.now,
	}); err != nil {
		return nil, err
	}

	outcome.Status = DisbursalSucceeded
	sc.emit(Event{
		Type:          EventDisbursalSucceeded,
		Actor:         caller,
		WorkspaceID:   app.WorkspaceID,
		GrantID:       app.GrantID,
		ApplicationID: u64(app.ID),
		MilestoneID:   intp(milestoneID),
		Data: map[string]interface{}{
			"mode":      string(instr.Mode),
			"asset":     instr.Asset,
			"amount":    outcome.Amount.String(),
			"source":    source,
			"recipient": app.Owner,
			"reference": outcome.Reference,
		},
	})
	metrics.Disbursals.WithLabelValues(string(instr.Mode), string(DisbursalSucceeded)).Inc()

	s.logger.Info("milestone funds disbursed", map[string]interface{}{
		"applicationId": app.ID,
		"milestoneId":   milestoneID,
		"mode":          string(instr.Mode),
		"asset":         instr.Asset,
		"amount":        outcome.Amount.String(),
	})
	return outcome, nil
}

func (s *ApplicationStore) recordFailure(sc *txScope, caller string, app *Application, outcome *DisbursalOutcome, code, reason string) *DisbursalOutcome {
	outcome.Status = DisbursalFailed
	outcome.FailureCode = code
	outcome.FailureReason = reason

	sc.emit(Event{
		Type:          EventDisbursalFailed,
		Actor:         caller,
		WorkspaceID:   app.WorkspaceID,
		GrantID:       app.GrantID,
		ApplicationID: u64(app.ID),
		MilestoneID:   intp(outcome.MilestoneID),
		Data: map[string]interface{}{
			"mode":          string(outcome.Mode),
			"asset":         outcome.Asset,
			"amount":        outcome.Amount.String(),
			"reference":     outcome.Reference,
			"failureCode":   code,
			"failureReason": reason,
		},
	})
	metrics.Disbursals.WithLabelValues(string(outcome.Mode), string(DisbursalFailed)).Inc()

	s.logger.Warn("milestone disbursal failed", map[string]interface{}{
		"applicationId": app.ID,
		"milestoneId":   outcome.MilestoneID,
		"mode":          string(outcome.Mode),
		"failureCode":   code,
		"reason":        reason,
	})
	return outcome
}

// Disbursal returns the payout record of a milestone, or nil if it has not
// been paid out.
func (s *ApplicationStore) Disbursal(ctx context.Context, applicationID uint64, milestoneID int) (*Disbursal, error) {
	var d *Disbursal
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetApplication(ctx, applicationID, false); err != nil {
			return err
		}
		var err error
		d, err = tx.GetDisbursal(ctx, applicationID, milestoneID)
		return err
	})
	return d, err
}
