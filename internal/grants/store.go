package grants

import (
	"context"
	"fmt"
	"time"

	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/common/logger"
	"grant-workers/internal/common/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "grant-workers/internal/grants"

// ApplicationStore owns Application and milestone records and enforces the
// lifecycle graph. Every operation runs in one repository transaction; events
// are appended in that transaction and handed to the publisher after commit.
type ApplicationStore struct {
	repo      Repository
	authority AuthorityProvider
	transfer  AssetTransfer
	publisher EventPublisher
	logger    logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*ApplicationStore)

// WithPublisher fans committed events out to an external sink.
func WithPublisher(p EventPublisher) Option {
	return func(s *ApplicationStore) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *ApplicationStore) { s.now = now }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *ApplicationStore) { s.tracer = t }
}

func NewApplicationStore(repo Repository, authority AuthorityProvider, transfer AssetTransfer, log logger.Logger, opts ...Option) *ApplicationStore {
	s := &ApplicationStore{
		repo:      repo,
		authority: authority,
		transfer:  transfer,
		logger:    log.WithFields(map[string]interface{}{"component": "application-store"}),
		tracer:    otel.Tracer(tracerName),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// txScope collects the events of one transaction.
type txScope struct {
	tx     Tx
	now    time.Time
	events []Event
}

func (sc *txScope) emit(ev Event) {
	ev.ID = uuid.New()
	ev.OccurredAt = sc.now
	sc.events = append(sc.events, ev)
}

func (s *ApplicationStore) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context, sc *txScope) error) (err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "grants."+op, trace.WithAttributes(attrs...))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apperrors.Normalize(err).Code)
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		metrics.GrantOperations.WithLabelValues(op, outcome).Inc()
		metrics.GrantOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		span.End()
	}()

	var committed []Event
	err = s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sc := &txScope{tx: tx, now: s.now()}
		if err := fn(ctx, sc); err != nil {
			return err
		}
		for _, ev := range sc.events {
			if err := tx.AppendEvent(ctx, ev); err != nil {
				return err
			}
		}
		committed = sc.events
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, committed)
	return nil
}

func (s *ApplicationStore) publish(ctx context.Context, events []Event) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events); err != nil {
		s.logger.Warn("event publication failed", map[string]interface{}{
			"error":  err,
			"events": len(events),
			"type":   string(events[0].Type),
		})
	}
}

func (s *ApplicationStore) requireAdmin(ctx context.Context, workspaceID uint64, caller string) error {
	ok, err := s.authority.IsAdmin(ctx, workspaceID, caller)
	if err != nil {
		return fmt.Errorf("authority check for workspace %d: %w", workspaceID, err)
	}
	if !ok {
		return wrap(ErrUnauthorized, "%q is not an admin of workspace %d", caller, workspaceID)
	}
	return nil
}

func checkWorkspace(app *Application, workspaceID uint64) error {
	if app.WorkspaceID != workspaceID {
		return wrap(ErrWorkspaceMismatch, "application %d belongs to workspace %d, not %d",
			app.ID, app.WorkspaceID, workspaceID)
	}
	return nil
}

func checkMilestoneBounds(app *Application, milestoneID int) error {
	if milestoneID < 0 || milestoneID >= app.MilestoneCount {
		return wrap(ErrInvalidMilestoneID, "milestone %d out of range for application %d with %d milestones",
			milestoneID, app.ID, app.MilestoneCount)
	}
	return nil
}

// MaxMilestones caps the milestone count of one application.
const MaxMilestones = 1000

func validatePlan(metadata string, milestoneCount int) error {
	if metadata == "" {
		return wrap(ErrInvalidInput, "metadata is required")
	}
	if milestoneCount < 1 {
		return wrap(ErrInvalidInput, "milestoneCount must be at least 1, got %d", milestoneCount)
	}
	if milestoneCount > MaxMilestones {
		return wrap(ErrInvalidInput, "milestoneCount must be at most %d, got %d", MaxMilestones, milestoneCount)
	}
	return nil
}

func u64(v uint64) *uint64 { return &v }
func intp(v int) *int      { return &v }

// Submit records a new Application owned by caller. The grant applicant
// counter is incremented after the record, the milestone slots and the
// (caller, grant) marker are written, all in the same transaction.
func (s *ApplicationStore) Submit(ctx context.Context, caller, grantID string, workspaceID uint64, metadata string, milestoneCount int) (*Application, error) {
	if caller == "" || grantID == "" {
		return nil, wrap(ErrInvalidInput, "caller and grantId are required")
	}
	if err := validatePlan(metadata, milestoneCount); err != nil {
		return nil, err
	}

	var app *Application
	err := s.run(ctx, "submit", []attribute.KeyValue{
		attribute.String("grant.id", grantID),
		attribute.Int64("workspace.id", int64(workspaceID)),
	}, func(ctx context.Context, sc *txScope) error {
		grant, err := sc.tx.GetGrant(ctx, grantID, true)
		if err != nil {
			return err
		}

		applied, err := sc.tx.HasApplied(ctx, caller, grantID)
		if err != nil {
			return err
		}
		if applied {
			return wrap(ErrDuplicateApplication, "%q already applied to grant %s", caller, grantID)
		}

		fund := newGrantFund(sc.tx, grant, s.transfer)
		if !fund.IsActive() {
			return wrap(ErrGrantInactive, "grant %s is not active", grantID)
		}
		if fund.WorkspaceID() != workspaceID {
			return wrap(ErrWorkspaceMismatch, "grant %s belongs to workspace %d, not %d",
				grantID, fund.WorkspaceID(), workspaceID)
		}

		id, err := sc.tx.NextApplicationID(ctx)
		if err != nil {
			return err
		}

		app = &Application{
			ID:             id,
			WorkspaceID:    workspaceID,
			GrantID:        grantID,
			Owner:          caller,
			MilestoneCount: milestoneCount,
			MetadataHash:   metadata,
			State:          StateSubmitted,
			CreatedAt:      sc.now,
			UpdatedAt:      sc.now,
		}
		if err := sc.tx.InsertApplication(ctx, app); err != nil {
			return err
		}
		if err := sc.tx.ResetMilestones(ctx, id, milestoneCount); err != nil {
			return err
		}
		if err := sc.tx.MarkApplied(ctx, caller, grantID, id); err != nil {
			return err
		}
		if err := fund.IncrementApplicantCount(ctx, sc.now); err != nil {
			return err
		}

		sc.emit(Event{
			Type:          EventApplicationSubmitted,
			Actor:         caller,
			WorkspaceID:   workspaceID,
			GrantID:       grantID,
			ApplicationID: u64(id),
			Data: map[string]interface{}{
				"milestoneCount": milestoneCount,
				"metadataHash":   metadata,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application submitted", map[string]interface{}{
		"applicationId":  app.ID,
		"grantId":        grantID,
		"owner":          caller,
		"milestoneCount": milestoneCount,
	})
	return app, nil
}

// Resubmit replaces the milestone plan of an application sent back for
// changes. Every milestone slot is reset to Submitted, whatever progress it
// had, and the application returns to Submitted.
func (s *ApplicationStore) Resubmit(ctx context.Context, caller string, applicationID uint64, metadata string, milestoneCount int) (*Application, error) {
	if err := validatePlan(metadata, milestoneCount); err != nil {
		return nil, err
	}

	var app *Application
	err := s.run(ctx, "resubmit", []attribute.KeyValue{
		attribute.Int64("application.id", int64(applicationID)),
	}, func(ctx context.Context, sc *txScope) error {
		var err error
		app, err = sc.tx.GetApplication(ctx, applicationID, true)
		if err != nil {
			return err
		}
		if app.Owner != caller {
			return wrap(ErrUnauthorized, "%q does not own application %d", caller, applicationID)
		}
		if app.State != StateResubmit {
			return wrap(ErrInvalidState, "application %d is %s, resubmission requires %s",
				applicationID, app.State, StateResubmit)
		}

		if err := sc.tx.ResetMilestones(ctx, applicationID, milestoneCount); err != nil {
			return err
		}

		previous := app.MilestoneCount
		app.MilestoneCount = milestoneCount
		app.MetadataHash = metadata
		app.State = StateSubmitted
		app.MilestonesDone = false
		app.UpdatedAt = sc.now
		if err := sc.tx.UpdateApplication(ctx, app); err != nil {
			return err
		}

		sc.emit(Event{
			Type:          EventApplicationResubmitted,
			Actor:         caller,
			WorkspaceID:   app.WorkspaceID,
			GrantID:       app.GrantID,
			ApplicationID: u64(applicationID),
			Data: map[string]interface{}{
				"previousMilestoneCount": previous,
				"milestoneCount":         milestoneCount,
				"metadataHash":           metadata,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application resubmitted", map[string]interface{}{
		"applicationId":  applicationID,
		"milestoneCount": milestoneCount,
	})
	return app, nil
}

// ChangeState is the review checkpoint: a workspace admin moves a Submitted
// application to Resubmit, Approved or Rejected.
func (s *ApplicationStore) ChangeState(ctx context.Context, caller string, applicationID, workspaceID uint64, newState ApplicationState, reason string) (*Application, error) {
	var app *Application
	err := s.run(ctx, "change_state", []attribute.KeyValue{
		attribute.Int64("application.id", int64(applicationID)),
		attribute.String("application.new_state", newState.String()),
	}, func(ctx context.Context, sc *txScope) error {
		if err := s.requireAdmin(ctx, workspaceID, caller); err != nil {
			return err
		}

		var err error
		app, err = sc.tx.GetApplication(ctx, applicationID, true)
		if err != nil {
			return err
		}
		if err := checkWorkspace(app, workspaceID); err != nil {
			return err
		}

		if app.State != StateSubmitted {
			return wrap(ErrInvalidTransition, "application %d cannot move from %s to %s",
				applicationID, app.State, newState)
		}
		switch newState {
		case StateResubmit, StateApproved, StateRejected:
		default:
			return wrap(ErrInvalidTransition, "application %d cannot move from %s to %s",
				applicationID, app.State, newState)
		}

		previous := app.State
		app.State = newState
		app.UpdatedAt = sc.now
		if err := sc.tx.UpdateApplication(ctx, app); err != nil {
			return err
		}

		sc.emit(Event{
			Type:          EventApplicationStateChanged,
			Actor:         caller,
			WorkspaceID:   workspaceID,
			GrantID:       app.GrantID,
			ApplicationID: u64(applicationID),
			Reason:        reason,
			Data: map[string]interface{}{
				"from": previous.String(),
				"to":   newState.String(),
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application state changed", map[string]interface{}{
		"applicationId": applicationID,
		"state":         newState.String(),
		"admin":         caller,
	})
	return app, nil
}

// Complete closes an approved application whose final milestone is approved.
func (s *ApplicationStore) Complete(ctx context.Context, caller string, applicationID, workspaceID uint64, reason string) (*Application, error) {
	var app *Application
	err := s.run(ctx, "complete", []attribute.KeyValue{
		attribute.Int64("application.id", int64(applicationID)),
	}, func(ctx context.Context, sc *txScope) error {
		if err := s.requireAdmin(ctx, workspaceID, caller); err != nil {
			return err
		}

		var err error
		app, err = sc.tx.GetApplication(ctx, applicationID, true)
		if err != nil {
			return err
		}
		if err := checkWorkspace(app, workspaceID); err != nil {
			return err
		}
		if !app.MilestonesDone {
			return wrap(ErrMilestonesIncomplete, "application %d: milestone %d is not approved",
				applicationID, app.MilestoneCount-1)
		}
		if app.State != StateApproved {
			return wrap(ErrInvalidState, "application %d is %s, completion requires %s",
				applicationID, app.State, StateApproved)
		}

		app.State = StateComplete
		app.UpdatedAt = sc.now
		if err := sc.tx.UpdateApplication(ctx, app); err != nil {
			return err
		}

		sc.emit(Event{
			Type:          EventApplicationCompleted,
			Actor:         caller,
			WorkspaceID:   workspaceID,
			GrantID:       app.GrantID,
			ApplicationID: u64(applicationID),
			Reason:        reason,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application completed", map[string]interface{}{
		"applicationId": applicationID,
		"admin":         caller,
	})
	return app, nil
}

// RequestMilestoneApproval lets the owner flag a Submitted milestone of an
// approved application for review.
func (s *ApplicationStore) RequestMilestoneApproval(ctx context.Context, caller string, applicationID uint64, milestoneID int, reason string) error {
	err := s.run(ctx, "request_milestone_approval", []attribute.KeyValue{
		attribute.Int64("application.id", int64(applicationID)),
		attribute.Int("milestone.id", milestoneID),
	}, func(ctx context.Context, sc *txScope) error {
		app, err := sc.tx.GetApplication(ctx, applicationID, true)
		if err != nil {
			return err
		}
		if app.Owner != caller {
			return wrap(ErrUnauthorized, "%q does not own application %d", caller, applicationID)
		}
		if app.State != StateApproved {
			return wrap(ErrInvalidState, "application %d is %s, milestone requests require %s",
				applicationID, app.State, StateApproved)
		}
		if err := checkMilestoneBounds(app, milestoneID); err != nil {
			return err
		}

		states, err := sc.tx.Milestones(ctx, applicationID, app.MilestoneCount)
		if err != nil {
			return err
		}
		if states[milestoneID] != MilestoneSubmitted {
			return wrap(ErrInvalidTransition, "milestone %d of application %d is %s",
				milestoneID, applicationID, states[milestoneID])
		}
		if err := sc.tx.SetMilestoneState(ctx, applicationID, milestoneID, MilestoneRequested); err != nil {
			return err
		}

		sc.emit(Event{
			Type:          EventMilestoneRequested,
			Actor:         caller,
			WorkspaceID:   app.WorkspaceID,
			GrantID:       app.GrantID,
			ApplicationID: u64(applicationID),
			MilestoneID:   intp(milestoneID),
			Reason:        reason,
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("milestone approval requested", map[string]interface{}{
		"applicationId": applicationID,
		"milestoneId":   milestoneID,
	})
	return nil
}

// ApproveMilestone marks a milestone Approved. Approving the last index sets
// MilestonesDone, regardless of the other milestones. When instr is non-nil
// the funds are released in the same call; a failed release is reported in
// the returned outcome and the approval still commits.
func (s *ApplicationStore) ApproveMilestone(ctx context.Context, caller string, applicationID uint64, milestoneID int, workspaceID uint64, reason string, instr *DisbursalInstruction) (*Application, *DisbursalOutcome, error) {
	if instr != nil {
		if err := validateInstruction(instr.Mode, instr.Asset, instr.Amount); err != nil {
			return nil, nil, err
		}
	}

	var (
		app     *Application
		outcome *DisbursalOutcome
	)
	err := s.run(ctx, "approve_milestone", []attribute.KeyValue{
		attribute.Int64("application.id", int64(applicationID)),
		attribute.Int("milestone.id", milestoneID),
		attribute.Bool("milestone.disburse", instr != nil),
	}, func(ctx context.Context, sc *txScope) error {
		if err := s.requireAdmin(ctx, workspaceID, caller); err != nil {
			return err
		}

		var err error
		app, err = sc.tx.GetApplication(ctx, applicationID, true)
		if err != nil {
			return err
		}
		if err := checkWorkspace(app, workspaceID); err != nil {
			return err
		}
		if app.State != StateApproved {
			return wrap(ErrInvalidState, "application %d is %s, milestone approval requires %s",
				applicationID, app.State, StateApproved)
		}
		if err := checkMilestoneBounds(app, milestoneID); err != nil {
			return err
		}

		states, err := sc.tx.Milestones(ctx, applicationID, app.MilestoneCount)
		if err != nil {
			return err
		}
		if current := states[milestoneID]; current != MilestoneSubmitted && current != MilestoneRequested {
			return wrap(ErrInvalidTransition, "milestone %d of application %d is already %s",
				milestoneID, applicationID, current)
		}
		if err := sc.tx.SetMilestoneState(ctx, applicationID, milestoneID, MilestoneApproved); err != nil {
			return err
		}

		if milestoneID == app.MilestoneCount-1 {
			app.MilestonesDone = true
			app.UpdatedAt = sc.now
			if err := sc.tx.UpdateApplication(ctx, app); err != nil {
				return err
			}
		}

		sc.emit(Event{
			Type:          EventMilestoneApproved,
			Actor:         caller,
			WorkspaceID:   workspaceID,
			GrantID:       app.GrantID,
			ApplicationID: u64(applicationID),
			MilestoneID:   intp(milestoneID),
			Reason:        reason,
			Data: map[string]interface{}{
				"milestonesDone": app.MilestonesDone,
			},
		})

		if instr == nil {
			return nil
		}
		outcome, err = s.disburseApproved(ctx, sc, caller, app, milestoneID, *instr)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("milestone approved", map[string]interface{}{
		"applicationId":  applicationID,
		"milestoneId":    milestoneID,
		"milestonesDone": app.MilestonesDone,
		"admin":          caller,
	})
	return app, outcome, nil
}

// Application returns the record for id.
func (s *ApplicationStore) Application(ctx context.Context, id uint64) (*Application, error) {
	var app *Application
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		app, err = tx.GetApplication(ctx, id, false)
		return err
	})
	return app, err
}

// Snapshot returns the application together with its milestone states.
func (s *ApplicationStore) Snapshot(ctx context.Context, id uint64) (*Application, []MilestoneState, error) {
	var (
		app    *Application
		states []MilestoneState
	)
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if app, err = tx.GetApplication(ctx, id, false); err != nil {
			return err
		}
		states, err = tx.Milestones(ctx, id, app.MilestoneCount)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return app, states, nil
}

// Milestones returns the state of every milestone of application id.
func (s *ApplicationStore) Milestones(ctx context.Context, id uint64) ([]MilestoneState, error) {
	_, states, err := s.Snapshot(ctx, id)
	return states, err
}

// ApplicationOwner returns the principal that submitted application id.
func (s *ApplicationStore) ApplicationOwner(ctx context.Context, id uint64) (string, error) {
	app, err := s.Application(ctx, id)
	if err != nil {
		return "", err
	}
	return app.Owner, nil
}
