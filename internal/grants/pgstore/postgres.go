// Package pgstore persists the grant state machine in PostgreSQL.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/common/database"
	"grant-workers/internal/grants"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
)

// Repository implements grants.Repository. Each InTx call is one
// READ COMMITTED transaction; rows are locked with SELECT ... FOR UPDATE.
type Repository struct {
	pg *database.PostgresClient
}

func New(pg *database.PostgresClient) *Repository {
	return &Repository{pg: pg}
}

// EnsureSchema creates missing tables.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pg.Exec(ctx, Schema); err != nil {
		return apperrors.NewQueryExecutionFailedError("ensure_schema", err)
	}
	return nil
}

func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx grants.Tx) error) error {
	err := r.pg.WithTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(tx *sql.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
	if err == nil {
		return nil
	}

	var stdErr *apperrors.StandardError
	var transferErr *grants.TransferError
	switch {
	case errors.As(err, &stdErr), errors.As(err, &transferErr):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewQueryTimeoutError("transaction")
	case errors.Is(err, context.Canceled):
		return err
	default:
		return apperrors.NewDatabaseConnectionFailedError(err)
	}
}

type pgTx struct {
	tx *sql.Tx
}

func queryErr(op string, err error) error {
	return apperrors.NewQueryExecutionFailedError(op, err)
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (t *pgTx) NextApplicationID(ctx context.Context) (uint64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`UPDATE application_counter SET next_id = next_id + 1 RETURNING next_id - 1`).Scan(&id)
	if err != nil {
		return 0, queryErr("next_application_id", err)
	}
	return uint64(id), nil
}

func (t *pgTx) HasApplied(ctx context.Context, owner, grantID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM applicant_grants WHERE owner = $1 AND grant_id = $2)`,
		owner, grantID).Scan(&exists)
	if err != nil {
		return false, queryErr("has_applied", err)
	}
	return exists, nil
}

func (t *pgTx) MarkApplied(ctx context.Context, owner, grantID string, applicationID uint64) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO applicant_grants (owner, grant_id, application_id) VALUES ($1, $2, $3)`,
		owner, grantID, int64(applicationID))
	if pqCode(err) == pqUniqueViolation {
		return apperrors.Wrap(grants.ErrDuplicateApplication, "%q already applied to grant %s", owner, grantID)
	}
	if err != nil {
		return queryErr("mark_applied", err)
	}
	return nil
}

const applicationColumns = `id, workspace_id, grant_id, owner, milestone_count, metadata_hash, state, milestones_done, created_at, updated_at`

func (t *pgTx) GetApplication(ctx context.Context, id uint64, forUpdate bool) (*grants.Application, error) {
	var (
		app         grants.Application
		rawID, wsID int64
		state       int16
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`+lockClause(forUpdate),
		int64(id)).Scan(&rawID, &wsID, &app.GrantID, &app.Owner, &app.MilestoneCount,
		&app.MetadataHash, &state, &app.MilestonesDone, &app.CreatedAt, &app.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrap(grants.ErrNotFound, "application %d", id)
	}
	if err != nil {
		return nil, queryErr("get_application", err)
	}
	app.ID = uint64(rawID)
	app.WorkspaceID = uint64(wsID)
	app.State = grants.ApplicationState(state)
	return &app, nil
}

func (t *pgTx) InsertApplication(ctx context.Context, app *grants.Application) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		int64(app.ID), int64(app.WorkspaceID), app.GrantID, app.Owner, app.MilestoneCount,
		app.MetadataHash, int16(app.State), app.MilestonesDone, app.CreatedAt, app.UpdatedAt)
	if err != nil {
		return queryErr("insert_application", err)
	}
	return nil
}

func (t *pgTx) UpdateApplication(ctx context.Context, app *grants.Application) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE applications
		SET milestone_count = $2, metadata_hash = $3, state = $4, milestones_done = $5, updated_at = $6
		WHERE id = $1`,
		int64(app.ID), app.MilestoneCount, app.MetadataHash, int16(app.State), app.MilestonesDone, app.UpdatedAt)
	if err != nil {
		return queryErr("update_application", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Wrap(grants.ErrNotFound, "application %d", app.ID)
	}
	return nil
}

func (t *pgTx) Milestones(ctx context.Context, applicationID uint64, count int) ([]grants.MilestoneState, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT milestone_id, state FROM application_milestones
		WHERE application_id = $1 AND milestone_id < $2
		ORDER BY milestone_id`, int64(applicationID), count)
	if err != nil {
		return nil, queryErr("milestones", err)
	}
	defer rows.Close()

	states := make([]grants.MilestoneState, count)
	for rows.Next() {
		var (
			idx   int
			state int16
		)
		if err := rows.Scan(&idx, &state); err != nil {
			return nil, queryErr("milestones", err)
		}
		if idx >= 0 && idx < count {
			states[idx] = grants.MilestoneState(state)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("milestones", err)
	}
	return states, nil
}

func (t *pgTx) SetMilestoneState(ctx context.Context, applicationID uint64, index int, state grants.MilestoneState) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE application_milestones SET state = $3
		WHERE application_id = $1 AND milestone_id = $2`,
		int64(applicationID), index, int16(state))
	if err != nil {
		return queryErr("set_milestone_state", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Wrap(grants.ErrInvalidMilestoneID, "milestone %d of application %d", index, applicationID)
	}
	return nil
}

func (t *pgTx) ResetMilestones(ctx context.Context, applicationID uint64, count int) error {
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM application_milestones WHERE application_id = $1`, int64(applicationID)); err != nil {
		return queryErr("reset_milestones", err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO application_milestones (application_id, milestone_id, state)
		SELECT $1, g, 0 FROM generate_series(0, $2 - 1) AS g`,
		int64(applicationID), count); err != nil {
		return queryErr("reset_milestones", err)
	}
	return nil
}

const grantColumns = `id, workspace_id, active, num_applicants, metadata_hash, custody_account, created_at, updated_at`

func (t *pgTx) GetGrant(ctx context.Context, id string, forUpdate bool) (*grants.Grant, error) {
	var (
		g          grants.Grant
		wsID, apps int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM grants WHERE id = $1`+lockClause(forUpdate), id).
		Scan(&g.ID, &wsID, &g.Active, &apps, &g.MetadataHash, &g.CustodyAccount, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrap(grants.ErrNotFound, "grant %s", id)
	}
	if err != nil {
		return nil, queryErr("get_grant", err)
	}
	g.WorkspaceID = uint64(wsID)
	g.NumApplicants = uint64(apps)
	return &g, nil
}

func (t *pgTx) InsertGrant(ctx context.Context, g *grants.Grant) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO grants (`+grantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		g.ID, int64(g.WorkspaceID), g.Active, int64(g.NumApplicants), g.MetadataHash, g.CustodyAccount,
		g.CreatedAt, g.UpdatedAt)
	if pqCode(err) == pqUniqueViolation {
		return apperrors.Wrap(grants.ErrInvalidInput, "grant %s already exists", g.ID)
	}
	if err != nil {
		return queryErr("insert_grant", err)
	}
	return nil
}

func (t *pgTx) UpdateGrant(ctx context.Context, g *grants.Grant) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE grants SET active = $2, num_applicants = $3, metadata_hash = $4, updated_at = $5
		WHERE id = $1`,
		g.ID, g.Active, int64(g.NumApplicants), g.MetadataHash, g.UpdatedAt)
	if err != nil {
		return queryErr("update_grant", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Wrap(grants.ErrNotFound, "grant %s", g.ID)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric amount %q", raw)
	}
	return v, nil
}

func (t *pgTx) Balance(ctx context.Context, grantID, asset string) (*big.Int, error) {
	var raw string
	err := t.tx.QueryRowContext(ctx,
		`SELECT amount::text FROM grant_balances WHERE grant_id = $1 AND asset = $2`,
		grantID, asset).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, queryErr("balance", err)
	}
	amount, err := parseAmount(raw)
	if err != nil {
		return nil, queryErr("balance", err)
	}
	return amount, nil
}

func (t *pgTx) AdjustBalance(ctx context.Context, grantID, asset string, delta *big.Int) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO grant_balances (grant_id, asset, amount) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (grant_id, asset) DO UPDATE SET amount = grant_balances.amount + EXCLUDED.amount`,
		grantID, asset, delta.String())
	if pqCode(err) == pqCheckViolation {
		return &grants.TransferError{Reason: "custodial balance would go negative"}
	}
	if err != nil {
		return queryErr("adjust_balance", err)
	}
	return nil
}

func (t *pgTx) GetDisbursal(ctx context.Context, applicationID uint64, milestoneID int) (*grants.Disbursal, error) {
	var (
		d         grants.Disbursal
		mode, raw string
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT mode, asset, amount::text, source, recipient, reference, disbursed_by, disbursed_at
		FROM milestone_disbursals WHERE application_id = $1 AND milestone_id = $2`,
		int64(applicationID), milestoneID).
		Scan(&mode, &d.Asset, &raw, &d.Source, &d.Recipient, &d.Reference, &d.DisbursedBy, &d.DisbursedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, queryErr("get_disbursal", err)
	}
	if d.Amount, err = parseAmount(raw); err != nil {
		return nil, queryErr("get_disbursal", err)
	}
	d.ApplicationID = applicationID
	d.MilestoneID = milestoneID
	d.Mode = grants.DisbursalMode(mode)
	return &d, nil
}

func (t *pgTx) InsertDisbursal(ctx context.Context, d *grants.Disbursal) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO milestone_disbursals
			(application_id, milestone_id, mode, asset, amount, source, recipient, reference, disbursed_by, disbursed_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)`,
		int64(d.ApplicationID), d.MilestoneID, string(d.Mode), d.Asset, d.Amount.String(),
		d.Source, d.Recipient, d.Reference, d.DisbursedBy, d.DisbursedAt)
	if pqCode(err) == pqUniqueViolation {
		return apperrors.Wrap(grants.ErrAlreadyDisbursed, "milestone %d of application %d", d.MilestoneID, d.ApplicationID)
	}
	if err != nil {
		return queryErr("insert_disbursal", err)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, ev grants.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return queryErr("append_event", err)
	}

	var appID sql.NullInt64
	if ev.ApplicationID != nil {
		appID = sql.NullInt64{Int64: int64(*ev.ApplicationID), Valid: true}
	}
	var milestoneID sql.NullInt32
	if ev.MilestoneID != nil {
		milestoneID = sql.NullInt32{Int32: int32(*ev.MilestoneID), Valid: true}
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO application_events
			(id, type, actor, workspace_id, grant_id, application_id, milestone_id, reason, data, occurred_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9, $10)`,
		ev.ID.String(), string(ev.Type), ev.Actor, int64(ev.WorkspaceID), ev.GrantID,
		appID, milestoneID, ev.Reason, data, ev.OccurredAt)
	if err != nil {
		return queryErr("append_event", err)
	}
	return nil
}

// Events returns the stored event log of an application, oldest first.
func (r *Repository) Events(ctx context.Context, applicationID uint64) ([]grants.Event, error) {
	rows, err := r.pg.Query(ctx, `
		SELECT id, type, actor, workspace_id, COALESCE(grant_id, ''), milestone_id, COALESCE(reason, ''), data, occurred_at
		FROM application_events WHERE application_id = $1
		ORDER BY occurred_at, id`, int64(applicationID))
	if err != nil {
		return nil, queryErr("list_events", err)
	}
	defer rows.Close()

	var events []grants.Event
	for rows.Next() {
		var (
			ev          grants.Event
			id, typ     string
			wsID        int64
			milestoneID sql.NullInt32
			data        []byte
			occurredAt  time.Time
		)
		if err := rows.Scan(&id, &typ, &ev.Actor, &wsID, &ev.GrantID, &milestoneID, &ev.Reason, &data, &occurredAt); err != nil {
			return nil, queryErr("list_events", err)
		}
		if err := ev.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, queryErr("list_events", err)
		}
		ev.Type = grants.EventType(typ)
		ev.WorkspaceID = uint64(wsID)
		appID := applicationID
		ev.ApplicationID = &appID
		if milestoneID.Valid {
			m := int(milestoneID.Int32)
			ev.MilestoneID = &m
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, queryErr("list_events", err)
			}
		}
		ev.OccurredAt = occurredAt
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("list_events", err)
	}
	return events, nil
}

var _ grants.Repository = (*Repository)(nil)
