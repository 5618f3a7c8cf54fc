package authority

import (
	"context"
	"errors"

	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/common/database"
)

const adminQuery = `
	SELECT EXISTS (
		SELECT 1 FROM workspace_members
		WHERE workspace_id = $1 AND principal = $2 AND role = 'admin'
	)`

// Postgres reads admins from the workspace_members table.
type Postgres struct {
	pg *database.PostgresClient
}

func NewPostgres(pg *database.PostgresClient) *Postgres {
	return &Postgres{pg: pg}
}

func (p *Postgres) IsAdmin(ctx context.Context, workspaceID uint64, principal string) (bool, error) {
	var ok bool
	if err := p.pg.QueryRow(ctx, adminQuery, int64(workspaceID), principal).Scan(&ok); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return false, apperrors.NewQueryTimeoutError("authority lookup")
		}
		return false, apperrors.NewQueryExecutionFailedError("authority lookup", err)
	}
	return ok, nil
}
