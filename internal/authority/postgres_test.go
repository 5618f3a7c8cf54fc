package authority

import (
	"context"
	"errors"
	"testing"

	"grant-workers/internal/common/database"
	apperrors "grant-workers/internal/common/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminQueryPattern = `SELECT EXISTS \( SELECT 1 FROM workspace_members WHERE workspace_id = \$1 AND principal = \$2 AND role = 'admin' \)`

func TestPostgres_IsAdmin(t *testing.T) {
	tests := []struct {
		name  string
		found bool
	}{
		{"member is admin", true},
		{"not a member", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery(adminQueryPattern).
				WithArgs(int64(7), "admin-1").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.found))

			p := NewPostgres(database.NewPostgresFromDB(db))
			ok, err := p.IsAdmin(context.Background(), 7, "admin-1")
			require.NoError(t, err)
			assert.Equal(t, tt.found, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgres_IsAdmin_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(adminQueryPattern).
		WithArgs(int64(7), "admin-1").
		WillReturnError(errors.New("connection reset by peer"))

	p := NewPostgres(database.NewPostgresFromDB(db))
	_, err = p.IsAdmin(context.Background(), 7, "admin-1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeQueryExecutionFailed, apperrors.Normalize(err).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
