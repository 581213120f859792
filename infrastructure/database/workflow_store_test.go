package database_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotmac/ispsaga/domain/workflow"
	"github.com/dotmac/ispsaga/infrastructure/database"
)

func newMockWorkflowStore(t *testing.T) (*database.WorkflowStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(mockDB, "postgres")
	return database.NewWorkflowStore(sqlxDB), mock, func() { mockDB.Close() }
}

func TestWorkflowStore_Create_InsertsRow(t *testing.T) {
	store, mock, closeDB := newMockWorkflowStore(t)
	defer closeDB()

	mock.ExpectExec(`INSERT INTO workflows`).WillReturnResult(sqlmock.NewResult(1, 1))

	w := &workflow.Workflow{
		ID:       "wf-1",
		Kind:     workflow.KindProvisionSubscriber,
		Status:   workflow.StatusPending,
		TenantID: "tenant-a",
	}
	err := store.Create(context.Background(), w)
	require.NoError(t, err)
	assert.False(t, w.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowStore_Get_NotFoundMapsToWorkflowErrNotFound(t *testing.T) {
	store, mock, closeDB := newMockWorkflowStore(t)
	defer closeDB()

	mock.ExpectQuery(`SELECT \* FROM workflows WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowStore_Get_ScansRowIntoWorkflow(t *testing.T) {
	store, mock, closeDB := newMockWorkflowStore(t)
	defer closeDB()

	now := time.Now().UTC()
	cols := []string{
		"id", "kind", "status", "tenant_id", "initiator_id", "initiator_kind",
		"input", "output", "context", "started_at", "completed_at", "failed_at",
		"compensation_started_at", "compensation_completed_at", "retry_count",
		"max_retries", "error", "compensation_error", "created_at", "updated_at",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		"wf-1", "provision_subscriber", "running", "tenant-a", "operator-1", "user",
		[]byte(`{}`), []byte(`{}`), []byte(`{}`), nil, nil, nil,
		nil, nil, 0, 3, nil, "", now, now,
	)
	mock.ExpectQuery(`SELECT \* FROM workflows WHERE id = \$1`).
		WithArgs("wf-1").
		WillReturnRows(rows)

	w, err := store.Get(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.KindProvisionSubscriber, w.Kind)
	assert.Equal(t, workflow.StatusRunning, w.Status)
	assert.Equal(t, "tenant-a", w.TenantID)
	require.NoError(t, mock.ExpectationsWereMet())
}
