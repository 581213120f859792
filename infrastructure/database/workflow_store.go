package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dotmac/ispsaga/domain/workflow"
	"github.com/dotmac/ispsaga/pkg/storage/postgres"
)

// WorkflowStore is a Postgres-backed workflow.WorkflowStore, grounded on
// pkg/storage/postgres's BaseStore pattern but built on sqlx so rows
// StructScan directly into a tagged row type instead of field-by-field
// sql.Scan calls.
type WorkflowStore struct {
	db *sqlx.DB
}

// NewWorkflowStore builds a WorkflowStore over db.
func NewWorkflowStore(db *sqlx.DB) *WorkflowStore {
	return &WorkflowStore{db: db}
}

var _ workflow.WorkflowStore = (*WorkflowStore)(nil)

type workflowRow struct {
	ID                      string         `db:"id"`
	Kind                    string         `db:"kind"`
	Status                  string         `db:"status"`
	TenantID                string         `db:"tenant_id"`
	InitiatorID             string         `db:"initiator_id"`
	InitiatorKind           string         `db:"initiator_kind"`
	Input                   []byte         `db:"input"`
	Output                  []byte         `db:"output"`
	Context                 []byte         `db:"context"`
	StartedAt               sql.NullTime   `db:"started_at"`
	CompletedAt             sql.NullTime   `db:"completed_at"`
	FailedAt                sql.NullTime   `db:"failed_at"`
	CompensationStartedAt   sql.NullTime   `db:"compensation_started_at"`
	CompensationCompletedAt sql.NullTime   `db:"compensation_completed_at"`
	RetryCount              int            `db:"retry_count"`
	MaxRetries              int            `db:"max_retries"`
	Error                   []byte         `db:"error"`
	CompensationError       string         `db:"compensation_error"`
	CreatedAt               time.Time      `db:"created_at"`
	UpdatedAt               time.Time      `db:"updated_at"`
}

func toWorkflowRow(w *workflow.Workflow) (*workflowRow, error) {
	input, err := json.Marshal(orEmpty(w.Input))
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	output, err := json.Marshal(orEmpty(w.Output))
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	wfContext, err := json.Marshal(orEmpty(w.Context))
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}
	var errInfo []byte
	if w.Error != nil {
		errInfo, err = json.Marshal(w.Error)
		if err != nil {
			return nil, fmt.Errorf("marshal error: %w", err)
		}
	}
	return &workflowRow{
		ID:                      w.ID,
		Kind:                    string(w.Kind),
		Status:                  string(w.Status),
		TenantID:                w.TenantID,
		InitiatorID:             w.InitiatorID,
		InitiatorKind:           string(w.InitiatorKind),
		Input:                   input,
		Output:                  output,
		Context:                 wfContext,
		StartedAt:               timeToNull(w.StartedAt),
		CompletedAt:             timeToNull(w.CompletedAt),
		FailedAt:                timeToNull(w.FailedAt),
		CompensationStartedAt:   timeToNull(w.CompensationStartedAt),
		CompensationCompletedAt: timeToNull(w.CompensationCompletedAt),
		RetryCount:              w.RetryCount,
		MaxRetries:              w.MaxRetries,
		Error:                   errInfo,
		CompensationError:       w.CompensationError,
		CreatedAt:               w.CreatedAt,
		UpdatedAt:               w.UpdatedAt,
	}, nil
}

func (r *workflowRow) toWorkflow() (*workflow.Workflow, error) {
	w := &workflow.Workflow{
		ID:                      r.ID,
		Kind:                    workflow.Kind(r.Kind),
		Status:                  workflow.Status(r.Status),
		TenantID:                r.TenantID,
		InitiatorID:             r.InitiatorID,
		InitiatorKind:           workflow.InitiatorKind(r.InitiatorKind),
		StartedAt:               nullToTime(r.StartedAt),
		CompletedAt:             nullToTime(r.CompletedAt),
		FailedAt:                nullToTime(r.FailedAt),
		CompensationStartedAt:   nullToTime(r.CompensationStartedAt),
		CompensationCompletedAt: nullToTime(r.CompensationCompletedAt),
		RetryCount:              r.RetryCount,
		MaxRetries:              r.MaxRetries,
		CompensationError:       r.CompensationError,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
	if err := unmarshalInto(r.Input, &w.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := unmarshalInto(r.Output, &w.Output); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	if err := unmarshalInto(r.Context, &w.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if len(r.Error) > 0 {
		w.Error = &workflow.ErrorInfo{}
		if err := json.Unmarshal(r.Error, w.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error info: %w", err)
		}
	}
	return w, nil
}

const insertWorkflowSQL = `
INSERT INTO workflows (
	id, kind, status, tenant_id, initiator_id, initiator_kind,
	input, output, context, started_at, completed_at, failed_at,
	compensation_started_at, compensation_completed_at, retry_count,
	max_retries, error, compensation_error, created_at, updated_at
) VALUES (
	:id, :kind, :status, :tenant_id, :initiator_id, :initiator_kind,
	:input, :output, :context, :started_at, :completed_at, :failed_at,
	:compensation_started_at, :compensation_completed_at, :retry_count,
	:max_retries, :error, :compensation_error, :created_at, :updated_at
)`

func (s *WorkflowStore) Create(ctx context.Context, w *workflow.Workflow) error {
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now
	row, err := toWorkflowRow(w)
	if err != nil {
		return err
	}
	q := queryerFrom(ctx, s.db)
	if _, err := sqlx.NamedExecContext(ctx, q, insertWorkflowSQL, row); err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (s *WorkflowStore) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	q := queryerFrom(ctx, s.db)
	var row workflowRow
	if err := q.GetContext(ctx, &row, `SELECT * FROM workflows WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, workflow.ErrNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return row.toWorkflow()
}

const updateWorkflowSQL = `
UPDATE workflows SET
	kind = :kind, status = :status, tenant_id = :tenant_id,
	initiator_id = :initiator_id, initiator_kind = :initiator_kind,
	input = :input, output = :output, context = :context,
	started_at = :started_at, completed_at = :completed_at, failed_at = :failed_at,
	compensation_started_at = :compensation_started_at,
	compensation_completed_at = :compensation_completed_at,
	retry_count = :retry_count, max_retries = :max_retries, error = :error,
	compensation_error = :compensation_error, updated_at = :updated_at
WHERE id = :id`

func (s *WorkflowStore) Update(ctx context.Context, w *workflow.Workflow) error {
	w.UpdatedAt = time.Now().UTC()
	row, err := toWorkflowRow(w)
	if err != nil {
		return err
	}
	q := queryerFrom(ctx, s.db)
	res, err := sqlx.NamedExecContext(ctx, q, updateWorkflowSQL, row)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workflow rows affected: %w", err)
	}
	if n == 0 {
		return workflow.ErrNotFound
	}
	return nil
}

func (s *WorkflowStore) List(ctx context.Context, filter workflow.ListFilter) ([]*workflow.Workflow, int64, error) {
	q := queryerFrom(ctx, s.db)

	countBuilder := postgres.NewSelectBuilder("workflows").Columns("COUNT(*)")
	applyWorkflowFilters(countBuilder, filter)
	countSQL, countArgs := countBuilder.Build()

	var total int64
	if err := q.QueryRowxContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count workflows: %w", err)
	}

	listBuilder := postgres.NewSelectBuilder("workflows").OrderBy("created_at", false)
	applyWorkflowFilters(listBuilder, filter)
	if filter.Limit > 0 {
		listBuilder.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		listBuilder.Offset(filter.Offset)
	}
	listSQL, listArgs := listBuilder.Build()

	var rows []workflowRow
	if err := q.SelectContext(ctx, &rows, listSQL, listArgs...); err != nil {
		return nil, 0, fmt.Errorf("list workflows: %w", err)
	}
	out := make([]*workflow.Workflow, 0, len(rows))
	for i := range rows {
		w, err := rows[i].toWorkflow()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, w)
	}
	return out, total, nil
}

func (s *WorkflowStore) ListActiveSince(ctx context.Context, tenantID string) ([]*workflow.Workflow, error) {
	q := queryerFrom(ctx, s.db)
	var rows []workflowRow
	query := `SELECT * FROM workflows WHERE tenant_id = $1 AND status IN ($2, $3, $4) ORDER BY created_at ASC`
	if err := q.SelectContext(ctx, &rows, query, tenantID,
		string(workflow.StatusPending), string(workflow.StatusRunning), string(workflow.StatusRollingBack)); err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	out := make([]*workflow.Workflow, 0, len(rows))
	for i := range rows {
		w, err := rows[i].toWorkflow()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// applyWorkflowFilters adds the ListFilter's conditions to b in place, so
// the same filter set produces matching placeholder args for both the
// count and the page query built from independent SelectBuilders.
func applyWorkflowFilters(b *postgres.SelectBuilder, filter workflow.ListFilter) {
	if filter.TenantID != "" {
		b.WhereEq("tenant_id", filter.TenantID)
	}
	if filter.Status != "" {
		b.WhereEq("status", string(filter.Status))
	}
	if filter.Kind != "" {
		b.WhereEq("kind", string(filter.Kind))
	}
}
