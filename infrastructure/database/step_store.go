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
)

// StepStore is a Postgres-backed workflow.WorkflowStepStore.
type StepStore struct {
	db *sqlx.DB
}

// NewStepStore builds a StepStore over db.
func NewStepStore(db *sqlx.DB) *StepStore {
	return &StepStore{db: db}
}

var _ workflow.WorkflowStepStore = (*StepStore)(nil)

type stepRow struct {
	ID                  string       `db:"id"`
	WorkflowID          string       `db:"workflow_id"`
	SequenceNumber      int          `db:"sequence_number"`
	Name                string       `db:"name"`
	Kind                string       `db:"kind"`
	TargetSystem        string       `db:"target_system"`
	Status              string       `db:"status"`
	Input               []byte       `db:"input"`
	Output              []byte       `db:"output"`
	CompensationData    []byte       `db:"compensation_data"`
	CompensationHandler string       `db:"compensation_handler"`
	RetryCount          int          `db:"retry_count"`
	MaxRetries          int          `db:"max_retries"`
	Error               []byte       `db:"error"`
	StartedAt           sql.NullTime `db:"started_at"`
	CompletedAt         sql.NullTime `db:"completed_at"`
	FailedAt            sql.NullTime `db:"failed_at"`
	CreatedAt           time.Time    `db:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at"`
}

func toStepRow(st *workflow.Step) (*stepRow, error) {
	input, err := json.Marshal(orEmpty(st.Input))
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	output, err := json.Marshal(orEmpty(st.Output))
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	compData, err := json.Marshal(orEmpty(st.CompensationData))
	if err != nil {
		return nil, fmt.Errorf("marshal compensation data: %w", err)
	}
	var errInfo []byte
	if st.Error != nil {
		errInfo, err = json.Marshal(st.Error)
		if err != nil {
			return nil, fmt.Errorf("marshal error: %w", err)
		}
	}
	return &stepRow{
		ID:                  st.ID,
		WorkflowID:          st.WorkflowID,
		SequenceNumber:      st.SequenceNumber,
		Name:                st.Name,
		Kind:                string(st.Kind),
		TargetSystem:        st.TargetSystem,
		Status:              string(st.Status),
		Input:               input,
		Output:              output,
		CompensationData:    compData,
		CompensationHandler: st.CompensationHandler,
		RetryCount:          st.RetryCount,
		MaxRetries:          st.MaxRetries,
		Error:               errInfo,
		StartedAt:           timeToNull(st.StartedAt),
		CompletedAt:         timeToNull(st.CompletedAt),
		FailedAt:            timeToNull(st.FailedAt),
		CreatedAt:           st.CreatedAt,
		UpdatedAt:           st.UpdatedAt,
	}, nil
}

func (r *stepRow) toStep() (*workflow.Step, error) {
	st := &workflow.Step{
		ID:                  r.ID,
		WorkflowID:          r.WorkflowID,
		SequenceNumber:      r.SequenceNumber,
		Name:                r.Name,
		Kind:                workflow.StepKind(r.Kind),
		TargetSystem:        r.TargetSystem,
		Status:              workflow.StepStatus(r.Status),
		CompensationHandler: r.CompensationHandler,
		RetryCount:          r.RetryCount,
		MaxRetries:          r.MaxRetries,
		StartedAt:           nullToTime(r.StartedAt),
		CompletedAt:         nullToTime(r.CompletedAt),
		FailedAt:            nullToTime(r.FailedAt),
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if err := unmarshalInto(r.Input, &st.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := unmarshalInto(r.Output, &st.Output); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	if err := unmarshalInto(r.CompensationData, &st.CompensationData); err != nil {
		return nil, fmt.Errorf("unmarshal compensation data: %w", err)
	}
	if len(r.Error) > 0 {
		st.Error = &workflow.ErrorInfo{}
		if err := json.Unmarshal(r.Error, st.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error info: %w", err)
		}
	}
	return st, nil
}

const insertStepSQL = `
INSERT INTO workflow_steps (
	id, workflow_id, sequence_number, name, kind, target_system, status,
	input, output, compensation_data, compensation_handler, retry_count,
	max_retries, error, started_at, completed_at, failed_at, created_at, updated_at
) VALUES (
	:id, :workflow_id, :sequence_number, :name, :kind, :target_system, :status,
	:input, :output, :compensation_data, :compensation_handler, :retry_count,
	:max_retries, :error, :started_at, :completed_at, :failed_at, :created_at, :updated_at
)`

func (s *StepStore) Create(ctx context.Context, st *workflow.Step) error {
	now := time.Now().UTC()
	st.CreatedAt, st.UpdatedAt = now, now
	row, err := toStepRow(st)
	if err != nil {
		return err
	}
	q := queryerFrom(ctx, s.db)
	if _, err := sqlx.NamedExecContext(ctx, q, insertStepSQL, row); err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

const updateStepSQL = `
UPDATE workflow_steps SET
	name = :name, kind = :kind, target_system = :target_system, status = :status,
	input = :input, output = :output, compensation_data = :compensation_data,
	compensation_handler = :compensation_handler, retry_count = :retry_count,
	max_retries = :max_retries, error = :error, started_at = :started_at,
	completed_at = :completed_at, failed_at = :failed_at, updated_at = :updated_at
WHERE id = :id`

func (s *StepStore) Update(ctx context.Context, st *workflow.Step) error {
	st.UpdatedAt = time.Now().UTC()
	row, err := toStepRow(st)
	if err != nil {
		return err
	}
	q := queryerFrom(ctx, s.db)
	res, err := sqlx.NamedExecContext(ctx, q, updateStepSQL, row)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update step rows affected: %w", err)
	}
	if n == 0 {
		return workflow.ErrNotFound
	}
	return nil
}

func (s *StepStore) Get(ctx context.Context, workflowID string, sequence int) (*workflow.Step, error) {
	q := queryerFrom(ctx, s.db)
	var row stepRow
	query := `SELECT * FROM workflow_steps WHERE workflow_id = $1 AND sequence_number = $2`
	if err := q.GetContext(ctx, &row, query, workflowID, sequence); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, workflow.ErrNotFound
		}
		return nil, fmt.Errorf("get step: %w", err)
	}
	return row.toStep()
}

func (s *StepStore) ListByWorkflow(ctx context.Context, workflowID string) ([]*workflow.Step, error) {
	q := queryerFrom(ctx, s.db)
	var rows []stepRow
	query := `SELECT * FROM workflow_steps WHERE workflow_id = $1 ORDER BY sequence_number ASC`
	if err := q.SelectContext(ctx, &rows, query, workflowID); err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	out := make([]*workflow.Step, 0, len(rows))
	for i := range rows {
		st, err := rows[i].toStep()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
