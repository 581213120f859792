// Package facade implements the Orchestration Service Facade (Component
// I): a thin wrapper over the saga orchestrator and the workflow/step
// stores exposing create/get/list/retry/cancel plus the statistics
// aggregation query, per spec.md §4.I.
package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dotmac/ispsaga/domain/workflow"
	orcerrors "github.com/dotmac/ispsaga/infrastructure/errors"
	"github.com/dotmac/ispsaga/orchestration/definitions"
	"github.com/dotmac/ispsaga/orchestration/saga"
)

// Facade wraps the saga orchestrator and workflow store with the
// request/response shapes spec.md §6 names.
type Facade struct {
	Saga      *saga.Orchestrator
	Workflows workflow.WorkflowStore
	Steps     workflow.WorkflowStepStore
}

// New builds a Facade.
func New(sagaOrch *saga.Orchestrator, workflows workflow.WorkflowStore, steps workflow.WorkflowStepStore) *Facade {
	return &Facade{Saga: sagaOrch, Workflows: workflows, Steps: steps}
}

// CreateWorkflow creates the workflow record and synchronously drives it
// through the saga orchestrator, per spec.md §4.I.
func (f *Facade) CreateWorkflow(ctx context.Context, kind workflow.Kind, tenantID, initiatorID string, initiatorKind workflow.InitiatorKind, input map[string]any) (*workflow.Workflow, error) {
	if tenantID == "" {
		return nil, orcerrors.MissingParameter("tenant_id")
	}
	def, ok := definitions.ByKind[kind]
	if !ok {
		return nil, orcerrors.InvalidInput("kind", fmt.Sprintf("no definition registered for kind %q", kind))
	}

	w := &workflow.Workflow{
		ID:            uuid.NewString(),
		Kind:          kind,
		Status:        workflow.StatusPending,
		TenantID:      tenantID,
		InitiatorID:   initiatorID,
		InitiatorKind: initiatorKind,
		Input:         input,
		MaxRetries:    3,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := f.Workflows.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	return f.Saga.ExecuteWorkflow(ctx, w, def, input)
}

// GetWorkflow returns one workflow by id.
func (f *Facade) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	return f.Workflows.Get(ctx, id)
}

// GetWorkflowOutputField projects a single dotted-path field out of a
// workflow's Output map (see Workflow.ProjectOutput), without the caller
// unmarshalling the whole blob. Returns a not-found error if the workflow
// doesn't exist, and ("", false, nil) if the field doesn't.
func (f *Facade) GetWorkflowOutputField(ctx context.Context, id, path string) (string, bool, error) {
	w, err := f.Workflows.Get(ctx, id)
	if err != nil {
		return "", false, orcerrors.NotFound("workflow", id)
	}
	field := w.ProjectOutput(path)
	return field.String(), field.Exists(), nil
}

// ListWorkflows returns a paginated, filterable workflow listing plus the
// total matching count, per spec.md §4.I.
func (f *Facade) ListWorkflows(ctx context.Context, filter workflow.ListFilter) ([]*workflow.Workflow, int64, error) {
	return f.Workflows.List(ctx, filter)
}

// RetryWorkflow retries a failed or rolled_back workflow and re-drives it
// through the saga orchestrator to completion (or the next failure).
func (f *Facade) RetryWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	w, err := f.Workflows.Get(ctx, id)
	if err != nil {
		return nil, orcerrors.NotFound("workflow", id)
	}
	def, ok := definitions.ByKind[w.Kind]
	if !ok {
		return nil, orcerrors.InvariantViolation("definition missing for persisted workflow kind", fmt.Errorf("kind %q", w.Kind))
	}
	w, err = f.Saga.RetryFailedWorkflow(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("retry workflow: %w", err)
	}
	return f.Saga.ExecuteWorkflow(ctx, w, def, w.Context)
}

// CancelWorkflow cancels a pending or running workflow, triggering
// compensation of whatever has completed so far.
func (f *Facade) CancelWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	w, err := f.Workflows.Get(ctx, id)
	if err != nil {
		return nil, orcerrors.NotFound("workflow", id)
	}
	def, ok := definitions.ByKind[w.Kind]
	if !ok {
		return nil, orcerrors.InvariantViolation("definition missing for persisted workflow kind", fmt.Errorf("kind %q", w.Kind))
	}
	return f.Saga.CancelWorkflow(ctx, w, def)
}

// Statistics is the WorkflowStatsResponse of spec.md §6: totals by status
// and by kind, success rate, average completed-workflow duration, active
// count, failures in the last 24 hours, and total compensations.
type Statistics struct {
	TotalByStatus        map[workflow.Status]int
	TotalByKind          map[workflow.Kind]int
	SuccessRate          float64
	AverageDurationSecs  float64
	ActiveWorkflows      int
	RecentFailures24h    int
	TotalCompensations   int
}

// GetWorkflowStatistics aggregates over every workflow for tenantID, per
// spec.md §4.I / §6.
func (f *Facade) GetWorkflowStatistics(ctx context.Context, tenantID string) (*Statistics, error) {
	all, _, err := f.Workflows.List(ctx, workflow.ListFilter{TenantID: tenantID})
	if err != nil {
		return nil, fmt.Errorf("get workflow statistics: %w", err)
	}

	stats := &Statistics{
		TotalByStatus: map[workflow.Status]int{},
		TotalByKind:   map[workflow.Kind]int{},
	}

	var completed, concluded int
	var durationSum time.Duration
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	for _, w := range all {
		stats.TotalByStatus[w.Status]++
		stats.TotalByKind[w.Kind]++

		if w.Status == workflow.StatusCompensated || w.Status == workflow.StatusRolledBack || w.Status == workflow.StatusCompleted {
			stats.TotalCompensations += compensationCount(ctx, f.Steps, w.ID)
		}

		if isInFlightStatus(w.Status) {
			stats.ActiveWorkflows++
		} else {
			concluded++
			if w.Status == workflow.StatusCompleted {
				completed++
				if w.StartedAt != nil && w.CompletedAt != nil {
					durationSum += w.CompletedAt.Sub(*w.StartedAt)
				}
			}
		}

		if w.Status == workflow.StatusFailed && w.FailedAt != nil && w.FailedAt.After(cutoff) {
			stats.RecentFailures24h++
		}
		if w.Status == workflow.StatusRollbackFailed {
			stats.RecentFailures24h += boolToInt(w.CompensationCompletedAt != nil && w.CompensationCompletedAt.After(cutoff))
		}
	}

	if concluded > 0 {
		stats.SuccessRate = float64(completed) / float64(concluded) * 100
	}
	if completed > 0 {
		stats.AverageDurationSecs = durationSum.Seconds() / float64(completed)
	}
	return stats, nil
}

// isInFlightStatus reports whether a workflow is still being driven by the
// orchestrator, as opposed to having reached some concluded business
// outcome (success, failure, or abandoned compensation). Deliberately
// narrower than Status.IsTerminal(), which treats failed/rolled_back as
// non-terminal because retry_failed_workflow can still move them — that
// distinction matters for retry eligibility, not for this "still running"
// count.
func isInFlightStatus(s workflow.Status) bool {
	switch s {
	case workflow.StatusPending, workflow.StatusRunning, workflow.StatusRollingBack:
		return true
	default:
		return false
	}
}

func compensationCount(ctx context.Context, steps workflow.WorkflowStepStore, workflowID string) int {
	all, err := steps.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return 0
	}
	count := 0
	for _, st := range all {
		if st.Status == workflow.StepStatusCompensated || st.Status == workflow.StepStatusCompensationFailed {
			count++
		}
	}
	return count
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
