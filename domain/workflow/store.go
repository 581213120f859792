package workflow

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a workflow or step lookup finds nothing.
var ErrNotFound = errors.New("workflow: not found")

// ListFilter narrows WorkflowStore.List by tenant/status/kind, per
// spec.md §4.I's "list by filter" query surface.
type ListFilter struct {
	TenantID string
	Status   Status
	Kind     Kind
	Limit    int
	Offset   int
}

// WorkflowStore persists Workflow records. The required indexes from
// spec.md §4.D — (tenant, status) and (workflow, sequence_number) — are a
// Postgres-store concern; the interface itself only names the access
// patterns they serve.
type WorkflowStore interface {
	Create(ctx context.Context, w *Workflow) error
	Get(ctx context.Context, id string) (*Workflow, error)
	Update(ctx context.Context, w *Workflow) error
	List(ctx context.Context, filter ListFilter) ([]*Workflow, int64, error)
	// ListActiveSince returns workflows still being driven by the
	// orchestrator (pending, running or rolling_back), the same set
	// get_workflow_statistics counts as active_workflows.
	ListActiveSince(ctx context.Context, tenantID string) ([]*Workflow, error)
}

// WorkflowStepStore persists WorkflowStep records belonging to a Workflow.
type WorkflowStepStore interface {
	Create(ctx context.Context, s *Step) error
	Update(ctx context.Context, s *Step) error
	Get(ctx context.Context, workflowID string, sequence int) (*Step, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*Step, error)
}

// IsTerminal reports whether status has no outgoing transitions, i.e. the
// workflow will never move again without an explicit retry.
func (s Status) IsTerminal() bool {
	targets, ok := transitions[s]
	return !ok || len(targets) == 0
}
