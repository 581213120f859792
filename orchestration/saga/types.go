// Package saga implements the Saga Orchestrator (Component E): sequenced
// step execution, per-step retries, durable state transitions, and
// reverse-order compensation on failure, per spec.md §4.E.
package saga

import (
	"context"

	"github.com/dotmac/ispsaga/domain/workflow"
)

// PersistenceHandle is passed to every handler invocation so a handler can
// read/write auxiliary records (e.g. subscriber profiles, service
// instances) within the same logical unit of work as the step's own
// bookkeeping. It carries no behavior of its own; it exists so Component G
// handlers do not need a saga-package import to reach the orchestrator's
// ambient context.
type PersistenceHandle struct {
	Context context.Context
}

// StepResult is what a forward handler returns on success: the output data
// to store on the step, the compensation data its compensator will need,
// and any updates to merge into the shared workflow context.
type StepResult struct {
	OutputData       map[string]any
	CompensationData map[string]any
	ContextUpdates   map[string]any
}

// ForwardHandler performs one workflow step's forward effect. Handlers
// MUST be idempotent where feasible and MUST place into CompensationData
// everything their compensator will need, since compensators do not
// re-query the source of truth (spec.md §4.G).
type ForwardHandler func(ctx context.Context, input map[string]any, wfContext map[string]any, handle PersistenceHandle) (StepResult, error)

// CompensationHandler reverses a completed step's forward effect.
type CompensationHandler func(ctx context.Context, outputData map[string]any, compensationData map[string]any, handle PersistenceHandle) error

// Registry resolves forward and compensation handlers by name. Component
// G's concrete implementation lives in orchestration/handlers; this
// interface is all the orchestrator depends on, per the Design Notes'
// "dynamic handler registry" pattern.
type Registry interface {
	Resolve(name string) (ForwardHandler, bool)
	ResolveCompensation(name string) (CompensationHandler, bool)
}

// Definition is a named, ordered list of step descriptors. The concrete
// workflows in orchestration/definitions are declared as values of this
// type.
type Definition struct {
	Name  string
	Steps []StepDescriptor
}

// StepDescriptor is the declarative description of one workflow step, per
// spec.md §4.F.
type StepDescriptor struct {
	Name                string
	Kind                workflow.StepKind
	TargetSystem        string
	ForwardHandler      string
	CompensationHandler string
	MaxRetries          int
}
