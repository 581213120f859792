package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dotmac/ispsaga/domain/workflow"
	orcerrors "github.com/dotmac/ispsaga/infrastructure/errors"
	"github.com/dotmac/ispsaga/infrastructure/logging"
	"github.com/dotmac/ispsaga/infrastructure/redaction"
	"github.com/dotmac/ispsaga/infrastructure/resilience"
)

// Orchestrator executes saga workflows: the forward pass of step 1-5, the
// compensation pass, retry, and cancellation. Built on resilience.Retry for
// per-step retry/backoff and a sync-guarded registry for handler lookup.
type Orchestrator struct {
	registry   Registry
	workflows  workflow.WorkflowStore
	steps      workflow.WorkflowStepStore
	log        *logging.Logger
	retryCfg   resilience.RetryConfig
	now        func() time.Time
}

// New builds a saga Orchestrator. retryCfg controls the backoff schedule
// between a step's retry attempts; only the attempt count is tracked on the
// step record, not the schedule that produced it.
func New(registry Registry, workflows workflow.WorkflowStore, steps workflow.WorkflowStepStore, log *logging.Logger, retryCfg resilience.RetryConfig) *Orchestrator {
	return &Orchestrator{
		registry:  registry,
		workflows: workflows,
		steps:     steps,
		log:       log,
		retryCfg:  retryCfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func ptr(t time.Time) *time.Time { return &t }

// ExecuteWorkflow runs definition's steps against workflow w in ascending
// sequence order, per spec.md §4.E. On any step's final failure it falls
// through to the compensation pass. It returns the workflow in its final
// persisted state.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, w *workflow.Workflow, def Definition, wfContext map[string]any) (*workflow.Workflow, error) {
	if wfContext == nil {
		wfContext = map[string]any{}
	}
	for k, v := range w.Context {
		if _, ok := wfContext[k]; !ok {
			wfContext[k] = v
		}
	}

	if w.Status == workflow.StatusPending {
		w.Status = workflow.StatusRunning
		w.StartedAt = ptr(o.now())
		if err := o.workflows.Update(ctx, w); err != nil {
			return nil, err
		}
	}

	startAt := o.resumeIndex(ctx, w)

	for i := startAt; i < len(def.Steps); i++ {
		desc := def.Steps[i]
		failed, err := o.executeStep(ctx, w, i, desc, wfContext)
		if err != nil {
			return nil, err
		}
		if failed {
			return o.compensate(ctx, w, def, wfContext)
		}
	}

	w.Status = workflow.StatusCompleted
	w.CompletedAt = ptr(o.now())
	if out, ok := wfContext["output_data"].(map[string]any); ok {
		w.Output = out
	}
	w.Context = wfContext
	if err := o.workflows.Update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// resumeIndex finds the first non-completed step's sequence number, for
// retry-from-middle semantics (spec.md Open Questions pin). A freshly
// created workflow with no persisted steps resumes from 0.
func (o *Orchestrator) resumeIndex(ctx context.Context, w *workflow.Workflow) int {
	steps, err := o.steps.ListByWorkflow(ctx, w.ID)
	if err != nil || len(steps) == 0 {
		return 0
	}
	resume := 0
	for _, st := range steps {
		if st.Status == workflow.StepStatusCompleted {
			resume = st.SequenceNumber + 1
			continue
		}
		break
	}
	return resume
}

// executeStep runs one step to completion or final failure, implementing
// spec.md §4.E steps 1-5. It returns failed=true when the step's final
// attempt did not succeed.
func (o *Orchestrator) executeStep(ctx context.Context, w *workflow.Workflow, seq int, desc StepDescriptor, wfContext map[string]any) (failed bool, err error) {
	st, getErr := o.steps.Get(ctx, w.ID, seq)
	if getErr != nil {
		maxRetries := desc.MaxRetries
		st = &workflow.Step{
			ID:                  uuid.NewString(),
			WorkflowID:          w.ID,
			SequenceNumber:      seq,
			Name:                desc.Name,
			Kind:                desc.Kind,
			TargetSystem:        desc.TargetSystem,
			Status:              workflow.StepStatusPending,
			CompensationHandler: desc.CompensationHandler,
			MaxRetries:          maxRetries,
		}
		if createErr := o.steps.Create(ctx, st); createErr != nil {
			return false, createErr
		}
	}

	st.Status = workflow.StepStatusRunning
	st.StartedAt = ptr(o.now())
	if err := o.steps.Update(ctx, st); err != nil {
		return false, err
	}

	handler, ok := o.registry.Resolve(desc.ForwardHandler)
	if !ok {
		o.failStep(ctx, st, "handler_not_found", orcerrors.HandlerNotFound(desc.ForwardHandler).Error())
		return true, nil
	}

	var result StepResult
	attempts := 0
	handle := PersistenceHandle{Context: ctx}
	retryErr := resilience.Retry(ctx, o.retryConfigFor(desc.MaxRetries), func() error {
		attempts++
		res, handlerErr := handler(ctx, st.Input, wfContext, handle)
		if handlerErr != nil {
			return handlerErr
		}
		result = res
		return nil
	})
	st.RetryCount = attempts - 1
	if st.RetryCount < 0 {
		st.RetryCount = 0
	}

	if retryErr != nil {
		kind := "permanent_collaborator_failure"
		wrapped := retryErr
		if !orcerrors.IsServiceError(retryErr) {
			wrapped = orcerrors.PermanentCollaboratorError(desc.TargetSystem, retryErr)
		} else if orcerrors.IsTransientCollaborator(retryErr) {
			// Retries were already exhausted by resilience.Retry; a
			// still-transient error at this point is a final failure.
			kind = "transient_collaborator_exhausted"
		}
		o.failStep(ctx, st, kind, wrapped.Error())
		return true, nil
	}

	st.Output = result.OutputData
	st.CompensationData = result.CompensationData
	st.Status = workflow.StepStatusCompleted
	st.CompletedAt = ptr(o.now())
	if err := o.steps.Update(ctx, st); err != nil {
		return false, err
	}

	for k, v := range result.ContextUpdates {
		wfContext[k] = v
	}
	if o.log != nil {
		o.log.WithField("workflow_id", w.ID).WithField("step_name", desc.Name).Info("step completed")
	}
	return false, nil
}

func (o *Orchestrator) retryConfigFor(maxRetries int) resilience.RetryConfig {
	cfg := o.retryCfg
	if maxRetries > 0 {
		cfg.MaxAttempts = maxRetries + 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return cfg
}

func (o *Orchestrator) failStep(ctx context.Context, st *workflow.Step, kind, message string) {
	// Collaborator errors (RADIUS, IPAM, CPE) sometimes echo back the
	// request that failed, which can carry shared secrets or bearer
	// tokens; strip those before the message is persisted or logged.
	message = redaction.RedactAll(message)
	st.Status = workflow.StepStatusFailed
	st.FailedAt = ptr(o.now())
	st.Error = &workflow.ErrorInfo{StepName: st.Name, Sequence: st.SequenceNumber, ErrorKind: kind, Message: message}
	_ = o.steps.Update(ctx, st)
	if o.log != nil {
		o.log.WithField("workflow_id", st.WorkflowID).WithField("step_name", st.Name).WithField("error", message).Warn("step failed")
	}
}

// compensate runs the compensation pass of spec.md §4.E: completed steps in
// descending sequence order, each invoking its compensator (or marked
// compensated as a no-op when it declared none).
func (o *Orchestrator) compensate(ctx context.Context, w *workflow.Workflow, def Definition, wfContext map[string]any) (*workflow.Workflow, error) {
	w.Status = workflow.StatusRollingBack
	w.CompensationStartedAt = ptr(o.now())
	w.Context = wfContext
	if err := o.workflows.Update(ctx, w); err != nil {
		return nil, err
	}

	steps, err := o.steps.ListByWorkflow(ctx, w.ID)
	if err != nil {
		return nil, err
	}

	anyFailed := false
	var diagnostics []string
	for i := len(steps) - 1; i >= 0; i-- {
		st := steps[i]
		if st.Status != workflow.StepStatusCompleted {
			continue
		}
		if err := o.compensateStep(ctx, st); err != nil {
			anyFailed = true
			diagnostics = append(diagnostics, fmt.Sprintf("%s: %v", st.Name, err))
		}
	}

	w.CompensationCompletedAt = ptr(o.now())
	if anyFailed {
		w.Status = workflow.StatusRollbackFailed
		w.CompensationError = joinDiagnostics(diagnostics)
		w.Error = firstError(steps)
	} else {
		w.Status = workflow.StatusRolledBack
		w.Error = firstError(steps)
	}
	w.Context = wfContext
	if err := o.workflows.Update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func firstError(steps []*workflow.Step) *workflow.ErrorInfo {
	for _, st := range steps {
		if st.Status == workflow.StepStatusFailed && st.Error != nil {
			return st.Error
		}
	}
	return nil
}

func joinDiagnostics(diags []string) string {
	out := ""
	for i, d := range diags {
		if i > 0 {
			out += "; "
		}
		out += d
	}
	return out
}

// compensateStep invokes st's compensator (if it declared one) with retry
// up to st.MaxRetries, per spec.md §4.E step 3.
func (o *Orchestrator) compensateStep(ctx context.Context, st *workflow.Step) error {
	st.Status = workflow.StepStatusCompensating
	if err := o.steps.Update(ctx, st); err != nil {
		return err
	}

	if st.CompensationHandler == "" {
		st.Status = workflow.StepStatusCompensated
		return o.steps.Update(ctx, st)
	}

	compensator, ok := o.registry.ResolveCompensation(st.CompensationHandler)
	if !ok {
		notFound := orcerrors.New(orcerrors.ErrCodeHandlerNotFound, "no compensation handler registered", 500).
			WithDetails("handler", st.CompensationHandler)
		st.Status = workflow.StepStatusCompensationFailed
		st.Error = &workflow.ErrorInfo{StepName: st.Name, Sequence: st.SequenceNumber, ErrorKind: "compensator_not_found", Message: notFound.Error()}
		_ = o.steps.Update(ctx, st)
		return notFound
	}

	handle := PersistenceHandle{Context: ctx}
	retryErr := resilience.Retry(ctx, o.retryConfigFor(st.MaxRetries), func() error {
		return compensator(ctx, st.Output, st.CompensationData, handle)
	})
	if retryErr != nil {
		wrapped := orcerrors.CompensatorFailure(st.Name, retryErr)
		st.Status = workflow.StepStatusCompensationFailed
		st.Error = &workflow.ErrorInfo{StepName: st.Name, Sequence: st.SequenceNumber, ErrorKind: "compensator_failure", Message: wrapped.Error()}
		_ = o.steps.Update(ctx, st)
		return wrapped
	}

	st.Status = workflow.StepStatusCompensated
	return o.steps.Update(ctx, st)
}

// RetryFailedWorkflow is legal only from failed or rolled_back while
// retry_count < max_retries (spec.md §4.E). It increments retry_count,
// resets error fields, and sets status=pending; the caller then
// re-invokes ExecuteWorkflow with the same stored definition. failed
// resumes from the first non-completed step; rolled_back restarts from
// the beginning since all compensators already ran.
func (o *Orchestrator) RetryFailedWorkflow(ctx context.Context, w *workflow.Workflow) (*workflow.Workflow, error) {
	if w.Status != workflow.StatusFailed && w.Status != workflow.StatusRolledBack {
		return nil, orcerrors.IllegalOperation("retry_failed_workflow", fmt.Sprintf("illegal from status %q", w.Status))
	}
	if w.RetryCount >= w.MaxRetries {
		return nil, orcerrors.IllegalOperation("retry_failed_workflow", fmt.Sprintf("retry_count %d already at max_retries %d", w.RetryCount, w.MaxRetries))
	}

	if w.Status == workflow.StatusRolledBack {
		steps, err := o.steps.ListByWorkflow(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		for _, st := range steps {
			st.Status = workflow.StepStatusPending
			st.Output = nil
			st.CompensationData = nil
			st.Error = nil
			st.StartedAt = nil
			st.CompletedAt = nil
			st.FailedAt = nil
			if err := o.steps.Update(ctx, st); err != nil {
				return nil, err
			}
		}
	}

	w.RetryCount++
	w.Error = nil
	w.CompensationError = ""
	w.CompletedAt = nil
	w.FailedAt = nil
	w.CompensationStartedAt = nil
	w.CompensationCompletedAt = nil
	w.Status = workflow.StatusPending
	if err := o.workflows.Update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// CancelWorkflow is legal from pending or running; it triggers the
// compensation pass immediately against whichever steps have completed so
// far (spec.md §4.E "Cancellation").
func (o *Orchestrator) CancelWorkflow(ctx context.Context, w *workflow.Workflow, def Definition) (*workflow.Workflow, error) {
	if w.Status != workflow.StatusPending && w.Status != workflow.StatusRunning {
		return nil, orcerrors.IllegalOperation("cancel_workflow", fmt.Sprintf("illegal from status %q", w.Status))
	}
	return o.compensate(ctx, w, def, w.Context)
}
