package saga_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotmac/ispsaga/domain/workflow"
	"github.com/dotmac/ispsaga/infrastructure/logging"
	"github.com/dotmac/ispsaga/infrastructure/resilience"
	"github.com/dotmac/ispsaga/orchestration/handlers"
	"github.com/dotmac/ispsaga/orchestration/saga"
)

func testRetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 1, Jitter: 0}
}

func newHarness(t *testing.T) (*saga.Orchestrator, workflow.WorkflowStore, workflow.WorkflowStepStore, *handlers.Registry) {
	t.Helper()
	reg := handlers.NewRegistry()
	workflows := workflow.NewMemoryWorkflowStore()
	steps := workflow.NewMemoryWorkflowStepStore()
	log := logging.New("saga-test", "error", "text")
	orch := saga.New(reg, workflows, steps, log, testRetryConfig())
	return orch, workflows, steps, reg
}

func newWorkflow(tenantID string) *workflow.Workflow {
	return &workflow.Workflow{
		ID:         uuid.NewString(),
		Kind:       workflow.KindProvisionSubscriber,
		Status:     workflow.StatusPending,
		TenantID:   tenantID,
		MaxRetries: 3,
	}
}

func eightStepDefinition() saga.Definition {
	steps := make([]saga.StepDescriptor, 0, 8)
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("step_%d", i)
		steps = append(steps, saga.StepDescriptor{
			Name:                name,
			Kind:                workflow.StepKindAPI,
			TargetSystem:        "fake",
			ForwardHandler:      name + "_forward",
			CompensationHandler: name + "_compensate",
			MaxRetries:          1,
		})
	}
	return saga.Definition{Name: "eight_step", Steps: steps}
}

func registerHappyHandlers(reg *handlers.Registry, compensated *[]string) {
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("step_%d", i)
		idx := i
		reg.Register(name+"_forward", func(ctx context.Context, input, wfContext map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
			return saga.StepResult{OutputData: map[string]any{"seq": idx}, ContextUpdates: map[string]any{name: true}}, nil
		})
		reg.RegisterCompensation(name+"_compensate", func(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
			*compensated = append(*compensated, name)
			return nil
		})
	}
}

func TestExecuteWorkflow_HappyPath(t *testing.T) {
	orch, _, steps, reg := newHarness(t)
	var compensated []string
	registerHappyHandlers(reg, &compensated)

	w := newWorkflow("tenant-a")
	def := eightStepDefinition()

	result, err := orch.ExecuteWorkflow(context.Background(), w, def, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Empty(t, compensated)

	all, err := steps.ListByWorkflow(context.Background(), w.ID)
	require.NoError(t, err)
	require.Len(t, all, 8)
	for _, st := range all {
		assert.Equal(t, workflow.StepStatusCompleted, st.Status)
	}
}

func TestExecuteWorkflow_PermanentFailureCompensatesInReverseOrder(t *testing.T) {
	reg := handlers.NewRegistry()
	workflows := workflow.NewMemoryWorkflowStore()
	steps := workflow.NewMemoryWorkflowStepStore()
	log := logging.New("saga-test", "error", "text")
	orch := saga.New(reg, workflows, steps, log, testRetryConfig())

	var compensated []string
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("step_%d", i)
		idx := i
		reg.Register(name+"_forward", func(ctx context.Context, input, wfContext map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
			if idx == 6 {
				return saga.StepResult{}, fmt.Errorf("step 6 permanently unavailable")
			}
			return saga.StepResult{OutputData: map[string]any{"seq": idx}}, nil
		})
		reg.RegisterCompensation(name+"_compensate", func(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
			compensated = append(compensated, name)
			return nil
		})
	}

	w := newWorkflow("tenant-a")
	def := eightStepDefinition()
	result, err := orch.ExecuteWorkflow(context.Background(), w, def, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRolledBack, result.Status)

	// Steps 0-5 completed before the failure at step 6; compensation runs
	// in descending sequence order.
	require.Len(t, compensated, 6)
	for i, name := range compensated {
		assert.Equal(t, fmt.Sprintf("step_%d", 5-i), name)
	}
}

// TestRetryFailedWorkflow_RolledBackRestartsFromScratch exercises the
// retry_failed_workflow path reached via ExecuteWorkflow's own
// compensation pass: once compensation has run (rolled_back), every step
// is reset to pending and the retried run starts over from step 0.
func TestRetryFailedWorkflow_RolledBackRestartsFromScratch(t *testing.T) {
	reg := handlers.NewRegistry()
	workflows := workflow.NewMemoryWorkflowStore()
	steps := workflow.NewMemoryWorkflowStepStore()
	log := logging.New("saga-test", "error", "text")
	orch := saga.New(reg, workflows, steps, log, testRetryConfig())

	var runCount []string
	permanentlyFailing := true
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("step_%d", i)
		idx := i
		reg.Register(name+"_forward", func(ctx context.Context, input, wfContext map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
			runCount = append(runCount, name)
			if idx == 3 && permanentlyFailing {
				return saga.StepResult{}, fmt.Errorf("step 3 permanently unavailable")
			}
			return saga.StepResult{OutputData: map[string]any{"seq": idx}}, nil
		})
		reg.RegisterCompensation(name+"_compensate", func(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
			return nil
		})
	}

	w := newWorkflow("tenant-a")
	def := eightStepDefinition()
	result, err := orch.ExecuteWorkflow(context.Background(), w, def, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusRolledBack, result.Status)
	require.Contains(t, runCount, "step_0")

	permanentlyFailing = false
	result, err = orch.RetryFailedWorkflow(context.Background(), result)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, result.Status)
	assert.Equal(t, 1, result.RetryCount)

	runCount = nil
	result, err = orch.ExecuteWorkflow(context.Background(), result, def, result.Context)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	// Every step re-ran from scratch since compensation already undid them.
	assert.Equal(t, "step_0", runCount[0])
	assert.Len(t, runCount, 8)
}

// TestRetryFailedWorkflow_FailedResumesFromMiddle covers the crash-recovery
// case: a workflow left in status=failed (compensation never ran, e.g. the
// process restarted between the step failure and the compensation pass)
// resumes from the first non-completed step rather than restarting.
func TestRetryFailedWorkflow_FailedResumesFromMiddle(t *testing.T) {
	reg := handlers.NewRegistry()
	workflows := workflow.NewMemoryWorkflowStore()
	steps := workflow.NewMemoryWorkflowStepStore()
	log := logging.New("saga-test", "error", "text")
	orch := saga.New(reg, workflows, steps, log, testRetryConfig())

	var ran []string
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("step_%d", i)
		reg.Register(name+"_forward", func(ctx context.Context, input, wfContext map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
			ran = append(ran, name)
			return saga.StepResult{OutputData: map[string]any{"ok": true}}, nil
		})
	}

	w := newWorkflow("tenant-a")
	w.Status = workflow.StatusFailed
	w.MaxRetries = 3
	w.RetryCount = 0
	require.NoError(t, workflows.Create(context.Background(), w))
	for i := 0; i < 2; i++ {
		require.NoError(t, steps.Create(context.Background(), &workflow.Step{
			ID: uuid.NewString(), WorkflowID: w.ID, SequenceNumber: i, Name: fmt.Sprintf("step_%d", i),
			Status: workflow.StepStatusCompleted,
		}))
	}
	require.NoError(t, steps.Create(context.Background(), &workflow.Step{
		ID: uuid.NewString(), WorkflowID: w.ID, SequenceNumber: 2, Name: "step_2",
		Status: workflow.StepStatusFailed,
	}))

	result, err := orch.RetryFailedWorkflow(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, result.Status)

	def := saga.Definition{Name: "four_step", Steps: []saga.StepDescriptor{
		{Name: "step_0", ForwardHandler: "step_0_forward"},
		{Name: "step_1", ForwardHandler: "step_1_forward"},
		{Name: "step_2", ForwardHandler: "step_2_forward"},
		{Name: "step_3", ForwardHandler: "step_3_forward"},
	}}
	result, err = orch.ExecuteWorkflow(context.Background(), result, def, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Equal(t, []string{"step_2", "step_3"}, ran)
}

func TestCancelWorkflow_CompensatesCompletedSteps(t *testing.T) {
	reg := handlers.NewRegistry()
	workflows := workflow.NewMemoryWorkflowStore()
	steps := workflow.NewMemoryWorkflowStepStore()
	log := logging.New("saga-test", "error", "text")
	orch := saga.New(reg, workflows, steps, log, testRetryConfig())

	var compensated []string
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("step_%d", i)
		reg.RegisterCompensation(name+"_compensate", func(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
			compensated = append(compensated, name)
			return nil
		})
	}

	w := newWorkflow("tenant-a")
	def := saga.Definition{Name: "three_step", Steps: []saga.StepDescriptor{
		{Name: "step_0", Kind: workflow.StepKindAPI, ForwardHandler: "step_0_forward", CompensationHandler: "step_0_compensate"},
		{Name: "step_1", Kind: workflow.StepKindAPI, ForwardHandler: "step_1_forward", CompensationHandler: "step_1_compensate"},
		{Name: "step_2", Kind: workflow.StepKindAPI, ForwardHandler: "step_2_forward", CompensationHandler: "step_2_compensate"},
	}}

	w.Status = workflow.StatusRunning
	require.NoError(t, workflows.Create(context.Background(), w))
	require.NoError(t, steps.Create(context.Background(), &workflow.Step{
		ID: uuid.NewString(), WorkflowID: w.ID, SequenceNumber: 0, Name: "step_0",
		Status: workflow.StepStatusCompleted, CompensationHandler: "step_0_compensate",
	}))

	result, err := orch.CancelWorkflow(context.Background(), w, def)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRolledBack, result.Status)
	assert.Equal(t, []string{"step_0"}, compensated)
}
