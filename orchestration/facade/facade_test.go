package facade_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotmac/ispsaga/domain/workflow"
	"github.com/dotmac/ispsaga/infrastructure/logging"
	"github.com/dotmac/ispsaga/infrastructure/resilience"
	"github.com/dotmac/ispsaga/orchestration/facade"
	"github.com/dotmac/ispsaga/orchestration/handlers"
	"github.com/dotmac/ispsaga/orchestration/saga"
)

func seedWorkflow(t *testing.T, workflows workflow.WorkflowStore, status workflow.Status, kind workflow.Kind, started, completed *time.Time, failedAt *time.Time) *workflow.Workflow {
	t.Helper()
	w := &workflow.Workflow{
		ID:          uuid.NewString(),
		Kind:        kind,
		Status:      status,
		TenantID:    "tenant-a",
		StartedAt:   started,
		CompletedAt: completed,
		FailedAt:    failedAt,
	}
	require.NoError(t, workflows.Create(context.Background(), w))
	return w
}

func TestGetWorkflowStatistics_AggregatesAcrossStatusesAndKinds(t *testing.T) {
	workflows := workflow.NewMemoryWorkflowStore()
	steps := workflow.NewMemoryWorkflowStepStore()
	log := logging.New("facade-test", "error", "text")
	reg := handlers.NewRegistry()
	sagaOrch := saga.New(reg, workflows, steps, log, resilience.DefaultRetryConfig())
	f := facade.New(sagaOrch, workflows, steps)

	now := time.Now().UTC()
	t1 := now.Add(-2 * time.Hour)
	t2 := now.Add(-90 * time.Minute)
	seedWorkflow(t, workflows, workflow.StatusCompleted, workflow.KindProvisionSubscriber, &t1, &t2, nil)

	t3 := now.Add(-1 * time.Hour)
	failedAt := now.Add(-30 * time.Minute)
	seedWorkflow(t, workflows, workflow.StatusFailed, workflow.KindActivateService, &t3, nil, &failedAt)

	staleFailedAt := now.Add(-48 * time.Hour)
	seedWorkflow(t, workflows, workflow.StatusFailed, workflow.KindSuspendService, &t3, nil, &staleFailedAt)

	seedWorkflow(t, workflows, workflow.StatusRunning, workflow.KindDeprovisionSubscriber, &t3, nil, nil)

	stats, err := f.GetWorkflowStatistics(context.Background(), "tenant-a")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalByStatus[workflow.StatusCompleted])
	assert.Equal(t, 2, stats.TotalByStatus[workflow.StatusFailed])
	assert.Equal(t, 1, stats.TotalByStatus[workflow.StatusRunning])
	assert.Equal(t, 1, stats.TotalByKind[workflow.KindProvisionSubscriber])
	assert.Equal(t, 1, stats.ActiveWorkflows)
	assert.Equal(t, 1, stats.RecentFailures24h)
	assert.InDelta(t, 33.33, stats.SuccessRate, 0.5)
	assert.Greater(t, stats.AverageDurationSecs, 0.0)
}

func TestListWorkflows_FiltersByStatus(t *testing.T) {
	workflows := workflow.NewMemoryWorkflowStore()
	steps := workflow.NewMemoryWorkflowStepStore()
	log := logging.New("facade-test", "error", "text")
	reg := handlers.NewRegistry()
	sagaOrch := saga.New(reg, workflows, steps, log, resilience.DefaultRetryConfig())
	f := facade.New(sagaOrch, workflows, steps)

	seedWorkflow(t, workflows, workflow.StatusCompleted, workflow.KindProvisionSubscriber, nil, nil, nil)
	seedWorkflow(t, workflows, workflow.StatusFailed, workflow.KindProvisionSubscriber, nil, nil, nil)

	results, total, err := f.ListWorkflows(context.Background(), workflow.ListFilter{TenantID: "tenant-a", Status: workflow.StatusFailed})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, workflow.StatusFailed, results[0].Status)
}

func TestGetWorkflowOutputField_ProjectsNestedOutputData(t *testing.T) {
	workflows := workflow.NewMemoryWorkflowStore()
	steps := workflow.NewMemoryWorkflowStepStore()
	log := logging.New("facade-test", "error", "text")
	reg := handlers.NewRegistry()
	sagaOrch := saga.New(reg, workflows, steps, log, resilience.DefaultRetryConfig())
	f := facade.New(sagaOrch, workflows, steps)

	w := seedWorkflow(t, workflows, workflow.StatusCompleted, workflow.KindProvisionSubscriber, nil, nil, nil)
	w.Output = map[string]any{"output_data": map[string]any{"ipv4_address": "203.0.113.9"}}
	require.NoError(t, workflows.Update(context.Background(), w))

	value, ok, err := f.GetWorkflowOutputField(context.Background(), w.ID, "output_data.ipv4_address")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "203.0.113.9", value)

	_, ok, err = f.GetWorkflowOutputField(context.Background(), "missing-id", "output_data.ipv4_address")
	assert.Error(t, err)
	assert.False(t, ok)
}
