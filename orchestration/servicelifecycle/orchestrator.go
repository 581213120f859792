// Package servicelifecycle implements the Service Lifecycle Orchestrator
// (Component H): short transactional operations over domain/service's
// status state machine, grounded on services/lifecycle/service.py, per
// spec.md §4.H. Unlike the saga orchestrator these are single-aggregate
// mutations plus an audit event, not multi-step sagas.
package servicelifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dotmac/ispsaga/domain/lifecycle"
	"github.com/dotmac/ispsaga/domain/service"
	"github.com/dotmac/ispsaga/domain/workflow"
	"github.com/dotmac/ispsaga/infrastructure/logging"
	"github.com/dotmac/ispsaga/infrastructure/transaction"
	"github.com/dotmac/ispsaga/orchestration/definitions"
	"github.com/dotmac/ispsaga/orchestration/saga"
)

// Orchestrator implements spec.md §4.H over a domain/service.InstanceStore,
// composing the saga Orchestrator for the provisioning execution and the
// IPv6 lifecycle.Machine for the termination-time prefix release.
type Orchestrator struct {
	Instances service.InstanceStore
	Events    service.EventStore
	Workflows workflow.WorkflowStore

	Saga *saga.Orchestrator
	IPv6 lifecycle.Machine
	// IPv4 is optional; when set, RollbackProvisioningWorkflow releases the
	// IPv4 reservation alongside the IPv6 prefix. Provisioning itself
	// allocates both addresses through the handler registry (Component G),
	// not through this orchestrator.
	IPv4 lifecycle.Machine

	Log *logging.Logger
	// Audit is optional; when set, every appended LifecycleEvent is also
	// written to the zap-backed audit trail (infrastructure/logging.AuditLogger).
	Audit *logging.AuditLogger
	// Broadcaster is optional; when set, every appended LifecycleEvent is
	// also pushed to connected operator consoles (infrastructure/httpapi/events.Hub).
	Broadcaster EventBroadcaster
	now         func() time.Time
}

// EventBroadcaster pushes a named event with its JSON-encodable payload
// out to whatever transport is listening (a websocket hub, in production).
// Defined at point of use so this package doesn't import infrastructure/httpapi.
type EventBroadcaster interface {
	Broadcast(kind string, payload any)
}

// WithBroadcaster attaches an EventBroadcaster and returns the Orchestrator
// for chaining.
func (o *Orchestrator) WithBroadcaster(b EventBroadcaster) *Orchestrator {
	o.Broadcaster = b
	return o
}

// New builds a service lifecycle Orchestrator.
func New(instances service.InstanceStore, events service.EventStore, workflows workflow.WorkflowStore, sagaOrch *saga.Orchestrator, ipv6 lifecycle.Machine, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		Instances: instances,
		Events:    events,
		Workflows: workflows,
		Saga:      sagaOrch,
		IPv6:      ipv6,
		Log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithIPv4 attaches the IPv4 lifecycle machine for provisioning rollback's
// address release, returning the orchestrator for chaining.
func (o *Orchestrator) WithIPv4(ipv4 lifecycle.Machine) *Orchestrator {
	o.IPv4 = ipv4
	return o
}

// WithAudit attaches the zap-backed audit trail, returning the orchestrator
// for chaining.
func (o *Orchestrator) WithAudit(audit *logging.AuditLogger) *Orchestrator {
	o.Audit = audit
	return o
}

func (o *Orchestrator) emit(ctx context.Context, inst *service.Instance, kind service.EventKind, prev, next service.Status, description string, success bool, triggeredBy string, triggerKind service.TriggerKind, data map[string]any) {
	ev := &service.Event{
		ID:                 uuid.NewString(),
		ServiceInstanceID:  inst.ID,
		Kind:               kind,
		PreviousStatus:     prev,
		NewStatus:          next,
		Description:        description,
		Success:            success,
		TriggeredBy:        triggeredBy,
		TriggerKind:        triggerKind,
		EventData:          data,
		OccurredAt:         o.now(),
	}
	if err := o.Events.Append(ctx, ev); err != nil && o.Log != nil {
		o.Log.WithField("service_instance_id", inst.ID).WithField("error", err.Error()).Warn("failed to append lifecycle event")
	}
	if o.Audit != nil {
		o.Audit.LifecycleEvent(inst.ID, inst.TenantID, string(kind), string(prev), string(next), triggeredBy, success)
	}
	if o.Broadcaster != nil {
		o.Broadcaster.Broadcast("lifecycle_event", ev)
	}
}

// ProvisionService creates a ServiceInstance in pending, per spec.md §4.H.
// When autoActivate is set it also transitions to provisioning, runs the
// provision_subscriber saga, and activates on success.
func (o *Orchestrator) ProvisionService(ctx context.Context, inst *service.Instance, autoActivate bool, initiatorID string, initiatorKind workflow.InitiatorKind, wfInput map[string]any) (*service.Instance, *workflow.Workflow, error) {
	inst.Status = service.StatusPending
	if err := o.Instances.Create(ctx, inst); err != nil {
		return nil, nil, fmt.Errorf("provision service: create instance: %w", err)
	}
	o.emit(ctx, inst, service.EventProvisionRequested, "", service.StatusPending, "service provisioning requested", true, initiatorID, service.TriggerUser, nil)

	if !autoActivate {
		return inst, nil, nil
	}

	def, ok := definitions.ByKind[workflow.KindProvisionSubscriber]
	if !ok {
		return nil, nil, fmt.Errorf("provision service: no definition for %s", workflow.KindProvisionSubscriber)
	}

	w := &workflow.Workflow{
		ID:            uuid.NewString(),
		Kind:          workflow.KindProvisionSubscriber,
		Status:        workflow.StatusPending,
		TenantID:      inst.TenantID,
		InitiatorID:   initiatorID,
		InitiatorKind: initiatorKind,
		Input:         wfInput,
		MaxRetries:    3,
		CreatedAt:     o.now(),
		UpdatedAt:     o.now(),
	}
	if err := o.Workflows.Create(ctx, w); err != nil {
		return nil, nil, fmt.Errorf("provision service: create workflow: %w", err)
	}

	now := o.now()
	inst.Status = service.StatusProvisioning
	inst.ProvisioningStartedAt = &now
	if err := o.Instances.Update(ctx, inst); err != nil {
		return nil, nil, fmt.Errorf("provision service: start provisioning: %w", err)
	}
	o.emit(ctx, inst, service.EventProvisioningStarted, service.StatusPending, service.StatusProvisioning, "saga execution started", true, initiatorID, service.TriggerSystem, nil)

	w, err := o.Saga.ExecuteWorkflow(ctx, w, def, wfInput)
	if err != nil {
		return nil, w, fmt.Errorf("provision service: execute saga: %w", err)
	}

	if w.Status != workflow.StatusCompleted {
		inst.Status = service.StatusFailed
		if err := o.Instances.Update(ctx, inst); err != nil {
			return nil, w, fmt.Errorf("provision service: mark failed: %w", err)
		}
		errMsg := "provisioning saga did not complete"
		if w.Error != nil {
			errMsg = w.Error.Message
		}
		o.emit(ctx, inst, service.EventProvisioningFailed, service.StatusProvisioning, service.StatusFailed, errMsg, false, initiatorID, service.TriggerSystem, nil)
		return inst, w, nil
	}

	inst, err = o.ActivateService(ctx, inst.ID, initiatorID)
	return inst, w, err
}

// ActivateService is legal from provisioning or any suspended* status, per
// spec.md §4.H.
func (o *Orchestrator) ActivateService(ctx context.Context, serviceInstanceID, triggeredBy string) (*service.Instance, error) {
	inst, err := o.Instances.Get(ctx, serviceInstanceID)
	if err != nil {
		return nil, fmt.Errorf("activate service: %w", err)
	}
	if inst.Status != service.StatusProvisioning && !inst.Status.IsSuspended() {
		return nil, fmt.Errorf("activate service: illegal from status %q", inst.Status)
	}
	if !service.ValidateStatusTransition(inst.Status, service.StatusActive) {
		return nil, fmt.Errorf("activate service: illegal transition %s -> active", inst.Status)
	}
	prev := inst.Status
	now := o.now()
	inst.Status = service.StatusActive
	inst.ActivatedAt = &now
	inst.SuspendedAt = nil
	inst.SuspensionType = ""
	inst.SuspensionReason = ""
	inst.AutoResumeAt = nil
	if prev == service.StatusProvisioning {
		inst.ProvisionedAt = &now
	}
	if err := o.Instances.Update(ctx, inst); err != nil {
		return nil, fmt.Errorf("activate service: %w", err)
	}
	o.emit(ctx, inst, service.EventActivationCompleted, prev, service.StatusActive, "service activated", true, triggeredBy, service.TriggerSystem, nil)
	return inst, nil
}

// SuspendService is legal only from active, target status discriminated by
// suspensionType, per spec.md §4.H / §6 SuspendServiceRequest.
func (o *Orchestrator) SuspendService(ctx context.Context, serviceInstanceID string, suspensionType service.SuspensionType, reason string, autoResumeAt *time.Time, triggeredBy string) (*service.Instance, error) {
	if len(reason) < 5 {
		return nil, fmt.Errorf("suspend service: reason must be at least 5 characters")
	}
	inst, err := o.Instances.Get(ctx, serviceInstanceID)
	if err != nil {
		return nil, fmt.Errorf("suspend service: %w", err)
	}
	target := suspensionTargetStatus(suspensionType)
	if !service.ValidateStatusTransition(inst.Status, target) {
		return nil, fmt.Errorf("suspend service: illegal transition %s -> %s", inst.Status, target)
	}
	prev := inst.Status
	now := o.now()
	inst.Status = target
	inst.SuspendedAt = &now
	inst.SuspensionType = suspensionType
	inst.SuspensionReason = reason
	inst.AutoResumeAt = autoResumeAt
	if err := o.Instances.Update(ctx, inst); err != nil {
		return nil, fmt.Errorf("suspend service: %w", err)
	}
	o.emit(ctx, inst, service.EventSuspended, prev, target, reason, true, triggeredBy, service.TriggerUser, map[string]any{"suspension_type": string(suspensionType)})
	return inst, nil
}

func suspensionTargetStatus(t service.SuspensionType) service.Status {
	switch t {
	case service.SuspensionFraud:
		return service.StatusSuspendedFraud
	case service.SuspensionNonPayment:
		return service.StatusSuspendedNonPayment
	default:
		return service.StatusSuspended
	}
}

// ResumeService is legal from any suspended* status, per spec.md §4.H.
func (o *Orchestrator) ResumeService(ctx context.Context, serviceInstanceID, triggeredBy string) (*service.Instance, error) {
	inst, err := o.Instances.Get(ctx, serviceInstanceID)
	if err != nil {
		return nil, fmt.Errorf("resume service: %w", err)
	}
	if !inst.Status.IsSuspended() {
		return nil, fmt.Errorf("resume service: illegal from status %q", inst.Status)
	}
	prev := inst.Status
	inst.Status = service.StatusActive
	inst.SuspendedAt = nil
	inst.SuspensionType = ""
	inst.SuspensionReason = ""
	inst.AutoResumeAt = nil
	if err := o.Instances.Update(ctx, inst); err != nil {
		return nil, fmt.Errorf("resume service: %w", err)
	}
	o.emit(ctx, inst, service.EventResumed, prev, service.StatusActive, "service resumed", true, triggeredBy, service.TriggerUser, nil)
	return inst, nil
}

// TerminateService is legal from any non-terminated status, per spec.md
// §4.H. When terminationDate is zero or not in the future, it terminates
// immediately and, when the instance has a SubscriberID, revokes its IPv6
// prefix with commit=false on ctx (services/lifecycle/service.py::
// terminate_service). It opens no transaction itself: the revoke and the
// status write share one only when ctx already carries a transaction.
// Revocation failure is logged but never aborts termination.
func (o *Orchestrator) TerminateService(ctx context.Context, serviceInstanceID, reason string, terminationDate *time.Time, triggeredBy string) (*service.Instance, error) {
	if len(reason) < 5 {
		return nil, fmt.Errorf("terminate service: reason must be at least 5 characters")
	}
	inst, err := o.Instances.Get(ctx, serviceInstanceID)
	if err != nil {
		return nil, fmt.Errorf("terminate service: %w", err)
	}
	if inst.Status == service.StatusTerminated {
		return inst, nil
	}

	if terminationDate != nil && terminationDate.After(o.now()) {
		if !service.ValidateStatusTransition(inst.Status, service.StatusTerminating) {
			return nil, fmt.Errorf("terminate service: illegal transition %s -> terminating", inst.Status)
		}
		prev := inst.Status
		inst.Status = service.StatusTerminating
		if inst.Metadata == nil {
			inst.Metadata = map[string]any{}
		}
		inst.Metadata["scheduled_termination_date"] = terminationDate.Format(time.RFC3339)
		if err := o.Instances.Update(ctx, inst); err != nil {
			return nil, fmt.Errorf("terminate service: schedule: %w", err)
		}
		o.emit(ctx, inst, service.EventTerminationScheduled, prev, service.StatusTerminating, reason, true, triggeredBy, service.TriggerUser, map[string]any{"scheduled_termination_date": terminationDate.Format(time.RFC3339)})
		return inst, nil
	}

	return o.finalizeTermination(ctx, inst, reason, triggeredBy)
}

func (o *Orchestrator) finalizeTermination(ctx context.Context, inst *service.Instance, reason, triggeredBy string) (*service.Instance, error) {
	if !service.ValidateStatusTransition(inst.Status, service.StatusTerminated) {
		return nil, fmt.Errorf("terminate service: illegal transition %s -> terminated", inst.Status)
	}
	prev := inst.Status
	now := o.now()
	inst.Status = service.StatusTerminated
	inst.TerminatedAt = &now

	var ipv6Warning string
	var revokedPrefix any
	revoked := false
	if inst.SubscriberID != "" && o.IPv6 != nil {
		res, err := o.IPv6.Revoke(ctx, false, lifecycle.RevokeInput{SubscriberID: inst.SubscriberID, TenantID: inst.TenantID, ReleaseToPool: true})
		if err != nil {
			ipv6Warning = err.Error()
			if o.Log != nil {
				o.Log.WithField("service_instance_id", inst.ID).WithField("subscriber_id", inst.SubscriberID).WithField("error", err.Error()).Warn("ipv6 revoke on termination failed, continuing")
			}
		} else {
			revoked = true
			if res.CoAWarning != "" {
				ipv6Warning = res.CoAWarning
			}
			if res.Metadata != nil {
				revokedPrefix = res.Metadata["revoked_prefix"]
			}
		}
	}

	if err := o.Instances.Update(ctx, inst); err != nil {
		return nil, fmt.Errorf("terminate service: %w", err)
	}
	data := map[string]any{}
	if ipv6Warning != "" {
		data["ipv6_revoke_warning"] = ipv6Warning
	}
	if revoked {
		data["ipv6_revoked"] = true
		data["ipv6_prefix_revoked"] = revokedPrefix
	}
	o.emit(ctx, inst, service.EventTerminated, prev, service.StatusTerminated, reason, true, triggeredBy, service.TriggerUser, data)
	return inst, nil
}

// ModifyService updates selected fields, emitting the diff in the
// LifecycleEvent's event_data, per spec.md §4.H.
func (o *Orchestrator) ModifyService(ctx context.Context, serviceInstanceID string, changes map[string]any, triggeredBy string) (*service.Instance, error) {
	inst, err := o.Instances.Get(ctx, serviceInstanceID)
	if err != nil {
		return nil, fmt.Errorf("modify service: %w", err)
	}
	diff := map[string]any{}
	if v, ok := changes["service_name"].(string); ok && v != inst.ServiceName {
		diff["service_name"] = map[string]any{"from": inst.ServiceName, "to": v}
		inst.ServiceName = v
	}
	if v, ok := changes["vlan"].(int); ok && v != inst.VLAN {
		diff["vlan"] = map[string]any{"from": inst.VLAN, "to": v}
		inst.VLAN = v
	}
	if v, ok := changes["metadata"].(map[string]any); ok {
		if inst.Metadata == nil {
			inst.Metadata = map[string]any{}
		}
		for k, nv := range v {
			diff["metadata."+k] = map[string]any{"from": inst.Metadata[k], "to": nv}
			inst.Metadata[k] = nv
		}
	}
	if err := o.Instances.Update(ctx, inst); err != nil {
		return nil, fmt.Errorf("modify service: %w", err)
	}
	o.emit(ctx, inst, service.EventModified, inst.Status, inst.Status, "service modified", true, triggeredBy, service.TriggerUser, diff)
	return inst, nil
}

// HealthChecker invokes an external monitor for a service instance.
type HealthChecker interface {
	Check(ctx context.Context, inst *service.Instance) (*service.HealthCheckResult, error)
}

// PerformHealthCheck invokes checker and records the result on the
// instance, per spec.md §4.H.
func (o *Orchestrator) PerformHealthCheck(ctx context.Context, serviceInstanceID string, checker HealthChecker) (*service.Instance, error) {
	inst, err := o.Instances.Get(ctx, serviceInstanceID)
	if err != nil {
		return nil, fmt.Errorf("perform health check: %w", err)
	}
	result, err := checker.Check(ctx, inst)
	if err != nil {
		result = &service.HealthCheckResult{Healthy: false, Message: err.Error(), CheckedAt: o.now()}
	}
	inst.LastHealthCheck = result
	if err := o.Instances.Update(ctx, inst); err != nil {
		return nil, fmt.Errorf("perform health check: %w", err)
	}
	o.emit(ctx, inst, service.EventHealthCheck, inst.Status, inst.Status, result.Message, result.Healthy, "system", service.TriggerSystem, map[string]any{"healthy": result.Healthy})
	return inst, nil
}

// ScheduleServiceActivation records a future activation datetime in
// metadata, per spec.md §4.H; GetServicesDueForActivation polls for
// instances whose scheduled time has passed.
func (o *Orchestrator) ScheduleServiceActivation(ctx context.Context, serviceInstanceID string, activateAt time.Time) (*service.Instance, error) {
	inst, err := o.Instances.Get(ctx, serviceInstanceID)
	if err != nil {
		return nil, fmt.Errorf("schedule service activation: %w", err)
	}
	if inst.Metadata == nil {
		inst.Metadata = map[string]any{}
	}
	inst.Metadata["scheduled_activation_at"] = activateAt.Format(time.RFC3339)
	if err := o.Instances.Update(ctx, inst); err != nil {
		return nil, fmt.Errorf("schedule service activation: %w", err)
	}
	return inst, nil
}

// GetServicesDueForActivation returns services whose scheduled activation
// time has passed, for the background scheduler.
func (o *Orchestrator) GetServicesDueForActivation(ctx context.Context) ([]*service.Instance, error) {
	return o.Instances.DueForActivation(ctx, o.now())
}

// GetServicesDueForTermination returns terminating services past their
// scheduled termination date, for the background scheduler.
func (o *Orchestrator) GetServicesDueForTermination(ctx context.Context) ([]*service.Instance, error) {
	return o.Instances.DueForTermination(ctx, o.now())
}

// RollbackProvisioningWorkflow is the special-case compensation of spec.md
// §4.H for a provisioning that ended in failed with no rollback yet,
// grounded on services/lifecycle/service.py::rollback_provisioning_workflow:
// release ip, clear equipment, set instance failed and workflow
// rolled_back.
func (o *Orchestrator) RollbackProvisioningWorkflow(ctx context.Context, serviceInstanceID, workflowID, triggeredBy string) (*service.Instance, error) {
	inst, err := o.Instances.Get(ctx, serviceInstanceID)
	if err != nil {
		return nil, fmt.Errorf("rollback provisioning workflow: %w", err)
	}
	if inst.Status != service.StatusFailed {
		return nil, fmt.Errorf("rollback provisioning workflow: illegal from status %q", inst.Status)
	}

	tx := transaction.NewTransaction()
	if inst.SubscriberID != "" && o.IPv4 != nil {
		tx.AddStep("release_ipv4", func(ctx context.Context) error {
			_, err := o.IPv4.Revoke(ctx, true, lifecycle.RevokeInput{SubscriberID: inst.SubscriberID, TenantID: inst.TenantID, ReleaseToPool: true})
			return err
		}, nil)
	}
	if inst.SubscriberID != "" && o.IPv6 != nil {
		tx.AddStep("release_ipv6", func(ctx context.Context) error {
			_, err := o.IPv6.Revoke(ctx, true, lifecycle.RevokeInput{SubscriberID: inst.SubscriberID, TenantID: inst.TenantID, ReleaseToPool: true})
			return err
		}, nil)
	}
	tx.AddStep("clear_equipment", func(ctx context.Context) error {
		inst.Equipment = nil
		inst.VLAN = 0
		return o.Instances.Update(ctx, inst)
	}, nil)
	if err := tx.ExecuteBestEffort(ctx); err != nil && o.Log != nil {
		o.Log.WithField("service_instance_id", inst.ID).WithField("error", err.Error()).Warn("rollback provisioning: one or more release steps failed")
	}

	w, err := o.Workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("rollback provisioning workflow: %w", err)
	}
	w.Status = workflow.StatusRolledBack
	if err := o.Workflows.Update(ctx, w); err != nil {
		return nil, fmt.Errorf("rollback provisioning workflow: %w", err)
	}

	o.emit(ctx, inst, service.EventRolledBack, service.StatusFailed, service.StatusFailed, "provisioning rolled back", true, triggeredBy, service.TriggerSystem, map[string]any{"workflow_id": workflowID})
	return inst, nil
}

// GetFailedWorkflowsForRollback supplements spec.md §4.I's query surface
// (not in the original distillation) with an operator-facing query for
// workflows stuck in failed with retries exhausted, candidates for
// RollbackProvisioningWorkflow.
func (o *Orchestrator) GetFailedWorkflowsForRollback(ctx context.Context, tenantID string) ([]*workflow.Workflow, error) {
	all, _, err := o.Workflows.List(ctx, workflow.ListFilter{TenantID: tenantID, Status: workflow.StatusFailed})
	if err != nil {
		return nil, fmt.Errorf("get failed workflows for rollback: %w", err)
	}
	out := make([]*workflow.Workflow, 0, len(all))
	for _, w := range all {
		if w.RetryCount >= w.MaxRetries {
			out = append(out, w)
		}
	}
	return out, nil
}
