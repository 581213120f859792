package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/dotmac/ispsaga/domain/service"
	"github.com/dotmac/ispsaga/orchestration/saga"
)

// RegisterServiceOperationHandlers wires the forward/compensation handlers
// shared by orchestration/definitions.ActivateService and SuspendService.
func RegisterServiceOperationHandlers(reg *Registry, d *Deps) {
	reg.Register("verify_service", d.verifyService)

	reg.Register("activate_billing", d.activateBilling)
	reg.RegisterCompensation("deactivate_billing", d.deactivateBillingComp)
	reg.Register("enable_radius", d.enableRadius)
	reg.RegisterCompensation("disable_radius_comp", d.disableRadiusComp)
	reg.Register("activate_onu_step", d.activateONUStep)
	reg.RegisterCompensation("deactivate_onu_comp", d.deactivateONUComp2)
	reg.Register("enable_cpe", d.enableCPE)
	reg.RegisterCompensation("disable_cpe_comp", d.disableCPEComp)
	reg.Register("set_status_active", d.setStatusActive)

	reg.Register("suspend_billing_step", d.suspendBillingStep)
	reg.Register("disable_radius", d.disableRadius)
	reg.Register("disable_onu", d.disableONU)
	reg.Register("disable_cpe", d.disableCPE)
	reg.Register("set_status_suspended", d.setStatusSuspended)
}

func (d *Deps) loadService(ctx context.Context, wfCtx map[string]any) (*service.Instance, error) {
	id := strField(wfCtx, "service_instance_id")
	if id == "" {
		return nil, fmt.Errorf("service_instance_id missing from workflow context")
	}
	return d.Services.Get(ctx, id)
}

func (d *Deps) verifyService(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	inst, err := d.loadService(ctx, wfCtx)
	if err != nil {
		return saga.StepResult{}, fmt.Errorf("verify service: %w", err)
	}
	return saga.StepResult{
		OutputData:     map[string]any{"verified": true},
		ContextUpdates: map[string]any{"subscriber_id": inst.SubscriberID, "tenant_id": inst.TenantID},
	}, nil
}

func (d *Deps) activateBilling(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	if !d.Billing.Configured() {
		return saga.StepResult{OutputData: map[string]any{"billing_activated": true}}, nil
	}
	externalID := strField(wfCtx, "billing_external_id")
	if externalID == "" {
		return saga.StepResult{OutputData: map[string]any{"billing_activated": true}}, nil
	}
	err := d.call(ctx, func() error { return d.Billing.ResumeSubscription(ctx, externalID) })
	if err != nil {
		return saga.StepResult{}, fmt.Errorf("activate billing: %w", err)
	}
	return saga.StepResult{
		OutputData:       map[string]any{"billing_activated": true},
		CompensationData: map[string]any{"billing_external_id": externalID},
	}, nil
}

func (d *Deps) deactivateBillingComp(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
	if !d.Billing.Configured() {
		return nil
	}
	externalID := strField(compData, "billing_external_id")
	if externalID == "" {
		return nil
	}
	return d.call(ctx, func() error {
		return d.Billing.SuspendSubscription(ctx, externalID, "activation rolled back")
	})
}

func (d *Deps) enableRadius(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	return saga.StepResult{OutputData: map[string]any{"radius_enabled": true}}, nil
}

func (d *Deps) disableRadiusComp(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
	return nil
}

func (d *Deps) activateONUStep(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	onuID := strField(wfCtx, "onu_id")
	if d.AccessNode.Configured() && onuID != "" {
		err := d.call(ctx, func() error {
			_, callErr := d.AccessNode.Enable(ctx, onuID)
			return callErr
		})
		if err != nil {
			return saga.StepResult{}, fmt.Errorf("activate onu: %w", err)
		}
	}
	return saga.StepResult{OutputData: map[string]any{"onu_activated": true}, CompensationData: map[string]any{"onu_id": onuID}}, nil
}

func (d *Deps) deactivateONUComp2(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
	onuID := strField(compData, "onu_id")
	if !d.AccessNode.Configured() || onuID == "" {
		return nil
	}
	return d.call(ctx, func() error {
		_, err := d.AccessNode.Disable(ctx, onuID)
		return err
	})
}

func (d *Deps) enableCPE(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	cpeID := strField(wfCtx, "cpe_id")
	if d.CPE.Configured() && cpeID != "" {
		err := d.call(ctx, func() error { return d.CPE.Refresh(ctx, cpeID) })
		if err != nil {
			return saga.StepResult{}, fmt.Errorf("enable cpe: %w", err)
		}
	}
	return saga.StepResult{OutputData: map[string]any{"cpe_enabled": true}, CompensationData: map[string]any{"cpe_id": cpeID}}, nil
}

func (d *Deps) disableCPEComp(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
	cpeID := strField(compData, "cpe_id")
	if !d.CPE.Configured() || cpeID == "" {
		return nil
	}
	return d.call(ctx, func() error { return d.CPE.Refresh(ctx, cpeID) })
}

func (d *Deps) setStatusActive(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	inst, err := d.loadService(ctx, wfCtx)
	if err != nil {
		return saga.StepResult{}, err
	}
	if !service.ValidateStatusTransition(inst.Status, service.StatusActive) {
		return saga.StepResult{}, fmt.Errorf("set status active: illegal transition from %s", inst.Status)
	}
	now := time.Now().UTC()
	inst.Status = service.StatusActive
	inst.ActivatedAt = &now
	inst.SuspendedAt = nil
	if err := d.Services.Update(ctx, inst); err != nil {
		return saga.StepResult{}, fmt.Errorf("set status active: %w", err)
	}
	return saga.StepResult{OutputData: map[string]any{"status": string(service.StatusActive)}}, nil
}

func (d *Deps) suspendBillingStep(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	if d.Billing.Configured() {
		externalID := strField(wfCtx, "billing_external_id")
		if externalID != "" {
			reason := strField(wfCtx, "suspension_reason")
			err := d.call(ctx, func() error { return d.Billing.SuspendSubscription(ctx, externalID, reason) })
			if err != nil {
				return saga.StepResult{}, fmt.Errorf("suspend billing: %w", err)
			}
		}
	}
	return saga.StepResult{OutputData: map[string]any{"billing_suspended": true}}, nil
}

func (d *Deps) disableRadius(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	return saga.StepResult{OutputData: map[string]any{"radius_disabled": true}}, nil
}

func (d *Deps) disableONU(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	onuID := strField(wfCtx, "onu_id")
	if d.AccessNode.Configured() && onuID != "" {
		err := d.call(ctx, func() error {
			_, callErr := d.AccessNode.Disable(ctx, onuID)
			return callErr
		})
		if err != nil {
			return saga.StepResult{}, fmt.Errorf("disable onu: %w", err)
		}
	}
	return saga.StepResult{OutputData: map[string]any{"onu_disabled": true}}, nil
}

func (d *Deps) disableCPE(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	cpeID := strField(wfCtx, "cpe_id")
	if d.CPE.Configured() && cpeID != "" {
		err := d.call(ctx, func() error { return d.CPE.Refresh(ctx, cpeID) })
		if err != nil {
			return saga.StepResult{}, fmt.Errorf("disable cpe: %w", err)
		}
	}
	return saga.StepResult{OutputData: map[string]any{"cpe_disabled": true}}, nil
}

func (d *Deps) setStatusSuspended(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	inst, err := d.loadService(ctx, wfCtx)
	if err != nil {
		return saga.StepResult{}, err
	}
	target := service.Status(strField(wfCtx, "suspension_type_status"))
	if target == "" {
		target = service.StatusSuspended
	}
	if !service.ValidateStatusTransition(inst.Status, target) {
		return saga.StepResult{}, fmt.Errorf("set status suspended: illegal transition from %s to %s", inst.Status, target)
	}
	now := time.Now().UTC()
	inst.Status = target
	inst.SuspendedAt = &now
	if err := d.Services.Update(ctx, inst); err != nil {
		return saga.StepResult{}, fmt.Errorf("set status suspended: %w", err)
	}
	return saga.StepResult{OutputData: map[string]any{"status": string(target)}}, nil
}
