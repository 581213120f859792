package handlers

import (
	"context"
	"fmt"

	"github.com/dotmac/ispsaga/domain/lifecycle"
	"github.com/dotmac/ispsaga/orchestration/saga"
)

// RegisterDeprovisionHandlers wires the forward handlers for
// orchestration/definitions.DeprovisionSubscriber. These steps are the
// compensation sequence of provisioning run forward, and are themselves
// compensation-free per spec.md §4.F.
func RegisterDeprovisionHandlers(reg *Registry, d *Deps) {
	reg.Register("suspend_billing", d.suspendBilling)
	reg.Register("deactivate_onu_step", d.deactivateONU)
	reg.Register("unconfigure_cpe_step", d.unconfigureCPE)
	reg.Register("release_ip", d.releaseIP)
	reg.Register("delete_radius", d.deleteRadius)
	reg.Register("delete_network_profile_step", d.deleteNetworkProfileStep)
	reg.Register("archive_subscriber", d.archiveSubscriber)
}

func (d *Deps) suspendBilling(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	if d.Billing.Configured() {
		externalID := strField(wfCtx, "billing_external_id")
		if externalID == "" {
			externalID = strField(wfCtx, "service_id")
		}
		if externalID != "" {
			err := d.call(ctx, func() error {
				return d.Billing.SuspendSubscription(ctx, externalID, "subscriber deprovisioned")
			})
			if err != nil {
				return saga.StepResult{}, fmt.Errorf("suspend billing: %w", err)
			}
		}
	}
	return saga.StepResult{OutputData: map[string]any{"billing_suspended": true}}, nil
}

func (d *Deps) deactivateONU(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	if d.AccessNode.Configured() {
		onuID := strField(wfCtx, "onu_id")
		if onuID != "" {
			err := d.call(ctx, func() error {
				_, callErr := d.AccessNode.Disable(ctx, onuID)
				return callErr
			})
			if err != nil {
				return saga.StepResult{}, fmt.Errorf("deactivate onu: %w", err)
			}
		}
	}
	return saga.StepResult{OutputData: map[string]any{"onu_deactivated": true}}, nil
}

func (d *Deps) unconfigureCPE(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	if d.CPE.Configured() {
		cpeID := strField(wfCtx, "cpe_id")
		if cpeID != "" {
			err := d.call(ctx, func() error { return d.CPE.Refresh(ctx, cpeID) })
			if err != nil {
				return saga.StepResult{}, fmt.Errorf("unconfigure cpe: %w", err)
			}
		}
	}
	return saga.StepResult{OutputData: map[string]any{"cpe_unconfigured": true}}, nil
}

func (d *Deps) releaseIP(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	tenantID := strField(wfCtx, "tenant_id")
	subscriberID := strField(wfCtx, "subscriber_id")

	err := d.call(ctx, func() error {
		_, callErr := d.IPv4.Revoke(ctx, true, lifecycle.RevokeInput{SubscriberID: subscriberID, TenantID: tenantID, ReleaseToPool: true})
		return callErr
	})
	if err != nil {
		return saga.StepResult{}, fmt.Errorf("release ipv4: %w", err)
	}
	err = d.call(ctx, func() error {
		_, callErr := d.IPv6.Revoke(ctx, true, lifecycle.RevokeInput{SubscriberID: subscriberID, TenantID: tenantID, ReleaseToPool: true})
		return callErr
	})
	if err != nil {
		return saga.StepResult{}, fmt.Errorf("release ipv6: %w", err)
	}
	return saga.StepResult{OutputData: map[string]any{"ip_released": true}}, nil
}

func (d *Deps) deleteRadius(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	if d.RadiusAccounting.Configured() {
		accountID := strField(wfCtx, "radius_account_id")
		if accountID != "" {
			err := d.call(ctx, func() error { return d.RadiusAccounting.DeleteAccount(ctx, accountID) })
			if err != nil {
				return saga.StepResult{}, fmt.Errorf("delete radius account: %w", err)
			}
		}
	}
	return saga.StepResult{OutputData: map[string]any{"radius_deleted": true}}, nil
}

func (d *Deps) deleteNetworkProfileStep(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	tenantID := strField(wfCtx, "tenant_id")
	subscriberID := strField(wfCtx, "subscriber_id")
	if err := d.Profiles.Delete(ctx, tenantID, subscriberID); err != nil {
		return saga.StepResult{}, fmt.Errorf("delete network profile: %w", err)
	}
	return saga.StepResult{OutputData: map[string]any{"network_profile_deleted": true}}, nil
}

func (d *Deps) archiveSubscriber(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	subscriberID := strField(wfCtx, "subscriber_id")
	if err := d.CRM.ArchiveSubscriber(ctx, subscriberID); err != nil {
		return saga.StepResult{}, fmt.Errorf("archive subscriber: %w", err)
	}
	return saga.StepResult{OutputData: map[string]any{"subscriber_archived": true}}, nil
}
