package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dotmac/ispsaga/domain/crm"
	"github.com/dotmac/ispsaga/domain/lifecycle"
	"github.com/dotmac/ispsaga/domain/subscriber"
	"github.com/dotmac/ispsaga/infrastructure/collaborators"
	"github.com/dotmac/ispsaga/orchestration/saga"
)

func strField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func boolField(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}

// RegisterProvisionHandlers wires the forward/compensation handlers for
// orchestration/definitions.ProvisionSubscriber into reg.
func RegisterProvisionHandlers(reg *Registry, d *Deps) {
	reg.Register("create_customer", d.createCustomer)
	reg.RegisterCompensation("delete_customer", d.deleteCustomer)

	reg.Register("create_subscriber", d.createSubscriber)
	reg.RegisterCompensation("delete_subscriber", d.deleteSubscriber)

	reg.Register("create_network_profile", d.createNetworkProfile)
	reg.RegisterCompensation("delete_network_profile", d.deleteNetworkProfile)

	reg.Register("create_radius_account", d.createRadiusAccount)
	reg.RegisterCompensation("delete_radius_account", d.deleteRadiusAccount)

	reg.Register("allocate_dualstack_ip", d.allocateDualstackIP)
	reg.RegisterCompensation("release_dualstack_ip", d.releaseDualstackIP)

	reg.Register("activate_onu", d.activateONU)
	reg.RegisterCompensation("deactivate_onu", d.deactivateONUComp)

	reg.Register("configure_cpe", d.configureCPE)
	reg.RegisterCompensation("unconfigure_cpe", d.unconfigureCPEComp)

	reg.Register("create_billing_service", d.createBillingService)
	reg.RegisterCompensation("suspend_billing_service", d.suspendBillingServiceComp)
}

func (d *Deps) createCustomer(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	tenantID := strField(wfCtx, "tenant_id")
	if existing := strField(wfCtx, "customer_id"); existing != "" {
		return saga.StepResult{
			OutputData:       map[string]any{"customer_id": existing},
			CompensationData: map[string]any{"customer_id": existing, "pre_existing": true},
			ContextUpdates:   map[string]any{"customer_id": existing},
		}, nil
	}

	email := strField(wfCtx, "customer_email")
	customerID := uuid.NewString()
	if err := d.CRM.CreateCustomer(ctx, &crm.Customer{ID: customerID, TenantID: tenantID, Email: email}); err != nil {
		return saga.StepResult{}, fmt.Errorf("create customer: %w", err)
	}
	return saga.StepResult{
		OutputData:       map[string]any{"customer_id": customerID},
		CompensationData: map[string]any{"customer_id": customerID},
		ContextUpdates:   map[string]any{"customer_id": customerID},
	}, nil
}

func (d *Deps) deleteCustomer(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
	if boolField(compData, "pre_existing") {
		return nil
	}
	return d.CRM.DeleteCustomer(ctx, strField(compData, "customer_id"))
}

func (d *Deps) createSubscriber(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	tenantID := strField(wfCtx, "tenant_id")
	customerID := strField(wfCtx, "customer_id")
	subscriberID := uuid.NewString()

	if err := d.CRM.CreateSubscriber(ctx, &crm.Subscriber{
		ID: subscriberID, TenantID: tenantID, CustomerID: customerID,
		PlanID: strField(wfCtx, "plan_id"), Location: strField(wfCtx, "service_location"),
	}); err != nil {
		return saga.StepResult{}, fmt.Errorf("create subscriber: %w", err)
	}
	return saga.StepResult{
		OutputData:       map[string]any{"subscriber_id": subscriberID},
		CompensationData: map[string]any{"subscriber_id": subscriberID},
		ContextUpdates:   map[string]any{"subscriber_id": subscriberID},
	}, nil
}

func (d *Deps) deleteSubscriber(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
	return d.CRM.DeleteSubscriber(ctx, strField(compData, "subscriber_id"))
}

func (d *Deps) createNetworkProfile(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	tenantID := strField(wfCtx, "tenant_id")
	subscriberID := strField(wfCtx, "subscriber_id")

	mode := subscriber.IPv6AssignmentMode(strField(wfCtx, "ipv6_assignment_mode"))
	if mode == "" {
		mode = subscriber.IPv6ModeNone
	}

	p := &subscriber.Profile{
		TenantID:       tenantID,
		SubscriberID:   subscriberID,
		ServiceVLAN:    intField(wfCtx, "vlan_id"),
		CustomerVLAN:   intField(wfCtx, "customer_vlan_id"),
		QinQEnabled:    boolField(wfCtx, "qinq_enabled"),
		IPv4State:      lifecycle.StatePending,
		IPv6State:      lifecycle.StatePending,
		IPv6AssignmentMode: mode,
		Option82Policy: subscriber.Option82Log,
	}
	if err := d.Profiles.Save(ctx, p); err != nil {
		return saga.StepResult{}, fmt.Errorf("create network profile: %w", err)
	}
	return saga.StepResult{
		OutputData:       map[string]any{"network_profile_created": true},
		CompensationData: map[string]any{"tenant_id": tenantID, "subscriber_id": subscriberID},
	}, nil
}

func (d *Deps) deleteNetworkProfile(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
	return d.Profiles.Delete(ctx, strField(compData, "tenant_id"), strField(compData, "subscriber_id"))
}

func (d *Deps) createRadiusAccount(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	subscriberID := strField(wfCtx, "subscriber_id")
	username := fmt.Sprintf("sub-%s", subscriberID)

	accountID := uuid.NewString()
	if d.RadiusAccounting != nil && d.RadiusAccounting.Configured() {
		var acct *collaborators.RadiusAccount
		err := d.call(ctx, func() error {
			var callErr error
			acct, callErr = d.RadiusAccounting.CreateAccount(ctx, subscriberID, username, uuid.NewString())
			return callErr
		})
		if err != nil {
			return saga.StepResult{}, fmt.Errorf("create radius account: %w", err)
		}
		username = acct.Username
		accountID = acct.AccountID
	}

	return saga.StepResult{
		OutputData:       map[string]any{"radius_username": username, "radius_account_id": accountID},
		CompensationData: map[string]any{"radius_account_id": accountID},
		ContextUpdates:   map[string]any{"radius_username": username},
	}, nil
}

func (d *Deps) deleteRadiusAccount(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
	if d.RadiusAccounting == nil || !d.RadiusAccounting.Configured() {
		return nil
	}
	accountID := strField(compData, "radius_account_id")
	return d.call(ctx, func() error { return d.RadiusAccounting.DeleteAccount(ctx, accountID) })
}

func (d *Deps) allocateDualstackIP(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	tenantID := strField(wfCtx, "tenant_id")
	subscriberID := strField(wfCtx, "subscriber_id")

	var ipv4Res *lifecycle.LifecycleResult
	err := d.call(ctx, func() error {
		var callErr error
		ipv4Res, callErr = d.IPv4.Allocate(ctx, true, lifecycle.AllocateInput{SubscriberID: subscriberID, TenantID: tenantID, PoolID: strField(wfCtx, "ipv4_pool_id")})
		return callErr
	})
	if err != nil {
		return saga.StepResult{}, fmt.Errorf("allocate ipv4: %w", err)
	}

	out := map[string]any{"ipv4_address": ipv4Res.Address}
	compData := map[string]any{"tenant_id": tenantID, "subscriber_id": subscriberID, "ipv4_allocated": true}
	ctxUpdates := map[string]any{"ipv4_address": ipv4Res.Address}

	mode := subscriber.IPv6AssignmentMode(strField(wfCtx, "ipv6_assignment_mode"))
	if mode == subscriber.IPv6ModePrefixDelegation || mode == subscriber.IPv6ModeDualStack {
		meta := map[string]any{}
		if size := intField(wfCtx, "ipv6_prefix_size"); size > 0 {
			meta["prefix_length"] = size
		}
		var ipv6Res *lifecycle.LifecycleResult
		err := d.call(ctx, func() error {
			var callErr error
			ipv6Res, callErr = d.IPv6.Allocate(ctx, true, lifecycle.AllocateInput{SubscriberID: subscriberID, TenantID: tenantID, Metadata: meta})
			return callErr
		})
		if err != nil {
			// Roll back the ipv4 allocation we already made before reporting
			// failure, so a partial dual-stack allocation never lingers.
			_ = d.call(ctx, func() error {
				_, revokeErr := d.IPv4.Revoke(ctx, true, lifecycle.RevokeInput{SubscriberID: subscriberID, TenantID: tenantID, ReleaseToPool: true})
				return revokeErr
			})
			return saga.StepResult{}, fmt.Errorf("allocate ipv6: %w", err)
		}
		out["ipv6_prefix"] = ipv6Res.Address
		compData["ipv6_allocated"] = true
		ctxUpdates["ipv6_prefix"] = ipv6Res.Address
	}

	return saga.StepResult{OutputData: out, CompensationData: compData, ContextUpdates: ctxUpdates}, nil
}

func (d *Deps) releaseDualstackIP(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
	tenantID := strField(compData, "tenant_id")
	subscriberID := strField(compData, "subscriber_id")
	var errs []error
	if boolField(compData, "ipv4_allocated") {
		err := d.call(ctx, func() error {
			_, revokeErr := d.IPv4.Revoke(ctx, true, lifecycle.RevokeInput{SubscriberID: subscriberID, TenantID: tenantID, ReleaseToPool: true})
			return revokeErr
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if boolField(compData, "ipv6_allocated") {
		err := d.call(ctx, func() error {
			_, revokeErr := d.IPv6.Revoke(ctx, true, lifecycle.RevokeInput{SubscriberID: subscriberID, TenantID: tenantID, ReleaseToPool: true})
			return revokeErr
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("release dualstack ip: %v", errs)
	}
	return nil
}

func (d *Deps) activateONU(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	subscriberID := strField(wfCtx, "subscriber_id")
	deviceID := fmt.Sprintf("onu-%s", subscriberID)

	onuID := deviceID
	var res *collaborators.DeviceOperationResult
	err := d.call(ctx, func() error {
		var callErr error
		res, callErr = d.AccessNode.Enable(ctx, deviceID)
		return callErr
	})
	if err != nil {
		if d.AccessNode.Configured() {
			return saga.StepResult{}, fmt.Errorf("activate onu: %w", err)
		}
	} else if res != nil && res.DeviceID != "" {
		onuID = res.DeviceID
	}
	return saga.StepResult{
		OutputData:       map[string]any{"onu_id": onuID},
		CompensationData: map[string]any{"onu_id": onuID},
		ContextUpdates:   map[string]any{"onu_id": onuID},
	}, nil
}

func (d *Deps) deactivateONUComp(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
	if !d.AccessNode.Configured() {
		return nil
	}
	deviceID := strField(compData, "onu_id")
	return d.call(ctx, func() error {
		_, err := d.AccessNode.Disable(ctx, deviceID)
		return err
	})
}

func (d *Deps) configureCPE(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	subscriberID := strField(wfCtx, "subscriber_id")
	deviceID := fmt.Sprintf("cpe-%s", subscriberID)

	if d.CPE.Configured() {
		vlan := fmt.Sprintf("%d", intField(wfCtx, "vlan_id"))
		err := d.call(ctx, func() error {
			return d.CPE.SetParameter(ctx, deviceID, "Device.ManagementServer.VLAN", vlan)
		})
		if err != nil {
			return saga.StepResult{}, fmt.Errorf("configure cpe: %w", err)
		}
	}
	return saga.StepResult{
		OutputData:       map[string]any{"cpe_id": deviceID},
		CompensationData: map[string]any{"cpe_id": deviceID},
		ContextUpdates:   map[string]any{"cpe_id": deviceID},
	}, nil
}

func (d *Deps) unconfigureCPEComp(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
	if !d.CPE.Configured() {
		return nil
	}
	deviceID := strField(compData, "cpe_id")
	return d.call(ctx, func() error { return d.CPE.Refresh(ctx, deviceID) })
}

func (d *Deps) createBillingService(ctx context.Context, input, wfCtx map[string]any, handle saga.PersistenceHandle) (saga.StepResult, error) {
	customerID := strField(wfCtx, "customer_id")
	planID := strField(wfCtx, "plan_id")

	if !d.Billing.Configured() {
		serviceID := fmt.Sprintf("svc-%s", uuid.NewString())
		return saga.StepResult{
			OutputData:       map[string]any{"service_id": serviceID},
			CompensationData: map[string]any{"billing_configured": false},
			ContextUpdates:   map[string]any{"service_id": serviceID},
		}, nil
	}

	var sub *collaborators.BillingSubscription
	err := d.call(ctx, func() error {
		var callErr error
		sub, callErr = d.Billing.CreateSubscription(ctx, customerID, planID)
		return callErr
	})
	if err != nil {
		return saga.StepResult{}, fmt.Errorf("create billing service: %w", err)
	}
	return saga.StepResult{
		OutputData:       map[string]any{"service_id": sub.ExternalID},
		CompensationData: map[string]any{"billing_configured": true, "billing_external_id": sub.ExternalID},
		ContextUpdates:   map[string]any{"service_id": sub.ExternalID},
	}, nil
}

func (d *Deps) suspendBillingServiceComp(ctx context.Context, output, compData map[string]any, handle saga.PersistenceHandle) error {
	if !boolField(compData, "billing_configured") {
		return nil
	}
	externalID := strField(compData, "billing_external_id")
	return d.call(ctx, func() error {
		return d.Billing.SuspendSubscription(ctx, externalID, "provisioning rolled back")
	})
}
