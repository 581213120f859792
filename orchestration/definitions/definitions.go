// Package definitions holds the declarative workflow step lists of
// spec.md §4.F: provision/deprovision subscriber and activate/suspend
// service. Each descriptor names a forward handler and (optionally) a
// compensation handler resolved at run time from orchestration/handlers'
// registry.
package definitions

import (
	"github.com/dotmac/ispsaga/domain/workflow"
	"github.com/dotmac/ispsaga/orchestration/saga"
)

func step(name string, kind workflow.StepKind, target, forward, compensation string, maxRetries int) saga.StepDescriptor {
	return saga.StepDescriptor{
		Name:                name,
		Kind:                kind,
		TargetSystem:        target,
		ForwardHandler:      forward,
		CompensationHandler: compensation,
		MaxRetries:          maxRetries,
	}
}

// ProvisionSubscriber is the 8-step provisioning workflow of spec.md §4.F.
var ProvisionSubscriber = saga.Definition{
	Name: "provision_subscriber",
	Steps: []saga.StepDescriptor{
		step("create_customer", workflow.StepKindDatabase, "crm", "create_customer", "delete_customer", 2),
		step("create_subscriber", workflow.StepKindDatabase, "crm", "create_subscriber", "delete_subscriber", 2),
		step("create_network_profile", workflow.StepKindDatabase, "network", "create_network_profile", "delete_network_profile", 2),
		step("create_radius_account", workflow.StepKindExternal, "radius", "create_radius_account", "delete_radius_account", 3),
		step("allocate_dualstack_ip", workflow.StepKindExternal, "ipam", "allocate_dualstack_ip", "release_dualstack_ip", 3),
		step("activate_onu", workflow.StepKindExternal, "access_node", "activate_onu", "deactivate_onu", 3),
		step("configure_cpe", workflow.StepKindExternal, "cpe", "configure_cpe", "unconfigure_cpe", 3),
		step("create_billing_service", workflow.StepKindExternal, "billing", "create_billing_service", "suspend_billing_service", 2),
	},
}

// DeprovisionSubscriber is the 7-step deprovisioning workflow of spec.md
// §4.F — the compensation sequence of ProvisionSubscriber, run forward in
// deletion order. Its steps are compensation-free: a deprovision that
// itself fails mid-way is not automatically un-done.
var DeprovisionSubscriber = saga.Definition{
	Name: "deprovision_subscriber",
	Steps: []saga.StepDescriptor{
		step("suspend_billing", workflow.StepKindExternal, "billing", "suspend_billing", "", 2),
		step("deactivate_onu", workflow.StepKindExternal, "access_node", "deactivate_onu_step", "", 3),
		step("unconfigure_cpe", workflow.StepKindExternal, "cpe", "unconfigure_cpe_step", "", 3),
		step("release_ip", workflow.StepKindExternal, "ipam", "release_ip", "", 3),
		step("delete_radius", workflow.StepKindExternal, "radius", "delete_radius", "", 3),
		step("delete_network_profile", workflow.StepKindDatabase, "network", "delete_network_profile_step", "", 2),
		step("archive_subscriber", workflow.StepKindDatabase, "crm", "archive_subscriber", "", 2),
	},
}

// ActivateService is the 6-step activation workflow of spec.md §4.F.
var ActivateService = saga.Definition{
	Name: "activate_service",
	Steps: []saga.StepDescriptor{
		step("verify", workflow.StepKindDatabase, "crm", "verify_service", "", 1),
		step("activate_billing", workflow.StepKindExternal, "billing", "activate_billing", "deactivate_billing", 2),
		step("enable_radius", workflow.StepKindExternal, "radius", "enable_radius", "disable_radius_comp", 3),
		step("activate_onu", workflow.StepKindExternal, "access_node", "activate_onu_step", "deactivate_onu_comp", 3),
		step("enable_cpe", workflow.StepKindExternal, "cpe", "enable_cpe", "disable_cpe_comp", 3),
		step("set_status_active", workflow.StepKindDatabase, "crm", "set_status_active", "", 1),
	},
}

// SuspendService is the 6-step suspension workflow of spec.md §4.F.
var SuspendService = saga.Definition{
	Name: "suspend_service",
	Steps: []saga.StepDescriptor{
		step("verify", workflow.StepKindDatabase, "crm", "verify_service", "", 1),
		step("suspend_billing", workflow.StepKindExternal, "billing", "suspend_billing_step", "", 2),
		step("disable_radius", workflow.StepKindExternal, "radius", "disable_radius", "", 3),
		step("disable_onu", workflow.StepKindExternal, "access_node", "disable_onu", "", 3),
		step("disable_cpe", workflow.StepKindExternal, "cpe", "disable_cpe", "", 3),
		step("set_status_suspended", workflow.StepKindDatabase, "crm", "set_status_suspended", "", 1),
	},
}

// ByKind maps a workflow.Kind to its declarative definition, used by the
// facade when creating a new run.
var ByKind = map[workflow.Kind]saga.Definition{
	workflow.KindProvisionSubscriber:   ProvisionSubscriber,
	workflow.KindDeprovisionSubscriber: DeprovisionSubscriber,
	workflow.KindActivateService:       ActivateService,
	workflow.KindSuspendService:        SuspendService,
}
