package handlers

import (
	"context"

	"github.com/dotmac/ispsaga/domain/crm"
	"github.com/dotmac/ispsaga/domain/lifecycle"
	"github.com/dotmac/ispsaga/domain/service"
	"github.com/dotmac/ispsaga/domain/subscriber"
	"github.com/dotmac/ispsaga/infrastructure/collaborators"
	"github.com/dotmac/ispsaga/infrastructure/logging"
)

// Deps bundles every collaborator and store the concrete step handlers of
// this package need. Bootstrap wires these into a Registry at process
// startup, per the Design Notes' "dynamic handler registry" pattern:
// registration happens once, lookup is by string name thereafter.
type Deps struct {
	CRM      crm.Store
	Profiles subscriber.Store
	Services service.InstanceStore

	IPv4 lifecycle.Machine
	IPv6 lifecycle.Machine

	RadiusAccounting collaborators.RadiusAccountingClient
	RadiusCoA        collaborators.RadiusCoAClient
	AccessNode       collaborators.AccessNodeManager
	CPE              collaborators.CPEManager
	Billing          collaborators.BillingService

	Limiter *collaborators.CallLimiter

	Log *logging.Logger
}

// call runs fn through the shared collaborator rate limiter when one is
// configured, bounding outbound RADIUS/IPAM/access-node/CPE/billing fan-out.
func (d *Deps) call(ctx context.Context, fn func() error) error {
	if d.Limiter == nil {
		return fn()
	}
	return d.Limiter.Do(ctx, fn)
}
