// Package ipv4 implements the IPv4 address lifecycle machine (Component B):
// a state machine over a subscriber's IPv4 reservation, with IPAM and
// RADIUS CoA side effects, sharing domain/lifecycle's state protocol.
package ipv4

import (
	"context"
	"time"

	"github.com/dotmac/ispsaga/domain/lifecycle"
	"github.com/dotmac/ispsaga/domain/subscriber"
	"github.com/dotmac/ispsaga/infrastructure/collaborators"
	"github.com/dotmac/ispsaga/infrastructure/logging"
)

// Machine implements lifecycle.Machine over a subscriber's IPv4 fields.
type Machine struct {
	profiles subscriber.Store
	ipam     collaborators.IPAMClient
	coa      collaborators.RadiusCoAClient
	log      *logging.Logger
}

// New builds an IPv4 lifecycle machine. ipam or coa may be the null-object
// stubs from infrastructure/collaborators when not configured.
func New(profiles subscriber.Store, ipam collaborators.IPAMClient, coa collaborators.RadiusCoAClient, log *logging.Logger) *Machine {
	return &Machine{profiles: profiles, ipam: ipam, coa: coa, log: log}
}

var _ lifecycle.Machine = (*Machine)(nil)

func (m *Machine) ValidateTransition(current, target lifecycle.State) bool {
	return lifecycle.ValidateTransition(current, target)
}

func (m *Machine) load(ctx context.Context, tenantID, subscriberID string) (*subscriber.Profile, error) {
	p, err := m.profiles.Get(ctx, tenantID, subscriberID)
	if err != nil {
		if err == subscriber.ErrProfileNotFound {
			p = &subscriber.Profile{
				TenantID:       tenantID,
				SubscriberID:   subscriberID,
				IPv4State:      lifecycle.StatePending,
				Option82Policy: subscriber.Option82Log,
			}
			return p, nil
		}
		return nil, err
	}
	if p.IPv4State == "" {
		p.IPv4State = lifecycle.StatePending
	}
	return p, nil
}

// save always persists through the profile store. commit does not gate the
// write itself: per spec.md §5, a commit=false caller is expected to have
// put an ambient transaction on ctx (infrastructure/database's
// ContextWithTx) before calling, so this write lands inside that shared
// transaction and is committed only when the caller commits its own —
// e.g. a service termination that cascades into an IPv6 revoke. A plain
// in-memory store has no transaction boundary and simply applies the
// write immediately either way.
func (m *Machine) save(ctx context.Context, p *subscriber.Profile, commit bool) error {
	return m.profiles.Save(ctx, p)
}

func result(p *subscriber.Profile) *lifecycle.LifecycleResult {
	return &lifecycle.LifecycleResult{
		Success:      true,
		State:        p.IPv4State,
		Address:      p.IPv4Address,
		SubscriberID: p.SubscriberID,
		TenantID:     p.TenantID,
		AllocatedAt:  p.IPv4AllocatedAt,
		ActivatedAt:  p.IPv4ActivatedAt,
		SuspendedAt:  p.IPv4SuspendedAt,
		RevokedAt:    p.IPv4RevokedAt,
		Metadata:     map[string]any{},
	}
}

// Allocate requests an IPv4 address from IPAM, or falls back to the
// profile's pre-configured static address when no IPAM client is wired in.
func (m *Machine) Allocate(ctx context.Context, commit bool, in lifecycle.AllocateInput) (*lifecycle.LifecycleResult, error) {
	p, err := m.load(ctx, in.TenantID, in.SubscriberID)
	if err != nil {
		return nil, err
	}
	if !lifecycle.ValidateTransition(p.IPv4State, lifecycle.StateAllocated) {
		return nil, &lifecycle.InvalidTransitionError{SubscriberID: in.SubscriberID, Current: p.IPv4State, Target: lifecycle.StateAllocated}
	}

	now := time.Now().UTC()
	if m.ipam != nil && m.ipam.Configured() {
		lease, err := m.ipam.AllocateIPv4(ctx, in.TenantID, in.PoolID, in.Metadata)
		if err != nil {
			return nil, &lifecycle.AllocationError{SubscriberID: in.SubscriberID, Reason: "ipam allocation failed", Err: err}
		}
		p.IPv4Address = lease.Address
		p.IPv4NetboxID = lease.NetboxIPID
	} else if in.RequestedAddress != "" {
		p.IPv4Address = in.RequestedAddress
	} else if p.StaticIPv4Address != "" {
		p.IPv4Address = p.StaticIPv4Address
	} else {
		return nil, &lifecycle.AllocationError{SubscriberID: in.SubscriberID, Reason: "no ipam configured and no static address on profile"}
	}

	p.IPv4State = lifecycle.StateAllocated
	p.IPv4AllocatedAt = &now

	if err := m.save(ctx, p, commit); err != nil {
		return nil, err
	}
	if m.log != nil {
		m.log.WithField("subscriber_id", in.SubscriberID).WithField("tenant_id", in.TenantID).Info("ipv4 allocated")
	}
	return result(p), nil
}

// Activate marks the allocated address active, optionally pushing an
// IP-Address CoA update. CoA failure is non-fatal.
func (m *Machine) Activate(ctx context.Context, commit bool, in lifecycle.ActivateInput) (*lifecycle.LifecycleResult, error) {
	p, err := m.load(ctx, in.TenantID, in.SubscriberID)
	if err != nil {
		return nil, err
	}
	if !lifecycle.ValidateTransition(p.IPv4State, lifecycle.StateActive) {
		return nil, &lifecycle.ActivationError{SubscriberID: in.SubscriberID, Reason: "invalid transition from " + string(p.IPv4State)}
	}

	now := time.Now().UTC()
	p.IPv4State = lifecycle.StateActive
	p.IPv4ActivatedAt = &now

	res := result(p)
	if in.SendCoA && in.Username != "" && m.coa != nil {
		coaRes, err := m.coa.UpdateIPv4Address(ctx, in.Username, p.IPv4Address, in.NASIP)
		if err != nil {
			res.CoAWarning = err.Error()
		} else if coaRes != nil && !coaRes.Success {
			res.CoAWarning = coaRes.Message
		}
	}

	if err := m.save(ctx, p, commit); err != nil {
		return nil, err
	}
	res.State = p.IPv4State
	res.ActivatedAt = p.IPv4ActivatedAt
	return res, nil
}

// Suspend marks the address suspended, optionally pushing a bandwidth/policy
// CoA. CoA outcome is reported but non-fatal.
func (m *Machine) Suspend(ctx context.Context, commit bool, in lifecycle.ActivateInput) (*lifecycle.LifecycleResult, error) {
	p, err := m.load(ctx, in.TenantID, in.SubscriberID)
	if err != nil {
		return nil, err
	}
	if !lifecycle.ValidateTransition(p.IPv4State, lifecycle.StateSuspended) {
		return nil, &lifecycle.InvalidTransitionError{SubscriberID: in.SubscriberID, Current: p.IPv4State, Target: lifecycle.StateSuspended}
	}

	now := time.Now().UTC()
	p.IPv4State = lifecycle.StateSuspended
	p.IPv4SuspendedAt = &now

	res := result(p)
	if in.SendCoA && in.Username != "" && m.coa != nil {
		coaRes, err := m.coa.UpdateIPv4Address(ctx, in.Username, "0.0.0.0", in.NASIP)
		if err != nil {
			res.CoAWarning = err.Error()
		} else if coaRes != nil && !coaRes.Success {
			res.CoAWarning = coaRes.Message
		}
	}

	if err := m.save(ctx, p, commit); err != nil {
		return nil, err
	}
	res.State = p.IPv4State
	res.SuspendedAt = p.IPv4SuspendedAt
	return res, nil
}

// Reactivate restores a suspended address to active, optionally pushing CoA.
func (m *Machine) Reactivate(ctx context.Context, commit bool, in lifecycle.ActivateInput) (*lifecycle.LifecycleResult, error) {
	p, err := m.load(ctx, in.TenantID, in.SubscriberID)
	if err != nil {
		return nil, err
	}
	if !lifecycle.ValidateTransition(p.IPv4State, lifecycle.StateActive) {
		return nil, &lifecycle.ReactivationError{SubscriberID: in.SubscriberID, Reason: "invalid transition from " + string(p.IPv4State)}
	}

	p.IPv4State = lifecycle.StateActive
	p.IPv4SuspendedAt = nil

	res := result(p)
	if in.SendCoA && in.Username != "" && m.coa != nil {
		coaRes, err := m.coa.UpdateIPv4Address(ctx, in.Username, p.IPv4Address, in.NASIP)
		if err != nil {
			res.CoAWarning = err.Error()
		} else if coaRes != nil && !coaRes.Success {
			res.CoAWarning = coaRes.Message
		}
	}

	if err := m.save(ctx, p, commit); err != nil {
		return nil, err
	}
	res.State = p.IPv4State
	return res, nil
}

// Revoke releases the IPAM record and clears the address. IPAM-release and
// Disconnect-Message failures are non-fatal; revoke still reaches revoked.
func (m *Machine) Revoke(ctx context.Context, commit bool, in lifecycle.RevokeInput) (*lifecycle.LifecycleResult, error) {
	p, err := m.load(ctx, in.TenantID, in.SubscriberID)
	if err != nil {
		return nil, err
	}
	if p.IPv4State == lifecycle.StateRevoked {
		return result(p), nil
	}
	if !lifecycle.ValidateTransition(p.IPv4State, lifecycle.StateRevoking) {
		return nil, &lifecycle.RevocationError{SubscriberID: in.SubscriberID, Reason: "invalid transition from " + string(p.IPv4State)}
	}

	p.IPv4State = lifecycle.StateRevoking
	res := result(p)

	if in.Username != "" && m.coa != nil {
		if _, err := m.coa.DisconnectSession(ctx, in.Username, in.NASIP, ""); err != nil {
			res.CoAWarning = err.Error()
		}
	}

	if in.ReleaseToPool && m.ipam != nil && m.ipam.Configured() && p.IPv4NetboxID != "" {
		if err := m.ipam.ReleaseIPv4(ctx, p.IPv4NetboxID); err != nil {
			if res.CoAWarning == "" {
				res.CoAWarning = "ipam release failed: " + err.Error()
			}
		}
	}

	now := time.Now().UTC()
	p.IPv4State = lifecycle.StateRevoked
	p.IPv4RevokedAt = &now
	p.IPv4Address = ""
	p.IPv4NetboxID = ""

	if err := m.save(ctx, p, commit); err != nil {
		return nil, err
	}
	res.State = p.IPv4State
	res.RevokedAt = p.IPv4RevokedAt
	res.Address = ""
	return res, nil
}

// GetState returns current state and timestamps without side effects.
func (m *Machine) GetState(ctx context.Context, subscriberID, tenantID string) (*lifecycle.LifecycleResult, error) {
	p, err := m.load(ctx, tenantID, subscriberID)
	if err != nil {
		return nil, err
	}
	return result(p), nil
}
