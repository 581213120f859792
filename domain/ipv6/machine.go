// Package ipv6 implements the IPv6 delegated-prefix lifecycle machine
// (Component C), specialising domain/lifecycle's shared protocol: prefix
// allocation gated on assignment mode, configurable prefix length, and a
// Delegated-IPv6-Prefix CoA attribute in place of Framed-IP-Address.
package ipv6

import (
	"context"
	"fmt"
	"time"

	"github.com/dotmac/ispsaga/domain/lifecycle"
	"github.com/dotmac/ispsaga/domain/subscriber"
	"github.com/dotmac/ispsaga/infrastructure/collaborators"
	"github.com/dotmac/ispsaga/infrastructure/logging"
)

// DefaultPrefixLength is used when the caller's metadata does not specify
// one. Valid range is 48-64 inclusive.
const DefaultPrefixLength = 56

const (
	minPrefixLength = 48
	maxPrefixLength = 64
)

// Machine implements lifecycle.Machine over a subscriber's delegated IPv6
// prefix fields.
type Machine struct {
	profiles subscriber.Store
	ipam     collaborators.IPAMClient
	coa      collaborators.RadiusCoAClient
	log      *logging.Logger
}

// New builds an IPv6 lifecycle machine.
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
			return &subscriber.Profile{
				TenantID:       tenantID,
				SubscriberID:   subscriberID,
				IPv6State:      lifecycle.StatePending,
				Option82Policy: subscriber.Option82Log,
			}, nil
		}
		return nil, err
	}
	if p.IPv6State == "" {
		p.IPv6State = lifecycle.StatePending
	}
	return p, nil
}

// save always persists through the profile store; see domain/ipv4's save
// for why commit does not gate the write itself.
func (m *Machine) save(ctx context.Context, p *subscriber.Profile, commit bool) error {
	return m.profiles.Save(ctx, p)
}

func result(p *subscriber.Profile) *lifecycle.LifecycleResult {
	return &lifecycle.LifecycleResult{
		Success:      true,
		State:        p.IPv6State,
		Address:      p.DelegatedIPv6Prefix,
		SubscriberID: p.SubscriberID,
		TenantID:     p.TenantID,
		AllocatedAt:  p.IPv6AllocatedAt,
		ActivatedAt:  p.IPv6ActivatedAt,
		SuspendedAt:  p.IPv6SuspendedAt,
		RevokedAt:    p.IPv6RevokedAt,
		Metadata:     map[string]any{"prefix_length": p.IPv6PrefixLength},
	}
}

func prefixLengthFromMetadata(metadata map[string]any) (int, error) {
	if metadata == nil {
		return DefaultPrefixLength, nil
	}
	raw, ok := metadata["prefix_length"]
	if !ok {
		return DefaultPrefixLength, nil
	}
	var length int
	switch v := raw.(type) {
	case int:
		length = v
	case int64:
		length = int(v)
	case float64:
		length = int(v)
	default:
		return 0, fmt.Errorf("prefix_length metadata has unsupported type %T", raw)
	}
	if length < minPrefixLength || length > maxPrefixLength {
		return 0, fmt.Errorf("prefix_length %d out of range [%d,%d]", length, minPrefixLength, maxPrefixLength)
	}
	return length, nil
}

// Allocate requests a delegated prefix from IPAM. Requires the profile's
// ipv6_assignment_mode to be prefix_delegation or dual_stack.
func (m *Machine) Allocate(ctx context.Context, commit bool, in lifecycle.AllocateInput) (*lifecycle.LifecycleResult, error) {
	p, err := m.load(ctx, in.TenantID, in.SubscriberID)
	if err != nil {
		return nil, err
	}
	if p.IPv6AssignmentMode != subscriber.IPv6ModePrefixDelegation && p.IPv6AssignmentMode != subscriber.IPv6ModeDualStack {
		return nil, &lifecycle.AllocationError{SubscriberID: in.SubscriberID, Reason: fmt.Sprintf("ipv6_assignment_mode %q does not allow prefix allocation", p.IPv6AssignmentMode)}
	}
	if !lifecycle.ValidateTransition(p.IPv6State, lifecycle.StateAllocated) {
		return nil, &lifecycle.InvalidTransitionError{SubscriberID: in.SubscriberID, Current: p.IPv6State, Target: lifecycle.StateAllocated}
	}

	length, err := prefixLengthFromMetadata(in.Metadata)
	if err != nil {
		return nil, &lifecycle.AllocationError{SubscriberID: in.SubscriberID, Reason: "invalid prefix length", Err: err}
	}

	if m.ipam == nil || !m.ipam.Configured() {
		return nil, &lifecycle.AllocationError{SubscriberID: in.SubscriberID, Reason: "no ipam configured for ipv6 prefix delegation"}
	}
	delegation, err := m.ipam.AllocateIPv6Prefix(ctx, in.TenantID, length, in.PoolID, fmt.Sprintf("subscriber %s", in.SubscriberID))
	if err != nil {
		return nil, &lifecycle.AllocationError{SubscriberID: in.SubscriberID, Reason: "ipam prefix allocation failed", Err: err}
	}

	now := time.Now().UTC()
	p.DelegatedIPv6Prefix = delegation.Prefix
	p.IPv6PrefixLength = delegation.PrefixLength
	if p.IPv6PrefixLength == 0 {
		p.IPv6PrefixLength = length
	}
	p.IPv6NetboxPrefixID = delegation.NetboxPrefixID
	p.IPv6State = lifecycle.StateAllocated
	p.IPv6AllocatedAt = &now

	if err := m.save(ctx, p, commit); err != nil {
		return nil, err
	}
	if m.log != nil {
		m.log.WithField("subscriber_id", in.SubscriberID).WithField("prefix", p.DelegatedIPv6Prefix).Info("ipv6 prefix allocated")
	}
	return result(p), nil
}

// Activate marks the delegated prefix active, optionally pushing a
// Delegated-IPv6-Prefix CoA update. CoA outcome is non-fatal.
func (m *Machine) Activate(ctx context.Context, commit bool, in lifecycle.ActivateInput) (*lifecycle.LifecycleResult, error) {
	p, err := m.load(ctx, in.TenantID, in.SubscriberID)
	if err != nil {
		return nil, err
	}
	if !lifecycle.ValidateTransition(p.IPv6State, lifecycle.StateActive) {
		return nil, &lifecycle.ActivationError{SubscriberID: in.SubscriberID, Reason: "invalid transition from " + string(p.IPv6State)}
	}

	now := time.Now().UTC()
	p.IPv6State = lifecycle.StateActive
	p.IPv6ActivatedAt = &now

	res := result(p)
	if in.SendCoA && in.Username != "" && m.coa != nil {
		coaRes, err := m.coa.UpdateIPv6Prefix(ctx, in.Username, p.DelegatedIPv6Prefix, in.NASIP)
		if err != nil {
			res.CoAWarning = err.Error()
		} else if coaRes != nil && !coaRes.Success {
			res.CoAWarning = coaRes.Message
		}
	}

	if err := m.save(ctx, p, commit); err != nil {
		return nil, err
	}
	res.State = p.IPv6State
	res.ActivatedAt = p.IPv6ActivatedAt
	return res, nil
}

// Suspend marks the delegated prefix suspended, optionally pushing CoA.
func (m *Machine) Suspend(ctx context.Context, commit bool, in lifecycle.ActivateInput) (*lifecycle.LifecycleResult, error) {
	p, err := m.load(ctx, in.TenantID, in.SubscriberID)
	if err != nil {
		return nil, err
	}
	if !lifecycle.ValidateTransition(p.IPv6State, lifecycle.StateSuspended) {
		return nil, &lifecycle.InvalidTransitionError{SubscriberID: in.SubscriberID, Current: p.IPv6State, Target: lifecycle.StateSuspended}
	}

	now := time.Now().UTC()
	p.IPv6State = lifecycle.StateSuspended
	p.IPv6SuspendedAt = &now

	res := result(p)
	if in.SendCoA && in.Username != "" && m.coa != nil {
		if _, err := m.coa.UpdateIPv6Prefix(ctx, in.Username, "::/128", in.NASIP); err != nil {
			res.CoAWarning = err.Error()
		}
	}

	if err := m.save(ctx, p, commit); err != nil {
		return nil, err
	}
	res.State = p.IPv6State
	res.SuspendedAt = p.IPv6SuspendedAt
	return res, nil
}

// Reactivate restores a suspended prefix to active, optionally pushing CoA.
func (m *Machine) Reactivate(ctx context.Context, commit bool, in lifecycle.ActivateInput) (*lifecycle.LifecycleResult, error) {
	p, err := m.load(ctx, in.TenantID, in.SubscriberID)
	if err != nil {
		return nil, err
	}
	if !lifecycle.ValidateTransition(p.IPv6State, lifecycle.StateActive) {
		return nil, &lifecycle.ReactivationError{SubscriberID: in.SubscriberID, Reason: "invalid transition from " + string(p.IPv6State)}
	}

	p.IPv6State = lifecycle.StateActive
	p.IPv6SuspendedAt = nil

	res := result(p)
	if in.SendCoA && in.Username != "" && m.coa != nil {
		if _, err := m.coa.UpdateIPv6Prefix(ctx, in.Username, p.DelegatedIPv6Prefix, in.NASIP); err != nil {
			res.CoAWarning = err.Error()
		}
	}

	if err := m.save(ctx, p, commit); err != nil {
		return nil, err
	}
	res.State = p.IPv6State
	return res, nil
}

// Revoke clears the delegated prefix and releases it back to IPAM.
// Idempotent: calling revoke on an already-revoked record returns success
// with no mutation.
func (m *Machine) Revoke(ctx context.Context, commit bool, in lifecycle.RevokeInput) (*lifecycle.LifecycleResult, error) {
	p, err := m.load(ctx, in.TenantID, in.SubscriberID)
	if err != nil {
		return nil, err
	}
	if p.IPv6State == lifecycle.StateRevoked {
		return result(p), nil
	}
	if !lifecycle.ValidateTransition(p.IPv6State, lifecycle.StateRevoking) {
		return nil, &lifecycle.RevocationError{SubscriberID: in.SubscriberID, Reason: "invalid transition from " + string(p.IPv6State)}
	}

	p.IPv6State = lifecycle.StateRevoking
	res := result(p)

	if in.Username != "" && m.coa != nil {
		if _, err := m.coa.DisconnectSession(ctx, in.Username, in.NASIP, ""); err != nil {
			res.CoAWarning = err.Error()
		}
	}

	if in.ReleaseToPool && m.ipam != nil && m.ipam.Configured() && p.IPv6NetboxPrefixID != "" {
		if err := m.ipam.ReleaseIPv6Prefix(ctx, p.IPv6NetboxPrefixID); err != nil {
			if res.CoAWarning == "" {
				res.CoAWarning = "ipam prefix release failed: " + err.Error()
			}
		}
	}

	now := time.Now().UTC()
	revokedPrefix := p.DelegatedIPv6Prefix
	p.IPv6State = lifecycle.StateRevoked
	p.IPv6RevokedAt = &now
	p.DelegatedIPv6Prefix = ""
	p.IPv6NetboxPrefixID = ""
	p.IPv6PrefixLength = 0

	if err := m.save(ctx, p, commit); err != nil {
		return nil, err
	}
	res.State = p.IPv6State
	res.RevokedAt = p.IPv6RevokedAt
	res.Address = ""
	res.Metadata["revoked_prefix"] = revokedPrefix
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
