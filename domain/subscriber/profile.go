// Package subscriber holds the SubscriberNetworkProfile entity: per
// subscriber network metadata carrying the two embedded address lifecycle
// states (IPv4 and IPv6) plus DHCP relay, VLAN, and vendor metadata.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dotmac/ispsaga/domain/lifecycle"
)

// Option82Policy controls how DHCP Relay Agent Information is enforced.
type Option82Policy string

const (
	Option82Enforce Option82Policy = "enforce"
	Option82Log     Option82Policy = "log"
	Option82Ignore  Option82Policy = "ignore"
)

// IPv6AssignmentMode controls whether and how a subscriber receives IPv6
// connectivity.
type IPv6AssignmentMode string

const (
	IPv6ModeNone              IPv6AssignmentMode = "none"
	IPv6ModeStatelessAutoconf IPv6AssignmentMode = "stateless_autoconfig"
	IPv6ModeStatefulDHCPv6    IPv6AssignmentMode = "stateful_dhcpv6"
	IPv6ModePrefixDelegation  IPv6AssignmentMode = "prefix_delegation"
	IPv6ModeDualStack         IPv6AssignmentMode = "dual_stack"
)

// Profile is the SubscriberNetworkProfile entity of spec.md §3.
type Profile struct {
	SubscriberID string
	TenantID     string

	CircuitID string
	RemoteID  string

	ServiceVLAN int
	CustomerVLAN int
	QinQEnabled bool

	StaticIPv4Address string

	IPv4State     lifecycle.State
	IPv4Address   string
	IPv4NetboxID  string
	IPv4AllocatedAt *time.Time
	IPv4ActivatedAt *time.Time
	IPv4SuspendedAt *time.Time
	IPv4RevokedAt   *time.Time

	IPv6AssignmentMode  IPv6AssignmentMode
	IPv6State           lifecycle.State
	DelegatedIPv6Prefix string
	IPv6PrefixLength    int
	IPv6NetboxPrefixID  string
	IPv6AllocatedAt *time.Time
	IPv6ActivatedAt *time.Time
	IPv6SuspendedAt *time.Time
	IPv6RevokedAt   *time.Time

	Option82Policy Option82Policy
	Metadata       map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Validate checks the profile's cross-field invariants from spec.md §3.
func (p *Profile) Validate() error {
	if p.SubscriberID == "" {
		return errors.New("subscriber_id is required")
	}
	if p.TenantID == "" {
		return errors.New("tenant_id is required")
	}
	switch p.IPv6State {
	case lifecycle.StateAllocated, lifecycle.StateActive, lifecycle.StateSuspended:
		if p.DelegatedIPv6Prefix == "" || p.IPv6NetboxPrefixID == "" {
			return fmt.Errorf("ipv6 state %s requires delegated prefix and netbox id", p.IPv6State)
		}
	case lifecycle.StateRevoked:
		if p.DelegatedIPv6Prefix != "" || p.IPv6NetboxPrefixID != "" {
			return errors.New("ipv6 state revoked requires prefix and netbox id to be cleared")
		}
	}
	if p.QinQEnabled {
		if p.CustomerVLAN == 0 || p.ServiceVLAN == 0 {
			return errors.New("qinq requires both inner and service vlan")
		}
	}
	return nil
}

// ErrProfileNotFound is returned by Store.Get when no profile exists.
var ErrProfileNotFound = errors.New("subscriber network profile not found")

// Store persists SubscriberNetworkProfile rows, one per (tenant,
// subscriber). Lifecycle machines call Save on every mutating operation
// whatever their commit flag; a commit=false write joins the caller's
// transaction only when the caller has put one on ctx (the Postgres store
// in infrastructure/database honours an ambient transaction).
type Store interface {
	Get(ctx context.Context, tenantID, subscriberID string) (*Profile, error)
	Save(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, tenantID, subscriberID string) error
}

// MemoryStore is an in-memory Store used by tests, mirroring the teacher's
// pkg/storage/memory stores.
type MemoryStore struct {
	mu    sync.RWMutex
	byKey map[string]*Profile
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]*Profile)}
}

func key(tenantID, subscriberID string) string {
	return tenantID + "/" + subscriberID
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, subscriberID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byKey[key(tenantID, subscriberID)]
	if !ok || p.DeletedAt != nil {
		return nil, ErrProfileNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *MemoryStore) Save(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	p.UpdatedAt = now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	clone := *p
	s.byKey[key(p.TenantID, p.SubscriberID)] = &clone
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, tenantID, subscriberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byKey[key(tenantID, subscriberID)]
	if !ok {
		return ErrProfileNotFound
	}
	now := time.Now().UTC()
	p.DeletedAt = &now
	return nil
}
