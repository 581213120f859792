// Package collaborators defines the external-system contracts the
// orchestration core depends on (IPAM, RADIUS CoA, access-node, CPE,
// billing) and ships null-object stub implementations for each, following
// the Design Notes' "optional collaborators" pattern: a lifecycle machine
// or handler with no collaborator configured gets a stub that reports
// "not configured" instead of requiring nil checks everywhere.
package collaborators

import (
	"context"
	"fmt"
)

// IPv4Lease is the record returned by an IPv4 address allocation.
type IPv4Lease struct {
	Address    string
	NetboxIPID string
}

// IPv6Delegation is the record returned by an IPv6 prefix allocation.
type IPv6Delegation struct {
	Prefix         string
	PrefixLength   int
	NetboxPrefixID string
}

// IPAMClient allocates and releases IPv4 addresses and IPv6 prefixes.
// Contract only, per spec.md §6 "Address IPAM".
type IPAMClient interface {
	AllocateIPv4(ctx context.Context, tenantID, poolID string, metadata map[string]any) (*IPv4Lease, error)
	ReleaseIPv4(ctx context.Context, netboxIPID string) error

	AllocateIPv6Prefix(ctx context.Context, tenantID string, prefixLength int, parentPrefixID, description string) (*IPv6Delegation, error)
	ReleaseIPv6Prefix(ctx context.Context, netboxPrefixID string) error

	// Configured reports whether a real IPAM backend is wired in. Machines
	// use this to decide whether to fall back to a static pre-configured
	// address instead of raising AllocationError.
	Configured() bool
}

// ErrIPAMNotConfigured is returned by the null-object IPAM stub.
var ErrIPAMNotConfigured = fmt.Errorf("ipam collaborator not configured")

// NoopIPAMClient is the null-object IPAM implementation: allocations fail
// with ErrIPAMNotConfigured, releases are no-ops returning nil, and
// Configured() reports false, so callers know to fall back to a static
// address rather than treat this as a transient failure.
type NoopIPAMClient struct{}

func NewNoopIPAMClient() *NoopIPAMClient { return &NoopIPAMClient{} }

func (n *NoopIPAMClient) AllocateIPv4(ctx context.Context, tenantID, poolID string, metadata map[string]any) (*IPv4Lease, error) {
	return nil, ErrIPAMNotConfigured
}

func (n *NoopIPAMClient) ReleaseIPv4(ctx context.Context, netboxIPID string) error {
	return nil
}

func (n *NoopIPAMClient) AllocateIPv6Prefix(ctx context.Context, tenantID string, prefixLength int, parentPrefixID, description string) (*IPv6Delegation, error) {
	return nil, ErrIPAMNotConfigured
}

func (n *NoopIPAMClient) ReleaseIPv6Prefix(ctx context.Context, netboxPrefixID string) error {
	return nil
}

func (n *NoopIPAMClient) Configured() bool { return false }
