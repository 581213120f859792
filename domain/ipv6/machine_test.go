package ipv6

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotmac/ispsaga/domain/lifecycle"
	"github.com/dotmac/ispsaga/domain/subscriber"
	"github.com/dotmac/ispsaga/infrastructure/collaborators"
)

type fakeIPAM struct {
	prefixes map[string]bool
}

func newFakeIPAM() *fakeIPAM { return &fakeIPAM{prefixes: map[string]bool{}} }

func (f *fakeIPAM) AllocateIPv4(ctx context.Context, tenantID, poolID string, metadata map[string]any) (*collaborators.IPv4Lease, error) {
	return nil, collaborators.ErrIPAMNotConfigured
}
func (f *fakeIPAM) ReleaseIPv4(ctx context.Context, netboxIPID string) error { return nil }

func (f *fakeIPAM) AllocateIPv6Prefix(ctx context.Context, tenantID string, prefixLength int, parentPrefixID, description string) (*collaborators.IPv6Delegation, error) {
	id := "netbox-prefix-1"
	f.prefixes[id] = true
	return &collaborators.IPv6Delegation{Prefix: "2001:db8:1::/56", PrefixLength: prefixLength, NetboxPrefixID: id}, nil
}

func (f *fakeIPAM) ReleaseIPv6Prefix(ctx context.Context, netboxPrefixID string) error {
	delete(f.prefixes, netboxPrefixID)
	return nil
}

func (f *fakeIPAM) Configured() bool { return true }

func newProfile(mode subscriber.IPv6AssignmentMode) *subscriber.Profile {
	return &subscriber.Profile{
		TenantID: "tenant-a", SubscriberID: "sub-1",
		IPv6State: lifecycle.StatePending, IPv6AssignmentMode: mode,
	}
}

func TestIPv6AllocateRequiresAssignmentMode(t *testing.T) {
	profiles := subscriber.NewMemoryStore()
	require.NoError(t, profiles.Save(context.Background(), newProfile(subscriber.IPv6ModeNone)))
	m := New(profiles, newFakeIPAM(), collaborators.NewNoopRadiusCoAClient(), nil)

	_, err := m.Allocate(context.Background(), true, lifecycle.AllocateInput{SubscriberID: "sub-1", TenantID: "tenant-a"})
	require.Error(t, err)
	var allocErr *lifecycle.AllocationError
	assert.ErrorAs(t, err, &allocErr)
}

func TestIPv6FullLifecycleAndIdempotentRevoke(t *testing.T) {
	profiles := subscriber.NewMemoryStore()
	require.NoError(t, profiles.Save(context.Background(), newProfile(subscriber.IPv6ModeDualStack)))
	ipam := newFakeIPAM()
	m := New(profiles, ipam, collaborators.NewNoopRadiusCoAClient(), nil)
	ctx := context.Background()

	res, err := m.Allocate(ctx, true, lifecycle.AllocateInput{SubscriberID: "sub-1", TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.Equal(t, "2001:db8:1::/56", res.Address)
	assert.Equal(t, 56, res.Metadata["prefix_length"])

	actIn := lifecycle.ActivateInput{SubscriberID: "sub-1", TenantID: "tenant-a"}
	res, err = m.Activate(ctx, true, actIn)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateActive, res.State)

	revIn := lifecycle.RevokeInput{SubscriberID: "sub-1", TenantID: "tenant-a", ReleaseToPool: true}
	res, err = m.Revoke(ctx, true, revIn)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRevoked, res.State)
	assert.Empty(t, ipam.prefixes)

	p, err := profiles.Get(ctx, "tenant-a", "sub-1")
	require.NoError(t, err)
	assert.Empty(t, p.DelegatedIPv6Prefix)
	assert.Empty(t, p.IPv6NetboxPrefixID)
	assert.Equal(t, lifecycle.StateRevoked, p.IPv6State)

	// Idempotent revoke: no mutation, success.
	res, err = m.Revoke(ctx, true, revIn)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, lifecycle.StateRevoked, res.State)
}

func TestIPv6InvalidPrefixLengthRejected(t *testing.T) {
	profiles := subscriber.NewMemoryStore()
	require.NoError(t, profiles.Save(context.Background(), newProfile(subscriber.IPv6ModePrefixDelegation)))
	m := New(profiles, newFakeIPAM(), collaborators.NewNoopRadiusCoAClient(), nil)

	_, err := m.Allocate(context.Background(), true, lifecycle.AllocateInput{
		SubscriberID: "sub-1", TenantID: "tenant-a",
		Metadata: map[string]any{"prefix_length": 40},
	})
	require.Error(t, err)
}
