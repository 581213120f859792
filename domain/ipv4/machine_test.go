package ipv4

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
	configured bool
	allocated  map[string]bool
	nextID     int
}

func newFakeIPAM() *fakeIPAM {
	return &fakeIPAM{configured: true, allocated: map[string]bool{}}
}

func (f *fakeIPAM) AllocateIPv4(ctx context.Context, tenantID, poolID string, metadata map[string]any) (*collaborators.IPv4Lease, error) {
	f.nextID++
	id := "netbox-ip-1"
	f.allocated[id] = true
	return &collaborators.IPv4Lease{Address: "10.0.0.5", NetboxIPID: id}, nil
}

func (f *fakeIPAM) ReleaseIPv4(ctx context.Context, netboxIPID string) error {
	delete(f.allocated, netboxIPID)
	return nil
}

func (f *fakeIPAM) AllocateIPv6Prefix(ctx context.Context, tenantID string, prefixLength int, parentPrefixID, description string) (*collaborators.IPv6Delegation, error) {
	return nil, collaborators.ErrIPAMNotConfigured
}

func (f *fakeIPAM) ReleaseIPv6Prefix(ctx context.Context, netboxPrefixID string) error { return nil }

func (f *fakeIPAM) Configured() bool { return f.configured }

func TestIPv4AllocateActivateSuspendReactivateRevoke(t *testing.T) {
	profiles := subscriber.NewMemoryStore()
	ipam := newFakeIPAM()
	coa := collaborators.NewNoopRadiusCoAClient()
	m := New(profiles, ipam, coa, nil)
	ctx := context.Background()
	in := lifecycle.AllocateInput{SubscriberID: "sub-1", TenantID: "tenant-a", PoolID: "pool-1"}

	res, err := m.Allocate(ctx, true, in)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateAllocated, res.State)
	assert.Equal(t, "10.0.0.5", res.Address)
	assert.Len(t, ipam.allocated, 1)

	actIn := lifecycle.ActivateInput{SubscriberID: "sub-1", TenantID: "tenant-a"}
	res, err = m.Activate(ctx, true, actIn)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateActive, res.State)

	res, err = m.Suspend(ctx, true, actIn)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateSuspended, res.State)

	res, err = m.Reactivate(ctx, true, actIn)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateActive, res.State)

	revIn := lifecycle.RevokeInput{SubscriberID: "sub-1", TenantID: "tenant-a", ReleaseToPool: true}
	res, err = m.Revoke(ctx, true, revIn)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRevoked, res.State)
	assert.Empty(t, res.Address)
	assert.Empty(t, ipam.allocated)

	// Idempotent revoke.
	res, err = m.Revoke(ctx, true, revIn)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRevoked, res.State)
}

func TestIPv4AllocateFallsBackToStaticAddress(t *testing.T) {
	profiles := subscriber.NewMemoryStore()
	require.NoError(t, profiles.Save(context.Background(), &subscriber.Profile{
		TenantID: "tenant-a", SubscriberID: "sub-2",
		IPv4State: lifecycle.StatePending, StaticIPv4Address: "192.168.1.10",
	}))
	m := New(profiles, collaborators.NewNoopIPAMClient(), collaborators.NewNoopRadiusCoAClient(), nil)

	res, err := m.Allocate(context.Background(), true, lifecycle.AllocateInput{SubscriberID: "sub-2", TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10", res.Address)
}

func TestIPv4AllocateFailsWithoutIPAMOrStaticAddress(t *testing.T) {
	m := New(subscriber.NewMemoryStore(), collaborators.NewNoopIPAMClient(), collaborators.NewNoopRadiusCoAClient(), nil)
	_, err := m.Allocate(context.Background(), true, lifecycle.AllocateInput{SubscriberID: "sub-3", TenantID: "tenant-a"})
	require.Error(t, err)
	var allocErr *lifecycle.AllocationError
	assert.ErrorAs(t, err, &allocErr)
}

func TestIPv4ActivateRequiresAllocatedState(t *testing.T) {
	m := New(subscriber.NewMemoryStore(), collaborators.NewNoopIPAMClient(), collaborators.NewNoopRadiusCoAClient(), nil)
	_, err := m.Activate(context.Background(), true, lifecycle.ActivateInput{SubscriberID: "sub-4", TenantID: "tenant-a"})
	require.Error(t, err)
}
