package lifecycle

import (
	"context"
	"time"
)

// LifecycleResult is the common result shape both the IPv4 and IPv6
// machines produce, so callers (the service orchestrator, the HTTP facade)
// can handle either uniformly.
type LifecycleResult struct {
	Success      bool
	State        State
	Address      string
	SubscriberID string
	TenantID     string
	AllocatedAt  *time.Time
	ActivatedAt  *time.Time
	SuspendedAt  *time.Time
	RevokedAt    *time.Time
	Metadata     map[string]any

	// CoAWarning carries a non-fatal CoA/Disconnect-Message/IPAM-release
	// failure message. The operation still reports Success=true; this is
	// surfaced for logging and operator visibility only.
	CoAWarning string
}

// AllocateInput carries the parameters common to both address machines'
// allocate operation.
type AllocateInput struct {
	SubscriberID string
	TenantID     string
	PoolID       string
	RequestedAddress string
	Metadata     map[string]any
}

// ActivateInput carries the parameters common to both address machines'
// activate/suspend/reactivate operations.
type ActivateInput struct {
	SubscriberID string
	TenantID     string
	SendCoA      bool
	Username     string
	NASIP        string
}

// RevokeInput carries the parameters common to both address machines'
// revoke operation.
type RevokeInput struct {
	SubscriberID  string
	TenantID      string
	ReleaseToPool bool
	Username      string
	NASIP         string
}

// Machine is the unified address lifecycle protocol implemented by
// domain/ipv4 and domain/ipv6. Every mutating operation takes a commit
// flag: when false, the machine stages its changes in the current
// transaction so the caller can batch them with its own writes.
type Machine interface {
	Allocate(ctx context.Context, commit bool, in AllocateInput) (*LifecycleResult, error)
	Activate(ctx context.Context, commit bool, in ActivateInput) (*LifecycleResult, error)
	Suspend(ctx context.Context, commit bool, in ActivateInput) (*LifecycleResult, error)
	Reactivate(ctx context.Context, commit bool, in ActivateInput) (*LifecycleResult, error)
	Revoke(ctx context.Context, commit bool, in RevokeInput) (*LifecycleResult, error)
	GetState(ctx context.Context, subscriberID, tenantID string) (*LifecycleResult, error)
	ValidateTransition(current, target State) bool
}
