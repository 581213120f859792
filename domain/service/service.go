// Package service holds the ServiceInstance and LifecycleEvent entities
// of spec.md §3, and the per-service status state machine of §4.H.
package service

import "time"

// Status enumerates the ServiceInstance.status state machine of spec.md
// §4.H.
type Status string

const (
	StatusPending                Status = "pending"
	StatusProvisioning           Status = "provisioning"
	StatusActive                 Status = "active"
	StatusSuspended              Status = "suspended"
	StatusSuspendedFraud         Status = "suspended_fraud"
	StatusSuspendedNonPayment    Status = "suspended_non_payment"
	StatusTerminating            Status = "terminating"
	StatusTerminated             Status = "terminated"
	StatusFailed                 Status = "failed"
)

// IsSuspended reports whether s is one of the suspended-family statuses.
func (s Status) IsSuspended() bool {
	switch s {
	case StatusSuspended, StatusSuspendedFraud, StatusSuspendedNonPayment:
		return true
	}
	return false
}

// transitions enumerates the legal service status graph of spec.md §4.H.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProvisioning: true,
	},
	StatusProvisioning: {
		StatusActive: true,
		StatusFailed: true,
	},
	StatusActive: {
		StatusSuspended:           true,
		StatusSuspendedFraud:      true,
		StatusSuspendedNonPayment: true,
		StatusTerminating:         true,
		StatusTerminated:          true,
	},
	StatusSuspended: {
		StatusActive:      true,
		StatusTerminating: true,
		StatusTerminated:  true,
	},
	StatusSuspendedFraud: {
		StatusActive:      true,
		StatusTerminating: true,
		StatusTerminated:  true,
	},
	StatusSuspendedNonPayment: {
		StatusActive:      true,
		StatusTerminating: true,
		StatusTerminated:  true,
	},
	StatusTerminating: {
		StatusTerminated: true,
	},
	StatusTerminated: {},
	StatusFailed:     {},
}

// ValidateStatusTransition reports whether moving from current to target is
// a legal service status transition.
func ValidateStatusTransition(current, target Status) bool {
	targets, ok := transitions[current]
	if !ok {
		return false
	}
	return targets[target]
}

// SuspensionType discriminates the kind of suspension requested, per
// spec.md §6 SuspendServiceRequest.
type SuspensionType string

const (
	SuspensionFraud      SuspensionType = "fraud"
	SuspensionNonPayment SuspensionType = "non_payment"
	SuspensionOther      SuspensionType = "other"
)

// HealthCheckResult is the last recorded health-check outcome.
type HealthCheckResult struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
}

// Equipment is one item of installed equipment tracked against a service.
type Equipment struct {
	Kind       string
	DeviceID   string
	SerialNo   string
	InstalledAt time.Time
}

// Instance is the ServiceInstance entity of spec.md §3.
type Instance struct {
	ID           string
	TenantID     string
	ServiceName  string
	ServiceType  string

	CustomerID     string
	SubscriptionID string
	SubscriberID   string // back-reference used for IPv6 revoke at termination

	Status           Status
	ProvisioningSubStatus string

	ProvisioningStartedAt *time.Time
	ProvisionedAt         *time.Time
	ActivatedAt           *time.Time
	SuspendedAt           *time.Time
	TerminatedAt          *time.Time

	SuspensionType    SuspensionType
	SuspensionReason  string
	AutoResumeAt      *time.Time

	InstallationMetadata map[string]any
	Equipment            []Equipment
	VLAN                 int

	LastHealthCheck *HealthCheckResult

	Metadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventKind enumerates LifecycleEvent.event kind values emitted by the
// service orchestrator.
type EventKind string

const (
	EventProvisionRequested  EventKind = "provision_requested"
	EventProvisioningStarted EventKind = "provisioning_started"
	EventActivationCompleted EventKind = "activation_completed"
	EventSuspended           EventKind = "suspended"
	EventResumed             EventKind = "resumed"
	EventTerminated          EventKind = "terminated"
	EventTerminationScheduled EventKind = "termination_scheduled"
	EventModified            EventKind = "modified"
	EventHealthCheck         EventKind = "health_check"
	EventProvisioningFailed  EventKind = "provisioning_failed"
	EventRolledBack          EventKind = "rolled_back"
)

// TriggerKind identifies who/what triggered a LifecycleEvent.
type TriggerKind string

const (
	TriggerUser   TriggerKind = "user"
	TriggerSystem TriggerKind = "system"
)

// Event is the LifecycleEvent entity of spec.md §3: an append-only audit
// record written by the service machine in the same transaction as the
// state change it records.
type Event struct {
	ID                string
	ServiceInstanceID string
	Kind              EventKind

	PreviousStatus Status
	NewStatus      Status

	Description string
	Success     bool

	TriggeredBy   string
	TriggerKind   TriggerKind

	EventData map[string]any

	OccurredAt time.Time
}
