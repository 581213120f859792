// Package workflow holds the Workflow and WorkflowStep entities of
// spec.md §3: durable records of saga runs, their status/kind enums, and
// the store interfaces the saga orchestrator persists through.
package workflow

import (
	"time"
)

// Kind enumerates the workflow kinds the core orchestrates.
type Kind string

const (
	KindProvisionSubscriber   Kind = "provision_subscriber"
	KindDeprovisionSubscriber Kind = "deprovision_subscriber"
	KindActivateService       Kind = "activate_service"
	KindSuspendService        Kind = "suspend_service"
	KindTerminateService      Kind = "terminate_service"
	KindChangeServicePlan     Kind = "change_service_plan"
	KindUpdateNetworkConfig   Kind = "update_network_config"
	KindMigrateSubscriber     Kind = "migrate_subscriber"
)

// Status enumerates the legal workflow lifecycle states of spec.md §4.E.
type Status string

const (
	StatusPending            Status = "pending"
	StatusRunning            Status = "running"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusRollingBack        Status = "rolling_back"
	StatusRolledBack         Status = "rolled_back"
	StatusRollbackFailed     Status = "rollback_failed"
	StatusTimeout            Status = "timeout"
	StatusCompensated        Status = "compensated"
)

// InitiatorKind identifies who started a workflow.
type InitiatorKind string

const (
	InitiatorUser   InitiatorKind = "user"
	InitiatorSystem InitiatorKind = "system"
	InitiatorAPI    InitiatorKind = "api"
)

// transitions enumerates the legal workflow status graph. Built once, the
// way domain/lifecycle builds its address-state transition table.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:     true,
		StatusRollingBack: true,
	},
	StatusRunning: {
		StatusCompleted:          true,
		StatusFailed:             true,
		StatusPartiallyCompleted: true,
		StatusRollingBack:        true,
		StatusTimeout:            true,
	},
	StatusFailed: {
		StatusRollingBack: true,
		StatusPending:     true, // retry_failed_workflow
	},
	StatusRollingBack: {
		StatusRolledBack:     true,
		StatusRollbackFailed: true,
		StatusCompensated:    true,
	},
	StatusRolledBack: {
		StatusPending: true, // retry_failed_workflow restarts from scratch
	},
	StatusTimeout: {
		StatusRollingBack: true,
	},
	StatusCompleted:          {},
	StatusPartiallyCompleted: {},
	StatusRollbackFailed:     {},
	StatusCompensated:        {},
}

// ValidateStatusTransition reports whether moving from current to target is
// a legal workflow status transition.
func ValidateStatusTransition(current, target Status) bool {
	targets, ok := transitions[current]
	if !ok {
		return false
	}
	return targets[target]
}

// ErrorInfo carries a user-visible failure description per spec.md §7.
type ErrorInfo struct {
	StepName  string `json:"step_name,omitempty"`
	Sequence  int    `json:"sequence,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Workflow is one run of a saga, per spec.md §3.
type Workflow struct {
	ID       string
	Kind     Kind
	Status   Status
	TenantID string

	InitiatorID   string
	InitiatorKind InitiatorKind

	Input  map[string]any
	Output map[string]any

	// Context is the only mutable state carried between step handlers
	// within a workflow run (spec.md §4.E "Context semantics"). Persisted
	// only at workflow boundaries and during compensation.
	Context map[string]any

	StartedAt               *time.Time
	CompletedAt             *time.Time
	FailedAt                *time.Time
	CompensationStartedAt   *time.Time
	CompensationCompletedAt *time.Time

	RetryCount int
	MaxRetries int

	Error             *ErrorInfo
	CompensationError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepKind enumerates the step.kind discriminator of spec.md §4.F.
type StepKind string

const (
	StepKindDatabase StepKind = "database"
	StepKindAPI      StepKind = "api"
	StepKindExternal StepKind = "external"
)

// StepStatus enumerates the legal step lifecycle states of spec.md §3.
type StepStatus string

const (
	StepStatusPending             StepStatus = "pending"
	StepStatusRunning             StepStatus = "running"
	StepStatusCompleted           StepStatus = "completed"
	StepStatusFailed              StepStatus = "failed"
	StepStatusSkipped             StepStatus = "skipped"
	StepStatusCompensating        StepStatus = "compensating"
	StepStatusCompensated         StepStatus = "compensated"
	StepStatusCompensationFailed  StepStatus = "compensation_failed"
)

// Step is one step within a workflow run, per spec.md §3.
type Step struct {
	ID             string
	WorkflowID     string
	SequenceNumber int

	Name         string
	Kind         StepKind
	TargetSystem string
	Status       StepStatus

	Input             map[string]any
	Output            map[string]any
	CompensationData  map[string]any

	CompensationHandler string

	RetryCount int
	MaxRetries int

	Error *ErrorInfo

	StartedAt    *time.Time
	CompletedAt  *time.Time
	FailedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
