package servicelifecycle

import (
	"context"
	"time"

	"github.com/dotmac/ispsaga/domain/service"
)

// BulkOperationKind enumerates the operations BulkServiceOperation accepts,
// per spec.md §4.H.
type BulkOperationKind string

const (
	BulkOpSuspend     BulkOperationKind = "suspend"
	BulkOpResume      BulkOperationKind = "resume"
	BulkOpTerminate   BulkOperationKind = "terminate"
	BulkOpHealthCheck BulkOperationKind = "health_check"
)

// BulkItemResult is one service instance's outcome within a
// BulkServiceOperation call.
type BulkItemResult struct {
	ServiceInstanceID string
	Success           bool
	Error             string
}

// BulkOperationResult envelopes the per-item outcomes of a
// BulkServiceOperation call. Individual failures never abort the batch
// (spec.md §8 boundary behaviour: 100 services, 1 failure mid-batch → 99
// succeed + 1 error).
type BulkOperationResult struct {
	Kind       BulkOperationKind
	Items      []BulkItemResult
	Successes  int
	Failures   int
}

// BulkOperationInput carries the parameters a bulk operation needs to
// apply uniformly across every service id in the batch.
type BulkOperationInput struct {
	Reason          string
	SuspensionType  service.SuspensionType
	AutoResumeAt    *time.Time
	TerminationDate *time.Time
	TriggeredBy     string
	HealthChecker   HealthChecker
}

// BulkServiceOperation applies one operation kind across serviceIDs,
// collecting per-item outcomes; it never aborts the batch on an
// individual failure, per spec.md §4.H.
func (o *Orchestrator) BulkServiceOperation(ctx context.Context, kind BulkOperationKind, serviceIDs []string, in BulkOperationInput) *BulkOperationResult {
	result := &BulkOperationResult{Kind: kind, Items: make([]BulkItemResult, 0, len(serviceIDs))}
	for _, id := range serviceIDs {
		item := BulkItemResult{ServiceInstanceID: id}
		var err error
		switch kind {
		case BulkOpSuspend:
			_, err = o.SuspendService(ctx, id, in.SuspensionType, in.Reason, in.AutoResumeAt, in.TriggeredBy)
		case BulkOpResume:
			_, err = o.ResumeService(ctx, id, in.TriggeredBy)
		case BulkOpTerminate:
			_, err = o.TerminateService(ctx, id, in.Reason, in.TerminationDate, in.TriggeredBy)
		case BulkOpHealthCheck:
			_, err = o.PerformHealthCheck(ctx, id, in.HealthChecker)
		default:
			err = errUnsupportedBulkOperation(kind)
		}
		if err != nil {
			item.Success = false
			item.Error = err.Error()
			result.Failures++
		} else {
			item.Success = true
			result.Successes++
		}
		result.Items = append(result.Items, item)
	}
	return result
}

type unsupportedBulkOperationError struct{ kind BulkOperationKind }

func (e unsupportedBulkOperationError) Error() string {
	return "servicelifecycle: unsupported bulk operation kind " + string(e.kind)
}

func errUnsupportedBulkOperation(kind BulkOperationKind) error {
	return unsupportedBulkOperationError{kind: kind}
}
