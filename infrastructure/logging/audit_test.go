package logging_test

import (
	"testing"

	"github.com/dotmac/ispsaga/infrastructure/logging"
)

func TestAuditLogger_LifecycleEventDoesNotPanic(t *testing.T) {
	audit := logging.NewAuditLogger()
	audit.LifecycleEvent("svc-1", "tenant-a", "terminated", "active", "terminated", "operator-1", true)
	if err := audit.Sync(); err != nil {
		// stdout sync commonly errors on non-file descriptors in test
		// runners; only fail on unexpected nil-receiver panics above.
		t.Logf("sync: %v", err)
	}
}

func TestAuditLogger_NilReceiverIsSafe(t *testing.T) {
	var audit *logging.AuditLogger
	audit.LifecycleEvent("svc-1", "tenant-a", "terminated", "active", "terminated", "operator-1", true)
	if err := audit.Sync(); err != nil {
		t.Fatalf("nil receiver Sync should be a no-op, got %v", err)
	}
}
