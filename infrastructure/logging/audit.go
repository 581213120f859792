package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AuditLogger is a dedicated append-only writer for LifecycleEvent records,
// separate from the general-purpose logrus Logger above. The events it
// writes are the same ones persisted to service.EventStore; this is the
// offline-reconciliation copy, not the source of truth. zap's encoder
// avoids the reflection/allocation cost logrus pays per field on this path,
// which matters because every service status transition emits one of
// these records.
type AuditLogger struct {
	z *zap.Logger
}

// NewAuditLogger builds an AuditLogger writing JSON lines to os.Stdout, at
// info level.
func NewAuditLogger() *AuditLogger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(os.Stdout),
		zap.InfoLevel,
	)
	return &AuditLogger{z: zap.New(core)}
}

// LifecycleEvent writes one audit record for a service lifecycle transition.
func (a *AuditLogger) LifecycleEvent(serviceInstanceID, tenantID, kind, prevStatus, nextStatus, triggeredBy string, success bool) {
	if a == nil || a.z == nil {
		return
	}
	a.z.Info("lifecycle_event",
		zap.String("service_instance_id", serviceInstanceID),
		zap.String("tenant_id", tenantID),
		zap.String("kind", kind),
		zap.String("previous_status", prevStatus),
		zap.String("new_status", nextStatus),
		zap.String("triggered_by", triggeredBy),
		zap.Bool("success", success),
	)
}

// Sync flushes any buffered log entries; call before process exit.
func (a *AuditLogger) Sync() error {
	if a == nil || a.z == nil {
		return nil
	}
	return a.z.Sync()
}
