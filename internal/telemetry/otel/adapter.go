package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"embedded-sessions/internal/audit/domain"
	"embedded-sessions/internal/telemetry"
)

// AuditEmitter sends audit entries as OTel log records. It satisfies audit.Sink.
type AuditEmitter struct {
	logger otellog.Logger
}

// NewAuditEmitter returns an emitter backed by provider, or nil when provider is nil.
func NewAuditEmitter(provider *sdklog.LoggerProvider) *AuditEmitter {
	if provider == nil {
		return nil
	}
	return &AuditEmitter{logger: provider.Logger("embedded-sessions.audit")}
}

// Write converts the entry to a log record. Failed actions are emitted at WARN.
func (e *AuditEmitter) Write(ctx context.Context, entry *domain.Entry) error {
	if e == nil || entry == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now().UTC())
	rec.SetBody(otellog.StringValue("embedded session " + string(entry.Action)))
	if entry.Success {
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetSeverityText("INFO")
	} else {
		rec.SetSeverity(otellog.SeverityWarn)
		rec.SetSeverityText("WARN")
	}
	rec.AddAttributes(
		otellog.String("action", string(entry.Action)),
		otellog.String("workspace_id", entry.WorkspaceID),
		otellog.Bool("success", entry.Success),
		otellog.String("source", telemetry.Source),
	)
	if entry.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", entry.SessionID))
	}
	if entry.FailureReason != "" {
		rec.AddAttributes(otellog.String("failure_reason", entry.FailureReason))
	}
	if entry.IPAddress != "" {
		rec.AddAttributes(otellog.String("client_ip", entry.IPAddress))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
