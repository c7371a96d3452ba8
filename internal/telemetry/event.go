// Package telemetry carries audit events out of the service: Kafka, OTel logs and Loki.
package telemetry

import (
	"time"

	"embedded-sessions/internal/audit/domain"
)

// Source labels every event emitted by this service.
const Source = "embedded-sessions"

// AuditEvent is the JSON wire form of an audit entry on Kafka and in Loki.
// Tokens and hashes are never part of it.
type AuditEvent struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId,omitempty"`
	WorkspaceID   string    `json:"workspaceId"`
	Action        string    `json:"action"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failureReason,omitempty"`
	IPAddress     string    `json:"ipAddress,omitempty"`
	UserAgent     string    `json:"userAgent,omitempty"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewAuditEvent converts an audit entry to its wire form.
func NewAuditEvent(e *domain.Entry) AuditEvent {
	return AuditEvent{
		ID:            e.ID,
		SessionID:     e.SessionID,
		WorkspaceID:   e.WorkspaceID,
		Action:        string(e.Action),
		Success:       e.Success,
		FailureReason: e.FailureReason,
		IPAddress:     e.IPAddress,
		UserAgent:     e.UserAgent,
		Source:        Source,
		CreatedAt:     e.Timestamp.UTC(),
	}
}
