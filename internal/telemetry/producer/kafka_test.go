package producer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"embedded-sessions/internal/audit/domain"
	"embedded-sessions/internal/telemetry"
)

type memWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *memWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaProducer_Disabled(t *testing.T) {
	if p := NewKafkaProducer(nil, "topic"); p != nil {
		t.Error("expected nil producer without brokers")
	}
	if p := NewKafkaProducer([]string{"localhost:9092"}, ""); p != nil {
		t.Error("expected nil producer without topic")
	}
	var p *KafkaProducer
	if err := p.Write(context.Background(), &domain.Entry{}); err != nil {
		t.Errorf("nil producer Write: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil producer Close: %v", err)
	}
}

func TestKafkaProducer_Write(t *testing.T) {
	w := &memWriter{}
	p := &KafkaProducer{writer: w, topic: "audit"}
	ts := time.Date(2025, 5, 5, 5, 5, 5, 0, time.UTC)

	err := p.Write(context.Background(), &domain.Entry{
		ID:            "a1",
		SessionID:     "s1",
		WorkspaceID:   "ws1",
		Action:        domain.ActionReuseDetected,
		Timestamp:     ts,
		FailureReason: domain.FailureTokenReuse,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "ws1" {
		t.Errorf("key = %q, want ws1", msg.Key)
	}
	var ev telemetry.AuditEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.Action != "reuse_detected" || ev.SessionID != "s1" || ev.Source != telemetry.Source || !ev.CreatedAt.Equal(ts) {
		t.Errorf("event = %+v", ev)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close: err=%v closed=%v", err, w.closed)
	}
}
