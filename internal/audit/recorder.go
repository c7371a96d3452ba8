package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"embedded-sessions/internal/audit/domain"
	auditrepo "embedded-sessions/internal/audit/repository"
	"embedded-sessions/internal/platform/logger"
)

// UnknownWorkspaceID is recorded when an event cannot be tied to a workspace
// (e.g. a refresh token that matches no session).
const UnknownWorkspaceID = "_unknown"

// DefaultWriteTimeout bounds a single asynchronous audit write across all sinks.
const DefaultWriteTimeout = 5 * time.Second

// Sink receives a copy of every recorded entry in addition to the repository.
type Sink interface {
	Write(ctx context.Context, e *domain.Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e *domain.Entry) error

func (f SinkFunc) Write(ctx context.Context, e *domain.Entry) error { return f(ctx, e) }

// AuditRecorder is what the session service depends on.
type AuditRecorder interface {
	Record(ctx context.Context, e domain.Entry)
}

// Recorder persists audit entries asynchronously. Record never blocks on I/O and never
// fails the caller; write failures are logged and counted.
type Recorder struct {
	repo     auditrepo.Repository
	sinks    []Sink
	timeout  time.Duration
	now      func() time.Time
	failures metric.Int64Counter
	wg       sync.WaitGroup
}

// NewRecorder returns a Recorder writing to repo and every non-nil sink. repo may be nil.
func NewRecorder(repo auditrepo.Repository, sinks ...Sink) *Recorder {
	r := &Recorder{
		repo:    repo,
		timeout: DefaultWriteTimeout,
		now:     time.Now,
	}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	counter, err := otel.Meter("embedded-sessions/audit").Int64Counter(
		"embedded_sessions.audit.failures",
		metric.WithDescription("Audit writes that failed in any sink"),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("audit: failure counter unavailable")
	}
	r.failures = counter
	return r
}

// WithTimeout overrides DefaultWriteTimeout.
func (r *Recorder) WithTimeout(d time.Duration) *Recorder {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// WithClock replaces the time source used to stamp entries.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	if now != nil {
		r.now = now
	}
	return r
}

// Record stamps e and writes it in the background. Request cancellation does not abort
// the write; it runs under its own timeout.
func (r *Recorder) Record(ctx context.Context, e domain.Entry) {
	if r == nil || (r.repo == nil && len(r.sinks) == 0) {
		return
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if e.WorkspaceID == "" {
		e.WorkspaceID = UnknownWorkspaceID
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		r.write(writeCtx, &e)
	}()
}

// Wait blocks until all in-flight writes finish. Call during shutdown and in tests.
func (r *Recorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

func (r *Recorder) write(ctx context.Context, e *domain.Entry) {
	if r.repo != nil {
		if err := r.repo.Create(ctx, e); err != nil {
			r.fail(ctx, e, "repository", err)
		}
	}
	for _, s := range r.sinks {
		if err := s.Write(ctx, e); err != nil {
			r.fail(ctx, e, "sink", err)
		}
	}
}

func (r *Recorder) fail(ctx context.Context, e *domain.Entry, target string, err error) {
	logger.Error().
		Err(err).
		Str("target", target).
		Str("action", string(e.Action)).
		Str("session_id", e.SessionID).
		Str("workspace_id", e.WorkspaceID).
		Msg("audit: failed to record event")
	if r.failures != nil {
		r.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("target", target),
			attribute.String("action", string(e.Action)),
		))
	}
}
