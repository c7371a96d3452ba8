// Package retention runs the periodic cleanup: expired sessions are marked terminal,
// old audit entries and idle rate-limit counters are pruned.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"embedded-sessions/internal/platform/logger"
)

// DefaultSchedule runs the job every 15 minutes.
const DefaultSchedule = "*/15 * * * *"

// SessionExpirer marks sessions past their absolute lifetime as expired.
type SessionExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// AuditPruner deletes audit entries older than a cutoff.
type AuditPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// CounterPruner deletes rate-limit counters idle since a cutoff.
type CounterPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Config controls one Job.
type Config struct {
	Schedule string
	// AuditRetention keeps audit entries this long. 0 keeps them forever.
	AuditRetention time.Duration
	// CounterIdle prunes rate-limit counters not touched for this long. 0 disables pruning.
	CounterIdle time.Duration
	// BatchSize caps sessions expired per batch; the job loops until a short batch.
	BatchSize int
	Timeout   time.Duration
}

// Result summarizes one run.
type Result struct {
	Expired        int
	AuditDeleted   int64
	CounterDeleted int64
}

// Job is the retention task and its scheduler.
type Job struct {
	sessions SessionExpirer
	audit    AuditPruner
	counters CounterPruner
	cfg      Config
	now      func() time.Time

	mu        sync.Mutex
	scheduler *cron.Cron
	running   sync.Mutex
}

// New returns a Job. audit and counters may be nil.
func New(sessions SessionExpirer, audit AuditPruner, counters CounterPruner, cfg Config) *Job {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Job{sessions: sessions, audit: audit, counters: counters, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source used for cutoffs.
func (j *Job) WithClock(now func() time.Time) *Job {
	if now != nil {
		j.now = now
	}
	return j
}

// Start schedules the job. It returns an error for an invalid cron expression.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.scheduler != nil {
		return errors.New("retention: already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(j.cfg.Schedule, j.tick); err != nil {
		return fmt.Errorf("retention: schedule %q: %w", j.cfg.Schedule, err)
	}
	c.Start()
	j.scheduler = c
	logger.Info().Str("schedule", j.cfg.Schedule).Msg("retention: scheduler started")
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	c := j.scheduler
	j.scheduler = nil
	j.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (j *Job) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.Timeout)
	defer cancel()
	res, err := j.RunOnce(ctx)
	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.
		Int("expired", res.Expired).
		Int64("audit_deleted", res.AuditDeleted).
		Int64("counters_deleted", res.CounterDeleted).
		Msg("retention: run finished")
}

// RunOnce performs one retention pass. Overlapping calls are skipped.
// Every step runs even if an earlier one fails; the errors are joined.
func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	if !j.running.TryLock() {
		logger.Warn().Msg("retention: previous run still in progress, skipping")
		return res, nil
	}
	defer j.running.Unlock()

	var errs []error
	for {
		n, err := j.sessions.ExpireStale(ctx, j.cfg.BatchSize)
		res.Expired += n
		if err != nil {
			errs = append(errs, fmt.Errorf("expire sessions: %w", err))
			break
		}
		if n < j.cfg.BatchSize || ctx.Err() != nil {
			break
		}
	}

	now := j.now().UTC()
	if j.audit != nil && j.cfg.AuditRetention > 0 {
		n, err := j.audit.DeleteBefore(ctx, now.Add(-j.cfg.AuditRetention))
		res.AuditDeleted = n
		if err != nil {
			errs = append(errs, fmt.Errorf("prune audit: %w", err))
		}
	}
	if j.counters != nil && j.cfg.CounterIdle > 0 {
		n, err := j.counters.Prune(ctx, now.Add(-j.cfg.CounterIdle))
		res.CounterDeleted = n
		if err != nil {
			errs = append(errs, fmt.Errorf("prune rate limits: %w", err))
		}
	}
	return res, errors.Join(errs...)
}
