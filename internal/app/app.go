// Package app builds the embedded-session service graph from configuration.
// cmd/server and cmd/worker share it so both run against the same stores.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"embedded-sessions/internal/audit"
	auditrepo "embedded-sessions/internal/audit/repository"
	"embedded-sessions/internal/config"
	"embedded-sessions/internal/db"
	"embedded-sessions/internal/platform/logger"
	"embedded-sessions/internal/policy/engine"
	"embedded-sessions/internal/ratelimit"
	"embedded-sessions/internal/security"
	"embedded-sessions/internal/session/repository"
	"embedded-sessions/internal/session/service"
	otelsetup "embedded-sessions/internal/telemetry/otel"
	"embedded-sessions/internal/telemetry/producer"
	"embedded-sessions/internal/writekey"
)

// App holds the wired components and everything that must be closed on shutdown.
type App struct {
	Config    *config.Config
	Service   *service.Service
	Recorder  *audit.Recorder
	AuditRepo auditrepo.Repository
	Limiter   *ratelimit.Limiter
	Keys      *writekey.Authorizer
	Telemetry *otelsetup.Providers

	closers []func() error
}

// Build connects the configured backends and returns the service graph.
// Without DATABASE_URL every store is in memory (single instance, development only).
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.Telemetry, err = otelsetup.NewProviders(ctx, cfg.OTELEndpoint, cfg.OTELServiceName, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.Telemetry.SetGlobal()
	a.closers = append(a.closers, func() error { return a.Telemetry.Shutdown(context.Background()) })

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
	} else {
		logger.Warn().Msg("app: DATABASE_URL not set, using in-memory stores")
	}

	var (
		sessions repository.Repository
		keyRepo  writekey.Repository
	)
	if pool != nil {
		sessions = repository.NewPostgresRepository(pool)
		a.AuditRepo = auditrepo.NewPostgresRepository(pool)
		keyRepo = writekey.NewPostgresRepository(pool)
	} else {
		sessions = repository.NewMemoryRepository()
		a.AuditRepo = auditrepo.NewMemoryRepository()
		keyRepo = writekey.NewMemoryRepository()
	}

	store, err := a.rateLimitStore(ctx, pool)
	if err != nil {
		return nil, err
	}
	a.Limiter = ratelimit.NewLimiter(store)

	a.Keys = writekey.NewAuthorizer(keyRepo, security.NewSecretHasher(cfg.BcryptCost))

	var policy *engine.OPAEvaluator
	if cfg.EmbedPolicyFile != "" {
		policy, err = engine.NewOPAEvaluatorFromFile(ctx, cfg.EmbedPolicyFile)
	} else {
		policy, err = engine.NewOPAEvaluator(ctx, "")
	}
	if err != nil {
		return nil, fmt.Errorf("embed policy: %w", err)
	}

	var sinks []audit.Sink
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuditKafkaTopic); kp != nil {
		sinks = append(sinks, kp)
		a.closers = append(a.closers, kp.Close)
	}
	if cfg.OTELEndpoint != "" {
		sinks = append(sinks, otelsetup.NewAuditEmitter(a.Telemetry.LoggerProvider))
	}
	a.Recorder = audit.NewRecorder(a.AuditRepo, sinks...)

	tokens := security.NewTokenCodec([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	a.Service = service.New(sessions, a.Limiter, a.Keys, policy, a.Recorder, tokens, service.Config{
		AccessTTL:     cfg.AccessTTL(),
		RefreshTTL:    cfg.RefreshTTL(),
		MaxSessions:   cfg.MaxSessionsPerWorkspace,
		CreateLimit:   cfg.CreateRateLimit,
		CreateWindow:  cfg.CreateWindow(),
		RefreshLimit:  cfg.RefreshRateLimit,
		RefreshWindow: cfg.RefreshWindow(),
		ReuseGrace:    cfg.ReuseGrace(),
		StoreTimeout:  cfg.StoreTimeout,
	})
	return a, nil
}

func (a *App) rateLimitStore(ctx context.Context, pool *pgxpool.Pool) (ratelimit.Store, error) {
	switch a.Config.RateLimitBackend {
	case config.BackendPostgres:
		if pool == nil {
			return nil, errors.New("rate limit: postgres backend requires DATABASE_URL")
		}
		return ratelimit.NewPostgresStore(pool), nil
	case config.BackendRedis:
		opts, err := goredis.ParseURL(a.Config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("rate limit: redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("rate limit: redis ping: %w", err)
		}
		return ratelimit.NewRedisStore(client), nil
	default:
		return ratelimit.NewMemoryStore(), nil
	}
}

// Close drains pending audit writes, then closes connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	if a.Recorder != nil {
		done := make(chan struct{})
		go func() {
			a.Recorder.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			logger.Warn().Msg("app: audit drain interrupted")
		}
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
