// Worker runs the retention schedule and, when KAFKA_BROKERS and LOKI_URL are set,
// forwards audit events from Kafka to Loki.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"embedded-sessions/internal/app"
	"embedded-sessions/internal/config"
	"embedded-sessions/internal/platform/logger"
	"embedded-sessions/internal/retention"
	"embedded-sessions/internal/telemetry/loki"
)

// counterIdle is how long a rate-limit counter may sit untouched before pruning.
const counterIdle = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config")
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup")
	}

	job := retention.New(a.Service, a.AuditRepo, a.Limiter, retention.Config{
		Schedule:       cfg.RetentionSchedule,
		AuditRetention: cfg.AuditRetention(),
		CounterIdle:    counterIdle,
	})
	if err := job.Start(); err != nil {
		logger.Fatal().Err(err).Msg("retention")
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) > 0 && cfg.LokiURL != "" {
		forward(ctx, brokers, cfg)
	} else {
		logger.Info().Msg("worker: audit forwarding disabled (KAFKA_BROKERS or LOKI_URL unset)")
		<-ctx.Done()
	}

	logger.Info().Msg("worker: shutting down...")
	job.Stop()
	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("close")
	}
	logger.Info().Msg("worker: stopped")
}

// forward consumes audit events and pushes each to Loki until ctx is done.
func forward(ctx context.Context, brokers []string, cfg *config.Config) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.AuditKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	client := loki.NewClient(cfg.LokiURL, nil)
	logger.Info().
		Str("topic", cfg.AuditKafkaTopic).
		Str("group", cfg.KafkaGroupID).
		Str("loki", cfg.LokiURL).
		Msg("worker: forwarding audit events")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("worker: kafka read error")
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := client.PushEventJSON(pushCtx, msg.Value); err != nil {
			logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("worker: loki push failed")
		}
		cancel()
	}
}
