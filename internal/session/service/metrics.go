package service

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"embedded-sessions/internal/platform/logger"
	"embedded-sessions/internal/ratelimit"
)

type metrics struct {
	created       metric.Int64Counter
	refreshed     metric.Int64Counter
	reuseDetected metric.Int64Counter
	rateLimited   metric.Int64Counter
	revoked       metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("embedded-sessions/session")
	return &metrics{
		created:       counter(meter, "embedded_sessions.created", "Sessions created"),
		refreshed:     counter(meter, "embedded_sessions.refreshed", "Successful refresh-token rotations"),
		reuseDetected: counter(meter, "embedded_sessions.reuse_detected", "Refresh-token replays that revoked a family"),
		rateLimited:   counter(meter, "embedded_sessions.rate_limited", "Requests denied by the rate limiter"),
		revoked:       counter(meter, "embedded_sessions.revoked", "Explicit revocations"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		logger.Warn().Err(err).Str("metric", name).Msg("session: counter unavailable")
		c, _ = noop.NewMeterProvider().Meter("noop").Int64Counter(name)
	}
	return c
}

func kindAttr(kind ratelimit.Kind) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", string(kind)))
}
