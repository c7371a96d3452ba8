// Package health publishes service readiness on the standard gRPC health service.
package health

import (
	"context"
	"sort"
	"strings"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"embedded-sessions/internal/platform/logger"
	"embedded-sessions/internal/session/service"
)

// ServiceName is the gRPC health service name for the embedded-session API.
// The empty name reports the same status.
const ServiceName = "embedded_sessions"

// Reporter runs the dependency checks.
type Reporter interface {
	Health(ctx context.Context) service.HealthReport
}

// Monitor polls a Reporter and mirrors the result into a grpc health server.
type Monitor struct {
	reporter Reporter
	server   *grpchealth.Server
	interval time.Duration
}

// NewMonitor returns a Monitor. A non-positive interval defaults to 10s.
func NewMonitor(reporter Reporter, server *grpchealth.Server, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{reporter: reporter, server: server, interval: interval}
}

// Check runs one round of checks, updates the serving status and reports readiness.
func (m *Monitor) Check(ctx context.Context) bool {
	report := m.reporter.Health(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if !report.Healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		logger.Warn().Str("failing", failing(report.Checks)).Msg("health: dependency check failed")
	}
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
	return report.Healthy
}

// Run checks immediately and then on every interval until ctx is done.
// On return every service is marked NOT_SERVING.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func failing(checks map[string]string) string {
	var names []string
	for name, result := range checks {
		if result != "ok" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
