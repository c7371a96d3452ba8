// Server runs the embedded-session HTTP API and the gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpchealth "google.golang.org/grpc/health"

	"embedded-sessions/internal/app"
	"embedded-sessions/internal/config"
	"embedded-sessions/internal/health"
	"embedded-sessions/internal/platform/logger"
	"embedded-sessions/internal/server"
	"embedded-sessions/internal/server/middleware"
	"embedded-sessions/internal/session/handler"
)

const shutdownTimeout = 15 * time.Second

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

	var edge *middleware.EdgeLimiter
	if cfg.HTTPRateLimitRPS > 0 {
		edge = middleware.NewEdgeLimiter(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst)
		go edge.Run(ctx)
	}
	router := server.NewRouter(server.RouterConfig{
		Production:  cfg.Env == "production",
		CORSOrigins: cfg.CORSOrigins(),
		Edge:        edge,
	}, handler.New(a.Service, cfg.EnableEmbeddedDashboard))
	httpSrv := server.NewHTTPServer(cfg.HTTPAddr, router)

	hs := grpchealth.NewServer()
	go health.NewMonitor(a.Service, hs, 10*time.Second).Run(ctx)
	grpcSrv := server.NewGRPCServer(hs)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("grpc listen")
	}

	go func() {
		logger.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC health server listening")
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("grpc serve")
			stop()
		}
	}()
	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Bool("enabled", cfg.EnableEmbeddedDashboard).
			Str("rate_limit_backend", cfg.RateLimitBackend).
			Msg("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http serve")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	if err := server.Shutdown(httpSrv, shutdownTimeout); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	grpcSrv.GracefulStop()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("close")
	}
	logger.Info().Msg("stopped")
}
