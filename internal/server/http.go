// Package server assembles the HTTP router and the gRPC health server.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"embedded-sessions/internal/platform/logger"
	"embedded-sessions/internal/server/middleware"
)

// Routes mounts API routes on the engine.
type Routes interface {
	Register(r gin.IRouter)
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// Production selects gin release mode.
	Production  bool
	CORSOrigins []string
	// Edge, when non-nil, rate-limits every request per client IP.
	Edge *middleware.EdgeLimiter
}

// NewRouter returns a gin engine with logging, recovery, CORS and the edge limiter.
func NewRouter(cfg RouterConfig, routes ...Routes) *gin.Engine {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(logger.GinLogger(), logger.GinRecovery())
	if h := CORS(cfg.CORSOrigins); h != nil {
		r.Use(h)
	}
	if cfg.Edge != nil {
		r.Use(cfg.Edge.Middleware())
	}
	r.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, http.StatusNotFound, "not_found", "route not found")
	})
	for _, rt := range routes {
		rt.Register(r)
	}
	return r
}

// NewHTTPServer wraps the router with conservative timeouts.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Shutdown stops srv, waiting up to timeout for in-flight requests.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
