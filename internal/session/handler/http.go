// Package handler exposes the embedded-session service over HTTP (gin).
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"embedded-sessions/internal/platform/logger"
	"embedded-sessions/internal/security"
	"embedded-sessions/internal/server/middleware"
	"embedded-sessions/internal/session/service"
)

// BasePath prefixes every embedded-session route.
const BasePath = "/api-l/embedded-sessions"

// SessionService is the subset of service.Service the handler calls.
type SessionService interface {
	Create(ctx context.Context, in service.CreateInput) (*service.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string, meta service.ClientMeta) (*service.TokenPair, error)
	Revoke(ctx context.Context, in service.RevokeInput) (*service.RevokeResult, error)
	Verify(ctx context.Context, accessToken string) (*service.SessionInfo, error)
	Health(ctx context.Context) service.HealthReport
}

// Handler serves the embedded-session HTTP API.
type Handler struct {
	svc     SessionService
	enabled bool
}

// New returns a Handler. When enabled is false every route except health answers 404.
func New(svc SessionService, enabled bool) *Handler {
	return &Handler{svc: svc, enabled: enabled}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group(BasePath)
	g.GET("/health", h.health)

	gated := g.Group("", h.requireEnabled)
	gated.POST("/create", h.create)
	gated.POST("/refresh", h.refresh)
	gated.POST("/revoke", h.revoke)
	gated.GET("/me", h.me)
}

func (h *Handler) requireEnabled(c *gin.Context) {
	if !h.enabled {
		middleware.AbortWithError(c, http.StatusNotFound, "embedded_dashboard_disabled", "embedded dashboards are disabled")
		return
	}
	c.Next()
}

type createRequest struct {
	WorkspaceID string `json:"workspaceId"`
	Fingerprint string `json:"fingerprint"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type revokeRequest struct {
	SessionID    string `json:"sessionId"`
	RefreshToken string `json:"refreshToken"`
	Reason       string `json:"reason"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
	SessionID    string `json:"sessionId"`
}

type revokeResponse struct {
	SessionID string    `json:"sessionId"`
	RevokedAt time.Time `json:"revokedAt"`
	Reason    string    `json:"reason"`
}

type meResponse struct {
	SessionID        string    `json:"sessionId"`
	WorkspaceID      string    `json:"workspaceId"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	RefreshCount     int       `json:"refreshCount"`
	CreatedAt        time.Time `json:"createdAt"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *Handler) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, service.ErrInvalidInput)
		return
	}
	pair, err := h.svc.Create(c.Request.Context(), service.CreateInput{
		Authorization: c.GetHeader("Authorization"),
		WorkspaceID:   req.WorkspaceID,
		Fingerprint:   req.Fingerprint,
		Meta:          clientMeta(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writePair(c, http.StatusCreated, pair)
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		writeError(c, service.ErrInvalidInput)
		return
	}
	pair, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken, clientMeta(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writePair(c, http.StatusOK, pair)
}

func (h *Handler) revoke(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, service.ErrInvalidInput)
		return
	}
	res, err := h.svc.Revoke(c.Request.Context(), service.RevokeInput{
		SessionID:     req.SessionID,
		RefreshToken:  req.RefreshToken,
		Reason:        req.Reason,
		Authorization: c.GetHeader("Authorization"),
		Meta:          clientMeta(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, revokeResponse{SessionID: res.SessionID, RevokedAt: res.RevokedAt, Reason: res.Reason})
}

func (h *Handler) me(c *gin.Context) {
	token := security.BearerToken(c.GetHeader("Authorization"))
	if token == "" {
		writeError(c, service.ErrUnauthorized)
		return
	}
	info, err := h.svc.Verify(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, meResponse{
		SessionID:        info.SessionID,
		WorkspaceID:      info.WorkspaceID,
		AccessExpiresAt:  info.AccessExpiresAt,
		RefreshExpiresAt: info.RefreshExpiresAt,
		RefreshCount:     info.RefreshCount,
		CreatedAt:        info.CreatedAt,
	})
}

func (h *Handler) health(c *gin.Context) {
	report := h.svc.Health(c.Request.Context())
	resp := healthResponse{Status: "healthy", Checks: report.Checks}
	status := http.StatusOK
	if !report.Healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func writePair(c *gin.Context, status int, p *service.TokenPair) {
	c.Header("Cache-Control", "no-store")
	c.JSON(status, tokenPairResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    p.ExpiresIn,
		TokenType:    p.TokenType,
		SessionID:    p.SessionID,
	})
}

func clientMeta(c *gin.Context) service.ClientMeta {
	return service.ClientMeta{
		IPAddress: middleware.ClientIP(c.Request),
		UserAgent: c.Request.UserAgent(),
	}
}

// writeError maps service errors to the JSON error envelope.
func writeError(c *gin.Context, err error) {
	var rl *service.RateLimitError
	if errors.As(err, &rl) {
		c.Header("Retry-After", strconv.FormatInt(rl.RetryAfterSeconds(), 10))
		middleware.AbortWithError(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}
	status, code, msg := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("embedded session request failed")
	}
	middleware.AbortWithError(c, status, code, msg)
}

func classify(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", "invalid request"
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "unauthorized"
	case errors.Is(err, service.ErrInvalidRefreshToken):
		return http.StatusUnauthorized, "invalid_refresh_token", "invalid refresh token"
	case errors.Is(err, service.ErrSessionExpired):
		return http.StatusUnauthorized, "session_expired", "session expired or revoked"
	case errors.Is(err, service.ErrRefreshTokenReused):
		return http.StatusUnauthorized, "refresh_token_reused", "refresh token reuse detected"
	case errors.Is(err, service.ErrQuotaExceeded):
		return http.StatusForbidden, "quota_exceeded", "workspace session limit reached"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not_found", "session not found"
	case errors.Is(err, service.ErrStaleRefreshToken):
		return http.StatusConflict, "stale_refresh_token", "refresh token already rotated; retry with the latest token"
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", "too many requests"
	case errors.Is(err, service.ErrUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable", "service temporarily unavailable"
	case errors.Is(err, service.ErrSigningKey):
		return http.StatusInternalServerError, "signing_unavailable", "token signing unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
}
