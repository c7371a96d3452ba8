package service

import (
	"errors"

	"embedded-sessions/internal/ratelimit"
	"embedded-sessions/internal/session/repository"
)

// Sentinel errors for the session service; the HTTP handler maps them to status codes.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrRateLimited         = ratelimit.ErrRateLimited
	ErrQuotaExceeded       = errors.New("workspace session quota exceeded")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrSessionExpired      = errors.New("session expired or revoked")
	ErrRefreshTokenReused  = errors.New("refresh token reuse detected; session family revoked")
	ErrStaleRefreshToken   = repository.ErrStaleRefreshToken
	ErrNotFound            = repository.ErrNotFound
	ErrInvalidInput        = errors.New("invalid input")
	ErrSigningKey          = errors.New("token signing unavailable")
	ErrUnavailable         = errors.New("session backend unavailable")
)

// RateLimitError is returned for rate-limit denials; it unwraps to ErrRateLimited.
type RateLimitError = ratelimit.RateLimitError
