package server

import (
	"context"
	"time"

	"docchat/internal/auth"
)

// Limiter is the anti-abuse surface the handlers consume. *auth.RateLimiter
// is the Redis-backed implementation.
type Limiter interface {
	IsIPBanned(ctx context.Context, ip string) bool
	RegisterLoginFailure(ctx context.Context, ip string) error
	ResetLogin(ctx context.Context, ip string)
	Register2FAFailure(ctx context.Context, userID string) (bool, error)
	Reset2FA(ctx context.Context, userID string)
	RegisterRedeemAttempt(ctx context.Context, ip string) (bool, time.Duration, error)
	RegisterIssueAttempt(ctx context.Context, email, ip string) (bool, time.Duration, error)
	CooldownTTL(ctx context.Context, key string) time.Duration
	SetCooldown(ctx context.Context, key string, ttl time.Duration)
}

var _ Limiter = (*auth.RateLimiter)(nil)
