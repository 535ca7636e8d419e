package auth

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter tracks abuse counters in Redis. Counters are advisory
// anti-abuse state, not part of any transactional contract.
type RateLimiter struct {
	Redis *redis.Client
}

const (
	loginMaxAttempts = 5
	loginAttemptTTL  = 10 * time.Minute
	loginBanTTL      = 1 * time.Hour

	twoFAMaxAttempts = 5
	twoFAAttemptTTL  = 10 * time.Minute

	redeemMaxAttempts = 10
	redeemAttemptTTL  = 10 * time.Minute

	issueMaxAttemptsIP    = 10
	issueAttemptTTLIP     = 30 * time.Minute
	issueMaxAttemptsEmail = 3
	issueAttemptTTLEmail  = 30 * time.Minute

	emailCooldown = 60 * time.Second
	EmailCooldown = emailCooldown
)

func (r *RateLimiter) loginAttemptKey(ip string) string {
	return "login_attempts:" + ip
}

func (r *RateLimiter) loginBanKey(ip string) string {
	return "login_ban:" + ip
}

func (r *RateLimiter) twoFAKey(userID string) string {
	return "2fa_attempts:" + userID
}

func (r *RateLimiter) redeemAttemptKey(ip string) string {
	return "redeem_attempts:" + ip
}

func (r *RateLimiter) issueAttemptIPKey(ip string) string {
	if ip == "" {
		return ""
	}
	return "issue_attempts_ip:" + ip
}

func (r *RateLimiter) issueAttemptEmailKey(email string) string {
	if email == "" {
		return ""
	}
	return "issue_attempts_email:" + strings.ToLower(email)
}

func (r *RateLimiter) IsIPBanned(ctx context.Context, ip string) bool {
	exists, _ := r.Redis.Exists(ctx, r.loginBanKey(ip)).Result()
	return exists == 1
}

func (r *RateLimiter) RegisterLoginFailure(ctx context.Context, ip string) error {
	key := r.loginAttemptKey(ip)

	attempts, err := r.Redis.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if attempts == 1 {
		r.Redis.Expire(ctx, key, loginAttemptTTL)
	}
	if attempts >= loginMaxAttempts {
		r.Redis.Set(ctx, r.loginBanKey(ip), "1", loginBanTTL)
		r.Redis.Expire(ctx, key, loginBanTTL)
	}
	return nil
}

func (r *RateLimiter) ResetLogin(ctx context.Context, ip string) {
	r.Redis.Del(ctx, r.loginAttemptKey(ip))
}

func (r *RateLimiter) Register2FAFailure(ctx context.Context, userID string) (bool, error) {
	key := r.twoFAKey(userID)
	attempts, err := r.Redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if attempts == 1 {
		r.Redis.Expire(ctx, key, twoFAAttemptTTL)
	}
	return attempts >= twoFAMaxAttempts, nil
}

func (r *RateLimiter) Reset2FA(ctx context.Context, userID string) {
	r.Redis.Del(ctx, r.twoFAKey(userID))
}

// RegisterRedeemAttempt throttles token redemption per caller IP. The token
// itself stays single-use regardless; this only slows guessing.
func (r *RateLimiter) RegisterRedeemAttempt(ctx context.Context, ip string) (bool, time.Duration, error) {
	key := r.redeemAttemptKey(ip)

	attempts, err := r.Redis.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if attempts == 1 {
		r.Redis.Expire(ctx, key, redeemAttemptTTL)
	}
	ttl, _ := r.Redis.TTL(ctx, key).Result()
	return attempts >= redeemMaxAttempts, ttl, nil
}

func (r *RateLimiter) ResetRedeem(ctx context.Context, ip string) {
	r.Redis.Del(ctx, r.redeemAttemptKey(ip))
}

// RegisterIssueAttempt throttles token issuance (registration and resend) by
// both caller IP and target address.
func (r *RateLimiter) RegisterIssueAttempt(ctx context.Context, email, ip string) (bool, time.Duration, error) {
	keys := []struct {
		key string
		max int64
		ttl time.Duration
	}{
		{r.issueAttemptIPKey(ip), issueMaxAttemptsIP, issueAttemptTTLIP},
		{r.issueAttemptEmailKey(email), issueMaxAttemptsEmail, issueAttemptTTLEmail},
	}

	locked := false
	var ttlMax time.Duration

	for _, k := range keys {
		if k.key == "" {
			continue
		}
		attempts, err := r.Redis.Incr(ctx, k.key).Result()
		if err != nil {
			return false, 0, err
		}
		if attempts == 1 {
			r.Redis.Expire(ctx, k.key, k.ttl)
		}
		if attempts >= k.max {
			locked = true
		}
		if ttl, _ := r.Redis.TTL(ctx, k.key).Result(); ttl > ttlMax {
			ttlMax = ttl
		}
	}

	return locked, ttlMax, nil
}

func (r *RateLimiter) CooldownTTL(ctx context.Context, key string) time.Duration {
	ttl, err := r.Redis.TTL(ctx, key).Result()
	if err != nil {
		return 0
	}
	return ttl
}

func (r *RateLimiter) SetCooldown(ctx context.Context, key string, ttl time.Duration) {
	r.Redis.Set(ctx, key, "1", ttl)
}
