package auth

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Session struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	IP                string    `json:"ip"`
	UserAgent         string    `json:"userAgent"`
	ExpiresAt         time.Time `json:"expiresAt"`
	LoginTime         time.Time `json:"loginTime"`
	TwoFactorVerified bool      `json:"twoFactorVerified"`
	TTLSeconds        int64     `json:"ttlSeconds"`
}

// SessionManager is what the HTTP layer needs from the session store.
type SessionManager interface {
	Create(ctx context.Context, sess Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// SessionStore keeps sessions as Redis hashes with a TTL matching expiry.
type SessionStore struct {
	Redis *redis.Client
}

var _ SessionManager = (*SessionStore)(nil)

func (s *SessionStore) Create(ctx context.Context, sess Session) error {
	key := "session:" + sess.ID

	data := map[string]interface{}{
		"userId":            sess.UserID,
		"ipAddress":         sess.IP,
		"userAgent":         sess.UserAgent,
		"expires":           sess.ExpiresAt.Unix(),
		"loginTime":         sess.LoginTime.Unix(),
		"twoFactorVerified": sess.TwoFactorVerified,
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}

	pipe := s.Redis.TxPipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	key := "session:" + id
	vals, err := s.Redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	expUnix, _ := strconv.ParseInt(vals["expires"], 10, 64)
	loginUnix, _ := strconv.ParseInt(vals["loginTime"], 10, 64)
	ttl, _ := s.Redis.TTL(ctx, key).Result()

	sess := &Session{
		ID:                id,
		UserID:            vals["userId"],
		IP:                vals["ipAddress"],
		UserAgent:         vals["userAgent"],
		ExpiresAt:         time.Unix(expUnix, 0),
		LoginTime:         time.Unix(loginUnix, 0),
		TwoFactorVerified: vals["twoFactorVerified"] == "1" || strings.ToLower(vals["twoFactorVerified"]) == "true",
		TTLSeconds:        int64(ttl.Seconds()),
	}

	if sess.ExpiresAt.Before(time.Now()) {
		_ = s.Delete(ctx, id)
		return nil, nil
	}

	return sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.Redis.Del(ctx, "session:"+id).Err()
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) error {
	pipe := s.Redis.TxPipeline()
	iter := s.Redis.Scan(ctx, 0, "session:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		owner, err := s.Redis.HGet(ctx, key, "userId").Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if owner == userID {
			pipe.Del(ctx, key)
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	_, err := pipe.Exec(ctx)
	return err
}

func NewSessionID() string {
	return uuid.NewString()
}
