package auth

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const deletionTrailKey = "audit:deletions"

// SecurityLogger appends immutable security events. It is strictly
// best-effort: callers invoke it after their own state change commits, and a
// failed append is reported to the process log, never to the caller.
type SecurityLogger struct {
	Logs   SecurityLogStore
	Redis  *redis.Client
	MaxLen int64
}

// Record appends an entry to the user-keyed security log.
func (a *SecurityLogger) Record(ctx context.Context, e *SecurityLogEntry) {
	if a == nil || a.Logs == nil || e == nil {
		return
	}

	entry := *e
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := a.Logs.InsertLogEntry(ctx, &entry); err != nil {
		log.Printf("security log append failed (user=%s action=%s): %v", entry.UserID, entry.Action, err)
	}
}

// DeletionMarker records an account deletion outside the user-keyed tables,
// which are removed together with the account.
type DeletionMarker struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	DeletedAt time.Time `json:"deletedAt"`
}

// RecordDeletion appends the marker to a capped Redis list.
func (a *SecurityLogger) RecordDeletion(ctx context.Context, m DeletionMarker) {
	if a == nil || a.Redis == nil {
		return
	}

	data, err := json.Marshal(m)
	if err != nil {
		log.Printf("deletion marker encode failed (user=%s): %v", m.UserID, err)
		return
	}

	pipe := a.Redis.Pipeline()
	pipe.RPush(ctx, deletionTrailKey, data)
	if a.MaxLen > 0 {
		pipe.LTrim(ctx, deletionTrailKey, -a.MaxLen, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("deletion marker append failed (user=%s): %v", m.UserID, err)
	}
}
