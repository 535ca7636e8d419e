package auth

import (
	"strings"
	"time"
)

type UserStatus string

const (
	StatusActive    UserStatus = "ACTIVE"
	StatusInactive  UserStatus = "INACTIVE"
	StatusSuspended UserStatus = "SUSPENDED"
)

type TokenType string

const (
	TokenEmailVerification TokenType = "EMAIL_VERIFICATION"
	TokenPasswordReset     TokenType = "PASSWORD_RESET"
)

type SecurityAction string

const (
	ActionLogin             SecurityAction = "LOGIN"
	ActionLoginFailed       SecurityAction = "LOGIN_FAILED"
	ActionEmailVerified     SecurityAction = "EMAIL_VERIFIED"
	ActionTwoFactorEnabled  SecurityAction = "TWO_FACTOR_ENABLED"
	ActionTwoFactorDisabled SecurityAction = "TWO_FACTOR_DISABLED"
	ActionDeletionRequested SecurityAction = "ACCOUNT_DELETION_REQUESTED"
)

type User struct {
	ID            string
	Name          *string
	Email         string
	PasswordHash  *string
	EmailVerified bool
	Status        UserStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// VerificationToken is a single-use, expiring credential for an account state
// change. Token holds the plaintext in memory only; at rest the store keeps a
// SHA-256 of it. Key carries the payload applied on redemption (the bcrypt
// hash captured at issuance). Used never transitions back to false.
type VerificationToken struct {
	ID        string
	Token     string
	Email     string
	Key       string
	Type      TokenType
	ExpiresAt time.Time
	Used      bool
	UserID    *string
	CreatedAt time.Time
}

type SecuritySettings struct {
	UserID           string
	TwoFactorEnabled bool
	TwoFactorSecret  *string
	LoginAlerts      bool
	UpdatedAt        time.Time
}

type SecurityLogEntry struct {
	ID        string
	UserID    string
	Action    SecurityAction
	Details   string
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

type Subscription struct {
	ID     string
	UserID string
	Plan   string
	Status string
}

// RequestInfo carries the caller context attached to audit entries.
type RequestInfo struct {
	IP        string
	UserAgent string
}

type DeletionSummary struct {
	UserID       string
	Email        string
	Name         *string
	Plan         string
	PlanStatus   string
	Documents    int64
	ChatSessions int64
	ChatMessages int64
}

// NormalizeEmail lower-cases and trims an address. Every entry point goes
// through this so the unique email constraint is effectively case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
