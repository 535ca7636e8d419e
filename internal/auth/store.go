package auth

import "context"

// Persistence ports consumed by the services. The pgx implementation lives in
// repository.go; tests substitute fakes. Lookup methods return (nil, nil)
// when the record does not exist.

type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
}

type TokenStore interface {
	UserStore

	FindToken(ctx context.Context, token string) (*VerificationToken, error)
	// FindLatestTokenByEmail returns the most recently issued token for an
	// address regardless of its used/expired state.
	FindLatestTokenByEmail(ctx context.Context, email string) (*VerificationToken, error)
	CreateToken(ctx context.Context, t *VerificationToken) error
	DeleteTokensByEmail(ctx context.Context, email string) error

	// RedeemForNewUser flips the token's used flag and creates the verified
	// user with its default SecuritySettings and Subscription rows, all in
	// one transaction. The used=false conditional update is authoritative:
	// a concurrent redeemer that loses the race gets ErrTokenUsed.
	RedeemForNewUser(ctx context.Context, token, email, key string) (*User, error)
	// RedeemForUser flips the token's used flag and marks an existing user
	// verified, applying key as the credential, in one transaction.
	RedeemForUser(ctx context.Context, token, userID, key string) error
}

type SettingsStore interface {
	FindSettings(ctx context.Context, userID string) (*SecuritySettings, error)
	EnableTwoFactor(ctx context.Context, userID, secret string) error
	DisableTwoFactor(ctx context.Context, userID string) error
}

type SecurityLogStore interface {
	InsertLogEntry(ctx context.Context, e *SecurityLogEntry) error
}

type DeletionStore interface {
	UserStore

	OwnedCounts(ctx context.Context, userID string) (documents, sessions, messages int64, err error)
	FindSubscription(ctx context.Context, userID string) (*Subscription, error)
	// DeleteAccount removes every record owned by the user and the user row
	// itself as a single all-or-nothing transaction, children before parents.
	DeleteAccount(ctx context.Context, userID, email string) error
}
