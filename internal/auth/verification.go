package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VerificationService issues and redeems single-use verification tokens. A
// token authorizes exactly one account state change: creating a verified
// account, or marking an existing unverified account as verified.
type VerificationService struct {
	Store TokenStore
	TTL   time.Duration
	Now   func() time.Time
}

func NewVerificationService(store TokenStore, ttl time.Duration) *VerificationService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &VerificationService{Store: store, TTL: ttl, Now: time.Now}
}

func (s *VerificationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type IssueResult struct {
	Token     string
	Email     string
	ExpiresAt time.Time
}

// Issue mints a fresh token for the address, replacing any outstanding ones.
// key is the payload applied on redemption (a bcrypt credential hash). The
// plaintext token is returned exactly once; the store keeps only its hash.
func (s *VerificationService) Issue(ctx context.Context, email, key string, typ TokenType) (*IssueResult, error) {
	email = NormalizeEmail(email)

	token, err := RandomToken(32)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	if err := s.Store.DeleteTokensByEmail(ctx, email); err != nil {
		return nil, fmt.Errorf("clear previous tokens: %w", err)
	}

	now := s.now()
	vt := &VerificationToken{
		ID:        uuid.NewString(),
		Token:     token,
		Email:     email,
		Key:       key,
		Type:      typ,
		ExpiresAt: now.Add(s.TTL),
		CreatedAt: now,
	}
	if err := s.Store.CreateToken(ctx, vt); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	return &IssueResult{Token: token, Email: email, ExpiresAt: vt.ExpiresAt}, nil
}

// Reissue mints a replacement token carrying the same payload as the address's
// most recent one. Returns (nil, nil) when there is nothing to reissue, and
// ErrAlreadyVerified when the account no longer needs verification.
func (s *VerificationService) Reissue(ctx context.Context, email string) (*IssueResult, error) {
	email = NormalizeEmail(email)

	user, err := s.Store.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user != nil && user.EmailVerified {
		return nil, ErrAlreadyVerified
	}

	prev, err := s.Store.FindLatestTokenByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find previous token: %w", err)
	}
	if prev == nil {
		return nil, nil
	}

	return s.Issue(ctx, email, prev.Key, prev.Type)
}

type RedeemResult struct {
	Email       string
	UserID      string
	CreatedUser bool
}

// Redeem consumes a token at most once. Preconditions are checked in order
// (existence, unused, unexpired), each with a distinct failure. The user
// mutation and the used=false→true flip are one store transaction, so a
// concurrent redeemer observes ErrTokenUsed rather than a second success. A
// failed precondition is terminal; nothing here retries.
func (s *VerificationService) Redeem(ctx context.Context, token string) (*RedeemResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenNotFound
	}

	vt, err := s.Store.FindToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("find token: %w", err)
	}
	if vt == nil {
		return nil, ErrTokenNotFound
	}
	if vt.Used {
		return nil, ErrTokenUsed
	}
	if vt.ExpiresAt.Before(s.now()) {
		return nil, ErrTokenExpired
	}

	user, err := s.Store.FindUserByEmail(ctx, vt.Email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if user == nil {
		created, err := s.Store.RedeemForNewUser(ctx, token, vt.Email, vt.Key)
		if err != nil {
			return nil, err
		}
		return &RedeemResult{Email: vt.Email, UserID: created.ID, CreatedUser: true}, nil
	}

	if user.EmailVerified {
		return nil, ErrAlreadyVerified
	}

	if err := s.Store.RedeemForUser(ctx, token, user.ID, vt.Key); err != nil {
		return nil, err
	}
	return &RedeemResult{Email: vt.Email, UserID: user.ID}, nil
}
