package server

import (
	"context"
	"time"

	"github.com/google/uuid"

	"docchat/internal/auth"
	"docchat/internal/config"
)

// fakeStore backs the handler tests with map-based state. Handler tests run
// requests serially, so no locking.
type fakeStore struct {
	users    map[string]*auth.User
	tokens   map[string]*auth.VerificationToken // keyed by token hash
	settings map[string]*auth.SecuritySettings
	subs     map[string]*auth.Subscription
	logs     []auth.SecurityLogEntry

	docCount, sessCount, msgCount int64
	deleted                       []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*auth.User),
		tokens:   make(map[string]*auth.VerificationToken),
		settings: make(map[string]*auth.SecuritySettings),
		subs:     make(map[string]*auth.Subscription),
	}
}

var (
	_ auth.TokenStore       = (*fakeStore)(nil)
	_ auth.SettingsStore    = (*fakeStore)(nil)
	_ auth.SecurityLogStore = (*fakeStore)(nil)
	_ auth.DeletionStore    = (*fakeStore)(nil)
)

func (f *fakeStore) addUser(email, passwordHash string, verified bool) *auth.User {
	u := &auth.User{
		ID:            uuid.NewString(),
		Email:         auth.NormalizeEmail(email),
		PasswordHash:  &passwordHash,
		EmailVerified: verified,
		Status:        auth.StatusActive,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	f.users[u.ID] = u
	return u
}

func (f *fakeStore) FindUserByEmail(_ context.Context, email string) (*auth.User, error) {
	email = auth.NormalizeEmail(email)
	for _, u := range f.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindUserByID(_ context.Context, id string) (*auth.User, error) {
	if u, ok := f.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeStore) FindToken(_ context.Context, token string) (*auth.VerificationToken, error) {
	if vt, ok := f.tokens[auth.HashString(token)]; ok {
		clone := *vt
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeStore) FindLatestTokenByEmail(_ context.Context, email string) (*auth.VerificationToken, error) {
	email = auth.NormalizeEmail(email)
	var latest *auth.VerificationToken
	for _, vt := range f.tokens {
		if vt.Email == email && (latest == nil || vt.CreatedAt.After(latest.CreatedAt)) {
			latest = vt
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

func (f *fakeStore) CreateToken(_ context.Context, t *auth.VerificationToken) error {
	stored := *t
	stored.Token = auth.HashString(t.Token)
	stored.Email = auth.NormalizeEmail(t.Email)
	f.tokens[stored.Token] = &stored
	return nil
}

func (f *fakeStore) DeleteTokensByEmail(_ context.Context, email string) error {
	email = auth.NormalizeEmail(email)
	for key, vt := range f.tokens {
		if vt.Email == email && !vt.Used {
			delete(f.tokens, key)
		}
	}
	return nil
}

func (f *fakeStore) RedeemForNewUser(_ context.Context, token, email, key string) (*auth.User, error) {
	vt, ok := f.tokens[auth.HashString(token)]
	if !ok || vt.Used {
		return nil, auth.ErrTokenUsed
	}
	vt.Used = true

	u := f.addUser(email, key, true)
	vt.UserID = &u.ID
	f.settings[u.ID] = &auth.SecuritySettings{UserID: u.ID, LoginAlerts: true}
	f.subs[u.ID] = &auth.Subscription{ID: uuid.NewString(), UserID: u.ID, Plan: "free", Status: "active"}
	clone := *u
	return &clone, nil
}

func (f *fakeStore) RedeemForUser(_ context.Context, token, userID, key string) error {
	vt, ok := f.tokens[auth.HashString(token)]
	if !ok || vt.Used {
		return auth.ErrTokenUsed
	}
	vt.Used = true

	u, ok := f.users[userID]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.EmailVerified = true
	u.PasswordHash = &key
	vt.UserID = &userID
	return nil
}

func (f *fakeStore) FindSettings(_ context.Context, userID string) (*auth.SecuritySettings, error) {
	if set, ok := f.settings[userID]; ok {
		clone := *set
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeStore) EnableTwoFactor(_ context.Context, userID, secret string) error {
	set, ok := f.settings[userID]
	if !ok {
		set = &auth.SecuritySettings{UserID: userID, LoginAlerts: true}
		f.settings[userID] = set
	}
	set.TwoFactorEnabled = true
	set.TwoFactorSecret = &secret
	return nil
}

func (f *fakeStore) DisableTwoFactor(_ context.Context, userID string) error {
	if set, ok := f.settings[userID]; ok {
		set.TwoFactorEnabled = false
		set.TwoFactorSecret = nil
	}
	return nil
}

func (f *fakeStore) InsertLogEntry(_ context.Context, e *auth.SecurityLogEntry) error {
	f.logs = append(f.logs, *e)
	return nil
}

func (f *fakeStore) OwnedCounts(_ context.Context, _ string) (int64, int64, int64, error) {
	return f.docCount, f.sessCount, f.msgCount, nil
}

func (f *fakeStore) FindSubscription(_ context.Context, userID string) (*auth.Subscription, error) {
	if sub, ok := f.subs[userID]; ok {
		clone := *sub
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeStore) DeleteAccount(_ context.Context, userID, email string) error {
	if _, ok := f.users[userID]; !ok {
		return auth.ErrUserNotFound
	}
	delete(f.users, userID)
	delete(f.settings, userID)
	delete(f.subs, userID)
	email = auth.NormalizeEmail(email)
	for key, vt := range f.tokens {
		if vt.Email == email {
			delete(f.tokens, key)
		}
	}
	kept := f.logs[:0]
	for _, e := range f.logs {
		if e.UserID != userID {
			kept = append(kept, e)
		}
	}
	f.logs = kept
	f.docCount, f.sessCount, f.msgCount = 0, 0, 0
	f.deleted = append(f.deleted, userID)
	return nil
}

// fakeSessions is an in-memory auth.SessionManager.
type fakeSessions struct {
	sessions map[string]*auth.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]*auth.Session)}
}

func (f *fakeSessions) Create(_ context.Context, sess auth.Session) error {
	clone := sess
	f.sessions[sess.ID] = &clone
	return nil
}

func (f *fakeSessions) Get(_ context.Context, id string) (*auth.Session, error) {
	if sess, ok := f.sessions[id]; ok {
		clone := *sess
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeSessions) Delete(_ context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessions) DeleteByUser(_ context.Context, userID string) error {
	for id, sess := range f.sessions {
		if sess.UserID == userID {
			delete(f.sessions, id)
		}
	}
	return nil
}

// nopLimiter never throttles.
type nopLimiter struct {
	loginFailures int
	twoFAFailures int
}

func (n *nopLimiter) IsIPBanned(context.Context, string) bool { return false }
func (n *nopLimiter) RegisterLoginFailure(context.Context, string) error {
	n.loginFailures++
	return nil
}
func (n *nopLimiter) ResetLogin(context.Context, string) {}
func (n *nopLimiter) Register2FAFailure(context.Context, string) (bool, error) {
	n.twoFAFailures++
	return false, nil
}
func (n *nopLimiter) Reset2FA(context.Context, string) {}
func (n *nopLimiter) RegisterRedeemAttempt(context.Context, string) (bool, time.Duration, error) {
	return false, 0, nil
}
func (n *nopLimiter) RegisterIssueAttempt(context.Context, string, string) (bool, time.Duration, error) {
	return false, 0, nil
}
func (n *nopLimiter) CooldownTTL(context.Context, string) time.Duration { return 0 }
func (n *nopLimiter) SetCooldown(context.Context, string, time.Duration) {
}

// fakeMailer records outbound mail.
type fakeMailer struct {
	sent []struct{ To, Subject, Text string }
	err  error
}

func (f *fakeMailer) Send(_ context.Context, to, subject, text, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, struct{ To, Subject, Text string }{to, subject, text})
	return nil
}

// plainHasher avoids bcrypt cost in handler tests.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }
func (plainHasher) Compare(hash, password string) bool   { return hash == "plain:"+password }

type fixture struct {
	server   *Server
	store    *fakeStore
	sessions *fakeSessions
	limiter  *nopLimiter
	mailer   *fakeMailer
	now      time.Time
}

func newFixture() *fixture {
	store := newFakeStore()
	sessions := newFakeSessions()
	limiter := &nopLimiter{}
	mailer := &fakeMailer{}
	now := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)

	audit := &auth.SecurityLogger{Logs: store}

	verification := auth.NewVerificationService(store, 24*time.Hour)
	verification.Now = func() time.Time { return now }

	totpSvc := auth.NewTOTPService("DocChat")
	totpSvc.Now = func() time.Time { return now }

	cfg := config.Config{
		Port:       "0",
		BaseURL:    "http://app.test",
		SessionTTL: time.Hour,
		TokenTTL:   24 * time.Hour,
		TOTPIssuer: "DocChat",
	}

	srv := NewServer(cfg, Deps{
		Users:        store,
		Settings:     store,
		Sessions:     sessions,
		RateLimiter:  limiter,
		Mailer:       mailer,
		Hasher:       plainHasher{},
		TOTP:         totpSvc,
		Verification: verification,
		TwoFactor:    auth.NewTwoFactorService(store, totpSvc, audit),
		Deletion:     auth.NewDeletionService(store, audit),
		Audit:        audit,
	})

	return &fixture{server: srv, store: store, sessions: sessions, limiter: limiter, mailer: mailer, now: now}
}

// login seeds a session directly and returns its id.
func (f *fixture) login(user *auth.User) string {
	id := auth.NewSessionID()
	_ = f.sessions.Create(context.Background(), auth.Session{
		ID:        id,
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(time.Hour),
		LoginTime: time.Now(),
	})
	return id
}
