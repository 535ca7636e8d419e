package auth

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory implementation of the persistence ports with the
// same contract as the pgx repository: tokens keyed by their SHA-256 hash,
// the used flag flipped under a lock, and DeleteAccount applied to a copy of
// the state so an injected failure leaves everything untouched.
type memStore struct {
	mu sync.Mutex

	users    map[string]*User // by id
	tokens   map[string]*VerificationToken
	settings map[string]*SecuritySettings
	subs     map[string]*Subscription
	logs     []SecurityLogEntry

	documents    map[string]string // doc id -> owner
	chatSessions map[string]string // session id -> owner
	chatMessages map[string]string // message id -> session id

	failDeleteAt string // step name that aborts DeleteAccount
	failLog      error  // returned from InsertLogEntry when set
}

func newMemStore() *memStore {
	return &memStore{
		users:        make(map[string]*User),
		tokens:       make(map[string]*VerificationToken),
		settings:     make(map[string]*SecuritySettings),
		subs:         make(map[string]*Subscription),
		documents:    make(map[string]string),
		chatSessions: make(map[string]string),
		chatMessages: make(map[string]string),
	}
}

var (
	_ TokenStore       = (*memStore)(nil)
	_ SettingsStore    = (*memStore)(nil)
	_ SecurityLogStore = (*memStore)(nil)
	_ DeletionStore    = (*memStore)(nil)
)

func (m *memStore) addUser(email string, verified bool) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash := "bcrypt$placeholder"
	u := &User{
		ID:            uuid.NewString(),
		Email:         NormalizeEmail(email),
		PasswordHash:  &hash,
		EmailVerified: verified,
		Status:        StatusActive,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	m.users[u.ID] = u
	return u
}

func (m *memStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = NormalizeEmail(email)
	for _, u := range m.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindUserByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, nil
}

func (m *memStore) FindToken(_ context.Context, token string) (*VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if vt, ok := m.tokens[HashString(token)]; ok {
		clone := *vt
		return &clone, nil
	}
	return nil, nil
}

func (m *memStore) FindLatestTokenByEmail(_ context.Context, email string) (*VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = NormalizeEmail(email)

	var matches []*VerificationToken
	for _, vt := range m.tokens {
		if vt.Email == email {
			matches = append(matches, vt)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	clone := *matches[0]
	return &clone, nil
}

func (m *memStore) CreateToken(_ context.Context, t *VerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *t
	stored.Token = HashString(t.Token)
	stored.Email = NormalizeEmail(t.Email)
	m.tokens[stored.Token] = &stored
	return nil
}

func (m *memStore) DeleteTokensByEmail(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = NormalizeEmail(email)
	for key, vt := range m.tokens {
		if vt.Email == email && !vt.Used {
			delete(m.tokens, key)
		}
	}
	return nil
}

// markUsed is the compare-and-set: it fails unless the flag is still false.
func (m *memStore) markUsed(token string) error {
	vt, ok := m.tokens[HashString(token)]
	if !ok || vt.Used {
		return ErrTokenUsed
	}
	vt.Used = true
	return nil
}

func (m *memStore) RedeemForNewUser(_ context.Context, token, email, key string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.markUsed(token); err != nil {
		return nil, err
	}

	u := &User{
		ID:            uuid.NewString(),
		Email:         NormalizeEmail(email),
		PasswordHash:  &key,
		EmailVerified: true,
		Status:        StatusActive,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	m.users[u.ID] = u
	m.tokens[HashString(token)].UserID = &u.ID
	m.settings[u.ID] = &SecuritySettings{UserID: u.ID, LoginAlerts: true, UpdatedAt: time.Now()}
	m.subs[u.ID] = &Subscription{ID: uuid.NewString(), UserID: u.ID, Plan: "free", Status: "active"}

	clone := *u
	return &clone, nil
}

func (m *memStore) RedeemForUser(_ context.Context, token, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.markUsed(token); err != nil {
		return err
	}

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.EmailVerified = true
	u.PasswordHash = &key
	u.UpdatedAt = time.Now()
	m.tokens[HashString(token)].UserID = &userID
	return nil
}

func (m *memStore) FindSettings(_ context.Context, userID string) (*SecuritySettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.settings[userID]; ok {
		clone := *set
		return &clone, nil
	}
	return nil, nil
}

func (m *memStore) EnableTwoFactor(_ context.Context, userID, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.settings[userID]
	if !ok {
		set = &SecuritySettings{UserID: userID, LoginAlerts: true}
		m.settings[userID] = set
	}
	set.TwoFactorEnabled = true
	set.TwoFactorSecret = &secret
	set.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) DisableTwoFactor(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.settings[userID]; ok {
		set.TwoFactorEnabled = false
		set.TwoFactorSecret = nil
		set.UpdatedAt = time.Now()
	}
	return nil
}

func (m *memStore) InsertLogEntry(_ context.Context, e *SecurityLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLog != nil {
		return m.failLog
	}
	m.logs = append(m.logs, *e)
	return nil
}

func (m *memStore) OwnedCounts(_ context.Context, userID string) (int64, int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var docs, sessions, messages int64
	owned := make(map[string]bool)
	for id, owner := range m.chatSessions {
		if owner == userID {
			sessions++
			owned[id] = true
		}
	}
	for _, owner := range m.documents {
		if owner == userID {
			docs++
		}
	}
	for _, sessID := range m.chatMessages {
		if owned[sessID] {
			messages++
		}
	}
	return docs, sessions, messages, nil
}

func (m *memStore) FindSubscription(_ context.Context, userID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subs[userID]; ok {
		clone := *sub
		return &clone, nil
	}
	return nil, nil
}

var errInjected = errors.New("injected store failure")

// DeleteAccount mirrors the repository's all-or-nothing transaction by
// mutating a copy of the state and swapping it in only on success.
func (m *memStore) DeleteAccount(_ context.Context, userID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.copyStateLocked()
	email = NormalizeEmail(email)

	steps := []struct {
		name  string
		apply func()
	}{
		{"chat messages", func() {
			for id, sessID := range next.chatMessages {
				if next.chatSessions[sessID] == userID {
					delete(next.chatMessages, id)
				}
			}
		}},
		{"chat sessions", func() {
			for id, owner := range next.chatSessions {
				if owner == userID {
					delete(next.chatSessions, id)
				}
			}
		}},
		{"documents", func() {
			for id, owner := range next.documents {
				if owner == userID {
					delete(next.documents, id)
				}
			}
		}},
		{"security log", func() {
			kept := next.logs[:0]
			for _, e := range next.logs {
				if e.UserID != userID {
					kept = append(kept, e)
				}
			}
			next.logs = kept
		}},
		{"verification tokens", func() {
			for key, vt := range next.tokens {
				if vt.Email == email {
					delete(next.tokens, key)
				}
			}
		}},
		{"subscription", func() { delete(next.subs, userID) }},
		{"security settings", func() { delete(next.settings, userID) }},
	}

	for _, step := range steps {
		if m.failDeleteAt == step.name {
			return errInjected
		}
		step.apply()
	}

	if m.failDeleteAt == "user" {
		return errInjected
	}
	if _, ok := next.users[userID]; !ok {
		return ErrUserNotFound
	}
	delete(next.users, userID)

	m.users = next.users
	m.tokens = next.tokens
	m.settings = next.settings
	m.subs = next.subs
	m.logs = next.logs
	m.documents = next.documents
	m.chatSessions = next.chatSessions
	m.chatMessages = next.chatMessages
	return nil
}

type memState struct {
	users        map[string]*User
	tokens       map[string]*VerificationToken
	settings     map[string]*SecuritySettings
	subs         map[string]*Subscription
	logs         []SecurityLogEntry
	documents    map[string]string
	chatSessions map[string]string
	chatMessages map[string]string
}

func (m *memStore) copyStateLocked() *memState {
	next := &memState{
		users:        make(map[string]*User, len(m.users)),
		tokens:       make(map[string]*VerificationToken, len(m.tokens)),
		settings:     make(map[string]*SecuritySettings, len(m.settings)),
		subs:         make(map[string]*Subscription, len(m.subs)),
		logs:         append([]SecurityLogEntry(nil), m.logs...),
		documents:    make(map[string]string, len(m.documents)),
		chatSessions: make(map[string]string, len(m.chatSessions)),
		chatMessages: make(map[string]string, len(m.chatMessages)),
	}
	for id, u := range m.users {
		clone := *u
		next.users[id] = &clone
	}
	for key, vt := range m.tokens {
		clone := *vt
		next.tokens[key] = &clone
	}
	for id, set := range m.settings {
		clone := *set
		next.settings[id] = &clone
	}
	for id, sub := range m.subs {
		clone := *sub
		next.subs[id] = &clone
	}
	for id, owner := range m.documents {
		next.documents[id] = owner
	}
	for id, owner := range m.chatSessions {
		next.chatSessions[id] = owner
	}
	for id, sessID := range m.chatMessages {
		next.chatMessages[id] = sessID
	}
	return next
}
