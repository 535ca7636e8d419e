package auth

import (
	"context"
	"fmt"
	"time"
)

// DeletionService computes the pre-flight summary of an account's owned data
// and performs the irreversible removal. Any confirmation ceremony (typed
// phrase, password re-entry) belongs to the boundary layer; Execute assumes
// it already passed.
type DeletionService struct {
	Store DeletionStore
	Audit *SecurityLogger
	Now   func() time.Time
}

func NewDeletionService(store DeletionStore, audit *SecurityLogger) *DeletionService {
	return &DeletionService{Store: store, Audit: audit, Now: time.Now}
}

func (s *DeletionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Preview is read-only: profile, plan, and per-entity counts for the
// confirmation screen.
func (s *DeletionService) Preview(ctx context.Context, userID string) (*DeletionSummary, error) {
	user, err := s.Store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	docs, sessions, messages, err := s.Store.OwnedCounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count owned records: %w", err)
	}

	summary := &DeletionSummary{
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Plan:         "free",
		PlanStatus:   "none",
		Documents:    docs,
		ChatSessions: sessions,
		ChatMessages: messages,
	}

	sub, err := s.Store.FindSubscription(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	if sub != nil {
		summary.Plan = sub.Plan
		summary.PlanStatus = sub.Status
	}

	return summary, nil
}

// Execute removes the account and everything it owns as one transaction. On
// success a deletion marker goes to the external audit trail; the user-keyed
// security log is gone with the account, so the marker is the only record of
// the deletion itself.
func (s *DeletionService) Execute(ctx context.Context, userID string) (time.Time, error) {
	user, err := s.Store.FindUserByID(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return time.Time{}, ErrUserNotFound
	}

	if err := s.Store.DeleteAccount(ctx, userID, user.Email); err != nil {
		return time.Time{}, err
	}

	deletedAt := s.now().UTC()
	s.Audit.RecordDeletion(ctx, DeletionMarker{
		UserID:    userID,
		Email:     user.Email,
		DeletedAt: deletedAt,
	})
	return deletedAt, nil
}
