package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the pgx-backed implementation of every persistence port.
// Tokens are stored hashed; callers pass plaintext and the repository hashes
// on the way in and on lookup.
type Repository struct {
	DB *pgxpool.Pool
}

var (
	_ TokenStore       = (*Repository)(nil)
	_ SettingsStore    = (*Repository)(nil)
	_ SecurityLogStore = (*Repository)(nil)
	_ DeletionStore    = (*Repository)(nil)
)

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{DB: db}
}

const userColumns = `"id","name","email","password","emailVerified","status","createdAt","updatedAt"`

func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM "User"
		WHERE "email"=$1
	`, NormalizeEmail(email))
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (r *Repository) FindUserByID(ctx context.Context, id string) (*User, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM "User"
		WHERE "id"=$1
	`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

const tokenColumns = `"id","token","email","key","type","expiresAt","used","userId","createdAt"`

func (r *Repository) FindToken(ctx context.Context, token string) (*VerificationToken, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM "VerificationToken"
		WHERE "token"=$1
	`, HashString(token))
	vt, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return vt, err
}

func (r *Repository) FindLatestTokenByEmail(ctx context.Context, email string) (*VerificationToken, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM "VerificationToken"
		WHERE "email"=$1
		ORDER BY "createdAt" DESC
		LIMIT 1
	`, NormalizeEmail(email))
	vt, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return vt, err
}

func (r *Repository) CreateToken(ctx context.Context, t *VerificationToken) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO "VerificationToken"
		("id","token","email","key","type","expiresAt","used","userId","createdAt")
		VALUES ($1,$2,$3,$4,$5,$6,FALSE,$7,$8)
	`, t.ID, HashString(t.Token), NormalizeEmail(t.Email), t.Key, t.Type, t.ExpiresAt, t.UserID, t.CreatedAt)
	return err
}

func (r *Repository) DeleteTokensByEmail(ctx context.Context, email string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM "VerificationToken" WHERE "email"=$1 AND "used"=FALSE`, NormalizeEmail(email))
	return err
}

// markTokenUsed performs the authoritative compare-and-set on the token row.
// Zero affected rows means another redeemer won the race.
func markTokenUsed(ctx context.Context, tx pgx.Tx, token string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE "VerificationToken"
		SET "used"=TRUE
		WHERE "token"=$1 AND "used"=FALSE
	`, HashString(token))
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenUsed
	}
	return nil
}

func (r *Repository) RedeemForNewUser(ctx context.Context, token, email, key string) (*User, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin redeem: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := markTokenUsed(ctx, tx, token); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	row := tx.QueryRow(ctx, `
		INSERT INTO "User" ("id","email","password","emailVerified","status")
		VALUES ($1,$2,$3,TRUE,$4)
		RETURNING `+userColumns+`
	`, id, NormalizeEmail(email), key, StatusActive)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE "VerificationToken" SET "userId"=$1 WHERE "token"=$2
	`, user.ID, HashString(token)); err != nil {
		return nil, fmt.Errorf("link token: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO "SecuritySettings" ("userId","twoFactorEnabled","loginAlerts")
		VALUES ($1,FALSE,TRUE)
	`, user.ID); err != nil {
		return nil, fmt.Errorf("create security settings: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO "Subscription" ("id","userId","plan","status")
		VALUES ($1,$2,'free','active')
	`, uuid.NewString(), user.ID); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit redeem: %w", err)
	}
	return user, nil
}

func (r *Repository) RedeemForUser(ctx context.Context, token, userID, key string) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin redeem: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := markTokenUsed(ctx, tx, token); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE "User"
		SET "emailVerified"=TRUE, "password"=$1, "updatedAt"=NOW()
		WHERE "id"=$2
	`, key, userID); err != nil {
		return fmt.Errorf("verify user: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE "VerificationToken" SET "userId"=$1 WHERE "token"=$2
	`, userID, HashString(token)); err != nil {
		return fmt.Errorf("link token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit redeem: %w", err)
	}
	return nil
}

func (r *Repository) FindSettings(ctx context.Context, userID string) (*SecuritySettings, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT "userId","twoFactorEnabled","twoFactorSecret","loginAlerts","updatedAt"
		FROM "SecuritySettings"
		WHERE "userId"=$1
	`, userID)

	var (
		set    SecuritySettings
		secret sql.NullString
	)
	if err := row.Scan(&set.UserID, &set.TwoFactorEnabled, &secret, &set.LoginAlerts, &set.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	set.TwoFactorSecret = nullStringPtr(secret)
	return &set, nil
}

func (r *Repository) EnableTwoFactor(ctx context.Context, userID, secret string) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO "SecuritySettings" ("userId","twoFactorEnabled","twoFactorSecret","loginAlerts")
		VALUES ($1,TRUE,$2,TRUE)
		ON CONFLICT ("userId") DO UPDATE
		SET "twoFactorEnabled"=TRUE, "twoFactorSecret"=EXCLUDED."twoFactorSecret", "updatedAt"=NOW()
	`, userID, secret)
	return err
}

func (r *Repository) DisableTwoFactor(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE "SecuritySettings"
		SET "twoFactorEnabled"=FALSE, "twoFactorSecret"=NULL, "updatedAt"=NOW()
		WHERE "userId"=$1
	`, userID)
	return err
}

func (r *Repository) InsertLogEntry(ctx context.Context, e *SecurityLogEntry) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO "SecurityLog" ("id","userId","action","details","ipAddress","userAgent","createdAt")
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.UserID, e.Action, e.Details, e.IPAddress, e.UserAgent, e.CreatedAt)
	return err
}

func (r *Repository) OwnedCounts(ctx context.Context, userID string) (documents, sessions, messages int64, err error) {
	row := r.DB.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM "Document" WHERE "userId"=$1),
			(SELECT COUNT(*) FROM "ChatSession" WHERE "userId"=$1),
			(SELECT COUNT(*) FROM "ChatMessage" m
				JOIN "ChatSession" s ON s."id"=m."sessionId"
				WHERE s."userId"=$1)
	`, userID)
	if err := row.Scan(&documents, &sessions, &messages); err != nil {
		return 0, 0, 0, err
	}
	return documents, sessions, messages, nil
}

func (r *Repository) FindSubscription(ctx context.Context, userID string) (*Subscription, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT "id","userId","plan","status"
		FROM "Subscription"
		WHERE "userId"=$1
	`, userID)

	var sub Subscription
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.Plan, &sub.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *Repository) DeleteAccount(ctx context.Context, userID, email string) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin account deletion: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Children before parents.
	steps := []struct {
		name  string
		query string
		arg   string
	}{
		{"chat messages", `DELETE FROM "ChatMessage" WHERE "sessionId" IN (SELECT "id" FROM "ChatSession" WHERE "userId"=$1)`, userID},
		{"chat sessions", `DELETE FROM "ChatSession" WHERE "userId"=$1`, userID},
		{"documents", `DELETE FROM "Document" WHERE "userId"=$1`, userID},
		{"security log", `DELETE FROM "SecurityLog" WHERE "userId"=$1`, userID},
		{"verification tokens", `DELETE FROM "VerificationToken" WHERE "email"=$1`, NormalizeEmail(email)},
		{"subscription", `DELETE FROM "Subscription" WHERE "userId"=$1`, userID},
		{"security settings", `DELETE FROM "SecuritySettings" WHERE "userId"=$1`, userID},
	}
	for _, step := range steps {
		if _, err := tx.Exec(ctx, step.query, step.arg); err != nil {
			return fmt.Errorf("delete %s: %w", step.name, err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM "User" WHERE "id"=$1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit account deletion: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		id            string
		name          sql.NullString
		email         string
		password      sql.NullString
		emailVerified bool
		status        string
		createdAt     time.Time
		updatedAt     time.Time
	)

	if err := row.Scan(&id, &name, &email, &password, &emailVerified, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	return &User{
		ID:            id,
		Name:          nullStringPtr(name),
		Email:         email,
		PasswordHash:  nullStringPtr(password),
		EmailVerified: emailVerified,
		Status:        UserStatus(status),
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}

func scanToken(row pgx.Row) (*VerificationToken, error) {
	var (
		vt     VerificationToken
		typ    string
		userID sql.NullString
	)

	if err := row.Scan(&vt.ID, &vt.Token, &vt.Email, &vt.Key, &typ, &vt.ExpiresAt, &vt.Used, &userID, &vt.CreatedAt); err != nil {
		return nil, err
	}
	vt.Type = TokenType(typ)
	vt.UserID = nullStringPtr(userID)
	return &vt, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}
