package auth

import (
	"context"
	"fmt"
	"regexp"
)

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// TwoFactorService drives the per-account enrollment state machine:
// disabled -> pending proof -> enabled -> disabled. The candidate secret is
// persisted only after a successful TOTP proof; until then it exists solely
// in the client round-trip.
type TwoFactorService struct {
	Settings SettingsStore
	TOTP     TOTPVerifier
	Audit    *SecurityLogger
}

func NewTwoFactorService(settings SettingsStore, verifier TOTPVerifier, audit *SecurityLogger) *TwoFactorService {
	return &TwoFactorService{Settings: settings, TOTP: verifier, Audit: audit}
}

type SetupResult struct {
	Secret     string
	OtpauthURL string
	QRDataURL  string
}

// Setup generates a candidate secret for the account. Nothing is stored; the
// secret must come back with a valid code via VerifyAndEnable.
func (s *TwoFactorService) Setup(ctx context.Context, userID, email string) (*SetupResult, error) {
	set, err := s.Settings.FindSettings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load security settings: %w", err)
	}
	if set != nil && set.TwoFactorEnabled {
		return nil, ErrTwoFactorEnabled
	}

	secret, otpauth, qr, err := s.TOTP.Generate(email)
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	return &SetupResult{Secret: secret, OtpauthURL: otpauth, QRDataURL: qr}, nil
}

// VerifyAndEnable checks the proof of possession and flips 2FA on. The
// settings update is authoritative; the audit entry afterwards is best-effort.
func (s *TwoFactorService) VerifyAndEnable(ctx context.Context, userID, candidateSecret, code string, req RequestInfo) error {
	if !codePattern.MatchString(code) {
		return ErrCodeFormat
	}

	set, err := s.Settings.FindSettings(ctx, userID)
	if err != nil {
		return fmt.Errorf("load security settings: %w", err)
	}
	if set != nil && set.TwoFactorEnabled {
		return ErrTwoFactorEnabled
	}

	if candidateSecret == "" || !s.TOTP.Verify(candidateSecret, code) {
		return ErrInvalidCode
	}

	if err := s.Settings.EnableTwoFactor(ctx, userID, candidateSecret); err != nil {
		return fmt.Errorf("enable two-factor: %w", err)
	}

	s.Audit.Record(ctx, &SecurityLogEntry{
		UserID:    userID,
		Action:    ActionTwoFactorEnabled,
		Details:   "authenticator app enrolled",
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	})
	return nil
}

// Disable turns 2FA off and clears the stored secret. Disabling an account
// that is not enabled is a conflict, not a no-op write.
func (s *TwoFactorService) Disable(ctx context.Context, userID string, req RequestInfo) error {
	set, err := s.Settings.FindSettings(ctx, userID)
	if err != nil {
		return fmt.Errorf("load security settings: %w", err)
	}
	if set == nil || !set.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}

	if err := s.Settings.DisableTwoFactor(ctx, userID); err != nil {
		return fmt.Errorf("disable two-factor: %w", err)
	}

	s.Audit.Record(ctx, &SecurityLogEntry{
		UserID:    userID,
		Action:    ActionTwoFactorDisabled,
		Details:   "two-factor authentication disabled",
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	})
	return nil
}
