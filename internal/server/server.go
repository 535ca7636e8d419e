package server

import (
	"context"
	"log"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docchat/internal/auth"
	"docchat/internal/config"
)

// Mailer is the outbound-mail surface the handlers need.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

type Server struct {
	Users          auth.UserStore
	Settings       auth.SettingsStore
	Sessions       auth.SessionManager
	RateLimiter    Limiter
	Mailer         Mailer
	Hasher         auth.PasswordHasher
	TOTP           auth.TOTPVerifier
	Verification   *auth.VerificationService
	TwoFactor      *auth.TwoFactorService
	Deletion       *auth.DeletionService
	Audit          *auth.SecurityLogger
	Config         config.Config
	trustedProxies []net.IPNet
}

type Deps struct {
	Users        auth.UserStore
	Settings     auth.SettingsStore
	Sessions     auth.SessionManager
	RateLimiter  Limiter
	Mailer       Mailer
	Hasher       auth.PasswordHasher
	TOTP         auth.TOTPVerifier
	Verification *auth.VerificationService
	TwoFactor    *auth.TwoFactorService
	Deletion     *auth.DeletionService
	Audit        *auth.SecurityLogger
}

func NewServer(cfg config.Config, deps Deps) *Server {
	return &Server{
		Users:          deps.Users,
		Settings:       deps.Settings,
		Sessions:       deps.Sessions,
		RateLimiter:    deps.RateLimiter,
		Mailer:         deps.Mailer,
		Hasher:         deps.Hasher,
		TOTP:           deps.TOTP,
		Verification:   deps.Verification,
		TwoFactor:      deps.TwoFactor,
		Deletion:       deps.Deletion,
		Audit:          deps.Audit,
		Config:         cfg,
		trustedProxies: parseProxyCIDRs(cfg.TrustedProxies),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	formatter := &middleware.DefaultLogFormatter{
		Logger:  log.New(log.Writer(), "", log.Flags()),
		NoColor: true,
	}
	r.Use(middleware.RequestLogger(formatter))
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders)

	r.Post("/api/register", s.handleRegister)
	r.Post("/api/verify-token", s.handleVerifyToken)
	r.Post("/api/resend-verification", s.handleResendVerification)

	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/logout", s.handleLogout)

	r.Group(func(pr chi.Router) {
		pr.Use(s.requireSession)

		pr.Get("/api/auth/me", s.handleMe)

		pr.Post("/api/two-factor/setup", s.handleTwoFactorSetup)
		pr.Post("/api/two-factor/verify", s.handleTwoFactorVerify)
		pr.Post("/api/two-factor/disable", s.handleTwoFactorDisable)

		pr.Get("/api/account/deletion-preview", s.handleDeletionPreview)
		pr.Delete("/api/account", s.handleDeleteAccount)
	})

	return r
}
