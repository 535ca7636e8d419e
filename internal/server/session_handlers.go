package server

import (
	"log"
	"net/http"
	"time"

	"docchat/internal/auth"
)

type loginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"twoFactorCode,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, s.trustedProxies)

	if s.RateLimiter.IsIPBanned(ctx, ip) {
		writeError(w, http.StatusTooManyRequests, "Too many failed attempts. Try again later.")
		return
	}

	user, err := s.Users.FindUserByEmail(ctx, req.Email)
	if err != nil {
		log.Printf("login: lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	if user == nil || user.PasswordHash == nil || !s.Hasher.Compare(*user.PasswordHash, req.Password) {
		if err := s.RateLimiter.RegisterLoginFailure(ctx, ip); err != nil {
			log.Printf("login: failure counter: %v", err)
		}
		if user != nil {
			s.Audit.Record(ctx, &auth.SecurityLogEntry{
				UserID:    user.ID,
				Action:    auth.ActionLoginFailed,
				Details:   "wrong password",
				IPAddress: ip,
				UserAgent: r.UserAgent(),
			})
		}
		writeError(w, http.StatusUnauthorized, "Invalid email or password.")
		return
	}

	if !user.EmailVerified {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"message":                   "Please verify your email address before signing in.",
			"emailVerificationRequired": true,
		})
		return
	}
	if user.Status == auth.StatusSuspended {
		writeError(w, http.StatusForbidden, "This account is suspended.")
		return
	}

	settings, err := s.Settings.FindSettings(ctx, user.ID)
	if err != nil {
		log.Printf("login: load settings: %v", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	twoFactorVerified := false
	if settings != nil && settings.TwoFactorEnabled {
		if req.TwoFactorCode == "" {
			writeJSON(w, http.StatusOK, map[string]bool{"twoFactorRequired": true})
			return
		}
		if settings.TwoFactorSecret == nil || !s.TOTP.Verify(*settings.TwoFactorSecret, req.TwoFactorCode) {
			locked, limErr := s.RateLimiter.Register2FAFailure(ctx, user.ID)
			if limErr != nil {
				log.Printf("login: 2fa failure counter: %v", limErr)
			}
			s.Audit.Record(ctx, &auth.SecurityLogEntry{
				UserID:    user.ID,
				Action:    auth.ActionLoginFailed,
				Details:   "wrong two-factor code",
				IPAddress: ip,
				UserAgent: r.UserAgent(),
			})
			if locked {
				writeError(w, http.StatusTooManyRequests, "Too many failed codes. Try again later.")
				return
			}
			writeError(w, http.StatusUnauthorized, "Invalid verification code.")
			return
		}
		s.RateLimiter.Reset2FA(ctx, user.ID)
		twoFactorVerified = true
	}

	s.RateLimiter.ResetLogin(ctx, ip)

	now := time.Now()
	sess := auth.Session{
		ID:                auth.NewSessionID(),
		UserID:            user.ID,
		IP:                ip,
		UserAgent:         r.UserAgent(),
		ExpiresAt:         now.Add(s.Config.SessionTTL),
		LoginTime:         now,
		TwoFactorVerified: twoFactorVerified,
	}
	if err := s.Sessions.Create(ctx, sess); err != nil {
		log.Printf("login: create session: %v", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	auth.SetSessionCookie(w, sess.ID, sess.ExpiresAt)

	s.Audit.Record(ctx, &auth.SecurityLogEntry{
		UserID:    user.ID,
		Action:    auth.ActionLogin,
		Details:   "signed in",
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sess.ID,
		"expiresAt": sess.ExpiresAt.UTC(),
		"user":      userPayload(user, settings),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := sessionIDFromRequest(r); id != "" {
		if err := s.Sessions.Delete(r.Context(), id); err != nil {
			log.Printf("logout: delete session: %v", err)
		}
	}
	auth.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Signed out."})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ctx := r.Context()
	user, err := s.Users.FindUserByID(ctx, sess.UserID)
	if err != nil {
		log.Printf("me: lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load account")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	settings, err := s.Settings.FindSettings(ctx, user.ID)
	if err != nil {
		log.Printf("me: load settings: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":    userPayload(user, settings),
		"session": sess,
	})
}

func userPayload(user *auth.User, settings *auth.SecuritySettings) map[string]interface{} {
	return map[string]interface{}{
		"id":               user.ID,
		"name":             user.Name,
		"email":            user.Email,
		"emailVerified":    user.EmailVerified,
		"status":           user.Status,
		"twoFactorEnabled": settings != nil && settings.TwoFactorEnabled,
		"createdAt":        user.CreatedAt,
	}
}
