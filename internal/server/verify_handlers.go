package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"docchat/internal/auth"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleRegister issues a verification token carrying the hashed credential.
// The account row itself is created when the token is redeemed, so an
// abandoned signup leaves nothing behind but an expiring token.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !validateEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "Invalid email format")
		return
	}
	if err := validatePassword(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	ip := clientIP(r, s.trustedProxies)
	if locked, ttl, err := s.RateLimiter.RegisterIssueAttempt(ctx, req.Email, ip); err != nil {
		log.Printf("register: rate limit check failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Registration throttled")
		return
	} else if locked {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"message":  "Too many signup attempts. Try again later.",
			"cooldown": int64(ttl.Seconds()),
		})
		return
	}

	existing, err := s.Users.FindUserByEmail(ctx, req.Email)
	if err != nil {
		log.Printf("register: lookup by email failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to check user")
		return
	}
	if existing != nil && existing.EmailVerified {
		writeServiceError(w, "register", auth.ErrEmailTaken)
		return
	}

	hashed, err := s.Hasher.Hash(req.Password)
	if err != nil {
		log.Printf("register: hash failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	issued, err := s.Verification.Issue(ctx, req.Email, hashed, auth.TokenEmailVerification)
	if err != nil {
		log.Printf("register: issue token failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	if s.Config.NoEmailVerify {
		if _, err := s.Verification.Redeem(ctx, issued.Token); err != nil {
			writeServiceError(w, "register: immediate redeem", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"message":                   "Registration successful! You can now sign in.",
			"emailVerificationRequired": false,
		})
		return
	}

	if err := s.sendVerificationEmail(ctx, issued.Email, issued.Token); err != nil {
		log.Printf("register: verification email send failed for %s: %v", issued.Email, err)
		writeError(w, http.StatusInternalServerError, "Registration failed: could not send verification email")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":                   "Registration successful! Please check your email to verify your account.",
		"emailVerificationRequired": true,
	})
}

type verifyTokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, "Token is required")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, s.trustedProxies)
	if locked, ttl, err := s.RateLimiter.RegisterRedeemAttempt(ctx, ip); err != nil {
		log.Printf("verify-token: rate limit check failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to verify token")
		return
	} else if locked {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"message":  "Too many verification attempts. Try again later.",
			"cooldown": int64(ttl.Seconds()),
		})
		return
	}

	res, err := s.Verification.Redeem(ctx, req.Token)
	if err != nil {
		writeServiceError(w, "verify-token: redeem", err)
		return
	}

	s.Audit.Record(ctx, &auth.SecurityLogEntry{
		UserID:    res.UserID,
		Action:    auth.ActionEmailVerified,
		Details:   "email address verified",
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Email successfully verified.",
		"email":   res.Email,
	})
}

type resendVerificationRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendVerificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validateEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "Invalid email format")
		return
	}

	ctx := r.Context()
	emailKey := strings.ToLower(req.Email)
	cooldownKey := fmt.Sprintf("resend_cooldown:%s", emailKey)
	if ttl := s.RateLimiter.CooldownTTL(ctx, cooldownKey); ttl > 0 {
		writeJSON(w, http.StatusTooManyRequests, map[string]int64{"cooldown": int64(ttl.Seconds())})
		return
	}
	if locked, ttl, err := s.RateLimiter.RegisterIssueAttempt(ctx, req.Email, clientIP(r, s.trustedProxies)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to process request")
		return
	} else if locked {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"cooldown": int64(ttl.Seconds()),
			"message":  "Too many attempts. Try again later.",
		})
		return
	}

	// The response never reveals whether the address had anything pending.
	issued, err := s.Verification.Reissue(ctx, req.Email)
	if err == nil && issued != nil {
		if sendErr := s.sendVerificationEmail(ctx, issued.Email, issued.Token); sendErr != nil {
			log.Printf("resend-verification: email send failed for %s: %v", issued.Email, sendErr)
			writeError(w, http.StatusInternalServerError, "Failed to send verification email")
			return
		}
	}
	s.RateLimiter.SetCooldown(ctx, cooldownKey, auth.EmailCooldown)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the account exists, a verification email has been sent.",
	})
}

func (s *Server) sendVerificationEmail(ctx context.Context, to, token string) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", s.Config.BaseURL, token)
	subject := "Verify your email address"
	text := fmt.Sprintf("Confirm your email address by opening this link: %s\nThe link expires in 24 hours.", link)
	html := fmt.Sprintf(`<p>Confirm your email address by clicking the link below.</p><p><a href="%s">Verify email</a></p><p>The link expires in 24 hours.</p>`, link)
	return s.Mailer.Send(ctx, to, subject, text, html)
}
