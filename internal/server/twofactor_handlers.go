package server

import (
	"errors"
	"log"
	"net/http"

	"docchat/internal/auth"
)

func (s *Server) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ctx := r.Context()
	user, err := s.Users.FindUserByID(ctx, sess.UserID)
	if err != nil {
		log.Printf("2fa setup: lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to start setup")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	res, err := s.TwoFactor.Setup(ctx, user.ID, user.Email)
	if err != nil {
		writeServiceError(w, "2fa setup", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"secret":     res.Secret,
		"otpauthUrl": res.OtpauthURL,
		"qrCodeUrl":  res.QRDataURL,
	})
}

type twoFactorVerifyRequest struct {
	Secret string `json:"secret"`
	Token  string `json:"token"`
}

func (s *Server) handleTwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req twoFactorVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	info := auth.RequestInfo{IP: clientIP(r, s.trustedProxies), UserAgent: r.UserAgent()}

	err := s.TwoFactor.VerifyAndEnable(ctx, sess.UserID, req.Secret, req.Token, info)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCode) {
			locked, limErr := s.RateLimiter.Register2FAFailure(ctx, sess.UserID)
			if limErr != nil {
				log.Printf("2fa verify: failure counter: %v", limErr)
			}
			if locked {
				writeError(w, http.StatusTooManyRequests, "Too many failed codes. Try again later.")
				return
			}
		}
		writeServiceError(w, "2fa verify", err)
		return
	}

	s.RateLimiter.Reset2FA(ctx, sess.UserID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Two-factor authentication enabled.",
		"enabled": true,
	})
}

func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ctx := r.Context()
	info := auth.RequestInfo{IP: clientIP(r, s.trustedProxies), UserAgent: r.UserAgent()}

	if err := s.TwoFactor.Disable(ctx, sess.UserID, info); err != nil {
		writeServiceError(w, "2fa disable", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Two-factor authentication disabled.",
		"enabled": false,
	})
}
