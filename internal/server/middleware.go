package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"docchat/internal/auth"
)

type ctxKey string

const sessionContextKey ctxKey = "session"

// sessionIDFromRequest accepts the session either as the session cookie or as
// an Authorization bearer credential.
func sessionIDFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie("session_id"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sessionIDFromRequest(r)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		sess, err := s.Sessions.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to read session")
			return
		}
		if sess == nil || sess.ExpiresAt.Before(time.Now()) {
			writeError(w, http.StatusUnauthorized, "Session expired")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) *auth.Session {
	if val, ok := ctx.Value(sessionContextKey).(*auth.Session); ok {
		return val
	}
	return nil
}
