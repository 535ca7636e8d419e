package server

import (
	"log"
	"net/http"
	"strings"

	"docchat/internal/auth"
)

const deletionConfirmationPhrase = "delete my account"

func (s *Server) handleDeletionPreview(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	summary, err := s.Deletion.Preview(r.Context(), sess.UserID)
	if err != nil {
		writeServiceError(w, "deletion preview", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": map[string]interface{}{
			"id":    summary.UserID,
			"email": summary.Email,
			"name":  summary.Name,
		},
		"subscription": map[string]string{
			"plan":   summary.Plan,
			"status": summary.PlanStatus,
		},
		"dataToDelete": map[string]int64{
			"documents":    summary.Documents,
			"chatSessions": summary.ChatSessions,
			"chatMessages": summary.ChatMessages,
		},
		"confirmation": map[string]interface{}{
			"passwordRequired":     true,
			"confirmationRequired": true,
			"confirmationPhrase":   deletionConfirmationPhrase,
		},
	})
}

type deleteAccountRequest struct {
	Password     string `json:"password"`
	Confirmation string `json:"confirmation"`
}

// handleDeleteAccount runs the confirmation ceremony and then the
// irreversible removal. The deletion-requested log entry goes in before the
// transaction so an attempted-but-failed deletion still leaves a trace; on
// success the entry disappears with the account and the external marker
// written by the service is the surviving record.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req deleteAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(strings.ToLower(req.Confirmation)) != deletionConfirmationPhrase {
		writeError(w, http.StatusBadRequest, `Please type "delete my account" to confirm.`)
		return
	}

	ctx := r.Context()
	user, err := s.Users.FindUserByID(ctx, sess.UserID)
	if err != nil {
		log.Printf("delete account: lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete account")
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if user.PasswordHash == nil || !s.Hasher.Compare(*user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "Incorrect password.")
		return
	}

	ip := clientIP(r, s.trustedProxies)
	s.Audit.Record(ctx, &auth.SecurityLogEntry{
		UserID:    user.ID,
		Action:    auth.ActionDeletionRequested,
		Details:   "account deletion confirmed",
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	})

	deletedAt, err := s.Deletion.Execute(ctx, user.ID)
	if err != nil {
		writeServiceError(w, "delete account", err)
		return
	}

	if err := s.Sessions.DeleteByUser(ctx, user.ID); err != nil {
		log.Printf("delete account: clearing sessions: %v", err)
	}
	auth.ClearSessionCookie(w)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Your account and all associated data have been permanently deleted.",
		"deletedAt": deletedAt,
	})
}
