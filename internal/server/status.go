package server

import (
	"errors"
	"log"
	"net/http"

	"docchat/internal/auth"
)

// statusForError maps the closed service error set to HTTP statuses. Not
// found deliberately renders as a 400-class validation failure so the API
// leaks no more existence information than the flow already does. Anything
// outside the set is internal: logged server-side, generic message out.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrTokenNotFound):
		return http.StatusBadRequest, "Invalid verification token."
	case errors.Is(err, auth.ErrTokenUsed):
		return http.StatusBadRequest, "This verification token has already been used."
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusBadRequest, "This verification token has expired."
	case errors.Is(err, auth.ErrAlreadyVerified):
		return http.StatusBadRequest, "This email address is already verified."
	case errors.Is(err, auth.ErrCodeFormat):
		return http.StatusBadRequest, "Code must be a 6-digit number."
	case errors.Is(err, auth.ErrInvalidCode):
		return http.StatusBadRequest, "Invalid verification code."
	case errors.Is(err, auth.ErrTwoFactorEnabled):
		return http.StatusBadRequest, "Two-factor authentication is already enabled."
	case errors.Is(err, auth.ErrTwoFactorNotEnabled):
		return http.StatusBadRequest, "Two-factor authentication is not enabled."
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusBadRequest, "Account not found."
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, "A user with this email already exists."
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeServiceError(w http.ResponseWriter, op string, err error) {
	status, message := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s: %v", op, err)
	}
	writeError(w, status, message)
}
