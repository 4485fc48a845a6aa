// Package api wires the JSON/HTTP surface (gorilla/mux) onto the sync,
// identity, and share-code engines. Grounded in the teacher's console API
// response envelope (internal/server/console_api.go: APIResponse,
// writeJSON, writeError) generalized from the S3 console's shape to this
// domain's endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/0xpr03/vtasync/internal/authz"
	"github.com/0xpr03/vtasync/internal/identity"
	"github.com/0xpr03/vtasync/internal/session"
	"github.com/0xpr03/vtasync/internal/sharecode"
)

// APIResponse is the envelope every endpoint responds with.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data}); err != nil {
		logrus.WithError(err).Warn("write response failed")
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message}); err != nil {
		logrus.WithError(err).Warn("write error response failed")
	}
}

// handleErr maps a domain sentinel error to a status code and writes the
// envelope, per §7's error-kind-to-status table.
func handleErr(w http.ResponseWriter, err error) {
	var valErr *validationError
	switch {
	case errors.As(err, &valErr):
		writeError(w, valErr.Error(), http.StatusBadRequest)
	case errors.Is(err, identity.ErrValidation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrNotAuthenticated):
		writeError(w, "not authenticated", http.StatusUnauthorized)
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, "invalid credentials", http.StatusForbidden)
	case errors.Is(err, identity.ErrLockedAccount):
		writeError(w, "account locked", http.StatusForbidden)
	case errors.Is(err, authz.ErrListNotFound):
		writeError(w, "list not found", http.StatusNotFound)
	case errors.Is(err, authz.ErrPermissionDenied):
		writeError(w, "permission denied", http.StatusForbidden)
	case errors.Is(err, sharecode.ErrInvalid):
		writeError(w, "share code invalid", http.StatusNotFound)
	case errors.Is(err, sharecode.ErrOutdated):
		writeError(w, "share code expired", http.StatusNotFound)
	case errors.Is(err, sharecode.ErrValidation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, identity.ErrExistingUser):
		writeError(w, "user already exists", http.StatusConflict)
	case errors.Is(err, identity.ErrExistingLogin):
		writeError(w, "password login already registered", http.StatusConflict)
	case errors.Is(err, identity.ErrUnknownUser):
		writeError(w, "unknown user", http.StatusBadRequest)
	case errors.Is(err, identity.ErrDeletedUser):
		writeError(w, "account deleted", http.StatusGone)
	default:
		logrus.WithError(err).Error("unhandled api error")
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// validationError names the malformed request field, per §7's
// ValidationError(field).
type validationError struct {
	field string
}

func (e *validationError) Error() string { return "validation error: " + e.field }

func validationErr(field string) error { return &validationError{field: field} }

func logTouchLastSeenErr(err error) {
	logrus.WithError(err).Warn("touch last_seen failed")
}
