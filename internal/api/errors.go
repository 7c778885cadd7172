package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/data"
	"github.com/technosupport/firewatch/internal/evidence"
	"github.com/technosupport/firewatch/internal/users"
	"go.uber.org/zap"
)

// ErrorBody is the stable JSON error envelope.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{alarms.ErrNotFound, http.StatusNotFound, "not_found"},
	{data.ErrUserNotFound, http.StatusNotFound, "not_found"},
	{evidence.ErrInvalidRef, http.StatusNotFound, "not_found"},
	{alarms.ErrAlreadyProcessed, http.StatusConflict, "already_processed"},
	{data.ErrUsernameTaken, http.StatusConflict, "username_taken"},
	{alarms.ErrForbidden, http.StatusForbidden, "forbidden"},
	{users.ErrCannotDeleteSelf, http.StatusForbidden, "forbidden"},
	{alarms.ErrInvalidCredential, http.StatusUnauthorized, "invalid_credential"},
	{alarms.ErrExpiredToken, http.StatusUnauthorized, "expired_token"},
	{users.ErrLockedOut, http.StatusTooManyRequests, "locked_out"},
	{alarms.ErrInvalidFilter, http.StatusBadRequest, "invalid_filter"},
	{users.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{alarms.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
	{alarms.ErrEvidencePersistFailure, http.StatusServiceUnavailable, "evidence_unavailable"},
}

func statusFor(err error) (int, string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorBody{Error: code, Message: msg})
}

// fail maps err onto the error envelope. Only unexpected failures are logged
// at error level.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	} else if status >= 500 {
		s.logger.Warn("request degraded", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, code, msg)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, "bad_request", msg)
}
