// Package handler contains the HTTP surface of the control plane. Handlers
// decode and validate transport concerns, then delegate to the services;
// domain errors are mapped to a shared status taxonomy in writeServiceError.
package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/breakroom-labs/sentinel/internal/http/response"
	"github.com/breakroom-labs/sentinel/internal/repository"
	"github.com/breakroom-labs/sentinel/internal/security"
	"github.com/breakroom-labs/sentinel/internal/service"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "malformed request body", nil)
		return false
	}
	return true
}

func uintParam(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid "+name, nil)
		return 0, false
	}
	return uint(id), true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}

func userAgent(r *http.Request) string {
	if ua := r.UserAgent(); ua != "" {
		return ua
	}
	return "unknown"
}

// writeServiceError maps domain errors onto the response taxonomy. Unknown
// errors become opaque 500s; their detail stays in the logs.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rle *service.RateLimitError
	switch {
	case errors.As(err, &rle):
		retry := int64(rle.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
		response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests",
			map[string]any{"retry_after": retry})
	case errors.Is(err, security.ErrInvalidToken):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid session token", nil)
	case errors.Is(err, service.ErrTokenRevoked):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "session revoked", nil)
	case errors.Is(err, service.ErrNotSessionOwner):
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "not the session owner", nil)
	case errors.Is(err, repository.ErrChallengeNotFound),
		errors.Is(err, repository.ErrEnvironmentNotFound),
		errors.Is(err, repository.ErrSandboxNotFound),
		errors.Is(err, repository.ErrSessionNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, repository.ErrActiveSessionExists),
		errors.Is(err, repository.ErrAttemptLimitReached),
		errors.Is(err, repository.ErrSubmissionWindowOver),
		errors.Is(err, service.ErrChallengeInactive),
		errors.Is(err, service.ErrEnvironmentInactive),
		errors.Is(err, service.ErrMFAAlreadyEnabled):
		response.Error(w, r, http.StatusBadRequest, "CONFLICT", err.Error(), nil)
	case errors.Is(err, service.ErrMFAInvalidCode):
		response.Error(w, r, http.StatusBadRequest, "INVALID_CODE", "invalid mfa code", nil)
	case errors.Is(err, service.ErrMFANotEnrolled),
		errors.Is(err, service.ErrInvalidChallenge),
		errors.Is(err, service.ErrInvalidEnvironment),
		errors.Is(err, service.ErrInvalidTimeframe):
		response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
