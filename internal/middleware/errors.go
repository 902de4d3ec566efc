package middleware

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront/internal/model"
	"storefront/pkg/apierror"
)

type errorMapping struct {
	target  error
	code    string
	message string
	status  int
}

// Order matters: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{model.ErrServiceUnavailable, "SERVICE_UNAVAILABLE", "service temporarily unavailable", http.StatusServiceUnavailable},
	{model.ErrRateLimited, "RATE_LIMITED", "too many attempts, try again later", http.StatusTooManyRequests},
	{model.ErrInvalidCredentials, "INVALID_CREDENTIALS", "invalid email or password", http.StatusUnauthorized},
	{model.ErrAccountLocked, "ACCOUNT_LOCKED", "account temporarily locked", http.StatusForbidden},
	{model.ErrAccountInactive, "ACCOUNT_INACTIVE", "account is inactive", http.StatusForbidden},
	{model.ErrSessionRevoked, "SESSION_REVOKED", "session is no longer valid", http.StatusUnauthorized},
	{model.ErrTokenExpired, "TOKEN_EXPIRED", "token expired", http.StatusUnauthorized},
	{model.ErrTokenInvalid, "TOKEN_INVALID", "token invalid", http.StatusUnauthorized},
	{model.ErrUnauthenticated, "UNAUTHENTICATED", "authentication required", http.StatusUnauthorized},
	{model.ErrForbidden, "FORBIDDEN", "insufficient permissions", http.StatusForbidden},
	{model.ErrResetTokenInvalid, "RESET_TOKEN_INVALID", "reset token is invalid or expired", http.StatusBadRequest},
	{model.ErrEmailTaken, "CONFLICT", "email already registered", http.StatusConflict},
	{model.ErrAccountNotFound, "NOT_FOUND", "account not found", http.StatusNotFound},
	{model.ErrInvalidInput, "BAD_REQUEST", "invalid request", http.StatusBadRequest},
}

// WriteError renders err in the response envelope. Taxonomy errors get
// their stable code and a generic message; anything else is a 500 without
// detail.
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		writeErrorBody(w, apiErr.HTTPStatus, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}

	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}

		switch m.target {
		case model.ErrServiceUnavailable:
			slog.Error("store unavailable", "error", err)
		case model.ErrRateLimited:
			setRetryAfter(w, err)
		}

		details := ""
		if m.target == model.ErrInvalidInput {
			details = invalidInputDetail(err)
		}
		writeErrorBody(w, m.status, m.code, m.message, details)
		return
	}

	slog.Error("unhandled error", "error", err)
	writeErrorBody(w, http.StatusInternalServerError, "INTERNAL_ERROR", "unexpected server error", "")
}

func setRetryAfter(w http.ResponseWriter, err error) {
	var rateErr *model.RateLimitError
	if !errors.As(err, &rateErr) {
		return
	}
	seconds := int(math.Ceil(time.Until(rateErr.ResetAt).Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
}

// invalidInputDetail exposes the validation message, which never carries
// store or credential detail.
func invalidInputDetail(err error) string {
	prefix := model.ErrInvalidInput.Error() + ": "
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) {
		return ""
	}
	return strings.TrimPrefix(msg, prefix)
}

func writeErrorBody(w http.ResponseWriter, status int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonEncode(w, model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}
