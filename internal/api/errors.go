// Package api provides the HTTP handlers and router for the payments server.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/courtside/internal/middleware"
)

// Error codes returned in the "code" field of error responses.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodeCreditsRemaining indicates the user must spend existing credits first.
	ErrCodeCreditsRemaining = "CREDITS_REMAINING"

	// ErrCodeInvalidPrice indicates the price ID is unknown or inactive.
	ErrCodeInvalidPrice = "INVALID_PRICE"

	// ErrCodeMissingSignature indicates a webhook without a Stripe-Signature header.
	ErrCodeMissingSignature = "MISSING_SIGNATURE"

	// ErrCodeInvalidSignature indicates a webhook whose signature failed verification.
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"

	// ErrCodeNotFound indicates the route does not exist.
	ErrCodeNotFound = "NOT_FOUND"

	ErrCodeInternal     = middleware.ErrCodeInternal
	ErrCodeRateLimited  = middleware.ErrCodeRateLimited
	ErrCodeUnauthorized = middleware.ErrCodeUnauthorized
	ErrCodeForbidden    = middleware.ErrCodeForbidden
)

// ErrorResponse is the JSON error body: {"error": "...", "code": "..."}.
type ErrorResponse = middleware.ErrorBody

// WriteError writes a JSON error response and records code for the request log.
//
// Example:
//
//	WriteError(w, r.Context(), http.StatusNotFound, api.ErrCodeNotFound, "Not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.WriteJSONError(w, ctx, status, code, message)
}

// StatusCodeMapping returns the HTTP status code used for an error code.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeCreditsRemaining, ErrCodeInvalidPrice,
		ErrCodeMissingSignature, ErrCodeInvalidSignature:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v with status.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
