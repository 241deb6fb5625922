package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/courtside/internal/middleware"
	"github.com/onnwee/courtside/internal/payment"
)

// MaxCreateSessionBodyBytes limits the create-session request body.
const MaxCreateSessionBodyBytes = 64 << 10

// CheckoutCreator creates checkout sessions. Satisfied by *payment.CheckoutService.
type CheckoutCreator interface {
	CreateSession(ctx context.Context, in payment.CreateSessionInput) (*payment.CheckoutResult, error)
}

// PaymentHandlers holds dependencies for checkout HTTP handlers.
type PaymentHandlers struct {
	checkout CheckoutCreator
	// requireUserMatch binds the body userId to the authenticated user.
	requireUserMatch bool
}

// NewPaymentHandlers creates a new PaymentHandlers instance.
// When requireUserMatch is set, the request's userId must equal the user ID
// placed in the context by middleware.RequireAuth.
func NewPaymentHandlers(checkout CheckoutCreator, requireUserMatch bool) *PaymentHandlers {
	return &PaymentHandlers{
		checkout:         checkout,
		requireUserMatch: requireUserMatch,
	}
}

// CreateSessionRequest is the body of POST /create-session.
type CreateSessionRequest struct {
	UserID  string `json:"userId"`
	PriceID string `json:"priceId"`
}

// CreateSession creates a Stripe Checkout Session for an AI credit pack.
// POST /create-session
func (h *PaymentHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, MaxCreateSessionBodyBytes)
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Request body too large")
			return
		}
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Invalid JSON body")
		return
	}

	if h.requireUserMatch && middleware.GetUserID(ctx) != req.UserID {
		slog.WarnContext(ctx, "create-session userId does not match token",
			"user_id", req.UserID, "token_user_id", middleware.GetUserID(ctx))
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "userId does not match authenticated user")
		return
	}

	result, err := h.checkout.CreateSession(ctx, payment.CreateSessionInput{
		UserID:  req.UserID,
		PriceID: req.PriceID,
		Origin:  r.Header.Get("Origin"),
	})
	if err != nil {
		writeCheckoutError(w, ctx, err)
		return
	}

	writeJSON(w, ctx, http.StatusOK, result)
}

// writeCheckoutError maps checkout failures onto the error taxonomy.
func writeCheckoutError(w http.ResponseWriter, ctx context.Context, err error) {
	switch {
	case errors.Is(err, payment.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), payment.ErrValidation.Error()+": ")
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, msg)
	case errors.Is(err, payment.ErrCreditsRemaining):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeCreditsRemaining,
			"You still have AI credits remaining. Use them before purchasing more.")
	case errors.Is(err, payment.ErrInvalidPrice):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidPrice, "Invalid price ID")
	default:
		slog.ErrorContext(ctx, "failed to create checkout session", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create checkout session")
	}
}
