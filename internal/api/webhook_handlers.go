package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/courtside/internal/payment"
)

// MaxWebhookBodyBytes limits the raw webhook payload read before verification.
const MaxWebhookBodyBytes = 1 << 20

// WebhookProcessor handles a raw, signed webhook payload. Satisfied by *payment.WebhookProcessor.
type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signature string) (*payment.WebhookResult, error)
}

// WebhookHandlers holds dependencies for webhook HTTP handlers.
type WebhookHandlers struct {
	processor WebhookProcessor
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
func NewWebhookHandlers(processor WebhookProcessor) *WebhookHandlers {
	return &WebhookHandlers{processor: processor}
}

// HandleStripeWebhook reads the raw body, verifies the signature and dispatches the event.
// A request without a Stripe-Signature header is rejected before the body is read.
// Handler failures after verification are still acknowledged with 200.
// POST /webhook
func (h *WebhookHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeMissingSignature, "Missing Stripe-Signature header")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes))
	if err != nil {
		slog.WarnContext(ctx, "failed to read webhook body", "error", err)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Failed to read request body")
		return
	}

	result, err := h.processor.Handle(ctx, body, signature)
	switch {
	case err == nil:
		writeJSON(w, ctx, http.StatusOK, result)
	case errors.Is(err, payment.ErrMissingSignature):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeMissingSignature, "Missing Stripe-Signature header")
	case errors.Is(err, payment.ErrInvalidSignature):
		slog.WarnContext(ctx, "webhook signature verification failed", "error", err)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidSignature, "Invalid webhook signature")
	default:
		slog.ErrorContext(ctx, "webhook processing failed", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Webhook processing failed")
	}
}
