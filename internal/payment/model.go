// Package payment provides models and services for AI-credit purchases:
// checkout session creation, webhook processing and the records they write.
package payment

import "time"

// Payment status values stored in payments.status.
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusFailed   = "failed"
	StatusRefunded = "refunded"
)

// Webhook ledger processing status values.
const (
	ProcessingSuccess = "success"
	ProcessingFailed  = "failed"
)

// Transaction types written to the audit log.
const (
	TransactionPurchase = "purchase"
	TransactionRefund   = "refund"
)

// CreditsPerPurchase is the number of AI credits granted per completed checkout.
const CreditsPerPurchase = 5

// validTransitions lists every allowed payment status change.
var validTransitions = map[string][]string{
	StatusPending: {StatusActive, StatusFailed},
	StatusActive:  {StatusRefunded},
}

// CanTransition reports whether a payment may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PaymentRecord is one checkout attempt.
type PaymentRecord struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	SessionID       string     `json:"session_id"` // Stripe Checkout Session ID
	PriceID         string     `json:"price_id"`
	Amount          int64      `json:"amount"` // Price amount in the smallest currency unit
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	CustomerID      *string    `json:"customer_id,omitempty"` // Set on checkout completion
	PaymentIntentID *string    `json:"payment_intent_id,omitempty"`
	PaymentMethod   *string    `json:"payment_method,omitempty"`
	AmountPaid      *int64     `json:"amount_paid,omitempty"`
	RefundedAmount  int64      `json:"refunded_amount"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	RefundedAt      *time.Time `json:"refunded_at,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// ActivationDetails carries the fields recorded when a checkout completes.
type ActivationDetails struct {
	CustomerID      string
	PaymentIntentID string
	AmountPaid      int64
	Currency        string
	PaymentMethod   string
}

// RefundDetails carries the fields recorded when a charge is refunded.
type RefundDetails struct {
	AmountRefunded int64
	Full           bool
	RefundedAt     time.Time
}

// WebhookEvent is one entry in the idempotency ledger.
type WebhookEvent struct {
	ID          string
	EventID     string // Stripe event ID
	EventType   string
	Status      string // success or failed
	ProcessedAt time.Time
}

// UserCreditState is the subset of the user row the payment flow reads and writes.
type UserCreditState struct {
	UserID             string
	HasPremium         bool
	AICreditsRemaining int
	CustomerID         *string
	UpdatedAt          time.Time
}

// TransactionRecord is an append-only audit entry for a credit grant or refund.
type TransactionRecord struct {
	ID         string
	UserID     string
	Type       string
	Reference  string // Checkout session ID or charge ID
	Amount     int64
	Currency   string
	Credits    int
	CustomerID string
	CreatedAt  time.Time
}
