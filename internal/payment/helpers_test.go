package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const testWebhookSecret = "whsec_test_secret"

// fakeStripe serves prices and sessions from memory. Webhook verification
// goes through the real StripeClient so signatures are checked by the SDK.
type fakeStripe struct {
	*StripeClient

	mu         sync.Mutex
	prices     map[string]*Price
	priceErr   error
	sessionErr error
	sessions   []*CheckoutSessionParams
}

func newFakeStripe() *fakeStripe {
	return &fakeStripe{
		StripeClient: NewStripeClient("sk_test_unused", testWebhookSecret),
		prices: map[string]*Price{
			"price_abc": {ID: "price_abc", UnitAmount: 499, Currency: "usd", ProductName: "5 AI credits"},
		},
	}
}

func (f *fakeStripe) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	p, ok := f.prices[priceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, priceID)
	}
	return p, nil
}

func (f *fakeStripe) CreateCheckoutSession(ctx context.Context, params *CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, params)
	id := fmt.Sprintf("cs_test_%d", len(f.sessions))
	return &stripe.CheckoutSession{ID: id, URL: "https://checkout.stripe.com/c/pay/" + id}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signedEvent builds a Stripe event payload and a valid Stripe-Signature header.
func signedEvent(t *testing.T, eventID string, eventType stripe.EventType, object any) ([]byte, string) {
	t.Helper()

	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("failed to marshal event object: %v", err)
	}
	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": stripe.APIVersion,
		"data":        map[string]json.RawMessage{"object": raw},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

// failingPayments wraps a payment repository and fails selected operations.
type failingPayments struct {
	PaymentRepository
	createErr error
	activeErr error
}

func (f failingPayments) CreatePending(ctx context.Context, record *PaymentRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.PaymentRepository.CreatePending(ctx, record)
}

func (f failingPayments) MarkActive(ctx context.Context, sessionID string, details ActivationDetails) error {
	if f.activeErr != nil {
		return f.activeErr
	}
	return f.PaymentRepository.MarkActive(ctx, sessionID, details)
}

// failingCredits wraps a credit repository and fails selected operations.
type failingCredits struct {
	CreditRepository
	getErr    error
	grantErr  error
	premErr   error
	revokeErr error
}

func (f failingCredits) GetCredits(ctx context.Context, userID string) (int, bool, error) {
	if f.getErr != nil {
		return 0, false, f.getErr
	}
	return f.CreditRepository.GetCredits(ctx, userID)
}

func (f failingCredits) GrantCredits(ctx context.Context, userID string, amount int) (int, error) {
	if f.grantErr != nil {
		return 0, f.grantErr
	}
	return f.CreditRepository.GrantCredits(ctx, userID, amount)
}

func (f failingCredits) SetPremiumCredits(ctx context.Context, userID string, credits int) error {
	if f.premErr != nil {
		return f.premErr
	}
	return f.CreditRepository.SetPremiumCredits(ctx, userID, credits)
}

func (f failingCredits) RevokeCredits(ctx context.Context, userID string) error {
	if f.revokeErr != nil {
		return f.revokeErr
	}
	return f.CreditRepository.RevokeCredits(ctx, userID)
}

type failingTransactions struct{}

func (failingTransactions) Append(ctx context.Context, record *TransactionRecord) error {
	return errors.New("transactions table unavailable")
}

type failingLedger struct {
	WebhookLedger
	lookupErr error
	markErr   error
}

func (f failingLedger) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return f.WebhookLedger.IsDuplicate(ctx, eventID)
}

func (f failingLedger) MarkProcessed(ctx context.Context, eventID, eventType, status string) error {
	if f.markErr != nil {
		return f.markErr
	}
	return f.WebhookLedger.MarkProcessed(ctx, eventID, eventType, status)
}
