package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// MaxNetworkRetries is the number of times the Stripe SDK retries a failed request.
const MaxNetworkRetries = 2

var (
	// ErrInvalidPrice is returned when Stripe does not recognise a price ID or the price is inactive.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrInvalidSignature is returned when webhook signature verification fails.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Price is the subset of a Stripe price used to build a checkout session.
type Price struct {
	ID          string
	UnitAmount  int64
	Currency    string
	ProductName string
}

// CheckoutSessionParams represents parameters for creating a Checkout Session.
type CheckoutSessionParams struct {
	UserID     string
	PriceID    string
	Credits    int
	SuccessURL string
	CancelURL  string
}

// Client is an interface for Stripe operations to enable testing with mocks.
type Client interface {
	GetPrice(ctx context.Context, priceID string) (*Price, error)
	CreateCheckoutSession(ctx context.Context, params *CheckoutSessionParams) (*stripe.CheckoutSession, error)
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// StripeClient implements the Client interface using the real Stripe SDK.
type StripeClient struct {
	api           *client.API
	webhookSecret string
}

// NewStripeClient creates a Stripe client bound to one API key.
// The client does not touch the package-level stripe.Key.
func NewStripeClient(apiKey, webhookSecret string) *StripeClient {
	cfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(MaxNetworkRetries),
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}

	return &StripeClient{
		api:           client.New(apiKey, backends),
		webhookSecret: webhookSecret,
	}
}

// GetPrice resolves a price ID with its product expanded.
func (c *StripeClient) GetPrice(ctx context.Context, priceID string) (*Price, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	params.AddExpand("product")

	p, err := c.api.Prices.Get(priceID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) &&
			(stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, priceID)
		}
		return nil, fmt.Errorf("failed to retrieve price: %w", err)
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: %s is inactive", ErrInvalidPrice, priceID)
	}

	price := &Price{
		ID:         p.ID,
		UnitAmount: p.UnitAmount,
		Currency:   string(p.Currency),
	}
	if p.Product != nil {
		price.ProductName = p.Product.Name
	}
	return price, nil
}

// CreateCheckoutSession creates a one-time payment Checkout Session for a credit pack.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, params *CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	sessionParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		ClientReferenceID: stripe.String(params.UserID),
		// Refunds are matched to payments by customer ID, so always create one.
		CustomerCreation: stripe.String(string(stripe.CheckoutSessionCustomerCreationAlways)),
	}
	sessionParams.Context = ctx
	sessionParams.AddMetadata(MetadataUserID, params.UserID)
	sessionParams.AddMetadata(MetadataPriceID, params.PriceID)
	sessionParams.AddMetadata(MetadataCreditsAmount, strconv.Itoa(params.Credits))

	return c.api.CheckoutSessions.New(sessionParams)
}

// ConstructEvent verifies the Stripe-Signature header against the raw payload and parses the event.
func (c *StripeClient) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// Checkout session metadata keys.
const (
	MetadataUserID        = "userId"
	MetadataPriceID       = "priceId"
	MetadataCreditsAmount = "credits_amount"
)
