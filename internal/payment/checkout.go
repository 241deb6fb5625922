package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/onnwee/courtside/internal/config"
	"github.com/onnwee/courtside/internal/tracing"
)

// PriceIDPrefix is the prefix every Stripe price ID carries.
const PriceIDPrefix = "price_"

var (
	// ErrValidation is returned when a create-session request is malformed.
	ErrValidation = errors.New("validation error")

	// ErrCreditsRemaining is returned when the user still has unused credits.
	// Credits are not stackable: a purchase is blocked until the balance reaches zero.
	ErrCreditsRemaining = errors.New("ai credits remaining")
)

// CreateSessionInput is a validated create-session request.
type CreateSessionInput struct {
	UserID  string `json:"userId" validate:"required,uuid"`
	PriceID string `json:"priceId" validate:"required,startswith=price_"`
	// Origin is the request Origin header, used to build redirect URLs.
	Origin string `json:"-" validate:"-"`
}

// CheckoutResult is returned after a checkout session is created.
type CheckoutResult struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// CheckoutService creates Stripe Checkout Sessions for AI credit packs.
type CheckoutService struct {
	stripe   Client
	credits  CreditRepository
	payments PaymentRepository
	origins  config.Origins
	validate *validator.Validate
	metrics  *Metrics
	logger   *slog.Logger
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(
	stripeClient Client,
	credits CreditRepository,
	payments PaymentRepository,
	origins config.Origins,
	metrics *Metrics,
	logger *slog.Logger,
) *CheckoutService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutService{
		stripe:   stripeClient,
		credits:  credits,
		payments: payments,
		origins:  origins,
		validate: newValidator(),
		metrics:  metrics,
		logger:   logger,
	}
}

// CreateSession validates the request, enforces the non-stackable credit rule,
// creates a Checkout Session and records a pending payment.
//
// The credit check is a best-effort gate: two concurrent requests for the same
// user can both pass it. That yields duplicate sessions, never duplicate grants,
// since credits are only granted once per completed session.
func (s *CheckoutService) CreateSession(ctx context.Context, in CreateSessionInput) (result *CheckoutResult, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "payment.create_session", tracing.AttrUserID.String(in.UserID))
	defer func() { endSpan(err) }()

	if err := s.validateInput(in); err != nil {
		s.metrics.IncCheckoutSession(OutcomeValidationError)
		return nil, err
	}

	credits, found, err := s.credits.GetCredits(ctx, in.UserID)
	if err != nil {
		s.metrics.IncCheckoutSession(OutcomeError)
		return nil, fmt.Errorf("failed to read user credits: %w", err)
	}
	if credits > 0 {
		s.logger.InfoContext(ctx, "checkout blocked, credits remaining",
			"user_id", in.UserID, "credits", credits)
		s.metrics.IncCheckoutSession(OutcomeCreditsRemaining)
		return nil, ErrCreditsRemaining
	}

	if !found {
		if err := s.credits.EnsureUser(ctx, in.UserID); err != nil && !errors.Is(err, ErrUserExists) {
			s.metrics.IncCheckoutSession(OutcomeError)
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
	}

	price, err := s.stripe.GetPrice(ctx, in.PriceID)
	if err != nil {
		outcome := OutcomeError
		if errors.Is(err, ErrInvalidPrice) {
			outcome = OutcomeInvalidPrice
		}
		s.metrics.IncCheckoutSession(outcome)
		return nil, err
	}

	base := s.origins.Resolve(in.Origin)
	session, err := s.stripe.CreateCheckoutSession(ctx, &CheckoutSessionParams{
		UserID:     in.UserID,
		PriceID:    in.PriceID,
		Credits:    CreditsPerPurchase,
		SuccessURL: base + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  base + "/payment/cancel",
	})
	if err != nil {
		s.metrics.IncCheckoutSession(OutcomeError)
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	record := &PaymentRecord{
		UserID:    in.UserID,
		SessionID: session.ID,
		PriceID:   in.PriceID,
		Amount:    price.UnitAmount,
		Currency:  price.Currency,
	}
	BestEffort(ctx, s.logger, s.metrics, "create_pending_payment", func(ctx context.Context) error {
		return s.payments.CreatePending(ctx, record)
	}, "session_id", session.ID, "user_id", in.UserID)

	s.logger.InfoContext(ctx, "checkout session created",
		"session_id", session.ID,
		"user_id", in.UserID,
		"price_id", in.PriceID,
		"product", price.ProductName,
		"amount", price.UnitAmount,
		"currency", price.Currency)
	s.metrics.IncCheckoutSession(OutcomeCreated)

	tracing.SetAttributes(ctx, tracing.AttrStripeSessionID.String(session.ID))
	return &CheckoutResult{URL: session.URL, SessionID: session.ID}, nil
}

// validateInput runs struct validation and converts the first failure into an ErrValidation.
func (s *CheckoutService) validateInput(in CreateSessionInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrValidation, fe.Field())
	case "uuid":
		return fmt.Errorf("%w: %s must be a valid UUID", ErrValidation, fe.Field())
	case "startswith":
		return fmt.Errorf("%w: %s must start with %q", ErrValidation, fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%w: %s is invalid", ErrValidation, fe.Field())
	}
}

// newValidator returns a validator that reports JSON field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
