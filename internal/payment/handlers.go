package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
)

var (
	// ErrMissingUserID is returned when a completed session carries no user reference.
	ErrMissingUserID = errors.New("checkout session has no user id")

	// ErrMissingCustomerID is returned when a refunded charge has no customer.
	ErrMissingCustomerID = errors.New("charge has no customer id")
)

// FailureReasonExpired is recorded on payments whose checkout session expired.
const FailureReasonExpired = "checkout_session_expired"

// handleCheckoutCompleted activates the payment and grants credits.
//
// The payment record update and the credit grant are primary writes: a failure is
// returned so the ledger marks the event failed. The grant still runs when the
// payment record is missing, because the pending insert is best-effort and the
// customer has paid either way.
func (p *WebhookProcessor) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	userID := session.Metadata[MetadataUserID]
	if userID == "" {
		userID = session.ClientReferenceID
	}
	if userID == "" {
		return fmt.Errorf("%w: session %s", ErrMissingUserID, session.ID)
	}

	details := ActivationDetails{
		AmountPaid: session.AmountTotal,
		Currency:   string(session.Currency),
	}
	if session.Customer != nil {
		details.CustomerID = session.Customer.ID
	}
	if session.PaymentIntent != nil {
		details.PaymentIntentID = session.PaymentIntent.ID
	}
	if len(session.PaymentMethodTypes) > 0 {
		details.PaymentMethod = session.PaymentMethodTypes[0]
	}

	var errs []error

	if err := p.payments.MarkActive(ctx, session.ID, details); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// Already active or closed: a grant here would double-credit the user.
			return fmt.Errorf("payment for session %s not pending: %w", session.ID, err)
		}
		p.logger.ErrorContext(ctx, "failed to activate payment record",
			"session_id", session.ID, "user_id", userID, "error", err)
		errs = append(errs, err)
	}

	if err := p.grantCredits(ctx, userID, CreditsPerPurchase); err != nil {
		errs = append(errs, err)
	}

	if details.CustomerID != "" {
		if err := p.credits.SetCustomerID(ctx, userID, details.CustomerID); err != nil {
			p.logger.ErrorContext(ctx, "failed to store customer id",
				"user_id", userID, "customer_id", details.CustomerID, "error", err)
			errs = append(errs, err)
		}
	}

	BestEffort(ctx, p.logger, p.metrics, "append_purchase_transaction", func(ctx context.Context) error {
		return p.transactions.Append(ctx, &TransactionRecord{
			UserID:     userID,
			Type:       TransactionPurchase,
			Reference:  session.ID,
			Amount:     session.AmountTotal,
			Currency:   string(session.Currency),
			Credits:    CreditsPerPurchase,
			CustomerID: details.CustomerID,
		})
	}, "session_id", session.ID)

	p.logger.InfoContext(ctx, "checkout session completed",
		"session_id", session.ID,
		"user_id", userID,
		"amount", session.AmountTotal,
		"currency", session.Currency)

	return errors.Join(errs...)
}

// grantCredits adds credits atomically, falling back to a direct overwrite.
//
// The fallback sets the balance to amount instead of incrementing it and can
// race with a concurrent reader of the same row. It only runs when the atomic
// path has already failed.
func (p *WebhookProcessor) grantCredits(ctx context.Context, userID string, amount int) error {
	balance, err := p.credits.GrantCredits(ctx, userID, amount)
	if err == nil {
		p.metrics.AddCreditsGranted(amount)
		p.logger.InfoContext(ctx, "credits granted", "user_id", userID, "credits", amount, "balance", balance)
		return nil
	}

	p.logger.WarnContext(ctx, "atomic credit grant failed, using fallback",
		"user_id", userID, "error", err)
	p.metrics.IncGrantFallback()

	if err := p.credits.SetPremiumCredits(ctx, userID, amount); err != nil {
		p.logger.ErrorContext(ctx, "fallback credit grant failed",
			"user_id", userID, "error", err)
		return fmt.Errorf("failed to grant credits: %w", err)
	}

	p.metrics.AddCreditsGranted(amount)
	return nil
}

// handleCheckoutExpired marks the pending payment failed. No user state changes.
func (p *WebhookProcessor) handleCheckoutExpired(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	if err := p.payments.MarkFailed(ctx, session.ID, FailureReasonExpired); err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}

	p.logger.InfoContext(ctx, "checkout session expired", "session_id", session.ID)
	return nil
}

// handleChargeRefunded records the refund and, for a full refund only, revokes
// premium and zeroes the user's credits.
func (p *WebhookProcessor) handleChargeRefunded(ctx context.Context, event stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return fmt.Errorf("failed to parse charge: %w", err)
	}

	if charge.Customer == nil || charge.Customer.ID == "" {
		return fmt.Errorf("%w: charge %s", ErrMissingCustomerID, charge.ID)
	}
	customerID := charge.Customer.ID

	refundedAt := time.Now()
	if event.Created > 0 {
		refundedAt = time.Unix(event.Created, 0)
	}

	record, err := p.payments.ApplyRefund(ctx, customerID, RefundDetails{
		AmountRefunded: charge.AmountRefunded,
		Full:           charge.Refunded,
		RefundedAt:     refundedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to apply refund for customer %s: %w", customerID, err)
	}

	var errs []error
	if charge.Refunded {
		if err := p.credits.RevokeCredits(ctx, record.UserID); err != nil {
			p.logger.ErrorContext(ctx, "failed to revoke credits",
				"user_id", record.UserID, "charge_id", charge.ID, "error", err)
			errs = append(errs, err)
		}
	}

	BestEffort(ctx, p.logger, p.metrics, "append_refund_transaction", func(ctx context.Context) error {
		return p.transactions.Append(ctx, &TransactionRecord{
			UserID:     record.UserID,
			Type:       TransactionRefund,
			Reference:  charge.ID,
			Amount:     charge.AmountRefunded,
			Currency:   string(charge.Currency),
			CustomerID: customerID,
		})
	}, "charge_id", charge.ID)

	p.logger.InfoContext(ctx, "charge refunded",
		"charge_id", charge.ID,
		"user_id", record.UserID,
		"amount_refunded", charge.AmountRefunded,
		"full_refund", charge.Refunded)

	return errors.Join(errs...)
}
