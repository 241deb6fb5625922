package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/courtside/internal/db"
	"github.com/onnwee/courtside/internal/tracing"
)

const paymentColumns = `id, user_id, session_id, price_id, amount, currency, status,
	customer_id, payment_intent_id, payment_method, amount_paid, refunded_amount,
	failure_reason, refunded_at, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaymentRecord(row rowScanner) (*PaymentRecord, error) {
	var (
		rec                  PaymentRecord
		customerID, intentID sql.NullString
		method, failReason   sql.NullString
		amountPaid           sql.NullInt64
		refundedAt           sql.NullTime
		createdAt, updatedAt time.Time
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.SessionID, &rec.PriceID, &rec.Amount, &rec.Currency, &rec.Status,
		&customerID, &intentID, &method, &amountPaid, &rec.RefundedAmount,
		&failReason, &refundedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.CustomerID = nullString(customerID)
	rec.PaymentIntentID = nullString(intentID)
	rec.PaymentMethod = nullString(method)
	rec.FailureReason = nullString(failReason)
	if amountPaid.Valid {
		rec.AmountPaid = &amountPaid.Int64
	}
	if refundedAt.Valid {
		rec.RefundedAt = &refundedAt.Time
	}
	rec.CreatedAt = &createdAt
	rec.UpdatedAt = &updatedAt
	return &rec, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// PostgresPaymentRepository implements PaymentRepository using PostgreSQL.
type PostgresPaymentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresPaymentRepository creates a new PostgresPaymentRepository.
func NewPostgresPaymentRepository(conn *sql.DB, logger *slog.Logger) *PostgresPaymentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresPaymentRepository{db: conn, logger: logger}
}

// CreatePending inserts a pending payment record.
func (r *PostgresPaymentRepository) CreatePending(ctx context.Context, record *PaymentRecord) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "payments", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.Status = StatusPending

	var createdAt, updatedAt time.Time
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO payments (id, user_id, session_id, price_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, record.ID, record.UserID, record.SessionID, record.PriceID, record.Amount, record.Currency, StatusPending,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("failed to insert payment record: %w", err)
	}

	record.CreatedAt = &createdAt
	record.UpdatedAt = &updatedAt
	return nil
}

// GetBySessionID retrieves a payment record by Checkout Session ID.
func (r *PostgresPaymentRepository) GetBySessionID(ctx context.Context, sessionID string) (record *PaymentRecord, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "payments", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	record, err = scanPaymentRecord(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE session_id = $1`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment record: %w", err)
	}
	return record, nil
}

// MarkActive moves a pending record to active.
func (r *PostgresPaymentRepository) MarkActive(ctx context.Context, sessionID string, details ActivationDetails) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "payments", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2,
		    customer_id = $3,
		    payment_intent_id = $4,
		    payment_method = $5,
		    amount_paid = $6,
		    currency = COALESCE(NULLIF($7::text, ''), currency),
		    updated_at = NOW()
		WHERE session_id = $1 AND status = $8
	`, sessionID, StatusActive,
		toNullString(details.CustomerID),
		toNullString(details.PaymentIntentID),
		toNullString(details.PaymentMethod),
		details.AmountPaid,
		details.Currency,
		StatusPending,
	)
	if err != nil {
		return fmt.Errorf("failed to activate payment record: %w", err)
	}
	return r.checkTransition(ctx, res, sessionID, StatusActive)
}

// MarkFailed moves a pending record to failed.
func (r *PostgresPaymentRepository) MarkFailed(ctx context.Context, sessionID, reason string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "payments", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE session_id = $1 AND status = $4
	`, sessionID, StatusFailed, reason, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return r.checkTransition(ctx, res, sessionID, StatusFailed)
}

// checkTransition distinguishes a missing record from a disallowed transition
// when a guarded UPDATE matched no rows.
func (r *PostgresPaymentRepository) checkTransition(ctx context.Context, res sql.Result, sessionID, to string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM payments WHERE session_id = $1`, sessionID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPaymentRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read payment status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
}

// ApplyRefund records a refund against the customer's most recent active payment.
func (r *PostgresPaymentRepository) ApplyRefund(ctx context.Context, customerID string, refund RefundDetails) (record *PaymentRecord, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "payments", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	status := StatusActive
	var refundedAt sql.NullTime
	if refund.Full {
		status = StatusRefunded
		refundedAt = sql.NullTime{Time: refund.RefundedAt, Valid: true}
	}

	record, err = scanPaymentRecord(r.db.QueryRowContext(ctx, `
		UPDATE payments
		SET refunded_amount = $2,
		    status = $3,
		    refunded_at = COALESCE($4, refunded_at),
		    updated_at = NOW()
		WHERE id = (
			SELECT id FROM payments
			WHERE customer_id = $1 AND status = $5
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE
		)
		RETURNING `+paymentColumns,
		customerID, refund.AmountRefunded, status, refundedAt, StatusActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentRecordNotFound
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to apply refund",
			slog.String("customer_id", customerID),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to apply refund: %w", err)
	}
	return record, nil
}

// PostgresWebhookLedger implements WebhookLedger using the webhook_events table.
type PostgresWebhookLedger struct {
	db *sql.DB
}

// NewPostgresWebhookLedger creates a new PostgresWebhookLedger.
func NewPostgresWebhookLedger(conn *sql.DB) *PostgresWebhookLedger {
	return &PostgresWebhookLedger{db: conn}
}

// IsDuplicate reports whether an event ID has already been recorded.
func (l *PostgresWebhookLedger) IsDuplicate(ctx context.Context, eventID string) (dup bool, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "webhook_events", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	err = l.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)`, eventID).Scan(&dup)
	if err != nil {
		return false, fmt.Errorf("failed to check webhook event: %w", err)
	}
	return dup, nil
}

// MarkProcessed records an event. Returns ErrEventAlreadyProcessed on a concurrent duplicate.
func (l *PostgresWebhookLedger) MarkProcessed(ctx context.Context, eventID, eventType, status string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "webhook_events", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, event_id, event_type, status, processed_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, uuid.New().String(), eventID, eventType, status)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrEventAlreadyProcessed
		}
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

// PostgresCreditRepository implements CreditRepository on the users table.
type PostgresCreditRepository struct {
	db *sql.DB
}

// NewPostgresCreditRepository creates a new PostgresCreditRepository.
func NewPostgresCreditRepository(conn *sql.DB) *PostgresCreditRepository {
	return &PostgresCreditRepository{db: conn}
}

// GetCredits returns the user's remaining credits.
func (r *PostgresCreditRepository) GetCredits(ctx context.Context, userID string) (credits int, found bool, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	err = r.db.QueryRowContext(ctx,
		`SELECT ai_credits_remaining FROM users WHERE id = $1`, userID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get credits: %w", err)
	}
	return credits, true, nil
}

// EnsureUser inserts a minimal user row.
func (r *PostgresCreditRepository) EnsureUser(ctx context.Context, userID string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, has_premium, ai_credits_remaining) VALUES ($1, FALSE, 0)`, userID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GrantCredits calls grant_ai_credits, which increments the balance in one statement.
func (r *PostgresCreditRepository) GrantCredits(ctx context.Context, userID string, amount int) (balance int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationExec)
	defer func() { endSpan(err) }()

	err = r.db.QueryRowContext(ctx, `SELECT grant_ai_credits($1, $2)`, userID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to grant credits: %w", err)
	}
	return balance, nil
}

// SetPremiumCredits overwrites premium and the credit balance, creating the row if needed.
func (r *PostgresCreditRepository) SetPremiumCredits(ctx context.Context, userID string, credits int) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, has_premium, ai_credits_remaining)
		VALUES ($1, TRUE, $2)
		ON CONFLICT (id) DO UPDATE
		SET has_premium = TRUE, ai_credits_remaining = $2, updated_at = NOW()
	`, userID, credits)
	if err != nil {
		return fmt.Errorf("failed to set credits: %w", err)
	}
	return nil
}

// SetCustomerID stores the Stripe customer ID on the user row.
func (r *PostgresCreditRepository) SetCustomerID(ctx context.Context, userID, customerID string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`, userID, customerID)
	if err != nil {
		return fmt.Errorf("failed to set customer id: %w", err)
	}
	return requireRow(res)
}

// RevokeCredits clears premium and zeroes the balance.
func (r *PostgresCreditRepository) RevokeCredits(ctx context.Context, userID string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET has_premium = FALSE, ai_credits_remaining = 0, updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke credits: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// PostgresTransactionRepository implements TransactionRepository using PostgreSQL.
type PostgresTransactionRepository struct {
	db *sql.DB
}

// NewPostgresTransactionRepository creates a new PostgresTransactionRepository.
func NewPostgresTransactionRepository(conn *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: conn}
}

// Append inserts a transaction entry.
func (r *PostgresTransactionRepository) Append(ctx context.Context, tx *TransactionRecord) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "transactions", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	currency := tx.Currency
	if currency == "" {
		currency = "usd"
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, type, reference, amount, currency, credits, customer_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tx.ID, tx.UserID, tx.Type, tx.Reference, tx.Amount, currency, tx.Credits, toNullString(tx.CustomerID), tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}
