//go:build integration

// Run with: go test -tags=integration -v ./internal/payment/...
package payment

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/onnwee/courtside/internal/db"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("courtside"),
		postgres.WithUsername("courtside"),
		postgres.WithPassword("courtside"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := db.Open(ctx, dsn, "courtside")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, db.Migrate(ctx, conn))
	return conn
}

func TestPostgres_Repositories(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()

	payments := NewPostgresPaymentRepository(conn, discardLogger())
	ledger := NewPostgresWebhookLedger(conn)
	credits := NewPostgresCreditRepository(conn)
	transactions := NewPostgresTransactionRepository(conn)

	t.Run("payments state machine", func(t *testing.T) {
		require.NoError(t, payments.CreatePending(ctx, newPendingRecord("cs_pg_1")))
		assert.ErrorIs(t, payments.CreatePending(ctx, newPendingRecord("cs_pg_1")), ErrDuplicateSession)

		_, err := payments.GetBySessionID(ctx, "cs_missing")
		assert.ErrorIs(t, err, ErrPaymentRecordNotFound)

		details := ActivationDetails{CustomerID: "cus_pg", PaymentIntentID: "pi_1", AmountPaid: 499, Currency: "usd", PaymentMethod: "card"}
		require.NoError(t, payments.MarkActive(ctx, "cs_pg_1", details))
		assert.ErrorIs(t, payments.MarkActive(ctx, "cs_pg_1", details), ErrInvalidTransition)
		assert.ErrorIs(t, payments.MarkActive(ctx, "cs_missing", details), ErrPaymentRecordNotFound)
		assert.ErrorIs(t, payments.MarkFailed(ctx, "cs_pg_1", FailureReasonExpired), ErrInvalidTransition)

		record, err := payments.GetBySessionID(ctx, "cs_pg_1")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, record.Status)
		assert.Equal(t, "cus_pg", *record.CustomerID)
		assert.Equal(t, "pi_1", *record.PaymentIntentID)
		assert.Equal(t, int64(499), *record.AmountPaid)

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, payments.CreatePending(ctx, newPendingRecord("cs_pg_2")))
		require.NoError(t, payments.MarkActive(ctx, "cs_pg_2", details))

		partial, err := payments.ApplyRefund(ctx, "cus_pg", RefundDetails{AmountRefunded: 100, RefundedAt: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, "cs_pg_2", partial.SessionID, "most recent active record")
		assert.Equal(t, StatusActive, partial.Status)
		assert.Equal(t, int64(100), partial.RefundedAmount)

		full, err := payments.ApplyRefund(ctx, "cus_pg", RefundDetails{AmountRefunded: 499, Full: true, RefundedAt: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, "cs_pg_2", full.SessionID)
		assert.Equal(t, StatusRefunded, full.Status)
		assert.NotNil(t, full.RefundedAt)

		_, err = payments.ApplyRefund(ctx, "cus_nobody", RefundDetails{Full: true})
		assert.ErrorIs(t, err, ErrPaymentRecordNotFound)

		require.NoError(t, payments.CreatePending(ctx, newPendingRecord("cs_pg_3")))
		require.NoError(t, payments.MarkFailed(ctx, "cs_pg_3", FailureReasonExpired))
		record, err = payments.GetBySessionID(ctx, "cs_pg_3")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, record.Status)
		assert.Equal(t, FailureReasonExpired, *record.FailureReason)
	})

	t.Run("ledger", func(t *testing.T) {
		dup, err := ledger.IsDuplicate(ctx, "evt_pg")
		require.NoError(t, err)
		assert.False(t, dup)

		require.NoError(t, ledger.MarkProcessed(ctx, "evt_pg", "charge.refunded", ProcessingSuccess))
		assert.ErrorIs(t, ledger.MarkProcessed(ctx, "evt_pg", "charge.refunded", ProcessingFailed), ErrEventAlreadyProcessed)

		dup, err = ledger.IsDuplicate(ctx, "evt_pg")
		require.NoError(t, err)
		assert.True(t, dup)
	})

	t.Run("credits", func(t *testing.T) {
		const user = "0b7e5c1d-2f3a-4b5c-8d9e-0f1a2b3c4d5e"

		_, found, err := credits.GetCredits(ctx, user)
		require.NoError(t, err)
		assert.False(t, found)
		assert.ErrorIs(t, credits.SetCustomerID(ctx, user, "cus_1"), ErrUserNotFound)

		require.NoError(t, credits.EnsureUser(ctx, user))
		assert.ErrorIs(t, credits.EnsureUser(ctx, user), ErrUserExists)

		balance, err := credits.GrantCredits(ctx, user, 5)
		require.NoError(t, err)
		assert.Equal(t, 5, balance)

		require.NoError(t, credits.SetPremiumCredits(ctx, user, 5))
		got, _, err := credits.GetCredits(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 5, got, "fallback overwrites")

		require.NoError(t, credits.SetCustomerID(ctx, user, "cus_1"))
		require.NoError(t, credits.RevokeCredits(ctx, user))
		got, _, err = credits.GetCredits(ctx, user)
		require.NoError(t, err)
		assert.Zero(t, got)
	})

	t.Run("transactions", func(t *testing.T) {
		require.NoError(t, transactions.Append(ctx, &TransactionRecord{
			UserID: testUser, Type: TransactionPurchase, Reference: "cs_pg_1", Amount: 499, Credits: 5,
		}))
		var n int
		require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE reference = 'cs_pg_1'`).Scan(&n))
		assert.Equal(t, 1, n)
	})
}

func TestPostgres_WebhookFlow(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()

	payments := NewPostgresPaymentRepository(conn, discardLogger())
	credits := NewPostgresCreditRepository(conn)
	ledger := NewPostgresWebhookLedger(conn)
	processor := NewWebhookProcessor(newFakeStripe(), ledger, payments, credits,
		NewPostgresTransactionRepository(conn), NewMetrics(), discardLogger())

	require.NoError(t, credits.EnsureUser(ctx, testUser))
	require.NoError(t, payments.CreatePending(ctx, newPendingRecord("cs_1")))

	payload, sig := signedEvent(t, "evt_1", stripe.EventTypeCheckoutSessionCompleted, completedSession("cs_1"))
	for i := 0; i < 2; i++ {
		_, err := processor.Handle(ctx, payload, sig)
		require.NoError(t, err)
	}

	balance, _, err := credits.GetCredits(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, CreditsPerPurchase, balance, "redelivery grants once")

	payload, sig = signedEvent(t, "evt_2", stripe.EventTypeChargeRefunded, refundedCharge(499, true))
	_, err = processor.Handle(ctx, payload, sig)
	require.NoError(t, err)

	balance, _, err = credits.GetCredits(ctx, testUser)
	require.NoError(t, err)
	assert.Zero(t, balance)

	record, err := payments.GetBySessionID(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, record.Status)

	var status string
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT status FROM webhook_events WHERE event_id = 'evt_2'`).Scan(&status))
	assert.Equal(t, ProcessingSuccess, status)
}
