package payment

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newPendingRecord(sessionID string) *PaymentRecord {
	return &PaymentRecord{
		UserID:    "3f6c1a52-8c1e-4a55-9d8e-2b7f0c9a1e44",
		SessionID: sessionID,
		PriceID:   "price_abc",
		Amount:    499,
		Currency:  "usd",
	}
}

// TestCreatePending_Success tests successful creation of a pending payment record.
func TestCreatePending_Success(t *testing.T) {
	repo := NewInMemoryPaymentRepository()
	ctx := context.Background()

	record := newPendingRecord("cs_test_123")
	record.Status = StatusActive // ignored on insert
	if err := repo.CreatePending(ctx, record); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	retrieved, err := repo.GetBySessionID(ctx, "cs_test_123")
	if err != nil {
		t.Fatalf("GetBySessionID failed: %v", err)
	}
	if retrieved.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, retrieved.Status)
	}
	if retrieved.ID == "" || retrieved.CreatedAt == nil || retrieved.UpdatedAt == nil {
		t.Errorf("expected ID and timestamps to be set, got %+v", retrieved)
	}
	if retrieved.Amount != 499 || retrieved.Currency != "usd" || retrieved.PriceID != "price_abc" {
		t.Errorf("unexpected record: %+v", retrieved)
	}
}

func TestCreatePending_DuplicateSession(t *testing.T) {
	repo := NewInMemoryPaymentRepository()
	ctx := context.Background()

	if err := repo.CreatePending(ctx, newPendingRecord("cs_dup")); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}
	if err := repo.CreatePending(ctx, newPendingRecord("cs_dup")); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("expected ErrDuplicateSession, got %v", err)
	}
}

func TestGetBySessionID_NotFound(t *testing.T) {
	repo := NewInMemoryPaymentRepository()
	if _, err := repo.GetBySessionID(context.Background(), "cs_missing"); !errors.Is(err, ErrPaymentRecordNotFound) {
		t.Errorf("expected ErrPaymentRecordNotFound, got %v", err)
	}
}

func TestGetBySessionID_ReturnsCopy(t *testing.T) {
	repo := NewInMemoryPaymentRepository()
	ctx := context.Background()
	if err := repo.CreatePending(ctx, newPendingRecord("cs_copy")); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	first, _ := repo.GetBySessionID(ctx, "cs_copy")
	first.Status = StatusRefunded
	*first.CreatedAt = time.Time{}

	second, _ := repo.GetBySessionID(ctx, "cs_copy")
	if second.Status != StatusPending {
		t.Errorf("mutating a returned record changed stored status to %s", second.Status)
	}
	if second.CreatedAt.IsZero() {
		t.Error("mutating a returned record changed stored CreatedAt")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusFailed, true},
		{StatusActive, StatusRefunded, true},
		{StatusPending, StatusRefunded, false},
		{StatusActive, StatusFailed, false},
		{StatusActive, StatusActive, false},
		{StatusFailed, StatusActive, false},
		{StatusRefunded, StatusActive, false},
		{StatusRefunded, StatusRefunded, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMarkActive(t *testing.T) {
	repo := NewInMemoryPaymentRepository()
	ctx := context.Background()
	if err := repo.CreatePending(ctx, newPendingRecord("cs_active")); err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	details := ActivationDetails{
		CustomerID:      "cus_123",
		PaymentIntentID: "pi_123",
		AmountPaid:      499,
		Currency:        "usd",
		PaymentMethod:   "card",
	}
	if err := repo.MarkActive(ctx, "cs_active", details); err != nil {
		t.Fatalf("MarkActive failed: %v", err)
	}

	record, _ := repo.GetBySessionID(ctx, "cs_active")
	if record.Status != StatusActive {
		t.Errorf("expected status %s, got %s", StatusActive, record.Status)
	}
	if record.CustomerID == nil || *record.CustomerID != "cus_123" {
		t.Errorf("expected customer cus_123, got %v", record.CustomerID)
	}
	if record.PaymentIntentID == nil || *record.PaymentIntentID != "pi_123" {
		t.Errorf("expected payment intent pi_123, got %v", record.PaymentIntentID)
	}
	if record.AmountPaid == nil || *record.AmountPaid != 499 {
		t.Errorf("expected amount paid 499, got %v", record.AmountPaid)
	}
	if record.PaymentMethod == nil || *record.PaymentMethod != "card" {
		t.Errorf("expected payment method card, got %v", record.PaymentMethod)
	}

	// A second completion must not re-activate.
	if err := repo.MarkActive(ctx, "cs_active", details); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if err := repo.MarkActive(ctx, "cs_missing", details); !errors.Is(err, ErrPaymentRecordNotFound) {
		t.Errorf("expected ErrPaymentRecordNotFound, got %v", err)
	}
}

func TestMarkFailed(t *testing.T) {
	repo := NewInMemoryPaymentRepository()
	ctx := context.Background()
	_ = repo.CreatePending(ctx, newPendingRecord("cs_expired"))
	_ = repo.CreatePending(ctx, newPendingRecord("cs_paid"))
	_ = repo.MarkActive(ctx, "cs_paid", ActivationDetails{CustomerID: "cus_1"})

	if err := repo.MarkFailed(ctx, "cs_expired", FailureReasonExpired); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	record, _ := repo.GetBySessionID(ctx, "cs_expired")
	if record.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, record.Status)
	}
	if record.FailureReason == nil || *record.FailureReason != FailureReasonExpired {
		t.Errorf("expected failure reason %s, got %v", FailureReasonExpired, record.FailureReason)
	}

	if err := repo.MarkFailed(ctx, "cs_paid", FailureReasonExpired); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for active record, got %v", err)
	}
	if err := repo.MarkFailed(ctx, "cs_missing", FailureReasonExpired); !errors.Is(err, ErrPaymentRecordNotFound) {
		t.Errorf("expected ErrPaymentRecordNotFound, got %v", err)
	}
}

func TestApplyRefund(t *testing.T) {
	ctx := context.Background()
	refundedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	setup := func(t *testing.T) *InMemoryPaymentRepository {
		t.Helper()
		repo := NewInMemoryPaymentRepository()
		for _, id := range []string{"cs_old", "cs_new"} {
			if err := repo.CreatePending(ctx, newPendingRecord(id)); err != nil {
				t.Fatalf("CreatePending failed: %v", err)
			}
			if err := repo.MarkActive(ctx, id, ActivationDetails{CustomerID: "cus_1", AmountPaid: 499}); err != nil {
				t.Fatalf("MarkActive failed: %v", err)
			}
		}
		return repo
	}

	t.Run("partial refund keeps record active", func(t *testing.T) {
		repo := setup(t)
		record, err := repo.ApplyRefund(ctx, "cus_1", RefundDetails{AmountRefunded: 100, RefundedAt: refundedAt})
		if err != nil {
			t.Fatalf("ApplyRefund failed: %v", err)
		}
		if record.SessionID != "cs_new" {
			t.Errorf("expected most recent record cs_new, got %s", record.SessionID)
		}
		if record.Status != StatusActive || record.RefundedAmount != 100 || record.RefundedAt != nil {
			t.Errorf("unexpected partial refund state: %+v", record)
		}
	})

	t.Run("full refund moves to refunded", func(t *testing.T) {
		repo := setup(t)
		record, err := repo.ApplyRefund(ctx, "cus_1", RefundDetails{AmountRefunded: 499, Full: true, RefundedAt: refundedAt})
		if err != nil {
			t.Fatalf("ApplyRefund failed: %v", err)
		}
		if record.Status != StatusRefunded || record.RefundedAmount != 499 {
			t.Errorf("unexpected full refund state: %+v", record)
		}
		if record.RefundedAt == nil || !record.RefundedAt.Equal(refundedAt) {
			t.Errorf("expected refunded_at %v, got %v", refundedAt, record.RefundedAt)
		}

		// The next full refund falls through to the older active record.
		record, err = repo.ApplyRefund(ctx, "cus_1", RefundDetails{AmountRefunded: 499, Full: true, RefundedAt: refundedAt})
		if err != nil {
			t.Fatalf("second ApplyRefund failed: %v", err)
		}
		if record.SessionID != "cs_old" {
			t.Errorf("expected cs_old, got %s", record.SessionID)
		}

		if _, err := repo.ApplyRefund(ctx, "cus_1", RefundDetails{Full: true}); !errors.Is(err, ErrPaymentRecordNotFound) {
			t.Errorf("expected ErrPaymentRecordNotFound with no active records, got %v", err)
		}
	})

	t.Run("unknown customer", func(t *testing.T) {
		repo := setup(t)
		if _, err := repo.ApplyRefund(ctx, "cus_other", RefundDetails{Full: true}); !errors.Is(err, ErrPaymentRecordNotFound) {
			t.Errorf("expected ErrPaymentRecordNotFound, got %v", err)
		}
	})
}
