package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrPaymentRecordNotFound is returned when a payment record is not found.
	ErrPaymentRecordNotFound = errors.New("payment record not found")

	// ErrInvalidTransition is returned when a status change is not allowed by the payment state machine.
	ErrInvalidTransition = errors.New("invalid payment status transition")

	// ErrDuplicateSession is returned when a payment record already exists for a session.
	ErrDuplicateSession = errors.New("payment record already exists for session")
)

// PaymentRepository defines methods for payment record persistence.
// The transition methods are the only writers of PaymentRecord.Status.
type PaymentRepository interface {
	// CreatePending inserts a new record with status pending.
	CreatePending(ctx context.Context, record *PaymentRecord) error

	// GetBySessionID retrieves a payment record by Checkout Session ID.
	GetBySessionID(ctx context.Context, sessionID string) (*PaymentRecord, error)

	// MarkActive moves a pending record to active and records the completed checkout.
	MarkActive(ctx context.Context, sessionID string, details ActivationDetails) error

	// MarkFailed moves a pending record to failed with a reason.
	MarkFailed(ctx context.Context, sessionID, reason string) error

	// ApplyRefund records a refund against the most recent active record of a customer.
	// A full refund moves the record to refunded; a partial refund only updates the refunded amount.
	// Returns the affected record.
	ApplyRefund(ctx context.Context, customerID string, refund RefundDetails) (*PaymentRecord, error)
}

// InMemoryPaymentRepository implements PaymentRepository with in-memory storage.
type InMemoryPaymentRepository struct {
	mu        sync.RWMutex
	records   map[string]*PaymentRecord // session_id -> record
	createSeq map[string]int64          // session_id -> insertion order
	seq       int64
}

// NewInMemoryPaymentRepository creates a new in-memory payment repository.
func NewInMemoryPaymentRepository() *InMemoryPaymentRepository {
	return &InMemoryPaymentRepository{
		records:   make(map[string]*PaymentRecord),
		createSeq: make(map[string]int64),
	}
}

// CreatePending adds a new pending payment record.
func (r *InMemoryPaymentRepository) CreatePending(ctx context.Context, record *PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.SessionID]; exists {
		return ErrDuplicateSession
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	record.Status = StatusPending

	now := time.Now()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	record.UpdatedAt = &now

	copied := copyRecord(record)
	r.records[record.SessionID] = copied
	r.seq++
	r.createSeq[record.SessionID] = r.seq

	return nil
}

// GetBySessionID retrieves a payment record by session ID.
func (r *InMemoryPaymentRepository) GetBySessionID(ctx context.Context, sessionID string) (*PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[sessionID]
	if !ok {
		return nil, ErrPaymentRecordNotFound
	}
	return copyRecord(record), nil
}

// MarkActive transitions a pending record to active.
func (r *InMemoryPaymentRepository) MarkActive(ctx context.Context, sessionID string, details ActivationDetails) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[sessionID]
	if !ok {
		return ErrPaymentRecordNotFound
	}
	if !CanTransition(record.Status, StatusActive) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, record.Status, StatusActive)
	}

	record.Status = StatusActive
	record.CustomerID = optionalString(details.CustomerID)
	record.PaymentIntentID = optionalString(details.PaymentIntentID)
	record.PaymentMethod = optionalString(details.PaymentMethod)
	amountPaid := details.AmountPaid
	record.AmountPaid = &amountPaid
	if details.Currency != "" {
		record.Currency = details.Currency
	}
	now := time.Now()
	record.UpdatedAt = &now

	return nil
}

// MarkFailed transitions a pending record to failed.
func (r *InMemoryPaymentRepository) MarkFailed(ctx context.Context, sessionID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[sessionID]
	if !ok {
		return ErrPaymentRecordNotFound
	}
	if !CanTransition(record.Status, StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, record.Status, StatusFailed)
	}

	record.Status = StatusFailed
	record.FailureReason = &reason
	now := time.Now()
	record.UpdatedAt = &now

	return nil
}

// ApplyRefund records a refund on the customer's most recent active payment.
func (r *InMemoryPaymentRepository) ApplyRefund(ctx context.Context, customerID string, refund RefundDetails) (*PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *PaymentRecord
	var latestSeq int64
	for sessionID, record := range r.records {
		if record.CustomerID == nil || *record.CustomerID != customerID || record.Status != StatusActive {
			continue
		}
		if seq := r.createSeq[sessionID]; latest == nil || seq > latestSeq {
			latest, latestSeq = record, seq
		}
	}
	if latest == nil {
		return nil, ErrPaymentRecordNotFound
	}

	latest.RefundedAmount = refund.AmountRefunded
	if refund.Full {
		latest.Status = StatusRefunded
		refundedAt := refund.RefundedAt
		latest.RefundedAt = &refundedAt
	}
	now := time.Now()
	latest.UpdatedAt = &now

	return copyRecord(latest), nil
}

// copyRecord creates a deep copy of a PaymentRecord.
func copyRecord(record *PaymentRecord) *PaymentRecord {
	copied := *record
	copied.CustomerID = copyString(record.CustomerID)
	copied.PaymentIntentID = copyString(record.PaymentIntentID)
	copied.PaymentMethod = copyString(record.PaymentMethod)
	copied.FailureReason = copyString(record.FailureReason)
	if record.AmountPaid != nil {
		v := *record.AmountPaid
		copied.AmountPaid = &v
	}
	copied.RefundedAt = copyTime(record.RefundedAt)
	copied.CreatedAt = copyTime(record.CreatedAt)
	copied.UpdatedAt = copyTime(record.UpdatedAt)
	return &copied
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// optionalString returns nil for an empty string.
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
