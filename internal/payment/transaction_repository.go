package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransactionRepository appends credit grant and refund entries to the audit log.
type TransactionRepository interface {
	Append(ctx context.Context, record *TransactionRecord) error
}

// InMemoryTransactionRepository implements TransactionRepository with in-memory storage.
type InMemoryTransactionRepository struct {
	mu      sync.Mutex
	records []TransactionRecord
}

// NewInMemoryTransactionRepository creates a new in-memory transaction log.
func NewInMemoryTransactionRepository() *InMemoryTransactionRepository {
	return &InMemoryTransactionRepository{}
}

// Append adds an entry to the log.
func (r *InMemoryTransactionRepository) Append(ctx context.Context, record *TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	r.records = append(r.records, *record)
	return nil
}

// Records returns a snapshot of the log.
func (r *InMemoryTransactionRepository) Records() []TransactionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TransactionRecord, len(r.records))
	copy(out, r.records)
	return out
}
