package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEventAlreadyProcessed is returned when attempting to record a duplicate webhook event.
var ErrEventAlreadyProcessed = errors.New("webhook event already processed")

// WebhookLedger records processed webhook event IDs so side effects run at most once.
// Entries are never updated after insert.
type WebhookLedger interface {
	// IsDuplicate reports whether the event has already been recorded.
	// Lookup errors other than "not found" are returned to the caller.
	IsDuplicate(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records the event with its processing status.
	// Returns ErrEventAlreadyProcessed if the event was already recorded.
	MarkProcessed(ctx context.Context, eventID, eventType, status string) error
}

// InMemoryWebhookLedger implements WebhookLedger with in-memory storage.
type InMemoryWebhookLedger struct {
	mu     sync.RWMutex
	events map[string]*WebhookEvent // Maps event_id -> WebhookEvent
}

// NewInMemoryWebhookLedger creates a new in-memory webhook ledger.
func NewInMemoryWebhookLedger() *InMemoryWebhookLedger {
	return &InMemoryWebhookLedger{
		events: make(map[string]*WebhookEvent),
	}
}

// IsDuplicate checks if an event has already been recorded.
func (l *InMemoryWebhookLedger) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, exists := l.events[eventID]
	return exists, nil
}

// MarkProcessed records a webhook event.
func (l *InMemoryWebhookLedger) MarkProcessed(ctx context.Context, eventID, eventType, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.events[eventID]; exists {
		return ErrEventAlreadyProcessed
	}

	l.events[eventID] = &WebhookEvent{
		ID:          uuid.New().String(),
		EventID:     eventID,
		EventType:   eventType,
		Status:      status,
		ProcessedAt: time.Now(),
	}
	return nil
}

// Get returns a recorded event. The second return value is false if the event is unknown.
func (l *InMemoryWebhookLedger) Get(eventID string) (WebhookEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	event, ok := l.events[eventID]
	if !ok {
		return WebhookEvent{}, false
	}
	return *event, true
}
