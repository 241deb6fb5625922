package payment

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrUserNotFound is returned when no user row exists for an ID.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when inserting a user row that already exists.
	ErrUserExists = errors.New("user already exists")
)

// CreditRepository reads and writes the credit fields of the user row.
type CreditRepository interface {
	// GetCredits returns the remaining AI credits. found is false if no user row exists.
	GetCredits(ctx context.Context, userID string) (credits int, found bool, err error)

	// EnsureUser inserts a minimal user row (premium=false, zero credits).
	// Returns ErrUserExists if the row was created concurrently.
	EnsureUser(ctx context.Context, userID string) error

	// GrantCredits atomically adds credits and sets premium, returning the new balance.
	GrantCredits(ctx context.Context, userID string, amount int) (int, error)

	// SetPremiumCredits overwrites premium=true and the credit balance.
	// Non-atomic fallback for when GrantCredits fails.
	SetPremiumCredits(ctx context.Context, userID string, credits int) error

	// SetCustomerID stores the Stripe customer ID on the user row.
	SetCustomerID(ctx context.Context, userID, customerID string) error

	// RevokeCredits clears premium and zeroes the credit balance.
	RevokeCredits(ctx context.Context, userID string) error
}

// InMemoryCreditRepository implements CreditRepository with in-memory storage.
type InMemoryCreditRepository struct {
	mu    sync.RWMutex
	users map[string]*UserCreditState
}

// NewInMemoryCreditRepository creates a new in-memory credit repository.
func NewInMemoryCreditRepository() *InMemoryCreditRepository {
	return &InMemoryCreditRepository{
		users: make(map[string]*UserCreditState),
	}
}

// GetCredits returns the user's remaining credits.
func (r *InMemoryCreditRepository) GetCredits(ctx context.Context, userID string) (int, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return 0, false, nil
	}
	return user.AICreditsRemaining, true, nil
}

// EnsureUser inserts a minimal user row.
func (r *InMemoryCreditRepository) EnsureUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; ok {
		return ErrUserExists
	}
	r.users[userID] = &UserCreditState{UserID: userID, UpdatedAt: time.Now()}
	return nil
}

// GrantCredits adds credits under the repository lock.
func (r *InMemoryCreditRepository) GrantCredits(ctx context.Context, userID string, amount int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	user.AICreditsRemaining += amount
	user.HasPremium = true
	user.UpdatedAt = time.Now()
	return user.AICreditsRemaining, nil
}

// SetPremiumCredits overwrites premium and credits, creating the row if needed.
func (r *InMemoryCreditRepository) SetPremiumCredits(ctx context.Context, userID string, credits int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		user = &UserCreditState{UserID: userID}
		r.users[userID] = user
	}
	user.HasPremium = true
	user.AICreditsRemaining = credits
	user.UpdatedAt = time.Now()
	return nil
}

// SetCustomerID stores the Stripe customer ID.
func (r *InMemoryCreditRepository) SetCustomerID(ctx context.Context, userID, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.CustomerID = &customerID
	user.UpdatedAt = time.Now()
	return nil
}

// RevokeCredits clears premium and credits.
func (r *InMemoryCreditRepository) RevokeCredits(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.HasPremium = false
	user.AICreditsRemaining = 0
	user.UpdatedAt = time.Now()
	return nil
}

// Get returns a copy of the user's credit state.
func (r *InMemoryCreditRepository) Get(userID string) (UserCreditState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return UserCreditState{}, false
	}
	copied := *user
	copied.CustomerID = copyString(user.CustomerID)
	return copied, true
}
