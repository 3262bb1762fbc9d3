package vebra

import (
	"context"
	"sync"
	"time"
)

// FailureKind classifies the last failed credential exchange.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureUnauthorized FailureKind = "unauthorized"
)

// Record is the cached token state of one process.
type Record struct {
	Token     string
	ExpiresAt time.Time

	LastFailureKind FailureKind
	LastFailureAt   time.Time
}

// Live reports whether the token can be used at now.
func (r Record) Live(now time.Time) bool {
	return r.Token != "" && now.Before(r.ExpiresAt)
}

// CoolingDown reports whether a failure was recorded less than window ago.
func (r Record) CoolingDown(now time.Time, window time.Duration) bool {
	return !r.LastFailureAt.IsZero() && now.Sub(r.LastFailureAt) < window
}

// Mutation changes a Record in place. Mutations passed to a single Update are
// applied together.
type Mutation func(*Record)

// StoreToken sets the token and its expiry and clears the failure bookkeeping.
func StoreToken(token string, expiresAt time.Time) Mutation {
	return func(r *Record) {
		r.Token = token
		r.ExpiresAt = expiresAt
		r.LastFailureKind = FailureNone
		r.LastFailureAt = time.Time{}
	}
}

// ClearToken drops the token and its expiry. Failure bookkeeping is kept.
func ClearToken() Mutation {
	return func(r *Record) {
		r.Token = ""
		r.ExpiresAt = time.Time{}
	}
}

// RecordFailure sets the failure bookkeeping.
func RecordFailure(kind FailureKind, at time.Time) Mutation {
	return func(r *Record) {
		r.LastFailureKind = kind
		r.LastFailureAt = at
	}
}

// TokenStore holds the token record.
//
// Implementations must apply all mutations of one Update atomically with respect
// to concurrent Read and Update calls.
type TokenStore interface {
	// Read returns a snapshot of the current record.
	Read(ctx context.Context) (Record, error)

	// Update applies the mutations to the current record in order.
	Update(ctx context.Context, mutations ...Mutation) error
}

// MemoryStore is a process-local TokenStore. It starts empty and is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	record Record
}

// Compile-time check to ensure MemoryStore implements TokenStore
var _ TokenStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Read(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.record, nil
}

func (m *MemoryStore) Update(ctx context.Context, mutations ...Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mutate := range mutations {
		mutate(&m.record)
	}
	return nil
}
