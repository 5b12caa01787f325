// stores.go
//
// Shared in-memory mock of the Redis-backed bot store.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/cityfarmers/growbot/internal/store"
)

// MockStore implements the store interfaces consumed by auth.Flow,
// twitter.Client, scheduler.Scheduler, and server.Handler.
//
// Always stateful...tokens and credentials live in fields, like a real store.
// Use *Err fields to inject errors for specific operations.
type MockStore struct {
	// Error injection...zero value means no error
	GetTokensErr      error
	StoreTokensErr    error
	GetPKCEErr        error
	StorePKCEErr      error
	GetStateErr       error
	StoreStateErr     error
	GetRateLimitErr   error
	StoreRateLimitErr error
	ClearAllErr       error

	// PingResult defaults to false; set true to simulate healthy Redis.
	PingResult bool

	Tokens    map[string]*store.Tokens // keyed by user id
	PKCE      *store.PKCE
	State     string
	RateLimit *time.Time

	// StoreTokensCalls counts successful writes, for refresh-persistence asserts.
	StoreTokensCalls int

	mu sync.Mutex
}

// NewMockStore returns an empty MockStore with healthy ping.
func NewMockStore() *MockStore {
	return &MockStore{
		PingResult: true,
		Tokens:     make(map[string]*store.Tokens),
	}
}

func (m *MockStore) Ping(_ context.Context) bool {
	return m.PingResult
}

func (m *MockStore) GetTokens(_ context.Context, userID string) (*store.Tokens, error) {
	if m.GetTokensErr != nil {
		return nil, m.GetTokensErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tokens[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockStore) StoreTokens(_ context.Context, userID string, tokens store.Tokens) error {
	if m.StoreTokensErr != nil {
		return m.StoreTokensErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Tokens == nil {
		m.Tokens = make(map[string]*store.Tokens)
	}
	m.Tokens[userID] = &tokens
	m.StoreTokensCalls++
	return nil
}

func (m *MockStore) HasTokens(ctx context.Context, userID string) bool {
	_, err := m.GetTokens(ctx, userID)
	return err == nil
}

func (m *MockStore) GetPKCE(_ context.Context) (*store.PKCE, error) {
	if m.GetPKCEErr != nil {
		return nil, m.GetPKCEErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PKCE == nil {
		return nil, store.ErrNotFound
	}
	cp := *m.PKCE
	return &cp, nil
}

func (m *MockStore) StorePKCE(_ context.Context, pair store.PKCE) error {
	if m.StorePKCEErr != nil {
		return m.StorePKCEErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PKCE = &pair
	return nil
}

func (m *MockStore) GetState(_ context.Context) (string, error) {
	if m.GetStateErr != nil {
		return "", m.GetStateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State == "" {
		return "", store.ErrNotFound
	}
	return m.State, nil
}

func (m *MockStore) StoreState(_ context.Context, state string) error {
	if m.StoreStateErr != nil {
		return m.StoreStateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.State = state
	return nil
}

func (m *MockStore) GetRateLimit(_ context.Context) (time.Time, error) {
	if m.GetRateLimitErr != nil {
		return time.Time{}, m.GetRateLimitErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RateLimit == nil {
		return time.Time{}, store.ErrNotFound
	}
	return *m.RateLimit, nil
}

func (m *MockStore) StoreRateLimit(_ context.Context, resumeAt time.Time) error {
	if m.StoreRateLimitErr != nil {
		return m.StoreRateLimitErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RateLimit = &resumeAt
	return nil
}

func (m *MockStore) ClearRateLimit(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RateLimit = nil
	return nil
}

func (m *MockStore) ClearAll(_ context.Context, userID string) error {
	if m.ClearAllErr != nil {
		return m.ClearAllErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Tokens, userID)
	m.PKCE = nil
	m.State = ""
	m.RateLimit = nil
	return nil
}
