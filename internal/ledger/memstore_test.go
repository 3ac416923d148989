package ledger

import (
	"context"
	"sync"

	"pixelsmith/internal/domain"
)

// memBalances is an in-memory BalanceStore with the same conditional-update
// semantics as the Postgres implementation.
type memBalances struct {
	mu       sync.Mutex
	balances map[string]int
}

func newMemBalances() *memBalances {
	return &memBalances{balances: make(map[string]int)}
}

func (m *memBalances) set(userID string, amount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = amount
}

func (m *memBalances) Get(ctx context.Context, userID string) (*domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Balance{UserID: userID, CreditBalance: b}, nil
}

func (m *memBalances) DecrementIfAtLeast(ctx context.Context, userID string, amount int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.balances[userID]
	if current < amount {
		return current, false, nil
	}
	m.balances[userID] = current - amount
	return current - amount, true, nil
}

func (m *memBalances) Increment(ctx context.Context, userID string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] += amount
	return m.balances[userID], nil
}

type opKey struct {
	jobID string
	op    domain.LedgerOp
}

// memEntries is an in-memory LedgerStore enforcing (jobID, op) uniqueness.
// beforeRecord, when set, runs before the uniqueness check so tests can
// interleave a competing writer at the exact race point.
type memEntries struct {
	mu           sync.Mutex
	entries      map[opKey]*domain.LedgerEntry
	beforeRecord func(entry *domain.LedgerEntry)
}

func newMemEntries() *memEntries {
	return &memEntries{entries: make(map[opKey]*domain.LedgerEntry)}
}

func (m *memEntries) Record(ctx context.Context, entry *domain.LedgerEntry) (bool, error) {
	if m.beforeRecord != nil {
		m.beforeRecord(entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := opKey{jobID: entry.JobID, op: entry.Op}
	if _, exists := m.entries[key]; exists {
		return false, nil
	}
	copied := *entry
	m.entries[key] = &copied
	return true, nil
}

func (m *memEntries) Find(ctx context.Context, jobID string, op domain.LedgerOp) (*domain.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[opKey{jobID: jobID, op: op}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}
