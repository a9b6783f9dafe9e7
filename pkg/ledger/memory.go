package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process ledger for tests and single-node setups.
// Thread-safe via RWMutex; entries are returned by value so callers
// cannot mutate stored history.
type Memory struct {
	mu       sync.RWMutex
	entries  []Entry
	byIdem   map[string]int // "type|key" -> index
	headHash string
	clock    func() time.Time
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		byIdem:   make(map[string]int),
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (m *Memory) WithClock(clock func() time.Time) *Memory {
	m.clock = clock
	return m
}

func idemKey(t EntryType, key string) string { return string(t) + "|" + key }

// Append implements Ledger. First writer wins on idempotency key.
func (m *Memory) Append(ctx context.Context, e Entry) (*Entry, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.IdempotencyKey != "" {
		if i, ok := m.byIdem[idemKey(e.Type, e.IdempotencyKey)]; ok {
			existing := m.entries[i]
			return &existing, true, nil
		}
	}

	e.Sequence = uint64(len(m.entries)) + 1
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Timestamp = m.clock().UTC()
	e.PrevHash = m.headHash

	hash, err := contentHash(&e)
	if err != nil {
		return nil, false, err
	}
	e.ContentHash = hash

	m.entries = append(m.entries, e)
	m.headHash = hash
	if e.IdempotencyKey != "" {
		m.byIdem[idemKey(e.Type, e.IdempotencyKey)] = len(m.entries) - 1
	}

	stored := e
	return &stored, false, nil
}

// Query implements Ledger.
func (m *Memory) Query(ctx context.Context, f Filter) ([]Entry, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0)
	for i := range m.entries {
		if f.Matches(&m.entries[i]) {
			out = append(out, m.entries[i])
			if f.Limit > 0 && len(out) >= f.Limit {
				break
			}
		}
	}
	return out, nil
}

// Head implements Ledger.
func (m *Memory) Head(ctx context.Context) (string, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.headHash, nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
