package accounting

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/quorumfi/finagent/pkg/match"
)

// ErrRecordNotFound is returned by PostMatch for an unknown record.
var ErrRecordNotFound = errors.New("accounting: record not found")

// Memory is an in-memory accounting system for tests and local runs.
// Thread-safe via RWMutex; records are returned by value.
type Memory struct {
	mu        sync.RWMutex
	records   map[string]match.Record
	matches   map[string]string // transactionID -> recordID
	transfers map[string]string // transactionID -> "src->tgt"
	bills     map[string]BillDraft

	// FailPostMatch makes PostMatch fail N times, for retry tests.
	FailPostMatch int
}

// NewMemory creates an empty in-memory accounting system.
func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string]match.Record),
		matches:   make(map[string]string),
		transfers: make(map[string]string),
		bills:     make(map[string]BillDraft),
	}
}

// AddRecord seeds a record.
func (m *Memory) AddRecord(r match.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r
}

// FindCandidateRecords implements System.
func (m *Memory) FindCandidateRecords(ctx context.Context, filter RecordFilter) ([]match.Record, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]match.Record, 0, len(m.records))
	for _, r := range m.records {
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		if filter.OpenOnly && !r.Open {
			continue
		}
		if filter.Counterparty != "" && r.Counterparty != filter.Counterparty {
			continue
		}
		if !filter.IssuedAfter.IsZero() && r.IssuedAt.Before(filter.IssuedAfter) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// PostMatch implements System. Applying the same match twice is
// idempotent; posting a different record against an already-matched
// transaction is an error.
func (m *Memory) PostMatch(ctx context.Context, transactionID, recordID string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPostMatch > 0 {
		m.FailPostMatch--
		return errors.New("accounting: simulated write-back failure")
	}

	r, ok := m.records[recordID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}
	if prev, ok := m.matches[transactionID]; ok {
		if prev == recordID {
			return nil
		}
		return fmt.Errorf("accounting: transaction %s already matched to %s", transactionID, prev)
	}
	r.Open = false
	m.records[recordID] = r
	m.matches[transactionID] = recordID
	return nil
}

// ReconcileTransfer implements System.
func (m *Memory) ReconcileTransfer(ctx context.Context, transactionID, sourceAccountID, targetAccountID string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[transactionID] = sourceAccountID + "->" + targetAccountID
	return nil
}

// CreateBill implements System.
func (m *Memory) CreateBill(ctx context.Context, draft BillDraft) (string, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.bills[id] = draft
	return id, nil
}

// MatchedRecord returns the record a transaction was matched to.
func (m *Memory) MatchedRecord(transactionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.matches[transactionID]
	return id, ok
}

// MatchCount returns the number of applied matches.
func (m *Memory) MatchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matches)
}

// TransferFor returns the recorded self-transfer for a transaction.
func (m *Memory) TransferFor(transactionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transfers[transactionID]
	return t, ok
}
