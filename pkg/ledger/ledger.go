// Package ledger implements the append-only event ledger: every
// inbound event, terminal decision, exception, notification, and dead
// letter becomes an immutable hash-chained entry. Appends are
// idempotent on the source-provided idempotency key (first writer
// wins), which is the system's only concurrency-control primitive —
// there is no global lock.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quorumfi/finagent/pkg/canonicalize"
)

// ErrNotFound is returned when no entry matches a lookup.
var ErrNotFound = errors.New("ledger: entry not found")

// EntryType categorizes ledger entries.
type EntryType string

const (
	EntryEvent        EntryType = "event"
	EntryDecision     EntryType = "decision"
	EntryException    EntryType = "exception"
	EntryNotification EntryType = "notification"
	EntryDeadLetter   EntryType = "dead_letter"
)

// Entry is a single immutable ledger record. ContentHash covers the
// canonical form of the entry body and chains to PrevHash.
type Entry struct {
	ID             string          `json:"id"`
	Sequence       uint64          `json:"sequence"`
	Type           EntryType       `json:"type"`
	EventID        string          `json:"event_id,omitempty"`
	EventType      string          `json:"event_type,omitempty"`
	Agent          string          `json:"agent,omitempty"`
	Action         string          `json:"action,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ContentHash    string          `json:"content_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Filter selects entries for Query.
type Filter struct {
	Type    EntryType
	EventID string
	Agent   string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Matches reports whether the entry satisfies the filter.
func (f Filter) Matches(e *Entry) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.EventID != "" && e.EventID != f.EventID {
		return false
	}
	if f.Agent != "" && e.Agent != f.Agent {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Ledger is the durable store backing the pipeline.
//
// Append stores an entry and returns it with sequence, hashes, and
// timestamp filled in. If an entry of the same type already exists for
// the entry's idempotency key, the original is returned with
// duplicate=true and nothing is written.
type Ledger interface {
	Append(ctx context.Context, e Entry) (stored *Entry, duplicate bool, err error)
	Query(ctx context.Context, f Filter) ([]Entry, error)
	Head(ctx context.Context) (string, error)
}

// contentHash computes the chained content address of an entry body.
func contentHash(e *Entry) (string, error) {
	body := struct {
		Sequence       uint64          `json:"sequence"`
		Type           EntryType       `json:"type"`
		EventID        string          `json:"event_id,omitempty"`
		EventType      string          `json:"event_type,omitempty"`
		Agent          string          `json:"agent,omitempty"`
		Action         string          `json:"action,omitempty"`
		IdempotencyKey string          `json:"idempotency_key,omitempty"`
		Payload        json.RawMessage `json:"payload,omitempty"`
		PrevHash       string          `json:"prev_hash"`
	}{e.Sequence, e.Type, e.EventID, e.EventType, e.Agent, e.Action, e.IdempotencyKey, e.Payload, e.PrevHash}
	return canonicalize.Hash(body)
}

// VerifyChain recomputes the hash chain over entries ordered by
// sequence. Returns nil when the chain is intact.
func VerifyChain(entries []Entry) error {
	prev := "genesis"
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prev {
			return fmt.Errorf("ledger: chain broken at sequence %d", e.Sequence)
		}
		computed, err := contentHash(e)
		if err != nil {
			return err
		}
		if computed != e.ContentHash {
			return fmt.Errorf("ledger: hash mismatch at sequence %d", e.Sequence)
		}
		prev = e.ContentHash
	}
	return nil
}
