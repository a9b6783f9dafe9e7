package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAppendChainsHashes(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	first, dup, err := l.Append(ctx, Entry{Type: EntryEvent, EventID: "ev-1", Payload: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, "genesis", first.PrevHash)
	assert.Contains(t, first.ContentHash, "sha256:")

	second, _, err := l.Append(ctx, Entry{Type: EntryDecision, EventID: "ev-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ContentHash, second.PrevHash)

	head, err := l.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ContentHash, head)

	entries, err := l.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.NoError(t, VerifyChain(entries))
}

func TestMemoryIdempotencyFirstWriterWins(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	first, dup, err := l.Append(ctx, Entry{
		Type:           EntryEvent,
		EventID:        "ev-1",
		IdempotencyKey: "bank:txn-42",
		Payload:        json.RawMessage(`{"n":1}`),
	})
	require.NoError(t, err)
	require.False(t, dup)

	replay, dup, err := l.Append(ctx, Entry{
		Type:           EntryEvent,
		EventID:        "ev-other",
		IdempotencyKey: "bank:txn-42",
		Payload:        json.RawMessage(`{"n":2}`),
	})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, "ev-1", replay.EventID)
	assert.Equal(t, 1, l.Len())
}

func TestMemoryDedupIsPerEntryType(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	_, dup, err := l.Append(ctx, Entry{Type: EntryEvent, IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.False(t, dup)

	// Same key under a different entry type is a distinct record.
	_, dup, err = l.Append(ctx, Entry{Type: EntryDecision, IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, 2, l.Len())
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, err := l.Append(ctx, Entry{Type: EntryEvent, EventID: "ev"})
		require.NoError(t, err)
	}
	entries, err := l.Query(ctx, Filter{})
	require.NoError(t, err)

	entries[2].Payload = json.RawMessage(`{"tampered":true}`)
	assert.Error(t, VerifyChain(entries))
}

func TestMemoryQueryFilters(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, _, err := l.Append(ctx, Entry{Type: EntryEvent, EventID: "a"})
	require.NoError(t, err)
	_, _, err = l.Append(ctx, Entry{Type: EntryDecision, EventID: "a", Agent: "bank_reconciliation"})
	require.NoError(t, err)
	_, _, err = l.Append(ctx, Entry{Type: EntryDecision, EventID: "b", Agent: "receipt_coding"})
	require.NoError(t, err)

	decisions, err := l.Query(ctx, Filter{Type: EntryDecision})
	require.NoError(t, err)
	assert.Len(t, decisions, 2)

	byAgent, err := l.Query(ctx, Filter{Type: EntryDecision, Agent: "bank_reconciliation"})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, "a", byAgent[0].EventID)

	none, err := l.Query(ctx, Filter{Since: now.Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAppendPropertyReplaySafe(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100

	properties := gopter.NewProperties(params)

	properties.Property("n appends with duplicates yield one entry per unique key and an intact chain",
		prop.ForAll(func(keys []string) bool {
			l := NewMemory()
			ctx := context.Background()
			unique := map[string]bool{}
			for _, k := range keys {
				if _, _, err := l.Append(ctx, Entry{Type: EntryEvent, IdempotencyKey: k}); err != nil {
					return false
				}
				unique[k] = true
			}
			entries, err := l.Query(ctx, Filter{})
			if err != nil || len(entries) != len(unique) {
				return false
			}
			return VerifyChain(entries) == nil
		}, gen.SliceOf(gen.OneConstOf("k1", "k2", "k3", "k4", "k5"))),
	)

	properties.TestingRun(t)
}
