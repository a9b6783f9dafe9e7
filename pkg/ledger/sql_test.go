package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryColumns = []string{
	"id", "seq", "entry_type", "event_id", "event_type", "agent", "action",
	"idempotency_key", "payload", "content_hash", "prev_hash", "ts",
}

func newMockSQL(t *testing.T) (*SQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQL(db).WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	}), mock
}

func TestSQLInitRecoversHead(t *testing.T) {
	s, mock := newMockSQL(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ledger_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT seq, content_hash FROM ledger_entries").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "content_hash"}).AddRow(7, "sha256:abc"))

	require.NoError(t, s.Init(context.Background()))

	head, err := s.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc", head)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLAppendInsertsChainedEntry(t *testing.T) {
	s, mock := newMockSQL(t)

	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))

	stored, dup, err := s.Append(context.Background(), Entry{
		Type:           EntryEvent,
		EventID:        "ev-1",
		IdempotencyKey: "bank:txn-1",
	})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, uint64(1), stored.Sequence)
	assert.Equal(t, "genesis", stored.PrevHash)
	assert.Contains(t, stored.ContentHash, "sha256:")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLAppendDuplicateReturnsOriginal(t *testing.T) {
	s, mock := newMockSQL(t)

	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "idx_ledger_idem"`))
	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE entry_type = .+ AND idempotency_key = ").
		WithArgs("event", "bank:txn-1").
		WillReturnRows(sqlmock.NewRows(entryColumns).AddRow(
			"orig-id", 1, "event", "ev-orig", "bank_transaction_created", "", "",
			"bank:txn-1", `{"n":1}`, "sha256:orig", "genesis",
			time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)))

	stored, dup, err := s.Append(context.Background(), Entry{
		Type:           EntryEvent,
		EventID:        "ev-replay",
		IdempotencyKey: "bank:txn-1",
	})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, "orig-id", stored.ID)
	assert.Equal(t, "ev-orig", stored.EventID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLQueryBuildsFilters(t *testing.T) {
	s, mock := newMockSQL(t)

	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE entry_type = .+ AND agent = .+ AND ts >= .+ ORDER BY seq ASC").
		WithArgs("decision", "bank_reconciliation", since).
		WillReturnRows(sqlmock.NewRows(entryColumns).AddRow(
			"d1", 3, "decision", "ev-1", "bank_transaction_created", "bank_reconciliation",
			"auto_approved", nil, `{}`, "sha256:d1", "sha256:prev",
			time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)))

	entries, err := s.Query(context.Background(), Filter{
		Type:  EntryDecision,
		Agent: "bank_reconciliation",
		Since: since,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "auto_approved", entries[0].Action)
	assert.Empty(t, entries[0].IdempotencyKey)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: ledger_entries.idempotency_key")))
	assert.True(t, isUniqueViolation(errors.New(`pq: duplicate key value violates unique constraint`)))
	assert.True(t, isUniqueViolation(errors.New("SQLSTATE 23505")))
	assert.False(t, isUniqueViolation(errors.New("connection refused")))
	assert.False(t, isUniqueViolation(nil))
}
