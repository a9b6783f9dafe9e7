package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SQL implements Ledger over database/sql. It supports both SQLite
// (modernc.org/sqlite) and Postgres (lib/pq) via standard drivers.
//
// Cross-process idempotency rests on the partial unique index over
// (entry_type, idempotency_key); the in-process mutex only protects
// the sequence/hash chain for this writer.
type SQL struct {
	db    *sql.DB
	mu    sync.Mutex
	seq   uint64
	head  string
	clock func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	id TEXT PRIMARY KEY,
	seq BIGINT NOT NULL,
	entry_type TEXT NOT NULL,
	event_id TEXT,
	event_type TEXT,
	agent TEXT,
	action TEXT,
	idempotency_key TEXT,
	payload TEXT,
	content_hash TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	ts TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idem
	ON ledger_entries(entry_type, idempotency_key)
	WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_ledger_ts ON ledger_entries(entry_type, ts);
`

// NewSQL creates a SQL-backed ledger. Call Init before use.
func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db, head: "genesis", clock: time.Now}
}

// WithClock overrides the clock for deterministic tests.
func (s *SQL) WithClock(clock func() time.Time) *SQL {
	s.clock = clock
	return s
}

// Init creates the schema and recovers the chain head.
func (s *SQL) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ledger schema: %w", err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, content_hash FROM ledger_entries ORDER BY seq DESC LIMIT 1`)
	var seq uint64
	var head string
	switch err := row.Scan(&seq, &head); {
	case errors.Is(err, sql.ErrNoRows):
		s.seq, s.head = 0, "genesis"
	case err != nil:
		return fmt.Errorf("ledger head: %w", err)
	default:
		s.seq, s.head = seq, head
	}
	return nil
}

// Append implements Ledger.
func (s *SQL) Append(ctx context.Context, e Entry) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Sequence = s.seq + 1
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Timestamp = s.clock().UTC()
	e.PrevHash = s.head

	hash, err := contentHash(&e)
	if err != nil {
		return nil, false, err
	}
	e.ContentHash = hash

	var idem any
	if e.IdempotencyKey != "" {
		idem = e.IdempotencyKey
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(id, seq, entry_type, event_id, event_type, agent, action, idempotency_key, payload, content_hash, prev_hash, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.Sequence, string(e.Type), e.EventID, e.EventType, e.Agent, e.Action,
		idem, string(e.Payload), e.ContentHash, e.PrevHash, e.Timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.getByIdem(ctx, e.Type, e.IdempotencyKey)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("duplicate lookup: %w", lookupErr)
			}
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("ledger append: %w", err)
	}

	s.seq = e.Sequence
	s.head = e.ContentHash
	stored := e
	return &stored, false, nil
}

// Query implements Ledger.
func (s *SQL) Query(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Type != "" {
		where = append(where, "entry_type = "+arg(string(f.Type)))
	}
	if f.EventID != "" {
		where = append(where, "event_id = "+arg(f.EventID))
	}
	if f.Agent != "" {
		where = append(where, "agent = "+arg(f.Agent))
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= "+arg(f.Since.UTC()))
	}
	if !f.Until.IsZero() {
		where = append(where, "ts <= "+arg(f.Until.UTC()))
	}

	query := `SELECT id, seq, entry_type, event_id, event_type, agent, action, idempotency_key, payload, content_hash, prev_hash, ts FROM ledger_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Head implements Ledger.
func (s *SQL) Head(ctx context.Context) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

func (s *SQL) getByIdem(ctx context.Context, t EntryType, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, entry_type, event_id, event_type, agent, action, idempotency_key, payload, content_hash, prev_hash, ts
		FROM ledger_entries WHERE entry_type = $1 AND idempotency_key = $2`,
		string(t), key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e          Entry
		entryType  string
		idem       sql.NullString
		payload    sql.NullString
		eventID    sql.NullString
		eventType  sql.NullString
		agent      sql.NullString
		actionName sql.NullString
	)
	err := row.Scan(&e.ID, &e.Sequence, &entryType, &eventID, &eventType, &agent,
		&actionName, &idem, &payload, &e.ContentHash, &e.PrevHash, &e.Timestamp)
	if err != nil {
		return nil, err
	}
	e.Type = EntryType(entryType)
	e.EventID = eventID.String
	e.EventType = eventType.String
	e.Agent = agent.String
	e.Action = actionName.String
	e.IdempotencyKey = idem.String
	if payload.Valid && payload.String != "" {
		e.Payload = []byte(payload.String)
	}
	return &e, nil
}

// isUniqueViolation detects constraint violations across drivers:
// lib/pq reports SQLSTATE 23505, modernc sqlite reports a message
// containing "UNIQUE constraint failed".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "23505")
}
