// Package contracts defines the shared data contracts of the finagent
// pipeline: events, decisions, exceptions, match candidates, and the
// agent result envelope. Everything here is immutable once produced;
// corrections create new records referencing the originals.
package contracts

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of inbound event.
type EventType string

const (
	EventBankTransactionCreated EventType = "bank_transaction_created"
	EventBillCreated            EventType = "bill_created"
	EventSchedulerDaily         EventType = "scheduler_daily"
	EventSchedulerWeekly        EventType = "scheduler_weekly"
)

// Event is a single inbound occurrence: a bank transaction, a bill, or
// a scheduled close task. Events are unique per idempotency key.
type Event struct {
	ID             string          `json:"id"`
	Type           EventType       `json:"type"`
	Source         string          `json:"source"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	ReceivedAt     time.Time       `json:"received_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}

// Action is the terminal outcome class of a Decision.
type Action string

const (
	ActionAutoApproved Action = "auto_approved"
	ActionProposed     Action = "proposed"
	ActionHumanSignoff Action = "human_signoff"
	ActionRejected     Action = "rejected"
)

// Strategy identifies which matching strategy produced a candidate.
type Strategy string

const (
	StrategyExact        Strategy = "exact"
	StrategyAmountWindow Strategy = "amount_window"
	StrategyNarration    Strategy = "narration"
)

// MatchCandidate is one scored pairing of a bank transaction against an
// open accounting record.
type MatchCandidate struct {
	SourceTransactionID string   `json:"source_transaction_id"`
	CandidateRecordID   string   `json:"candidate_record_id"`
	Strategy            Strategy `json:"strategy"`
	Score               float64  `json:"score"`
	ComparedFields      []string `json:"compared_fields,omitempty"`
}

// Decision is the immutable terminal outcome for an event. A correction
// never mutates a Decision in place; it creates a new one whose
// Supersedes field references the original.
type Decision struct {
	ID          string           `json:"id"`
	EventID     string           `json:"event_id"`
	Agent       string           `json:"agent"`
	Action      Action           `json:"action"`
	Confidence  float64          `json:"confidence"`
	Rationale   string           `json:"rationale"`
	Suggestions []MatchCandidate `json:"suggestions,omitempty"`
	Supersedes  string           `json:"supersedes,omitempty"`
	DecidedAt   time.Time        `json:"decided_at"`
}

// Exception is a standing unresolved item requiring manual action.
// Exceptions are created only from human_signoff decisions or failed
// write-backs.
type Exception struct {
	ID            string     `json:"id"`
	EventID       string     `json:"event_id"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Reason        string     `json:"reason"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// WriteBackKind identifies the side effect an approved decision applies.
type WriteBackKind string

const (
	WriteBackPostMatch         WriteBackKind = "post_match"
	WriteBackCreateBill        WriteBackKind = "create_bill"
	WriteBackReconcileTransfer WriteBackKind = "reconcile_transfer"
)

// WriteBack describes the side effect to apply against the accounting
// system once a decision is approved. Payload carries kind-specific
// data (e.g. a bill draft) so contracts stays a leaf package.
type WriteBack struct {
	Kind          WriteBackKind   `json:"kind"`
	TransactionID string          `json:"transaction_id,omitempty"`
	RecordID      string          `json:"record_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// AgentStatus values shared across agents. Individual agents may use a
// subset; the bank reconciliation agent's state machine terminates in
// one of the first four.
const (
	StatusAutoMatched      = "auto_matched"
	StatusPendingReview    = "pending_review"
	StatusUnmatched        = "unmatched"
	StatusInternalTransfer = "internal_transfer"
	StatusOK               = "ok"
	StatusAlert            = "alert"
)

// AgentResult is the uniform envelope every specialized agent returns.
// Agents never gate approvals themselves: Action and the metadata
// fields feed the policy engine, which decides.
type AgentResult struct {
	Agent       string           `json:"agent"`
	Status      string           `json:"status"`
	Action      string           `json:"action"`
	Confidence  float64          `json:"confidence"`
	AmountCents int64            `json:"amount_cents,omitempty"`
	Vendor      string           `json:"vendor,omitempty"`
	Rationale   string           `json:"rationale,omitempty"`
	Suggestions []MatchCandidate `json:"suggestions,omitempty"`
	Context     map[string]any   `json:"context,omitempty"`
	WriteBack   *WriteBack       `json:"write_back,omitempty"`
	Elapsed     time.Duration    `json:"elapsed_ns,omitempty"`
}

// MetricSnapshot is derived on demand from the ledger, never stored or
// incrementally accumulated.
type MetricSnapshot struct {
	WindowDays      int               `json:"window_days"`
	EventsProcessed int               `json:"events_processed"`
	AutoCodedPct    float64           `json:"auto_coded_pct"`
	AutoMatchRate   float64           `json:"auto_match_rate"`
	ExceptionRate   float64           `json:"exception_rate"`
	PerAgentCounts  map[string]int    `json:"per_agent_counts"`
	AgentsStatus    map[string]string `json:"agents_status,omitempty"`
	GeneratedAt     time.Time         `json:"generated_at"`
}
