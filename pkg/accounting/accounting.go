// Package accounting defines the interfaces to the external accounting
// system and bank feed. The real system is an external collaborator;
// this package carries the contract and an in-memory fake for tests.
package accounting

import (
	"context"
	"time"

	"github.com/quorumfi/finagent/pkg/match"
)

// RecordFilter selects candidate records for matching.
type RecordFilter struct {
	Kind         string // "invoice", "bill", or empty for both
	OpenOnly     bool
	Counterparty string
	IssuedAfter  time.Time
}

// BillDraft is the data for a bill created from a receipt.
type BillDraft struct {
	Vendor      string    `json:"vendor"`
	AmountCents int64     `json:"amount_cents"`
	AccountCode string    `json:"account_code"`
	Description string    `json:"description,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
}

// System is the accounting system of record. It is the source of truth
// for invoices, bills, and transactions, and receives write-backs of
// applied matches.
type System interface {
	FindCandidateRecords(ctx context.Context, filter RecordFilter) ([]match.Record, error)
	PostMatch(ctx context.Context, transactionID, recordID string) error
	ReconcileTransfer(ctx context.Context, transactionID, sourceAccountID, targetAccountID string) error
	CreateBill(ctx context.Context, draft BillDraft) (string, error)
}
