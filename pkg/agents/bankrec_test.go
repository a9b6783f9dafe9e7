package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumfi/finagent/pkg/accounting"
	"github.com/quorumfi/finagent/pkg/contracts"
	"github.com/quorumfi/finagent/pkg/match"
	"github.com/quorumfi/finagent/pkg/policy"
)

var testDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) *policy.Engine {
	t.Helper()
	p := policy.Default()
	p.KnownPartyLists = map[string][]string{"trusted_vendors": {"Acme Pty Ltd"}}
	p.Thresholds.DollarThresholds = map[string]int64{SpendGuardActionReview: 500000}
	e, err := policy.NewEngine(context.Background(), &policy.StaticStore{Policy: p}, nil)
	require.NoError(t, err)
	return e
}

func bankEvent(t *testing.T, txn contracts.BankTransaction) *contracts.Event {
	t.Helper()
	payload, err := json.Marshal(txn)
	require.NoError(t, err)
	return &contracts.Event{
		ID:             "ev-1",
		Type:           contracts.EventBankTransactionCreated,
		IdempotencyKey: "bank:" + txn.TransactionID,
		Payload:        payload,
	}
}

func TestBankRecAutoMatchesExactCandidate(t *testing.T) {
	books := accounting.NewMemory()
	books.AddRecord(match.Record{
		ID: "inv-100", Kind: "invoice", Reference: "INV-100", Counterparty: "Test Client",
		AmountCents: 25000, IssuedAt: testDay, Open: true,
	})
	agent := NewBankReconciliationAgent(newEngine(t), books, nil)

	res, err := agent.Handle(context.Background(), bankEvent(t, contracts.BankTransaction{
		TransactionID: "txn-1",
		Description:   "Payment from Test Client",
		AmountCents:   25000,
		Date:          testDay,
		AccountID:     "acct-main",
	}))
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusAutoMatched, res.Status)
	assert.Equal(t, BankRecActionMatch, res.Action)
	assert.GreaterOrEqual(t, res.Confidence, 0.90)
	require.NotNil(t, res.WriteBack)
	assert.Equal(t, contracts.WriteBackPostMatch, res.WriteBack.Kind)
	assert.Equal(t, "inv-100", res.WriteBack.RecordID)
}

func TestBankRecPendingReviewOnWeakNarration(t *testing.T) {
	books := accounting.NewMemory()
	books.AddRecord(match.Record{
		ID: "inv-245", Kind: "invoice", Reference: "Invoice Test Client", Counterparty: "Test Client",
		AmountCents: 24500, IssuedAt: testDay, Open: true,
	})
	agent := NewBankReconciliationAgent(newEngine(t), books, nil)

	res, err := agent.Handle(context.Background(), bankEvent(t, contracts.BankTransaction{
		TransactionID: "txn-2",
		Description:   "Payment from Test Client",
		AmountCents:   25000,
		Date:          testDay,
		AccountID:     "acct-main",
	}))
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusPendingReview, res.Status)
	assert.Equal(t, BankRecActionReview, res.Action)
	assert.Less(t, res.Confidence, 0.90)
	require.NotEmpty(t, res.Suggestions)
	assert.Equal(t, "inv-245", res.Suggestions[0].CandidateRecordID)
	assert.Nil(t, res.WriteBack)
}

func TestBankRecUnmatchedWhenNoCandidates(t *testing.T) {
	agent := NewBankReconciliationAgent(newEngine(t), accounting.NewMemory(), nil)

	res, err := agent.Handle(context.Background(), bankEvent(t, contracts.BankTransaction{
		TransactionID: "txn-3",
		Description:   "Mystery deposit",
		AmountCents:   999,
		Date:          testDay,
		AccountID:     "acct-main",
	}))
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusUnmatched, res.Status)
	assert.Zero(t, res.Confidence)
	assert.Nil(t, res.WriteBack)
}

func TestBankRecShortCircuitsOnInternalTransfer(t *testing.T) {
	books := accounting.NewMemory()
	// An exact-amount invoice exists, but transfer detection must win.
	books.AddRecord(match.Record{
		ID: "inv-trap", Kind: "invoice", AmountCents: 5000, IssuedAt: testDay, Open: true,
	})
	agent := NewBankReconciliationAgent(newEngine(t), books, nil)

	res, err := agent.Handle(context.Background(), bankEvent(t, contracts.BankTransaction{
		TransactionID: "txn-4",
		Description:   "GST Transfer to GST Account",
		AmountCents:   5000,
		Date:          testDay,
		AccountID:     "acct-main",
	}))
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusInternalTransfer, res.Status)
	assert.Equal(t, BankRecActionTransfer, res.Action)
	require.NotNil(t, res.WriteBack)
	assert.Equal(t, contracts.WriteBackReconcileTransfer, res.WriteBack.Kind)

	var p struct {
		Source string `json:"source_account_id"`
		Target string `json:"target_account_id"`
	}
	require.NoError(t, json.Unmarshal(res.WriteBack.Payload, &p))
	assert.Equal(t, "acct-main", p.Source)
	assert.Equal(t, "acct-gst", p.Target)
}

func TestBankRecMalformedPayloadIsValidationError(t *testing.T) {
	agent := NewBankReconciliationAgent(newEngine(t), accounting.NewMemory(), nil)

	_, err := agent.Handle(context.Background(), &contracts.Event{
		ID:      "ev-bad",
		Type:    contracts.EventBankTransactionCreated,
		Payload: json.RawMessage(`{"amount_cents": "not a number"}`),
	})
	require.Error(t, err)
	assert.Equal(t, contracts.KindValidation, contracts.KindOf(err))
	assert.False(t, contracts.Retryable(err))
}

type failingBooks struct {
	accounting.System
}

func (failingBooks) FindCandidateRecords(ctx context.Context, f accounting.RecordFilter) ([]match.Record, error) {
	return nil, errors.New("upstream timeout")
}

func TestBankRecAccountingFailureIsRetryable(t *testing.T) {
	agent := NewBankReconciliationAgent(newEngine(t), failingBooks{}, nil)

	_, err := agent.Handle(context.Background(), bankEvent(t, contracts.BankTransaction{
		TransactionID: "txn-5",
		Description:   "Payment from someone",
		AmountCents:   100,
		Date:          testDay,
		AccountID:     "acct-main",
	}))
	require.Error(t, err)
	assert.Equal(t, contracts.KindMatching, contracts.KindOf(err))
	assert.True(t, contracts.Retryable(err))
}
