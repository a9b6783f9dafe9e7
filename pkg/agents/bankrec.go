package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quorumfi/finagent/pkg/accounting"
	"github.com/quorumfi/finagent/pkg/contracts"
	"github.com/quorumfi/finagent/pkg/finance"
	"github.com/quorumfi/finagent/pkg/match"
	"github.com/quorumfi/finagent/pkg/policy"
	"github.com/quorumfi/finagent/pkg/transfer"
)

// BankRecActionMatch is the action class for an invoice/bill match
// apply. BankRecActionReview is the class for candidates that need a
// human to pick or confirm.
const (
	BankRecActionMatch    = "bank_match_apply"
	BankRecActionReview   = "bank_match_review"
	BankRecActionTransfer = "bank_internal_transfer"
)

// BankReconciliationAgentID names the agent in the registry and in
// ledger decision entries, where auto-match rates are derived from.
const BankReconciliationAgentID = "bank_reconciliation"

// BankReconciliationAgent classifies each bank transaction into exactly
// one terminal state: internal transfer, auto matched, pending review,
// or unmatched. Internal-transfer detection runs before any matching so
// inter-account movements are never posted against an external party.
type BankReconciliationAgent struct {
	policies   *policy.Engine
	accounting accounting.System
	logger     *slog.Logger
}

// NewBankReconciliationAgent wires the agent to its collaborators.
func NewBankReconciliationAgent(policies *policy.Engine, system accounting.System, logger *slog.Logger) *BankReconciliationAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &BankReconciliationAgent{
		policies:   policies,
		accounting: system,
		logger:     logger.With("agent", BankReconciliationAgentID),
	}
}

func (a *BankReconciliationAgent) ID() string { return BankReconciliationAgentID }

func (a *BankReconciliationAgent) EventType() contracts.EventType {
	return contracts.EventBankTransactionCreated
}

// Handle runs the reconciliation state machine for one transaction.
func (a *BankReconciliationAgent) Handle(ctx context.Context, event *contracts.Event) (*contracts.AgentResult, error) {
	start := time.Now()

	var txn contracts.BankTransaction
	if err := json.Unmarshal(event.Payload, &txn); err != nil {
		return nil, contracts.NewPipelineError(contracts.KindValidation, event.ID, a.ID(), 0,
			fmt.Errorf("decode bank transaction: %w", err))
	}

	p := a.policies.Current()

	// Internal-transfer check first. A valid transfer short-circuits
	// matching entirely.
	if xfer, ok := a.detectTransfer(p, txn); ok {
		payload, err := json.Marshal(map[string]string{
			"source_account_id": xfer.SourceAccount.ID,
			"target_account_id": xfer.TargetAccount.ID,
			"reason":            xfer.Reason,
		})
		if err != nil {
			return nil, contracts.NewPipelineError(contracts.KindValidation, event.ID, a.ID(), 0, err)
		}
		a.logger.Info("internal transfer detected",
			"transaction_id", txn.TransactionID,
			"source", xfer.SourceAccount.ID, "target", xfer.TargetAccount.ID)
		return timed(&contracts.AgentResult{
			Agent:       a.ID(),
			Status:      contracts.StatusInternalTransfer,
			Action:      BankRecActionTransfer,
			Confidence:  1.0,
			AmountCents: txn.AmountCents,
			Rationale: fmt.Sprintf("internal transfer %s: %s to %s",
				xfer.Reason, xfer.SourceAccount.Name, xfer.TargetAccount.Name),
			WriteBack: &contracts.WriteBack{
				Kind:          contracts.WriteBackReconcileTransfer,
				TransactionID: txn.TransactionID,
				Payload:       payload,
			},
		}, start), nil
	}

	records, err := a.accounting.FindCandidateRecords(ctx, accounting.RecordFilter{OpenOnly: true})
	if err != nil {
		return nil, contracts.NewPipelineError(contracts.KindMatching, event.ID, a.ID(), 0,
			fmt.Errorf("load candidate records: %w", err))
	}

	cfg := matcherConfig(p)
	res := match.Find(txn, records, cfg)

	amount := finance.Money{AmountCents: txn.AmountCents, Currency: "AUD"}
	switch {
	case len(res.Candidates) == 0:
		a.logger.Info("transaction unmatched", "transaction_id", txn.TransactionID, "amount", amount.String())
		return timed(&contracts.AgentResult{
			Agent:       a.ID(),
			Status:      contracts.StatusUnmatched,
			Action:      BankRecActionReview,
			Confidence:  0,
			AmountCents: txn.AmountCents,
			Rationale:   fmt.Sprintf("no open record matched %s %q", amount.String(), txn.Description),
		}, start), nil

	case res.Confidence >= cfg.AutoMatchThreshold:
		top := res.Candidates[0]
		a.logger.Info("transaction auto matched",
			"transaction_id", txn.TransactionID, "record_id", top.CandidateRecordID,
			"strategy", res.Strategy, "confidence", res.Confidence)
		return timed(&contracts.AgentResult{
			Agent:       a.ID(),
			Status:      contracts.StatusAutoMatched,
			Action:      BankRecActionMatch,
			Confidence:  res.Confidence,
			AmountCents: txn.AmountCents,
			Rationale: fmt.Sprintf("%s match against %s at %.2f confidence",
				res.Strategy, top.CandidateRecordID, res.Confidence),
			Suggestions: res.Candidates,
			WriteBack: &contracts.WriteBack{
				Kind:          contracts.WriteBackPostMatch,
				TransactionID: txn.TransactionID,
				RecordID:      top.CandidateRecordID,
			},
		}, start), nil

	default:
		a.logger.Info("transaction pending review",
			"transaction_id", txn.TransactionID, "strategy", res.Strategy,
			"confidence", res.Confidence, "candidates", len(res.Candidates))
		return timed(&contracts.AgentResult{
			Agent:       a.ID(),
			Status:      contracts.StatusPendingReview,
			Action:      BankRecActionReview,
			Confidence:  res.Confidence,
			AmountCents: txn.AmountCents,
			Rationale: fmt.Sprintf("%s candidates below auto-match threshold %.2f",
				res.Strategy, cfg.AutoMatchThreshold),
			Suggestions: res.Candidates,
		}, start), nil
	}
}

// detectTransfer builds a detector over every account the policy knows
// and classifies the transaction narration.
func (a *BankReconciliationAgent) detectTransfer(p *policy.Policy, txn contracts.BankTransaction) (*transfer.Transfer, bool) {
	var accounts []transfer.Account
	for _, e := range p.Entities {
		for _, acct := range e.Accounts {
			accounts = append(accounts, transfer.Account{ID: acct.ID, Name: acct.Name, Entity: e.ID})
		}
	}
	return transfer.NewDetector(accounts).Detect(txn.Description, txn.AccountID)
}

// matcherConfig merges policy tuning over the matcher defaults.
func matcherConfig(p *policy.Policy) match.Config {
	cfg := match.DefaultConfig()
	if p.Matching.DateWindowDays > 0 {
		cfg.DateWindowDays = p.Matching.DateWindowDays
	}
	if p.Matching.AmountToleranceCents > 0 {
		cfg.AmountToleranceCents = p.Matching.AmountToleranceCents
	}
	if p.Matching.TopN > 0 {
		cfg.TopN = p.Matching.TopN
	}
	if p.Thresholds.AutoMatchBankConfidence > 0 {
		cfg.AutoMatchThreshold = p.Thresholds.AutoMatchBankConfidence
	}
	return cfg
}
