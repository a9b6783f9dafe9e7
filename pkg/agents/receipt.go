package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/quorumfi/finagent/pkg/accounting"
	"github.com/quorumfi/finagent/pkg/contracts"
	"github.com/quorumfi/finagent/pkg/policy"
)

// ReceiptActionAutopost is the action class for posting a coded bill.
const ReceiptActionAutopost = "bill_autopost"

// categoryRules maps narration keywords to expense account codes. The
// table is deliberately coarse; vendor history is the stronger signal.
var categoryRules = []struct {
	keywords []string
	code     string
	label    string
}{
	{[]string{"hosting", "cloud", "aws", "saas", "subscription", "software"}, "6200", "software and subscriptions"},
	{[]string{"flight", "hotel", "travel", "uber", "taxi"}, "6400", "travel"},
	{[]string{"stationery", "office", "supplies"}, "6100", "office supplies"},
	{[]string{"legal", "accounting", "consulting", "advisory"}, "6300", "professional services"},
	{[]string{"electricity", "internet", "phone", "utility", "utilities"}, "6500", "utilities"},
}

const uncategorizedCode = "6999"

// ReceiptCodingAgent codes inbound bills to an expense account. Coding
// confidence combines a keyword category hit with the vendor's posting
// history; the policy engine decides whether the coded bill posts
// unattended.
type ReceiptCodingAgent struct {
	policies   *policy.Engine
	accounting accounting.System
	logger     *slog.Logger
	fold       cases.Caser
}

// NewReceiptCodingAgent wires the agent to its collaborators.
func NewReceiptCodingAgent(policies *policy.Engine, system accounting.System, logger *slog.Logger) *ReceiptCodingAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceiptCodingAgent{
		policies:   policies,
		accounting: system,
		logger:     logger.With("agent", "receipt_coding"),
		fold:       cases.Fold(),
	}
}

func (a *ReceiptCodingAgent) ID() string { return "receipt_coding" }

func (a *ReceiptCodingAgent) EventType() contracts.EventType { return contracts.EventBillCreated }

// Handle codes one bill and proposes the posting write-back.
func (a *ReceiptCodingAgent) Handle(ctx context.Context, event *contracts.Event) (*contracts.AgentResult, error) {
	start := time.Now()

	var bill contracts.Bill
	if err := json.Unmarshal(event.Payload, &bill); err != nil {
		return nil, contracts.NewPipelineError(contracts.KindValidation, event.ID, a.ID(), 0,
			fmt.Errorf("decode bill: %w", err))
	}

	code, label, categoryHit := a.categorize(bill.Description + " " + bill.Vendor)

	history, err := a.accounting.FindCandidateRecords(ctx, accounting.RecordFilter{
		Kind:         "bill",
		Counterparty: bill.Vendor,
	})
	if err != nil {
		return nil, contracts.NewPipelineError(contracts.KindMatching, event.ID, a.ID(), 0,
			fmt.Errorf("load vendor history: %w", err))
	}

	confidence := 0.55
	if categoryHit {
		confidence += 0.15
	}
	seen := len(history)
	if seen > 3 {
		seen = 3
	}
	confidence += 0.10 * float64(seen)

	draft := accounting.BillDraft{
		Vendor:      bill.Vendor,
		AmountCents: bill.AmountCents,
		AccountCode: code,
		Description: bill.Description,
		IssuedAt:    bill.IssuedAt,
	}
	payload, err := json.Marshal(draft)
	if err != nil {
		return nil, contracts.NewPipelineError(contracts.KindValidation, event.ID, a.ID(), 0, err)
	}

	status := contracts.StatusPendingReview
	if confidence >= a.policies.Current().Thresholds.AutoPostBillConfidence {
		status = contracts.StatusOK
	}

	a.logger.Info("bill coded",
		"bill_id", bill.BillID, "vendor", bill.Vendor,
		"account_code", code, "confidence", confidence, "history", len(history))

	return timed(&contracts.AgentResult{
		Agent:       a.ID(),
		Status:      status,
		Action:      ReceiptActionAutopost,
		Confidence:  confidence,
		AmountCents: bill.AmountCents,
		Vendor:      bill.Vendor,
		Rationale:   fmt.Sprintf("coded to %s (%s), %d prior bills from vendor", code, label, len(history)),
		Context: map[string]any{
			"bill_id":      bill.BillID,
			"account_code": code,
		},
		WriteBack: &contracts.WriteBack{
			Kind:     contracts.WriteBackCreateBill,
			RecordID: bill.BillID,
			Payload:  payload,
		},
	}, start), nil
}

// categorize returns the expense code for the first rule whose keyword
// appears in the folded text.
func (a *ReceiptCodingAgent) categorize(text string) (code, label string, hit bool) {
	folded := a.fold.String(text)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(folded, kw) {
				return rule.code, rule.label, true
			}
		}
	}
	return uncategorizedCode, "uncategorized", false
}
