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
	"github.com/quorumfi/finagent/pkg/policy"
)

// SpendGuardActionReview is the action class for spend-limit reviews.
const SpendGuardActionReview = "spend_review"

// spendWindowDays is the trailing window spend is summed over.
const spendWindowDays = 30

// SpendGuardAgent watches cumulative payables against the policy's
// dollar threshold for its action class and raises a review when the
// trailing-window spend exceeds it.
type SpendGuardAgent struct {
	policies   *policy.Engine
	accounting accounting.System
	logger     *slog.Logger
}

// NewSpendGuardAgent wires the agent to its collaborators.
func NewSpendGuardAgent(policies *policy.Engine, system accounting.System, logger *slog.Logger) *SpendGuardAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpendGuardAgent{policies: policies, accounting: system, logger: logger.With("agent", "spend_guard")}
}

func (a *SpendGuardAgent) ID() string { return "spend_guard" }

func (a *SpendGuardAgent) EventType() contracts.EventType { return contracts.EventSchedulerDaily }

// Handle sums bills issued in the trailing window and compares against
// the policy spend limit.
func (a *SpendGuardAgent) Handle(ctx context.Context, event *contracts.Event) (*contracts.AgentResult, error) {
	start := time.Now()

	var task contracts.SchedulerTask
	if err := json.Unmarshal(event.Payload, &task); err != nil {
		return nil, contracts.NewPipelineError(contracts.KindValidation, event.ID, a.ID(), 0,
			fmt.Errorf("decode scheduler task: %w", err))
	}
	asOf := task.RunDate
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	bills, err := a.accounting.FindCandidateRecords(ctx, accounting.RecordFilter{
		Kind:        "bill",
		IssuedAfter: asOf.AddDate(0, 0, -spendWindowDays),
	})
	if err != nil {
		return nil, contracts.NewPipelineError(contracts.KindMatching, event.ID, a.ID(), 0,
			fmt.Errorf("load bills: %w", err))
	}

	var total int64
	for _, b := range bills {
		total += b.AmountCents
	}
	limit := a.policies.Current().Thresholds.DollarThreshold(SpendGuardActionReview)

	status := contracts.StatusOK
	rationale := fmt.Sprintf("%d-day spend %s within limit %s", spendWindowDays,
		finance.Money{AmountCents: total, Currency: "AUD"}.String(),
		finance.Money{AmountCents: limit, Currency: "AUD"}.String())
	if limit > 0 && total > limit {
		status = contracts.StatusAlert
		rationale = fmt.Sprintf("%d-day spend %s exceeds limit %s", spendWindowDays,
			finance.Money{AmountCents: total, Currency: "AUD"}.String(),
			finance.Money{AmountCents: limit, Currency: "AUD"}.String())
	}

	a.logger.Info("spend check", "total_cents", total, "limit_cents", limit, "bills", len(bills), "status", status)

	return timed(&contracts.AgentResult{
		Agent:       a.ID(),
		Status:      status,
		Action:      SpendGuardActionReview,
		Confidence:  0.9,
		AmountCents: total,
		Rationale:   rationale,
		Context: map[string]any{
			"window_days": spendWindowDays,
			"limit_cents": limit,
			"bill_count":  len(bills),
		},
	}, start), nil
}
