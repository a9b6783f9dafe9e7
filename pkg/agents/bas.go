package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/quorumfi/finagent/pkg/accounting"
	"github.com/quorumfi/finagent/pkg/contracts"
	"github.com/quorumfi/finagent/pkg/policy"
)

// BasActionLodgement is the action class for BAS preparation. It ends
// in "_lodgement" so the mandatory sign-off class always applies.
const BasActionLodgement = "bas_lodgement"

// BasPrepCheckAgent sanity-checks the Business Activity Statement
// period before lodgement: it compares the current quarter's payables
// against the prior quarter and flags variance beyond the policy
// tolerance. The lodgement itself always lands with a human.
type BasPrepCheckAgent struct {
	policies   *policy.Engine
	accounting accounting.System
	logger     *slog.Logger
}

// NewBasPrepCheckAgent wires the agent to its collaborators.
func NewBasPrepCheckAgent(policies *policy.Engine, system accounting.System, logger *slog.Logger) *BasPrepCheckAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &BasPrepCheckAgent{policies: policies, accounting: system, logger: logger.With("agent", "bas_prep_check")}
}

func (a *BasPrepCheckAgent) ID() string { return "bas_prep_check" }

func (a *BasPrepCheckAgent) EventType() contracts.EventType { return contracts.EventSchedulerWeekly }

// Handle computes quarter-over-quarter variance for the BAS period.
func (a *BasPrepCheckAgent) Handle(ctx context.Context, event *contracts.Event) (*contracts.AgentResult, error) {
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

	qStart := quarterStart(asOf)
	prevStart := qStart.AddDate(0, -3, 0)

	current, err := a.sumBills(ctx, qStart)
	if err != nil {
		return nil, contracts.NewPipelineError(contracts.KindMatching, event.ID, a.ID(), 0, err)
	}
	prevAndCurrent, err := a.sumBills(ctx, prevStart)
	if err != nil {
		return nil, contracts.NewPipelineError(contracts.KindMatching, event.ID, a.ID(), 0, err)
	}
	previous := prevAndCurrent - current

	tolerance := a.policies.Current().Thresholds.VarianceAlertPct

	var variance float64
	if previous > 0 {
		variance = math.Abs(float64(current-previous)) / float64(previous)
	} else if current > 0 {
		variance = 1
	}

	status := contracts.StatusOK
	rationale := fmt.Sprintf("quarter payables %d cents vs prior %d cents, variance %.0f%% within %.0f%% tolerance",
		current, previous, variance*100, tolerance*100)
	if variance > tolerance {
		status = contracts.StatusAlert
		rationale = fmt.Sprintf("quarter payables %d cents vs prior %d cents, variance %.0f%% exceeds %.0f%% tolerance",
			current, previous, variance*100, tolerance*100)
	}

	a.logger.Info("bas prep check", "current_cents", current, "previous_cents", previous,
		"variance", variance, "status", status)

	// Confidence reflects how far inside tolerance the period sits; the
	// lodgement class forces human sign-off regardless.
	confidence := 0.95
	if status == contracts.StatusAlert {
		confidence = 0.60
	}

	return timed(&contracts.AgentResult{
		Agent:       a.ID(),
		Status:      status,
		Action:      BasActionLodgement,
		Confidence:  confidence,
		AmountCents: current,
		Rationale:   rationale,
		Context: map[string]any{
			"quarter_start":  qStart.Format("2006-01-02"),
			"variance":       variance,
			"previous_cents": previous,
		},
	}, start), nil
}

func (a *BasPrepCheckAgent) sumBills(ctx context.Context, issuedAfter time.Time) (int64, error) {
	bills, err := a.accounting.FindCandidateRecords(ctx, accounting.RecordFilter{
		Kind:        "bill",
		IssuedAfter: issuedAfter,
	})
	if err != nil {
		return 0, fmt.Errorf("load bills: %w", err)
	}
	var total int64
	for _, b := range bills {
		total += b.AmountCents
	}
	return total, nil
}

// quarterStart returns the first day of the calendar quarter containing t.
func quarterStart(t time.Time) time.Time {
	month := ((int(t.Month())-1)/3)*3 + 1
	return time.Date(t.Year(), time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}
