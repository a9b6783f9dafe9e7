package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quorumfi/finagent/pkg/contracts"
)

// RDTI action classes. The lodgement class forces human sign-off; the
// routine deadline check does not.
const (
	RDTIActionLodgement = "rdti_lodgement"
	RDTIActionCheck     = "rdti_deadline_check"
)

// rdtiAlertWindowDays is how far ahead of the registration deadline the
// agent starts escalating.
const rdtiAlertWindowDays = 60

// RDTIRegistrationAgent tracks the R&D Tax Incentive registration
// deadline: ten months after the income year ends on 30 June, i.e.
// 30 April the following year. Inside the alert window it raises a
// lodgement action so preparation lands with a human.
type RDTIRegistrationAgent struct {
	logger *slog.Logger
}

// NewRDTIRegistrationAgent creates the deadline tracker.
func NewRDTIRegistrationAgent(logger *slog.Logger) *RDTIRegistrationAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &RDTIRegistrationAgent{logger: logger.With("agent", "rdti_registration")}
}

func (a *RDTIRegistrationAgent) ID() string { return "rdti_registration" }

func (a *RDTIRegistrationAgent) EventType() contracts.EventType { return contracts.EventSchedulerWeekly }

// Handle computes days until the current registration deadline.
func (a *RDTIRegistrationAgent) Handle(ctx context.Context, event *contracts.Event) (*contracts.AgentResult, error) {
	_ = ctx
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

	fyEnd := incomeYearEnd(asOf)
	deadline := time.Date(fyEnd.Year()+1, time.April, 30, 0, 0, 0, 0, time.UTC)
	daysLeft := int(deadline.Sub(asOf).Hours() / 24)

	status := contracts.StatusOK
	action := RDTIActionCheck
	confidence := 0.95
	rationale := fmt.Sprintf("registration for FY ending %s due %s, %d days remaining",
		fyEnd.Format("2006-01-02"), deadline.Format("2006-01-02"), daysLeft)
	if daysLeft <= rdtiAlertWindowDays {
		status = contracts.StatusAlert
		action = RDTIActionLodgement
		confidence = 0.80
		rationale = "registration window closing: " + rationale
	}

	a.logger.Info("rdti deadline check", "deadline", deadline.Format("2006-01-02"),
		"days_left", daysLeft, "status", status)

	return timed(&contracts.AgentResult{
		Agent:      a.ID(),
		Status:     status,
		Action:     action,
		Confidence: confidence,
		Rationale:  rationale,
		Context: map[string]any{
			"fy_end":    fyEnd.Format("2006-01-02"),
			"deadline":  deadline.Format("2006-01-02"),
			"days_left": daysLeft,
		},
	}, start), nil
}

// incomeYearEnd returns the most recent 30 June on or before t.
func incomeYearEnd(t time.Time) time.Time {
	end := time.Date(t.Year(), time.June, 30, 0, 0, 0, 0, time.UTC)
	if t.Before(end) {
		end = end.AddDate(-1, 0, 0)
	}
	return end
}
