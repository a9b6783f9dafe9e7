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
)

// CashflowActionForecast is the action class for publishing a forecast.
const CashflowActionForecast = "cashflow_forecast"

// CashflowForecastAgent projects near-term cash movement from open
// receivables and payables. It is read-only: the forecast is published
// as a decision, never written back to the accounting system.
type CashflowForecastAgent struct {
	accounting accounting.System
	logger     *slog.Logger
}

// NewCashflowForecastAgent wires the agent to the accounting system.
func NewCashflowForecastAgent(system accounting.System, logger *slog.Logger) *CashflowForecastAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &CashflowForecastAgent{accounting: system, logger: logger.With("agent", "cashflow_forecast")}
}

func (a *CashflowForecastAgent) ID() string { return "cashflow_forecast" }

func (a *CashflowForecastAgent) EventType() contracts.EventType { return contracts.EventSchedulerDaily }

// Handle sums open invoices against open bills and flags a projected
// shortfall.
func (a *CashflowForecastAgent) Handle(ctx context.Context, event *contracts.Event) (*contracts.AgentResult, error) {
	start := time.Now()

	var task contracts.SchedulerTask
	if err := json.Unmarshal(event.Payload, &task); err != nil {
		return nil, contracts.NewPipelineError(contracts.KindValidation, event.ID, a.ID(), 0,
			fmt.Errorf("decode scheduler task: %w", err))
	}

	records, err := a.accounting.FindCandidateRecords(ctx, accounting.RecordFilter{OpenOnly: true})
	if err != nil {
		return nil, contracts.NewPipelineError(contracts.KindMatching, event.ID, a.ID(), 0,
			fmt.Errorf("load open records: %w", err))
	}

	var inflow, outflow int64
	for _, r := range records {
		switch r.Kind {
		case "invoice":
			inflow += r.AmountCents
		case "bill":
			outflow += r.AmountCents
		}
	}
	net := inflow - outflow

	status := contracts.StatusOK
	rationale := fmt.Sprintf("projected net %s (receivable %s, payable %s)",
		finance.Money{AmountCents: net, Currency: "AUD"}.String(),
		finance.Money{AmountCents: inflow, Currency: "AUD"}.String(),
		finance.Money{AmountCents: outflow, Currency: "AUD"}.String())
	if net < 0 {
		status = contracts.StatusAlert
		rationale = "projected shortfall: " + rationale
	}

	a.logger.Info("cashflow forecast", "inflow_cents", inflow, "outflow_cents", outflow, "net_cents", net)

	return timed(&contracts.AgentResult{
		Agent:       a.ID(),
		Status:      status,
		Action:      CashflowActionForecast,
		Confidence:  0.75,
		AmountCents: net,
		Rationale:   rationale,
		Context: map[string]any{
			"inflow_cents":  inflow,
			"outflow_cents": outflow,
			"open_records":  len(records),
		},
	}, start), nil
}
