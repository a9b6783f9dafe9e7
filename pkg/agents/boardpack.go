package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quorumfi/finagent/pkg/contracts"
	"github.com/quorumfi/finagent/pkg/ledger"
)

// BoardPackActionPublish is the action class for publishing the weekly
// board pack.
const BoardPackActionPublish = "board_pack_publish"

// boardPackWindowDays is the reporting window for the weekly pack.
const boardPackWindowDays = 7

// BoardPackAgent assembles the weekly operations summary from the
// ledger: processed volume, automation rate, and exception rate. It is
// derived entirely from recorded decisions, so re-running it for the
// same week yields the same pack.
type BoardPackAgent struct {
	ledger ledger.Ledger
	logger *slog.Logger
}

// NewBoardPackAgent wires the agent to the ledger.
func NewBoardPackAgent(l ledger.Ledger, logger *slog.Logger) *BoardPackAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &BoardPackAgent{ledger: l, logger: logger.With("agent", "board_pack")}
}

func (a *BoardPackAgent) ID() string { return "board_pack" }

func (a *BoardPackAgent) EventType() contracts.EventType { return contracts.EventSchedulerWeekly }

// Handle derives the weekly snapshot and publishes it as the pack body.
func (a *BoardPackAgent) Handle(ctx context.Context, event *contracts.Event) (*contracts.AgentResult, error) {
	start := time.Now()

	var task contracts.SchedulerTask
	if err := json.Unmarshal(event.Payload, &task); err != nil {
		return nil, contracts.NewPipelineError(contracts.KindValidation, event.ID, a.ID(), 0,
			fmt.Errorf("decode scheduler task: %w", err))
	}

	snap, err := ledger.ComputeMetrics(ctx, a.ledger, boardPackWindowDays)
	if err != nil {
		return nil, contracts.NewPipelineError(contracts.KindMatching, event.ID, a.ID(), 0,
			fmt.Errorf("compute weekly metrics: %w", err))
	}
	matchTotal, matchRate, err := ledger.AutoMatchRate(ctx, a.ledger, BankReconciliationAgentID, boardPackWindowDays)
	if err != nil {
		return nil, contracts.NewPipelineError(contracts.KindMatching, event.ID, a.ID(), 0,
			fmt.Errorf("compute auto-match rate: %w", err))
	}

	a.logger.Info("board pack assembled",
		"events", snap.EventsProcessed, "auto_coded_pct", snap.AutoCodedPct,
		"exception_rate", snap.ExceptionRate, "auto_match_rate", matchRate)

	return timed(&contracts.AgentResult{
		Agent:      a.ID(),
		Status:     contracts.StatusOK,
		Action:     BoardPackActionPublish,
		Confidence: 0.9,
		Rationale: fmt.Sprintf("week: %d events, %.0f%% auto-coded, %.0f%% exception rate, %.0f%% auto-match over %d reconciliations",
			snap.EventsProcessed, snap.AutoCodedPct*100, snap.ExceptionRate*100, matchRate*100, matchTotal),
		Context: map[string]any{
			"window_days":      boardPackWindowDays,
			"events_processed": snap.EventsProcessed,
			"auto_coded_pct":   snap.AutoCodedPct,
			"exception_rate":   snap.ExceptionRate,
			"auto_match_rate":  matchRate,
			"per_agent":        snap.PerAgentCounts,
		},
	}, start), nil
}
