package ledger

import (
	"context"
	"time"

	"github.com/quorumfi/finagent/pkg/contracts"
)

// ComputeMetrics derives a MetricSnapshot for the trailing window by
// re-reading the ledger. Nothing is accumulated incrementally, so the
// numbers can never drift from the recorded ground truth.
func ComputeMetrics(ctx context.Context, l Ledger, windowDays int) (*contracts.MetricSnapshot, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -windowDays)

	events, err := l.Query(ctx, Filter{Type: EntryEvent, Since: since})
	if err != nil {
		return nil, err
	}
	decisions, err := l.Query(ctx, Filter{Type: EntryDecision, Since: since})
	if err != nil {
		return nil, err
	}
	exceptions, err := l.Query(ctx, Filter{Type: EntryException, Since: since})
	if err != nil {
		return nil, err
	}

	autoCoded := 0
	perAgent := make(map[string]int)
	for i := range decisions {
		d := &decisions[i]
		if d.Action == string(contracts.ActionAutoApproved) {
			autoCoded++
		}
		if d.Agent != "" {
			perAgent[d.Agent]++
		}
	}

	snap := &contracts.MetricSnapshot{
		WindowDays:      windowDays,
		EventsProcessed: len(events),
		PerAgentCounts:  perAgent,
		GeneratedAt:     now,
	}
	if len(decisions) > 0 {
		snap.AutoCodedPct = float64(autoCoded) / float64(len(decisions))
	}
	if len(events) > 0 {
		snap.ExceptionRate = float64(len(exceptions)) / float64(len(events))
	}
	return snap, nil
}

// AutoMatchRate computes auto_matched / total for one agent over the
// window, as reported by the bank reconciliation agent's metrics.
func AutoMatchRate(ctx context.Context, l Ledger, agent string, windowDays int) (total int, rate float64, err error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	decisions, err := l.Query(ctx, Filter{Type: EntryDecision, Agent: agent, Since: since})
	if err != nil {
		return 0, 0, err
	}
	auto := 0
	for i := range decisions {
		if decisions[i].Action == string(contracts.ActionAutoApproved) {
			auto++
		}
	}
	if len(decisions) == 0 {
		return 0, 0, nil
	}
	return len(decisions), float64(auto) / float64(len(decisions)), nil
}
