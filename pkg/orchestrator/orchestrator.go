// Package orchestrator runs the event pipeline: validate, record,
// dispatch to agents, gate through policy, write back, and notify.
// Every state transition lands in the ledger before any side effect,
// so replaying a delivered event never repeats a recorded outcome.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quorumfi/finagent/pkg/accounting"
	"github.com/quorumfi/finagent/pkg/agents"
	"github.com/quorumfi/finagent/pkg/contracts"
	"github.com/quorumfi/finagent/pkg/ledger"
	"github.com/quorumfi/finagent/pkg/notify"
	"github.com/quorumfi/finagent/pkg/policy"
	"github.com/quorumfi/finagent/pkg/schema"
)

// Reserver is the optional fast-path idempotency reservation held in
// front of the ledger's unique constraint.
type Reserver interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Deps are the orchestrator's collaborators. Reservations and Notifier
// are optional; everything else is required.
type Deps struct {
	Ledger       ledger.Ledger
	Registry     *agents.Registry
	Policies     *policy.Engine
	Validator    *schema.Validator
	Accounting   accounting.System
	Notifier     *notify.Dispatcher
	Reservations Reserver
	Channel      string
	Logger       *slog.Logger
}

// Orchestrator is the single entry point for event processing.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
	tracer trace.Tracer
}

// New wires an orchestrator.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		deps:   deps,
		logger: logger.With("component", "orchestrator"),
		tracer: otel.Tracer("finagent/orchestrator"),
	}
}

// Receipt summarizes what one delivery did.
type Receipt struct {
	EventID      string                `json:"event_id"`
	Duplicate    bool                  `json:"duplicate"`
	DeadLettered bool                  `json:"dead_lettered,omitempty"`
	Decisions    []contracts.Decision  `json:"decisions,omitempty"`
	Exceptions   []contracts.Exception `json:"exceptions,omitempty"`
}

// decisionRecord is the ledger payload for a decision entry. The
// write-back rides along so a later human approval can apply it
// without re-running the agent.
type decisionRecord struct {
	Decision  contracts.Decision   `json:"decision"`
	WriteBack *contracts.WriteBack `json:"write_back,omitempty"`
}

// ProcessEvent drives one event through the full pipeline. A duplicate
// idempotency key is acknowledged with the original event ID and
// Duplicate set; recorded outcomes are never repeated, but agents whose
// decisions are missing from the ledger run on redelivery.
func (o *Orchestrator) ProcessEvent(ctx context.Context, event contracts.Event) (*Receipt, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.process_event",
		trace.WithAttributes(attribute.String("event.type", string(event.Type))))
	defer span.End()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	// Unknown event types are preserved as dead letters, never dropped.
	if !o.deps.Validator.Known(event.Type) {
		if err := o.deadLetter(ctx, &event, fmt.Sprintf("unknown event type %q", event.Type)); err != nil {
			return nil, err
		}
		return &Receipt{EventID: event.ID, DeadLettered: true}, nil
	}

	// Malformed payloads are rejected up front and never retried.
	if err := o.deps.Validator.Validate(event.Type, event.Payload); err != nil {
		if dlErr := o.deadLetter(ctx, &event, err.Error()); dlErr != nil {
			return nil, dlErr
		}
		return nil, contracts.NewPipelineError(contracts.KindValidation, event.ID, "", 0, err)
	}

	// Optional fast-path dedup in front of the ledger constraint.
	reservedKey := ""
	if o.deps.Reservations != nil && event.IdempotencyKey != "" {
		key := string(event.Type) + ":" + event.IdempotencyKey
		ok, err := o.deps.Reservations.Reserve(ctx, key)
		switch {
		case err != nil:
			o.logger.Warn("idempotency reservation unavailable", "error", err)
		case ok:
			reservedKey = key
		default:
			if prior := o.priorEvent(ctx, event.Type, event.IdempotencyKey); prior != nil {
				return o.resumeEvent(ctx, prior)
			}
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	stored, duplicate, err := o.deps.Ledger.Append(ctx, ledger.Entry{
		Type:           ledger.EntryEvent,
		EventID:        event.ID,
		EventType:      string(event.Type),
		IdempotencyKey: event.IdempotencyKey,
		Payload:        payload,
	})
	if err != nil {
		// Free the reservation so the source can legitimately retry.
		if reservedKey != "" {
			if relErr := o.deps.Reservations.Release(ctx, reservedKey); relErr != nil {
				o.logger.Warn("idempotency release failed", "key", reservedKey, "error", relErr)
			}
		}
		return nil, fmt.Errorf("record event: %w", err)
	}
	if duplicate {
		return o.resumeEvent(ctx, stored)
	}

	receipt := &Receipt{EventID: event.ID}
	if err := o.dispatch(ctx, &event, o.deps.Registry.For(event.Type), receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// dispatch runs the given agents over one event and accumulates their
// outcomes on the receipt.
func (o *Orchestrator) dispatch(ctx context.Context, event *contracts.Event, list []agents.Agent, receipt *Receipt) error {
	for _, agent := range list {
		decision, exception, err := o.runAgent(ctx, agent, event)
		if err != nil {
			return err
		}
		if decision != nil {
			receipt.Decisions = append(receipt.Decisions, *decision)
		}
		if exception != nil {
			receipt.Exceptions = append(receipt.Exceptions, *exception)
		}
	}
	return nil
}

// resumeEvent handles redelivery of an already-recorded event. When
// every registered agent has a decision on record the delivery is a
// plain duplicate. Otherwise an earlier run died between the event
// append and the decision append, and the undecided agents run now so
// the event still ends with its terminal decision. Per-agent decision
// idempotency keys keep the resumed run replay-safe.
func (o *Orchestrator) resumeEvent(ctx context.Context, stored *ledger.Entry) (*Receipt, error) {
	receipt := &Receipt{EventID: stored.EventID, Duplicate: true}
	pending, err := o.undecidedAgents(ctx, stored)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		o.logger.Info("duplicate event ignored", "event_id", stored.EventID, "idempotency_key", stored.IdempotencyKey)
		return receipt, nil
	}

	var event contracts.Event
	if err := json.Unmarshal(stored.Payload, &event); err != nil {
		return nil, fmt.Errorf("decode stored event %s: %w", stored.EventID, err)
	}
	o.logger.Warn("resuming event with missing decisions",
		"event_id", stored.EventID, "pending_agents", len(pending))
	if err := o.dispatch(ctx, &event, pending, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// undecidedAgents lists the registered agents that have no decision
// entry for the stored event.
func (o *Orchestrator) undecidedAgents(ctx context.Context, stored *ledger.Entry) ([]agents.Agent, error) {
	entries, err := o.deps.Ledger.Query(ctx, ledger.Filter{Type: ledger.EntryDecision, EventID: stored.EventID})
	if err != nil {
		return nil, err
	}
	decided := make(map[string]bool, len(entries))
	for i := range entries {
		decided[entries[i].Agent] = true
	}
	var pending []agents.Agent
	for _, a := range o.deps.Registry.For(contracts.EventType(stored.EventType)) {
		if !decided[a.ID()] {
			pending = append(pending, a)
		}
	}
	return pending, nil
}

// runAgent executes one agent with bounded retries, gates the result,
// records the decision, and applies any approved side effect.
func (o *Orchestrator) runAgent(ctx context.Context, agent agents.Agent, event *contracts.Event) (*contracts.Decision, *contracts.Exception, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run_agent",
		trace.WithAttributes(attribute.String("agent.id", agent.ID())))
	defer span.End()

	retry := o.deps.Policies.Current().Retry

	var result *contracts.AgentResult
	var lastErr error
	for attempt := 0; attempt < retry.MaxAttempts; attempt++ {
		result, lastErr = agent.Handle(ctx, event)
		if lastErr == nil {
			break
		}
		if !contracts.Retryable(lastErr) {
			break
		}
		o.logger.Warn("agent attempt failed", "agent", agent.ID(), "event_id", event.ID,
			"attempt", attempt+1, "error", lastErr)
		if err := o.backoff(ctx, retry, attempt); err != nil {
			return nil, nil, err
		}
	}

	if lastErr != nil {
		// Exhausted or non-retryable: terminal rejection plus a standing
		// exception so a human picks it up.
		decision, err := o.recordDecision(ctx, event, agent.ID(), &contracts.AgentResult{
			Agent:      agent.ID(),
			Status:     contracts.StatusUnmatched,
			Confidence: 0,
			Rationale:  fmt.Sprintf("agent failed after %d attempts: %v", retry.MaxAttempts, lastErr),
		}, contracts.ActionRejected, nil)
		if err != nil {
			return nil, nil, err
		}
		exc, err := o.recordException(ctx, event.ID, "", fmt.Sprintf("agent %s failed: %v", agent.ID(), lastErr))
		if err != nil {
			return nil, nil, err
		}
		return decision, exc, nil
	}

	check := o.deps.Policies.CheckApprovalRequired(ctx, result.Action, policy.Metadata{
		AmountCents: result.AmountCents,
		Confidence:  result.Confidence,
		Vendor:      result.Vendor,
		Context:     result.Context,
	})
	final := stricter(check.Type, statusFloor(result.Status))

	decision, err := o.recordDecision(ctx, event, agent.ID(), result, final, result.WriteBack)
	if err != nil {
		return nil, nil, err
	}
	if decision == nil {
		// Replayed decision: outcome already recorded, side effect already
		// applied or pending human action.
		return nil, nil, nil
	}

	var exception *contracts.Exception
	switch final {
	case contracts.ActionAutoApproved:
		if result.WriteBack != nil {
			if err := o.applyWriteBack(ctx, event.ID, agent.ID(), result.WriteBack, retry); err != nil {
				exc, recErr := o.recordException(ctx, event.ID, result.WriteBack.TransactionID,
					fmt.Sprintf("write-back failed: %v", err))
				if recErr != nil {
					return nil, nil, recErr
				}
				exception = exc
			}
		}
	case contracts.ActionProposed, contracts.ActionHumanSignoff:
		o.notifyReview(ctx, event.ID, decision, check.Rationale)
		if final == contracts.ActionHumanSignoff {
			txnID := ""
			if result.WriteBack != nil {
				txnID = result.WriteBack.TransactionID
			}
			exc, err := o.recordException(ctx, event.ID, txnID,
				fmt.Sprintf("%s requires sign-off: %s", result.Agent, decision.Rationale))
			if err != nil {
				return nil, nil, err
			}
			exception = exc
		}
	}
	return decision, exception, nil
}

// recordDecision persists the decision keyed per event+agent so replays
// cannot double-decide. Returns nil when the decision already existed.
func (o *Orchestrator) recordDecision(ctx context.Context, event *contracts.Event, agentID string, result *contracts.AgentResult, final contracts.Action, wb *contracts.WriteBack) (*contracts.Decision, error) {
	decision := contracts.Decision{
		ID:          uuid.New().String(),
		EventID:     event.ID,
		Agent:       agentID,
		Action:      final,
		Confidence:  result.Confidence,
		Rationale:   result.Rationale,
		Suggestions: result.Suggestions,
		DecidedAt:   time.Now().UTC(),
	}
	payload, err := json.Marshal(decisionRecord{Decision: decision, WriteBack: wb})
	if err != nil {
		return nil, fmt.Errorf("marshal decision: %w", err)
	}
	idem := ""
	if event.IdempotencyKey != "" {
		idem = event.IdempotencyKey + ":" + agentID
	}
	_, duplicate, err := o.deps.Ledger.Append(ctx, ledger.Entry{
		Type:           ledger.EntryDecision,
		EventID:        event.ID,
		EventType:      string(event.Type),
		Agent:          agentID,
		Action:         string(final),
		IdempotencyKey: idem,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}
	if duplicate {
		return nil, nil
	}
	o.logger.Info("decision recorded", "event_id", event.ID, "agent", agentID,
		"action", final, "confidence", result.Confidence)
	return &decision, nil
}

// applyWriteBack applies an approved side effect with bounded backoff.
func (o *Orchestrator) applyWriteBack(ctx context.Context, eventID, agentID string, wb *contracts.WriteBack, retry policy.RetryConfig) error {
	var lastErr error
	for attempt := 0; attempt < retry.MaxAttempts; attempt++ {
		lastErr = o.applyOnce(ctx, wb)
		if lastErr == nil {
			return nil
		}
		o.logger.Warn("write-back attempt failed", "event_id", eventID, "agent", agentID,
			"kind", wb.Kind, "attempt", attempt+1, "error", lastErr)
		if err := o.backoff(ctx, retry, attempt); err != nil {
			return err
		}
	}
	return contracts.NewPipelineError(contracts.KindWriteBack, eventID, agentID, retry.MaxAttempts, lastErr)
}

func (o *Orchestrator) applyOnce(ctx context.Context, wb *contracts.WriteBack) error {
	switch wb.Kind {
	case contracts.WriteBackPostMatch:
		return o.deps.Accounting.PostMatch(ctx, wb.TransactionID, wb.RecordID)
	case contracts.WriteBackReconcileTransfer:
		var p struct {
			Source string `json:"source_account_id"`
			Target string `json:"target_account_id"`
		}
		if err := json.Unmarshal(wb.Payload, &p); err != nil {
			return fmt.Errorf("decode transfer payload: %w", err)
		}
		return o.deps.Accounting.ReconcileTransfer(ctx, wb.TransactionID, p.Source, p.Target)
	case contracts.WriteBackCreateBill:
		var draft accounting.BillDraft
		if err := json.Unmarshal(wb.Payload, &draft); err != nil {
			return fmt.Errorf("decode bill draft: %w", err)
		}
		_, err := o.deps.Accounting.CreateBill(ctx, draft)
		return err
	default:
		return fmt.Errorf("unknown write-back kind %q", wb.Kind)
	}
}

// recordException appends a standing exception.
func (o *Orchestrator) recordException(ctx context.Context, eventID, transactionID, reason string) (*contracts.Exception, error) {
	exc := contracts.Exception{
		ID:            uuid.New().String(),
		EventID:       eventID,
		TransactionID: transactionID,
		Reason:        reason,
		CreatedAt:     time.Now().UTC(),
	}
	payload, err := json.Marshal(exc)
	if err != nil {
		return nil, fmt.Errorf("marshal exception: %w", err)
	}
	if _, _, err := o.deps.Ledger.Append(ctx, ledger.Entry{
		Type:    ledger.EntryException,
		EventID: eventID,
		Payload: payload,
	}); err != nil {
		return nil, fmt.Errorf("record exception: %w", err)
	}
	o.logger.Warn("exception raised", "event_id", eventID, "reason", reason)
	return &exc, nil
}

// notifyReview sends the human-review prompt. Delivery failure is
// logged, audited by the dispatcher, and does not fail the pipeline.
func (o *Orchestrator) notifyReview(ctx context.Context, eventID string, decision *contracts.Decision, gateRationale string) {
	if o.deps.Notifier == nil {
		return
	}
	msg := fmt.Sprintf("[%s] %s: %s (%s)", decision.Action, decision.Agent, decision.Rationale, gateRationale)
	actions := []notify.Action{
		{Label: "Approve", Value: "approve:" + decision.ID},
		{Label: "Reject", Value: "reject:" + decision.ID},
	}
	if _, err := o.deps.Notifier.Send(ctx, eventID, o.deps.Channel, msg, actions); err != nil {
		o.logger.Warn("review notification failed", "event_id", eventID, "decision_id", decision.ID, "error", err)
	}
}

// deadLetter preserves an unprocessable event.
func (o *Orchestrator) deadLetter(ctx context.Context, event *contracts.Event, reason string) error {
	body, err := json.Marshal(map[string]any{"event": event, "reason": reason})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if _, _, err := o.deps.Ledger.Append(ctx, ledger.Entry{
		Type:           ledger.EntryDeadLetter,
		EventID:        event.ID,
		EventType:      string(event.Type),
		IdempotencyKey: event.IdempotencyKey,
		Payload:        body,
	}); err != nil {
		return fmt.Errorf("record dead letter: %w", err)
	}
	o.logger.Warn("event dead-lettered", "event_id", event.ID, "type", event.Type, "reason", reason)
	return nil
}

// priorEvent looks up the already-recorded event for an idempotency key.
func (o *Orchestrator) priorEvent(ctx context.Context, t contracts.EventType, key string) *ledger.Entry {
	entries, err := o.deps.Ledger.Query(ctx, ledger.Filter{Type: ledger.EntryEvent})
	if err != nil {
		return nil
	}
	for i := range entries {
		if entries[i].EventType == string(t) && entries[i].IdempotencyKey == key {
			return &entries[i]
		}
	}
	return nil
}

// Metrics derives the current snapshot from the ledger and annotates
// registry health.
func (o *Orchestrator) Metrics(ctx context.Context, windowDays int) (*contracts.MetricSnapshot, error) {
	snap, err := ledger.ComputeMetrics(ctx, o.deps.Ledger, windowDays)
	if err != nil {
		return nil, err
	}
	_, rate, err := ledger.AutoMatchRate(ctx, o.deps.Ledger, agents.BankReconciliationAgentID, windowDays)
	if err != nil {
		return nil, err
	}
	snap.AutoMatchRate = rate
	snap.AgentsStatus = make(map[string]string, len(o.deps.Registry.IDs()))
	for _, id := range o.deps.Registry.IDs() {
		snap.AgentsStatus[id] = "ready"
	}
	if o.deps.Policies.Degraded() {
		snap.AgentsStatus["policy"] = "degraded"
	}
	return snap, nil
}

// backoff sleeps base*2^attempt plus jitter, honoring ctx cancellation.
func (o *Orchestrator) backoff(ctx context.Context, retry policy.RetryConfig, attempt int) error {
	base := time.Duration(retry.BackoffBaseMs) * time.Millisecond
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base * (1 << attempt)
	delay += time.Duration(rand.Int63n(int64(base)/2 + 1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// statusFloor maps an agent status to the weakest acceptable action.
func statusFloor(status string) contracts.Action {
	switch status {
	case contracts.StatusAutoMatched, contracts.StatusInternalTransfer, contracts.StatusOK:
		return contracts.ActionAutoApproved
	case contracts.StatusPendingReview, contracts.StatusAlert:
		return contracts.ActionProposed
	case contracts.StatusUnmatched:
		return contracts.ActionHumanSignoff
	default:
		return contracts.ActionProposed
	}
}

var severity = map[contracts.Action]int{
	contracts.ActionAutoApproved: 0,
	contracts.ActionProposed:     1,
	contracts.ActionHumanSignoff: 2,
	contracts.ActionRejected:     3,
}

// stricter returns the more restrictive of two actions.
func stricter(a, b contracts.Action) contracts.Action {
	if severity[a] >= severity[b] {
		return a
	}
	return b
}
