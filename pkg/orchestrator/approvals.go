package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quorumfi/finagent/pkg/contracts"
	"github.com/quorumfi/finagent/pkg/ledger"
)

// ErrDecisionNotFound is returned when a resolution targets an unknown
// decision.
var ErrDecisionNotFound = errors.New("orchestrator: decision not found")

// ErrAlreadyResolved is returned when the decision was already
// superseded by a resolution.
var ErrAlreadyResolved = errors.New("orchestrator: decision already resolved")

// ResolveApproval records a human verdict on a pending decision. The
// original decision is never mutated: the resolution is a new decision
// whose Supersedes field references it. Approving applies the stored
// write-back; rejecting leaves the books untouched.
func (o *Orchestrator) ResolveApproval(ctx context.Context, decisionID, actor string, approve bool) (*contracts.Decision, error) {
	rec, err := o.findDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if rec.Decision.Action == contracts.ActionAutoApproved || rec.Decision.Action == contracts.ActionRejected {
		return nil, fmt.Errorf("%w: decision %s is terminal (%s)", ErrAlreadyResolved, decisionID, rec.Decision.Action)
	}

	action := contracts.ActionRejected
	verb := "rejected"
	if approve {
		action = contracts.ActionAutoApproved
		verb = "approved"
	}
	resolution := contracts.Decision{
		ID:         uuid.New().String(),
		EventID:    rec.Decision.EventID,
		Agent:      rec.Decision.Agent,
		Action:     action,
		Confidence: rec.Decision.Confidence,
		Rationale:  fmt.Sprintf("%s by %s", verb, actor),
		Supersedes: decisionID,
		DecidedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(decisionRecord{Decision: resolution, WriteBack: rec.WriteBack})
	if err != nil {
		return nil, fmt.Errorf("marshal resolution: %w", err)
	}
	// One resolution per decision: the idempotency key is the superseded
	// decision id, so a double-click approves exactly once.
	stored, duplicate, err := o.deps.Ledger.Append(ctx, ledger.Entry{
		Type:           ledger.EntryDecision,
		EventID:        rec.Decision.EventID,
		Agent:          rec.Decision.Agent,
		Action:         string(action),
		IdempotencyKey: "resolve:" + decisionID,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("record resolution: %w", err)
	}
	if duplicate {
		var prior decisionRecord
		if err := json.Unmarshal(stored.Payload, &prior); err != nil {
			return nil, fmt.Errorf("decode prior resolution: %w", err)
		}
		return &prior.Decision, nil
	}

	o.logger.Info("decision resolved", "decision_id", decisionID, "action", action, "actor", actor)

	if approve && rec.WriteBack != nil {
		retry := o.deps.Policies.Current().Retry
		if err := o.applyWriteBack(ctx, rec.Decision.EventID, rec.Decision.Agent, rec.WriteBack, retry); err != nil {
			if _, recErr := o.recordException(ctx, rec.Decision.EventID, rec.WriteBack.TransactionID,
				fmt.Sprintf("write-back after approval failed: %v", err)); recErr != nil {
				return nil, recErr
			}
			return &resolution, err
		}
	}

	if err := o.resolveExceptionsFor(ctx, rec.Decision.EventID, actor); err != nil {
		return nil, err
	}
	return &resolution, nil
}

// findDecision scans decision entries for the given decision id and
// reports whether it was already superseded.
func (o *Orchestrator) findDecision(ctx context.Context, decisionID string) (*decisionRecord, error) {
	entries, err := o.deps.Ledger.Query(ctx, ledger.Filter{Type: ledger.EntryDecision})
	if err != nil {
		return nil, err
	}
	var found *decisionRecord
	for i := range entries {
		var rec decisionRecord
		if err := json.Unmarshal(entries[i].Payload, &rec); err != nil {
			continue
		}
		if rec.Decision.ID == decisionID {
			r := rec
			found = &r
		}
		if rec.Decision.Supersedes == decisionID {
			return nil, fmt.Errorf("%w: decision %s superseded by %s", ErrAlreadyResolved, decisionID, rec.Decision.ID)
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrDecisionNotFound, decisionID)
	}
	return found, nil
}

// resolveExceptionsFor closes open exceptions for an event by appending
// resolved copies. The originals stay in the chain untouched.
func (o *Orchestrator) resolveExceptionsFor(ctx context.Context, eventID, actor string) error {
	entries, err := o.deps.Ledger.Query(ctx, ledger.Filter{Type: ledger.EntryException, EventID: eventID})
	if err != nil {
		return err
	}
	open := make(map[string]contracts.Exception)
	for i := range entries {
		var exc contracts.Exception
		if err := json.Unmarshal(entries[i].Payload, &exc); err != nil {
			continue
		}
		if exc.ResolvedAt != nil {
			delete(open, exc.ID)
			continue
		}
		open[exc.ID] = exc
	}
	now := time.Now().UTC()
	for _, exc := range open {
		exc.ResolvedAt = &now
		exc.Reason = exc.Reason + "; resolved by " + actor
		payload, err := json.Marshal(exc)
		if err != nil {
			return fmt.Errorf("marshal resolved exception: %w", err)
		}
		if _, _, err := o.deps.Ledger.Append(ctx, ledger.Entry{
			Type:           ledger.EntryException,
			EventID:        eventID,
			IdempotencyKey: "resolve-exc:" + exc.ID,
			Payload:        payload,
		}); err != nil {
			return fmt.Errorf("record exception resolution: %w", err)
		}
		o.logger.Info("exception resolved", "exception_id", exc.ID, "event_id", eventID, "actor", actor)
	}
	return nil
}

// OpenExceptions lists unresolved exceptions, newest first.
func (o *Orchestrator) OpenExceptions(ctx context.Context) ([]contracts.Exception, error) {
	entries, err := o.deps.Ledger.Query(ctx, ledger.Filter{Type: ledger.EntryException})
	if err != nil {
		return nil, err
	}
	open := make(map[string]contracts.Exception)
	var order []string
	for i := range entries {
		var exc contracts.Exception
		if err := json.Unmarshal(entries[i].Payload, &exc); err != nil {
			continue
		}
		if exc.ResolvedAt != nil {
			delete(open, exc.ID)
			continue
		}
		if _, seen := open[exc.ID]; !seen {
			order = append(order, exc.ID)
		}
		open[exc.ID] = exc
	}
	out := make([]contracts.Exception, 0, len(open))
	for i := len(order) - 1; i >= 0; i-- {
		if exc, ok := open[order[i]]; ok {
			out = append(out, exc)
		}
	}
	return out, nil
}
