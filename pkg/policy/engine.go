package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"
	"golang.org/x/text/cases"

	"github.com/quorumfi/finagent/pkg/contracts"
)

// Metadata carries the facts the engine gates on.
type Metadata struct {
	AmountCents int64
	Confidence  float64
	Vendor      string
	VendorList  string // known-party list consulted for Vendor, default "trusted_vendors"
	Context     map[string]any
}

// Check is the outcome of an approval evaluation. Required is false
// only when the action may proceed as auto_approved.
type Check struct {
	Required  bool
	Type      contracts.Action
	RuleID    string
	Rationale string
}

// Engine evaluates approval rules against the current policy.
//
// Evaluation order, first match wins:
//  1. action-class mandatory overrides (glob match, can never be loosened)
//  2. CEL expression rules, in listed order
//  3. per-action dollar threshold (above the limit → proposed)
//  4. known-party allowlist: a vendor-bearing action defaults to
//     proposed and a known vendor loosens it to auto_approved. The
//     allowlist never overrides steps 1-3.
//
// If the store is unreachable or empty the engine falls back to the
// embedded default policy and logs a degraded-mode warning; it never
// fails hard.
type Engine struct {
	store  Store
	logger *slog.Logger
	env    *cel.Env

	mu       sync.RWMutex
	policy   *Policy
	programs map[string]cel.Program
	degraded bool
}

// NewEngine builds the engine and performs an initial load.
func NewEngine(ctx context.Context, store Store, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("action", types.StringType),
			decls.NewVariable("amount_cents", types.IntType),
			decls.NewVariable("confidence", types.DoubleType),
			decls.NewVariable("vendor", types.StringType),
			decls.NewVariable("context", types.NewMapType(types.StringType, types.DynType)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	e := &Engine{
		store:  store,
		logger: logger.With("component", "policy"),
		env:    env,
	}
	if err := e.Load(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Load fetches the current policy and compiles its expression rules.
// Store failures degrade to the embedded default; compile failures are
// hard errors so a broken policy version is rejected at publish time,
// not at evaluation time.
func (e *Engine) Load(ctx context.Context) error {
	p, err := e.store.Current(ctx)
	degraded := false
	if err != nil {
		e.logger.Warn("policy store unavailable, using embedded default",
			"error", err, "default_version", 1)
		p = Default()
		degraded = true
	}

	programs := make(map[string]cel.Program, len(p.ApprovalRules))
	for _, r := range p.ApprovalRules {
		if r.Expr == "" {
			continue
		}
		ast, issues := e.env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("compile approval rule %q: %w", r.ID, issues.Err())
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return fmt.Errorf("program for approval rule %q: %w", r.ID, err)
		}
		programs[r.ID] = prg
	}

	e.mu.Lock()
	e.policy = p
	e.programs = programs
	e.degraded = degraded
	e.mu.Unlock()

	e.logger.Info("policy loaded", "version", p.Version, "rules", len(p.ApprovalRules), "degraded", degraded)
	return nil
}

// Current returns the active policy.
func (e *Engine) Current() *Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// Degraded reports whether the engine is running on the embedded default.
func (e *Engine) Degraded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.degraded
}

// CheckApprovalRequired applies the ordered rule set to an action.
func (e *Engine) CheckApprovalRequired(ctx context.Context, action string, meta Metadata) Check {
	e.mu.RLock()
	p := e.policy
	programs := e.programs
	e.mu.RUnlock()

	// 1. Mandatory action-class overrides.
	for _, r := range p.ApprovalRules {
		if r.ActionClass == "" {
			continue
		}
		if ok, _ := path.Match(r.ActionClass, action); ok {
			return Check{
				Required:  r.Outcome != contracts.ActionAutoApproved,
				Type:      r.Outcome,
				RuleID:    r.ID,
				Rationale: fmt.Sprintf("action class %q matched rule %q", r.ActionClass, r.ID),
			}
		}
	}

	// 2. Expression rules, in listed order.
	input := map[string]any{
		"action":       action,
		"amount_cents": meta.AmountCents,
		"confidence":   meta.Confidence,
		"vendor":       meta.Vendor,
		"context":      nonNil(meta.Context),
	}
	for _, r := range p.ApprovalRules {
		if r.Expr == "" {
			continue
		}
		prg, ok := programs[r.ID]
		if !ok {
			continue
		}
		out, _, err := prg.Eval(input)
		if err != nil {
			// Fail closed: an unevaluable rule blocks auto-approval.
			e.logger.Warn("approval rule evaluation failed", "rule", r.ID, "action", action, "error", err)
			return Check{
				Required:  true,
				Type:      contracts.ActionProposed,
				RuleID:    r.ID,
				Rationale: fmt.Sprintf("rule %q evaluation error: %v", r.ID, err),
			}
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return Check{
				Required:  r.Outcome != contracts.ActionAutoApproved,
				Type:      r.Outcome,
				RuleID:    r.ID,
				Rationale: fmt.Sprintf("rule %q matched", r.ID),
			}
		}
	}

	// 3. Dollar threshold.
	if limit := p.Thresholds.DollarThreshold(action); limit > 0 && meta.AmountCents > limit {
		return Check{
			Required:  true,
			Type:      contracts.ActionProposed,
			Rationale: fmt.Sprintf("amount %d above dollar threshold %d", meta.AmountCents, limit),
		}
	}

	// 4. Known-party allowlist. Only loosens; never overrides the above.
	if meta.Vendor != "" {
		list := meta.VendorList
		if list == "" {
			list = "trusted_vendors"
		}
		if !e.IsKnownVendor(meta.Vendor, list) {
			return Check{
				Required:  true,
				Type:      contracts.ActionProposed,
				Rationale: fmt.Sprintf("vendor %q not in %s", meta.Vendor, list),
			}
		}
		return Check{
			Required:  false,
			Type:      contracts.ActionAutoApproved,
			Rationale: fmt.Sprintf("vendor %q in %s, below threshold", meta.Vendor, list),
		}
	}

	return Check{Required: false, Type: contracts.ActionAutoApproved, Rationale: "no gating rule matched"}
}

// IsKnownVendor reports case-normalized membership of name in the named
// known-party list. Used solely to loosen gating, never to bypass
// mandatory sign-off classes.
func (e *Engine) IsKnownVendor(name, listType string) bool {
	e.mu.RLock()
	p := e.policy
	e.mu.RUnlock()

	fold := cases.Fold()
	needle := fold.String(name)
	for _, member := range p.KnownPartyLists[listType] {
		if fold.String(member) == needle {
			return true
		}
	}
	return false
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
