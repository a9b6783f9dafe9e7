// Package policy provides the versioned automation policy: confidence
// thresholds, approval rules, and known-party lists, plus the engine
// that decides whether an action may proceed unattended.
//
// Policies are data. The engine implements only the generic evaluation
// mechanism; the specific rules ship as YAML documents.
package policy

import (
	"github.com/quorumfi/finagent/pkg/contracts"
)

// Account is a sub-account of a legal entity (e.g. Main, GST, Tax).
type Account struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Entity is a legal entity governed by the policy.
type Entity struct {
	ID       string    `yaml:"id" json:"id"`
	Name     string    `yaml:"name" json:"name"`
	Accounts []Account `yaml:"accounts,omitempty" json:"accounts,omitempty"`
}

// Thresholds hold the confidence and dollar gates for automation.
// Dollar thresholds are integer cents, keyed by action with a
// "default" fallback.
type Thresholds struct {
	AutoPostBillConfidence  float64          `yaml:"auto_post_bill_confidence" json:"auto_post_bill_confidence"`
	AutoMatchBankConfidence float64          `yaml:"auto_match_bank_confidence" json:"auto_match_bank_confidence"`
	VarianceAlertPct        float64          `yaml:"variance_alert_pct" json:"variance_alert_pct"`
	DollarThresholds        map[string]int64 `yaml:"dollar_thresholds,omitempty" json:"dollar_thresholds,omitempty"`
}

// DollarThreshold returns the cent limit for an action, falling back to
// the "default" entry. Zero means no dollar gate.
func (t Thresholds) DollarThreshold(action string) int64 {
	if v, ok := t.DollarThresholds[action]; ok {
		return v
	}
	return t.DollarThresholds["default"]
}

// ApprovalRule is one gating rule. Exactly one of ActionClass or Expr
// is set: ActionClass rules are mandatory overrides matched by glob
// (e.g. "*_lodgement"); Expr rules are CEL expressions over the
// approval metadata, applied in listed order when they evaluate true.
type ApprovalRule struct {
	ID          string           `yaml:"id" json:"id"`
	ActionClass string           `yaml:"action_class,omitempty" json:"action_class,omitempty"`
	Expr        string           `yaml:"expr,omitempty" json:"expr,omitempty"`
	Outcome     contracts.Action `yaml:"outcome" json:"outcome"`
}

// MatchingConfig tunes the bank reconciliation matcher.
type MatchingConfig struct {
	DateWindowDays       int   `yaml:"date_window_days" json:"date_window_days"`
	AmountToleranceCents int64 `yaml:"amount_tolerance_cents" json:"amount_tolerance_cents"`
	TopN                 int   `yaml:"top_n" json:"top_n"`
}

// RetryConfig bounds side-effect retries.
type RetryConfig struct {
	MaxAttempts   int `yaml:"max_attempts" json:"max_attempts"`
	BackoffBaseMs int `yaml:"backoff_base_ms" json:"backoff_base_ms"`
}

// Policy is one immutable published policy version. A new version
// never rewrites history; higher versions supersede lower ones.
type Policy struct {
	Version         int                 `yaml:"version" json:"version"`
	Entities        []Entity            `yaml:"entities" json:"entities"`
	Thresholds      Thresholds          `yaml:"thresholds" json:"thresholds"`
	ApprovalRules   []ApprovalRule      `yaml:"approval_rules,omitempty" json:"approval_rules,omitempty"`
	KnownPartyLists map[string][]string `yaml:"known_party_lists,omitempty" json:"known_party_lists,omitempty"`
	Matching        MatchingConfig      `yaml:"matching" json:"matching"`
	Retry           RetryConfig         `yaml:"retry" json:"retry"`
}

// Default returns the embedded conservative policy used when the store
// is unreachable or empty. Processing never blocks on policy
// availability; it degrades to these values. Dollar thresholds are
// published policy data; the default carries none, so confidence
// gating alone governs degraded-mode automation.
func Default() *Policy {
	return &Policy{
		Version: 1,
		Entities: []Entity{{
			ID:   "default",
			Name: "Default Entity",
			Accounts: []Account{
				{ID: "acct-main", Name: "Main"},
				{ID: "acct-gst", Name: "GST"},
				{ID: "acct-tax", Name: "Tax"},
				{ID: "acct-profit", Name: "Profit"},
			},
		}},
		Thresholds: Thresholds{
			AutoPostBillConfidence:  0.85,
			AutoMatchBankConfidence: 0.90,
			VarianceAlertPct:        0.20,
		},
		ApprovalRules: []ApprovalRule{
			{ID: "lodgement-signoff", ActionClass: "*_lodgement", Outcome: contracts.ActionHumanSignoff},
		},
		Matching: MatchingConfig{DateWindowDays: 3, AmountToleranceCents: 100, TopN: 3},
		Retry:    RetryConfig{MaxAttempts: 3, BackoffBaseMs: 100},
	}
}

// AccountsOf returns the accounts of the entity, or nil if unknown.
func (p *Policy) AccountsOf(entityID string) []Account {
	for _, e := range p.Entities {
		if e.ID == entityID {
			return e.Accounts
		}
	}
	return nil
}
