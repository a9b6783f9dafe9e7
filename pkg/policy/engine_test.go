package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumfi/finagent/pkg/contracts"
)

func newTestEngine(t *testing.T, p *Policy) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), &StaticStore{Policy: p}, nil)
	require.NoError(t, err)
	return e
}

func testPolicy() *Policy {
	p := Default()
	p.KnownPartyLists = map[string][]string{
		"trusted_vendors": {"Acme Pty Ltd", "Cloudworks"},
	}
	p.Thresholds.DollarThresholds = map[string]int64{"default": 500000}
	return p
}

func TestEngineDegradesToDefaultWhenStoreEmpty(t *testing.T) {
	e, err := NewEngine(context.Background(), &StaticStore{Err: ErrNoPolicies}, nil)
	require.NoError(t, err)

	assert.True(t, e.Degraded())
	p := e.Current()
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, 0.85, p.Thresholds.AutoPostBillConfidence)
	assert.Equal(t, 0.90, p.Thresholds.AutoMatchBankConfidence)
	assert.Equal(t, 0.20, p.Thresholds.VarianceAlertPct)
	assert.Zero(t, p.Thresholds.DollarThreshold("anything"))
}

func TestDegradedDefaultHasNoDollarGate(t *testing.T) {
	e, err := NewEngine(context.Background(), &StaticStore{Err: ErrNoPolicies}, nil)
	require.NoError(t, err)

	// A high-confidence match well above any published dollar limit must
	// still auto-approve under the embedded default.
	check := e.CheckApprovalRequired(context.Background(), "bank_match_apply", Metadata{
		AmountCents: 600000,
		Confidence:  0.97,
	})
	assert.False(t, check.Required)
	assert.Equal(t, contracts.ActionAutoApproved, check.Type)
}

func TestLodgementClassAlwaysRequiresSignoff(t *testing.T) {
	e := newTestEngine(t, testPolicy())

	for _, action := range []string{"bas_lodgement", "rdti_lodgement", "payroll_lodgement"} {
		check := e.CheckApprovalRequired(context.Background(), action, Metadata{
			AmountCents: 100,
			Confidence:  0.99,
			Vendor:      "Acme Pty Ltd", // known vendor must not loosen this
		})
		assert.True(t, check.Required, action)
		assert.Equal(t, contracts.ActionHumanSignoff, check.Type, action)
		assert.Equal(t, "lodgement-signoff", check.RuleID, action)
	}
}

func TestExpressionRulesApplyInOrder(t *testing.T) {
	p := testPolicy()
	p.ApprovalRules = append(p.ApprovalRules,
		ApprovalRule{
			ID:      "big-empty-vendor",
			Expr:    `amount_cents > 1000000 && vendor == ""`,
			Outcome: contracts.ActionHumanSignoff,
		},
	)
	e := newTestEngine(t, p)

	check := e.CheckApprovalRequired(context.Background(), "bank_match_apply", Metadata{
		AmountCents: 2000000,
		Confidence:  0.95,
	})
	assert.True(t, check.Required)
	assert.Equal(t, contracts.ActionHumanSignoff, check.Type)
	assert.Equal(t, "big-empty-vendor", check.RuleID)

	// Same rule does not fire below its amount.
	check = e.CheckApprovalRequired(context.Background(), "bank_match_apply", Metadata{
		AmountCents: 500,
		Confidence:  0.95,
	})
	assert.False(t, check.Required)
	assert.Equal(t, contracts.ActionAutoApproved, check.Type)
}

func TestUnevaluableRuleFailsClosed(t *testing.T) {
	p := testPolicy()
	p.ApprovalRules = append(p.ApprovalRules,
		ApprovalRule{
			ID:      "broken-context-access",
			Expr:    `context["never_set"] == true`,
			Outcome: contracts.ActionAutoApproved,
		},
	)
	e := newTestEngine(t, p)

	check := e.CheckApprovalRequired(context.Background(), "bank_match_apply", Metadata{
		AmountCents: 100,
		Confidence:  0.99,
	})
	assert.True(t, check.Required)
	assert.Equal(t, contracts.ActionProposed, check.Type)
	assert.Equal(t, "broken-context-access", check.RuleID)
}

func TestBrokenRuleRejectedAtLoad(t *testing.T) {
	p := testPolicy()
	p.ApprovalRules = append(p.ApprovalRules,
		ApprovalRule{ID: "syntax-error", Expr: `amount_cents >`, Outcome: contracts.ActionProposed},
	)
	_, err := NewEngine(context.Background(), &StaticStore{Policy: p}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax-error")
}

func TestDollarThresholdProposesAboveLimit(t *testing.T) {
	e := newTestEngine(t, testPolicy())

	check := e.CheckApprovalRequired(context.Background(), "bill_autopost", Metadata{
		AmountCents: 600000, // above the published 500000 limit
		Confidence:  0.99,
		Vendor:      "Acme Pty Ltd",
	})
	assert.True(t, check.Required)
	assert.Equal(t, contracts.ActionProposed, check.Type)
}

func TestKnownVendorLoosensBelowThreshold(t *testing.T) {
	e := newTestEngine(t, testPolicy())

	check := e.CheckApprovalRequired(context.Background(), "bill_autopost", Metadata{
		AmountCents: 12000,
		Confidence:  0.92,
		Vendor:      "acme pty ltd", // case-folded membership
	})
	assert.False(t, check.Required)
	assert.Equal(t, contracts.ActionAutoApproved, check.Type)

	check = e.CheckApprovalRequired(context.Background(), "bill_autopost", Metadata{
		AmountCents: 12000,
		Confidence:  0.92,
		Vendor:      "Shady Imports",
	})
	assert.True(t, check.Required)
	assert.Equal(t, contracts.ActionProposed, check.Type)
}

func TestVendorlessActionAutoApprovesByDefault(t *testing.T) {
	e := newTestEngine(t, testPolicy())

	check := e.CheckApprovalRequired(context.Background(), "bank_match_apply", Metadata{
		AmountCents: 25000,
		Confidence:  0.97,
	})
	assert.False(t, check.Required)
	assert.Equal(t, contracts.ActionAutoApproved, check.Type)
}

func TestIsKnownVendorCaseInsensitive(t *testing.T) {
	e := newTestEngine(t, testPolicy())

	assert.True(t, e.IsKnownVendor("ACME PTY LTD", "trusted_vendors"))
	assert.True(t, e.IsKnownVendor("cloudworks", "trusted_vendors"))
	assert.False(t, e.IsKnownVendor("Acme", "trusted_vendors"))
	assert.False(t, e.IsKnownVendor("Acme Pty Ltd", "no_such_list"))
}
