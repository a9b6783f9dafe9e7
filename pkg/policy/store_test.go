package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicyFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestDirStorePicksHighestVersion(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "policy_v1.yaml", `
version: 1
thresholds:
  auto_post_bill_confidence: 0.80
  auto_match_bank_confidence: 0.90
`)
	writePolicyFile(t, dir, "policy_v3.yaml", `
version: 3
thresholds:
  auto_post_bill_confidence: 0.88
  auto_match_bank_confidence: 0.93
`)
	writePolicyFile(t, dir, "policy_v2.yaml", `
version: 2
thresholds:
  auto_post_bill_confidence: 0.85
  auto_match_bank_confidence: 0.91
`)

	p, err := NewDirStore(dir).Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, p.Version)
	assert.Equal(t, 0.88, p.Thresholds.AutoPostBillConfidence)
	// Unset tunables are backfilled with defaults.
	assert.Equal(t, 3, p.Matching.DateWindowDays)
	assert.Equal(t, 3, p.Retry.MaxAttempts)
}

func TestDirStoreEmptyDirectory(t *testing.T) {
	_, err := NewDirStore(t.TempDir()).Current(context.Background())
	assert.ErrorIs(t, err, ErrNoPolicies)
}

func TestDirStoreRejectsInvalidRule(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "policy_v1.yaml", `
version: 1
approval_rules:
  - id: both-set
    action_class: "*_lodgement"
    expr: "amount_cents > 0"
    outcome: proposed
`)
	_, err := NewDirStore(dir).Current(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both-set")
}

func TestDirStoreRejectsOutOfRangeThreshold(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "policy_v1.yaml", `
version: 1
thresholds:
  auto_post_bill_confidence: 1.5
`)
	_, err := NewDirStore(dir).Current(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auto_post_bill_confidence")
}
