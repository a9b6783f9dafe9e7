package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultAccounts() []Account {
	return []Account{
		{ID: "acct-main", Name: "Main", Entity: "default"},
		{ID: "acct-gst", Name: "GST", Entity: "default"},
		{ID: "acct-tax", Name: "Tax", Entity: "default"},
		{ID: "acct-profit", Name: "Profit", Entity: "default"},
	}
}

func TestDetectClassifiesAllocationDescriptions(t *testing.T) {
	d := NewDetector(defaultAccounts())

	cases := []struct {
		description string
		target      string
	}{
		{"GST Transfer to GST Account", "acct-gst"},
		{"Tax Allocation - Automatic", "acct-tax"},
		{"Profit Distribution Auto", "acct-profit"},
		{"THRIDAY ALLOCATION: Main to Tax", "acct-tax"},
		{"Auto Allocation - GST Reserve", "acct-gst"},
	}
	for _, tc := range cases {
		xfer, ok := d.Detect(tc.description, "acct-main")
		require.True(t, ok, tc.description)
		assert.Equal(t, tc.target, xfer.TargetAccount.ID, tc.description)
		assert.NotEqual(t, xfer.SourceAccount.ID, xfer.TargetAccount.ID, tc.description)
	}
}

func TestDetectNeverClassifiesOrdinaryTransactions(t *testing.T) {
	d := NewDetector(defaultAccounts())

	for _, description := range []string{
		"Payment to Telstra",
		"Invoice from Client ABC",
		"Refund processed",
		"Bank fees",
		"Interest payment",
	} {
		_, ok := d.Detect(description, "acct-main")
		assert.False(t, ok, description)
	}
}

func TestDetectTwoMentionsResolveSourceAndTarget(t *testing.T) {
	d := NewDetector(defaultAccounts())

	xfer, ok := d.Detect("Internal transfer GST to Profit", "acct-main")
	require.True(t, ok)
	assert.Equal(t, "acct-gst", xfer.SourceAccount.ID)
	assert.Equal(t, "acct-profit", xfer.TargetAccount.ID)
}

func TestDetectVocabularyHitWithoutResolvableAccounts(t *testing.T) {
	d := NewDetector(defaultAccounts())

	// No account name mentioned and the context account is unknown.
	_, ok := d.Detect("internal transfer weekly sweep", "acct-unknown")
	assert.False(t, ok)
}

func TestDetectRejectsCrossEntityMovement(t *testing.T) {
	accounts := append(defaultAccounts(),
		Account{ID: "acct-other", Name: "Holdings", Entity: "other-entity"})
	d := NewDetector(accounts)

	_, ok := d.Detect("internal transfer Main to Holdings", "acct-main")
	assert.False(t, ok)
}

func TestDetectRejectsSelfTransferToSameAccount(t *testing.T) {
	d := NewDetector(defaultAccounts())

	// Only "Main" is mentioned and the context account is Main itself.
	_, ok := d.Detect("auto allocation Main sweep", "acct-main")
	assert.False(t, ok)
}
