package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityIgnoresNoiseWords(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("Payment from Acme", "payment to ACME"), 1e-9)
	assert.InDelta(t, 1.0, Similarity("ref INV-42 Acme", "Acme INV 42"), 1e-9)
}

func TestSimilarityDisjointTexts(t *testing.T) {
	assert.Zero(t, Similarity("Stripe payout", "Office rent March"))
}

func TestSimilarityEmptyInput(t *testing.T) {
	assert.Zero(t, Similarity("", "anything"))
	assert.Zero(t, Similarity("the to from", "of a an"))
}

func TestTokenizeFoldsAndSplits(t *testing.T) {
	tokens := Tokenize("GST-Transfer: Main→Gst, Q3/2026")
	assert.Contains(t, tokens, "gst")
	assert.Contains(t, tokens, "transfer")
	assert.Contains(t, tokens, "main")
	assert.Contains(t, tokens, "q3")
	assert.Contains(t, tokens, "2026")
}
