// Package match implements the reconciliation matching strategies as
// pure functions: exact amount+date, amount-window, and narration
// similarity, each producing confidence-scored candidates. The package
// performs no I/O, so every scoring path is unit-testable without a
// live datastore.
package match

import (
	"sort"
	"time"

	"github.com/quorumfi/finagent/pkg/contracts"
	"github.com/quorumfi/finagent/pkg/finance"
)

// Record is an open accounting record (invoice or bill) eligible for
// matching against a bank transaction.
type Record struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"` // "invoice" or "bill"
	Reference    string    `json:"reference,omitempty"`
	Counterparty string    `json:"counterparty,omitempty"`
	AmountCents  int64     `json:"amount_cents"`
	IssuedAt     time.Time `json:"issued_at"`
	Open         bool      `json:"open"`
}

// Config tunes the matcher. Thresholds come from policy; the zero
// value is unusable, use DefaultConfig as the base.
type Config struct {
	DateWindowDays       int
	AmountToleranceCents int64
	ExactConfidence      float64
	AutoMatchThreshold   float64
	NarrationCapMargin   float64
	MinNarrationScore    float64
	TopN                 int
}

// DefaultConfig returns the standard matcher tuning.
func DefaultConfig() Config {
	return Config{
		DateWindowDays:       3,
		AmountToleranceCents: 100,
		ExactConfidence:      0.97,
		AutoMatchThreshold:   0.90,
		NarrationCapMargin:   0.05,
		MinNarrationScore:    0.20,
		TopN:                 3,
	}
}

// Result is the outcome of one matching pass: the strategy that
// produced candidates (empty when none did), the ranked candidates,
// and the confidence of the top candidate.
type Result struct {
	Strategy   contracts.Strategy
	Candidates []contracts.MatchCandidate
	Confidence float64
}

// Find runs the strategies in strict priority order, short-circuiting
// at the first that yields a usable candidate set. Strategies are
// never fanned out in parallel: each is only attempted when the prior
// was inconclusive.
func Find(txn contracts.BankTransaction, records []Record, cfg Config) Result {
	open := records[:0:0]
	for _, r := range records {
		if r.Open {
			open = append(open, r)
		}
	}

	if cands := exactMatches(txn, open, cfg); len(cands) > 0 {
		return Result{Strategy: contracts.StrategyExact, Candidates: cap_(cands, cfg.TopN), Confidence: cands[0].Score}
	}
	if cands := amountWindowMatches(txn, open, cfg); len(cands) > 0 {
		return Result{Strategy: contracts.StrategyAmountWindow, Candidates: cap_(cands, cfg.TopN), Confidence: cands[0].Score}
	}
	if cands := narrationMatches(txn, open, cfg); len(cands) > 0 {
		return Result{Strategy: contracts.StrategyNarration, Candidates: cap_(cands, cfg.TopN), Confidence: cands[0].Score}
	}
	return Result{}
}

// exactMatches finds records whose amount equals the transaction to the
// cent, dated within the window. Ranked by date proximity, ties broken
// by most-recently-issued record.
func exactMatches(txn contracts.BankTransaction, records []Record, cfg Config) []contracts.MatchCandidate {
	window := time.Duration(cfg.DateWindowDays) * 24 * time.Hour

	type scored struct {
		cand      contracts.MatchCandidate
		proximity time.Duration
		issuedAt  time.Time
	}
	var hits []scored
	for _, r := range records {
		if r.AmountCents != txn.AmountCents {
			continue
		}
		prox := absDuration(txn.Date.Sub(r.IssuedAt))
		if prox > window {
			continue
		}
		hits = append(hits, scored{
			cand: contracts.MatchCandidate{
				SourceTransactionID: txn.TransactionID,
				CandidateRecordID:   r.ID,
				Strategy:            contracts.StrategyExact,
				Score:               cfg.ExactConfidence,
				ComparedFields:      []string{"amount", "date"},
			},
			proximity: prox,
			issuedAt:  r.IssuedAt,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].proximity != hits[j].proximity {
			return hits[i].proximity < hits[j].proximity
		}
		return hits[i].issuedAt.After(hits[j].issuedAt)
	})
	out := make([]contracts.MatchCandidate, len(hits))
	for i, h := range hits {
		out[i] = h.cand
	}
	return out
}

// amountWindowMatches finds records within the cents tolerance.
// Confidence is medium-high, scaled by closeness to exact; it never
// reaches the exact-match band.
func amountWindowMatches(txn contracts.BankTransaction, records []Record, cfg Config) []contracts.MatchCandidate {
	tol := cfg.AmountToleranceCents
	if tol <= 0 {
		return nil
	}
	var out []contracts.MatchCandidate
	for _, r := range records {
		diff := finance.AbsDiffCents(r.AmountCents, txn.AmountCents)
		if diff == 0 || diff > tol {
			continue
		}
		closeness := 1 - float64(diff)/float64(tol)
		out = append(out, contracts.MatchCandidate{
			SourceTransactionID: txn.TransactionID,
			CandidateRecordID:   r.ID,
			Strategy:            contracts.StrategyAmountWindow,
			Score:               0.85 + 0.07*closeness,
			ComparedFields:      []string{"amount"},
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// narrationMatches scores token overlap between the transaction
// description and candidate reference/counterparty fields. Scores are
// capped below the auto-match threshold unless the counterparty
// account corroborates the candidate.
func narrationMatches(txn contracts.BankTransaction, records []Record, cfg Config) []contracts.MatchCandidate {
	var out []contracts.MatchCandidate
	for _, r := range records {
		s := Similarity(txn.Description, r.Reference+" "+r.Counterparty)
		if s < cfg.MinNarrationScore {
			continue
		}
		score := s
		fields := []string{"narration"}
		if corroborated(txn, r) {
			fields = append(fields, "counterparty_account")
		} else if ceiling := cfg.AutoMatchThreshold - cfg.NarrationCapMargin; score > ceiling {
			score = ceiling
		}
		out = append(out, contracts.MatchCandidate{
			SourceTransactionID: txn.TransactionID,
			CandidateRecordID:   r.ID,
			Strategy:            contracts.StrategyNarration,
			Score:               score,
			ComparedFields:      fields,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// corroborated reports whether a secondary signal backs a narration
// candidate: the transaction's counterparty account matching the
// record's counterparty.
func corroborated(txn contracts.BankTransaction, r Record) bool {
	if txn.CounterpartyAccount == "" || r.Counterparty == "" {
		return false
	}
	return Similarity(txn.CounterpartyAccount, r.Counterparty) >= 0.8
}

func cap_(cands []contracts.MatchCandidate, n int) []contracts.MatchCandidate {
	if n > 0 && len(cands) > n {
		return cands[:n]
	}
	return cands
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
