// Package transfer classifies bank transactions that move funds
// between sub-accounts of the same legal entity. Valid internal
// transfers are excluded from invoice/bill matching entirely and
// reconciled as self-transfers, never posted against an external
// party.
package transfer

import (
	"strings"

	"golang.org/x/text/cases"
)

// vocabulary of allocation/transfer narration phrases. A description
// must contain one of these (or a standalone "allocation" token) to be
// considered a transfer candidate at all; ordinary payments, refunds,
// fees, and interest never match.
var vocabulary = []string{
	"gst transfer",
	"tax allocation",
	"profit distribution",
	"auto allocation",
	"internal transfer",
}

// Account is a known sub-account in the detector's account context.
type Account struct {
	ID     string
	Name   string
	Entity string
}

// Transfer is a parsed internal transfer.
type Transfer struct {
	SourceAccount Account
	TargetAccount Account
	Reason        string
}

// Detector resolves transfer narrations against the current account
// context.
type Detector struct {
	accounts []Account
	fold     cases.Caser
}

// NewDetector builds a detector over the known accounts.
func NewDetector(accounts []Account) *Detector {
	return &Detector{accounts: accounts, fold: cases.Fold()}
}

// Detect classifies a transaction description. It returns the parsed
// transfer and true only when the description matches the transfer
// vocabulary AND both accounts resolve to known accounts of the same
// legal entity. Anything else — including vocabulary hits whose
// accounts do not resolve — is not a transfer.
func (d *Detector) Detect(description, sourceAccountID string) (*Transfer, bool) {
	folded := d.fold.String(description)

	reason, ok := d.matchVocabulary(folded)
	if !ok {
		return nil, false
	}

	mentioned := d.mentionedAccounts(folded)
	source, target, ok := d.resolve(mentioned, sourceAccountID)
	if !ok {
		return nil, false
	}
	if source.Entity != target.Entity || source.ID == target.ID {
		return nil, false
	}
	return &Transfer{SourceAccount: source, TargetAccount: target, Reason: reason}, true
}

func (d *Detector) matchVocabulary(folded string) (string, bool) {
	for _, phrase := range vocabulary {
		if strings.Contains(folded, phrase) {
			return phrase, true
		}
	}
	// A standalone "allocation" token also qualifies (e.g. bank-side
	// automatic allocation narrations with a prefix we don't know).
	for _, tok := range strings.FieldsFunc(folded, func(r rune) bool {
		return r == ' ' || r == ':' || r == '-' || r == ',' || r == '.'
	}) {
		if tok == "allocation" {
			return "allocation", true
		}
	}
	return "", false
}

// mentionedAccounts returns known accounts whose names appear in the
// description, in order of appearance.
func (d *Detector) mentionedAccounts(folded string) []Account {
	type hit struct {
		acct Account
		pos  int
	}
	var hits []hit
	for _, a := range d.accounts {
		name := d.fold.String(a.Name)
		if name == "" {
			continue
		}
		if pos := strings.Index(folded, name); pos >= 0 {
			hits = append(hits, hit{acct: a, pos: pos})
		}
	}
	// insertion sort by position; account lists are tiny
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	out := make([]Account, len(hits))
	for i, h := range hits {
		out[i] = h.acct
	}
	return out
}

// resolve picks source and target accounts using account-name
// heuristics from the current account context: two mentions mean
// "<source> to <target>"; one mention is the target with the
// transaction's own account as source.
func (d *Detector) resolve(mentioned []Account, sourceAccountID string) (Account, Account, bool) {
	ctx, haveCtx := d.byID(sourceAccountID)

	switch {
	case len(mentioned) >= 2:
		return mentioned[0], mentioned[1], true
	case len(mentioned) == 1 && haveCtx:
		return ctx, mentioned[0], true
	default:
		return Account{}, Account{}, false
	}
}

func (d *Detector) byID(id string) (Account, bool) {
	for _, a := range d.accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}
