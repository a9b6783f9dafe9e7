package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoPolicies is returned when the store holds no published versions.
var ErrNoPolicies = errors.New("policy store is empty")

// Store supplies the current published policy.
type Store interface {
	Current(ctx context.Context) (*Policy, error)
}

// DirStore reads versioned policy documents from a directory of
// policy_v<N>.yaml files. Published files are immutable; a new version
// is a new file, and the highest N wins.
type DirStore struct {
	dir string
}

// NewDirStore creates a store over the given directory.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Current loads the highest-versioned policy document.
func (s *DirStore) Current(ctx context.Context) (*Policy, error) {
	_ = ctx
	matches, err := filepath.Glob(filepath.Join(s.dir, "policy_v*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ErrNoPolicies
	}

	best, bestVersion := "", -1
	for _, path := range matches {
		base := filepath.Base(path)
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(base, "policy_v"), ".yaml"))
		if err != nil {
			continue
		}
		if n > bestVersion {
			best, bestVersion = path, n
		}
	}
	if best == "" {
		return nil, ErrNoPolicies
	}

	data, err := os.ReadFile(best)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", best, err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", best, err)
	}
	if p.Version == 0 {
		p.Version = bestVersion
	}
	if err := validate(&p); err != nil {
		return nil, fmt.Errorf("policy %s: %w", best, err)
	}
	return &p, nil
}

// StaticStore wraps a fixed policy, used in tests and embedded setups.
type StaticStore struct {
	Policy *Policy
	Err    error
}

func (s *StaticStore) Current(ctx context.Context) (*Policy, error) {
	_ = ctx
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Policy == nil {
		return nil, ErrNoPolicies
	}
	return s.Policy, nil
}

func validate(p *Policy) error {
	if p.Version <= 0 {
		return fmt.Errorf("version must be positive, got %d", p.Version)
	}
	t := p.Thresholds
	for name, v := range map[string]float64{
		"auto_post_bill_confidence":  t.AutoPostBillConfidence,
		"auto_match_bank_confidence": t.AutoMatchBankConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold %s out of [0,1]: %v", name, v)
		}
	}
	for _, r := range p.ApprovalRules {
		if r.ActionClass == "" && r.Expr == "" {
			return fmt.Errorf("approval rule %q has neither action_class nor expr", r.ID)
		}
		if r.ActionClass != "" && r.Expr != "" {
			return fmt.Errorf("approval rule %q sets both action_class and expr", r.ID)
		}
		switch r.Outcome {
		case "auto_approved", "proposed", "human_signoff", "rejected":
		default:
			return fmt.Errorf("approval rule %q has invalid outcome %q", r.ID, r.Outcome)
		}
	}
	if p.Matching.DateWindowDays == 0 {
		p.Matching.DateWindowDays = 3
	}
	if p.Matching.TopN == 0 {
		p.Matching.TopN = 3
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry.MaxAttempts = 3
	}
	if p.Retry.BackoffBaseMs == 0 {
		p.Retry.BackoffBaseMs = 100
	}
	return nil
}
