package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"steamwatch/internal/model"
	"steamwatch/internal/storage"
	logx "steamwatch/pkg/logx"
)

var (
	ErrDuplicateRule   = errors.New("entity already monitored for this target")
	ErrRuleNotFound    = errors.New("rule not found")
	ErrAmbiguousPrefix = errors.New("rule id prefix matches more than one rule")
)

// RuleStore owns the rule collection. Readers get clones; loops write back
// through Commit, which merges by id so rules removed mid-pass stay removed.
type RuleStore struct {
	mu    sync.Mutex
	rules []model.Rule

	store storage.Store
	log   logx.Logger
}

func NewRuleStore(store storage.Store, log logx.Logger) *RuleStore {
	return &RuleStore{store: store, log: log}
}

// Load replaces the in-memory collection with the persisted one.
func (s *RuleStore) Load(ctx context.Context, today string, now int64) error {
	rules, err := s.store.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	for i := range rules {
		rules[i].Normalize(today, now)
	}
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	return nil
}

func (s *RuleStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

// List returns the rules for target in creation order. An empty target lists all.
func (s *RuleStore) List(target string) []model.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if target == "" || r.Target == target {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Snapshot returns clones of the rules driven by mode.
func (s *RuleStore) Snapshot(mode model.Mode) []model.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Rule
	for _, r := range s.rules {
		if r.Mode == mode {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Counts returns the number of rules per mode.
func (s *RuleStore) Counts() map[model.Mode]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[model.Mode]int{model.ModeGroupSnapshot: 0, model.ModeIndividual: 0}
	for _, r := range s.rules {
		out[r.Mode]++
	}
	return out
}

// Add appends a rule and persists. The same entity may be watched once per target.
func (s *RuleStore) Add(ctx context.Context, r model.Rule) error {
	s.mu.Lock()
	for _, cur := range s.rules {
		if cur.EntityID == r.EntityID && cur.Target == r.Target {
			s.mu.Unlock()
			return ErrDuplicateRule
		}
	}
	s.rules = append(s.rules, r.Clone())
	snap := s.cloneLocked()
	s.mu.Unlock()
	_ = s.persist(ctx, snap)
	return nil
}

// Remove deletes the single rule whose id starts with prefix.
func (s *RuleStore) Remove(ctx context.Context, prefix string) (model.Rule, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return model.Rule{}, ErrRuleNotFound
	}
	s.mu.Lock()
	idx := -1
	for i, r := range s.rules {
		if !strings.HasPrefix(r.ID, prefix) {
			continue
		}
		if idx >= 0 {
			s.mu.Unlock()
			return model.Rule{}, ErrAmbiguousPrefix
		}
		idx = i
	}
	if idx < 0 {
		s.mu.Unlock()
		return model.Rule{}, ErrRuleNotFound
	}
	removed := s.rules[idx]
	s.rules = append(s.rules[:idx:idx], s.rules[idx+1:]...)
	snap := s.cloneLocked()
	s.mu.Unlock()
	_ = s.persist(ctx, snap)
	return removed, nil
}

// Commit writes updated rules back by id and persists the whole collection once.
// Ids no longer present are ignored.
func (s *RuleStore) Commit(ctx context.Context, updated []model.Rule) error {
	if len(updated) == 0 {
		return nil
	}
	byID := make(map[string]model.Rule, len(updated))
	for _, r := range updated {
		byID[r.ID] = r
	}
	s.mu.Lock()
	for i, r := range s.rules {
		if u, ok := byID[r.ID]; ok {
			s.rules[i] = u.Clone()
		}
	}
	snap := s.cloneLocked()
	s.mu.Unlock()
	return s.persist(ctx, snap)
}

func (s *RuleStore) cloneLocked() []model.Rule {
	out := make([]model.Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.Clone()
	}
	return out
}

// persist failures leave the in-memory collection authoritative.
func (s *RuleStore) persist(ctx context.Context, rules []model.Rule) error {
	if err := s.store.SaveRules(context.WithoutCancel(ctx), rules); err != nil {
		s.log.Warn("persist rules failed", logx.Int("rules", len(rules)), logx.Err(err))
		return fmt.Errorf("persist rules: %w", err)
	}
	return nil
}
