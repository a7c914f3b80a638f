package storage

import (
	"context"
	"sync"

	"steamwatch/internal/model"
)

// Memory is a process-local Store. Saves and loads copy, so callers never share slices.
type Memory struct {
	mu     sync.Mutex
	rules  []model.Rule
	idents map[string]model.IdentityEntry
	creds  model.Credentials
	audit  []AuditEntry

	// SaveRulesCalls counts SaveRules invocations.
	SaveRulesCalls int
	// FailSaves makes every save return this error when set.
	FailSaves error
}

func NewMemory() *Memory {
	return &Memory{idents: map[string]model.IdentityEntry{}}
}

func (m *Memory) LoadRules(ctx context.Context) ([]model.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *Memory) SaveRules(ctx context.Context, rules []model.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveRulesCalls++
	if m.FailSaves != nil {
		return m.FailSaves
	}
	m.rules = m.rules[:0]
	for _, r := range rules {
		m.rules = append(m.rules, r.Clone())
	}
	return nil
}

func (m *Memory) LoadIdentities(ctx context.Context) (map[string]model.IdentityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.IdentityEntry, len(m.idents))
	for k, v := range m.idents {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) SaveIdentities(ctx context.Context, entries map[string]model.IdentityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves != nil {
		return m.FailSaves
	}
	m.idents = make(map[string]model.IdentityEntry, len(entries))
	for k, v := range entries {
		m.idents[k] = v
	}
	return nil
}

func (m *Memory) LoadCredentials(ctx context.Context) (model.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds, nil
}

func (m *Memory) SaveCredentials(ctx context.Context, c model.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves != nil {
		return m.FailSaves
	}
	m.creds = c
	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error { return nil }
