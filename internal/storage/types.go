// Package storage persists monitoring rules, the identity cache, provider
// credentials and the operator audit log.
//
// Drivers:
//   - "file": whole-document JSON files written atomically, audit as JSON Lines
//   - "sqlite": one SQLite database (modernc.org/sqlite, no cgo)
//   - "memory": process-local, for tests and dry runs
//
// Missing documents load as empty. Malformed documents are logged and load as
// empty so a corrupt file never blocks startup.
package storage

import (
	"context"
	"errors"
	"time"

	"steamwatch/internal/model"
)

var ErrClosed = errors.New("storage closed")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the monitor and the command surface.
type Store interface {
	LoadRules(ctx context.Context) ([]model.Rule, error)
	SaveRules(ctx context.Context, rules []model.Rule) error

	LoadIdentities(ctx context.Context) (map[string]model.IdentityEntry, error)
	SaveIdentities(ctx context.Context, entries map[string]model.IdentityEntry) error

	LoadCredentials(ctx context.Context) (model.Credentials, error)
	SaveCredentials(ctx context.Context, c model.Credentials) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// AuditEntry records one operator action.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	ThreadID      int       `json:"thread_id,omitempty"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms"`
}
