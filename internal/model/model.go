// Package model holds the records steamwatch persists and the transient
// observations exchanged between the scheduler and its collaborators.
package model

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrForbidden means the provider refused access (credentials or privacy settings).
	ErrForbidden = errors.New("access denied")
	// ErrUnavailable is a transient fetch failure; retry next cycle.
	ErrUnavailable = errors.New("status unavailable")
	// ErrNotFound means an identifier could not be resolved to an entity.
	ErrNotFound = errors.New("entity not found")
)

type Mode string

const (
	ModeGroupSnapshot Mode = "group_snapshot"
	ModeIndividual    Mode = "individual"
)

func (m Mode) Valid() bool { return m == ModeGroupSnapshot || m == ModeIndividual }

type EventKind string

const (
	EventStart EventKind = "start"
	EventStop  EventKind = "stop"
)

// HistoryLimit bounds Rule.History.
const HistoryLimit = 10

// HistoryEntry is one recorded transition. Timestamps are unix seconds.
type HistoryEntry struct {
	At       int64     `json:"timestamp"`
	Kind     EventKind `json:"type"`
	Activity string    `json:"game"`
	Duration int64     `json:"duration"`
}

// Rule is one monitoring rule.
//
// ActivityStartedAt > 0 iff CurrentActivity is non-empty.
// History is newest first and never longer than HistoryLimit.
type Rule struct {
	ID                string         `json:"id"`
	Target            string         `json:"notification_target"`
	OriginalInput     string         `json:"original_input"`
	EntityID          string         `json:"entity_id"`
	DisplayName       string         `json:"display_name"`
	AvatarRef         string         `json:"avatar_ref"`
	GameFilter        string         `json:"game_filter,omitempty"`
	Mode              Mode           `json:"monitoring_mode"`
	CurrentActivity   string         `json:"current_activity,omitempty"`
	ActivityStartedAt int64          `json:"activity_started_at"`
	PlaytimeToday     int64          `json:"playtime_today"`
	LastResetDay      string         `json:"last_reset_day"`
	LastTransitionAt  int64          `json:"last_transition_at"`
	History           []HistoryEntry `json:"event_history"`
	CreatedAt         int64          `json:"created_at,omitempty"`
}

// Clone returns a deep copy safe to mutate outside the owning store.
func (r Rule) Clone() Rule {
	r.History = append([]HistoryEntry(nil), r.History...)
	return r
}

// Active reports whether the rule currently shows an activity.
func (r Rule) Active() bool { return r.CurrentActivity != "" }

// Online reports the reachable signal used for polling tiers.
func (r Rule) Online() bool { return r.AvatarRef != "" }

// Normalize fills defaults for records written by older versions.
func (r *Rule) Normalize(today string, now int64) {
	if !r.Mode.Valid() {
		r.Mode = ModeGroupSnapshot
	}
	if r.History == nil {
		r.History = []HistoryEntry{}
	}
	if len(r.History) > HistoryLimit {
		r.History = r.History[:HistoryLimit]
	}
	if strings.TrimSpace(r.LastResetDay) == "" {
		r.LastResetDay = today
	}
	switch {
	case r.CurrentActivity == "":
		r.ActivityStartedAt = 0
	case r.ActivityStartedAt <= 0:
		// best known lower bound for the running session
		r.ActivityStartedAt = now
		if r.LastTransitionAt > 0 && r.LastTransitionAt <= now {
			r.ActivityStartedAt = r.LastTransitionAt
		}
	}
	if r.PlaytimeToday < 0 {
		r.PlaytimeToday = 0
	}
}

// IdentityEntry is a resolved identifier, keyed by the normalized user input.
type IdentityEntry struct {
	EntityID    string `json:"entity_id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref"`
	ResolvedAt  int64  `json:"resolved_at"`
}

// Stale reports whether the entry needs forced re-resolution.
func (e IdentityEntry) Stale(now time.Time, interval time.Duration) bool {
	if e.ResolvedAt <= 0 {
		return true
	}
	return now.Sub(time.Unix(e.ResolvedAt, 0)) > interval
}

// Status is one observation of an entity. An empty Activity means offline or idle.
type Status struct {
	EntityID    string
	DisplayName string
	Activity    string
	AvatarRef   string
}

// Snapshot is a batch observation keyed by entity id.
type Snapshot struct {
	FetchedAt time.Time
	Entities  map[string]Status
}

func (s *Snapshot) Lookup(entityID string) (Status, bool) {
	if s == nil {
		return Status{}, false
	}
	st, ok := s.Entities[entityID]
	return st, ok
}

func (s *Snapshot) Contains(entityID string) bool {
	_, ok := s.Lookup(entityID)
	return ok
}

// Credentials are the provider session cookies.
type Credentials struct {
	LoginSecure string `json:"steam_login_secure"`
	SessionID   string `json:"session_id"`
	UpdatedAt   int64  `json:"updated_at,omitempty"`
}

func (c Credentials) Empty() bool { return c.LoginSecure == "" && c.SessionID == "" }
