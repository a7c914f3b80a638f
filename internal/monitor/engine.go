// Package monitor tracks game sessions for monitoring rules.
//
// The Engine applies one status observation to one rule. The Scheduler drives
// three independent polling loops (group snapshot, individual adaptive, identity
// cache sweep) and feeds the Engine; transitions are handed to a Composer that
// builds and dispatches the outward notification.
package monitor

import (
	"time"

	"steamwatch/internal/model"
)

const dayLayout = "2006-01-02"

// Event is the outward result of a transition. For a switch it describes the
// start of the new activity; the closed session is carried in Previous*.
type Event struct {
	Kind      model.EventKind
	Activity  string
	Duration  int64
	AvatarRef string
	At        int64

	PreviousActivity string
	PreviousDuration int64
}

// Outcome reports what Apply did to the rule.
type Outcome struct {
	// Mutated is true when any persisted field changed (including day rollover).
	Mutated bool
	// Event is nil unless the activity changed.
	Event *Event
}

// Engine is the per-rule state machine. It holds no state of its own.
type Engine struct {
	now func() time.Time
	loc *time.Location
}

func NewEngine(now func() time.Time, loc *time.Location) *Engine {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Engine{now: now, loc: loc}
}

func (e *Engine) Now() time.Time { return e.now().In(e.loc) }

// Today is the calendar-day key used for playtime rollover.
func (e *Engine) Today() string { return e.Now().Format(dayLayout) }

// Apply runs one observation through the rule. A nil status means no
// observation this cycle: only the day rollover is applied.
func (e *Engine) Apply(r *model.Rule, st *model.Status) Outcome {
	now := e.Now()
	ts := now.Unix()
	var out Outcome

	if today := now.Format(dayLayout); r.LastResetDay != today {
		r.PlaytimeToday = 0
		r.LastResetDay = today
		out.Mutated = true
	}
	if st == nil {
		return out
	}

	oldActivity, newActivity := r.CurrentActivity, st.Activity
	if oldActivity == newActivity {
		if e.refreshPresentation(r, st) {
			out.Mutated = true
		}
		return out
	}

	var ev Event
	switch {
	case newActivity == "":
		d := e.closeSession(r, ts)
		ev = Event{Kind: model.EventStop, Activity: oldActivity, Duration: d}
	case oldActivity == "":
		e.openSession(r, newActivity, ts)
		ev = Event{Kind: model.EventStart, Activity: newActivity}
	default:
		d := e.closeSession(r, ts)
		e.openSession(r, newActivity, ts)
		ev = Event{Kind: model.EventStart, Activity: newActivity, PreviousActivity: oldActivity, PreviousDuration: d}
	}

	e.refreshPresentation(r, st)
	r.LastTransitionAt = ts
	ev.AvatarRef = st.AvatarRef
	ev.At = ts
	out.Mutated = true
	out.Event = &ev
	return out
}

// closeSession ends the current activity and returns its whole-second duration.
func (e *Engine) closeSession(r *model.Rule, ts int64) int64 {
	var d int64
	if r.ActivityStartedAt > 0 {
		d = max(ts-r.ActivityStartedAt, 0)
	}
	r.PlaytimeToday += d
	pushHistory(r, model.HistoryEntry{At: ts, Kind: model.EventStop, Activity: r.CurrentActivity, Duration: d})
	r.CurrentActivity = ""
	r.ActivityStartedAt = 0
	return d
}

func (e *Engine) openSession(r *model.Rule, activity string, ts int64) {
	r.CurrentActivity = activity
	r.ActivityStartedAt = ts
	pushHistory(r, model.HistoryEntry{At: ts, Kind: model.EventStart, Activity: activity})
}

// refreshPresentation copies the observed name and avatar. An empty observed
// name keeps the stored one; the avatar always follows the observation.
func (e *Engine) refreshPresentation(r *model.Rule, st *model.Status) bool {
	changed := false
	if st.DisplayName != "" && st.DisplayName != r.DisplayName {
		r.DisplayName = st.DisplayName
		changed = true
	}
	if st.AvatarRef != r.AvatarRef {
		r.AvatarRef = st.AvatarRef
		changed = true
	}
	return changed
}

// pushHistory prepends an entry and trims to model.HistoryLimit.
func pushHistory(r *model.Rule, h model.HistoryEntry) {
	n := min(len(r.History)+1, model.HistoryLimit)
	next := make([]model.HistoryEntry, 0, n)
	next = append(next, h)
	next = append(next, r.History[:n-1]...)
	r.History = next
}
