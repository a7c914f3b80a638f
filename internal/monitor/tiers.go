package monitor

import (
	"time"

	"steamwatch/internal/model"
)

// Tiers are the individual-loop polling intervals.
type Tiers struct {
	InGame  time.Duration
	Online  time.Duration
	Offline time.Duration
}

// Next picks the sleep before the next individual pass: InGame when any rule
// shows an activity, Online when any rule has an avatar, Offline otherwise.
func (t Tiers) Next(rules []model.Rule) time.Duration {
	online := false
	for _, r := range rules {
		if r.Active() {
			return t.InGame
		}
		if r.Online() {
			online = true
		}
	}
	if online {
		return t.Online
	}
	return t.Offline
}
