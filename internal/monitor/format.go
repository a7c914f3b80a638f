package monitor

import (
	"fmt"
	"strings"
	"time"

	"steamwatch/internal/model"
)

// FormatDuration renders whole seconds as "Ns", "N min" or "Hh Mm".
func FormatDuration(sec int64) string {
	switch {
	case sec < 0:
		return "unknown"
	case sec < 60:
		return fmt.Sprintf("%ds", sec)
	case sec < 3600:
		return fmt.Sprintf("%d min", sec/60)
	default:
		return fmt.Sprintf("%dh %dm", sec/3600, (sec%3600)/60)
	}
}

// BaseText is the fixed notification line for an event.
func BaseText(name string, ev Event) string {
	if ev.Kind == model.EventStop {
		s := fmt.Sprintf("🔴 %s stopped playing 《%s》.", name, ev.Activity)
		if ev.Duration > 0 {
			s += " Session: " + FormatDuration(ev.Duration) + "."
		}
		return s
	}
	return fmt.Sprintf("🟢 %s started playing 《%s》.", name, ev.Activity)
}

// MemeText is the short caption drawn onto the meme image.
func MemeText(name string, ev Event) string {
	if ev.Kind == model.EventStop {
		return name + " stopped playing " + ev.Activity
	}
	return name + " is playing " + ev.Activity
}

// matchesFilter reports whether activity passes a case-insensitive substring filter.
func matchesFilter(filter, activity string) bool {
	f := strings.TrimSpace(filter)
	if f == "" {
		return true
	}
	return strings.Contains(strings.ToLower(activity), strings.ToLower(f))
}

func displayName(r model.Rule) string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return "user (" + r.EntityID + ")"
}

const promptWordLimit = 40

// BuildPrompt asks for a one-line comment on the event, given the rule's
// recent history (newest first) and today's playtime.
func BuildPrompt(r model.Rule, name string, ev Event, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a witty assistant commenting on a friend's gaming activity. "+
		"Write one short comment about %s that fits a group chat: tease, cheer or nudge as you like, "+
		"and feel free to joke about the game itself. Reply with the comment only, at most %d words.\n\n",
		name, promptWordLimit)

	latest := "just started playing"
	if ev.Kind == model.EventStop {
		latest = "just stopped playing, session: " + FormatDuration(ev.Duration)
	}
	b.WriteString("Latest event:\n")
	fmt.Fprintf(&b, "- Type: %s\n", latest)
	fmt.Fprintf(&b, "- Game: 《%s》\n", ev.Activity)
	fmt.Fprintf(&b, "- Current time: %s\n\n", now.Format("2006-01-02 15:04:05"))

	b.WriteString("Recent activity (newest first):\n")
	for _, h := range r.History {
		b.WriteString(historyLine(h, now.Unix()))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\nToday's total playtime: %s\n", FormatDuration(r.PlaytimeToday))
	return b.String()
}

func historyLine(h model.HistoryEntry, now int64) string {
	action := "started"
	if h.Kind == model.EventStop {
		action = "stopped (played " + FormatDuration(h.Duration) + ")"
	}
	return fmt.Sprintf("- %s ago: %s《%s》", FormatDuration(max(now-h.At, 0)), action, h.Activity)
}
