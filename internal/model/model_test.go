package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRuleNormalizeDefaults(t *testing.T) {
	t.Parallel()
	r := Rule{ID: "r1", ActivityStartedAt: 99}
	r.Normalize("2026-10-14", 5000)

	assert.Equal(t, ModeGroupSnapshot, r.Mode)
	assert.NotNil(t, r.History)
	assert.Equal(t, "2026-10-14", r.LastResetDay)
	assert.Zero(t, r.ActivityStartedAt, "start time without an activity is cleared")

	playing := Rule{CurrentActivity: "Chess", LastTransitionAt: 4000}
	playing.Normalize("2026-10-14", 5000)
	assert.Equal(t, int64(4000), playing.ActivityStartedAt, "missing start falls back to the last transition")

	untracked := Rule{CurrentActivity: "Chess"}
	untracked.Normalize("2026-10-14", 5000)
	assert.Equal(t, int64(5000), untracked.ActivityStartedAt, "missing start falls back to load time")

	kept := Rule{CurrentActivity: "Chess", ActivityStartedAt: 4500, LastTransitionAt: 4000}
	kept.Normalize("2026-10-14", 5000)
	assert.Equal(t, int64(4500), kept.ActivityStartedAt)
}

func TestRuleCloneIsDeep(t *testing.T) {
	t.Parallel()
	r := Rule{History: []HistoryEntry{{Kind: EventStart, Activity: "Chess"}}}
	c := r.Clone()
	c.History[0].Activity = "Go"
	assert.Equal(t, "Chess", r.History[0].Activity)
}

func TestIdentityEntryStale(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	interval := 24 * time.Hour

	assert.True(t, IdentityEntry{}.Stale(now, interval), "never resolved")
	assert.True(t, IdentityEntry{ResolvedAt: now.Add(-25 * time.Hour).Unix()}.Stale(now, interval))
	assert.False(t, IdentityEntry{ResolvedAt: now.Add(-time.Hour).Unix()}.Stale(now, interval))
}
