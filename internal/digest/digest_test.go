package digest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamwatch/internal/model"
	kit "steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

var now = time.Date(2026, 3, 14, 23, 55, 0, 0, time.UTC)

type staticRules []model.Rule

func (s staticRules) ListRules(string) []model.Rule { return s }

type captured struct {
	target string
	text   string
	path   string
}

type captureDispatcher struct{ got []captured }

func (c *captureDispatcher) Dispatch(_ context.Context, target string, p kit.Payload, path string) error {
	c.got = append(c.got, captured{target, p.Text, path})
	return nil
}

func TestBuild(t *testing.T) {
	t.Parallel()
	rules := []model.Rule{
		{Target: "1", DisplayName: "Zed", PlaytimeToday: 600, LastResetDay: "2026-03-14"},
		{Target: "1", DisplayName: "Ann", PlaytimeToday: 30, LastResetDay: "2026-03-14",
			CurrentActivity: "Chess", ActivityStartedAt: now.Add(-time.Hour).Unix()},
		{Target: "2", DisplayName: "Idle", PlaytimeToday: 0, LastResetDay: "2026-03-14"},
		{Target: "3", DisplayName: "Stale", PlaytimeToday: 900, LastResetDay: "2026-03-13"},
	}
	got := Build(rules, now)

	require.Len(t, got, 1, "idle and stale-day targets are skipped")
	msg := got["1"]
	assert.Contains(t, msg, "Playtime today (2026-03-14)")
	assert.Contains(t, msg, "• Ann: 1h 0m (still playing 《Chess》)")
	assert.Contains(t, msg, "• Zed: 10 min")
	assert.Less(t, strings.Index(msg, "Ann"), strings.Index(msg, "Zed"), "longest first")
	assert.Contains(t, msg, "Total: 1h 10m")
}

func TestBuildSessionFromYesterdayCountsFromMidnight(t *testing.T) {
	t.Parallel()
	rules := []model.Rule{{Target: "1", DisplayName: "Owl", LastResetDay: "2026-03-13",
		CurrentActivity: "Dota 2", ActivityStartedAt: now.Add(-48 * time.Hour).Unix()}}
	got := Build(rules, now)
	assert.Contains(t, got["1"], "Owl: 23h 55m")
}

func TestRunOnceDispatchesPerTarget(t *testing.T) {
	t.Parallel()
	out := &captureDispatcher{}
	s := New(Config{Enabled: true, Location: time.UTC}, staticRules{
		{Target: "2", DisplayName: "B", PlaytimeToday: 60, LastResetDay: "2026-03-14"},
		{Target: "1", DisplayName: "A", PlaytimeToday: 60, LastResetDay: "2026-03-14"},
	}, out, logx.Nop())
	s.now = func() time.Time { return now }

	require.NoError(t, s.RunOnce(context.Background()))
	require.Len(t, out.got, 2)
	assert.Equal(t, "1", out.got[0].target)
	assert.Equal(t, PathDigest, out.got[0].path)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Schedule: "nope"}, staticRules{}, &captureDispatcher{}, logx.Nop())
	assert.Error(t, s.Start(context.Background()))
	assert.Error(t, Validate("nope"))
	assert.NoError(t, Validate(DefaultSchedule))
}

func TestApplyReschedules(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, staticRules{}, &captureDispatcher{}, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	assert.Nil(t, s.c)

	require.NoError(t, s.Apply(Config{Enabled: true, Schedule: "0 9 * * *", Location: time.UTC}))
	assert.NotNil(t, s.c)

	require.NoError(t, s.Apply(Config{Enabled: false}))
	assert.Nil(t, s.c)
	s.Stop(context.Background())
}
