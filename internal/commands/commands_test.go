package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamwatch/internal/model"
	"steamwatch/internal/monitor"
	"steamwatch/internal/storage"
	kit "steamwatch/internal/transport"
	"steamwatch/internal/transport/telegram/router"
	logx "steamwatch/pkg/logx"
)

type fakeMonitor struct {
	rules     []model.Rule
	added     []monitor.AddRequest
	addErr    error
	creds     model.Credentials
	refreshed int
	status    monitor.SchedulerStatus
}

func (f *fakeMonitor) AddRule(_ context.Context, req monitor.AddRequest) (model.Rule, error) {
	f.added = append(f.added, req)
	if f.addErr != nil {
		return model.Rule{}, f.addErr
	}
	r := model.Rule{ID: "0123456789abcdef", Target: req.Target, EntityID: "76561198000000001", DisplayName: "Zed", GameFilter: req.GameFilter, Mode: model.ModeIndividual}
	f.rules = append(f.rules, r)
	return r, nil
}

func (f *fakeMonitor) ListRules(target string) []model.Rule {
	var out []model.Rule
	for _, r := range f.rules {
		if target == "" || r.Target == target {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeMonitor) RemoveRule(_ context.Context, prefix string) (model.Rule, error) {
	for i, r := range f.rules {
		if len(prefix) <= len(r.ID) && r.ID[:len(prefix)] == prefix {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return r, nil
		}
	}
	return model.Rule{}, monitor.ErrRuleNotFound
}

func (f *fakeMonitor) UpdateCredentials(_ context.Context, c model.Credentials) error {
	f.creds = c
	return nil
}

func (f *fakeMonitor) ForceRefresh(context.Context) (int, error) {
	f.refreshed++
	return 3, nil
}

func (f *fakeMonitor) Status() monitor.SchedulerStatus { return f.status }

type fakeAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *fakeAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

type replyAdapter struct{ texts []string }

func (a *replyAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *replyAdapter) Stop(context.Context) error { return nil }
func (a *replyAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.texts = append(a.texts, text)
	return kit.MessageRef{}, nil
}
func (a *replyAdapter) SendImage(context.Context, kit.ChatTarget, kit.Image, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

type fixture struct {
	mon   *fakeMonitor
	audit *fakeAudit
	ad    *replyAdapter
	h     *Handlers
}

func newFixture() *fixture {
	f := &fixture{mon: &fakeMonitor{}, audit: &fakeAudit{}, ad: &replyAdapter{}}
	f.h = New(Deps{Monitor: f.mon, Audit: f.audit, Location: time.UTC, Log: logx.Nop()})
	f.h.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) run(t *testing.T, route string, owner bool, args ...string) error {
	t.Helper()
	for _, c := range f.h.Commands() {
		if c.Route == route {
			req := &router.Request{
				Chat:    kit.ChatTarget{ChatID: -100, ThreadID: 3},
				FromID:  7,
				Command: route,
				Usage:   c.Usage,
				Args:    args,
				Owner:   owner,
				Adapter: f.ad,
				Logger:  logx.Nop(),
			}
			return c.Handle(context.Background(), req)
		}
	}
	t.Fatalf("route %q not registered", route)
	return nil
}

func TestAddDefaultsToInvokingChat(t *testing.T) {
	t.Parallel()
	f := newFixture()
	require.NoError(t, f.run(t, "steam add", false, "zed", "Hades II"))

	require.Len(t, f.mon.added, 1)
	assert.Equal(t, monitor.AddRequest{Input: "zed", GameFilter: "Hades II", Target: "-100:3"}, f.mon.added[0])
	require.Len(t, f.ad.texts, 1)
	assert.Contains(t, f.ad.texts[0], "ID: 01234567")
	assert.Contains(t, f.ad.texts[0], "Mode: individual")

	require.Len(t, f.audit.entries, 1)
	e := f.audit.entries[0]
	assert.Equal(t, "add", e.Action)
	assert.True(t, e.OK)
	assert.Equal(t, "0123456789abcdef", e.Target)
}

func TestAddDashSkipsFilter(t *testing.T) {
	t.Parallel()
	f := newFixture()
	require.NoError(t, f.run(t, "steam add", true, "zed", "-", "42"))
	assert.Equal(t, monitor.AddRequest{Input: "zed", Target: "42"}, f.mon.added[0])
}

func TestAddOtherChatNeedsOwner(t *testing.T) {
	t.Parallel()
	f := newFixture()
	err := f.run(t, "steam add", false, "zed", "-", "42")
	require.Error(t, err)
	assert.Empty(t, f.mon.added)
	require.Len(t, f.audit.entries, 1)
	assert.False(t, f.audit.entries[0].OK)
}

func TestAddErrorsAreExplained(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		err  error
		want string
	}{
		{monitor.ErrDuplicateRule, "already watched"},
		{monitor.ErrNoGroupResource, "group_profile_url"},
		{errors.Join(model.ErrNotFound), "could not resolve"},
	} {
		f := newFixture()
		f.mon.addErr = tc.err
		err := f.run(t, "steam add", false, "zed")
		require.Error(t, err)
		assert.Contains(t, err.Error(), tc.want)
	}
}

func TestUsageReply(t *testing.T) {
	t.Parallel()
	f := newFixture()
	require.NoError(t, f.run(t, "steam add", false))
	require.Len(t, f.ad.texts, 1)
	assert.Contains(t, f.ad.texts[0], "usage: /steam add")
	assert.Empty(t, f.audit.entries)
}

func TestListShowsStatusAndPlaytime(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.mon.rules = []model.Rule{
		{ID: "aaaaaaaa1111", Target: "-100:3", DisplayName: "Zed", EntityID: "1", CurrentActivity: "Factorio", PlaytimeToday: 3900, LastResetDay: "2026-03-14"},
		{ID: "bbbbbbbb2222", Target: "-100:3", DisplayName: "Ann", EntityID: "2", AvatarRef: "a.jpg", PlaytimeToday: 50, LastResetDay: "2026-03-13", Mode: model.ModeIndividual},
		{ID: "cccccccc3333", Target: "99", DisplayName: "Other", EntityID: "3"},
	}
	require.NoError(t, f.run(t, "steam list", false))

	out := f.ad.texts[0]
	assert.Contains(t, out, "Monitoring rules (2)")
	assert.Contains(t, out, "🎮 playing 《Factorio》")
	assert.Contains(t, out, "Today: 1h 5m · ID: aaaaaaaa")
	assert.Contains(t, out, "🟢 online")
	assert.Contains(t, out, "Today: 0s · ID: bbbbbbbb", "stale day shows zero")
	assert.NotContains(t, out, "Other")
}

func TestListAllRequiresOwner(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.mon.rules = []model.Rule{{ID: "x", Target: "99"}}
	require.Error(t, f.run(t, "steam list", false, "all"))
	require.NoError(t, f.run(t, "steam list", true, "all"))
	assert.Contains(t, f.ad.texts[0], "Chat: 99")
}

func TestRemoveScopedToChatForNonOwners(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.mon.rules = []model.Rule{{ID: "abc123", Target: "99"}, {ID: "def456", Target: "-100:3"}}

	assert.ErrorIs(t, f.run(t, "steam remove", false, "abc"), monitor.ErrRuleNotFound)
	require.NoError(t, f.run(t, "steam remove", false, "def"))
	require.NoError(t, f.run(t, "steam remove", true, "abc"))
	assert.Empty(t, f.mon.rules)
	assert.Len(t, f.audit.entries, 3)
}

func TestUpdateCookiesAndForceRefresh(t *testing.T) {
	t.Parallel()
	f := newFixture()
	require.NoError(t, f.run(t, "steam update_cookies", true, "ls", "sid"))
	assert.Equal(t, model.Credentials{LoginSecure: "ls", SessionID: "sid"}, f.mon.creds)

	require.NoError(t, f.run(t, "steam force_refresh", true))
	assert.Equal(t, 1, f.mon.refreshed)
	assert.Contains(t, f.ad.texts[len(f.ad.texts)-1], "3 transitions")
}

func TestStatus(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.mon.status = monitor.SchedulerStatus{
		Rules:          map[model.Mode]int{model.ModeGroupSnapshot: 2, model.ModeIndividual: 1},
		LastGroupPass:  f.h.now().Add(-90 * time.Second),
		GroupBackoff:   true,
		IndividualTier: time.Minute,
	}
	require.NoError(t, f.run(t, "steam status", false))
	out := f.ad.texts[0]
	assert.Contains(t, out, "2 group snapshot, 1 individual")
	assert.Contains(t, out, "Group pass: 1 min ago (backing off")
	assert.Contains(t, out, "Individual pass: never (every 1m0s)")
}
