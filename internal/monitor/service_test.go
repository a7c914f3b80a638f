package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamwatch/internal/model"
	logx "steamwatch/pkg/logx"
)

type credSink struct{ got []model.Credentials }

func (c *credSink) SetCredentials(cr model.Credentials) { c.got = append(c.got, cr) }

func newTestService(h *harness) (*Service, *credSink) {
	sink := &credSink{}
	svc := NewService(ServiceDeps{
		Engine:      h.sched.engine,
		Rules:       h.rules,
		Identities:  h.idents,
		Scheduler:   h.sched,
		Store:       h.store,
		Credentials: sink,
		Log:         logx.Nop(),
	})
	n := 0
	svc.newID = func() string {
		n++
		return []string{"aaaa1111", "aaaa2222", "bbbb3333"}[n-1]
	}
	return svc, sink
}

func TestAddRuleModes(t *testing.T) {
	h := newHarness(t)
	svc, _ := newTestService(h)
	ctx := context.Background()
	h.resolver.entries["https://steamcommunity.com/id/alice"] = model.IdentityEntry{EntityID: "e1", DisplayName: "Alice"}
	h.resolver.entries["https://steamcommunity.com/id/bob"] = model.IdentityEntry{EntityID: "e2"}
	h.sched.snapshot.Store(&model.Snapshot{Entities: map[string]model.Status{"e1": {}}})

	r, err := svc.AddRule(ctx, AddRequest{Input: "https://steamcommunity.com/id/alice/", GameFilter: "Chess", Target: "100"})
	require.NoError(t, err)
	assert.Equal(t, model.ModeGroupSnapshot, r.Mode)
	assert.Equal(t, "Chess", r.GameFilter)
	assert.Equal(t, "2026-03-14", r.LastResetDay)

	r2, err := svc.AddRule(ctx, AddRequest{Input: "https://steamcommunity.com/id/bob", Target: "100"})
	require.NoError(t, err)
	assert.Equal(t, model.ModeIndividual, r2.Mode)
	assert.Equal(t, "user (e2)", r2.DisplayName)

	_, err = svc.AddRule(ctx, AddRequest{Input: "https://steamcommunity.com/id/alice", Target: "100"})
	assert.ErrorIs(t, err, ErrDuplicateRule)

	// identity came from the cache the second time
	assert.Len(t, h.resolver.calls, 2)

	saved, _ := h.store.LoadRules(ctx)
	assert.Len(t, saved, 2)
	ids, _ := h.store.LoadIdentities(ctx)
	assert.Len(t, ids, 2)
}

func TestAddRuleResolutionFailure(t *testing.T) {
	h := newHarness(t)
	svc, _ := newTestService(h)

	_, err := svc.AddRule(context.Background(), AddRequest{Input: "ghost", Target: "100"})
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Zero(t, h.rules.Len())
}

func TestAddRuleGroupWithoutResource(t *testing.T) {
	h := newHarness(t)
	svc, _ := newTestService(h)
	cfg := h.sched.Config()
	cfg.GroupResource = ""
	h.sched.SetConfig(cfg)
	h.resolver.entries["x"] = model.IdentityEntry{EntityID: "e1"}
	h.sched.snapshot.Store(&model.Snapshot{Entities: map[string]model.Status{"e1": {}}})

	_, err := svc.AddRule(context.Background(), AddRequest{Input: "x", Target: "100"})
	assert.ErrorIs(t, err, ErrNoGroupResource)
}

func TestAddRuleFetchesSnapshotOnFreshInstall(t *testing.T) {
	h := newHarness(t)
	svc, _ := newTestService(h)
	ctx := context.Background()
	h.resolver.entries["alice"] = model.IdentityEntry{EntityID: "e1", DisplayName: "Alice"}
	h.resolver.entries["bob"] = model.IdentityEntry{EntityID: "e2"}
	h.provider.snapshot = &model.Snapshot{Entities: map[string]model.Status{"e1": {EntityID: "e1", Activity: "Chess"}}}

	// no group rules yet, so the loop never fetches on its own
	for i := 0; i < 3; i++ {
		res, err := h.sched.RunGroupPass(ctx)
		require.NoError(t, err)
		assert.True(t, res.Skipped)
	}
	require.Nil(t, h.sched.LatestSnapshot())

	r, err := svc.AddRule(ctx, AddRequest{Input: "alice", Target: "100"})
	require.NoError(t, err)
	assert.Equal(t, model.ModeGroupSnapshot, r.Mode)
	assert.Equal(t, 1, h.provider.groupHits)
	require.NotNil(t, h.sched.LatestSnapshot())

	// the stored snapshot is reused
	r2, err := svc.AddRule(ctx, AddRequest{Input: "bob", Target: "100"})
	require.NoError(t, err)
	assert.Equal(t, model.ModeIndividual, r2.Mode)
	assert.Equal(t, 1, h.provider.groupHits)

	res, err := h.sched.RunGroupPass(ctx)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Rules)
}

func TestAddRuleSnapshotFetchFailureFallsBackToIndividual(t *testing.T) {
	h := newHarness(t)
	svc, _ := newTestService(h)
	h.resolver.entries["alice"] = model.IdentityEntry{EntityID: "e1"}
	h.provider.groupErr = model.ErrUnavailable

	r, err := svc.AddRule(context.Background(), AddRequest{Input: "alice", Target: "100"})
	require.NoError(t, err)
	assert.Equal(t, model.ModeIndividual, r.Mode)
	assert.Equal(t, 1, h.provider.groupHits)
	assert.Nil(t, h.sched.LatestSnapshot())
}

func TestRemoveRuleByPrefix(t *testing.T) {
	h := newHarness(t, individualRule("aaaa1111", "e1"), individualRule("aaaa2222", "e2"), individualRule("bbbb3333", "e3"))
	svc, _ := newTestService(h)
	ctx := context.Background()

	_, err := svc.RemoveRule(ctx, "aaaa")
	assert.ErrorIs(t, err, ErrAmbiguousPrefix)
	_, err = svc.RemoveRule(ctx, "cccc")
	assert.ErrorIs(t, err, ErrRuleNotFound)

	r, err := svc.RemoveRule(ctx, "bbbb")
	require.NoError(t, err)
	assert.Equal(t, "bbbb3333", r.ID)
	assert.Equal(t, 2, h.rules.Len())
}

func TestRemovedRuleStaysRemovedAfterCommit(t *testing.T) {
	h := newHarness(t, individualRule("r1", "e1"), individualRule("r2", "e2"))
	ctx := context.Background()
	pass := h.rules.Snapshot(model.ModeIndividual)

	_, err := h.rules.Remove(ctx, "r1")
	require.NoError(t, err)
	pass[0].CurrentActivity = "A"
	pass[1].CurrentActivity = "B"
	require.NoError(t, h.rules.Commit(ctx, pass))

	rules := h.rules.List("")
	require.Len(t, rules, 1)
	assert.Equal(t, "B", rules[0].CurrentActivity)
}

func TestUpdateCredentials(t *testing.T) {
	h := newHarness(t)
	svc, sink := newTestService(h)
	ctx := context.Background()

	require.Error(t, svc.UpdateCredentials(ctx, model.Credentials{LoginSecure: "x"}))
	require.NoError(t, svc.UpdateCredentials(ctx, model.Credentials{LoginSecure: " x ", SessionID: "y"}))

	require.Len(t, sink.got, 1)
	assert.Equal(t, "x", sink.got[0].LoginSecure)
	stored, _ := h.store.LoadCredentials(ctx)
	assert.Equal(t, "y", stored.SessionID)
}

func TestLoadAppliesStoredCredentials(t *testing.T) {
	h := newHarness(t, individualRule("r1", "e1"))
	svc, sink := newTestService(h)
	ctx := context.Background()
	require.NoError(t, h.store.SaveCredentials(ctx, model.Credentials{LoginSecure: "a", SessionID: "b"}))

	require.NoError(t, svc.Load(ctx))
	require.Len(t, sink.got, 1)
	assert.Equal(t, 1, h.rules.Len())
}
