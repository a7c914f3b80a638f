package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamwatch/internal/model"
	logx "steamwatch/pkg/logx"
)

func openTempFile(t *testing.T) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "steamwatch.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func TestFileMissingDocumentsLoadEmpty(t *testing.T) {
	st, _ := openTempFile(t)
	ctx := context.Background()

	rules, err := st.LoadRules(ctx)
	require.NoError(t, err)
	assert.NotNil(t, rules)
	assert.Empty(t, rules)

	ids, err := st.LoadIdentities(ctx)
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)

	c, err := st.LoadCredentials(ctx)
	require.NoError(t, err)
	assert.True(t, c.Empty())
}

func TestFileRoundTrip(t *testing.T) {
	st, _ := openTempFile(t)
	ctx := context.Background()

	in := []model.Rule{{
		ID:              "r1",
		Target:          "-100:3",
		EntityID:        "76561198000000001",
		Mode:            model.ModeIndividual,
		CurrentActivity: "Dota 2",
		History:         []model.HistoryEntry{{At: 10, Kind: model.EventStart, Activity: "Dota 2"}},
	}}
	require.NoError(t, st.SaveRules(ctx, in))
	out, err := st.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "r1", out[0].ID)
	assert.Equal(t, model.ModeIndividual, out[0].Mode)
	assert.Len(t, out[0].History, 1)

	ids := map[string]model.IdentityEntry{"https://steamcommunity.com/id/a": {EntityID: "1", ResolvedAt: 5}}
	require.NoError(t, st.SaveIdentities(ctx, ids))
	gotIDs, err := st.LoadIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", gotIDs["https://steamcommunity.com/id/a"].EntityID)

	require.NoError(t, st.SaveCredentials(ctx, model.Credentials{LoginSecure: "a", SessionID: "b"}))
	c, err := st.LoadCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Credentials{LoginSecure: "a", SessionID: "b"}, c)
}

func TestFileMalformedDocumentMovedAside(t *testing.T) {
	st, path := openTempFile(t)
	rulesPath := strings.TrimSuffix(path, ".json") + ".rules.json"
	require.NoError(t, os.WriteFile(rulesPath, []byte("{not json"), 0o600))

	rules, err := st.LoadRules(context.Background())
	require.NoError(t, err, "a malformed document loads empty")
	assert.Empty(t, rules)
	assert.FileExists(t, rulesPath+".corrupt")
}

func TestFileAuditAppends(t *testing.T) {
	st, path := openTempFile(t)
	ctx := context.Background()
	for _, action := range []string{"steam.add", "steam.remove"} {
		require.NoError(t, st.AppendAudit(ctx, AuditEntry{ActorID: 1, ChatID: 2, Action: action, OK: true}))
	}
	b, err := os.ReadFile(strings.TrimSuffix(path, ".json") + ".audit.jsonl")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(b), "\n"))
}

func TestFileClosedRejectsWrites(t *testing.T) {
	st, _ := openTempFile(t)
	_ = st.Close()
	assert.ErrorIs(t, st.SaveRules(context.Background(), nil), ErrClosed)
}

func TestMemoryCopiesOnSaveAndLoad(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rules := []model.Rule{{ID: "a", History: []model.HistoryEntry{{At: 1}}}}
	require.NoError(t, m.SaveRules(ctx, rules))
	rules[0].History[0].At = 99

	got, err := m.LoadRules(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got[0].History[0].At, "memory store shares history with caller")
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
}
