package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamwatch/internal/model"
	logx "steamwatch/pkg/logx"
)

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steamwatch.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	rules := []model.Rule{{ID: "b", EntityID: "2"}, {ID: "a", EntityID: "1"}}
	require.NoError(t, st.SaveRules(ctx, rules))
	// a second save replaces the collection
	require.NoError(t, st.SaveRules(ctx, rules[:1]))
	got, err := st.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)

	require.NoError(t, st.SaveIdentities(ctx, map[string]model.IdentityEntry{"k": {EntityID: "1"}}))
	ids, err := st.LoadIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", ids["k"].EntityID)

	c, err := st.LoadCredentials(ctx)
	require.NoError(t, err)
	assert.True(t, c.Empty())
	require.NoError(t, st.SaveCredentials(ctx, model.Credentials{LoginSecure: "x"}))
	require.NoError(t, st.SaveCredentials(ctx, model.Credentials{LoginSecure: "y"}))
	c, err = st.LoadCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "y", c.LoginSecure)

	assert.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "steam.add", OK: true}))
}
