package steam

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamwatch/internal/model"
	logx "steamwatch/pkg/logx"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		BaseURL:     srv.URL,
		Credentials: model.Credentials{LoginSecure: "ls", SessionID: "sid"},
	}, logx.Nop())
	require.NoError(t, err)
	return c
}

func TestFetchGroupSnapshot(t *testing.T) {
	t.Parallel()
	page := readFixture(t, "friends.html")
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/id/owner/friends/", r.URL.Path)
		ck, err := r.Cookie("steamLoginSecure")
		if assert.NoError(t, err) {
			assert.Equal(t, "ls", ck.Value)
		}
		_, _ = w.Write(page)
	}))

	snap, err := c.FetchGroupSnapshot(context.Background(), "https://steamcommunity.com/id/owner/")
	require.NoError(t, err)
	assert.Len(t, snap.Entities, 3)
	assert.True(t, snap.Contains("76561198000000001"))
}

func TestFetchErrorMapping(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/profiles/1/":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))

	_, err := c.FetchEntityStatus(context.Background(), "1")
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = c.FetchEntityStatus(context.Background(), "2")
	assert.ErrorIs(t, err, model.ErrUnavailable)
}

func TestConditionalFetchReplaysCachedBody(t *testing.T) {
	t.Parallel()
	page := readFixture(t, "profile.html")
	var hits, notModified atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(page)
	}))

	first, err := c.FetchEntityStatus(context.Background(), "76561198000000009")
	require.NoError(t, err)
	second, err := c.FetchEntityStatus(context.Background(), "76561198000000009")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "Factorio", second.Activity)
	assert.EqualValues(t, 2, hits.Load())
	assert.EqualValues(t, 1, notModified.Load())
}

func TestResolve(t *testing.T) {
	t.Parallel()
	page := readFixture(t, "profile.html")
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/id/zed", "/profiles/76561198000000009/":
			_, _ = w.Write(page)
		default:
			_, _ = w.Write([]byte("<html><body>nothing here</body></html>"))
		}
	}))

	e, err := c.Resolve(context.Background(), Normalize("zed"))
	require.NoError(t, err)
	assert.Equal(t, "76561198000000009", e.EntityID)
	assert.Equal(t, "Zed", e.DisplayName)

	e, err = c.Resolve(context.Background(), "76561198000000009")
	require.NoError(t, err)
	assert.Equal(t, "https://avatars.example/z9_full.jpg", e.AvatarRef)

	_, err = c.Resolve(context.Background(), Normalize("nobody"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}
