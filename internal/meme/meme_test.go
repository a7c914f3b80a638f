package meme

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "steamwatch/pkg/logx"
)

// onlyMethod restricts h to one HTTP method; the local toolchain's ServeMux
// predates method-qualified patterns.
func onlyMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func TestMakeRunsAllSteps(t *testing.T) {
	t.Parallel()
	var steps []string
	mux := http.NewServeMux()
	mux.HandleFunc("/image/upload", onlyMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		steps = append(steps, "upload")
		var req uploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, uploadRequest{Type: "url", URL: "https://a/avatar_full.jpg"}, req)
		_, _ = w.Write([]byte(`{"image_id":"av1"}`))
	}))
	mux.HandleFunc("/memes/steam_message", onlyMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		steps = append(steps, "generate")
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []imageRef{{Name: "avatar", ID: "av1"}}, req.Images)
		assert.Equal(t, []string{"Zed is playing Factorio"}, req.Texts)
		_, _ = w.Write([]byte(`{"image_id":"m1"}`))
	}))
	mux.HandleFunc("/image/m1", onlyMethod(http.MethodGet, func(w http.ResponseWriter, _ *http.Request) {
		steps = append(steps, "download")
		_, _ = w.Write([]byte("GIF89a"))
	}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL + "/"}, logx.Nop())
	img, err := c.Make(context.Background(), "https://a/avatar_full.jpg", "Zed is playing Factorio")
	require.NoError(t, err)
	assert.Equal(t, []byte("GIF89a"), img)
	assert.Equal(t, []string{"upload", "generate", "download"}, steps)
}

func TestMakeMissingImageID(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{BaseURL: srv.URL}, logx.Nop()).Make(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrNoImageID)
}

func TestMakeStepTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, logx.Nop())
	start := time.Now()
	_, err := c.Make(context.Background(), "a", "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
