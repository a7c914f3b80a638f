package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "steamwatch/pkg/logx"
)

func completionServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tiny", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "say hi", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "tiny",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]any{"prompt_tokens": 2, "completion_tokens": 1, "total_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete(t *testing.T) {
	t.Parallel()
	srv := completionServer(t, "  hello there \n")
	c := New(Config{BaseURL: srv.URL + "/v1/", APIKey: "k", Model: "tiny"}, logx.Nop())

	out, err := c.Complete(context.Background(), "say hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
}

func TestCompleteEmptyReply(t *testing.T) {
	t.Parallel()
	srv := completionServer(t, "   ")
	c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "k", Model: "tiny"}, logx.Nop())

	_, err := c.Complete(context.Background(), "say hi")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestCompleteServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, APIKey: "k"}, logx.Nop())

	_, err := c.Complete(context.Background(), "x")
	assert.Error(t, err)
}
