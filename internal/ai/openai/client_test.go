package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"knowledge-assistant/pkg/aiinterface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(&aiinterface.ClientConfig{
		APIKey:     "sk-test",
		BaseURL:    srv.URL + "/v1",
		Model:      "gpt-3.5-turbo",
		MaxRetries: retries,
		Timeout:    5,
	})
	require.NoError(t, err)
	c.backoff = time.Millisecond
	return c
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-3.5-turbo",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13},
	})
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": "boom", "type": "server_error"},
	})
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(&aiinterface.ClientConfig{})
	var clientErr *aiinterface.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, aiinterface.ErrorTypeAuth, clientErr.Type)
}

func TestChatCompletion_SendsMessages(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, "Cats are mammals.")
	}, 0)

	resp, err := c.ChatCompletion(context.Background(), &aiinterface.ChatCompletionRequest{
		Messages: []aiinterface.Message{
			{Role: aiinterface.RoleSystem, Content: "sys"},
			{Role: aiinterface.RoleUser, Content: "What are cats?"},
		},
		Temperature: 0.5,
		MaxTokens:   300,
	})
	require.NoError(t, err)
	assert.Equal(t, "Cats are mammals.", resp.Content)
	assert.Equal(t, 13, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-3.5-turbo", got.Model)
	assert.Equal(t, 300, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "What are cats?", got.Messages[1].Content)
}

func TestChatCompletion_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeError(w, http.StatusServiceUnavailable)
			return
		}
		writeCompletion(w, "ok")
	}, 3)

	resp, err := c.ChatCompletion(context.Background(), &aiinterface.ChatCompletionRequest{
		Messages: []aiinterface.Message{{Role: aiinterface.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestChatCompletion_DoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeError(w, http.StatusUnauthorized)
	}, 3)

	_, err := c.ChatCompletion(context.Background(), &aiinterface.ChatCompletionRequest{
		Messages: []aiinterface.Message{{Role: aiinterface.RoleUser, Content: "hi"}},
	})
	var clientErr *aiinterface.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, aiinterface.ErrorTypeAuth, clientErr.Type)
	assert.Equal(t, http.StatusUnauthorized, clientErr.StatusCode)
	assert.False(t, clientErr.IsRetryable())
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatCompletion_EmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	}, 0)

	_, err := c.ChatCompletion(context.Background(), &aiinterface.ChatCompletionRequest{
		Messages: []aiinterface.Message{{Role: aiinterface.RoleUser, Content: "hi"}},
	})
	var clientErr *aiinterface.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, aiinterface.ErrorTypeServerError, clientErr.Type)
}
