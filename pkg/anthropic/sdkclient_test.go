package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient creates an sdkClient pointing at a local test server.
func newTestClient(baseURL string) *sdkClient {
	return NewClient("test-key", option.WithBaseURL(baseURL)).(*sdkClient)
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":   "msg_test_001",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": "Pipeline value is up 4% week over week."},
			},
			"model":       "claude-sonnet-4-5-20250929",
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":                10,
				"output_tokens":               5,
				"cache_creation_input_tokens": 0,
				"cache_read_input_tokens":     0,
			},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "Pipeline value is up 4% week over week.", resp.Content[0].Text)
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
	assert.Equal(t, int64(5), resp.Usage.OutputTokens)
}

func TestSDKClient_CreateMessage_WithSystemAndTemp(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":   "msg_sys",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": "Acknowledged"},
			},
			"model":       "claude-sonnet-4-5-20250929",
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":                50,
				"output_tokens":               3,
				"cache_creation_input_tokens": 5000,
				"cache_read_input_tokens":     0,
			},
		})
	}))
	defer ts.Close()

	temp := 0.5
	client := newTestClient(ts.URL)
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 128,
		System:      "You summarize sales pipeline digests",
		Messages:    []Message{{Role: "user", Content: "Ack"}},
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_sys", resp.ID)
	assert.Equal(t, int64(5000), resp.Usage.CacheCreationInputTokens)
}

func TestSDKClient_CreateMessage_Error(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type": "error",
			"error": map[string]any{
				"type":    "api_error",
				"message": "Internal server error",
			},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
	assert.Equal(t, int32(1), calls.Load(), "sdk retries must be disabled")

	code, ok := StatusCode(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestStatusCode_NonAPIError(t *testing.T) {
	_, ok := StatusCode(context.DeadlineExceeded)
	assert.False(t, ok)
}
