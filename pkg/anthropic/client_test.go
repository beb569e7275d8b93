package anthropic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

func TestCreateMessage_MockClient(t *testing.T) {
	m := new(MockClient)
	req := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 512,
		Messages:  []Message{{Role: "user", Content: "Summarize the pipeline."}},
	}
	m.On("CreateMessage", mock.Anything, req).Return(&MessageResponse{
		ID:      "msg_1",
		Content: []ContentBlock{{Type: "text", Text: "Pipeline is healthy."}},
	}, nil)

	var c Client = m
	resp, err := c.CreateMessage(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Pipeline is healthy.", resp.Text())
	m.AssertExpectations(t)
}

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "Three deals "},
		{Type: "tool_use"},
		{Type: "text", Text: "slipped."},
	}}
	assert.Equal(t, "Three deals slipped.", resp.Text())
	assert.Empty(t, (&MessageResponse{}).Text())
}

func TestNewParams(t *testing.T) {
	temp := 0.2
	params := newParams(MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 256,
		System:    "You are a sales operations analyst.",
		Messages: []Message{
			{Role: "user", Content: "Hello"},
			{Role: "assistant", Content: "Hi there"},
		},
		Temperature: &temp,
	})

	require.Len(t, params.Messages, 2)
	assert.Equal(t, "user", string(params.Messages[0].Role))
	assert.Equal(t, "assistant", string(params.Messages[1].Role))
	require.Len(t, params.System, 1)
	assert.Equal(t, "You are a sales operations analyst.", params.System[0].Text)
	assert.Equal(t, int64(256), params.MaxTokens)
}

func TestNewParams_NoSystem(t *testing.T) {
	params := newParams(MessageRequest{Messages: []Message{{Role: "user", Content: "Hi"}}})
	assert.Empty(t, params.System)
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		name  string
		model string
		usage TokenUsage
		want  float64
	}{
		{"haiku", "claude-haiku-4-5-20251001", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 4.80},
		{"sonnet", "claude-sonnet-4-5-20250929", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 18.00},
		{"with cache", "claude-haiku-4-5-20251001", TokenUsage{
			InputTokens:              500_000,
			OutputTokens:             100_000,
			CacheCreationInputTokens: 200_000,
			CacheReadInputTokens:     300_000,
		}, 1.024},
		{"unknown model", "unknown-model", TokenUsage{InputTokens: 1_000_000}, 0},
		{"zero tokens", "claude-haiku-4-5-20251001", TokenUsage{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.usage.EstimateCost(tt.model), 0.001)
		})
	}
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 100, OutputTokens: 50}.LogCost("claude-haiku-4-5-20251001", "summary")
	})
	assert.NotPanics(t, func() {
		TokenUsage{}.LogCost("unknown-model", "")
	})
}
