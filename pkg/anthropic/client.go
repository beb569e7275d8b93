// Package anthropic wraps the Anthropic Messages API behind a small
// interface so narrative summaries can be mocked in tests.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client defines the Anthropic API operations used by the summarizer.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is a single-shot completion request.
type MessageRequest struct {
	Model     string
	MaxTokens int64
	// System is the system prompt. Empty sends none.
	System      string
	Messages    []Message
	Temperature *float64
}

// Message is one conversational turn. Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// MessageResponse is the subset of the API response the summarizer reads.
type MessageResponse struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason string
	Usage      TokenUsage
}

// ContentBlock is one block of response content.
type ContentBlock struct {
	Type string
	Text string
}

// Text concatenates the text blocks of the response.
func (r *MessageResponse) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// pricing is USD per million tokens: {input, output}.
var pricing = map[string][2]float64{
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
}

// EstimateCost returns the estimated USD cost of u on model, or 0 for
// unpriced models. Cache writes bill at 1.25x input and reads at 0.1x.
func (u TokenUsage) EstimateCost(model string) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	in := float64(u.InputTokens) + 1.25*float64(u.CacheCreationInputTokens) + 0.1*float64(u.CacheReadInputTokens)
	return (in*p[0] + float64(u.OutputTokens)*p[1]) / 1e6
}

// LogCost logs token usage and estimated cost.
func (u TokenUsage) LogCost(model, operation string) {
	zap.L().Info("anthropic usage",
		zap.String("model", model),
		zap.String("operation", operation),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a Client backed by anthropic-sdk-go. SDK retries are
// disabled; the summarizer retries through the resilience package.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &sdkClient{client: sdk.NewClient(opts...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	msg, err := c.client.Messages.New(ctx, newParams(req))
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}
	return fromSDKMessage(msg), nil
}

// StatusCode returns the HTTP status of an API error anywhere in err's chain.
func StatusCode(err error) (int, bool) {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, true
	}
	return 0, false
}

func newParams(req MessageRequest) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  make([]sdk.MessageParam, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, sdk.NewUserMessage(block))
		}
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	return params
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	resp := &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Content:    make([]ContentBlock, 0, len(msg.Content)),
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
	for _, b := range msg.Content {
		resp.Content = append(resp.Content, ContentBlock{Type: b.Type, Text: b.Text})
	}
	return resp
}
