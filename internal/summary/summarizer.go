package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/metrics"
	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/resilience"
	"github.com/sells-group/deal-health/pkg/anthropic"
)

// Producers of a summary.
const (
	ProducerLLM      = "llm"
	ProducerTemplate = "template"
)

const systemPrompt = `You are a sales operations analyst. Summarize the pipeline digest for a
sales leader in at most six sentences. Lead with pace against target, then
the largest risks by value, then anything that needs action this week. Use
only figures present in the digest. Do not use markdown.`

// Summary is a narrative for one digest.
type Summary struct {
	Text     string `json:"text"`
	Producer string `json:"producer"`
	// FallbackReason is set when the template was used.
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// Summarizer produces narratives. It never returns an error: every failure
// degrades to the templated fallback.
type Summarizer struct {
	client  anthropic.Client
	cfg     config.SummaryConfig
	model   string
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
}

// New creates a Summarizer. client may be nil, which always yields the
// fallback.
func New(client anthropic.Client, cfg config.SummaryConfig, modelID string, res config.ResilienceConfig, m *metrics.Metrics) *Summarizer {
	retry, breakerCfg := resilience.FromConfig(res)
	retry.ShouldRetry = shouldRetry
	retry.OnRetry = resilience.RetryLogger("anthropic", "summary")
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("summary: circuit breaker state change",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return &Summarizer{
		client:  client,
		cfg:     cfg,
		model:   modelID,
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(breakerCfg),
		metrics: m,
	}
}

// Summarize renders d. The language model call is bounded by the
// configured timeout and guarded by a circuit breaker.
func (s *Summarizer) Summarize(ctx context.Context, d Digest) Summary {
	if !s.cfg.Enabled || s.client == nil {
		return s.fallback(d, "disabled")
	}

	timeout := time.Duration(s.cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := s.generate(ctx, d)
	if err != nil {
		err = fmt.Errorf("%w: %w", model.ErrSummaryUnavailable, err)
		zap.L().Warn("summary: falling back to template", zap.Error(err))
		return s.fallback(d, err.Error())
	}
	s.metrics.Summary(ProducerLLM)
	return Summary{Text: text, Producer: ProducerLLM}
}

func (s *Summarizer) generate(ctx context.Context, d Digest) (string, error) {
	payload, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "summary: marshal digest")
	}

	maxTokens := int64(s.cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 512
	}
	temperature := 0.2
	req := anthropic.MessageRequest{
		Model:       s.model,
		MaxTokens:   maxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: "Pipeline digest:\n" + string(payload)}},
		Temperature: &temperature,
	}

	resp, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return s.client.CreateMessage(ctx, req)
		})
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(s.model, "summary")

	text := resp.Text()
	if text == "" {
		return "", eris.New("summary: empty response")
	}
	return text, nil
}

func (s *Summarizer) fallback(d Digest, reason string) Summary {
	s.metrics.Summary(ProducerTemplate)
	return Summary{Text: Fallback(d), Producer: ProducerTemplate, FallbackReason: reason}
}

func shouldRetry(err error) bool {
	if code, ok := anthropic.StatusCode(err); ok {
		return resilience.IsTransientHTTPStatus(code)
	}
	return resilience.IsTransient(err)
}
