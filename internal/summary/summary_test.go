package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-health/internal/config"
	"github.com/sells-group/deal-health/internal/model"
	"github.com/sells-group/deal-health/internal/resilience"
	"github.com/sells-group/deal-health/internal/risk"
	"github.com/sells-group/deal-health/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

var asOf = time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

func fastResilience() config.ResilienceConfig {
	return config.ResilienceConfig{
		MaxAttempts:      2,
		InitialBackoffMs: 1,
		MaxBackoffMs:     1,
		FailureThreshold: 2,
		ResetTimeoutSecs: 60,
	}
}

func testDigest() Digest {
	flags := []model.RiskFlags{
		{EntityID: "opp-1", Name: "Acme Expansion", Owner: "Alice", Revenue: 150_000, IsAtRisk: true, PrimaryReason: model.ReasonStalledEnterprise},
		{EntityID: "opp-2", Name: "Globex Pilot", Owner: "Ben", Revenue: 20_000, IsAtRisk: true, PrimaryReason: model.ReasonGhosted},
		{EntityID: "opp-3", Name: "Initech", Owner: "Ben", Revenue: 40_000, IsAtRisk: true, PrimaryReason: model.ReasonGhosted},
		{EntityID: "opp-4", Name: "Umbrella", Owner: "Alice", Revenue: 90_000, PrimaryReason: model.ReasonHealthy},
	}
	overview := model.PipelineOverview{
		AsOf:            asOf,
		OpenCount:       4,
		OpenValue:       300_000,
		EnterpriseCount: 1,
		StandardCount:   3,
		AtRiskCount:     3,
		AtRiskValue:     210_000,
		HealthyPct:      25,
		WonCount7d:      1,
		WonValue7d:      35_000,
	}
	pace := model.PaceMetrics{
		Status:         model.PaceBehind,
		PctOfTarget:    41.3,
		QTDWon:         412_500,
		ExpectedByNow:  500_000,
		RequiredWeekly: 61_250,
		DaysRemaining:  41,
	}
	rebook := risk.RebookSummary{Count: 2, TotalValue: 55_000, WithoutMeeting: 1}
	return BuildDigest(asOf, overview, flags, pace, rebook, 2)
}

func TestBuildDigest(t *testing.T) {
	d := testDigest()

	require.Len(t, d.TopAtRisk, 2)
	assert.Equal(t, "opp-1", d.TopAtRisk[0].EntityID)
	assert.Equal(t, "opp-3", d.TopAtRisk[1].EntityID)

	require.Len(t, d.RiskCounts, 2)
	assert.Equal(t, ReasonCount{Reason: model.ReasonGhosted, Count: 2, Value: 60_000}, d.RiskCounts[0])
	assert.Equal(t, model.ReasonStalledEnterprise, d.RiskCounts[1].Reason)
}

func TestFallback_Deterministic(t *testing.T) {
	d := testDigest()
	text := Fallback(d)

	assert.Equal(t, text, Fallback(d))
	assert.Contains(t, text, "Pipeline digest for 2025-05-20")
	assert.Contains(t, text, "Open pipeline: $300,000 across 4 deals (1 enterprise, 3 standard).")
	assert.Contains(t, text, "  - Ghosted: 2 ($60,000)")
	assert.Contains(t, text, "Pace: BEHIND at 41.3% of target")
	assert.Contains(t, text, "Required: $61,250 per week over the remaining 41 days.")
	assert.Contains(t, text, "  - Acme Expansion (Alice): $150,000, Stalled (enterprise)")
	assert.Contains(t, text, "Pending rebook: 2 deals worth $55,000, 1 without an upcoming meeting.")
}

func TestFallback_EmptyDigest(t *testing.T) {
	text := Fallback(Digest{AsOf: asOf})
	assert.Contains(t, text, "Open pipeline: $0 across 0 deals")
	assert.NotContains(t, text, "Top at-risk deals")
	assert.NotContains(t, text, "Pending rebook")
}

func TestSummarize_Disabled(t *testing.T) {
	client := new(mockClient)
	s := New(client, config.SummaryConfig{Enabled: false}, "claude-haiku-4-5-20251001", fastResilience(), nil)

	out := s.Summarize(context.Background(), testDigest())
	assert.Equal(t, ProducerTemplate, out.Producer)
	assert.Equal(t, "disabled", out.FallbackReason)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestSummarize_NilClient(t *testing.T) {
	s := New(nil, config.SummaryConfig{Enabled: true}, "m", fastResilience(), nil)
	out := s.Summarize(context.Background(), testDigest())
	assert.Equal(t, ProducerTemplate, out.Producer)
}

func TestSummarize_LLM(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.MaxTokens == 300 && len(req.Messages) == 1 && req.System != "" && req.Temperature != nil
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "Pace is behind target."}},
	}, nil).Once()

	s := New(client, config.SummaryConfig{Enabled: true, MaxTokens: 300}, "claude-haiku-4-5-20251001", fastResilience(), nil)
	out := s.Summarize(context.Background(), testDigest())

	assert.Equal(t, ProducerLLM, out.Producer)
	assert.Equal(t, "Pace is behind target.", out.Text)
	client.AssertExpectations(t)
}

func TestSummarize_RetriesTransientThenFallsBack(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Twice()

	s := New(client, config.SummaryConfig{Enabled: true}, "m", fastResilience(), nil)
	d := testDigest()
	out := s.Summarize(context.Background(), d)

	assert.Equal(t, ProducerTemplate, out.Producer)
	assert.Equal(t, Fallback(d), out.Text)
	assert.Contains(t, out.FallbackReason, model.ErrSummaryUnavailable.Error())
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestSummarize_EmptyResponseFallsBack(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(&anthropic.MessageResponse{}, nil).Once()

	s := New(client, config.SummaryConfig{Enabled: true}, "m", fastResilience(), nil)
	out := s.Summarize(context.Background(), testDigest())
	assert.Equal(t, ProducerTemplate, out.Producer)
	assert.Contains(t, out.FallbackReason, "empty response")
}

func TestSummarize_TimeoutFallsBack(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	s := New(client, config.SummaryConfig{Enabled: true, TimeoutSecs: 1}, "m", fastResilience(), nil)

	start := time.Now()
	out := s.Summarize(context.Background(), testDigest())
	assert.Equal(t, ProducerTemplate, out.Producer)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSummarize_BreakerOpens(t *testing.T) {
	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("invalid api key"))

	s := New(client, config.SummaryConfig{Enabled: true}, "m", fastResilience(), nil)
	for range 3 {
		out := s.Summarize(context.Background(), testDigest())
		assert.Equal(t, ProducerTemplate, out.Producer)
	}

	// Permanent errors are not retried; the third call is short-circuited.
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
	assert.Equal(t, resilience.CircuitOpen, s.breaker.State())
}
