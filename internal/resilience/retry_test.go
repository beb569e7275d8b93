package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-health/internal/config"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestDo_RetriesTransient(t *testing.T) {
	var attempts int
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		attempts++
		if attempts < 3 {
			return NewTransientError(errors.New("503"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	var attempts int
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		attempts++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	var retried []int
	cfg := fastRetry()
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		return 0, NewTransientError(errors.New("timeout"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoVal_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var attempts int
	_, err := DoVal(ctx, fastRetry(), func(_ context.Context) (int, error) {
		attempts++
		cancel()
		return 0, NewTransientError(errors.New("timeout"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestComputeBackoff_Capped(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(1, cfg))
	assert.Equal(t, 300*time.Millisecond, computeBackoff(5, cfg))
}

func TestFromConfig(t *testing.T) {
	retry, breaker := FromConfig(config.ResilienceConfig{
		MaxAttempts:      5,
		InitialBackoffMs: 100,
		FailureThreshold: 2,
		ResetTimeoutSecs: 10,
	})
	assert.Equal(t, 5, retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, retry.InitialBackoff)
	assert.Equal(t, DefaultRetryConfig().MaxBackoff, retry.MaxBackoff)
	assert.Equal(t, 2, breaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, breaker.ResetTimeout)
}
