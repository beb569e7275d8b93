// Package resilience wraps calls to external collaborators (the snapshot
// store and the narrative summarizer) with retries and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	// CircuitHalfOpen admits a single trial call after the reset timeout.
	CircuitHalfOpen
)

var circuitStateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit. Default: 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open. Default: 30s.
	ResetTimeout time.Duration
	// OnStateChange is called with the lock held on every transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the breaker defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker guards one collaborator.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker. Zero config values
// take the defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	return &CircuitBreaker{cfg: cfg, nowFunc: time.Now}
}

// Execute runs fn through the breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal runs fn through the breaker and returns its value. A caller
// giving up (context canceled) does not count as a collaborator failure.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !cb.admit() {
		return zero, ErrCircuitOpen
	}

	val, err := fn(ctx)
	cb.record(err == nil || errors.Is(err, context.Canceled))
	if err != nil {
		return zero, err
	}
	return val, nil
}

// State returns the current state. An open circuit past its reset timeout
// reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.cooled() {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) cooled() bool {
	return cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return true
	}
	if !cb.cooled() {
		return false
	}
	cb.moveTo(CircuitHalfOpen)
	return true
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if ok {
		cb.failures = 0
		if cb.state == CircuitHalfOpen {
			cb.moveTo(CircuitClosed)
		}
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.openedAt = cb.nowFunc()
		if cb.state != CircuitOpen {
			cb.moveTo(CircuitOpen)
		}
	}
}

func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
