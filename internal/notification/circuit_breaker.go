package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/observability/metrics"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets requests through.
	CircuitClosed CircuitState = iota
	// CircuitHalfOpen lets a limited number of probe requests through.
	CircuitHalfOpen
	// CircuitOpen rejects requests until the timeout elapses.
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the circuit rejects requests.
	ErrCircuitOpen = errors.NewStd("circuit breaker is open")
	// ErrTooManyProbes is returned when the half-open probe budget is spent.
	ErrTooManyProbes = errors.NewStd("circuit breaker is half-open, too many requests")
)

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	MaxFailures         int           // consecutive failures that open the circuit
	Timeout             time.Duration // open time before probing
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig returns the push forwarding defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Validate checks the configuration.
func (c CircuitBreakerConfig) Validate() error {
	if c.MaxFailures < 1 {
		return fmt.Errorf("max failures must be at least 1, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.HalfOpenMaxRequests < 1 {
		return fmt.Errorf("half-open max requests must be at least 1, got %d", c.HalfOpenMaxRequests)
	}
	return nil
}

// CircuitBreaker stops calling a failing push provider until it had time to recover.
type CircuitBreaker struct {
	mu               sync.Mutex
	config           CircuitBreakerConfig
	state            CircuitState
	failures         int
	halfOpenRequests int
	lastStateChange  time.Time
	clock            Clock
	provider         string
	metrics          *metrics.NotificationMetrics
	log              logger.Logger
}

// NewCircuitBreaker creates a closed breaker. An invalid config falls back to defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig, provider string, clock Clock, log logger.Logger, m *metrics.NotificationMetrics) *CircuitBreaker {
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = logger.Global().Module("notification")
	}
	if err := cfg.Validate(); err != nil {
		log.Warn("invalid circuit breaker config, using defaults",
			logger.String("provider", provider), logger.Error(err))
		cfg = DefaultCircuitBreakerConfig()
	}
	cb := &CircuitBreaker{
		config:          cfg,
		state:           CircuitClosed,
		lastStateChange: clock.Now(),
		clock:           clock,
		provider:        provider,
		metrics:         m,
		log:             log,
	}
	m.UpdateCircuitBreakerState(provider, int(CircuitClosed))
	return cb
}

// Call runs fn when the circuit allows it and records the outcome.
// Cancellation by the caller is not counted as a provider failure.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.before(); err != nil {
		return fmt.Errorf("circuit breaker rejected %s request: %w", cb.provider, err)
	}
	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if cb.clock.Now().Sub(cb.lastStateChange) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		cb.setState(CircuitHalfOpen)
		cb.halfOpenRequests = 1
		return nil
	case CircuitHalfOpen:
		if cb.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			return ErrTooManyProbes
		}
		cb.halfOpenRequests++
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		if cb.state == CircuitHalfOpen {
			cb.setState(CircuitClosed)
		}
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	cb.failures++
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.setState(CircuitOpen)
	case CircuitOpen:
	}
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	if cb.state == s {
		return
	}
	old := cb.state
	cb.state = s
	cb.lastStateChange = cb.clock.Now()
	if s != CircuitHalfOpen {
		cb.halfOpenRequests = 0
	}
	cb.metrics.UpdateCircuitBreakerState(cb.provider, int(s))
	cb.log.Info("circuit breaker state transition",
		logger.String("provider", cb.provider),
		logger.String("old_state", old.String()),
		logger.String("new_state", s.String()),
		logger.Int("consecutive_failures", cb.failures))
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState(CircuitClosed)
}
