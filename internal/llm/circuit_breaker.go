package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/models"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"    // normal operation
	CircuitOpen     CircuitState = "open"      // failing, rejecting requests
	CircuitHalfOpen CircuitState = "half_open" // probing with limited requests
)

// ErrCircuitOpen is returned when the circuit rejects a request outright.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures the per-provider circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold    int           // consecutive failures to open
	SuccessThreshold    int           // successes in half-open to close
	Timeout             time.Duration // open duration before half-open
	HalfOpenMaxRequests int           // probes allowed while half-open
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// CircuitBreaker wraps a Provider with the circuit breaker pattern. An open
// circuit converts invocations into transport rejections without touching the
// upstream.
type CircuitBreaker struct {
	provider Provider
	config   CircuitBreakerConfig
	logger   *logrus.Logger

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenRequests     int
	lastFailure          time.Time
	lastStateChange      time.Time
	totalRequests        int64
	totalFailures        int64
}

// NewCircuitBreaker wraps a provider with circuit breaker logic.
func NewCircuitBreaker(provider Provider, config CircuitBreakerConfig, logger *logrus.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		provider:        provider,
		config:          config,
		logger:          logger,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

func (cb *CircuitBreaker) Role() string         { return cb.provider.Role() }
func (cb *CircuitBreaker) Model() string        { return cb.provider.Model() }
func (cb *CircuitBreaker) ProviderName() string { return cb.provider.ProviderName() }

// Invoke runs the provider call when the circuit allows it.
func (cb *CircuitBreaker) Invoke(ctx context.Context, prompt models.Prompt) (*models.ProviderResponse, error) {
	if err := cb.beforeRequest(); err != nil {
		return nil, &ProviderError{Role: cb.provider.Role(), Kind: models.RejectTransport, Err: err}
	}

	resp, err := cb.provider.Invoke(ctx, prompt)
	cb.afterRequest(err)
	return resp, err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.config.Timeout {
			cb.transitionTo(CircuitHalfOpen)
			cb.halfOpenRequests = 1
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenRequests++
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		// Cancellation is the caller's decision, not an upstream failure.
		if RejectKindOf(err) == models.RejectCancelled {
			return
		}
		cb.totalFailures++
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
		cb.lastFailure = time.Now()

		switch cb.state {
		case CircuitClosed:
			if cb.consecutiveFailures >= cb.config.FailureThreshold {
				cb.transitionTo(CircuitOpen)
			}
		case CircuitHalfOpen:
			cb.transitionTo(CircuitOpen)
		}
		return
	}

	cb.consecutiveSuccesses++
	cb.consecutiveFailures = 0
	if cb.state == CircuitHalfOpen && cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
		cb.transitionTo(CircuitClosed)
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()
	if newState == CircuitClosed {
		cb.consecutiveFailures = 0
	} else if newState == CircuitHalfOpen {
		cb.halfOpenRequests = 0
		cb.consecutiveSuccesses = 0
	}
	if cb.logger != nil {
		cb.logger.WithFields(logrus.Fields{
			"role": cb.provider.Role(),
			"from": oldState,
			"to":   newState,
		}).Warn("provider circuit state change")
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats is a snapshot of the breaker's counters.
type Stats struct {
	Role            string       `json:"role"`
	State           CircuitState `json:"state"`
	TotalRequests   int64        `json:"total_requests"`
	TotalFailures   int64        `json:"total_failures"`
	LastStateChange time.Time    `json:"last_state_change"`
}

// GetStats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Role:            cb.provider.Role(),
		State:           cb.state,
		TotalRequests:   cb.totalRequests,
		TotalFailures:   cb.totalFailures,
		LastStateChange: cb.lastStateChange,
	}
}
