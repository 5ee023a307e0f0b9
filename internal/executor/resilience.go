package executor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff for agent start failures.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerRegistry manages per-agent-command circuit breakers so a
// persistently failing agent binary stops being invoked for a while.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Get returns the breaker for the given command, creating it on first use.
func (r *BreakerRegistry) Get(command string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[command]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        command,
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// User cancellation is not an agent failure.
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})
	r.breakers[command] = cb
	return cb
}

// ResilientExecutor wraps an Executor with start-time retry and a circuit
// breaker. Failures after the process starts flow through the event stream
// and are not retried here.
type ResilientExecutor struct {
	inner    Executor
	command  string
	breakers *BreakerRegistry
	retry    RetryConfig
}

// NewResilientExecutor wraps inner. command keys the circuit breaker.
func NewResilientExecutor(inner Executor, command string, breakers *BreakerRegistry, retry RetryConfig) *ResilientExecutor {
	return &ResilientExecutor{inner: inner, command: command, breakers: breakers, retry: retry}
}

// Start starts the agent with exponential backoff retry and circuit
// breaker protection around the spawn.
func (e *ResilientExecutor) Start(ctx context.Context, req Request) (Handle, error) {
	cb := e.breakers.Get(e.command)
	var handle Handle

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return e.inner.Start(ctx, req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		handle = result.(Handle)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retry.InitialInterval
	policy.MaxInterval = e.retry.MaxInterval
	policy.MaxElapsedTime = e.retry.MaxElapsedTime
	policy.Multiplier = e.retry.Multiplier
	policy.RandomizationFactor = e.retry.RandomizationFactor

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return handle, nil
}
