package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

// flakyExecutor fails the first n Start calls, then succeeds.
type flakyExecutor struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

type nopHandle struct{}

func (nopHandle) Events() <-chan Event { return nil }
func (nopHandle) Stop() error          { return nil }
func (nopHandle) PID() int             { return 0 }

func (f *flakyExecutor) Start(ctx context.Context, req Request) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return nopHandle{}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      time.Second,
		Multiplier:          1.5,
		RandomizationFactor: 0,
	}
}

func TestResilientStartRetriesUntilSuccess(t *testing.T) {
	inner := &flakyExecutor{failures: 2, err: errors.New("spawn failed")}
	e := NewResilientExecutor(inner, "claude", NewBreakerRegistry(), fastRetry())

	h, err := e.Start(context.Background(), Request{Description: "work"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h == nil {
		t.Fatal("nil handle on success")
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestResilientStartHonorsCancel(t *testing.T) {
	inner := &flakyExecutor{failures: 1000, err: errors.New("spawn failed")}
	e := NewResilientExecutor(inner, "claude", NewBreakerRegistry(), fastRetry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Start(ctx, Request{}); err == nil {
		t.Fatal("Start succeeded with cancelled context")
	}
	// At most one attempt slips through before the cancellation is seen.
	if inner.calls > 1 {
		t.Errorf("calls = %d after cancel", inner.calls)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	reg := NewBreakerRegistry()
	cb := reg.Get("claude")

	boom := errors.New("spawn failed")
	for i := 0; i < 5; i++ {
		cb.Execute(func() (interface{}, error) { return nil, boom })
	}
	if got := cb.State(); got != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", got)
	}

	// An open breaker turns Start into an immediate permanent failure.
	inner := &flakyExecutor{err: boom}
	e := NewResilientExecutor(inner, "claude", reg, fastRetry())
	_, err := e.Start(context.Background(), Request{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want ErrOpenState", err)
	}
	if inner.calls != 0 {
		t.Errorf("inner invoked %d times through open breaker", inner.calls)
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	reg := NewBreakerRegistry()
	cb := reg.Get("claude")

	for i := 0; i < 10; i++ {
		cb.Execute(func() (interface{}, error) { return nil, context.Canceled })
	}
	if got := cb.State(); got != gobreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed after cancellations", got)
	}

	// Breakers are per command.
	if reg.Get("codex") == cb {
		t.Error("commands share a breaker")
	}
}
