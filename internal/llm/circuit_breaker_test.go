package llm_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/scrypster/metacluster/internal/llm"
)

func newTestBreaker(timeout time.Duration) *llm.CircuitBreaker {
	return llm.NewCircuitBreakerWithConfig(llm.CircuitBreakerConfig{
		Name:                 "test",
		MaxFailures:          3,
		Timeout:              timeout,
		HalfOpenMaxSuccesses: 2,
	})
}

// TestCircuitBreakerClosed verifies that requests pass through in the closed state.
func TestCircuitBreakerClosed(t *testing.T) {
	cb := llm.NewCircuitBreaker("test", zerolog.Nop())

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "success", nil
	})
	if err != nil {
		t.Fatalf("Expected successful execution in closed state, got error: %v", err)
	}
	if result != "success" {
		t.Fatalf("Expected result 'success', got: %v", result)
	}
	if state := cb.State(); state != "closed" {
		t.Fatalf("Expected circuit to be closed, got: %s", state)
	}
}

// TestCircuitBreakerOpen verifies that consecutive transport failures trip the breaker.
func TestCircuitBreakerOpen(t *testing.T) {
	cb := newTestBreaker(time.Minute)
	ctx := context.Background()

	failFunc := func() (interface{}, error) {
		return nil, fmt.Errorf("dial: %w", llm.ErrTransport)
	}

	for i := 0; i < 3; i++ {
		if _, err := cb.Execute(ctx, failFunc); err == nil {
			t.Fatalf("Expected error on attempt %d", i+1)
		}
	}

	if state := cb.State(); state != "open" {
		t.Fatalf("Expected circuit to be open after 3 failures, got: %s", state)
	}

	_, err := cb.Execute(ctx, failFunc)
	if !errors.Is(err, llm.ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got: %v", err)
	}
}

// TestCircuitBreakerIgnoresMalformedOutput verifies that schema failures do not trip the breaker.
func TestCircuitBreakerIgnoresMalformedOutput(t *testing.T) {
	cb := newTestBreaker(time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := cb.Execute(ctx, func() (interface{}, error) {
			return nil, fmt.Errorf("decode: %w", llm.ErrMalformedOutput)
		})
		if !errors.Is(err, llm.ErrMalformedOutput) {
			t.Fatalf("Expected ErrMalformedOutput on attempt %d, got: %v", i+1, err)
		}
	}

	if state := cb.State(); state != "closed" {
		t.Fatalf("Expected circuit to stay closed, got: %s", state)
	}
}

// TestCircuitBreakerHalfOpen verifies recovery after the open timeout elapses.
func TestCircuitBreakerHalfOpen(t *testing.T) {
	cb := newTestBreaker(100 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(ctx, func() (interface{}, error) {
			return nil, errors.New("operation failed")
		})
	}
	if state := cb.State(); state != "open" {
		t.Fatalf("Expected circuit to be open, got: %s", state)
	}

	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for cb.State() != "half-open" {
		select {
		case <-deadline:
			t.Fatal("Timeout waiting for circuit to transition to half-open")
		case <-ticker.C:
		}
	}

	for i := 0; i < 2; i++ {
		if _, err := cb.Execute(ctx, func() (interface{}, error) { return "ok", nil }); err != nil {
			t.Fatalf("Expected success in half-open state, got: %v", err)
		}
	}
	if state := cb.State(); state != "closed" {
		t.Fatalf("Expected circuit to close after successes, got: %s", state)
	}
}

// TestCircuitBreakerCancelledContext verifies that a cancelled context short-circuits.
func TestCircuitBreakerCancelledContext(t *testing.T) {
	cb := newTestBreaker(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := cb.Execute(ctx, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
	if called {
		t.Fatal("Expected fn not to be called with a cancelled context")
	}
}

func TestCircuitBreakerMetrics(t *testing.T) {
	cb := newTestBreaker(time.Minute)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, func() (interface{}, error) { return 1, nil })
	_, _ = cb.Execute(ctx, func() (interface{}, error) { return nil, llm.ErrTransport })

	m := cb.Metrics()
	if m.TotalRequests != 2 || m.TotalSuccesses != 1 || m.TotalFailures != 1 {
		t.Fatalf("Unexpected metrics: %+v", m)
	}
	if m.ConsecutiveFailures != 1 {
		t.Fatalf("Expected 1 consecutive failure, got %d", m.ConsecutiveFailures)
	}
}
