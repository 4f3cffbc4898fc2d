package embedder

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingEmbedder struct {
	calls int32
	err   error
	vec   []float32
}

func (c *countingEmbedder) Dim() int { return 3 }

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, c.err
	}
	return c.vec, nil
}

func TestNullEmbedderReportsZeroDim(t *testing.T) {
	var e Embedder = NullEmbedder{}
	if e.Dim() != 0 {
		t.Fatalf("expected NullEmbedder Dim() == 0, got %d", e.Dim())
	}
	vec, err := e.Embed(context.Background(), "x")
	if err != nil || vec != nil {
		t.Fatalf("expected NullEmbedder.Embed to be a no-op, got (%v, %v)", vec, err)
	}
}

func TestDedupedCollapsesConcurrentCallsForSameText(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1, 2, 3}}
	d := NewDeduped(inner)

	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			if _, err := d.Embed(context.Background(), "same text"); err != nil {
				t.Errorf("embed: %v", err)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	if atomic.LoadInt32(&inner.calls) == 0 {
		t.Fatal("expected at least one underlying call")
	}
	if atomic.LoadInt32(&inner.calls) == n {
		t.Fatal("expected singleflight to collapse at least some of the concurrent identical calls")
	}
}

func TestDedupedPropagatesInnerError(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("boom")}
	d := NewDeduped(inner)
	if _, err := d.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected the inner error to propagate")
	}
}

func TestCircuitBreakingOpensAfterThreshold(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("always fails")}
	cb := NewCircuitBreaking(inner, 3, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := cb.Embed(context.Background(), "x"); err == nil {
			t.Fatal("expected failure to propagate before the circuit opens")
		}
	}
	if cb.State() != "open" {
		t.Fatalf("expected circuit to be open after 3 failures, got %s", cb.State())
	}

	if _, err := cb.Embed(context.Background(), "x"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen once the circuit is open, got %v", err)
	}
	if atomic.LoadInt32(&inner.calls) != 3 {
		t.Fatalf("expected no further calls to reach inner once open, got %d calls", inner.calls)
	}
}

func TestCircuitBreakingClosesAfterSuccess(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1}}
	cb := NewCircuitBreaking(inner, 5, time.Minute)

	if _, err := cb.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if cb.State() != "closed" {
		t.Fatalf("expected circuit to remain closed after a success, got %s", cb.State())
	}
}
