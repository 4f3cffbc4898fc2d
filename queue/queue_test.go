package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	drv "github.com/raoulbia-ai/claude-recall/driver/sqlite"
	"github.com/raoulbia-ai/claude-recall/clock"
	sqlitestore "github.com/raoulbia-ai/claude-recall/storage/sqlite"
)

func newTestQueue(t *testing.T, clk clock.Clock) *Queue {
	t.Helper()
	db, err := drv.Open(filepath.Join(t.TempDir(), "test.db"), drv.Options{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := sqlitestore.Open(db, clk, nil); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return New(db, clk, nil)
}

func TestEnqueueDequeueMarkCompleted(t *testing.T) {
	clk := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := newTestQueue(t, clk)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "jobs", "greet", json.RawMessage(`{"name":"ada"}`), EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	msgs, err := q.Dequeue(ctx, "jobs", 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != id {
		t.Fatalf("expected to claim message %d, got %+v", id, msgs)
	}
	if msgs[0].Status != StatusProcessing {
		t.Fatalf("expected processing status, got %s", msgs[0].Status)
	}

	again, err := q.Dequeue(ctx, "jobs", 10)
	if err != nil {
		t.Fatalf("second dequeue: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no messages claimable twice, got %d", len(again))
	}

	if err := q.MarkCompleted(ctx, id); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	stats, err := q.Stats(ctx, "jobs")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Completed != 1 {
		t.Fatalf("expected 1 completed, got %+v", stats)
	}
}

func TestMarkFailedSchedulesRetryThenDeadLetters(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	q := newTestQueue(t, clk)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "jobs", "greet", json.RawMessage(`{}`), EnqueueOptions{MaxRetries: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		msgs, err := q.Dequeue(ctx, "jobs", 10)
		if err != nil {
			t.Fatalf("dequeue attempt %d: %v", attempt, err)
		}
		if len(msgs) != 1 {
			t.Fatalf("attempt %d: expected 1 claimable message, got %d", attempt, len(msgs))
		}
		if err := q.MarkFailed(ctx, id, errors.New("boom")); err != nil {
			t.Fatalf("mark failed attempt %d: %v", attempt, err)
		}
		clk.Advance(time.Hour)
	}

	stats, err := q.Stats(ctx, "jobs")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected message to be dead-lettered after exhausting retries, got %+v", stats)
	}

	var dlCount int
	row := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters WHERE original_id = ?`, id)
	if err := row.Scan(&dlCount); err != nil {
		t.Fatalf("scan dead letter count: %v", err)
	}
	if dlCount != 1 {
		t.Fatalf("expected 1 dead letter row, got %d", dlCount)
	}
}

func TestEnqueueRejectsOversizedPayload(t *testing.T) {
	clk := clock.Fixed{At: time.Now()}
	q := newTestQueue(t, clk)

	huge := make([]byte, MaxPayloadBytes+1)
	_, err := q.Enqueue(context.Background(), "jobs", "huge", json.RawMessage(huge), EnqueueOptions{})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestEnqueueDedupeWindowReturnsExistingID(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	q := newTestQueue(t, clk)
	ctx := context.Background()

	opts := EnqueueOptions{DedupeKey: "order-42", DedupeWindow: int64(time.Hour / time.Millisecond)}
	first, err := q.Enqueue(ctx, "jobs", "order", json.RawMessage(`{}`), opts)
	if err != nil {
		t.Fatalf("enqueue first: %v", err)
	}

	clk.Advance(time.Minute)
	second, err := q.Enqueue(ctx, "jobs", "order", json.RawMessage(`{}`), opts)
	if err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	if second != first {
		t.Fatalf("expected deduped enqueue to return existing id %d, got %d", first, second)
	}

	stats, err := q.Stats(ctx, "jobs")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 {
		t.Fatalf("expected only one pending row after dedupe, got %+v", stats)
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	p := DefaultRetryPolicy()
	p.JitterFraction = 0 // deterministic

	d1 := backoffDelay(p, 1)
	d2 := backoffDelay(p, 2)
	d3 := backoffDelay(p, 20) // far beyond cap

	if d1 != p.BaseDelayMillis {
		t.Fatalf("expected first retry delay to equal base, got %d", d1)
	}
	if d2 <= d1 {
		t.Fatalf("expected delay to grow: d1=%d d2=%d", d1, d2)
	}
	if d3 != p.MaxDelayMillis {
		t.Fatalf("expected delay to cap at MaxDelayMillis, got %d", d3)
	}
}
