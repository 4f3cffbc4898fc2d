package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/raoulbia-ai/claude-recall/clock"
)

// CleanupConfig controls the background maintenance sweep.
type CleanupConfig struct {
	// Interval is how often the sweep runs. Default: 1 minute.
	Interval time.Duration
}

// DefaultCleanupConfig returns the maintenance sweep defaults.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Interval: time.Minute,
	}
}

// Cleanup runs the periodic stuck-row rescue and completed-row retention
// sweep described in spec.md §4.3. Only one Cleanup per process should run
// against a given Queue; see Queue.maintLock.
type Cleanup struct {
	q      *Queue
	cfg    CleanupConfig
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleanup builds a Cleanup sweep over q.
func NewCleanup(q *Queue, cfg CleanupConfig, logger *slog.Logger) *Cleanup {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleanup{q: q, cfg: cfg, logger: logger, done: make(chan struct{})}
}

// Start launches the sweep loop in a goroutine. Cancel via Stop.
func (c *Cleanup) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Stop cancels the sweep loop.
func (c *Cleanup) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Cleanup) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.q.maintLock.tryAcquire() {
				continue
			}
			c.sweep(ctx)
			c.q.maintLock.release()
		}
	}
}

func (c *Cleanup) sweep(ctx context.Context) {
	if err := c.rescueStuck(ctx); err != nil {
		c.logger.Error("rescue stuck messages failed", "error", err)
	}
	if err := c.purgeRetained(ctx); err != nil {
		c.logger.Error("purge retained messages failed", "error", err)
	}
}

// rescueStuck resets messages that have sat "processing" longer than their
// queue's ProcessingTimeout (the owning worker presumably crashed or was
// killed mid-claim) back to retrying with an incremented retry_count and a
// freshly computed backoff, per spec.md §4.3: a rescued message re-enters
// the same at-least-once retry path mark_failed uses, rather than becoming
// immediately claimable again. A message that has exhausted its MaxRetries
// is dead-lettered through MarkFailed instead of rescued.
func (c *Cleanup) rescueStuck(ctx context.Context) error {
	now := clock.NowMillis(c.q.clk)

	rows, err := c.q.db.QueryContext(ctx, `
		SELECT id, queue_name, retry_count, max_retries, processed_at FROM queue_messages
		WHERE status = 'processing' AND processed_at IS NOT NULL`)
	if err != nil {
		return err
	}
	type stuck struct {
		id          int64
		queueName   string
		retryCount  int
		maxRetries  int
		processedAt int64
	}
	var victims []stuck
	for rows.Next() {
		var s stuck
		if err := rows.Scan(&s.id, &s.queueName, &s.retryCount, &s.maxRetries, &s.processedAt); err != nil {
			rows.Close()
			return err
		}
		victims = append(victims, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, v := range victims {
		cfg := c.q.configFor(v.queueName)
		cutoff := now - cfg.ProcessingTimeout
		if v.processedAt > cutoff {
			continue // still within its processing window
		}

		if v.retryCount+1 > v.maxRetries {
			if err := c.q.MarkFailed(ctx, v.id, errStuckExhausted); err != nil {
				c.logger.Warn("dead-letter stuck message failed", "id", v.id, "error", err)
			}
			continue
		}

		retryCount := v.retryCount + 1
		nextRetryAt := now + backoffDelay(cfg.Retry, retryCount)
		if _, err := c.q.db.ExecContext(ctx, `
			UPDATE queue_messages SET status = 'retrying', retry_count = ?, next_retry_at = ?, processed_at = NULL,
				error_message = 'rescued from stuck processing row' WHERE id = ?`,
			retryCount, nextRetryAt, v.id,
		); err != nil {
			c.logger.Warn("rescue stuck message failed", "id", v.id, "error", err)
			continue
		}
		c.logger.Info("rescued stuck message", "id", v.id, "retry_count", retryCount, "next_retry_at", nextRetryAt)
	}
	return nil
}

// purgeRetained deletes completed/failed messages older than each message's
// queue's RetentionPeriod (default 7 days). Dead-letter rows are not
// deleted.
func (c *Cleanup) purgeRetained(ctx context.Context) error {
	now := clock.NowMillis(c.q.clk)

	rows, err := c.q.db.QueryContext(ctx, `SELECT DISTINCT queue_name FROM queue_messages WHERE status IN ('completed','failed')`)
	if err != nil {
		return err
	}
	var queueNames []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		queueNames = append(queueNames, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, name := range queueNames {
		cfg := c.q.configFor(name)
		cutoff := now - cfg.RetentionPeriod
		if _, err := c.q.db.ExecContext(ctx, `
			DELETE FROM queue_messages WHERE queue_name = ? AND status IN ('completed','failed') AND processed_at IS NOT NULL AND processed_at <= ?`,
			name, cutoff,
		); err != nil {
			return err
		}
	}
	return nil
}

type stuckExhaustedError struct{}

func (stuckExhaustedError) Error() string { return "queue: message exceeded stuck-rescue attempts" }

var errStuckExhausted error = stuckExhaustedError{}
