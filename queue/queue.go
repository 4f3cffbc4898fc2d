package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/raoulbia-ai/claude-recall/clock"
	drv "github.com/raoulbia-ai/claude-recall/driver/sqlite"
)

// Sentinel errors.
var (
	// ErrPayloadTooLarge is returned by Enqueue when the serialized
	// payload exceeds MaxPayloadBytes.
	ErrPayloadTooLarge = errors.New("queue: payload exceeds maximum size")

	// ErrNotFound is returned by mark_completed/mark_failed when id does
	// not reference a processing row.
	ErrNotFound = errors.New("queue: message not found or not claimed")
)

// Queue is the durable work queue (C3) backed by the same SQLite database
// the Store uses.
type Queue struct {
	db        *drv.DB
	clk       clock.Clock
	logger    *slog.Logger
	wake      *wakeBroadcaster
	maintLock *maintLock

	mu      chan struct{} // binary semaphore guarding configs map
	configs map[string]QueueConfig
}

// New builds a Queue over db.
func New(db *drv.DB, clk clock.Clock, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Queue{
		db:        db,
		clk:       clk,
		logger:    logger,
		wake:      newWakeBroadcaster(),
		maintLock: newMaintLock(),
		mu:        make(chan struct{}, 1),
		configs:   make(map[string]QueueConfig),
	}
}

// ConfigureQueue sets the retry policy, batch size, timeout, and retention
// for queueName. Queues not explicitly configured use DefaultQueueConfig.
func (q *Queue) ConfigureQueue(queueName string, cfg QueueConfig) {
	q.mu <- struct{}{}
	q.configs[queueName] = cfg
	<-q.mu
}

func (q *Queue) configFor(queueName string) QueueConfig {
	q.mu <- struct{}{}
	cfg, ok := q.configs[queueName]
	<-q.mu
	if !ok {
		return DefaultQueueConfig()
	}
	return cfg
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Enqueue implements spec.md §4.3's `enqueue`.
func (q *Queue) Enqueue(ctx context.Context, queueName, messageType string, payload json.RawMessage, opts EnqueueOptions) (int64, error) {
	if len(payload) > MaxPayloadBytes {
		return 0, ErrPayloadTooLarge
	}

	priority := clampInt(opts.Priority, 0, 100)
	maxRetries := clampInt(opts.MaxRetries, 0, 10)
	if opts.MaxRetries == 0 {
		maxRetries = clampInt(q.configFor(queueName).DefaultMaxRetries, 0, 10)
	}
	scheduledAt := opts.ScheduledAt
	if scheduledAt == 0 {
		scheduledAt = clock.NowMillis(q.clk)
	}
	now := clock.NowMillis(q.clk)

	var correlationID *string
	if opts.CorrelationID != "" {
		correlationID = &opts.CorrelationID
	}
	var dedupeKey *string
	if opts.DedupeKey != "" && opts.DedupeWindow > 0 {
		dedupeKey = &opts.DedupeKey
	}

	var id int64
	err := q.db.WithTx(ctx, func(ctx context.Context, qr drv.Querier) error {
		if dedupeKey != nil {
			cutoff := now - opts.DedupeWindow
			var existing int64
			err := qr.QueryRowContext(ctx, `
				SELECT id FROM queue_messages
				WHERE queue_name = ? AND dedupe_key = ? AND created_at >= ?
				ORDER BY created_at DESC LIMIT 1`,
				queueName, *dedupeKey, cutoff,
			).Scan(&existing)
			if err == nil {
				id = existing
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		res, err := qr.ExecContext(ctx, `
			INSERT INTO queue_messages (queue_name, message_type, payload, priority, status,
				retry_count, max_retries, scheduled_at, created_at, correlation_id, metadata, dedupe_key)
			VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?, ?, ?)`,
			queueName, messageType, []byte(payload), priority, maxRetries, scheduledAt, now, correlationID, []byte(opts.Metadata), dedupeKey,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}

	q.wake.notify(queueName)
	return id, nil
}

// EnqueueBatch implements spec.md §4.3's `enqueue_batch`: atomic, all or
// nothing. Every item uses the same default options except for
// per-message fields carried in items.
func (q *Queue) EnqueueBatch(ctx context.Context, queueName string, items []BatchItem) ([]int64, error) {
	for _, item := range items {
		if len(item.Payload) > MaxPayloadBytes {
			return nil, ErrPayloadTooLarge
		}
	}

	now := clock.NowMillis(q.clk)
	ids := make([]int64, len(items))
	defaultMaxRetries := q.configFor(queueName).DefaultMaxRetries

	err := q.db.WithTx(ctx, func(ctx context.Context, qr drv.Querier) error {
		for i, item := range items {
			priority := clampInt(item.Opts.Priority, 0, 100)
			maxRetries := item.Opts.MaxRetries
			if maxRetries == 0 {
				maxRetries = defaultMaxRetries
			}
			maxRetries = clampInt(maxRetries, 0, 10)
			scheduledAt := item.Opts.ScheduledAt
			if scheduledAt == 0 {
				scheduledAt = now
			}
			var correlationID *string
			if item.Opts.CorrelationID != "" {
				correlationID = &item.Opts.CorrelationID
			}

			res, err := qr.ExecContext(ctx, `
				INSERT INTO queue_messages (queue_name, message_type, payload, priority, status,
					retry_count, max_retries, scheduled_at, created_at, correlation_id, metadata)
				VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?, ?)`,
				queueName, item.MessageType, []byte(item.Payload), priority, maxRetries, scheduledAt, now, correlationID, []byte(item.Opts.Metadata),
			)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	q.wake.notify(queueName)
	return ids, nil
}

// BatchItem is one entry of an EnqueueBatch call.
type BatchItem struct {
	MessageType string
	Payload     json.RawMessage
	Opts        EnqueueOptions
}

// Dequeue implements spec.md §4.3's atomic claim, always via the
// serializable-transaction fallback (see driver/sqlite's WithImmediateTx
// doc comment for why this is safe under SQLite's single-writer model).
func (q *Queue) Dequeue(ctx context.Context, queueName string, batchSize int) ([]*Message, error) {
	if batchSize <= 0 {
		batchSize = DefaultQueueConfig().BatchSize
	}
	now := clock.NowMillis(q.clk)

	var claimed []*Message
	err := q.db.WithImmediateTx(ctx, func(ctx context.Context, qr drv.Querier) error {
		rows, err := qr.QueryContext(ctx, `
			SELECT id FROM queue_messages
			WHERE queue_name = ? AND status IN ('pending','retrying')
			  AND scheduled_at <= ?
			  AND (next_retry_at IS NULL OR next_retry_at <= ?)
			ORDER BY priority DESC, created_at ASC
			LIMIT ?`, queueName, now, now, batchSize)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, id := range ids {
			if _, err := qr.ExecContext(ctx, `UPDATE queue_messages SET status = 'processing', processed_at = ? WHERE id = ?`, now, id); err != nil {
				return err
			}
			msg, err := loadMessage(ctx, qr, id)
			if err != nil {
				return err
			}
			claimed = append(claimed, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkCompleted implements spec.md §4.3's `mark_completed`.
func (q *Queue) MarkCompleted(ctx context.Context, id int64) error {
	now := clock.NowMillis(q.clk)
	res, err := q.db.ExecContext(ctx, `UPDATE queue_messages SET status = 'completed', processed_at = ? WHERE id = ? AND status = 'processing'`, now, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed implements spec.md §4.3's `mark_failed` retry policy: on
// exhausted retries, dead-letters the message; otherwise schedules a
// jittered backoff retry.
func (q *Queue) MarkFailed(ctx context.Context, id int64, cause error) error {
	now := clock.NowMillis(q.clk)
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	return q.db.WithTx(ctx, func(ctx context.Context, qr drv.Querier) error {
		msg, err := loadMessage(ctx, qr, id)
		if err != nil {
			return err
		}
		if msg.Status != StatusProcessing {
			return ErrNotFound
		}

		retryCount := msg.RetryCount + 1

		if retryCount > msg.MaxRetries {
			if _, err := qr.ExecContext(ctx, `
				UPDATE queue_messages SET status = 'failed', retry_count = ?, error_message = ?, processed_at = ? WHERE id = ?`,
				retryCount, errMsg, now, id,
			); err != nil {
				return err
			}
			_, err := qr.ExecContext(ctx, `
				INSERT INTO dead_letters (original_id, queue_name, message_type, payload, correlation_id, metadata, retry_count, error_message, failed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				msg.ID, msg.QueueName, msg.MessageType, []byte(msg.Payload), msg.CorrelationID, []byte(msg.Metadata), retryCount, errMsg, now,
			)
			return err
		}

		cfg := q.configFor(msg.QueueName)
		delay := backoffDelay(cfg.Retry, retryCount)
		nextRetryAt := now + delay

		_, err = qr.ExecContext(ctx, `
			UPDATE queue_messages SET status = 'retrying', retry_count = ?, next_retry_at = ?, error_message = ? WHERE id = ?`,
			retryCount, nextRetryAt, errMsg, id,
		)
		return err
	})
}

// Stats implements spec.md §4.3's `stats(queue_name)`.
func (q *Queue) Stats(ctx context.Context, queueName string) (Stats, error) {
	var s Stats
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_messages WHERE queue_name = ? GROUP BY status`, queueName)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return s, err
		}
		switch Status(status) {
		case StatusPending:
			s.Pending = count
		case StatusProcessing:
			s.Processing = count
		case StatusCompleted:
			s.Completed = count
		case StatusFailed:
			s.Failed = count
		case StatusRetrying:
			s.Retrying = count
		}
	}
	return s, rows.Err()
}

func loadMessage(ctx context.Context, qr drv.Querier, id int64) (*Message, error) {
	var m Message
	var status string
	row := qr.QueryRowContext(ctx, `
		SELECT id, queue_name, message_type, payload, priority, status, retry_count, max_retries,
			scheduled_at, next_retry_at, created_at, processed_at, correlation_id, metadata, error_message, dedupe_key
		FROM queue_messages WHERE id = ?`, id)
	if err := row.Scan(&m.ID, &m.QueueName, &m.MessageType, (*[]byte)(&m.Payload), &m.Priority, &status,
		&m.RetryCount, &m.MaxRetries, &m.ScheduledAt, &m.NextRetryAt, &m.CreatedAt, &m.ProcessedAt,
		&m.CorrelationID, (*[]byte)(&m.Metadata), &m.ErrorMessage, &m.DedupeKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.Status = Status(status)
	return &m, nil
}

// Ping verifies the underlying database handle is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}
