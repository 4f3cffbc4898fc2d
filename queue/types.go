// Package queue implements the durable, prioritized, at-least-once work
// queue (C3, spec.md §4.3): atomic claim, jittered exponential backoff,
// dead-lettering, and a worker pool of registered processors.
package queue

import (
	"context"
	"encoding/json"
)

// Status is a queue message's lifecycle state, spec.md §4.3's state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// MaxPayloadBytes is spec.md §3.2's "Payload ≤ 1 MiB when serialized".
const MaxPayloadBytes = 1 << 20 // 1,048,576

// Message is a single unit of work, spec.md §3.2.
type Message struct {
	ID             int64
	QueueName      string
	MessageType    string
	Payload        json.RawMessage
	Priority       int
	Status         Status
	RetryCount     int
	MaxRetries     int
	ScheduledAt    int64 // millisecond epoch
	NextRetryAt    *int64
	CreatedAt      int64
	ProcessedAt    *int64
	CorrelationID  *string
	Metadata       json.RawMessage
	ErrorMessage   *string
	DedupeKey      *string
}

// EnqueueOptions configures a single Enqueue call. Zero values take the
// defaults spec.md §3.2/§4.3 describe.
type EnqueueOptions struct {
	Priority      int    // clamped to [0,100]; default 0
	MaxRetries    int    // default 3, clamped to [0,10]
	ScheduledAt   int64  // millisecond epoch; default now
	CorrelationID string
	Metadata      json.RawMessage

	// DedupeKey, if non-empty, opts into the request-deduplication window
	// (SPEC_FULL §10): a second Enqueue with the same (QueueName,
	// DedupeKey) within DedupeWindow returns the existing message's id
	// instead of inserting a new row.
	DedupeKey    string
	DedupeWindow int64 // milliseconds; 0 disables the window even if DedupeKey is set
}

// DeadLetter is an append-only copy of a message that exhausted its
// retries, spec.md §3.3.
type DeadLetter struct {
	ID            int64
	OriginalID    int64
	QueueName     string
	MessageType   string
	Payload       json.RawMessage
	CorrelationID *string
	Metadata      json.RawMessage
	RetryCount    int
	ErrorMessage  string
	FailedAt      int64
}

// Stats is the result of Queue.Stats(queueName).
type Stats struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
	Retrying   int64
}

// RetryPolicy controls mark_failed's backoff computation, spec.md §4.3.
type RetryPolicy struct {
	BaseDelayMillis        int64
	MaxDelayMillis         int64
	BackoffMultiplier      float64
	JitterFraction         float64 // fraction of the unjittered delay, e.g. 0.3
}

// DefaultRetryPolicy matches spec.md §4.3's stated defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelayMillis:   1000,
		MaxDelayMillis:    5 * 60 * 1000,
		BackoffMultiplier: 2,
		JitterFraction:    0.3,
	}
}

// QueueConfig is the per-queue-name configuration set by ConfigureQueue.
type QueueConfig struct {
	BatchSize         int // default 10
	PollInterval      int64 // milliseconds; default 1000
	ProcessingTimeout int64 // milliseconds; default 30_000
	RetentionPeriod   int64 // milliseconds; default 7 days
	Retry             RetryPolicy

	// DefaultMaxRetries is applied to an Enqueue call that leaves
	// EnqueueOptions.MaxRetries at its zero value, spec.md §6.3's
	// QUEUE_DEFAULT_MAX_RETRIES.
	DefaultMaxRetries int
}

// DefaultQueueConfig matches spec.md §4.3's stated defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		BatchSize:         10,
		PollInterval:      1000,
		ProcessingTimeout: 30_000,
		RetentionPeriod:   7 * 24 * 60 * 60 * 1000,
		Retry:             DefaultRetryPolicy(),
		DefaultMaxRetries: 3,
	}
}

// Processor handles claimed messages for a registered queue name.
// Returning an error causes the queue to call mark_failed on the message's
// behalf; a nil return marks it completed. The processor must not retain
// msg.Payload past the call.
type Processor func(ctx context.Context, msg *Message) error
