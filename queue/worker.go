package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// WorkerConfig controls a Worker's polling and concurrency behavior. Zero
// values take DefaultWorkerConfig's defaults.
type WorkerConfig struct {
	// QueueName is the queue this worker claims from.
	QueueName string

	// Concurrency limits how many messages this worker processes at once.
	// Default: 4.
	Concurrency int

	// PollInterval is how often to poll when no wake notification arrives.
	// Default: 1s.
	PollInterval time.Duration

	// BatchSize is how many messages to claim per Dequeue call. Default: 10.
	BatchSize int

	// OnError is called whenever a processor returns an error, after
	// MarkFailed has already recorded it.
	OnError func(msg *Message, err error)
}

// DefaultWorkerConfig returns the worker pool defaults.
func DefaultWorkerConfig(queueName string) WorkerConfig {
	return WorkerConfig{
		QueueName:    queueName,
		Concurrency:  4,
		PollInterval: time.Second,
		BatchSize:    10,
	}
}

// Worker is a polling pool of goroutines that claims messages for a single
// queue name and dispatches them to a registered Processor.
type Worker struct {
	q         *Queue
	cfg       WorkerConfig
	processor Processor
	logger    *slog.Logger

	sem     chan struct{}
	started atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewWorker builds a Worker over q, claiming cfg.QueueName and dispatching
// claimed messages to processor.
func NewWorker(q *Queue, cfg WorkerConfig, processor Processor, logger *slog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		q:         q,
		cfg:       cfg,
		processor: processor,
		logger:    logger,
		sem:       make(chan struct{}, cfg.Concurrency),
	}
}

// Start launches the poll loop. It returns immediately; use Stop to drain
// in-flight work and shut down.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("queue: worker for %q already started", w.cfg.QueueName)
	}

	var groupCtx context.Context
	ctx, w.cancel = context.WithCancel(ctx)
	w.group, groupCtx = errgroup.WithContext(ctx)

	wake, unsubscribe := w.q.wake.subscribe(w.cfg.QueueName)
	w.group.Go(func() error {
		defer unsubscribe()
		w.pollLoop(groupCtx, wake)
		return nil
	})

	return nil
}

// Stop cancels the poll loop and blocks until in-flight processor calls
// finish, or ctx is done first.
func (w *Worker) Stop(ctx context.Context) error {
	if !w.started.Load() {
		return nil
	}
	w.cancel()

	finished := make(chan error, 1)
	go func() { finished <- w.group.Wait() }()

	select {
	case err := <-finished:
		w.started.Store(false)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) pollLoop(ctx context.Context, wake <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.claimAndDispatch(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

func (w *Worker) claimAndDispatch(ctx context.Context) {
	messages, err := w.q.Dequeue(ctx, w.cfg.QueueName, w.cfg.BatchSize)
	if err != nil {
		w.logger.Warn("dequeue failed", "queue", w.cfg.QueueName, "error", err)
		return
	}

	for _, msg := range messages {
		msg := msg
		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		w.group.Go(func() error {
			defer func() { <-w.sem }()
			w.process(ctx, msg)
			return nil
		})
	}
}

func (w *Worker) process(ctx context.Context, msg *Message) {
	err := w.processor(ctx, msg)
	if err != nil {
		if markErr := w.q.MarkFailed(ctx, msg.ID, err); markErr != nil {
			w.logger.Error("mark_failed failed", "id", msg.ID, "error", markErr)
		}
		if w.cfg.OnError != nil {
			w.cfg.OnError(msg, err)
		}
		return
	}
	if markErr := w.q.MarkCompleted(ctx, msg.ID); markErr != nil {
		w.logger.Error("mark_completed failed", "id", msg.ID, "error", markErr)
	}
}
