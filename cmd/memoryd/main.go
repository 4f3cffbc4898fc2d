// Command memoryd runs the local memory engine as a line-delimited
// JSON-RPC daemon over stdin/stdout (spec.md §6.1), grounded on the
// teacher's examples/advanced/02_observability/main.go construction
// order: structured logger first, then storage, then the
// register-everything-before-Start sequence, signal-driven shutdown
// last.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raoulbia-ai/claude-recall/clock"
	"github.com/raoulbia-ai/claude-recall/config"
	drv "github.com/raoulbia-ai/claude-recall/driver/sqlite"
	"github.com/raoulbia-ai/claude-recall/embedder"
	"github.com/raoulbia-ai/claude-recall/idgen"
	"github.com/raoulbia-ai/claude-recall/memory"
	"github.com/raoulbia-ai/claude-recall/queue"
	"github.com/raoulbia-ai/claude-recall/rpc"
	sqlitestore "github.com/raoulbia-ai/claude-recall/storage/sqlite"
	"github.com/raoulbia-ai/claude-recall/tool"
	"github.com/raoulbia-ai/claude-recall/tool/builtin"
)

// shutdownGrace bounds how long the queue worker pool gets to drain once
// Serve has returned (spec.md §5). Serve itself is not bounded by it.
const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "memoryd:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	db, err := drv.Open(cfg.DBPath(), drv.Options{})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	clk := clock.System{}
	ids := idgen.UUID{}

	store, err := sqlitestore.Open(db, clk, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	q := queue.New(db, clk, logger)
	q.ConfigureQueue(memory.EmbedQueueName, defaultEmbedQueueConfig(cfg))
	q.ConfigureQueue(memory.ExtractQueueName, defaultEmbedQueueConfig(cfg))

	embed := buildEmbedder()

	svc := memory.New(memory.Config{
		Store:    store,
		Embedder: embed,
		Queue:    q,
		Clock:    clk,
		IDs:      ids,
		Logger:   logger,
	})

	manager := queue.NewManager(q, queue.DefaultCleanupConfig(), logger)
	manager.RegisterProcessor(memory.EmbedQueueName, queue.DefaultWorkerConfig(memory.EmbedQueueName), svc.RunEmbedJob)
	manager.RegisterProcessor(memory.ExtractQueueName, queue.DefaultWorkerConfig(memory.ExtractQueueName), svc.RunExtractJob)

	registry := tool.NewRegistry()
	if err := registry.RegisterAll(builtin.All(svc)); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	server := rpc.NewServer(rpc.ServerConfig{
		Registry:   registry,
		Resources:  rpc.NewResourceProvider(svc),
		Prompts:    rpc.NewPromptCatalog(),
		Clock:      clk,
		IDs:        ids,
		Logger:     logger,
		RateWindow: time.Duration(cfg.RateWindowMillis) * time.Millisecond,
		RateMax:    cfg.RateMax,
	})

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start queue workers: %w", err)
	}
	server.StartJanitor(ctx, time.Minute)
	startAutoCompact(ctx, store, cfg, logger)

	logger.Info("memoryd starting", "data_dir", cfg.DataDir)

	serveErr := server.Serve(ctx, os.Stdin, os.Stdout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error("queue shutdown failed", "error", err)
	}

	if serveErr != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}

// buildEmbedder wires the embedder capability port (C6). No concrete
// vector model ships in this repo (SPEC_FULL §8); NullEmbedder is wrapped
// in the request-collapsing and circuit-breaking decorators anyway so a
// future real embedder can be swapped in at this single call site without
// touching memory.Service.
func buildEmbedder() embedder.Embedder {
	var base embedder.Embedder = embedder.NullEmbedder{}
	deduped := embedder.NewDeduped(base)
	return embedder.NewCircuitBreaking(deduped, 5, 30*time.Second)
}

// defaultEmbedQueueConfig applies this daemon's configured retry default
// (QUEUE_DEFAULT_MAX_RETRIES) while keeping the queue package's other
// defaults (batch size, poll interval, retention, backoff policy).
func defaultEmbedQueueConfig(cfg config.Config) queue.QueueConfig {
	qc := queue.DefaultQueueConfig()
	qc.DefaultMaxRetries = cfg.QueueDefaultMaxRetries
	return qc
}

// startAutoCompact launches the background sweep that enforces spec.md
// §6.3's MAX_MEMORIES / COMPACT_SIZE_BYTES soft caps by running a
// non-dry-run Store.Compact whenever either threshold is crossed.
func startAutoCompact(ctx context.Context, store *sqlitestore.Store, cfg config.Config, logger *slog.Logger) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := store.Stats(ctx)
				if err != nil {
					logger.Warn("auto-compact stats failed", "error", err)
					continue
				}
				if stats.Total < int64(cfg.MaxMemories) && stats.SizeBytes < cfg.CompactSizeBytes {
					continue
				}
				result, err := store.Compact(ctx, false)
				if err != nil {
					logger.Warn("auto-compact failed", "error", err)
					continue
				}
				logger.Info("auto-compact ran", "removed", result.Removed, "deduplicated", result.Deduplicated)
			}
		}
	}()
}
