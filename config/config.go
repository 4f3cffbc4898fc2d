// Package config loads this daemon's environment-variable inputs
// (spec.md §6.3) into a validated Config, grounded on the teacher's
// Config/internalConfig split (config.go, options.go): a small public
// struct of required/overridable fields plus a Validate method, rather
// than a functional-options builder, since every field here has a
// well-defined default and none require constructor-time composition.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// Defaults, spec.md §6.3.
const (
	DefaultMaxMemories            = 10_000
	DefaultCompactSizeBytes       = 10 << 20 // 10 MiB
	DefaultRateWindowMillis       = 60_000
	DefaultRateMax                = 100
	DefaultQueueDefaultMaxRetries = 3
)

// Config is the fully-resolved set of environment inputs this daemon
// reads at startup. Every field has a default; Load never fails for a
// missing variable, only for one present but malformed.
type Config struct {
	// DataDir holds memory.db (and its WAL files). Default ~/.claude-recall.
	DataDir string

	// MaxMemories is the soft cap that triggers compaction.
	MaxMemories int

	// CompactSizeBytes is the on-disk size threshold that triggers
	// compaction independently of MaxMemories.
	CompactSizeBytes int64

	// RateWindowMillis and RateMax configure the per-session fixed-window
	// rate limiter (spec.md §3.5/§4.5).
	RateWindowMillis int64
	RateMax          int

	// EmbeddingDim is the dimension the configured embedder declares.
	// Persisted embedding blobs must match this; 0 means no embedder is
	// configured (NullEmbedder).
	EmbeddingDim int

	// LogLevel is one of debug|info|warn|error.
	LogLevel string

	// QueueDefaultMaxRetries is the default max-retries applied to a
	// queue message when EnqueueOptions.MaxRetries is left at 0. Validate
	// rejects a value outside [0,10].
	QueueDefaultMaxRetries int
}

// DBPath is the full path to the SQLite database file, spec.md §6.2.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "memory.db")
}

// SlogLevel converts LogLevel to the equivalent slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads the recognized environment variables (spec.md §6.3),
// applying defaults for anything unset and returning an error for
// anything set but invalid.
func Load() (Config, error) {
	cfg := Config{
		MaxMemories:            DefaultMaxMemories,
		CompactSizeBytes:       DefaultCompactSizeBytes,
		RateWindowMillis:       DefaultRateWindowMillis,
		RateMax:                DefaultRateMax,
		LogLevel:               "info",
		QueueDefaultMaxRetries: DefaultQueueDefaultMaxRetries,
	}

	dataDir, err := defaultDataDir()
	if err != nil {
		return Config{}, err
	}
	cfg.DataDir = dataDir

	if v, ok := os.LookupEnv("DATA_DIR"); ok && v != "" {
		cfg.DataDir = v
	}

	if err := intEnv("MAX_MEMORIES", &cfg.MaxMemories); err != nil {
		return Config{}, err
	}
	if err := int64Env("COMPACT_SIZE_BYTES", &cfg.CompactSizeBytes); err != nil {
		return Config{}, err
	}
	if err := int64Env("RATE_WINDOW_MS", &cfg.RateWindowMillis); err != nil {
		return Config{}, err
	}
	if err := intEnv("RATE_MAX", &cfg.RateMax); err != nil {
		return Config{}, err
	}
	if err := intEnv("EMBEDDING_DIM", &cfg.EmbeddingDim); err != nil {
		return Config{}, err
	}
	if err := intEnv("QUEUE_DEFAULT_MAX_RETRIES", &cfg.QueueDefaultMaxRetries); err != nil {
		return Config{}, err
	}

	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants Load's individual parsers can't express
// (ranges spanning a field, cross-field relationships).
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: LOG_LEVEL must be one of debug|info|warn|error, got %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.QueueDefaultMaxRetries < 0 || c.QueueDefaultMaxRetries > 10 {
		return fmt.Errorf("%w: QUEUE_DEFAULT_MAX_RETRIES must be in [0,10], got %d", ErrInvalidConfig, c.QueueDefaultMaxRetries)
	}
	if c.MaxMemories <= 0 {
		return fmt.Errorf("%w: MAX_MEMORIES must be positive, got %d", ErrInvalidConfig, c.MaxMemories)
	}
	if c.CompactSizeBytes <= 0 {
		return fmt.Errorf("%w: COMPACT_SIZE_BYTES must be positive, got %d", ErrInvalidConfig, c.CompactSizeBytes)
	}
	if c.RateWindowMillis <= 0 {
		return fmt.Errorf("%w: RATE_WINDOW_MS must be positive, got %d", ErrInvalidConfig, c.RateWindowMillis)
	}
	if c.RateMax <= 0 {
		return fmt.Errorf("%w: RATE_MAX must be positive, got %d", ErrInvalidConfig, c.RateMax)
	}
	if c.EmbeddingDim < 0 {
		return fmt.Errorf("%w: EMBEDDING_DIM must not be negative, got %d", ErrInvalidConfig, c.EmbeddingDim)
	}
	return nil
}

func defaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve default data directory: %w", err)
	}
	return filepath.Join(home, ".claude-recall"), nil
}

func intEnv(name string, dst *int) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidConfig, name, v)
	}
	*dst = n
	return nil
}

func int64Env(name string, dst *int64) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidConfig, name, v)
	}
	*dst = n
	return nil
}
