// Package memory implements the Memory Service (C4, spec.md §4.4): the
// stateless business-logic layer over the Store, Retrieval, Queue, and
// Embedder ports.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/raoulbia-ai/claude-recall/clock"
	"github.com/raoulbia-ai/claude-recall/embedder"
	"github.com/raoulbia-ai/claude-recall/idgen"
	"github.com/raoulbia-ai/claude-recall/internal/memerr"
	"github.com/raoulbia-ai/claude-recall/queue"
	"github.com/raoulbia-ai/claude-recall/retrieval"
	"github.com/raoulbia-ai/claude-recall/storage"
)

// EmbedQueueName is the queue a Service enqueues best-effort embedding work
// on after an ingest, so Store never blocks the caller on embedder latency.
const EmbedQueueName = "embed-memory"

// ExtractQueueName is the queue extract_preferences_from's analysis runs on,
// per spec.md Design Notes §9's fire-and-forget guidance.
const ExtractQueueName = "extract-preferences"

// In is the caller-supplied shape for Store; derived fields (scope default,
// project default, timestamp, content hash) are filled in by Service.Store.
type In struct {
	Key            string
	Type           string
	Value          json.RawMessage
	ProjectID      *string
	Scope          storage.Scope
	FilePath       *string
	RelevanceScore float64
	Metadata       json.RawMessage
}

// PreferenceIn is one entry of a store_preferences batch call.
type PreferenceIn struct {
	Key        string
	Value      string
	Confidence float64
	Reasoning  string
}

// SearchOptions narrows and bounds a Search call.
type SearchOptions struct {
	Limit     int
	ProjectID *string
	FilePath  *string
	Type      *string
}

// Service is the Memory Service (C4): stateless business logic over a
// Store, Searcher, Embedder, and Queue.
type Service struct {
	store    storage.Store
	searcher *retrieval.Searcher
	embed    embedder.Embedder
	q        *queue.Queue
	clk      clock.Clock
	ids      idgen.Generator
	logger   *slog.Logger

	defaultProjectID string
}

// Config configures a Service at construction time.
type Config struct {
	Store            storage.Store
	Embedder         embedder.Embedder
	Queue            *queue.Queue
	Clock            clock.Clock
	IDs              idgen.Generator
	Logger           *slog.Logger
	DefaultProjectID string // spec.md §4.4 "project default from env"
}

// New builds a Service. Embedder and Queue may be nil: a nil Embedder
// disables SearchHybrid (falls back to keyword+context only); a nil Queue
// disables the fire-and-forget embed/extract side effects (they run
// synchronously instead, inline, which is safe for tests).
func New(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.UUID{}
	}
	if cfg.Embedder == nil {
		cfg.Embedder = embedder.NullEmbedder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:            cfg.Store,
		searcher:         retrieval.NewSearcher(cfg.Store, cfg.Clock),
		embed:            cfg.Embedder,
		q:                cfg.Queue,
		clk:              cfg.Clock,
		ids:              cfg.IDs,
		logger:           cfg.Logger,
		defaultProjectID: cfg.DefaultProjectID,
	}
}

// Store implements spec.md §4.4's `store`: validates, fills derived fields,
// delegates to Store.Save, and best-effort schedules embedding.
func (s *Service) Store(ctx context.Context, in In) (string, error) {
	if len(in.Value) == 0 {
		return "", memerr.New("memory.Store", fmt.Errorf("value must not be empty"))
	}
	if in.Type == "" {
		in.Type = storage.TypeContext
	}
	key := in.Key
	if key == "" {
		key = s.ids.New()
	}

	scope := in.Scope
	if scope == "" {
		scope = storage.ScopeUniversal
	}
	projectID := in.ProjectID
	if projectID == nil && scope == storage.ScopeProject && s.defaultProjectID != "" {
		projectID = &s.defaultProjectID
	}

	relevance := in.RelevanceScore
	if relevance == 0 {
		relevance = 1.0
	}

	now := clock.NowMillis(s.clk)
	m := &storage.Memory{
		Key:            key,
		Type:           in.Type,
		Value:          []byte(in.Value),
		ProjectID:      projectID,
		Scope:          scope,
		FilePath:       in.FilePath,
		Timestamp:      now,
		RelevanceScore: relevance,
		IsActive:       true,
		Metadata:       []byte(in.Metadata),
	}

	savedKey, err := s.store.Save(ctx, m)
	if err != nil {
		return "", memerr.WithKey("memory.Store", key, err)
	}

	s.scheduleEmbed(ctx, savedKey, string(in.Value))
	return savedKey, nil
}

// scheduleEmbed enqueues (or, with no Queue configured, runs inline) the
// best-effort embedding step for a freshly stored memory. Errors are logged,
// never surfaced: embedding is an optimization, not a correctness
// requirement (spec.md's embedding field is optional).
func (s *Service) scheduleEmbed(ctx context.Context, key, text string) {
	if s.embed.Dim() == 0 {
		return
	}

	payload, err := json.Marshal(embedJob{Key: key, Text: text})
	if err != nil {
		s.logger.Warn("marshal embed job failed", "key", key, "error", err)
		return
	}

	if s.q == nil {
		s.runEmbed(ctx, key, text)
		return
	}
	if _, err := s.q.Enqueue(ctx, EmbedQueueName, "embed", payload, queue.EnqueueOptions{}); err != nil {
		s.logger.Warn("enqueue embed job failed", "key", key, "error", err)
	}
}

type embedJob struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// runEmbed computes and persists the embedding for a single memory. This is
// the body a queue.Processor registered on EmbedQueueName should call; it is
// exported as RunEmbedJob for that wiring.
func (s *Service) runEmbed(ctx context.Context, key, text string) {
	vec, err := s.embed.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("embed failed", "key", key, "error", err)
		return
	}
	if vec == nil {
		return
	}

	m, err := s.store.Retrieve(ctx, key)
	if err != nil {
		s.logger.Warn("retrieve for embed failed", "key", key, "error", err)
		return
	}
	m.Embedding = vec
	if _, err := s.store.Save(ctx, m); err != nil {
		s.logger.Warn("save embedding failed", "key", key, "error", err)
	}
}

// RunEmbedJob decodes and runs an embed job payload; registered as the
// queue.Processor for EmbedQueueName.
func (s *Service) RunEmbedJob(ctx context.Context, msg *queue.Message) error {
	var job embedJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return memerr.New("memory.RunEmbedJob", err)
	}
	s.runEmbed(ctx, job.Key, job.Text)
	return nil
}

// Retrieve implements spec.md §4.4's `retrieve(key)`.
func (s *Service) Retrieve(ctx context.Context, key string) (*storage.Memory, error) {
	m, err := s.store.Retrieve(ctx, key)
	if err != nil {
		return nil, memerr.WithKey("memory.Retrieve", key, err)
	}
	return m, nil
}

// Search implements spec.md §4.4's `search`: keyword search, hybrid-merged
// with vector similarity when an Embedder is configured.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) ([]retrieval.Result, error) {
	c := retrieval.Context{ProjectID: opts.ProjectID, FilePath: opts.FilePath, Type: opts.Type, Query: query}

	if s.embed.Dim() == 0 {
		return s.searcher.SearchKeyword(ctx, c, opts.Limit)
	}

	qvec, err := s.embed.Embed(ctx, query)
	if err != nil || qvec == nil {
		s.logger.Warn("query embedding unavailable, falling back to keyword search", "error", err)
		return s.searcher.SearchKeyword(ctx, c, opts.Limit)
	}
	return s.searcher.SearchHybrid(ctx, c, qvec, opts.Limit)
}

// FindRelevant implements spec.md §4.4's `find_relevant(context, limit)`:
// context-filtered ranking with no keyword component.
func (s *Service) FindRelevant(ctx context.Context, c retrieval.Context, limit int) ([]retrieval.Result, error) {
	return s.searcher.SearchContext(ctx, c, limit)
}

// StorePreferences implements spec.md §4.4's batch `store_preferences`:
// each entry becomes a `preference`-typed memory with `metadata.confidence`
// clamped to [0,1].
func (s *Service) StorePreferences(ctx context.Context, prefs []PreferenceIn) (int, error) {
	stored := 0
	for _, p := range prefs {
		confidence := p.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}

		value, err := json.Marshal(map[string]any{"key": p.Key, "value": p.Value})
		if err != nil {
			return stored, memerr.New("memory.StorePreferences", err)
		}
		metadata, err := json.Marshal(map[string]any{"confidence": confidence, "reasoning": p.Reasoning})
		if err != nil {
			return stored, memerr.New("memory.StorePreferences", err)
		}

		if _, err := s.Store(ctx, In{
			Type:     storage.TypePreference,
			Value:    value,
			Metadata: metadata,
		}); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

// GetStats implements spec.md §4.4's `get_stats`, proxying to the Store.
func (s *Service) GetStats(ctx context.Context) (storage.Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return storage.Stats{}, memerr.New("memory.GetStats", err)
	}
	return stats, nil
}

// ClearContext implements the `clear_context` tool's semantics: soft-deletes
// every active memory of typ (or every type, if typ is empty).
func (s *Service) ClearContext(ctx context.Context, typ string) (int64, error) {
	n, err := s.store.ClearByType(ctx, typ, 0)
	if err != nil {
		return 0, memerr.New("memory.ClearContext", err)
	}
	return n, nil
}
