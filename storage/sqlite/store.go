// Package sqlite implements storage.Store over the driver/sqlite handle.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/raoulbia-ai/claude-recall/clock"
	drv "github.com/raoulbia-ai/claude-recall/driver/sqlite"
	"github.com/raoulbia-ai/claude-recall/storage"
)

// Store implements storage.Store against a single SQLite database handle.
type Store struct {
	db     *drv.DB
	clock  clock.Clock
	logger *slog.Logger
}

// Open creates the schema (if absent), runs the column backfill, and
// returns a ready-to-use Store. clk is used to stamp LastAccessed on
// Retrieve; pass clock.System{} in production, a clock.Mock in tests.
func Open(db *drv.DB, clk clock.Clock, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s := &Store{db: db, clock: clk, logger: logger}
	if err := s.backfillContentHash(context.Background()); err != nil {
		return nil, fmt.Errorf("backfill content_hash: %w", err)
	}
	return s, nil
}

// backfillContentHash implements spec.md §4.1's migration step: if rows
// exist with a null content_hash (database created before this column was
// populated on every write, or bulk-imported), compute and store it.
// Idempotent: a fully-backfilled database does zero work here.
func (s *Store) backfillContentHash(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, type, value FROM memories WHERE content_hash IS NULL`)
	if err != nil {
		return err
	}
	defer rows.Close()

	type pending struct {
		key, typ string
		value    []byte
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.key, &p.typ, &p.value); err != nil {
			return err
		}
		todo = append(todo, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range todo {
		hash, err := contentHash(p.typ, p.value)
		if err != nil {
			s.logger.Warn("skipping unhashable row during backfill", "key", p.key, "error", err)
			continue
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE memories SET content_hash = ? WHERE key = ?`, hash, p.key); err != nil {
			return err
		}
	}
	if len(todo) > 0 {
		s.logger.Info("backfilled content_hash", "rows", len(todo))
	}
	return nil
}

// Save implements the dedup algorithm in spec.md §4.1.
func (s *Store) Save(ctx context.Context, m *storage.Memory) (string, error) {
	if m.Key == "" {
		return "", storage.ErrEmptyKey
	}

	hash, err := contentHash(m.Type, m.Value)
	if err != nil {
		return "", fmt.Errorf("compute content hash: %w", err)
	}
	m.ContentHash = hash

	var resultKey string
	err = s.db.WithTx(ctx, func(ctx context.Context, q drv.Querier) error {
		var dupKey string
		err := q.QueryRowContext(ctx,
			`SELECT key FROM memories WHERE content_hash = ? AND key != ? AND is_active = 1`,
			hash, m.Key,
		).Scan(&dupKey)

		switch {
		case err == nil:
			// Dedup touch: bump timestamp and access_count on the surviving row.
			_, execErr := q.ExecContext(ctx,
				`UPDATE memories SET timestamp = ?, access_count = access_count + 1 WHERE key = ?`,
				m.Timestamp, dupKey,
			)
			if execErr != nil {
				return execErr
			}
			resultKey = dupKey
			return nil

		case errors.Is(err, sql.ErrNoRows):
			embedding := encodeEmbedding(m.Embedding)
			_, execErr := q.ExecContext(ctx, `
				INSERT INTO memories (key, type, value, content_hash, project_id, scope, file_path,
					timestamp, last_accessed, access_count, relevance_score, is_active, metadata, embedding)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET
					type = excluded.type,
					value = excluded.value,
					content_hash = excluded.content_hash,
					project_id = excluded.project_id,
					scope = excluded.scope,
					file_path = excluded.file_path,
					timestamp = excluded.timestamp,
					relevance_score = excluded.relevance_score,
					is_active = excluded.is_active,
					metadata = excluded.metadata,
					embedding = excluded.embedding`,
				m.Key, m.Type, m.Value, m.ContentHash, m.ProjectID, string(m.Scope), m.FilePath,
				m.Timestamp, m.LastAccessed, m.AccessCount, m.RelevanceScore, boolToInt(m.IsActive), m.Metadata, embedding,
			)
			if execErr != nil {
				return execErr
			}
			resultKey = m.Key
			return nil

		default:
			return err
		}
	})
	if err != nil {
		return "", err
	}
	return resultKey, nil
}

// Retrieve implements storage.Store.Retrieve.
func (s *Store) Retrieve(ctx context.Context, key string) (*storage.Memory, error) {
	var m storage.Memory
	var scope string
	var active int
	var embedding []byte
	row := s.db.QueryRowContext(ctx, `
		SELECT key, type, value, content_hash, project_id, scope, file_path,
			timestamp, last_accessed, access_count, relevance_score, is_active, metadata, embedding
		FROM memories WHERE key = ? AND is_active = 1`, key)
	err := row.Scan(&m.Key, &m.Type, &m.Value, &m.ContentHash, &m.ProjectID, &scope, &m.FilePath,
		&m.Timestamp, &m.LastAccessed, &m.AccessCount, &m.RelevanceScore, &active, &m.Metadata, &embedding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Scope = storage.Scope(scope)
	m.IsActive = active != 0
	m.Embedding = decodeEmbedding(embedding)

	now := clock.NowMillis(s.clock)
	if _, execErr := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE key = ?`,
		now, key,
	); execErr != nil {
		s.logger.Warn("failed to bump access stats", "key", key, "error", execErr)
	}
	m.AccessCount++
	m.LastAccessed = &now
	return &m, nil
}

// SearchByContext implements storage.Store.SearchByContext.
func (s *Store) SearchByContext(ctx context.Context, q storage.ContextQuery) ([]*storage.Memory, error) {
	clauses := []string{"is_active = 1"}
	var args []any

	if q.ProjectID != nil {
		clauses = append(clauses, "project_id = ?")
		args = append(args, *q.ProjectID)
	}
	if q.FilePath != nil {
		clauses = append(clauses, "file_path = ?")
		args = append(args, *q.FilePath)
	}
	if q.Type != nil {
		clauses = append(clauses, "type = ?")
		args = append(args, *q.Type)
	}
	if q.Scope != nil {
		clauses = append(clauses, "scope = ?")
		args = append(args, string(*q.Scope))
	}

	query := fmt.Sprintf(`
		SELECT key, type, value, content_hash, project_id, scope, file_path,
			timestamp, last_accessed, access_count, relevance_score, is_active, metadata, embedding
		FROM memories WHERE %s ORDER BY timestamp DESC`, strings.Join(clauses, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

// SearchKeyword implements storage.Store.SearchKeyword. Tokens are matched
// with a LIKE scan over the raw value blob per spec.md §4.1's "text index
// (or LIKE-scan)" fallback; this is unindexed but bounded by limit and is
// only the candidate-generation step — retrieval.Search does the real
// scoring.
func (s *Store) SearchKeyword(ctx context.Context, query string, limit int) ([]*storage.Memory, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(tokens))
	args := make([]any, 0, len(tokens)+1)
	for _, t := range tokens {
		clauses = append(clauses, "LOWER(value) LIKE ?")
		args = append(args, "%"+t+"%")
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT key, type, value, content_hash, project_id, scope, file_path,
			timestamp, last_accessed, access_count, relevance_score, is_active, metadata, embedding
		FROM memories WHERE is_active = 1 AND (%s) ORDER BY timestamp DESC LIMIT ?`,
		strings.Join(clauses, " OR "))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

// SimilaritySearch implements storage.Store.SimilaritySearch.
func (s *Store) SimilaritySearch(ctx context.Context, queryVector []float32, limit int) ([]storage.Scored, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, type, value, content_hash, project_id, scope, file_path,
			timestamp, last_accessed, access_count, relevance_score, is_active, metadata, embedding
		FROM memories WHERE is_active = 1 AND embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mems, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}

	scored := make([]storage.Scored, 0, len(mems))
	for _, m := range mems {
		if len(m.Embedding) != len(queryVector) {
			continue
		}
		scored = append(scored, storage.Scored{Memory: m, Similarity: cosineSimilarity(queryVector, m.Embedding)})
	}

	sortScoredDesc(scored)
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Stats implements storage.Store.Stats.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	var stats storage.Stats
	stats.ByType = make(map[string]int64)

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(LENGTH(value) + LENGTH(COALESCE(embedding, X''))), 0) FROM memories WHERE is_active = 1`)
	if err := row.Scan(&stats.Total, &stats.SizeBytes); err != nil {
		return stats, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM memories WHERE is_active = 1 GROUP BY type`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var count int64
		if err := rows.Scan(&typ, &count); err != nil {
			return stats, err
		}
		stats.ByType[typ] = count
	}
	return stats, rows.Err()
}

// Compact implements storage.Store.Compact per spec.md §4.1's three steps.
// Step (c), database-level VACUUM, only runs for a real (non-dry-run)
// compaction, since VACUUM rewrites the whole file and is pointless to
// simulate.
func (s *Store) Compact(ctx context.Context, dryRun bool) (storage.CompactResult, error) {
	var result storage.CompactResult

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE is_active = 0`)
	if err := row.Scan(&result.Removed); err != nil {
		return result, err
	}

	dupRows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, COUNT(*) - 1 FROM memories
		WHERE is_active = 1 AND content_hash IS NOT NULL
		GROUP BY content_hash HAVING COUNT(*) > 1`)
	if err != nil {
		return result, err
	}
	var dupHashes []string
	for dupRows.Next() {
		var hash string
		var extra int64
		if err := dupRows.Scan(&hash, &extra); err != nil {
			dupRows.Close()
			return result, err
		}
		result.Deduplicated += extra
		dupHashes = append(dupHashes, hash)
	}
	dupRows.Close()
	if err := dupRows.Err(); err != nil {
		return result, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(value)), 0) FROM memories`).Scan(&result.BeforeSize); err != nil {
		return result, err
	}

	if dryRun {
		result.AfterSize = result.BeforeSize - estimateFreedBytes(ctx, s.db, dupHashes)
		return result, nil
	}

	err = s.db.WithTx(ctx, func(ctx context.Context, q drv.Querier) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM memories WHERE is_active = 0`); err != nil {
			return err
		}
		for _, hash := range dupHashes {
			if err := collapseDuplicateGroup(ctx, q, hash); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return result, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(value)), 0) FROM memories`).Scan(&result.AfterSize); err != nil {
		return result, err
	}
	return result, nil
}

// collapseDuplicateGroup merges all active rows sharing hash into the one
// with the earliest key: sum access_count, take max timestamp, delete the
// rest. Per spec.md §4.1 "Compaction" (b).
func collapseDuplicateGroup(ctx context.Context, q drv.Querier, hash string) error {
	rows, err := q.QueryContext(ctx, `SELECT key, access_count, timestamp FROM memories WHERE content_hash = ? AND is_active = 1 ORDER BY key ASC`, hash)
	if err != nil {
		return err
	}
	type row struct {
		key         string
		accessCount int64
		timestamp   int64
	}
	var group []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.accessCount, &r.timestamp); err != nil {
			rows.Close()
			return err
		}
		group = append(group, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(group) < 2 {
		return nil
	}

	survivor := group[0]
	var totalAccess, maxTimestamp int64
	for _, r := range group {
		totalAccess += r.accessCount
		if r.timestamp > maxTimestamp {
			maxTimestamp = r.timestamp
		}
	}

	if _, err := q.ExecContext(ctx, `UPDATE memories SET access_count = ?, timestamp = ? WHERE key = ?`,
		totalAccess, maxTimestamp, survivor.key); err != nil {
		return err
	}
	for _, r := range group[1:] {
		if _, err := q.ExecContext(ctx, `DELETE FROM memories WHERE key = ?`, r.key); err != nil {
			return err
		}
	}
	return nil
}

// estimateFreedBytes projects the bytes Compact would free for a dry run,
// without mutating anything.
func estimateFreedBytes(ctx context.Context, db *drv.DB, dupHashes []string) int64 {
	var freed int64
	for _, hash := range dupHashes {
		var sum int64
		_ = db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(LENGTH(value)), 0) FROM memories
			WHERE content_hash = ? AND is_active = 1
			AND key != (SELECT MIN(key) FROM memories WHERE content_hash = ? AND is_active = 1)`,
			hash, hash).Scan(&sum)
		freed += sum
	}
	return freed
}

// ClearByType implements storage.Store.ClearByType.
func (s *Store) ClearByType(ctx context.Context, typ string, olderThanMillis int64) (int64, error) {
	clauses := []string{"is_active = 1"}
	var args []any
	if typ != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, typ)
	}
	if olderThanMillis > 0 {
		clauses = append(clauses, "timestamp < ?")
		args = append(args, olderThanMillis)
	}

	q := fmt.Sprintf(`UPDATE memories SET is_active = 0 WHERE %s`, strings.Join(clauses, " AND "))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping implements storage.Store.Ping.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements storage.Store.Close.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanMemories(rows *sql.Rows) ([]*storage.Memory, error) {
	var out []*storage.Memory
	for rows.Next() {
		var m storage.Memory
		var scope string
		var active int
		var embedding []byte
		if err := rows.Scan(&m.Key, &m.Type, &m.Value, &m.ContentHash, &m.ProjectID, &scope, &m.FilePath,
			&m.Timestamp, &m.LastAccessed, &m.AccessCount, &m.RelevanceScore, &active, &m.Metadata, &embedding); err != nil {
			return nil, err
		}
		m.Scope = storage.Scope(scope)
		m.IsActive = active != 0
		m.Embedding = decodeEmbedding(embedding)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeEmbedding serializes a float32 vector as a little-endian byte blob,
// per spec.md §3.1 ("stored as little-endian f32 byte blob").
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortScoredDesc(s []storage.Scored) {
	sort.Slice(s, func(i, j int) bool { return s[i].Similarity > s[j].Similarity })
}
