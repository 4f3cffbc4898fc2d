package sqlite

// schema is applied on every Open. Every statement is idempotent
// (CREATE TABLE/INDEX IF NOT EXISTS) so opening an existing database is
// always safe; column backfills that can't be expressed as IF NOT EXISTS
// (content_hash on pre-existing rows) are handled separately by migrate.
const schema = `
CREATE TABLE IF NOT EXISTS memories (
    key             TEXT PRIMARY KEY,
    type            TEXT NOT NULL,
    value           BLOB NOT NULL,
    content_hash    TEXT,
    project_id      TEXT,
    scope           TEXT NOT NULL DEFAULT 'universal',
    file_path       TEXT,
    timestamp       INTEGER NOT NULL,
    last_accessed   INTEGER,
    access_count    INTEGER NOT NULL DEFAULT 0,
    relevance_score REAL NOT NULL DEFAULT 1.0,
    is_active       INTEGER NOT NULL DEFAULT 1,
    metadata        BLOB,
    embedding       BLOB
);

CREATE INDEX IF NOT EXISTS idx_memories_content_hash ON memories(content_hash);
CREATE INDEX IF NOT EXISTS idx_memories_project_type ON memories(project_id, type);
CREATE INDEX IF NOT EXISTS idx_memories_timestamp ON memories(timestamp);
CREATE INDEX IF NOT EXISTS idx_memories_active ON memories(is_active);

CREATE TABLE IF NOT EXISTS queue_messages (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    queue_name      TEXT NOT NULL,
    message_type    TEXT NOT NULL,
    payload         BLOB NOT NULL,
    priority        INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'pending',
    retry_count     INTEGER NOT NULL DEFAULT 0,
    max_retries     INTEGER NOT NULL DEFAULT 3,
    scheduled_at    INTEGER NOT NULL,
    next_retry_at   INTEGER,
    created_at      INTEGER NOT NULL,
    processed_at    INTEGER,
    correlation_id  TEXT,
    metadata        BLOB,
    error_message   TEXT,
    dedupe_key      TEXT
);

CREATE INDEX IF NOT EXISTS idx_queue_claim ON queue_messages(queue_name, status, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_queue_correlation ON queue_messages(correlation_id);
CREATE INDEX IF NOT EXISTS idx_queue_dedupe ON queue_messages(queue_name, dedupe_key);

CREATE TABLE IF NOT EXISTS dead_letters (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    original_id     INTEGER NOT NULL,
    queue_name      TEXT NOT NULL,
    message_type    TEXT NOT NULL,
    payload         BLOB NOT NULL,
    correlation_id  TEXT,
    metadata        BLOB,
    retry_count     INTEGER NOT NULL,
    error_message   TEXT,
    failed_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dead_letters_queue ON dead_letters(queue_name);
`

// The column backfill spec.md §4.1 "Migration / backfill" describes lives in
// store.go's backfillContentHash: it selects every memories row where
// content_hash IS NULL and recomputes it, so a database created before the
// column existed is brought up to date on open without a version table.
