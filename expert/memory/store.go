// Package memory implements the persistent collaborators behind the expert
// tools: a fact store with FTS5 recall, a code intelligence index, and the
// learning tables that accumulate consultation history.
package memory

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds store configuration.
type Config struct {
	DataDir          string `envconfig:"DATA_DIR" split_words:"true"`
	MaxSearchResults int    `envconfig:"MAX_SEARCH_RESULTS" split_words:"true" default:"50"`
	MaxRecallResults int    `envconfig:"MAX_RECALL_RESULTS" split_words:"true" default:"20"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:          filepath.Join(home, ".counsel"),
		MaxSearchResults: 50,
		MaxRecallResults: 20,
	}
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = DefaultConfig().DataDir
	}
	if c.MaxSearchResults <= 0 {
		c.MaxSearchResults = 50
	}
	if c.MaxRecallResults <= 0 {
		c.MaxRecallResults = 20
	}
	return c
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the SQLite-backed engine shared by memory, code intelligence, and
// learning. One file, WAL mode, safe for concurrent expert loops.
type Store struct {
	db  *sql.DB
	cfg Config
}

// New creates the data directory if needed, opens SQLite with WAL mode, and
// runs migrations.
func New(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}
	return open(filepath.Join(cfg.DataDir, "counsel.db"), cfg)
}

// NewInMemory opens a private in-memory store. Used by tests and ephemeral
// sessions that should leave nothing on disk.
func NewInMemory(cfg Config) (*Store, error) {
	return open("file::memory:?cache=shared&mode=memory", cfg.withDefaults())
}

func open(dsn string, cfg Config) (*Store, error) {
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("memory: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("memory: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS facts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			kind       TEXT    NOT NULL DEFAULT 'fact',
			content    TEXT    NOT NULL,
			source     TEXT,
			created_at TEXT    NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT    NOT NULL DEFAULT (datetime('now')),
			deleted_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_facts_kind    ON facts(kind);
		CREATE INDEX IF NOT EXISTS idx_facts_created ON facts(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_facts_deleted ON facts(deleted_at);

		CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(
			content,
			kind,
			content='facts',
			content_rowid='id'
		);

		CREATE TABLE IF NOT EXISTS code_symbols (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			path       TEXT    NOT NULL,
			symbol     TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			line       INTEGER NOT NULL,
			snippet    TEXT,
			indexed_at TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_symbols_path   ON code_symbols(path);
		CREATE INDEX IF NOT EXISTS idx_symbols_symbol ON code_symbols(symbol);

		CREATE VIRTUAL TABLE IF NOT EXISTS code_fts USING fts5(
			symbol,
			path,
			snippet,
			content='code_symbols',
			content_rowid='id'
		);

		CREATE TABLE IF NOT EXISTS call_edges (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			caller  TEXT    NOT NULL,
			callee  TEXT    NOT NULL,
			path    TEXT    NOT NULL,
			line    INTEGER NOT NULL,
			UNIQUE(caller, callee, path, line) ON CONFLICT IGNORE
		);

		CREATE INDEX IF NOT EXISTS idx_edges_caller ON call_edges(caller);
		CREATE INDEX IF NOT EXISTS idx_edges_callee ON call_edges(callee);

		CREATE TABLE IF NOT EXISTS role_configs (
			role            TEXT PRIMARY KEY,
			model           TEXT,
			temperature     REAL,
			temperature_set INTEGER NOT NULL DEFAULT 0,
			updated_at      TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS consultations (
			consultation_id TEXT PRIMARY KEY,
			session_id      TEXT NOT NULL,
			role            TEXT NOT NULL,
			mode            TEXT NOT NULL,
			problem_hash    TEXT,
			category        TEXT,
			status          TEXT NOT NULL,
			iterations      INTEGER NOT NULL DEFAULT 0,
			tool_calls      INTEGER NOT NULL DEFAULT 0,
			duration_ms     INTEGER NOT NULL DEFAULT 0,
			degraded        INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_consult_session ON consultations(session_id);
		CREATE INDEX IF NOT EXISTS idx_consult_hash    ON consultations(problem_hash);
		CREATE INDEX IF NOT EXISTS idx_consult_created ON consultations(created_at DESC);

		CREATE TABLE IF NOT EXISTS finding_archive (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			finding_id     TEXT,
			session_id     TEXT NOT NULL,
			role           TEXT NOT NULL,
			round          INTEGER NOT NULL DEFAULT 0,
			topic          TEXT NOT NULL,
			claim          TEXT NOT NULL,
			severity       TEXT NOT NULL,
			confidence     REAL,
			evidence       TEXT,
			recommendation TEXT,
			conflict_tag   TEXT,
			created_at     TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_archive_session ON finding_archive(session_id);
		CREATE INDEX IF NOT EXISTS idx_archive_role    ON finding_archive(role);

		CREATE TABLE IF NOT EXISTS outcomes (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			consultation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			duration_ms     INTEGER NOT NULL DEFAULT 0,
			accepted        INTEGER NOT NULL DEFAULT 0,
			note            TEXT,
			created_at      TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_outcomes_consult ON outcomes(consultation_id);

		CREATE TABLE IF NOT EXISTS problem_patterns (
			problem_hash TEXT PRIMARY KEY,
			category     TEXT,
			hits         INTEGER NOT NULL DEFAULT 1,
			successes    INTEGER NOT NULL DEFAULT 0,
			last_role    TEXT,
			last_status  TEXT,
			updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if err := s.ensureTriggers("fact_fts_insert", `
		CREATE TRIGGER fact_fts_insert AFTER INSERT ON facts BEGIN
			INSERT INTO facts_fts(rowid, content, kind)
			VALUES (new.id, new.content, new.kind);
		END;

		CREATE TRIGGER fact_fts_delete AFTER DELETE ON facts BEGIN
			INSERT INTO facts_fts(facts_fts, rowid, content, kind)
			VALUES ('delete', old.id, old.content, old.kind);
		END;

		CREATE TRIGGER fact_fts_update AFTER UPDATE ON facts BEGIN
			INSERT INTO facts_fts(facts_fts, rowid, content, kind)
			VALUES ('delete', old.id, old.content, old.kind);
			INSERT INTO facts_fts(rowid, content, kind)
			VALUES (new.id, new.content, new.kind);
		END;
	`); err != nil {
		return err
	}

	return s.ensureTriggers("code_fts_insert", `
		CREATE TRIGGER code_fts_insert AFTER INSERT ON code_symbols BEGIN
			INSERT INTO code_fts(rowid, symbol, path, snippet)
			VALUES (new.id, new.symbol, new.path, new.snippet);
		END;

		CREATE TRIGGER code_fts_delete AFTER DELETE ON code_symbols BEGIN
			INSERT INTO code_fts(code_fts, rowid, symbol, path, snippet)
			VALUES ('delete', old.id, old.symbol, old.path, old.snippet);
		END;

		CREATE TRIGGER code_fts_update AFTER UPDATE ON code_symbols BEGIN
			INSERT INTO code_fts(code_fts, rowid, symbol, path, snippet)
			VALUES ('delete', old.id, old.symbol, old.path, old.snippet);
			INSERT INTO code_fts(rowid, symbol, path, snippet)
			VALUES (new.id, new.symbol, new.path, new.snippet);
		END;
	`)
}

func (s *Store) ensureTriggers(probe, ddl string) error {
	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name=?", probe,
	).Scan(&name)
	if err == sql.ErrNoRows {
		if _, err := s.db.Exec(ddl); err != nil {
			return err
		}
		return nil
	}
	return err
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// sanitizeFTS wraps each word in quotes for safe FTS5 queries.
// "token refresh bug" -> `"token" "refresh" "bug"`
func sanitizeFTS(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		w = strings.Trim(w, `"`)
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " ")
}

// HashProblem returns a short stable hash for grouping recurring problems.
func HashProblem(problem string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(strings.ToLower(problem))))
	return hex.EncodeToString(sum[:8])
}

// Now returns the current time formatted for SQLite.
func Now() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}
