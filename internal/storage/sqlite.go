package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding conversation turns, knowledge
// documents and the relay delivery journal.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "wachat.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw connection for the vector store, which shares this
// database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// --- Turns ---

// RecordTurn appends one conversation turn. Callers treat failures as
// best-effort: a storage outage must not block message delivery.
func (s *Store) RecordTurn(t Turn) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO turns (identity, speaker, content, created_at)
		VALUES (?, ?, ?, ?)`,
		t.Identity, t.Speaker, t.Content, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// LoadHistory returns up to limit turns for the identity, oldest-first.
func (s *Store) LoadHistory(identity string, limit int) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT identity, speaker, content, created_at FROM (
			SELECT id, identity, speaker, content, created_at
			FROM turns WHERE identity = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at ASC, id ASC`, identity, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.Identity, &t.Speaker, &t.Content, &createdAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		t.CreatedAt = parsed
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// --- Knowledge docs ---

func (s *Store) SaveKnowledgeDoc(doc KnowledgeDoc) error {
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO knowledge_docs (id, title, content, category, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Content, doc.Category, doc.Source,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetKnowledgeDoc(id string) (KnowledgeDoc, error) {
	var d KnowledgeDoc
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, title, content, category, source, created_at
		FROM knowledge_docs WHERE id = ?`, id,
	).Scan(&d.ID, &d.Title, &d.Content, &d.Category, &d.Source, &createdAt)
	if err == sql.ErrNoRows {
		return KnowledgeDoc{}, ErrNotFound
	}
	if err != nil {
		return KnowledgeDoc{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return KnowledgeDoc{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

func (s *Store) ListKnowledgeDocs(limit, offset int) ([]KnowledgeDoc, error) {
	rows, err := s.db.Query(`
		SELECT id, title, content, category, source, created_at
		FROM knowledge_docs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []KnowledgeDoc
	for rows.Next() {
		var d KnowledgeDoc
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.Category, &d.Source, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteKnowledgeDoc removes a document and its chunk vectors.
func (s *Store) DeleteKnowledgeDoc(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM knowledge_docs WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec("DELETE FROM knowledge_vectors WHERE doc_id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// AllKnowledgeDocs returns every stored document, oldest-first. Used by the
// keyword-fallback scorer, which scans the full corpus.
func (s *Store) AllKnowledgeDocs() ([]KnowledgeDoc, error) {
	rows, err := s.db.Query(`
		SELECT id, title, content, category, source, created_at
		FROM knowledge_docs ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []KnowledgeDoc
	for rows.Next() {
		var d KnowledgeDoc
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.Category, &d.Source, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- Relay journal ---

func (s *Store) SaveRelayRecord(r RelayRecord) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO relay_log (trace_id, identity, target_url, attempts, status, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.TraceID, r.Identity, r.TargetURL, r.Attempts, r.Status, r.LastError,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) RecentRelayRecords(limit int) ([]RelayRecord, error) {
	rows, err := s.db.Query(`
		SELECT trace_id, identity, target_url, attempts, status, last_error, created_at
		FROM relay_log ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RelayRecord
	for rows.Next() {
		var r RelayRecord
		var createdAt string
		if err := rows.Scan(&r.TraceID, &r.Identity, &r.TargetURL, &r.Attempts, &r.Status, &r.LastError, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		records = append(records, r)
	}
	return records, rows.Err()
}
