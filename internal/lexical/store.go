package lexical

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/recall/internal/document"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

const storeSchemaVersion = "1"

// sqliteStore is the write-through persistence of the lexical index.
// Every mutation is committed here before it becomes visible in memory.
type sqliteStore struct {
	db   *sql.DB
	path string
}

// storedDoc is a document row plus its postings, as loaded from disk.
type storedDoc struct {
	doc      *document.Document
	length   int
	postings map[string]*posting
}

// validateStore checks a database file before it is opened for writing.
// A missing file is valid; anything unreadable is IndexCorruption.
func validateStore(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return nil
	}
	if err != nil {
		return corruption(path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return corruption(path, err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return corruption(path, fmt.Errorf("integrity check failed: %w", err))
	}
	if result != "ok" {
		return corruption(path, fmt.Errorf("integrity check: %s", result))
	}

	var tables int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name IN ('meta', 'documents', 'postings')`).Scan(&tables)
	if err != nil {
		return corruption(path, fmt.Errorf("cannot query schema: %w", err))
	}
	if tables != 0 && tables != 3 {
		return corruption(path, fmt.Errorf("schema incomplete: %d of 3 tables", tables))
	}

	var version string
	if tables == 3 {
		err := db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
		if err != nil && err != sql.ErrNoRows {
			return corruption(path, err)
		}
		if version != "" && version != storeSchemaVersion {
			return rerrors.Newf(rerrors.ErrCodeSchemaMismatch,
				"lexical store schema %s, want %s", version, storeSchemaVersion).
				WithDetail("path", path)
		}
	}
	return nil
}

func corruption(path string, cause error) error {
	return rerrors.New(rerrors.ErrCodeCorruptIndex, "lexical index is corrupted", cause).
		WithDetail("path", path).
		WithSuggestion("run 'recall rebuild' to recreate the index")
}

// Clear removes a lexical database and its WAL side files.
func Clear(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

func openStore(path string) (*sqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := validateStore(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; the in-memory index serves reads.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite, so set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &sqliteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id         TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		session_id TEXT NOT NULL,
		path       TEXT NOT NULL DEFAULT '',
		body       TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '{}',
		length     INTEGER NOT NULL
	);

	-- positions is a comma separated list of token positions
	CREATE TABLE IF NOT EXISTS postings (
		term      TEXT NOT NULL,
		doc_id    TEXT NOT NULL,
		tf        INTEGER NOT NULL,
		positions TEXT NOT NULL,
		PRIMARY KEY (term, doc_id)
	);
	CREATE INDEX IF NOT EXISTS postings_doc ON postings(doc_id);

	INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', '` + storeSchemaVersion + `');
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqliteStore) getMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

func (s *sqliteStore) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// put replaces a document and its postings in one transaction.
func (s *sqliteStore) put(ctx context.Context, doc *document.Document, length int, postings map[string]*posting) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s: %w", doc.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteTx(ctx, tx, doc.ID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, kind, session_id, path, body, created_at, metadata, length)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, string(doc.Kind), doc.SessionID, doc.Path, doc.Text,
		doc.CreatedAt.UnixNano(), string(meta), length)
	if err != nil {
		return fmt.Errorf("failed to store document %s: %w", doc.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO postings (term, doc_id, tf, positions) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare postings statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for term, p := range postings {
		if _, err := stmt.ExecContext(ctx, term, doc.ID, p.tf, encodePositions(p.positions)); err != nil {
			return fmt.Errorf("failed to store posting %q for %s: %w", term, doc.ID, err)
		}
	}

	return tx.Commit()
}

func (s *sqliteStore) delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteTx(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteTx(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM postings WHERE doc_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete postings of %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// clearPostings drops every posting, keeping the documents.
func (s *sqliteStore) clearPostings(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM postings`)
	return err
}

// load reads every document with its postings.
func (s *sqliteStore) load(ctx context.Context) (map[string]*storedDoc, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, session_id, path, body, created_at, metadata, length FROM documents`)
	if err != nil {
		return nil, corruption(s.path, err)
	}
	defer func() { _ = rows.Close() }()

	docs := make(map[string]*storedDoc)
	for rows.Next() {
		var (
			doc     document.Document
			kind    string
			created int64
			meta    string
			length  int
		)
		if err := rows.Scan(&doc.ID, &kind, &doc.SessionID, &doc.Path, &doc.Text, &created, &meta, &length); err != nil {
			return nil, corruption(s.path, err)
		}
		doc.Kind = document.Kind(kind)
		doc.CreatedAt = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return nil, corruption(s.path, fmt.Errorf("metadata of %s: %w", doc.ID, err))
		}
		docs[doc.ID] = &storedDoc{doc: &doc, length: length, postings: make(map[string]*posting)}
	}
	if err := rows.Err(); err != nil {
		return nil, corruption(s.path, err)
	}

	prow, err := s.db.QueryContext(ctx, `SELECT term, doc_id, tf, positions FROM postings`)
	if err != nil {
		return nil, corruption(s.path, err)
	}
	defer func() { _ = prow.Close() }()

	for prow.Next() {
		var (
			term, id, positions string
			tf                  int
		)
		if err := prow.Scan(&term, &id, &tf, &positions); err != nil {
			return nil, corruption(s.path, err)
		}
		sd, ok := docs[id]
		if !ok {
			// Orphan posting from an interrupted write; the document row wins.
			continue
		}
		pos, err := decodePositions(positions)
		if err != nil {
			return nil, corruption(s.path, fmt.Errorf("positions of %q in %s: %w", term, id, err))
		}
		sd.postings[term] = &posting{tf: tf, positions: pos}
	}
	if err := prow.Err(); err != nil {
		return nil, corruption(s.path, err)
	}
	return docs, nil
}

func (s *sqliteStore) close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func encodePositions(positions []int) string {
	parts := make([]string, len(positions))
	for i, p := range positions {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

func decodePositions(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
