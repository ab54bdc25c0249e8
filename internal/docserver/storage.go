// Package docserver serves school documents over HTTP. It is the remote
// store the sync layer talks to through httpstore.
//
// Storage layout (SQLite through sqlx):
//   - docs: one row per document id
//   - documents: the settings record of a document
//   - items: one row per collection record, active session key, or score.
//     Scores are bucketed by subject ("subject_<id>") so a subject's
//     scores can be read on their own.
//
// Record order within a category is insertion order; an update keeps the
// position of the record it replaces.
package docserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/MYKHIL/sbapromaster-sub000/internal/kvstore"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// BatchSize is the maximum number of operations per storage transaction.
const BatchSize = 450

// Storage persists documents.
type Storage struct {
	db     *sqlx.DB
	logger *log.Logger
}

type itemRow struct {
	ItemID string `db:"item_id"`
	Body   []byte `db:"body"`
}

type op struct {
	query string
	args  []any
}

// OpenStorage opens (creating if needed) the document database at path.
func OpenStorage(path string, logger *log.Logger) (*Storage, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[docserver] ", log.LstdFlags)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sqlx.Open("sqlite3", kvstore.DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Storage{db: db, logger: logger}
	if err := s.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema creates the tables. It is idempotent.
func (s *Storage) InitSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS docs (
		doc_id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT NOT NULL,
		category TEXT NOT NULL,
		body BLOB NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (doc_id, category)
	);

	CREATE TABLE IF NOT EXISTS items (
		doc_id TEXT NOT NULL,
		category TEXT NOT NULL,
		item_id TEXT NOT NULL,
		bucket TEXT NOT NULL DEFAULT '',
		body BLOB NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (doc_id, category, item_id)
	);

	CREATE INDEX IF NOT EXISTS idx_items_bucket ON items(doc_id, category, bucket);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create document schema: %w", err)
	}
	return nil
}

// Close closes the database after a WAL checkpoint.
func (s *Storage) Close() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	return s.db.Close()
}

// Exists reports whether docID has ever been written.
func (s *Storage) Exists(ctx context.Context, docID string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM docs WHERE doc_id = ?`, docID); err != nil {
		return false, fmt.Errorf("failed to look up document %s: %w", docID, err)
	}
	return n > 0, nil
}

// ReadDocument returns the main document categories of docID restricted to
// fields. ok is false when the document does not exist.
func (s *Storage) ReadDocument(ctx context.Context, docID string, fields []schema.Category) (snap *schema.Snapshot, ok bool, err error) {
	if ok, err = s.Exists(ctx, docID); err != nil || !ok {
		return nil, ok, err
	}
	if len(fields) == 0 {
		fields = schema.MainDocumentCategories()
	}

	snap = &schema.Snapshot{}
	for _, c := range fields {
		if c.IsSubcollection() {
			continue
		}
		if err := s.readCategory(ctx, docID, c, "", snap); err != nil {
			return nil, false, err
		}
	}
	return snap, true, nil
}

// ReadCollection returns every record of cat.
func (s *Storage) ReadCollection(ctx context.Context, docID string, cat schema.Category) (*schema.Snapshot, error) {
	snap := &schema.Snapshot{}
	if err := s.readCategory(ctx, docID, cat, "", snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// ReadScoresForSubject returns the scores stored in one subject's bucket.
func (s *Storage) ReadScoresForSubject(ctx context.Context, docID string, subjectID int64) ([]schema.Score, error) {
	snap := &schema.Snapshot{}
	if err := s.readCategory(ctx, docID, schema.CategoryScores, scoreBucket(subjectID), snap); err != nil {
		return nil, err
	}
	return snap.Scores, nil
}

func (s *Storage) readCategory(ctx context.Context, docID string, c schema.Category, bucket string, snap *schema.Snapshot) error {
	if c == schema.CategorySettings {
		var body []byte
		err := s.db.GetContext(ctx, &body,
			`SELECT body FROM documents WHERE doc_id = ? AND category = ?`, docID, string(c))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", c, err)
		}
		var st schema.Settings
		if err := json.Unmarshal(body, &st); err != nil {
			return fmt.Errorf("invalid %s body: %w", c, err)
		}
		snap.Settings = &st
		return nil
	}

	query := `SELECT item_id, body FROM items WHERE doc_id = ? AND category = ?`
	args := []any{docID, string(c)}
	if bucket != "" {
		query += ` AND bucket = ?`
		args = append(args, bucket)
	}
	query += ` ORDER BY rowid`

	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return fmt.Errorf("failed to read %s: %w", c, err)
	}
	return decodeRows(c, rows, snap)
}

// decodeRows assembles rows into the snapshot field of c by building the
// JSON the field would have been encoded as.
func decodeRows(c schema.Category, rows []itemRow, snap *schema.Snapshot) error {
	if len(rows) == 0 {
		return nil
	}
	var b strings.Builder
	key, _ := json.Marshal(string(c))
	b.WriteString("{")
	b.Write(key)
	b.WriteString(":")
	if c == schema.CategoryActiveSessions {
		b.WriteString("{")
		for i, r := range rows {
			if i > 0 {
				b.WriteString(",")
			}
			k, _ := json.Marshal(r.ItemID)
			b.Write(k)
			b.WriteString(":")
			b.Write(r.Body)
		}
		b.WriteString("}")
	} else {
		b.WriteString("[")
		for i, r := range rows {
			if i > 0 {
				b.WriteString(",")
			}
			b.Write(r.Body)
		}
		b.WriteString("]")
	}
	b.WriteString("}")

	var part schema.Snapshot
	if err := json.Unmarshal([]byte(b.String()), &part); err != nil {
		return fmt.Errorf("invalid %s records: %w", c, err)
	}
	snap.Set(c, part.Get(c))
	return nil
}

// Apply writes updates and deletions for docID and returns the number of
// operations. Operations commit in transactions of at most BatchSize.
func (s *Storage) Apply(ctx context.Context, docID string, updates *schema.Snapshot, deletions map[schema.Category][]string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	ops := []op{{
		query: `INSERT INTO docs (doc_id, created_at) VALUES (?, ?) ON CONFLICT(doc_id) DO NOTHING`,
		args:  []any{docID, now},
	}}

	if updates != nil {
		for _, c := range updates.Categories() {
			catOps, err := upsertOps(docID, c, updates, now)
			if err != nil {
				return 0, err
			}
			ops = append(ops, catOps...)
		}
	}
	for _, c := range schema.SortCategories(keys(deletions)) {
		if c == schema.CategorySettings {
			continue
		}
		for _, id := range deletions[c] {
			ops = append(ops, op{
				query: `DELETE FROM items WHERE doc_id = ? AND category = ? AND item_id = ?`,
				args:  []any{docID, string(c), id},
			})
		}
	}

	for start := 0; start < len(ops); start += BatchSize {
		end := min(start+BatchSize, len(ops))
		if err := s.commit(ctx, ops[start:end]); err != nil {
			return start, err
		}
	}
	return len(ops), nil
}

func (s *Storage) commit(ctx context.Context, batch []op) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range batch {
		if _, err := tx.ExecContext(ctx, o.query, o.args...); err != nil {
			return fmt.Errorf("failed to apply write: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func upsertOps(docID string, c schema.Category, updates *schema.Snapshot, now string) ([]op, error) {
	value := updates.Get(c)

	if c == schema.CategorySettings {
		body, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", c, err)
		}
		return []op{{
			query: `INSERT INTO documents (doc_id, category, body, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(doc_id, category) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
			args: []any{docID, string(c), body, now},
		}}, nil
	}

	ids := schema.IDs(c, value)
	bodies := make([][]byte, len(ids))
	if c == schema.CategoryActiveSessions {
		sessions := value.(map[string]string)
		for i, id := range ids {
			bodies[i], _ = json.Marshal(sessions[id])
		}
	} else {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", c, err)
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to split %s: %w", c, err)
		}
		for i := range ids {
			bodies[i] = items[i]
		}
	}

	ops := make([]op, 0, len(ids))
	for i, id := range ids {
		bucket := ""
		if c == schema.CategoryScores {
			bucket = scoreBucket(updates.Scores[i].SubjectID)
		}
		ops = append(ops, op{
			query: `INSERT INTO items (doc_id, category, item_id, bucket, body, updated_at) VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(doc_id, category, item_id) DO UPDATE SET
					bucket = excluded.bucket, body = excluded.body, updated_at = excluded.updated_at`,
			args: []any{docID, string(c), id, bucket, bodies[i], now},
		})
	}
	return ops, nil
}

// Documents lists the known document ids.
func (s *Storage) Documents(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT doc_id FROM docs ORDER BY doc_id`); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return ids, nil
}

// CountItems returns the number of stored records per category of docID.
func (s *Storage) CountItems(ctx context.Context, docID string, cats ...schema.Category) (map[schema.Category]int, error) {
	query := `SELECT category, COUNT(*) AS n FROM items WHERE doc_id = ?`
	args := []any{docID}
	if len(cats) > 0 {
		names := make([]string, len(cats))
		for i, c := range cats {
			names[i] = string(c)
		}
		in, inArgs, err := sqlx.In(` AND category IN (?)`, names)
		if err != nil {
			return nil, fmt.Errorf("failed to build query: %w", err)
		}
		query += in
		args = append(args, inArgs...)
	}
	query += ` GROUP BY category`

	var rows []struct {
		Category string `db:"category"`
		N        int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	out := make(map[schema.Category]int, len(rows))
	for _, r := range rows {
		out[schema.Category(r.Category)] = r.N
	}
	return out, nil
}

func scoreBucket(subjectID int64) string {
	return fmt.Sprintf("subject_%d", subjectID)
}

func keys(m map[schema.Category][]string) []schema.Category {
	out := make([]schema.Category, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}
