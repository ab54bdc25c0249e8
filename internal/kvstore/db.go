// Package kvstore provides the durable local key-value store that backs the
// working copy of a school's dataset.
//
// The store is an embedded SQLite database in WAL mode, so several
// processes (the equivalent of browser tabs) can share one file. Every
// write is stamped with the writer's instance id and a global sequence
// number; Poll uses those stamps to deliver changes made by other writers
// to local subscribers, which is how cross-tab consistency is kept.
//
// Layout:
//   - kv: one row per namespaced key (value is JSON, NULL for deleted keys)
//   - offline_queue: created by the queue package in the same file
package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Change is a value written by another writer.
type Change struct {
	Key     string
	Value   []byte // nil when the key was deleted
	Writer  string
	Seq     int64
	Deleted bool
}

type subscription struct {
	id int
	fn func(Change)
}

// DB wraps the SQLite connection shared by every namespace.
type DB struct {
	conn   *sql.DB
	path   string
	writer string
	logger *log.Logger

	mu      sync.Mutex
	lastSeq int64
	subs    map[string][]subscription
	nextSub int
}

// Open opens (creating if needed) the store at path.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := kvstore.Open(filepath.Join(dataDir, "local.db"), nil)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string, logger *log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[kv] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn:   conn,
		path:   path,
		writer: uuid.NewString(),
		logger: logger,
		subs:   make(map[string][]subscription),
	}

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Changes that happened before this instance opened are not news.
	if err := db.conn.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM kv`).Scan(&db.lastSeq); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read store sequence: %w", err)
	}

	return db, nil
}

// DSN returns the connection string used for a database file. Pragmas are
// set per connection so every pooled connection waits on locks and uses WAL.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_txlock=immediate", path)
}

// InitSchema creates the kv table. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the kv table with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB,           -- JSON, NULL once deleted
		writer TEXT NOT NULL, -- instance id of the last writer
		seq INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_kv_seq ON kv(seq);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create store schema: %w", err)
	}
	return nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// WriterID returns the id stamped on this instance's writes.
func (db *DB) WriterID() string {
	return db.writer
}

// Close closes the database connection after a WAL checkpoint.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	db.conn = nil
	return nil
}

// Namespace returns the store view for one tenant. Keys written through the
// view are prefixed so that tenants never see each other's slots.
func (db *DB) Namespace(prefix string) *Store {
	return &Store{db: db, prefix: prefix}
}

func (db *DB) put(ctx context.Context, key string, value []byte) error {
	var arg any
	if value != nil {
		arg = value
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO kv (key, value, writer, seq, updated_at)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM kv), ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			writer = excluded.writer,
			seq = excluded.seq,
			updated_at = excluded.updated_at
	`, key, arg, db.writer, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (db *DB) get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	if value == nil {
		return nil, false, nil
	}
	return value, true, nil
}

func (db *DB) keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT key FROM kv WHERE value IS NOT NULL AND substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Subscribe registers fn for changes to key made by other writers. The
// returned function removes the subscription.
func (db *DB) Subscribe(key string, fn func(Change)) func() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.nextSub++
	id := db.nextSub
	db.subs[key] = append(db.subs[key], subscription{id: id, fn: fn})

	return func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		list := db.subs[key]
		for i, s := range list {
			if s.id == id {
				db.subs[key] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(db.subs[key]) == 0 {
			delete(db.subs, key)
		}
	}
}

// Poll reads writes made by other writers since the last poll and delivers
// them to subscribers. It returns the number of changes seen.
func (db *DB) Poll(ctx context.Context) (int, error) {
	db.mu.Lock()
	since := db.lastSeq
	db.mu.Unlock()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT key, value, writer, seq FROM kv WHERE seq > ? ORDER BY seq`, since)
	if err != nil {
		return 0, fmt.Errorf("failed to poll store: %w", err)
	}

	var changes []Change
	maxSeq := since
	for rows.Next() {
		var c Change
		if err := rows.Scan(&c.Key, &c.Value, &c.Writer, &c.Seq); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan change: %w", err)
		}
		if c.Seq > maxSeq {
			maxSeq = c.Seq
		}
		if c.Writer == db.writer {
			continue
		}
		c.Deleted = c.Value == nil
		changes = append(changes, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to poll store: %w", err)
	}

	db.mu.Lock()
	if maxSeq > db.lastSeq {
		db.lastSeq = maxSeq
	}
	var deliveries []func()
	for _, c := range changes {
		for _, s := range db.subs[c.Key] {
			fn, change := s.fn, c
			deliveries = append(deliveries, func() { fn(change) })
		}
	}
	db.mu.Unlock()

	// Deliver outside the lock so subscribers may write back.
	for _, deliver := range deliveries {
		deliver()
	}
	return len(changes), nil
}
