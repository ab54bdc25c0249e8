// Package queue implements the durable offline write queue.
//
// Writes that could not reach the remote store are appended here and
// replayed once connectivity returns. Items live in the offline_queue table
// of the local store database, scoped by tenant, and survive restarts.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// ErrLocked is returned when another process is already draining the queue.
var ErrLocked = errors.New("queue is being drained by another process")

// Item is one queued write.
type Item struct {
	ID         string
	Timestamp  time.Time
	Categories []schema.Category
	Payload    *schema.Snapshot
	Deletions  map[schema.Category][]string
	RetryCount int
}

// record is the CBOR body of an item.
type record struct {
	Updates   *schema.Snapshot             `cbor:"updates"`
	Deletions map[schema.Category][]string `cbor:"deletions,omitempty"`
}

// Config configures a Queue.
type Config struct {
	// DB is the local store connection. The queue table is created on it.
	DB *sql.DB

	// Tenant scopes items to one school.
	Tenant string

	// LockPath is the advisory lock file guarding drains. Empty disables
	// cross-process locking.
	LockPath string

	// Logger for queue activity (default: stderr logger)
	Logger *log.Logger
}

// Queue is a FIFO of pending writes for one tenant.
type Queue struct {
	db     *sql.DB
	tenant string
	lock   *flock.Flock
	logger *log.Logger
	now    func() time.Time
}

// New creates the queue table if needed and returns the tenant's queue.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}

	q := &Queue{
		db:     cfg.DB,
		tenant: cfg.Tenant,
		logger: cfg.Logger,
		now:    time.Now,
	}
	if cfg.LockPath != "" {
		q.lock = flock.New(cfg.LockPath)
	}

	ddl := `
	CREATE TABLE IF NOT EXISTS offline_queue (
		pos INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant TEXT NOT NULL,
		created_at TEXT NOT NULL,
		categories TEXT NOT NULL, -- JSON array
		payload BLOB NOT NULL,    -- CBOR record
		retry_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_offline_queue_tenant ON offline_queue(tenant, pos);
	`
	if _, err := q.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("failed to create queue schema: %w", err)
	}
	return q, nil
}

// Enqueue appends a write and returns its id.
func (q *Queue) Enqueue(ctx context.Context, updates *schema.Snapshot, deletions map[schema.Category][]string) (string, error) {
	if updates == nil {
		updates = &schema.Snapshot{}
	}
	cats := updates.Categories()
	for c := range deletions {
		cats = append(cats, c)
	}
	return q.enqueue(ctx, updates, deletions, cats)
}

// EnqueueCategories queues the full current value of each category. The
// categories are recorded even when a value is empty.
func (q *Queue) EnqueueCategories(ctx context.Context, working *schema.Dataset, cats []schema.Category) (string, error) {
	return q.enqueue(ctx, working.Snapshot(cats...), nil, cats)
}

func (q *Queue) enqueue(ctx context.Context, updates *schema.Snapshot, deletions map[schema.Category][]string, cats []schema.Category) (string, error) {
	cats = schema.SortCategories(cats)

	body, err := cbor.Marshal(record{Updates: updates, Deletions: deletions})
	if err != nil {
		return "", fmt.Errorf("failed to encode queued write: %w", err)
	}
	catsJSON, err := json.Marshal(cats)
	if err != nil {
		return "", fmt.Errorf("failed to encode categories: %w", err)
	}

	id := uuid.NewString()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO offline_queue (id, tenant, created_at, categories, payload)
		VALUES (?, ?, ?, ?, ?)
	`, id, q.tenant, q.now().UTC().Format(time.RFC3339Nano), string(catsJSON), body)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue write: %w", err)
	}

	q.logger.Printf("Queued write %s (%v)", id, cats)
	return id, nil
}

// Size returns the number of queued items.
func (q *Queue) Size(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_queue WHERE tenant = ?`, q.tenant).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// Items returns the queued items oldest first.
func (q *Queue) Items(ctx context.Context) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, created_at, categories, payload, retry_count
		FROM offline_queue WHERE tenant = ? ORDER BY pos
	`, q.tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			item      Item
			createdAt string
			catsJSON  string
			body      []byte
		)
		if err := rows.Scan(&item.ID, &createdAt, &catsJSON, &body, &item.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		if item.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("invalid timestamp on queue item %s: %w", item.ID, err)
		}
		if err := json.Unmarshal([]byte(catsJSON), &item.Categories); err != nil {
			return nil, fmt.Errorf("invalid categories on queue item %s: %w", item.ID, err)
		}
		var rec record
		if err := cbor.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("invalid payload on queue item %s: %w", item.ID, err)
		}
		item.Payload = rec.Updates
		if item.Payload == nil {
			item.Payload = &schema.Snapshot{}
		}
		item.Deletions = rec.Deletions
		items = append(items, item)
	}
	return items, rows.Err()
}

// Categories returns the union of categories touched by queued items.
func (q *Queue) Categories(ctx context.Context) ([]schema.Category, error) {
	items, err := q.Items(ctx)
	if err != nil {
		return nil, err
	}
	var cats []schema.Category
	for _, item := range items {
		cats = append(cats, item.Categories...)
	}
	return schema.SortCategories(cats), nil
}

// Drain replays items oldest first through write. Items that succeed are
// removed; failed items stay queued with their retry counter incremented.
// It reports whether every item succeeded.
func (q *Queue) Drain(ctx context.Context, write func(context.Context, Item) error) (bool, error) {
	unlock, err := q.Lock()
	if err != nil {
		return false, err
	}
	defer unlock()

	items, err := q.Items(ctx)
	if err != nil {
		return false, err
	}

	allOK := true
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if werr := write(ctx, item); werr != nil {
			allOK = false
			q.logger.Printf("Replay of %s failed (attempt %d): %v", item.ID, item.RetryCount+1, werr)
			if _, err := q.db.ExecContext(ctx,
				`UPDATE offline_queue SET retry_count = retry_count + 1 WHERE id = ?`, item.ID); err != nil {
				return false, fmt.Errorf("failed to update retry count: %w", err)
			}
			continue
		}
		if err := q.Remove(ctx, item.ID); err != nil {
			return false, err
		}
		q.logger.Printf("Replayed %s", item.ID)
	}
	return allOK, nil
}

// MarkRetry increments the retry counter of every queued item.
func (q *Queue) MarkRetry(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx,
		`UPDATE offline_queue SET retry_count = retry_count + 1 WHERE tenant = ?`, q.tenant); err != nil {
		return fmt.Errorf("failed to update retry counts: %w", err)
	}
	return nil
}

// Remove deletes one item.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM offline_queue WHERE id = ? AND tenant = ?`, id, q.tenant); err != nil {
		return fmt.Errorf("failed to remove queue item %s: %w", id, err)
	}
	return nil
}

// Clear removes every item of the tenant.
func (q *Queue) Clear(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM offline_queue WHERE tenant = ?`, q.tenant); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// Lock takes the cross-process drain lock without blocking. It returns
// ErrLocked if another process holds it.
func (q *Queue) Lock() (func(), error) {
	if q.lock == nil {
		return func() {}, nil
	}
	locked, err := q.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring queue lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return func() { _ = q.lock.Unlock() }, nil
}
