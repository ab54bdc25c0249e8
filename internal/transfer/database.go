package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	// Registers the "sqlite3" driver.
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

const databaseSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	category TEXT NOT NULL,
	position INTEGER NOT NULL,
	item_id TEXT NOT NULL,
	body TEXT NOT NULL,
	PRIMARY KEY (category, position)
);
`

type recordRow struct {
	Category string `db:"category"`
	ItemID   string `db:"item_id"`
	Body     string `db:"body"`
}

// databaseDSN opens a self-contained file without a WAL beside it.
func databaseDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(delete)", path)
}

func exportDatabase(path string, ds *schema.Dataset, hdr header) (int, error) {
	ctx := context.Background()
	tmpPath := path + ".tmp"
	_ = os.Remove(tmpPath)

	db, err := sqlx.Open("sqlite3", databaseDSN(tmpPath))
	if err != nil {
		return 0, fmt.Errorf("failed to create database: %w", err)
	}
	count, err := writeDatabase(ctx, db, ds, hdr)
	if cerr := db.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close database: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return count, nil
}

func writeDatabase(ctx context.Context, db *sqlx.DB, ds *schema.Dataset, hdr header) (int, error) {
	if _, err := db.ExecContext(ctx, databaseSchema); err != nil {
		return 0, fmt.Errorf("failed to create schema: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	meta := map[string]string{
		"version":    strconv.Itoa(hdr.Version),
		"schoolId":   hdr.SchoolID,
		"exportedAt": hdr.ExportedAt.Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", k, err)
		}
	}

	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO records (category, position, item_id, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	insert := func(c schema.Category, pos int, id string, v any) error {
		body, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s: %w", c, id, err)
		}
		if _, err := stmt.ExecContext(ctx, string(c), pos, id, string(body)); err != nil {
			return fmt.Errorf("failed to write %s %s: %w", c, id, err)
		}
		count++
		return nil
	}

	for _, c := range schema.AllCategories() {
		v := ds.Get(c)
		switch c {
		case schema.CategorySettings:
			err = insert(c, 0, string(c), v)
		case schema.CategoryActiveSessions:
			if len(ds.ActiveSessions) > 0 {
				err = insert(c, 0, string(c), v)
			}
		default:
			err = eachRecord(c, v, func(pos int, id string, item json.RawMessage) error {
				return insert(c, pos, id, item)
			})
		}
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return count, nil
}

// eachRecord calls fn with the JSON encoding of every record of a
// collection value.
func eachRecord(c schema.Category, v any, fn func(pos int, id string, item json.RawMessage) error) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", c, err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("failed to split %s: %w", c, err)
	}
	ids := schema.IDs(c, v)
	for i, item := range items {
		if err := fn(i, ids[i], item); err != nil {
			return err
		}
	}
	return nil
}

func importDatabase(path string) (*schema.Snapshot, Diagnostics, error) {
	ctx := context.Background()
	db, err := sqlx.Open("sqlite3", databaseDSN(path))
	if err != nil {
		return nil, Diagnostics{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer db.Close()

	var version string
	if err := db.GetContext(ctx, &version, `SELECT value FROM meta WHERE key = 'version'`); err != nil {
		return nil, Diagnostics{}, fmt.Errorf("%s is not a dataset file: %w", path, err)
	}
	if v, err := strconv.Atoi(version); err != nil || v > FormatVersion {
		return nil, Diagnostics{}, fmt.Errorf("%s has unsupported format version %q", path, version)
	}

	var rows []recordRow
	if err := db.SelectContext(ctx, &rows,
		`SELECT category, item_id, body FROM records ORDER BY category, position`); err != nil {
		return nil, Diagnostics{}, fmt.Errorf("failed to read records: %w", err)
	}

	col := newCollector()
	for _, row := range rows {
		c, err := schema.ParseCategory(row.Category)
		if err != nil {
			col.diags.Total++
			col.diags.skip("%s %s: unknown category", row.Category, row.ItemID)
			continue
		}
		col.add(c, json.RawMessage(row.Body))
	}
	return col.snap, col.diags, nil
}
