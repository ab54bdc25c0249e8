// Package transfer reads and writes school dataset files.
//
// Two formats are supported, chosen by file extension:
//   - .json: one pretty-printed object keyed by category name
//   - .sdlx: a SQLite database with one row per record
//
// Import validates every record on its own. Invalid or duplicate records
// are skipped and reported in Diagnostics so a damaged backup still loads
// as much as it can.
package transfer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// FormatVersion is written into every exported file.
const FormatVersion = 1

// Format is a dataset file format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatDatabase Format = "sdlx"
)

// FormatFor picks the format from the file extension. Anything that is not
// .sdlx is treated as JSON.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".sdlx") {
		return FormatDatabase
	}
	return FormatJSON
}

// Diagnostics summarizes an import.
type Diagnostics struct {
	Total   int      `json:"total"`
	Skipped int      `json:"skipped"`
	Reasons []string `json:"reasons,omitempty"`
}

// Loaded returns the number of records that were kept.
func (d Diagnostics) Loaded() int {
	return d.Total - d.Skipped
}

func (d *Diagnostics) skip(format string, args ...any) {
	d.Skipped++
	d.Reasons = append(d.Reasons, fmt.Sprintf(format, args...))
}

// Options controls Export.
type Options struct {
	// Format overrides the format picked from the extension.
	Format Format

	// Backup copies an existing file aside before it is replaced.
	Backup bool

	// SchoolID is recorded in the file header.
	SchoolID string
}

// Result reports what Export wrote.
type Result struct {
	Path          string
	Records       int
	BackupCreated string
}

// header is the metadata stored with every export.
type header struct {
	Version    int       `json:"version"`
	SchoolID   string    `json:"schoolId,omitempty"`
	ExportedAt time.Time `json:"exportedAt"`
}

// collector accumulates validated records into a snapshot.
type collector struct {
	snap  *schema.Snapshot
	seen  map[schema.Category]schema.IDSet
	diags Diagnostics
}

func newCollector() *collector {
	return &collector{
		snap: &schema.Snapshot{},
		seen: make(map[schema.Category]schema.IDSet),
	}
}

// add decodes and validates one record of c. Settings and active sessions
// count as a single record each.
func (col *collector) add(c schema.Category, raw json.RawMessage) {
	col.diags.Total++

	v, err := decodeRecord(c, raw)
	if err != nil {
		col.diags.skip("%s: %v", c, err)
		return
	}
	if err := schema.ValidateValue(c, v); err != nil {
		col.diags.skip("%v", err)
		return
	}
	if c.IsScalar() {
		col.snap.Set(c, schema.Upsert(c, col.snap.Get(c), v))
		return
	}

	ids := schema.IDs(c, v)
	set, ok := col.seen[c]
	if !ok {
		set = schema.NewIDSet()
		col.seen[c] = set
	}
	for _, id := range ids {
		if set.Has(id) {
			col.diags.skip("%s %s: duplicate id", c, id)
			return
		}
		set.Add(id)
	}
	col.snap.Set(c, schema.Upsert(c, col.snap.Get(c), v))
}

// decodeRecord decodes raw as one value of c. Collection records come back
// as a one-element slice.
func decodeRecord(c schema.Category, raw json.RawMessage) (any, error) {
	if c.IsScalar() {
		return decodeCategory(c, raw)
	}
	list := make([]byte, 0, len(raw)+2)
	list = append(list, '[')
	list = append(list, raw...)
	list = append(list, ']')
	return decodeCategory(c, list)
}

func decodeCategory(c schema.Category, raw []byte) (any, error) {
	doc, err := json.Marshal(map[string]json.RawMessage{string(c): raw})
	if err != nil {
		return nil, err
	}
	var ds schema.Dataset
	if err := json.Unmarshal(doc, &ds); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	return ds.Get(c), nil
}

// Import reads a dataset file and returns the valid records it holds.
func Import(path string) (*schema.Snapshot, Diagnostics, error) {
	// #nosec G304 - controlled path from CLI
	if _, err := os.Stat(path); err != nil {
		return nil, Diagnostics{}, fmt.Errorf("input file does not exist: %w", err)
	}
	switch FormatFor(path) {
	case FormatDatabase:
		return importDatabase(path)
	default:
		return importJSON(path)
	}
}

// Export writes the categories of ds to path.
func Export(path string, ds *schema.Dataset, opts Options) (*Result, error) {
	if ds == nil {
		return nil, fmt.Errorf("dataset cannot be nil")
	}
	format := opts.Format
	if format == "" {
		format = FormatFor(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &Result{Path: path}
	if opts.Backup {
		backup, err := backupFile(path)
		if err != nil {
			return nil, err
		}
		result.BackupCreated = backup
	}

	hdr := header{Version: FormatVersion, SchoolID: opts.SchoolID, ExportedAt: time.Now().UTC()}
	var err error
	switch format {
	case FormatDatabase:
		result.Records, err = exportDatabase(path, ds, hdr)
	case FormatJSON:
		result.Records, err = exportJSON(path, ds, hdr)
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// backupFile copies an existing path aside and returns the copy's path, or
// "" when there is nothing to back up.
func backupFile(path string) (string, error) {
	// #nosec G304 - controlled path from CLI
	input, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read file for backup: %w", err)
	}
	backupPath := path + ".backup." + time.Now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, input, 0600); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	return backupPath, nil
}

// recordCount returns how many records Export writes for ds.
func recordCount(ds *schema.Dataset) int {
	n := 1 // settings
	for _, c := range schema.AllCategories() {
		switch {
		case c == schema.CategorySettings:
		case c == schema.CategoryActiveSessions:
			if len(ds.ActiveSessions) > 0 {
				n++
			}
		default:
			n += schema.Size(c, ds.Get(c))
		}
	}
	return n
}
