package transfer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

type jsonFile struct {
	header
	Data map[string]json.RawMessage `json:"data"`
}

func exportJSON(path string, ds *schema.Dataset, hdr header) (int, error) {
	data := make(map[string]json.RawMessage, len(schema.AllCategories()))
	for _, c := range schema.AllCategories() {
		v := ds.Get(c)
		if !c.IsScalar() && schema.Size(c, v) == 0 {
			data[string(c)] = json.RawMessage("[]")
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal %s: %w", c, err)
		}
		data[string(c)] = raw
	}

	out, err := json.MarshalIndent(jsonFile{header: hdr, Data: data}, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal dataset: %w", err)
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, out, 0600); err != nil {
		return 0, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return recordCount(ds), nil
}

// importJSON accepts an exported file or a bare object keyed by category.
func importJSON(path string) (*schema.Snapshot, Diagnostics, error) {
	// #nosec G304 - controlled path from CLI
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, Diagnostics{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file jsonFile
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, Diagnostics{}, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	if file.Version > FormatVersion {
		return nil, Diagnostics{}, fmt.Errorf("%s has format version %d, newer than supported %d", path, file.Version, FormatVersion)
	}
	data := file.Data
	if data == nil {
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, Diagnostics{}, fmt.Errorf("invalid JSON in %s: %w", path, err)
		}
	}

	col := newCollector()
	for _, c := range schema.AllCategories() {
		raw, ok := data[string(c)]
		if !ok || isNull(raw) {
			continue
		}
		delete(data, string(c))
		if c.IsScalar() {
			col.add(c, raw)
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			col.diags.Total++
			col.diags.skip("%s: not a list: %v", c, err)
			continue
		}
		for _, item := range items {
			col.add(c, item)
		}
	}
	if file.Data != nil {
		for key := range data {
			col.diags.Reasons = append(col.diags.Reasons, fmt.Sprintf("ignored unknown category %q", key))
		}
	}
	return col.snap, col.diags, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
