package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Store is a tenant-scoped view of the database.
type Store struct {
	db     *DB
	prefix string
}

// Prefix returns the tenant prefix.
func (s *Store) Prefix() string {
	return s.prefix
}

// DB returns the database backing the store.
func (s *Store) DB() *DB {
	return s.db
}

// FullKey returns the key as stored in the database.
func (s *Store) FullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Get decodes the value stored under key into dst. It reports false when
// the key does not exist.
func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.db.get(ctx, s.FullKey(key))
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode key %s: %w", key, err)
	}
	return true, nil
}

// Set stores v under key as JSON.
func (s *Store) Set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode key %s: %w", key, err)
	}
	return s.db.put(ctx, s.FullKey(key), raw)
}

// Delete removes key. Other writers observe the deletion through Poll.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.db.put(ctx, s.FullKey(key), nil)
}

// Keys lists the live keys of the namespace without their prefix.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + ":"
	}
	full, err := s.db.keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(full))
	for _, k := range full {
		out = append(out, strings.TrimPrefix(k, prefix))
	}
	return out, nil
}

// Subscribe registers fn for changes to key made by other writers.
func (s *Store) Subscribe(key string, fn func(Change)) func() {
	return s.db.Subscribe(s.FullKey(key), fn)
}
