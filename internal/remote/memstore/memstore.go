// Package memstore is an in-memory remote.Store.
//
// It keeps one dataset per document under a mutex and supports fault
// injection, which makes it the store of choice for tests and local demos.
package memstore

import (
	"context"
	"sync"

	"github.com/MYKHIL/sbapromaster-sub000/internal/remote"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

var _ remote.Store = (*Store)(nil)

// Store is a thread-safe in-memory document store.
type Store struct {
	mu       sync.Mutex
	docs     map[string]*schema.Dataset
	offline  bool
	failNext []error
	locked   map[string]bool
	writes   int
	reads    int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		docs:   make(map[string]*schema.Dataset),
		locked: make(map[string]bool),
	}
}

// Seed replaces the document docID with a copy of ds.
func (s *Store) Seed(docID string, ds *schema.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docID] = ds.Clone()
}

// Document returns a copy of docID, or nil if it does not exist.
func (s *Store) Document(docID string) *schema.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[docID]; ok {
		return doc.Clone()
	}
	return nil
}

// SetOffline makes every call fail with an unavailable error while true.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// FailNext queues errors returned by the next calls, one per call.
func (s *Store) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, errs...)
}

// Lock rejects writes to docID with permission-denied, the way a data
// entry lock does.
func (s *Store) Lock(docID string, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked[docID] = locked
}

// Writes returns the number of successful transactions.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Reads returns the number of successful reads.
func (s *Store) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// ReadDocument implements remote.Store.
func (s *Store) ReadDocument(ctx context.Context, docID string, fields ...schema.Category) (*schema.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failLocked(ctx); err != nil {
		return nil, err
	}
	doc, ok := s.docs[docID]
	if !ok {
		return nil, nil
	}
	s.reads++
	return remote.Project(doc, fields), nil
}

// ReadSubcollection implements remote.Store.
func (s *Store) ReadSubcollection(ctx context.Context, docID string, cat schema.Category) (*schema.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failLocked(ctx); err != nil {
		return nil, err
	}
	if !cat.IsSubcollection() {
		return nil, remote.Errorf(remote.CodeInvalidArgument, "%s is not a subcollection", cat)
	}
	snap := &schema.Snapshot{}
	if doc, ok := s.docs[docID]; ok {
		snap.Set(cat, schema.CloneValue(cat, doc.Get(cat)))
	}
	s.reads++
	return snap, nil
}

// WriteTransaction implements remote.Store.
func (s *Store) WriteTransaction(ctx context.Context, docID string, updates *schema.Snapshot, deletions map[schema.Category][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failLocked(ctx); err != nil {
		return err
	}
	if s.locked[docID] {
		return remote.Errorf(remote.CodePermissionDenied, "document %s is locked", docID)
	}

	doc, ok := s.docs[docID]
	if !ok {
		doc = &schema.Dataset{}
		s.docs[docID] = doc
	}
	if updates == nil {
		updates = &schema.Snapshot{}
	}
	remote.ApplyWrite(doc, updates, deletions)
	s.writes++
	return nil
}

// Ping implements remote.Store.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return remote.Errorf(remote.CodeUnavailable, "store is offline")
	}
	return ctx.Err()
}

func (s *Store) failLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.offline {
		return remote.Errorf(remote.CodeUnavailable, "store is offline")
	}
	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		return err
	}
	return nil
}
