// Package remote defines the contract between the sync layer and the remote
// document store, plus the error taxonomy shared by every implementation.
//
// A school's data lives in one main document (settings, grades, report
// data, users, logs, active sessions) and a set of subcollections for the
// large lists (students, classes, subjects, assessments, scores). Writes are
// transactional: a set of category updates and per-category deletions is
// applied atomically or not at all.
//
// Write semantics, shared by every Store:
//   - collection records are upserted by id; listed ids are deleted
//   - settings are replaced
//   - active sessions are merged key by key (heartbeats from other users
//     are never dropped); listed keys are deleted
package remote

import (
	"context"

	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// Store is a remote document store.
type Store interface {
	// ReadDocument returns the main document categories of docID,
	// restricted to fields when any are given. A missing document yields a
	// nil snapshot and a nil error.
	ReadDocument(ctx context.Context, docID string, fields ...schema.Category) (*schema.Snapshot, error)

	// ReadSubcollection returns every record of a subcollection category.
	ReadSubcollection(ctx context.Context, docID string, cat schema.Category) (*schema.Snapshot, error)

	// WriteTransaction applies updates and deletions atomically.
	WriteTransaction(ctx context.Context, docID string, updates *schema.Snapshot, deletions map[schema.Category][]string) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// ApplyWrite applies a transaction to an in-memory document. Stores keep
// their data as a Dataset per document and share this helper so that the
// write semantics stay identical.
func ApplyWrite(doc *schema.Dataset, updates *schema.Snapshot, deletions map[schema.Category][]string) {
	for _, c := range updates.Categories() {
		doc.Set(c, schema.Upsert(c, doc.Get(c), schema.CloneValue(c, updates.Get(c))))
	}
	for c, ids := range deletions {
		if c == schema.CategorySettings || len(ids) == 0 {
			continue
		}
		doc.Set(c, schema.Remove(c, doc.Get(c), ids))
	}
}

// Project returns the categories of doc selected by fields as a snapshot.
// With no fields, every main document category is returned.
func Project(doc *schema.Dataset, fields []schema.Category) *schema.Snapshot {
	if len(fields) == 0 {
		fields = schema.MainDocumentCategories()
	}
	var cats []schema.Category
	for _, c := range fields {
		if !c.IsSubcollection() {
			cats = append(cats, c)
		}
	}
	if len(cats) == 0 {
		return &schema.Snapshot{}
	}
	return doc.Snapshot(cats...)
}
