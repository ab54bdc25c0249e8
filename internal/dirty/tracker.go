// Package dirty tracks which dataset categories hold local changes that
// have not been confirmed by the remote store.
//
// Every mutation names its origin. Local edits mark their category dirty;
// changes applied on behalf of the remote store (refresh merges, cross-tab
// updates) never do. The tracker keeps a version counter that moves on every
// membership change and notifies observers so views can re-render.
package dirty

import (
	"sync"

	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// Origin says where a mutation came from.
type Origin int

const (
	// OriginLocal is a genuine user edit.
	OriginLocal Origin = iota
	// OriginRemote is a change applied from a remote snapshot or another tab.
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// Tracker is the set of dirty categories. It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	set       map[schema.Category]struct{}
	version   uint64
	observers []func(version uint64, cats []schema.Category)
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{set: make(map[schema.Category]struct{})}
}

// Mark adds cat for a local change. Remote-origin changes are ignored. It
// reports whether membership changed.
func (t *Tracker) Mark(origin Origin, cat schema.Category) bool {
	if origin == OriginRemote {
		return false
	}
	return t.update(cat, true)
}

// MarkForced adds cat regardless of origin. The import path uses it.
func (t *Tracker) MarkForced(cat schema.Category) bool {
	return t.update(cat, true)
}

// Unmark removes cat. It reports whether membership changed.
func (t *Tracker) Unmark(cat schema.Category) bool {
	return t.update(cat, false)
}

// IsDirty reports whether any of cats is dirty. With no arguments it
// reports whether anything is dirty.
func (t *Tracker) IsDirty(cats ...schema.Category) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(cats) == 0 {
		return len(t.set) > 0
	}
	for _, c := range cats {
		if _, ok := t.set[c]; ok {
			return true
		}
	}
	return false
}

// Categories returns the dirty categories in canonical order.
func (t *Tracker) Categories() []schema.Category {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.categoriesLocked()
}

// Len returns the number of dirty categories.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.set)
}

// Recheck compares current against baseline and sets membership to match:
// equal values are clean, different values are dirty. It reports whether
// the category is dirty afterwards.
func (t *Tracker) Recheck(cat schema.Category, current, baseline any) bool {
	dirty := !schema.EqualCategory(cat, current, baseline)
	t.update(cat, dirty)
	return dirty
}

// RecheckAll rechecks every category of working against baseline.
func (t *Tracker) RecheckAll(working, baseline *schema.Dataset) {
	for _, c := range schema.AllCategories() {
		t.Recheck(c, working.Get(c), baseline.Get(c))
	}
}

// Reset clears the set.
func (t *Tracker) Reset() {
	t.mu.Lock()
	if len(t.set) == 0 {
		t.mu.Unlock()
		return
	}
	t.set = make(map[schema.Category]struct{})
	t.version++
	version, observers := t.version, t.observers
	t.mu.Unlock()

	for _, fn := range observers {
		fn(version, nil)
	}
}

// Version returns a counter that increases on every membership change.
func (t *Tracker) Version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// OnChange registers fn to be called after every membership change with the
// new version and the dirty categories. fn runs outside the tracker lock.
func (t *Tracker) OnChange(fn func(version uint64, cats []schema.Category)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

func (t *Tracker) update(cat schema.Category, dirty bool) bool {
	t.mu.Lock()
	_, present := t.set[cat]
	if present == dirty {
		t.mu.Unlock()
		return false
	}
	if dirty {
		t.set[cat] = struct{}{}
	} else {
		delete(t.set, cat)
	}
	t.version++
	version, cats, observers := t.version, t.categoriesLocked(), t.observers
	t.mu.Unlock()

	for _, fn := range observers {
		fn(version, cats)
	}
	return true
}

func (t *Tracker) categoriesLocked() []schema.Category {
	cats := make([]schema.Category, 0, len(t.set))
	for c := range t.set {
		cats = append(cats, c)
	}
	return schema.SortCategories(cats)
}
