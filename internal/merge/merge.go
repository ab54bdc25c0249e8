// Package merge applies snapshots onto the working state.
//
// A remote snapshot advances the baseline for each category it carries and
// replaces the working value, except where the user has edits in flight:
// pending score edits are kept item by item, and shielded categories keep
// their local value entirely. Dirty flags are then set from a fresh
// comparison, so only categories that really match the remote are cleared.
//
// An imported file goes through the same entry point in import mode, which
// marks changed categories dirty and leaves the baseline alone so the next
// save is a true diff against the remote store.
package merge

import (
	"github.com/MYKHIL/sbapromaster-sub000/internal/dirty"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// Mode selects how a snapshot is applied.
type Mode int

const (
	// ModeRemote applies data read from the remote store.
	ModeRemote Mode = iota
	// ModeImport applies data loaded from a local file.
	ModeImport
)

// Options controls one Apply call.
type Options struct {
	Mode Mode

	// Pending holds score ids with local edits not yet confirmed.
	Pending schema.IDSet

	// Tracker receives the dirty flag updates. It may be nil.
	Tracker *dirty.Tracker

	// Shield lists categories whose local value must be kept, typically
	// edits made while a write was in flight. Their baseline still advances.
	Shield map[schema.Category]bool

	// Fetched lists collection categories that were read explicitly. An
	// empty or missing value for one of them is applied as an empty
	// collection instead of being ignored. Scalar categories are skipped.
	Fetched []schema.Category
}

// Result reports what Apply did, per category.
type Result struct {
	Replaced   []schema.Category // working value replaced by the snapshot
	Merged     []schema.Category // scores merged around pending edits
	Kept       []schema.Category // shielded, local value kept
	Reconciled []schema.Category // clean after the merge
	StillDirty []schema.Category // still differs from the baseline
}

// Changed reports whether the working state was modified.
func (r Result) Changed() bool {
	return len(r.Replaced) > 0 || len(r.Merged) > 0
}

// Apply merges snap into working (and baseline in remote mode).
func Apply(working, baseline *schema.Dataset, snap *schema.Snapshot, opts Options) Result {
	var res Result
	for _, c := range categories(snap, opts.Fetched) {
		received := received(snap, c)

		if opts.Mode == ModeImport {
			if !schema.EqualCategory(c, working.Get(c), received) {
				working.Set(c, received)
				res.Replaced = append(res.Replaced, c)
				if opts.Tracker != nil {
					opts.Tracker.MarkForced(c)
				}
			}
			continue
		}

		value := received
		merged := false
		if c == schema.CategoryScores && opts.Pending.Len() > 0 {
			value = MergeScores(received.([]schema.Score), working.Scores, opts.Pending)
			merged = true
		}

		switch {
		case opts.Shield[c]:
			res.Kept = append(res.Kept, c)
		case !schema.EqualCategory(c, working.Get(c), value):
			working.Set(c, value)
			if merged {
				res.Merged = append(res.Merged, c)
			} else {
				res.Replaced = append(res.Replaced, c)
			}
		}

		baseline.Set(c, schema.CloneValue(c, received))

		if opts.Tracker != nil {
			if opts.Tracker.Recheck(c, working.Get(c), baseline.Get(c)) {
				res.StillDirty = append(res.StillDirty, c)
			} else {
				res.Reconciled = append(res.Reconciled, c)
			}
		}
	}
	return res
}

// MergeScores starts from the remote scores, substitutes the local record
// for every pending id, and appends pending local records the remote does
// not have yet.
func MergeScores(remote, local []schema.Score, pending schema.IDSet) []schema.Score {
	localIndex := make(map[string]schema.Score, len(local))
	for _, s := range local {
		localIndex[s.ID] = s
	}

	out := schema.CloneValue(schema.CategoryScores, remote).([]schema.Score)
	seen := make(map[string]struct{}, len(out))
	for i, s := range out {
		seen[s.ID] = struct{}{}
		if !pending.Has(s.ID) {
			continue
		}
		if l, ok := localIndex[s.ID]; ok {
			out[i] = l
		}
	}
	for _, l := range local {
		if _, ok := seen[l.ID]; ok || !pending.Has(l.ID) {
			continue
		}
		out = append(out, l)
	}
	return schema.CloneValue(schema.CategoryScores, out).([]schema.Score)
}

func categories(snap *schema.Snapshot, fetched []schema.Category) []schema.Category {
	cats := snap.Categories()
	for _, c := range fetched {
		if !c.IsScalar() {
			cats = append(cats, c)
		}
	}
	return schema.SortCategories(cats)
}

// received returns a private copy of the snapshot value, the empty
// collection for fetched categories the snapshot lacks.
func received(snap *schema.Snapshot, c schema.Category) any {
	if snap == nil {
		snap = &schema.Snapshot{}
	}
	return schema.CloneValue(c, snap.Get(c))
}
