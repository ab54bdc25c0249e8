package datasync

import (
	"context"
	"slices"
	"time"

	"github.com/MYKHIL/sbapromaster-sub000/internal/dirty"
	"github.com/MYKHIL/sbapromaster-sub000/internal/merge"
	"github.com/MYKHIL/sbapromaster-sub000/internal/remote"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// Refresh pulls a fresh snapshot and reconciles it with the working state.
//
// With no categories the whole main document is read. Subcollections are
// read the first time per binding, or again when force is set; they are
// then cached for the session. Dirty categories and categories edited
// during the read keep their local value while their baseline advances;
// pending score edits are merged item by item.
func (s *Service) Refresh(ctx context.Context, force bool, cats ...schema.Category) (SaveResult, error) {
	if err := schema.CheckCategories(cats...); err != nil {
		return SaveResult{Status: StatusFailed, Err: err}, err
	}
	if s.paused.Load() {
		return skipped("sync paused"), nil
	}
	if s.SchoolID() == "" {
		return skipped("no school bound"), nil
	}
	if !s.syncing.CompareAndSwap(false, true) {
		return skipped("sync already in progress"), nil
	}
	defer s.syncing.Store(false)

	start := time.Now()
	s.bus.publish(Event{Type: EventSyncStarted})
	res, err := s.refresh(ctx, force, cats)
	s.finish("refresh", start, res)
	return res, err
}

func (s *Service) refresh(ctx context.Context, force bool, cats []schema.Category) (SaveResult, error) {
	if len(cats) == 0 {
		cats = schema.AllCategories()
	}

	s.mu.Lock()
	docID := s.docID
	var want []schema.Category
	for _, c := range schema.SortCategories(cats) {
		if c.IsSubcollection() && s.loaded[c] && !force {
			continue
		}
		want = append(want, c)
	}
	sent := s.valuesLocked(want)
	s.mu.Unlock()

	snap, exists, err := s.fetch(ctx, docID, want)
	if err != nil {
		s.metrics.remoteErrors.WithLabelValues(string(remote.CodeOf(err))).Inc()
		s.report(err)
		return SaveResult{Status: StatusFailed, Categories: want, Err: err}, err
	}

	var authoritative []schema.Category
	for _, c := range want {
		if c.IsSubcollection() || exists {
			authoritative = append(authoritative, c)
		}
	}

	s.mu.Lock()
	if s.docID != docID {
		s.mu.Unlock()
		return skipped("school changed during refresh"), nil
	}
	shield := s.changedSinceLocked(sent)
	for _, c := range s.tracker.Categories() {
		if c != schema.CategoryScores {
			shield[c] = true
		}
	}
	res := merge.Apply(s.working, s.baseline, snap, merge.Options{
		Pending: s.pending,
		Tracker: s.tracker,
		Shield:  shield,
		Fetched: authoritative,
	})
	for _, c := range want {
		if c.IsSubcollection() {
			s.loaded[c] = true
		}
	}
	s.prunePendingLocked()
	s.persistReconciledLocked(ctx, want)
	s.mu.Unlock()

	if res.Changed() {
		s.logger.Printf("Refreshed %s: replaced %v, merged %v", docID, res.Replaced, res.Merged)
	}
	s.bus.publish(Event{Type: EventStateChanged, Origin: dirty.OriginRemote, Categories: want})
	return SaveResult{Status: StatusRefreshed, Categories: want}, nil
}

// markScoreEditsLocked adds every score whose working record differs from
// the baseline to the pending edits, so a refresh merges around it.
func (s *Service) markScoreEditsLocked() {
	for _, w := range s.working.Scores {
		b, ok := schema.FindRecord(s.baseline.Scores, w.ID)
		if ok && !schema.EqualScores(w, b) || !ok && !schema.IsEmptyScore(w) {
			s.pending.Add(w.ID)
		}
	}
	for _, b := range s.baseline.Scores {
		if _, ok := schema.FindRecord(s.working.Scores, b.ID); !ok {
			s.pending.Add(b.ID)
		}
	}
}

// ApplyRemoteSnapshot reconciles a snapshot received from the remote store
// outside a refresh, such as a change notification. Only categories present
// in snap are touched.
func (s *Service) ApplyRemoteSnapshot(ctx context.Context, snap *schema.Snapshot) (merge.Result, error) {
	s.mu.Lock()
	if s.docID == "" {
		s.mu.Unlock()
		return merge.Result{}, ErrNotBound
	}
	res := merge.Apply(s.working, s.baseline, snap, merge.Options{
		Pending: s.pending,
		Tracker: s.tracker,
	})
	cats := snap.Categories()
	s.prunePendingLocked()
	s.persistReconciledLocked(ctx, cats)
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventStateChanged, Origin: dirty.OriginRemote, Categories: cats})
	return res, nil
}

// LoadImportedData installs the categories of an imported file. Changed
// categories are marked dirty and the baseline is left alone, so the next
// save is a genuine diff against the remote store.
func (s *Service) LoadImportedData(ctx context.Context, snap *schema.Snapshot) (merge.Result, error) {
	s.mu.Lock()
	if s.docID == "" {
		s.mu.Unlock()
		return merge.Result{}, ErrNotBound
	}
	res := merge.Apply(s.working, s.baseline, snap, merge.Options{
		Mode:    merge.ModeImport,
		Tracker: s.tracker,
	})
	if len(res.Replaced) > 0 {
		s.lastEdit = s.now()
	}
	err := s.persistWorkingLocked(ctx, res.Replaced...)
	if slices.Contains(res.Replaced, schema.CategoryScores) {
		s.markScoreEditsLocked()
		if perr := s.persistPendingLocked(ctx); err == nil {
			err = perr
		}
	}
	s.mu.Unlock()

	s.logger.Printf("Imported %v", res.Replaced)
	s.bus.publish(Event{Type: EventStateChanged, Origin: dirty.OriginLocal, Categories: res.Replaced})
	return res, err
}
