package datasync

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MYKHIL/sbapromaster-sub000/internal/diff"
	"github.com/MYKHIL/sbapromaster-sub000/internal/dirty"
	"github.com/MYKHIL/sbapromaster-sub000/internal/merge"
	"github.com/MYKHIL/sbapromaster-sub000/internal/remote"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// SaveAll uploads the dirty categories.
//
// It does nothing while paused, without a bound school, with nothing dirty
// or while another cycle runs; a dropped save leaves the dirty set intact
// for the next attempt. Automatic saves (manual false) are postponed while
// the last local edit is within the active typing window.
//
// Offline, the full current values of the dirty categories are queued.
// Online with a non-empty queue, the queue is drained as one consolidated
// payload. Otherwise the diff is written in one transaction, the saved
// categories are read back and reconciled. Permanent remote errors are
// returned and never queued; other remote errors queue the write.
func (s *Service) SaveAll(ctx context.Context, manual bool) (SaveResult, error) {
	return s.save(ctx, manual, nil)
}

// SavePage saves one category. It does nothing if cat is not dirty.
func (s *Service) SavePage(ctx context.Context, cat schema.Category) (SaveResult, error) {
	if err := schema.CheckCategories(cat); err != nil {
		return SaveResult{Status: StatusFailed, Err: err}, err
	}
	if !s.tracker.IsDirty(cat) {
		return skipped(fmt.Sprintf("%s is not dirty", cat)), nil
	}
	return s.save(ctx, true, []schema.Category{cat})
}

func (s *Service) save(ctx context.Context, manual bool, only []schema.Category) (SaveResult, error) {
	if s.paused.Load() {
		return skipped("sync paused"), nil
	}
	if s.SchoolID() == "" {
		return skipped("no school bound"), nil
	}
	if !s.tracker.IsDirty() {
		return skipped("nothing to save"), nil
	}
	if !manual {
		if since := s.now().Sub(s.LastLocalEdit()); since < s.cfg.ActiveTypingWindow {
			return SaveResult{
				Status: StatusPostponed,
				Reason: fmt.Sprintf("last edit %s ago", since.Round(time.Millisecond)),
			}, nil
		}
	}
	if !s.syncing.CompareAndSwap(false, true) {
		return skipped("sync already in progress"), nil
	}
	defer s.syncing.Store(false)

	start := time.Now()
	s.bus.publish(Event{Type: EventSyncStarted})
	res, err := s.runSave(ctx, only)
	s.finish("save", start, res)
	return res, err
}

func (s *Service) runSave(ctx context.Context, only []schema.Category) (SaveResult, error) {
	if !s.online.Load() {
		return s.enqueue(ctx, only)
	}

	if n, err := s.QueueSize(ctx); err != nil {
		s.logger.Printf("Warning: failed to read queue size: %v", err)
	} else if n > 0 {
		return s.drain(ctx)
	}

	s.mu.Lock()
	docID := s.docID
	cats := s.saveCategoriesLocked(only)
	payload := diff.Compute(s.working, s.baseline, cats, s.pending)
	if payload.Empty() {
		var touched []schema.Category
		if slices.Contains(cats, schema.CategoryScores) && s.dropPlaceholdersLocked() {
			touched = append(touched, schema.CategoryScores)
		}
		for _, c := range cats {
			s.tracker.Recheck(c, s.working.Get(c), s.baseline.Get(c))
		}
		s.prunePendingLocked()
		s.persistReconciledLocked(ctx, touched)
		s.mu.Unlock()
		return SaveResult{Status: StatusNothing, Categories: cats}, nil
	}
	sent := s.valuesLocked(cats)
	s.mu.Unlock()

	if err := s.remote.WriteTransaction(ctx, docID, payload.Updates, payload.Deletions); err != nil {
		return s.writeFailed(ctx, cats, err)
	}
	s.metrics.operations.Add(float64(payload.Count()))
	s.logger.Printf("Saved %v to %s (%d operations)", cats, docID, payload.Count())

	s.reconcileAfterWrite(ctx, docID, cats, payload, sent)
	return SaveResult{Status: StatusSaved, Categories: cats, Operations: payload.Count()}, nil
}

// writeFailed classifies a failed write: permanent errors are surfaced,
// anything else queues the categories for a later retry.
func (s *Service) writeFailed(ctx context.Context, cats []schema.Category, err error) (SaveResult, error) {
	s.metrics.remoteErrors.WithLabelValues(string(remote.CodeOf(err))).Inc()
	if remote.IsPermanent(err) {
		s.report(err)
		return SaveResult{Status: StatusFailed, Categories: cats, Err: err}, err
	}

	res, qerr := s.enqueue(ctx, cats)
	res.Err = err
	if qerr != nil {
		return res, qerr
	}
	s.report(fmt.Errorf("save queued for retry: %w", err))
	return res, nil
}

// enqueue stores the full current values of the save categories in the
// offline queue. The dirty set is left as it is.
func (s *Service) enqueue(ctx context.Context, only []schema.Category) (SaveResult, error) {
	s.mu.Lock()
	q := s.queue
	cats := s.saveCategoriesLocked(only)
	working := s.working.Clone()
	s.mu.Unlock()

	if q == nil {
		return skipped("no school bound"), nil
	}
	id, err := q.EnqueueCategories(ctx, working, cats)
	if err != nil {
		s.report(err)
		return SaveResult{Status: StatusFailed, Categories: cats, Err: err}, err
	}
	s.logger.Printf("Queued %v as %s", cats, id)
	s.publishQueueSize(ctx)
	return SaveResult{Status: StatusQueued, Categories: cats, QueueID: id}, nil
}

// reconcileAfterWrite reads back the written categories and merges them.
// Categories edited while the write was in flight keep their local value.
// When the read fails the baseline advances by the written payload.
func (s *Service) reconcileAfterWrite(ctx context.Context, docID string, cats []schema.Category, payload *diff.Payload, sent map[schema.Category]any) {
	fetched := schema.SortCategories(append(payload.Categories(), cats...))
	snap, _, err := s.fetch(ctx, docID, fetched)

	s.mu.Lock()
	if s.docID != docID {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.logger.Printf("Warning: re-fetch after save failed, assuming written values: %v", err)
		remote.ApplyWrite(s.baseline, payload.Updates, payload.Deletions)
		for _, c := range fetched {
			s.tracker.Recheck(c, s.working.Get(c), s.baseline.Get(c))
		}
	} else {
		res := merge.Apply(s.working, s.baseline, snap, merge.Options{
			Pending: s.pending,
			Tracker: s.tracker,
			Shield:  s.changedSinceLocked(sent),
			Fetched: fetched,
		})
		if len(res.Kept) > 0 {
			s.logger.Printf("Kept local %v edited during save", res.Kept)
		}
	}
	s.prunePendingLocked()
	s.persistReconciledLocked(ctx, fetched)
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventStateChanged, Origin: dirty.OriginRemote, Categories: fetched})
}

// fetch reads cats from the remote store: the main document categories in
// one read and each subcollection concurrently. exists reports whether the
// main document was found.
func (s *Service) fetch(ctx context.Context, docID string, cats []schema.Category) (snap *schema.Snapshot, exists bool, err error) {
	var main, subs []schema.Category
	for _, c := range cats {
		if c.IsSubcollection() {
			subs = append(subs, c)
		} else {
			main = append(main, c)
		}
	}

	snap = &schema.Snapshot{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	if len(main) > 0 {
		g.Go(func() error {
			doc, err := s.remote.ReadDocument(gctx, docID, main...)
			if err != nil {
				return fmt.Errorf("failed to read document %s: %w", docID, err)
			}
			if doc == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			exists = true
			snap.Merge(doc)
			return nil
		})
	}
	for _, c := range subs {
		g.Go(func() error {
			part, err := s.remote.ReadSubcollection(gctx, docID, c)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", c, err)
			}
			if part == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			snap.Set(c, schema.CloneValue(c, part.Get(c)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	return snap, exists, nil
}

// valuesLocked copies the working values of cats.
func (s *Service) valuesLocked(cats []schema.Category) map[schema.Category]any {
	out := make(map[schema.Category]any, len(cats))
	for _, c := range cats {
		out[c] = schema.CloneValue(c, s.working.Get(c))
	}
	return out
}

// changedSinceLocked returns the categories whose working value no longer
// matches sent. Scores with pending edits are left to the score merge.
func (s *Service) changedSinceLocked(sent map[schema.Category]any) map[schema.Category]bool {
	shield := make(map[schema.Category]bool)
	for c, v := range sent {
		if c == schema.CategoryScores && s.pending.Len() > 0 {
			continue
		}
		if !schema.EqualCategory(c, s.working.Get(c), v) {
			shield[c] = true
		}
	}
	return shield
}

// dropPlaceholdersLocked removes empty working scores that the baseline
// lacks and no pending edit claims. The diff never uploads them.
func (s *Service) dropPlaceholdersLocked() bool {
	kept := slices.DeleteFunc(slices.Clone(s.working.Scores), func(w schema.Score) bool {
		if s.pending.Has(w.ID) || !schema.IsEmptyScore(w) {
			return false
		}
		_, ok := schema.FindRecord(s.baseline.Scores, w.ID)
		return !ok
	})
	if len(kept) == len(s.working.Scores) {
		return false
	}
	s.working.Scores = kept
	return true
}

// prunePendingLocked drops pending score ids whose working record matches
// the baseline.
func (s *Service) prunePendingLocked() {
	for id := range s.pending {
		w, wok := schema.FindRecord(s.working.Scores, id)
		b, bok := schema.FindRecord(s.baseline.Scores, id)
		if wok == bok && (!wok || schema.EqualScores(w, b)) {
			s.pending.Remove(id)
		}
	}
}

func (s *Service) finish(kind string, start time.Time, res SaveResult) {
	s.metrics.cycles.WithLabelValues(kind, string(res.Status)).Inc()
	s.metrics.cycleDuration.Observe(time.Since(start).Seconds())
	s.bus.publish(Event{Type: EventSyncFinished, Result: &res, Categories: res.Categories})
}
