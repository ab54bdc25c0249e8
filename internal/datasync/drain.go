package datasync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MYKHIL/sbapromaster-sub000/internal/diff"
	"github.com/MYKHIL/sbapromaster-sub000/internal/queue"
	"github.com/MYKHIL/sbapromaster-sub000/internal/remote"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// SetOnline records connectivity. Coming back online drains the offline
// queue.
func (s *Service) SetOnline(ctx context.Context, online bool) (SaveResult, error) {
	if s.online.Swap(online) == online {
		return skipped("connectivity unchanged"), nil
	}
	if online {
		s.logger.Println("Network restored")
	} else {
		s.logger.Println("Network lost, saves will be queued")
	}
	s.bus.publish(Event{Type: EventOnlineChanged, Online: online})
	if !online {
		return skipped("offline"), nil
	}
	return s.ProcessQueue(ctx)
}

// ProcessQueue sends the offline queue as one consolidated payload built
// from the current working state rather than from the queued snapshots.
// Deletions that fail the mass-deletion check are dropped and reported. On
// success the queue is cleared.
func (s *Service) ProcessQueue(ctx context.Context) (SaveResult, error) {
	if s.paused.Load() {
		return skipped("sync paused"), nil
	}
	if s.SchoolID() == "" {
		return skipped("no school bound"), nil
	}
	if !s.online.Load() {
		return skipped("offline"), nil
	}
	n, err := s.QueueSize(ctx)
	if err != nil {
		return SaveResult{Status: StatusFailed, Err: err}, err
	}
	if n == 0 {
		return skipped("queue is empty"), nil
	}
	if !s.syncing.CompareAndSwap(false, true) {
		return skipped("sync already in progress"), nil
	}
	defer s.syncing.Store(false)

	start := time.Now()
	s.bus.publish(Event{Type: EventSyncStarted})
	res, err := s.drain(ctx)
	s.finish("drain", start, res)
	return res, err
}

// drain runs with the syncing flag held.
func (s *Service) drain(ctx context.Context) (SaveResult, error) {
	q := s.currentQueue()
	if q == nil {
		return skipped("no school bound"), nil
	}
	unlock, err := q.Lock()
	if errors.Is(err, queue.ErrLocked) {
		return skipped("queue is being drained by another process"), nil
	}
	if err != nil {
		return SaveResult{Status: StatusFailed, Err: err}, err
	}
	defer unlock()

	queued, err := q.Categories(ctx)
	if err != nil {
		return SaveResult{Status: StatusFailed, Err: err}, err
	}

	s.mu.Lock()
	docID := s.docID
	cats := schema.SortCategories(append(queued, s.saveCategoriesLocked(nil)...))
	payload, violations := diff.Consolidate(s.working, s.baseline, cats, s.pending)
	sent := s.valuesLocked(cats)
	s.mu.Unlock()

	for _, v := range violations {
		var md *diff.MassDeletionError
		if errors.As(v, &md) {
			s.metrics.deletionBlocks.WithLabelValues(string(md.Category)).Inc()
		}
		s.report(v)
	}

	res := SaveResult{Categories: cats, Violations: violations}
	if !payload.Empty() {
		if err := s.remote.WriteTransaction(ctx, docID, payload.Updates, payload.Deletions); err != nil {
			s.metrics.remoteErrors.WithLabelValues(string(remote.CodeOf(err))).Inc()
			if merr := q.MarkRetry(ctx); merr != nil {
				s.logger.Printf("Warning: %v", merr)
			}
			res.Err = err
			if remote.IsPermanent(err) {
				res.Status = StatusFailed
				s.report(err)
				return res, err
			}
			res.Status = StatusQueued
			s.report(fmt.Errorf("queue replay failed, will retry: %w", err))
			return res, nil
		}
		res.Operations = payload.Count()
		s.metrics.operations.Add(float64(res.Operations))
	}

	if err := q.Clear(ctx); err != nil {
		s.report(err)
		res.Status = StatusFailed
		res.Err = err
		return res, err
	}
	s.logger.Printf("Synced current state of %v to %s, queue cleared (%d operations)", cats, docID, res.Operations)
	s.publishQueueSize(ctx)

	s.reconcileAfterWrite(ctx, docID, cats, payload, sent)
	res.Status = StatusSaved
	return res, nil
}

// ReplayQueue sends every queued write as it was recorded, oldest first.
// It bypasses consolidation and the mass-deletion check, so an older item
// can overwrite newer remote data; it is meant as an explicit operator
// action. Written categories are read back afterwards.
func (s *Service) ReplayQueue(ctx context.Context) (SaveResult, error) {
	if s.paused.Load() {
		return skipped("sync paused"), nil
	}
	s.mu.Lock()
	docID, q := s.docID, s.queue
	s.mu.Unlock()
	if q == nil {
		return skipped("no school bound"), nil
	}
	if !s.syncing.CompareAndSwap(false, true) {
		return skipped("sync already in progress"), nil
	}
	defer s.syncing.Store(false)

	start := time.Now()
	s.bus.publish(Event{Type: EventSyncStarted})

	cats, err := q.Categories(ctx)
	if err != nil {
		res := SaveResult{Status: StatusFailed, Err: err}
		s.finish("replay", start, res)
		return res, err
	}

	ops, written := 0, 0
	allOK, err := q.Drain(ctx, func(ctx context.Context, item queue.Item) error {
		if werr := s.remote.WriteTransaction(ctx, docID, item.Payload, item.Deletions); werr != nil {
			s.metrics.remoteErrors.WithLabelValues(string(remote.CodeOf(werr))).Inc()
			return werr
		}
		written++
		if item.Payload != nil {
			for _, c := range item.Payload.Categories() {
				ops += schema.Size(c, item.Payload.Get(c))
			}
		}
		return nil
	})
	res := SaveResult{Status: StatusSaved, Categories: cats, Operations: ops}
	switch {
	case err != nil:
		res.Status, res.Err = StatusFailed, err
		s.report(err)
	case !allOK:
		res.Status = StatusQueued
		res.Err = fmt.Errorf("some queued writes failed and stay queued")
		s.report(res.Err)
	}
	s.publishQueueSize(ctx)

	if written > 0 {
		s.mu.Lock()
		sent := s.valuesLocked(cats)
		s.mu.Unlock()
		s.reconcileAfterWrite(ctx, docID, cats, diff.NewPayload(), sent)
	}
	s.finish("replay", start, res)
	return res, err
}
