package datasync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MYKHIL/sbapromaster-sub000/internal/dirty"
	"github.com/MYKHIL/sbapromaster-sub000/internal/kvstore"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// Slot keys of the key-value store. Category slots live in the school's
// namespace; SchoolIDKey is global.
const (
	SchoolIDKey      = "sba-school-id"
	PendingScoresKey = "sba-pending-scores"
)

var slotNames = map[schema.Category]string{
	schema.CategorySettings:       "settings",
	schema.CategoryStudents:       "students",
	schema.CategorySubjects:       "subjects",
	schema.CategoryClasses:        "classes",
	schema.CategoryGrades:         "grades",
	schema.CategoryAssessments:    "assessments",
	schema.CategoryScores:         "scores",
	schema.CategoryReportData:     "report-data",
	schema.CategoryClassData:      "class-data",
	schema.CategoryUsers:          "users",
	schema.CategoryUserLogs:       "user-logs",
	schema.CategoryActiveSessions: "active-sessions",
}

// WorkingKey is the slot holding the working value of c.
func WorkingKey(c schema.Category) string {
	return "sba-" + slotNames[c]
}

// BaselineKey is the slot holding the baseline value of c.
func BaselineKey(c schema.Category) string {
	return "sba-baseline-" + slotNames[c]
}

// decodeSlot decodes a stored category value. A nil raw value yields the
// category's zero value.
func decodeSlot(c schema.Category, raw []byte) (any, error) {
	if len(raw) == 0 {
		raw = []byte("null")
	}
	name, _ := json.Marshal(string(c))
	wrapped := make([]byte, 0, len(raw)+len(name)+3)
	wrapped = append(wrapped, '{')
	wrapped = append(wrapped, name...)
	wrapped = append(wrapped, ':')
	wrapped = append(wrapped, raw...)
	wrapped = append(wrapped, '}')

	var ds schema.Dataset
	if err := json.Unmarshal(wrapped, &ds); err != nil {
		return nil, fmt.Errorf("invalid %s slot: %w", c, err)
	}
	return ds.Get(c), nil
}

// loadState reads the persisted working state, baseline and pending score
// edits of a school. A category without a working slot starts from its
// baseline.
func loadState(ctx context.Context, store *kvstore.Store) (working, baseline *schema.Dataset, pending schema.IDSet, err error) {
	working = &schema.Dataset{}
	baseline = &schema.Dataset{}

	for _, c := range schema.AllCategories() {
		var raw json.RawMessage
		ok, err := store.Get(ctx, BaselineKey(c), &raw)
		if err != nil {
			return nil, nil, nil, err
		}
		if ok {
			v, err := decodeSlot(c, raw)
			if err != nil {
				return nil, nil, nil, err
			}
			baseline.Set(c, v)
		}

		raw = nil
		ok, err = store.Get(ctx, WorkingKey(c), &raw)
		if err != nil {
			return nil, nil, nil, err
		}
		if !ok {
			working.Set(c, schema.CloneValue(c, baseline.Get(c)))
			continue
		}
		v, err := decodeSlot(c, raw)
		if err != nil {
			return nil, nil, nil, err
		}
		working.Set(c, v)
	}

	var ids []string
	if _, err := store.Get(ctx, PendingScoresKey, &ids); err != nil {
		return nil, nil, nil, err
	}
	return working, baseline, schema.NewIDSet(ids...), nil
}

func (s *Service) persistWorkingLocked(ctx context.Context, cats ...schema.Category) error {
	if s.store == nil {
		return nil
	}
	for _, c := range cats {
		if err := s.store.Set(ctx, WorkingKey(c), s.working.Get(c)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) persistBaselineLocked(ctx context.Context, cats ...schema.Category) error {
	if s.store == nil {
		return nil
	}
	for _, c := range cats {
		if err := s.store.Set(ctx, BaselineKey(c), s.baseline.Get(c)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) persistPendingLocked(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Set(ctx, PendingScoresKey, s.pending.Slice())
}

// persistReconciledLocked writes working, baseline and pending after a
// merge. Failures are logged; the in-memory state stays authoritative.
func (s *Service) persistReconciledLocked(ctx context.Context, cats []schema.Category) {
	err := s.persistWorkingLocked(ctx, cats...)
	if err == nil {
		err = s.persistBaselineLocked(ctx, cats...)
	}
	if err == nil {
		err = s.persistPendingLocked(ctx)
	}
	if err != nil {
		s.logger.Printf("Warning: failed to persist reconciled state: %v", err)
	}
}

// subscribeSlots applies writes other processes make to the school's slots.
func (s *Service) subscribeSlots(store *kvstore.Store) []func() {
	var unsubs []func()
	for _, c := range schema.AllCategories() {
		unsubs = append(unsubs,
			store.Subscribe(WorkingKey(c), func(ch kvstore.Change) { s.applyCrossTab(store, c, false, ch) }),
			store.Subscribe(BaselineKey(c), func(ch kvstore.Change) { s.applyCrossTab(store, c, true, ch) }),
		)
	}
	unsubs = append(unsubs, store.Subscribe(PendingScoresKey, func(ch kvstore.Change) {
		var ids []string
		if !ch.Deleted {
			if err := json.Unmarshal(ch.Value, &ids); err != nil {
				s.logger.Printf("Warning: ignoring invalid pending slot from %s: %v", ch.Writer, err)
				return
			}
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.store == store {
			s.pending = schema.NewIDSet(ids...)
		}
	}))
	return unsubs
}

// applyCrossTab installs a value written by another process. It is a
// remote-origin update: the category is rechecked, never marked.
func (s *Service) applyCrossTab(store *kvstore.Store, c schema.Category, isBaseline bool, ch kvstore.Change) {
	var raw []byte
	if !ch.Deleted {
		raw = ch.Value
	}
	v, err := decodeSlot(c, raw)
	if err != nil {
		s.logger.Printf("Warning: ignoring %s update from %s: %v", c, ch.Writer, err)
		return
	}

	s.mu.Lock()
	if s.store != store {
		s.mu.Unlock()
		return
	}
	if isBaseline {
		s.baseline.Set(c, v)
	} else {
		s.working.Set(c, v)
	}
	s.tracker.Recheck(c, s.working.Get(c), s.baseline.Get(c))
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventStateChanged, Origin: dirty.OriginRemote, Categories: []schema.Category{c}})
}
