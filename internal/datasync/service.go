// Package datasync owns a school's working dataset and keeps it in step with
// the remote document store.
//
// A Service holds the working state the user edits, the baseline last
// confirmed by the remote store, the dirty set and the pending score edits.
// Saves diff the live working state against the baseline and write the
// result in one transaction; offline saves go to the durable queue and are
// replayed as one consolidated payload on reconnect. Remote snapshots are
// reconciled without discarding edits that are still in flight.
//
// Every local mutation is written through to the key-value store, and
// changes other processes make to the same slots are applied as remote
// updates. State changes are published to subscribers as Events.
package datasync

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MYKHIL/sbapromaster-sub000/internal/diff"
	"github.com/MYKHIL/sbapromaster-sub000/internal/dirty"
	"github.com/MYKHIL/sbapromaster-sub000/internal/kvstore"
	"github.com/MYKHIL/sbapromaster-sub000/internal/queue"
	"github.com/MYKHIL/sbapromaster-sub000/internal/remote"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// DefaultActiveTypingWindow is how recent a local edit must be for an
// automatic save to be postponed.
const DefaultActiveTypingWindow = 500 * time.Millisecond

// Config configures a Service.
type Config struct {
	// Remote is the document store. Required.
	Remote remote.Store

	// KV is the durable local store. Required.
	KV *kvstore.DB

	// LockDir holds the queue drain lock files. Empty disables
	// cross-process locking.
	LockDir string

	// Logger for sync activity (default: stderr logger)
	Logger *log.Logger

	// ErrorSink receives every sync-layer error. Errors are only logged
	// when nil.
	ErrorSink func(error)

	// Registry receives the sync metrics. A private registry is used when
	// nil.
	Registry prometheus.Registerer

	// ActiveTypingWindow postpones automatic saves while the user is
	// typing (default: DefaultActiveTypingWindow)
	ActiveTypingWindow time.Duration

	// Offline starts the service in offline mode.
	Offline bool

	// Clock returns the current time (default: time.Now)
	Clock func() time.Time
}

// Service is the sync orchestrator for one bound school at a time.
type Service struct {
	cfg     Config
	remote  remote.Store
	kv      *kvstore.DB
	logger  *log.Logger
	metrics *metrics
	tracker *dirty.Tracker
	now     func() time.Time

	syncing atomic.Bool
	paused  atomic.Bool
	online  atomic.Bool

	mu       sync.Mutex
	docID    string
	store    *kvstore.Store
	queue    *queue.Queue
	working  *schema.Dataset
	baseline *schema.Dataset
	pending  schema.IDSet
	loaded   map[schema.Category]bool
	lastEdit time.Time
	unsubs   []func()

	bus *bus
}

// New creates a Service. Call BindSchool before using it.
func New(cfg Config) (*Service, error) {
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote store cannot be nil")
	}
	if cfg.KV == nil {
		return nil, fmt.Errorf("kv store cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.ActiveTypingWindow <= 0 {
		cfg.ActiveTypingWindow = DefaultActiveTypingWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Service{
		cfg:      cfg,
		remote:   cfg.Remote,
		kv:       cfg.KV,
		logger:   cfg.Logger,
		metrics:  newMetrics(cfg.Registry),
		tracker:  dirty.New(),
		now:      cfg.Clock,
		working:  &schema.Dataset{},
		baseline: &schema.Dataset{},
		pending:  schema.NewIDSet(),
		loaded:   make(map[schema.Category]bool),
		bus:      newBus(cfg.Logger),
	}
	s.online.Store(!cfg.Offline)
	s.tracker.OnChange(func(version uint64, cats []schema.Category) {
		s.bus.publish(Event{Type: EventDirtyChanged, Version: version, Categories: cats})
	})
	return s, nil
}

// Close unbinds the school and stops event delivery.
func (s *Service) Close() error {
	s.mu.Lock()
	s.unbindLocked()
	s.mu.Unlock()
	s.bus.close()
	return nil
}

// BindSchool loads the persisted state of docID and makes it the current
// school. An empty id unbinds.
func (s *Service) BindSchool(ctx context.Context, docID string) error {
	if docID == "" {
		s.mu.Lock()
		s.unbindLocked()
		s.mu.Unlock()
		s.bus.publish(Event{Type: EventStateChanged, Origin: dirty.OriginRemote})
		return nil
	}

	store := s.kv.Namespace(docID)
	working, baseline, pending, err := loadState(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to load state for %s: %w", docID, err)
	}

	qcfg := queue.Config{
		DB:     s.kv.RawDB(),
		Tenant: docID,
		Logger: log.New(s.logger.Writer(), "[queue] ", s.logger.Flags()),
	}
	if s.cfg.LockDir != "" {
		if err := os.MkdirAll(s.cfg.LockDir, 0755); err != nil {
			return fmt.Errorf("failed to create lock directory: %w", err)
		}
		qcfg.LockPath = filepath.Join(s.cfg.LockDir, docID+".lock")
	}
	q, err := queue.New(ctx, qcfg)
	if err != nil {
		return err
	}

	if err := s.kv.Namespace("").Set(ctx, SchoolIDKey, docID); err != nil {
		return err
	}

	s.mu.Lock()
	s.unbindLocked()
	s.docID = docID
	s.store = store
	s.queue = q
	s.working = working
	s.baseline = baseline
	s.pending = pending
	s.loaded = make(map[schema.Category]bool)
	s.tracker.Reset()
	s.tracker.RecheckAll(s.working, s.baseline)
	s.unsubs = s.subscribeSlots(store)
	s.mu.Unlock()

	s.logger.Printf("Bound school %s (%d dirty categories)", docID, s.tracker.Len())
	s.publishQueueSize(ctx)
	s.bus.publish(Event{Type: EventStateChanged, Origin: dirty.OriginRemote})
	return nil
}

// RestoreSchool binds the school that was bound last, if any.
func (s *Service) RestoreSchool(ctx context.Context) (string, error) {
	var docID string
	ok, err := s.kv.Namespace("").Get(ctx, SchoolIDKey, &docID)
	if err != nil || !ok {
		return "", err
	}
	return docID, s.BindSchool(ctx, docID)
}

func (s *Service) unbindLocked() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.docID = ""
	s.store = nil
	s.queue = nil
	s.working = &schema.Dataset{}
	s.baseline = &schema.Dataset{}
	s.pending = schema.NewIDSet()
	s.loaded = make(map[schema.Category]bool)
	s.tracker.Reset()
}

// SchoolID returns the bound document id, or "".
func (s *Service) SchoolID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docID
}

// Dataset returns a copy of the working state.
func (s *Service) Dataset() *schema.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working.Clone()
}

// Baseline returns a copy of the last confirmed remote state.
func (s *Service) Baseline() *schema.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseline.Clone()
}

// IsDirty reports whether any of cats (or, with none, any category) has
// unsaved changes.
func (s *Service) IsDirty(cats ...schema.Category) bool {
	return s.tracker.IsDirty(cats...)
}

// DirtyCategories returns the dirty categories in dataset order.
func (s *Service) DirtyCategories() []schema.Category {
	return s.tracker.Categories()
}

// DirtyVersion moves whenever the dirty set changes.
func (s *Service) DirtyVersion() uint64 {
	return s.tracker.Version()
}

// PendingScoreEdits returns the ids of score edits not yet confirmed.
func (s *Service) PendingScoreEdits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Slice()
}

// GetPendingUploadData returns the payload the next save would send.
func (s *Service) GetPendingUploadData() *diff.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return diff.Compute(s.working, s.baseline, s.saveCategoriesLocked(nil), s.pending)
}

// QueueSize returns the number of queued offline writes.
func (s *Service) QueueSize(ctx context.Context) (int, error) {
	q := s.currentQueue()
	if q == nil {
		return 0, nil
	}
	return q.Size(ctx)
}

// QueueItems lists the queued offline writes, oldest first.
func (s *Service) QueueItems(ctx context.Context) ([]queue.Item, error) {
	q := s.currentQueue()
	if q == nil {
		return nil, ErrNotBound
	}
	return q.Items(ctx)
}

// ClearQueue drops every queued write without sending it.
func (s *Service) ClearQueue(ctx context.Context) error {
	q := s.currentQueue()
	if q == nil {
		return ErrNotBound
	}
	if err := q.Clear(ctx); err != nil {
		return err
	}
	s.publishQueueSize(ctx)
	return nil
}

// IsSyncing reports whether a save or refresh cycle is running.
func (s *Service) IsSyncing() bool {
	return s.syncing.Load()
}

// IsOnline reports the last known connectivity.
func (s *Service) IsOnline() bool {
	return s.online.Load()
}

// PauseSync stops new save and refresh cycles from starting. A cycle in
// progress runs to completion.
func (s *Service) PauseSync() {
	if !s.paused.Swap(true) {
		s.logger.Println("Sync paused")
	}
}

// ResumeSync lifts PauseSync.
func (s *Service) ResumeSync() {
	if s.paused.Swap(false) {
		s.logger.Println("Sync resumed")
	}
}

// IsPaused reports whether syncing is paused.
func (s *Service) IsPaused() bool {
	return s.paused.Load()
}

// LastLocalEdit returns the time of the most recent local mutation.
func (s *Service) LastLocalEdit() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEdit
}

func (s *Service) currentQueue() *queue.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue
}

// saveCategoriesLocked returns the categories a save covers: cats, or the
// dirty set when cats is empty, plus scores while score edits are pending.
func (s *Service) saveCategoriesLocked(cats []schema.Category) []schema.Category {
	if len(cats) == 0 {
		cats = s.tracker.Categories()
		if s.pending.Len() > 0 {
			cats = append(cats, schema.CategoryScores)
		}
	}
	return schema.SortCategories(cats)
}

// report logs err and hands it to the error sink.
func (s *Service) report(err error) {
	if err == nil {
		return
	}
	s.logger.Printf("Sync error: %v", err)
	s.bus.publish(Event{Type: EventError, Err: err})
	if s.cfg.ErrorSink != nil {
		s.cfg.ErrorSink(err)
	}
}

func (s *Service) publishQueueSize(ctx context.Context) {
	n, err := s.QueueSize(ctx)
	if err != nil {
		s.logger.Printf("Warning: failed to read queue size: %v", err)
		return
	}
	s.metrics.queueDepth.Set(float64(n))
	s.bus.publish(Event{Type: EventQueueChanged, QueueSize: n})
}
