package datasync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/MYKHIL/sbapromaster-sub000/internal/dirty"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// DaemonConfig holds configuration for the background sync loop.
type DaemonConfig struct {
	// AutoSaveDelay is how long after the last local change a save runs.
	// Rapid edits are batched into one save.
	AutoSaveDelay time.Duration

	// PostponeRetry is how soon a save postponed by active typing is tried
	// again.
	PostponeRetry time.Duration

	// ProbeInterval is how often connectivity is checked.
	ProbeInterval time.Duration

	// RefreshInterval is how often the remote document is re-read. Zero
	// disables periodic refresh.
	RefreshInterval time.Duration

	// PollInterval is the fallback interval for picking up writes from
	// other processes sharing the key-value store.
	PollInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultDaemonConfig returns sensible defaults.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		AutoSaveDelay:   5 * time.Second,
		PostponeRetry:   time.Second,
		ProbeInterval:   30 * time.Second,
		RefreshInterval: 5 * time.Minute,
		PollInterval:    2 * time.Second,
		Logger:          log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon drives a Service in the background: debounced auto-save,
// connectivity probing, periodic refresh and cross-process change polling.
type Daemon struct {
	svc    *Service
	config *DaemonConfig

	changeQueue   map[schema.Category]time.Time // category -> last local change
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDaemon creates a daemon with the default configuration.
func NewDaemon(svc *Service) (*Daemon, error) {
	return NewDaemonWithConfig(svc, DefaultDaemonConfig())
}

// NewDaemonWithConfig creates a daemon with custom configuration.
func NewDaemonWithConfig(svc *Service, config *DaemonConfig) (*Daemon, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if config == nil {
		config = DefaultDaemonConfig()
	}
	defaults := DefaultDaemonConfig()
	if config.AutoSaveDelay <= 0 {
		config.AutoSaveDelay = defaults.AutoSaveDelay
	}
	if config.PostponeRetry <= 0 {
		config.PostponeRetry = defaults.PostponeRetry
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = defaults.ProbeInterval
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		svc:         svc,
		config:      config,
		changeQueue: make(map[schema.Category]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Queue local changes and save them once AutoSaveDelay has passed
// 2. Probe connectivity and refresh the bound school
// 3. Probe connectivity and drain the offline queue when online
// 4. Refresh periodically and poll for other processes' writes
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	unsubscribe := d.svc.Subscribe(func(ev Event) {
		if ev.Type == EventStateChanged && ev.Origin == dirty.OriginLocal {
			d.queueChange(ev.Categories, time.Now())
		}
	})
	defer unsubscribe()

	d.probe()
	if d.svc.IsOnline() && d.svc.SchoolID() != "" {
		if _, err := d.svc.Refresh(d.ctx, false); err != nil {
			d.config.Logger.Printf("Initial refresh failed: %v", err)
		}
	}

	d.wg.Add(4)
	go d.processChangeQueue()
	go d.probeLoop()
	go d.refreshLoop()
	go d.watchStore()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return nil
}

// queueChange records local changes for debounced saving.
func (d *Daemon) queueChange(cats []schema.Category, at time.Time) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	for _, c := range cats {
		d.changeQueue[c] = at
	}
}

// PendingChanges returns the categories waiting for an automatic save.
func (d *Daemon) PendingChanges() []schema.Category {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	cats := make([]schema.Category, 0, len(d.changeQueue))
	for c := range d.changeQueue {
		cats = append(cats, c)
	}
	return schema.SortCategories(cats)
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	tick := d.config.AutoSaveDelay / 10
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges saves once the most recent queued change is older
// than AutoSaveDelay. A postponed or dropped save is retried later.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	if len(d.changeQueue) == 0 {
		d.changeQueueMu.Unlock()
		return
	}
	var latest time.Time
	for _, at := range d.changeQueue {
		if at.After(latest) {
			latest = at
		}
	}
	d.changeQueueMu.Unlock()

	if time.Since(latest) < d.config.AutoSaveDelay {
		return
	}

	res, err := d.svc.SaveAll(d.ctx, false)
	if err != nil {
		d.config.Logger.Printf("Auto-save failed: %v", err)
	}

	switch {
	case res.Status == StatusPostponed:
		d.config.Logger.Printf("Auto-save postponed: %s", res.Reason)
		d.retryIn(d.config.PostponeRetry)
	case res.Status == StatusSkipped && d.svc.IsSyncing():
		d.retryIn(d.config.PostponeRetry)
	default:
		if res.Status != StatusSkipped {
			d.config.Logger.Printf("Auto-save: %s %v", res.Status, res.Categories)
		}
		d.changeQueueMu.Lock()
		for c, at := range d.changeQueue {
			if !at.After(latest) {
				delete(d.changeQueue, c)
			}
		}
		d.changeQueueMu.Unlock()
	}
}

// retryIn moves the queued changes so the next save runs after delay.
func (d *Daemon) retryIn(delay time.Duration) {
	at := time.Now().Add(delay - d.config.AutoSaveDelay)
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	for c := range d.changeQueue {
		d.changeQueue[c] = at
	}
}

func (d *Daemon) probeLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.probe()
		}
	}
}

// probe pings the remote store, records the result and drains the queue
// while online.
func (d *Daemon) probe() {
	err := d.svc.remote.Ping(d.ctx)
	if d.ctx.Err() != nil {
		return
	}
	online := err == nil
	if _, serr := d.svc.SetOnline(d.ctx, online); serr != nil {
		d.config.Logger.Printf("Queue drain failed: %v", serr)
	}
	if !online {
		return
	}
	if _, perr := d.svc.ProcessQueue(d.ctx); perr != nil {
		d.config.Logger.Printf("Queue drain failed: %v", perr)
	}
}

func (d *Daemon) refreshLoop() {
	defer d.wg.Done()
	if d.config.RefreshInterval <= 0 {
		return
	}

	ticker := time.NewTicker(d.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if !d.svc.IsOnline() {
				continue
			}
			if _, err := d.svc.Refresh(d.ctx, false); err != nil {
				d.config.Logger.Printf("Error refreshing: %v", err)
			}
		}
	}
}

func (d *Daemon) watchStore() {
	defer d.wg.Done()
	if err := d.svc.kv.Watch(d.ctx, d.config.PollInterval); err != nil {
		d.config.Logger.Printf("Store watcher stopped: %v", err)
	}
}
