package kvstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher signals when the database file or its WAL is written by any
// process. It watches the parent directory because SQLite creates and
// truncates the -wal and -shm files as it goes.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	base    string
	events  chan struct{}
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewFileWatcher creates a watcher for the database at path.
func NewFileWatcher(path string) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		base:    filepath.Base(path),
		events:  make(chan struct{}, 1),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir.
func (fw *FileWatcher) Start(dir string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch store directory %s: %w", dir, err)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()
	return nil
}

// Stop stops watching and closes the event channels.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()
	close(fw.events)
	close(fw.errors)
	return nil
}

// Events emits a value whenever the database may have changed. Bursts are
// coalesced into a single pending signal.
func (fw *FileWatcher) Events() <-chan struct{} {
	return fw.events
}

// Errors emits watcher errors.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !fw.relevant(event) {
				continue
			}
			select {
			case fw.events <- struct{}{}:
			default:
				// a signal is already pending
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Base(event.Name)
	return name == fw.base || strings.HasPrefix(name, fw.base+"-")
}

// Watch polls for foreign writes whenever the database files change and at
// least once per interval, until ctx is cancelled.
func (db *DB) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	fw, err := NewFileWatcher(db.path)
	if err != nil {
		return err
	}
	if err := fw.Start(filepath.Dir(db.path)); err != nil {
		return err
	}
	defer fw.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll := func() {
		if _, err := db.Poll(ctx); err != nil && ctx.Err() == nil {
			db.logger.Printf("Error polling store: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fw.Events():
			poll()
		case <-ticker.C:
			poll()
		case err := <-fw.Errors():
			db.logger.Printf("Watcher error: %v", err)
		}
	}
}
