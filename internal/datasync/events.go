package datasync

import (
	"log"
	"sync"
	"time"

	"github.com/MYKHIL/sbapromaster-sub000/internal/dirty"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// EventType identifies a notification.
type EventType string

const (
	EventStateChanged  EventType = "state_changed"
	EventDirtyChanged  EventType = "dirty_changed"
	EventSyncStarted   EventType = "sync_started"
	EventSyncFinished  EventType = "sync_complete"
	EventQueueChanged  EventType = "queue_changed"
	EventOnlineChanged EventType = "online_changed"
	EventError         EventType = "sync_error"
)

// Event is published on every change of the working state, the dirty set,
// the queue and the sync cycle.
type Event struct {
	Type       EventType
	Time       time.Time
	Origin     dirty.Origin
	Categories []schema.Category
	Version    uint64 // dirty set version
	QueueSize  int
	Online     bool
	Result     *SaveResult
	Err        error
}

const eventBuffer = 256

// bus delivers events to subscribers from a single goroutine, so publishers
// never block on or re-enter a subscriber.
type bus struct {
	logger *log.Logger
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	subs   map[int]func(Event)
	nextID int
	closed bool
}

func newBus(logger *log.Logger) *bus {
	b := &bus{
		logger: logger,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		subs:   make(map[int]func(Event)),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *bus) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case ev := <-b.events:
			b.mu.Lock()
			fns := make([]func(Event), 0, len(b.subs))
			for id := 0; id < b.nextID; id++ {
				if fn, ok := b.subs[id]; ok {
					fns = append(fns, fn)
				}
			}
			b.mu.Unlock()
			for _, fn := range fns {
				fn(ev)
			}
		}
	}
}

func (b *bus) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	select {
	case b.events <- ev:
	default:
		b.logger.Printf("Warning: event buffer full, dropping %s", ev.Type)
	}
}

func (b *bus) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *bus) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.done)
	b.wg.Wait()
}

// Subscribe registers fn for every event. Events are delivered in order on
// a dedicated goroutine; fn may call back into the Service. The returned
// function removes the subscription.
func (s *Service) Subscribe(fn func(Event)) func() {
	return s.bus.subscribe(fn)
}
