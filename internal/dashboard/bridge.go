package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/MYKHIL/sbapromaster-sub000/internal/datasync"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// ChangeData describes a state_changed or dirty_changed event.
type ChangeData struct {
	Origin     string   `json:"origin,omitempty"`
	Categories []string `json:"categories"`
	Version    uint64   `json:"version,omitempty"`
}

// SyncData describes a sync_complete event.
type SyncData struct {
	Status     string   `json:"status"`
	Reason     string   `json:"reason,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Operations int      `json:"operations"`
	QueueID    string   `json:"queue_id,omitempty"`
	Error      string   `json:"error,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

// ErrorData describes a sync_error event.
type ErrorData struct {
	Error string `json:"error"`
}

// QueueData describes a queue_changed event.
type QueueData struct {
	Size int `json:"size"`
}

// OnlineData describes an online_changed event.
type OnlineData struct {
	Online bool `json:"online"`
}

// Bridge forwards the events of a sync service to a dashboard server.
type Bridge struct {
	server *Server
	svc    *datasync.Service
	logger *log.Logger

	mu          sync.Mutex
	unsubscribe func()
}

// NewBridge connects server to svc. Call Start to begin forwarding.
func NewBridge(server *Server, svc *datasync.Service, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = server.logger
	}
	b := &Bridge{server: server, svc: svc, logger: logger}
	server.SetStatusFunc(b.Status)
	return b
}

// Start subscribes to the service.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsubscribe != nil {
		return
	}
	b.unsubscribe = b.svc.Subscribe(b.OnEvent)
}

// Stop removes the subscription.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
}

// Status reads the current state of the service.
func (b *Bridge) Status() Status {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st := Status{
		SchoolID:      b.svc.SchoolID(),
		Online:        b.svc.IsOnline(),
		Syncing:       b.svc.IsSyncing(),
		Paused:        b.svc.IsPaused(),
		Dirty:         categoryNames(b.svc.DirtyCategories()),
		LastLocalEdit: b.svc.LastLocalEdit(),
	}
	if n, err := b.svc.QueueSize(ctx); err == nil {
		st.QueueSize = n
	}
	return st
}

// OnEvent converts ev into a dashboard message and broadcasts it.
func (b *Bridge) OnEvent(ev datasync.Event) {
	var (
		t    MessageType
		data any
	)
	switch ev.Type {
	case datasync.EventStateChanged:
		t = MessageTypeStateChanged
		data = ChangeData{Origin: ev.Origin.String(), Categories: categoryNames(ev.Categories)}
	case datasync.EventDirtyChanged:
		t = MessageTypeDirtyChanged
		data = ChangeData{Categories: categoryNames(ev.Categories), Version: ev.Version}
	case datasync.EventSyncStarted:
		t = MessageTypeSyncStarted
		data = ChangeData{Categories: categoryNames(ev.Categories)}
	case datasync.EventSyncFinished:
		t = MessageTypeSyncComplete
		data = syncData(ev.Result)
	case datasync.EventError:
		t = MessageTypeSyncError
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		data = ErrorData{Error: msg}
	case datasync.EventQueueChanged:
		t = MessageTypeQueueChanged
		data = QueueData{Size: ev.QueueSize}
	case datasync.EventOnlineChanged:
		t = MessageTypeOnline
		data = OnlineData{Online: ev.Online}
	default:
		return
	}

	if err := b.server.BroadcastData(t, data); err != nil {
		b.logger.Printf("Failed to forward %s: %v", ev.Type, err)
	}
}

func syncData(res *datasync.SaveResult) SyncData {
	if res == nil {
		return SyncData{}
	}
	d := SyncData{
		Status:     string(res.Status),
		Reason:     res.Reason,
		Categories: categoryNames(res.Categories),
		Operations: res.Operations,
		QueueID:    res.QueueID,
	}
	if res.Err != nil {
		d.Error = res.Err.Error()
	}
	for _, v := range res.Violations {
		d.Violations = append(d.Violations, v.Error())
	}
	return d
}

func categoryNames(cats []schema.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
