package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MYKHIL/sbapromaster-sub000/internal/datasync"
	"github.com/MYKHIL/sbapromaster-sub000/internal/kvstore"
	"github.com/MYKHIL/sbapromaster-sub000/internal/remote/memstore"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

const testSchool = "adum_presby_2024-2025_term_1"

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: quietLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func setupTestService(t *testing.T) *datasync.Service {
	t.Helper()
	dir := t.TempDir()
	kv, err := kvstore.Open(filepath.Join(dir, "local.db"), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kv.Close() })

	store := memstore.New()
	store.Seed(testSchool, schema.DefaultDataset())

	svc, err := datasync.New(datasync.Config{
		Remote:  store,
		KV:      kv,
		LockDir: filepath.Join(dir, "locks"),
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	ctx := context.Background()
	if err := svc.BindSchool(ctx, testSchool); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Refresh(ctx, true); err != nil {
		t.Fatal(err)
	}
	return svc
}

func dial(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

// readUntil reads messages until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) Message {
	t.Helper()
	for i := 0; i < 50; i++ {
		if msg := readMessage(t, conn); msg.Type == want {
			return msg
		}
	}
	t.Fatalf("no %s message received", want)
	return Message{}
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", server.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: quietLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); strings.HasSuffix(addr, ":0") {
		t.Errorf("GetAddr() = %q, want the bound port", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWelcomeMessageCarriesStatus(t *testing.T) {
	server := setupTestServer(t)
	server.SetStatusFunc(func() Status {
		return Status{SchoolID: testSchool, Online: true, QueueSize: 2}
	})

	conn := dial(t, server)
	msg := readMessage(t, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("first message type = %s, want %s", msg.Type, MessageTypeStatus)
	}
	var st Status
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.SchoolID != testSchool || !st.Online || st.QueueSize != 2 {
		t.Errorf("status = %+v", st)
	}
	waitForClients(t, server, 1)
}

func TestBroadcastReachesClients(t *testing.T) {
	server := setupTestServer(t)
	first := dial(t, server)
	second := dial(t, server)
	readMessage(t, first)
	readMessage(t, second)
	waitForClients(t, server, 2)

	if err := server.BroadcastData(MessageTypeQueueChanged, QueueData{Size: 3}); err != nil {
		t.Fatal(err)
	}
	for _, conn := range []*websocket.Conn{first, second} {
		msg := readUntil(t, conn, MessageTypeQueueChanged)
		var q QueueData
		if err := json.Unmarshal(msg.Data, &q); err != nil {
			t.Fatal(err)
		}
		if q.Size != 3 {
			t.Errorf("queue size = %d, want 3", q.Size)
		}
	}
}

func TestClientDisconnect(t *testing.T) {
	server := setupTestServer(t)
	conn := dial(t, server)
	readMessage(t, conn)
	waitForClients(t, server, 1)

	_ = conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, server, 0)
}

func TestHTTPEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "sbasync_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	server := NewServer(&Config{Gatherer: reg, Logger: quietLogger()})
	server.SetStatusFunc(func() Status { return Status{SchoolID: testSchool, Dirty: []string{"students"}} })
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{"/health", http.StatusOK, `"status":"ok"`},
		{"/status", http.StatusOK, `"dirty":["students"]`},
		{"/metrics", http.StatusOK, "sbasync_test_total 1"},
		{"/", http.StatusOK, "SBA Sync Dashboard"},
		{"/missing", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantCode)
			}
			if !strings.Contains(string(body), tt.contains) {
				t.Errorf("body %q does not contain %q", body, tt.contains)
			}
		})
	}
}

func TestBridgeForwardsServiceEvents(t *testing.T) {
	svc := setupTestService(t)
	server := setupTestServer(t)
	bridge := NewBridge(server, svc, quietLogger())
	bridge.Start()
	defer bridge.Stop()

	conn := dial(t, server)
	var st Status
	if err := json.Unmarshal(readMessage(t, conn).Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.SchoolID != testSchool || !st.Online {
		t.Errorf("status = %+v", st)
	}
	waitForClients(t, server, 1)

	ctx := context.Background()
	if _, err := svc.AddStudent(ctx, schema.Student{Name: "Ama Mensah"}); err != nil {
		t.Fatal(err)
	}
	var change ChangeData
	for len(change.Categories) == 0 {
		if err := json.Unmarshal(readUntil(t, conn, MessageTypeDirtyChanged).Data, &change); err != nil {
			t.Fatal(err)
		}
	}
	if len(change.Categories) != 1 || change.Categories[0] != "students" {
		t.Errorf("dirty categories = %v", change.Categories)
	}

	if _, err := svc.SaveAll(ctx, true); err != nil {
		t.Fatal(err)
	}
	var done SyncData
	for done.Status != string(datasync.StatusSaved) {
		if err := json.Unmarshal(readUntil(t, conn, MessageTypeSyncComplete).Data, &done); err != nil {
			t.Fatal(err)
		}
	}
	if done.Operations != 1 {
		t.Errorf("operations = %d, want 1", done.Operations)
	}
}

func TestSyncDataNilResult(t *testing.T) {
	if got := syncData(nil); got.Status != "" || got.Operations != 0 {
		t.Errorf("syncData(nil) = %+v", got)
	}
}
