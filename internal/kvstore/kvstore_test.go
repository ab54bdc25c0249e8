package kvstore

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB opens a store in a temporary directory.
func setupTestDB(t *testing.T) (*DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "local.db")
	db, err := Open(path, log.New(os.Stderr, "[test] ", log.LstdFlags))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func openSecond(t *testing.T, path string) *DB {
	t.Helper()

	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("failed to open second handle: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSetGet(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	store := db.Namespace("school-a")

	type value struct {
		Name string `json:"name"`
	}

	if err := store.Set(ctx, "sba-settings", value{Name: "Ayirebi"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got value
	ok, err := store.Get(ctx, "sba-settings", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || got.Name != "Ayirebi" {
		t.Errorf("Get() = %+v, %v", got, ok)
	}

	ok, err = store.Get(ctx, "missing", &got)
	if err != nil || ok {
		t.Errorf("Get(missing) = %v, %v; want false, nil", ok, err)
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	a := db.Namespace("school-a")
	b := db.Namespace("school-b")

	if err := a.Set(ctx, "sba-students", []int{1, 2}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got []int
	ok, err := b.Get(ctx, "sba-students", &got)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Errorf("namespace b sees namespace a's value: %v", got)
	}

	keys, err := a.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "sba-students" {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestDelete(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	store := db.Namespace("x")

	_ = store.Set(ctx, "k", "v")
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var got string
	if ok, _ := store.Get(ctx, "k", &got); ok {
		t.Error("deleted key is still readable")
	}
	keys, _ := store.Keys(ctx)
	if len(keys) != 0 {
		t.Errorf("Keys() after delete = %v", keys)
	}
}

func TestPollDeliversForeignWritesOnly(t *testing.T) {
	first, path := setupTestDB(t)
	second := openSecond(t, path)
	ctx := context.Background()

	var changes []Change
	unsubscribe := first.Namespace("s").Subscribe("sba-scores", func(c Change) {
		changes = append(changes, c)
	})
	defer unsubscribe()

	// own writes are not echoed
	if err := first.Namespace("s").Set(ctx, "sba-scores", []string{"own"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := first.Poll(ctx); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("own write was delivered: %+v", changes)
	}

	if err := second.Namespace("s").Set(ctx, "sba-scores", []string{"other"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	n, err := first.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if n != 1 || len(changes) != 1 {
		t.Fatalf("Poll() = %d changes, delivered %d; want 1", n, len(changes))
	}

	var got []string
	if err := json.Unmarshal(changes[0].Value, &got); err != nil {
		t.Fatalf("failed to decode change: %v", err)
	}
	if len(got) != 1 || got[0] != "other" {
		t.Errorf("change value = %v", got)
	}
	if changes[0].Writer != second.WriterID() {
		t.Errorf("change writer = %s, want %s", changes[0].Writer, second.WriterID())
	}

	// a second poll sees nothing new
	if n, _ := first.Poll(ctx); n != 0 {
		t.Errorf("second Poll() = %d, want 0", n)
	}
}

func TestPollDeliversDeletions(t *testing.T) {
	first, path := setupTestDB(t)
	second := openSecond(t, path)
	ctx := context.Background()

	_ = second.Namespace("s").Set(ctx, "k", 1)
	_, _ = first.Poll(ctx)

	var deleted bool
	first.Namespace("s").Subscribe("k", func(c Change) { deleted = c.Deleted })
	_ = second.Namespace("s").Delete(ctx, "k")
	if _, err := first.Poll(ctx); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !deleted {
		t.Error("deletion was not delivered")
	}
}

func TestOpenSkipsHistory(t *testing.T) {
	first, path := setupTestDB(t)
	ctx := context.Background()
	_ = first.Namespace("s").Set(ctx, "k", 1)

	late := openSecond(t, path)
	n, err := late.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if n != 0 {
		t.Errorf("new handle should not replay history, got %d changes", n)
	}
}

func TestUnsubscribe(t *testing.T) {
	first, path := setupTestDB(t)
	second := openSecond(t, path)
	ctx := context.Background()

	calls := 0
	unsubscribe := first.Subscribe("k", func(Change) { calls++ })
	unsubscribe()

	_ = second.Namespace("").Set(ctx, "k", 1)
	_, _ = first.Poll(ctx)
	if calls != 0 {
		t.Errorf("unsubscribed callback was called %d times", calls)
	}
}

func TestWatchPollsOnChange(t *testing.T) {
	first, path := setupTestDB(t)
	second := openSecond(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Change, 1)
	first.Subscribe("k", func(c Change) {
		select {
		case got <- c:
		default:
		}
	})

	done := make(chan error, 1)
	go func() { done <- first.Watch(ctx, 200*time.Millisecond) }()

	time.Sleep(100 * time.Millisecond)
	if err := second.Namespace("").Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("change was not delivered by Watch")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}
