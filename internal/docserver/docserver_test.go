package docserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MYKHIL/sbapromaster-sub000/internal/remote"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	st, err := OpenStorage(filepath.Join(t.TempDir(), "docs.db"), nil)
	if err != nil {
		t.Fatalf("OpenStorage failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func setupTestServer(t *testing.T, limit int) (Server, *Storage) {
	t.Helper()
	st := setupTestStorage(t)
	srv, err := NewServer(&Options{Storage: st, DisableReqLogs: true, DailyWriteLimit: limit})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv, st
}

func TestApplyAndRead(t *testing.T) {
	st := setupTestStorage(t)
	ctx := context.Background()

	updates := &schema.Snapshot{
		Settings: &schema.Settings{SchoolName: "Hilltop"},
		Students: []schema.Student{{ID: 1, Name: "Ama"}, {ID: 2, Name: "Kofi"}},
		Scores: []schema.Score{
			{ID: "1-10", StudentID: 1, SubjectID: 10, AssessmentScores: map[string][]string{"1": {"8/10"}}},
			{ID: "2-11", StudentID: 2, SubjectID: 11, AssessmentScores: map[string][]string{"1": {"6/10"}}},
		},
		ActiveSessions: map[string]string{"7": "2026-01-01T10:00:00Z"},
	}
	n, err := st.Apply(ctx, "doc", updates, nil)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	// docs row + settings + 2 students + 2 scores + 1 session
	if n != 7 {
		t.Errorf("Apply ops = %d, want 7", n)
	}

	snap, ok, err := st.ReadDocument(ctx, "doc", nil)
	if err != nil || !ok {
		t.Fatalf("ReadDocument = %v, %v", ok, err)
	}
	if snap.Settings == nil || snap.Settings.SchoolName != "Hilltop" {
		t.Errorf("settings = %+v", snap.Settings)
	}
	if snap.Students != nil {
		t.Errorf("main document carried students: %v", snap.Students)
	}
	if diff := cmp.Diff(updates.ActiveSessions, snap.ActiveSessions); diff != "" {
		t.Errorf("activeSessions mismatch (-want +got):\n%s", diff)
	}

	students, err := st.ReadCollection(ctx, "doc", schema.CategoryStudents)
	if err != nil {
		t.Fatalf("ReadCollection failed: %v", err)
	}
	if diff := cmp.Diff(updates.Students, students.Students); diff != "" {
		t.Errorf("students mismatch (-want +got):\n%s", diff)
	}

	scores, err := st.ReadScoresForSubject(ctx, "doc", 11)
	if err != nil {
		t.Fatalf("ReadScoresForSubject failed: %v", err)
	}
	if len(scores) != 1 || scores[0].ID != "2-11" {
		t.Errorf("subject 11 scores = %+v", scores)
	}
}

func TestApplyUpsertsAndDeletes(t *testing.T) {
	st := setupTestStorage(t)
	ctx := context.Background()

	first := &schema.Snapshot{Students: []schema.Student{{ID: 1, Name: "Ama"}, {ID: 2, Name: "Kofi"}, {ID: 3, Name: "Esi"}}}
	if _, err := st.Apply(ctx, "doc", first, nil); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	second := &schema.Snapshot{Students: []schema.Student{{ID: 1, Name: "Ama Serwaa"}}}
	deletions := map[schema.Category][]string{schema.CategoryStudents: {"2"}}
	if _, err := st.Apply(ctx, "doc", second, deletions); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	got, err := st.ReadCollection(ctx, "doc", schema.CategoryStudents)
	if err != nil {
		t.Fatalf("ReadCollection failed: %v", err)
	}
	want := []schema.Student{{ID: 1, Name: "Ama Serwaa"}, {ID: 3, Name: "Esi"}}
	if diff := cmp.Diff(want, got.Students); diff != "" {
		t.Errorf("students mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyLargeTransaction(t *testing.T) {
	st := setupTestStorage(t)
	ctx := context.Background()

	var students []schema.Student
	for i := 1; i <= BatchSize*2+10; i++ {
		students = append(students, schema.Student{ID: int64(i), Name: fmt.Sprintf("Student %d", i)})
	}
	if _, err := st.Apply(ctx, "doc", &schema.Snapshot{Students: students}, nil); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	counts, err := st.CountItems(ctx, "doc", schema.CategoryStudents, schema.CategoryScores)
	if err != nil {
		t.Fatalf("CountItems failed: %v", err)
	}
	if counts[schema.CategoryStudents] != len(students) {
		t.Errorf("stored %d students, want %d", counts[schema.CategoryStudents], len(students))
	}
	if _, ok := counts[schema.CategoryScores]; ok {
		t.Errorf("unexpected scores count: %v", counts)
	}
}

func TestMissingDocument(t *testing.T) {
	st := setupTestStorage(t)
	_, ok, err := st.ReadDocument(context.Background(), "nobody", nil)
	if err != nil {
		t.Fatalf("ReadDocument failed: %v", err)
	}
	if ok {
		t.Error("missing document reported as existing")
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeCode(t *testing.T, rec *httptest.ResponseRecorder) remote.Code {
	t.Helper()
	var re remote.Error
	if err := json.Unmarshal(rec.Body.Bytes(), &re); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return re.Code
}

func TestServerRoutes(t *testing.T) {
	srv, _ := setupTestServer(t, 0)

	rec := doJSON(t, srv, http.MethodGet, "/api/schools/doc", nil)
	if rec.Code != http.StatusNotFound || decodeCode(t, rec) != remote.CodeNotFound {
		t.Fatalf("missing doc: status %d body %s", rec.Code, rec.Body.String())
	}

	tx := TransactionRequest{Updates: &schema.Snapshot{
		Settings: &schema.Settings{SchoolName: "Hilltop"},
		Subjects: []schema.Subject{{ID: 10, Subject: "Maths"}},
	}}
	rec = doJSON(t, srv, http.MethodPost, "/api/schools/doc/transaction", tx)
	if rec.Code != http.StatusOK {
		t.Fatalf("transaction: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/schools/doc?fields=settings", nil)
	var snap schema.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Settings == nil || snap.Settings.SchoolName != "Hilltop" {
		t.Errorf("settings = %+v", snap.Settings)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/schools/doc/collections/subjects", nil)
	snap = schema.Snapshot{}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Subjects) != 1 || snap.Subjects[0].Subject != "Maths" {
		t.Errorf("subjects = %+v", snap.Subjects)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/schools/doc/collections/grades", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("main document category as collection: status %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health: status %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), "docserver_requests_total") {
		t.Errorf("metrics output missing request counter")
	}
}

func TestServerLockAndQuota(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		lock  bool
		want  remote.Code
	}{
		{name: "locked", lock: true, want: remote.CodePermissionDenied},
		{name: "over quota", limit: 2, want: remote.CodeResourceExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := setupTestServer(t, tt.limit)
			srv.Lock("doc", tt.lock)

			tx := TransactionRequest{Updates: &schema.Snapshot{
				Students: []schema.Student{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}, {ID: 3, Name: "C"}},
			}}
			rec := doJSON(t, srv, http.MethodPost, "/api/schools/doc/transaction", tx)
			if got := decodeCode(t, rec); got != tt.want {
				t.Errorf("code = %s, want %s (status %d)", got, tt.want, rec.Code)
			}
			if rec.Code != remote.HTTPStatus(tt.want) {
				t.Errorf("status = %d, want %d", rec.Code, remote.HTTPStatus(tt.want))
			}
		})
	}
}

func TestParseFields(t *testing.T) {
	got, err := parseFields("settings, grades")
	if err != nil {
		t.Fatalf("parseFields failed: %v", err)
	}
	want := []schema.Category{schema.CategorySettings, schema.CategoryGrades}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	if _, err := parseFields("nope"); err == nil {
		t.Error("expected error for unknown field")
	}
}
