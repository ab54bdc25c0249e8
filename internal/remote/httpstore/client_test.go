package httpstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MYKHIL/sbapromaster-sub000/internal/docserver"
	"github.com/MYKHIL/sbapromaster-sub000/internal/remote"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

func setupTestClient(t *testing.T, limit int) (*Client, docserver.Server) {
	t.Helper()
	st, err := docserver.OpenStorage(filepath.Join(t.TempDir(), "docs.db"), nil)
	if err != nil {
		t.Fatalf("OpenStorage failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	srv, err := docserver.NewServer(&docserver.Options{Storage: st, DisableReqLogs: true, DailyWriteLimit: limit})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	c, err := New(ts.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, srv
}

func TestRoundTrip(t *testing.T) {
	c, _ := setupTestClient(t, 0)
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	snap, err := c.ReadDocument(ctx, "doc")
	if err != nil {
		t.Fatalf("ReadDocument failed: %v", err)
	}
	if snap != nil {
		t.Fatalf("missing document returned %+v", snap)
	}

	updates := &schema.Snapshot{
		Grades:  []schema.Grade{{ID: 1, Name: "A", MinScore: 80, MaxScore: 100}},
		Classes: []schema.Class{{ID: 5, Name: "Basic 6"}},
		Scores:  []schema.Score{{ID: "1-9", StudentID: 1, SubjectID: 9, AssessmentScores: map[string][]string{"2": {"7/10"}}}},
	}
	if err := c.WriteTransaction(ctx, "doc", updates, nil); err != nil {
		t.Fatalf("WriteTransaction failed: %v", err)
	}

	snap, err = c.ReadDocument(ctx, "doc", schema.CategoryGrades)
	if err != nil {
		t.Fatalf("ReadDocument failed: %v", err)
	}
	if diff := cmp.Diff(updates.Grades, snap.Grades); diff != "" {
		t.Errorf("grades mismatch (-want +got):\n%s", diff)
	}

	classes, err := c.ReadSubcollection(ctx, "doc", schema.CategoryClasses)
	if err != nil {
		t.Fatalf("ReadSubcollection failed: %v", err)
	}
	if diff := cmp.Diff(updates.Classes, classes.Classes); diff != "" {
		t.Errorf("classes mismatch (-want +got):\n%s", diff)
	}

	scores, err := c.ReadScoresForSubject(ctx, "doc", 9)
	if err != nil {
		t.Fatalf("ReadScoresForSubject failed: %v", err)
	}
	if diff := cmp.Diff(updates.Scores, scores); diff != "" {
		t.Errorf("scores mismatch (-want +got):\n%s", diff)
	}

	del := map[schema.Category][]string{schema.CategoryClasses: {"5"}}
	if err := c.WriteTransaction(ctx, "doc", &schema.Snapshot{}, del); err != nil {
		t.Fatalf("WriteTransaction failed: %v", err)
	}
	classes, err = c.ReadSubcollection(ctx, "doc", schema.CategoryClasses)
	if err != nil {
		t.Fatalf("ReadSubcollection failed: %v", err)
	}
	if len(classes.Classes) != 0 {
		t.Errorf("class not deleted: %+v", classes.Classes)
	}
}

func TestServerErrorsKeepTheirCode(t *testing.T) {
	c, srv := setupTestClient(t, 1)
	ctx := context.Background()
	two := &schema.Snapshot{Students: []schema.Student{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}}

	err := c.WriteTransaction(ctx, "doc", two, nil)
	if !remote.IsQuotaExhausted(err) || !remote.IsPermanent(err) {
		t.Errorf("over quota: got %v (code %s)", err, remote.CodeOf(err))
	}

	srv.Lock("locked", true)
	err = c.WriteTransaction(ctx, "locked", &schema.Snapshot{}, nil)
	if remote.CodeOf(err) != remote.CodePermissionDenied {
		t.Errorf("locked: code = %s, want permission-denied", remote.CodeOf(err))
	}

	_, err = c.ReadSubcollection(ctx, "doc", schema.CategoryGrades)
	if remote.CodeOf(err) != remote.CodeInvalidArgument {
		t.Errorf("bad collection: code = %s, want invalid-argument", remote.CodeOf(err))
	}
}

func TestUnreachableServerIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c, err := New(url, time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	err = c.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if !remote.IsRetryable(err) {
		t.Errorf("transport failure should be retryable, got code %s", remote.CodeOf(err))
	}
}

func TestParseBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "localhost:8080", want: "http://localhost:8080"},
		{in: "https://sync.example.com/base/", want: "https://sync.example.com/base"},
		{in: "", wantErr: true},
		{in: "http://", wantErr: true},
	}
	for _, tt := range tests {
		u, err := parseBaseURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseBaseURL(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseBaseURL(%q) failed: %v", tt.in, err)
			continue
		}
		if u.String() != tt.want {
			t.Errorf("parseBaseURL(%q) = %q, want %q", tt.in, u.String(), tt.want)
		}
	}
}
