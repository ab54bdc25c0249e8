package diff

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

func students(ids ...int64) []schema.Student {
	out := make([]schema.Student, 0, len(ids))
	for _, id := range ids {
		out = append(out, schema.Student{ID: id, Name: fmt.Sprintf("Student %d", id)})
	}
	return out
}

func score(studentID, subjectID int64, entries map[string][]string) schema.Score {
	return schema.Score{
		ID:               schema.ScoreID(studentID, subjectID),
		StudentID:        studentID,
		SubjectID:        subjectID,
		AssessmentScores: entries,
	}
}

func TestComputeCollections(t *testing.T) {
	baseline := &schema.Dataset{Students: students(1, 2, 3)}
	working := baseline.Clone()
	working.Students[1].Name = "Renamed"
	// drop 3, add 4
	working.Students = append(working.Students[:2], students(4)...)

	p := Compute(working, baseline, []schema.Category{schema.CategoryStudents}, nil)

	wantUpdates := []schema.Student{{ID: 2, Name: "Renamed"}, {ID: 4, Name: "Student 4"}}
	if diff := cmp.Diff(wantUpdates, p.Updates.Students); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"3"}, p.Deletions[schema.CategoryStudents]); diff != "" {
		t.Errorf("deletions mismatch (-want +got):\n%s", diff)
	}
	if p.Count() != 3 {
		t.Errorf("Count() = %d, want 3", p.Count())
	}
}

func TestComputeOnlyRequestedCategories(t *testing.T) {
	baseline := &schema.Dataset{Students: students(1), Classes: []schema.Class{{ID: 1, Name: "JHS 1"}}}
	working := baseline.Clone()
	working.Students = nil
	working.Classes = nil

	p := Compute(working, baseline, []schema.Category{schema.CategoryClasses}, nil)
	if got := p.Categories(); !cmp.Equal(got, []schema.Category{schema.CategoryClasses}) {
		t.Errorf("Categories() = %v, want [classes]", got)
	}
}

func TestComputeUnchangedIsEmpty(t *testing.T) {
	baseline := schema.DefaultDataset()
	working := baseline.Clone()

	cats := []schema.Category{schema.CategorySubjects, schema.CategoryGrades, schema.CategoryAssessments}
	if p := Compute(working, baseline, cats, nil); !p.Empty() {
		t.Errorf("unchanged dataset produced %v", p.Summary())
	}
}

// Property: the payload holds exactly the differing items and the missing ids.
func TestComputeMatchesIDDiff(t *testing.T) {
	for n := 0; n < 20; n++ {
		baseline := &schema.Dataset{}
		working := &schema.Dataset{}
		wantUpdated := map[string]bool{}
		wantDeleted := map[string]bool{}

		for i := int64(1); i <= 15; i++ {
			s := schema.Student{ID: i, Name: fmt.Sprintf("s%d", i)}
			switch (i + int64(n)) % 4 {
			case 0: // unchanged
				baseline.Students = append(baseline.Students, s)
				working.Students = append(working.Students, s)
			case 1: // changed
				baseline.Students = append(baseline.Students, s)
				s.Class = "JHS 2"
				working.Students = append(working.Students, s)
				wantUpdated[s.Key()] = true
			case 2: // deleted
				baseline.Students = append(baseline.Students, s)
				wantDeleted[s.Key()] = true
			case 3: // added
				working.Students = append(working.Students, s)
				wantUpdated[s.Key()] = true
			}
		}

		p := Compute(working, baseline, []schema.Category{schema.CategoryStudents}, nil)
		if len(p.Updates.Students) != len(wantUpdated) {
			t.Fatalf("round %d: %d updates, want %d", n, len(p.Updates.Students), len(wantUpdated))
		}
		for _, s := range p.Updates.Students {
			if !wantUpdated[s.Key()] {
				t.Errorf("round %d: unexpected update %s", n, s.Key())
			}
		}
		if len(p.Deletions[schema.CategoryStudents]) != len(wantDeleted) {
			t.Fatalf("round %d: %d deletions, want %d", n, len(p.Deletions[schema.CategoryStudents]), len(wantDeleted))
		}
		for _, id := range p.Deletions[schema.CategoryStudents] {
			if !wantDeleted[id] {
				t.Errorf("round %d: unexpected deletion %s", n, id)
			}
		}
	}
}

func TestComputeScores(t *testing.T) {
	tests := []struct {
		name     string
		working  []schema.Score
		baseline []schema.Score
		pending  schema.IDSet
		want     []string
	}{
		{
			name:     "blank entries are not a change",
			working:  []schema.Score{score(1, 1, map[string][]string{"1": {"5/10", ""}})},
			baseline: []schema.Score{score(1, 1, map[string][]string{"1": {"5/10"}})},
			want:     nil,
		},
		{
			name:     "empty assessment list equals missing assessment",
			working:  []schema.Score{score(1, 1, map[string][]string{"1": {"5/10"}, "2": {" "}})},
			baseline: []schema.Score{score(1, 1, map[string][]string{"1": {"5/10"}})},
			want:     nil,
		},
		{
			name:     "real change is sent",
			working:  []schema.Score{score(1, 1, map[string][]string{"1": {"6/10"}})},
			baseline: []schema.Score{score(1, 1, map[string][]string{"1": {"5/10"}})},
			want:     []string{"1-1"},
		},
		{
			name:    "new empty placeholder is suppressed",
			working: []schema.Score{score(1, 1, map[string][]string{"1": {""}})},
			want:    nil,
		},
		{
			name:    "new empty score is sent when pending",
			working: []schema.Score{score(1, 1, map[string][]string{"1": {""}})},
			pending: schema.NewIDSet("1-1"),
			want:    []string{"1-1"},
		},
		{
			name:     "clearing an existing score is sent",
			working:  []schema.Score{score(1, 1, map[string][]string{"1": {}})},
			baseline: []schema.Score{score(1, 1, map[string][]string{"1": {"5/10"}})},
			want:     []string{"1-1"},
		},
		{
			name:    "new score with entries is sent",
			working: []schema.Score{score(2, 1, map[string][]string{"1": {"8/10"}})},
			want:    []string{"2-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Compute(&schema.Dataset{Scores: tt.working}, &schema.Dataset{Scores: tt.baseline},
				[]schema.Category{schema.CategoryScores}, tt.pending)
			got := schema.IDs(schema.CategoryScores, p.Updates.Scores)
			if len(got) == 0 {
				got = nil
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("score updates mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestComputeSendsRawScore(t *testing.T) {
	w := score(1, 1, map[string][]string{"1": {"7/10", ""}})
	p := Compute(&schema.Dataset{Scores: []schema.Score{w}}, &schema.Dataset{},
		[]schema.Category{schema.CategoryScores}, nil)
	if diff := cmp.Diff([]schema.Score{w}, p.Updates.Scores); diff != "" {
		t.Errorf("payload should carry the working record as is (-want +got):\n%s", diff)
	}
}

func TestComputeScalars(t *testing.T) {
	baseline := &schema.Dataset{
		Settings:       schema.Settings{SchoolName: "Old Name"},
		ActiveSessions: map[string]string{"1": "t1", "2": "t2"},
	}
	working := baseline.Clone()
	working.Settings.SchoolName = "New Name"
	delete(working.ActiveSessions, "2")
	working.ActiveSessions["3"] = "t3"

	p := Compute(working, baseline, []schema.Category{schema.CategorySettings, schema.CategoryActiveSessions}, nil)
	if p.Updates.Settings == nil || p.Updates.Settings.SchoolName != "New Name" {
		t.Errorf("settings update = %+v", p.Updates.Settings)
	}
	if diff := cmp.Diff(map[string]string{"1": "t1", "3": "t3"}, p.Updates.ActiveSessions); diff != "" {
		t.Errorf("active sessions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"2"}, p.Deletions[schema.CategoryActiveSessions]); diff != "" {
		t.Errorf("session deletions mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckMassDeletion(t *testing.T) {
	tests := []struct {
		deleted, size int
		blocked       bool
	}{
		{deleted: 30, size: 100, blocked: true},
		{deleted: 3, size: 100, blocked: false},
		{deleted: 5, size: 5, blocked: false},
		{deleted: 6, size: 6, blocked: true},
		{deleted: 20, size: 100, blocked: false},
		{deleted: 21, size: 100, blocked: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_of_%d", tt.deleted, tt.size), func(t *testing.T) {
			err := CheckMassDeletion(schema.CategoryStudents, tt.deleted, tt.size)
			if (err != nil) != tt.blocked {
				t.Fatalf("CheckMassDeletion() = %v, blocked want %v", err, tt.blocked)
			}
			if err != nil && !errors.Is(err, ErrMassDeletion) {
				t.Errorf("error %v does not wrap ErrMassDeletion", err)
			}
		})
	}
}

func TestConsolidateBlocksMassDeletion(t *testing.T) {
	ids := make([]int64, 100)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	baseline := &schema.Dataset{Students: students(ids...), Classes: []schema.Class{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}}

	t.Run("30 of 100 blocked", func(t *testing.T) {
		working := baseline.Clone()
		working.Students = working.Students[30:]
		working.Students[0].Name = "still sent"

		p, violations := Consolidate(working, baseline, []schema.Category{schema.CategoryStudents}, nil)
		if len(violations) != 1 {
			t.Fatalf("violations = %v, want one", violations)
		}
		var mde *MassDeletionError
		if !errors.As(violations[0], &mde) || mde.Deleted != 30 || mde.BaselineSize != 100 {
			t.Errorf("violation = %v", violations[0])
		}
		if _, ok := p.Deletions[schema.CategoryStudents]; ok {
			t.Error("blocked deletions are still in the payload")
		}
		if len(p.Updates.Students) != 1 {
			t.Errorf("updates should survive a blocked deletion, got %d", len(p.Updates.Students))
		}
	})

	t.Run("3 of 100 proceed", func(t *testing.T) {
		working := baseline.Clone()
		working.Students = working.Students[3:]

		p, violations := Consolidate(working, baseline, []schema.Category{schema.CategoryStudents}, nil)
		if len(violations) != 0 {
			t.Fatalf("violations = %v, want none", violations)
		}
		if got := len(p.Deletions[schema.CategoryStudents]); got != 3 {
			t.Errorf("deletions = %d, want 3", got)
		}
	})

	t.Run("small collection below absolute limit", func(t *testing.T) {
		working := baseline.Clone()
		working.Classes = nil

		p, violations := Consolidate(working, baseline, []schema.Category{schema.CategoryClasses}, nil)
		if len(violations) != 0 || len(p.Deletions[schema.CategoryClasses]) != 2 {
			t.Errorf("deleting 2 of 2 classes: violations=%v deletions=%v", violations, p.Deletions)
		}
	})
}
