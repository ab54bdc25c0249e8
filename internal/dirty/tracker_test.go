package dirty

import (
	"testing"

	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

func TestMarkIgnoresRemoteOrigin(t *testing.T) {
	tr := New()

	if tr.Mark(OriginRemote, schema.CategoryStudents) {
		t.Error("Mark(remote) changed membership")
	}
	if tr.IsDirty(schema.CategoryStudents) {
		t.Fatal("remote change marked students dirty")
	}

	if !tr.Mark(OriginLocal, schema.CategoryStudents) {
		t.Error("Mark(local) did not change membership")
	}
	if tr.Mark(OriginLocal, schema.CategoryStudents) {
		t.Error("second Mark(local) reported a change")
	}
	if !tr.IsDirty(schema.CategoryScores, schema.CategoryStudents) {
		t.Error("IsDirty(scores, students) = false")
	}
	if tr.IsDirty(schema.CategoryScores) {
		t.Error("IsDirty(scores) = true")
	}
}

func TestMarkForced(t *testing.T) {
	tr := New()
	tr.MarkForced(schema.CategorySettings)
	if !tr.IsDirty() {
		t.Error("MarkForced did not mark")
	}
}

func TestVersionMovesOnMembershipChangeOnly(t *testing.T) {
	tr := New()
	var seen []uint64
	tr.OnChange(func(v uint64, _ []schema.Category) { seen = append(seen, v) })

	tr.Mark(OriginLocal, schema.CategoryScores)
	tr.Mark(OriginLocal, schema.CategoryScores)
	tr.Unmark(schema.CategoryStudents)
	tr.Unmark(schema.CategoryScores)

	if got := tr.Version(); got != 2 {
		t.Errorf("Version() = %d, want 2", got)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("observer saw %v, want [1 2]", seen)
	}
}

func TestRecheck(t *testing.T) {
	tests := []struct {
		name     string
		cat      schema.Category
		current  any
		baseline any
		want     bool
	}{
		{
			name:     "equal students",
			cat:      schema.CategoryStudents,
			current:  []schema.Student{{ID: 1, Name: "Ama"}},
			baseline: []schema.Student{{ID: 1, Name: "Ama"}},
			want:     false,
		},
		{
			name:     "renamed student",
			cat:      schema.CategoryStudents,
			current:  []schema.Student{{ID: 1, Name: "Ama Mensah"}},
			baseline: []schema.Student{{ID: 1, Name: "Ama"}},
			want:     true,
		},
		{
			name:     "nil and empty are equal",
			cat:      schema.CategoryClasses,
			current:  []schema.Class(nil),
			baseline: []schema.Class{},
			want:     false,
		},
		{
			name: "blank score entries are not a change",
			cat:  schema.CategoryScores,
			current: []schema.Score{{ID: "1-1", StudentID: 1, SubjectID: 1,
				AssessmentScores: map[string][]string{"1": {"5/10", ""}}}},
			baseline: []schema.Score{{ID: "1-1", StudentID: 1, SubjectID: 1,
				AssessmentScores: map[string][]string{"1": {"5/10"}}}},
			want: false,
		},
		{
			name:     "settings change",
			cat:      schema.CategorySettings,
			current:  schema.Settings{SchoolName: "New"},
			baseline: schema.Settings{SchoolName: "Old"},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New()
			tr.Mark(OriginLocal, tt.cat)
			if got := tr.Recheck(tt.cat, tt.current, tt.baseline); got != tt.want {
				t.Errorf("Recheck() = %v, want %v", got, tt.want)
			}
			if tr.IsDirty(tt.cat) != tt.want {
				t.Errorf("IsDirty() = %v after Recheck, want %v", !tt.want, tt.want)
			}
		})
	}
}

func TestRecheckAllAndReset(t *testing.T) {
	baseline := schema.DefaultDataset()
	working := baseline.Clone()
	working.Students = append(working.Students, schema.Student{ID: 7, Name: "Kofi"})

	tr := New()
	tr.RecheckAll(working, baseline)
	cats := tr.Categories()
	if len(cats) != 1 || cats[0] != schema.CategoryStudents {
		t.Fatalf("Categories() = %v, want [students]", cats)
	}

	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("Len() after Reset = %d", tr.Len())
	}
}
