package merge

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MYKHIL/sbapromaster-sub000/internal/diff"
	"github.com/MYKHIL/sbapromaster-sub000/internal/dirty"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

func score(studentID, subjectID int64, entries ...string) schema.Score {
	return schema.Score{
		ID:               schema.ScoreID(studentID, subjectID),
		StudentID:        studentID,
		SubjectID:        subjectID,
		AssessmentScores: map[string][]string{"1": entries},
	}
}

func TestRemoteSettingsReplaceCleanWorkingState(t *testing.T) {
	working := &schema.Dataset{Settings: schema.Settings{SchoolName: "Old Name"}}
	baseline := working.Clone()
	tr := dirty.New()

	snap := &schema.Snapshot{Settings: &schema.Settings{SchoolName: "New Name"}}
	res := Apply(working, baseline, snap, Options{Tracker: tr})

	if working.Settings.SchoolName != "New Name" {
		t.Errorf("working school name = %q, want New Name", working.Settings.SchoolName)
	}
	if baseline.Settings.SchoolName != "New Name" {
		t.Errorf("baseline school name = %q, want New Name", baseline.Settings.SchoolName)
	}
	if tr.IsDirty(schema.CategorySettings) {
		t.Error("settings marked dirty by a remote merge")
	}
	if !cmp.Equal(res.Replaced, []schema.Category{schema.CategorySettings}) {
		t.Errorf("Replaced = %v", res.Replaced)
	}
}

func TestPendingScoreEditIsShielded(t *testing.T) {
	local := score(1, 1, "8/10")
	working := &schema.Dataset{Scores: []schema.Score{local, score(2, 1, "3/10")}}
	baseline := &schema.Dataset{Scores: []schema.Score{score(1, 1, "2/10"), score(2, 1, "3/10")}}
	pending := schema.NewIDSet(local.ID)
	tr := dirty.New()
	tr.Mark(dirty.OriginLocal, schema.CategoryScores)

	remote := []schema.Score{score(1, 1, "4/10"), score(2, 1, "9/10")}
	res := Apply(working, baseline, &schema.Snapshot{Scores: remote}, Options{Pending: pending, Tracker: tr})

	got, _ := schema.FindRecord(working.Scores, local.ID)
	if diff := cmp.Diff(local, got); diff != "" {
		t.Errorf("pending edit was overwritten (-want +got):\n%s", diff)
	}
	other, _ := schema.FindRecord(working.Scores, "2-1")
	if other.AssessmentScores["1"][0] != "9/10" {
		t.Errorf("non-pending score not updated: %v", other.AssessmentScores)
	}
	if diff := cmp.Diff(remote, baseline.Scores); diff != "" {
		t.Errorf("baseline should hold the received scores (-want +got):\n%s", diff)
	}
	if !tr.IsDirty(schema.CategoryScores) {
		t.Error("scores should stay dirty while the pending edit differs")
	}
	if !cmp.Equal(res.Merged, []schema.Category{schema.CategoryScores}) {
		t.Errorf("Merged = %v", res.Merged)
	}
}

func TestPendingLocalOnlyScoreIsAppended(t *testing.T) {
	fresh := score(5, 2, "7/10")
	working := &schema.Dataset{Scores: []schema.Score{fresh}}
	baseline := &schema.Dataset{}

	remote := []schema.Score{score(1, 1, "4/10")}
	Apply(working, baseline, &schema.Snapshot{Scores: remote}, Options{Pending: schema.NewIDSet(fresh.ID)})

	ids := schema.IDs(schema.CategoryScores, working.Scores)
	if diff := cmp.Diff([]string{"1-1", "5-2"}, ids); diff != "" {
		t.Errorf("merged ids mismatch (-want +got):\n%s", diff)
	}
}

func TestClearedScoreSurvivesStaleSnapshot(t *testing.T) {
	// The user cleared a score that the remote still holds.
	baseline := &schema.Dataset{Scores: []schema.Score{score(1, 1, "5/10")}}
	working := baseline.Clone()
	working.Scores[0].AssessmentScores["1"] = []string{}
	pending := schema.NewIDSet("1-1")
	tr := dirty.New()
	tr.Mark(dirty.OriginLocal, schema.CategoryScores)

	stale := &schema.Snapshot{Scores: []schema.Score{score(1, 1, "5/10")}}
	Apply(working, baseline, stale, Options{Pending: pending, Tracker: tr})

	if !schema.IsEmptyScore(working.Scores[0]) {
		t.Fatalf("cleared score resurrected: %v", working.Scores[0].AssessmentScores)
	}
	if !tr.IsDirty(schema.CategoryScores) {
		t.Fatal("cleared score no longer dirty")
	}

	p := diff.Compute(working, baseline, tr.Categories(), pending)
	if len(p.Updates.Scores) != 1 || !schema.IsEmptyScore(p.Updates.Scores[0]) {
		t.Errorf("next save should send the cleared score, got %+v", p.Updates.Scores)
	}
}

func TestApplyTwiceIsIdempotent(t *testing.T) {
	working := &schema.Dataset{
		Students: []schema.Student{{ID: 1, Name: "Ama"}},
		Scores:   []schema.Score{score(1, 1, "8/10")},
	}
	baseline := &schema.Dataset{}
	tr := dirty.New()
	tr.Mark(dirty.OriginLocal, schema.CategoryStudents)
	tr.Mark(dirty.OriginLocal, schema.CategoryScores)
	pending := schema.NewIDSet("1-1")

	snap := &schema.Snapshot{
		Students: []schema.Student{{ID: 1, Name: "Ama"}, {ID: 2, Name: "Kofi"}},
		Scores:   []schema.Score{score(1, 1, "6/10")},
		Settings: &schema.Settings{SchoolName: "Ayirebi"},
	}

	Apply(working, baseline, snap, Options{Pending: pending, Tracker: tr})
	version := tr.Version()
	before := working.Clone()

	res := Apply(working, baseline, snap, Options{Pending: pending, Tracker: tr})
	if tr.Version() != version {
		t.Errorf("second apply changed the dirty set (version %d -> %d)", version, tr.Version())
	}
	if res.Changed() {
		t.Errorf("second apply changed the working state: %+v", res)
	}
	if diff := cmp.Diff(before, working); diff != "" {
		t.Errorf("working state moved on second apply (-want +got):\n%s", diff)
	}
}

func TestDirtyClearedOnlyForMatchingCategories(t *testing.T) {
	working := &schema.Dataset{
		Students: []schema.Student{{ID: 1, Name: "Ama"}},
		Classes:  []schema.Class{{ID: 1, Name: "JHS 1"}},
	}
	baseline := &schema.Dataset{}
	tr := dirty.New()
	tr.Mark(dirty.OriginLocal, schema.CategoryStudents)
	tr.Mark(dirty.OriginLocal, schema.CategoryClasses)

	// The refetch returns classes only; students were not part of it.
	snap := &schema.Snapshot{Classes: []schema.Class{{ID: 1, Name: "JHS 1"}}}
	res := Apply(working, baseline, snap, Options{Tracker: tr})

	if tr.IsDirty(schema.CategoryClasses) {
		t.Error("classes should be reconciled")
	}
	if !tr.IsDirty(schema.CategoryStudents) {
		t.Error("students should stay dirty")
	}
	if baseline.Students != nil {
		t.Errorf("baseline advanced for a category not received: %v", baseline.Students)
	}
	if !cmp.Equal(res.Reconciled, []schema.Category{schema.CategoryClasses}) {
		t.Errorf("Reconciled = %v", res.Reconciled)
	}
}

func TestShieldKeepsLocalValue(t *testing.T) {
	working := &schema.Dataset{Students: []schema.Student{{ID: 1, Name: "Edited during save"}}}
	baseline := &schema.Dataset{}
	tr := dirty.New()
	tr.Mark(dirty.OriginLocal, schema.CategoryStudents)

	snap := &schema.Snapshot{Students: []schema.Student{{ID: 1, Name: "As saved"}}}
	res := Apply(working, baseline, snap, Options{
		Tracker: tr,
		Shield:  map[schema.Category]bool{schema.CategoryStudents: true},
	})

	if working.Students[0].Name != "Edited during save" {
		t.Errorf("shielded value replaced: %q", working.Students[0].Name)
	}
	if baseline.Students[0].Name != "As saved" {
		t.Errorf("baseline = %q, want As saved", baseline.Students[0].Name)
	}
	if !tr.IsDirty(schema.CategoryStudents) {
		t.Error("shielded edit should remain dirty")
	}
	if !cmp.Equal(res.Kept, []schema.Category{schema.CategoryStudents}) {
		t.Errorf("Kept = %v", res.Kept)
	}
}

func TestEmptySnapshotCategoriesAreIgnored(t *testing.T) {
	working := &schema.Dataset{Students: []schema.Student{{ID: 1, Name: "Ama"}}}
	baseline := working.Clone()

	Apply(working, baseline, &schema.Snapshot{Students: []schema.Student{}}, Options{})
	if len(working.Students) != 1 {
		t.Error("empty snapshot category wiped the working state")
	}
}

func TestFetchedEmptyCollectionIsApplied(t *testing.T) {
	working := &schema.Dataset{}
	baseline := &schema.Dataset{Classes: []schema.Class{{ID: 1, Name: "JHS 1"}}}
	tr := dirty.New()
	tr.Mark(dirty.OriginLocal, schema.CategoryClasses)

	Apply(working, baseline, &schema.Snapshot{}, Options{
		Tracker: tr,
		Fetched: []schema.Category{schema.CategoryClasses, schema.CategorySettings},
	})

	if len(baseline.Classes) != 0 {
		t.Errorf("baseline classes = %v, want empty", baseline.Classes)
	}
	if tr.IsDirty(schema.CategoryClasses) {
		t.Error("classes should be clean once the remote confirmed the deletion")
	}
}

func TestImportMarksDirtyAndKeepsBaseline(t *testing.T) {
	working := &schema.Dataset{
		Settings: schema.Settings{SchoolName: "Ayirebi"},
		Students: []schema.Student{{ID: 1, Name: "Ama"}},
	}
	baseline := working.Clone()
	tr := dirty.New()

	snap := &schema.Snapshot{
		Settings: &schema.Settings{SchoolName: "Ayirebi"},
		Students: []schema.Student{{ID: 1, Name: "Ama"}, {ID: 2, Name: "Kofi"}},
	}
	res := Apply(working, baseline, snap, Options{Mode: ModeImport, Tracker: tr})

	if len(working.Students) != 2 {
		t.Errorf("import did not replace students: %v", working.Students)
	}
	if len(baseline.Students) != 1 {
		t.Errorf("import advanced the baseline: %v", baseline.Students)
	}
	if diff := cmp.Diff([]schema.Category{schema.CategoryStudents}, tr.Categories()); diff != "" {
		t.Errorf("dirty mismatch (-want +got):\n%s", diff)
	}
	if len(res.Replaced) != 1 {
		t.Errorf("Replaced = %v", res.Replaced)
	}

	p := diff.Compute(working, baseline, tr.Categories(), nil)
	if len(p.Updates.Students) != 1 || p.Updates.Students[0].ID != 2 {
		t.Errorf("next save should carry only the new student, got %v", p.Updates.Students)
	}
}

// A write followed by a reconcile of the same content leaves nothing to send.
func TestRoundTripYieldsEmptyDiff(t *testing.T) {
	working := &schema.Dataset{Scores: []schema.Score{score(1, 1, "5/10", "")}}
	baseline := &schema.Dataset{}
	tr := dirty.New()
	tr.Mark(dirty.OriginLocal, schema.CategoryScores)
	pending := schema.NewIDSet("1-1")

	p := diff.Compute(working, baseline, tr.Categories(), pending)
	stored := &schema.Snapshot{Scores: schema.NormalizeScoreList(p.Updates.Scores)}

	Apply(working, baseline, stored, Options{Pending: pending, Tracker: tr})
	if tr.IsDirty(schema.CategoryScores) {
		t.Error("scores still dirty after round trip")
	}
	if next := diff.Compute(working, baseline, []schema.Category{schema.CategoryScores}, pending); !next.Empty() {
		t.Errorf("round trip left %v to send", next.Summary())
	}
}
