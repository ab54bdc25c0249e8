package transfer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

func testDataset() *schema.Dataset {
	ds := schema.DefaultDataset()
	ds.Settings.SchoolName = "Adum Presby JHS"
	ds.Settings.AcademicYear = "2024/2025"
	ds.Classes = []schema.Class{{ID: 1, Name: "JHS 1"}}
	ds.Students = []schema.Student{
		{ID: 1, Name: "Ama Mensah", Class: "JHS 1", Gender: "Female"},
		{ID: 2, Name: "Kofi Boateng", Class: "JHS 1", Gender: "Male"},
	}
	ds.Scores = []schema.Score{{
		ID:        schema.ScoreID(1, 1),
		StudentID: 1,
		SubjectID: 1,
		AssessmentScores: map[string][]string{
			"1": {"8/10"},
			"5": {"72/100"},
		},
	}}
	ds.Users = []schema.User{{ID: 1, Name: "Admin", Role: "Admin"}}
	ds.ActiveSessions = map[string]string{"1": "2024-09-01T08:00:00Z"}
	return ds
}

func assertSameData(t *testing.T, want *schema.Dataset, got *schema.Snapshot) {
	t.Helper()
	for _, c := range schema.AllCategories() {
		if diff := schema.Diff(want.Get(c), got.Get(c)); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", c, diff)
		}
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"backup.json", FormatJSON},
		{"backup.sdlx", FormatDatabase},
		{"BACKUP.SDLX", FormatDatabase},
		{"backup", FormatJSON},
	}
	for _, tt := range tests {
		if got := FormatFor(tt.path); got != tt.want {
			t.Errorf("FormatFor(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"school.json", "school.sdlx"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			ds := testDataset()

			res, err := Export(path, ds, Options{SchoolID: "adum-presby-jhs"})
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			if res.Records != recordCount(ds) {
				t.Errorf("Records = %d, want %d", res.Records, recordCount(ds))
			}
			if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
				t.Error("temp file left behind")
			}

			snap, diags, err := Import(path)
			if err != nil {
				t.Fatalf("Import() error = %v", err)
			}
			if diags.Skipped != 0 {
				t.Errorf("Skipped = %d, reasons %v", diags.Skipped, diags.Reasons)
			}
			if diags.Loaded() != res.Records {
				t.Errorf("Loaded() = %d, want %d", diags.Loaded(), res.Records)
			}
			assertSameData(t, ds, snap)
		})
	}
}

func TestExportJSONWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "school.json")
	if _, err := Export(path, testDataset(), Options{SchoolID: "adum"}); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var file jsonFile
	if err := json.Unmarshal(body, &file); err != nil {
		t.Fatal(err)
	}
	if file.Version != FormatVersion || file.SchoolID != "adum" || file.ExportedAt.IsZero() {
		t.Errorf("header = %+v", file.header)
	}
	if got := string(file.Data["reportData"]); got != "[]" {
		t.Errorf("empty collection written as %s, want []", got)
	}
}

func TestExportRequiresDataset(t *testing.T) {
	if _, err := Export(filepath.Join(t.TempDir(), "x.json"), nil, Options{}); err == nil {
		t.Error("Export(nil) succeeded")
	}
}

func TestExportBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "school.json")

	res, err := Export(path, testDataset(), Options{Backup: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.BackupCreated != "" {
		t.Errorf("BackupCreated = %q for a new file", res.BackupCreated)
	}

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	res, err = Export(path, schema.DefaultDataset(), Options{Backup: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.BackupCreated, path+".backup.") {
		t.Fatalf("BackupCreated = %q", res.BackupCreated)
	}
	saved, err := os.ReadFile(res.BackupCreated)
	if err != nil {
		t.Fatal(err)
	}
	if string(saved) != string(before) {
		t.Error("backup does not hold the previous file")
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImportSkipsInvalidRecords(t *testing.T) {
	path := writeFile(t, "damaged.json", `{
  "version": 1,
  "data": {
    "students": [
      {"id": 1, "name": "Ama Mensah"},
      {"id": 2, "name": ""},
      {"id": 1, "name": "Ama Again"},
      "not a student"
    ],
    "scores": [
      {"id": "1-1", "studentId": 1, "subjectId": 1, "assessmentScores": {"1": ["12/10"]}},
      {"id": "1-2", "studentId": 1, "subjectId": 2, "assessmentScores": {"1": ["7/10"]}}
    ],
    "gradebook": []
  }
}`)

	snap, diags, err := Import(path)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if diags.Total != 6 || diags.Skipped != 4 {
		t.Errorf("diags = %+v, want 6 total 4 skipped", diags)
	}
	if len(snap.Students) != 1 || snap.Students[0].Name != "Ama Mensah" {
		t.Errorf("students = %+v", snap.Students)
	}
	if len(snap.Scores) != 1 || snap.Scores[0].ID != "1-2" {
		t.Errorf("scores = %+v", snap.Scores)
	}

	var sawDuplicate, sawUnknown bool
	for _, r := range diags.Reasons {
		sawDuplicate = sawDuplicate || strings.Contains(r, "duplicate id")
		sawUnknown = sawUnknown || strings.Contains(r, `"gradebook"`)
	}
	if !sawDuplicate || !sawUnknown {
		t.Errorf("reasons = %v", diags.Reasons)
	}
}

func TestImportBareObject(t *testing.T) {
	path := writeFile(t, "bare.json", `{
  "settings": {"schoolName": "Adum Presby JHS", "headmasterName": "Mr. Asante"},
  "classes": [{"id": 1, "name": "JHS 1"}]
}`)

	snap, diags, err := Import(path)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if diags.Total != 2 || diags.Skipped != 0 {
		t.Errorf("diags = %+v", diags)
	}
	if snap.Settings == nil || snap.Settings.SchoolName != "Adum Presby JHS" {
		t.Errorf("settings = %+v", snap.Settings)
	}
	if got := snap.Categories(); len(got) != 2 {
		t.Errorf("Categories() = %v, want settings and classes", got)
	}
}

func TestImportErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.json") }},
		{"invalid json", func(t *testing.T) string { return writeFile(t, "bad.json", "{") }},
		{"newer version", func(t *testing.T) string {
			return writeFile(t, "future.json", `{"version": 99, "data": {}}`)
		}},
		{"not a database", func(t *testing.T) string { return writeFile(t, "bad.sdlx", "plain text") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Import(tt.path(t)); err == nil {
				t.Error("Import() succeeded")
			}
		})
	}
}
