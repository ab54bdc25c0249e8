package schema

import (
	"fmt"
	"maps"
	"slices"
)

// Dataset is a complete copy of a school's data. It is used both for the
// working state the user edits and for the baseline last confirmed by the
// remote store.
type Dataset struct {
	Settings       Settings          `json:"settings"`
	Students       []Student         `json:"students"`
	Subjects       []Subject         `json:"subjects"`
	Classes        []Class           `json:"classes"`
	Grades         []Grade           `json:"grades"`
	Assessments    []Assessment      `json:"assessments"`
	Scores         []Score           `json:"scores"`
	ReportData     []ReportData      `json:"reportData"`
	ClassData      []ClassData       `json:"classData"`
	Users          []User            `json:"users"`
	UserLogs       []UserLog         `json:"userLogs"`
	ActiveSessions map[string]string `json:"activeSessions"`
}

// Snapshot is a partial dataset. A nil or empty field means the category
// is absent.
type Snapshot struct {
	Settings       *Settings         `json:"settings,omitempty"`
	Students       []Student         `json:"students,omitempty"`
	Subjects       []Subject         `json:"subjects,omitempty"`
	Classes        []Class           `json:"classes,omitempty"`
	Grades         []Grade           `json:"grades,omitempty"`
	Assessments    []Assessment      `json:"assessments,omitempty"`
	Scores         []Score           `json:"scores,omitempty"`
	ReportData     []ReportData      `json:"reportData,omitempty"`
	ClassData      []ClassData       `json:"classData,omitempty"`
	Users          []User            `json:"users,omitempty"`
	UserLogs       []UserLog         `json:"userLogs,omitempty"`
	ActiveSessions map[string]string `json:"activeSessions,omitempty"`
}

type accessor struct {
	get     func(*Dataset) any
	set     func(*Dataset, any)
	snapGet func(*Snapshot) any
	snapSet func(*Snapshot, any)
	has     func(*Snapshot) bool
	size    func(any) int
	ids     func(any) []string
	clone   func(any) any
	upsert  func(dst, src any) any
	remove  func(dst any, ids []string) any
}

var accessors = map[Category]accessor{
	CategorySettings: {
		get: func(d *Dataset) any { return d.Settings },
		set: func(d *Dataset, v any) { d.Settings = v.(Settings) },
		snapGet: func(s *Snapshot) any {
			if s.Settings == nil {
				return Settings{}
			}
			return *s.Settings
		},
		snapSet: func(s *Snapshot, v any) {
			st := v.(Settings)
			s.Settings = &st
		},
		has:    func(s *Snapshot) bool { return s.Settings != nil },
		size:   func(any) int { return 1 },
		ids:    func(any) []string { return nil },
		clone:  func(v any) any { return v },
		upsert: func(_, src any) any { return src },
		remove: func(dst any, _ []string) any { return dst },
	},
	CategoryActiveSessions: {
		get:     func(d *Dataset) any { return d.ActiveSessions },
		set:     func(d *Dataset, v any) { d.ActiveSessions = v.(map[string]string) },
		snapGet: func(s *Snapshot) any { return s.ActiveSessions },
		snapSet: func(s *Snapshot, v any) { s.ActiveSessions = v.(map[string]string) },
		has:     func(s *Snapshot) bool { return len(s.ActiveSessions) > 0 },
		size:    func(v any) int { return len(v.(map[string]string)) },
		ids: func(v any) []string {
			keys := slices.Collect(maps.Keys(v.(map[string]string)))
			slices.Sort(keys)
			return keys
		},
		clone: func(v any) any { return maps.Clone(v.(map[string]string)) },
		upsert: func(dst, src any) any {
			out := maps.Clone(dst.(map[string]string))
			if out == nil {
				out = make(map[string]string)
			}
			maps.Copy(out, src.(map[string]string))
			return out
		},
		remove: func(dst any, ids []string) any {
			out := maps.Clone(dst.(map[string]string))
			for _, id := range ids {
				delete(out, id)
			}
			return out
		},
	},
	CategoryStudents: collection(
		func(d *Dataset) *[]Student { return &d.Students },
		func(s *Snapshot) *[]Student { return &s.Students }, nil),
	CategorySubjects: collection(
		func(d *Dataset) *[]Subject { return &d.Subjects },
		func(s *Snapshot) *[]Subject { return &s.Subjects }, nil),
	CategoryClasses: collection(
		func(d *Dataset) *[]Class { return &d.Classes },
		func(s *Snapshot) *[]Class { return &s.Classes }, nil),
	CategoryGrades: collection(
		func(d *Dataset) *[]Grade { return &d.Grades },
		func(s *Snapshot) *[]Grade { return &s.Grades }, nil),
	CategoryAssessments: collection(
		func(d *Dataset) *[]Assessment { return &d.Assessments },
		func(s *Snapshot) *[]Assessment { return &s.Assessments }, nil),
	CategoryScores: collection(
		func(d *Dataset) *[]Score { return &d.Scores },
		func(s *Snapshot) *[]Score { return &s.Scores }, cloneScore),
	CategoryReportData: collection(
		func(d *Dataset) *[]ReportData { return &d.ReportData },
		func(s *Snapshot) *[]ReportData { return &s.ReportData }, nil),
	CategoryClassData: collection(
		func(d *Dataset) *[]ClassData { return &d.ClassData },
		func(s *Snapshot) *[]ClassData { return &s.ClassData }, nil),
	CategoryUsers: collection(
		func(d *Dataset) *[]User { return &d.Users },
		func(s *Snapshot) *[]User { return &s.Users }, cloneUser),
	CategoryUserLogs: collection(
		func(d *Dataset) *[]UserLog { return &d.UserLogs },
		func(s *Snapshot) *[]UserLog { return &s.UserLogs }, nil),
}

func collection[T Record](field func(*Dataset) *[]T, snapField func(*Snapshot) *[]T, cloneItem func(T) T) accessor {
	cloneAll := func(v []T) []T {
		if v == nil {
			return nil
		}
		out := make([]T, len(v))
		for i, item := range v {
			if cloneItem != nil {
				item = cloneItem(item)
			}
			out[i] = item
		}
		return out
	}
	return accessor{
		get:     func(d *Dataset) any { return *field(d) },
		set:     func(d *Dataset, v any) { *field(d) = v.([]T) },
		snapGet: func(s *Snapshot) any { return *snapField(s) },
		snapSet: func(s *Snapshot, v any) { *snapField(s) = v.([]T) },
		has:     func(s *Snapshot) bool { return len(*snapField(s)) > 0 },
		size:    func(v any) int { return len(v.([]T)) },
		ids: func(v any) []string {
			items := v.([]T)
			out := make([]string, len(items))
			for i, item := range items {
				out[i] = item.Key()
			}
			return out
		},
		clone:  func(v any) any { return cloneAll(v.([]T)) },
		upsert: func(dst, src any) any { return UpsertRecords(cloneAll(dst.([]T)), src.([]T)) },
		remove: func(dst any, ids []string) any { return RemoveRecords(dst.([]T), ids) },
	}
}

func mustAccessor(c Category) accessor {
	a, ok := accessors[c]
	if !ok {
		panic(fmt.Sprintf("schema: unknown category %q", c))
	}
	return a
}

// Get returns the value stored for a category.
func (d *Dataset) Get(c Category) any { return mustAccessor(c).get(d) }

// Set replaces the value of a category. v must have the category's type.
func (d *Dataset) Set(c Category, v any) { mustAccessor(c).set(d, v) }

// Clone returns a deep copy of the dataset.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{}
	for _, c := range allCategories {
		out.Set(c, CloneValue(c, d.Get(c)))
	}
	return out
}

// Snapshot copies the given categories into a new snapshot. All
// categories are copied when none are given.
func (d *Dataset) Snapshot(cats ...Category) *Snapshot {
	if len(cats) == 0 {
		cats = allCategories
	}
	s := &Snapshot{}
	for _, c := range cats {
		s.Set(c, CloneValue(c, d.Get(c)))
	}
	return s
}

// Get returns the category value. For an absent scalar the zero value is
// returned.
func (s *Snapshot) Get(c Category) any { return mustAccessor(c).snapGet(s) }

// Set stores v as the category value.
func (s *Snapshot) Set(c Category, v any) { mustAccessor(c).snapSet(s, v) }

// Has reports whether the category is present and non-empty.
func (s *Snapshot) Has(c Category) bool {
	if s == nil {
		return false
	}
	return mustAccessor(c).has(s)
}

// Categories lists the present categories in stable order.
func (s *Snapshot) Categories() []Category {
	var out []Category
	for _, c := range allCategories {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Empty reports whether no category is present.
func (s *Snapshot) Empty() bool {
	return len(s.Categories()) == 0
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{}
	if s.Settings != nil {
		st := *s.Settings
		out.Settings = &st
	}
	for _, c := range allCategories {
		if c == CategorySettings {
			continue
		}
		out.Set(c, CloneValue(c, s.Get(c)))
	}
	return out
}

// Merge copies every present category of other into s.
func (s *Snapshot) Merge(other *Snapshot) {
	if other == nil {
		return
	}
	for _, c := range other.Categories() {
		s.Set(c, CloneValue(c, other.Get(c)))
	}
}

// CloneValue deep-copies a category value.
func CloneValue(c Category, v any) any { return mustAccessor(c).clone(v) }

// Size returns the number of records in a category value.
func Size(c Category, v any) int { return mustAccessor(c).size(v) }

// IDs returns the record ids of a category value in order.
func IDs(c Category, v any) []string { return mustAccessor(c).ids(v) }

// Upsert returns dst with every record of src inserted or replaced by id.
// Scalar settings are replaced; active sessions are merged by key.
func Upsert(c Category, dst, src any) any { return mustAccessor(c).upsert(dst, src) }

// Remove returns dst without the records whose ids are listed.
func Remove(c Category, dst any, ids []string) any { return mustAccessor(c).remove(dst, ids) }

// UpsertRecords inserts or replaces src records in dst by key, keeping the
// position of replaced records and appending new ones.
func UpsertRecords[T Record](dst, src []T) []T {
	index := make(map[string]int, len(dst))
	for i, r := range dst {
		index[r.Key()] = i
	}
	for _, r := range src {
		if i, ok := index[r.Key()]; ok {
			dst[i] = r
			continue
		}
		index[r.Key()] = len(dst)
		dst = append(dst, r)
	}
	return dst
}

// RemoveRecords returns a new slice without the records whose keys are in ids.
func RemoveRecords[T Record](dst []T, ids []string) []T {
	drop := NewIDSet(ids...)
	out := make([]T, 0, len(dst))
	for _, r := range dst {
		if !drop.Has(r.Key()) {
			out = append(out, r)
		}
	}
	return out
}

// FindRecord returns the record with the given key.
func FindRecord[T Record](items []T, key string) (T, bool) {
	for _, item := range items {
		if item.Key() == key {
			return item, true
		}
	}
	var zero T
	return zero, false
}

func cloneScore(s Score) Score {
	if s.AssessmentScores == nil {
		return s
	}
	m := make(map[string][]string, len(s.AssessmentScores))
	for k, v := range s.AssessmentScores {
		m[k] = slices.Clone(v)
	}
	s.AssessmentScores = m
	return s
}

func cloneUser(u User) User {
	u.AllowedClasses = slices.Clone(u.AllowedClasses)
	u.AllowedSubjects = slices.Clone(u.AllowedSubjects)
	if u.ClassSubjects != nil {
		m := make(map[string][]string, len(u.ClassSubjects))
		for k, v := range u.ClassSubjects {
			m[k] = slices.Clone(v)
		}
		u.ClassSubjects = m
	}
	return u
}
