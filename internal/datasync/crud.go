package datasync

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/MYKHIL/sbapromaster-sub000/internal/dirty"
	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// mutate applies a local edit to category c and writes it through to the
// key-value store. fn runs under the state lock and must not block.
func (s *Service) mutate(ctx context.Context, c schema.Category, fn func(w *schema.Dataset) error) error {
	s.mu.Lock()
	if s.docID == "" {
		s.mu.Unlock()
		return ErrNotBound
	}
	if err := fn(s.working); err != nil {
		s.mu.Unlock()
		return err
	}
	s.tracker.Mark(dirty.OriginLocal, c)
	s.lastEdit = s.now()
	err := s.persistWorkingLocked(ctx, c)
	if err == nil && c == schema.CategoryScores {
		err = s.persistPendingLocked(ctx)
	}
	s.mu.Unlock()

	s.bus.publish(Event{Type: EventStateChanged, Origin: dirty.OriginLocal, Categories: []schema.Category{c}})
	if err != nil {
		return fmt.Errorf("failed to persist %s: %w", c, err)
	}
	return nil
}

func appendRecord[T schema.Record](w *schema.Dataset, c schema.Category, item T) {
	w.Set(c, append(w.Get(c).([]T), item))
}

func replaceRecord[T schema.Record](w *schema.Dataset, c schema.Category, item T) error {
	items := w.Get(c).([]T)
	i := slices.IndexFunc(items, func(it T) bool { return it.Key() == item.Key() })
	if i < 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, c, item.Key())
	}
	items[i] = item
	w.Set(c, items)
	return nil
}

func removeRecord[T schema.Record](w *schema.Dataset, c schema.Category, key string) error {
	items := w.Get(c).([]T)
	i := slices.IndexFunc(items, func(it T) bool { return it.Key() == key })
	if i < 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, c, key)
	}
	w.Set(c, slices.Delete(items, i, i+1))
	return nil
}

func add[T schema.Record](ctx context.Context, s *Service, c schema.Category, item T) error {
	if err := schema.Validate(item); err != nil {
		return err
	}
	return s.mutate(ctx, c, func(w *schema.Dataset) error {
		if _, exists := schema.FindRecord(w.Get(c).([]T), item.Key()); exists {
			return fmt.Errorf("%s %s already exists", c, item.Key())
		}
		appendRecord(w, c, item)
		return nil
	})
}

func update[T schema.Record](ctx context.Context, s *Service, c schema.Category, item T) error {
	if err := schema.Validate(item); err != nil {
		return err
	}
	return s.mutate(ctx, c, func(w *schema.Dataset) error {
		return replaceRecord(w, c, item)
	})
}

func remove[T schema.Record](ctx context.Context, s *Service, c schema.Category, id int64) error {
	return s.mutate(ctx, c, func(w *schema.Dataset) error {
		return removeRecord[T](w, c, strconv.FormatInt(id, 10))
	})
}

// AddStudent adds a student, assigning an id when it has none.
func (s *Service) AddStudent(ctx context.Context, st schema.Student) (schema.Student, error) {
	if st.ID == 0 {
		st.ID = schema.NewID()
	}
	return st, add(ctx, s, schema.CategoryStudents, st)
}

func (s *Service) UpdateStudent(ctx context.Context, st schema.Student) error {
	return update(ctx, s, schema.CategoryStudents, st)
}

func (s *Service) DeleteStudent(ctx context.Context, id int64) error {
	return remove[schema.Student](ctx, s, schema.CategoryStudents, id)
}

// AddSubject adds a subject, assigning an id when it has none.
func (s *Service) AddSubject(ctx context.Context, sub schema.Subject) (schema.Subject, error) {
	if sub.ID == 0 {
		sub.ID = schema.NewID()
	}
	return sub, add(ctx, s, schema.CategorySubjects, sub)
}

func (s *Service) UpdateSubject(ctx context.Context, sub schema.Subject) error {
	return update(ctx, s, schema.CategorySubjects, sub)
}

func (s *Service) DeleteSubject(ctx context.Context, id int64) error {
	return remove[schema.Subject](ctx, s, schema.CategorySubjects, id)
}

// AddClass adds a class, assigning an id when it has none.
func (s *Service) AddClass(ctx context.Context, cl schema.Class) (schema.Class, error) {
	if cl.ID == 0 {
		cl.ID = schema.NewID()
	}
	return cl, add(ctx, s, schema.CategoryClasses, cl)
}

func (s *Service) UpdateClass(ctx context.Context, cl schema.Class) error {
	return update(ctx, s, schema.CategoryClasses, cl)
}

func (s *Service) DeleteClass(ctx context.Context, id int64) error {
	return remove[schema.Class](ctx, s, schema.CategoryClasses, id)
}

// AddGrade adds a grading band, assigning an id when it has none.
func (s *Service) AddGrade(ctx context.Context, g schema.Grade) (schema.Grade, error) {
	if g.ID == 0 {
		g.ID = schema.NewID()
	}
	return g, add(ctx, s, schema.CategoryGrades, g)
}

func (s *Service) UpdateGrade(ctx context.Context, g schema.Grade) error {
	return update(ctx, s, schema.CategoryGrades, g)
}

func (s *Service) DeleteGrade(ctx context.Context, id int64) error {
	return remove[schema.Grade](ctx, s, schema.CategoryGrades, id)
}

// AddUser adds an application user, assigning an id when it has none.
func (s *Service) AddUser(ctx context.Context, u schema.User) (schema.User, error) {
	if u.ID == 0 {
		u.ID = schema.NewID()
	}
	return u, add(ctx, s, schema.CategoryUsers, u)
}

func (s *Service) UpdateUser(ctx context.Context, u schema.User) error {
	return update(ctx, s, schema.CategoryUsers, u)
}

func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	return remove[schema.User](ctx, s, schema.CategoryUsers, id)
}

// AddAssessment inserts an assessment type before the exam so the exam
// stays last, or appends it when there is no exam.
func (s *Service) AddAssessment(ctx context.Context, a schema.Assessment) (schema.Assessment, error) {
	if a.ID == 0 {
		a.ID = schema.NewID()
	}
	if err := schema.Validate(a); err != nil {
		return a, err
	}
	return a, s.mutate(ctx, schema.CategoryAssessments, func(w *schema.Dataset) error {
		if i := slices.IndexFunc(w.Assessments, schema.IsExam); i >= 0 {
			w.Assessments = slices.Insert(w.Assessments, i, a)
			return nil
		}
		w.Assessments = append(w.Assessments, a)
		return nil
	})
}

func (s *Service) UpdateAssessment(ctx context.Context, a schema.Assessment) error {
	return update(ctx, s, schema.CategoryAssessments, a)
}

func (s *Service) DeleteAssessment(ctx context.Context, id int64) error {
	return remove[schema.Assessment](ctx, s, schema.CategoryAssessments, id)
}

// ReorderAssessments puts the assessment types in the order of ids, which
// must list every existing id exactly once.
func (s *Service) ReorderAssessments(ctx context.Context, ids []int64) error {
	return s.mutate(ctx, schema.CategoryAssessments, func(w *schema.Dataset) error {
		if len(ids) != len(w.Assessments) {
			return fmt.Errorf("reorder lists %d assessments, have %d", len(ids), len(w.Assessments))
		}
		index := make(map[int64]schema.Assessment, len(w.Assessments))
		for _, a := range w.Assessments {
			index[a.ID] = a
		}
		out := make([]schema.Assessment, 0, len(ids))
		for _, id := range ids {
			a, ok := index[id]
			if !ok {
				return fmt.Errorf("%w: assessment %d", ErrNotFound, id)
			}
			delete(index, id)
			out = append(out, a)
		}
		w.Assessments = out
		return nil
	})
}

// UpdateSettings applies fn to a copy of the settings and stores the result
// if it validates.
func (s *Service) UpdateSettings(ctx context.Context, fn func(*schema.Settings)) error {
	return s.mutate(ctx, schema.CategorySettings, func(w *schema.Dataset) error {
		st := w.Settings
		fn(&st)
		if err := schema.Validate(st); err != nil {
			return err
		}
		w.Settings = st
		return nil
	})
}

// UpdateStudentScores replaces the entries of one assessment in a
// student's score record for a subject, creating the record if needed. The
// score id joins the pending edits until a save confirms it.
func (s *Service) UpdateStudentScores(ctx context.Context, studentID, subjectID, assessmentID int64, entries []string) error {
	if err := schema.ValidateScoreEntries(entries); err != nil {
		return err
	}
	id := schema.ScoreID(studentID, subjectID)
	key := strconv.FormatInt(assessmentID, 10)
	entries = slices.Clone(entries)

	return s.mutate(ctx, schema.CategoryScores, func(w *schema.Dataset) error {
		i := slices.IndexFunc(w.Scores, func(sc schema.Score) bool { return sc.ID == id })
		if i < 0 {
			w.Scores = append(w.Scores, schema.Score{
				ID:               id,
				StudentID:        studentID,
				SubjectID:        subjectID,
				AssessmentScores: map[string][]string{key: entries},
			})
		} else {
			sc := w.Scores[i]
			sc.AssessmentScores = maps.Clone(sc.AssessmentScores)
			if sc.AssessmentScores == nil {
				sc.AssessmentScores = make(map[string][]string)
			}
			sc.AssessmentScores[key] = entries
			w.Scores[i] = sc
		}
		s.pending.Add(id)
		return nil
	})
}

// EnterScore converts typed input for an assessment and stores it as the
// single entry of that assessment.
func (s *Service) EnterScore(ctx context.Context, studentID, subjectID int64, a schema.Assessment, input string) (string, error) {
	entry, err := schema.ConvertScoreInput(input, schema.MaxScore(a))
	if err != nil {
		return "", err
	}
	return entry, s.UpdateStudentScores(ctx, studentID, subjectID, a.ID, []string{entry})
}

// GetStudentScores returns the entries of one assessment, or nil.
func (s *Service) GetStudentScores(studentID, subjectID, assessmentID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := schema.FindRecord(s.working.Scores, schema.ScoreID(studentID, subjectID))
	if !ok {
		return nil
	}
	return slices.Clone(sc.AssessmentScores[strconv.FormatInt(assessmentID, 10)])
}

// UpdateReportData applies fn to a student's report remarks, creating the
// record if needed.
func (s *Service) UpdateReportData(ctx context.Context, studentID int64, fn func(*schema.ReportData)) error {
	return s.mutate(ctx, schema.CategoryReportData, func(w *schema.Dataset) error {
		i := slices.IndexFunc(w.ReportData, func(r schema.ReportData) bool { return r.StudentID == studentID })
		rd := schema.ReportData{StudentID: studentID}
		if i >= 0 {
			rd = w.ReportData[i]
		}
		fn(&rd)
		rd.StudentID = studentID
		if err := schema.Validate(rd); err != nil {
			return err
		}
		if i >= 0 {
			w.ReportData[i] = rd
		} else {
			w.ReportData = append(w.ReportData, rd)
		}
		return nil
	})
}

func (s *Service) GetReportData(studentID int64) (schema.ReportData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schema.FindRecord(s.working.ReportData, strconv.FormatInt(studentID, 10))
}

// UpdateClassData applies fn to a class's report values, creating the
// record if needed.
func (s *Service) UpdateClassData(ctx context.Context, classID int64, fn func(*schema.ClassData)) error {
	return s.mutate(ctx, schema.CategoryClassData, func(w *schema.Dataset) error {
		i := slices.IndexFunc(w.ClassData, func(c schema.ClassData) bool { return c.ClassID == classID })
		cd := schema.ClassData{ClassID: classID}
		if i >= 0 {
			cd = w.ClassData[i]
		}
		fn(&cd)
		cd.ClassID = classID
		if err := schema.Validate(cd); err != nil {
			return err
		}
		if i >= 0 {
			w.ClassData[i] = cd
		} else {
			w.ClassData = append(w.ClassData, cd)
		}
		return nil
	})
}

func (s *Service) GetClassData(classID int64) (schema.ClassData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schema.FindRecord(s.working.ClassData, strconv.FormatInt(classID, 10))
}
