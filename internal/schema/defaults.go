package schema

// DefaultSettings returns the settings of a newly registered school.
func DefaultSettings() Settings {
	return Settings{
		HeadmasterName:           "Mr. Michael Darko",
		IndexNumberCounterDigits: 3,
		IndexNumberGlobalCounter: 1,
	}
}

// DefaultSubjects returns the standard basic school subjects.
func DefaultSubjects() []Subject {
	names := []struct {
		name string
		typ  string
	}{
		{"English Language", "Core"},
		{"Science", "Core"},
		{"Mathematics", "Core"},
		{"Social Studies", "Core"},
		{"Computing", "Elective"},
		{"Career Technology", "Elective"},
		{"Creative Arts & Design", "Elective"},
		{"Religious & Moral Education", "Elective"},
		{"Ghanaian Language", "Elective"},
		{"Creative Arts", "Elective"},
		{"OWOP", "Elective"},
		{"Numeracy", "Core"},
		{"Language & Literacy", "Core"},
	}
	out := make([]Subject, len(names))
	for i, n := range names {
		out[i] = Subject{ID: int64(i + 1), Subject: n.name, Type: n.typ}
	}
	return out
}

// DefaultGrades returns the nine band grading scale.
func DefaultGrades() []Grade {
	return []Grade{
		{ID: 1, Name: "1", MinScore: 80, MaxScore: 100, Remark: "Excellent"},
		{ID: 2, Name: "2", MinScore: 70, MaxScore: 79, Remark: "Very Good"},
		{ID: 3, Name: "3", MinScore: 65, MaxScore: 69, Remark: "Good"},
		{ID: 4, Name: "4", MinScore: 60, MaxScore: 64, Remark: "High Average"},
		{ID: 5, Name: "5", MinScore: 55, MaxScore: 59, Remark: "Average"},
		{ID: 6, Name: "6", MinScore: 50, MaxScore: 54, Remark: "Pass"},
		{ID: 7, Name: "7", MinScore: 40, MaxScore: 49, Remark: "Weak Pass"},
		{ID: 8, Name: "8", MinScore: 35, MaxScore: 39, Remark: "Lower"},
		{ID: 9, Name: "9", MinScore: 0, MaxScore: 34, Remark: "Lowest"},
	}
}

// DefaultAssessments returns the standard assessment types.
func DefaultAssessments() []Assessment {
	return []Assessment{
		{ID: 1, Name: "Class Exercise", Weight: 10},
		{ID: 2, Name: "Class Test", Weight: 15},
		{ID: 3, Name: "Assignment", Weight: 10},
		{ID: 4, Name: "Group Work", Weight: 15},
		{ID: 5, Name: "Exam", Weight: 50},
	}
}

// DefaultDataset returns the dataset a new school starts from.
func DefaultDataset() *Dataset {
	return &Dataset{
		Settings:    DefaultSettings(),
		Subjects:    DefaultSubjects(),
		Grades:      DefaultGrades(),
		Assessments: DefaultAssessments(),
	}
}

// GradeFor returns the grade band containing score.
func GradeFor(grades []Grade, score float64) (Grade, bool) {
	for _, g := range grades {
		if score >= g.MinScore && score <= g.MaxScore {
			return g, true
		}
	}
	return Grade{}, false
}
