package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Category names a top-level slice of a school's dataset.
type Category string

const (
	CategorySettings       Category = "settings"
	CategoryStudents       Category = "students"
	CategorySubjects       Category = "subjects"
	CategoryClasses        Category = "classes"
	CategoryGrades         Category = "grades"
	CategoryAssessments    Category = "assessments"
	CategoryScores         Category = "scores"
	CategoryReportData     Category = "reportData"
	CategoryClassData      Category = "classData"
	CategoryUsers          Category = "users"
	CategoryUserLogs       Category = "userLogs"
	CategoryActiveSessions Category = "activeSessions"
)

var allCategories = []Category{
	CategorySettings,
	CategoryStudents,
	CategorySubjects,
	CategoryClasses,
	CategoryGrades,
	CategoryAssessments,
	CategoryScores,
	CategoryReportData,
	CategoryClassData,
	CategoryUsers,
	CategoryUserLogs,
	CategoryActiveSessions,
}

// AllCategories returns every category in a stable order.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// IsScalar reports whether the category holds a single value rather than
// a list of records keyed by id.
func (c Category) IsScalar() bool {
	return c == CategorySettings || c == CategoryActiveSessions
}

// IsSubcollection reports whether the category is stored as per-item
// records remotely and fetched separately from the main document.
func (c Category) IsSubcollection() bool {
	switch c {
	case CategoryStudents, CategoryClasses, CategorySubjects, CategoryAssessments, CategoryScores:
		return true
	}
	return false
}

// Valid reports whether c is a known category.
// ErrUnknownCategory is returned for category names outside the dataset.
var ErrUnknownCategory = errors.New("unknown category")

// CheckCategories returns an error naming the first invalid category.
func CheckCategories(cats ...Category) error {
	for _, c := range cats {
		if !c.Valid() {
			return fmt.Errorf("%w %q", ErrUnknownCategory, string(c))
		}
	}
	return nil
}

func (c Category) Valid() bool {
	_, ok := accessors[c]
	return ok
}

func (c Category) String() string { return string(c) }

// MainDocumentCategories returns the categories stored on the main document.
func MainDocumentCategories() []Category {
	var out []Category
	for _, c := range allCategories {
		if !c.IsSubcollection() {
			out = append(out, c)
		}
	}
	return out
}

// SubcollectionCategories returns the categories stored as subcollections.
func SubcollectionCategories() []Category {
	var out []Category
	for _, c := range allCategories {
		if c.IsSubcollection() {
			out = append(out, c)
		}
	}
	return out
}

// ParseCategory parses a category name. Matching is case-insensitive.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range allCategories {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownCategory, s)
}

// ParseCategories parses a comma separated list of category names.
func ParseCategories(list []string) ([]Category, error) {
	var out []Category
	for _, item := range list {
		for _, part := range strings.Split(item, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			c, err := ParseCategory(part)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// SortCategories orders cats by their position in AllCategories and
// removes duplicates.
func SortCategories(cats []Category) []Category {
	seen := make(map[Category]bool, len(cats))
	for _, c := range cats {
		seen[c] = true
	}
	var out []Category
	for _, c := range allCategories {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}
