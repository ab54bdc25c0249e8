package schema

import (
	"regexp"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// SanitizeSchoolName normalizes a school name for use in a document id.
func SanitizeSchoolName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, "/", "")
	name = whitespace.ReplaceAllString(name, "")
	return strings.ToLower(name)
}

// SanitizeAcademicYear normalizes an academic year such as "2024/2025".
func SanitizeAcademicYear(year string) string {
	return SanitizeSchoolName(year)
}

// SanitizeAcademicTerm normalizes a term such as "Term 1".
func SanitizeAcademicTerm(term string) string {
	return whitespace.ReplaceAllString(strings.TrimSpace(term), "-")
}

// DocumentID returns the remote document id of a school's term dataset.
func DocumentID(schoolName, academicYear, academicTerm string) string {
	return SanitizeSchoolName(schoolName) + "_" + SanitizeAcademicYear(academicYear) + "_" + SanitizeAcademicTerm(academicTerm)
}
