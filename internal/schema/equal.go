package schema

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Equal reports whether a and b are structurally equal. Slices compare
// element by element in order; maps compare by key set and values. Nil and
// empty slices or maps are equal.
func Equal(a, b any) bool {
	return cmp.Equal(a, b, cmpopts.EquateEmpty())
}

// EqualCategory compares two values of a category. Score lists are
// normalized before comparison so that blank entries never count as a
// change.
func EqualCategory(c Category, a, b any) bool {
	if c == CategoryScores {
		return Equal(NormalizeScoreList(a.([]Score)), NormalizeScoreList(b.([]Score)))
	}
	return Equal(a, b)
}

// Diff returns a human readable description of the difference between a
// and b, or "" when they are equal.
func Diff(a, b any) string {
	return cmp.Diff(a, b, cmpopts.EquateEmpty())
}
