package schema

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidScore is returned for score strings that cannot be stored.
var ErrInvalidScore = errors.New("invalid score")

// NormalizeAssessmentScores drops blank entries from every assessment list
// and drops assessments left with no entries.
func NormalizeAssessmentScores(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for id, entries := range m {
		var kept []string
		for _, e := range entries {
			if strings.TrimSpace(e) != "" {
				kept = append(kept, e)
			}
		}
		if len(kept) > 0 {
			out[id] = kept
		}
	}
	return out
}

// NormalizeScore returns a copy of s with normalized assessment scores.
func NormalizeScore(s Score) Score {
	s.AssessmentScores = NormalizeAssessmentScores(s.AssessmentScores)
	return s
}

// NormalizeScoreList normalizes each score of list.
func NormalizeScoreList(list []Score) []Score {
	if list == nil {
		return nil
	}
	out := make([]Score, len(list))
	for i, s := range list {
		out[i] = NormalizeScore(s)
	}
	return out
}

// IsEmptyScore reports whether s has no non-blank entries.
func IsEmptyScore(s Score) bool {
	return len(NormalizeAssessmentScores(s.AssessmentScores)) == 0
}

// EqualScores compares two scores after normalization.
func EqualScores(a, b Score) bool {
	return Equal(NormalizeScore(a), NormalizeScore(b))
}

// ParseScore parses a stored "value/basis" entry.
func ParseScore(entry string) (value, basis float64, err error) {
	parts := strings.Split(strings.TrimSpace(entry), "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q is not of the form value/basis", ErrInvalidScore, entry)
	}
	value, err = parseNumber(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q has a non-numeric value", ErrInvalidScore, entry)
	}
	basis, err = parseNumber(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q has a non-numeric basis", ErrInvalidScore, entry)
	}
	if basis <= 0 {
		return 0, 0, fmt.Errorf("%w: %q has a zero basis", ErrInvalidScore, entry)
	}
	if value < 0 || value > basis {
		return 0, 0, fmt.Errorf("%w: %q is outside 0..%s", ErrInvalidScore, entry, FormatNumber(basis))
	}
	return value, basis, nil
}

// parseNumber parses a finite decimal. NaN and infinities are rejected.
func parseNumber(text string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, strconv.ErrSyntax
	}
	return f, nil
}

// ValidateScoreEntries checks every non-blank entry of entries.
func ValidateScoreEntries(entries []string) error {
	for _, e := range entries {
		if strings.TrimSpace(e) == "" {
			continue
		}
		if _, _, err := ParseScore(e); err != nil {
			return err
		}
	}
	return nil
}

// ConvertScoreInput converts what a teacher typed into a stored entry.
// Input is either a raw mark on the assessment's own scale ("8") or a
// fraction of an arbitrary total ("15/20"), which is scaled to maxScore.
// The result is rounded to one decimal and written as "value/maxScore".
// Blank input yields "".
func ConvertScoreInput(raw string, maxScore float64) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if !(maxScore > 0) || math.IsInf(maxScore, 0) {
		return "", fmt.Errorf("%w: assessment has no maximum score", ErrInvalidScore)
	}

	var converted float64
	if strings.Contains(raw, "/") {
		parts := strings.Split(raw, "/")
		if len(parts) != 2 {
			return "", fmt.Errorf("%w: %q", ErrInvalidScore, raw)
		}
		x, errX := parseNumber(parts[0])
		y, errY := parseNumber(parts[1])
		if errX != nil || errY != nil {
			return "", fmt.Errorf("%w: %q is not numeric", ErrInvalidScore, raw)
		}
		if y == 0 {
			return "", fmt.Errorf("%w: %q divides by zero", ErrInvalidScore, raw)
		}
		converted = x / y * maxScore
	} else {
		z, err := parseNumber(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %q is not numeric", ErrInvalidScore, raw)
		}
		converted = z
	}

	if math.IsNaN(converted) || converted < 0 || converted > maxScore {
		return "", fmt.Errorf("%w: %s is outside 0..%s", ErrInvalidScore, FormatNumber(converted), FormatNumber(maxScore))
	}
	return FormatScore(converted, maxScore), nil
}

// FormatScore writes value rounded to one decimal over basis.
func FormatScore(value, basis float64) string {
	return FormatNumber(math.Round(value*10)/10) + "/" + FormatNumber(basis)
}

// FormatNumber formats n without trailing zeros.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// IsExam reports whether an assessment is the end of term exam. Exams are
// entered out of 100 regardless of their weight.
func IsExam(a Assessment) bool {
	return strings.Contains(strings.ToLower(a.Name), "exam")
}

// MaxScore returns the scale an assessment's entries are recorded on.
func MaxScore(a Assessment) float64 {
	if IsExam(a) {
		return 100
	}
	return a.Weight
}
