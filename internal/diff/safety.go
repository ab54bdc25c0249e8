package diff

import (
	"errors"
	"fmt"

	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// Deletions during a queue drain are blocked when they exceed both limits.
const (
	MassDeletionMinCount = 5
	MassDeletionRatio    = 0.2
)

// ErrMassDeletion is the sentinel behind every MassDeletionError.
var ErrMassDeletion = errors.New("suspicious mass deletion blocked")

// MassDeletionError reports a blocked deletion set. The remote records it
// names are kept and need manual review.
type MassDeletionError struct {
	Category     schema.Category
	Deleted      int
	BaselineSize int
}

func (e *MassDeletionError) Error() string {
	return fmt.Sprintf("suspicious mass deletion blocked: %d of %d %s records would be removed",
		e.Deleted, e.BaselineSize, e.Category)
}

func (e *MassDeletionError) Unwrap() error { return ErrMassDeletion }

// CheckMassDeletion returns a *MassDeletionError when deleting deleted of
// baselineSize records is suspicious: more than MassDeletionMinCount records
// and more than MassDeletionRatio of the collection.
func CheckMassDeletion(cat schema.Category, deleted, baselineSize int) error {
	if deleted <= MassDeletionMinCount {
		return nil
	}
	if float64(deleted) <= MassDeletionRatio*float64(baselineSize) {
		return nil
	}
	return &MassDeletionError{Category: cat, Deleted: deleted, BaselineSize: baselineSize}
}

// Consolidate builds the reconnect payload from the current working state
// and drops the deletions of every category that fails the mass-deletion
// check. The violations are returned alongside the payload.
func Consolidate(working, baseline *schema.Dataset, cats []schema.Category, pending schema.IDSet) (*Payload, []error) {
	p := Compute(working, baseline, cats, pending)

	var violations []error
	for _, c := range schema.SortCategories(cats) {
		ids, ok := p.Deletions[c]
		if !ok {
			continue
		}
		if err := CheckMassDeletion(c, len(ids), schema.Size(c, baseline.Get(c))); err != nil {
			delete(p.Deletions, c)
			violations = append(violations, err)
		}
	}
	return p, violations
}
