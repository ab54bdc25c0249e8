// Package diff computes the upload payload that brings the remote store in
// line with the working state.
//
// A payload is computed per dirty category against the baseline, the last
// state confirmed by the remote store. Collections contribute new and changed
// records plus the ids that disappeared; scalar categories are sent whole.
// Score records are compared after normalization so that blank entries never
// count as a change, and empty placeholder scores never overwrite remote
// data unless the user explicitly edited them.
package diff

import (
	"maps"
	"slices"

	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// Payload is the set of writes for one transaction.
type Payload struct {
	Updates   *schema.Snapshot
	Deletions map[schema.Category][]string
}

// NewPayload returns an empty payload.
func NewPayload() *Payload {
	return &Payload{
		Updates:   &schema.Snapshot{},
		Deletions: make(map[schema.Category][]string),
	}
}

// Empty reports whether the payload carries no writes.
func (p *Payload) Empty() bool {
	return p == nil || (p.Updates.Empty() && len(p.Deletions) == 0)
}

// Categories lists every category with updates or deletions.
func (p *Payload) Categories() []schema.Category {
	if p == nil {
		return nil
	}
	cats := p.Updates.Categories()
	for c := range p.Deletions {
		cats = append(cats, c)
	}
	return schema.SortCategories(cats)
}

// Count returns the number of written records plus deleted ids.
func (p *Payload) Count() int {
	n := 0
	for _, ch := range p.Summary() {
		n += ch.Updated + ch.Deleted
	}
	return n
}

// Change summarizes a payload category for previews.
type Change struct {
	Category schema.Category `json:"category"`
	Updated  int             `json:"updated"`
	Deleted  int             `json:"deleted"`
}

// Summary returns per-category counts in canonical order.
func (p *Payload) Summary() []Change {
	var out []Change
	for _, c := range p.Categories() {
		ch := Change{Category: c, Deleted: len(p.Deletions[c])}
		if p.Updates.Has(c) {
			ch.Updated = schema.Size(c, p.Updates.Get(c))
		}
		out = append(out, ch)
	}
	return out
}

// Compute diffs working against baseline for cats. pending holds the score
// ids the user edited since the last confirmed save.
func Compute(working, baseline *schema.Dataset, cats []schema.Category, pending schema.IDSet) *Payload {
	p := NewPayload()
	for _, c := range schema.SortCategories(cats) {
		var deleted []string
		switch c {
		case schema.CategorySettings:
			st := working.Settings
			p.Updates.Settings = &st
		case schema.CategoryActiveSessions:
			p.Updates.ActiveSessions = maps.Clone(working.ActiveSessions)
			for key := range baseline.ActiveSessions {
				if _, ok := working.ActiveSessions[key]; !ok {
					deleted = append(deleted, key)
				}
			}
			slices.Sort(deleted)
		case schema.CategoryScores:
			p.Updates.Scores, deleted = scores(working.Scores, baseline.Scores, pending)
		case schema.CategoryStudents:
			p.Updates.Students, deleted = records(working.Students, baseline.Students)
		case schema.CategorySubjects:
			p.Updates.Subjects, deleted = records(working.Subjects, baseline.Subjects)
		case schema.CategoryClasses:
			p.Updates.Classes, deleted = records(working.Classes, baseline.Classes)
		case schema.CategoryGrades:
			p.Updates.Grades, deleted = records(working.Grades, baseline.Grades)
		case schema.CategoryAssessments:
			p.Updates.Assessments, deleted = records(working.Assessments, baseline.Assessments)
		case schema.CategoryReportData:
			p.Updates.ReportData, deleted = records(working.ReportData, baseline.ReportData)
		case schema.CategoryClassData:
			p.Updates.ClassData, deleted = records(working.ClassData, baseline.ClassData)
		case schema.CategoryUsers:
			p.Updates.Users, deleted = records(working.Users, baseline.Users)
		case schema.CategoryUserLogs:
			p.Updates.UserLogs, deleted = records(working.UserLogs, baseline.UserLogs)
		}
		if len(deleted) > 0 {
			p.Deletions[c] = deleted
		}
	}
	return p
}

func records[T schema.Record](working, baseline []T) ([]T, []string) {
	return changed(working, baseline, func(w T, b T, found bool) bool {
		return !found || !schema.Equal(w, b)
	})
}

func scores(working, baseline []schema.Score, pending schema.IDSet) ([]schema.Score, []string) {
	return changed(working, baseline, func(w, b schema.Score, found bool) bool {
		if !found {
			return !schema.IsEmptyScore(w) || pending.Has(w.ID)
		}
		return !schema.EqualScores(w, b)
	})
}

// changed returns the working records include selects, in working order,
// and the sorted ids of baseline records missing from working.
func changed[T schema.Record](working, baseline []T, include func(w, b T, found bool) bool) ([]T, []string) {
	index := make(map[string]T, len(baseline))
	for _, b := range baseline {
		index[b.Key()] = b
	}

	var updates []T
	present := make(map[string]struct{}, len(working))
	for _, w := range working {
		present[w.Key()] = struct{}{}
		b, found := index[w.Key()]
		if include(w, b, found) {
			updates = append(updates, w)
		}
	}

	var deleted []string
	for _, b := range baseline {
		if _, ok := present[b.Key()]; !ok {
			deleted = append(deleted, b.Key())
		}
	}
	slices.Sort(deleted)
	return updates, deleted
}
