package sched

import "fmt"

// Mutex-group interval collision tolerance: two same-group tasks whose
// intervals differ by at most this fraction of the larger interval will
// contend for the group on nearly every firing, which usually means one of
// them starves. 5% flags 1000ms vs 1050ms but not 1000ms vs 5000ms.
const intervalCollisionTolerance = 0.05

type OverlapKind string

const (
	OverlapDuplicateID       OverlapKind = "duplicate-id"
	OverlapIntervalCollision OverlapKind = "interval-collision"
)

type Overlap struct {
	Kind   OverlapKind
	Tasks  []string
	Detail string
}

// Gap is reserved for coverage-gap analysis; no current rule produces one.
type Gap struct {
	Detail string
}

type ValidationResult struct {
	Valid    bool
	Overlaps []Overlap
	Gaps     []Gap
}

// ValidateMECE analyzes a proposed task set for configuration mistakes:
// duplicate ids, and near-identical intervals within one mutex group. It is
// pure: the input is never mutated and no scheduler state is consulted.
//
// Intended for configuration time; an invalid result does not prevent
// registration, it tells the operator the set is ambiguous.
func ValidateMECE(defs []Definition) ValidationResult {
	var res ValidationResult

	// One overlap per duplicate beyond the first occurrence.
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if seen[d.ID] {
			res.Overlaps = append(res.Overlaps, Overlap{
				Kind:   OverlapDuplicateID,
				Tasks:  []string{d.ID},
				Detail: fmt.Sprintf("task id %q appears more than once", d.ID),
			})
			continue
		}
		seen[d.ID] = true
	}

	for i, a := range defs {
		for _, b := range defs[i+1:] {
			if a.MutexGroup == "" || a.MutexGroup != b.MutexGroup {
				continue
			}
			if a.Interval <= 0 || b.Interval <= 0 {
				continue
			}
			if !intervalsCollide(a, b) {
				continue
			}
			res.Overlaps = append(res.Overlaps, Overlap{
				Kind:  OverlapIntervalCollision,
				Tasks: []string{a.ID, b.ID},
				Detail: fmt.Sprintf("tasks %q (%s) and %q (%s) in group %q have near-identical intervals",
					a.ID, a.Interval, b.ID, b.Interval, a.MutexGroup),
			})
		}
	}

	res.Valid = len(res.Overlaps) == 0 && len(res.Gaps) == 0
	return res
}

func intervalsCollide(a, b Definition) bool {
	diff := a.Interval - b.Interval
	if diff < 0 {
		diff = -diff
	}
	larger := a.Interval
	if b.Interval > larger {
		larger = b.Interval
	}
	return float64(diff) <= intervalCollisionTolerance*float64(larger)
}
