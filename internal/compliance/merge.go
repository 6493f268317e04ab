package compliance

import (
	"sort"

	"github.com/dgallion1/adgmcheck/internal/finding"
)

// Merge combines rule and advisory issues into one ordered list.
//
// Issues with the same document, section, clause and normalized description
// collapse to one; a Rule issue always wins over an Advisory duplicate. The
// result is ordered by severity (Critical first), then by clause position,
// then by first appearance. Merge(Merge(a, b), nil) equals Merge(a, b).
func Merge(rule, advisory []finding.Issue) []finding.Issue {
	type entry struct {
		issue finding.Issue
		seq   int
	}
	index := make(map[finding.Key]int, len(rule)+len(advisory))
	var merged []entry

	add := func(is finding.Issue) {
		k := is.Key()
		if i, ok := index[k]; ok {
			if merged[i].issue.Source != finding.SourceRule && is.Source == finding.SourceRule {
				merged[i].issue = is
			}
			return
		}
		index[k] = len(merged)
		merged = append(merged, entry{issue: is, seq: len(merged)})
	}
	for _, is := range rule {
		add(is)
	}
	for _, is := range advisory {
		add(is)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i].issue, merged[j].issue
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra < rb
		}
		if a.Location.Position != b.Location.Position {
			return a.Location.Position < b.Location.Position
		}
		return merged[i].seq < merged[j].seq
	})

	out := make([]finding.Issue, len(merged))
	for i, e := range merged {
		out[i] = e.issue
	}
	return out
}
