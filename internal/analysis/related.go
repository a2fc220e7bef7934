// Package analysis ranks related thoughts and builds progress reports.
// Every function works on a snapshot passed by the caller and keeps no state.
package analysis

import (
	"cmp"
	"slices"

	"github.com/mfenderov/seqthink/internal/thought"
)

// DefaultMaxRelated is the number of related thoughts reported by Analyze.
const DefaultMaxRelated = 3

// FindRelated returns up to maxResults thoughts related to target.
//
// Thoughts in the same stage come first, in snapshot order. Remaining slots
// are filled with thoughts sharing at least one tag with target, ranked by
// the size of the tag-set intersection (ties keep snapshot order).
// target itself is never returned.
func FindRelated(target thought.Thought, all []thought.Thought, maxResults int) []thought.Thought {
	if maxResults <= 0 {
		return []thought.Thought{}
	}

	related := make([]thought.Thought, 0, maxResults)
	seen := make(map[string]bool)

	for _, t := range all {
		if len(related) >= maxResults {
			return related
		}
		if t.ID == target.ID || t.Stage != target.Stage {
			continue
		}
		related = append(related, t.Clone())
		seen[t.ID] = true
	}

	for _, m := range tagMatches(target, all) {
		if len(related) >= maxResults {
			break
		}
		if seen[m.thought.ID] {
			continue
		}
		related = append(related, m.thought.Clone())
		seen[m.thought.ID] = true
	}

	return related
}

type tagMatch struct {
	thought thought.Thought
	shared  int
}

// tagMatches ranks thoughts by descending tag overlap with target.
func tagMatches(target thought.Thought, all []thought.Thought) []tagMatch {
	if len(target.Tags) == 0 {
		return nil
	}
	want := tagSet(target.Tags)

	var matches []tagMatch
	for _, t := range all {
		if t.ID == target.ID {
			continue
		}
		shared := 0
		for tag := range tagSet(t.Tags) {
			if want[tag] {
				shared++
			}
		}
		if shared > 0 {
			matches = append(matches, tagMatch{thought: t, shared: shared})
		}
	}

	slices.SortStableFunc(matches, func(a, b tagMatch) int {
		return cmp.Compare(b.shared, a.shared)
	})
	return matches
}

func tagSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, tag := range tags {
		set[tag] = true
	}
	return set
}
