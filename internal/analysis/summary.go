package analysis

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/mfenderov/seqthink/internal/thought"
)

// NoThoughtsMessage is reported in place of a summary for an empty session.
const NoThoughtsMessage = "No thoughts recorded yet"

const topTagLimit = 5

// Summary aggregates a whole session. The zero Summary represents an empty
// session and encodes as {"summary": "No thoughts recorded yet"}.
type Summary struct {
	TotalThoughts    int              `json:"totalThoughts"`
	Stages           map[string]int   `json:"stages"`
	Timeline         []TimelineEntry  `json:"timeline"`
	TopTags          []TagCount       `json:"topTags"`
	CompletionStatus CompletionStatus `json:"completionStatus"`
}

type TimelineEntry struct {
	Number int    `json:"number"`
	Stage  string `json:"stage"`
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

type CompletionStatus struct {
	HasAllStages    bool    `json:"hasAllStages"`
	PercentComplete float64 `json:"percentComplete"`
}

// IsEmpty reports whether the summary describes an empty session.
func (s Summary) IsEmpty() bool {
	return s.TotalThoughts == 0
}

// MarshalJSON wraps the summary in a "summary" key, substituting
// NoThoughtsMessage when empty.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	if s.IsEmpty() {
		return json.Marshal(map[string]string{"summary": NoThoughtsMessage})
	}
	return json.Marshal(struct {
		Summary plain `json:"summary"`
	}{plain(s)})
}

// Summarize builds the aggregate report for all. stages is the closed set
// used to decide whether every stage has been visited.
func Summarize(all []thought.Thought, stages thought.Stages) Summary {
	if len(all) == 0 {
		return Summary{}
	}

	counts := make(map[string]int)
	maxTotal := 0
	for _, t := range all {
		counts[string(t.Stage)]++
		maxTotal = max(maxTotal, t.Total)
	}

	hasAll := len(stages) > 0
	for _, stage := range stages {
		if counts[string(stage)] == 0 {
			hasAll = false
			break
		}
	}

	percent := 0.0
	if maxTotal > 0 {
		percent = float64(len(all)) / float64(maxTotal) * 100
	}

	return Summary{
		TotalThoughts: len(all),
		Stages:        counts,
		Timeline:      timeline(all),
		TopTags:       topTags(all, topTagLimit),
		CompletionStatus: CompletionStatus{
			HasAllStages:    hasAll,
			PercentComplete: percent,
		},
	}
}

func timeline(all []thought.Thought) []TimelineEntry {
	entries := make([]TimelineEntry, len(all))
	for i, t := range all {
		entries[i] = TimelineEntry{Number: t.Number, Stage: string(t.Stage)}
	}
	slices.SortStableFunc(entries, func(a, b TimelineEntry) int {
		return cmp.Compare(a.Number, b.Number)
	})
	return entries
}

// topTags counts every tag occurrence and returns the n most frequent,
// ties in first-seen order.
func topTags(all []thought.Thought, n int) []TagCount {
	index := make(map[string]int)
	var counts []TagCount
	for _, t := range all {
		for _, tag := range t.Tags {
			i, ok := index[tag]
			if !ok {
				i = len(counts)
				index[tag] = i
				counts = append(counts, TagCount{Tag: tag})
			}
			counts[i].Count++
		}
	}

	slices.SortStableFunc(counts, func(a, b TagCount) int {
		return cmp.Compare(b.Count, a.Count)
	})
	if len(counts) > n {
		counts = counts[:n]
	}
	if counts == nil {
		counts = []TagCount{}
	}
	return counts
}
