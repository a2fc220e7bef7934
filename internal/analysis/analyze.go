package analysis

import (
	"time"

	"github.com/mfenderov/seqthink/internal/thought"
)

const snippetLength = 100

// Report is the per-thought analysis returned after a thought is added.
type Report struct {
	ThoughtAnalysis ThoughtAnalysis `json:"thoughtAnalysis"`
}

type ThoughtAnalysis struct {
	CurrentThought CurrentThought `json:"currentThought"`
	Analysis       Details        `json:"analysis"`
	Context        Context        `json:"context"`
}

type CurrentThought struct {
	ThoughtNumber     int       `json:"thoughtNumber"`
	TotalThoughts     int       `json:"totalThoughts"`
	NextThoughtNeeded bool      `json:"nextThoughtNeeded"`
	Stage             string    `json:"stage"`
	Tags              []string  `json:"tags"`
	Timestamp         time.Time `json:"timestamp"`
}

type Details struct {
	RelatedThoughtsCount    int              `json:"relatedThoughtsCount"`
	RelatedThoughtSummaries []RelatedSummary `json:"relatedThoughtSummaries"`
	Progress                float64          `json:"progress"`
	IsFirstInStage          bool             `json:"isFirstInStage"`
}

// RelatedSummary is a short reference to a related thought.
type RelatedSummary struct {
	ThoughtNumber int    `json:"thoughtNumber"`
	Stage         string `json:"stage"`
	Snippet       string `json:"snippet"`
}

type Context struct {
	ThoughtHistoryLength int    `json:"thoughtHistoryLength"`
	CurrentStage         string `json:"currentStage"`
}

// Analyze reports on target in the context of all, which normally already
// contains target.
func Analyze(target thought.Thought, all []thought.Thought) Report {
	related := FindRelated(target, all, DefaultMaxRelated)

	summaries := make([]RelatedSummary, len(related))
	for i, t := range related {
		summaries[i] = RelatedSummary{
			ThoughtNumber: t.Number,
			Stage:         string(t.Stage),
			Snippet:       Snippet(t.Text),
		}
	}

	sameStage := 0
	for _, t := range all {
		if t.Stage == target.Stage {
			sameStage++
		}
	}

	tags := target.Tags
	if tags == nil {
		tags = []string{}
	}

	return Report{ThoughtAnalysis: ThoughtAnalysis{
		CurrentThought: CurrentThought{
			ThoughtNumber:     target.Number,
			TotalThoughts:     target.Total,
			NextThoughtNeeded: target.NextNeeded,
			Stage:             string(target.Stage),
			Tags:              append([]string(nil), tags...),
			Timestamp:         target.CreatedAt,
		},
		Analysis: Details{
			RelatedThoughtsCount:    len(related),
			RelatedThoughtSummaries: summaries,
			Progress:                Progress(target),
			IsFirstInStage:          sameStage <= 1,
		},
		Context: Context{
			ThoughtHistoryLength: len(all),
			CurrentStage:         string(target.Stage),
		},
	}}
}

// Progress is the thought's position as a percentage of its expected total.
func Progress(t thought.Thought) float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Number) / float64(t.Total) * 100
}

// Snippet truncates text to 100 characters, appending "..." when cut.
func Snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLength {
		return text
	}
	return string(runes[:snippetLength]) + "..."
}
