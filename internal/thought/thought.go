package thought

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Thought is a single recorded step in a sequential thinking session.
// Thoughts are never edited after creation; corrections are new thoughts.
type Thought struct {
	ID                    string
	Text                  string
	Number                int
	Total                 int
	NextNeeded            bool
	Stage                 Stage
	Tags                  []string
	AxiomsUsed            []string
	AssumptionsChallenged []string
	CreatedAt             time.Time
}

// Fields holds the caller-supplied values for a new thought.
type Fields struct {
	Text                  string
	Number                int
	Total                 int
	NextNeeded            bool
	Stage                 string
	Tags                  []string
	AxiomsUsed            []string
	AssumptionsChallenged []string
}

// New validates f against stages and returns a thought with a fresh ID and
// creation time. A Total below Number is raised to Number.
func New(f Fields, stages Stages) (Thought, error) {
	t, err := build(f, stages)
	if err != nil {
		return Thought{}, err
	}
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now().UTC()
	return t, nil
}

func build(f Fields, stages Stages) (Thought, error) {
	if strings.TrimSpace(f.Text) == "" {
		return Thought{}, &ValidationError{Field: "thought", Reason: "content cannot be empty"}
	}
	if f.Number < 1 {
		return Thought{}, &ValidationError{Field: "thoughtNumber", Reason: "must be positive"}
	}

	stage, err := stages.Parse(f.Stage)
	if err != nil {
		return Thought{}, err
	}

	total := f.Total
	if total < f.Number {
		total = f.Number
	}

	return Thought{
		Text:                  f.Text,
		Number:                f.Number,
		Total:                 total,
		NextNeeded:            f.NextNeeded,
		Stage:                 stage,
		Tags:                  copyStrings(f.Tags),
		AxiomsUsed:            copyStrings(f.AxiomsUsed),
		AssumptionsChallenged: copyStrings(f.AssumptionsChallenged),
	}, nil
}

// Clone returns a copy that shares no slices with t.
func (t Thought) Clone() Thought {
	t.Tags = copyStrings(t.Tags)
	t.AxiomsUsed = copyStrings(t.AxiomsUsed)
	t.AssumptionsChallenged = copyStrings(t.AssumptionsChallenged)
	return t
}

// CloneAll deep-copies a slice of thoughts.
func CloneAll(thoughts []Thought) []Thought {
	out := make([]Thought, len(thoughts))
	for i, t := range thoughts {
		out[i] = t.Clone()
	}
	return out
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
