package thought

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is the external, camelCase form of a thought used in session files
// and exports. Scalar fields are pointers so that absent keys can be told
// apart from zero values when decoding.
type Record struct {
	ID                    string   `json:"id,omitempty"`
	Thought               *string  `json:"thought"`
	ThoughtNumber         *int     `json:"thoughtNumber"`
	TotalThoughts         *int     `json:"totalThoughts"`
	NextThoughtNeeded     *bool    `json:"nextThoughtNeeded"`
	Stage                 *string  `json:"stage"`
	Tags                  []string `json:"tags"`
	AxiomsUsed            []string `json:"axiomsUsed"`
	AssumptionsChallenged []string `json:"assumptionsChallenged"`
	Timestamp             string   `json:"timestamp,omitempty"`
}

// timestampLayouts are accepted when reading records. The offset-less form
// is what older session files contain.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// Record converts t to its external form. The ID is only included when
// includeID is set; analysis payloads leave it out.
func (t Thought) Record(includeID bool) Record {
	text := t.Text
	number := t.Number
	total := t.Total
	next := t.NextNeeded
	stage := string(t.Stage)

	r := Record{
		Thought:               &text,
		ThoughtNumber:         &number,
		TotalThoughts:         &total,
		NextThoughtNeeded:     &next,
		Stage:                 &stage,
		Tags:                  copyStrings(t.Tags),
		AxiomsUsed:            copyStrings(t.AxiomsUsed),
		AssumptionsChallenged: copyStrings(t.AssumptionsChallenged),
		Timestamp:             t.CreatedAt.Format(time.RFC3339Nano),
	}
	if includeID {
		r.ID = t.ID
	}
	return r
}

// FromRecord rebuilds a thought from its external form, applying the same
// validation as New. The record's ID and timestamp are kept; a missing or
// malformed ID is replaced and a missing timestamp defaults to now.
func FromRecord(r Record, stages Stages) (Thought, error) {
	switch {
	case r.Thought == nil:
		return Thought{}, missing("thought")
	case r.ThoughtNumber == nil:
		return Thought{}, missing("thoughtNumber")
	case r.TotalThoughts == nil:
		return Thought{}, missing("totalThoughts")
	case r.NextThoughtNeeded == nil:
		return Thought{}, missing("nextThoughtNeeded")
	case r.Stage == nil:
		return Thought{}, missing("stage")
	}

	t, err := build(Fields{
		Text:                  *r.Thought,
		Number:                *r.ThoughtNumber,
		Total:                 *r.TotalThoughts,
		NextNeeded:            *r.NextThoughtNeeded,
		Stage:                 *r.Stage,
		Tags:                  r.Tags,
		AxiomsUsed:            r.AxiomsUsed,
		AssumptionsChallenged: r.AssumptionsChallenged,
	}, stages)
	if err != nil {
		return Thought{}, err
	}

	if _, err := uuid.Parse(r.ID); err == nil {
		t.ID = r.ID
	} else {
		t.ID = uuid.NewString()
	}

	if r.Timestamp == "" {
		t.CreatedAt = time.Now().UTC()
		return t, nil
	}
	created, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return Thought{}, &ValidationError{Field: "timestamp", Reason: err.Error()}
	}
	t.CreatedAt = created
	return t, nil
}

// Validate applies the checks of New to an already built thought and returns
// it in the form a session file would give back: stage spelled as in the
// set, total at least number, and a valid ID.
func Validate(t Thought, stages Stages) (Thought, error) {
	return FromRecord(t.Record(true), stages)
}

// ParseTimestamp accepts RFC 3339 and the offset-less ISO-8601 form, which is
// read as local time. The result is in UTC.
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func missing(field string) error {
	return &ValidationError{Field: field, Reason: "missing required field"}
}
