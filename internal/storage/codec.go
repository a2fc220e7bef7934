package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mfenderov/seqthink/internal/thought"
)

// ExportMetadata is the extra block written to exported session files.
type ExportMetadata struct {
	TotalThoughts int            `json:"totalThoughts"`
	Stages        map[string]int `json:"stages"`
}

type sessionFile struct {
	Thoughts    *[]thought.Record `json:"thoughts"`
	LastUpdated string            `json:"lastUpdated,omitempty"`
	ExportedAt  string            `json:"exportedAt,omitempty"`
	Metadata    *ExportMetadata   `json:"metadata,omitempty"`
}

// Codec converts sessions to and from the JSON session file format.
type Codec struct {
	stages thought.Stages
}

// NewCodec returns a codec that validates stages against the given set.
func NewCodec(stages thought.Stages) *Codec {
	return &Codec{stages: stages}
}

// Encode serializes s as the working session file. IDs are included.
func (c *Codec) Encode(s Session) ([]byte, error) {
	return c.encode(sessionFile{
		Thoughts:    records(s.Thoughts),
		LastUpdated: formatTime(s.LastUpdated),
	})
}

// EncodeExport serializes s with the export timestamp and per-stage counts.
func (c *Codec) EncodeExport(s Session, exportedAt time.Time) ([]byte, error) {
	return c.encode(sessionFile{
		Thoughts:    records(s.Thoughts),
		LastUpdated: formatTime(s.LastUpdated),
		ExportedAt:  formatTime(exportedAt),
		Metadata: &ExportMetadata{
			TotalThoughts: s.Len(),
			Stages:        s.StageCounts(c.stages),
		},
	})
}

func (c *Codec) encode(f sessionFile) ([]byte, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a session file. Any malformed record fails the whole
// decode with a *CorruptionError; there is no partial result.
func (c *Codec) Decode(data []byte) (Session, error) {
	var f sessionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Session{}, &CorruptionError{Err: err}
	}
	if f.Thoughts == nil {
		return Session{}, &CorruptionError{Err: errors.New(`missing "thoughts" array`)}
	}

	session := Session{Thoughts: make([]thought.Thought, 0, len(*f.Thoughts))}
	for i, r := range *f.Thoughts {
		t, err := thought.FromRecord(r, c.stages)
		if err != nil {
			return Session{}, &CorruptionError{Err: fmt.Errorf("thought %d: %w", i, err)}
		}
		session.Thoughts = append(session.Thoughts, t)
	}

	if f.LastUpdated != "" {
		ts, err := thought.ParseTimestamp(f.LastUpdated)
		if err != nil {
			return Session{}, &CorruptionError{Err: fmt.Errorf("lastUpdated: %w", err)}
		}
		session.LastUpdated = ts
	}

	return session, nil
}

func records(thoughts []thought.Thought) *[]thought.Record {
	out := make([]thought.Record, len(thoughts))
	for i, t := range thoughts {
		out[i] = t.Record(true)
	}
	return &out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
