package storage

import (
	"time"

	"github.com/mfenderov/seqthink/internal/thought"
)

// Session is the ordered list of thoughts stored at one location.
type Session struct {
	Thoughts    []thought.Thought
	LastUpdated time.Time
}

// Len returns the number of thoughts in the session.
func (s Session) Len() int {
	return len(s.Thoughts)
}

// StageCounts counts thoughts per stage, with an entry for every stage in
// stages even when it is zero.
func (s Session) StageCounts(stages thought.Stages) map[string]int {
	counts := make(map[string]int, len(stages))
	for _, stage := range stages {
		counts[string(stage)] = 0
	}
	for _, t := range s.Thoughts {
		counts[string(t.Stage)]++
	}
	return counts
}

func (s Session) clone() Session {
	return Session{
		Thoughts:    thought.CloneAll(s.Thoughts),
		LastUpdated: s.LastUpdated,
	}
}
