package thought

import (
	"fmt"
	"strings"
)

// Stage is the display name of a thinking stage, e.g. "Problem Definition".
type Stage string

// Default stage names, in order.
const (
	StageProblemDefinition Stage = "Problem Definition"
	StageResearch          Stage = "Research"
	StageAnalysis          Stage = "Analysis"
	StageSynthesis         Stage = "Synthesis"
	StageConclusion        Stage = "Conclusion"
)

// Stages is the closed, ordered set of stages a thought may belong to.
type Stages []Stage

// DefaultStages returns the five standard stages.
func DefaultStages() Stages {
	return Stages{
		StageProblemDefinition,
		StageResearch,
		StageAnalysis,
		StageSynthesis,
		StageConclusion,
	}
}

// NewStages builds a stage set from configured names.
// Names must be non-blank and unique ignoring case.
func NewStages(names []string) (Stages, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("stage set must not be empty")
	}

	stages := make(Stages, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("stage name must not be blank")
		}
		if stages.Contains(name) {
			return nil, fmt.Errorf("duplicate stage %q", name)
		}
		stages = append(stages, Stage(name))
	}
	return stages, nil
}

// Parse resolves a stage name case-insensitively.
func (s Stages) Parse(value string) (Stage, error) {
	trimmed := strings.TrimSpace(value)
	for _, stage := range s {
		if strings.EqualFold(string(stage), trimmed) {
			return stage, nil
		}
	}
	return "", &InvalidStageError{Value: value, Valid: s.Names()}
}

// Contains reports whether value names a stage in the set.
func (s Stages) Contains(value string) bool {
	_, err := s.Parse(value)
	return err == nil
}

// Names returns the display names in order.
func (s Stages) Names() []string {
	names := make([]string, len(s))
	for i, stage := range s {
		names[i] = string(stage)
	}
	return names
}
