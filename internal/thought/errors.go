package thought

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid matches every validation failure returned by this package.
var ErrInvalid = errors.New("invalid thought")

// ValidationError reports a missing or malformed thought field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// InvalidStageError reports a stage name outside the configured set.
type InvalidStageError struct {
	Value string
	Valid []string
}

func (e *InvalidStageError) Error() string {
	return fmt.Sprintf("Invalid thinking stage: '%s'. Valid stages are: %s",
		e.Value, strings.Join(e.Valid, ", "))
}

func (e *InvalidStageError) Is(target error) bool {
	return target == ErrInvalid
}
