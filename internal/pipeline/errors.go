package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSource is returned when a requested mode has no dataset bound.
var ErrNoSource = errors.New("no source bound for mode")

// ValidationError aggregates pipeline spec validation issues.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "pipeline spec validation failed"
	}
	return "pipeline spec validation failed: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) Addf(format string, args ...any) {
	e.Add(fmt.Sprintf(format, args...))
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

// MissingFieldError reports an op whose declared input was absent from
// the record at apply time.
type MissingFieldError struct {
	Op    string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("op %q: missing input field %q", e.Op, e.Field)
}
