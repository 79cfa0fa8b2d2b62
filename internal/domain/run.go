package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunKind distinguishes the two run flavors: an inspection materializes
// a handful of batches for human review, a benchmark measures pipeline
// throughput.
type RunKind string

const (
	RunKindInspection RunKind = "inspection"
	RunKindBenchmark  RunKind = "benchmark"
)

func NormalizeRunKind(value string) RunKind {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RunKindInspection):
		return RunKindInspection
	case string(RunKindBenchmark):
		return RunKindBenchmark
	default:
		return ""
	}
}

// RunState is the lifecycle state of a pipeline run.
type RunState string

const (
	RunStateCreated   RunState = "created"
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
)

// NormalizeRunState maps free-form status values to canonical run states.
func NormalizeRunState(value string) RunState {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(RunStateCreated), "pending":
		return RunStateCreated
	case string(RunStateRunning):
		return RunStateRunning
	case string(RunStateSucceeded):
		return RunStateSucceeded
	case string(RunStateFailed):
		return RunStateFailed
	default:
		return ""
	}
}

// CanTransitionRunState enforces forward-only state progression.
func CanTransitionRunState(current, next RunState) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	return runStateOrder(current) < runStateOrder(next)
}

func runStateOrder(state RunState) int {
	switch state {
	case RunStateCreated:
		return 1
	case RunStateRunning:
		return 2
	case RunStateSucceeded, RunStateFailed:
		return 3
	default:
		return 0
	}
}

// Run is a single execution of a registered pipeline against registered
// datasets. Datasets maps execution mode to dataset id. Report holds the
// kind-specific result as JSON once the run finishes.
type Run struct {
	ID         string
	ProjectID  string
	PipelineID string
	Kind       RunKind
	Mode       string
	Epoch      int
	NumSteps   int
	// WarmupSteps applies to benchmark runs: negative selects the
	// engine default, zero disables warm-up.
	WarmupSteps         int
	MinRecordsPerSecond float64
	Datasets            map[string]string
	Status              RunState
	Report              []byte
	SampleKey           string
	SampleSHA           string
	Error               string
	CreatedAt           time.Time
	CreatedBy           string
	StartedAt           *time.Time
	EndedAt             *time.Time
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(r.PipelineID) == "" {
		return errors.New("pipeline id is required")
	}
	if NormalizeRunKind(string(r.Kind)) == "" {
		return fmt.Errorf("unsupported run kind: %q", r.Kind)
	}
	if strings.TrimSpace(r.Mode) == "" {
		return errors.New("mode is required")
	}
	if r.Epoch < 1 {
		return errors.New("epoch must be >= 1")
	}
	if r.NumSteps < 1 {
		return errors.New("num steps must be >= 1")
	}
	if r.MinRecordsPerSecond < 0 {
		return errors.New("min records per second must be >= 0")
	}
	if len(r.Datasets) == 0 {
		return errors.New("at least one dataset binding is required")
	}
	if _, ok := r.Datasets[r.Mode]; !ok {
		return fmt.Errorf("no dataset bound for mode %q", r.Mode)
	}
	if NormalizeRunState(string(r.Status)) == "" {
		return fmt.Errorf("unsupported run status: %q", r.Status)
	}
	return nil
}
