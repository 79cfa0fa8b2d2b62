package pipeline

import (
	"math/rand"
)

// ExecState carries per-iteration execution context into ops. Randomness
// comes only from Rand so a run is reproducible from its seed.
type ExecState struct {
	Mode  Mode
	Epoch int
	Rand  *rand.Rand
}

// Op is a single transformation stage. Apply must be pure given
// (state, record): it returns a partial record update and never mutates
// fields it does not declare as outputs.
type Op interface {
	Name() string
	Inputs() []string
	Outputs() []string

	// Modes returns the modes the op is active in; empty means all.
	Modes() []Mode

	// EpochWindow returns the inclusive [from, until] epoch range the op
	// is active in. until == 0 means open-ended.
	EpochWindow() (from, until int)

	Apply(state *ExecState, rec Record) (Record, error)
}

// opBase carries the declarations shared by every built-in op.
type opBase struct {
	name    string
	inputs  []string
	outputs []string
	modes   []Mode
	from    int
	until   int
}

func (b opBase) Name() string     { return b.name }
func (b opBase) Inputs() []string { return b.inputs }
func (b opBase) Outputs() []string {
	return b.outputs
}
func (b opBase) Modes() []Mode { return b.modes }
func (b opBase) EpochWindow() (int, int) {
	return b.from, b.until
}

// activeIn reports whether an op participates for the given mode and epoch.
func activeIn(op Op, mode Mode, epoch int) bool {
	from, until := op.EpochWindow()
	if from > 0 && epoch < from {
		return false
	}
	if until > 0 && epoch > until {
		return false
	}
	modes := op.Modes()
	if len(modes) == 0 {
		return true
	}
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}
