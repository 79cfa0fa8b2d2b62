package pipeline

import (
	"fmt"
)

// Plan is the compiled form of a spec for one (mode, epoch): the
// ordered instantiated ops active in that context plus the batching
// policy. Plans are cheap to build and are rebuilt per call.
type Plan struct {
	Mode      Mode
	Epoch     int
	Ops       []Op
	BatchSize int
	PadValue  *float32
}

// Compile instantiates the ops active for (mode, epoch) in declaration
// order and validates dataflow against the given source fields.
func (s Spec) Compile(mode Mode, epoch int, sourceFields []string) (Plan, error) {
	if err := s.Validate(); err != nil {
		return Plan{}, err
	}
	if NormalizeMode(string(mode)) == "" {
		return Plan{}, fmt.Errorf("unknown mode %q", mode)
	}
	if epoch < 1 {
		return Plan{}, fmt.Errorf("epoch must be >= 1 (got %d)", epoch)
	}
	if err := s.ValidateDataflow(mode, sourceFields); err != nil {
		return Plan{}, err
	}

	plan := Plan{
		Mode:      mode,
		Epoch:     epoch,
		BatchSize: s.BatchSize,
	}
	if s.PadValue != nil {
		pad := float32(*s.PadValue)
		plan.PadValue = &pad
	}
	for _, spec := range s.Ops {
		op, err := buildOp(spec)
		if err != nil {
			return Plan{}, err
		}
		if activeIn(op, mode, epoch) {
			plan.Ops = append(plan.Ops, op)
		}
	}
	return plan, nil
}

// apply runs the plan's ops over one record, merging each partial
// update into a cloned working record.
func (p Plan) apply(state *ExecState, rec Record) (Record, error) {
	work := rec.Clone()
	for _, op := range p.Ops {
		update, err := op.Apply(state, work)
		if err != nil {
			return nil, err
		}
		work.merge(update)
	}
	return work, nil
}
