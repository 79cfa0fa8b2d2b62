package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const SpecSchemaV1 = "feedline.pipeline.v1"

const (
	opReadImage      = "read_image"
	opRescale        = "rescale"
	opResize         = "resize"
	opFlipHorizontal = "flip_horizontal"
	opOneHot         = "one_hot"
	opNormalize      = "normalize"
)

// Spec declares a preprocessing pipeline: an ordered op graph plus its
// batching policy.
type Spec struct {
	Schema    string   `yaml:"schema" json:"schema"`
	BatchSize int      `yaml:"batch_size" json:"batch_size"`
	PadValue  *float64 `yaml:"pad_value,omitempty" json:"pad_value,omitempty"`
	Seed      *int64   `yaml:"seed,omitempty" json:"seed,omitempty"`
	Prefetch  int      `yaml:"prefetch,omitempty" json:"prefetch,omitempty"`
	Ops       []OpSpec `yaml:"ops" json:"ops"`
}

// OpSpec declares one op instance. Type-specific parameters are typed
// optional fields validated per op type.
type OpSpec struct {
	Name    string   `yaml:"name" json:"name"`
	Type    string   `yaml:"type" json:"type"`
	Inputs  []string `yaml:"inputs" json:"inputs"`
	Outputs []string `yaml:"outputs" json:"outputs"`

	Modes      []string `yaml:"modes,omitempty" json:"modes,omitempty"`
	EpochFrom  int      `yaml:"epoch_from,omitempty" json:"epoch_from,omitempty"`
	EpochUntil int      `yaml:"epoch_until,omitempty" json:"epoch_until,omitempty"`

	Scale       *float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
	Offset      *float64 `yaml:"offset,omitempty" json:"offset,omitempty"`
	Height      *int     `yaml:"height,omitempty" json:"height,omitempty"`
	Width       *int     `yaml:"width,omitempty" json:"width,omitempty"`
	Probability *float64 `yaml:"probability,omitempty" json:"probability,omitempty"`
	Depth       *int     `yaml:"depth,omitempty" json:"depth,omitempty"`
	Mean        *float64 `yaml:"mean,omitempty" json:"mean,omitempty"`
	Std         *float64 `yaml:"std,omitempty" json:"std,omitempty"`
}

// ParseSpec decodes a YAML or JSON pipeline spec and validates it.
func ParseSpec(input []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(input, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// CanonicalJSON returns the canonical JSON encoding used for content
// hashing and storage.
func (s Spec) CanonicalJSON() ([]byte, error) {
	return json.Marshal(s)
}

// Validate checks the structural shape of the spec: schema, batching,
// op declarations and per-type parameters. Dataflow against a bound
// source is checked separately by ValidateDataflow.
func (s Spec) Validate() error {
	issues := &ValidationError{}

	if strings.TrimSpace(s.Schema) != SpecSchemaV1 {
		issues.Addf("spec.schema must be %q", SpecSchemaV1)
	}
	if s.BatchSize < 1 {
		issues.Add("spec.batch_size must be >= 1")
	}
	if s.Prefetch < 0 {
		issues.Add("spec.prefetch must be >= 0")
	}
	if len(s.Ops) == 0 {
		issues.Add("spec.ops must be non-empty")
		return issues.OrNil()
	}

	names := make(map[string]struct{}, len(s.Ops))
	for i, op := range s.Ops {
		name := strings.TrimSpace(op.Name)
		if name == "" {
			issues.Addf("ops[%d].name is required", i)
		} else {
			if _, exists := names[name]; exists {
				issues.Addf("duplicate op name %q", name)
			}
			names[name] = struct{}{}
		}
		s.validateOp(issues, i, op)
	}
	return issues.OrNil()
}

func (s Spec) validateOp(issues *ValidationError, i int, op OpSpec) {
	kind := strings.ToLower(strings.TrimSpace(op.Type))
	if kind == "" {
		issues.Addf("ops[%d].type is required", i)
		return
	}

	if len(trimNonEmpty(op.Inputs)) != len(op.Inputs) || len(op.Inputs) == 0 {
		issues.Addf("ops[%d].inputs must be non-empty field names", i)
	}
	if len(trimNonEmpty(op.Outputs)) != len(op.Outputs) || len(op.Outputs) == 0 {
		issues.Addf("ops[%d].outputs must be non-empty field names", i)
	}
	for _, raw := range op.Modes {
		if NormalizeMode(raw) == "" {
			issues.Addf("ops[%d].modes contains unknown mode %q", i, raw)
		}
	}
	if op.EpochFrom < 0 {
		issues.Addf("ops[%d].epoch_from must be >= 0", i)
	}
	if op.EpochUntil != 0 && op.EpochUntil < op.EpochFrom {
		issues.Addf("ops[%d].epoch_until must be 0 or >= epoch_from", i)
	}

	switch kind {
	case opReadImage:
	case opRescale:
		if op.Scale != nil && *op.Scale == 0 {
			issues.Addf("ops[%d].scale must be non-zero", i)
		}
	case opResize:
		if op.Height == nil || *op.Height < 1 {
			issues.Addf("ops[%d] resize requires height >= 1", i)
		}
		if op.Width == nil || *op.Width < 1 {
			issues.Addf("ops[%d] resize requires width >= 1", i)
		}
	case opFlipHorizontal:
		if op.Probability != nil && (*op.Probability < 0 || *op.Probability > 1) {
			issues.Addf("ops[%d].probability must be in [0, 1]", i)
		}
	case opOneHot:
		if op.Depth == nil || *op.Depth < 1 {
			issues.Addf("ops[%d] one_hot requires depth >= 1", i)
		}
	case opNormalize:
		if op.Std == nil || *op.Std == 0 {
			issues.Addf("ops[%d] normalize requires non-zero std", i)
		}
	default:
		issues.Addf("ops[%d].type unsupported: %q", i, kind)
	}

	if len(op.Outputs) > 1 {
		issues.Addf("ops[%d] must declare exactly one output", i)
	}
}

// ValidateDataflow walks the ops active in mode and checks that every
// declared input is satisfied by the source fields or a preceding active
// op's outputs. A declared output may overwrite an existing field only
// when that field is also an input of the same op; otherwise outputs
// must be fresh names.
func (s Spec) ValidateDataflow(mode Mode, sourceFields []string) error {
	issues := &ValidationError{}
	s.validateDataflow(issues, mode, sourceFields)
	return issues.OrNil()
}

func (s Spec) validateDataflow(issues *ValidationError, mode Mode, sourceFields []string) {
	available := make(map[string]struct{}, len(sourceFields))
	for _, f := range sourceFields {
		available[strings.TrimSpace(f)] = struct{}{}
	}

	for _, spec := range s.Ops {
		op, err := buildOp(spec)
		if err != nil {
			issues.Add(err.Error())
			continue
		}
		if !opDeclaredForMode(op, mode) {
			continue
		}

		inputs := make(map[string]struct{}, len(spec.Inputs))
		for _, in := range spec.Inputs {
			in = strings.TrimSpace(in)
			inputs[in] = struct{}{}
			if _, ok := available[in]; !ok {
				issues.Addf("op %q input %q is not produced for mode %q", spec.Name, in, mode)
			}
		}
		for _, out := range spec.Outputs {
			out = strings.TrimSpace(out)
			if _, exists := available[out]; exists {
				if _, inPlace := inputs[out]; !inPlace {
					issues.Addf("op %q output %q collides with an existing field", spec.Name, out)
				}
			}
			available[out] = struct{}{}
		}
	}
}

// opDeclaredForMode ignores the epoch window: dataflow must hold for
// every epoch the op could be active in.
func opDeclaredForMode(op Op, mode Mode) bool {
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

// buildOp instantiates a built-in op from its declaration, applying
// per-type parameter defaults.
func buildOp(spec OpSpec) (Op, error) {
	base := opBase{
		name:    strings.TrimSpace(spec.Name),
		inputs:  trimNonEmpty(spec.Inputs),
		outputs: trimNonEmpty(spec.Outputs),
		from:    spec.EpochFrom,
		until:   spec.EpochUntil,
	}
	for _, raw := range spec.Modes {
		mode := NormalizeMode(raw)
		if mode == "" {
			return nil, fmt.Errorf("op %q: unknown mode %q", spec.Name, raw)
		}
		base.modes = append(base.modes, mode)
	}

	switch strings.ToLower(strings.TrimSpace(spec.Type)) {
	case opReadImage:
		return &readImageOp{opBase: base}, nil
	case opRescale:
		op := &rescaleOp{opBase: base, scale: 1.0 / 255.0, offset: 0}
		if spec.Scale != nil {
			op.scale = *spec.Scale
		}
		if spec.Offset != nil {
			op.offset = *spec.Offset
		}
		if op.scale == 0 {
			return nil, fmt.Errorf("op %q: scale must be non-zero", spec.Name)
		}
		return op, nil
	case opResize:
		if spec.Height == nil || spec.Width == nil {
			return nil, fmt.Errorf("op %q: resize requires height and width", spec.Name)
		}
		return &resizeOp{opBase: base, height: *spec.Height, width: *spec.Width}, nil
	case opFlipHorizontal:
		op := &flipHorizontalOp{opBase: base, probability: 0.5}
		if spec.Probability != nil {
			op.probability = *spec.Probability
		}
		return op, nil
	case opOneHot:
		if spec.Depth == nil {
			return nil, fmt.Errorf("op %q: one_hot requires depth", spec.Name)
		}
		return &oneHotOp{opBase: base, depth: *spec.Depth}, nil
	case opNormalize:
		op := &normalizeOp{opBase: base, mean: 0, std: 1}
		if spec.Mean != nil {
			op.mean = *spec.Mean
		}
		if spec.Std != nil {
			op.std = *spec.Std
		}
		if op.std == 0 {
			return nil, fmt.Errorf("op %q: std must be non-zero", spec.Name)
		}
		return op, nil
	default:
		return nil, fmt.Errorf("op %q: unknown type %q", spec.Name, spec.Type)
	}
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
