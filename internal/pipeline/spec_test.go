package pipeline

import (
	"errors"
	"strings"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func validSpec() Spec {
	return Spec{
		Schema:    SpecSchemaV1,
		BatchSize: 4,
		Ops: []OpSpec{
			{Name: "read", Type: "read_image", Inputs: []string{"image_path"}, Outputs: []string{"x"}},
			{Name: "rescale", Type: "rescale", Inputs: []string{"x"}, Outputs: []string{"x"}},
			{Name: "resize", Type: "resize", Inputs: []string{"x"}, Outputs: []string{"x"}, Height: intPtr(8), Width: intPtr(8)},
			{Name: "augment", Type: "flip_horizontal", Inputs: []string{"x"}, Outputs: []string{"x"}, Modes: []string{"train"}},
		},
	}
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Spec)
		wantErr string
	}{
		{
			name:   "ok",
			mutate: func(s *Spec) {},
		},
		{
			name:    "wrong schema",
			mutate:  func(s *Spec) { s.Schema = "v0" },
			wantErr: "spec.schema",
		},
		{
			name:    "batch size zero",
			mutate:  func(s *Spec) { s.BatchSize = 0 },
			wantErr: "batch_size",
		},
		{
			name:    "no ops",
			mutate:  func(s *Spec) { s.Ops = nil },
			wantErr: "ops must be non-empty",
		},
		{
			name:    "duplicate op name",
			mutate:  func(s *Spec) { s.Ops[1].Name = "read" },
			wantErr: "duplicate op name",
		},
		{
			name:    "unknown op type",
			mutate:  func(s *Spec) { s.Ops[0].Type = "blur" },
			wantErr: "unsupported",
		},
		{
			name:    "unknown mode",
			mutate:  func(s *Spec) { s.Ops[3].Modes = []string{"validation"} },
			wantErr: "unknown mode",
		},
		{
			name:    "resize without height",
			mutate:  func(s *Spec) { s.Ops[2].Height = nil },
			wantErr: "height",
		},
		{
			name:    "flip probability out of range",
			mutate:  func(s *Spec) { s.Ops[3].Probability = floatPtr(1.5) },
			wantErr: "probability",
		},
		{
			name:    "multiple outputs",
			mutate:  func(s *Spec) { s.Ops[1].Outputs = []string{"a", "b"} },
			wantErr: "exactly one output",
		},
		{
			name: "multiple outputs without inputs",
			mutate: func(s *Spec) {
				s.Ops[1].Inputs = nil
				s.Ops[1].Outputs = []string{"a", "b"}
			},
			wantErr: "exactly one output",
		},
		{
			name:    "bad epoch window",
			mutate:  func(s *Spec) { s.Ops[0].EpochFrom = 5; s.Ops[0].EpochUntil = 2 },
			wantErr: "epoch_until",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			err := spec.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate err=%v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate err=nil, want issue containing %q", tt.wantErr)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate err is %T, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate err=%q, want mention of %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateDataflow(t *testing.T) {
	spec := validSpec()

	if err := spec.ValidateDataflow(ModeTrain, []string{"image_path"}); err != nil {
		t.Fatalf("ValidateDataflow(train) err=%v, want nil", err)
	}
	if err := spec.ValidateDataflow(ModeEval, []string{"image_path"}); err != nil {
		t.Fatalf("ValidateDataflow(eval) err=%v, want nil", err)
	}

	if err := spec.ValidateDataflow(ModeTrain, []string{"path"}); err == nil {
		t.Fatalf("ValidateDataflow with missing source field did not fail")
	}

	colliding := validSpec()
	colliding.Ops[1].Outputs = []string{"image_path"}
	if err := colliding.ValidateDataflow(ModeTrain, []string{"image_path"}); err == nil {
		t.Fatalf("ValidateDataflow with colliding output did not fail")
	}
}

func TestParseSpecYAML(t *testing.T) {
	raw := `
schema: feedline.pipeline.v1
batch_size: 32
ops:
  - name: read
    type: read_image
    inputs: [image_path]
    outputs: [x]
  - name: rescale
    type: rescale
    inputs: [x]
    outputs: [x]
    scale: 0.00392156862745098
  - name: augment
    type: flip_horizontal
    inputs: [x]
    outputs: [x]
    modes: [train]
`
	spec, err := ParseSpec([]byte(raw))
	if err != nil {
		t.Fatalf("ParseSpec err=%v", err)
	}
	if spec.BatchSize != 32 {
		t.Fatalf("BatchSize=%d, want 32", spec.BatchSize)
	}
	if len(spec.Ops) != 3 {
		t.Fatalf("len(Ops)=%d, want 3", len(spec.Ops))
	}
	if spec.Ops[1].Scale == nil {
		t.Fatalf("rescale scale not parsed")
	}
}

func TestCompilePlanModeGating(t *testing.T) {
	spec := validSpec()

	trainPlan, err := spec.Compile(ModeTrain, 1, []string{"image_path"})
	if err != nil {
		t.Fatalf("Compile(train) err=%v", err)
	}
	if len(trainPlan.Ops) != 4 {
		t.Fatalf("train plan has %d ops, want 4", len(trainPlan.Ops))
	}

	evalPlan, err := spec.Compile(ModeEval, 1, []string{"image_path"})
	if err != nil {
		t.Fatalf("Compile(eval) err=%v", err)
	}
	if len(evalPlan.Ops) != 3 {
		t.Fatalf("eval plan has %d ops, want 3 (augment is train-only)", len(evalPlan.Ops))
	}

	if _, err := spec.Compile("validation", 1, []string{"image_path"}); err == nil {
		t.Fatalf("Compile with unknown mode did not fail")
	}
	if _, err := spec.Compile(ModeTrain, 0, []string{"image_path"}); err == nil {
		t.Fatalf("Compile with epoch 0 did not fail")
	}
}

func TestCompilePlanEpochWindow(t *testing.T) {
	spec := validSpec()
	spec.Ops[3].EpochFrom = 3
	spec.Ops[3].EpochUntil = 5

	for _, tt := range []struct {
		epoch int
		want  int
	}{
		{epoch: 1, want: 3},
		{epoch: 3, want: 4},
		{epoch: 5, want: 4},
		{epoch: 6, want: 3},
	} {
		plan, err := spec.Compile(ModeTrain, tt.epoch, []string{"image_path"})
		if err != nil {
			t.Fatalf("Compile(epoch=%d) err=%v", tt.epoch, err)
		}
		if len(plan.Ops) != tt.want {
			t.Fatalf("Compile(epoch=%d) has %d ops, want %d", tt.epoch, len(plan.Ops), tt.want)
		}
	}
}
