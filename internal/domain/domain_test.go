package domain

import (
	"testing"
	"time"
)

func validRun() Run {
	return Run{
		ID:         "run-1",
		ProjectID:  "proj-1",
		PipelineID: "pl-1",
		Kind:       RunKindBenchmark,
		Mode:       "train",
		Epoch:      1,
		NumSteps:   10,
		Datasets:   map[string]string{"train": "ds-1"},
		Status:     RunStateCreated,
		CreatedAt:  time.Now().UTC(),
		CreatedBy:  "alice",
	}
}

func TestRunValidate(t *testing.T) {
	if err := validRun().Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Run)
	}{
		{name: "missing pipeline", mutate: func(r *Run) { r.PipelineID = "" }},
		{name: "bad kind", mutate: func(r *Run) { r.Kind = "training" }},
		{name: "zero epoch", mutate: func(r *Run) { r.Epoch = 0 }},
		{name: "zero steps", mutate: func(r *Run) { r.NumSteps = 0 }},
		{name: "no datasets", mutate: func(r *Run) { r.Datasets = nil }},
		{name: "mode unbound", mutate: func(r *Run) { r.Datasets = map[string]string{"eval": "ds-1"} }},
		{name: "bad status", mutate: func(r *Run) { r.Status = "done" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := validRun()
			tt.mutate(&run)
			if err := run.Validate(); err == nil {
				t.Fatalf("Validate() expected error")
			}
		})
	}
}

func TestRunStateTransitions(t *testing.T) {
	tests := []struct {
		current RunState
		next    RunState
		want    bool
	}{
		{RunStateCreated, RunStateRunning, true},
		{RunStateRunning, RunStateSucceeded, true},
		{RunStateRunning, RunStateFailed, true},
		{RunStateCreated, RunStateFailed, true},
		{RunStateSucceeded, RunStateRunning, false},
		{RunStateFailed, RunStateCreated, false},
		{RunStateRunning, RunStateRunning, true},
		{"", RunStateRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransitionRunState(tt.current, tt.next); got != tt.want {
			t.Fatalf("CanTransitionRunState(%q, %q)=%v, want %v", tt.current, tt.next, got, tt.want)
		}
	}
}

func TestNormalizeRunState(t *testing.T) {
	if got := NormalizeRunState(" Pending "); got != RunStateCreated {
		t.Fatalf("NormalizeRunState(pending)=%q, want created", got)
	}
	if got := NormalizeRunState("cancelled"); got != "" {
		t.Fatalf("NormalizeRunState(cancelled)=%q, want empty", got)
	}
}

func TestDatasetValidate(t *testing.T) {
	valid := Dataset{
		ID:        "ds-1",
		ProjectID: "proj-1",
		Name:      "mscoco-sample",
		Format:    DatasetFormatCOCO,
		Source:    "datasets/mscoco-sample.zip",
		Options: DatasetOptions{
			InstancesFile: "annotations/instances.json",
			IncludeBboxes: true,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	noAnnotations := valid
	noAnnotations.Options = DatasetOptions{}
	if err := noAnnotations.Validate(); err == nil {
		t.Fatalf("Validate() expected error for coco without annotations")
	}

	csvMissingColumn := Dataset{
		ID:        "ds-2",
		ProjectID: "proj-1",
		Name:      "manifest",
		Format:    DatasetFormatCSV,
		Source:    "datasets/manifest.zip",
		Options:   DatasetOptions{ManifestFile: "data.csv"},
	}
	if err := csvMissingColumn.Validate(); err == nil {
		t.Fatalf("Validate() expected error for csv without path column")
	}
}

func TestPipelineValidate(t *testing.T) {
	valid := Pipeline{
		ID:            "pl-1",
		ProjectID:     "proj-1",
		Name:          "mnist-train",
		SpecJSON:      []byte(`{"schema":"feedline.pipeline.v1"}`),
		ContentSHA256: "abc",
		CreatedAt:     time.Now().UTC(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	missingSpec := valid
	missingSpec.SpecJSON = nil
	if err := missingSpec.Validate(); err == nil {
		t.Fatalf("Validate() expected error for empty spec")
	}
}
