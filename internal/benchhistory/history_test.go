package benchhistory

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndList(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), "bench.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer h.Close()

	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{RunID: "run-1", PipelineID: "pl-1", Mode: "train", Epoch: 1, CompletedSteps: 10, TotalRecords: 320, RecordsPerSecond: 1200.5, Passed: true, RecordedAt: base},
		{RunID: "run-2", PipelineID: "pl-1", Mode: "train", Epoch: 1, CompletedSteps: 10, TotalRecords: 320, RecordsPerSecond: 900.1, Passed: false, RecordedAt: base.Add(time.Hour)},
		{RunID: "run-3", PipelineID: "pl-2", Mode: "eval", Epoch: 2, CompletedSteps: 5, TotalRecords: 160, RecordsPerSecond: 1500, Passed: true, RecordedAt: base.Add(2 * time.Hour)},
	}
	for _, entry := range entries {
		if err := h.Append(ctx, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}

	got, err := h.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].RunID != "run-3" {
		t.Fatalf("newest first: got %s, want run-3", got[0].RunID)
	}

	got, err = h.List(ctx, "pl-1", 10)
	if err != nil {
		t.Fatalf("list pl-1: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("pl-1 len = %d, want 2", len(got))
	}
	if got[0].RunID != "run-2" || got[1].RunID != "run-1" {
		t.Fatalf("pl-1 order = %s, %s", got[0].RunID, got[1].RunID)
	}
	if got[0].Passed {
		t.Fatal("run-2 should not have passed")
	}
}

func TestAppendRequiresRunID(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), "bench.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer h.Close()

	if err := h.Append(context.Background(), Entry{}); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatal("expected error for blank path")
	}
}
