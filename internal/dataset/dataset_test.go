package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDirDataset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.png"), "x")
	writeFile(t, filepath.Join(dir, "a.jpg"), "x")
	writeFile(t, filepath.Join(dir, "notes.txt"), "x")
	writeFile(t, filepath.Join(dir, "nested", "c.png"), "x")

	flat, err := NewDirDataset(dir, "image", false)
	if err != nil {
		t.Fatalf("NewDirDataset err=%v", err)
	}
	if flat.Len() != 2 {
		t.Fatalf("flat Len=%d, want 2 (txt and nested skipped)", flat.Len())
	}
	rec, err := flat.Record(0)
	if err != nil {
		t.Fatalf("Record err=%v", err)
	}
	if got := rec["image"].(string); filepath.Base(got) != "a.jpg" {
		t.Fatalf("Record(0) path=%s, want a.jpg first (sorted)", got)
	}
	if fields := flat.Fields(); len(fields) != 1 || fields[0] != "image" {
		t.Fatalf("Fields=%v, want [image]", fields)
	}

	recursive, err := NewDirDataset(dir, "image", true)
	if err != nil {
		t.Fatalf("NewDirDataset recursive err=%v", err)
	}
	if recursive.Len() != 3 {
		t.Fatalf("recursive Len=%d, want 3", recursive.Len())
	}

	if _, err := NewDirDataset(t.TempDir(), "image", false); err == nil {
		t.Fatalf("NewDirDataset over empty dir did not fail")
	}
}

func TestTrimToCount(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1.png", "2.png", "3.png", "4.png"} {
		writeFile(t, filepath.Join(dir, name), "x")
	}

	if err := TrimToCount(dir, 2); err != nil {
		t.Fatalf("TrimToCount err=%v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir err=%v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("after trim %d files remain, want 2", len(entries))
	}

	if err := TrimToCount(dir, 0); err == nil {
		t.Fatalf("TrimToCount(0) did not fail")
	}
}

func TestCSVDataset(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "labels.csv")
	writeFile(t, manifest, "path,label,split\nimg/1.png,3,train\nimg/2.png,7,eval\n")

	ds, err := NewCSVDataset(manifest, CSVOptions{
		PathColumn:   "path",
		ImageRoot:    dir,
		LabelColumns: []string{"label"},
	})
	if err != nil {
		t.Fatalf("NewCSVDataset err=%v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("Len=%d, want 2", ds.Len())
	}

	rec, err := ds.Record(0)
	if err != nil {
		t.Fatalf("Record err=%v", err)
	}
	if got := rec["path"].(string); got != filepath.Join(dir, "img", "1.png") {
		t.Fatalf("path=%s, want joined onto image root", got)
	}
	if got := rec["label"].(int64); got != 3 {
		t.Fatalf("label=%d, want 3", got)
	}
	if got := rec["split"].(string); got != "train" {
		t.Fatalf("split=%q, want train", got)
	}

	if _, err := NewCSVDataset(manifest, CSVOptions{PathColumn: "file"}); err == nil {
		t.Fatalf("NewCSVDataset with missing path column did not fail")
	}
	if _, err := NewCSVDataset(manifest, CSVOptions{PathColumn: "path", LabelColumns: []string{"score"}}); err == nil {
		t.Fatalf("NewCSVDataset with missing label column did not fail")
	}

	bad := filepath.Join(dir, "bad.csv")
	writeFile(t, bad, "path,label\nimg/1.png,notanumber\n")
	badDS, err := NewCSVDataset(bad, CSVOptions{PathColumn: "path", LabelColumns: []string{"label"}})
	if err != nil {
		t.Fatalf("NewCSVDataset err=%v", err)
	}
	if _, err := badDS.Record(0); err == nil {
		t.Fatalf("Record with unparseable label did not fail")
	}
}
