package runs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/feedline-labs/feedline-go/internal/domain"
	"github.com/feedline-labs/feedline-go/internal/pipeline"
	"github.com/feedline-labs/feedline-go/internal/repo"
	"github.com/feedline-labs/feedline-go/internal/storage/objectstore"
)

type fakePipelineRepo struct {
	pipelines map[string]domain.Pipeline
}

func (r *fakePipelineRepo) Create(ctx context.Context, p domain.Pipeline) error {
	r.pipelines[p.ID] = p
	return nil
}

func (r *fakePipelineRepo) Get(ctx context.Context, projectID, id string) (domain.Pipeline, error) {
	p, ok := r.pipelines[id]
	if !ok || p.ProjectID != projectID {
		return domain.Pipeline{}, repo.ErrNotFound
	}
	return p, nil
}

func (r *fakePipelineRepo) List(ctx context.Context, filter repo.PipelineFilter) ([]domain.Pipeline, error) {
	out := make([]domain.Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		out = append(out, p)
	}
	return out, nil
}

type fakeDatasetRepo struct {
	datasets map[string]domain.Dataset
}

func (r *fakeDatasetRepo) Create(ctx context.Context, d domain.Dataset) error {
	r.datasets[d.ID] = d
	return nil
}

func (r *fakeDatasetRepo) Get(ctx context.Context, projectID, id string) (domain.Dataset, error) {
	d, ok := r.datasets[id]
	if !ok || d.ProjectID != projectID {
		return domain.Dataset{}, repo.ErrNotFound
	}
	return d, nil
}

func (r *fakeDatasetRepo) List(ctx context.Context, filter repo.DatasetFilter) ([]domain.Dataset, error) {
	out := make([]domain.Dataset, 0, len(r.datasets))
	for _, d := range r.datasets {
		out = append(out, d)
	}
	return out, nil
}

type fakeRunRepo struct {
	runs map[string]domain.Run
}

func (r *fakeRunRepo) Create(ctx context.Context, run domain.Run) error {
	r.runs[run.ID] = run
	return nil
}

func (r *fakeRunRepo) Get(ctx context.Context, projectID, id string) (domain.Run, error) {
	run, ok := r.runs[id]
	if !ok || run.ProjectID != projectID {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (r *fakeRunRepo) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	out := make([]domain.Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out, nil
}

func (r *fakeRunRepo) UpdateStatus(ctx context.Context, projectID, id string, status domain.RunState, errMsg string, endedAt *time.Time) error {
	run, ok := r.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	run.Status = status
	run.Error = errMsg
	run.EndedAt = endedAt
	r.runs[id] = run
	return nil
}

func (r *fakeRunRepo) SetReport(ctx context.Context, projectID, id string, report []byte, sampleKey, sampleSHA string) error {
	run, ok := r.runs[id]
	if !ok {
		return repo.ErrNotFound
	}
	run.Report = report
	run.SampleKey = sampleKey
	run.SampleSHA = sampleSHA
	r.runs[id] = run
	return nil
}

type fakeStore struct {
	objects map[string][]byte
}

func (s *fakeStore) key(bucket, key string) string { return bucket + "/" + key }

func (s *fakeStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[s.key(bucket, key)] = data
	return nil
}

func (s *fakeStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	data, ok := s.objects[s.key(bucket, key)]
	if !ok {
		return nil, objectstore.ObjectInfo{}, fmt.Errorf("object not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), objectstore.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s *fakeStore) Stat(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	data, ok := s.objects[s.key(bucket, key)]
	if !ok {
		return objectstore.ObjectInfo{}, fmt.Errorf("object not found: %s", key)
	}
	return objectstore.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s *fakeStore) Delete(ctx context.Context, bucket, key string) error {
	delete(s.objects, s.key(bucket, key))
	return nil
}

func (s *fakeStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return "https://example.test/" + s.key(bucket, key), nil
}

func writeTestPNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 5, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return path
}

const testSpecJSON = `{
	"schema": "feedline.pipeline.v1",
	"batch_size": 2,
	"ops": [
		{"name": "read", "type": "read_image", "inputs": ["image"], "outputs": ["x"]},
		{"name": "rescale", "type": "rescale", "inputs": ["x"], "outputs": ["x"]}
	]
}`

func newTestService(t *testing.T, kind domain.RunKind, numSteps int) (*Service, *fakeRunRepo, *fakeStore) {
	t.Helper()

	imgDir := t.TempDir()
	for i := 0; i < 6; i++ {
		writeTestPNG(t, imgDir, fmt.Sprintf("img_%d.png", i), 4, 4)
	}

	pipelines := &fakePipelineRepo{pipelines: map[string]domain.Pipeline{
		"pl-1": {
			ID:            "pl-1",
			ProjectID:     "proj-1",
			Name:          "test",
			SpecJSON:      []byte(testSpecJSON),
			ContentSHA256: "sha",
			CreatedAt:     time.Now().UTC(),
		},
	}}
	datasets := &fakeDatasetRepo{datasets: map[string]domain.Dataset{
		"ds-1": {
			ID:        "ds-1",
			ProjectID: "proj-1",
			Name:      "local-images",
			Format:    domain.DatasetFormatDir,
			Source:    imgDir,
			CreatedAt: time.Now().UTC(),
		},
	}}
	runs := &fakeRunRepo{runs: map[string]domain.Run{
		"run-1": {
			ID:         "run-1",
			ProjectID:  "proj-1",
			PipelineID: "pl-1",
			Kind:       kind,
			Mode:       "eval",
			Epoch:      1,
			NumSteps:   numSteps,
			Datasets:   map[string]string{"eval": "ds-1"},
			Status:     domain.RunStateCreated,
			CreatedAt:  time.Now().UTC(),
			CreatedBy:  "tester",
		},
	}}
	store := &fakeStore{objects: map[string][]byte{}}

	svc := New(pipelines, datasets, runs, store, Buckets{Datasets: "datasets", Artifacts: "artifacts"}, t.TempDir())
	if svc == nil {
		t.Fatalf("expected service")
	}
	return svc, runs, store
}

func TestExecuteInspection(t *testing.T) {
	svc, runRepo, store := newTestService(t, domain.RunKindInspection, 2)

	run, err := svc.Execute(context.Background(), "proj-1", "run-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != domain.RunStateSucceeded {
		t.Fatalf("Status=%q, want succeeded", run.Status)
	}
	if run.SampleKey != "runs/run-1/sample.json" {
		t.Fatalf("SampleKey=%q", run.SampleKey)
	}
	if run.SampleSHA == "" {
		t.Fatalf("expected sample sha")
	}

	uploaded, ok := store.objects["artifacts/runs/run-1/sample.json"]
	if !ok {
		t.Fatalf("sample artifact not uploaded")
	}
	if !bytes.Equal(uploaded, run.Report) {
		t.Fatalf("uploaded sample differs from stored report")
	}

	var sample SampleReport
	if err := json.Unmarshal(run.Report, &sample); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if sample.Mode != "eval" || sample.Epoch != 1 {
		t.Fatalf("sample header=%+v", sample)
	}
	if len(sample.Batches) != 2 {
		t.Fatalf("batches=%d, want 2", len(sample.Batches))
	}
	x, ok := sample.Batches[0].Fields["x"]
	if !ok {
		t.Fatalf("batch missing field x: %v", sample.Batches[0].Fields)
	}
	if len(x.Shape) != 4 || x.Shape[0] != 2 {
		t.Fatalf("x shape=%v, want leading dim 2", x.Shape)
	}
	if x.Max > 1.0 || x.Min < 0.0 {
		t.Fatalf("rescaled values out of range: min=%v max=%v", x.Min, x.Max)
	}

	if runRepo.runs["run-1"].EndedAt == nil {
		t.Fatalf("expected ended timestamp")
	}
}

func TestExecuteBenchmark(t *testing.T) {
	svc, _, _ := newTestService(t, domain.RunKindBenchmark, 2)

	run, err := svc.Execute(context.Background(), "proj-1", "run-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != domain.RunStateSucceeded {
		t.Fatalf("Status=%q, want succeeded", run.Status)
	}
	if run.SampleKey != "" {
		t.Fatalf("benchmark should not upload a sample, got key %q", run.SampleKey)
	}

	var report pipeline.BenchmarkReport
	if err := json.Unmarshal(run.Report, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.CompletedSteps != 2 {
		t.Fatalf("CompletedSteps=%d, want 2", report.CompletedSteps)
	}
	if report.RecordsPerSecond <= 0 {
		t.Fatalf("RecordsPerSecond=%v, want > 0", report.RecordsPerSecond)
	}
	if !report.Passed {
		t.Fatalf("expected report to pass without a floor")
	}
}

func TestExecuteRejectsNonCreatedRun(t *testing.T) {
	svc, runRepo, _ := newTestService(t, domain.RunKindBenchmark, 1)
	run := runRepo.runs["run-1"]
	run.Status = domain.RunStateSucceeded
	runRepo.runs["run-1"] = run

	if _, err := svc.Execute(context.Background(), "proj-1", "run-1"); err == nil {
		t.Fatalf("expected error for already executed run")
	}
}

func TestExecuteRecordsFailure(t *testing.T) {
	svc, runRepo, _ := newTestService(t, domain.RunKindInspection, 1)
	ds := domain.Dataset{
		ID:        "ds-1",
		ProjectID: "proj-1",
		Name:      "missing",
		Format:    domain.DatasetFormatDir,
		Source:    "s3-key-that-does-not-exist.zip",
	}
	svc.datasets.(*fakeDatasetRepo).datasets["ds-1"] = ds

	if _, err := svc.Execute(context.Background(), "proj-1", "run-1"); err == nil {
		t.Fatalf("expected execution error")
	}
	got := runRepo.runs["run-1"]
	if got.Status != domain.RunStateFailed {
		t.Fatalf("Status=%q, want failed", got.Status)
	}
	if got.Error == "" {
		t.Fatalf("expected recorded error message")
	}
}

func TestExecuteTimeoutFailsRun(t *testing.T) {
	svc, runRepo, _ := newTestService(t, domain.RunKindInspection, 2)
	WithTimeout(time.Nanosecond)(svc)

	_, err := svc.Execute(context.Background(), "proj-1", "run-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want context.DeadlineExceeded", err)
	}
	got := runRepo.runs["run-1"]
	if got.Status != domain.RunStateFailed {
		t.Fatalf("Status=%q, want failed", got.Status)
	}
	if got.Error == "" {
		t.Fatalf("expected recorded error message")
	}
	if got.EndedAt == nil {
		t.Fatalf("expected EndedAt on timed-out run")
	}
}
