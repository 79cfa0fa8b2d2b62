package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/feedline-labs/feedline-go/internal/domain"
	"github.com/feedline-labs/feedline-go/internal/platform/auth"
	"github.com/feedline-labs/feedline-go/internal/repo"
	runsvc "github.com/feedline-labs/feedline-go/internal/service/runs"
	"github.com/feedline-labs/feedline-go/internal/storage/objectstore"
	"github.com/jackc/pgx/v5/pgconn"
)

type memPipelineRepo struct {
	pipelines map[string]domain.Pipeline
}

func (r *memPipelineRepo) Create(ctx context.Context, p domain.Pipeline) error {
	for _, existing := range r.pipelines {
		if existing.ProjectID == p.ProjectID && existing.Name == p.Name {
			return &pgconn.PgError{Code: "23505", ConstraintName: "pipelines_project_id_name_key"}
		}
	}
	r.pipelines[p.ID] = p
	return nil
}

func (r *memPipelineRepo) Get(ctx context.Context, projectID, id string) (domain.Pipeline, error) {
	p, ok := r.pipelines[id]
	if !ok || p.ProjectID != projectID {
		return domain.Pipeline{}, repo.ErrNotFound
	}
	return p, nil
}

func (r *memPipelineRepo) List(ctx context.Context, filter repo.PipelineFilter) ([]domain.Pipeline, error) {
	out := make([]domain.Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		if filter.ProjectID != "" && p.ProjectID != filter.ProjectID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

type memDatasetRepo struct {
	datasets map[string]domain.Dataset
}

func (r *memDatasetRepo) Create(ctx context.Context, d domain.Dataset) error {
	r.datasets[d.ID] = d
	return nil
}

func (r *memDatasetRepo) Get(ctx context.Context, projectID, id string) (domain.Dataset, error) {
	d, ok := r.datasets[id]
	if !ok || d.ProjectID != projectID {
		return domain.Dataset{}, repo.ErrNotFound
	}
	return d, nil
}

func (r *memDatasetRepo) List(ctx context.Context, filter repo.DatasetFilter) ([]domain.Dataset, error) {
	out := make([]domain.Dataset, 0, len(r.datasets))
	for _, d := range r.datasets {
		out = append(out, d)
	}
	return out, nil
}

type memRunRepo struct {
	runs map[string]domain.Run
}

func (r *memRunRepo) Create(ctx context.Context, run domain.Run) error {
	r.runs[run.ID] = run
	return nil
}

func (r *memRunRepo) Get(ctx context.Context, projectID, id string) (domain.Run, error) {
	run, ok := r.runs[id]
	if !ok || run.ProjectID != projectID {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (r *memRunRepo) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	out := make([]domain.Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out, nil
}

func (r *memRunRepo) UpdateStatus(ctx context.Context, projectID, id string, status domain.RunState, errMsg string, endedAt *time.Time) error {
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

func (r *memRunRepo) SetReport(ctx context.Context, projectID, id string, report []byte, sampleKey, sampleSHA string) error {
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

type memStore struct {
	objects map[string][]byte
}

func (s *memStore) key(bucket, key string) string { return bucket + "/" + key }

func (s *memStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[s.key(bucket, key)] = data
	return nil
}

func (s *memStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	data, ok := s.objects[s.key(bucket, key)]
	if !ok {
		return nil, objectstore.ObjectInfo{}, fmt.Errorf("object not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), objectstore.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s *memStore) Stat(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	data, ok := s.objects[s.key(bucket, key)]
	if !ok {
		return objectstore.ObjectInfo{}, fmt.Errorf("object not found: %s", key)
	}
	return objectstore.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s *memStore) Delete(ctx context.Context, bucket, key string) error {
	delete(s.objects, s.key(bucket, key))
	return nil
}

func (s *memStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return "https://minio.test/" + s.key(bucket, key), nil
}

const testProjectID = "proj-1"

const validSpecJSON = `{
  "schema": "feedline.pipeline.v1",
  "batch_size": 2,
  "ops": [
    {"name": "read", "type": "read_image", "inputs": ["image"], "outputs": ["x"]},
    {"name": "scale", "type": "rescale", "inputs": ["x"], "outputs": ["x"]}
  ]
}`

func writeSamplePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 11), G: uint8(y * 17), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *memStore) {
	t.Helper()
	pipelines := &memPipelineRepo{pipelines: map[string]domain.Pipeline{}}
	datasets := &memDatasetRepo{datasets: map[string]domain.Dataset{}}
	runs := &memRunRepo{runs: map[string]domain.Run{}}
	store := &memStore{objects: map[string][]byte{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	exec := runsvc.New(pipelines, datasets, runs, store,
		runsvc.Buckets{Datasets: "datasets", Artifacts: "artifacts"},
		t.TempDir(),
		runsvc.WithLogger(logger),
	)
	if exec == nil {
		t.Fatal("run executor not initialized")
	}
	svc := newRegistryService(pipelines, datasets, runs, exec, nil)
	api := &registryAPI{logger: logger, svc: svc, store: store, artifactsBucket: "artifacts"}

	mux := http.NewServeMux()
	api.register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Project-Id", testProjectID)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestCreateAndGetPipeline(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/pipelines", map[string]any{
		"name": "mnist-preprocess",
		"spec": json.RawMessage(validSpecJSON),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d (body %v)", resp.StatusCode, http.StatusCreated, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("create response missing id")
	}
	sha, _ := body["content_sha256"].(string)
	if len(sha) != 64 {
		t.Fatalf("content_sha256 = %q, want 64 hex chars", sha)
	}

	resp, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/pipelines/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got, _ := body["name"].(string); got != "mnist-preprocess" {
		t.Fatalf("name = %q, want mnist-preprocess", got)
	}
	if got, _ := body["content_sha256"].(string); got != sha {
		t.Fatalf("content_sha256 = %q, want %q", got, sha)
	}
}

func TestCreatePipelineInvalidSpec(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/pipelines", map[string]any{
		"name": "broken",
		"spec": json.RawMessage(`{"schema": "feedline.pipeline.v1", "batch_size": 0, "ops": []}`),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	details, _ := body["details"].([]any)
	if len(details) == 0 {
		t.Fatalf("expected validation details, got %v", body)
	}
}

func TestCreatePipelineDuplicateName(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := map[string]any{
		"name": "dup",
		"spec": json.RawMessage(validSpecJSON),
	}
	resp, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/pipelines", payload)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	resp, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/pipelines", payload)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second create status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestCreateDatasetValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/datasets", map[string]any{
		"name":   "bad-manifest",
		"format": "csv",
		"source": "datasets/bad.zip",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d (body %v)", resp.StatusCode, http.StatusBadRequest, body)
	}

	resp, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/datasets", map[string]any{
		"name":   "images",
		"format": "dir",
		"source": "datasets/images.zip",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %v)", resp.StatusCode, http.StatusCreated, body)
	}
	if got, _ := body["format"].(string); got != "dir" {
		t.Fatalf("format = %q, want dir", got)
	}
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)

	imgDir := t.TempDir()
	for i := 0; i < 6; i++ {
		writeSamplePNG(t, filepath.Join(imgDir, fmt.Sprintf("img-%02d.png", i)), 8, 8)
	}

	resp, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/datasets", map[string]any{
		"name":   "local-images",
		"format": "dir",
		"source": imgDir,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create dataset status = %d (body %v)", resp.StatusCode, body)
	}
	datasetID, _ := body["id"].(string)

	resp, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/pipelines", map[string]any{
		"name": "inspect-pipeline",
		"spec": json.RawMessage(validSpecJSON),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create pipeline status = %d (body %v)", resp.StatusCode, body)
	}
	pipelineID, _ := body["id"].(string)

	resp, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/pipelines/"+pipelineID+"/runs", map[string]any{
		"kind":      "inspection",
		"mode":      "eval",
		"num_steps": 2,
		"datasets":  map[string]string{"eval": datasetID},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create run status = %d (body %v)", resp.StatusCode, body)
	}
	if got, _ := body["status"].(string); got != "succeeded" {
		t.Fatalf("run status = %q, want succeeded (error %v)", got, body["error"])
	}
	runID, _ := body["id"].(string)
	sampleKey, _ := body["sample_key"].(string)
	if sampleKey == "" {
		t.Fatal("run response missing sample_key")
	}
	if _, ok := store.objects["artifacts/"+sampleKey]; !ok {
		t.Fatalf("sample artifact %q not uploaded", sampleKey)
	}

	resp, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/runs/"+runID+"/sample", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sample status = %d (body %v)", resp.StatusCode, body)
	}
	url, _ := body["url"].(string)
	if !strings.Contains(url, sampleKey) {
		t.Fatalf("presigned url %q does not reference %q", url, sampleKey)
	}
}

func TestCreateRunUnknownPipeline(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/pipelines/nope/runs", map[string]any{
		"kind":     "benchmark",
		"mode":     "train",
		"datasets": map[string]string{"train": "also-nope"},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestAuthDenyAuditorNeverBlocksResponse(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var hook auth.AuditFunc = authDenyAuditor(logger, nil)

	// A nil queryer makes the insert fail; the hook still returns nil
	// so the 401/403 is written regardless of audit storage health.
	if err := hook(context.Background(), auth.DenyEvent{
		Time:   time.Unix(1700000000, 0).UTC(),
		Reason: "unauthenticated",
		Method: "GET",
		Path:   "/pipelines",
	}); err != nil {
		t.Fatalf("audit hook err=%v, want nil", err)
	}
}
