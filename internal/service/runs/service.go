package runs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/feedline-labs/feedline-go/internal/domain"
	"github.com/feedline-labs/feedline-go/internal/pipeline"
	"github.com/feedline-labs/feedline-go/internal/platform/auditlog"
	"github.com/feedline-labs/feedline-go/internal/platform/lineageevent"
	"github.com/feedline-labs/feedline-go/internal/repo"
	"github.com/feedline-labs/feedline-go/internal/storage/objectstore"
)

// Buckets names the object storage buckets the service reads datasets
// from and writes artifacts to.
type Buckets struct {
	Datasets  string
	Artifacts string
}

type Service struct {
	pipelines repo.PipelineRepository
	datasets  repo.DatasetRepository
	runs      repo.RunRepository
	store     objectstore.Store
	buckets   Buckets
	cacheDir  string
	timeout   time.Duration
	logger    *slog.Logger
	client    *http.Client
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) { s.client = client }
}

// WithTimeout bounds a single run execution. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func New(pipelines repo.PipelineRepository, datasets repo.DatasetRepository, runs repo.RunRepository, store objectstore.Store, buckets Buckets, cacheDir string, opts ...Option) *Service {
	if pipelines == nil || datasets == nil || runs == nil || store == nil {
		return nil
	}
	s := &Service{
		pipelines: pipelines,
		datasets:  datasets,
		runs:      runs,
		store:     store,
		buckets:   buckets,
		cacheDir:  cacheDir,
		client:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type AuditInfo struct {
	Actor     string
	RequestID string
	UserAgent string
	IP        net.IP
	Service   string
}

// Execute runs a created pipeline run to completion and persists the
// outcome. A run that is not in the created state is rejected; failed
// executions record the error on the run and return it. When a timeout
// is configured, execution past the deadline fails the run.
func (s *Service) Execute(ctx context.Context, projectID, runID string) (domain.Run, error) {
	run, err := s.runs.Get(ctx, projectID, runID)
	if err != nil {
		return domain.Run{}, err
	}
	current := domain.NormalizeRunState(string(run.Status))
	if current == "" {
		current = domain.RunStateCreated
	}
	if !domain.CanTransitionRunState(current, domain.RunStateRunning) || current != domain.RunStateCreated {
		return domain.Run{}, fmt.Errorf("run %s is %s, only created runs can execute", runID, current)
	}
	if err := s.runs.UpdateStatus(ctx, projectID, runID, domain.RunStateRunning, "", nil); err != nil {
		return domain.Run{}, err
	}

	// The timeout bounds the execution work only. Status updates below
	// run on the caller's context so a timed-out run is still recorded
	// as failed.
	execCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	report, sampleKey, sampleSHA, execErr := s.execute(execCtx, run)
	ended := time.Now().UTC()
	if execErr != nil {
		if err := s.runs.UpdateStatus(ctx, projectID, runID, domain.RunStateFailed, execErr.Error(), &ended); err != nil {
			return domain.Run{}, errors.Join(execErr, err)
		}
		return domain.Run{}, execErr
	}

	if err := s.runs.SetReport(ctx, projectID, runID, report, sampleKey, sampleSHA); err != nil {
		return domain.Run{}, err
	}
	if err := s.runs.UpdateStatus(ctx, projectID, runID, domain.RunStateSucceeded, "", &ended); err != nil {
		return domain.Run{}, err
	}
	return s.runs.Get(ctx, projectID, runID)
}

func (s *Service) execute(ctx context.Context, run domain.Run) (report []byte, sampleKey, sampleSHA string, err error) {
	registered, err := s.pipelines.Get(ctx, run.ProjectID, run.PipelineID)
	if err != nil {
		return nil, "", "", fmt.Errorf("load pipeline: %w", err)
	}
	spec, err := pipeline.ParseSpec(registered.SpecJSON)
	if err != nil {
		return nil, "", "", fmt.Errorf("parse pipeline spec: %w", err)
	}
	mode := pipeline.NormalizeMode(run.Mode)
	if mode == "" {
		return nil, "", "", fmt.Errorf("unknown mode: %q", run.Mode)
	}

	ds, err := s.datasets.Get(ctx, run.ProjectID, run.Datasets[run.Mode])
	if err != nil {
		return nil, "", "", fmt.Errorf("load dataset: %w", err)
	}
	source, err := s.resolveSource(ctx, ds)
	if err != nil {
		return nil, "", "", fmt.Errorf("dataset %s: %w", ds.ID, err)
	}

	pl, err := pipeline.New(spec, map[pipeline.Mode]pipeline.Source{mode: source}, pipeline.WithLogger(s.logger))
	if err != nil {
		return nil, "", "", err
	}

	switch domain.NormalizeRunKind(string(run.Kind)) {
	case domain.RunKindInspection:
		batches, err := pl.ShowResults(ctx, run.Epoch, mode, run.NumSteps)
		if err != nil {
			return nil, "", "", err
		}
		sample := SummarizeBatches(mode, run.Epoch, batches)
		data, err := json.Marshal(sample)
		if err != nil {
			return nil, "", "", fmt.Errorf("marshal sample: %w", err)
		}
		key := fmt.Sprintf("runs/%s/sample.json", run.ID)
		sum := sha256.Sum256(data)
		if err := s.store.Put(ctx, s.buckets.Artifacts, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
			return nil, "", "", fmt.Errorf("upload sample: %w", err)
		}
		return data, key, hex.EncodeToString(sum[:]), nil

	case domain.RunKindBenchmark:
		benchReport, err := pl.Benchmark(ctx, run.Epoch, mode, run.NumSteps, pipeline.BenchmarkOptions{
			WarmupSteps:         run.WarmupSteps,
			MinRecordsPerSecond: run.MinRecordsPerSecond,
		})
		if err != nil {
			return nil, "", "", err
		}
		data, err := json.Marshal(benchReport)
		if err != nil {
			return nil, "", "", fmt.Errorf("marshal benchmark report: %w", err)
		}
		return data, "", "", nil

	default:
		return nil, "", "", fmt.Errorf("unsupported run kind: %q", run.Kind)
	}
}

// AppendRunAudit records the run execution outcome in the audit log.
func (s *Service) AppendRunAudit(ctx context.Context, q auditlog.QueryRower, info AuditInfo, run domain.Run, outcome domain.RunState) error {
	if q == nil {
		return errors.New("audit queryer is required")
	}
	if strings.TrimSpace(info.Actor) == "" {
		return errors.New("audit actor is required")
	}
	_, err := auditlog.Insert(ctx, q, auditlog.Event{
		Actor:        info.Actor,
		Action:       "run.execute",
		ResourceType: "pipeline_run",
		ResourceID:   run.ID,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Payload: map[string]any{
			"service":     strings.TrimSpace(info.Service),
			"project_id":  run.ProjectID,
			"pipeline_id": run.PipelineID,
			"kind":        string(run.Kind),
			"mode":        run.Mode,
			"epoch":       run.Epoch,
			"num_steps":   run.NumSteps,
			"outcome":     string(outcome),
		},
	})
	return err
}

// AppendRunLineage links the run to the pipeline and dataset it
// consumed and, for inspections, the artifact it produced.
func (s *Service) AppendRunLineage(ctx context.Context, q lineageevent.QueryRower, info AuditInfo, run domain.Run) error {
	if q == nil {
		return errors.New("lineage queryer is required")
	}
	events := []lineageevent.Event{
		{
			Actor:       info.Actor,
			RequestID:   info.RequestID,
			SubjectType: "pipeline_run",
			SubjectID:   run.ID,
			Predicate:   "executed",
			ObjectType:  "pipeline",
			ObjectID:    run.PipelineID,
			Metadata:    map[string]any{"mode": run.Mode, "epoch": run.Epoch},
		},
	}
	if dsID := strings.TrimSpace(run.Datasets[run.Mode]); dsID != "" {
		events = append(events, lineageevent.Event{
			Actor:       info.Actor,
			RequestID:   info.RequestID,
			SubjectType: "pipeline_run",
			SubjectID:   run.ID,
			Predicate:   "consumed",
			ObjectType:  "dataset",
			ObjectID:    dsID,
			Metadata:    map[string]any{"mode": run.Mode},
		})
	}
	if strings.TrimSpace(run.SampleKey) != "" {
		events = append(events, lineageevent.Event{
			Actor:       info.Actor,
			RequestID:   info.RequestID,
			SubjectType: "pipeline_run",
			SubjectID:   run.ID,
			Predicate:   "produced",
			ObjectType:  "artifact",
			ObjectID:    run.SampleKey,
			Metadata:    map[string]any{"sha256": run.SampleSHA},
		})
	}
	for _, event := range events {
		if _, err := lineageevent.Insert(ctx, q, event); err != nil {
			return err
		}
	}
	return nil
}
