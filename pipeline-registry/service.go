package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/feedline-labs/feedline-go/internal/domain"
	"github.com/feedline-labs/feedline-go/internal/pipeline"
	"github.com/feedline-labs/feedline-go/internal/platform/auditlog"
	"github.com/feedline-labs/feedline-go/internal/repo"
	runsvc "github.com/feedline-labs/feedline-go/internal/service/runs"
	"github.com/google/uuid"
)

type auditContext struct {
	Actor     string
	RequestID string
	IP        net.IP
	UserAgent string
	Path      string
	Service   string
}

type registryService struct {
	pipelines repo.PipelineRepository
	datasets  repo.DatasetRepository
	runs      repo.RunRepository
	exec      *runsvc.Service
	audit     auditlog.QueryRower
	now       func() time.Time
}

func newRegistryService(pipelines repo.PipelineRepository, datasets repo.DatasetRepository, runs repo.RunRepository, exec *runsvc.Service, audit auditlog.QueryRower) *registryService {
	return &registryService{
		pipelines: pipelines,
		datasets:  datasets,
		runs:      runs,
		exec:      exec,
		audit:     audit,
		now:       time.Now,
	}
}

func (s *registryService) appendAudit(ctx context.Context, auditCtx auditContext, action, resourceType, resourceID string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["service"] = auditCtx.Service
	payload["request_path"] = auditCtx.Path
	_, _ = auditlog.Insert(ctx, s.audit, auditlog.Event{
		OccurredAt:   s.now().UTC(),
		Actor:        auditCtx.Actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    auditCtx.RequestID,
		IP:           auditCtx.IP,
		UserAgent:    auditCtx.UserAgent,
		Payload:      payload,
	})
}

// CreatePipeline validates the submitted spec, canonicalizes it and
// registers it under a project-unique name.
func (s *registryService) CreatePipeline(ctx context.Context, projectID, name, description string, rawSpec []byte, auditCtx auditContext) (domain.Pipeline, error) {
	if s == nil || s.pipelines == nil {
		return domain.Pipeline{}, fmt.Errorf("pipeline service not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Pipeline{}, fmt.Errorf("pipeline name is required")
	}

	spec, err := pipeline.ParseSpec(rawSpec)
	if err != nil {
		return domain.Pipeline{}, err
	}
	canonical, err := spec.CanonicalJSON()
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("canonicalize spec: %w", err)
	}
	sum := sha256.Sum256(canonical)

	entity := domain.Pipeline{
		ID:            uuid.NewString(),
		ProjectID:     strings.TrimSpace(projectID),
		Name:          name,
		Description:   strings.TrimSpace(description),
		SpecJSON:      canonical,
		ContentSHA256: hex.EncodeToString(sum[:]),
		CreatedAt:     s.now().UTC(),
		CreatedBy:     auditCtx.Actor,
	}
	if err := s.pipelines.Create(ctx, entity); err != nil {
		return domain.Pipeline{}, err
	}

	s.appendAudit(ctx, auditCtx, "pipeline.create", "pipeline", entity.ID, map[string]any{
		"project_id":     entity.ProjectID,
		"name":           entity.Name,
		"content_sha256": entity.ContentSHA256,
	})
	return entity, nil
}

func (s *registryService) GetPipeline(ctx context.Context, projectID, id string) (domain.Pipeline, error) {
	return s.pipelines.Get(ctx, projectID, id)
}

func (s *registryService) ListPipelines(ctx context.Context, filter repo.PipelineFilter) ([]domain.Pipeline, error) {
	return s.pipelines.List(ctx, filter)
}

type createDatasetParams struct {
	Name          string
	Description   string
	Format        string
	Source        string
	ContentSHA256 string
	Options       domain.DatasetOptions
}

func (s *registryService) CreateDataset(ctx context.Context, projectID string, params createDatasetParams, auditCtx auditContext) (domain.Dataset, error) {
	if s == nil || s.datasets == nil {
		return domain.Dataset{}, fmt.Errorf("dataset service not initialized")
	}

	entity := domain.Dataset{
		ID:            uuid.NewString(),
		ProjectID:     strings.TrimSpace(projectID),
		Name:          strings.TrimSpace(params.Name),
		Description:   strings.TrimSpace(params.Description),
		Format:        domain.NormalizeDatasetFormat(params.Format),
		Source:        strings.TrimSpace(params.Source),
		ContentSHA256: strings.TrimSpace(params.ContentSHA256),
		Options:       params.Options,
		CreatedAt:     s.now().UTC(),
		CreatedBy:     auditCtx.Actor,
	}
	if entity.Format == "" {
		entity.Format = domain.DatasetFormat(strings.TrimSpace(params.Format))
	}
	if err := entity.Validate(); err != nil {
		return domain.Dataset{}, err
	}
	if err := s.datasets.Create(ctx, entity); err != nil {
		return domain.Dataset{}, err
	}

	s.appendAudit(ctx, auditCtx, "dataset.create", "dataset", entity.ID, map[string]any{
		"project_id": entity.ProjectID,
		"name":       entity.Name,
		"format":     string(entity.Format),
		"source":     entity.Source,
	})
	return entity, nil
}

func (s *registryService) GetDataset(ctx context.Context, projectID, id string) (domain.Dataset, error) {
	return s.datasets.Get(ctx, projectID, id)
}

func (s *registryService) ListDatasets(ctx context.Context, filter repo.DatasetFilter) ([]domain.Dataset, error) {
	return s.datasets.List(ctx, filter)
}

type createRunParams struct {
	PipelineID string
	Kind       string
	Mode       string
	Epoch      int
	NumSteps   int
	// WarmupSteps nil means the engine default.
	WarmupSteps         *int
	MinRecordsPerSecond float64
	Datasets            map[string]string
}

// CreateRun registers the run, executes it synchronously and records
// audit and lineage events for the execution.
func (s *registryService) CreateRun(ctx context.Context, projectID string, params createRunParams, auditCtx auditContext) (domain.Run, error) {
	if s == nil || s.runs == nil || s.exec == nil {
		return domain.Run{}, fmt.Errorf("run service not initialized")
	}

	epoch := params.Epoch
	if epoch == 0 {
		epoch = 1
	}
	numSteps := params.NumSteps
	if numSteps == 0 {
		numSteps = 1
	}
	warmupSteps := -1
	if params.WarmupSteps != nil {
		warmupSteps = *params.WarmupSteps
	}
	entity := domain.Run{
		ID:                  uuid.NewString(),
		ProjectID:           strings.TrimSpace(projectID),
		PipelineID:          strings.TrimSpace(params.PipelineID),
		Kind:                domain.NormalizeRunKind(params.Kind),
		Mode:                strings.ToLower(strings.TrimSpace(params.Mode)),
		Epoch:               epoch,
		NumSteps:            numSteps,
		WarmupSteps:         warmupSteps,
		MinRecordsPerSecond: params.MinRecordsPerSecond,
		Datasets:            params.Datasets,
		Status:              domain.RunStateCreated,
		CreatedAt:           s.now().UTC(),
		CreatedBy:           auditCtx.Actor,
	}
	if entity.Kind == "" {
		entity.Kind = domain.RunKind(strings.TrimSpace(params.Kind))
	}
	if err := entity.Validate(); err != nil {
		return domain.Run{}, err
	}
	if _, err := s.pipelines.Get(ctx, entity.ProjectID, entity.PipelineID); err != nil {
		return domain.Run{}, fmt.Errorf("pipeline %s: %w", entity.PipelineID, err)
	}
	for mode, dsID := range entity.Datasets {
		if _, err := s.datasets.Get(ctx, entity.ProjectID, dsID); err != nil {
			return domain.Run{}, fmt.Errorf("dataset %s for mode %s: %w", dsID, mode, err)
		}
	}
	if err := s.runs.Create(ctx, entity); err != nil {
		return domain.Run{}, err
	}

	executed, execErr := s.exec.Execute(ctx, entity.ProjectID, entity.ID)
	outcome := domain.RunStateSucceeded
	if execErr != nil {
		outcome = domain.RunStateFailed
		executed, _ = s.runs.Get(ctx, entity.ProjectID, entity.ID)
	}

	if s.audit != nil {
		info := runsvc.AuditInfo{
			Actor:     auditCtx.Actor,
			RequestID: auditCtx.RequestID,
			UserAgent: auditCtx.UserAgent,
			IP:        auditCtx.IP,
			Service:   auditCtx.Service,
		}
		if executed.ID == "" {
			executed = entity
		}
		_ = s.exec.AppendRunAudit(ctx, s.audit, info, executed, outcome)
		if execErr == nil {
			_ = s.exec.AppendRunLineage(ctx, s.audit, info, executed)
		}
	}

	if execErr != nil {
		return executed, execErr
	}
	return executed, nil
}

func (s *registryService) GetRun(ctx context.Context, projectID, id string) (domain.Run, error) {
	return s.runs.Get(ctx, projectID, id)
}

func (s *registryService) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	return s.runs.List(ctx, filter)
}
