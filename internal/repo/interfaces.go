// Package repo defines persistence interfaces for the feedline registry.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/feedline-labs/feedline-go/internal/domain"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

type PipelineFilter struct {
	ProjectID string
	Name      string
	Limit     int
}

type DatasetFilter struct {
	ProjectID string
	Name      string
	Format    domain.DatasetFormat
	Limit     int
}

type RunFilter struct {
	ProjectID  string
	PipelineID string
	Kind       domain.RunKind
	Status     domain.RunState
	Limit      int
}

// PipelineRepository manages registered pipelines.
type PipelineRepository interface {
	Create(ctx context.Context, pipeline domain.Pipeline) error
	Get(ctx context.Context, projectID, id string) (domain.Pipeline, error)
	List(ctx context.Context, filter PipelineFilter) ([]domain.Pipeline, error)
}

// DatasetRepository manages registered dataset archives.
type DatasetRepository interface {
	Create(ctx context.Context, dataset domain.Dataset) error
	Get(ctx context.Context, projectID, id string) (domain.Dataset, error)
	List(ctx context.Context, filter DatasetFilter) ([]domain.Dataset, error)
}

// RunRepository manages pipeline runs and their lifecycle.
type RunRepository interface {
	Create(ctx context.Context, run domain.Run) error
	Get(ctx context.Context, projectID, id string) (domain.Run, error)
	List(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	UpdateStatus(ctx context.Context, projectID, id string, status domain.RunState, errMsg string, endedAt *time.Time) error
	SetReport(ctx context.Context, projectID, id string, report []byte, sampleKey, sampleSHA string) error
}
