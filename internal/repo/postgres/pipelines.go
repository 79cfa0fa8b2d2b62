package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/feedline-labs/feedline-go/internal/domain"
	"github.com/feedline-labs/feedline-go/internal/repo"
)

type PipelineStore struct {
	db DB
}

func NewPipelineStore(db DB) *PipelineStore {
	if db == nil {
		return nil
	}
	return &PipelineStore{db: db}
}

func (s *PipelineStore) Create(ctx context.Context, pipeline domain.Pipeline) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("pipeline store not initialized")
	}
	if err := pipeline.Validate(); err != nil {
		return err
	}
	createdAt := normalizeTime(pipeline.CreatedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO pipelines (
			pipeline_id,
			project_id,
			name,
			description,
			spec,
			content_sha256,
			created_at,
			created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		strings.TrimSpace(pipeline.ID),
		strings.TrimSpace(pipeline.ProjectID),
		strings.TrimSpace(pipeline.Name),
		strings.TrimSpace(pipeline.Description),
		pipeline.SpecJSON,
		strings.TrimSpace(pipeline.ContentSHA256),
		createdAt,
		strings.TrimSpace(pipeline.CreatedBy),
	)
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}
	return nil
}

func (s *PipelineStore) Get(ctx context.Context, projectID, id string) (domain.Pipeline, error) {
	if s == nil || s.db == nil {
		return domain.Pipeline{}, fmt.Errorf("pipeline store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Pipeline{}, fmt.Errorf("project id is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Pipeline{}, fmt.Errorf("pipeline id is required")
	}
	var pipeline domain.Pipeline
	row := s.db.QueryRowContext(
		ctx,
		`SELECT pipeline_id, project_id, name, description, spec, content_sha256, created_at, created_by
		 FROM pipelines
		 WHERE project_id = $1 AND pipeline_id = $2`,
		projectID,
		id,
	)
	if err := row.Scan(&pipeline.ID, &pipeline.ProjectID, &pipeline.Name, &pipeline.Description, &pipeline.SpecJSON, &pipeline.ContentSHA256, &pipeline.CreatedAt, &pipeline.CreatedBy); err != nil {
		return domain.Pipeline{}, handleNotFound(err)
	}
	return pipeline, nil
}

func (s *PipelineStore) List(ctx context.Context, filter repo.PipelineFilter) ([]domain.Pipeline, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("pipeline store not initialized")
	}
	if strings.TrimSpace(filter.ProjectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)

	args = append(args, strings.TrimSpace(filter.ProjectID))
	clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	if strings.TrimSpace(filter.Name) != "" {
		args = append(args, strings.TrimSpace(filter.Name))
		clauses = append(clauses, fmt.Sprintf("name = $%d", len(args)))
	}

	query := `SELECT pipeline_id, project_id, name, description, spec, content_sha256, created_at, created_by FROM pipelines`
	query += " WHERE " + strings.Join(clauses, " AND ")
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	pipelines := make([]domain.Pipeline, 0)
	for rows.Next() {
		var pipeline domain.Pipeline
		if err := rows.Scan(&pipeline.ID, &pipeline.ProjectID, &pipeline.Name, &pipeline.Description, &pipeline.SpecJSON, &pipeline.ContentSHA256, &pipeline.CreatedAt, &pipeline.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		pipelines = append(pipelines, pipeline)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	return pipelines, nil
}
