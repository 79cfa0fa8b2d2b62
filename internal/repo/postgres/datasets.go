package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/feedline-labs/feedline-go/internal/domain"
	"github.com/feedline-labs/feedline-go/internal/repo"
)

type DatasetStore struct {
	db DB
}

func NewDatasetStore(db DB) *DatasetStore {
	if db == nil {
		return nil
	}
	return &DatasetStore{db: db}
}

func (s *DatasetStore) Create(ctx context.Context, dataset domain.Dataset) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("dataset store not initialized")
	}
	if err := dataset.Validate(); err != nil {
		return err
	}
	optionsJSON, err := encodeJSON(dataset.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	createdAt := normalizeTime(dataset.CreatedAt)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO datasets (
			dataset_id,
			project_id,
			name,
			description,
			format,
			source,
			content_sha256,
			options,
			created_at,
			created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		strings.TrimSpace(dataset.ID),
		strings.TrimSpace(dataset.ProjectID),
		strings.TrimSpace(dataset.Name),
		strings.TrimSpace(dataset.Description),
		string(dataset.Format),
		strings.TrimSpace(dataset.Source),
		strings.TrimSpace(dataset.ContentSHA256),
		optionsJSON,
		createdAt,
		strings.TrimSpace(dataset.CreatedBy),
	)
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

func (s *DatasetStore) Get(ctx context.Context, projectID, id string) (domain.Dataset, error) {
	if s == nil || s.db == nil {
		return domain.Dataset{}, fmt.Errorf("dataset store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Dataset{}, fmt.Errorf("project id is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Dataset{}, fmt.Errorf("dataset id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT dataset_id, project_id, name, description, format, source, content_sha256, options, created_at, created_by
		 FROM datasets
		 WHERE project_id = $1 AND dataset_id = $2`,
		projectID,
		id,
	)
	return scanDataset(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (domain.Dataset, error) {
	var dataset domain.Dataset
	var format string
	var optionsJSON []byte
	if err := row.Scan(&dataset.ID, &dataset.ProjectID, &dataset.Name, &dataset.Description, &format, &dataset.Source, &dataset.ContentSHA256, &optionsJSON, &dataset.CreatedAt, &dataset.CreatedBy); err != nil {
		return domain.Dataset{}, handleNotFound(err)
	}
	dataset.Format = domain.DatasetFormat(format)
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &dataset.Options); err != nil {
			return domain.Dataset{}, fmt.Errorf("decode options: %w", err)
		}
	}
	return dataset, nil
}

func (s *DatasetStore) List(ctx context.Context, filter repo.DatasetFilter) ([]domain.Dataset, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("dataset store not initialized")
	}
	if strings.TrimSpace(filter.ProjectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)

	args = append(args, strings.TrimSpace(filter.ProjectID))
	clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	if strings.TrimSpace(filter.Name) != "" {
		args = append(args, strings.TrimSpace(filter.Name))
		clauses = append(clauses, fmt.Sprintf("name = $%d", len(args)))
	}
	if filter.Format != "" {
		args = append(args, string(filter.Format))
		clauses = append(clauses, fmt.Sprintf("format = $%d", len(args)))
	}

	query := `SELECT dataset_id, project_id, name, description, format, source, content_sha256, options, created_at, created_by FROM datasets`
	query += " WHERE " + strings.Join(clauses, " AND ")
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	datasets := make([]domain.Dataset, 0)
	for rows.Next() {
		dataset, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, dataset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return datasets, nil
}
