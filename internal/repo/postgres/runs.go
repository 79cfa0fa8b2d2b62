package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/feedline-labs/feedline-go/internal/domain"
	"github.com/feedline-labs/feedline-go/internal/repo"
)

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	datasetsJSON, err := encodeJSON(run.Datasets)
	if err != nil {
		return fmt.Errorf("encode datasets: %w", err)
	}
	createdAt := normalizeTime(run.CreatedAt)
	var startedAt, endedAt sql.NullTime
	if run.StartedAt != nil {
		startedAt = sql.NullTime{Time: run.StartedAt.UTC(), Valid: true}
	}
	if run.EndedAt != nil {
		endedAt = sql.NullTime{Time: run.EndedAt.UTC(), Valid: true}
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO pipeline_runs (
			run_id,
			project_id,
			pipeline_id,
			kind,
			mode,
			epoch,
			num_steps,
			warmup_steps,
			min_records_per_second,
			datasets,
			status,
			report,
			sample_key,
			sample_sha256,
			error,
			created_at,
			created_by,
			started_at,
			ended_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.ProjectID),
		strings.TrimSpace(run.PipelineID),
		string(run.Kind),
		strings.TrimSpace(run.Mode),
		run.Epoch,
		run.NumSteps,
		run.WarmupSteps,
		run.MinRecordsPerSecond,
		datasetsJSON,
		string(run.Status),
		run.Report,
		nullIfEmpty(run.SampleKey),
		nullIfEmpty(run.SampleSHA),
		strings.TrimSpace(run.Error),
		createdAt,
		strings.TrimSpace(run.CreatedBy),
		startedAt,
		endedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `run_id, project_id, pipeline_id, kind, mode, epoch, num_steps, warmup_steps, min_records_per_second, datasets, status, report, sample_key, sample_sha256, error, created_at, created_by, started_at, ended_at`

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var kind, status string
	var datasetsJSON []byte
	var report []byte
	var sampleKey, sampleSHA sql.NullString
	var startedAt, endedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.ProjectID, &run.PipelineID, &kind, &run.Mode, &run.Epoch, &run.NumSteps, &run.WarmupSteps, &run.MinRecordsPerSecond, &datasetsJSON, &status, &report, &sampleKey, &sampleSHA, &run.Error, &run.CreatedAt, &run.CreatedBy, &startedAt, &endedAt); err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	run.Kind = domain.RunKind(kind)
	run.Status = domain.RunState(status)
	run.Report = report
	datasets, err := decodeStringMap(datasetsJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode datasets: %w", err)
	}
	run.Datasets = datasets
	if sampleKey.Valid {
		run.SampleKey = sampleKey.String
	}
	if sampleSHA.Valid {
		run.SampleSHA = sampleSHA.String
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		run.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		run.EndedAt = &t
	}
	return run, nil
}

func (s *RunStore) Get(ctx context.Context, projectID, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Run{}, fmt.Errorf("project id is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE project_id = $1 AND run_id = $2`,
		projectID,
		id,
	)
	return scanRun(row)
}

func (s *RunStore) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	if strings.TrimSpace(filter.ProjectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)

	args = append(args, strings.TrimSpace(filter.ProjectID))
	clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	if strings.TrimSpace(filter.PipelineID) != "" {
		args = append(args, strings.TrimSpace(filter.PipelineID))
		clauses = append(clauses, fmt.Sprintf("pipeline_id = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		clauses = append(clauses, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM pipeline_runs`
	query += " WHERE " + strings.Join(clauses, " AND ")
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) UpdateStatus(ctx context.Context, projectID, id string, status domain.RunState, errMsg string, endedAt *time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	if domain.NormalizeRunState(string(status)) == "" {
		return fmt.Errorf("unsupported run status: %q", status)
	}
	var ended sql.NullTime
	if endedAt != nil {
		ended = sql.NullTime{Time: endedAt.UTC(), Valid: true}
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE pipeline_runs
		 SET status = $1,
		     error = $2,
		     started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
		     ended_at = COALESCE($3, ended_at)
		 WHERE project_id = $4 AND run_id = $5`,
		string(status),
		strings.TrimSpace(errMsg),
		ended,
		projectID,
		id,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *RunStore) SetReport(ctx context.Context, projectID, id string, report []byte, sampleKey, sampleSHA string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE pipeline_runs
		 SET report = $1, sample_key = $2, sample_sha256 = $3
		 WHERE project_id = $4 AND run_id = $5`,
		report,
		nullIfEmpty(sampleKey),
		nullIfEmpty(sampleSHA),
		projectID,
		id,
	)
	if err != nil {
		return fmt.Errorf("set run report: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set run report: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}
