package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/feedline-labs/feedline-go/internal/domain"
	"github.com/feedline-labs/feedline-go/internal/pipeline"
	"github.com/feedline-labs/feedline-go/internal/platform/auth"
	"github.com/feedline-labs/feedline-go/internal/repo"
	"github.com/feedline-labs/feedline-go/internal/storage/objectstore"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 200
	samplePresignTTL = 10 * time.Minute
)

type registryAPI struct {
	logger          *slog.Logger
	svc             *registryService
	store           objectstore.Store
	artifactsBucket string
}

func (a *registryAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /pipelines", a.handleCreatePipeline)
	mux.HandleFunc("GET /pipelines", a.handleListPipelines)
	mux.HandleFunc("GET /pipelines/{pipeline_id}", a.handleGetPipeline)
	mux.HandleFunc("POST /datasets", a.handleCreateDataset)
	mux.HandleFunc("GET /datasets", a.handleListDatasets)
	mux.HandleFunc("GET /datasets/{dataset_id}", a.handleGetDataset)
	mux.HandleFunc("POST /pipelines/{pipeline_id}/runs", a.handleCreateRun)
	mux.HandleFunc("GET /pipelines/{pipeline_id}/runs", a.handleListRuns)
	mux.HandleFunc("GET /runs", a.handleListRuns)
	mux.HandleFunc("GET /runs/{run_id}", a.handleGetRun)
	mux.HandleFunc("GET /runs/{run_id}/sample", a.handleRunSample)
}

type createPipelineRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Spec        json.RawMessage `json:"spec,omitempty"`
	SpecYAML    string          `json:"spec_yaml,omitempty"`
}

type pipelineResponse struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Spec          json.RawMessage `json:"spec"`
	ContentSHA256 string          `json:"content_sha256"`
	CreatedAt     time.Time       `json:"created_at"`
	CreatedBy     string          `json:"created_by,omitempty"`
}

func toPipelineResponse(p domain.Pipeline) pipelineResponse {
	return pipelineResponse{
		ID:            p.ID,
		ProjectID:     p.ProjectID,
		Name:          p.Name,
		Description:   p.Description,
		Spec:          json.RawMessage(p.SpecJSON),
		ContentSHA256: p.ContentSHA256,
		CreatedAt:     p.CreatedAt,
		CreatedBy:     p.CreatedBy,
	}
}

func (a *registryAPI) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req createPipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rawSpec := []byte(req.SpecYAML)
	if len(req.Spec) > 0 {
		rawSpec = []byte(req.Spec)
	}
	if len(rawSpec) == 0 {
		writeError(w, r, http.StatusBadRequest, "spec or spec_yaml is required")
		return
	}

	created, err := a.svc.CreatePipeline(r.Context(), projectID(r), req.Name, req.Description, rawSpec, buildAuditContext(r))
	if err != nil {
		var verr *pipeline.ValidationError
		switch {
		case errors.As(err, &verr):
			writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid pipeline spec", verr.Issues)
		case isUniqueViolation(err):
			writeError(w, r, http.StatusConflict, "pipeline name already exists in project")
		default:
			writeError(w, r, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, toPipelineResponse(created))
}

func (a *registryAPI) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	filter := repo.PipelineFilter{
		ProjectID: projectID(r),
		Name:      strings.TrimSpace(r.URL.Query().Get("name")),
		Limit:     listLimit(r),
	}
	items, err := a.svc.ListPipelines(r.Context(), filter)
	if err != nil {
		a.logger.Error("list pipelines failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "list pipelines failed")
		return
	}
	out := make([]pipelineResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toPipelineResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": out})
}

func (a *registryAPI) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	item, err := a.svc.GetPipeline(r.Context(), projectID(r), r.PathValue("pipeline_id"))
	if err != nil {
		a.writeLookupError(w, r, "pipeline", err)
		return
	}
	writeJSON(w, http.StatusOK, toPipelineResponse(item))
}

type createDatasetRequest struct {
	Name          string                `json:"name"`
	Description   string                `json:"description,omitempty"`
	Format        string                `json:"format"`
	Source        string                `json:"source"`
	ContentSHA256 string                `json:"content_sha256,omitempty"`
	Options       domain.DatasetOptions `json:"options,omitempty"`
}

type datasetResponse struct {
	ID            string                `json:"id"`
	ProjectID     string                `json:"project_id"`
	Name          string                `json:"name"`
	Description   string                `json:"description,omitempty"`
	Format        string                `json:"format"`
	Source        string                `json:"source"`
	ContentSHA256 string                `json:"content_sha256,omitempty"`
	Options       domain.DatasetOptions `json:"options"`
	CreatedAt     time.Time             `json:"created_at"`
	CreatedBy     string                `json:"created_by,omitempty"`
}

func toDatasetResponse(d domain.Dataset) datasetResponse {
	return datasetResponse{
		ID:            d.ID,
		ProjectID:     d.ProjectID,
		Name:          d.Name,
		Description:   d.Description,
		Format:        string(d.Format),
		Source:        d.Source,
		ContentSHA256: d.ContentSHA256,
		Options:       d.Options,
		CreatedAt:     d.CreatedAt,
		CreatedBy:     d.CreatedBy,
	}
}

func (a *registryAPI) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req createDatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.svc.CreateDataset(r.Context(), projectID(r), createDatasetParams{
		Name:          req.Name,
		Description:   req.Description,
		Format:        req.Format,
		Source:        req.Source,
		ContentSHA256: req.ContentSHA256,
		Options:       req.Options,
	}, buildAuditContext(r))
	if err != nil {
		if isUniqueViolation(err) {
			writeError(w, r, http.StatusConflict, "dataset name already exists in project")
			return
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toDatasetResponse(created))
}

func (a *registryAPI) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	filter := repo.DatasetFilter{
		ProjectID: projectID(r),
		Name:      strings.TrimSpace(r.URL.Query().Get("name")),
		Format:    domain.NormalizeDatasetFormat(r.URL.Query().Get("format")),
		Limit:     listLimit(r),
	}
	items, err := a.svc.ListDatasets(r.Context(), filter)
	if err != nil {
		a.logger.Error("list datasets failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "list datasets failed")
		return
	}
	out := make([]datasetResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toDatasetResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": out})
}

func (a *registryAPI) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	item, err := a.svc.GetDataset(r.Context(), projectID(r), r.PathValue("dataset_id"))
	if err != nil {
		a.writeLookupError(w, r, "dataset", err)
		return
	}
	writeJSON(w, http.StatusOK, toDatasetResponse(item))
}

type createRunRequest struct {
	Kind                string            `json:"kind"`
	Mode                string            `json:"mode"`
	Epoch               int               `json:"epoch,omitempty"`
	NumSteps            int               `json:"num_steps,omitempty"`
	WarmupSteps         *int              `json:"warmup_steps,omitempty"`
	MinRecordsPerSecond float64           `json:"min_records_per_second,omitempty"`
	Datasets            map[string]string `json:"datasets"`
}

type runResponse struct {
	ID                  string            `json:"id"`
	ProjectID           string            `json:"project_id"`
	PipelineID          string            `json:"pipeline_id"`
	Kind                string            `json:"kind"`
	Mode                string            `json:"mode"`
	Epoch               int               `json:"epoch"`
	NumSteps            int               `json:"num_steps"`
	WarmupSteps         int               `json:"warmup_steps"`
	MinRecordsPerSecond float64           `json:"min_records_per_second,omitempty"`
	Datasets            map[string]string `json:"datasets"`
	Status              string            `json:"status"`
	Report              json.RawMessage   `json:"report,omitempty"`
	SampleKey           string            `json:"sample_key,omitempty"`
	SampleSHA           string            `json:"sample_sha256,omitempty"`
	Error               string            `json:"error,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	CreatedBy           string            `json:"created_by,omitempty"`
	StartedAt           *time.Time        `json:"started_at,omitempty"`
	EndedAt             *time.Time        `json:"ended_at,omitempty"`
}

func toRunResponse(run domain.Run) runResponse {
	return runResponse{
		ID:                  run.ID,
		ProjectID:           run.ProjectID,
		PipelineID:          run.PipelineID,
		Kind:                string(run.Kind),
		Mode:                run.Mode,
		Epoch:               run.Epoch,
		NumSteps:            run.NumSteps,
		WarmupSteps:         run.WarmupSteps,
		MinRecordsPerSecond: run.MinRecordsPerSecond,
		Datasets:            run.Datasets,
		Status:              string(run.Status),
		Report:              json.RawMessage(run.Report),
		SampleKey:           run.SampleKey,
		SampleSHA:           run.SampleSHA,
		Error:               run.Error,
		CreatedAt:           run.CreatedAt,
		CreatedBy:           run.CreatedBy,
		StartedAt:           run.StartedAt,
		EndedAt:             run.EndedAt,
	}
}

func (a *registryAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	run, err := a.svc.CreateRun(r.Context(), projectID(r), createRunParams{
		PipelineID:          r.PathValue("pipeline_id"),
		Kind:                req.Kind,
		Mode:                req.Mode,
		Epoch:               req.Epoch,
		NumSteps:            req.NumSteps,
		WarmupSteps:         req.WarmupSteps,
		MinRecordsPerSecond: req.MinRecordsPerSecond,
		Datasets:            req.Datasets,
	}, buildAuditContext(r))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, err.Error())
			return
		}
		if run.ID != "" {
			// Run was registered but execution failed; return the failed
			// run so the caller can read the recorded error.
			a.logger.Error("run execution failed", "run_id", run.ID, "error", err)
			writeJSON(w, http.StatusCreated, toRunResponse(run))
			return
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toRunResponse(run))
}

func (a *registryAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	pipelineID := strings.TrimSpace(r.URL.Query().Get("pipeline_id"))
	if v := r.PathValue("pipeline_id"); v != "" {
		pipelineID = v
	}
	filter := repo.RunFilter{
		ProjectID:  projectID(r),
		PipelineID: pipelineID,
		Kind:       domain.NormalizeRunKind(r.URL.Query().Get("kind")),
		Status:     domain.NormalizeRunState(r.URL.Query().Get("status")),
		Limit:      listLimit(r),
	}
	items, err := a.svc.ListRuns(r.Context(), filter)
	if err != nil {
		a.logger.Error("list runs failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "list runs failed")
		return
	}
	out := make([]runResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toRunResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (a *registryAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.svc.GetRun(r.Context(), projectID(r), r.PathValue("run_id"))
	if err != nil {
		a.writeLookupError(w, r, "run", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// handleRunSample returns a short-lived presigned download URL for the
// materialized sample artifact of a finished inspection run.
func (a *registryAPI) handleRunSample(w http.ResponseWriter, r *http.Request) {
	run, err := a.svc.GetRun(r.Context(), projectID(r), r.PathValue("run_id"))
	if err != nil {
		a.writeLookupError(w, r, "run", err)
		return
	}
	if run.SampleKey == "" {
		writeError(w, r, http.StatusNotFound, "run has no sample artifact")
		return
	}
	url, err := a.store.PresignGet(r.Context(), a.artifactsBucket, run.SampleKey, samplePresignTTL)
	if err != nil {
		a.logger.Error("presign sample failed", "run_id", run.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "presign sample failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":        run.ID,
		"sample_key":    run.SampleKey,
		"sample_sha256": run.SampleSHA,
		"url":           url,
		"expires_in":    int(samplePresignTTL.Seconds()),
	})
}

func (a *registryAPI) writeLookupError(w http.ResponseWriter, r *http.Request, resource string, err error) {
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, resource+" not found")
		return
	}
	a.logger.Error("lookup failed", "resource", resource, "error", err)
	writeError(w, r, http.StatusInternalServerError, resource+" lookup failed")
}

func projectID(r *http.Request) string {
	if id, ok := auth.ProjectIDFromContext(r.Context()); ok {
		return id
	}
	return auth.ProjectIDFromRequest(r)
}

func buildAuditContext(r *http.Request) auditContext {
	identity, _ := auth.IdentityFromContext(r.Context())
	return auditContext{
		Actor:     identity.Actor(),
		RequestID: r.Header.Get("X-Request-Id"),
		IP:        requestIP(r),
		UserAgent: r.UserAgent(),
		Path:      r.Method + " " + r.URL.Path,
		Service:   serviceName,
	}
}

func requestIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

func decodeJSON(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error":      message,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func writeErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, message string, details []string) {
	writeJSON(w, status, map[string]any{
		"error":      message,
		"details":    details,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func listLimit(r *http.Request) int {
	return clampInt(parseIntQuery(r, "limit", defaultListLimit), 1, maxListLimit)
}

func clampInt(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
