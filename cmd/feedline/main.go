// Command feedline is the operator CLI for the pipeline registry:
// register pipelines and datasets, execute runs and review benchmark
// history.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/feedline-labs/feedline-go/internal/benchhistory"
	"github.com/feedline-labs/feedline-go/internal/pipeline"
	"golang.org/x/oauth2/clientcredentials"
)

type apiClient struct {
	baseURL   string
	token     string
	projectID string
	requestID string
	http      *http.Client
}

func newAPIClient(baseURL, token, projectID, requestID string) *apiClient {
	return &apiClient{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:     strings.TrimSpace(token),
		projectID: strings.TrimSpace(projectID),
		requestID: strings.TrimSpace(requestID),
		http:      &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *apiClient) do(req *http.Request) ([]byte, error) {
	if c.requestID != "" {
		req.Header.Set("X-Request-Id", c.requestID)
	}
	if c.projectID != "" {
		req.Header.Set("X-Project-Id", c.projectID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, fmt.Errorf("http %s %s: status=%d body=%s", req.Method, req.URL.String(), resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *apiClient) getJSON(path string, out any) error {
	req, err := http.NewRequest("GET", c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *apiClient) postJSON(path string, in any, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequest("POST", c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	body, err := c.do(req)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

type pipelineView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	ContentSHA256 string          `json:"content_sha256"`
	Spec          json.RawMessage `json:"spec"`
	CreatedAt     time.Time       `json:"created_at"`
}

type datasetView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Format string `json:"format"`
	Source string `json:"source"`
}

type benchmarkReport struct {
	CompletedSteps   int     `json:"completed_steps"`
	Records          int64   `json:"records"`
	RecordsPerSecond float64 `json:"records_per_second"`
	Passed           bool    `json:"passed"`
}

type runView struct {
	ID         string          `json:"id"`
	PipelineID string          `json:"pipeline_id"`
	Kind       string          `json:"kind"`
	Mode       string          `json:"mode"`
	Epoch      int             `json:"epoch"`
	NumSteps   int             `json:"num_steps"`
	Status     string          `json:"status"`
	Report     json.RawMessage `json:"report,omitempty"`
	SampleKey  string          `json:"sample_key,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type sampleView struct {
	RunID        string `json:"run_id"`
	SampleKey    string `json:"sample_key"`
	SampleSHA256 string `json:"sample_sha256"`
	URL          string `json:"url"`
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// resolveToken prefers an explicit token and falls back to the client
// credentials grant when FEEDLINE_OAUTH_TOKEN_URL is configured.
func resolveToken(ctx context.Context, explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}
	tokenURL := strings.TrimSpace(os.Getenv("FEEDLINE_OAUTH_TOKEN_URL"))
	if tokenURL == "" {
		return "", nil
	}
	cfg := clientcredentials.Config{
		ClientID:     os.Getenv("FEEDLINE_OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("FEEDLINE_OAUTH_CLIENT_SECRET"),
		TokenURL:     tokenURL,
		Scopes:       strings.Fields(os.Getenv("FEEDLINE_OAUTH_SCOPES")),
	}
	token, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch token from %s: %w", tokenURL, err)
	}
	return token.AccessToken, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: feedline <command> [flags]

commands:
  create-pipeline  register a pipeline from a spec file
  pipelines        list registered pipelines
  get-pipeline     show one pipeline
  create-dataset   register a dataset
  datasets         list registered datasets
  run              execute a pipeline run (inspection or benchmark)
  runs             list runs
  get-run          show one run
  sample           fetch the sample download URL for an inspection run
  history          show local benchmark history`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "create-pipeline":
		err = cmdCreatePipeline(args)
	case "pipelines":
		err = cmdListPipelines(args)
	case "get-pipeline":
		err = cmdGetPipeline(args)
	case "create-dataset":
		err = cmdCreateDataset(args)
	case "datasets":
		err = cmdListDatasets(args)
	case "run":
		err = cmdRun(args)
	case "runs":
		err = cmdListRuns(args)
	case "get-run":
		err = cmdGetRun(args)
	case "sample":
		err = cmdSample(args)
	case "history":
		err = cmdHistory(args)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s: %v\n", command, err)
		os.Exit(1)
	}
}

func commonFlags(fs *flag.FlagSet) (apiURL, project, token, requestID *string) {
	apiURL = fs.String("api", envOr("FEEDLINE_API_URL", "http://localhost:8080"), "Registry base URL")
	project = fs.String("project", envOr("FEEDLINE_PROJECT_ID", ""), "Project id")
	token = fs.String("token", envOr("FEEDLINE_TOKEN", ""), "Bearer token (falls back to client credentials env)")
	requestID = fs.String("request-id", "", "X-Request-Id for correlation")
	return
}

func buildClient(ctx context.Context, apiURL, project, token, requestID string) (*apiClient, error) {
	resolved, err := resolveToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if requestID == "" {
		requestID = fmt.Sprintf("feedline-%s", time.Now().UTC().Format("20060102T150405Z"))
	}
	return newAPIClient(apiURL, resolved, project, requestID), nil
}

func cmdCreatePipeline(args []string) error {
	fs := flag.NewFlagSet("create-pipeline", flag.ExitOnError)
	apiURL, project, token, requestID := commonFlags(fs)
	name := fs.String("name", "", "Pipeline name")
	specPath := fs.String("spec", "", "Path to a YAML or JSON pipeline spec")
	description := fs.String("description", "", "Pipeline description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *specPath == "" {
		return fmt.Errorf("-name and -spec are required")
	}

	raw, err := os.ReadFile(*specPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, err := buildClient(ctx, *apiURL, *project, *token, *requestID)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"name":        *name,
		"description": *description,
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		payload["spec"] = json.RawMessage(trimmed)
	} else {
		payload["spec_yaml"] = string(raw)
	}

	var created pipelineView
	if err := client.postJSON("/pipelines", payload, &created); err != nil {
		return err
	}
	fmt.Printf("created pipeline %s (name=%s sha256=%s)\n", created.ID, created.Name, created.ContentSHA256)
	return nil
}

func cmdListPipelines(args []string) error {
	fs := flag.NewFlagSet("pipelines", flag.ExitOnError)
	apiURL, project, token, requestID := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := buildClient(context.Background(), *apiURL, *project, *token, *requestID)
	if err != nil {
		return err
	}

	var out struct {
		Pipelines []pipelineView `json:"pipelines"`
	}
	if err := client.getJSON("/pipelines", &out); err != nil {
		return err
	}
	for _, p := range out.Pipelines {
		fmt.Printf("%s  %s  %s\n", p.ID, p.Name, p.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func cmdGetPipeline(args []string) error {
	fs := flag.NewFlagSet("get-pipeline", flag.ExitOnError)
	apiURL, project, token, requestID := commonFlags(fs)
	id := fs.String("id", "", "Pipeline id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}
	client, err := buildClient(context.Background(), *apiURL, *project, *token, *requestID)
	if err != nil {
		return err
	}

	var out json.RawMessage
	if err := client.getJSON("/pipelines/"+url.PathEscape(*id), &out); err != nil {
		return err
	}
	return printJSON(out)
}

func cmdCreateDataset(args []string) error {
	fs := flag.NewFlagSet("create-dataset", flag.ExitOnError)
	apiURL, project, token, requestID := commonFlags(fs)
	name := fs.String("name", "", "Dataset name")
	format := fs.String("format", "dir", "Dataset format: dir, csv or coco")
	source := fs.String("source", "", "Object key, http(s) URL or local directory")
	sha := fs.String("sha256", "", "Expected archive SHA-256 (optional)")
	optionsJSON := fs.String("options", "", "Format options as JSON (optional)")
	description := fs.String("description", "", "Dataset description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *source == "" {
		return fmt.Errorf("-name and -source are required")
	}

	payload := map[string]any{
		"name":           *name,
		"description":    *description,
		"format":         *format,
		"source":         *source,
		"content_sha256": *sha,
	}
	if strings.TrimSpace(*optionsJSON) != "" {
		var options map[string]any
		if err := json.Unmarshal([]byte(*optionsJSON), &options); err != nil {
			return fmt.Errorf("parse -options: %w", err)
		}
		payload["options"] = options
	}

	client, err := buildClient(context.Background(), *apiURL, *project, *token, *requestID)
	if err != nil {
		return err
	}
	var created datasetView
	if err := client.postJSON("/datasets", payload, &created); err != nil {
		return err
	}
	fmt.Printf("created dataset %s (name=%s format=%s)\n", created.ID, created.Name, created.Format)
	return nil
}

func cmdListDatasets(args []string) error {
	fs := flag.NewFlagSet("datasets", flag.ExitOnError)
	apiURL, project, token, requestID := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := buildClient(context.Background(), *apiURL, *project, *token, *requestID)
	if err != nil {
		return err
	}

	var out struct {
		Datasets []datasetView `json:"datasets"`
	}
	if err := client.getJSON("/datasets", &out); err != nil {
		return err
	}
	for _, d := range out.Datasets {
		fmt.Printf("%s  %s  %s  %s\n", d.ID, d.Name, d.Format, d.Source)
	}
	return nil
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	apiURL, project, token, requestID := commonFlags(fs)
	pipelineID := fs.String("pipeline", "", "Pipeline id")
	kind := fs.String("kind", "inspection", "Run kind: inspection or benchmark")
	mode := fs.String("mode", "train", "Execution mode")
	epoch := fs.Int("epoch", 1, "Epoch number")
	numSteps := fs.Int("steps", 1, "Number of steps")
	warmupSteps := fs.Int("warmup", -1, "Benchmark warm-up steps (-1 for the default)")
	minRate := fs.Float64("min-rate", 0, "Benchmark records/sec floor (0 disables)")
	datasetID := fs.String("dataset", "", "Dataset id bound to -mode")
	historyPath := fs.String("history", envOr("FEEDLINE_BENCH_HISTORY", defaultHistoryPath()), "Benchmark history db path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pipelineID == "" || *datasetID == "" {
		return fmt.Errorf("-pipeline and -dataset are required")
	}
	if pipeline.NormalizeMode(*mode) == "" {
		return fmt.Errorf("-mode must be one of %v, got %q", pipeline.Modes(), *mode)
	}

	ctx := context.Background()
	client, err := buildClient(ctx, *apiURL, *project, *token, *requestID)
	if err != nil {
		return err
	}

	var run runView
	if err := client.postJSON("/pipelines/"+url.PathEscape(*pipelineID)+"/runs", map[string]any{
		"kind":                   *kind,
		"mode":                   *mode,
		"epoch":                  *epoch,
		"num_steps":              *numSteps,
		"warmup_steps":           *warmupSteps,
		"min_records_per_second": *minRate,
		"datasets":               map[string]string{*mode: *datasetID},
	}, &run); err != nil {
		return err
	}

	fmt.Printf("run %s: %s\n", run.ID, run.Status)
	if run.Error != "" {
		fmt.Printf("  error: %s\n", run.Error)
	}
	if run.SampleKey != "" {
		fmt.Printf("  sample: %s\n", run.SampleKey)
	}

	if run.Kind == "benchmark" && run.Status == "succeeded" && len(run.Report) > 0 {
		var report benchmarkReport
		if err := json.Unmarshal(run.Report, &report); err != nil {
			return fmt.Errorf("decode benchmark report: %w", err)
		}
		fmt.Printf("  steps=%d records=%d records/sec=%.1f passed=%t\n",
			report.CompletedSteps, report.Records, report.RecordsPerSecond, report.Passed)

		history, err := benchhistory.Open(*historyPath)
		if err != nil {
			return fmt.Errorf("open bench history: %w", err)
		}
		defer history.Close()
		if err := history.Append(ctx, benchhistory.Entry{
			RunID:            run.ID,
			PipelineID:       run.PipelineID,
			Mode:             run.Mode,
			Epoch:            run.Epoch,
			CompletedSteps:   report.CompletedSteps,
			TotalRecords:     report.Records,
			RecordsPerSecond: report.RecordsPerSecond,
			Passed:           report.Passed,
		}); err != nil {
			return fmt.Errorf("append bench history: %w", err)
		}
	}
	return nil
}

func cmdListRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	apiURL, project, token, requestID := commonFlags(fs)
	pipelineID := fs.String("pipeline", "", "Filter by pipeline id")
	status := fs.String("status", "", "Filter by status")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := buildClient(context.Background(), *apiURL, *project, *token, *requestID)
	if err != nil {
		return err
	}

	query := url.Values{}
	if *pipelineID != "" {
		query.Set("pipeline_id", *pipelineID)
	}
	if *status != "" {
		query.Set("status", *status)
	}
	path := "/runs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out struct {
		Runs []runView `json:"runs"`
	}
	if err := client.getJSON(path, &out); err != nil {
		return err
	}
	for _, run := range out.Runs {
		fmt.Printf("%s  %s  %s/%s  %s\n", run.ID, run.PipelineID, run.Kind, run.Mode, run.Status)
	}
	return nil
}

func cmdGetRun(args []string) error {
	fs := flag.NewFlagSet("get-run", flag.ExitOnError)
	apiURL, project, token, requestID := commonFlags(fs)
	id := fs.String("id", "", "Run id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}
	client, err := buildClient(context.Background(), *apiURL, *project, *token, *requestID)
	if err != nil {
		return err
	}

	var out json.RawMessage
	if err := client.getJSON("/runs/"+url.PathEscape(*id), &out); err != nil {
		return err
	}
	return printJSON(out)
}

func cmdSample(args []string) error {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	apiURL, project, token, requestID := commonFlags(fs)
	id := fs.String("id", "", "Run id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}
	client, err := buildClient(context.Background(), *apiURL, *project, *token, *requestID)
	if err != nil {
		return err
	}

	var sample sampleView
	if err := client.getJSON("/runs/"+url.PathEscape(*id)+"/sample", &sample); err != nil {
		return err
	}
	fmt.Printf("sample for run %s\n  key: %s\n  sha256: %s\n  url: %s\n",
		sample.RunID, sample.SampleKey, sample.SampleSHA256, sample.URL)
	return nil
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	pipelineID := fs.String("pipeline", "", "Filter by pipeline id")
	limit := fs.Int("limit", 20, "Max entries")
	historyPath := fs.String("history", envOr("FEEDLINE_BENCH_HISTORY", defaultHistoryPath()), "Benchmark history db path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	history, err := benchhistory.Open(*historyPath)
	if err != nil {
		return err
	}
	defer history.Close()

	entries, err := history.List(context.Background(), *pipelineID, *limit)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		status := "pass"
		if !entry.Passed {
			status = "fail"
		}
		fmt.Printf("%s  %s  %s  epoch=%d steps=%d records/sec=%.1f  %s\n",
			entry.RecordedAt.Format(time.RFC3339), entry.RunID, entry.Mode,
			entry.Epoch, entry.CompletedSteps, entry.RecordsPerSecond, status)
	}
	return nil
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "feedline-bench.db"
	}
	return filepath.Join(home, ".feedline", "bench.db")
}

func printJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	fmt.Println(buf.String())
	return nil
}
