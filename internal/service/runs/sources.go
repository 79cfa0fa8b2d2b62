package runs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/feedline-labs/feedline-go/internal/dataset"
	"github.com/feedline-labs/feedline-go/internal/domain"
	"github.com/feedline-labs/feedline-go/internal/pipeline"
)

// pathKey is the record field dataset sources expose image paths under.
const pathKey = "image"

func (s *Service) resolveSource(ctx context.Context, ds domain.Dataset) (pipeline.Source, error) {
	root, err := s.ensureLocal(ctx, ds)
	if err != nil {
		return nil, err
	}
	return buildSource(ds, root)
}

func (s *Service) ensureLocal(ctx context.Context, ds domain.Dataset) (string, error) {
	// A source naming an existing local directory needs no fetch. Used
	// by dev setups running against datasets already on disk.
	if info, err := os.Stat(ds.Source); err == nil && info.IsDir() {
		return ds.Source, nil
	}
	if strings.TrimSpace(s.cacheDir) == "" {
		return "", errors.New("no dataset cache directory configured")
	}

	target := filepath.Join(s.cacheDir, ds.ID)
	archive := dataset.Archive{
		TargetDir: target,
		CachePath: filepath.Join(s.cacheDir, ds.ID+".zip"),
		SHA256:    ds.ContentSHA256,
		Open:      s.openSource(ds),
	}
	if err := dataset.EnsureLocal(ctx, archive); err != nil {
		return "", err
	}

	if ds.Options.SampleLimit > 0 && ds.Format != domain.DatasetFormatCSV {
		if err := dataset.TrimToCount(imagesRoot(ds, target), ds.Options.SampleLimit); err != nil {
			return "", fmt.Errorf("trim to %d records: %w", ds.Options.SampleLimit, err)
		}
	}
	return target, nil
}

func (s *Service) openSource(ds domain.Dataset) func(ctx context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		if strings.HasPrefix(ds.Source, "http://") || strings.HasPrefix(ds.Source, "https://") {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, ds.Source, nil)
			if err != nil {
				return nil, err
			}
			resp, err := s.client.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				return nil, fmt.Errorf("download %s: status %d", ds.Source, resp.StatusCode)
			}
			return resp.Body, nil
		}

		rc, _, err := s.store.Get(ctx, s.buckets.Datasets, ds.Source)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", ds.Source, err)
		}
		return rc, nil
	}
}

func imagesRoot(ds domain.Dataset, root string) string {
	if dir := strings.TrimSpace(ds.Options.ImagesDir); dir != "" {
		return filepath.Join(root, dir)
	}
	return root
}

func buildSource(ds domain.Dataset, root string) (pipeline.Source, error) {
	switch domain.NormalizeDatasetFormat(string(ds.Format)) {
	case domain.DatasetFormatDir:
		return dataset.NewDirDataset(imagesRoot(ds, root), pathKey, ds.Options.Recursive)

	case domain.DatasetFormatCSV:
		return dataset.NewCSVDataset(filepath.Join(root, ds.Options.ManifestFile), dataset.CSVOptions{
			PathColumn:   ds.Options.PathColumn,
			ImageRoot:    root,
			LabelColumns: ds.Options.LabelColumns,
		})

	case domain.DatasetFormatCOCO:
		opts := dataset.COCOOptions{
			IncludeBboxes:   ds.Options.IncludeBboxes,
			IncludeCaptions: ds.Options.IncludeCaptions,
			Seed:            datasetSeed(ds.ID),
		}
		if f := strings.TrimSpace(ds.Options.InstancesFile); f != "" {
			opts.InstancesFile = filepath.Join(root, f)
		}
		if f := strings.TrimSpace(ds.Options.CaptionsFile); f != "" {
			opts.CaptionsFile = filepath.Join(root, f)
		}
		return dataset.NewCOCODataset(imagesRoot(ds, root), pathKey, opts)

	default:
		return nil, fmt.Errorf("unsupported dataset format: %q", ds.Format)
	}
}

// datasetSeed derives a stable resampling seed from the dataset id so
// repeated runs against the same dataset draw the same replacements.
func datasetSeed(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64())
}
