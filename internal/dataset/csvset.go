package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/feedline-labs/feedline-go/internal/pipeline"
)

// CSVOptions configure a label-manifest dataset.
type CSVOptions struct {
	// PathColumn names the column holding image paths; its values are
	// joined onto ImageRoot.
	PathColumn string
	ImageRoot  string

	// LabelColumns are parsed as int64 class labels; all other columns
	// stay strings.
	LabelColumns []string
}

// CSVDataset reads a label manifest CSV with a header row. Each row
// becomes one record keyed by column name.
type CSVDataset struct {
	columns []string
	rows    [][]string
	opts    CSVOptions
	labels  map[string]struct{}
}

func NewCSVDataset(manifest string, opts CSVOptions) (*CSVDataset, error) {
	if strings.TrimSpace(opts.PathColumn) == "" {
		return nil, fmt.Errorf("path column is required")
	}

	f, err := os.Open(manifest)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	all, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", manifest, err)
	}
	if len(all) < 2 {
		return nil, fmt.Errorf("manifest %s has no data rows", manifest)
	}

	columns := make([]string, len(all[0]))
	for i, col := range all[0] {
		columns[i] = strings.TrimSpace(col)
	}
	if !containsString(columns, opts.PathColumn) {
		return nil, fmt.Errorf("manifest %s missing path column %q", manifest, opts.PathColumn)
	}

	labels := make(map[string]struct{}, len(opts.LabelColumns))
	for _, col := range opts.LabelColumns {
		col = strings.TrimSpace(col)
		if !containsString(columns, col) {
			return nil, fmt.Errorf("manifest %s missing label column %q", manifest, col)
		}
		labels[col] = struct{}{}
	}

	return &CSVDataset{
		columns: columns,
		rows:    all[1:],
		opts:    opts,
		labels:  labels,
	}, nil
}

func (d *CSVDataset) Len() int { return len(d.rows) }

func (d *CSVDataset) Record(i int) (pipeline.Record, error) {
	if i < 0 || i >= len(d.rows) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, len(d.rows))
	}
	row := d.rows[i]
	if len(row) != len(d.columns) {
		return nil, fmt.Errorf("row %d has %d values, header has %d", i, len(row), len(d.columns))
	}

	rec := make(pipeline.Record, len(d.columns))
	for c, col := range d.columns {
		value := strings.TrimSpace(row[c])
		switch {
		case col == d.opts.PathColumn:
			if d.opts.ImageRoot != "" && !filepath.IsAbs(value) {
				value = filepath.Join(d.opts.ImageRoot, value)
			}
			rec[col] = value
		case d.isLabel(col):
			label, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: parse label: %w", i, col, err)
			}
			rec[col] = label
		default:
			rec[col] = value
		}
	}
	return rec, nil
}

func (d *CSVDataset) Fields() []string {
	return append([]string(nil), d.columns...)
}

func (d *CSVDataset) isLabel(col string) bool {
	_, ok := d.labels[col]
	return ok
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
