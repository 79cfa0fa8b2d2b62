package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DatasetFormat identifies how records are materialized from a dataset
// archive once it is on local disk.
type DatasetFormat string

const (
	DatasetFormatDir  DatasetFormat = "dir"
	DatasetFormatCSV  DatasetFormat = "csv"
	DatasetFormatCOCO DatasetFormat = "coco"
)

func NormalizeDatasetFormat(value string) DatasetFormat {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DatasetFormatDir):
		return DatasetFormatDir
	case string(DatasetFormatCSV):
		return DatasetFormatCSV
	case string(DatasetFormatCOCO):
		return DatasetFormatCOCO
	default:
		return ""
	}
}

// DatasetOptions carries format-specific settings. Only the fields for
// the dataset's format are consulted.
type DatasetOptions struct {
	Recursive bool `json:"recursive,omitempty"`

	ManifestFile string   `json:"manifest_file,omitempty"`
	PathColumn   string   `json:"path_column,omitempty"`
	LabelColumns []string `json:"label_columns,omitempty"`

	ImagesDir       string `json:"images_dir,omitempty"`
	InstancesFile   string `json:"instances_file,omitempty"`
	CaptionsFile    string `json:"captions_file,omitempty"`
	IncludeBboxes   bool   `json:"include_bboxes,omitempty"`
	IncludeCaptions bool   `json:"include_captions,omitempty"`
	SampleLimit     int    `json:"sample_limit,omitempty"`
}

// Dataset is a registered dataset archive. Source is either an object
// key in the datasets bucket or an http(s) URL to a zip archive;
// ContentSHA256 is the digest of the archive and is verified on fetch.
type Dataset struct {
	ID            string
	ProjectID     string
	Name          string
	Description   string
	Format        DatasetFormat
	Source        string
	ContentSHA256 string
	Options       DatasetOptions
	CreatedAt     time.Time
	CreatedBy     string
}

func (d Dataset) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("dataset id is required")
	}
	if strings.TrimSpace(d.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("dataset name is required")
	}
	if NormalizeDatasetFormat(string(d.Format)) == "" {
		return fmt.Errorf("unsupported dataset format: %q", d.Format)
	}
	if strings.TrimSpace(d.Source) == "" {
		return errors.New("dataset source is required")
	}
	switch d.Format {
	case DatasetFormatCSV:
		if strings.TrimSpace(d.Options.ManifestFile) == "" {
			return errors.New("manifest file is required for csv datasets")
		}
		if strings.TrimSpace(d.Options.PathColumn) == "" {
			return errors.New("path column is required for csv datasets")
		}
	case DatasetFormatCOCO:
		if !d.Options.IncludeBboxes && !d.Options.IncludeCaptions {
			return errors.New("coco datasets must include bboxes, captions, or both")
		}
		if d.Options.IncludeBboxes && strings.TrimSpace(d.Options.InstancesFile) == "" {
			return errors.New("instances file is required when bboxes are included")
		}
		if d.Options.IncludeCaptions && strings.TrimSpace(d.Options.CaptionsFile) == "" {
			return errors.New("captions file is required when captions are included")
		}
	}
	if d.Options.SampleLimit < 0 {
		return errors.New("sample limit must be >= 0")
	}
	return nil
}
