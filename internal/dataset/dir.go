// Package dataset provides the data sources feedline pipelines read
// from: image directories, CSV label manifests and COCO-style
// annotated directories, plus local acquisition of archived datasets.
package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/feedline-labs/feedline-go/internal/pipeline"
)

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

func isImageFile(name string) bool {
	_, ok := imageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// DirDataset scans a directory for image files, sorted by path. Each
// record carries one field: the configured path key holding the file's
// absolute path.
type DirDataset struct {
	pathKey string
	files   []string
}

// NewDirDataset lists the image files under root. With recursive set,
// nested directories are walked as well.
func NewDirDataset(root, pathKey string, recursive bool) (*DirDataset, error) {
	pathKey = strings.TrimSpace(pathKey)
	if pathKey == "" {
		return nil, fmt.Errorf("path key is required")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	var files []string
	if recursive {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isImageFile(d.Name()) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", root, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && isImageFile(entry.Name()) {
				files = append(files, filepath.Join(root, entry.Name()))
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files under %s", root)
	}
	sort.Strings(files)

	return &DirDataset{pathKey: pathKey, files: files}, nil
}

func (d *DirDataset) Len() int { return len(d.files) }

func (d *DirDataset) Record(i int) (pipeline.Record, error) {
	if i < 0 || i >= len(d.files) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, len(d.files))
	}
	return pipeline.Record{d.pathKey: d.files[i]}, nil
}

func (d *DirDataset) Fields() []string { return []string{d.pathKey} }

// Path returns the file path behind index i without building a record.
func (d *DirDataset) Path(i int) (string, error) {
	if i < 0 || i >= len(d.files) {
		return "", fmt.Errorf("index %d out of range [0, %d)", i, len(d.files))
	}
	return d.files[i], nil
}

// TrimToCount keeps the first n files encountered under dir (walk
// order) and removes the rest. It is the local subsample step applied
// before building a dataset over a large download.
func TrimToCount(dir string, n int) error {
	if n < 1 {
		return fmt.Errorf("count must be >= 1 (got %d)", n)
	}
	kept := 0
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if kept < n {
			kept++
			return nil
		}
		return os.Remove(path)
	})
}
