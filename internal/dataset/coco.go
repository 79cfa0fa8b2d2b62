package dataset

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/feedline-labs/feedline-go/internal/pipeline"
	"github.com/feedline-labs/feedline-go/internal/tensor"
)

// COCOOptions configure a COCO-style annotated image directory.
type COCOOptions struct {
	InstancesFile string
	CaptionsFile  string

	IncludeBboxes   bool
	IncludeCaptions bool

	// Seed drives the resampling RNG used when a sampled record lacks
	// required annotations.
	Seed int64
}

// COCODataset pairs an image directory with COCO-format instance and
// caption annotations. Image ids are parsed from file name stems.
// Sampling a record whose required annotations are empty resamples a
// different index, so returned records always carry the fields they
// declare populated.
type COCODataset struct {
	dir  *DirDataset
	opts COCOOptions

	bboxes   map[int64][]bbox
	captions map[int64][]string
	rng      *rand.Rand
}

type bbox struct {
	x, y, w, h float64
	category   int64
}

type cocoAnnotationFile struct {
	Annotations []struct {
		ImageID    int64     `json:"image_id"`
		Bbox       []float64 `json:"bbox"`
		CategoryID int64     `json:"category_id"`
		IsCrowd    int       `json:"iscrowd"`
		Caption    string    `json:"caption"`
	} `json:"annotations"`
}

func NewCOCODataset(imageDir, pathKey string, opts COCOOptions) (*COCODataset, error) {
	if !opts.IncludeBboxes && !opts.IncludeCaptions {
		return nil, fmt.Errorf("at least one of bboxes or captions must be included")
	}
	dir, err := NewDirDataset(imageDir, pathKey, false)
	if err != nil {
		return nil, err
	}

	d := &COCODataset{
		dir:  dir,
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
	}

	if opts.IncludeBboxes {
		if strings.TrimSpace(opts.InstancesFile) == "" {
			return nil, fmt.Errorf("instances file is required with bboxes")
		}
		annos, err := readAnnotations(opts.InstancesFile)
		if err != nil {
			return nil, fmt.Errorf("instances: %w", err)
		}
		d.bboxes = make(map[int64][]bbox)
		for _, a := range annos.Annotations {
			if a.IsCrowd != 0 || len(a.Bbox) != 4 {
				continue
			}
			d.bboxes[a.ImageID] = append(d.bboxes[a.ImageID], bbox{
				x: a.Bbox[0], y: a.Bbox[1], w: a.Bbox[2], h: a.Bbox[3],
				category: a.CategoryID,
			})
		}
	}
	if opts.IncludeCaptions {
		if strings.TrimSpace(opts.CaptionsFile) == "" {
			return nil, fmt.Errorf("captions file is required with captions")
		}
		annos, err := readAnnotations(opts.CaptionsFile)
		if err != nil {
			return nil, fmt.Errorf("captions: %w", err)
		}
		d.captions = make(map[int64][]string)
		for _, a := range annos.Annotations {
			if strings.TrimSpace(a.Caption) == "" {
				continue
			}
			d.captions[a.ImageID] = append(d.captions[a.ImageID], a.Caption)
		}
	}
	return d, nil
}

func readAnnotations(path string) (cocoAnnotationFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cocoAnnotationFile{}, err
	}
	var out cocoAnnotationFile
	if err := json.Unmarshal(raw, &out); err != nil {
		return cocoAnnotationFile{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

func (d *COCODataset) Len() int { return d.dir.Len() }

func (d *COCODataset) Fields() []string {
	fields := append(d.dir.Fields(), "image_id")
	if d.opts.IncludeBboxes {
		fields = append(fields, "bbox")
	}
	if d.opts.IncludeCaptions {
		fields = append(fields, "caption")
	}
	return fields
}

// Record returns the record at index i, resampling a different index
// when required annotations are missing. Resampling can only fail to
// terminate if no image in the directory has annotations, which is
// bounded by a fixed attempt budget.
func (d *COCODataset) Record(i int) (pipeline.Record, error) {
	const maxAttempts = 10000
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rec, populated, err := d.record(i)
		if err != nil {
			return nil, err
		}
		if populated {
			return rec, nil
		}
		i = d.rng.Intn(d.Len())
	}
	return nil, fmt.Errorf("no annotated image found after %d resamples", maxAttempts)
}

func (d *COCODataset) record(i int) (pipeline.Record, bool, error) {
	rec, err := d.dir.Record(i)
	if err != nil {
		return nil, false, err
	}
	path, _ := d.dir.Path(i)
	imageID, err := imageIDFromPath(path)
	if err != nil {
		return nil, false, err
	}
	rec["image_id"] = imageID
	populated := true

	if d.opts.IncludeBboxes {
		boxes := d.bboxes[imageID]
		if len(boxes) == 0 {
			populated = false
		} else {
			t, err := bboxTensor(boxes)
			if err != nil {
				return nil, false, err
			}
			rec["bbox"] = t
		}
	}
	if d.opts.IncludeCaptions {
		caps := d.captions[imageID]
		if len(caps) == 0 {
			populated = false
		} else {
			rec["caption"] = append([]string(nil), caps...)
		}
	}
	return rec, populated, nil
}

// bboxTensor packs boxes as [N, 5] rows of x, y, w, h, category.
func bboxTensor(boxes []bbox) (*tensor.Tensor, error) {
	data := make([]float32, 0, len(boxes)*5)
	for _, b := range boxes {
		data = append(data, float32(b.x), float32(b.y), float32(b.w), float32(b.h), float32(b.category))
	}
	return tensor.FromData(data, len(boxes), 5)
}

func imageIDFromPath(path string) (int64, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	id, err := strconv.ParseInt(stem, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("image file %q has no numeric id: %w", filepath.Base(path), err)
	}
	return id, nil
}
