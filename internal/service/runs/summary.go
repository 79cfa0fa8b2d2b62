package runs

import (
	"github.com/feedline-labs/feedline-go/internal/pipeline"
	"github.com/feedline-labs/feedline-go/internal/tensor"
)

// FieldSummary describes one batch field compactly enough to eyeball
// whether preprocessing behaves as intended without shipping raw
// tensors around.
type FieldSummary struct {
	Dtype string  `json:"dtype"`
	Shape []int   `json:"shape,omitempty"`
	Min   float64 `json:"min,omitempty"`
	Max   float64 `json:"max,omitempty"`
	Mean  float64 `json:"mean,omitempty"`

	// Values holds the raw values for scalar and string fields, which
	// are small enough to include verbatim.
	Values any `json:"values,omitempty"`
}

type BatchSummary struct {
	Index  int                     `json:"index"`
	Size   int                     `json:"size"`
	Fields map[string]FieldSummary `json:"fields"`
}

type SampleReport struct {
	Mode    string         `json:"mode"`
	Epoch   int            `json:"epoch"`
	Batches []BatchSummary `json:"batches"`
}

func SummarizeBatches(mode pipeline.Mode, epoch int, batches []pipeline.Batch) SampleReport {
	report := SampleReport{
		Mode:    string(mode),
		Epoch:   epoch,
		Batches: make([]BatchSummary, 0, len(batches)),
	}
	for i, batch := range batches {
		summary := BatchSummary{
			Index:  i,
			Size:   batch.Size,
			Fields: make(map[string]FieldSummary, len(batch.Fields)),
		}
		for _, name := range batch.FieldNames() {
			summary.Fields[name] = summarizeField(batch.Fields[name])
		}
		report.Batches = append(report.Batches, summary)
	}
	return report
}

func summarizeField(value any) FieldSummary {
	switch v := value.(type) {
	case *tensor.Tensor:
		min, max, mean := tensorStats(v)
		return FieldSummary{
			Dtype: "float32",
			Shape: append([]int(nil), v.Shape...),
			Min:   min,
			Max:   max,
			Mean:  mean,
		}
	case []int64:
		return FieldSummary{Dtype: "int64", Shape: []int{len(v)}, Values: v}
	case []string:
		return FieldSummary{Dtype: "string", Shape: []int{len(v)}, Values: v}
	case [][]string:
		return FieldSummary{Dtype: "string_list", Shape: []int{len(v)}, Values: v}
	default:
		return FieldSummary{Dtype: "unknown"}
	}
}

func tensorStats(t *tensor.Tensor) (min, max, mean float64) {
	if t == nil || len(t.Data) == 0 {
		return 0, 0, 0
	}
	min = float64(t.Data[0])
	max = min
	sum := 0.0
	for _, v := range t.Data {
		f := float64(v)
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
		sum += f
	}
	return min, max, sum / float64(len(t.Data))
}
