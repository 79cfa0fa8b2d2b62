package pipeline

import (
	"fmt"
	"sort"

	"github.com/feedline-labs/feedline-go/internal/tensor"
)

// Batch is a fixed-size group of records materialized per field: tensor
// fields stack into one tensor with leading dimension Size, labels into
// []int64, strings into []string and caption lists into [][]string.
type Batch struct {
	Size   int
	Fields map[string]any
}

// FieldNames returns the batch's field names in sorted order.
func (b Batch) FieldNames() []string {
	names := make([]string, 0, len(b.Fields))
	for name := range b.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// materializeBatch stacks per-record values field by field. Ragged
// tensor fields use a padded stack when pad is set; without a pad value
// ragged shapes are an error.
func materializeBatch(recs []Record, pad *float32) (Batch, error) {
	if len(recs) == 0 {
		return Batch{}, fmt.Errorf("cannot materialize an empty batch")
	}

	batch := Batch{
		Size:   len(recs),
		Fields: make(map[string]any, len(recs[0])),
	}
	for name := range recs[0] {
		stacked, err := stackField(recs, name, pad)
		if err != nil {
			return Batch{}, fmt.Errorf("field %q: %w", name, err)
		}
		batch.Fields[name] = stacked
	}
	return batch, nil
}

func stackField(recs []Record, name string, pad *float32) (any, error) {
	switch recs[0][name].(type) {
	case *tensor.Tensor:
		ts := make([]*tensor.Tensor, 0, len(recs))
		ragged := false
		for _, rec := range recs {
			t, ok := rec[name].(*tensor.Tensor)
			if !ok {
				return nil, fmt.Errorf("mixed value kinds (%T vs tensor)", rec[name])
			}
			if len(ts) > 0 && !tensor.SameShape(ts[0], t) {
				ragged = true
			}
			ts = append(ts, t)
		}
		if ragged {
			if pad == nil {
				return nil, fmt.Errorf("ragged shapes require a pad value")
			}
			return tensor.PaddedStack(ts, *pad)
		}
		return tensor.Stack(ts)
	case int64:
		out := make([]int64, 0, len(recs))
		for _, rec := range recs {
			v, ok := rec[name].(int64)
			if !ok {
				return nil, fmt.Errorf("mixed value kinds (%T vs int64)", rec[name])
			}
			out = append(out, v)
		}
		return out, nil
	case string:
		out := make([]string, 0, len(recs))
		for _, rec := range recs {
			v, ok := rec[name].(string)
			if !ok {
				return nil, fmt.Errorf("mixed value kinds (%T vs string)", rec[name])
			}
			out = append(out, v)
		}
		return out, nil
	case []string:
		out := make([][]string, 0, len(recs))
		for _, rec := range recs {
			v, ok := rec[name].([]string)
			if !ok {
				return nil, fmt.Errorf("mixed value kinds (%T vs []string)", rec[name])
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %T", recs[0][name])
	}
}
