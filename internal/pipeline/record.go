package pipeline

import (
	"github.com/feedline-labs/feedline-go/internal/tensor"
)

// Record maps field names to values. Permitted value kinds are
// *tensor.Tensor, int64, string and []string; field names are unique by
// construction (map semantics).
type Record map[string]any

// Clone returns a copy of the record. Tensor values are deep-copied so
// ops can mutate their outputs without aliasing the source.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if t, ok := v.(*tensor.Tensor); ok {
			out[k] = t.Clone()
			continue
		}
		if s, ok := v.([]string); ok {
			out[k] = append([]string(nil), s...)
			continue
		}
		out[k] = v
	}
	return out
}

// merge applies a partial update produced by an op.
func (r Record) merge(update Record) {
	for k, v := range update {
		r[k] = v
	}
}
