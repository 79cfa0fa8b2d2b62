// Package tensor provides the dense float32 tensors that flow through
// feedline pipelines. It deliberately covers only what batching and the
// built-in ops need: construction, cloning, stacking and approximate
// comparison.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

// Tensor is a dense float32 tensor in row-major layout.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New returns a zero-filled tensor with the given shape.
func New(shape ...int) (*Tensor, error) {
	n, err := elemCount(shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, n),
	}, nil
}

// FromData wraps data in a tensor, validating that the element count
// matches the shape.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	n, err := elemCount(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("data has %d elements, shape %v needs %d", len(data), shape, n)
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  data,
	}, nil
}

func elemCount(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, errors.New("shape is required")
	}
	n := 1
	for _, dim := range shape {
		if dim <= 0 {
			return 0, fmt.Errorf("shape %v has non-positive dimension", shape)
		}
		n *= dim
	}
	return n, nil
}

// NumElems returns the total number of elements.
func (t *Tensor) NumElems() int {
	if t == nil || len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range t.Shape {
		n *= dim
	}
	return n
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	if t == nil {
		return 0
	}
	return len(t.Shape)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// SameShape reports whether two tensors have identical shapes.
func SameShape(a, b *Tensor) bool {
	if a == nil || b == nil {
		return false
	}
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Stack combines tensors of identical shape into one tensor with a new
// leading dimension of len(ts).
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("stack requires at least one tensor")
	}
	first := ts[0]
	if first == nil {
		return nil, errors.New("stack input is nil")
	}
	for i, t := range ts[1:] {
		if !SameShape(first, t) {
			return nil, fmt.Errorf("stack shape mismatch at %d: %v vs %v", i+1, shapeOf(t), first.Shape)
		}
	}

	per := first.NumElems()
	out := &Tensor{
		Shape: append([]int{len(ts)}, first.Shape...),
		Data:  make([]float32, len(ts)*per),
	}
	for i, t := range ts {
		copy(out.Data[i*per:(i+1)*per], t.Data)
	}
	return out, nil
}

// PaddedStack combines tensors of equal rank but possibly differing
// shapes. Each output dimension is the per-dimension maximum of the
// inputs; regions not covered by an input are filled with fill.
func PaddedStack(ts []*Tensor, fill float32) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("padded stack requires at least one tensor")
	}
	rank := ts[0].Rank()
	if rank == 0 {
		return nil, errors.New("padded stack input is nil")
	}
	maxShape := append([]int(nil), ts[0].Shape...)
	for i, t := range ts[1:] {
		if t.Rank() != rank {
			return nil, fmt.Errorf("padded stack rank mismatch at %d: %d vs %d", i+1, t.Rank(), rank)
		}
		for d, dim := range t.Shape {
			if dim > maxShape[d] {
				maxShape[d] = dim
			}
		}
	}

	out, err := New(append([]int{len(ts)}, maxShape...)...)
	if err != nil {
		return nil, err
	}
	if fill != 0 {
		for i := range out.Data {
			out.Data[i] = fill
		}
	}

	strides := rowMajorStrides(maxShape)
	per := 1
	for _, dim := range maxShape {
		per *= dim
	}
	for i, t := range ts {
		base := i * per
		copyInto(out.Data[base:base+per], strides, t)
	}
	return out, nil
}

// copyInto writes src into a padded destination region laid out with the
// given row-major strides.
func copyInto(dst []float32, dstStrides []int, src *Tensor) {
	idx := make([]int, len(src.Shape))
	for pos := 0; pos < len(src.Data); pos++ {
		off := 0
		for d, v := range idx {
			off += v * dstStrides[d]
		}
		dst[off] = src.Data[pos]
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < src.Shape[d] {
				break
			}
			idx[d] = 0
		}
	}
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		strides[d] = acc
		acc *= shape[d]
	}
	return strides
}

// EqualApprox reports whether two tensors match in shape and agree
// element-wise within tol.
func EqualApprox(a, b *Tensor, tol float64) bool {
	if !SameShape(a, b) {
		return false
	}
	for i := range a.Data {
		if math.Abs(float64(a.Data[i])-float64(b.Data[i])) > tol {
			return false
		}
	}
	return true
}

func shapeOf(t *Tensor) []int {
	if t == nil {
		return nil
	}
	return t.Shape
}
