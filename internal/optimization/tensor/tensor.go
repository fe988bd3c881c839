// Package tensor provides the dense float64 tensors that optimizer variables
// and deltas are made of.
package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Tensor is a fixed-shape, dense float64 tensor. The shape is set at
// construction and never changes; all arithmetic is elementwise and in-place.
type Tensor struct {
	shape []int
	data  []float64
}

// New returns a zero-valued tensor with the given shape.
func New(shape ...int) *Tensor {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	return &Tensor{
		shape: append([]int(nil), shape...),
		data:  make([]float64, n),
	}
}

// FromSlice builds a tensor around a copy of data. The product of the shape
// dimensions must match the data length.
func FromSlice(data []float64, shape ...int) (*Tensor, error) {
	n := 1
	for _, dim := range shape {
		n *= dim
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v holds %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{
		shape: append([]int(nil), shape...),
		data:  append([]float64(nil), data...),
	}, nil
}

// Scalar returns a rank-1 tensor holding a single value.
func Scalar(v float64) *Tensor {
	return &Tensor{shape: []int{1}, data: []float64{v}}
}

// ZerosLike returns a zero-valued tensor with the same shape as t.
func ZerosLike(t *Tensor) *Tensor {
	return New(t.shape...)
}

// Shape returns the tensor's dimensions. The returned slice must not be
// modified.
func (t *Tensor) Shape() []int {
	return t.shape
}

// Len returns the total number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

// Data returns the backing slice. Writes through it are visible to all
// holders of the tensor.
func (t *Tensor) Data() []float64 {
	return t.data
}

// At returns the i-th element in flat (row-major) order.
func (t *Tensor) At(i int) float64 {
	return t.data[i]
}

// Set assigns the i-th element in flat order.
func (t *Tensor) Set(i int, v float64) {
	t.data[i] = v
}

// Clone returns an independent copy of t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		shape: append([]int(nil), t.shape...),
		data:  append([]float64(nil), t.data...),
	}
}

// Add adds o elementwise into t. Shapes must match; mismatches are a caller
// contract violation and panic.
func (t *Tensor) Add(o *Tensor) {
	floats.Add(t.data, o.data)
}

// Sub subtracts o elementwise from t.
func (t *Tensor) Sub(o *Tensor) {
	floats.Sub(t.data, o.data)
}

// AddScaled adds alpha*o elementwise into t.
func (t *Tensor) AddScaled(alpha float64, o *Tensor) {
	floats.AddScaled(t.data, alpha, o.data)
}

// Scale multiplies every element of t by alpha.
func (t *Tensor) Scale(alpha float64) {
	floats.Scale(alpha, t.data)
}

// EqualShape reports whether t and o have identical dimensions.
func (t *Tensor) EqualShape(o *Tensor) bool {
	if len(t.shape) != len(o.shape) {
		return false
	}
	for i, dim := range t.shape {
		if dim != o.shape[i] {
			return false
		}
	}
	return true
}

// Sign returns +1 for positive x, -1 for negative x and 0 for exactly zero.
// The zero case is the tie-break used when a perturbed loss equals the
// unperturbed baseline: the sample contributes nothing.
func Sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
