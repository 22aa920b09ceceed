package tensor

import (
	"errors"
	"fmt"
)

var (
	errNegativeDim   = errors.New("tensor: negative dimension")
	errShapeMismatch = errors.New("tensor: shape does not match data length")
)

// Tensor is a dense row-major float32 tensor of arbitrary rank.
//
// Reshape returns views that share Data with the receiver.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zeroed tensor with the given shape.
func New(shape ...int) *Tensor {
	n, err := numel(shape)
	if err != nil {
		panic(err)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// FromData wraps data as a tensor with the given shape.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	n, err := numel(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d values, have %d", errShapeMismatch, shape, n, len(data))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Dim returns the size of dimension i. Negative indices count from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// Numel returns the number of elements.
func (t *Tensor) Numel() int { return len(t.Data) }

// Reshape returns a view with a new shape. A single -1 dimension is inferred.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	out := append([]int(nil), shape...)
	infer := -1
	known := 1
	for i, d := range out {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("tensor: reshape %v has more than one inferred dimension", shape)
			}
			infer = i
		case d < 0:
			return nil, fmt.Errorf("%w: reshape %v", errNegativeDim, shape)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.Data)%known != 0 {
			return nil, fmt.Errorf("tensor: cannot reshape %v into %v", t.Shape, shape)
		}
		out[infer] = len(t.Data) / known
		known *= out[infer]
	}
	if known != len(t.Data) {
		return nil, fmt.Errorf("tensor: cannot reshape %v into %v", t.Shape, shape)
	}
	return &Tensor{Shape: out, Data: t.Data}, nil
}

// offset converts a multi-index into a flat offset.
func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.Shape) {
		panic(fmt.Sprintf("tensor: index rank %d does not match tensor rank %d", len(idx), len(t.Shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 {
			v += t.Shape[i]
		}
		if v < 0 || v >= t.Shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.Shape))
		}
		off = off*t.Shape[i] + v
	}
	return off
}

// At returns the element at idx. Negative indices count from the end of
// their dimension.
func (t *Tensor) At(idx ...int) float32 { return t.Data[t.offset(idx)] }

// Set stores v at idx.
func (t *Tensor) Set(v float32, idx ...int) { t.Data[t.offset(idx)] = v }

// Row returns the contiguous slice for the leading index i of a tensor of
// rank >= 2.
func (t *Tensor) Row(i int) []float32 {
	if len(t.Shape) < 2 {
		panic("tensor: Row requires rank >= 2")
	}
	n := len(t.Data) / t.Shape[0]
	return t.Data[i*n : (i+1)*n]
}

// Mat views a rank-2 tensor as a matrix.
func (t *Tensor) Mat() (Mat, error) {
	if len(t.Shape) != 2 {
		return Mat{}, fmt.Errorf("tensor: expected rank 2, got shape %v", t.Shape)
	}
	return Mat{R: t.Shape[0], C: t.Shape[1], Stride: t.Shape[1], Data: t.Data}, nil
}

func numel(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: %v", errNegativeDim, shape)
		}
		n *= d
	}
	return n, nil
}
