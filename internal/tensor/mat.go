package tensor

import (
	"fmt"
	"math/rand/v2"
)

// Mat represents a dense row-major matrix of float32 values.
//
// R and C represent the number of rows and columns respectively. Stride is the
// number of elements between the starts of two consecutive rows (for row-major
// matrices this is equal to C). Data holds the flattened matrix values.
//
// Mat does not perform any memory safety beyond the checks performed by Go's
// slice types; out-of-range indices will panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a new matrix with the given number of rows and columns.
// The underlying slice is zero initialised.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{R: r, C: c, Stride: c, Data: make([]float32, r*c)}
}

// NewMatFromData creates a matrix from existing data.
// It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, errNegativeDim
	}
	if r*c != len(data) {
		return Mat{}, fmt.Errorf("%w: %dx%d needs %d values, have %d", errShapeMismatch, r, c, r*c, len(data))
	}
	return Mat{R: r, C: c, Stride: c, Data: data}, nil
}

// Row returns row i as a slice sharing the matrix storage.
func (m Mat) Row(i int) []float32 {
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// At returns element (i, j).
func (m Mat) At(i, j int) float32 { return m.Data[i*m.Stride+j] }

// Set stores v at (i, j).
func (m Mat) Set(i, j int, v float32) { m.Data[i*m.Stride+j] = v }

// Clone returns a deep copy with a compact stride.
func (m Mat) Clone() Mat {
	out := NewMat(m.R, m.C)
	for i := 0; i < m.R; i++ {
		copy(out.Row(i), m.Row(i))
	}
	return out
}

// Rows returns rows [from, to) as a view.
func (m Mat) Rows(from, to int) Mat {
	if from < 0 || to > m.R || from > to {
		panic(fmt.Sprintf("tensor: row range [%d,%d) out of bounds for %d rows", from, to, m.R))
	}
	if from == to {
		return Mat{C: m.C, Stride: m.Stride}
	}
	return Mat{R: to - from, C: m.C, Stride: m.Stride, Data: m.Data[from*m.Stride : (to-1)*m.Stride+m.C]}
}

// FillRand fills the matrix with deterministic values in [-scale, scale).
func FillRand(m Mat, r *rand.Rand, scale float32) {
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		for j := range row {
			row[j] = (r.Float32()*2 - 1) * scale
		}
	}
}
