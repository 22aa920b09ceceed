package tensor

import (
	"math"
)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Scale multiplies x by s in place.
func Scale(x []float32, s float32) {
	for i := range x {
		x[i] *= s
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// MatVec computes dst = w * x where w is [out, in] and x has length in.
func MatVec(dst []float32, w Mat, x []float32) {
	if len(x) != w.C || len(dst) < w.R {
		panic("tensor: MatVec dimension mismatch")
	}
	for i := 0; i < w.R; i++ {
		dst[i] = Dot(w.Row(i), x)
	}
}

// VecMat computes dst = x^T * w where w is [in, out] and x has length in.
func VecMat(dst []float32, x []float32, w Mat) {
	if len(x) != w.R || len(dst) < w.C {
		panic("tensor: VecMat dimension mismatch")
	}
	clear(dst[:w.C])
	for r := 0; r < w.R; r++ {
		xv := x[r]
		if xv == 0 {
			continue
		}
		row := w.Row(r)
		for c, v := range row {
			dst[c] += xv * v
		}
	}
}

// Linear applies y = x * w^T + b to every row of x. w is [out, in]; b may be nil.
func Linear(x Mat, w Mat, b []float32) Mat {
	if x.C != w.C {
		panic("tensor: Linear input width mismatch")
	}
	out := NewMat(x.R, w.R)
	for i := 0; i < x.R; i++ {
		dst := out.Row(i)
		MatVec(dst, w, x.Row(i))
		if b != nil {
			Add(dst, b)
		}
	}
	return out
}

// LayerNorm normalizes src to zero mean and unit variance and applies the
// affine transform weight*x + bias.
func LayerNorm(dst, src, weight, bias []float32, eps float32) {
	var mean float64
	for _, v := range src {
		mean += float64(v)
	}
	mean /= float64(len(src))
	var variance float64
	for _, v := range src {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(src))
	inv := 1 / math.Sqrt(variance+float64(eps))
	for i, v := range src {
		n := float32((float64(v) - mean) * inv)
		if weight != nil {
			n *= weight[i]
		}
		if bias != nil {
			n += bias[i]
		}
		dst[i] = n
	}
}

// Softmax applies the softmax function to x.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// GELU is the exact erf-based Gaussian error linear unit.
func GELU(x float32) float32 {
	return float32(0.5 * float64(x) * (1 + math.Erf(float64(x)/math.Sqrt2)))
}

// GELUTanh is the tanh approximation used by "gelu_new" checkpoints.
func GELUTanh(x float32) float32 {
	v := float64(x)
	return float32(0.5 * v * (1 + math.Tanh(math.Sqrt(2/math.Pi)*(v+0.044715*v*v*v))))
}

// ReLU clamps negatives to zero.
func ReLU(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

// Tanh is a float32 wrapper around math.Tanh.
func Tanh(x float32) float32 { return float32(math.Tanh(float64(x))) }

// Apply maps fn over x in place.
func Apply(x []float32, fn func(float32) float32) {
	for i, v := range x {
		x[i] = fn(v)
	}
}
