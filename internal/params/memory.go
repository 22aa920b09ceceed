package params

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/samcharles93/zeroshot/internal/safetensors"
)

// Memory is an in-memory Source, mainly for tests and synthetic networks.
type Memory struct {
	tensors map[string]safetensors.F32Tensor
}

// NewMemory returns an empty in-memory source.
func NewMemory() *Memory {
	return &Memory{tensors: map[string]safetensors.F32Tensor{}}
}

// Set stores data under name with the given shape.
func (m *Memory) Set(name string, data []float32, shape ...int) {
	m.tensors[name] = safetensors.F32Tensor{Shape: append([]int(nil), shape...), Data: data}
}

// Rand stores a tensor of uniform values in [-scale, scale).
func (m *Memory) Rand(r *rand.Rand, scale float32, name string, shape ...int) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = (r.Float32()*2 - 1) * scale
	}
	m.Set(name, data, shape...)
}

// Fill stores a tensor where every element equals v.
func (m *Memory) Fill(v float32, name string, shape ...int) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = v
	}
	m.Set(name, data, shape...)
}

// Tensors exposes the stored tensors, e.g. for writing them to disk.
func (m *Memory) Tensors() map[string]safetensors.F32Tensor { return m.tensors }

func (m *Memory) Names() []string {
	names := make([]string, 0, len(m.tensors))
	for name := range m.tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Memory) ReadTensorF32(name string) ([]float32, safetensors.TensorInfo, error) {
	t, ok := m.tensors[name]
	if !ok {
		return nil, safetensors.TensorInfo{}, fmt.Errorf("%w: %s", safetensors.ErrTensorNotFound, name)
	}
	return t.Data, safetensors.TensorInfo{DType: "F32", Shape: t.Shape}, nil
}
