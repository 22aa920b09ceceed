package tensor

import (
	"fmt"

	"github.com/samcharles93/zeroshot/internal/device"
)

// Tokens is a [Batch, SeqLen] matrix of int64 token ids resident on Device.
type Tokens struct {
	Batch  int
	SeqLen int
	Data   []int64
	Device device.Device
}

// NewTokens allocates a batch filled with fill.
func NewTokens(batch, seqLen int, fill int64) *Tokens {
	if batch < 0 || seqLen < 0 {
		panic(errNegativeDim)
	}
	data := make([]int64, batch*seqLen)
	if fill != 0 {
		for i := range data {
			data[i] = fill
		}
	}
	return &Tokens{Batch: batch, SeqLen: seqLen, Data: data, Device: device.CPU}
}

// PadRows right-pads every row to the longest row length with pad and stacks
// the result into one batch.
func PadRows(rows [][]int64, pad int64) *Tokens {
	maxLen := 0
	for _, r := range rows {
		maxLen = max(maxLen, len(r))
	}
	out := NewTokens(len(rows), maxLen, pad)
	for i, r := range rows {
		copy(out.Row(i), r)
	}
	return out
}

// Row returns row i sharing the batch storage.
func (t *Tokens) Row(i int) []int64 {
	return t.Data[i*t.SeqLen : (i+1)*t.SeqLen]
}

// To returns a copy of t placed on dev.
func (t *Tokens) To(dev device.Device) *Tokens {
	out := *t
	out.Data = append([]int64(nil), t.Data...)
	out.Device = dev
	return &out
}

// NotEqual returns a mask that is true wherever the token differs from v.
func (t *Tokens) NotEqual(v int64) *Mask {
	m := &Mask{Batch: t.Batch, SeqLen: t.SeqLen, Data: make([]bool, len(t.Data))}
	for i, id := range t.Data {
		m.Data[i] = id != v
	}
	return m
}

// Mask is a [Batch, SeqLen] boolean attention mask. True marks a position
// that may be attended to.
type Mask struct {
	Batch  int
	SeqLen int
	Data   []bool
}

// Ones returns an all-true mask.
func Ones(batch, seqLen int) *Mask {
	m := &Mask{Batch: batch, SeqLen: seqLen, Data: make([]bool, batch*seqLen)}
	for i := range m.Data {
		m.Data[i] = true
	}
	return m
}

// Row returns row i sharing the mask storage.
func (m *Mask) Row(i int) []bool {
	return m.Data[i*m.SeqLen : (i+1)*m.SeqLen]
}

// CheckShape reports an error when the mask does not cover a batch of the
// given dimensions.
func (m *Mask) CheckShape(batch, seqLen int) error {
	if m.Batch != batch || m.SeqLen != seqLen {
		return fmt.Errorf("tensor: mask shape [%d %d] does not match [%d %d]", m.Batch, m.SeqLen, batch, seqLen)
	}
	return nil
}
