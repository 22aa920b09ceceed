package safetensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/goccy/go-json"
)

// F32Tensor is an in-memory float32 tensor to be serialized.
type F32Tensor struct {
	Shape []int
	Data  []float32
}

// Write serializes tensors as F32 in name order.
func Write(w io.Writer, tensors map[string]F32Tensor) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	header := make(map[string]tensorHeader, len(tensors))
	var off int64
	for _, name := range names {
		t := tensors[name]
		n, err := numElements(t.Shape)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		if n != len(t.Data) {
			return fmt.Errorf("tensor %s: shape %v needs %d values, have %d", name, t.Shape, n, len(t.Data))
		}
		size := int64(n) * 4
		header[name] = tensorHeader{DType: "F32", Shape: t.Shape, DataOffsets: []int64{off, off + size}}
		off += size
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return err
	}
	// Header length is padded to an 8 byte boundary.
	for len(headerBytes)%8 != 0 {
		headerBytes = append(headerBytes, ' ')
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, name := range names {
		for _, v := range tensors[name].Data {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteFile serializes tensors to path.
func WriteFile(path string, tensors map[string]F32Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, tensors); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
