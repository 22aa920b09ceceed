// Package safetensors reads Hugging Face safetensors checkpoints.
package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"
)

// ErrTensorNotFound is returned when a tensor name is absent from a file.
var ErrTensorNotFound = errors.New("tensor not found")

// maxHeaderLen bounds the JSON header so a corrupt length prefix cannot
// trigger a huge allocation.
const maxHeaderLen = 100 << 20

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is an opened safetensors file. Tensor data is served from a read-only
// memory mapping when the platform allows it.
type File struct {
	Path      string
	DataStart int64
	Tensors   map[string]TensorInfo
	Metadata  map[string]string

	data    []byte
	mmapped bool
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open parses the header of a safetensors file and maps its payload.
// The returned file must be closed to release the mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	headerLen, err := readU64(f)
	if err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	if headerLen > maxHeaderLen || int64(8+headerLen) > stat.Size() {
		return nil, fmt.Errorf("safetensors %s: header length %d exceeds file size", path, headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, err
	}
	tensors, meta, err := parseHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	out := &File{
		Path:      path,
		DataStart: int64(8 + headerLen),
		Tensors:   tensors,
		Metadata:  meta,
	}
	payload := stat.Size() - out.DataStart
	for name, t := range tensors {
		if t.End > payload {
			return nil, fmt.Errorf("tensor %s: data_offsets end %d beyond payload size %d", name, t.End, payload)
		}
	}
	if stat.Size() > 0 {
		data, err := unix.Mmap(int(f.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_SHARED)
		if err == nil {
			out.data = data
			out.mmapped = true
		}
	}
	return out, nil
}

func parseHeader(headerBytes []byte) (map[string]TensorInfo, map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse header: %w", err)
	}
	var meta map[string]string
	if m, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(m, &meta); err != nil {
			return nil, nil, fmt.Errorf("parse __metadata__: %w", err)
		}
		delete(raw, "__metadata__")
	}

	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		if len(th.DataOffsets) != 2 || th.DataOffsets[1] < th.DataOffsets[0] || th.DataOffsets[0] < 0 {
			return nil, nil, fmt.Errorf("tensor %s: invalid data_offsets", name)
		}
		tensors[name] = TensorInfo{
			DType: th.DType,
			Shape: th.Shape,
			Start: th.DataOffsets[0],
			End:   th.DataOffsets[1],
		}
	}
	return tensors, meta, nil
}

// Close releases the memory mapping.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	f.mmapped = false
	return err
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// ReadTensor returns the raw little-endian bytes of a tensor. When the file
// is mapped the slice aliases the mapping and must not be modified.
func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	start := f.DataStart + t.Start
	end := f.DataStart + t.End
	if f.data != nil {
		return f.data[start:end], t, nil
	}

	buf := make([]byte, end-start)
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	defer func() { _ = file.Close() }()
	if _, err := file.ReadAt(buf, start); err != nil {
		return nil, TensorInfo{}, fmt.Errorf("read tensor %s: %w", name, err)
	}
	return buf, t, nil
}

// ReadTensorF32 decodes a F32, F16 or BF16 tensor into a fresh float32 slice.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	raw, info, err := f.ReadTensor(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	out, err := DecodeF32(info.DType, info.Shape, raw)
	if err != nil {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %w", name, err)
	}
	return out, info, nil
}

// DecodeF32 converts raw tensor bytes of the given dtype into float32 values.
func DecodeF32(dtype string, shape []int, raw []byte) ([]float32, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	switch dtype {
	case "F32":
		if len(raw) != n*4 {
			return nil, fmt.Errorf("invalid f32 data size %d for %d elements", len(raw), n)
		}
		for i := range n {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case "BF16":
		if len(raw) != n*2 {
			return nil, fmt.Errorf("invalid bf16 data size %d for %d elements", len(raw), n)
		}
		for i := range n {
			out[i] = bf16ToF32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case "F16":
		if len(raw) != n*2 {
			return nil, fmt.Errorf("invalid f16 data size %d for %d elements", len(raw), n)
		}
		for i := range n {
			out[i] = fp16ToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	return out, nil
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if d != 0 && n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return n, nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

func fp16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}
