// Package params holds the named, device-resident weights of a loaded network
// and hands them out through hierarchical namespaces.
package params

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/samcharles93/zeroshot/internal/device"
	"github.com/samcharles93/zeroshot/internal/safetensors"
	"github.com/samcharles93/zeroshot/internal/tensor"
)

// ErrTensorNotFound is returned when a parameter is missing from the store.
var ErrTensorNotFound = errors.New("parameter not found")

// Source provides raw float32 tensors by name.
type Source interface {
	Names() []string
	ReadTensorF32(name string) ([]float32, safetensors.TensorInfo, error)
}

// Store is a parameter store bound to one device. Lookups are recorded so
// callers can report checkpoint tensors a network never consumed.
type Store struct {
	src    Source
	device device.Device
	names  map[string]struct{}

	mu   sync.Mutex
	used map[string]bool
}

// NewStore wraps src.
func NewStore(src Source, dev device.Device) *Store {
	names := make(map[string]struct{})
	for _, n := range src.Names() {
		names[n] = struct{}{}
	}
	return &Store{src: src, device: dev, names: names, used: map[string]bool{}}
}

// Device returns the device the parameters live on.
func (s *Store) Device() device.Device { return s.device }

// Root returns the empty namespace.
func (s *Store) Root() Path { return Path{store: s} }

// Len returns the number of tensors in the underlying source.
func (s *Store) Len() int { return len(s.names) }

// Unused lists source tensors that no lookup has touched.
func (s *Store) Unused() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, name := range s.src.Names() {
		if !s.used[name] {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func (s *Store) has(name string) bool {
	_, ok := s.names[name]
	return ok
}

func (s *Store) read(name string) (*tensor.Tensor, error) {
	data, info, err := s.src.ReadTensorF32(name)
	if err != nil {
		if errors.Is(err, safetensors.ErrTensorNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
		}
		return nil, err
	}
	t, err := tensor.FromData(data, info.Shape...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	s.mu.Lock()
	s.used[name] = true
	s.mu.Unlock()
	return t, nil
}

// Path is a dotted namespace inside a Store, e.g. "bert.encoder.layer.0".
type Path struct {
	store  *Store
	prefix string
}

// Sub returns the child namespace name.
func (p Path) Sub(name string) Path {
	return Path{store: p.store, prefix: p.join(name)}
}

// Subf is Sub with fmt formatting.
func (p Path) Subf(format string, args ...any) Path {
	return p.Sub(fmt.Sprintf(format, args...))
}

// Name returns the fully qualified name of a parameter in this namespace.
func (p Path) Name(name string) string { return p.join(name) }

// String returns the namespace prefix.
func (p Path) String() string { return p.prefix }

// Device returns the device of the backing store.
func (p Path) Device() device.Device { return p.store.device }

// Has reports whether name exists in this namespace.
func (p Path) Has(name string) bool { return p.store.has(p.join(name)) }

// Tensor loads a parameter of any rank.
func (p Path) Tensor(name string) (*tensor.Tensor, error) {
	return p.store.read(p.join(name))
}

// Vec loads a rank-1 parameter, checking its length when want > 0.
func (p Path) Vec(name string, want int) ([]float32, error) {
	t, err := p.Tensor(name)
	if err != nil {
		return nil, err
	}
	if t.Rank() != 1 || (want > 0 && t.Dim(0) != want) {
		return nil, fmt.Errorf("%s: shape %v, want [%d]", p.join(name), t.Shape, want)
	}
	return t.Data, nil
}

// Mat loads a rank-2 parameter, checking [rows, cols] when they are > 0.
func (p Path) Mat(name string, rows, cols int) (tensor.Mat, error) {
	t, err := p.Tensor(name)
	if err != nil {
		return tensor.Mat{}, err
	}
	m, err := t.Mat()
	if err != nil {
		return tensor.Mat{}, fmt.Errorf("%s: %w", p.join(name), err)
	}
	if (rows > 0 && m.R != rows) || (cols > 0 && m.C != cols) {
		return tensor.Mat{}, fmt.Errorf("%s: shape [%d %d], want [%d %d]", p.join(name), m.R, m.C, rows, cols)
	}
	return m, nil
}

// VecAny loads the first rank-1 parameter that exists among names.
func (p Path) VecAny(want int, names ...string) ([]float32, error) {
	for _, name := range names {
		if p.Has(name) {
			return p.Vec(name, want)
		}
	}
	return nil, p.missing(names)
}

// MatAny loads the first rank-2 parameter that exists among names.
func (p Path) MatAny(rows, cols int, names ...string) (tensor.Mat, error) {
	for _, name := range names {
		if p.Has(name) {
			return p.Mat(name, rows, cols)
		}
	}
	return tensor.Mat{}, p.missing(names)
}

func (p Path) missing(names []string) error {
	full := make([]string, len(names))
	for i, n := range names {
		full[i] = p.join(n)
	}
	return fmt.Errorf("%w: %s", ErrTensorNotFound, strings.Join(full, " | "))
}

func (p Path) join(name string) string {
	if p.prefix == "" {
		return name
	}
	if name == "" {
		return p.prefix
	}
	return p.prefix + "." + name
}
