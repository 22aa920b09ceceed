package safetensors

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/goccy/go-json"
)

// Reader is the read surface shared by single files and sharded checkpoints.
type Reader interface {
	Names() []string
	Tensor(name string) (TensorInfo, bool)
	ReadTensorF32(name string) ([]float32, TensorInfo, error)
	Close() error
}

// Shards is a checkpoint split across several files and described by a
// model.safetensors.index.json weight map.
type Shards struct {
	files  []*File
	byName map[string]*File
}

type shardIndex struct {
	WeightMap map[string]string `json:"weight_map"`
}

// OpenShards opens every shard named by the index file at indexPath.
func OpenShards(indexPath string) (*Shards, error) {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, err
	}
	var idx shardIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", indexPath, err)
	}
	if len(idx.WeightMap) == 0 {
		return nil, fmt.Errorf("%s: empty weight_map", indexPath)
	}

	dir := filepath.Dir(indexPath)
	s := &Shards{byName: make(map[string]*File, len(idx.WeightMap))}
	opened := map[string]*File{}
	for name, shard := range idx.WeightMap {
		f, ok := opened[shard]
		if !ok {
			f, err = Open(filepath.Join(dir, shard))
			if err != nil {
				_ = s.Close()
				return nil, fmt.Errorf("open shard %s: %w", shard, err)
			}
			opened[shard] = f
			s.files = append(s.files, f)
		}
		if _, ok := f.Tensors[name]; !ok {
			_ = s.Close()
			return nil, fmt.Errorf("shard %s: %w: %s", shard, ErrTensorNotFound, name)
		}
		s.byName[name] = f
	}
	return s, nil
}

// OpenAny opens either a sharded index (*.index.json) or a single file.
func OpenAny(path string) (Reader, error) {
	if strings.HasSuffix(path, ".index.json") {
		return OpenShards(path)
	}
	return Open(path)
}

func (s *Shards) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Shards) Tensor(name string) (TensorInfo, bool) {
	f, ok := s.byName[name]
	if !ok {
		return TensorInfo{}, false
	}
	return f.Tensor(name)
}

func (s *Shards) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	f, ok := s.byName[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return f.ReadTensorF32(name)
}

func (s *Shards) Close() error {
	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}
	s.files = nil
	return errors.Join(errs...)
}
