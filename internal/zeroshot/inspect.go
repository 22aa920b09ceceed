package zeroshot

import (
	"context"
	"fmt"
	"slices"

	"github.com/samcharles93/zeroshot/internal/model"
	"github.com/samcharles93/zeroshot/internal/resource"
	"github.com/samcharles93/zeroshot/internal/safetensors"
)

// Summary describes a model's artifacts without building the network.
type Summary struct {
	ModelType   model.ModelType
	ConfigShape string
	Labels      []string
	Tensors     int
	Parameters  int64
	// DTypes counts tensors per stored dtype.
	DTypes    map[string]int
	VocabSize int
	PadID     int64
	HasPad    bool
}

// Inspect resolves cfg's resources and reports what New would load.
func Inspect(ctx context.Context, cfg Config) (*Summary, error) {
	if !Supported(cfg.ModelType) {
		return nil, unsupported(cfg.ModelType)
	}
	cfgPath, err := resource.ResolveOptional(ctx, cfg.ArchConfig)
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	vocab, err := resource.ResolveOptional(ctx, cfg.Vocab)
	if err != nil {
		return nil, fmt.Errorf("resolve vocab: %w", err)
	}
	merges, err := resource.ResolveOptional(ctx, cfg.Merges)
	if err != nil {
		return nil, fmt.Errorf("resolve merges: %w", err)
	}
	weights, err := resource.ResolveOptional(ctx, cfg.Weights)
	if err != nil {
		return nil, fmt.Errorf("resolve weights: %w", err)
	}

	s := &Summary{ModelType: cfg.ModelType, DTypes: make(map[string]int)}
	if cfgPath != "" {
		arch, err := model.LoadConfigFile(cfg.ModelType, cfgPath)
		if err != nil {
			return nil, err
		}
		s.ConfigShape = model.ShapeName(arch)
		s.Labels = arch.Labels()
	}
	if vocab != "" {
		tok, err := loadTokenizer(cfg, vocab, merges)
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
		s.VocabSize = tok.VocabSize()
		s.PadID, s.HasPad = tok.PadID()
	}
	if weights != "" {
		r, err := safetensors.OpenAny(weights)
		if err != nil {
			return nil, fmt.Errorf("open weights: %w", err)
		}
		defer func() { _ = r.Close() }()
		for _, name := range r.Names() {
			info, ok := r.Tensor(name)
			if !ok {
				continue
			}
			s.Tensors++
			s.DTypes[info.DType]++
			n := int64(1)
			for _, d := range info.Shape {
				n *= int64(d)
			}
			s.Parameters += n
		}
	}
	return s, nil
}

// SortedDTypes returns the dtype names in s.DTypes in a stable order.
func (s *Summary) SortedDTypes() []string {
	out := make([]string, 0, len(s.DTypes))
	for k := range s.DTypes {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
