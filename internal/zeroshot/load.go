package zeroshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/zeroshot/internal/device"
	"github.com/samcharles93/zeroshot/internal/logger"
	"github.com/samcharles93/zeroshot/internal/model"
	"github.com/samcharles93/zeroshot/internal/params"
	"github.com/samcharles93/zeroshot/internal/resource"
	"github.com/samcharles93/zeroshot/internal/safetensors"
	"github.com/samcharles93/zeroshot/internal/tokenizer"
)

// New resolves the artifacts named by cfg, builds the tokenizer and network
// and returns a ready Engine. No partially built engine is returned on error.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	log := logger.FromContext(ctx).With("model_type", cfg.ModelType)
	start := time.Now()

	if !Supported(cfg.ModelType) {
		return nil, unsupported(cfg.ModelType)
	}
	if cfg.Weights == nil || cfg.ArchConfig == nil || cfg.Vocab == nil {
		return nil, fmt.Errorf("config needs weights, architecture config and vocabulary resources")
	}
	dev, err := device.Resolve(cfg.Device)
	if err != nil {
		return nil, err
	}

	paths := make(map[string]string, 4)
	for _, r := range []struct {
		name string
		res  resource.Resource
	}{
		{"config", cfg.ArchConfig},
		{"vocab", cfg.Vocab},
		{"merges", cfg.Merges},
		{"weights", cfg.Weights},
	} {
		p, err := resource.ResolveOptional(ctx, r.res)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", r.name, err)
		}
		paths[r.name] = p
	}
	log.Debug("resolved resources", "config", paths["config"], "vocab", paths["vocab"], "merges", paths["merges"], "weights", paths["weights"])

	tok, err := loadTokenizer(cfg, paths["vocab"], paths["merges"])
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	if _, ok := tok.PadID(); !ok {
		return nil, ErrMissingPadToken
	}

	archCfg, err := model.LoadConfigFile(cfg.ModelType, paths["config"])
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	checkLabelMap(log, archCfg.Labels())

	src, err := safetensors.OpenAny(paths["weights"])
	if err != nil {
		return nil, fmt.Errorf("open weights: %w", err)
	}
	// Parameters are decoded into fresh slices, so the file can be closed
	// once the network is built.
	defer src.Close()

	store := params.NewStore(src, dev)
	adapter, err := NewAdapter(cfg.ModelType, store.Root(), archCfg)
	if err != nil {
		return nil, err
	}
	if unused := store.Unused(); len(unused) > 0 {
		log.Debug("checkpoint tensors not used by the network", "count", len(unused), "first", unused[0])
	}

	log.Info("loaded zero-shot model",
		"device", dev,
		"cpu", device.Features(),
		"tensors", store.Len(),
		"vocab_size", tok.VocabSize(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return NewEngine(tok, adapter, dev), nil
}

func loadTokenizer(cfg Config, vocab, merges string) (*tokenizer.Tokenizer, error) {
	opts := tokenizer.Options{
		LowerCase:      cfg.LowerCase,
		StripAccents:   cfg.StripAccents,
		AddPrefixSpace: cfg.AddPrefixSpace,
	}
	switch cfg.ModelType {
	case model.Bert, model.DistilBert, model.MobileBert:
		return tokenizer.LoadBert(vocab, opts)
	case model.Roberta, model.Bart, model.Longformer:
		return tokenizer.LoadRoberta(vocab, merges, opts)
	case model.Albert:
		return tokenizer.LoadAlbert(vocab, opts)
	case model.XLNet:
		return tokenizer.LoadXLNet(vocab, opts)
	case model.XLMRoberta:
		return tokenizer.LoadXLMRoberta(vocab, opts)
	default:
		return nil, unsupported(cfg.ModelType)
	}
}

// checkLabelMap warns when id2label disagrees with the fixed class layout:
// contradiction first, entailment last.
func checkLabelMap(log logger.Logger, labels []string) {
	if len(labels) == 0 {
		return
	}
	if len(labels) < 2 {
		log.Warn("classifier has fewer than two classes", "labels", labels)
		return
	}
	first := strings.ToLower(labels[0])
	last := strings.ToLower(labels[len(labels)-1])
	if !strings.Contains(first, "contradict") || !strings.Contains(last, "entail") {
		log.Warn("id2label does not put contradiction first and entailment last; scores may be inverted", "labels", labels)
	}
}
