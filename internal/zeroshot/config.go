package zeroshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/samcharles93/zeroshot/internal/device"
	"github.com/samcharles93/zeroshot/internal/model"
	"github.com/samcharles93/zeroshot/internal/resource"
)

// Config selects a model family and the artifacts to load it from. It is
// read once by New and never mutated.
type Config struct {
	ModelType model.ModelType
	// Weights is a model.safetensors file or a sharded index.
	Weights resource.Resource
	// ArchConfig is the Hugging Face config.json.
	ArchConfig resource.Resource
	// Vocab is vocab.txt, vocab.json or a SentencePiece model depending
	// on the family.
	Vocab resource.Resource
	// Merges is required for byte-level BPE families only.
	Merges resource.Resource

	LowerCase      bool
	StripAccents   *bool
	AddPrefixSpace *bool
	Device         device.Device
}

const defaultRepo = "facebook/bart-large-mnli"

// DefaultConfig returns the BART-large-MNLI checkpoint from the Hugging
// Face hub.
func DefaultConfig() Config {
	return Config{
		ModelType:  model.Bart,
		Weights:    resource.Hub(defaultRepo, "model.safetensors"),
		ArchConfig: resource.Hub(defaultRepo, "config.json"),
		Vocab:      resource.Hub(defaultRepo, "vocab.json"),
		Merges:     resource.Hub(defaultRepo, "merges.txt"),
		LowerCase:  false,
		Device:     device.Auto,
	}
}

// vocabFiles lists the tokenizer files each family ships with, in probe
// order.
func vocabFiles(t model.ModelType) []string {
	switch t {
	case model.Bert, model.DistilBert, model.MobileBert:
		return []string{"vocab.txt"}
	case model.Roberta, model.Bart, model.Longformer:
		return []string{"vocab.json"}
	case model.Albert, model.XLNet:
		return []string{"spiece.model"}
	case model.XLMRoberta:
		return []string{"sentencepiece.bpe.model", "spiece.model"}
	default:
		return nil
	}
}

// needsMerges reports whether t uses byte-level BPE.
func needsMerges(t model.ModelType) bool {
	switch t {
	case model.Roberta, model.Bart, model.Longformer:
		return true
	}
	return false
}

// ConfigFromDir builds a Config for a model directory laid out like a
// Hugging Face snapshot. An empty modelType is detected from config.json.
func ConfigFromDir(dir string, modelType model.ModelType) (Config, error) {
	cfgPath := filepath.Join(dir, "config.json")
	if modelType == "" {
		raw, err := os.ReadFile(cfgPath)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", cfgPath, err)
		}
		if modelType, err = model.DetectModelType(raw); err != nil {
			return Config{}, fmt.Errorf("%s: %w", cfgPath, err)
		}
	}
	if !Supported(modelType) {
		return Config{}, unsupported(modelType)
	}

	weights, err := probe(dir, "model.safetensors", "model.safetensors.index.json")
	if err != nil {
		return Config{}, err
	}
	vocab, err := probe(dir, vocabFiles(modelType)...)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		ModelType:  modelType,
		Weights:    resource.Local{Path: weights},
		ArchConfig: resource.Local{Path: cfgPath},
		Vocab:      resource.Local{Path: vocab},
		Device:     device.Auto,
	}
	if needsMerges(modelType) {
		merges, err := probe(dir, "merges.txt")
		if err != nil {
			return Config{}, err
		}
		cfg.Merges = resource.Local{Path: merges}
	}
	if err := applyTokenizerConfig(&cfg, dir); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// tokenizerConfig is the subset of tokenizer_config.json that changes how
// text is normalized.
type tokenizerConfig struct {
	DoLowerCase    *bool `json:"do_lower_case"`
	StripAccents   *bool `json:"strip_accents"`
	AddPrefixSpace *bool `json:"add_prefix_space"`
}

func applyTokenizerConfig(cfg *Config, dir string) error {
	path := filepath.Join(dir, "tokenizer_config.json")
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var tc tokenizerConfig
	if err := json.Unmarshal(raw, &tc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if tc.DoLowerCase != nil {
		cfg.LowerCase = *tc.DoLowerCase
	}
	cfg.StripAccents = tc.StripAccents
	cfg.AddPrefixSpace = tc.AddPrefixSpace
	return nil
}

func probe(dir string, names ...string) (string, error) {
	for _, name := range names {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: none of %v in %s", resource.ErrNotFound, names, dir)
}
