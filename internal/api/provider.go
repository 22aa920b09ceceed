package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/samcharles93/zeroshot/internal/device"
	"github.com/samcharles93/zeroshot/internal/logger"
	"github.com/samcharles93/zeroshot/internal/metrics"
	"github.com/samcharles93/zeroshot/internal/model"
	"github.com/samcharles93/zeroshot/internal/zeroshot"
)

// Classifier is the part of zeroshot.Engine the service needs.
type Classifier interface {
	ModelType() model.ModelType
	PredictScores(inputs, labels []string, tmpl zeroshot.Template, maxLen int) ([][]float64, error)
	PredictMultiLabel(inputs, labels []string, tmpl zeroshot.Template, maxLen int) ([][]zeroshot.Label, error)
}

// Loader builds a classifier from a model directory.
type Loader func(ctx context.Context, dir string) (Classifier, error)

// DirLoader loads Hugging Face style model directories onto dev.
func DirLoader(dev device.Device) Loader {
	return func(ctx context.Context, dir string) (Classifier, error) {
		cfg, err := zeroshot.ConfigFromDir(dir, "")
		if err != nil {
			return nil, err
		}
		cfg.Device = dev
		e, err := zeroshot.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

type ModelProvider interface {
	WithModel(ctx context.Context, modelID string, fn func(name string, c Classifier) error) error
}

type ProviderConfig struct {
	DefaultModelPath string
	ModelsPath       string
	// MaxConcurrent bounds predictions running at once across all models.
	// Zero means one.
	MaxConcurrent int64
	Loader        Loader
	Metrics       *metrics.Collectors
}

// CachedModelProvider loads each model directory once and keeps it for the
// life of the process.
type CachedModelProvider struct {
	cfg   ProviderConfig
	sem   *semaphore.Weighted
	loads singleflight.Group
	mu    sync.Mutex
	cache map[string]Classifier
}

const envModelsDir = "ZEROSHOT_MODELS_DIR"

func NewCachedModelProvider(cfg ProviderConfig) *CachedModelProvider {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &CachedModelProvider{
		cfg:   cfg,
		sem:   semaphore.NewWeighted(cfg.MaxConcurrent),
		cache: make(map[string]Classifier),
	}
}

func (p *CachedModelProvider) WithModel(ctx context.Context, modelID string, fn func(name string, c Classifier) error) error {
	path, err := p.resolveModelPath(modelID)
	if err != nil {
		return err
	}
	c, err := p.getOrLoad(ctx, path)
	if err != nil {
		return err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(filepath.Base(path), c)
}

func (p *CachedModelProvider) getOrLoad(ctx context.Context, path string) (Classifier, error) {
	p.mu.Lock()
	c, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return c, nil
	}
	if p.cfg.Loader == nil {
		return nil, fmt.Errorf("no model loader configured")
	}

	// A canceled request must not fail the callers waiting on the same load.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := p.loads.Do(path, func() (any, error) {
		p.mu.Lock()
		existing, ok := p.cache[path]
		p.mu.Unlock()
		if ok {
			return existing, nil
		}
		start := time.Now()
		loaded, err := p.cfg.Loader(loadCtx, path)
		if err != nil {
			return nil, fmt.Errorf("load model %s: %w", filepath.Base(path), err)
		}
		elapsed := time.Since(start)
		p.cfg.Metrics.ObserveLoad(string(loaded.ModelType()), elapsed)
		logger.FromContext(ctx).Info("model ready", "model", filepath.Base(path), "model_type", loaded.ModelType(), "elapsed", elapsed)

		p.mu.Lock()
		p.cache[path] = loaded
		p.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Classifier), nil
}

func (p *CachedModelProvider) resolveModelPath(modelID string) (string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID != "" {
		if strings.ContainsRune(modelID, filepath.Separator) {
			dir := filepath.Clean(modelID)
			if !isModelDir(dir) {
				return "", invalidParam("model", "model directory %q not found", modelID)
			}
			return dir, nil
		}
		if p.cfg.DefaultModelPath != "" && filepath.Base(p.cfg.DefaultModelPath) == modelID {
			return filepath.Clean(p.cfg.DefaultModelPath), nil
		}
		modelsDir := p.modelsDir()
		if modelsDir == "" {
			return "", invalidParam("model", "models-path is required to resolve model %q", modelID)
		}
		if cand := filepath.Join(modelsDir, modelID); isModelDir(cand) {
			return cand, nil
		}
		return "", invalidParam("model", "model %q not found in %s", modelID, modelsDir)
	}

	if p.cfg.DefaultModelPath != "" {
		return filepath.Clean(p.cfg.DefaultModelPath), nil
	}
	modelsDir := p.modelsDir()
	if modelsDir == "" {
		return "", invalidParam("model", "model is required")
	}
	models, err := discoverModels(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 1:
		return models[0], nil
	case 0:
		return "", fmt.Errorf("no model directories found in %s", modelsDir)
	}
	return "", invalidParam("model", "multiple models found in %s; specify model", modelsDir)
}

func (p *CachedModelProvider) modelsDir() string {
	if dir := strings.TrimSpace(p.cfg.ModelsPath); dir != "" {
		return dir
	}
	return strings.TrimSpace(os.Getenv(envModelsDir))
}

// ListModels reports every model directory the provider can serve, sorted by
// id.
func (p *CachedModelProvider) ListModels() ([]ModelInfo, error) {
	var dirs []string
	if modelsDir := p.modelsDir(); modelsDir != "" {
		found, err := discoverModels(modelsDir)
		if err != nil {
			return nil, err
		}
		dirs = found
	}
	if p.cfg.DefaultModelPath != "" {
		def := filepath.Clean(p.cfg.DefaultModelPath)
		if !slices.Contains(dirs, def) {
			dirs = append(dirs, def)
		}
	}

	out := make([]ModelInfo, 0, len(dirs))
	for _, dir := range dirs {
		out = append(out, ModelInfo{
			ID:        filepath.Base(dir),
			Object:    "model",
			ModelType: detectModelType(dir),
		})
	}
	slices.SortFunc(out, func(a, b ModelInfo) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// DiscoverModels returns the model directories directly under dir.
func DiscoverModels(dir string) ([]ModelInfo, error) {
	p := NewCachedModelProvider(ProviderConfig{ModelsPath: dir})
	return p.ListModels()
}

func discoverModels(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		cand := filepath.Join(dir, e.Name())
		if isModelDir(cand) {
			models = append(models, cand)
		}
	}
	return models, nil
}

func isModelDir(dir string) bool {
	st, err := os.Stat(filepath.Join(dir, "config.json"))
	return err == nil && !st.IsDir()
}

// detectModelType returns the model_type tag from dir/config.json, or ""
// when it cannot be read.
func detectModelType(dir string) string {
	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return ""
	}
	t, err := model.DetectModelType(raw)
	if err != nil {
		return ""
	}
	return string(t)
}
