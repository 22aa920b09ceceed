package api

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/samcharles93/zeroshot/internal/metrics"
)

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writeModel creates dir/name/config.json declaring modelType.
func writeModel(t *testing.T, dir, name, modelType string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	mustWriteFile(t, filepath.Join(p, "config.json"), `{"model_type":"`+modelType+`"}`)
	return p
}

type countingLoader struct {
	loads atomic.Int32
	err   error
}

func (l *countingLoader) load(ctx context.Context, dir string) (Classifier, error) {
	l.loads.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return topicClassifier(), nil
}

func TestCachedModelProviderListModelsFromDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeModel(t, dir, "beta", "bart")
	writeModel(t, dir, "alpha", "bert")
	mustWriteFile(t, filepath.Join(dir, "notes.txt"), "x")
	if err := os.Mkdir(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	provider := NewCachedModelProvider(ProviderConfig{ModelsPath: dir})
	models, err := provider.ListModels()
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	want := []ModelInfo{
		{ID: "alpha", Object: "model", ModelType: "bert"},
		{ID: "beta", Object: "model", ModelType: "bart"},
	}
	if !reflect.DeepEqual(models, want) {
		t.Fatalf("ListModels() = %v, want %v", models, want)
	}
}

func TestCachedModelProviderListModelsIncludesDefaultModel(t *testing.T) {
	t.Parallel()

	provider := NewCachedModelProvider(ProviderConfig{DefaultModelPath: "/models/custom-model"})
	models, err := provider.ListModels()
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	want := []ModelInfo{{ID: "custom-model", Object: "model"}}
	if !reflect.DeepEqual(models, want) {
		t.Fatalf("ListModels() = %v, want %v", models, want)
	}
}

func TestResolveModelPath(t *testing.T) {
	t.Parallel()

	single := t.TempDir()
	only := writeModel(t, single, "only", "bert")
	many := t.TempDir()
	writeModel(t, many, "a", "bert")
	b := writeModel(t, many, "b", "bart")

	tests := []struct {
		name    string
		cfg     ProviderConfig
		id      string
		want    string
		invalid bool
	}{
		{"single discovered", ProviderConfig{ModelsPath: single}, "", only, false},
		{"by name", ProviderConfig{ModelsPath: many}, "b", b, false},
		{"by path", ProviderConfig{}, b, b, false},
		{"default", ProviderConfig{DefaultModelPath: only}, "", only, false},
		{"default by name", ProviderConfig{DefaultModelPath: only, ModelsPath: many}, "only", only, false},
		{"ambiguous", ProviderConfig{ModelsPath: many}, "", "", true},
		{"unknown name", ProviderConfig{ModelsPath: many}, "c", "", true},
		{"unknown path", ProviderConfig{}, filepath.Join(many, "c"), "", true},
		{"nothing configured", ProviderConfig{ModelsPath: " "}, "x", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewCachedModelProvider(tc.cfg).resolveModelPath(tc.id)
			if tc.invalid {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Fatalf("got %q, %v want an invalid request", got, err)
				}
				if errorParam(err) != "model" {
					t.Fatalf("param: got %q want model", errorParam(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveModelPath: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestWithModelLoadsOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeModel(t, dir, "m", "bart")
	loader := &countingLoader{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	provider := NewCachedModelProvider(ProviderConfig{ModelsPath: dir, MaxConcurrent: 4, Loader: loader.load, Metrics: m})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- provider.WithModel(context.Background(), "m", func(name string, c Classifier) error {
				if name != "m" {
					return errors.New("wrong model name " + name)
				}
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("WithModel: %v", err)
		}
	}
	if got := loader.loads.Load(); got != 1 {
		t.Fatalf("loads: got %d want 1", got)
	}
	if got := testutil.ToFloat64(m.LoadedModels); got != 1 {
		t.Fatalf("loaded models gauge: got %v want 1", got)
	}
}

func TestWithModelLoaderErrorNotCached(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeModel(t, dir, "m", "bart")
	boom := errors.New("boom")
	loader := &countingLoader{err: boom}
	provider := NewCachedModelProvider(ProviderConfig{ModelsPath: dir, Loader: loader.load})

	for range 2 {
		err := provider.WithModel(context.Background(), "m", func(string, Classifier) error { return nil })
		if !errors.Is(err, boom) {
			t.Fatalf("got %v want boom", err)
		}
	}
	if got := loader.loads.Load(); got != 2 {
		t.Fatalf("loads: got %d want 2", got)
	}
}

func TestWithModelBoundsConcurrency(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeModel(t, dir, "m", "bart")
	loader := &countingLoader{}
	provider := NewCachedModelProvider(ProviderConfig{ModelsPath: dir, MaxConcurrent: 2, Loader: loader.load})

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = provider.WithModel(context.Background(), "m", func(string, Classifier) error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency %d exceeds limit 2", got)
	}
}

func TestWithModelCanceledContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeModel(t, dir, "m", "bart")
	provider := NewCachedModelProvider(ProviderConfig{ModelsPath: dir, Loader: (&countingLoader{}).load})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := provider.WithModel(ctx, "m", func(string, Classifier) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v want context.Canceled", err)
	}
	if called {
		t.Fatalf("callback ran on a canceled context")
	}
}

func TestDiscoverModels(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeModel(t, dir, "roberta-mnli", "roberta")
	writeModel(t, dir, "weird", "not-a-model")
	got, err := DiscoverModels(dir)
	if err != nil {
		t.Fatalf("DiscoverModels: %v", err)
	}
	want := []ModelInfo{
		{ID: "roberta-mnli", Object: "model", ModelType: "roberta"},
		{ID: "weird", Object: "model"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if _, err := DiscoverModels(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
