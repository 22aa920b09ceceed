package params

import (
	"errors"
	"testing"

	"github.com/samcharles93/zeroshot/internal/device"
)

func TestPathNamespaces(t *testing.T) {
	t.Parallel()
	mem := NewMemory()
	mem.Set("bert.encoder.layer.0.attention.self.query.weight", []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	mem.Set("bert.embeddings.LayerNorm.gamma", []float32{1, 1, 1}, 3)
	mem.Set("classifier.bias", []float32{0, 0}, 2)

	store := NewStore(mem, device.CPU)
	root := store.Root()
	layer := root.Sub("bert").Subf("encoder.layer.%d", 0)
	if got := layer.Name("attention.self.query.weight"); got != "bert.encoder.layer.0.attention.self.query.weight" {
		t.Fatalf("Name()=%q", got)
	}

	w, err := layer.Sub("attention.self.query").Mat("weight", 2, 3)
	if err != nil {
		t.Fatalf("Mat: %v", err)
	}
	if w.At(1, 2) != 6 {
		t.Fatalf("w[1][2]=%v want 6", w.At(1, 2))
	}
	if _, err := layer.Sub("attention.self.query").Mat("weight", 3, 2); err == nil {
		t.Fatal("expected shape error")
	}

	ln := root.Sub("bert.embeddings.LayerNorm")
	g, err := ln.VecAny(3, "weight", "gamma")
	if err != nil || len(g) != 3 {
		t.Fatalf("VecAny=%v,%v", g, err)
	}
	if _, err := ln.VecAny(3, "bias", "beta"); !errors.Is(err, ErrTensorNotFound) {
		t.Fatalf("err=%v want ErrTensorNotFound", err)
	}
	if _, err := root.Vec("missing", 0); !errors.Is(err, ErrTensorNotFound) {
		t.Fatalf("err=%v want ErrTensorNotFound", err)
	}

	unused := store.Unused()
	if len(unused) != 1 || unused[0] != "classifier.bias" {
		t.Fatalf("Unused()=%v want [classifier.bias]", unused)
	}
	if store.Len() != 3 || root.Device() != device.CPU {
		t.Fatalf("Len()=%d Device()=%q", store.Len(), root.Device())
	}
}
