package device

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Device
		wantErr bool
	}{
		{"", Auto, false},
		{"CPU", CPU, false},
		{" cuda ", CUDA, false},
		{"cuda_if_available", Auto, false},
		{"tpu", "", true},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("Normalize(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("Normalize(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	got, err := Resolve(Auto)
	if err != nil || got != CPU {
		t.Fatalf("Resolve(auto)=%q,%v want cpu", got, err)
	}
	if _, err := Resolve(CUDA); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Resolve(cuda) err=%v want ErrUnavailable", err)
	}
	if !strings.Contains(Available(), "cpu") {
		t.Fatalf("Available()=%q missing cpu", Available())
	}
	if Features() == "" {
		t.Fatal("Features() empty")
	}
}
