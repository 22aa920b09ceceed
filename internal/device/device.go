// Package device selects where model parameters and token batches live.
//
// Only the CPU runtime ships in this build. Requests for an accelerator are
// accepted by name so configuration files stay portable, but resolve to an
// error (explicit "cuda") or to the CPU ("auto").
package device

import (
	"errors"
	"fmt"
	"strings"
)

// Device names a compute device.
type Device string

const (
	CPU  Device = "cpu"
	CUDA Device = "cuda"
	Auto Device = "auto"
)

// ErrUnavailable is returned when a requested device is not compiled in.
var ErrUnavailable = errors.New("device unavailable")

// Normalize canonicalizes a user supplied device name. An empty name means Auto.
func Normalize(name string) (Device, error) {
	d := strings.ToLower(strings.TrimSpace(name))
	switch d {
	case "":
		return Auto, nil
	case "cuda_if_available", "cuda-if-available":
		return Auto, nil
	case string(CPU), string(CUDA), string(Auto):
		return Device(d), nil
	default:
		return "", fmt.Errorf("unknown device %q (expected auto, cpu, or cuda)", name)
	}
}

// Resolve maps a selector onto a concrete device available in this build.
func Resolve(d Device) (Device, error) {
	switch d {
	case Auto, "":
		if Has(CUDA) {
			return CUDA, nil
		}
		return CPU, nil
	case CPU:
		return CPU, nil
	case CUDA:
		if !Has(CUDA) {
			return "", fmt.Errorf("%w: %s", ErrUnavailable, d)
		}
		return CUDA, nil
	default:
		return "", fmt.Errorf("unknown device %q", d)
	}
}

// Has reports whether the device can run inference in this build.
func Has(d Device) bool {
	return d == CPU
}

// Available returns a comma-separated list of available devices.
func Available() string {
	entries := []string{string(CPU)}
	if Has(CUDA) {
		entries = append(entries, string(CUDA))
	}
	return strings.Join(entries, ",")
}
