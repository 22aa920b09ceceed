package model

import (
	"errors"
	"fmt"

	"github.com/samcharles93/zeroshot/internal/tensor"
)

var (
	// ErrTrainingUnsupported is returned when a forward pass is requested in
	// training mode. The runtime only evaluates networks.
	ErrTrainingUnsupported = errors.New("training mode is not supported")
	// ErrMissingInput is returned when a required input tensor is absent or
	// conflicting inputs are supplied together.
	ErrMissingInput = errors.New("missing model input")
)

// SequenceClassifierOutput is the result of an encoder classification network.
type SequenceClassifierOutput struct {
	// Logits has shape [batch, num_labels].
	Logits *tensor.Tensor
}

// logitsBuilder collects per-sequence logit rows into a [batch, classes] tensor.
type logitsBuilder struct {
	t *tensor.Tensor
}

func newLogits(batch, classes int) logitsBuilder {
	return logitsBuilder{t: tensor.New(batch, classes)}
}

func (l logitsBuilder) set(b int, row []float32) {
	copy(l.t.Row(b), row)
}

func checkTrain(train bool) error {
	if train {
		return fmt.Errorf("forward: %w", ErrTrainingUnsupported)
	}
	return nil
}
