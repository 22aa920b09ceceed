package zeroshot

import (
	"errors"
	"fmt"

	"github.com/samcharles93/zeroshot/internal/model"
)

var (
	// ErrConfigMismatch is returned when an architecture config does not
	// have the shape the selected model type needs.
	ErrConfigMismatch = errors.New("configuration mismatch")
	// ErrUnsupportedModel is returned for model types without a zero-shot
	// network. It matches ErrConfigMismatch as well.
	ErrUnsupportedModel = fmt.Errorf("%w: unsupported model type", ErrConfigMismatch)
	// ErrMissingPadToken is returned when the tokenizer defines no padding
	// token, so batches cannot be padded.
	ErrMissingPadToken = errors.New("the tokenizer used for zero shot classification should contain a PAD id")
	ErrEmptyInputs     = errors.New("no inputs to classify")
	ErrEmptyLabels     = errors.New("no candidate labels")
	// ErrForward wraps failures of the underlying network.
	ErrForward = errors.New("forward pass failed")
)

// configError keeps the user facing message while matching the sentinels.
type configError struct {
	msg         string
	unsupported bool
}

func (e *configError) Error() string { return e.msg }

func (e *configError) Is(target error) bool {
	return target == ErrConfigMismatch || (e.unsupported && target == ErrUnsupportedModel)
}

func mismatch(shape string, t model.ModelType) error {
	article := "a"
	switch shape[0] {
	case 'A', 'E', 'I', 'O', 'U', 'X':
		article = "an"
	}
	return &configError{msg: fmt.Sprintf("You can only supply %s %s for %s!", article, shape, t)}
}

func unsupported(t model.ModelType) error {
	return &configError{
		msg:         fmt.Sprintf("Zero shot classification not implemented for %s!", t),
		unsupported: true,
	}
}

// forwardError marks err as a network failure.
func forwardError(err error) error {
	return fmt.Errorf("%w: %w", ErrForward, err)
}
