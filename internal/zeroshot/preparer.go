package zeroshot

import (
	"fmt"

	"github.com/samcharles93/zeroshot/internal/device"
	"github.com/samcharles93/zeroshot/internal/tensor"
	"github.com/samcharles93/zeroshot/internal/tokenizer"
)

// PairEncoder is the tokenizer surface the engine needs.
type PairEncoder interface {
	EncodePairList(pairs []tokenizer.Pair, maxLen int, strategy tokenizer.TruncationStrategy, stride int) ([]tokenizer.Encoding, error)
	PadID() (int64, bool)
}

// preparer turns inputs and labels into a padded premise/hypothesis batch.
type preparer struct {
	tok    PairEncoder
	device device.Device
}

// hypotheses applies tmpl, or DefaultTemplate when tmpl is nil.
func hypotheses(labels []string, tmpl Template) []string {
	if tmpl == nil {
		tmpl = DefaultTemplate
	}
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = tmpl(l)
	}
	return out
}

// pairs builds the input-major cross product: row i*len(hyps)+j pairs
// input i with hypothesis j.
func pairs(inputs, hyps []string) []tokenizer.Pair {
	out := make([]tokenizer.Pair, 0, len(inputs)*len(hyps))
	for _, in := range inputs {
		for _, h := range hyps {
			out = append(out, tokenizer.Pair{First: in, Second: h})
		}
	}
	return out
}

// prepare returns ids and mask of shape [len(inputs)*len(labels), padded].
func (p preparer) prepare(inputs, labels []string, tmpl Template, maxLen int) (*tensor.Tokens, *tensor.Mask, error) {
	if len(inputs) == 0 {
		return nil, nil, ErrEmptyInputs
	}
	if len(labels) == 0 {
		return nil, nil, ErrEmptyLabels
	}
	pad, ok := p.tok.PadID()
	if !ok {
		return nil, nil, ErrMissingPadToken
	}

	encodings, err := p.tok.EncodePairList(pairs(inputs, hypotheses(labels, tmpl)), maxLen, tokenizer.LongestFirst, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("tokenize: %w", err)
	}
	rows := make([][]int64, len(encodings))
	for i, enc := range encodings {
		rows[i] = enc.IDs
	}
	ids := tensor.PadRows(rows, pad)
	if ids.Device != p.device {
		ids = ids.To(p.device)
	}
	return ids, ids.NotEqual(pad), nil
}
