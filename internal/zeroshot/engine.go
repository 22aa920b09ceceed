// Package zeroshot classifies text against arbitrary candidate labels by
// asking an NLI model whether each input entails a hypothesis built from
// each label.
package zeroshot

import (
	"fmt"
	"math"

	"github.com/samcharles93/zeroshot/internal/device"
	"github.com/samcharles93/zeroshot/internal/model"
	"github.com/samcharles93/zeroshot/internal/tensor"
)

// Engine runs zero-shot predictions over a loaded model. It holds no mutable
// state and may be shared by goroutines.
type Engine struct {
	prep preparer
	net  Classifier
}

// NewEngine pairs a tokenizer with a classifier whose parameters live on dev.
func NewEngine(tok PairEncoder, net Classifier, dev device.Device) *Engine {
	return &Engine{prep: preparer{tok: tok, device: dev}, net: net}
}

// ModelType returns the family of the underlying network.
func (e *Engine) ModelType() model.ModelType { return e.net.ModelType() }

// Device returns the device token batches are placed on.
func (e *Engine) Device() device.Device { return e.prep.device }

// logits runs one forward pass over the cross product and returns logits
// shaped [inputs, labels, classes].
func (e *Engine) logits(inputs, labels []string, tmpl Template, maxLen int) (*tensor.Tensor, error) {
	ids, mask, err := e.prep.prepare(inputs, labels, tmpl, maxLen)
	if err != nil {
		return nil, err
	}
	out, err := e.forward(ids, mask)
	if err != nil {
		return nil, err
	}
	if out.Rank() != 2 || out.Dim(0) != len(inputs)*len(labels) {
		return nil, forwardError(fmt.Errorf("logits shape %v, want [%d, classes]", out.Shape, len(inputs)*len(labels)))
	}
	if out.Dim(1) < 2 {
		return nil, forwardError(fmt.Errorf("logits have %d classes, need at least contradiction and entailment", out.Dim(1)))
	}
	return out.Reshape(len(inputs), len(labels), -1)
}

func (e *Engine) forward(ids *tensor.Tokens, mask *tensor.Mask) (out *tensor.Tensor, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, forwardError(fmt.Errorf("panic in forward pass: %v", rec))
		}
	}()
	out, err = e.net.Forward(ids, mask, nil, nil, nil, false)
	if err != nil {
		return nil, forwardError(err)
	}
	if out == nil {
		return nil, forwardError(fmt.Errorf("network returned no logits"))
	}
	return out, nil
}

// PredictScores returns, per input, the softmax over labels of each label's
// entailment logit. Every row sums to 1.
func (e *Engine) PredictScores(inputs, labels []string, tmpl Template, maxLen int) ([][]float64, error) {
	logits, err := e.logits(inputs, labels, tmpl, maxLen)
	if err != nil {
		return nil, err
	}
	classes := logits.Dim(2)
	scores := make([][]float64, len(inputs))
	for i := range inputs {
		row := make([]float64, len(labels))
		for j := range labels {
			row[j] = float64(logits.At(i, j, classes-1))
		}
		softmax(row)
		scores[i] = row
	}
	return scores, nil
}

// Predict picks the single most likely label for every input. Ties go to
// the label listed first.
func (e *Engine) Predict(inputs, labels []string, tmpl Template, maxLen int) ([]Label, error) {
	scores, err := e.PredictScores(inputs, labels, tmpl, maxLen)
	if err != nil {
		return nil, err
	}
	out := make([]Label, len(inputs))
	for i, row := range scores {
		best := 0
		for j := 1; j < len(row); j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		out[i] = Label{Text: labels[best], Score: row[best], ID: best, Sentence: i}
	}
	return out, nil
}

// PredictMultiLabel scores every label independently: the entailment
// probability of a softmax over the contradiction and entailment logits.
// Neutral classes in between are ignored.
func (e *Engine) PredictMultiLabel(inputs, labels []string, tmpl Template, maxLen int) ([][]Label, error) {
	logits, err := e.logits(inputs, labels, tmpl, maxLen)
	if err != nil {
		return nil, err
	}
	classes := logits.Dim(2)
	out := make([][]Label, len(inputs))
	for i := range inputs {
		row := make([]Label, len(labels))
		for j, text := range labels {
			contra := float64(logits.At(i, j, 0))
			entail := float64(logits.At(i, j, classes-1))
			row[j] = Label{Text: text, Score: sigmoid(entail - contra), ID: j, Sentence: i}
		}
		out[i] = row
	}
	return out, nil
}

// softmax normalizes x in place.
func softmax(x []float64) {
	maxV := math.Inf(-1)
	for _, v := range x {
		maxV = max(maxV, v)
	}
	sum := 0.0
	for i, v := range x {
		x[i] = math.Exp(v - maxV)
		sum += x[i]
	}
	for i := range x {
		x[i] /= sum
	}
}

// sigmoid(e-c) equals the entailment branch of a two-way softmax over
// {c, e}.
func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	z := math.Exp(x)
	return z / (1 + z)
}
