package model

import (
	"fmt"

	"github.com/samcharles93/zeroshot/internal/params"
	"github.com/samcharles93/zeroshot/internal/tensor"
)

const distilBertLayerNormEps = 1e-12

type distilBertLayer struct {
	q, k, v, o linear
	heads      int
	saNorm     layerNorm
	ffn        feedForward
	outNorm    layerNorm
}

func loadDistilBertLayer(p params.Path, cfg *DistilBertConfig, act func(float32) float32) (distilBertLayer, error) {
	var (
		l   distilBertLayer
		err error
	)
	att := p.Sub("attention")
	if l.q, err = loadLinear(att.Sub("q_lin"), cfg.Dim, cfg.Dim); err != nil {
		return l, err
	}
	if l.k, err = loadLinear(att.Sub("k_lin"), cfg.Dim, cfg.Dim); err != nil {
		return l, err
	}
	if l.v, err = loadLinear(att.Sub("v_lin"), cfg.Dim, cfg.Dim); err != nil {
		return l, err
	}
	if l.o, err = loadLinear(att.Sub("out_lin"), cfg.Dim, cfg.Dim); err != nil {
		return l, err
	}
	if l.saNorm, err = loadLayerNorm(p.Sub("sa_layer_norm"), cfg.Dim, distilBertLayerNormEps); err != nil {
		return l, err
	}
	if l.ffn.up, err = loadLinear(p.Sub("ffn.lin1"), cfg.Dim, cfg.HiddenDim); err != nil {
		return l, err
	}
	if l.ffn.down, err = loadLinear(p.Sub("ffn.lin2"), cfg.HiddenDim, cfg.Dim); err != nil {
		return l, err
	}
	l.ffn.act = act
	if l.outNorm, err = loadLayerNorm(p.Sub("output_layer_norm"), cfg.Dim, distilBertLayerNormEps); err != nil {
		return l, err
	}
	l.heads = cfg.NHeads
	return l, nil
}

func (l distilBertLayer) forward(h tensor.Mat, mask []bool) (tensor.Mat, error) {
	ctx, err := attention(l.q.forward(h), l.k.forward(h), l.v.forward(h), l.heads, headScale(l.q.out(), l.heads), keyMask(mask))
	if err != nil {
		return tensor.Mat{}, err
	}
	sa := l.o.forward(ctx)
	l.saNorm.addNorm(sa, h)
	f := l.ffn.forward(sa)
	l.outNorm.addNorm(f, sa)
	return f, nil
}

// DistilBertForSequenceClassification has no token type embeddings and a
// ReLU pre-classifier on the first token.
type DistilBertForSequenceClassification struct {
	words, positions embedding
	norm             layerNorm
	layers           []distilBertLayer
	preClassifier    linear
	classifier       linear
}

func NewDistilBertForSequenceClassification(p params.Path, cfg *DistilBertConfig) (*DistilBertForSequenceClassification, error) {
	act, err := activation(cfg.Activation)
	if err != nil {
		return nil, err
	}
	m := &DistilBertForSequenceClassification{}
	root := p.Sub("distilbert")
	emb := root.Sub("embeddings")
	if m.words, err = loadEmbedding(emb.Sub("word_embeddings"), cfg.Dim); err != nil {
		return nil, err
	}
	if m.positions, err = loadEmbedding(emb.Sub("position_embeddings"), cfg.Dim); err != nil {
		return nil, err
	}
	if m.norm, err = loadLayerNorm(emb.Sub("LayerNorm"), cfg.Dim, distilBertLayerNormEps); err != nil {
		return nil, err
	}
	m.layers = make([]distilBertLayer, cfg.NLayers)
	for i := range m.layers {
		if m.layers[i], err = loadDistilBertLayer(root.Subf("transformer.layer.%d", i), cfg, act); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	if m.preClassifier, err = loadLinear(p.Sub("pre_classifier"), cfg.Dim, cfg.Dim); err != nil {
		return nil, err
	}
	if m.classifier, err = loadLinear(p.Sub("classifier"), cfg.Dim, 0); err != nil {
		return nil, err
	}
	return m, nil
}

// Forward takes no token type or position ids.
func (m *DistilBertForSequenceClassification) Forward(inputIDs *tensor.Tokens, mask *tensor.Mask, inputEmbeds *tensor.Tensor, train bool) (*SequenceClassifierOutput, error) {
	if err := checkTrain(train); err != nil {
		return nil, err
	}
	in, err := newBatchInputs(inputIDs, mask, inputEmbeds, m.words.dim())
	if err != nil {
		return nil, err
	}
	logits := newLogits(in.batch, m.classifier.out())
	positions := make([]int64, in.seqLen)
	for i := range positions {
		positions[i] = int64(i)
	}
	for b := 0; b < in.batch; b++ {
		h, err := in.tokenEmbeddings(b, m.words)
		if err != nil {
			return nil, err
		}
		if err := m.positions.addLookup(h, positions); err != nil {
			return nil, fmt.Errorf("position embeddings: %w", err)
		}
		m.norm.forward(h)
		for i, l := range m.layers {
			if h, err = l.forward(h, in.mask.Row(b)); err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
		}
		pooled := m.preClassifier.forward(h.Rows(0, 1))
		tensor.Apply(pooled.Data, tensor.ReLU)
		logits.set(b, m.classifier.forward(pooled).Data)
	}
	return &SequenceClassifierOutput{Logits: logits.t}, nil
}
