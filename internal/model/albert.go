package model

import (
	"fmt"

	"github.com/samcharles93/zeroshot/internal/params"
	"github.com/samcharles93/zeroshot/internal/tensor"
)

// albertLayer is one shared transformer block. ALBERT keeps the attention
// output projection and its LayerNorm under the attention namespace.
type albertLayer struct {
	attn     selfAttention
	attnOut  linear
	attnNorm layerNorm
	ffn      feedForward
	ffnNorm  layerNorm
}

func loadAlbertLayer(p params.Path, cfg *AlbertConfig, act func(float32) float32) (albertLayer, error) {
	var (
		l   albertLayer
		err error
	)
	h := cfg.HiddenSize
	if l.attn, err = loadSelfAttention(p.Sub("attention"), h, cfg.NumAttentionHeads); err != nil {
		return l, err
	}
	if l.attnOut, err = loadLinear(p.Sub("attention.dense"), h, h); err != nil {
		return l, err
	}
	if l.attnNorm, err = loadLayerNorm(p.Sub("attention.LayerNorm"), h, cfg.LayerNormEps); err != nil {
		return l, err
	}
	if l.ffn.up, err = loadLinear(p.Sub("ffn"), h, 0); err != nil {
		return l, err
	}
	if l.ffn.down, err = loadLinear(p.Sub("ffn_output"), l.ffn.up.out(), h); err != nil {
		return l, err
	}
	l.ffn.act = act
	if l.ffnNorm, err = loadLayerNorm(p.Sub("full_layer_layer_norm"), h, cfg.LayerNormEps); err != nil {
		return l, err
	}
	return l, nil
}

func (l albertLayer) forward(h tensor.Mat, mask []bool) (tensor.Mat, error) {
	ctx, err := l.attn.forward(h, mask)
	if err != nil {
		return tensor.Mat{}, err
	}
	a := l.attnOut.forward(ctx)
	l.attnNorm.addNorm(a, h)
	f := l.ffn.forward(a)
	l.ffnNorm.addNorm(f, a)
	return f, nil
}

// AlbertForSequenceClassification shares layer groups across depth and
// projects factorized embeddings up to the hidden width.
type AlbertForSequenceClassification struct {
	emb        bertEmbeddings
	mapIn      linear
	groups     [][]albertLayer
	numLayers  int
	pooler     linear
	classifier linear
}

func NewAlbertForSequenceClassification(p params.Path, cfg *AlbertConfig) (*AlbertForSequenceClassification, error) {
	if cfg.NumHiddenGroups <= 0 || cfg.NumHiddenLayers%cfg.NumHiddenGroups != 0 {
		return nil, fmt.Errorf("albert: %d layers cannot be split into %d groups", cfg.NumHiddenLayers, cfg.NumHiddenGroups)
	}
	act, err := activation(cfg.HiddenAct)
	if err != nil {
		return nil, err
	}
	m := &AlbertForSequenceClassification{numLayers: cfg.NumHiddenLayers}
	root := p.Sub("albert")
	if m.emb, err = loadBertEmbeddings(root.Sub("embeddings"), cfg.EmbeddingSize, cfg.LayerNormEps, absolutePositions, 0); err != nil {
		return nil, err
	}
	enc := root.Sub("encoder")
	if m.mapIn, err = loadLinear(enc.Sub("embedding_hidden_mapping_in"), m.emb.words.dim(), cfg.HiddenSize); err != nil {
		return nil, err
	}
	m.groups = make([][]albertLayer, cfg.NumHiddenGroups)
	for g := range m.groups {
		m.groups[g] = make([]albertLayer, cfg.InnerGroupNum)
		for j := range m.groups[g] {
			lp := enc.Subf("albert_layer_groups.%d.albert_layers.%d", g, j)
			if m.groups[g][j], err = loadAlbertLayer(lp, cfg, act); err != nil {
				return nil, fmt.Errorf("group %d layer %d: %w", g, j, err)
			}
		}
	}
	if m.pooler, err = loadLinear(root.Sub("pooler"), cfg.HiddenSize, cfg.HiddenSize); err != nil {
		return nil, err
	}
	if m.classifier, err = loadLinear(p.Sub("classifier"), cfg.HiddenSize, 0); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AlbertForSequenceClassification) Forward(inputIDs *tensor.Tokens, mask *tensor.Mask, tokenTypeIDs, positionIDs *tensor.Tokens, inputEmbeds *tensor.Tensor, train bool) (*SequenceClassifierOutput, error) {
	if err := checkTrain(train); err != nil {
		return nil, err
	}
	in, err := newBatchInputs(inputIDs, mask, inputEmbeds, m.emb.words.dim())
	if err != nil {
		return nil, err
	}
	if err := checkTokens("token type ids", tokenTypeIDs, in.batch, in.seqLen); err != nil {
		return nil, err
	}
	if err := checkTokens("position ids", positionIDs, in.batch, in.seqLen); err != nil {
		return nil, err
	}

	perGroup := m.numLayers / len(m.groups)
	logits := newLogits(in.batch, m.classifier.out())
	for b := 0; b < in.batch; b++ {
		e, err := m.emb.forward(in, b, optionalRow(tokenTypeIDs, b), optionalRow(positionIDs, b))
		if err != nil {
			return nil, err
		}
		h := m.mapIn.forward(e)
		maskRow := in.mask.Row(b)
		for i := 0; i < m.numLayers; i++ {
			for _, l := range m.groups[i/perGroup] {
				if h, err = l.forward(h, maskRow); err != nil {
					return nil, fmt.Errorf("layer %d: %w", i, err)
				}
			}
		}
		pooled := m.pooler.forward(h.Rows(0, 1))
		tensor.Apply(pooled.Data, tensor.Tanh)
		logits.set(b, m.classifier.forward(pooled).Data)
	}
	return &SequenceClassifierOutput{Logits: logits.t}, nil
}
