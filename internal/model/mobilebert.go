package model

import (
	"fmt"

	"github.com/samcharles93/zeroshot/internal/params"
	"github.com/samcharles93/zeroshot/internal/tensor"
)

func loadMobileBertNorm(p params.Path, dim int, cfg *MobileBertConfig) (layerNorm, error) {
	n, err := loadLayerNorm(p, dim, cfg.LayerNormEps)
	if err != nil {
		return n, err
	}
	n.noNorm = cfg.NormalizationType == "no_norm"
	return n, nil
}

// denseNorm is a linear projection followed by a residual norm.
type denseNorm struct {
	dense linear
	norm  layerNorm
}

func loadDenseNorm(p params.Path, in, out int, cfg *MobileBertConfig) (denseNorm, error) {
	var (
		d   denseNorm
		err error
	)
	if d.dense, err = loadLinear(p.Sub("dense"), in, out); err != nil {
		return d, err
	}
	if d.norm, err = loadMobileBertNorm(p.Sub("LayerNorm"), out, cfg); err != nil {
		return d, err
	}
	return d, nil
}

// forward returns norm(dense(x) + residual), or norm(dense(x)) when residual
// has no rows.
func (d denseNorm) forward(x, residual tensor.Mat) tensor.Mat {
	y := d.dense.forward(x)
	if residual.R == 0 {
		d.norm.forward(y)
		return y
	}
	d.norm.addNorm(y, residual)
	return y
}

type mobileBertFFN struct {
	up  linear
	out denseNorm
	act func(float32) float32
}

func (f mobileBertFFN) forward(x tensor.Mat) tensor.Mat {
	h := f.up.forward(x)
	tensor.Apply(h.Data, f.act)
	return f.out.forward(h, x)
}

type mobileBertLayer struct {
	cfg *MobileBertConfig

	bottleneckIn   denseNorm
	bottleneckAttn denseNorm
	attn           selfAttention
	attnOut        denseNorm
	ffns           []mobileBertFFN
	ffn            mobileBertFFN
	outBottleneck  denseNorm
}

func loadMobileBertLayer(p params.Path, cfg *MobileBertConfig, act func(float32) float32) (mobileBertLayer, error) {
	var (
		l   = mobileBertLayer{cfg: cfg}
		err error
	)
	hidden, inner := cfg.HiddenSize, cfg.TrueHiddenSize()
	if cfg.UseBottleneck {
		if l.bottleneckIn, err = loadDenseNorm(p.Sub("bottleneck.input"), hidden, cfg.IntraBottleneckSize, cfg); err != nil {
			return l, err
		}
		if cfg.KeyQuerySharedBottleneck && !cfg.UseBottleneckAttention {
			if l.bottleneckAttn, err = loadDenseNorm(p.Sub("bottleneck.attention"), hidden, cfg.IntraBottleneckSize, cfg); err != nil {
				return l, err
			}
		}
	}

	sp := p.Sub("attention.self")
	if l.attn.q, err = loadLinear(sp.Sub("query"), inner, inner); err != nil {
		return l, err
	}
	if l.attn.k, err = loadLinear(sp.Sub("key"), inner, inner); err != nil {
		return l, err
	}
	valueIn := hidden
	if cfg.UseBottleneckAttention {
		valueIn = inner
	}
	if l.attn.v, err = loadLinear(sp.Sub("value"), valueIn, inner); err != nil {
		return l, err
	}
	l.attn.heads = cfg.NumAttentionHeads
	if l.attnOut, err = loadDenseNorm(p.Sub("attention.output"), inner, inner, cfg); err != nil {
		return l, err
	}

	loadFFN := func(up, out params.Path) (mobileBertFFN, error) {
		f := mobileBertFFN{act: act}
		var err error
		if f.up, err = loadLinear(up, inner, cfg.IntermediateSize); err != nil {
			return f, err
		}
		if f.out.dense, err = loadLinear(out.Sub("dense"), cfg.IntermediateSize, inner); err != nil {
			return f, err
		}
		if f.out.norm, err = loadMobileBertNorm(out.Sub("LayerNorm"), inner, cfg); err != nil {
			return f, err
		}
		return f, nil
	}
	for i := 0; i < cfg.NumFeedforwardNetworks-1; i++ {
		fp := p.Subf("ffn.%d", i)
		f, err := loadFFN(fp.Sub("intermediate.dense"), fp.Sub("output"))
		if err != nil {
			return l, fmt.Errorf("ffn %d: %w", i, err)
		}
		l.ffns = append(l.ffns, f)
	}
	if l.ffn, err = loadFFN(p.Sub("intermediate.dense"), p.Sub("output")); err != nil {
		return l, err
	}
	if cfg.UseBottleneck {
		if l.outBottleneck, err = loadDenseNorm(p.Sub("output.bottleneck"), inner, hidden, cfg); err != nil {
			return l, err
		}
	}
	return l, nil
}

func (l mobileBertLayer) forward(h tensor.Mat, mask []bool) (tensor.Mat, error) {
	q, k, v, layerInput := h, h, h, h
	if l.cfg.UseBottleneck {
		layerInput = l.bottleneckIn.forward(h, tensor.Mat{})
		switch {
		case l.cfg.UseBottleneckAttention:
			q, k, v = layerInput, layerInput, layerInput
		case l.cfg.KeyQuerySharedBottleneck:
			shared := l.bottleneckAttn.forward(h, tensor.Mat{})
			q, k = shared, shared
		}
	}
	a := l.attn
	ctx, err := attention(a.q.forward(q), a.k.forward(k), a.v.forward(v), a.heads, headScale(a.q.out(), a.heads), keyMask(mask))
	if err != nil {
		return tensor.Mat{}, err
	}
	out := l.attnOut.forward(ctx, layerInput)
	for _, f := range l.ffns {
		out = f.forward(out)
	}
	out = l.ffn.forward(out)
	if l.cfg.UseBottleneck {
		out = l.outBottleneck.forward(out, h)
	}
	return out, nil
}

// MobileBertForSequenceClassification uses bottlenecked blocks with stacked
// feed-forward networks and trigram input embeddings.
type MobileBertForSequenceClassification struct {
	cfg              *MobileBertConfig
	words            embedding
	transform        linear
	positions, types embedding
	norm             layerNorm
	layers           []mobileBertLayer
	pooler           *linear
	classifier       linear
}

func NewMobileBertForSequenceClassification(p params.Path, cfg *MobileBertConfig) (*MobileBertForSequenceClassification, error) {
	act, err := activation(cfg.HiddenAct)
	if err != nil {
		return nil, err
	}
	m := &MobileBertForSequenceClassification{cfg: cfg}
	root := p.Sub("mobilebert")
	emb := root.Sub("embeddings")
	if m.words, err = loadEmbedding(emb.Sub("word_embeddings"), cfg.EmbeddingSize); err != nil {
		return nil, err
	}
	transformIn := cfg.EmbeddingSize
	if cfg.TrigramInput {
		transformIn *= 3
	}
	if cfg.TrigramInput || cfg.EmbeddingSize != cfg.HiddenSize {
		if m.transform, err = loadLinear(emb.Sub("embedding_transformation"), transformIn, cfg.HiddenSize); err != nil {
			return nil, err
		}
	}
	if m.positions, err = loadEmbedding(emb.Sub("position_embeddings"), cfg.HiddenSize); err != nil {
		return nil, err
	}
	if m.types, err = loadEmbedding(emb.Sub("token_type_embeddings"), cfg.HiddenSize); err != nil {
		return nil, err
	}
	if m.norm, err = loadMobileBertNorm(emb.Sub("LayerNorm"), cfg.HiddenSize, cfg); err != nil {
		return nil, err
	}
	m.layers = make([]mobileBertLayer, cfg.NumHiddenLayers)
	for i := range m.layers {
		if m.layers[i], err = loadMobileBertLayer(root.Subf("encoder.layer.%d", i), cfg, act); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	if cfg.ClassifierActivation {
		pooler, err := loadLinear(root.Sub("pooler.dense"), cfg.HiddenSize, cfg.HiddenSize)
		if err != nil {
			return nil, err
		}
		m.pooler = &pooler
	}
	if m.classifier, err = loadLinear(p.Sub("classifier"), cfg.HiddenSize, 0); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MobileBertForSequenceClassification) embed(in batchInputs, b int, tokenTypes, positions []int64) (tensor.Mat, error) {
	e, err := in.tokenEmbeddings(b, m.words)
	if err != nil {
		return tensor.Mat{}, err
	}
	if m.cfg.TrigramInput {
		// [next token, token, previous token], zero padded at the edges.
		d := e.C
		tri := tensor.NewMat(e.R, 3*d)
		for t := 0; t < e.R; t++ {
			row := tri.Row(t)
			if t+1 < e.R {
				copy(row[:d], e.Row(t+1))
			}
			copy(row[d:2*d], e.Row(t))
			if t > 0 {
				copy(row[2*d:], e.Row(t-1))
			}
		}
		e = tri
	}
	h := e
	if m.transform.w.Data != nil {
		h = m.transform.forward(e)
	}
	if positions == nil {
		positions = make([]int64, in.seqLen)
		for i := range positions {
			positions[i] = int64(i)
		}
	}
	if err := m.positions.addLookup(h, positions); err != nil {
		return tensor.Mat{}, fmt.Errorf("position embeddings: %w", err)
	}
	if tokenTypes == nil {
		tokenTypes = make([]int64, in.seqLen)
	}
	if err := m.types.addLookup(h, tokenTypes); err != nil {
		return tensor.Mat{}, fmt.Errorf("token type embeddings: %w", err)
	}
	m.norm.forward(h)
	return h, nil
}

func (m *MobileBertForSequenceClassification) Forward(inputIDs *tensor.Tokens, tokenTypeIDs, positionIDs *tensor.Tokens, inputEmbeds *tensor.Tensor, mask *tensor.Mask, train bool) (*SequenceClassifierOutput, error) {
	if err := checkTrain(train); err != nil {
		return nil, err
	}
	in, err := newBatchInputs(inputIDs, mask, inputEmbeds, m.words.dim())
	if err != nil {
		return nil, err
	}
	if err := checkTokens("token type ids", tokenTypeIDs, in.batch, in.seqLen); err != nil {
		return nil, err
	}
	if err := checkTokens("position ids", positionIDs, in.batch, in.seqLen); err != nil {
		return nil, err
	}

	logits := newLogits(in.batch, m.classifier.out())
	for b := 0; b < in.batch; b++ {
		h, err := m.embed(in, b, optionalRow(tokenTypeIDs, b), optionalRow(positionIDs, b))
		if err != nil {
			return nil, err
		}
		for i, l := range m.layers {
			if h, err = l.forward(h, in.mask.Row(b)); err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
		}
		pooled := h.Rows(0, 1).Clone()
		if m.pooler != nil {
			pooled = m.pooler.forward(pooled)
			tensor.Apply(pooled.Data, tensor.Tanh)
		}
		logits.set(b, m.classifier.forward(pooled).Data)
	}
	return &SequenceClassifierOutput{Logits: logits.t}, nil
}
