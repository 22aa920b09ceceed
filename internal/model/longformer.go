package model

import (
	"fmt"

	"github.com/samcharles93/zeroshot/internal/params"
	"github.com/samcharles93/zeroshot/internal/tensor"
)

type longformerGlobal struct {
	q, k, v linear
}

// LongformerForSequenceClassification combines sliding-window local attention
// with global attention on the first token and any caller-selected tokens.
type LongformerForSequenceClassification struct {
	emb     bertEmbeddings
	enc     bertEncoder
	globals []longformerGlobal
	windows []int
	head    classificationHead
}

func NewLongformerForSequenceClassification(p params.Path, cfg *LongformerConfig) (*LongformerForSequenceClassification, error) {
	if n := len(cfg.AttentionWindow); n > 1 && n != cfg.NumHiddenLayers {
		return nil, fmt.Errorf("longformer: %d attention windows for %d layers", n, cfg.NumHiddenLayers)
	}
	var (
		m   LongformerForSequenceClassification
		err error
	)
	root := p.Sub("longformer")
	if m.emb, err = loadBertEmbeddings(root.Sub("embeddings"), cfg.HiddenSize, cfg.LayerNormEps, paddedPositions, cfg.PadTokenID); err != nil {
		return nil, err
	}
	if m.enc, err = loadBertEncoder(root.Sub("encoder"), &cfg.BertConfig); err != nil {
		return nil, err
	}
	m.globals = make([]longformerGlobal, cfg.NumHiddenLayers)
	m.windows = make([]int, cfg.NumHiddenLayers)
	for i := range m.globals {
		sp := root.Subf("encoder.layer.%d.attention.self", i)
		g := &m.globals[i]
		if g.q, err = loadLinear(sp.Sub("query_global"), cfg.HiddenSize, cfg.HiddenSize); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if g.k, err = loadLinear(sp.Sub("key_global"), cfg.HiddenSize, cfg.HiddenSize); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		if g.v, err = loadLinear(sp.Sub("value_global"), cfg.HiddenSize, cfg.HiddenSize); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		w := cfg.Window(i)
		if w <= 0 || w%2 != 0 {
			return nil, fmt.Errorf("longformer: attention_window %d for layer %d must be a positive even number", w, i)
		}
		m.windows[i] = w / 2
	}
	if m.head, err = loadClassificationHead(p.Sub("classifier"), cfg.HiddenSize); err != nil {
		return nil, err
	}
	return &m, nil
}

// windowedAttention computes one layer's attention context. Local queries see
// unpadded non-global keys within the one-sided window w plus every global
// key; global queries attend to every unpadded key with their own projections.
func windowedAttention(h tensor.Mat, local selfAttention, global longformerGlobal, w int, mask, isGlobal []bool) (tensor.Mat, error) {
	scale := headScale(local.q.out(), local.heads)
	q, k, v := local.q.forward(h), local.k.forward(h), local.v.forward(h)
	ctx, err := attention(q, k, v, local.heads, scale, func(i, j int) bool {
		if !mask[i] || !mask[j] {
			return false
		}
		if isGlobal[j] {
			return true
		}
		d := i - j
		return d >= -w && d <= w
	})
	if err != nil {
		return tensor.Mat{}, err
	}

	var rows []int
	for i, g := range isGlobal {
		if g && mask[i] {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		return ctx, nil
	}
	gq := tensor.NewMat(len(rows), h.C)
	for n, i := range rows {
		copy(gq.Row(n), h.Row(i))
	}
	gctx, err := attention(global.q.forward(gq), global.k.forward(h), global.v.forward(h), local.heads, scale, func(_, j int) bool { return mask[j] })
	if err != nil {
		return tensor.Mat{}, err
	}
	for n, i := range rows {
		copy(ctx.Row(i), gctx.Row(n))
	}
	return ctx, nil
}

func (m *LongformerForSequenceClassification) Forward(inputIDs *tensor.Tokens, mask, globalAttentionMask *tensor.Mask, tokenTypeIDs, positionIDs *tensor.Tokens, inputEmbeds *tensor.Tensor, train bool) (*SequenceClassifierOutput, error) {
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
	if globalAttentionMask != nil {
		if err := globalAttentionMask.CheckShape(in.batch, in.seqLen); err != nil {
			return nil, fmt.Errorf("global attention mask: %w", err)
		}
	}

	logits := newLogits(in.batch, m.head.outProj.out())
	for b := 0; b < in.batch; b++ {
		h, err := m.emb.forward(in, b, optionalRow(tokenTypeIDs, b), optionalRow(positionIDs, b))
		if err != nil {
			return nil, err
		}
		maskRow := in.mask.Row(b)
		isGlobal := make([]bool, in.seqLen)
		if globalAttentionMask != nil {
			copy(isGlobal, globalAttentionMask.Row(b))
		}
		if in.seqLen > 0 {
			isGlobal[0] = true
		}
		for i, l := range m.enc.layers {
			g, w := m.globals[i], m.windows[i]
			h, err = l.forward(h, func(x tensor.Mat) (tensor.Mat, error) {
				return windowedAttention(x, l.attn, g, w, maskRow, isGlobal)
			})
			if err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
		}
		logits.set(b, m.head.forward(h.Row(0)))
	}
	return &SequenceClassifierOutput{Logits: logits.t}, nil
}
