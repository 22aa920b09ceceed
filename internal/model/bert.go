package model

import (
	"fmt"

	"github.com/samcharles93/zeroshot/internal/params"
	"github.com/samcharles93/zeroshot/internal/tensor"
)

// positionStyle selects how default position ids are derived.
type positionStyle int

const (
	// absolutePositions counts 0..T-1.
	absolutePositions positionStyle = iota
	// paddedPositions counts from padIdx+1 over non-padding tokens and maps
	// padding to padIdx, as RoBERTa-derived checkpoints expect.
	paddedPositions
)

type bertEmbeddings struct {
	words, positions, tokenTypes embedding
	hasTokenTypes                bool
	norm                         layerNorm
	style                        positionStyle
	padIdx                       int64
}

func loadBertEmbeddings(p params.Path, hidden int, eps float64, style positionStyle, padIdx int64) (bertEmbeddings, error) {
	var (
		e   bertEmbeddings
		err error
	)
	if e.words, err = loadEmbedding(p.Sub("word_embeddings"), 0); err != nil {
		return e, err
	}
	if e.positions, err = loadEmbedding(p.Sub("position_embeddings"), e.words.dim()); err != nil {
		return e, err
	}
	if p.Has("token_type_embeddings.weight") {
		if e.tokenTypes, err = loadEmbedding(p.Sub("token_type_embeddings"), e.words.dim()); err != nil {
			return e, err
		}
		e.hasTokenTypes = true
	}
	if hidden <= 0 {
		hidden = e.words.dim()
	}
	if e.norm, err = loadLayerNorm(p.Sub("LayerNorm"), hidden, eps); err != nil {
		return e, err
	}
	e.style = style
	e.padIdx = padIdx
	return e, nil
}

// defaultPositions derives position ids for sequence b when none are given.
func (e bertEmbeddings) defaultPositions(in batchInputs, b int) []int64 {
	pos := make([]int64, in.seqLen)
	switch {
	case e.style == absolutePositions:
		for i := range pos {
			pos[i] = int64(i)
		}
	case in.ids != nil:
		var seen int64
		for i, id := range in.ids.Row(b) {
			if id == e.padIdx {
				pos[i] = e.padIdx
				continue
			}
			seen++
			pos[i] = seen + e.padIdx
		}
	default:
		for i := range pos {
			pos[i] = e.padIdx + 1 + int64(i)
		}
	}
	return pos
}

func (e bertEmbeddings) forward(in batchInputs, b int, tokenTypes, positions []int64) (tensor.Mat, error) {
	h, err := in.tokenEmbeddings(b, e.words)
	if err != nil {
		return tensor.Mat{}, err
	}
	if positions == nil {
		positions = e.defaultPositions(in, b)
	}
	if err := e.positions.addLookup(h, positions); err != nil {
		return tensor.Mat{}, fmt.Errorf("position embeddings: %w", err)
	}
	if e.hasTokenTypes {
		if tokenTypes == nil {
			tokenTypes = make([]int64, in.seqLen)
		}
		if err := e.tokenTypes.addLookup(h, tokenTypes); err != nil {
			return tensor.Mat{}, fmt.Errorf("token type embeddings: %w", err)
		}
	}
	e.norm.forward(h)
	return h, nil
}

type bertLayer struct {
	attn     selfAttention
	attnOut  linear
	attnNorm layerNorm
	ffn      feedForward
	outNorm  layerNorm
}

func loadBertLayer(p params.Path, hidden, heads int, act func(float32) float32, eps float64) (bertLayer, error) {
	var (
		l   bertLayer
		err error
	)
	if l.attn, err = loadSelfAttention(p.Sub("attention.self"), hidden, heads); err != nil {
		return l, err
	}
	if l.attnOut, err = loadLinear(p.Sub("attention.output.dense"), hidden, hidden); err != nil {
		return l, err
	}
	if l.attnNorm, err = loadLayerNorm(p.Sub("attention.output.LayerNorm"), hidden, eps); err != nil {
		return l, err
	}
	if l.ffn.up, err = loadLinear(p.Sub("intermediate.dense"), hidden, 0); err != nil {
		return l, err
	}
	if l.ffn.down, err = loadLinear(p.Sub("output.dense"), l.ffn.up.out(), hidden); err != nil {
		return l, err
	}
	l.ffn.act = act
	if l.outNorm, err = loadLayerNorm(p.Sub("output.LayerNorm"), hidden, eps); err != nil {
		return l, err
	}
	return l, nil
}

// forward runs the post-LN block. ctx computes the attention context so
// Longformer can substitute its windowed attention.
func (l bertLayer) forward(h tensor.Mat, ctx func(h tensor.Mat) (tensor.Mat, error)) (tensor.Mat, error) {
	a, err := ctx(h)
	if err != nil {
		return tensor.Mat{}, err
	}
	o := l.attnOut.forward(a)
	l.attnNorm.addNorm(o, h)
	f := l.ffn.forward(o)
	l.outNorm.addNorm(f, o)
	return f, nil
}

type bertEncoder struct {
	layers []bertLayer
}

func loadBertEncoder(p params.Path, cfg *BertConfig) (bertEncoder, error) {
	act, err := activation(cfg.HiddenAct)
	if err != nil {
		return bertEncoder{}, err
	}
	enc := bertEncoder{layers: make([]bertLayer, cfg.NumHiddenLayers)}
	for i := range enc.layers {
		if enc.layers[i], err = loadBertLayer(p.Subf("layer.%d", i), cfg.HiddenSize, cfg.NumAttentionHeads, act, cfg.LayerNormEps); err != nil {
			return bertEncoder{}, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return enc, nil
}

func (enc bertEncoder) forward(h tensor.Mat, mask []bool) (tensor.Mat, error) {
	var err error
	for i, l := range enc.layers {
		h, err = l.forward(h, func(x tensor.Mat) (tensor.Mat, error) { return l.attn.forward(x, mask) })
		if err != nil {
			return tensor.Mat{}, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return h, nil
}

// BertForSequenceClassification is a BERT encoder with a pooled linear head.
type BertForSequenceClassification struct {
	emb        bertEmbeddings
	enc        bertEncoder
	pooler     linear
	classifier linear
}

// NewBertForSequenceClassification loads the network from p, which holds the
// "bert" encoder and the top-level "classifier".
func NewBertForSequenceClassification(p params.Path, cfg *BertConfig) (*BertForSequenceClassification, error) {
	var (
		m   BertForSequenceClassification
		err error
	)
	root := p.Sub("bert")
	if m.emb, err = loadBertEmbeddings(root.Sub("embeddings"), cfg.HiddenSize, cfg.LayerNormEps, absolutePositions, cfg.PadTokenID); err != nil {
		return nil, err
	}
	if m.enc, err = loadBertEncoder(root.Sub("encoder"), cfg); err != nil {
		return nil, err
	}
	if m.pooler, err = loadLinear(root.Sub("pooler.dense"), cfg.HiddenSize, cfg.HiddenSize); err != nil {
		return nil, err
	}
	if m.classifier, err = loadLinear(p.Sub("classifier"), cfg.HiddenSize, 0); err != nil {
		return nil, err
	}
	return &m, nil
}

// Forward computes [batch, num_labels] logits.
func (m *BertForSequenceClassification) Forward(inputIDs *tensor.Tokens, mask *tensor.Mask, tokenTypeIDs, positionIDs *tensor.Tokens, inputEmbeds *tensor.Tensor, train bool) (*SequenceClassifierOutput, error) {
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

	logits := newLogits(in.batch, m.classifier.out())
	pooled := make([]float32, m.pooler.out())
	for b := 0; b < in.batch; b++ {
		h, err := m.emb.forward(in, b, optionalRow(tokenTypeIDs, b), optionalRow(positionIDs, b))
		if err != nil {
			return nil, err
		}
		if h, err = m.enc.forward(h, in.mask.Row(b)); err != nil {
			return nil, err
		}
		tensor.MatVec(pooled, m.pooler.w, h.Row(0))
		if m.pooler.b != nil {
			tensor.Add(pooled, m.pooler.b)
		}
		tensor.Apply(pooled, tensor.Tanh)
		logits.set(b, m.classifier.forward(rowMat(pooled)).Data)
	}
	return &SequenceClassifierOutput{Logits: logits.t}, nil
}

// rowMat views a vector as a single-row matrix.
func rowMat(v []float32) tensor.Mat {
	return tensor.Mat{R: 1, C: len(v), Stride: len(v), Data: v}
}

// classificationHead is the dense -> tanh -> out_proj head shared by the
// RoBERTa family, Longformer and BART.
type classificationHead struct {
	dense, outProj linear
}

func loadClassificationHead(p params.Path, hidden int) (classificationHead, error) {
	var (
		c   classificationHead
		err error
	)
	if c.dense, err = loadLinear(p.Sub("dense"), hidden, hidden); err != nil {
		return c, err
	}
	if c.outProj, err = loadLinear(p.Sub("out_proj"), hidden, 0); err != nil {
		return c, err
	}
	return c, nil
}

func (c classificationHead) forward(x []float32) []float32 {
	h := c.dense.forward(rowMat(x))
	tensor.Apply(h.Data, tensor.Tanh)
	return c.outProj.forward(h).Data
}

// RobertaForSequenceClassification serves RoBERTa and XLM-RoBERTa
// checkpoints. It classifies the first token through a two-layer head.
type RobertaForSequenceClassification struct {
	emb  bertEmbeddings
	enc  bertEncoder
	head classificationHead
}

func NewRobertaForSequenceClassification(p params.Path, cfg *BertConfig) (*RobertaForSequenceClassification, error) {
	var (
		m   RobertaForSequenceClassification
		err error
	)
	root := p.Sub("roberta")
	if m.emb, err = loadBertEmbeddings(root.Sub("embeddings"), cfg.HiddenSize, cfg.LayerNormEps, paddedPositions, cfg.PadTokenID); err != nil {
		return nil, err
	}
	if m.enc, err = loadBertEncoder(root.Sub("encoder"), cfg); err != nil {
		return nil, err
	}
	if m.head, err = loadClassificationHead(p.Sub("classifier"), cfg.HiddenSize); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *RobertaForSequenceClassification) Forward(inputIDs *tensor.Tokens, mask *tensor.Mask, tokenTypeIDs, positionIDs *tensor.Tokens, inputEmbeds *tensor.Tensor, train bool) (*SequenceClassifierOutput, error) {
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

	logits := newLogits(in.batch, m.head.outProj.out())
	for b := 0; b < in.batch; b++ {
		h, err := m.emb.forward(in, b, optionalRow(tokenTypeIDs, b), optionalRow(positionIDs, b))
		if err != nil {
			return nil, err
		}
		if h, err = m.enc.forward(h, in.mask.Row(b)); err != nil {
			return nil, err
		}
		logits.set(b, m.head.forward(h.Row(0)))
	}
	return &SequenceClassifierOutput{Logits: logits.t}, nil
}
