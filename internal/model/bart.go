package model

import (
	"fmt"
	"math"

	"github.com/samcharles93/zeroshot/internal/params"
	"github.com/samcharles93/zeroshot/internal/tensor"
)

// bartPositionOffset is the number of reserved rows at the start of BART's
// learned position tables.
const bartPositionOffset = 2

const bartLayerNormEps = 1e-5

type bartAttention struct {
	q, k, v, o linear
	heads      int
}

func loadBartAttention(p params.Path, dim, heads int) (bartAttention, error) {
	var (
		a   = bartAttention{heads: heads}
		err error
	)
	if dim%heads != 0 {
		return a, fmt.Errorf("%s: d_model %d not divisible by %d heads", p, dim, heads)
	}
	if a.q, err = loadLinear(p.Sub("q_proj"), dim, dim); err != nil {
		return a, err
	}
	if a.k, err = loadLinear(p.Sub("k_proj"), dim, dim); err != nil {
		return a, err
	}
	if a.v, err = loadLinear(p.Sub("v_proj"), dim, dim); err != nil {
		return a, err
	}
	if a.o, err = loadLinear(p.Sub("out_proj"), dim, dim); err != nil {
		return a, err
	}
	return a, nil
}

func (a bartAttention) forward(x, kv tensor.Mat, allow func(i, j int) bool) (tensor.Mat, error) {
	ctx, err := attention(a.q.forward(x), a.k.forward(kv), a.v.forward(kv), a.heads, headScale(a.q.out(), a.heads), allow)
	if err != nil {
		return tensor.Mat{}, err
	}
	return a.o.forward(ctx), nil
}

// bartLayer covers both encoder and decoder blocks; cross is only set for
// decoder layers.
type bartLayer struct {
	self      bartAttention
	selfNorm  layerNorm
	cross     *bartAttention
	crossNorm layerNorm
	ffn       feedForward
	ffnNorm   layerNorm
	preNorm   bool
}

func loadBartLayer(p params.Path, dim, heads int, act func(float32) float32, decoder, preNorm bool) (bartLayer, error) {
	var (
		l   = bartLayer{preNorm: preNorm}
		err error
	)
	if l.self, err = loadBartAttention(p.Sub("self_attn"), dim, heads); err != nil {
		return l, err
	}
	if l.selfNorm, err = loadLayerNorm(p.Sub("self_attn_layer_norm"), dim, bartLayerNormEps); err != nil {
		return l, err
	}
	if decoder {
		cross, err := loadBartAttention(p.Sub("encoder_attn"), dim, heads)
		if err != nil {
			return l, err
		}
		l.cross = &cross
		if l.crossNorm, err = loadLayerNorm(p.Sub("encoder_attn_layer_norm"), dim, bartLayerNormEps); err != nil {
			return l, err
		}
	}
	if l.ffn.up, err = loadLinear(p.Sub("fc1"), dim, 0); err != nil {
		return l, err
	}
	if l.ffn.down, err = loadLinear(p.Sub("fc2"), l.ffn.up.out(), dim); err != nil {
		return l, err
	}
	l.ffn.act = act
	if l.ffnNorm, err = loadLayerNorm(p.Sub("final_layer_norm"), dim, bartLayerNormEps); err != nil {
		return l, err
	}
	return l, nil
}

// sublayer applies fn with a residual connection and norm placed before or
// after it.
func (l bartLayer) sublayer(h tensor.Mat, norm layerNorm, fn func(tensor.Mat) (tensor.Mat, error)) (tensor.Mat, error) {
	x := h
	if l.preNorm {
		x = h.Clone()
		norm.forward(x)
	}
	y, err := fn(x)
	if err != nil {
		return tensor.Mat{}, err
	}
	for i := 0; i < y.R; i++ {
		tensor.Add(y.Row(i), h.Row(i))
	}
	if !l.preNorm {
		norm.forward(y)
	}
	return y, nil
}

func (l bartLayer) forward(h tensor.Mat, selfAllow func(i, j int) bool, enc tensor.Mat, encAllow func(i, j int) bool) (tensor.Mat, error) {
	h, err := l.sublayer(h, l.selfNorm, func(x tensor.Mat) (tensor.Mat, error) {
		return l.self.forward(x, x, selfAllow)
	})
	if err != nil {
		return tensor.Mat{}, err
	}
	if l.cross != nil {
		if h, err = l.sublayer(h, l.crossNorm, func(x tensor.Mat) (tensor.Mat, error) {
			return l.cross.forward(x, enc, encAllow)
		}); err != nil {
			return tensor.Mat{}, err
		}
	}
	return l.sublayer(h, l.ffnNorm, func(x tensor.Mat) (tensor.Mat, error) {
		return l.ffn.forward(x), nil
	})
}

type bartStack struct {
	positions embedding
	embNorm   *layerNorm
	layers    []bartLayer
	finalNorm *layerNorm
}

func loadBartStack(p params.Path, cfg *BartConfig, nLayers, heads int, act func(float32) float32, decoder bool) (bartStack, error) {
	var (
		s   bartStack
		err error
	)
	if s.positions, err = loadEmbedding(p.Sub("embed_positions"), cfg.DModel); err != nil {
		return s, err
	}
	if cfg.NormalizeEmbedding {
		n, err := loadLayerNorm(p.Sub("layernorm_embedding"), cfg.DModel, bartLayerNormEps)
		if err != nil {
			return s, err
		}
		s.embNorm = &n
	}
	s.layers = make([]bartLayer, nLayers)
	for i := range s.layers {
		if s.layers[i], err = loadBartLayer(p.Subf("layers.%d", i), cfg.DModel, heads, act, decoder, cfg.NormalizeBefore); err != nil {
			return s, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	if cfg.AddFinalLayerNorm || p.Has("layer_norm.weight") {
		n, err := loadLayerNorm(p.Sub("layer_norm"), cfg.DModel, bartLayerNormEps)
		if err != nil {
			return s, err
		}
		s.finalNorm = &n
	}
	return s, nil
}

func (s bartStack) forward(tokens tensor.Mat, selfAllow func(i, j int) bool, enc tensor.Mat, encAllow func(i, j int) bool) (tensor.Mat, error) {
	h := tokens
	for t := 0; t < h.R; t++ {
		pos := t + bartPositionOffset
		if pos >= s.positions.w.R {
			return tensor.Mat{}, fmt.Errorf("sequence length %d exceeds %d learned positions", h.R, s.positions.w.R-bartPositionOffset)
		}
		tensor.Add(h.Row(t), s.positions.w.Row(pos))
	}
	if s.embNorm != nil {
		s.embNorm.forward(h)
	}
	var err error
	for i, l := range s.layers {
		if h, err = l.forward(h, selfAllow, enc, encAllow); err != nil {
			return tensor.Mat{}, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	if s.finalNorm != nil {
		s.finalNorm.forward(h)
	}
	return h, nil
}

// BartClassifierOutput is the composite result of the BART classifier.
type BartClassifierOutput struct {
	// DecoderOutput holds the [batch, num_labels] classification logits.
	DecoderOutput *tensor.Tensor
	// EncoderHiddenState is the [batch, seq, d_model] encoder output.
	EncoderHiddenState *tensor.Tensor
}

// BartForSequenceClassification runs the full encoder-decoder and classifies
// the decoder state at the final end-of-sequence token.
type BartForSequenceClassification struct {
	cfg        *BartConfig
	shared     embedding
	embedScale float32
	encoder    bartStack
	decoder    bartStack
	head       classificationHead
}

func NewBartForSequenceClassification(p params.Path, cfg *BartConfig) (*BartForSequenceClassification, error) {
	if cfg.StaticPosEmbeddings {
		return nil, fmt.Errorf("bart: static position embeddings are not supported")
	}
	act, err := activation(cfg.ActivationFunction)
	if err != nil {
		return nil, err
	}
	m := &BartForSequenceClassification{cfg: cfg, embedScale: 1}
	if cfg.ScaleEmbedding {
		m.embedScale = float32(math.Sqrt(float64(cfg.DModel)))
	}
	root := p.Sub("model")
	w, err := root.MatAny(0, cfg.DModel, "shared.weight", "encoder.embed_tokens.weight")
	if err != nil {
		return nil, err
	}
	m.shared = embedding{w: w}
	if m.encoder, err = loadBartStack(root.Sub("encoder"), cfg, cfg.EncoderLayers, cfg.EncoderAttentionHeads, act, false); err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	if m.decoder, err = loadBartStack(root.Sub("decoder"), cfg, cfg.DecoderLayers, cfg.DecoderAttentionHeads, act, true); err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	if m.head, err = loadClassificationHead(p.Sub("classification_head"), cfg.DModel); err != nil {
		return nil, err
	}
	return m, nil
}

// shiftTokensRight builds decoder inputs: the last unpadded token followed by
// the input shifted one position to the right.
func shiftTokensRight(ids []int64, pad int64) []int64 {
	out := make([]int64, len(ids))
	if len(ids) == 0 {
		return out
	}
	last := 0
	for i, id := range ids {
		if id != pad {
			last = i
		}
	}
	out[0] = ids[last]
	copy(out[1:], ids[:len(ids)-1])
	return out
}

func (m *BartForSequenceClassification) embed(ids []int64) (tensor.Mat, error) {
	h, err := m.shared.lookup(ids)
	if err != nil {
		return tensor.Mat{}, err
	}
	if m.embedScale != 1 {
		tensor.Scale(h.Data, m.embedScale)
	}
	return h, nil
}

// Forward requires input ids. Decoder inputs default to the shifted input ids
// and the decoder attends causally.
func (m *BartForSequenceClassification) Forward(inputIDs *tensor.Tokens, mask *tensor.Mask, decoderInputIDs *tensor.Tokens, decoderMask *tensor.Mask, train bool) (*BartClassifierOutput, error) {
	if err := checkTrain(train); err != nil {
		return nil, err
	}
	if inputIDs == nil {
		return nil, fmt.Errorf("%w: input ids must be provided for BART models", ErrMissingInput)
	}
	batch, seqLen := inputIDs.Batch, inputIDs.SeqLen
	if mask == nil {
		mask = tensor.Ones(batch, seqLen)
	}
	if err := mask.CheckShape(batch, seqLen); err != nil {
		return nil, err
	}
	if err := checkTokens("decoder input ids", decoderInputIDs, batch, seqLen); err != nil {
		return nil, err
	}
	if decoderMask != nil {
		if err := decoderMask.CheckShape(batch, seqLen); err != nil {
			return nil, fmt.Errorf("decoder mask: %w", err)
		}
	}

	eosCount := -1
	logits := newLogits(batch, m.head.outProj.out())
	encOut := tensor.New(batch, seqLen, m.cfg.DModel)
	for b := 0; b < batch; b++ {
		ids := inputIDs.Row(b)
		lastEOS, count := -1, 0
		for i, id := range ids {
			if id == m.cfg.EOSTokenID {
				lastEOS = i
				count++
			}
		}
		if lastEOS < 0 {
			return nil, fmt.Errorf("%w: sequence %d has no <eos> token", ErrMissingInput, b)
		}
		if eosCount >= 0 && count != eosCount {
			return nil, fmt.Errorf("all examples must have the same number of <eos> tokens")
		}
		eosCount = count

		encMask := mask.Row(b)
		x, err := m.embed(ids)
		if err != nil {
			return nil, err
		}
		enc, err := m.encoder.forward(x, keyMask(encMask), tensor.Mat{}, nil)
		if err != nil {
			return nil, fmt.Errorf("encoder: %w", err)
		}
		copy(encOut.Row(b), enc.Data)

		decIDs := optionalRow(decoderInputIDs, b)
		if decIDs == nil {
			decIDs = shiftTokensRight(ids, m.cfg.PadTokenID)
		}
		var decKeys []bool
		if decoderMask != nil {
			decKeys = decoderMask.Row(b)
		}
		causal := func(i, j int) bool {
			return j <= i && (decKeys == nil || decKeys[j])
		}
		y, err := m.embed(decIDs)
		if err != nil {
			return nil, err
		}
		dec, err := m.decoder.forward(y, causal, enc, keyMask(encMask))
		if err != nil {
			return nil, fmt.Errorf("decoder: %w", err)
		}
		logits.set(b, m.head.forward(dec.Row(lastEOS)))
	}
	return &BartClassifierOutput{DecoderOutput: logits.t, EncoderHiddenState: encOut}, nil
}
