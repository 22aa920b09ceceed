package model

import (
	"fmt"
	"math"

	"github.com/samcharles93/zeroshot/internal/params"
	"github.com/samcharles93/zeroshot/internal/tensor"
)

// projection is an einsum-style weight stored as [d_model, n_head, d_head].
type projection struct {
	w tensor.Mat // [d_model, n_head*d_head]
}

func loadProjection(p params.Path, name string, dModel, width int) (projection, error) {
	t, err := p.Tensor(name)
	if err != nil {
		return projection{}, err
	}
	if t.Rank() != 3 || t.Dim(0) != dModel || t.Dim(1)*t.Dim(2) != width {
		return projection{}, fmt.Errorf("%s: shape %v, want [%d n_head d_head]", p.Name(name), t.Shape, dModel)
	}
	w, err := tensor.NewMatFromData(dModel, width, t.Data)
	if err != nil {
		return projection{}, err
	}
	return projection{w: w}, nil
}

// heads projects every row of x into head space.
func (p projection) heads(x tensor.Mat) tensor.Mat {
	out := tensor.NewMat(x.R, p.w.C)
	for i := 0; i < x.R; i++ {
		tensor.VecMat(out.Row(i), x.Row(i), p.w)
	}
	return out
}

// back maps head-space rows to d_model.
func (p projection) back(x tensor.Mat) tensor.Mat {
	out := tensor.NewMat(x.R, p.w.R)
	for i := 0; i < x.R; i++ {
		tensor.MatVec(out.Row(i), p.w, x.Row(i))
	}
	return out
}

type xlnetLayer struct {
	q, k, v, o, r projection
	rwBias        []float32
	rrBias        []float32
	rsBias        []float32
	segEmbed      tensor.Mat // [2, n_head*d_head]
	attnNorm      layerNorm
	ffn           feedForward
	ffnNorm       layerNorm
}

func loadXLNetLayer(p params.Path, cfg *XLNetConfig, act func(float32) float32) (xlnetLayer, error) {
	var (
		l   xlnetLayer
		err error
	)
	width := cfg.NHead * cfg.DHead
	ra := p.Sub("rel_attn")
	for _, w := range []struct {
		name string
		dst  *projection
	}{{"q", &l.q}, {"k", &l.k}, {"v", &l.v}, {"o", &l.o}, {"r", &l.r}} {
		if *w.dst, err = loadProjection(ra, w.name, cfg.DModel, width); err != nil {
			return l, err
		}
	}
	for _, b := range []struct {
		name string
		dst  *[]float32
	}{{"r_w_bias", &l.rwBias}, {"r_r_bias", &l.rrBias}, {"r_s_bias", &l.rsBias}} {
		t, err := ra.Tensor(b.name)
		if err != nil {
			return l, err
		}
		if t.Numel() != width {
			return l, fmt.Errorf("%s: shape %v, want [%d %d]", ra.Name(b.name), t.Shape, cfg.NHead, cfg.DHead)
		}
		*b.dst = t.Data
	}
	seg, err := ra.Tensor("seg_embed")
	if err != nil {
		return l, err
	}
	if l.segEmbed, err = tensor.NewMatFromData(2, width, seg.Data); err != nil {
		return l, fmt.Errorf("%s: %w", ra.Name("seg_embed"), err)
	}
	if l.attnNorm, err = loadLayerNorm(ra.Sub("layer_norm"), cfg.DModel, cfg.LayerNormEps); err != nil {
		return l, err
	}
	if l.ffn.up, err = loadLinear(p.Sub("ff.layer_1"), cfg.DModel, cfg.DInner); err != nil {
		return l, err
	}
	if l.ffn.down, err = loadLinear(p.Sub("ff.layer_2"), cfg.DInner, cfg.DModel); err != nil {
		return l, err
	}
	l.ffn.act = act
	if l.ffnNorm, err = loadLayerNorm(p.Sub("ff.layer_norm"), cfg.DModel, cfg.LayerNormEps); err != nil {
		return l, err
	}
	return l, nil
}

// forward runs relative multi-head attention for the content stream. posEmb
// holds the sinusoid for relative distance T-r at row r. segments may be nil.
func (l xlnetLayer) forward(h tensor.Mat, posEmb tensor.Mat, segments []int64, mask []bool, heads, dHead int) tensor.Mat {
	T := h.R
	q := l.q.heads(h)
	k := l.k.heads(h)
	v := l.v.heads(h)
	kr := l.r.heads(posEmb)
	scale := float32(1 / math.Sqrt(float64(dHead)))

	ctx := tensor.NewMat(T, heads*dHead)
	scores := make([]float32, T)
	keys := make([]int, 0, T)
	qw := make([]float32, dHead)
	qr := make([]float32, dHead)
	qs := make([]float32, dHead)
	for i := 0; i < T; i++ {
		keys = keys[:0]
		for j := 0; j < T; j++ {
			if mask[j] || i == j {
				keys = append(keys, j)
			}
		}
		for n := 0; n < heads; n++ {
			lo, hi := n*dHead, (n+1)*dHead
			qi := q.Row(i)[lo:hi]
			for d := range qi {
				qw[d] = qi[d] + l.rwBias[lo+d]
				qr[d] = qi[d] + l.rrBias[lo+d]
				qs[d] = qi[d] + l.rsBias[lo+d]
			}
			var ef [2]float32
			if segments != nil {
				ef[0] = tensor.Dot(qs, l.segEmbed.Row(0)[lo:hi])
				ef[1] = tensor.Dot(qs, l.segEmbed.Row(1)[lo:hi])
			}
			s := scores[:len(keys)]
			for idx, j := range keys {
				ac := tensor.Dot(qw, k.Row(j)[lo:hi])
				bd := tensor.Dot(qr, kr.Row(T-i+j)[lo:hi])
				var e float32
				if segments != nil {
					if segments[i] != segments[j] {
						e = ef[1]
					} else {
						e = ef[0]
					}
				}
				s[idx] = (ac + bd + e) * scale
			}
			tensor.Softmax(s)
			out := ctx.Row(i)[lo:hi]
			for idx, j := range keys {
				vj := v.Row(j)[lo:hi]
				for d := range out {
					out[d] += s[idx] * vj[d]
				}
			}
		}
	}

	attnOut := l.o.back(ctx)
	l.attnNorm.addNorm(attnOut, h)
	f := l.ffn.forward(attnOut)
	l.ffnNorm.addNorm(f, attnOut)
	return f
}

// XLNetForSequenceClassification runs the content stream of a bidirectional
// XLNet without memory and summarizes one position for classification.
type XLNetForSequenceClassification struct {
	cfg        *XLNetConfig
	words      embedding
	layers     []xlnetLayer
	summary    *linear
	summaryAct func(float32) float32
	logits     linear
}

func NewXLNetForSequenceClassification(p params.Path, cfg *XLNetConfig) (*XLNetForSequenceClassification, error) {
	if cfg.AttnType != "" && cfg.AttnType != "bi" {
		return nil, fmt.Errorf("xlnet: attn_type %q is not supported", cfg.AttnType)
	}
	switch cfg.SummaryType {
	case "last", "first", "mean":
	default:
		return nil, fmt.Errorf("xlnet: summary_type %q is not supported", cfg.SummaryType)
	}
	act, err := activation(cfg.FFActivation)
	if err != nil {
		return nil, err
	}
	m := &XLNetForSequenceClassification{cfg: cfg, summaryAct: func(x float32) float32 { return x }}
	root := p.Sub("transformer")
	if m.words, err = loadEmbedding(root.Sub("word_embedding"), cfg.DModel); err != nil {
		return nil, err
	}
	m.layers = make([]xlnetLayer, cfg.NLayer)
	for i := range m.layers {
		if m.layers[i], err = loadXLNetLayer(root.Subf("layer.%d", i), cfg, act); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	if cfg.SummaryUseProj {
		s, err := loadLinear(p.Sub("sequence_summary.summary"), cfg.DModel, 0)
		if err != nil {
			return nil, err
		}
		m.summary = &s
	}
	if cfg.SummaryActivation != "" {
		if m.summaryAct, err = activation(cfg.SummaryActivation); err != nil {
			return nil, err
		}
	}
	in := cfg.DModel
	if m.summary != nil {
		in = m.summary.out()
	}
	if m.logits, err = loadLinear(p.Sub("logits_proj"), in, 0); err != nil {
		return nil, err
	}
	return m, nil
}

// relativePositions returns sinusoids for distances T, T-1, ..., -T+1.
func (m *XLNetForSequenceClassification) relativePositions(T int) tensor.Mat {
	d := m.cfg.DModel
	half := d / 2
	out := tensor.NewMat(2*T, d)
	for r := 0; r < 2*T; r++ {
		pos := float64(T - r)
		if c := float64(m.cfg.ClampLen); c > 0 {
			pos = max(-c, min(c, pos))
		}
		row := out.Row(r)
		for k := 0; k < half; k++ {
			invFreq := 1 / math.Pow(10000, float64(2*k)/float64(d))
			row[k] = float32(math.Sin(pos * invFreq))
			row[half+k] = float32(math.Cos(pos * invFreq))
		}
	}
	return out
}

func (m *XLNetForSequenceClassification) Forward(inputIDs *tensor.Tokens, mask *tensor.Mask, tokenTypeIDs *tensor.Tokens, inputEmbeds *tensor.Tensor, train bool) (*SequenceClassifierOutput, error) {
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
	if in.seqLen == 0 {
		return nil, fmt.Errorf("%w: empty sequence", ErrMissingInput)
	}

	posEmb := m.relativePositions(in.seqLen)
	logits := newLogits(in.batch, m.logits.out())
	for b := 0; b < in.batch; b++ {
		h, err := in.tokenEmbeddings(b, m.words)
		if err != nil {
			return nil, err
		}
		for _, l := range m.layers {
			h = l.forward(h, posEmb, optionalRow(tokenTypeIDs, b), in.mask.Row(b), m.cfg.NHead, m.cfg.DHead)
		}

		var summary tensor.Mat
		switch m.cfg.SummaryType {
		case "first":
			summary = h.Rows(0, 1).Clone()
		case "mean":
			summary = tensor.NewMat(1, h.C)
			for t := 0; t < h.R; t++ {
				tensor.Add(summary.Data, h.Row(t))
			}
			tensor.Scale(summary.Data, 1/float32(h.R))
		default:
			summary = h.Rows(h.R-1, h.R).Clone()
		}
		if m.summary != nil {
			summary = m.summary.forward(summary)
		}
		tensor.Apply(summary.Data, m.summaryAct)
		logits.set(b, m.logits.forward(summary).Data)
	}
	return &SequenceClassifierOutput{Logits: logits.t}, nil
}
