package model

import (
	"fmt"
	"math"

	"github.com/samcharles93/zeroshot/internal/params"
	"github.com/samcharles93/zeroshot/internal/tensor"
)

// activation resolves a Hugging Face activation name.
func activation(name string) (func(float32) float32, error) {
	switch name {
	case "gelu", "":
		return tensor.GELU, nil
	case "gelu_new", "gelu_fast", "gelu_pytorch_tanh":
		return tensor.GELUTanh, nil
	case "relu":
		return tensor.ReLU, nil
	case "silu", "swish":
		return tensor.Silu, nil
	case "tanh":
		return tensor.Tanh, nil
	default:
		return nil, fmt.Errorf("unsupported activation %q", name)
	}
}

type linear struct {
	w tensor.Mat
	b []float32
}

// loadLinear loads p.weight [out, in] and the optional p.bias [out].
// Zero dimensions are not checked.
func loadLinear(p params.Path, in, out int) (linear, error) {
	w, err := p.Mat("weight", out, in)
	if err != nil {
		return linear{}, err
	}
	var b []float32
	if p.Has("bias") {
		if b, err = p.Vec("bias", w.R); err != nil {
			return linear{}, err
		}
	}
	return linear{w: w, b: b}, nil
}

func (l linear) in() int  { return l.w.C }
func (l linear) out() int { return l.w.R }

func (l linear) forward(x tensor.Mat) tensor.Mat {
	return tensor.Linear(x, l.w, l.b)
}

// layerNorm is a LayerNorm, or the element-wise affine "NoNorm" when noNorm
// is set.
type layerNorm struct {
	w, b   []float32
	eps    float32
	noNorm bool
}

// loadLayerNorm accepts both weight/bias and the older gamma/beta names.
func loadLayerNorm(p params.Path, dim int, eps float64) (layerNorm, error) {
	w, err := p.VecAny(dim, "weight", "gamma")
	if err != nil {
		return layerNorm{}, err
	}
	b, err := p.VecAny(dim, "bias", "beta")
	if err != nil {
		return layerNorm{}, err
	}
	return layerNorm{w: w, b: b, eps: float32(eps)}, nil
}

func (n layerNorm) forward(x tensor.Mat) {
	for i := 0; i < x.R; i++ {
		row := x.Row(i)
		if n.noNorm {
			for j := range row {
				row[j] = row[j]*n.w[j] + n.b[j]
			}
			continue
		}
		tensor.LayerNorm(row, row, n.w, n.b, n.eps)
	}
}

// addNorm computes norm(x + residual) into x.
func (n layerNorm) addNorm(x, residual tensor.Mat) {
	for i := 0; i < x.R; i++ {
		tensor.Add(x.Row(i), residual.Row(i))
	}
	n.forward(x)
}

type embedding struct {
	w tensor.Mat
}

func loadEmbedding(p params.Path, dim int) (embedding, error) {
	w, err := p.Mat("weight", 0, dim)
	if err != nil {
		return embedding{}, err
	}
	return embedding{w: w}, nil
}

func (e embedding) dim() int { return e.w.C }

// lookup gathers rows for ids into a fresh matrix.
func (e embedding) lookup(ids []int64) (tensor.Mat, error) {
	out := tensor.NewMat(len(ids), e.w.C)
	for i, id := range ids {
		if id < 0 || int(id) >= e.w.R {
			return tensor.Mat{}, fmt.Errorf("token id %d out of range for embedding with %d rows", id, e.w.R)
		}
		copy(out.Row(i), e.w.Row(int(id)))
	}
	return out, nil
}

// addLookup adds the rows for ids to x.
func (e embedding) addLookup(x tensor.Mat, ids []int64) error {
	for i, id := range ids {
		if id < 0 || int(id) >= e.w.R {
			return fmt.Errorf("index %d out of range for embedding with %d rows", id, e.w.R)
		}
		tensor.Add(x.Row(i), e.w.Row(int(id)))
	}
	return nil
}

// attention computes multi-head scaled dot-product attention of q over
// (k, v). allow(i, j) reports whether query i may attend to key j; a query
// with no allowed key yields a zero context row.
func attention(q, k, v tensor.Mat, heads int, scale float32, allow func(i, j int) bool) (tensor.Mat, error) {
	if q.C != k.C || k.R != v.R || q.C%heads != 0 || v.C%heads != 0 {
		return tensor.Mat{}, fmt.Errorf("attention shape mismatch: q=[%d %d] k=[%d %d] v=[%d %d] heads=%d", q.R, q.C, k.R, k.C, v.R, v.C, heads)
	}
	dk := q.C / heads
	dv := v.C / heads
	out := tensor.NewMat(q.R, v.C)
	scores := make([]float32, k.R)
	keys := make([]int, 0, k.R)
	for i := 0; i < q.R; i++ {
		keys = keys[:0]
		for j := 0; j < k.R; j++ {
			if allow == nil || allow(i, j) {
				keys = append(keys, j)
			}
		}
		if len(keys) == 0 {
			continue
		}
		qi := q.Row(i)
		oi := out.Row(i)
		for h := 0; h < heads; h++ {
			qh := qi[h*dk : (h+1)*dk]
			s := scores[:len(keys)]
			for n, j := range keys {
				s[n] = tensor.Dot(qh, k.Row(j)[h*dk:(h+1)*dk]) * scale
			}
			tensor.Softmax(s)
			oh := oi[h*dv : (h+1)*dv]
			for n, j := range keys {
				vh := v.Row(j)[h*dv : (h+1)*dv]
				p := s[n]
				for d := range oh {
					oh[d] += p * vh[d]
				}
			}
		}
	}
	return out, nil
}

func headScale(dim, heads int) float32 {
	return float32(1 / math.Sqrt(float64(dim/heads)))
}

// keyMask returns an allow function that admits unmasked keys.
func keyMask(mask []bool) func(i, j int) bool {
	return func(_, j int) bool { return mask[j] }
}

// selfAttention is the BERT-style projection block used by several encoders.
type selfAttention struct {
	q, k, v linear
	heads   int
}

func loadSelfAttention(p params.Path, hidden, heads int) (selfAttention, error) {
	var (
		a   selfAttention
		err error
	)
	if a.q, err = loadLinear(p.Sub("query"), hidden, 0); err != nil {
		return a, err
	}
	if a.k, err = loadLinear(p.Sub("key"), hidden, 0); err != nil {
		return a, err
	}
	if a.v, err = loadLinear(p.Sub("value"), hidden, 0); err != nil {
		return a, err
	}
	if a.q.out()%heads != 0 {
		return a, fmt.Errorf("%s: width %d not divisible by %d heads", p, a.q.out(), heads)
	}
	a.heads = heads
	return a, nil
}

func (a selfAttention) forward(h tensor.Mat, mask []bool) (tensor.Mat, error) {
	return attention(a.q.forward(h), a.k.forward(h), a.v.forward(h), a.heads, headScale(a.q.out(), a.heads), keyMask(mask))
}

// feedForward is dense -> activation -> dense.
type feedForward struct {
	up, down linear
	act      func(float32) float32
}

func (f feedForward) forward(x tensor.Mat) tensor.Mat {
	h := f.up.forward(x)
	tensor.Apply(h.Data, f.act)
	return f.down.forward(h)
}

// batchInputs normalizes the token/embedding inputs shared by the encoder
// families. Exactly one of ids and embeds must be set.
type batchInputs struct {
	batch, seqLen int
	ids           *tensor.Tokens
	embeds        *tensor.Tensor
	mask          *tensor.Mask
}

func newBatchInputs(ids *tensor.Tokens, mask *tensor.Mask, embeds *tensor.Tensor, embedDim int) (batchInputs, error) {
	var in batchInputs
	switch {
	case ids != nil && embeds != nil:
		return in, fmt.Errorf("%w: only one of input ids or input embeddings may be set", ErrMissingInput)
	case ids != nil:
		in.batch, in.seqLen, in.ids = ids.Batch, ids.SeqLen, ids
	case embeds != nil:
		if embeds.Rank() != 3 || embeds.Dim(2) != embedDim {
			return in, fmt.Errorf("input embeddings shape %v, want [batch seq %d]", embeds.Shape, embedDim)
		}
		in.batch, in.seqLen, in.embeds = embeds.Dim(0), embeds.Dim(1), embeds
	default:
		return in, fmt.Errorf("%w: input ids or input embeddings must be set", ErrMissingInput)
	}
	if mask == nil {
		mask = tensor.Ones(in.batch, in.seqLen)
	}
	if err := mask.CheckShape(in.batch, in.seqLen); err != nil {
		return in, err
	}
	in.mask = mask
	return in, nil
}

// tokenEmbeddings returns the word embeddings for sequence b.
func (in batchInputs) tokenEmbeddings(b int, words embedding) (tensor.Mat, error) {
	if in.ids != nil {
		return words.lookup(in.ids.Row(b))
	}
	m, err := tensor.NewMatFromData(in.seqLen, in.embeds.Dim(2), append([]float32(nil), in.embeds.Row(b)...))
	if err != nil {
		return tensor.Mat{}, err
	}
	return m, nil
}

// optionalRow returns row b of t or nil when t is nil.
func optionalRow(t *tensor.Tokens, b int) []int64 {
	if t == nil {
		return nil
	}
	return t.Row(b)
}

func checkTokens(name string, t *tensor.Tokens, batch, seqLen int) error {
	if t == nil {
		return nil
	}
	if t.Batch != batch || t.SeqLen != seqLen {
		return fmt.Errorf("%s shape [%d %d] does not match [%d %d]", name, t.Batch, t.SeqLen, batch, seqLen)
	}
	return nil
}
