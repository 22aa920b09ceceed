package zeroshot

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/samcharles93/zeroshot/internal/device"
	"github.com/samcharles93/zeroshot/internal/model"
	"github.com/samcharles93/zeroshot/internal/tensor"
	"github.com/samcharles93/zeroshot/internal/tokenizer"
)

var testVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]",
	"this", "example", "is", "about", "text",
	"politics", "sports", "weather", "who", "are",
	"you", "voting", "for", "in", "2020",
	"?", ".", "the", "game", "was",
	"great", "rain", "today",
}

func newTestTokenizer(t *testing.T) *tokenizer.Tokenizer {
	t.Helper()
	tok, err := tokenizer.NewBert(testVocab, tokenizer.Options{LowerCase: true})
	if err != nil {
		t.Fatalf("NewBert: %v", err)
	}
	return tok
}

// scoringNet derives logits from the tokens of each row, so results depend
// on both premise and hypothesis but never on other rows.
type scoringNet struct {
	classes int
	calls   int
	last    *tensor.Tokens
}

func (n *scoringNet) ModelType() model.ModelType { return model.Bert }

func (n *scoringNet) Forward(ids *tensor.Tokens, mask *tensor.Mask, _, _ *tensor.Tokens, _ *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	if train {
		return nil, model.ErrTrainingUnsupported
	}
	n.calls++
	n.last = ids
	out := tensor.New(ids.Batch, n.classes)
	for b := 0; b < ids.Batch; b++ {
		var s float32
		for i, id := range ids.Row(b) {
			if mask.Row(b)[i] {
				s += float32(id%7) * 0.25 * float32(i%3+1)
			}
		}
		row := out.Row(b)
		row[0] = -s / 3
		row[n.classes-1] = s / 5
	}
	return out, nil
}

type constNet struct{ classes int }

func (constNet) ModelType() model.ModelType { return model.Bert }

func (n constNet) Forward(ids *tensor.Tokens, _ *tensor.Mask, _, _ *tensor.Tokens, _ *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	return tensor.New(ids.Batch, n.classes), nil
}

type panicNet struct{}

func (panicNet) ModelType() model.ModelType { return model.Bert }

func (panicNet) Forward(*tensor.Tokens, *tensor.Mask, *tensor.Tokens, *tensor.Tokens, *tensor.Tensor, bool) (*tensor.Tensor, error) {
	panic("index out of range")
}

type failingNet struct{}

func (failingNet) ModelType() model.ModelType { return model.Bert }

func (failingNet) Forward(*tensor.Tokens, *tensor.Mask, *tensor.Tokens, *tensor.Tokens, *tensor.Tensor, bool) (*tensor.Tensor, error) {
	return nil, model.ErrMissingInput
}

var (
	testInputs = []string{"Who are you voting for in 2020?", "The game was great.", "Rain today."}
	testLabels = []string{"politics", "sports", "weather"}
)

func TestPredictShapes(t *testing.T) {
	t.Parallel()

	for _, classes := range []int{2, 3, 4} {
		e := NewEngine(newTestTokenizer(t), &scoringNet{classes: classes}, device.CPU)
		for n := 1; n <= len(testInputs); n++ {
			for l := 1; l <= len(testLabels); l++ {
				got, err := e.Predict(testInputs[:n], testLabels[:l], nil, 128)
				if err != nil {
					t.Fatalf("Predict: %v", err)
				}
				if len(got) != n {
					t.Fatalf("classes=%d N=%d L=%d: got %d labels", classes, n, l, len(got))
				}
				for i, lbl := range got {
					if lbl.Sentence != i {
						t.Fatalf("sentence index mismatch: got %d want %d", lbl.Sentence, i)
					}
					if lbl.ID < 0 || lbl.ID >= l || lbl.Text != testLabels[lbl.ID] {
						t.Fatalf("label %+v does not match candidate list", lbl)
					}
				}

				multi, err := e.PredictMultiLabel(testInputs[:n], testLabels[:l], nil, 128)
				if err != nil {
					t.Fatalf("PredictMultiLabel: %v", err)
				}
				if len(multi) != n {
					t.Fatalf("got %d multi-label rows want %d", len(multi), n)
				}
				for i, row := range multi {
					if len(row) != l {
						t.Fatalf("row %d: got %d labels want %d", i, len(row), l)
					}
					for j, lbl := range row {
						if lbl.ID != j || lbl.Sentence != i || lbl.Text != testLabels[j] {
							t.Fatalf("unexpected label %+v at [%d][%d]", lbl, i, j)
						}
						if lbl.Score < 0 || lbl.Score > 1 {
							t.Fatalf("score %v outside [0,1]", lbl.Score)
						}
					}
				}
			}
		}
	}
}

func TestPredictScoresSumToOne(t *testing.T) {
	t.Parallel()

	e := NewEngine(newTestTokenizer(t), &scoringNet{classes: 3}, device.CPU)
	scores, err := e.PredictScores(testInputs, testLabels, nil, 128)
	if err != nil {
		t.Fatalf("PredictScores: %v", err)
	}
	best, err := e.Predict(testInputs, testLabels, nil, 128)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i, row := range scores {
		sum := 0.0
		for _, s := range row {
			sum += s
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("row %d sums to %v", i, sum)
		}
		if row[best[i].ID] != best[i].Score {
			t.Fatalf("predicted score %v does not match distribution %v", best[i].Score, row)
		}
		for _, s := range row {
			if s > best[i].Score {
				t.Fatalf("label %d is not the argmax of %v", best[i].ID, row)
			}
		}
	}
}

func TestPredictSingleLabel(t *testing.T) {
	t.Parallel()

	e := NewEngine(newTestTokenizer(t), &scoringNet{classes: 3}, device.CPU)
	got, err := e.Predict(testInputs, []string{"politics"}, nil, 128)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for _, lbl := range got {
		if lbl.Score != 1 || lbl.ID != 0 || lbl.Text != "politics" {
			t.Fatalf("got %+v want politics with score 1", lbl)
		}
	}
}

func TestPredictTiesPickFirstLabel(t *testing.T) {
	t.Parallel()

	e := NewEngine(newTestTokenizer(t), constNet{classes: 3}, device.CPU)
	got, err := e.Predict(testInputs[:1], testLabels, nil, 128)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if got[0].ID != 0 {
		t.Fatalf("tie resolved to %d, want 0", got[0].ID)
	}
	if math.Abs(got[0].Score-1.0/3) > 1e-12 {
		t.Fatalf("got score %v want 1/3", got[0].Score)
	}

	multi, err := e.PredictMultiLabel(testInputs[:1], testLabels, nil, 128)
	if err != nil {
		t.Fatalf("PredictMultiLabel: %v", err)
	}
	for _, lbl := range multi[0] {
		if lbl.Score != 0.5 {
			t.Fatalf("equal logits should score 0.5, got %v", lbl.Score)
		}
	}
}

func TestPredictOrderSensitivity(t *testing.T) {
	t.Parallel()

	e := NewEngine(newTestTokenizer(t), &scoringNet{classes: 3}, device.CPU)
	base, err := e.PredictMultiLabel(testInputs, testLabels, nil, 128)
	if err != nil {
		t.Fatalf("PredictMultiLabel: %v", err)
	}

	// Reversing labels permutes ids and keeps every score.
	reversed := []string{testLabels[2], testLabels[1], testLabels[0]}
	got, err := e.PredictMultiLabel(testInputs, reversed, nil, 128)
	if err != nil {
		t.Fatalf("PredictMultiLabel: %v", err)
	}
	for i := range testInputs {
		for j := range reversed {
			want := base[i][len(testLabels)-1-j]
			if got[i][j].Text != want.Text || got[i][j].Score != want.Score || got[i][j].ID != j {
				t.Fatalf("[%d][%d]: got %+v want text %q score %v", i, j, got[i][j], want.Text, want.Score)
			}
		}
	}

	// Reversing inputs reverses the output.
	inputs := []string{testInputs[2], testInputs[1], testInputs[0]}
	single, err := e.Predict(testInputs, testLabels, nil, 128)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	flipped, err := e.Predict(inputs, testLabels, nil, 128)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i, lbl := range flipped {
		want := single[len(inputs)-1-i]
		if lbl.ID != want.ID || math.Abs(lbl.Score-want.Score) > 1e-12 || lbl.Sentence != i {
			t.Fatalf("input %d: got %+v want id %d score %v", i, lbl, want.ID, want.Score)
		}
	}
}

func TestPredictDeterministic(t *testing.T) {
	t.Parallel()

	e := NewEngine(newTestTokenizer(t), &scoringNet{classes: 3}, device.CPU)
	a, err := e.PredictScores(testInputs, testLabels, nil, 128)
	if err != nil {
		t.Fatalf("PredictScores: %v", err)
	}
	b, err := e.PredictScores(testInputs, testLabels, nil, 128)
	if err != nil {
		t.Fatalf("PredictScores: %v", err)
	}
	for i := range a {
		for j := range a[i] {
			if math.Float64bits(a[i][j]) != math.Float64bits(b[i][j]) {
				t.Fatalf("[%d][%d]: %v != %v", i, j, a[i][j], b[i][j])
			}
		}
	}
}

func TestPredictMultiLabelIgnoresNeutral(t *testing.T) {
	t.Parallel()

	net := &fixedNet{rows: [][]float32{
		{0, 100, 2},
		{1, -100, 1},
	}}
	e := NewEngine(newTestTokenizer(t), net, device.CPU)
	got, err := e.PredictMultiLabel(testInputs[:1], testLabels[:2], nil, 128)
	if err != nil {
		t.Fatalf("PredictMultiLabel: %v", err)
	}
	want := []float64{1 / (1 + math.Exp(-2)), 0.5}
	for j, lbl := range got[0] {
		if math.Abs(lbl.Score-want[j]) > 1e-12 {
			t.Fatalf("label %d: got %v want %v", j, lbl.Score, want[j])
		}
	}
}

type fixedNet struct{ rows [][]float32 }

func (fixedNet) ModelType() model.ModelType { return model.Bart }

func (n *fixedNet) Forward(ids *tensor.Tokens, _ *tensor.Mask, _, _ *tensor.Tokens, _ *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	out := tensor.New(ids.Batch, len(n.rows[0]))
	for b := 0; b < ids.Batch; b++ {
		copy(out.Row(b), n.rows[b%len(n.rows)])
	}
	return out, nil
}

func TestPredictCustomTemplate(t *testing.T) {
	t.Parallel()

	net := &scoringNet{classes: 3}
	e := NewEngine(newTestTokenizer(t), net, device.CPU)
	tmpl, err := TemplateFromFormat("This text is about {}.")
	if err != nil {
		t.Fatalf("TemplateFromFormat: %v", err)
	}
	def, err := e.Predict(testInputs, testLabels, nil, 128)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	defIDs := net.last
	custom, err := e.Predict(testInputs, testLabels, tmpl, 128)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(custom) != len(def) {
		t.Fatalf("template changed output length: %d vs %d", len(custom), len(def))
	}
	for i := range custom {
		if custom[i].Sentence != i {
			t.Fatalf("template changed output order: %+v", custom[i])
		}
	}
	if slicesEqual(defIDs.Data, net.last.Data) {
		t.Fatalf("custom template produced the same token batch")
	}
}

func slicesEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPredictTruncatesLongInputs(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("the game was great ", 50)
	net := &scoringNet{classes: 3}
	e := NewEngine(newTestTokenizer(t), net, device.CPU)
	got, err := e.Predict([]string{long, "rain"}, testLabels, nil, 16)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d labels want 2", len(got))
	}
	if net.last.SeqLen != 16 {
		t.Fatalf("batch length %d, want truncation to 16", net.last.SeqLen)
	}
}

func TestPredictErrors(t *testing.T) {
	t.Parallel()

	tok := newTestTokenizer(t)
	tests := []struct {
		name   string
		net    Classifier
		inputs []string
		labels []string
		want   error
	}{
		{"no inputs", &scoringNet{classes: 3}, nil, testLabels, ErrEmptyInputs},
		{"no labels", &scoringNet{classes: 3}, testInputs, nil, ErrEmptyLabels},
		{"panic", panicNet{}, testInputs, testLabels, ErrForward},
		{"network error", failingNet{}, testInputs, testLabels, model.ErrMissingInput},
		{"one class", constNet{classes: 1}, testInputs, testLabels, ErrForward},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := NewEngine(tok, tc.net, device.CPU)
			if _, err := e.Predict(tc.inputs, tc.labels, nil, 128); !errors.Is(err, tc.want) {
				t.Fatalf("Predict: got %v want %v", err, tc.want)
			}
			if _, err := e.PredictMultiLabel(tc.inputs, tc.labels, nil, 128); !errors.Is(err, tc.want) {
				t.Fatalf("PredictMultiLabel: got %v want %v", err, tc.want)
			}
		})
	}
}

func TestPredictPanicMessage(t *testing.T) {
	t.Parallel()

	e := NewEngine(newTestTokenizer(t), panicNet{}, device.CPU)
	_, err := e.Predict(testInputs, testLabels, nil, 128)
	if err == nil || !strings.Contains(err.Error(), "panic in forward pass: index out of range") {
		t.Fatalf("unexpected error: %v", err)
	}
}
