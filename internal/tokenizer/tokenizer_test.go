package tokenizer

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

var bertVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]",
	"the", "cat", "sat", "play", "##ing", "!", "this", "example", "is", "about", "sports", ".",
}

func newTestBert(t *testing.T, opts Options) *Tokenizer {
	t.Helper()
	tok, err := NewBert(bertVocab, opts)
	if err != nil {
		t.Fatalf("NewBert: %v", err)
	}
	return tok
}

func TestWordPieceEncode(t *testing.T) {
	t.Parallel()
	tok := newTestBert(t, Options{LowerCase: true})
	tests := []struct {
		in   string
		want []int64
	}{
		{in: "The cat playing!", want: []int64{5, 6, 8, 9, 10}},
		{in: "the dog", want: []int64{5, 1}},
		{in: "playx", want: []int64{1}},
		{in: "Thé\tcat", want: []int64{5, 6}},
		{in: "", want: nil},
	}
	for _, tt := range tests {
		got, err := tok.Encode(tt.in)
		if err != nil {
			t.Fatalf("Encode(%q): %v", tt.in, err)
		}
		if !slices.Equal(got, tt.want) {
			t.Fatalf("Encode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWordPieceKeepsCaseWhenNotLowering(t *testing.T) {
	t.Parallel()
	tok := newTestBert(t, Options{})
	got, err := tok.Encode("The cat")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := []int64{1, 6}; !slices.Equal(got, want) {
		t.Fatalf("Encode = %v, want %v", got, want)
	}
}

func TestBertPairFormat(t *testing.T) {
	t.Parallel()
	tok := newTestBert(t, Options{LowerCase: true})
	enc, err := tok.EncodePair(Pair{First: "the cat", Second: "This example is about sports."}, 0, LongestFirst, 0)
	if err != nil {
		t.Fatalf("EncodePair: %v", err)
	}
	wantIDs := []int64{2, 5, 6, 3, 11, 12, 13, 14, 15, 16, 3}
	wantTypes := []int64{0, 0, 0, 0, 1, 1, 1, 1, 1, 1, 1}
	if !slices.Equal(enc.IDs, wantIDs) {
		t.Fatalf("ids = %v, want %v", enc.IDs, wantIDs)
	}
	if !slices.Equal(enc.TypeIDs, wantTypes) {
		t.Fatalf("type ids = %v, want %v", enc.TypeIDs, wantTypes)
	}
	if !enc.SpecialTokensMask[0] || enc.SpecialTokensMask[1] || !enc.SpecialTokensMask[len(wantIDs)-1] {
		t.Fatalf("special mask = %v", enc.SpecialTokensMask)
	}
	if pad, ok := tok.PadID(); !ok || pad != 0 {
		t.Fatalf("PadID() = %d, %v, want 0, true", pad, ok)
	}
}

func TestEncodePairListTruncates(t *testing.T) {
	t.Parallel()
	tok := newTestBert(t, Options{LowerCase: true})
	pairs := []Pair{
		{First: "the cat sat the cat sat", Second: "this is sports"},
		{First: "the cat", Second: "sports"},
	}
	encs, err := tok.EncodePairList(pairs, 8, LongestFirst, 0)
	if err != nil {
		t.Fatalf("EncodePairList: %v", err)
	}
	if len(encs) != 2 {
		t.Fatalf("got %d encodings, want 2", len(encs))
	}
	if got := len(encs[0].IDs); got != 8 {
		t.Fatalf("first encoding length = %d, want 8", got)
	}
	if got := len(encs[1].IDs); got != 6 {
		t.Fatalf("second encoding length = %d, want 6", got)
	}
	if len(encs[0].Overflow) == 0 {
		t.Fatal("expected overflow tokens for the truncated pair")
	}

	if _, err := tok.EncodePairList(pairs, 2, LongestFirst, 0); !errors.Is(err, ErrSequenceTooLong) {
		t.Fatalf("err = %v, want ErrSequenceTooLong", err)
	}
}

func TestTruncatePair(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		a, b         []int64
		budget       int
		strategy     TruncationStrategy
		stride       int
		wantA, wantB []int64
		wantOverflow []int64
		wantErr      bool
	}{
		{
			name: "fits", a: []int64{1, 2}, b: []int64{3}, budget: 3, strategy: DoNotTruncate,
			wantA: []int64{1, 2}, wantB: []int64{3},
		},
		{
			name: "longest first trims longer", a: []int64{1, 2, 3, 4, 5}, b: []int64{6, 7}, budget: 5, strategy: LongestFirst,
			wantA: []int64{1, 2, 3}, wantB: []int64{6, 7}, wantOverflow: []int64{4, 5},
		},
		{
			name: "longest first tie trims first", a: []int64{1, 2, 3}, b: []int64{4, 5, 6}, budget: 5, strategy: LongestFirst,
			wantA: []int64{1, 2}, wantB: []int64{4, 5, 6}, wantOverflow: []int64{3},
		},
		{
			name: "longest first alternates", a: []int64{1, 2}, b: []int64{3, 4, 5, 6}, budget: 4, strategy: LongestFirst,
			wantA: []int64{1, 2}, wantB: []int64{3, 4}, wantOverflow: []int64{5, 6},
		},
		{
			name: "only first with stride", a: []int64{1, 2, 3, 4, 5}, b: nil, budget: 3, strategy: OnlyFirst, stride: 1,
			wantA: []int64{1, 2, 3}, wantB: nil, wantOverflow: []int64{3, 4, 5},
		},
		{
			name: "only second", a: []int64{1}, b: []int64{2, 3, 4}, budget: 2, strategy: OnlySecond,
			wantA: []int64{1}, wantB: []int64{2}, wantOverflow: []int64{3, 4},
		},
		{name: "only first too short", a: []int64{1}, b: []int64{2, 3, 4}, budget: 2, strategy: OnlyFirst, wantErr: true},
		{name: "do not truncate", a: []int64{1, 2}, b: []int64{3}, budget: 2, strategy: DoNotTruncate, wantErr: true},
		{name: "negative budget", a: []int64{1}, budget: -1, strategy: LongestFirst, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, b, overflow, err := truncatePair(tt.a, tt.b, tt.budget, tt.strategy, tt.stride)
			if tt.wantErr {
				if !errors.Is(err, ErrSequenceTooLong) {
					t.Fatalf("err = %v, want ErrSequenceTooLong", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(a, tt.wantA) || !slices.Equal(b, tt.wantB) {
				t.Fatalf("got (%v, %v), want (%v, %v)", a, b, tt.wantA, tt.wantB)
			}
			if !slices.Equal(overflow, tt.wantOverflow) {
				t.Fatalf("overflow = %v, want %v", overflow, tt.wantOverflow)
			}
		})
	}
}

func newTestRoberta(t *testing.T, opts Options) *Tokenizer {
	t.Helper()
	vocab := map[string]int64{
		"<s>": 0, "<pad>": 1, "</s>": 2, "<unk>": 3,
		"h": 4, "e": 5, "l": 6, "o": 7, "Ġ": 8,
		"he": 9, "ll": 10, "hell": 11, "hello": 12, "Ġhello": 13,
	}
	merges := []string{"#version: 0.2", "h e", "l l", "he ll", "hell o", "Ġ hello"}
	tok, err := NewRoberta(vocab, merges, opts)
	if err != nil {
		t.Fatalf("NewRoberta: %v", err)
	}
	return tok
}

func TestByteLevelBPE(t *testing.T) {
	t.Parallel()
	prefix := true
	tests := []struct {
		name string
		opts Options
		in   string
		want []int64
	}{
		{name: "merges", in: "hello hello", want: []int64{12, 13}},
		{name: "prefix space", opts: Options{AddPrefixSpace: &prefix}, in: "hello", want: []int64{13}},
		{name: "lower case", opts: Options{LowerCase: true}, in: "HELLO", want: []int64{12}},
		{name: "unknown byte", in: "hellox", want: []int64{12, 3}},
		{name: "special token", in: "hello</s>", want: []int64{12, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tok := newTestRoberta(t, tt.opts)
			got, err := tok.Encode(tt.in)
			if err != nil {
				t.Fatalf("Encode(%q): %v", tt.in, err)
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("Encode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestBytePairCacheBounded(t *testing.T) {
	t.Parallel()
	vocab := map[string]int64{"<unk>": 0, "h": 1, "e": 2, "he": 3}
	m, err := newBytePair(vocab, []string{"h e"}, Options{})
	if err != nil {
		t.Fatalf("newBytePair: %v", err)
	}
	m.cacheLimit = 4
	for i := range 10 {
		tok := "he" + strings.Repeat("h", i)
		if got := m.bpe(tok); got[0] != "he" {
			t.Fatalf("bpe(%q) = %v", tok, got)
		}
		if len(m.cache) > m.cacheLimit {
			t.Fatalf("cache holds %d entries, limit %d", len(m.cache), m.cacheLimit)
		}
	}
	if got := m.bpe("he"); !slices.Equal(got, []string{"he"}) {
		t.Fatalf("bpe after reset = %v", got)
	}
}

func TestRobertaPairFormat(t *testing.T) {
	t.Parallel()
	tok := newTestRoberta(t, Options{})
	enc, err := tok.EncodePair(Pair{First: "hello", Second: "hello"}, 0, LongestFirst, 0)
	if err != nil {
		t.Fatalf("EncodePair: %v", err)
	}
	if want := []int64{0, 12, 2, 2, 12, 2}; !slices.Equal(enc.IDs, want) {
		t.Fatalf("ids = %v, want %v", enc.IDs, want)
	}
	for _, typ := range enc.TypeIDs {
		if typ != 0 {
			t.Fatalf("type ids = %v, want all zero", enc.TypeIDs)
		}
	}
	if pad, ok := tok.PadID(); !ok || pad != 1 {
		t.Fatalf("PadID() = %d, %v", pad, ok)
	}
}

func TestMissingPadToken(t *testing.T) {
	t.Parallel()
	vocab := []string{"[UNK]", "[CLS]", "[SEP]", "word"}
	tok, err := NewBert(vocab, Options{})
	if err != nil {
		t.Fatalf("NewBert: %v", err)
	}
	if _, ok := tok.PadID(); ok {
		t.Fatal("PadID reported a pad token for a vocabulary without one")
	}
}

func albertPieces() []Piece {
	return []Piece{
		{Text: "<pad>", Type: PieceControl},
		{Text: "<unk>", Type: PieceUnknown},
		{Text: "[CLS]", Type: PieceControl},
		{Text: "[SEP]", Type: PieceControl},
		{Text: "▁hello", Score: -1},
		{Text: "▁he", Score: -2},
		{Text: "llo", Score: -2},
		{Text: "▁", Score: -3},
		{Text: "h", Score: -4},
		{Text: "e", Score: -4},
		{Text: "l", Score: -4},
		{Text: "o", Score: -4},
		{Text: "▁world", Score: -1.5},
	}
}

func TestSentencePieceViterbi(t *testing.T) {
	t.Parallel()
	tok, err := NewAlbert(albertPieces(), Options{LowerCase: true})
	if err != nil {
		t.Fatalf("NewAlbert: %v", err)
	}
	tests := []struct {
		in   string
		want []int64
	}{
		{in: "Hello   world", want: []int64{4, 12}},
		{in: "héllo", want: []int64{4}},
		{in: "hi", want: []int64{7, 8, 1}},
		{in: "qq", want: []int64{7, 1}},
		{in: "  ", want: nil},
	}
	for _, tt := range tests {
		got, err := tok.Encode(tt.in)
		if err != nil {
			t.Fatalf("Encode(%q): %v", tt.in, err)
		}
		if !slices.Equal(got, tt.want) {
			t.Fatalf("Encode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	enc, err := tok.EncodePair(Pair{First: "hello", Second: "world"}, 0, LongestFirst, 0)
	if err != nil {
		t.Fatalf("EncodePair: %v", err)
	}
	if want := []int64{2, 4, 3, 12, 3}; !slices.Equal(enc.IDs, want) {
		t.Fatalf("ids = %v, want %v", enc.IDs, want)
	}
	if pad, ok := tok.PadID(); !ok || pad != 0 {
		t.Fatalf("PadID() = %d, %v", pad, ok)
	}
}

func xlmrPieces() []Piece {
	return []Piece{
		{Text: "<unk>", Type: PieceUnknown},
		{Text: "<s>", Type: PieceControl},
		{Text: "</s>", Type: PieceControl},
		{Text: "▁hello", Score: -1},
		{Text: "▁world", Score: -1.5},
		{Text: "▁", Score: -3},
	}
}

func TestXLMRobertaFairseqIDs(t *testing.T) {
	t.Parallel()
	pieces := xlmrPieces()
	tok, err := NewXLMRoberta(pieces, Options{})
	if err != nil {
		t.Fatalf("NewXLMRoberta: %v", err)
	}
	enc, err := tok.EncodePair(Pair{First: "hello", Second: "world"}, 0, LongestFirst, 0)
	if err != nil {
		t.Fatalf("EncodePair: %v", err)
	}
	if want := []int64{0, 4, 2, 2, 5, 2}; !slices.Equal(enc.IDs, want) {
		t.Fatalf("ids = %v, want %v", enc.IDs, want)
	}
	if pad, ok := tok.PadID(); !ok || pad != 1 {
		t.Fatalf("PadID() = %d, %v, want 1", pad, ok)
	}
	if got, _ := tok.Encode("zz"); !slices.Equal(got, []int64{6, 3}) {
		t.Fatalf("Encode(zz) = %v, want [6 3]", got)
	}
	if got := tok.VocabSize(); got != len(pieces)+2 {
		t.Fatalf("VocabSize() = %d, want %d", got, len(pieces)+2)
	}
	if id, ok := tok.TokenID("<mask>"); !ok || id != int64(len(pieces)+1) {
		t.Fatalf("TokenID(<mask>) = %d, %v", id, ok)
	}
}

func TestXLNetPairFormat(t *testing.T) {
	t.Parallel()
	pieces := []Piece{
		{Text: "<unk>", Type: PieceUnknown},
		{Text: "<s>", Type: PieceControl},
		{Text: "</s>", Type: PieceControl},
		{Text: "<cls>", Type: PieceControl},
		{Text: "<sep>", Type: PieceControl},
		{Text: "<pad>", Type: PieceControl},
		{Text: "▁hello", Score: -1},
		{Text: "▁world", Score: -1.5},
	}
	tok, err := NewXLNet(pieces, Options{})
	if err != nil {
		t.Fatalf("NewXLNet: %v", err)
	}
	enc, err := tok.EncodePair(Pair{First: "hello", Second: "world"}, 0, LongestFirst, 0)
	if err != nil {
		t.Fatalf("EncodePair: %v", err)
	}
	if want := []int64{6, 4, 7, 4, 3}; !slices.Equal(enc.IDs, want) {
		t.Fatalf("ids = %v, want %v", enc.IDs, want)
	}
	if want := []int64{0, 0, 1, 1, 2}; !slices.Equal(enc.TypeIDs, want) {
		t.Fatalf("type ids = %v, want %v", enc.TypeIDs, want)
	}
}

func TestLoadFromFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	vocabPath := filepath.Join(dir, "vocab.txt")
	if err := os.WriteFile(vocabPath, []byte(strings.Join(bertVocab, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	bert, err := LoadBert(vocabPath, Options{LowerCase: true})
	if err != nil {
		t.Fatalf("LoadBert: %v", err)
	}
	if got := bert.VocabSize(); got != len(bertVocab) {
		t.Fatalf("VocabSize() = %d, want %d", got, len(bertVocab))
	}

	// A trainer spec field ahead of the pieces must be skipped.
	var model []byte
	model = protowire.AppendTag(model, 2, protowire.BytesType)
	model = protowire.AppendBytes(model, []byte{0x18, 0x01})
	model = AppendPieces(model, albertPieces())
	spmPath := filepath.Join(dir, "spiece.model")
	if err := os.WriteFile(spmPath, model, 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	albert, err := LoadAlbert(spmPath, Options{LowerCase: true})
	if err != nil {
		t.Fatalf("LoadAlbert: %v", err)
	}
	got, err := albert.Encode("hello world")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := []int64{4, 12}; !slices.Equal(got, want) {
		t.Fatalf("Encode = %v, want %v", got, want)
	}

	if _, err := LoadRoberta(filepath.Join(dir, "vocab.json"), "", Options{}); err == nil {
		t.Fatal("expected error without a merges file")
	}
}

func TestParseSentencePieceRejectsGarbage(t *testing.T) {
	t.Parallel()
	if _, err := ParseSentencePiece([]byte{0x0a, 0xff}); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParseSentencePiece(nil); err == nil {
		t.Fatal("expected error for a model without pieces")
	}
}

func TestUnsetPieceTypeIsNormal(t *testing.T) {
	t.Parallel()
	pieces := albertPieces()
	parsed, err := ParseSentencePiece(AppendPieces(nil, pieces))
	if err != nil {
		t.Fatalf("ParseSentencePiece: %v", err)
	}

	direct, err := NewAlbert(pieces, Options{LowerCase: true})
	if err != nil {
		t.Fatalf("NewAlbert(direct): %v", err)
	}
	loaded, err := NewAlbert(parsed, Options{LowerCase: true})
	if err != nil {
		t.Fatalf("NewAlbert(parsed): %v", err)
	}
	for _, in := range []string{"Hello   world", "hi", "qq"} {
		a, err := direct.Encode(in)
		if err != nil {
			t.Fatalf("Encode(%q): %v", in, err)
		}
		b, err := loaded.Encode(in)
		if err != nil {
			t.Fatalf("Encode(%q): %v", in, err)
		}
		if !slices.Equal(a, b) {
			t.Fatalf("Encode(%q) = %v, parsed model gives %v", in, a, b)
		}
	}

	for i, p := range pieces {
		if p.Type != albertPieces()[i].Type {
			t.Fatalf("piece %d type changed to %d", i, p.Type)
		}
	}
}
