package tokenizer

import (
	"errors"
	"fmt"
)

// ErrSequenceTooLong is returned when a pair cannot fit in the requested
// length under the selected truncation strategy.
var ErrSequenceTooLong = errors.New("sequence too long")

// TruncationStrategy selects which side of a pair loses tokens when the
// encoded pair exceeds the maximum length.
type TruncationStrategy int

const (
	// LongestFirst removes one token at a time from the longer sequence.
	// Ties remove from the first sequence.
	LongestFirst TruncationStrategy = iota
	OnlyFirst
	OnlySecond
	DoNotTruncate
)

func (s TruncationStrategy) String() string {
	switch s {
	case LongestFirst:
		return "longest_first"
	case OnlyFirst:
		return "only_first"
	case OnlySecond:
		return "only_second"
	case DoNotTruncate:
		return "do_not_truncate"
	default:
		return fmt.Sprintf("TruncationStrategy(%d)", int(s))
	}
}

// Pair is a premise/hypothesis style input pair.
type Pair struct {
	First  string
	Second string
}

// Encoding is one tokenized pair with special tokens applied.
type Encoding struct {
	IDs               []int64
	TypeIDs           []int64
	SpecialTokensMask []bool
	// Overflow holds the tokens removed by truncation, each run preceded by
	// up to stride tokens of context from the kept part.
	Overflow []int64
}

// Options are the text normalization flags of a model's tokenizer. Nil
// pointers select the family default.
type Options struct {
	LowerCase      bool
	StripAccents   *bool
	AddPrefixSpace *bool
}

// subwordModel turns normalized text into vocabulary ids.
type subwordModel interface {
	encode(text string) ([]int64, error)
	tokenID(tok string) (int64, bool)
	size() int
}

// pairFormat places special tokens around one or two sequences.
type pairFormat int

const (
	// bertFormat: [CLS] A [SEP] B [SEP]
	bertFormat pairFormat = iota
	// robertaFormat: <s> A </s></s> B </s>
	robertaFormat
	// xlnetFormat: A <sep> B <sep> <cls>
	xlnetFormat
)

func (f pairFormat) added(pair bool) int {
	switch {
	case !pair:
		return 2
	case f == robertaFormat:
		return 4
	default:
		return 3
	}
}

type specialIDs struct {
	cls, sep int64
	pad      int64
	hasPad   bool
}

// Tokenizer encodes text pairs for a sequence classification model.
// It is safe for concurrent use.
type Tokenizer struct {
	model   subwordModel
	format  pairFormat
	special specialIDs
}

func newTokenizer(m subwordModel, f pairFormat, cls, sep, pad string) (*Tokenizer, error) {
	t := &Tokenizer{model: m, format: f}
	var ok bool
	if t.special.cls, ok = m.tokenID(cls); !ok {
		return nil, fmt.Errorf("tokenizer: vocabulary has no %q token", cls)
	}
	if t.special.sep, ok = m.tokenID(sep); !ok {
		return nil, fmt.Errorf("tokenizer: vocabulary has no %q token", sep)
	}
	t.special.pad, t.special.hasPad = m.tokenID(pad)
	return t, nil
}

// PadID returns the padding token id, if the vocabulary defines one.
func (t *Tokenizer) PadID() (int64, bool) {
	return t.special.pad, t.special.hasPad
}

// VocabSize returns the number of ids the tokenizer can produce.
func (t *Tokenizer) VocabSize() int { return t.model.size() }

// TokenID looks up a single vocabulary entry.
func (t *Tokenizer) TokenID(tok string) (int64, bool) { return t.model.tokenID(tok) }

// Encode tokenizes text without special tokens.
func (t *Tokenizer) Encode(text string) ([]int64, error) {
	return t.model.encode(text)
}

// EncodePairList encodes every pair independently. Encodings are not padded.
func (t *Tokenizer) EncodePairList(pairs []Pair, maxLen int, strategy TruncationStrategy, stride int) ([]Encoding, error) {
	out := make([]Encoding, len(pairs))
	for i, p := range pairs {
		enc, err := t.EncodePair(p, maxLen, strategy, stride)
		if err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
		out[i] = enc
	}
	return out, nil
}

// EncodePair tokenizes both sequences, truncates them to fit maxLen including
// special tokens, and applies the model's pair format. maxLen <= 0 disables
// truncation.
func (t *Tokenizer) EncodePair(p Pair, maxLen int, strategy TruncationStrategy, stride int) (Encoding, error) {
	a, err := t.model.encode(p.First)
	if err != nil {
		return Encoding{}, err
	}
	b, err := t.model.encode(p.Second)
	if err != nil {
		return Encoding{}, err
	}
	var overflow []int64
	if maxLen > 0 {
		if a, b, overflow, err = truncatePair(a, b, maxLen-t.format.added(true), strategy, stride); err != nil {
			return Encoding{}, err
		}
	}
	enc := t.build(a, b)
	enc.Overflow = overflow
	return enc, nil
}

func (t *Tokenizer) build(a, b []int64) Encoding {
	n := len(a) + len(b) + t.format.added(true)
	enc := Encoding{
		IDs:               make([]int64, 0, n),
		TypeIDs:           make([]int64, 0, n),
		SpecialTokensMask: make([]bool, 0, n),
	}
	push := func(id, typ int64, special bool) {
		enc.IDs = append(enc.IDs, id)
		enc.TypeIDs = append(enc.TypeIDs, typ)
		enc.SpecialTokensMask = append(enc.SpecialTokensMask, special)
	}
	seq := func(ids []int64, typ int64) {
		for _, id := range ids {
			push(id, typ, false)
		}
	}
	cls, sep := t.special.cls, t.special.sep
	switch t.format {
	case robertaFormat:
		push(cls, 0, true)
		seq(a, 0)
		push(sep, 0, true)
		push(sep, 0, true)
		seq(b, 0)
		push(sep, 0, true)
	case xlnetFormat:
		seq(a, 0)
		push(sep, 0, true)
		seq(b, 1)
		push(sep, 1, true)
		push(cls, 2, true)
	default:
		push(cls, 0, true)
		seq(a, 0)
		push(sep, 0, true)
		seq(b, 1)
		push(sep, 1, true)
	}
	return enc
}

// truncatePair trims a and b so that len(a)+len(b) <= budget.
func truncatePair(a, b []int64, budget int, strategy TruncationStrategy, stride int) ([]int64, []int64, []int64, error) {
	if budget < 0 {
		return nil, nil, nil, fmt.Errorf("%w: max length leaves no room for special tokens", ErrSequenceTooLong)
	}
	remove := len(a) + len(b) - budget
	if remove <= 0 {
		return a, b, nil, nil
	}
	var keepA, keepB int
	switch strategy {
	case LongestFirst:
		keepA, keepB = len(a), len(b)
		for range remove {
			if keepA >= keepB {
				keepA--
			} else {
				keepB--
			}
		}
	case OnlyFirst:
		if remove > len(a) {
			return nil, nil, nil, fmt.Errorf("%w: first sequence has %d tokens, %d must be removed", ErrSequenceTooLong, len(a), remove)
		}
		keepA, keepB = len(a)-remove, len(b)
	case OnlySecond:
		if remove > len(b) {
			return nil, nil, nil, fmt.Errorf("%w: second sequence has %d tokens, %d must be removed", ErrSequenceTooLong, len(b), remove)
		}
		keepA, keepB = len(a), len(b)-remove
	case DoNotTruncate:
		return nil, nil, nil, fmt.Errorf("%w: %d tokens over the limit and truncation is disabled", ErrSequenceTooLong, remove)
	default:
		return nil, nil, nil, fmt.Errorf("unknown truncation strategy %v", strategy)
	}
	overflow := append(overflowRun(a, keepA, stride), overflowRun(b, keepB, stride)...)
	return a[:keepA], b[:keepB], overflow, nil
}

func overflowRun(seq []int64, keep, stride int) []int64 {
	if keep == len(seq) {
		return nil
	}
	from := max(0, keep-max(0, stride))
	return append([]int64(nil), seq[from:]...)
}
