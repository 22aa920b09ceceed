package tokenizer

import "fmt"

// NewBert builds a WordPiece tokenizer for BERT, DistilBERT and MobileBERT
// from the lines of a vocab.txt. Accents are stripped when lower-casing
// unless StripAccents says otherwise.
func NewBert(vocab []string, opts Options) (*Tokenizer, error) {
	m, err := newWordPiece(vocab, opts)
	if err != nil {
		return nil, err
	}
	return newTokenizer(m, bertFormat, "[CLS]", "[SEP]", "[PAD]")
}

// NewRoberta builds a byte-level BPE tokenizer for RoBERTa, BART and
// Longformer.
func NewRoberta(vocab map[string]int64, merges []string, opts Options) (*Tokenizer, error) {
	m, err := newBytePair(vocab, merges, opts)
	if err != nil {
		return nil, err
	}
	return newTokenizer(m, robertaFormat, "<s>", "</s>", "<pad>")
}

// NewAlbert builds a SentencePiece tokenizer with BERT style special tokens.
// Accents are stripped unless StripAccents is false.
func NewAlbert(pieces []Piece, opts Options) (*Tokenizer, error) {
	m, err := newUnigram(pieces, opts.LowerCase, boolOr(opts.StripAccents, true), nil)
	if err != nil {
		return nil, err
	}
	return newTokenizer(m, bertFormat, "[CLS]", "[SEP]", "<pad>")
}

// NewXLNet builds a SentencePiece tokenizer that appends <sep> and <cls>.
func NewXLNet(pieces []Piece, opts Options) (*Tokenizer, error) {
	m, err := newUnigram(pieces, opts.LowerCase, boolOr(opts.StripAccents, true), nil)
	if err != nil {
		return nil, err
	}
	return newTokenizer(m, xlnetFormat, "<cls>", "<sep>", "<pad>")
}

// NewXLMRoberta builds a SentencePiece tokenizer with the fairseq id layout.
func NewXLMRoberta(pieces []Piece, opts Options) (*Tokenizer, error) {
	m, err := newUnigram(pieces, opts.LowerCase, boolOr(opts.StripAccents, false), newFairseqOffset(len(pieces)))
	if err != nil {
		return nil, err
	}
	return newTokenizer(m, robertaFormat, "<s>", "</s>", "<pad>")
}

// LoadBert reads a vocab.txt file.
func LoadBert(vocabPath string, opts Options) (*Tokenizer, error) {
	vocab, err := readLines(vocabPath)
	if err != nil {
		return nil, err
	}
	return NewBert(vocab, opts)
}

// LoadRoberta reads vocab.json and merges.txt.
func LoadRoberta(vocabPath, mergesPath string, opts Options) (*Tokenizer, error) {
	if mergesPath == "" {
		return nil, fmt.Errorf("tokenizer: a merges file is required for byte-level BPE")
	}
	vocab, err := readVocabJSON(vocabPath)
	if err != nil {
		return nil, err
	}
	merges, err := readLines(mergesPath)
	if err != nil {
		return nil, err
	}
	return NewRoberta(vocab, merges, opts)
}

// LoadAlbert reads a spiece.model file.
func LoadAlbert(modelPath string, opts Options) (*Tokenizer, error) {
	pieces, err := readSentencePiece(modelPath)
	if err != nil {
		return nil, err
	}
	return NewAlbert(pieces, opts)
}

// LoadXLNet reads a spiece.model file.
func LoadXLNet(modelPath string, opts Options) (*Tokenizer, error) {
	pieces, err := readSentencePiece(modelPath)
	if err != nil {
		return nil, err
	}
	return NewXLNet(pieces, opts)
}

// LoadXLMRoberta reads a sentencepiece.bpe.model file.
func LoadXLMRoberta(modelPath string, opts Options) (*Tokenizer, error) {
	pieces, err := readSentencePiece(modelPath)
	if err != nil {
		return nil, err
	}
	return NewXLMRoberta(pieces, opts)
}
