package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

const (
	wordPiecePrefix   = "##"
	wordPieceMaxChars = 100
)

type wordPiece struct {
	vocab  map[string]int64
	unk    int64
	lower  bool
	strip  bool
	splits map[string]bool
}

func newWordPiece(tokens []string, opts Options) (*wordPiece, error) {
	w := &wordPiece{
		vocab:  make(map[string]int64, len(tokens)),
		lower:  opts.LowerCase,
		strip:  boolOr(opts.StripAccents, opts.LowerCase),
		splits: map[string]bool{},
	}
	for i, tok := range tokens {
		if _, dup := w.vocab[tok]; !dup {
			w.vocab[tok] = int64(i)
		}
	}
	unk, ok := w.vocab["[UNK]"]
	if !ok {
		return nil, fmt.Errorf("wordpiece: vocabulary has no [UNK] token")
	}
	w.unk = unk
	for _, tok := range []string{"[CLS]", "[SEP]", "[PAD]", "[UNK]", "[MASK]"} {
		w.splits[tok] = true
	}
	return w, nil
}

func (w *wordPiece) size() int { return len(w.vocab) }

func (w *wordPiece) tokenID(tok string) (int64, bool) {
	id, ok := w.vocab[tok]
	return id, ok
}

// basic runs the pre-tokenization pass: cleanup, case and accent folding,
// whitespace and punctuation splitting.
func (w *wordPiece) basic(text string) []string {
	var out []string
	for _, word := range strings.Fields(cleanText(text)) {
		if w.splits[word] {
			out = append(out, word)
			continue
		}
		if w.lower {
			word = strings.ToLower(word)
		}
		if w.strip {
			word = stripAccents(word)
		}
		out = append(out, splitPunctuation(word)...)
	}
	return out
}

func (w *wordPiece) encode(text string) ([]int64, error) {
	var ids []int64
	for _, word := range w.basic(text) {
		ids = w.appendWord(ids, word)
	}
	return ids, nil
}

// appendWord greedily matches the longest vocabulary prefix, continuing with
// "##" pieces. Words that cannot be covered become a single [UNK].
func (w *wordPiece) appendWord(ids []int64, word string) []int64 {
	if id, ok := w.vocab[word]; ok && w.splits[word] {
		return append(ids, id)
	}
	chars := []rune(word)
	if len(chars) > wordPieceMaxChars {
		return append(ids, w.unk)
	}
	mark := len(ids)
	for start := 0; start < len(chars); {
		end := len(chars)
		found := false
		for end > start {
			sub := string(chars[start:end])
			if start > 0 {
				sub = wordPiecePrefix + sub
			}
			if id, ok := w.vocab[sub]; ok {
				ids = append(ids, id)
				found = true
				break
			}
			end--
		}
		if !found {
			return append(ids[:mark], w.unk)
		}
		start = end
	}
	return ids
}

// readLines reads a newline separated vocabulary file.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}
