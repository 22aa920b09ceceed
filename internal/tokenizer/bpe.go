package tokenizer

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// bpePair is a pair of adjacent BPE symbols.
type bpePair struct {
	a, b string
}

// Go regexp does not support lookahead, so the trailing whitespace branch of
// the GPT-2 pattern collapses into a plain \s+ match.
var gpt2Pattern = regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)

// bytePairModel is the byte-level BPE used by RoBERTa, BART and Longformer.
type bytePairModel struct {
	encoder     map[string]int64
	bpeRanks    map[bpePair]int
	byteEncoder map[byte]string
	specials    []string
	unk         int64
	hasUnk      bool
	lower       bool
	prefixSpace bool

	mu         sync.Mutex
	cache      map[string][]string
	cacheLimit int
}

// bpeCacheEntries bounds the merge cache. A full cache is reset rather
// than evicted piecemeal.
const bpeCacheEntries = 1 << 16

func newBytePair(vocab map[string]int64, merges []string, opts Options) (*bytePairModel, error) {
	if len(vocab) == 0 {
		return nil, fmt.Errorf("bpe: empty vocabulary")
	}
	bpeRanks := make(map[bpePair]int, len(merges))
	rank := 0
	for _, line := range merges {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, " ")
		if len(parts) != 2 {
			continue
		}
		p := bpePair{a: parts[0], b: parts[1]}
		if _, ok := bpeRanks[p]; !ok {
			bpeRanks[p] = rank
			rank++
		}
	}
	byteEncoder, _ := bytesToUnicode()
	m := &bytePairModel{
		encoder:     vocab,
		bpeRanks:    bpeRanks,
		byteEncoder: byteEncoder,
		lower:       opts.LowerCase,
		prefixSpace: boolOr(opts.AddPrefixSpace, false),
		cache:       make(map[string][]string),
		cacheLimit:  bpeCacheEntries,
	}
	m.unk, m.hasUnk = vocab["<unk>"]
	var specials []string
	for _, tok := range []string{"<s>", "</s>", "<pad>", "<unk>", "<mask>"} {
		if _, ok := vocab[tok]; ok {
			specials = append(specials, tok)
		}
	}
	m.specials = longestFirst(specials)
	return m, nil
}

func (m *bytePairModel) size() int { return len(m.encoder) }

func (m *bytePairModel) tokenID(tok string) (int64, bool) {
	id, ok := m.encoder[tok]
	return id, ok
}

func (m *bytePairModel) encode(text string) ([]int64, error) {
	if m.lower {
		text = strings.ToLower(text)
	}
	if m.prefixSpace && text != "" && !isWhitespace([]rune(text)[0]) {
		text = " " + text
	}
	var ids []int64
	for _, part := range splitSpecials(text, m.specials) {
		if part.isSpecial {
			ids = append(ids, m.encoder[part.text])
			continue
		}
		for _, token := range gpt2Pattern.FindAllString(part.text, -1) {
			for _, sym := range m.bpe(m.byteEncode(token)) {
				id, ok := m.encoder[sym]
				if !ok {
					if m.hasUnk {
						ids = append(ids, m.unk)
						continue
					}
					return nil, fmt.Errorf("bpe: unknown token %q", sym)
				}
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (m *bytePairModel) byteEncode(s string) string {
	var b strings.Builder
	for _, by := range []byte(s) {
		b.WriteString(m.byteEncoder[by])
	}
	return b.String()
}

func (m *bytePairModel) bpe(token string) []string {
	m.mu.Lock()
	v, ok := m.cache[token]
	m.mu.Unlock()
	if ok {
		return v
	}
	word := splitRunes(token)
	pairs := getPairs(word)
	for len(pairs) > 0 {
		bestRank := int(^uint(0) >> 1)
		bestPair := bpePair{}
		found := false
		for p := range pairs {
			if rank, ok := m.bpeRanks[p]; ok && rank < bestRank {
				bestRank = rank
				bestPair = p
				found = true
			}
		}
		if !found {
			break
		}
		word = mergePair(word, bestPair)
		if len(word) == 1 {
			break
		}
		pairs = getPairs(word)
	}
	m.mu.Lock()
	if len(m.cache) >= m.cacheLimit {
		clear(m.cache)
	}
	m.cache[token] = word
	m.mu.Unlock()
	return word
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func getPairs(word []string) map[bpePair]struct{} {
	pairs := make(map[bpePair]struct{})
	if len(word) < 2 {
		return pairs
	}
	prev := word[0]
	for _, w := range word[1:] {
		pairs[bpePair{a: prev, b: w}] = struct{}{}
		prev = w
	}
	return pairs
}

func mergePair(word []string, pair bpePair) []string {
	var out []string
	for i := 0; i < len(word); i++ {
		if i < len(word)-1 && word[i] == pair.a && word[i+1] == pair.b {
			out = append(out, word[i]+word[i+1])
			i++
			continue
		}
		out = append(out, word[i])
	}
	return out
}

type textPart struct {
	text      string
	isSpecial bool
}

// longestFirst orders special tokens so longer matches win.
func longestFirst(tokens []string) []string {
	out := append([]string(nil), tokens...)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && len(out[j]) > len(out[j-1]) {
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}
	return out
}

func splitSpecials(text string, specials []string) []textPart {
	if len(specials) == 0 || !strings.Contains(text, "<") {
		return []textPart{{text: text}}
	}
	var parts []textPart
	var buf strings.Builder
	for i := 0; i < len(text); {
		match := ""
		for _, sp := range specials {
			if i+len(sp) <= len(text) && text[i:i+len(sp)] == sp {
				match = sp
				break
			}
		}
		if match != "" {
			if buf.Len() > 0 {
				parts = append(parts, textPart{text: buf.String()})
				buf.Reset()
			}
			parts = append(parts, textPart{text: match, isSpecial: true})
			i += len(match)
			continue
		}
		buf.WriteByte(text[i])
		i++
	}
	if buf.Len() > 0 {
		parts = append(parts, textPart{text: buf.String()})
	}
	return parts
}

// bytesToUnicode maps bytes to unicode strings to make BPE reversible.
func bytesToUnicode() (map[byte]string, map[string]byte) {
	var bs []int
	for i := int('!'); i <= int('~'); i++ {
		bs = append(bs, i)
	}
	for i := int('¡'); i <= int('¬'); i++ {
		bs = append(bs, i)
	}
	for i := int('®'); i <= int('ÿ'); i++ {
		bs = append(bs, i)
	}

	cs := make([]int, len(bs))
	copy(cs, bs)
	n := 0
	for b := 0; b < 256; b++ {
		found := false
		for _, v := range bs {
			if v == b {
				found = true
				break
			}
		}
		if !found {
			bs = append(bs, b)
			cs = append(cs, 256+n)
			n++
		}
	}

	byteEncoder := make(map[byte]string, len(bs))
	byteDecoder := make(map[string]byte, len(bs))
	for i := 0; i < len(bs); i++ {
		b := byte(bs[i])
		s := string(rune(cs[i]))
		byteEncoder[b] = s
		byteDecoder[s] = b
	}
	return byteEncoder, byteDecoder
}

// readVocabJSON reads a vocab.json token to id map.
func readVocabJSON(path string) (map[string]int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vocab map[string]int64
	if err := json.Unmarshal(raw, &vocab); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return vocab, nil
}
