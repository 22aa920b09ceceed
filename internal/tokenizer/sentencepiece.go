package tokenizer

import (
	"fmt"
	"math"
	"os"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
	"google.golang.org/protobuf/encoding/protowire"
)

// PieceType mirrors SentencePiece's piece type enum.
type PieceType int32

const (
	PieceNormal      PieceType = 1
	PieceUnknown     PieceType = 2
	PieceControl     PieceType = 3
	PieceUserDefined PieceType = 4
	PieceUnused      PieceType = 5
	PieceByte        PieceType = 6
)

// Piece is one vocabulary entry of a SentencePiece model.
type Piece struct {
	Text  string
	Score float32
	Type  PieceType
}

const spaceSymbol = "▁"

// ModelProto field numbers.
const (
	modelPiecesField = 1
	pieceTextField   = 1
	pieceScoreField  = 2
	pieceTypeField   = 3
)

// ParseSentencePiece decodes the pieces of a serialized ModelProto. Trainer
// and normalizer specs are skipped.
func ParseSentencePiece(data []byte) ([]Piece, error) {
	var pieces []Piece
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("sentencepiece: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num == modelPiecesField && typ == protowire.BytesType {
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("sentencepiece: piece %d: %w", len(pieces), protowire.ParseError(n))
			}
			p, err := parsePiece(msg)
			if err != nil {
				return nil, fmt.Errorf("sentencepiece: piece %d: %w", len(pieces), err)
			}
			pieces = append(pieces, p)
			data = data[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("sentencepiece: field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	if len(pieces) == 0 {
		return nil, fmt.Errorf("sentencepiece: model has no pieces")
	}
	return pieces, nil
}

func parsePiece(b []byte) (Piece, error) {
	p := Piece{Type: PieceNormal}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == pieceTextField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.Text = v
			b = b[n:]
		case num == pieceScoreField && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.Score = math.Float32frombits(v)
			b = b[n:]
		case num == pieceTypeField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.Type = PieceType(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return p, nil
}

// AppendPieces serializes pieces as a ModelProto. It is the inverse of
// ParseSentencePiece and is used to build fixture models.
func AppendPieces(b []byte, pieces []Piece) []byte {
	for _, p := range pieces {
		var msg []byte
		msg = protowire.AppendTag(msg, pieceTextField, protowire.BytesType)
		msg = protowire.AppendString(msg, p.Text)
		msg = protowire.AppendTag(msg, pieceScoreField, protowire.Fixed32Type)
		msg = protowire.AppendFixed32(msg, math.Float32bits(p.Score))
		if p.Type != PieceNormal && p.Type != 0 {
			msg = protowire.AppendTag(msg, pieceTypeField, protowire.VarintType)
			msg = protowire.AppendVarint(msg, uint64(p.Type))
		}
		b = protowire.AppendTag(b, modelPiecesField, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	return b
}

// fairseqOffset describes the XLM-R id layout: four fixed specials followed
// by the SentencePiece vocabulary shifted by one.
type fairseqOffset struct {
	specials map[string]int64
}

func newFairseqOffset(pieces int) *fairseqOffset {
	return &fairseqOffset{specials: map[string]int64{
		"<s>":    0,
		"<pad>":  1,
		"</s>":   2,
		"<unk>":  3,
		"<mask>": int64(pieces) + 1,
	}}
}

// unigramModel segments text with the Viterbi path over piece scores.
type unigramModel struct {
	pieces   []Piece
	index    map[string]int
	maxRunes int
	unkIdx   int
	unkScore float32
	lower    bool
	strip    bool
	fairseq  *fairseqOffset
}

func newUnigram(pieces []Piece, lower, strip bool, fairseq *fairseqOffset) (*unigramModel, error) {
	// An unset type is NORMAL, as in the proto default.
	pieces = slices.Clone(pieces)
	for i := range pieces {
		if pieces[i].Type == 0 {
			pieces[i].Type = PieceNormal
		}
	}
	m := &unigramModel{
		pieces:  pieces,
		index:   make(map[string]int, len(pieces)),
		unkIdx:  -1,
		lower:   lower,
		strip:   strip,
		fairseq: fairseq,
	}
	minScore := float32(math.MaxFloat32)
	for i, p := range pieces {
		if _, dup := m.index[p.Text]; !dup {
			m.index[p.Text] = i
		}
		switch p.Type {
		case PieceUnknown:
			if m.unkIdx < 0 {
				m.unkIdx = i
			}
		case PieceNormal, PieceUserDefined:
			m.maxRunes = max(m.maxRunes, len([]rune(p.Text)))
			minScore = min(minScore, p.Score)
		}
	}
	if m.unkIdx < 0 {
		return nil, fmt.Errorf("sentencepiece: model has no unknown piece")
	}
	if minScore == float32(math.MaxFloat32) {
		minScore = 0
	}
	m.unkScore = minScore - 10
	return m, nil
}

func (m *unigramModel) size() int {
	if m.fairseq != nil {
		return len(m.pieces) + 2
	}
	return len(m.pieces)
}

// id maps a piece index to a model id.
func (m *unigramModel) id(idx int) int64 {
	if m.fairseq == nil {
		return int64(idx)
	}
	if v, ok := m.fairseq.specials[m.pieces[idx].Text]; ok {
		return v
	}
	if idx == m.unkIdx {
		return m.fairseq.specials["<unk>"]
	}
	return int64(idx) + 1
}

func (m *unigramModel) tokenID(tok string) (int64, bool) {
	if m.fairseq != nil {
		if v, ok := m.fairseq.specials[tok]; ok {
			return v, true
		}
	}
	idx, ok := m.index[tok]
	if !ok {
		return 0, false
	}
	return m.id(idx), true
}

// normalize applies the text preprocessing and SentencePiece's NFKC and
// whitespace handling, including the dummy prefix.
func (m *unigramModel) normalize(text string) string {
	text = collapseSpaces(text)
	text = strings.NewReplacer("``", `"`, "''", `"`).Replace(text)
	if m.strip {
		text = stripAccentsCompat(text)
	}
	if m.lower {
		text = strings.ToLower(text)
	}
	text = collapseSpaces(norm.NFKC.String(text))
	if text == "" {
		return ""
	}
	return spaceSymbol + strings.ReplaceAll(text, " ", spaceSymbol)
}

func (m *unigramModel) encode(text string) ([]int64, error) {
	s := []rune(m.normalize(text))
	if len(s) == 0 {
		return nil, nil
	}
	type node struct {
		score float64
		start int
		piece int // -1 for an unknown rune
		ok    bool
	}
	best := make([]node, len(s)+1)
	best[0].ok = true
	for i := 0; i < len(s); i++ {
		if !best[i].ok {
			continue
		}
		single := false
		for l := 1; l <= m.maxRunes && i+l <= len(s); l++ {
			idx, ok := m.index[string(s[i:i+l])]
			if !ok {
				continue
			}
			p := m.pieces[idx]
			if p.Type != PieceNormal && p.Type != PieceUserDefined {
				continue
			}
			if l == 1 {
				single = true
			}
			score := best[i].score + float64(p.Score)
			if n := &best[i+l]; !n.ok || score > n.score {
				*n = node{score: score, start: i, piece: idx, ok: true}
			}
		}
		if !single {
			score := best[i].score + float64(m.unkScore)
			if n := &best[i+1]; !n.ok || score > n.score {
				*n = node{score: score, start: i, piece: -1, ok: true}
			}
		}
	}

	var rev []int
	for end := len(s); end > 0; end = best[end].start {
		rev = append(rev, best[end].piece)
	}
	ids := make([]int64, 0, len(rev))
	prevUnk := false
	for i := len(rev) - 1; i >= 0; i-- {
		idx := rev[i]
		if idx < 0 || idx == m.unkIdx {
			// Adjacent unknown runes fuse into one token.
			if !prevUnk {
				ids = append(ids, m.id(m.unkIdx))
			}
			prevUnk = true
			continue
		}
		prevUnk = false
		ids = append(ids, m.id(idx))
	}
	return ids, nil
}

func readSentencePiece(path string) ([]Piece, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pieces, err := ParseSentencePiece(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pieces, nil
}
