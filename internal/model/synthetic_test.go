package model

import (
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/samcharles93/zeroshot/internal/device"
	"github.com/samcharles93/zeroshot/internal/params"
)

const (
	testVocab   = 20
	testHidden  = 8
	testInner   = 16
	testHeads   = 2
	testMaxPos  = 40
	testClasses = 3
)

// weights builds small random checkpoints in Hugging Face naming.
type weights struct {
	*params.Memory
	r *rand.Rand
}

func newWeights(seed uint64) weights {
	return weights{Memory: params.NewMemory(), r: rand.New(rand.NewPCG(seed, seed^0x9e37))}
}

func (w weights) linear(name string, in, out int) {
	w.Rand(w.r, 0.4, name+".weight", out, in)
	w.Rand(w.r, 0.1, name+".bias", out)
}

func (w weights) norm(name string, dim int) {
	w.Fill(1, name+".weight", dim)
	w.Fill(0, name+".bias", dim)
}

func (w weights) embedding(name string, rows, dim int) {
	w.Rand(w.r, 0.5, name+".weight", rows, dim)
}

// zeroRow clears one embedding row, e.g. the padding entry.
func (w weights) zeroRow(name string, row int) {
	t := w.Tensors()[name+".weight"]
	dim := t.Shape[1]
	clear(t.Data[row*dim : (row+1)*dim])
}

func (w weights) root() params.Path {
	return params.NewStore(w.Memory, device.CPU).Root()
}

func testBertConfig() *BertConfig {
	return &BertConfig{
		HiddenAct:             "gelu",
		HiddenSize:            testHidden,
		IntermediateSize:      testInner,
		MaxPositionEmbeddings: testMaxPos,
		NumAttentionHeads:     testHeads,
		NumHiddenLayers:       2,
		TypeVocabSize:         2,
		VocabSize:             testVocab,
		LayerNormEps:          1e-12,
	}
}

func (w weights) bertEncoder(prefix string, cfg *BertConfig) {
	emb := prefix + ".embeddings"
	w.embedding(emb+".word_embeddings", cfg.VocabSize, cfg.HiddenSize)
	w.embedding(emb+".position_embeddings", cfg.MaxPositionEmbeddings, cfg.HiddenSize)
	w.embedding(emb+".token_type_embeddings", cfg.TypeVocabSize, cfg.HiddenSize)
	w.norm(emb+".LayerNorm", cfg.HiddenSize)
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		l := prefix + ".encoder.layer." + strconv.Itoa(i)
		for _, n := range []string{"query", "key", "value"} {
			w.linear(l+".attention.self."+n, cfg.HiddenSize, cfg.HiddenSize)
		}
		w.linear(l+".attention.output.dense", cfg.HiddenSize, cfg.HiddenSize)
		w.norm(l+".attention.output.LayerNorm", cfg.HiddenSize)
		w.linear(l+".intermediate.dense", cfg.HiddenSize, cfg.IntermediateSize)
		w.linear(l+".output.dense", cfg.IntermediateSize, cfg.HiddenSize)
		w.norm(l+".output.LayerNorm", cfg.HiddenSize)
	}
}

func (w weights) classificationHead(prefix string, hidden int) {
	w.linear(prefix+".dense", hidden, hidden)
	w.linear(prefix+".out_proj", hidden, testClasses)
}

func buildBert(t *testing.T) (*BertForSequenceClassification, weights) {
	t.Helper()
	cfg := testBertConfig()
	w := newWeights(1)
	w.bertEncoder("bert", cfg)
	w.linear("bert.pooler.dense", testHidden, testHidden)
	w.linear("classifier", testHidden, testClasses)
	m, err := NewBertForSequenceClassification(w.root(), cfg)
	if err != nil {
		t.Fatalf("NewBertForSequenceClassification: %v", err)
	}
	return m, w
}

func buildRoberta(t *testing.T) *RobertaForSequenceClassification {
	t.Helper()
	cfg := testBertConfig()
	cfg.PadTokenID = 1
	cfg.TypeVocabSize = 1
	w := newWeights(2)
	w.bertEncoder("roberta", cfg)
	w.classificationHead("classifier", testHidden)
	m, err := NewRobertaForSequenceClassification(w.root(), cfg)
	if err != nil {
		t.Fatalf("NewRobertaForSequenceClassification: %v", err)
	}
	return m
}

func buildLongformer(t *testing.T) *LongformerForSequenceClassification {
	t.Helper()
	cfg := &LongformerConfig{BertConfig: *testBertConfig(), AttentionWindow: attentionWindow{4}}
	cfg.PadTokenID = 1
	cfg.TypeVocabSize = 1
	w := newWeights(3)
	w.bertEncoder("longformer", &cfg.BertConfig)
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		for _, n := range []string{"query_global", "key_global", "value_global"} {
			w.linear("longformer.encoder.layer."+strconv.Itoa(i)+".attention.self."+n, testHidden, testHidden)
		}
	}
	w.classificationHead("classifier", testHidden)
	m, err := NewLongformerForSequenceClassification(w.root(), cfg)
	if err != nil {
		t.Fatalf("NewLongformerForSequenceClassification: %v", err)
	}
	return m
}

func buildDistilBert(t *testing.T) *DistilBertForSequenceClassification {
	t.Helper()
	cfg := &DistilBertConfig{
		Activation:            "gelu",
		Dim:                   testHidden,
		HiddenDim:             testInner,
		NHeads:                testHeads,
		NLayers:               2,
		MaxPositionEmbeddings: testMaxPos,
		VocabSize:             testVocab,
	}
	w := newWeights(4)
	w.embedding("distilbert.embeddings.word_embeddings", testVocab, testHidden)
	w.embedding("distilbert.embeddings.position_embeddings", testMaxPos, testHidden)
	w.norm("distilbert.embeddings.LayerNorm", testHidden)
	for i := 0; i < cfg.NLayers; i++ {
		l := "distilbert.transformer.layer." + strconv.Itoa(i)
		for _, n := range []string{"q_lin", "k_lin", "v_lin", "out_lin"} {
			w.linear(l+".attention."+n, testHidden, testHidden)
		}
		w.norm(l+".sa_layer_norm", testHidden)
		w.linear(l+".ffn.lin1", testHidden, testInner)
		w.linear(l+".ffn.lin2", testInner, testHidden)
		w.norm(l+".output_layer_norm", testHidden)
	}
	w.linear("pre_classifier", testHidden, testHidden)
	w.linear("classifier", testHidden, testClasses)
	m, err := NewDistilBertForSequenceClassification(w.root(), cfg)
	if err != nil {
		t.Fatalf("NewDistilBertForSequenceClassification: %v", err)
	}
	return m
}

func buildAlbert(t *testing.T) *AlbertForSequenceClassification {
	t.Helper()
	const embed = 4
	cfg := &AlbertConfig{
		HiddenAct:             "gelu_new",
		EmbeddingSize:         embed,
		HiddenSize:            testHidden,
		IntermediateSize:      testInner,
		NumAttentionHeads:     testHeads,
		NumHiddenLayers:       3,
		NumHiddenGroups:       1,
		InnerGroupNum:         1,
		MaxPositionEmbeddings: testMaxPos,
		TypeVocabSize:         2,
		VocabSize:             testVocab,
		LayerNormEps:          1e-12,
	}
	w := newWeights(5)
	w.embedding("albert.embeddings.word_embeddings", testVocab, embed)
	w.embedding("albert.embeddings.position_embeddings", testMaxPos, embed)
	w.embedding("albert.embeddings.token_type_embeddings", 2, embed)
	w.norm("albert.embeddings.LayerNorm", embed)
	w.linear("albert.encoder.embedding_hidden_mapping_in", embed, testHidden)
	l := "albert.encoder.albert_layer_groups.0.albert_layers.0"
	for _, n := range []string{"query", "key", "value", "dense"} {
		w.linear(l+".attention."+n, testHidden, testHidden)
	}
	w.norm(l+".attention.LayerNorm", testHidden)
	w.linear(l+".ffn", testHidden, testInner)
	w.linear(l+".ffn_output", testInner, testHidden)
	w.norm(l+".full_layer_layer_norm", testHidden)
	w.linear("albert.pooler", testHidden, testHidden)
	w.linear("classifier", testHidden, testClasses)
	m, err := NewAlbertForSequenceClassification(w.root(), cfg)
	if err != nil {
		t.Fatalf("NewAlbertForSequenceClassification: %v", err)
	}
	return m
}

func buildMobileBert(t *testing.T) *MobileBertForSequenceClassification {
	t.Helper()
	const (
		embed  = 4
		inner  = 4
		interm = 8
	)
	cfg := &MobileBertConfig{
		HiddenAct:                "relu",
		EmbeddingSize:            embed,
		HiddenSize:               testHidden,
		IntermediateSize:         interm,
		IntraBottleneckSize:      inner,
		NumAttentionHeads:        testHeads,
		NumHiddenLayers:          2,
		NumFeedforwardNetworks:   2,
		NormalizationType:        "no_norm",
		TrigramInput:             true,
		UseBottleneck:            true,
		KeyQuerySharedBottleneck: true,
		ClassifierActivation:     true,
		MaxPositionEmbeddings:    testMaxPos,
		TypeVocabSize:            2,
		VocabSize:                testVocab,
		LayerNormEps:             1e-12,
	}
	w := newWeights(6)
	emb := "mobilebert.embeddings"
	w.embedding(emb+".word_embeddings", testVocab, embed)
	w.zeroRow(emb+".word_embeddings", 0)
	w.linear(emb+".embedding_transformation", 3*embed, testHidden)
	w.embedding(emb+".position_embeddings", testMaxPos, testHidden)
	w.embedding(emb+".token_type_embeddings", 2, testHidden)
	w.norm(emb+".LayerNorm", testHidden)
	for i := 0; i < cfg.NumHiddenLayers; i++ {
		l := "mobilebert.encoder.layer." + strconv.Itoa(i)
		w.linear(l+".bottleneck.input.dense", testHidden, inner)
		w.norm(l+".bottleneck.input.LayerNorm", inner)
		w.linear(l+".bottleneck.attention.dense", testHidden, inner)
		w.norm(l+".bottleneck.attention.LayerNorm", inner)
		w.linear(l+".attention.self.query", inner, inner)
		w.linear(l+".attention.self.key", inner, inner)
		w.linear(l+".attention.self.value", testHidden, inner)
		w.linear(l+".attention.output.dense", inner, inner)
		w.norm(l+".attention.output.LayerNorm", inner)
		w.linear(l+".ffn.0.intermediate.dense", inner, interm)
		w.linear(l+".ffn.0.output.dense", interm, inner)
		w.norm(l+".ffn.0.output.LayerNorm", inner)
		w.linear(l+".intermediate.dense", inner, interm)
		w.linear(l+".output.dense", interm, inner)
		w.norm(l+".output.LayerNorm", inner)
		w.linear(l+".output.bottleneck.dense", inner, testHidden)
		w.norm(l+".output.bottleneck.LayerNorm", testHidden)
	}
	w.linear("mobilebert.pooler.dense", testHidden, testHidden)
	w.linear("classifier", testHidden, testClasses)
	m, err := NewMobileBertForSequenceClassification(w.root(), cfg)
	if err != nil {
		t.Fatalf("NewMobileBertForSequenceClassification: %v", err)
	}
	return m
}

func buildXLNet(t *testing.T) *XLNetForSequenceClassification {
	t.Helper()
	const dHead = testHidden / testHeads
	cfg := &XLNetConfig{
		DModel:            testHidden,
		NLayer:            2,
		NHead:             testHeads,
		DHead:             dHead,
		DInner:            testInner,
		FFActivation:      "gelu",
		AttnType:          "bi",
		LayerNormEps:      1e-12,
		VocabSize:         testVocab,
		ClampLen:          -1,
		SummaryType:       "last",
		SummaryUseProj:    true,
		SummaryActivation: "tanh",
	}
	w := newWeights(7)
	w.embedding("transformer.word_embedding", testVocab, testHidden)
	for i := 0; i < cfg.NLayer; i++ {
		ra := "transformer.layer." + strconv.Itoa(i) + ".rel_attn"
		for _, n := range []string{"q", "k", "v", "o", "r"} {
			w.Rand(w.r, 0.4, ra+"."+n, testHidden, testHeads, dHead)
		}
		for _, n := range []string{"r_w_bias", "r_r_bias", "r_s_bias"} {
			w.Rand(w.r, 0.1, ra+"."+n, testHeads, dHead)
		}
		w.Rand(w.r, 0.2, ra+".seg_embed", 2, testHeads, dHead)
		w.norm(ra+".layer_norm", testHidden)
		ff := "transformer.layer." + strconv.Itoa(i) + ".ff"
		w.linear(ff+".layer_1", testHidden, testInner)
		w.linear(ff+".layer_2", testInner, testHidden)
		w.norm(ff+".layer_norm", testHidden)
	}
	w.linear("sequence_summary.summary", testHidden, testHidden)
	w.linear("logits_proj", testHidden, testClasses)
	m, err := NewXLNetForSequenceClassification(w.root(), cfg)
	if err != nil {
		t.Fatalf("NewXLNetForSequenceClassification: %v", err)
	}
	return m
}

func testBartConfig() *BartConfig {
	return &BartConfig{
		DModel:                testHidden,
		EncoderLayers:         2,
		DecoderLayers:         2,
		EncoderAttentionHeads: testHeads,
		DecoderAttentionHeads: testHeads,
		EncoderFFNDim:         testInner,
		DecoderFFNDim:         testInner,
		ActivationFunction:    "gelu",
		MaxPositionEmbeddings: testMaxPos,
		VocabSize:             testVocab,
		PadTokenID:            1,
		EOSTokenID:            2,
		NormalizeEmbedding:    true,
	}
}

func buildBart(t *testing.T) *BartForSequenceClassification {
	t.Helper()
	cfg := testBartConfig()
	w := newWeights(8)
	w.embedding("model.shared", testVocab, testHidden)
	for _, stack := range []string{"encoder", "decoder"} {
		s := "model." + stack
		w.embedding(s+".embed_positions", testMaxPos+bartPositionOffset, testHidden)
		w.norm(s+".layernorm_embedding", testHidden)
		for i := 0; i < 2; i++ {
			l := s + ".layers." + strconv.Itoa(i)
			attns := []string{"self_attn"}
			if stack == "decoder" {
				attns = append(attns, "encoder_attn")
			}
			for _, a := range attns {
				for _, n := range []string{"q_proj", "k_proj", "v_proj", "out_proj"} {
					w.linear(l+"."+a+"."+n, testHidden, testHidden)
				}
				w.norm(l+"."+a+"_layer_norm", testHidden)
			}
			w.linear(l+".fc1", testHidden, testInner)
			w.linear(l+".fc2", testInner, testHidden)
			w.norm(l+".final_layer_norm", testHidden)
		}
	}
	w.classificationHead("classification_head", testHidden)
	m, err := NewBartForSequenceClassification(w.root(), cfg)
	if err != nil {
		t.Fatalf("NewBartForSequenceClassification: %v", err)
	}
	return m
}
