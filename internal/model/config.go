package model

import (
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/goccy/go-json"
)

// ConfigOption is the closed set of architecture config shapes. Roberta and
// XLMRoberta share *BertConfig.
type ConfigOption interface {
	// Labels returns the classifier label names ordered by class id.
	Labels() []string
	shape() string
}

// labelMap carries the id2label table every Hugging Face config may define.
type labelMap struct {
	ID2Label map[string]string `json:"id2label,omitempty"`
}

func (l labelMap) Labels() []string {
	type entry struct {
		id   int
		name string
	}
	entries := make([]entry, 0, len(l.ID2Label))
	for k, v := range l.ID2Label {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		entries = append(entries, entry{id, v})
	}
	slices.SortFunc(entries, func(a, b entry) int { return a.id - b.id })
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}

// BertConfig is shared by BERT, RoBERTa and XLM-RoBERTa checkpoints.
type BertConfig struct {
	HiddenAct             string  `json:"hidden_act"`
	HiddenSize            int     `json:"hidden_size"`
	IntermediateSize      int     `json:"intermediate_size"`
	MaxPositionEmbeddings int     `json:"max_position_embeddings"`
	NumAttentionHeads     int     `json:"num_attention_heads"`
	NumHiddenLayers       int     `json:"num_hidden_layers"`
	TypeVocabSize         int     `json:"type_vocab_size"`
	VocabSize             int     `json:"vocab_size"`
	LayerNormEps          float64 `json:"layer_norm_eps"`
	PadTokenID            int64   `json:"pad_token_id"`
	labelMap
}

func (*BertConfig) shape() string { return "BertConfig" }

func defaultBertConfig() BertConfig {
	return BertConfig{
		HiddenAct:             "gelu",
		HiddenSize:            768,
		IntermediateSize:      3072,
		MaxPositionEmbeddings: 512,
		NumAttentionHeads:     12,
		NumHiddenLayers:       12,
		TypeVocabSize:         2,
		VocabSize:             30522,
		LayerNormEps:          1e-12,
	}
}

// LongformerConfig extends the BERT shape with sliding window sizes.
type LongformerConfig struct {
	BertConfig
	AttentionWindow attentionWindow `json:"attention_window"`
	SepTokenID      int64           `json:"sep_token_id"`
}

func (*LongformerConfig) shape() string { return "LongformerConfig" }

// attentionWindow accepts either a single window or one per layer.
type attentionWindow []int

func (w *attentionWindow) UnmarshalJSON(b []byte) error {
	var single int
	if err := json.Unmarshal(b, &single); err == nil {
		*w = attentionWindow{single}
		return nil
	}
	var many []int
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("attention_window: %w", err)
	}
	*w = many
	return nil
}

// Window returns the full (two-sided) window for layer.
func (c *LongformerConfig) Window(layer int) int {
	switch len(c.AttentionWindow) {
	case 0:
		return 512
	case 1:
		return c.AttentionWindow[0]
	default:
		return c.AttentionWindow[layer]
	}
}

type DistilBertConfig struct {
	Activation            string `json:"activation"`
	Dim                   int    `json:"dim"`
	HiddenDim             int    `json:"hidden_dim"`
	NHeads                int    `json:"n_heads"`
	NLayers               int    `json:"n_layers"`
	MaxPositionEmbeddings int    `json:"max_position_embeddings"`
	VocabSize             int    `json:"vocab_size"`
	SinusoidalPosEmbds    bool   `json:"sinusoidal_pos_embds"`
	labelMap
}

func (*DistilBertConfig) shape() string { return "DistilBertConfig" }

type MobileBertConfig struct {
	HiddenAct                string  `json:"hidden_act"`
	EmbeddingSize            int     `json:"embedding_size"`
	HiddenSize               int     `json:"hidden_size"`
	IntermediateSize         int     `json:"intermediate_size"`
	IntraBottleneckSize      int     `json:"intra_bottleneck_size"`
	NumAttentionHeads        int     `json:"num_attention_heads"`
	NumHiddenLayers          int     `json:"num_hidden_layers"`
	NumFeedforwardNetworks   int     `json:"num_feedforward_networks"`
	NormalizationType        string  `json:"normalization_type"`
	TrigramInput             bool    `json:"trigram_input"`
	UseBottleneck            bool    `json:"use_bottleneck"`
	UseBottleneckAttention   bool    `json:"use_bottleneck_attention"`
	KeyQuerySharedBottleneck bool    `json:"key_query_shared_bottleneck"`
	ClassifierActivation     bool    `json:"classifier_activation"`
	MaxPositionEmbeddings    int     `json:"max_position_embeddings"`
	TypeVocabSize            int     `json:"type_vocab_size"`
	VocabSize                int     `json:"vocab_size"`
	LayerNormEps             float64 `json:"layer_norm_eps"`
	labelMap
}

func (*MobileBertConfig) shape() string { return "MobileBertConfig" }

// TrueHiddenSize is the width inside the transformer blocks.
func (c *MobileBertConfig) TrueHiddenSize() int {
	if c.UseBottleneck {
		return c.IntraBottleneckSize
	}
	return c.HiddenSize
}

type AlbertConfig struct {
	HiddenAct             string  `json:"hidden_act"`
	EmbeddingSize         int     `json:"embedding_size"`
	HiddenSize            int     `json:"hidden_size"`
	IntermediateSize      int     `json:"intermediate_size"`
	NumAttentionHeads     int     `json:"num_attention_heads"`
	NumHiddenLayers       int     `json:"num_hidden_layers"`
	NumHiddenGroups       int     `json:"num_hidden_groups"`
	InnerGroupNum         int     `json:"inner_group_num"`
	MaxPositionEmbeddings int     `json:"max_position_embeddings"`
	TypeVocabSize         int     `json:"type_vocab_size"`
	VocabSize             int     `json:"vocab_size"`
	LayerNormEps          float64 `json:"layer_norm_eps"`
	labelMap
}

func (*AlbertConfig) shape() string { return "AlbertConfig" }

type XLNetConfig struct {
	DModel            int     `json:"d_model"`
	NLayer            int     `json:"n_layer"`
	NHead             int     `json:"n_head"`
	DHead             int     `json:"d_head"`
	DInner            int     `json:"d_inner"`
	FFActivation      string  `json:"ff_activation"`
	AttnType          string  `json:"attn_type"`
	LayerNormEps      float64 `json:"layer_norm_eps"`
	VocabSize         int     `json:"vocab_size"`
	ClampLen          int     `json:"clamp_len"`
	SummaryType       string  `json:"summary_type"`
	SummaryUseProj    bool    `json:"summary_use_proj"`
	SummaryActivation string  `json:"summary_activation"`
	labelMap
}

func (*XLNetConfig) shape() string { return "XLNetConfig" }

type BartConfig struct {
	DModel                int    `json:"d_model"`
	EncoderLayers         int    `json:"encoder_layers"`
	DecoderLayers         int    `json:"decoder_layers"`
	EncoderAttentionHeads int    `json:"encoder_attention_heads"`
	DecoderAttentionHeads int    `json:"decoder_attention_heads"`
	EncoderFFNDim         int    `json:"encoder_ffn_dim"`
	DecoderFFNDim         int    `json:"decoder_ffn_dim"`
	ActivationFunction    string `json:"activation_function"`
	MaxPositionEmbeddings int    `json:"max_position_embeddings"`
	VocabSize             int    `json:"vocab_size"`
	PadTokenID            int64  `json:"pad_token_id"`
	EOSTokenID            int64  `json:"eos_token_id"`
	ScaleEmbedding        bool   `json:"scale_embedding"`
	NormalizeBefore       bool   `json:"normalize_before"`
	AddFinalLayerNorm     bool   `json:"add_final_layer_norm"`
	NormalizeEmbedding    bool   `json:"normalize_embedding"`
	StaticPosEmbeddings   bool   `json:"static_position_embeddings"`
	labelMap
}

func (*BartConfig) shape() string { return "BartConfig" }

// GenericConfig holds configs of families that have no zero-shot network.
type GenericConfig struct {
	Type ModelType
	Raw  map[string]any
	labelMap
}

func (*GenericConfig) shape() string { return "GenericConfig" }

// ShapeName returns the concrete config type name, e.g. "BartConfig".
func ShapeName(c ConfigOption) string {
	if c == nil {
		return "<nil>"
	}
	return c.shape()
}

// LoadConfig decodes a config.json into the shape used by family t.
// Fields absent from raw keep the upstream defaults.
func LoadConfig(t ModelType, raw []byte) (ConfigOption, error) {
	var cfg ConfigOption
	switch t {
	case Bert, Roberta, XLMRoberta:
		c := defaultBertConfig()
		if t != Bert {
			c.PadTokenID = 1
			c.LayerNormEps = 1e-5
			c.TypeVocabSize = 1
		}
		cfg = &c
	case Longformer:
		c := &LongformerConfig{BertConfig: defaultBertConfig(), SepTokenID: 2}
		c.PadTokenID = 1
		c.LayerNormEps = 1e-5
		c.TypeVocabSize = 1
		cfg = c
	case DistilBert:
		cfg = &DistilBertConfig{
			Activation:            "gelu",
			Dim:                   768,
			HiddenDim:             3072,
			NHeads:                12,
			NLayers:               6,
			MaxPositionEmbeddings: 512,
			VocabSize:             30522,
		}
	case MobileBert:
		cfg = &MobileBertConfig{
			HiddenAct:                "relu",
			EmbeddingSize:            128,
			HiddenSize:               512,
			IntermediateSize:         512,
			IntraBottleneckSize:      128,
			NumAttentionHeads:        4,
			NumHiddenLayers:          24,
			NumFeedforwardNetworks:   4,
			NormalizationType:        "no_norm",
			TrigramInput:             true,
			UseBottleneck:            true,
			KeyQuerySharedBottleneck: true,
			ClassifierActivation:     true,
			MaxPositionEmbeddings:    512,
			TypeVocabSize:            2,
			VocabSize:                30522,
			LayerNormEps:             1e-12,
		}
	case Albert:
		cfg = &AlbertConfig{
			HiddenAct:             "gelu_new",
			EmbeddingSize:         128,
			HiddenSize:            4096,
			IntermediateSize:      16384,
			NumAttentionHeads:     64,
			NumHiddenLayers:       12,
			NumHiddenGroups:       1,
			InnerGroupNum:         1,
			MaxPositionEmbeddings: 512,
			TypeVocabSize:         2,
			VocabSize:             30000,
			LayerNormEps:          1e-12,
		}
	case XLNet:
		cfg = &XLNetConfig{
			DModel:            1024,
			NLayer:            24,
			NHead:             16,
			DHead:             64,
			DInner:            4096,
			FFActivation:      "gelu",
			AttnType:          "bi",
			LayerNormEps:      1e-12,
			VocabSize:         32000,
			ClampLen:          -1,
			SummaryType:       "last",
			SummaryUseProj:    true,
			SummaryActivation: "tanh",
		}
	case Bart:
		cfg = &BartConfig{
			DModel:                1024,
			EncoderLayers:         12,
			DecoderLayers:         12,
			EncoderAttentionHeads: 16,
			DecoderAttentionHeads: 16,
			EncoderFFNDim:         4096,
			DecoderFFNDim:         4096,
			ActivationFunction:    "gelu",
			MaxPositionEmbeddings: 1024,
			VocabSize:             50265,
			PadTokenID:            1,
			EOSTokenID:            2,
			NormalizeEmbedding:    true,
		}
	case Electra, Deberta, T5, GPT2, Marian:
		g := &GenericConfig{Type: t}
		if err := json.Unmarshal(raw, &g.Raw); err != nil {
			return nil, fmt.Errorf("parse %s config: %w", t, err)
		}
		if err := json.Unmarshal(raw, &g.labelMap); err != nil {
			return nil, fmt.Errorf("parse %s config: %w", t, err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown model type %q", t)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse %s config: %w", t, err)
	}
	return cfg, nil
}

// LoadConfigFile reads path and decodes it with LoadConfig.
func LoadConfigFile(t ModelType, path string) (ConfigOption, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadConfig(t, raw)
}
