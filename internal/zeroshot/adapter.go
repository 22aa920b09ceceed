package zeroshot

import (
	"fmt"

	"github.com/samcharles93/zeroshot/internal/device"
	"github.com/samcharles93/zeroshot/internal/model"
	"github.com/samcharles93/zeroshot/internal/params"
	"github.com/samcharles93/zeroshot/internal/tensor"
)

// Classifier is the forward contract the engine drives: batched token ids
// and mask in, [batch, classes] logits out. Class 0 is contradiction and the
// last class is entailment.
type Classifier interface {
	ModelType() model.ModelType
	Forward(inputIDs *tensor.Tokens, mask *tensor.Mask, tokenTypeIDs, positionIDs *tensor.Tokens, inputEmbeds *tensor.Tensor, train bool) (*tensor.Tensor, error)
}

// Adapter wraps one of the nine sequence classification networks. The
// network field holds exactly one of the concrete model types below.
type Adapter struct {
	modelType model.ModelType
	device    device.Device
	network   any
}

var supportedModels = []model.ModelType{
	model.Bart,
	model.Bert,
	model.DistilBert,
	model.MobileBert,
	model.Roberta,
	model.XLMRoberta,
	model.Albert,
	model.XLNet,
	model.Longformer,
}

// SupportedModels lists the families with a zero-shot network.
func SupportedModels() []model.ModelType {
	return append([]model.ModelType(nil), supportedModels...)
}

// Supported reports whether t has a zero-shot network.
func Supported(t model.ModelType) bool {
	for _, s := range supportedModels {
		if s == t {
			return true
		}
	}
	return false
}

// NewAdapter builds the network for t from the parameters under p. cfg must
// have the config shape of t, otherwise the error matches ErrConfigMismatch.
func NewAdapter(t model.ModelType, p params.Path, cfg model.ConfigOption) (*Adapter, error) {
	var (
		network any
		err     error
	)
	switch t {
	case model.Bart:
		c, ok := cfg.(*model.BartConfig)
		if !ok {
			return nil, mismatch("BartConfig", t)
		}
		network, err = model.NewBartForSequenceClassification(p, c)
	case model.Bert:
		c, ok := cfg.(*model.BertConfig)
		if !ok {
			return nil, mismatch("BertConfig", t)
		}
		network, err = model.NewBertForSequenceClassification(p, c)
	case model.DistilBert:
		c, ok := cfg.(*model.DistilBertConfig)
		if !ok {
			return nil, mismatch("DistilBertConfig", t)
		}
		network, err = model.NewDistilBertForSequenceClassification(p, c)
	case model.MobileBert:
		c, ok := cfg.(*model.MobileBertConfig)
		if !ok {
			return nil, mismatch("MobileBertConfig", t)
		}
		network, err = model.NewMobileBertForSequenceClassification(p, c)
	case model.Roberta, model.XLMRoberta:
		c, ok := cfg.(*model.BertConfig)
		if !ok {
			return nil, mismatch("BertConfig", t)
		}
		network, err = model.NewRobertaForSequenceClassification(p, c)
	case model.Albert:
		c, ok := cfg.(*model.AlbertConfig)
		if !ok {
			return nil, mismatch("AlbertConfig", t)
		}
		network, err = model.NewAlbertForSequenceClassification(p, c)
	case model.XLNet:
		c, ok := cfg.(*model.XLNetConfig)
		if !ok {
			return nil, mismatch("XLNetConfig", t)
		}
		network, err = model.NewXLNetForSequenceClassification(p, c)
	case model.Longformer:
		c, ok := cfg.(*model.LongformerConfig)
		if !ok {
			return nil, mismatch("LongformerConfig", t)
		}
		network, err = model.NewLongformerForSequenceClassification(p, c)
	default:
		return nil, unsupported(t)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s network: %w", t, err)
	}
	return &Adapter{modelType: t, device: p.Device(), network: network}, nil
}

// ModelType returns the family selected at construction.
func (a *Adapter) ModelType() model.ModelType { return a.modelType }

// Device returns the device holding the network parameters.
func (a *Adapter) Device() device.Device { return a.device }

// Forward routes the inputs each network accepts and extracts its
// classification logits.
func (a *Adapter) Forward(inputIDs *tensor.Tokens, mask *tensor.Mask, tokenTypeIDs, positionIDs *tensor.Tokens, inputEmbeds *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	if inputIDs != nil && inputIDs.Device != a.device {
		return nil, fmt.Errorf("input ids on %s, parameters on %s", inputIDs.Device, a.device)
	}

	var (
		out *model.SequenceClassifierOutput
		err error
	)
	switch n := a.network.(type) {
	case *model.BartForSequenceClassification:
		var bart *model.BartClassifierOutput
		bart, err = n.Forward(inputIDs, mask, nil, nil, train)
		if err != nil {
			return nil, err
		}
		return bart.DecoderOutput, nil
	case *model.BertForSequenceClassification:
		out, err = n.Forward(inputIDs, mask, tokenTypeIDs, positionIDs, inputEmbeds, train)
	case *model.DistilBertForSequenceClassification:
		out, err = n.Forward(inputIDs, mask, inputEmbeds, train)
	case *model.MobileBertForSequenceClassification:
		out, err = n.Forward(inputIDs, nil, nil, inputEmbeds, mask, train)
	case *model.RobertaForSequenceClassification:
		out, err = n.Forward(inputIDs, mask, tokenTypeIDs, positionIDs, inputEmbeds, train)
	case *model.AlbertForSequenceClassification:
		out, err = n.Forward(inputIDs, mask, tokenTypeIDs, positionIDs, inputEmbeds, train)
	case *model.XLNetForSequenceClassification:
		out, err = n.Forward(inputIDs, mask, tokenTypeIDs, inputEmbeds, train)
	case *model.LongformerForSequenceClassification:
		out, err = n.Forward(inputIDs, mask, nil, tokenTypeIDs, positionIDs, inputEmbeds, train)
	default:
		return nil, unsupported(a.modelType)
	}
	if err != nil {
		return nil, err
	}
	return out.Logits, nil
}
