package model

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// ModelType names a model architecture family.
type ModelType string

const (
	Bart       ModelType = "bart"
	Bert       ModelType = "bert"
	DistilBert ModelType = "distilbert"
	MobileBert ModelType = "mobilebert"
	Roberta    ModelType = "roberta"
	XLMRoberta ModelType = "xlm-roberta"
	Albert     ModelType = "albert"
	XLNet      ModelType = "xlnet"
	Longformer ModelType = "longformer"

	// Families that load a config but have no sequence classification
	// network in this runtime.
	Electra ModelType = "electra"
	Deberta ModelType = "deberta"
	T5      ModelType = "t5"
	GPT2    ModelType = "gpt2"
	Marian  ModelType = "marian"
)

// String returns the display name used in error messages.
func (t ModelType) String() string {
	switch t {
	case Bart:
		return "Bart"
	case Bert:
		return "Bert"
	case DistilBert:
		return "DistilBert"
	case MobileBert:
		return "MobileBert"
	case Roberta:
		return "Roberta"
	case XLMRoberta:
		return "XLMRoberta"
	case Albert:
		return "Albert"
	case XLNet:
		return "XLNet"
	case Longformer:
		return "Longformer"
	case Electra:
		return "Electra"
	case Deberta:
		return "Deberta"
	case T5:
		return "T5"
	case GPT2:
		return "GPT2"
	case Marian:
		return "Marian"
	default:
		return string(t)
	}
}

// ParseModelType accepts Hugging Face model_type spellings and the display
// names above, case-insensitively.
func ParseModelType(s string) (ModelType, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "", "-", "").Replace(norm)
	switch norm {
	case "bart":
		return Bart, nil
	case "bert":
		return Bert, nil
	case "distilbert":
		return DistilBert, nil
	case "mobilebert":
		return MobileBert, nil
	case "roberta":
		return Roberta, nil
	case "xlmroberta":
		return XLMRoberta, nil
	case "albert":
		return Albert, nil
	case "xlnet":
		return XLNet, nil
	case "longformer":
		return Longformer, nil
	case "electra":
		return Electra, nil
	case "deberta", "debertav2":
		return Deberta, nil
	case "t5":
		return T5, nil
	case "gpt2":
		return GPT2, nil
	case "marian":
		return Marian, nil
	default:
		return "", fmt.Errorf("unknown model type %q", s)
	}
}

type hfIdentity struct {
	ModelType     string   `json:"model_type"`
	Architectures []string `json:"architectures"`
}

// DetectModelType inspects a config.json and reports its family.
func DetectModelType(raw []byte) (ModelType, error) {
	var id hfIdentity
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("parse config: %w", err)
	}
	if t, err := ParseModelType(id.ModelType); err == nil {
		return t, nil
	}

	archs := make([]string, 0, len(id.Architectures))
	for _, arch := range id.Architectures {
		archs = append(archs, strings.ToLower(arch))
	}
	hasArch := func(substr string) bool {
		for _, arch := range archs {
			if strings.Contains(arch, substr) {
				return true
			}
		}
		return false
	}

	// Order matters: several names contain "bert".
	switch {
	case hasArch("xlmroberta"):
		return XLMRoberta, nil
	case hasArch("distilbert"):
		return DistilBert, nil
	case hasArch("mobilebert"):
		return MobileBert, nil
	case hasArch("albert"):
		return Albert, nil
	case hasArch("roberta"):
		return Roberta, nil
	case hasArch("longformer"):
		return Longformer, nil
	case hasArch("xlnet"):
		return XLNet, nil
	case hasArch("bart"):
		return Bart, nil
	case hasArch("bert"):
		return Bert, nil
	default:
		return "", fmt.Errorf("unsupported model_type %q (architectures=%v)", id.ModelType, id.Architectures)
	}
}
