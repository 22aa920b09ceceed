package api

import (
	"context"
	"errors"
	"time"

	"github.com/samcharles93/zeroshot/internal/metrics"
	"github.com/samcharles93/zeroshot/internal/tokenizer"
	"github.com/samcharles93/zeroshot/internal/zeroshot"
)

// DefaultMaxLength caps each premise/hypothesis pair when a request does
// not set max_length.
const DefaultMaxLength = 128

type ClassifyService struct {
	provider ModelProvider
	metrics  *metrics.Collectors
}

func NewClassifyService(provider ModelProvider, m *metrics.Collectors) *ClassifyService {
	return &ClassifyService{provider: provider, metrics: m}
}

type classifyParams struct {
	tmpl      zeroshot.Template
	maxLen    int
	threshold float64
}

func validateClassify(req ClassifyRequest) (classifyParams, error) {
	params := classifyParams{maxLen: DefaultMaxLength}
	if len(req.Inputs) == 0 {
		return params, invalidParam("inputs", "inputs is required and must not be empty")
	}
	if len(req.Labels) == 0 {
		return params, invalidParam("labels", "labels is required and must not be empty")
	}
	if req.MaxLength != nil {
		if *req.MaxLength <= 0 {
			return params, invalidParam("max_length", "max_length must be positive, got %d", *req.MaxLength)
		}
		params.maxLen = *req.MaxLength
	}
	if req.Threshold != nil {
		if !req.MultiLabel {
			return params, invalidParam("threshold", "threshold requires multi_label")
		}
		if *req.Threshold < 0 || *req.Threshold > 1 {
			return params, invalidParam("threshold", "threshold must be within [0, 1], got %g", *req.Threshold)
		}
		params.threshold = *req.Threshold
	}
	if req.HypothesisTemplate != "" {
		tmpl, err := zeroshot.TemplateFromFormat(req.HypothesisTemplate)
		if err != nil {
			return params, invalidParam("hypothesis_template", "%v", err)
		}
		params.tmpl = tmpl
	}
	return params, nil
}

// Classify runs one request against the requested model and returns the
// name of the model that served it.
func (s *ClassifyService) Classify(ctx context.Context, req ClassifyRequest) (string, []ClassifyResult, error) {
	params, err := validateClassify(req)
	if err != nil {
		return "", nil, err
	}
	mode := "single"
	if req.MultiLabel {
		mode = "multi"
	}

	var (
		served  string
		results []ClassifyResult
	)
	start := time.Now()
	err = s.provider.WithModel(ctx, req.Model, func(name string, c Classifier) error {
		served = name
		if req.MultiLabel {
			rows, err := c.PredictMultiLabel(req.Inputs, req.Labels, params.tmpl, params.maxLen)
			if err != nil {
				return err
			}
			results = toResults(zeroshot.RankLabels(rows, params.threshold))
			return nil
		}
		scores, err := c.PredictScores(req.Inputs, req.Labels, params.tmpl, params.maxLen)
		if err != nil {
			return err
		}
		ranked, err := zeroshot.RankScores(scores, req.Labels)
		if err != nil {
			return err
		}
		results = toResults(ranked)
		return nil
	})
	if served != "" {
		s.metrics.ObserveClassify(served, mode, len(req.Inputs)*len(req.Labels), time.Since(start), err)
	}
	if err != nil {
		return served, nil, classifyError(err)
	}
	return served, results, nil
}

// classifyError marks errors caused by the request content as invalid
// requests.
func classifyError(err error) error {
	switch {
	case errors.Is(err, tokenizer.ErrSequenceTooLong),
		errors.Is(err, zeroshot.ErrEmptyInputs),
		errors.Is(err, zeroshot.ErrEmptyLabels):
		return newInvalidRequest(err.Error())
	}
	return err
}

func toResults(rows [][]zeroshot.Label) []ClassifyResult {
	out := make([]ClassifyResult, len(rows))
	for i, row := range rows {
		out[i] = ClassifyResult{Sentence: i, Labels: row}
	}
	return out
}
