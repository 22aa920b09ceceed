package api

import "github.com/samcharles93/zeroshot/internal/zeroshot"

type ClassifyRequest struct {
	Model              string   `json:"model,omitempty"`
	Inputs             []string `json:"inputs"`
	Labels             []string `json:"labels"`
	HypothesisTemplate string   `json:"hypothesis_template,omitempty"`
	MultiLabel         bool     `json:"multi_label,omitempty"`
	MaxLength          *int     `json:"max_length,omitempty"`
	// Threshold drops multi-label scores below it.
	Threshold *float64 `json:"threshold,omitempty"`
}

type ClassifyResponse struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Results []ClassifyResult `json:"results"`
}

type ClassifyResult struct {
	Sentence int              `json:"sentence"`
	Labels   []zeroshot.Label `json:"labels"`
}

type ModelInfo struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	ModelType string `json:"model_type,omitempty"`
}

type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
