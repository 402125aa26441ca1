package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cognicore/autotag/pkg/autotag/config"
)

// Tagging calls an analysis endpoint that scores tags per feature.
type Tagging struct {
	client
	language string
}

// TaggingOptions configures a tagging provider
type TaggingOptions struct {
	BaseURL    string
	APIKey     string
	Language   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewTagging creates a tagging provider.
func NewTagging(opts TaggingOptions) *Tagging {
	return &Tagging{
		client: client{
			baseURL: opts.BaseURL,
			apiKey:  opts.APIKey,
			timeout: opts.Timeout,
			httpc:   opts.HTTPClient,
		},
		language: opts.Language,
	}
}

// NewTaggingFromConfig creates a tagging provider from file configuration.
func NewTaggingFromConfig(cfg config.TaggingConfig) *Tagging {
	return NewTagging(TaggingOptions{
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Language: cfg.Language,
		Timeout:  cfg.TimeoutDuration(),
	})
}

// Kind implements Provider.
func (t *Tagging) Kind() config.ProviderKind { return config.ProviderTagging }

type analyzeRequest struct {
	Text     string         `json:"text"`
	Features map[string]any `json:"features"`
	Language string         `json:"language,omitempty"`
}

type scoredTag struct {
	Name  string   `json:"name"`
	Score *float64 `json:"score"`
}

// Classify submits text and the requested features to the analyze endpoint.
// An empty tag list for a feature is a valid result.
func (t *Tagging) Classify(ctx context.Context, text string, opts Options) (*Result, error) {
	if isBlank(text) {
		return nil, ErrEmptyInput
	}
	if len(opts.Features) == 0 {
		return nil, fmt.Errorf("tagging: no features requested")
	}

	req := analyzeRequest{
		Text:     text,
		Features: make(map[string]any, len(opts.Features)),
		Language: t.language,
	}
	for f, fo := range opts.Features {
		if fo.Limit > 0 {
			req.Features[string(f)] = map[string]int{"limit": fo.Limit}
		} else {
			req.Features[string(f)] = true
		}
	}

	var raw map[string]json.RawMessage
	if err := t.postJSON(ctx, req, &raw); err != nil {
		return nil, err
	}

	res := &Result{
		Kind: config.ProviderTagging,
		Tags: make(map[config.Feature][]ScoredResult, len(opts.Features)),
	}
	for _, f := range config.Features {
		if _, ok := opts.Features[f]; !ok {
			continue
		}
		tags, err := decodeFeature(raw, f)
		if err != nil {
			return nil, err
		}
		res.Tags[f] = tags
	}
	return res, nil
}

// decodeFeature reads the tag list for f, accepting the plural key some
// services use ("categories", "entities").
func decodeFeature(raw map[string]json.RawMessage, f config.Feature) ([]ScoredResult, error) {
	body, ok := raw[string(f)]
	if !ok {
		body, ok = raw[plural(f)]
	}
	if !ok || string(body) == "null" {
		return []ScoredResult{}, nil
	}

	var tags []scoredTag
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, &Error{Code: CodeParse, Message: fmt.Sprintf("decode %s", f), Err: err}
	}

	out := make([]ScoredResult, 0, len(tags))
	for _, tag := range tags {
		name := strings.TrimSpace(tag.Name)
		if name == "" {
			continue
		}
		if tag.Score == nil || *tag.Score < 0 || *tag.Score > 1 {
			return nil, &Error{Code: CodeParse, Message: fmt.Sprintf("%s %q: score missing or outside [0,1]", f, name)}
		}
		out = append(out, ScoredResult{Name: name, Score: *tag.Score, Feature: f})
	}
	return out, nil
}

func plural(f config.Feature) string {
	switch f {
	case config.FeatureCategory:
		return "categories"
	case config.FeatureEntity:
		return "entities"
	}
	return string(f) + "s"
}
