package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cognicore/autotag/pkg/autotag/config"
	"github.com/cognicore/autotag/pkg/autotag/tokenizer"
)

// Embedding calls an embedding endpoint and returns one vector per text.
type Embedding struct {
	client
	model          string
	dimensions     int
	maxInputTokens int
	tokenizer      *tokenizer.Tokenizer
}

// EmbeddingOptions configures an embedding provider
type EmbeddingOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Dimensions, when set, is the exact vector length the model must return.
	Dimensions     int
	MaxInputTokens int
	Tokenizer      *tokenizer.Tokenizer
}

// NewEmbedding creates an embedding provider.
func NewEmbedding(opts EmbeddingOptions) *Embedding {
	tok := opts.Tokenizer
	if tok == nil {
		tok = tokenizer.Default()
	}
	return &Embedding{
		client: client{
			baseURL: opts.BaseURL,
			apiKey:  opts.APIKey,
			timeout: opts.Timeout,
			httpc:   opts.HTTPClient,
		},
		model:          opts.Model,
		dimensions:     opts.Dimensions,
		maxInputTokens: opts.MaxInputTokens,
		tokenizer:      tok,
	}
}

// NewEmbeddingFromConfig creates an embedding provider from file configuration.
func NewEmbeddingFromConfig(cfg config.EmbeddingConfig) *Embedding {
	return NewEmbedding(EmbeddingOptions{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		Timeout:        cfg.TimeoutDuration(),
		Dimensions:     cfg.Dimensions,
		MaxInputTokens: cfg.MaxInputTokens,
		Tokenizer:      tokenizer.New(cfg.CharactersPerToken, cfg.TokensPerWord),
	})
}

// Kind implements Provider.
func (e *Embedding) Kind() config.ProviderKind { return config.ProviderEmbedding }

type embedRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// embedResponse accepts {vector:[...]} and the OpenAI-style data envelope.
type embedResponse struct {
	Vector []float64 `json:"vector"`
	Data   []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Classify trims text to the input budget and embeds it. Options are ignored.
func (e *Embedding) Classify(ctx context.Context, text string, _ Options) (*Result, error) {
	vec, err := e.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return &Result{Kind: config.ProviderEmbedding, Vector: vec}, nil
}

// Embed returns the embedding of text after trimming it to MaxInputTokens.
func (e *Embedding) Embed(ctx context.Context, text string) ([]float64, error) {
	if isBlank(text) {
		return nil, ErrEmptyInput
	}
	if e.maxInputTokens > 0 {
		text = e.tokenizer.TrimContent(text, e.maxInputTokens)
		if isBlank(text) {
			return nil, ErrEmptyInput
		}
	}

	var resp embedResponse
	err := e.postJSON(ctx, embedRequest{Input: text, Model: e.model, Dimensions: e.dimensions}, &resp)
	if err != nil {
		return nil, err
	}

	vec := resp.Vector
	if len(vec) == 0 && len(resp.Data) > 0 {
		vec = resp.Data[0].Embedding
	}
	if len(vec) == 0 {
		return nil, &Error{Code: CodeParse, Message: "response has no vector"}
	}
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, &Error{Code: CodeParse, Message: fmt.Sprintf("vector has %d dimensions, want %d", len(vec), e.dimensions)}
	}
	return vec, nil
}
