// Package provider defines the classification provider contract and its two
// variants: a tagging provider returning scored tags per feature, and an
// embedding provider returning a single vector.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cognicore/autotag/pkg/autotag/config"
)

// ErrEmptyInput is returned without a network call when there is no text.
var ErrEmptyInput = errors.New("no text to classify")

// Code classifies provider failures
type Code string

const (
	CodeNetwork   Code = "network"
	CodeAuth      Code = "auth"
	CodeRateLimit Code = "rate_limit"
	CodeTimeout   Code = "timeout"
	CodeParse     Code = "parse"

	// CodeRequest is a request the service refused: a 4xx other than auth,
	// rate limit and timeout, or a success status carrying an error body.
	CodeRequest Code = "request"
)

// Error is a provider failure with a stable code
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a caller may retry with backoff.
// Auth, parse and request failures are configuration problems and are not
// retried.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeNetwork, CodeTimeout, CodeRateLimit:
		return true
	}
	return false
}

// AsError extracts a provider error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ScoredResult is one tag returned by a tagging provider
type ScoredResult struct {
	Name    string         `json:"name"`
	Score   float64        `json:"score"`
	Feature config.Feature `json:"feature"`
}

// Result is what a provider returns. Tagging providers fill Tags; embedding
// providers fill Vector.
type Result struct {
	Kind    config.ProviderKind               `json:"kind"`
	Tags    map[config.Feature][]ScoredResult `json:"tags,omitempty"`
	Vector  []float64                         `json:"vector,omitempty"`
	Skipped bool                              `json:"skipped,omitempty"`
}

// FeatureOptions tunes one requested feature
type FeatureOptions struct {
	Limit int
}

// Options carries per-call options
type Options struct {
	Features map[config.Feature]FeatureOptions
}

// OptionsFromSettings requests every enabled feature.
func OptionsFromSettings(s config.Settings) Options {
	opts := Options{Features: make(map[config.Feature]FeatureOptions)}
	for _, f := range s.Enabled() {
		opts.Features[f] = FeatureOptions{Limit: s.Feature(f).Limit}
	}
	return opts
}

// Provider classifies normalized text
type Provider interface {
	Kind() config.ProviderKind
	Classify(ctx context.Context, text string, opts Options) (*Result, error)
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
