package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/autotag/pkg/autotag/gate"
	"github.com/cognicore/autotag/pkg/autotag/internalerr"
	"github.com/cognicore/autotag/pkg/autotag/tokenizer"
)

const (
	EnvMode             = "AUTOTAG_MODE"
	EnvTaggingAPIKey    = "AUTOTAG_TAGGING_API_KEY"
	EnvEmbeddingAPIKey  = "AUTOTAG_EMBEDDING_API_KEY"
	EnvTaggingBaseURL   = "AUTOTAG_TAGGING_BASE_URL"
	EnvEmbeddingBaseURL = "AUTOTAG_EMBEDDING_BASE_URL"
)

// Feature is one classification dimension requested from a provider
type Feature string

const (
	FeatureCategory Feature = "category"
	FeatureKeyword  Feature = "keyword"
	FeatureConcept  Feature = "concept"
	FeatureEntity   Feature = "entity"
)

// Features lists every feature in processing order.
var Features = []Feature{FeatureCategory, FeatureKeyword, FeatureConcept, FeatureEntity}

// Mode governs whether linking happens automatically
type Mode string

const (
	ModeManualReview Mode = "manual_review"
	ModeAutomatic    Mode = "automatic_classification"
)

// Method governs whether missing labels may be created
type Method string

const (
	MethodRecommendedTerms Method = "recommended_terms"
	MethodExistingTerms    Method = "existing_terms"
)

// ProviderKind selects the classification provider variant
type ProviderKind string

const (
	ProviderTagging   ProviderKind = "tagging"
	ProviderEmbedding ProviderKind = "embedding"
)

// FeatureSettings configures one feature
type FeatureSettings struct {
	Enabled    bool    `yaml:"enabled"`
	Threshold  float64 `yaml:"threshold"`
	LabelGroup string  `yaml:"label_group"`
	// TopN caps linked labels per feature; 0 means unlimited for tagging and
	// defaults to 1 for embedding.
	TopN int `yaml:"top_n"`
	// Limit is forwarded to the tagging provider as the per-feature result cap.
	Limit int `yaml:"limit"`
}

// Settings is the read-only snapshot a classification run works from
type Settings struct {
	Mode     Mode                        `yaml:"mode"`
	Method   Method                      `yaml:"method"`
	Provider ProviderKind                `yaml:"provider"`
	Features map[Feature]FeatureSettings `yaml:"features"`
	// ClassifyWhen is an optional CEL expression over item_id, body and
	// length; items for which it is false are skipped.
	ClassifyWhen string `yaml:"classify_when"`
}

// Enabled returns enabled features in processing order.
func (s Settings) Enabled() []Feature {
	var out []Feature
	for _, f := range Features {
		if s.Features[f].Enabled {
			out = append(out, f)
		}
	}
	return out
}

// Feature returns the settings for f; the zero value means disabled.
func (s Settings) Feature(f Feature) FeatureSettings {
	return s.Features[f]
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	out.Features = make(map[Feature]FeatureSettings, len(s.Features))
	for k, v := range s.Features {
		out.Features[k] = v
	}
	return out
}

// WithDefaults returns a copy with per-feature defaults filled in: the
// embedding provider links only the nearest label unless top_n is set.
func (s Settings) WithDefaults() Settings {
	out := s.Clone()
	if out.Provider != ProviderEmbedding {
		return out
	}
	for f, fs := range out.Features {
		if fs.TopN == 0 {
			fs.TopN = 1
			out.Features[f] = fs
		}
	}
	return out
}

// Validate fails fast on settings a run could not honor.
func (s Settings) Validate() error {
	switch s.Mode {
	case ModeManualReview, ModeAutomatic:
	default:
		return fmt.Errorf("%w: unknown mode %q", internalerr.ErrInvalidConfig, s.Mode)
	}
	switch s.Method {
	case MethodRecommendedTerms, MethodExistingTerms:
	default:
		return fmt.Errorf("%w: unknown method %q", internalerr.ErrInvalidConfig, s.Method)
	}
	switch s.Provider {
	case ProviderTagging, ProviderEmbedding:
	default:
		return fmt.Errorf("%w: unknown provider %q", internalerr.ErrInvalidConfig, s.Provider)
	}

	for f, fs := range s.Features {
		if !isFeature(f) {
			return fmt.Errorf("%w: unknown feature %q", internalerr.ErrInvalidConfig, f)
		}
		if !fs.Enabled {
			continue
		}
		if fs.LabelGroup == "" {
			return fmt.Errorf("%w: feature %s enabled without label_group", internalerr.ErrInvalidConfig, f)
		}
		if fs.Threshold < 0 || fs.Threshold > 1 {
			return fmt.Errorf("%w: feature %s threshold %v outside [0,1]", internalerr.ErrInvalidConfig, f, fs.Threshold)
		}
		if fs.TopN < 0 || fs.Limit < 0 {
			return fmt.Errorf("%w: feature %s top_n/limit must not be negative", internalerr.ErrInvalidConfig, f)
		}
	}
	if len(s.Enabled()) == 0 {
		return fmt.Errorf("%w: no feature enabled", internalerr.ErrInvalidConfig)
	}
	if s.ClassifyWhen != "" {
		if _, err := gate.New(s.ClassifyWhen); err != nil {
			return fmt.Errorf("%w: classify_when: %v", internalerr.ErrInvalidConfig, err)
		}
	}
	return nil
}

func isFeature(f Feature) bool {
	for _, known := range Features {
		if f == known {
			return true
		}
	}
	return false
}

// TaggingConfig configures the tagging provider endpoint
type TaggingConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
	// Language is forwarded as an analysis hint when set.
	Language string `yaml:"language"`
}

// EmbeddingConfig configures the embedding provider endpoint
type EmbeddingConfig struct {
	BaseURL            string  `yaml:"base_url"`
	APIKey             string  `yaml:"api_key"`
	Model              string  `yaml:"model"`
	Timeout            string  `yaml:"timeout"`
	Dimensions         int     `yaml:"dimensions"`
	MaxInputTokens     int     `yaml:"max_input_tokens"`
	CharactersPerToken int     `yaml:"characters_per_token"`
	TokensPerWord      float64 `yaml:"tokens_per_word"`
}

// Providers groups provider endpoint configuration
type Providers struct {
	Tagging   TaggingConfig   `yaml:"tagging"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// Config is the root configuration file
type Config struct {
	Settings  Settings  `yaml:"settings"`
	Providers Providers `yaml:"providers"`
}

// Load reads a YAML config file and finalizes it: defaults, environment
// overrides, then validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and finalizes YAML config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

func (c *Config) loadDefaults() {
	s := &c.Settings
	if s.Mode == "" {
		s.Mode = ModeAutomatic
	}
	if s.Method == "" {
		s.Method = MethodRecommendedTerms
	}
	if s.Provider == "" {
		s.Provider = ProviderTagging
	}
	*s = s.WithDefaults()

	t := &c.Providers.Tagging
	if t.Timeout == "" {
		t.Timeout = "30s"
	}

	e := &c.Providers.Embedding
	if e.Timeout == "" {
		e.Timeout = "30s"
	}
	if e.MaxInputTokens == 0 {
		e.MaxInputTokens = 8191
	}
	if e.CharactersPerToken == 0 {
		e.CharactersPerToken = tokenizer.DefaultCharactersPerToken
	}
	if e.TokensPerWord == 0 {
		e.TokensPerWord = tokenizer.DefaultTokensPerWord
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvMode); v != "" {
		c.Settings.Mode = Mode(v)
	}
	if v := os.Getenv(EnvTaggingBaseURL); v != "" {
		c.Providers.Tagging.BaseURL = v
	}
	if v := os.Getenv(EnvTaggingAPIKey); v != "" {
		c.Providers.Tagging.APIKey = v
	}
	if v := os.Getenv(EnvEmbeddingBaseURL); v != "" {
		c.Providers.Embedding.BaseURL = v
	}
	if v := os.Getenv(EnvEmbeddingAPIKey); v != "" {
		c.Providers.Embedding.APIKey = v
	}
}

func (c *Config) validate() error {
	if err := c.Settings.Validate(); err != nil {
		return err
	}

	switch c.Settings.Provider {
	case ProviderTagging:
		t := c.Providers.Tagging
		if t.BaseURL == "" {
			return fmt.Errorf("%w: tagging base_url required", internalerr.ErrInvalidConfig)
		}
		if _, err := time.ParseDuration(t.Timeout); err != nil {
			return fmt.Errorf("%w: tagging timeout: %v", internalerr.ErrInvalidConfig, err)
		}
	case ProviderEmbedding:
		e := c.Providers.Embedding
		if e.BaseURL == "" {
			return fmt.Errorf("%w: embedding base_url required", internalerr.ErrInvalidConfig)
		}
		if _, err := time.ParseDuration(e.Timeout); err != nil {
			return fmt.Errorf("%w: embedding timeout: %v", internalerr.ErrInvalidConfig, err)
		}
		if e.MaxInputTokens < 0 || e.Dimensions < 0 || e.CharactersPerToken < 0 || e.TokensPerWord < 0 {
			return fmt.Errorf("%w: embedding limits must not be negative", internalerr.ErrInvalidConfig)
		}
	}
	return nil
}

// TimeoutDuration parses the tagging timeout.
func (t TaggingConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(t.Timeout)
	return d
}

// TimeoutDuration parses the embedding timeout.
func (e EmbeddingConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(e.Timeout)
	return d
}
