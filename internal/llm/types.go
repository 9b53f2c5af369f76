// Package llm resolves provider credentials and talks to OpenAI-compatible chat endpoints.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Hard-coded generation defaults, used when neither character nor model sets a value
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// Credential sources
const (
	SourceRegistry    = "registry"
	SourceEnvironment = "environment"
)

// Credentials is a resolved model endpoint. APIKey is plaintext and must never be logged.
type Credentials struct {
	ModelID            string
	Name               string
	Provider           string
	BaseURL            string
	APIKey             string
	DefaultTemperature float64
	DefaultMaxTokens   int
	// HasDefaults marks DefaultTemperature as set, since 0 is a valid temperature
	HasDefaults bool
	Source      string
}

// Params are the effective generation settings for one call
type Params struct {
	Temperature float64
	MaxTokens   int
}

// Usage is token accounting for one completion
type Usage struct {
	PromptTokens     int  `json:"promptTokens"`
	CompletionTokens int  `json:"completionTokens"`
	TotalTokens      int  `json:"totalTokens"`
	Estimated        bool `json:"estimated"`
}

var (
	// ErrModelUnconfigured means neither the registry nor the process environment yielded credentials
	ErrModelUnconfigured = errors.New("no model credentials configured")
	// ErrCredentialUnusable wraps decryption failures of a stored key
	ErrCredentialUnusable = errors.New("stored credential could not be decrypted")
)

// ModelDisabledError is returned when the resolved configuration is switched off
type ModelDisabledError struct {
	ModelID string
}

func (e *ModelDisabledError) Error() string {
	return fmt.Sprintf("model %q is disabled", e.ModelID)
}

// ProviderError wraps a failed provider call
type ProviderError struct {
	ModelID string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider call for %s failed: %v", e.ModelID, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// VisionUnavailableError is returned by the vision preprocessor for any failure
type VisionUnavailableError struct {
	Detail string
	Err    error
}

func (e *VisionUnavailableError) Error() string {
	return "vision model unavailable: " + e.Detail
}

func (e *VisionUnavailableError) Unwrap() error { return e.Err }

// ClientFactory builds a chat model bound to one set of credentials.
// A fresh client per call keeps concurrent requests from sharing mutable client state.
type ClientFactory func(ctx context.Context, creds Credentials, params Params) (model.BaseChatModel, error)

// NewOpenAIFactory returns a ClientFactory backed by eino's OpenAI-compatible chat model
func NewOpenAIFactory(timeout time.Duration) ClientFactory {
	return func(ctx context.Context, creds Credentials, params Params) (model.BaseChatModel, error) {
		temperature := float32(params.Temperature)
		maxTokens := params.MaxTokens

		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      creds.APIKey,
			BaseURL:     creds.BaseURL,
			Model:       creds.ModelID,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
			Timeout:     timeout,
		})
		if err != nil {
			return nil, err
		}
		return cm, nil
	}
}

// SupportsVision reports whether modelID matches any of the native-multimodal patterns
func SupportsVision(modelID string, patterns []string) bool {
	id := strings.ToLower(modelID)
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(id, p) {
			return true
		}
	}
	return false
}

// EffectiveParams applies precedence: character override, then model defaults, then hard-coded defaults.
// A nil temperature or a non-positive max tokens means unset; temperature 0 is an override.
func EffectiveParams(characterTemperature *float64, characterMaxTokens int, creds Credentials) Params {
	p := Params{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}

	switch {
	case characterTemperature != nil:
		p.Temperature = *characterTemperature
	case creds.HasDefaults:
		p.Temperature = creds.DefaultTemperature
	}

	switch {
	case characterMaxTokens > 0:
		p.MaxTokens = characterMaxTokens
	case creds.DefaultMaxTokens > 0:
		p.MaxTokens = creds.DefaultMaxTokens
	}
	return p
}
