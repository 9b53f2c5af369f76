package llm

import (
	"context"
	"fmt"

	"character-chat/backend/internal/models"
	"character-chat/backend/pkg/logger"
)

// ModelLookup finds a model configuration by canonical model id. The bool is false when none exists.
type ModelLookup interface {
	Resolve(ctx context.Context, modelID string) (models.ModelConfig, bool, error)
}

// Decrypter turns a stored ciphertext back into a plaintext API key
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// ResolveRequest carries what a strategy may use to pick credentials
type ResolveRequest struct {
	PreferredModel string
}

// Strategy is one step of the resolution chain. Returning (nil, nil) passes to the next strategy.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, req ResolveRequest) (*Credentials, error)
}

// RegistryStrategy resolves the character's preferred model against stored configurations
type RegistryStrategy struct {
	Models ModelLookup
	Vault  Decrypter
	Log    *logger.Logger
}

func (s *RegistryStrategy) Name() string { return SourceRegistry }

func (s *RegistryStrategy) Resolve(ctx context.Context, req ResolveRequest) (*Credentials, error) {
	if req.PreferredModel == "" {
		return nil, nil
	}

	cfg, ok, err := s.Models.Resolve(ctx, req.PreferredModel)
	if err != nil {
		// a registry outage degrades to the next strategy like a dangling reference
		s.Log.Warn("Model lookup failed", "model", req.PreferredModel, "error", err.Error())
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	if !cfg.IsEnabled {
		return nil, &ModelDisabledError{ModelID: cfg.ModelID}
	}

	apiKey, err := s.Vault.Decrypt(cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("%w: model %s: %v", ErrCredentialUnusable, cfg.ModelID, err)
	}

	return &Credentials{
		ModelID:            cfg.ModelID,
		Name:               cfg.Name,
		Provider:           cfg.Provider,
		BaseURL:            cfg.BaseURL,
		APIKey:             apiKey,
		DefaultTemperature: cfg.DefaultTemperature,
		DefaultMaxTokens:   cfg.DefaultMaxTokens,
		HasDefaults:        true,
		Source:             SourceRegistry,
	}, nil
}

// EnvironmentStrategy supplies the process-level default credentials
type EnvironmentStrategy struct {
	APIKey  string
	BaseURL string
	Model   string
}

func (s *EnvironmentStrategy) Name() string { return SourceEnvironment }

func (s *EnvironmentStrategy) Resolve(_ context.Context, _ ResolveRequest) (*Credentials, error) {
	if s.APIKey == "" || s.Model == "" {
		return nil, nil
	}
	return &Credentials{
		ModelID:  s.Model,
		Name:     s.Model,
		Provider: "openai",
		BaseURL:  s.BaseURL,
		APIKey:   s.APIKey,
		Source:   SourceEnvironment,
	}, nil
}

// Resolver evaluates strategies in order and returns the first match
type Resolver struct {
	strategies []Strategy
	log        *logger.Logger
}

func NewResolver(log *logger.Logger, strategies ...Strategy) *Resolver {
	return &Resolver{strategies: strategies, log: log}
}

func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (Credentials, error) {
	for _, s := range r.strategies {
		creds, err := s.Resolve(ctx, req)
		if err != nil {
			return Credentials{}, err
		}
		if creds != nil {
			r.log.Debug("Resolved model credentials",
				"strategy", s.Name(),
				"requested", req.PreferredModel,
				"model", creds.ModelID,
			)
			return *creds, nil
		}
	}
	return Credentials{}, ErrModelUnconfigured
}

// Fallback returns the environment credentials if that strategy is configured
func (r *Resolver) Fallback(ctx context.Context) (Credentials, bool) {
	for _, s := range r.strategies {
		if env, ok := s.(*EnvironmentStrategy); ok {
			if creds, _ := env.Resolve(ctx, ResolveRequest{}); creds != nil {
				return *creds, true
			}
		}
	}
	return Credentials{}, false
}
