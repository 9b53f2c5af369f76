package service

import (
	"context"
	"errors"
	"fmt"

	"character-chat/backend/internal/credential"
	"character-chat/backend/internal/llm"
	"character-chat/backend/internal/models"
	"character-chat/backend/internal/repository"
	"character-chat/backend/pkg/cache"
	apperrors "character-chat/backend/pkg/errors"
	"character-chat/backend/pkg/logger"

	"github.com/cloudwego/eino/schema"
)

// Cipher encrypts API keys for storage and decrypts them for use
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Generator performs a single non-streaming completion
type Generator interface {
	Generate(ctx context.Context, creds llm.Credentials, messages []*schema.Message, params llm.Params) (*schema.Message, error)
}

// ModelRegistry owns model configurations and a TTL cache of immutable snapshots keyed by model id
type ModelRegistry struct {
	repo      repository.ModelRepository
	cipher    Cipher
	cache     cache.Store[models.ModelConfig]
	generator Generator
	log       *logger.Logger
}

func NewModelRegistry(repo repository.ModelRepository, cipher Cipher, store cache.Store[models.ModelConfig], generator Generator, log *logger.Logger) *ModelRegistry {
	return &ModelRegistry{repo: repo, cipher: cipher, cache: store, generator: generator, log: log}
}

func cacheKey(modelID string) string {
	return "model:" + modelID
}

// Resolve returns the configuration for a canonical model id, disabled ones included,
// so callers can tell "disabled" from "absent". Misses are not cached.
func (r *ModelRegistry) Resolve(ctx context.Context, modelID string) (models.ModelConfig, bool, error) {
	if cfg, ok := r.cache.Get(ctx, cacheKey(modelID)); ok {
		return cfg, true, nil
	}

	cfg, err := r.repo.GetByModelID(ctx, modelID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.ModelConfig{}, false, nil
	}
	if err != nil {
		return models.ModelConfig{}, false, err
	}

	r.cache.Set(ctx, cacheKey(modelID), *cfg)
	return *cfg, true, nil
}

func (r *ModelRegistry) invalidate(ctx context.Context) {
	r.cache.Flush(ctx)
}

func (r *ModelRegistry) List(ctx context.Context) ([]models.ModelDto, error) {
	return r.list(ctx, false)
}

func (r *ModelRegistry) ListEnabled(ctx context.Context) ([]models.ModelDto, error) {
	return r.list(ctx, true)
}

func (r *ModelRegistry) list(ctx context.Context, enabledOnly bool) ([]models.ModelDto, error) {
	configs, err := r.repo.List(ctx, enabledOnly)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	out := make([]models.ModelDto, 0, len(configs))
	for i := range configs {
		out = append(out, r.toDto(&configs[i]))
	}
	return out, nil
}

func (r *ModelRegistry) Get(ctx context.Context, id uint) (*models.ModelDto, error) {
	cfg, err := r.find(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := r.toDto(cfg)
	return &dto, nil
}

func (r *ModelRegistry) find(ctx context.Context, id uint) (*models.ModelConfig, error) {
	cfg, err := r.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.ModelNotFound(id)
	}
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return cfg, nil
}

func (r *ModelRegistry) ensureUnique(ctx context.Context, modelID string, selfID uint) error {
	existing, err := r.repo.GetByModelID(ctx, modelID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	if existing.ID != selfID {
		return duplicateModelID(modelID).WithDetails(map[string]any{"modelId": modelID, "existingId": existing.ID})
	}
	return nil
}

func duplicateModelID(modelID string) *apperrors.AppError {
	return apperrors.NewBadRequestError(apperrors.CodeDuplicateModelID,
		fmt.Sprintf("Model with modelId %q already exists", modelID)).
		WithDetails(map[string]any{"modelId": modelID})
}

// writeError maps a failed insert or save; the unique index catches writers that raced past ensureUnique
func writeError(err error, modelID string) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return duplicateModelID(modelID)
	}
	return apperrors.DatabaseError(err)
}

func (r *ModelRegistry) encrypt(apiKey string) (string, error) {
	ciphertext, err := r.cipher.Encrypt(apiKey)
	if err != nil {
		return "", apperrors.NewInternalServerError(apperrors.CodeConfigurationError,
			"API key encryption is not configured").WithCause(err)
	}
	return ciphertext, nil
}

func (r *ModelRegistry) Create(ctx context.Context, req *models.CreateModelRequest) (*models.ModelDto, error) {
	if err := r.ensureUnique(ctx, req.ModelID, 0); err != nil {
		return nil, err
	}

	ciphertext, err := r.encrypt(req.APIKey)
	if err != nil {
		return nil, err
	}

	cfg := &models.ModelConfig{
		Name:               req.Name,
		ModelID:            req.ModelID,
		Provider:           req.Provider,
		APIKey:             ciphertext,
		BaseURL:            req.BaseURL,
		IsEnabled:          true,
		DefaultTemperature: llm.DefaultTemperature,
		DefaultMaxTokens:   llm.DefaultMaxTokens,
		Description:        req.Description,
		SortOrder:          req.SortOrder,
	}
	if req.IsEnabled != nil {
		cfg.IsEnabled = *req.IsEnabled
	}
	if req.DefaultTemperature != nil {
		cfg.DefaultTemperature = *req.DefaultTemperature
	}
	if req.DefaultMaxTokens != nil {
		cfg.DefaultMaxTokens = *req.DefaultMaxTokens
	}

	if err := r.repo.Create(ctx, cfg); err != nil {
		return nil, writeError(err, cfg.ModelID)
	}
	r.invalidate(ctx)

	r.log.Info("Model configuration created", "id", cfg.ID, "modelId", cfg.ModelID, "provider", cfg.Provider)
	dto := r.toDto(cfg)
	return &dto, nil
}

func (r *ModelRegistry) Update(ctx context.Context, id uint, req *models.UpdateModelRequest) (*models.ModelDto, error) {
	cfg, err := r.find(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.ModelID != nil && *req.ModelID != cfg.ModelID {
		if err := r.ensureUnique(ctx, *req.ModelID, cfg.ID); err != nil {
			return nil, err
		}
		cfg.ModelID = *req.ModelID
	}
	if req.APIKey != nil && *req.APIKey != "" {
		ciphertext, err := r.encrypt(*req.APIKey)
		if err != nil {
			return nil, err
		}
		cfg.APIKey = ciphertext
	}
	if req.Name != nil {
		cfg.Name = *req.Name
	}
	if req.Provider != nil {
		cfg.Provider = *req.Provider
	}
	if req.BaseURL != nil {
		cfg.BaseURL = *req.BaseURL
	}
	if req.IsEnabled != nil {
		cfg.IsEnabled = *req.IsEnabled
	}
	if req.DefaultTemperature != nil {
		cfg.DefaultTemperature = *req.DefaultTemperature
	}
	if req.DefaultMaxTokens != nil {
		cfg.DefaultMaxTokens = *req.DefaultMaxTokens
	}
	if req.Description != nil {
		cfg.Description = *req.Description
	}
	if req.SortOrder != nil {
		cfg.SortOrder = *req.SortOrder
	}

	if err := r.repo.Save(ctx, cfg); err != nil {
		return nil, writeError(err, cfg.ModelID)
	}
	r.invalidate(ctx)

	r.log.Info("Model configuration updated", "id", cfg.ID, "modelId", cfg.ModelID)
	dto := r.toDto(cfg)
	return &dto, nil
}

func (r *ModelRegistry) Delete(ctx context.Context, id uint) error {
	cfg, err := r.find(ctx, id)
	if err != nil {
		return err
	}
	if err := r.repo.Delete(ctx, cfg.ID); err != nil {
		return apperrors.DatabaseError(err)
	}
	r.invalidate(ctx)

	r.log.Info("Model configuration deleted", "id", cfg.ID, "modelId", cfg.ModelID)
	return nil
}

// TestConnection sends one tiny completion with the stored credentials. The outcome is never persisted.
func (r *ModelRegistry) TestConnection(ctx context.Context, id uint) (*models.TestConnectionResult, error) {
	cfg, err := r.find(ctx, id)
	if err != nil {
		return nil, err
	}

	failed := func(err error) *models.TestConnectionResult {
		r.log.Warn("Model connection test failed", "modelId", cfg.ModelID, "error", err.Error())
		return &models.TestConnectionResult{
			Success: false,
			Message: "Connection failed: " + err.Error(),
			Details: map[string]any{"error": err.Error()},
		}
	}

	apiKey, err := r.cipher.Decrypt(cfg.APIKey)
	if err != nil {
		return failed(err), nil
	}

	creds := llm.Credentials{
		ModelID:  cfg.ModelID,
		Name:     cfg.Name,
		Provider: cfg.Provider,
		BaseURL:  cfg.BaseURL,
		APIKey:   apiKey,
		Source:   llm.SourceRegistry,
	}
	params := llm.Params{Temperature: cfg.DefaultTemperature, MaxTokens: 5}

	reply, err := r.generator.Generate(ctx, creds, []*schema.Message{schema.UserMessage("Hi")}, params)
	if err != nil {
		return failed(err), nil
	}

	details := map[string]any{"model": cfg.ModelID}
	if reply.ResponseMeta != nil && reply.ResponseMeta.Usage != nil {
		details["usage"] = llm.Usage{
			PromptTokens:     reply.ResponseMeta.Usage.PromptTokens,
			CompletionTokens: reply.ResponseMeta.Usage.CompletionTokens,
			TotalTokens:      reply.ResponseMeta.Usage.TotalTokens,
		}
	}
	return &models.TestConnectionResult{
		Success: true,
		Message: "Connection successful, the model responded normally.",
		Details: details,
	}, nil
}

func (r *ModelRegistry) toDto(cfg *models.ModelConfig) models.ModelDto {
	masked := "****"
	if plain, err := r.cipher.Decrypt(cfg.APIKey); err == nil {
		masked = credential.Mask(plain)
	} else {
		r.log.Warn("Stored API key could not be decrypted", "modelId", cfg.ModelID, "error", err.Error())
	}

	return models.ModelDto{
		ID:                 cfg.ID,
		Name:               cfg.Name,
		ModelID:            cfg.ModelID,
		Provider:           cfg.Provider,
		APIKeyMasked:       masked,
		BaseURL:            cfg.BaseURL,
		IsEnabled:          cfg.IsEnabled,
		DefaultTemperature: cfg.DefaultTemperature,
		DefaultMaxTokens:   cfg.DefaultMaxTokens,
		Description:        cfg.Description,
		SortOrder:          cfg.SortOrder,
		CreatedAt:          cfg.CreatedAt,
		UpdatedAt:          cfg.UpdatedAt,
	}
}
