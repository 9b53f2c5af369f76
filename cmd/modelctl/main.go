// Command modelctl manages model configurations from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"character-chat/backend/internal/models"
	"character-chat/backend/internal/service"
	"character-chat/backend/pkg/config"
	"character-chat/backend/pkg/di"
	apperrors "character-chat/backend/pkg/errors"
	"character-chat/backend/pkg/logger"

	"github.com/BurntSushi/toml"
	"github.com/gin-gonic/gin/binding"
)

const usage = `Usage: modelctl <command> [flags]

Commands:
  import-env          create a model from OPENAI_API_KEY, OPENAI_BASE_URL and OPENAI_MODEL
  seed -file FILE     create the models listed in a TOML file (-update overwrites existing ones)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.New()
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = false
	log := logger.New(logConfig)

	ctx := context.Background()
	var err error
	switch os.Args[1] {
	case "import-env":
		err = withRegistry(cfg, log, func(reg *service.ModelRegistry) error {
			return importEnv(ctx, reg, cfg)
		})
	case "seed":
		fs := flag.NewFlagSet("seed", flag.ExitOnError)
		file := fs.String("file", "models.toml", "TOML file with [[models]] entries")
		update := fs.Bool("update", false, "update models that already exist")
		_ = fs.Parse(os.Args[2:])
		err = withRegistry(cfg, log, func(reg *service.ModelRegistry) error {
			return seed(ctx, reg, *file, *update)
		})
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		log.LogError(err, "modelctl failed", "command", os.Args[1])
		os.Exit(1)
	}
}

func withRegistry(cfg *config.Config, log *logger.Logger, fn func(*service.ModelRegistry) error) error {
	db, err := config.OpenDB(cfg)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return err
	}
	container, err := di.New(cfg, db, log, di.Options{})
	if err != nil {
		return err
	}
	defer container.Close(context.Background())
	return fn(container.Registry)
}

// InferProvider guesses the vendor and a display name from an OpenAI-compatible base URL
func InferProvider(baseURL, modelID string) (provider, name string) {
	switch u := strings.ToLower(baseURL); {
	case strings.Contains(u, "deepseek"):
		return "deepseek", "DeepSeek Chat"
	case strings.Contains(u, "bigmodel.cn"):
		return "zhipu", "GLM-4.7-Flash"
	case strings.Contains(u, "modelscope"):
		return "zhipu", "GLM-4.7-Flash (ModelScope)"
	case strings.Contains(u, "anthropic"):
		return "anthropic", "Claude"
	case strings.Contains(u, "google"):
		return "google", "Gemini"
	case strings.Contains(u, "dashscope"), strings.Contains(u, "aliyun"):
		return "alibaba", modelID
	default:
		return "openai", modelID
	}
}

func importEnv(ctx context.Context, reg *service.ModelRegistry, cfg *config.Config) error {
	if cfg.LLM.APIKey == "" || cfg.LLM.BaseURL == "" || cfg.LLM.Model == "" {
		return errors.New("OPENAI_API_KEY, OPENAI_BASE_URL and OPENAI_MODEL must all be set")
	}

	provider, name := InferProvider(cfg.LLM.BaseURL, cfg.LLM.Model)
	enabled := true
	req := &models.CreateModelRequest{
		Name:        name,
		ModelID:     cfg.LLM.Model,
		Provider:    provider,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		IsEnabled:   &enabled,
		Description: "Imported from environment variables",
	}

	dto, err := reg.Create(ctx, req)
	if apperrors.HasCode(err, apperrors.CodeDuplicateModelID) {
		fmt.Printf("Model %q already exists; delete it first to re-import\n", cfg.LLM.Model)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Imported model %d: %s (%s, %s) key %s\n", dto.ID, dto.Name, dto.ModelID, dto.Provider, dto.APIKeyMasked)
	return nil
}

type seedFile struct {
	Models []seedModel `toml:"models"`
}

type seedModel struct {
	Name               string   `toml:"name"`
	ModelID            string   `toml:"model_id"`
	Provider           string   `toml:"provider"`
	APIKey             string   `toml:"api_key"`
	APIKeyEnv          string   `toml:"api_key_env"`
	BaseURL            string   `toml:"base_url"`
	Enabled            *bool    `toml:"enabled"`
	DefaultTemperature *float64 `toml:"default_temperature"`
	DefaultMaxTokens   *int     `toml:"default_max_tokens"`
	Description        string   `toml:"description"`
	SortOrder          int      `toml:"sort_order"`
}

// LoadSeedFile decodes and validates every entry; api_key_env takes precedence over api_key
func LoadSeedFile(path string) ([]models.CreateModelRequest, error) {
	var file seedFile
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}

	out := make([]models.CreateModelRequest, 0, len(file.Models))
	for i, m := range file.Models {
		key := m.APIKey
		if m.APIKeyEnv != "" {
			key = os.Getenv(m.APIKeyEnv)
		}
		req := models.CreateModelRequest{
			Name:               m.Name,
			ModelID:            m.ModelID,
			Provider:           m.Provider,
			APIKey:             key,
			BaseURL:            m.BaseURL,
			IsEnabled:          m.Enabled,
			DefaultTemperature: m.DefaultTemperature,
			DefaultMaxTokens:   m.DefaultMaxTokens,
			Description:        m.Description,
			SortOrder:          m.SortOrder,
		}
		if err := binding.Validator.ValidateStruct(&req); err != nil {
			return nil, fmt.Errorf("models[%d] (%s): %w", i, m.ModelID, err)
		}
		out = append(out, req)
	}
	return out, nil
}

func seed(ctx context.Context, reg *service.ModelRegistry, path string, update bool) error {
	reqs, err := LoadSeedFile(path)
	if err != nil {
		return err
	}

	var created, updated, skipped int
	for i := range reqs {
		req := &reqs[i]
		_, err := reg.Create(ctx, req)
		switch {
		case err == nil:
			created++
			fmt.Printf("created %s\n", req.ModelID)
		case apperrors.HasCode(err, apperrors.CodeDuplicateModelID) && update:
			existing, found, lookupErr := reg.Resolve(ctx, req.ModelID)
			if lookupErr != nil || !found {
				return fmt.Errorf("update %s: %w", req.ModelID, errors.Join(err, lookupErr))
			}
			if _, err := reg.Update(ctx, existing.ID, toUpdate(req)); err != nil {
				return fmt.Errorf("update %s: %w", req.ModelID, err)
			}
			updated++
			fmt.Printf("updated %s\n", req.ModelID)
		case apperrors.HasCode(err, apperrors.CodeDuplicateModelID):
			skipped++
			fmt.Printf("skipped %s (exists)\n", req.ModelID)
		default:
			return fmt.Errorf("create %s: %w", req.ModelID, err)
		}
	}
	fmt.Printf("%d created, %d updated, %d skipped\n", created, updated, skipped)
	return nil
}

func toUpdate(req *models.CreateModelRequest) *models.UpdateModelRequest {
	return &models.UpdateModelRequest{
		Name:               &req.Name,
		Provider:           &req.Provider,
		APIKey:             &req.APIKey,
		BaseURL:            &req.BaseURL,
		IsEnabled:          req.IsEnabled,
		DefaultTemperature: req.DefaultTemperature,
		DefaultMaxTokens:   req.DefaultMaxTokens,
		Description:        &req.Description,
		SortOrder:          &req.SortOrder,
	}
}
