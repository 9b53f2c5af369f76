// Package di builds the application object graph from configuration.
package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"character-chat/backend/internal/chat"
	"character-chat/backend/internal/credential"
	"character-chat/backend/internal/llm"
	"character-chat/backend/internal/memory"
	"character-chat/backend/internal/models"
	"character-chat/backend/internal/prompt"
	"character-chat/backend/internal/repository"
	"character-chat/backend/internal/service"
	"character-chat/backend/pkg/cache"
	"character-chat/backend/pkg/config"
	"character-chat/backend/pkg/health"
	"character-chat/backend/pkg/logger"
	"character-chat/backend/pkg/resilience"
	"character-chat/backend/pkg/secrets"
	"character-chat/backend/shared/observability"
	sharedredis "character-chat/backend/shared/redis"

	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config  *config.Config
	DB      *gorm.DB
	Logger  *logger.Logger
	Secrets secrets.Manager
	Redis   *sharedredis.RedisClient
	Metrics *observability.Metrics
	Health  *health.Checker

	Vault        *credential.Vault
	Breakers     *resilience.Group
	Streamer     *llm.Streamer
	Resolver     *llm.Resolver
	Vision       *llm.VisionPreprocessor
	Assembler    *prompt.Assembler
	Registry     *service.ModelRegistry
	Sessions     *service.SessionStore
	Characters   *service.CharacterService
	Uploads      *service.UploadService
	Memory       *memory.Client
	Orchestrator *chat.Orchestrator

	closers []func(context.Context) error
}

// Options lets tests replace the provider client factory and secret source
type Options struct {
	Factory llm.ClientFactory
	Secrets secrets.Manager
}

// New wires every service on top of an open database
func New(cfg *config.Config, db *gorm.DB, log *logger.Logger, opts Options) (*Container, error) {
	c := &Container{Config: cfg, DB: db, Logger: log}

	c.Secrets = opts.Secrets
	if c.Secrets == nil {
		mgr, err := secrets.NewManager(secrets.VaultConfigFromEnv(), log)
		if err != nil {
			return nil, fmt.Errorf("secrets manager: %w", err)
		}
		c.Secrets = mgr
	}

	if cfg.Observability.MetricsEnabled {
		metrics, err := observability.NewMetrics("character-chat")
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		c.Metrics = metrics
		c.closers = append(c.closers, metrics.Shutdown)
	}
	if cfg.Observability.TracingEnabled {
		shutdown, err := observability.SetupTracing("character-chat")
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		c.closers = append(c.closers, shutdown)
	}

	store, err := c.modelCache()
	if err != nil {
		return nil, err
	}

	c.Vault = credential.NewVault(credential.KeySource(secrets.KeySource(c.Secrets, secrets.KeyEncryptionKey)))
	if err := c.Vault.Check(); err != nil {
		// model CRUD reports CONFIGURATION_ERROR until a key is provided
		log.Warn("Credential vault unavailable", "error", err.Error())
	}

	c.Breakers = resilience.NewGroup(resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RetryTimeout:     30 * time.Second,
		IsFailure:        llm.IsProviderFailure,
	}, log)

	factory := opts.Factory
	if factory == nil {
		factory = llm.NewOpenAIFactory(cfg.LLM.Timeout)
	}
	var recorder llm.Recorder
	if c.Metrics != nil {
		recorder = c.Metrics
	}
	c.Streamer = llm.NewStreamer(factory, c.Breakers, recorder, log)

	modelRepo := repository.NewGormModelRepository(db)
	characterRepo := repository.NewGormCharacterRepository(db)
	sessionRepo := repository.NewGormSessionRepository(db)

	c.Registry = service.NewModelRegistry(modelRepo, c.Vault, store, c.Streamer, log)

	fallbackKey := c.Secrets.GetSecretWithDefault(context.Background(), secrets.KeyOpenAIAPIKey, cfg.LLM.APIKey)
	c.Resolver = llm.NewResolver(log,
		&llm.RegistryStrategy{Models: c.Registry, Vault: c.Vault, Log: log},
		&llm.EnvironmentStrategy{APIKey: fallbackKey, BaseURL: cfg.LLM.BaseURL, Model: cfg.LLM.Model},
	)

	c.Uploads, err = service.NewUploadService(cfg.Upload.Dir, cfg.Server.BaseURL, cfg.Upload.MaxSize, log)
	if err != nil {
		return nil, fmt.Errorf("upload service: %w", err)
	}

	c.Vision = llm.NewVisionPreprocessor(c.Registry, c.Vault, c.Streamer, llm.VisionConfig{
		ModelID:       cfg.Chat.VisionModelID,
		UploadDir:     cfg.Upload.Dir,
		PublicBaseURL: cfg.Server.BaseURL,
	}, log)

	loc, err := time.LoadLocation(cfg.Chat.PromptTimezone)
	if err != nil {
		log.Warn("Unknown prompt timezone, using UTC", "timezone", cfg.Chat.PromptTimezone, "error", err.Error())
		loc = time.UTC
	}
	c.Assembler = prompt.NewAssembler(cfg.Chat.MaxHistoryTurns, loc, c.Vision, log)

	c.Sessions = service.NewSessionStore(sessionRepo, characterRepo, log)
	c.Characters = service.NewCharacterService(characterRepo, c.Sessions, log)

	c.Memory = memory.New(memory.Config{
		Enabled:  cfg.Memory.Enabled,
		APIKey:   c.Secrets.GetSecretWithDefault(context.Background(), secrets.KeyMemoryAPIKey, cfg.Memory.APIKey),
		BaseURL:  cfg.Memory.BaseURL,
		Timeout:  cfg.Memory.Timeout,
		RetryMax: 2,
	}, log)

	c.Orchestrator = chat.NewOrchestrator(
		c.Characters, c.Resolver, c.Assembler, c.Streamer, c.Memory, c.Sessions,
		chat.Options{VisionModels: cfg.Chat.VisionNativeModels},
		log,
	)

	c.Health = c.healthChecker()
	return c, nil
}

func (c *Container) modelCache() (cache.Store[models.ModelConfig], error) {
	cfg := c.Config
	switch cfg.Cache.Backend {
	case "redis":
		opts, err := sharedredis.ParseOptions(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("redis options: %w", err)
		}
		c.Redis = sharedredis.NewRedisClient(opts)
		c.closers = append(c.closers, func(context.Context) error { return c.Redis.Close() })
		c.Logger.Info("Model cache backed by redis", "addr", opts.Addr)
		return cache.NewRedis[models.ModelConfig](c.Redis, "character-chat:", cfg.Cache.TTL, c.Logger), nil
	case "memory", "":
		return cache.NewMemory[models.ModelConfig](cfg.Cache.TTL, cfg.Cache.PurgeWindow), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
}

func (c *Container) healthChecker() *health.Checker {
	checker := health.NewChecker(c.Logger, 30*time.Second)
	checker.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := c.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if c.Redis != nil {
		checker.RegisterRedisCheck(c.Redis.Ping)
	}
	checker.RegisterCheck("registry", false, func(ctx context.Context) (health.Status, string, error) {
		enabled, err := c.Registry.ListEnabled(ctx)
		if err != nil {
			return health.StatusDown, "Model registry unreadable", err
		}
		if _, ok := c.Resolver.Fallback(ctx); len(enabled) == 0 && !ok {
			return health.StatusDegraded, "No enabled model and no environment fallback", nil
		}
		return health.StatusUp, fmt.Sprintf("%d enabled models", len(enabled)), nil
	})
	checker.RegisterCheck("providers", false, func(context.Context) (health.Status, string, error) {
		var open []string
		for _, st := range c.Breakers.Snapshot() {
			if st.State != resilience.StateClosed {
				open = append(open, st.Name)
			}
		}
		if len(open) > 0 {
			return health.StatusDegraded, "Circuit open for " + strings.Join(open, ", "), nil
		}
		return health.StatusUp, "All provider circuits closed", nil
	})
	checker.RegisterCheck("encryption", false, func(context.Context) (health.Status, string, error) {
		if err := c.Vault.Check(); err != nil {
			return health.StatusDegraded, "Encryption key unavailable", err
		}
		return health.StatusUp, "Encryption key loaded", nil
	})
	return checker
}

// Close waits for background memory writes and releases resources in reverse order
func (c *Container) Close(ctx context.Context) {
	c.Orchestrator.Wait()
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			c.Logger.Warn("Shutdown step failed", "error", err.Error())
		}
	}
}
