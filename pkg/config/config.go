package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port     string
		Env      string
		Timeout  time.Duration
		BaseURL  string
		GRPCPort string
	}

	// Database configuration
	Database struct {
		Driver   string
		Path     string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		TrustedProxies []string
		MaxBodySize    int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Process-level fallback credentials, used when no model configuration matches
	LLM struct {
		APIKey  string
		BaseURL string
		Model   string
		Timeout time.Duration
	}

	Chat struct {
		MaxHistoryTurns    int
		VisionModelID      string
		VisionNativeModels []string
		PromptTimezone     string
	}

	Encryption struct {
		Key string
	}

	// Mem0-compatible memory service
	Memory struct {
		Enabled bool
		APIKey  string
		BaseURL string
		Timeout time.Duration
	}

	Upload struct {
		Dir     string
		MaxSize int64
	}

	// Cache settings
	Cache struct {
		Backend     string
		TTL         time.Duration
		PurgeWindow time.Duration
	}

	Redis struct {
		URL      string
		Password string
		DB       int
	}

	Observability struct {
		MetricsEnabled bool
		TracingEnabled bool
	}

	OpenAPI struct {
		SchemaPath string
		Watch      bool
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = Load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load reads a fresh Config from the environment without touching the singleton.
func Load() *Config {
	cfg := &Config{}

	// Server config
	cfg.Server.Port = getEnvString("PORT", "3000")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.BaseURL = strings.TrimRight(getEnvString("BASE_URL", "http://localhost:"+cfg.Server.Port), "/")
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "9090")

	// Database config
	cfg.Database.Driver = getEnvString("DB_DRIVER", "postgres")
	cfg.Database.Path = getEnvString("DATABASE_PATH", "database.sqlite")
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "character-chat")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

	// Security config
	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.TrustedProxies = getEnvStringSlice("TRUSTED_PROXIES", []string{"127.0.0.1"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 10<<20) // 10MB

	// Logging config
	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	// LLM fallback
	cfg.LLM.APIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.LLM.BaseURL = getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.LLM.Model = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", 2*time.Minute)

	// Chat pipeline
	cfg.Chat.MaxHistoryTurns = getEnvInt("MAX_HISTORY_TURNS", 20)
	cfg.Chat.VisionModelID = getEnvString("VISION_MODEL_ID", "qwen-vl-max")
	cfg.Chat.VisionNativeModels = getEnvStringSlice("VISION_NATIVE_MODELS",
		[]string{"gpt-4o", "gpt-4.1", "gpt-5", "claude-3", "claude-sonnet-4", "claude-opus-4", "gemini", "qwen-vl", "glm-4v", "vision"})
	cfg.Chat.PromptTimezone = getEnvString("PROMPT_TIMEZONE", "Asia/Shanghai")

	cfg.Encryption.Key = getEnvString("ENCRYPTION_KEY", "")

	// Memory service
	cfg.Memory.APIKey = getEnvString("MEMU_API_KEY", "")
	cfg.Memory.Enabled = getEnvBool("MEMU_ENABLED", false) && cfg.Memory.APIKey != ""
	cfg.Memory.BaseURL = strings.TrimRight(getEnvString("MEMU_BASE_URL", "https://api.mem0.ai"), "/")
	cfg.Memory.Timeout = getEnvDuration("MEMU_TIMEOUT", 30*time.Second)

	// Uploads
	cfg.Upload.Dir = getEnvString("UPLOAD_DIR", "uploads")
	cfg.Upload.MaxSize = getEnvInt64("UPLOAD_MAX_SIZE", 5<<20) // 5MB

	// Cache settings
	cfg.Cache.Backend = getEnvString("CACHE_BACKEND", "memory")
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	cfg.Redis.URL = getEnvString("REDIS_URL", "localhost:6379")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Observability.MetricsEnabled = getEnvBool("METRICS_ENABLED", true)
	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)

	cfg.OpenAPI.SchemaPath = getEnvString("OPENAPI_SCHEMA_PATH", "")
	cfg.OpenAPI.Watch = getEnvBool("OPENAPI_WATCH", false)

	return cfg
}

// IsProduction reports whether APP_ENV is production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
