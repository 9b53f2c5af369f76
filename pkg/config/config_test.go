package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "BASE_URL", "MAX_HISTORY_TURNS", "MEMU_ENABLED", "MEMU_API_KEY", "CACHE_BACKEND", "VISION_NATIVE_MODELS"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "http://localhost:3000", cfg.Server.BaseURL)
	assert.Equal(t, 20, cfg.Chat.MaxHistoryTurns)
	assert.Equal(t, "qwen-vl-max", cfg.Chat.VisionModelID)
	assert.Contains(t, cfg.Chat.VisionNativeModels, "gpt-4o")
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, int64(5<<20), cfg.Upload.MaxSize)
	assert.False(t, cfg.Memory.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("BASE_URL", "https://chat.example.com/")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , https://b.example ,")
	t.Setenv("LLM_TIMEOUT", "45s")
	t.Setenv("MAX_HISTORY_TURNS", "not-a-number")
	t.Setenv("MEMU_ENABLED", "true")
	t.Setenv("MEMU_API_KEY", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "https://chat.example.com", cfg.Server.BaseURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 20, cfg.Chat.MaxHistoryTurns)
	// enabled without a key stays off
	assert.False(t, cfg.Memory.Enabled)
}

func TestOpenDBSQLite(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Env = "test"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "nested", "app.db")

	db, err := OpenDB(cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	require.NoError(t, sqlDB.Ping())

	var fk int
	require.NoError(t, db.Raw("PRAGMA foreign_keys").Scan(&fk).Error)
	assert.Equal(t, 1, fk)
}

func TestOpenDBRejectsUnknownDriver(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Driver = "oracle"
	_, err := OpenDB(cfg)
	assert.ErrorContains(t, err, "unsupported database driver")
}
