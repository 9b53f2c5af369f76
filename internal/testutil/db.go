// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"character-chat/backend/internal/models"
	"character-chat/backend/pkg/config"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestEncryptionKey is a valid 64-hex-character key for tests
const TestEncryptionKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

// NewDB opens a migrated sqlite database in a per-test temp directory
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(config.SQLiteDSN(path)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// SeedCharacter inserts a character with sensible defaults
func SeedCharacter(t *testing.T, db *gorm.DB, mutate ...func(*models.Character)) *models.Character {
	t.Helper()

	c := &models.Character{
		Name:           "Luna",
		SystemPrompt:   "You are Luna. Talk to {{user}}.",
		Greeting:       "Hi!",
		Tags:           []string{"friendly"},
		PreferredModel: models.DefaultPreferredModel,
		Temperature:    models.DefaultTemperature,
		MaxTokens:      models.DefaultMaxTokens,
	}
	for _, m := range mutate {
		m(c)
	}
	require.NoError(t, db.Create(c).Error)
	return c
}
