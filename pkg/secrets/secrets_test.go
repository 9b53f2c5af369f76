package secrets

import (
	"context"
	"testing"

	"character-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "ENCRYPTION_KEY", EnvKey("encryption_key"))
	assert.Equal(t, "MEMU_API_KEY", EnvKey("memu-api.key"))
}

func TestEnvManager(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "abc")

	m := EnvManager{}
	v, err := m.GetSecret(context.Background(), KeyEncryptionKey)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	_, err = m.GetSecret(context.Background(), "definitely_not_set_anywhere")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Equal(t, "fallback", m.GetSecretWithDefault(context.Background(), "definitely_not_set_anywhere", "fallback"))
}

func TestNewManagerDisabledVaultUsesEnv(t *testing.T) {
	m, err := NewManager(VaultConfig{Enabled: false}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, EnvManager{}, m)
}

func TestNewVaultManagerValidation(t *testing.T) {
	_, err := NewVaultManager(VaultConfig{Enabled: true}, logger.Nop())
	assert.ErrorIs(t, err, ErrNoVaultAddress)

	_, err = NewVaultManager(VaultConfig{Enabled: true, Address: "http://127.0.0.1:8200"}, logger.Nop())
	assert.ErrorIs(t, err, ErrNoVaultToken)
}

func TestKeySource(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	src := KeySource(EnvManager{}, KeyOpenAIAPIKey)
	v, err := src()
	require.NoError(t, err)
	assert.Equal(t, "sk-env", v)
}
