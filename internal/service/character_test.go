package service

import (
	"context"
	"testing"

	"character-chat/backend/internal/models"
	"character-chat/backend/internal/repository"
	"character-chat/backend/internal/testutil"
	apperrors "character-chat/backend/pkg/errors"
	"character-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharacterLifecycle(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	store := NewSessionStore(repository.NewGormSessionRepository(db), repository.NewGormCharacterRepository(db), logger.Nop())
	svc := NewCharacterService(repository.NewGormCharacterRepository(db), store, logger.Nop())

	created, err := svc.CreateCharacter(ctx, &models.CreateCharacterRequest{
		Name:         "Aria",
		SystemPrompt: "You are Aria.",
		Tags:         []string{"bard"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPreferredModel, created.PreferredModel)
	assert.Equal(t, models.DefaultTemperature, created.Temperature)
	assert.Equal(t, models.DefaultMaxTokens, created.MaxTokens)

	got, err := svc.GetCharacter(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bard"}, got.Tags)

	temp := 1.3
	updated, err := svc.UpdateCharacter(ctx, created.ID, &models.UpdateCharacterRequest{Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, 1.3, updated.Temperature)
	assert.Equal(t, "Aria", updated.Name)

	_, err = store.SaveMessage(ctx, SaveMessageRequest{SessionKey: "k", CharacterID: created.ID, Role: models.RoleUser, Content: "hi"})
	require.NoError(t, err)

	err = svc.DeleteCharacter(ctx, created.ID)
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeCharacterHasSessions, appErr.Code)
	assert.Equal(t, map[string]any{"sessionCount": int64(1)}, appErr.Details)

	_, err = store.DeleteCharacterHistory(ctx, created.ID)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteCharacter(ctx, created.ID))

	_, err = svc.GetCharacter(ctx, created.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeCharacterNotFound))
}

func TestCharacterRejectsMalformedExamples(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewCharacterService(repository.NewGormCharacterRepository(db), nil, logger.Nop())

	_, err := svc.CreateCharacter(context.Background(), &models.CreateCharacterRequest{
		Name:             "Bad",
		SystemPrompt:     "x",
		ExampleDialogues: `[{"user":"no reply"}]`,
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidInput))
}
