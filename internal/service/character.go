package service

import (
	"context"
	"errors"
	"fmt"

	"character-chat/backend/internal/models"
	"character-chat/backend/internal/prompt"
	"character-chat/backend/internal/repository"
	apperrors "character-chat/backend/pkg/errors"
	"character-chat/backend/pkg/logger"
)

// SessionCounter reports how many sessions reference a character
type SessionCounter interface {
	CountByCharacter(ctx context.Context, characterID uint) (int64, error)
}

type CharacterService struct {
	repo     repository.CharacterRepository
	sessions SessionCounter
	log      *logger.Logger
}

func NewCharacterService(repo repository.CharacterRepository, sessions SessionCounter, log *logger.Logger) *CharacterService {
	return &CharacterService{repo: repo, sessions: sessions, log: log}
}

func (s *CharacterService) CreateCharacter(ctx context.Context, req *models.CreateCharacterRequest) (*models.Character, error) {
	if err := prompt.ValidateExamples(req.ExampleDialogues); err != nil {
		return nil, apperrors.InvalidInput("exampleDialogues: " + err.Error())
	}

	character := &models.Character{
		Name:             req.Name,
		Avatar:           req.Avatar,
		SystemPrompt:     req.SystemPrompt,
		Greeting:         req.Greeting,
		Description:      req.Description,
		Tags:             req.Tags,
		PreferredModel:   req.PreferredModel,
		Temperature:      models.DefaultTemperature,
		MaxTokens:        models.DefaultMaxTokens,
		ExampleDialogues: req.ExampleDialogues,
	}
	if character.Tags == nil {
		character.Tags = []string{}
	}
	if character.PreferredModel == "" {
		character.PreferredModel = models.DefaultPreferredModel
	}
	if req.Temperature != nil {
		character.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		character.MaxTokens = *req.MaxTokens
	}

	if err := s.repo.Create(ctx, character); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	s.log.Info("Character created", "characterId", character.ID, "name", character.Name)
	return character, nil
}

func (s *CharacterService) GetCharacter(ctx context.Context, id uint) (*models.Character, error) {
	character, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.CharacterNotFound(id)
	}
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return character, nil
}

func (s *CharacterService) ListCharacters(ctx context.Context) ([]models.Character, error) {
	characters, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return characters, nil
}

func (s *CharacterService) UpdateCharacter(ctx context.Context, id uint, req *models.UpdateCharacterRequest) (*models.Character, error) {
	character, err := s.GetCharacter(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.ExampleDialogues != nil {
		if err := prompt.ValidateExamples(*req.ExampleDialogues); err != nil {
			return nil, apperrors.InvalidInput("exampleDialogues: " + err.Error())
		}
		character.ExampleDialogues = *req.ExampleDialogues
	}
	if req.Name != nil {
		character.Name = *req.Name
	}
	if req.Avatar != nil {
		character.Avatar = *req.Avatar
	}
	if req.SystemPrompt != nil {
		character.SystemPrompt = *req.SystemPrompt
	}
	if req.Greeting != nil {
		character.Greeting = *req.Greeting
	}
	if req.Description != nil {
		character.Description = *req.Description
	}
	if req.Tags != nil {
		character.Tags = *req.Tags
	}
	if req.PreferredModel != nil {
		character.PreferredModel = *req.PreferredModel
	}
	if req.Temperature != nil {
		character.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		character.MaxTokens = *req.MaxTokens
	}

	if err := s.repo.Save(ctx, character); err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return character, nil
}

// DeleteCharacter refuses while any session still references the character
func (s *CharacterService) DeleteCharacter(ctx context.Context, id uint) error {
	if _, err := s.GetCharacter(ctx, id); err != nil {
		return err
	}

	count, err := s.sessions.CountByCharacter(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return apperrors.BadRequestWithDetails(apperrors.CodeCharacterHasSessions,
			fmt.Sprintf("Character %d still has %d session(s); delete its chat history first", id, count),
			map[string]any{"sessionCount": count})
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.CharacterNotFound(id)
		}
		return apperrors.DatabaseError(err)
	}
	s.log.Info("Character deleted", "characterId", id)
	return nil
}
