package service

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"character-chat/backend/internal/models"
	"character-chat/backend/internal/repository"
	apperrors "character-chat/backend/pkg/errors"
	"character-chat/backend/pkg/logger"
)

const (
	previewLength   = 50
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type SaveMessageRequest struct {
	SessionKey  string  `json:"sessionKey" binding:"required,max=100"`
	CharacterID uint    `json:"characterId" binding:"required"`
	Role        string  `json:"role" binding:"required,oneof=user assistant"`
	Content     string  `json:"content"`
	ImageURL    *string `json:"imageUrl"`
}

type SaveMessageResult struct {
	MessageID uint `json:"messageId"`
	SessionID uint `json:"sessionId"`
}

type HistoryMessage struct {
	ID        uint      `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ImageURL  *string   `json:"imageUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// History is returned for both history and export. An unknown key yields nil ids and no messages.
type History struct {
	SessionID   *uint            `json:"sessionId"`
	SessionKey  string           `json:"sessionKey"`
	CharacterID *uint            `json:"characterId"`
	Messages    []HistoryMessage `json:"messages"`
}

type SessionSummary struct {
	ID           uint      `json:"id"`
	SessionKey   string    `json:"sessionKey"`
	CharacterID  uint      `json:"characterId"`
	MessageCount int64     `json:"messageCount"`
	LastMessage  string    `json:"lastMessage"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type SessionPage struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

type DeleteHistoryResult struct {
	DeletedSessions int64 `json:"deletedSessions"`
	DeletedMessages int64 `json:"deletedMessages"`
}

// SessionStore persists conversation sessions and their messages
type SessionStore struct {
	sessions   repository.SessionRepository
	characters repository.CharacterRepository
	log        *logger.Logger
}

func NewSessionStore(sessions repository.SessionRepository, characters repository.CharacterRepository, log *logger.Logger) *SessionStore {
	return &SessionStore{sessions: sessions, characters: characters, log: log}
}

// SaveMessage appends a message, creating the session on first use
func (s *SessionStore) SaveMessage(ctx context.Context, req SaveMessageRequest) (*SaveMessageResult, error) {
	if req.Role != models.RoleUser && req.Role != models.RoleAssistant {
		return nil, apperrors.InvalidInput("role must be user or assistant")
	}
	if _, err := s.characters.GetByID(ctx, req.CharacterID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.CharacterNotFound(req.CharacterID)
		}
		return nil, apperrors.DatabaseError(err)
	}

	session, created, err := s.sessions.FindOrCreate(ctx, req.SessionKey, req.CharacterID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	log := s.log.WithSessionKey(req.SessionKey)
	if created {
		log.Info("Session created", "sessionId", session.ID, "characterId", req.CharacterID)
	} else if session.CharacterID != req.CharacterID {
		log.Warn("Message character differs from session owner",
			"sessionCharacterId", session.CharacterID,
			"characterId", req.CharacterID,
		)
	}

	msg := &models.Message{
		SessionID: session.ID,
		Role:      req.Role,
		Content:   req.Content,
		ImageURL:  req.ImageURL,
	}
	if err := s.sessions.AppendMessage(ctx, msg); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	return &SaveMessageResult{MessageID: msg.ID, SessionID: session.ID}, nil
}

func (s *SessionStore) GetHistory(ctx context.Context, sessionKey string) (*History, error) {
	history := &History{SessionKey: sessionKey, Messages: []HistoryMessage{}}

	session, err := s.sessions.GetByKey(ctx, sessionKey)
	if errors.Is(err, repository.ErrNotFound) {
		return history, nil
	}
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	messages, err := s.sessions.ListMessages(ctx, session.ID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	history.SessionID = &session.ID
	history.CharacterID = &session.CharacterID
	for _, m := range messages {
		history.Messages = append(history.Messages, HistoryMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			ImageURL:  m.ImageURL,
			CreatedAt: m.CreatedAt,
		})
	}
	return history, nil
}

// ExportSession has the same shape as GetHistory
func (s *SessionStore) ExportSession(ctx context.Context, sessionKey string) (*History, error) {
	return s.GetHistory(ctx, sessionKey)
}

// ListSessions pages sessions by recency. Counts and previews are fetched per row.
func (s *SessionStore) ListSessions(ctx context.Context, characterID *uint, page, limit int) (*SessionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	sessions, total, err := s.sessions.List(ctx, characterID, (page-1)*limit, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	out := &SessionPage{Sessions: make([]SessionSummary, 0, len(sessions)), Total: total, Page: page, Limit: limit}
	for _, session := range sessions {
		count, err := s.sessions.CountMessages(ctx, session.ID)
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}

		var preview string
		latest, err := s.sessions.LatestMessage(ctx, session.ID)
		switch {
		case err == nil:
			preview = Preview(latest.Content)
		case !errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.DatabaseError(err)
		}

		out.Sessions = append(out.Sessions, SessionSummary{
			ID:           session.ID,
			SessionKey:   session.SessionKey,
			CharacterID:  session.CharacterID,
			MessageCount: count,
			LastMessage:  preview,
			CreatedAt:    session.CreatedAt,
			UpdatedAt:    session.UpdatedAt,
		})
	}
	return out, nil
}

// DeleteCharacterHistory is idempotent: a character without sessions yields zero counts
func (s *SessionStore) DeleteCharacterHistory(ctx context.Context, characterID uint) (*DeleteHistoryResult, error) {
	sessions, messages, err := s.sessions.DeleteByCharacter(ctx, characterID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	s.log.Info("Character history deleted",
		"characterId", characterID,
		"deletedSessions", sessions,
		"deletedMessages", messages,
	)
	return &DeleteHistoryResult{DeletedSessions: sessions, DeletedMessages: messages}, nil
}

// DeleteSession reports found=false for an unknown key instead of failing
func (s *SessionStore) DeleteSession(ctx context.Context, sessionKey string) (deletedMessages int64, found bool, err error) {
	deletedMessages, err = s.sessions.DeleteByKey(ctx, sessionKey)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.DatabaseError(err)
	}
	s.log.WithSessionKey(sessionKey).Info("Session deleted", "deletedMessages", deletedMessages)
	return deletedMessages, true, nil
}

// CountByCharacter backs the character delete guard
func (s *SessionStore) CountByCharacter(ctx context.Context, characterID uint) (int64, error) {
	n, err := s.sessions.CountByCharacter(ctx, characterID)
	if err != nil {
		return 0, apperrors.DatabaseError(err)
	}
	return n, nil
}

// Preview shortens content to at most 50 characters
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength-3]) + "..."
}
