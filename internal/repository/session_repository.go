package repository

import (
	"context"
	"time"

	"character-chat/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRepository interface {
	// FindOrCreate relies on the unique session_key index, so concurrent callers converge on one row
	FindOrCreate(ctx context.Context, sessionKey string, characterID uint) (*models.Session, bool, error)
	GetByKey(ctx context.Context, sessionKey string) (*models.Session, error)
	AppendMessage(ctx context.Context, message *models.Message) error
	ListMessages(ctx context.Context, sessionID uint) ([]models.Message, error)
	CountMessages(ctx context.Context, sessionID uint) (int64, error)
	LatestMessage(ctx context.Context, sessionID uint) (*models.Message, error)
	List(ctx context.Context, characterID *uint, offset, limit int) ([]models.Session, int64, error)
	CountByCharacter(ctx context.Context, characterID uint) (int64, error)
	DeleteByKey(ctx context.Context, sessionKey string) (int64, error)
	DeleteByCharacter(ctx context.Context, characterID uint) (sessions int64, messages int64, err error)
}

type GormSessionRepository struct {
	db *gorm.DB
}

func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

func (r *GormSessionRepository) FindOrCreate(ctx context.Context, sessionKey string, characterID uint) (*models.Session, bool, error) {
	session := models.Session{SessionKey: sessionKey, CharacterID: characterID}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "session_key"}}, DoNothing: true}).
		Create(&session)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 && session.ID != 0 {
		return &session, true, nil
	}

	existing, err := r.GetByKey(ctx, sessionKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *GormSessionRepository) GetByKey(ctx context.Context, sessionKey string) (*models.Session, error) {
	var session models.Session
	if err := r.db.WithContext(ctx).Where("session_key = ?", sessionKey).First(&session).Error; err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

// AppendMessage inserts the message and bumps the owning session's updated_at
func (r *GormSessionRepository) AppendMessage(ctx context.Context, message *models.Message) error {
	db := r.db.WithContext(ctx)
	if err := db.Create(message).Error; err != nil {
		return err
	}
	return db.Model(&models.Session{}).
		Where("id = ?", message.SessionID).
		Update("updated_at", time.Now()).Error
}

func (r *GormSessionRepository) ListMessages(ctx context.Context, sessionID uint) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").Order("id ASC").
		Find(&messages).Error
	return messages, err
}

func (r *GormSessionRepository) CountMessages(ctx context.Context, sessionID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).Where("session_id = ?", sessionID).Count(&n).Error
	return n, err
}

func (r *GormSessionRepository) LatestMessage(ctx context.Context, sessionID uint) (*models.Message, error) {
	var m models.Message
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").Order("id DESC").
		First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *GormSessionRepository) List(ctx context.Context, characterID *uint, offset, limit int) ([]models.Session, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Session{})
	if characterID != nil {
		q = q.Where("character_id = ?", *characterID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sessions []models.Session
	err := q.Order("updated_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&sessions).Error
	return sessions, total, err
}

func (r *GormSessionRepository) CountByCharacter(ctx context.Context, characterID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Session{}).Where("character_id = ?", characterID).Count(&n).Error
	return n, err
}

// DeleteByKey removes one session and its messages; ErrNotFound when the key is unknown
func (r *GormSessionRepository) DeleteByKey(ctx context.Context, sessionKey string) (int64, error) {
	var deletedMessages int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.Session
		if err := tx.Where("session_key = ?", sessionKey).First(&session).Error; err != nil {
			return translate(err)
		}
		res := tx.Where("session_id = ?", session.ID).Delete(&models.Message{})
		if res.Error != nil {
			return res.Error
		}
		deletedMessages = res.RowsAffected
		return tx.Delete(&session).Error
	})
	return deletedMessages, err
}

func (r *GormSessionRepository) DeleteByCharacter(ctx context.Context, characterID uint) (int64, int64, error) {
	var sessions, messages int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&models.Session{}).Where("character_id = ?", characterID).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		res := tx.Where("session_id IN ?", ids).Delete(&models.Message{})
		if res.Error != nil {
			return res.Error
		}
		messages = res.RowsAffected

		res = tx.Where("id IN ?", ids).Delete(&models.Session{})
		if res.Error != nil {
			return res.Error
		}
		sessions = res.RowsAffected
		return nil
	})
	return sessions, messages, err
}
