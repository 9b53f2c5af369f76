package repository

import (
	"context"

	"character-chat/backend/internal/models"

	"gorm.io/gorm"
)

type CharacterRepository interface {
	Create(ctx context.Context, character *models.Character) error
	GetByID(ctx context.Context, id uint) (*models.Character, error)
	List(ctx context.Context) ([]models.Character, error)
	Save(ctx context.Context, character *models.Character) error
	Delete(ctx context.Context, id uint) error
}

type GormCharacterRepository struct {
	db *gorm.DB
}

func NewGormCharacterRepository(db *gorm.DB) *GormCharacterRepository {
	return &GormCharacterRepository{db: db}
}

func (r *GormCharacterRepository) Create(ctx context.Context, character *models.Character) error {
	return r.db.WithContext(ctx).Create(character).Error
}

func (r *GormCharacterRepository) GetByID(ctx context.Context, id uint) (*models.Character, error) {
	var character models.Character
	if err := r.db.WithContext(ctx).First(&character, id).Error; err != nil {
		return nil, translate(err)
	}
	return &character, nil
}

func (r *GormCharacterRepository) List(ctx context.Context) ([]models.Character, error) {
	var characters []models.Character
	err := r.db.WithContext(ctx).Order("id ASC").Find(&characters).Error
	return characters, err
}

func (r *GormCharacterRepository) Save(ctx context.Context, character *models.Character) error {
	return r.db.WithContext(ctx).Save(character).Error
}

func (r *GormCharacterRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Character{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
