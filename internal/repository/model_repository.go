package repository

import (
	"context"

	"character-chat/backend/internal/models"

	"gorm.io/gorm"
)

type ModelRepository interface {
	List(ctx context.Context, enabledOnly bool) ([]models.ModelConfig, error)
	GetByID(ctx context.Context, id uint) (*models.ModelConfig, error)
	GetByModelID(ctx context.Context, modelID string) (*models.ModelConfig, error)
	Create(ctx context.Context, model *models.ModelConfig) error
	Save(ctx context.Context, model *models.ModelConfig) error
	Delete(ctx context.Context, id uint) error
}

type GormModelRepository struct {
	db *gorm.DB
}

func NewGormModelRepository(db *gorm.DB) *GormModelRepository {
	return &GormModelRepository{db: db}
}

func (r *GormModelRepository) List(ctx context.Context, enabledOnly bool) ([]models.ModelConfig, error) {
	var out []models.ModelConfig
	q := r.db.WithContext(ctx).Order("sort_order ASC").Order("created_at DESC")
	if enabledOnly {
		q = q.Where("is_enabled = ?", true)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *GormModelRepository) GetByID(ctx context.Context, id uint) (*models.ModelConfig, error) {
	var m models.ModelConfig
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *GormModelRepository) GetByModelID(ctx context.Context, modelID string) (*models.ModelConfig, error) {
	var m models.ModelConfig
	if err := r.db.WithContext(ctx).Where("model_id = ?", modelID).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *GormModelRepository) Create(ctx context.Context, model *models.ModelConfig) error {
	return translate(r.db.WithContext(ctx).Create(model).Error)
}

func (r *GormModelRepository) Save(ctx context.Context, model *models.ModelConfig) error {
	return translate(r.db.WithContext(ctx).Save(model).Error)
}

func (r *GormModelRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.ModelConfig{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
