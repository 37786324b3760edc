package repository

import (
	"context"
	"errors"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
	"gorm.io/gorm"
)

type DraftRepository interface {
	Create(ctx context.Context, d *domain.Draft) error
	GetByID(ctx context.Context, id string) (*domain.Draft, error)
	Delete(ctx context.Context, id string) error
}

type GormDraftRepo struct {
	db *gorm.DB
}

func NewGormDraftRepo(db *gorm.DB) *GormDraftRepo {
	return &GormDraftRepo{db: db}
}

func (r *GormDraftRepo) Create(ctx context.Context, d *domain.Draft) error {
	model := draftModelFromDomain(d)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if d != nil {
		*d = *draftModelToDomain(model)
	}
	return nil
}

func (r *GormDraftRepo) GetByID(ctx context.Context, id string) (*domain.Draft, error) {
	var model DraftModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return draftModelToDomain(&model), nil
}

func (r *GormDraftRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&DraftModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
