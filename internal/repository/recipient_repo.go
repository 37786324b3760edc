package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recipientInsertChunk = 100

// InsertFailure identifies one recipient row that could not be created.
type InsertFailure struct {
	RecipientID string
	Err         error
}

type RecipientStatusRepository interface {
	Get(ctx context.Context, notificationID string, recipientID string) (*domain.RecipientStatus, error)
	Upsert(ctx context.Context, status *domain.RecipientStatus) error
	BatchInsertInitial(ctx context.Context, statuses []*domain.RecipientStatus) []InsertFailure
	IsPending(ctx context.Context, notificationID string, recipientID string) (bool, error)
	ListWithLiveHandle(ctx context.Context, notificationID string, afterRecipientID string, limit int) ([]domain.RecipientStatus, error)
	CountPending(ctx context.Context, notificationID string) (int64, error)
	UpdateSurveyResponse(ctx context.Context, notificationID string, recipientID string, response domain.SurveyResponse) error
}

type GormRecipientStatusRepo struct {
	db *gorm.DB
}

func NewGormRecipientStatusRepo(db *gorm.DB) *GormRecipientStatusRepo {
	return &GormRecipientStatusRepo{db: db}
}

func (r *GormRecipientStatusRepo) Get(ctx context.Context, notificationID string, recipientID string) (*domain.RecipientStatus, error) {
	var model RecipientStatusModel
	err := r.db.WithContext(ctx).
		First(&model, "notification_id = ? AND recipient_id = ?", notificationID, recipientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recipientModelToDomain(&model), nil
}

// Upsert replaces the full row; concurrent writers are last-write-wins.
func (r *GormRecipientStatusRepo) Upsert(ctx context.Context, status *domain.RecipientStatus) error {
	model := recipientModelFromDomain(status)
	if model == nil {
		return fmt.Errorf("%w: recipient status is required", domain.ErrValidation)
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "notification_id"}, {Name: "recipient_id"}},
			UpdateAll: true,
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	*status = *recipientModelToDomain(model)
	return nil
}

// BatchInsertInitial creates fan-out rows in chunks. A failed chunk is retried row by row
// so only the offending identities are reported.
func (r *GormRecipientStatusRepo) BatchInsertInitial(ctx context.Context, statuses []*domain.RecipientStatus) []InsertFailure {
	var failures []InsertFailure

	for start := 0; start < len(statuses); start += recipientInsertChunk {
		end := min(start+recipientInsertChunk, len(statuses))

		chunk := make([]RecipientStatusModel, 0, end-start)
		for _, status := range statuses[start:end] {
			if model := recipientModelFromDomain(status); model != nil {
				chunk = append(chunk, *model)
			}
		}
		if len(chunk) == 0 {
			continue
		}

		err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&chunk).Error
		if err == nil {
			continue
		}

		for i := range chunk {
			row := chunk[i]
			if rowErr := r.db.WithContext(ctx).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&row).Error; rowErr != nil {
				failures = append(failures, InsertFailure{RecipientID: row.RecipientID, Err: rowErr})
			}
		}
	}

	return failures
}

func (r *GormRecipientStatusRepo) IsPending(ctx context.Context, notificationID string, recipientID string) (bool, error) {
	status, err := r.Get(ctx, notificationID, recipientID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status.IsPending(), nil
}

// ListWithLiveHandle pages through delivered rows that still hold conversation and activity ids.
func (r *GormRecipientStatusRepo) ListWithLiveHandle(
	ctx context.Context,
	notificationID string,
	afterRecipientID string,
	limit int,
) ([]domain.RecipientStatus, error) {
	if limit < 1 {
		limit = 100
	}

	var models []RecipientStatusModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ? AND recipient_id > ?", notificationID, afterRecipientID).
		Where("conversation_id IS NOT NULL AND conversation_id <> ''").
		Where("activity_id IS NOT NULL AND activity_id <> ''").
		Order("recipient_id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	statuses := make([]domain.RecipientStatus, 0, len(models))
	for i := range models {
		statuses = append(statuses, *recipientModelToDomain(&models[i]))
	}
	return statuses, nil
}

func (r *GormRecipientStatusRepo) CountPending(ctx context.Context, notificationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RecipientStatusModel{}).
		Where("notification_id = ?", notificationID).
		Where("NOT (last_status_code BETWEEN 200 AND 299 OR last_status_code IN ?)", []int{
			domain.StatusCodeFinalFault,
			domain.StatusCodeNotSupported,
			domain.StatusCodeNoConversation,
		}).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateSurveyResponse touches only survey columns so LastStatusCode is preserved.
func (r *GormRecipientStatusRepo) UpdateSurveyResponse(
	ctx context.Context,
	notificationID string,
	recipientID string,
	response domain.SurveyResponse,
) error {
	updates := map[string]any{}
	if response.Reaction != nil {
		updates["reaction_result"] = *response.Reaction
	}
	if response.FreeText != nil {
		updates["free_text_result"] = *response.FreeText
	}
	if response.YesNo != nil {
		updates["yes_no_result"] = *response.YesNo
	}
	if len(updates) == 0 {
		return fmt.Errorf("%w: survey response is empty", domain.ErrValidation)
	}

	result := r.db.WithContext(ctx).
		Model(&RecipientStatusModel{}).
		Where("notification_id = ? AND recipient_id = ?", notificationID, recipientID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
