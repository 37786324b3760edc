package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var finalStatuses = []domain.Status{domain.StatusSent, domain.StatusFailed, domain.StatusCanceled}

type ListParams struct {
	Status   *domain.Status
	Page     int
	PageSize int
}

// DeliveryDelta is a counter increment reported by one worker completion.
type DeliveryDelta struct {
	Succeeded int
	Failed    int
	Throttled int
}

func (d DeliveryDelta) IsZero() bool {
	return d.Succeeded == 0 && d.Failed == 0 && d.Throttled == 0
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error)
	PromoteDraft(ctx context.Context, draftID string, newID string, now time.Time) (*domain.Notification, error)
	SetTotalRecipientCount(ctx context.Context, id string, total int) error
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	ResolveRecipient(ctx context.Context, status *domain.RecipientStatus, delta DeliveryDelta, now time.Time) (*domain.Status, error)
	AppendErrorMessage(ctx context.Context, id string, message string) error
	AppendWarningMessage(ctx context.Context, id string, message string) error
	GetDueForExpiry(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	MarkContentErased(ctx context.Context, id string) (bool, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

// List returns sent notifications most-recent-first; ids are inverted ticks so ascending order suffices.
func (r *GormNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, total, nil
}

func (r *GormNotificationRepo) PromoteDraft(ctx context.Context, draftID string, newID string, now time.Time) (*domain.Notification, error) {
	var promoted *domain.Notification

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var draft DraftModel
		err := tx.First(&draft, "id = ?", draftID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		notification := domain.FromDraft(*draftModelToDomain(&draft), newID, now)
		model := notificationModelFromDomain(notification)
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		if err := tx.Delete(&DraftModel{}, "id = ?", draftID).Error; err != nil {
			return err
		}

		promoted = notificationModelToDomain(model)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return promoted, nil
}

func (r *GormNotificationRepo) SetTotalRecipientCount(ctx context.Context, id string, total int) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Update("total_recipient_count", total)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus moves the aggregate forward; ErrConflict means the current status does not allow it.
func (r *GormNotificationRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	from := allowedSourceStatuses(status)
	if len(from) == 0 {
		return domain.ErrConflict
	}

	updates := map[string]any{"status": status}
	if status == domain.StatusSent || status == domain.StatusFailed {
		updates["sent_at"] = time.Now().UTC()
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrConflict
	}
	return nil
}

// ResolveRecipient saves one attempt outcome for a recipient row and applies its counter delta
// in a single transaction. ErrConflict means the stored row is already terminal or the counters
// are full; in both cases nothing is written.
// The returned status is non-nil only when this call completed the notification.
func (r *GormNotificationRepo) ResolveRecipient(
	ctx context.Context,
	status *domain.RecipientStatus,
	delta DeliveryDelta,
	now time.Time,
) (*domain.Status, error) {
	model := recipientModelFromDomain(status)
	if model == nil {
		return nil, fmt.Errorf("%w: recipient status is required", domain.ErrValidation)
	}

	var completed *domain.Status
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current RecipientStatusModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&current, "notification_id = ? AND recipient_id = ?", model.NotificationID, model.RecipientID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !recipientModelToDomain(&current).IsPending() {
			return domain.ErrConflict
		}

		model.CreatedAt = current.CreatedAt
		if err := tx.Save(model).Error; err != nil {
			return err
		}

		completed, err = applyDelivery(tx, model.NotificationID, delta, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	*status = *recipientModelToDomain(model)
	return completed, nil
}

// applyDelivery increments counters and rolls the aggregate up once every recipient is terminal.
// Increments that would push succeeded+failed past the total are rejected with ErrConflict.
func applyDelivery(tx *gorm.DB, id string, delta DeliveryDelta, now time.Time) (*domain.Status, error) {
	if delta.IsZero() {
		return nil, nil
	}

	processed := delta.Succeeded + delta.Failed
	result := tx.Model(&NotificationModel{}).
		Where("id = ? AND succeeded_count + failed_count + ? <= total_recipient_count", id, processed).
		Updates(map[string]any{
			"succeeded_count": gorm.Expr("succeeded_count + ?", delta.Succeeded),
			"failed_count":    gorm.Expr("failed_count + ?", delta.Failed),
			"throttled_count": gorm.Expr("throttled_count + ?", delta.Throttled),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrConflict
	}
	if processed == 0 {
		return nil, nil
	}

	var model NotificationModel
	if err := tx.First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}

	final, done := domain.RollUp(model.SucceededCount, model.FailedCount, model.TotalRecipientCount)
	if !done {
		return nil, nil
	}

	rolled := tx.Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, []domain.Status{domain.StatusQueued, domain.StatusInProgress}).
		Updates(map[string]any{
			"status":  final,
			"sent_at": now.UTC(),
		})
	if rolled.Error != nil {
		return nil, rolled.Error
	}
	if rolled.RowsAffected == 0 {
		return nil, nil
	}
	return &final, nil
}

func (r *GormNotificationRepo) AppendErrorMessage(ctx context.Context, id string, message string) error {
	return r.appendLog(ctx, id, "error_message", message)
}

func (r *GormNotificationRepo) AppendWarningMessage(ctx context.Context, id string, message string) error {
	return r.appendLog(ctx, id, "warning_message", message)
}

func (r *GormNotificationRepo) appendLog(ctx context.Context, id string, column string, message string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Update(column, gorm.Expr("CONCAT_WS(?, "+column+", ?::text)", "\n", message))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetDueForExpiry only returns notifications that have finished sending, so no worker can still
// deliver content after the sweep has redacted it.
func (r *GormNotificationRepo) GetDueForExpiry(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("is_expiry_set = ? AND is_expired_content_erased = ? AND expiry_date <= ?", true, false, now.UTC()).
		Where("status IN ?", finalStatuses).
		Order("expiry_date ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, nil
}

// MarkContentErased flips the erased flag and clears content; false means another sweep got there first.
func (r *GormNotificationRepo) MarkContentErased(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND is_expired_content_erased = ?", id, false).
		Updates(map[string]any{
			"is_expired_content_erased": true,
			"content":                   "",
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func allowedSourceStatuses(next domain.Status) []domain.Status {
	candidates := []domain.Status{domain.StatusQueued, domain.StatusInProgress}
	from := make([]domain.Status, 0, len(candidates))
	for _, s := range candidates {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}
