package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const globalThrottleID = "send"

// GormThrottleStore keeps the shared throttle deadline as a single row.
type GormThrottleStore struct {
	db *gorm.DB
}

func NewGormThrottleStore(db *gorm.DB) *GormThrottleStore {
	return &GormThrottleStore{db: db}
}

func (s *GormThrottleStore) ThrottledUntil(ctx context.Context) (time.Time, bool, error) {
	var model ThrottleStateModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", globalThrottleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return model.ThrottledUntil, true, nil
}

// ExtendThrottledUntil never moves an existing deadline backwards.
func (s *GormThrottleStore) ExtendThrottledUntil(ctx context.Context, until time.Time) error {
	model := ThrottleStateModel{
		ID:             globalThrottleID,
		ThrottledUntil: until.UTC(),
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"throttled_until": gorm.Expr("GREATEST(throttle_states.throttled_until, EXCLUDED.throttled_until)"),
				"updated_at":      gorm.Expr("EXCLUDED.updated_at"),
			}),
		}).
		Create(&model).Error
}
