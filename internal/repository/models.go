package repository

import (
	"time"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
)

// NotificationModel is the persistence model for the notifications aggregate table.
type NotificationModel struct {
	ID                     string        `gorm:"type:varchar(19);primaryKey"`
	Title                  string        `gorm:"type:text;not null"`
	Content                string        `gorm:"type:text;not null"`
	CreatedBy              string        `gorm:"type:varchar(255)"`
	Status                 domain.Status `gorm:"type:varchar(20);not null"`
	SucceededCount         int           `gorm:"not null;default:0"`
	FailedCount            int           `gorm:"not null;default:0"`
	ThrottledCount         int           `gorm:"not null;default:0"`
	TotalRecipientCount    int           `gorm:"not null;default:0"`
	SendingStartedAt       *time.Time    `gorm:"type:timestamptz"`
	SentAt                 *time.Time    `gorm:"type:timestamptz"`
	ErrorMessage           *string       `gorm:"type:text"`
	WarningMessage         *string       `gorm:"type:text"`
	IsExpirySet            bool          `gorm:"not null;default:false"`
	ExpiryDate             *time.Time    `gorm:"type:timestamptz"`
	IsExpiredContentErased bool          `gorm:"not null;default:false"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DraftModel is the persistence model for unsent drafts.
type DraftModel struct {
	ID          string     `gorm:"type:varchar(19);primaryKey"`
	Title       string     `gorm:"type:text;not null"`
	Content     string     `gorm:"type:text;not null"`
	CreatedBy   string     `gorm:"type:varchar(255)"`
	IsExpirySet bool       `gorm:"not null;default:false"`
	ExpiryDate  *time.Time `gorm:"type:timestamptz"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (DraftModel) TableName() string {
	return "drafts"
}

// RecipientStatusModel is the persistence model for per-recipient delivery rows.
// StatusCodeHistory is a JSON array; a row that fails to decode fails the read.
type RecipientStatusModel struct {
	NotificationID     string               `gorm:"type:varchar(19);primaryKey"`
	RecipientID        string               `gorm:"type:varchar(255);primaryKey"`
	Kind               domain.RecipientKind `gorm:"type:varchar(10);not null"`
	ConversationID     *string              `gorm:"type:varchar(512)"`
	ServiceURL         string               `gorm:"type:varchar(512)"`
	ActivityID         *string              `gorm:"type:varchar(255)"`
	LastStatusCode     int                  `gorm:"not null;default:0"`
	StatusCodeHistory  []int                `gorm:"serializer:json;type:text"`
	TotalThrottleCount int                  `gorm:"not null;default:0"`
	DeliveryCount      int                  `gorm:"not null;default:0"`
	ErrorMessage       *string              `gorm:"type:text"`
	SentAt             *time.Time           `gorm:"type:timestamptz"`
	ReactionResult     *string              `gorm:"type:varchar(64)"`
	FreeTextResult     *string              `gorm:"type:text"`
	YesNoResult        *bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (RecipientStatusModel) TableName() string {
	return "recipient_statuses"
}

// ThrottleStateModel holds the single shared throttle row.
type ThrottleStateModel struct {
	ID             string    `gorm:"type:varchar(32);primaryKey"`
	ThrottledUntil time.Time `gorm:"type:timestamptz;not null"`
	UpdatedAt      time.Time
}

func (ThrottleStateModel) TableName() string {
	return "throttle_states"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:                     n.ID,
		Title:                  n.Title,
		Content:                n.Content,
		CreatedBy:              n.CreatedBy,
		Status:                 n.Status,
		SucceededCount:         n.SucceededCount,
		FailedCount:            n.FailedCount,
		ThrottledCount:         n.ThrottledCount,
		TotalRecipientCount:    n.TotalRecipientCount,
		SendingStartedAt:       n.SendingStartedAt,
		SentAt:                 n.SentAt,
		ErrorMessage:           n.ErrorMessage,
		WarningMessage:         n.WarningMessage,
		IsExpirySet:            n.Expiry.IsExpirySet,
		ExpiryDate:             n.Expiry.ExpiryDate,
		IsExpiredContentErased: n.Expiry.IsExpiredContentErased,
		CreatedAt:              n.CreatedAt,
		UpdatedAt:              n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:                  m.ID,
		Title:               m.Title,
		Content:             m.Content,
		CreatedBy:           m.CreatedBy,
		Status:              m.Status,
		SucceededCount:      m.SucceededCount,
		FailedCount:         m.FailedCount,
		ThrottledCount:      m.ThrottledCount,
		TotalRecipientCount: m.TotalRecipientCount,
		SendingStartedAt:    m.SendingStartedAt,
		SentAt:              m.SentAt,
		ErrorMessage:        m.ErrorMessage,
		WarningMessage:      m.WarningMessage,
		Expiry: domain.Expiry{
			IsExpirySet:            m.IsExpirySet,
			ExpiryDate:             m.ExpiryDate,
			IsExpiredContentErased: m.IsExpiredContentErased,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func draftModelFromDomain(d *domain.Draft) *DraftModel {
	if d == nil {
		return nil
	}

	return &DraftModel{
		ID:          d.ID,
		Title:       d.Title,
		Content:     d.Content,
		CreatedBy:   d.CreatedBy,
		IsExpirySet: d.Expiry.IsExpirySet,
		ExpiryDate:  d.Expiry.ExpiryDate,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func draftModelToDomain(m *DraftModel) *domain.Draft {
	if m == nil {
		return nil
	}

	return &domain.Draft{
		ID:        m.ID,
		Title:     m.Title,
		Content:   m.Content,
		CreatedBy: m.CreatedBy,
		Expiry: domain.Expiry{
			IsExpirySet: m.IsExpirySet,
			ExpiryDate:  m.ExpiryDate,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func recipientModelFromDomain(r *domain.RecipientStatus) *RecipientStatusModel {
	if r == nil {
		return nil
	}

	return &RecipientStatusModel{
		NotificationID:     r.NotificationID,
		RecipientID:        r.RecipientID,
		Kind:               r.Kind,
		ConversationID:     r.ConversationID,
		ServiceURL:         r.ServiceURL,
		ActivityID:         r.ActivityID,
		LastStatusCode:     r.LastStatusCode,
		StatusCodeHistory:  append([]int(nil), r.StatusCodeHistory...),
		TotalThrottleCount: r.TotalThrottleCount,
		DeliveryCount:      r.DeliveryCount,
		ErrorMessage:       r.ErrorMessage,
		SentAt:             r.SentAt,
		ReactionResult:     r.ReactionResult,
		FreeTextResult:     r.FreeTextResult,
		YesNoResult:        r.YesNoResult,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func recipientModelToDomain(m *RecipientStatusModel) *domain.RecipientStatus {
	if m == nil {
		return nil
	}

	return &domain.RecipientStatus{
		NotificationID:     m.NotificationID,
		RecipientID:        m.RecipientID,
		Kind:               m.Kind,
		ConversationID:     m.ConversationID,
		ServiceURL:         m.ServiceURL,
		ActivityID:         m.ActivityID,
		LastStatusCode:     m.LastStatusCode,
		StatusCodeHistory:  append([]int(nil), m.StatusCodeHistory...),
		TotalThrottleCount: m.TotalThrottleCount,
		DeliveryCount:      m.DeliveryCount,
		ErrorMessage:       m.ErrorMessage,
		SentAt:             m.SentAt,
		ReactionResult:     m.ReactionResult,
		FreeTextResult:     m.FreeTextResult,
		YesNoResult:        m.YesNoResult,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}
