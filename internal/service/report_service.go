package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/repository"
)

// Report is the delivery summary of one sent notification.
type Report struct {
	Notification *domain.Notification
	// PendingCount is the number of recipients that have not reached a terminal status.
	PendingCount int64
}

type ReportService struct {
	notifications repository.NotificationRepository
	recipients    repository.RecipientStatusRepository
	logger        *zap.Logger
}

func NewReportService(
	notifications repository.NotificationRepository,
	recipients repository.RecipientStatusRepository,
	logger *zap.Logger,
) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReportService{
		notifications: notifications,
		recipients:    recipients,
		logger:        logger,
	}
}

func (s *ReportService) GetReport(ctx context.Context, id string) (*Report, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}

	notification, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	pending, err := s.recipients.CountPending(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending recipients: %w", err)
	}

	return &Report{Notification: notification, PendingCount: pending}, nil
}

// List returns sent notifications, most recent first.
func (s *ReportService) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	return s.notifications.List(ctx, params)
}

func (s *ReportService) GetRecipientStatus(ctx context.Context, notificationID, recipientID string) (*domain.RecipientStatus, error) {
	notificationID = strings.TrimSpace(notificationID)
	recipientID = strings.TrimSpace(recipientID)
	if notificationID == "" || recipientID == "" {
		return nil, fmt.Errorf("%w: notification id and recipient id are required", domain.ErrValidation)
	}
	return s.recipients.Get(ctx, notificationID, recipientID)
}

// RecordResponse stores a recipient's survey answer without touching delivery state.
func (s *ReportService) RecordResponse(ctx context.Context, notificationID, recipientID string, response domain.SurveyResponse) error {
	notificationID = strings.TrimSpace(notificationID)
	recipientID = strings.TrimSpace(recipientID)
	if notificationID == "" || recipientID == "" {
		return fmt.Errorf("%w: notification id and recipient id are required", domain.ErrValidation)
	}
	if response.IsEmpty() {
		return fmt.Errorf("%w: response must carry at least one answer", domain.ErrValidation)
	}

	if err := s.recipients.UpdateSurveyResponse(ctx, notificationID, recipientID, response); err != nil {
		return err
	}

	s.logger.Debug("survey response recorded",
		zap.String("notificationId", notificationID),
		zap.String("recipientId", recipientID),
	)
	return nil
}
