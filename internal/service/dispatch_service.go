package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/observability"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/queue"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/repository"
)

const maxIDAttempts = 3

// DispatchService owns the producer side: drafts, fan-out of a draft into dispatch jobs, and cancellation.
type DispatchService struct {
	notifications repository.NotificationRepository
	drafts        repository.DraftRepository
	recipients    repository.RecipientStatusRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	now           func() time.Time
}

func NewDispatchService(
	notifications repository.NotificationRepository,
	drafts repository.DraftRepository,
	recipients repository.RecipientStatusRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) *DispatchService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchService{
		notifications: notifications,
		drafts:        drafts,
		recipients:    recipients,
		publisher:     publisher,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *DispatchService) CreateDraft(ctx context.Context, draft *domain.Draft) (*domain.Draft, error) {
	if draft == nil {
		return nil, fmt.Errorf("%w: draft is required", domain.ErrValidation)
	}

	draft.Title = strings.TrimSpace(draft.Title)
	draft.Content = strings.TrimSpace(draft.Content)
	draft.CreatedBy = strings.TrimSpace(draft.CreatedBy)
	draft.Expiry.IsExpiredContentErased = false
	if !draft.Expiry.IsExpirySet {
		draft.Expiry.ExpiryDate = nil
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	err := withUniqueID(s.now(), domain.NewDraftID, func(id string) error {
		draft.ID = id
		return s.drafts.Create(ctx, draft)
	})
	if err != nil {
		return nil, err
	}

	return draft, nil
}

// SendDraft promotes a draft into a sent notification and fans it out, one dispatch job per recipient.
// Per-recipient problems become warnings on the aggregate; only a failure to set up the aggregate
// itself is returned as an error.
func (s *DispatchService) SendDraft(ctx context.Context, draftID string, recipients []domain.Recipient) (*domain.Notification, error) {
	draftID = strings.TrimSpace(draftID)
	if draftID == "" {
		return nil, fmt.Errorf("%w: draft id is required", domain.ErrValidation)
	}

	now := s.now()
	var notification *domain.Notification
	err := withUniqueID(now, domain.NewSentNotificationID, func(id string) error {
		promoted, err := s.notifications.PromoteDraft(ctx, draftID, id, now)
		notification = promoted
		return err
	})
	if err != nil {
		return nil, err
	}

	ctx, correlationID := observability.EnsureCorrelationID(ctx)
	log := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("notificationId", notification.ID),
		zap.String("draftId", draftID),
	)

	statuses, warnings := initialStatuses(notification.ID, recipients)
	for _, failure := range s.recipients.BatchInsertInitial(ctx, statuses) {
		warnings = append(warnings, fmt.Sprintf("failed to create status for recipient %s: %v", failure.RecipientID, failure.Err))
		statuses = dropRecipient(statuses, failure.RecipientID)
	}
	for _, warning := range warnings {
		s.appendWarning(ctx, log, notification.ID, warning)
	}

	total := len(statuses)
	if err := s.notifications.SetTotalRecipientCount(ctx, notification.ID, total); err != nil {
		return nil, s.failSend(ctx, log, notification.ID, fmt.Errorf("failed to set recipient count: %w", err))
	}

	if total == 0 {
		log.Info("notification has no deliverable recipients")
		if err := s.notifications.UpdateStatus(ctx, notification.ID, domain.StatusSent); err != nil {
			return nil, err
		}
		return s.notifications.GetByID(ctx, notification.ID)
	}

	if err := s.notifications.UpdateStatus(ctx, notification.ID, domain.StatusInProgress); err != nil {
		return nil, s.failSend(ctx, log, notification.ID, fmt.Errorf("failed to start sending: %w", err))
	}

	published := 0
	for _, status := range statuses {
		msg := queue.DispatchMessage{
			NotificationID: notification.ID,
			CorrelationID:  correlationID,
			RecipientData: domain.Recipient{
				RecipientID: status.RecipientID,
				ServiceURL:  status.ServiceURL,
				Kind:        status.Kind,
			},
		}
		if status.ConversationID != nil {
			msg.RecipientData.ConversationID = *status.ConversationID
		}

		if err := s.publisher.Publish(ctx, msg); err != nil {
			s.abandonRecipient(ctx, log, status, err)
			continue
		}
		published++
	}

	log.Info("notification fanned out",
		zap.Int("recipients", total),
		zap.Int("published", published),
		zap.Int("warnings", len(warnings)+total-published),
	)

	return s.notifications.GetByID(ctx, notification.ID)
}

// Cancel stops a notification that has not finished; workers drop its remaining jobs.
func (s *DispatchService) Cancel(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.notifications.UpdateStatus(ctx, strings.TrimSpace(id), domain.StatusCanceled)
}

// abandonRecipient resolves a recipient whose job never reached the queue so the aggregate can still complete.
func (s *DispatchService) abandonRecipient(ctx context.Context, log *zap.Logger, status *domain.RecipientStatus, publishErr error) {
	log.Error("failed to publish dispatch job",
		zap.String("recipientId", status.RecipientID),
		zap.Error(publishErr),
	)
	s.appendWarning(ctx, log, status.NotificationID, fmt.Sprintf("failed to queue recipient %s: %v", status.RecipientID, publishErr))

	reason := publishErr.Error()
	status.ErrorMessage = &reason
	status.RecordStatus(domain.StatusCodeFinalFault)
	if _, err := s.notifications.ResolveRecipient(ctx, status, repository.DeliveryDelta{Failed: 1}, s.now()); err != nil {
		log.Error("failed to record abandoned recipient", zap.String("recipientId", status.RecipientID), zap.Error(err))
	}
}

func (s *DispatchService) failSend(ctx context.Context, log *zap.Logger, id string, cause error) error {
	log.Error("failed to send notification", zap.Error(cause))

	if err := s.notifications.AppendErrorMessage(ctx, id, cause.Error()); err != nil {
		log.Error("failed to append error message", zap.Error(err))
	}
	if err := s.notifications.UpdateStatus(ctx, id, domain.StatusFailed); err != nil && !errors.Is(err, domain.ErrConflict) {
		log.Error("failed to mark notification as failed", zap.Error(err))
	}
	return cause
}

func (s *DispatchService) appendWarning(ctx context.Context, log *zap.Logger, id string, warning string) {
	if err := s.notifications.AppendWarningMessage(ctx, id, warning); err != nil {
		log.Error("failed to append warning message", zap.String("warning", warning), zap.Error(err))
	}
}

// initialStatuses validates and de-duplicates the resolved audience.
func initialStatuses(notificationID string, recipients []domain.Recipient) ([]*domain.RecipientStatus, []string) {
	statuses := make([]*domain.RecipientStatus, 0, len(recipients))
	var warnings []string
	seen := make(map[string]struct{}, len(recipients))

	for _, r := range recipients {
		r.RecipientID = strings.TrimSpace(r.RecipientID)
		if err := r.Validate(); err != nil {
			warnings = append(warnings, fmt.Sprintf("skipped recipient %q: %v", r.RecipientID, err))
			continue
		}
		if _, dup := seen[r.RecipientID]; dup {
			continue
		}
		seen[r.RecipientID] = struct{}{}
		statuses = append(statuses, domain.NewRecipientStatus(notificationID, r))
	}

	return statuses, warnings
}

func dropRecipient(statuses []*domain.RecipientStatus, recipientID string) []*domain.RecipientStatus {
	for i, status := range statuses {
		if status.RecipientID == recipientID {
			return append(statuses[:i], statuses[i+1:]...)
		}
	}
	return statuses
}

// withUniqueID retries create with the next tick key while the key is taken.
func withUniqueID(now time.Time, newID func(time.Time) string, create func(id string) error) error {
	var id string
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id = newID(now.Add(time.Duration(attempt) * domain.IDResolution))
		err := create(id)
		if err == nil {
			return nil
		}
		if !isUniqueViolationError(err) {
			return err
		}
	}
	return fmt.Errorf("%w: id %s already exists", domain.ErrConflict, id)
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
