package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/channel"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/observability"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/queue"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/repository"
)

const (
	minWorkerConcurrency = 1

	defaultMaxDeliveryAttempts  = 10
	defaultThrottleDelay        = 11 * time.Minute
	defaultTransportMaxAttempts = 5
	defaultNoConversationText   = "No conversation is installed for this recipient."
)

// ThrottleGate is the shared "channel is rate-limiting us" flag.
type ThrottleGate interface {
	IsThrottled(ctx context.Context) bool
	SetThrottled(ctx context.Context, delay time.Duration)
}

type WorkerOptions struct {
	Concurrency          int
	MaxDeliveryAttempts  int
	ThrottleDelay        time.Duration
	TransportMaxAttempts int
	NoConversationText   string
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.Concurrency < minWorkerConcurrency {
		o.Concurrency = minWorkerConcurrency
	}
	if o.MaxDeliveryAttempts < 1 {
		o.MaxDeliveryAttempts = defaultMaxDeliveryAttempts
	}
	if o.ThrottleDelay <= 0 {
		o.ThrottleDelay = defaultThrottleDelay
	}
	if o.TransportMaxAttempts < 1 {
		o.TransportMaxAttempts = defaultTransportMaxAttempts
	}
	if strings.TrimSpace(o.NoConversationText) == "" {
		o.NoConversationText = defaultNoConversationText
	}
	return o
}

// WorkerService turns one dispatch job into at most one channel send and the matching status writes.
type WorkerService struct {
	notifications repository.NotificationRepository
	recipients    repository.RecipientStatusRepository
	consumer      queue.Consumer
	publisher     queue.Publisher
	sender        channel.Sender
	throttle      ThrottleGate
	opts          WorkerOptions
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewWorkerService(
	notifications repository.NotificationRepository,
	recipients repository.RecipientStatusRepository,
	consumer queue.Consumer,
	publisher queue.Publisher,
	sender channel.Sender,
	throttle ThrottleGate,
	opts WorkerOptions,
	logger *zap.Logger,
) *WorkerService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		notifications: notifications,
		recipients:    recipients,
		consumer:      consumer,
		publisher:     publisher,
		sender:        sender,
		throttle:      throttle,
		opts:          opts.withDefaults(),
		logger:        logger,
		now:           time.Now,
	}
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs Concurrency consumers of the send queue until context cancellation.
// Workers only observe cancellation between jobs.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started", zap.Int("workerId", workerID))

			if err := s.consumer.Consume(groupCtx, s.processJob); err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// processJob never returns an error for a per-recipient outcome; a returned error
// hands the job back to the broker for redelivery or dead-lettering.
func (s *WorkerService) processJob(ctx context.Context, job queue.DispatchJob) error {
	// In-flight sends are not aborted when the worker pool shuts down.
	ctx = context.WithoutCancel(ctx)
	if job.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, job.CorrelationID)
	}

	msg := job.Message
	recipient := msg.RecipientData
	log := observability.JobLogger(s.logger, ctx, msg.NotificationID, recipient.RecipientID).
		With(zap.Int("deliveryCount", job.DeliveryCount))

	s.metrics.IncWorkerInFlight()
	defer s.metrics.DecWorkerInFlight()

	pending, err := s.recipients.IsPending(ctx, msg.NotificationID, recipient.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to check recipient status: %w", err)
	}
	if !pending {
		log.Debug("recipient already resolved, skipping")
		return nil
	}

	row, err := s.recipients.Get(ctx, msg.NotificationID, recipient.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to load recipient status: %w", err)
	}
	row.DeliveryCount = job.DeliveryCount

	if !recipient.Kind.CanReceiveChannelMessages() {
		row.RecordStatus(domain.StatusCodeNotSupported)
		return s.resolveFailed(ctx, log, row, fmt.Sprintf("recipient kind %s cannot receive channel messages", recipient.Kind))
	}

	notification, err := s.notifications.GetByID(ctx, msg.NotificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("notification not found, dropping job")
			return nil
		}
		return fmt.Errorf("failed to load notification: %w", err)
	}
	if notification.Status == domain.StatusCanceled {
		log.Info("notification canceled, dropping job")
		return nil
	}

	conversationID := ""
	if row.ConversationID != nil {
		conversationID = strings.TrimSpace(*row.ConversationID)
	}
	if conversationID == "" {
		conversationID = strings.TrimSpace(recipient.ConversationID)
	}
	if conversationID == "" {
		row.RecordStatus(domain.StatusCodeNoConversation)
		return s.resolveFailed(ctx, log, row, s.opts.NoConversationText)
	}
	row.ConversationID = &conversationID
	if row.ServiceURL == "" {
		row.ServiceURL = recipient.ServiceURL
	}

	if notification.Expiry.IsExpiredContentErased {
		row.RecordStatus(domain.StatusCodeFinalFault)
		return s.resolveFailed(ctx, log, row, "content expired before delivery")
	}

	if s.throttle.IsThrottled(ctx) {
		if err := s.publisher.PublishDelayed(ctx, msg, s.opts.ThrottleDelay); err != nil {
			return fmt.Errorf("failed to requeue throttled job: %w", err)
		}
		s.metrics.IncThrottleRequeue()
		log.Debug("channel throttled, job requeued", zap.Duration("delay", s.opts.ThrottleDelay))
		return nil
	}

	card, err := channel.RenderCard(notification.Title, notification.Content)
	if err != nil {
		return fmt.Errorf("failed to render card: %w", err)
	}

	sendStart := s.now()
	result, err := s.sender.Send(ctx, channel.Message{
		ServiceURL:     row.ServiceURL,
		ConversationID: conversationID,
		Content:        card,
	}, s.opts.TransportMaxAttempts)
	if err != nil {
		return s.handleUnexpected(ctx, log, row, job.DeliveryCount, err)
	}
	s.metrics.ObserveSend(result.Type.String(), s.now().Sub(sendStart))

	row.RecordStatus(result.AllStatusCodes...)
	row.TotalThrottleCount += result.ThrottleCount
	if result.ErrorMessage != "" {
		errMsg := result.ErrorMessage
		row.ErrorMessage = &errMsg
	}

	switch result.Type {
	case channel.ResultSucceeded:
		sentAt := s.now().UTC()
		row.SentAt = &sentAt
		row.ErrorMessage = nil
		if result.ActivityID != "" {
			activityID := result.ActivityID
			row.ActivityID = &activityID
		}
		_, err := s.resolve(ctx, log, row, repository.DeliveryDelta{Succeeded: 1}, "succeeded")
		return err

	case channel.ResultThrottled:
		s.throttle.SetThrottled(ctx, s.opts.ThrottleDelay)
		recorded, err := s.resolve(ctx, log, row, repository.DeliveryDelta{Throttled: 1}, "")
		if err != nil || !recorded {
			return err
		}
		if err := s.publisher.PublishDelayed(ctx, msg, s.opts.ThrottleDelay); err != nil {
			return fmt.Errorf("failed to requeue throttled job: %w", err)
		}
		s.metrics.IncThrottleRequeue()
		log.Warn("channel throttled the send", zap.Int("statusCode", result.StatusCode))
		return nil

	case channel.ResultRecoverableFault:
		if job.DeliveryCount < s.opts.MaxDeliveryAttempts {
			row.RecordStatus(domain.StatusCodeFaultedRetrying)
			if err := s.recipients.Upsert(ctx, row); err != nil {
				return fmt.Errorf("failed to save recipient status: %w", err)
			}
			s.metrics.IncRedelivery()
			log.Warn("recoverable send fault, redelivering", zap.Int("statusCode", result.StatusCode))
			return fmt.Errorf("%w: recoverable fault status=%d", queue.ErrRedeliver, result.StatusCode)
		}
		row.RecordStatus(domain.StatusCodeFinalFault)
		return s.resolveFailed(ctx, log, row, result.ErrorMessage)

	default:
		row.RecordStatus(domain.StatusCodeFinalFault)
		return s.resolveFailed(ctx, log, row, result.ErrorMessage)
	}
}

// handleUnexpected records a synthetic fault and surfaces the error so broker redelivery applies.
func (s *WorkerService) handleUnexpected(ctx context.Context, log *zap.Logger, row *domain.RecipientStatus, deliveryCount int, sendErr error) error {
	log.Error("unexpected send failure", zap.Error(sendErr))
	s.metrics.ObserveSend("unexpected", 0)

	errMsg := sendErr.Error()
	row.ErrorMessage = &errMsg

	if deliveryCount < s.opts.MaxDeliveryAttempts {
		row.RecordStatus(domain.StatusCodeUnexpected, domain.StatusCodeFaultedRetrying)
		if err := s.recipients.Upsert(ctx, row); err != nil {
			log.Error("failed to save recipient status", zap.Error(err))
		}
		s.metrics.IncRedelivery()
		return fmt.Errorf("%w: %w", queue.ErrRedeliver, sendErr)
	}

	row.RecordStatus(domain.StatusCodeUnexpected, domain.StatusCodeFinalFault)
	if _, err := s.resolve(ctx, log, row, repository.DeliveryDelta{Failed: 1}, "failed"); err != nil {
		return err
	}
	s.metrics.IncDeadLetter()
	return fmt.Errorf("%w: %w", queue.ErrDeadLetter, sendErr)
}

// resolveFailed persists a terminal failure and counts it against the aggregate.
func (s *WorkerService) resolveFailed(ctx context.Context, log *zap.Logger, row *domain.RecipientStatus, reason string) error {
	if reason != "" {
		row.ErrorMessage = &reason
	}

	recorded, err := s.resolve(ctx, log, row, repository.DeliveryDelta{Failed: 1}, "failed")
	if err != nil {
		return err
	}
	if recorded {
		log.Info("recipient failed", zap.Int("statusCode", row.LastStatusCode), zap.String("reason", reason))
	}
	return nil
}

// resolve writes the recipient row and its counter delta as one unit. A storage failure leaves
// both untouched and hands the job back for redelivery. recorded is false when another delivery
// of the same job resolved the recipient first; outcome labels the resolution metric and is
// empty for non-terminal attempts.
func (s *WorkerService) resolve(
	ctx context.Context,
	log *zap.Logger,
	row *domain.RecipientStatus,
	delta repository.DeliveryDelta,
	outcome string,
) (recorded bool, err error) {
	completed, err := s.notifications.ResolveRecipient(ctx, row, delta, s.now())
	if errors.Is(err, domain.ErrConflict) {
		log.Info("recipient already resolved by another delivery", zap.Int("statusCode", row.LastStatusCode))
		return false, nil
	}
	if err != nil {
		log.Error("failed to record delivery",
			zap.Int("succeeded", delta.Succeeded),
			zap.Int("failed", delta.Failed),
			zap.Int("throttled", delta.Throttled),
			zap.Error(err),
		)
		return false, fmt.Errorf("%w: failed to record delivery: %w", queue.ErrRedeliver, err)
	}

	if outcome != "" {
		s.metrics.IncRecipientResolved(outcome)
	}
	if completed != nil {
		log.Info("notification completed", zap.String("status", completed.String()))
		s.metrics.IncNotificationCompleted(completed.String())
	}
	return true, nil
}
