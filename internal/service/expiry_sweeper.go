package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/channel"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/observability"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/repository"
)

const (
	defaultExpirySweepInterval = 5 * time.Minute
	defaultExpiryEditAttempts  = 5
	defaultExpiryEditsPerSec   = 10
	expiryScanLimit            = 100
	expiryRecipientPageSize    = 200
)

type ExpiryOptions struct {
	Interval        time.Duration
	EditMaxAttempts int
	EditsPerSec     int
}

// SweepStats summarizes one sweep pass.
type SweepStats struct {
	Erased   int
	Replaced int
	Failed   int
}

// ExpirySweeper erases expired notification content and withdraws already delivered copies.
type ExpirySweeper struct {
	notifications repository.NotificationRepository
	recipients    repository.RecipientStatusRepository
	replacer      channel.ContentReplacer
	interval      time.Duration
	editAttempts  int
	limiter       *rate.Limiter
	placeholder   string
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
	newBackOff    func() backoff.BackOff
}

func NewExpirySweeper(
	notifications repository.NotificationRepository,
	recipients repository.RecipientStatusRepository,
	replacer channel.ContentReplacer,
	opts ExpiryOptions,
	logger *zap.Logger,
) *ExpirySweeper {
	if opts.Interval <= 0 {
		opts.Interval = defaultExpirySweepInterval
	}
	if opts.EditMaxAttempts < 1 {
		opts.EditMaxAttempts = defaultExpiryEditAttempts
	}
	if opts.EditsPerSec < 1 {
		opts.EditsPerSec = defaultExpiryEditsPerSec
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExpirySweeper{
		notifications: notifications,
		recipients:    recipients,
		replacer:      replacer,
		interval:      opts.Interval,
		editAttempts:  opts.EditMaxAttempts,
		limiter:       rate.NewLimiter(rate.Limit(opts.EditsPerSec), opts.EditsPerSec),
		placeholder:   channel.ExpiredCard(),
		logger:        logger,
		now:           time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

func (s *ExpirySweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start sweeps once immediately and then on every interval until ctx is canceled.
// A sweep that is still running when the next tick fires causes that tick to be skipped.
func (s *ExpirySweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cronLogger := observability.NewCronLogger(s.logger)
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	job := cron.FuncJob(func() { s.runSweep(ctx) })
	c.Schedule(cron.Every(s.interval), job)

	s.runSweep(ctx)
	c.Start()
	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("expiry sweeper stopped")
	return nil
}

func (s *ExpirySweeper) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	stats, err := s.Sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if stats.Erased > 0 {
		s.logger.Info("expiry sweep completed",
			zap.Int("erased", stats.Erased),
			zap.Int("replaced", stats.Replaced),
			zap.Int("failed", stats.Failed),
		)
	}
}

// Sweep erases every finished notification whose expiry date has passed. Erasing is idempotent:
// a notification already erased by an earlier or concurrent pass is skipped.
func (s *ExpirySweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	for {
		due, err := s.notifications.GetDueForExpiry(ctx, s.now(), expiryScanLimit)
		if err != nil {
			return stats, fmt.Errorf("failed to fetch expired notifications: %w", err)
		}

		erasedThisPage := 0
		for i := range due {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			if s.expire(ctx, &due[i], &stats) {
				erasedThisPage++
			}
		}

		if len(due) < expiryScanLimit || erasedThisPage == 0 {
			return stats, nil
		}
	}
}

func (s *ExpirySweeper) expire(ctx context.Context, n *domain.Notification, stats *SweepStats) bool {
	log := s.logger.With(zap.String("notificationId", n.ID))

	erased, err := s.notifications.MarkContentErased(ctx, n.ID)
	if err != nil {
		log.Error("failed to erase expired content", zap.Error(err))
		return false
	}
	if !erased {
		return false
	}

	stats.Erased++
	s.metrics.IncNotificationErased()

	after := ""
	for {
		rows, err := s.recipients.ListWithLiveHandle(ctx, n.ID, after, expiryRecipientPageSize)
		if err != nil {
			log.Error("failed to list delivered recipients", zap.Error(err))
			return true
		}

		for i := range rows {
			if !rows[i].HasLiveHandle() {
				continue
			}
			if s.replace(ctx, log, &rows[i]) {
				stats.Replaced++
			} else {
				stats.Failed++
			}
		}

		if len(rows) < expiryRecipientPageSize {
			return true
		}
		after = rows[len(rows)-1].RecipientID
	}
}

// replace withdraws one delivered message, retrying transient failures with exponential backoff.
func (s *ExpirySweeper) replace(ctx context.Context, log *zap.Logger, row *domain.RecipientStatus) bool {
	if err := s.limiter.Wait(ctx); err != nil {
		return false
	}

	op := func() error {
		err := s.replacer.ReplaceDeliveredContent(ctx, row.ServiceURL, *row.ConversationID, *row.ActivityID, s.placeholder)
		if err != nil && !channel.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.editAttempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		log.Warn("failed to replace expired message",
			zap.String("recipientId", row.RecipientID),
			zap.Error(err),
		)
		s.metrics.IncExpiryEdit("failed")
		return false
	}

	s.metrics.IncExpiryEdit("replaced")
	return true
}
