package throttle

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Store persists the shared throttle deadline so every worker process observes it.
type Store interface {
	ThrottledUntil(ctx context.Context) (time.Time, bool, error)
	// ExtendThrottledUntil stores until unless a later deadline is already stored.
	ExtendThrottledUntil(ctx context.Context, until time.Time) error
}

// Controller is the process-facing view of the shared throttle flag.
// Storage failures fail open: a broken store never stalls the send pipeline.
type Controller struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewController(store Store, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// IsThrottled reports whether a stored deadline is still in the future.
func (c *Controller) IsThrottled(ctx context.Context) bool {
	if c == nil || c.store == nil {
		return false
	}

	until, ok, err := c.store.ThrottledUntil(ctx)
	if err != nil {
		c.logger.Warn("throttle state read failed, assuming not throttled", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	return c.now().Before(until)
}

// SetThrottled extends the deadline to now+delay. A shorter report never shortens a longer window.
func (c *Controller) SetThrottled(ctx context.Context, delay time.Duration) {
	if c == nil || c.store == nil || delay <= 0 {
		return
	}

	until := c.now().Add(delay).UTC()
	if err := c.store.ExtendThrottledUntil(ctx, until); err != nil {
		c.logger.Error("failed to persist throttle state",
			zap.Time("throttledUntil", until),
			zap.Error(err),
		)
		return
	}

	c.logger.Info("send pipeline throttled", zap.Time("throttledUntil", until))
}
