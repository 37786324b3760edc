package throttle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type memoryStore struct {
	mu       sync.Mutex
	until    time.Time
	set      bool
	readErr  error
	writeErr error
	writes   int
}

func (s *memoryStore) ThrottledUntil(ctx context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return time.Time{}, false, s.readErr
	}
	return s.until, s.set, nil
}

func (s *memoryStore) ExtendThrottledUntil(ctx context.Context, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	if !s.set || until.After(s.until) {
		s.until = until
		s.set = true
	}
	return nil
}

func TestControllerNotThrottledWithoutState(t *testing.T) {
	t.Parallel()

	c := NewController(&memoryStore{}, zap.NewNop())
	if c.IsThrottled(context.Background()) {
		t.Fatal("IsThrottled() = true, want false without stored state")
	}
}

func TestControllerThrottleWindow(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	c := NewController(store, zap.NewNop())

	base := time.Unix(1_700_000_000, 0)
	now := base
	c.now = func() time.Time { return now }

	c.SetThrottled(context.Background(), 30*time.Second)

	for _, offset := range []time.Duration{0, 10 * time.Second, 29 * time.Second} {
		now = base.Add(offset)
		if !c.IsThrottled(context.Background()) {
			t.Fatalf("IsThrottled() at T+%v = false, want true", offset)
		}
	}

	now = base.Add(30 * time.Second)
	if c.IsThrottled(context.Background()) {
		t.Fatal("IsThrottled() at deadline = true, want false (self-expiry)")
	}
}

func TestControllerShorterReportKeepsLongerWindow(t *testing.T) {
	t.Parallel()

	store := &memoryStore{}
	c := NewController(store, zap.NewNop())

	base := time.Unix(1_700_000_000, 0)
	now := base
	c.now = func() time.Time { return now }

	c.SetThrottled(context.Background(), time.Minute)
	now = base.Add(time.Second)
	c.SetThrottled(context.Background(), 5*time.Second)

	now = base.Add(30 * time.Second)
	if !c.IsThrottled(context.Background()) {
		t.Fatal("shorter report must not shorten an existing window")
	}
	if store.writes != 2 {
		t.Fatalf("writes = %d, want 2", store.writes)
	}
}

func TestControllerFailsOpenOnReadError(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	store := &memoryStore{readErr: errors.New("db down"), set: true, until: time.Now().Add(time.Hour)}
	c := NewController(store, zap.New(core))

	if c.IsThrottled(context.Background()) {
		t.Fatal("IsThrottled() = true, want false when store is unreachable")
	}
	if logs.Len() != 1 {
		t.Fatalf("log entries = %d, want 1", logs.Len())
	}
}

func TestControllerSetThrottledIgnoresWriteError(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	c := NewController(&memoryStore{writeErr: errors.New("db down")}, zap.New(core))

	c.SetThrottled(context.Background(), time.Minute)

	if logs.FilterMessage("failed to persist throttle state").Len() != 1 {
		t.Fatal("expected write failure to be logged")
	}
}

func TestControllerNilSafe(t *testing.T) {
	t.Parallel()

	var c *Controller
	if c.IsThrottled(context.Background()) {
		t.Fatal("nil controller should not be throttled")
	}
	c.SetThrottled(context.Background(), time.Second)
}
