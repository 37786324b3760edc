package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a sent notification.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
	StatusCanceled   Status = "CANCELED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusSent, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// IsFinal reports whether no further lifecycle transition is allowed.
func (s Status) IsFinal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo enforces forward-only movement:
// Queued -> InProgress -> {Sent, Failed}, with Canceled reachable from any non-final state.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsFinal() || !next.IsValid() {
		return false
	}
	switch next {
	case StatusQueued:
		return false
	case StatusInProgress:
		return s == StatusQueued
	default:
		return true
	}
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Content limits (in characters).
const (
	MaxTitleLength   = 200
	MaxContentLength = 28000
)

// Expiry describes when delivered content must be withdrawn.
type Expiry struct {
	IsExpirySet            bool
	ExpiryDate             *time.Time
	IsExpiredContentErased bool
}

// IsDue reports whether the content has expired at now and was not yet erased.
func (e Expiry) IsDue(now time.Time) bool {
	return e.IsExpirySet && !e.IsExpiredContentErased && e.ExpiryDate != nil && !e.ExpiryDate.After(now)
}

// Draft is an authored notification that has not been sent yet.
type Draft struct {
	ID        string
	Title     string
	Content   string
	CreatedBy string
	Expiry    Expiry
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d *Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if n := len([]rune(d.Title)); n > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters (got %d)", ErrValidation, MaxTitleLength, n)
	}
	if n := len([]rune(d.Content)); n > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters (got %d)", ErrValidation, MaxContentLength, n)
	}
	if d.Expiry.IsExpirySet && d.Expiry.ExpiryDate == nil {
		return fmt.Errorf("%w: expiry date is required when expiry is set", ErrValidation)
	}
	return nil
}

// Notification is the aggregate row of a sent notification.
type Notification struct {
	ID                  string
	Title               string
	Content             string
	CreatedBy           string
	Status              Status
	SucceededCount      int
	FailedCount         int
	ThrottledCount      int
	TotalRecipientCount int
	SendingStartedAt    *time.Time
	SentAt              *time.Time
	ErrorMessage        *string
	WarningMessage      *string
	Expiry              Expiry
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// FromDraft copies a draft into a fresh aggregate with reset counters.
func FromDraft(d Draft, id string, now time.Time) *Notification {
	startedAt := now.UTC()
	expiry := d.Expiry
	expiry.IsExpiredContentErased = false

	return &Notification{
		ID:               id,
		Title:            d.Title,
		Content:          d.Content,
		CreatedBy:        d.CreatedBy,
		Status:           StatusQueued,
		SendingStartedAt: &startedAt,
		Expiry:           expiry,
	}
}

// ProcessedCount is the number of recipients with a terminal status.
func (n *Notification) ProcessedCount() int {
	return n.SucceededCount + n.FailedCount
}

// RollUp returns the final status once every recipient is terminal.
// A notification only fails when no recipient received it.
func RollUp(succeeded, failed, total int) (Status, bool) {
	if succeeded+failed < total {
		return "", false
	}
	if succeeded == 0 && total > 0 {
		return StatusFailed, true
	}
	return StatusSent, true
}
