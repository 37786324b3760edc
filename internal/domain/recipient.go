package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecipientKind is the principal type a dispatch job targets.
type RecipientKind string

const (
	RecipientKindUser  RecipientKind = "USER"
	RecipientKindTeam  RecipientKind = "TEAM"
	RecipientKindGuest RecipientKind = "GUEST"
)

func (k RecipientKind) String() string { return string(k) }

func (k RecipientKind) IsValid() bool {
	switch k {
	case RecipientKindUser, RecipientKindTeam, RecipientKindGuest:
		return true
	}
	return false
}

// CanReceiveChannelMessages reports whether the bot may post to this principal.
func (k RecipientKind) CanReceiveChannelMessages() bool {
	return k == RecipientKindUser || k == RecipientKindTeam
}

func ParseRecipientKindFromString(s string) (RecipientKind, error) {
	k := RecipientKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid recipient kind %q", ErrValidation, s)
	}
	return k, nil
}

// Status codes stored per recipient. Positive values are channel (HTTP) codes;
// negative values are synthetic codes owned by the pipeline.
const (
	StatusCodeNotAttempted    = 0
	StatusCodeFaultedRetrying = -1
	StatusCodeFinalFault      = -2
	StatusCodeNotSupported    = -3
	StatusCodeNoConversation  = -4
	StatusCodeUnexpected      = -5
	StatusCodeThrottled       = 429
)

// IsSuccessStatusCode reports a 2xx channel code.
func IsSuccessStatusCode(code int) bool {
	return code >= 200 && code < 300
}

// IsTerminalStatusCode reports whether no further send attempt will occur.
func IsTerminalStatusCode(code int) bool {
	if IsSuccessStatusCode(code) {
		return true
	}
	switch code {
	case StatusCodeFinalFault, StatusCodeNotSupported, StatusCodeNoConversation:
		return true
	}
	return false
}

// RecipientStatus is the delivery row for one (notification, recipient) pair.
type RecipientStatus struct {
	NotificationID     string
	RecipientID        string
	Kind               RecipientKind
	ConversationID     *string
	ServiceURL         string
	ActivityID         *string
	LastStatusCode     int
	StatusCodeHistory  []int
	TotalThrottleCount int
	DeliveryCount      int
	ErrorMessage       *string
	SentAt             *time.Time
	ReactionResult     *string
	FreeTextResult     *string
	YesNoResult        *bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewRecipientStatus builds the initial "not yet attempted" row created at fan-out.
func NewRecipientStatus(notificationID string, r Recipient) *RecipientStatus {
	status := &RecipientStatus{
		NotificationID: notificationID,
		RecipientID:    r.RecipientID,
		Kind:           r.Kind,
		ServiceURL:     r.ServiceURL,
		LastStatusCode: StatusCodeNotAttempted,
	}
	if cid := strings.TrimSpace(r.ConversationID); cid != "" {
		status.ConversationID = &cid
	}
	return status
}

// IsPending reports whether the row still expects a send attempt.
func (r *RecipientStatus) IsPending() bool {
	return !IsTerminalStatusCode(r.LastStatusCode)
}

// RecordStatus appends codes to the history; the last one becomes LastStatusCode.
func (r *RecipientStatus) RecordStatus(codes ...int) {
	if len(codes) == 0 {
		return
	}
	r.StatusCodeHistory = append(r.StatusCodeHistory, codes...)
	r.LastStatusCode = codes[len(codes)-1]
}

// HasLiveHandle reports whether the delivered message can be edited in place.
func (r *RecipientStatus) HasLiveHandle() bool {
	return r.ConversationID != nil && *r.ConversationID != "" && r.ActivityID != nil && *r.ActivityID != ""
}

// Recipient is one resolved member of a notification's audience.
type Recipient struct {
	RecipientID    string        `json:"recipientId"`
	ConversationID string        `json:"conversationId,omitempty"`
	ServiceURL     string        `json:"serviceUrl,omitempty"`
	Kind           RecipientKind `json:"recipientKind"`
}

func (r Recipient) Validate() error {
	if strings.TrimSpace(r.RecipientID) == "" {
		return fmt.Errorf("%w: recipientId is required", ErrValidation)
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: invalid recipient kind %q", ErrValidation, r.Kind)
	}
	return nil
}

// SurveyResponse carries a recipient's answer; nil fields are left untouched.
type SurveyResponse struct {
	Reaction *string
	FreeText *string
	YesNo    *bool
}

func (s SurveyResponse) IsEmpty() bool {
	return s.Reaction == nil && s.FreeText == nil && s.YesNo == nil
}
