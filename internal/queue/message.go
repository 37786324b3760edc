package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
)

// DispatchMessage is the broker payload: deliver notification N to one recipient.
// CorrelationID is the id of the API request that fanned the notification out.
type DispatchMessage struct {
	NotificationID string           `json:"notificationId"`
	RecipientData  domain.Recipient `json:"recipientData"`
	CorrelationID  string           `json:"correlationId,omitempty"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if err := m.RecipientData.Validate(); err != nil {
		return err
	}
	return nil
}

// DispatchJob is a consumed DispatchMessage plus the transport-supplied delivery metadata.
type DispatchJob struct {
	Message         DispatchMessage
	DeliveryCount   int
	EnqueuedTimeUTC time.Time
	CorrelationID   string
}
