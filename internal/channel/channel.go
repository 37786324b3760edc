package channel

import "context"

// ResultType is the outcome a Sender surfaces after its own bounded retry.
type ResultType string

const (
	ResultSucceeded        ResultType = "SUCCEEDED"
	ResultThrottled        ResultType = "THROTTLED"
	ResultRecoverableFault ResultType = "RECOVERABLE_FAULT"
	ResultPermanentFault   ResultType = "PERMANENT_FAULT"
)

func (r ResultType) String() string { return string(r) }

// Message is a rendered card addressed to one conversation.
type Message struct {
	ServiceURL     string
	ConversationID string
	Content        string
}

// SendResult reports the final outcome of a send together with every status code seen on the way.
type SendResult struct {
	Type           ResultType
	StatusCode     int
	AllStatusCodes []int
	ErrorMessage   string
	ThrottleCount  int
	ActivityID     string
}

// Sender posts a message to a conversation, retrying internally up to maxAttempts.
// A non-nil error means the send could not be classified (for example a canceled context).
type Sender interface {
	Send(ctx context.Context, msg Message, maxAttempts int) (SendResult, error)
}

// ContentReplacer edits a previously delivered message in place.
type ContentReplacer interface {
	ReplaceDeliveredContent(ctx context.Context, serviceURL, conversationID, activityID, content string) error
}
