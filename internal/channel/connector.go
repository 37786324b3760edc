package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
)

const (
	defaultConnectorTimeout = 10 * time.Second
	defaultRetryBaseDelay   = time.Second
	maxRetryDelay           = 30 * time.Second

	sendActivityPath    = "/v3/conversations/{conversationId}/activities"
	replaceActivityPath = "/v3/conversations/{conversationId}/activities/{activityId}"
)

type activityResponse struct {
	ID string `json:"id"`
}

// BotConnector talks to a bot-connector style REST endpoint using the serviceUrl of each recipient.
type BotConnector struct {
	client    *resty.Client
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewBotConnector(accessToken string) *BotConnector {
	client := resty.New()
	client.SetTimeout(defaultConnectorTimeout)

	return NewBotConnectorWithClient(client, accessToken)
}

func NewBotConnectorWithClient(client *resty.Client, accessToken string) *BotConnector {
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultConnectorTimeout)
	}
	client.SetRetryCount(0)
	if token := strings.TrimSpace(accessToken); token != "" {
		client.SetAuthToken(token)
	}

	return &BotConnector{
		client:    client,
		baseDelay: defaultRetryBaseDelay,
		sleep:     sleepContext,
	}
}

// Send posts msg as a card activity. Throttling and server errors are retried with
// exponential delay until maxAttempts is spent; other client errors stop immediately.
func (c *BotConnector) Send(ctx context.Context, msg Message, maxAttempts int) (SendResult, error) {
	if c == nil || c.client == nil {
		return SendResult{}, fmt.Errorf("connector is not initialized")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	body, err := newCardActivity("", msg.Content)
	if err != nil {
		return SendResult{
			Type:           ResultPermanentFault,
			StatusCode:     domain.StatusCodeFinalFault,
			AllStatusCodes: []int{domain.StatusCodeFinalFault},
			ErrorMessage:   err.Error(),
		}, nil
	}

	var result SendResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var created activityResponse
		resp, err := c.client.R().
			SetContext(ctx).
			SetPathParam("conversationId", msg.ConversationID).
			SetBody(body).
			SetResult(&created).
			Post(strings.TrimRight(msg.ServiceURL, "/") + sendActivityPath)
		if err != nil {
			if ctx.Err() != nil {
				return SendResult{}, &SendError{Message: "send activity aborted", Cause: err}
			}
			result.record(domain.StatusCodeUnexpected, ResultRecoverableFault, err.Error())
		} else {
			statusCode := resp.StatusCode()
			switch {
			case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
				result.record(statusCode, ResultSucceeded, "")
				result.ActivityID = created.ID
				return result, nil
			case statusCode == http.StatusTooManyRequests:
				result.ThrottleCount++
				result.record(statusCode, ResultThrottled, statusErrorMessage(statusCode, strings.TrimSpace(resp.String())))
			case isTransientHTTPStatus(statusCode):
				result.record(statusCode, ResultRecoverableFault, statusErrorMessage(statusCode, strings.TrimSpace(resp.String())))
			default:
				result.record(statusCode, ResultPermanentFault, statusErrorMessage(statusCode, strings.TrimSpace(resp.String())))
				return result, nil
			}
		}

		if attempt == maxAttempts {
			break
		}
		if err := c.sleep(ctx, c.retryDelay(attempt)); err != nil {
			return SendResult{}, &SendError{Message: "send retry aborted", Cause: err}
		}
	}

	return result, nil
}

// ReplaceDeliveredContent overwrites the card of an already delivered activity.
func (c *BotConnector) ReplaceDeliveredContent(ctx context.Context, serviceURL, conversationID, activityID, content string) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("connector is not initialized")
	}

	body, err := newCardActivity(activityID, content)
	if err != nil {
		return err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"conversationId": conversationID,
			"activityId":     activityID,
		}).
		SetBody(body).
		Put(strings.TrimRight(serviceURL, "/") + replaceActivityPath)
	if err != nil {
		return &SendError{
			Message:   "replace activity request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := resp.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &SendError{
		StatusCode: statusCode,
		Message:    statusErrorMessage(statusCode, strings.TrimSpace(resp.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func (c *BotConnector) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay << (attempt - 1)
	if delay <= 0 || delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

func (r *SendResult) record(statusCode int, resultType ResultType, errorMessage string) {
	r.StatusCode = statusCode
	r.AllStatusCodes = append(r.AllStatusCodes, statusCode)
	r.Type = resultType
	r.ErrorMessage = errorMessage
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
