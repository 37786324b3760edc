package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/observability"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/repository"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

// Dispatcher authors drafts and fans them out.
type Dispatcher interface {
	CreateDraft(ctx context.Context, draft *domain.Draft) (*domain.Draft, error)
	SendDraft(ctx context.Context, draftID string, recipients []domain.Recipient) (*domain.Notification, error)
	Cancel(ctx context.Context, id string) error
}

// Reporter answers delivery-state queries and records survey responses.
type Reporter interface {
	GetReport(ctx context.Context, id string) (*service.Report, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	GetRecipientStatus(ctx context.Context, notificationID, recipientID string) (*domain.RecipientStatus, error)
	RecordResponse(ctx context.Context, notificationID, recipientID string, response domain.SurveyResponse) error
}

type NotificationHandler struct {
	dispatcher Dispatcher
	reporter   Reporter
	validator  *validator.Validate
}

func NewNotificationHandler(dispatcher Dispatcher, reporter Reporter) (*NotificationHandler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if reporter == nil {
		return nil, fmt.Errorf("reporter is required")
	}
	return &NotificationHandler{
		dispatcher: dispatcher,
		reporter:   reporter,
		validator:  validator.New(),
	}, nil
}

func RegisterNotificationRoutes(router fiber.Router, dispatcher Dispatcher, reporter Reporter) error {
	h, err := NewNotificationHandler(dispatcher, reporter)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/drafts", h.CreateDraft)
	v1.Post("/drafts/:id/send", h.SendDraft)
	v1.Get("/notifications", h.ListNotifications)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/cancel", h.CancelNotification)
	v1.Get("/notifications/:id/recipients/:recipientId", h.GetRecipientStatus)
	v1.Post("/notifications/:id/recipients/:recipientId/response", h.RecordResponse)

	return nil
}

type createDraftRequest struct {
	Title      string     `json:"title" validate:"required,max=200"`
	Content    string     `json:"content" validate:"required"`
	CreatedBy  string     `json:"createdBy" validate:"max=255"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
}

type recipientRequest struct {
	RecipientID    string `json:"recipientId"`
	ConversationID string `json:"conversationId,omitempty"`
	ServiceURL     string `json:"serviceUrl,omitempty" validate:"omitempty,url"`
	Kind           string `json:"recipientKind"`
}

// Recipient identity is checked by the service; an invalid entry becomes a warning on the aggregate.
type sendDraftRequest struct {
	Recipients []recipientRequest `json:"recipients" validate:"max=100000,dive"`
}

type surveyResponseRequest struct {
	Reaction *string `json:"reaction,omitempty" validate:"omitempty,max=100"`
	FreeText *string `json:"freeText,omitempty" validate:"omitempty,max=4000"`
	YesNo    *bool   `json:"yesNo,omitempty"`
}

type draftResponse struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	CreatedBy  string     `json:"createdBy,omitempty"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
	CreatedAt  time.Time  `json:"createdAt,omitempty"`
}

type notificationResponse struct {
	ID                     string     `json:"id"`
	Title                  string     `json:"title"`
	Content                string     `json:"content"`
	CreatedBy              string     `json:"createdBy,omitempty"`
	Status                 string     `json:"status"`
	SucceededCount         int        `json:"succeededCount"`
	FailedCount            int        `json:"failedCount"`
	ThrottledCount         int        `json:"throttledCount"`
	TotalRecipientCount    int        `json:"totalRecipientCount"`
	SendingStartedAt       *time.Time `json:"sendingStartedAt,omitempty"`
	SentAt                 *time.Time `json:"sentAt,omitempty"`
	ErrorMessage           *string    `json:"errorMessage,omitempty"`
	WarningMessage         *string    `json:"warningMessage,omitempty"`
	IsExpirySet            bool       `json:"isExpirySet"`
	ExpiryDate             *time.Time `json:"expiryDate,omitempty"`
	IsExpiredContentErased bool       `json:"isExpiredContentErased"`
	CreatedAt              time.Time  `json:"createdAt,omitempty"`
	UpdatedAt              time.Time  `json:"updatedAt,omitempty"`
}

type reportResponse struct {
	notificationResponse
	PendingCount int64 `json:"pendingCount"`
}

type recipientStatusResponse struct {
	NotificationID     string     `json:"notificationId"`
	RecipientID        string     `json:"recipientId"`
	Kind               string     `json:"recipientKind"`
	ConversationID     *string    `json:"conversationId,omitempty"`
	ActivityID         *string    `json:"activityId,omitempty"`
	StatusCode         int        `json:"statusCode"`
	StatusCodeHistory  []int      `json:"statusCodeHistory"`
	TotalThrottleCount int        `json:"totalThrottleCount"`
	DeliveryCount      int        `json:"deliveryCount"`
	ErrorMessage       *string    `json:"errorMessage,omitempty"`
	SentAt             *time.Time `json:"sentAt,omitempty"`
	ReactionResult     *string    `json:"reaction,omitempty"`
	FreeTextResult     *string    `json:"freeText,omitempty"`
	YesNoResult        *bool      `json:"yesNo,omitempty"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *NotificationHandler) CreateDraft(c *fiber.Ctx) error {
	var req createDraftRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	draft := &domain.Draft{
		Title:     req.Title,
		Content:   req.Content,
		CreatedBy: req.CreatedBy,
	}
	if req.ExpiryDate != nil {
		expiry := req.ExpiryDate.UTC()
		draft.Expiry = domain.Expiry{IsExpirySet: true, ExpiryDate: &expiry}
	}

	created, err := h.dispatcher.CreateDraft(requestContext(c), draft)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toDraftResponse(created))
}

func (h *NotificationHandler) SendDraft(c *fiber.Ctx) error {
	var req sendDraftRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	recipients := make([]domain.Recipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		recipients = append(recipients, domain.Recipient{
			RecipientID:    strings.TrimSpace(r.RecipientID),
			ConversationID: strings.TrimSpace(r.ConversationID),
			ServiceURL:     strings.TrimSpace(r.ServiceURL),
			Kind:           domain.RecipientKind(strings.ToUpper(strings.TrimSpace(r.Kind))),
		})
	}

	notification, err := h.dispatcher.SendDraft(requestContext(c), strings.TrimSpace(c.Params("id")), recipients)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	report, err := h.reporter.GetReport(requestContext(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(reportResponse{
		notificationResponse: toNotificationResponse(report.Notification),
		PendingCount:         report.PendingCount,
	})
}

func (h *NotificationHandler) CancelNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.dispatcher.Cancel(requestContext(c), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"status":         domain.StatusCanceled.String(),
	})
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.reporter.List(requestContext(c), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		data = append(data, toNotificationResponse(&notifications[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *NotificationHandler) GetRecipientStatus(c *fiber.Ctx) error {
	status, err := h.reporter.GetRecipientStatus(
		requestContext(c),
		strings.TrimSpace(c.Params("id")),
		strings.TrimSpace(c.Params("recipientId")),
	)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toRecipientStatusResponse(status))
}

func (h *NotificationHandler) RecordResponse(c *fiber.Ctx) error {
	var req surveyResponseRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	response := domain.SurveyResponse{
		Reaction: req.Reaction,
		FreeText: req.FreeText,
		YesNo:    req.YesNo,
	}
	err := h.reporter.RecordResponse(
		requestContext(c),
		strings.TrimSpace(c.Params("id")),
		strings.TrimSpace(c.Params("recipientId")),
		response,
	)
	if err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *NotificationHandler) parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(out); err != nil {
		return toHTTPError(validationError(err))
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(parts, "; "))
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	return params, nil
}

func toDraftResponse(d *domain.Draft) draftResponse {
	if d == nil {
		return draftResponse{}
	}
	return draftResponse{
		ID:         d.ID,
		Title:      d.Title,
		Content:    d.Content,
		CreatedBy:  d.CreatedBy,
		ExpiryDate: d.Expiry.ExpiryDate,
		CreatedAt:  d.CreatedAt,
	}
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:                     n.ID,
		Title:                  n.Title,
		Content:                n.Content,
		CreatedBy:              n.CreatedBy,
		Status:                 n.Status.String(),
		SucceededCount:         n.SucceededCount,
		FailedCount:            n.FailedCount,
		ThrottledCount:         n.ThrottledCount,
		TotalRecipientCount:    n.TotalRecipientCount,
		SendingStartedAt:       n.SendingStartedAt,
		SentAt:                 n.SentAt,
		ErrorMessage:           n.ErrorMessage,
		WarningMessage:         n.WarningMessage,
		IsExpirySet:            n.Expiry.IsExpirySet,
		ExpiryDate:             n.Expiry.ExpiryDate,
		IsExpiredContentErased: n.Expiry.IsExpiredContentErased,
		CreatedAt:              n.CreatedAt,
		UpdatedAt:              n.UpdatedAt,
	}
}

func toRecipientStatusResponse(r *domain.RecipientStatus) recipientStatusResponse {
	if r == nil {
		return recipientStatusResponse{}
	}

	history := r.StatusCodeHistory
	if history == nil {
		history = []int{}
	}

	return recipientStatusResponse{
		NotificationID:     r.NotificationID,
		RecipientID:        r.RecipientID,
		Kind:               r.Kind.String(),
		ConversationID:     r.ConversationID,
		ActivityID:         r.ActivityID,
		StatusCode:         r.LastStatusCode,
		StatusCodeHistory:  history,
		TotalThrottleCount: r.TotalThrottleCount,
		DeliveryCount:      r.DeliveryCount,
		ErrorMessage:       r.ErrorMessage,
		SentAt:             r.SentAt,
		ReactionResult:     r.ReactionResult,
		FreeTextResult:     r.FreeTextResult,
		YesNoResult:        r.YesNoResult,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}

// requestContext carries the request id assigned by the requestid middleware into service calls,
// where it becomes the correlation id of every dispatch job the request produces.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()

	requestID := c.GetRespHeader(fiber.HeaderXRequestID)
	if requestID == "" {
		requestID = c.Get(fiber.HeaderXRequestID)
	}
	return observability.WithCorrelationID(ctx, requestID)
}
