package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/repository"
	"github.com/kursadbilgin/notification-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type NotificationService interface {
	Send(ctx context.Context, req domain.SendRequest) (*service.DispatchOutcome, error)
	GetRecord(ctx context.Context, id string) (*domain.Notification, error)
	GetAttempts(ctx context.Context, id string) ([]domain.NotificationAttempt, error)
	ListRecords(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	CancelRetry(ctx context.Context, id string) (*domain.Notification, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.SendNotification)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/cancel", h.CancelNotification)
	v1.Get("/notifications", h.ListNotifications)

	return nil
}

type sendNotificationRequest struct {
	UserID   string `json:"userId"`
	Channel  string `json:"channel"`
	Priority string `json:"priority"`
	Message  string `json:"message"`
}

type outcomeResponse struct {
	NotificationID string     `json:"notificationId"`
	Channel        string     `json:"channel"`
	Status         string     `json:"status"`
	Outcome        string     `json:"outcome"`
	AttemptsMade   int        `json:"attemptsMade"`
	NextAttemptAt  *time.Time `json:"nextAttemptAt,omitempty"`
	LastError      *string    `json:"lastError,omitempty"`
}

type notificationResponse struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	RuleID       *string           `json:"ruleId,omitempty"`
	EventID      *string           `json:"eventId,omitempty"`
	Channel      string            `json:"channel"`
	Priority     string            `json:"priority"`
	Recipient    string            `json:"recipient"`
	Message      string            `json:"message"`
	Status       string            `json:"status"`
	AttemptsMade int               `json:"attemptsMade"`
	MaxAttempts  int               `json:"maxAttempts"`
	LastError    *string           `json:"lastError,omitempty"`
	Attempts     []attemptResponse `json:"attempts,omitempty"`
	CreatedAt    time.Time         `json:"createdAt,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt,omitempty"`
}

type attemptResponse struct {
	AttemptNumber     int       `json:"attemptNumber"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	Error             *string   `json:"error,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
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

// SendNotification dispatches synchronously and reports the first outcome.
// A suppressed or retry-scheduled send is still a 202.
func (h *NotificationHandler) SendNotification(c *fiber.Ctx) error {
	var body sendNotificationRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	req, err := toSendRequest(body)
	if err != nil {
		return toHTTPError(err)
	}

	outcome, err := h.service.Send(c.UserContext(), req)
	if err != nil {
		return toHTTPError(err)
	}

	status := fiber.StatusAccepted
	if outcome.Kind == service.OutcomeSent {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(toOutcomeResponse(outcome))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.service.GetRecord(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	attempts, err := h.service.GetAttempts(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	resp := toNotificationResponse(notification)
	resp.Attempts = toAttemptResponses(attempts)
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *NotificationHandler) CancelNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	cancelled, err := h.service.CancelRetry(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(cancelled))
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.service.ListRecords(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
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

	if userID := strings.TrimSpace(c.Query("userId")); userID != "" {
		params.UserID = &userID
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

// toSendRequest leaves the channel empty when the body omits it so the engine
// falls back to the user's preferred channel.
func toSendRequest(body sendNotificationRequest) (domain.SendRequest, error) {
	var channel domain.Channel
	if strings.TrimSpace(body.Channel) != "" {
		parsed, err := domain.ParseChannelFromString(body.Channel)
		if err != nil {
			return domain.SendRequest{}, err
		}
		channel = parsed
	}

	priority, err := domain.ParsePriorityFromString(body.Priority)
	if err != nil {
		return domain.SendRequest{}, err
	}

	return domain.SendRequest{
		UserID:   strings.TrimSpace(body.UserID),
		Channel:  channel,
		Priority: priority,
		Message:  body.Message,
	}, nil
}

func toOutcomeResponse(o *service.DispatchOutcome) outcomeResponse {
	if o == nil {
		return outcomeResponse{}
	}

	return outcomeResponse{
		NotificationID: o.RecordID,
		Channel:        o.Channel.String(),
		Status:         o.Status.String(),
		Outcome:        string(o.Kind),
		AttemptsMade:   o.AttemptsMade,
		NextAttemptAt:  o.NextAttemptAt,
		LastError:      o.LastError,
	}
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		responses = append(responses, toNotificationResponse(&notifications[i]))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:           n.ID,
		UserID:       n.UserID,
		RuleID:       n.RuleID,
		EventID:      n.EventID,
		Channel:      n.Channel.String(),
		Priority:     n.Priority.String(),
		Recipient:    n.Recipient,
		Message:      n.Message,
		Status:       n.Status.String(),
		AttemptsMade: n.AttemptsMade,
		MaxAttempts:  n.MaxAttempts,
		LastError:    n.LastError,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
}

func toAttemptResponses(attempts []domain.NotificationAttempt) []attemptResponse {
	if len(attempts) == 0 {
		return nil
	}

	responses := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		responses = append(responses, attemptResponse{
			AttemptNumber:     a.AttemptNumber,
			ProviderMessageID: a.ProviderMessageID,
			Error:             a.Error,
			CreatedAt:         a.CreatedAt,
		})
	}
	return responses
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateRetry):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
