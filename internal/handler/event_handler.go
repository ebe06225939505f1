package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/service"
)

type EventService interface {
	SubmitEvent(ctx context.Context, event domain.Event) (*service.EventResult, error)
	PublishEvent(ctx context.Context, event domain.Event, correlationID string) (string, error)
}

type EventHandler struct {
	service EventService
}

func NewEventHandler(service EventService) (*EventHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("event service is required")
	}
	return &EventHandler{service: service}, nil
}

func RegisterEventRoutes(router fiber.Router, service EventService) error {
	h, err := NewEventHandler(service)
	if err != nil {
		return err
	}

	router.Group("/v1").Post("/events", h.SubmitEvent)
	return nil
}

type submitEventRequest struct {
	EventID    string         `json:"eventId"`
	UserID     string         `json:"userId"`
	EventType  string         `json:"eventType"`
	Payload    map[string]any `json:"payload"`
	OccurredAt *time.Time     `json:"occurredAt"`
}

type eventResultResponse struct {
	EventID  string            `json:"eventId"`
	Queued   bool              `json:"queued"`
	Outcomes []outcomeResponse `json:"outcomes"`
	Rejected int               `json:"rejected"`
	Skipped  int               `json:"skipped"`
}

// SubmitEvent evaluates rules inline, or hands the event to the queue when
// called with ?async=true.
func (h *EventHandler) SubmitEvent(c *fiber.Ctx) error {
	var body submitEventRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	event := domain.Event{
		ID:        strings.TrimSpace(body.EventID),
		UserID:    strings.TrimSpace(body.UserID),
		EventType: strings.TrimSpace(body.EventType),
		Payload:   body.Payload,
	}
	if body.OccurredAt != nil {
		event.OccurredAt = body.OccurredAt.UTC()
	}

	correlationID := requestCorrelationID(c)
	ctx := observability.WithCorrelationID(c.UserContext(), correlationID)

	if c.QueryBool("async", false) {
		eventID, err := h.service.PublishEvent(ctx, event, correlationID)
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(eventResultResponse{
			EventID:  eventID,
			Queued:   true,
			Outcomes: []outcomeResponse{},
		})
	}

	result, err := h.service.SubmitEvent(ctx, event)
	if err != nil {
		return toHTTPError(err)
	}

	outcomes := make([]outcomeResponse, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		outcomes = append(outcomes, toOutcomeResponse(o))
	}

	return c.Status(fiber.StatusOK).JSON(eventResultResponse{
		EventID:  result.EventID,
		Outcomes: outcomes,
		Rejected: result.Rejected,
		Skipped:  result.Skipped,
	})
}
