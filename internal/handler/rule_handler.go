package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-engine/internal/domain"
)

type RuleService interface {
	Create(ctx context.Context, r *domain.Rule) (*domain.Rule, error)
	Get(ctx context.Context, id string) (*domain.Rule, error)
	Deactivate(ctx context.Context, id string) (int, error)
}

type RuleHandler struct {
	service RuleService
}

func NewRuleHandler(service RuleService) (*RuleHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("rule service is required")
	}
	return &RuleHandler{service: service}, nil
}

func RegisterRuleRoutes(router fiber.Router, service RuleService) error {
	h, err := NewRuleHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/rules", h.CreateRule)
	v1.Get("/rules/:id", h.GetRule)
	v1.Post("/rules/:id/deactivate", h.DeactivateRule)

	return nil
}

type createRuleRequest struct {
	Name              string `json:"name"`
	EventType         string `json:"eventType"`
	TriggerCondition  string `json:"triggerCondition"`
	TimeWindowMinutes *int   `json:"timeWindowMinutes,omitempty"`
	MessageTemplate   string `json:"messageTemplate"`
	Channel           string `json:"channel"`
	Priority          string `json:"priority"`
}

type ruleResponse struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	EventType         string    `json:"eventType"`
	TriggerCondition  string    `json:"triggerCondition"`
	TimeWindowMinutes *int      `json:"timeWindowMinutes,omitempty"`
	MessageTemplate   string    `json:"messageTemplate"`
	Channel           string    `json:"channel"`
	Priority          string    `json:"priority"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"createdAt,omitempty"`
}

func (h *RuleHandler) CreateRule(c *fiber.Ctx) error {
	var body createRuleRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	channel, err := domain.ParseChannelFromString(body.Channel)
	if err != nil {
		return toHTTPError(err)
	}
	priority, err := domain.ParsePriorityFromString(body.Priority)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Create(c.UserContext(), &domain.Rule{
		Name:              body.Name,
		EventType:         body.EventType,
		TriggerCondition:  body.TriggerCondition,
		TimeWindowMinutes: body.TimeWindowMinutes,
		MessageTemplate:   body.MessageTemplate,
		Channel:           channel,
		Priority:          priority,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toRuleResponse(created))
}

func (h *RuleHandler) GetRule(c *fiber.Ctx) error {
	r, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRuleResponse(r))
}

func (h *RuleHandler) DeactivateRule(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	cancelled, err := h.service.Deactivate(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ruleId":           id,
		"active":           false,
		"cancelledRetries": cancelled,
	})
}

func toRuleResponse(r *domain.Rule) ruleResponse {
	if r == nil {
		return ruleResponse{}
	}

	return ruleResponse{
		ID:                r.ID,
		Name:              r.Name,
		EventType:         r.EventType,
		TriggerCondition:  r.TriggerCondition,
		TimeWindowMinutes: r.TimeWindowMinutes,
		MessageTemplate:   r.MessageTemplate,
		Channel:           r.Channel.String(),
		Priority:          r.Priority.String(),
		Active:            r.Active,
		CreatedAt:         r.CreatedAt,
	}
}
