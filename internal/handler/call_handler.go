package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/accountability-dispatch/internal/domain"
	"github.com/kursadbilgin/accountability-dispatch/internal/service"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 200
)

type CallDispatchService interface {
	DispatchByID(ctx context.Context, userID string, callType domain.CallType) (*service.DispatchResult, error)
}

type CallTrackingService interface {
	Acknowledge(ctx context.Context, callUUID string) (bool, error)
	Decline(ctx context.Context, callUUID string, reason domain.RetryReason) (bool, error)
	ListPending(ctx context.Context, limit int) ([]domain.CallAttempt, error)
	GetByUUID(ctx context.Context, callUUID string) (*domain.CallAttempt, error)
	Chain(ctx context.Context, callUUID string) ([]domain.CallAttempt, error)
}

type CallHandler struct {
	dispatcher CallDispatchService
	tracker    CallTrackingService
}

func NewCallHandler(dispatcher CallDispatchService, tracker CallTrackingService) (*CallHandler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("call dispatch service is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("call tracking service is required")
	}
	return &CallHandler{dispatcher: dispatcher, tracker: tracker}, nil
}

func RegisterCallRoutes(router fiber.Router, dispatcher CallDispatchService, tracker CallTrackingService) error {
	h, err := NewCallHandler(dispatcher, tracker)
	if err != nil {
		return err
	}

	router.Post("/trigger", h.Trigger)
	router.Post("/ack", h.Acknowledge)
	router.Post("/decline", h.Decline)

	debug := router.Group("/debug/calls")
	debug.Get("/pending", h.ListPending)
	debug.Get("/:uuid", h.GetCall)

	return nil
}

type triggerRequest struct {
	UserID   string `json:"userId"`
	CallType string `json:"callType"`
}

type triggerResponse struct {
	Success bool   `json:"success"`
	CallID  string `json:"callId"`
}

type ackRequest struct {
	CallUUID string `json:"callUUID"`
}

type declineRequest struct {
	CallUUID string `json:"callUUID"`
	Reason   string `json:"reason"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type callResponse struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	CallType           string     `json:"callType"`
	ConversationID     string     `json:"conversationId"`
	RootCallID         string     `json:"rootCallId"`
	Status             string     `json:"status"`
	Mood               string     `json:"mood,omitempty"`
	IsRetry            bool       `json:"isRetry"`
	RetryAttemptNumber int        `json:"retryAttemptNumber"`
	OriginalCallID     *string    `json:"originalCallId,omitempty"`
	RetryReason        string     `json:"retryReason,omitempty"`
	Urgency            string     `json:"urgency,omitempty"`
	Acknowledged       bool       `json:"acknowledged"`
	AcknowledgedAt     *time.Time `json:"acknowledgedAt,omitempty"`
	TimeoutAt          time.Time  `json:"timeoutAt"`
	CreatedAt          time.Time  `json:"createdAt"`
}

type pendingResponse struct {
	Data []callResponse `json:"data"`
}

type callDetailResponse struct {
	Call  callResponse   `json:"call"`
	Chain []callResponse `json:"chain"`
}

func (h *CallHandler) Trigger(c *fiber.Ctx) error {
	var req triggerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}

	callType, err := domain.ParseCallTypeFromString(req.CallType)
	if err != nil {
		return err
	}

	result, err := h.dispatcher.DispatchByID(c.Context(), req.UserID, callType)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(triggerResponse{
		Success: true,
		CallID:  result.CallUUID,
	})
}

func (h *CallHandler) Acknowledge(c *fiber.Ctx) error {
	var req ackRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	ok, err := h.tracker.Acknowledge(c.Context(), req.CallUUID)
	if err != nil {
		return err
	}
	return c.JSON(successResponse{Success: ok})
}

func (h *CallHandler) Decline(c *fiber.Ctx) error {
	var req declineRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	reason := domain.RetryReasonDeclined
	if strings.TrimSpace(req.Reason) != "" {
		parsed, err := domain.ParseRetryReasonFromString(req.Reason)
		if err != nil {
			return err
		}
		reason = parsed
	}

	ok, err := h.tracker.Decline(c.Context(), req.CallUUID, reason)
	if err != nil {
		return err
	}
	return c.JSON(successResponse{Success: ok})
}

func (h *CallHandler) ListPending(c *fiber.Ctx) error {
	limit := defaultPendingLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return fmt.Errorf("%w: limit must be a positive integer", domain.ErrValidation)
		}
		limit = min(parsed, maxPendingLimit)
	}

	calls, err := h.tracker.ListPending(c.Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(pendingResponse{Data: toCallResponses(calls)})
}

func (h *CallHandler) GetCall(c *fiber.Ctx) error {
	callUUID := c.Params("uuid")

	call, err := h.tracker.GetByUUID(c.Context(), callUUID)
	if err != nil {
		return err
	}
	chain, err := h.tracker.Chain(c.Context(), callUUID)
	if err != nil {
		return err
	}

	return c.JSON(callDetailResponse{
		Call:  toCallResponse(call),
		Chain: toCallResponses(chain),
	})
}

func toCallResponses(calls []domain.CallAttempt) []callResponse {
	out := make([]callResponse, 0, len(calls))
	for i := range calls {
		out = append(out, toCallResponse(&calls[i]))
	}
	return out
}

func toCallResponse(c *domain.CallAttempt) callResponse {
	resp := callResponse{
		ID:                 c.ID,
		UserID:             c.UserID,
		CallType:           c.CallType.String(),
		ConversationID:     c.ConversationID,
		RootCallID:         c.ChainRoot(),
		Status:             c.Status.String(),
		Mood:               c.Mood,
		IsRetry:            c.IsRetry,
		RetryAttemptNumber: c.RetryAttemptNumber,
		OriginalCallID:     c.OriginalCallID,
		Acknowledged:       c.Acknowledged,
		AcknowledgedAt:     c.AcknowledgedAt,
		TimeoutAt:          c.TimeoutAt,
		CreatedAt:          c.CreatedAt,
	}
	if c.RetryReason != nil {
		resp.RetryReason = c.RetryReason.String()
	}
	if c.Urgency != nil {
		resp.Urgency = c.Urgency.String()
	}
	return resp
}
