package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/workflow-service/internal/api/dto"
	"github.com/spec-kit/workflow-service/internal/auth"
	"github.com/spec-kit/workflow-service/internal/service"
	apperrors "github.com/spec-kit/workflow-service/pkg/util/errorutil"
)

// WorkflowHandler exposes ticket transition endpoints.
type WorkflowHandler struct {
	advancement *service.AdvancementService
}

// NewWorkflowHandler constructs handler.
func NewWorkflowHandler(advancement *service.AdvancementService) *WorkflowHandler {
	return &WorkflowHandler{advancement: advancement}
}

// AvailableDecisions GET /tickets/:id/decisions.
func (h *WorkflowHandler) AvailableDecisions(c *fiber.Ctx) error {
	decisions, err := h.advancement.AvailableDecisions(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDecisionOptions(decisions)})
}

// Advance POST /tickets/:id/advance.
func (h *WorkflowHandler) Advance(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.AdvanceTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.advancement.AdvanceTicket(c.Context(), principal.User, c.Params("id"), req.DecisionKey, req.Assignees)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketStateView(ticket)})
}

// CompleteParallel POST /tickets/:id/parallel/complete.
func (h *WorkflowHandler) CompleteParallel(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("user required")
	}
	ticket, advanced, err := h.advancement.CompleteParallelAssignment(c.Context(), principal.User, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ParallelCompletionView{
		Advanced: advanced,
		Ticket:   dto.NewTicketStateView(ticket),
	}})
}

// InitialStep GET /workflow/subcategories/:id/initial-step.
func (h *WorkflowHandler) InitialStep(c *fiber.Ctx) error {
	step, err := h.advancement.InitialStep(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"data": fiber.Map{
		"step_id":        step.ID,
		"name":           step.Name,
		"business_hours": step.BusinessHours,
		"is_parallel":    step.IsParallel,
	}})
}
