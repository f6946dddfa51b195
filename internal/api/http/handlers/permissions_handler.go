package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/workflow-service/internal/api/dto"
	"github.com/spec-kit/workflow-service/internal/service"
	apperrors "github.com/spec-kit/workflow-service/pkg/util/errorutil"
)

// PermissionsHandler administers the role-permission cache.
type PermissionsHandler struct {
	permissions *service.PermissionService
}

// NewPermissionsHandler constructs handler.
func NewPermissionsHandler(permissions *service.PermissionService) *PermissionsHandler {
	return &PermissionsHandler{permissions: permissions}
}

// SetRolePermission PUT /permissions/role-links.
func (h *PermissionsHandler) SetRolePermission(c *fiber.Ctx) error {
	var req dto.SetRolePermissionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := h.permissions.SetRolePermission(c.Context(), req.RoleID, req.PermissionID, req.Active); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Refresh POST /permissions/cache/refresh.
func (h *PermissionsHandler) Refresh(c *fiber.Ctx) error {
	if err := h.permissions.Refresh(c.Context()); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Invalidate DELETE /permissions/cache/:roleId.
func (h *PermissionsHandler) Invalidate(c *fiber.Ctx) error {
	if err := h.permissions.Invalidate(c.Params("roleId")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Status GET /permissions/cache/status.
func (h *PermissionsHandler) Status(c *fiber.Ctx) error {
	status := h.permissions.Status()
	view := dto.CacheStatusView{RoleCount: status.RoleCount}
	if !status.LastRefresh.IsZero() {
		refreshedAt := status.LastRefresh.UTC().Truncate(time.Second)
		view.LastRefresh = &refreshedAt
	}
	return c.JSON(fiber.Map{"data": view})
}
