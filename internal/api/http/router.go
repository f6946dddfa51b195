package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/workflow-service/internal/api/http/handlers"
	"github.com/spec-kit/workflow-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health          *handlers.HealthHandler
	Auth            *handlers.AuthHandler
	Workflow        *handlers.WorkflowHandler
	Permissions     *handlers.PermissionsHandler
	AuthMiddleware  *auth.AuthMiddleware
	PermissionCache *auth.PermissionCache
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/auth/login", cfg.Auth.Login)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	tickets.Get("/:id/decisions", cfg.Workflow.AvailableDecisions)
	tickets.Post("/:id/advance", auth.RequirePermission(cfg.PermissionCache, "transition", "ticket"), cfg.Workflow.Advance)
	tickets.Post("/:id/parallel/complete", auth.RequirePermission(cfg.PermissionCache, "transition", "ticket"), cfg.Workflow.CompleteParallel)

	workflow := app.Group("/workflow", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	workflow.Get("/subcategories/:id/initial-step", cfg.Workflow.InitialStep)

	permissions := app.Group("/permissions", cfg.AuthMiddleware.Handle, auth.RequirePermission(cfg.PermissionCache, "manage", "permission"))
	permissions.Put("/role-links", cfg.Permissions.SetRolePermission)
	permissions.Post("/cache/refresh", cfg.Permissions.Refresh)
	permissions.Delete("/cache/:roleId", cfg.Permissions.Invalidate)
	permissions.Get("/cache/status", cfg.Permissions.Status)
}
