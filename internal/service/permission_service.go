package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/workflow-service/internal/auth"
	"github.com/spec-kit/workflow-service/internal/repository"
	apperrors "github.com/spec-kit/workflow-service/pkg/util/errorutil"
)

// PermissionService administers role-permission links. Every mutation
// invalidates the affected role's cache slot before returning, so a
// successful write is never observable alongside a stale grant.
type PermissionService struct {
	permissions repository.PermissionRepository
	cache       *auth.PermissionCache
	logger      *zap.Logger
}

// NewPermissionService creates the service.
func NewPermissionService(permissions repository.PermissionRepository, cache *auth.PermissionCache, logger *zap.Logger) *PermissionService {
	return &PermissionService{permissions: permissions, cache: cache, logger: logger}
}

// SetRolePermission grants or revokes a permission for a role.
func (s *PermissionService) SetRolePermission(ctx context.Context, roleID, permissionID string, active bool) error {
	if roleID == "" || permissionID == "" {
		return apperrors.NewValidationError("role_id and permission_id are required", nil)
	}
	if err := s.permissions.SetRolePermission(ctx, roleID, permissionID, active); err != nil {
		return apperrors.MapError(err)
	}
	s.cache.Invalidate(roleID)
	s.logger.Info("role permission updated",
		zap.String("role_id", roleID),
		zap.String("permission_id", permissionID),
		zap.Bool("active", active))
	return nil
}

// Refresh replaces the whole cache with a fresh load.
func (s *PermissionService) Refresh(ctx context.Context) error {
	return s.cache.RefreshAll(ctx)
}

// Invalidate drops one role's cache slot.
func (s *PermissionService) Invalidate(roleID string) error {
	if roleID == "" {
		return apperrors.NewValidationError("role_id is required", nil)
	}
	s.cache.Invalidate(roleID)
	return nil
}

// Status exposes cache introspection.
func (s *PermissionService) Status() auth.CacheStatus {
	return s.cache.Status()
}
