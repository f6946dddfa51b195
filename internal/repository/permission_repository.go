package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/workflow-service/internal/domain"
)

// PermissionRepository loads and mutates role-permission links. The read side
// backs the in-memory permission cache; the write side is used by the
// permission admin service, which invalidates the cache in the same logical
// operation.
type PermissionRepository interface {
	CapabilitiesByRole(ctx context.Context, roleID string) ([]domain.Capability, error)
	AllCapabilities(ctx context.Context) (map[string][]domain.Capability, error)
	SetRolePermission(ctx context.Context, roleID, permissionID string, active bool) error
}

type permissionRepository struct {
	pool *pgxpool.Pool
}

// NewPermissionRepository instantiates repository.
func NewPermissionRepository(pool *pgxpool.Pool) PermissionRepository {
	return &permissionRepository{pool: pool}
}

func (r *permissionRepository) CapabilitiesByRole(ctx context.Context, roleID string) ([]domain.Capability, error) {
	const query = `
        SELECT p.action, p.subject
        FROM role_permissions rp
        JOIN permissions p ON p.id = rp.permission_id
        WHERE rp.role_id=$1 AND rp.active AND p.active
        ORDER BY p.subject, p.action`
	rows, err := r.pool.Query(ctx, query, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var capabilities []domain.Capability
	for rows.Next() {
		var capability domain.Capability
		if err := rows.Scan(&capability.Action, &capability.Subject); err != nil {
			return nil, err
		}
		capabilities = append(capabilities, capability)
	}
	return capabilities, rows.Err()
}

func (r *permissionRepository) AllCapabilities(ctx context.Context) (map[string][]domain.Capability, error) {
	const query = `
        SELECT rp.role_id, p.action, p.subject
        FROM role_permissions rp
        JOIN permissions p ON p.id = rp.permission_id
        WHERE rp.active AND p.active
        ORDER BY rp.role_id, p.subject, p.action`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grouped := make(map[string][]domain.Capability)
	for rows.Next() {
		var (
			roleID     string
			capability domain.Capability
		)
		if err := rows.Scan(&roleID, &capability.Action, &capability.Subject); err != nil {
			return nil, err
		}
		grouped[roleID] = append(grouped[roleID], capability)
	}
	return grouped, rows.Err()
}

func (r *permissionRepository) SetRolePermission(ctx context.Context, roleID, permissionID string, active bool) error {
	const query = `
        INSERT INTO role_permissions (role_id, permission_id, active)
        VALUES ($1,$2,$3)
        ON CONFLICT (role_id, permission_id) DO UPDATE SET active=EXCLUDED.active`
	_, err := r.pool.Exec(ctx, query, roleID, permissionID, active)
	return err
}
