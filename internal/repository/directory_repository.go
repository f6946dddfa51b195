package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/workflow-service/internal/domain"
)

// DirectoryRepository is the org-directory lookup: users by role and scope,
// org-chart superiors, and single-user fetches for authentication.
type DirectoryRepository interface {
	UsersByRole(ctx context.Context, roleID string, regionID *string) ([]domain.DirectoryUser, error)
	SuperiorOf(ctx context.Context, positionID string) ([]domain.DirectoryUser, error)
	GetUser(ctx context.Context, userID string) (*domain.DirectoryUser, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.DirectoryUser, error)
}

type directoryRepository struct {
	pool *pgxpool.Pool
}

// NewDirectoryRepository instantiates repository.
func NewDirectoryRepository(pool *pgxpool.Pool) DirectoryRepository {
	return &directoryRepository{pool: pool}
}

const userColumns = `
        id, name, email, role_id, password_hash, region_id, national, position_id, active`

// UsersByRole returns active holders of roleID. With a region, users must
// either share it or be flagged national; with nil region no scope filter
// applies (national tasks).
func (r *directoryRepository) UsersByRole(ctx context.Context, roleID string, regionID *string) ([]domain.DirectoryUser, error) {
	query := `
        SELECT ` + userColumns + `
        FROM directory_users
        WHERE role_id=$1 AND active`
	args := []any{roleID}
	if regionID != nil {
		query += ` AND (region_id=$2 OR national)`
		args = append(args, *regionID)
	}
	query += ` ORDER BY name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (r *directoryRepository) SuperiorOf(ctx context.Context, positionID string) ([]domain.DirectoryUser, error) {
	const query = `
        SELECT ` + userColumns + `
        FROM directory_users
        WHERE active AND position_id = (
            SELECT superior_id FROM positions WHERE id=$1
        )
        ORDER BY name`
	rows, err := r.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (r *directoryRepository) GetUser(ctx context.Context, userID string) (*domain.DirectoryUser, error) {
	const query = `
        SELECT ` + userColumns + `
        FROM directory_users WHERE id=$1`
	return r.fetchUser(ctx, query, userID)
}

func (r *directoryRepository) GetUserByEmail(ctx context.Context, email string) (*domain.DirectoryUser, error) {
	const query = `
        SELECT ` + userColumns + `
        FROM directory_users WHERE email=$1`
	return r.fetchUser(ctx, query, email)
}

func (r *directoryRepository) fetchUser(ctx context.Context, query string, arg any) (*domain.DirectoryUser, error) {
	var user domain.DirectoryUser
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.RoleID,
		&user.PasswordHash,
		&user.RegionID,
		&user.National,
		&user.PositionID,
		&user.Active,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

func scanUsers(rows pgx.Rows) ([]domain.DirectoryUser, error) {
	var users []domain.DirectoryUser
	for rows.Next() {
		var user domain.DirectoryUser
		if err := rows.Scan(
			&user.ID,
			&user.Name,
			&user.Email,
			&user.RoleID,
			&user.PasswordHash,
			&user.RegionID,
			&user.National,
			&user.PositionID,
			&user.Active,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
