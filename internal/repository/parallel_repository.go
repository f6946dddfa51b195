package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/workflow-service/internal/domain"
	"github.com/spec-kit/workflow-service/internal/workflow"
)

// ParallelRepository is the pgx-backed workflow.ParallelStore. The join
// condition rides on a per-(ticket, step) outstanding counter; completion
// decrements it with a conditional UPDATE so that the "last branch done"
// observation happens at most once even under concurrent completions.
type ParallelRepository struct {
	pool *pgxpool.Pool
}

// NewParallelRepository instantiates repository.
func NewParallelRepository(pool *pgxpool.Pool) *ParallelRepository {
	return &ParallelRepository{pool: pool}
}

// CreateInstances inserts instances and the outstanding counter in one
// transaction.
func (r *ParallelRepository) CreateInstances(ctx context.Context, instances []*domain.ParallelInstance) error {
	if len(instances) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insertInstance = `
        INSERT INTO parallel_instances (ticket_id, step_id, assignee_user_id, completed)
        VALUES ($1,$2,$3,false)
        RETURNING id, created_at`
	for _, instance := range instances {
		if err := tx.QueryRow(ctx, insertInstance,
			instance.TicketID,
			instance.StepID,
			instance.AssigneeID,
		).Scan(&instance.ID, &instance.CreatedAt); err != nil {
			return err
		}
	}

	const insertProgress = `
        INSERT INTO parallel_progress (ticket_id, step_id, remaining)
        VALUES ($1,$2,$3)
        ON CONFLICT (ticket_id, step_id) DO UPDATE SET remaining=EXCLUDED.remaining`
	if _, err := tx.Exec(ctx, insertProgress, instances[0].TicketID, instances[0].StepID, len(instances)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CompleteInstance flags one branch complete and atomically decrements the
// outstanding counter. A repeated completion changes nothing and reports the
// current remaining count.
func (r *ParallelRepository) CompleteInstance(ctx context.Context, ticketID, stepID, assigneeID string) (int, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const flag = `
        UPDATE parallel_instances
        SET completed=true, completed_at=NOW()
        WHERE ticket_id=$1 AND step_id=$2 AND assignee_user_id=$3 AND NOT completed`
	cmd, err := tx.Exec(ctx, flag, ticketID, stepID, assigneeID)
	if err != nil {
		return 0, false, err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `
            SELECT EXISTS(SELECT 1 FROM parallel_instances WHERE ticket_id=$1 AND step_id=$2 AND assignee_user_id=$3)`,
			ticketID, stepID, assigneeID).Scan(&exists); err != nil {
			return 0, false, err
		}
		if !exists {
			return 0, false, workflow.ErrInstanceNotFound
		}
		var remaining int
		if err := tx.QueryRow(ctx, `
            SELECT remaining FROM parallel_progress WHERE ticket_id=$1 AND step_id=$2`,
			ticketID, stepID).Scan(&remaining); err != nil {
			return 0, false, err
		}
		return remaining, false, tx.Commit(ctx)
	}

	const decrement = `
        UPDATE parallel_progress
        SET remaining = remaining - 1
        WHERE ticket_id=$1 AND step_id=$2 AND remaining > 0
        RETURNING remaining`
	var remaining int
	if err := tx.QueryRow(ctx, decrement, ticketID, stepID).Scan(&remaining); err != nil {
		return 0, false, err
	}
	return remaining, true, tx.Commit(ctx)
}

// ListInstances returns the branches for (ticket, step).
func (r *ParallelRepository) ListInstances(ctx context.Context, ticketID, stepID string) ([]domain.ParallelInstance, error) {
	const query = `
        SELECT id, ticket_id, step_id, assignee_user_id, completed, created_at, completed_at
        FROM parallel_instances
        WHERE ticket_id=$1 AND step_id=$2
        ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, ticketID, stepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []domain.ParallelInstance
	for rows.Next() {
		var instance domain.ParallelInstance
		if err := rows.Scan(
			&instance.ID,
			&instance.TicketID,
			&instance.StepID,
			&instance.AssigneeID,
			&instance.Completed,
			&instance.CreatedAt,
			&instance.CompletedAt,
		); err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// DeleteInstances clears bookkeeping once the ticket leaves the step.
func (r *ParallelRepository) DeleteInstances(ctx context.Context, ticketID, stepID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM parallel_instances WHERE ticket_id=$1 AND step_id=$2`, ticketID, stepID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM parallel_progress WHERE ticket_id=$1 AND step_id=$2`, ticketID, stepID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
