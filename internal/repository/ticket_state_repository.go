package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/workflow-service/internal/domain"
)

// TicketStateRepository reads and writes the workflow projection of tickets.
type TicketStateRepository interface {
	GetByID(ctx context.Context, id string) (*domain.TicketState, error)
	// Advance persists the ticket's new navigation state if and only if the
	// stored current step still equals expectedStepID. Returns false when a
	// concurrent request advanced the ticket first.
	Advance(ctx context.Context, ticket *domain.TicketState, expectedStepID string) (bool, error)
}

type ticketStateRepository struct {
	pool *pgxpool.Pool
}

// NewTicketStateRepository instantiates repository.
func NewTicketStateRepository(pool *pgxpool.Pool) TicketStateRepository {
	return &ticketStateRepository{pool: pool}
}

func (r *ticketStateRepository) GetByID(ctx context.Context, id string) (*domain.TicketState, error) {
	const query = `
        SELECT id, subcategory_id, creator_user_id, current_step_id, current_route_id,
               route_order, assignee_user_ids, assigner_user_id, status, due_at,
               created_at, updated_at, closed_at
        FROM ticket_states WHERE id=$1`
	var (
		ticket      domain.TicketState
		assigneeCSV *string
	)
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.SubcategoryID,
		&ticket.CreatorID,
		&ticket.CurrentStepID,
		&ticket.CurrentRouteID,
		&ticket.RouteOrder,
		&assigneeCSV,
		&ticket.AssignerID,
		&ticket.Status,
		&ticket.DueAt,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	ticket.AssigneeIDs = splitAssignees(assigneeCSV)
	return &ticket, nil
}

func (r *ticketStateRepository) Advance(ctx context.Context, ticket *domain.TicketState, expectedStepID string) (bool, error) {
	const query = `
        UPDATE ticket_states
        SET current_step_id=$1, current_route_id=$2, route_order=$3,
            assignee_user_ids=$4, assigner_user_id=$5, status=$6, due_at=$7,
            closed_at=$8, updated_at=NOW()
        WHERE id=$9 AND current_step_id=$10 AND status <> 'CLOSED'`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.CurrentStepID,
		ticket.CurrentRouteID,
		ticket.RouteOrder,
		joinAssignees(ticket.AssigneeIDs),
		ticket.AssignerID,
		ticket.Status,
		ticket.DueAt,
		ticket.ClosedAt,
		ticket.ID,
		expectedStepID,
	)
	if err != nil {
		return false, err
	}
	if cmd.RowsAffected() == 0 {
		// Distinguish "raced" from "gone".
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM ticket_states WHERE id=$1)`, ticket.ID).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, pgx.ErrNoRows
		}
		return false, nil
	}
	ticket.UpdatedAt = time.Now()
	return true, nil
}

// The ticket store still carries the legacy delimited assignee column. The
// translation lives here, at the storage boundary; the domain model only ever
// sees []string.

func splitAssignees(csv *string) []string {
	if csv == nil || strings.TrimSpace(*csv) == "" {
		return nil
	}
	parts := strings.Split(*csv, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

func joinAssignees(ids []string) *string {
	if len(ids) == 0 {
		return nil
	}
	joined := strings.Join(ids, ",")
	return &joined
}
