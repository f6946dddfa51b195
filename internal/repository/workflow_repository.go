package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/workflow-service/internal/domain"
)

// Legacy encoding: rows backfilled from the PHP-era schema store the
// "immediate boss" assignment as assigned_role_id = '-1'.
const legacyBossSentinel = "-1"

// WorkflowRepository loads workflow configuration. Configuration is read-only
// from the engine's perspective; editing happens in the admin service.
type WorkflowRepository interface {
	GetFlowBySubcategory(ctx context.Context, subcategoryID string) (*domain.Flow, error)
	GetFlow(ctx context.Context, flowID string) (*domain.Flow, error)
	ListSteps(ctx context.Context, flowID string) ([]*domain.Step, error)
	ListTransitions(ctx context.Context, flowID string) ([]*domain.Transition, error)
	ListRoutes(ctx context.Context, flowID string) ([]*domain.Route, error)
}

type workflowRepository struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepository instantiates repository.
func NewWorkflowRepository(pool *pgxpool.Pool) WorkflowRepository {
	return &workflowRepository{pool: pool}
}

func (r *workflowRepository) GetFlowBySubcategory(ctx context.Context, subcategoryID string) (*domain.Flow, error) {
	const query = `
        SELECT id, name, subcategory_id, observer_user_id, status, created_at, updated_at
        FROM flows WHERE subcategory_id=$1 AND status='ACTIVE'`
	return r.fetchFlow(ctx, query, subcategoryID)
}

func (r *workflowRepository) GetFlow(ctx context.Context, flowID string) (*domain.Flow, error) {
	const query = `
        SELECT id, name, subcategory_id, observer_user_id, status, created_at, updated_at
        FROM flows WHERE id=$1`
	return r.fetchFlow(ctx, query, flowID)
}

func (r *workflowRepository) fetchFlow(ctx context.Context, query string, arg any) (*domain.Flow, error) {
	var flow domain.Flow
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&flow.ID,
		&flow.Name,
		&flow.SubcategoryID,
		&flow.ObserverUserID,
		&flow.Status,
		&flow.CreatedAt,
		&flow.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &flow, nil
}

func (r *workflowRepository) ListSteps(ctx context.Context, flowID string) ([]*domain.Step, error) {
	const query = `
        SELECT id, flow_id, order_index, name, description, business_hours,
               assigned_role_id, requires_manual_selection, is_national_task,
               requires_approval, allows_closing, requires_boss_approval,
               is_parallel, requires_signature, assign_to_creator,
               boss_reference_field_id, created_at, updated_at
        FROM flow_steps WHERE flow_id=$1 ORDER BY order_index`
	rows, err := r.pool.Query(ctx, query, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*domain.Step
	for rows.Next() {
		var step domain.Step
		if err := rows.Scan(
			&step.ID,
			&step.FlowID,
			&step.OrderIndex,
			&step.Name,
			&step.Description,
			&step.BusinessHours,
			&step.AssignedRoleID,
			&step.RequiresManualSelection,
			&step.IsNationalTask,
			&step.RequiresApproval,
			&step.AllowsClosing,
			&step.RequiresBossApproval,
			&step.IsParallel,
			&step.RequiresSignature,
			&step.AssignToCreator,
			&step.BossReferenceFieldID,
			&step.CreatedAt,
			&step.UpdatedAt,
		); err != nil {
			return nil, err
		}
		// Translate the legacy sentinel into the explicit hierarchical
		// strategy before the domain ever sees it.
		if step.AssignedRoleID != nil && *step.AssignedRoleID == legacyBossSentinel {
			step.AssignedRoleID = nil
			step.Hierarchical = true
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

func (r *workflowRepository) ListTransitions(ctx context.Context, flowID string) ([]*domain.Transition, error) {
	const query = `
        SELECT t.id, t.origin_step_id, t.destination_step_id, t.destination_route_id,
               t.decision_key, t.label, t.closes_ticket, t.order_index
        FROM flow_transitions t
        JOIN flow_steps s ON s.id = t.origin_step_id
        WHERE s.flow_id=$1
        ORDER BY t.origin_step_id, t.order_index`
	rows, err := r.pool.Query(ctx, query, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []*domain.Transition
	for rows.Next() {
		var tr domain.Transition
		if err := rows.Scan(
			&tr.ID,
			&tr.OriginStepID,
			&tr.DestinationStepID,
			&tr.DestinationRouteID,
			&tr.DecisionKey,
			&tr.Label,
			&tr.ClosesTicket,
			&tr.OrderIndex,
		); err != nil {
			return nil, err
		}
		transitions = append(transitions, &tr)
	}
	return transitions, rows.Err()
}

func (r *workflowRepository) ListRoutes(ctx context.Context, flowID string) ([]*domain.Route, error) {
	const query = `
        SELECT id, flow_id, name FROM flow_routes WHERE flow_id=$1`
	rows, err := r.pool.Query(ctx, query, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*domain.Route)
	var routes []*domain.Route
	for rows.Next() {
		var route domain.Route
		if err := rows.Scan(&route.ID, &route.FlowID, &route.Name); err != nil {
			return nil, err
		}
		byID[route.ID] = &route
		routes = append(routes, &route)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const stepQuery = `
        SELECT rs.route_id, rs.step_id, rs.order_index
        FROM flow_route_steps rs
        JOIN flow_routes r ON r.id = rs.route_id
        WHERE r.flow_id=$1
        ORDER BY rs.route_id, rs.order_index`
	stepRows, err := r.pool.Query(ctx, stepQuery, flowID)
	if err != nil {
		return nil, err
	}
	defer stepRows.Close()

	for stepRows.Next() {
		var rs domain.RouteStep
		if err := stepRows.Scan(&rs.RouteID, &rs.StepID, &rs.OrderIndex); err != nil {
			return nil, err
		}
		if route, ok := byID[rs.RouteID]; ok {
			route.Steps = append(route.Steps, rs)
		}
	}
	return routes, stepRows.Err()
}

// ErrNoRows re-exports the pgx sentinel so services can branch on missing
// configuration without importing pgx.
var ErrNoRows = pgx.ErrNoRows
