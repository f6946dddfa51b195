package dto

import (
	"time"

	"github.com/spec-kit/workflow-service/internal/domain"
	"github.com/spec-kit/workflow-service/internal/workflow"
)

// AdvanceTicketRequest payload.
type AdvanceTicketRequest struct {
	DecisionKey string   `json:"decision_key"`
	Assignees   []string `json:"assignees,omitempty"`
}

// DecisionOption response item for decision UIs.
type DecisionOption struct {
	DecisionKey  string `json:"decision_key"`
	Label        string `json:"label"`
	ClosesTicket bool   `json:"closes_ticket"`
}

// TicketStateView response.
type TicketStateView struct {
	ID             string     `json:"id"`
	CurrentStepID  string     `json:"current_step_id"`
	CurrentRouteID *string    `json:"current_route_id,omitempty"`
	RouteOrder     *int       `json:"route_order,omitempty"`
	AssigneeIDs    []string   `json:"assignee_ids"`
	Status         string     `json:"status"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// ParallelCompletionView response.
type ParallelCompletionView struct {
	Advanced bool            `json:"advanced"`
	Ticket   TicketStateView `json:"ticket"`
}

// SetRolePermissionRequest payload.
type SetRolePermissionRequest struct {
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
	Active       bool   `json:"active"`
}

// CacheStatusView response.
type CacheStatusView struct {
	RoleCount   int        `json:"role_count"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
}

// LoginRequest payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse payload.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTicketStateView maps the domain projection.
func NewTicketStateView(ticket *domain.TicketState) TicketStateView {
	return TicketStateView{
		ID:             ticket.ID,
		CurrentStepID:  ticket.CurrentStepID,
		CurrentRouteID: ticket.CurrentRouteID,
		RouteOrder:     ticket.RouteOrder,
		AssigneeIDs:    ticket.AssigneeIDs,
		Status:         string(ticket.Status),
		DueAt:          ticket.DueAt,
		ClosedAt:       ticket.ClosedAt,
	}
}

// NewDecisionOptions maps navigator decisions.
func NewDecisionOptions(decisions []workflow.Decision) []DecisionOption {
	options := make([]DecisionOption, 0, len(decisions))
	for _, decision := range decisions {
		options = append(options, DecisionOption{
			DecisionKey:  decision.DecisionKey,
			Label:        decision.Label,
			ClosesTicket: decision.ClosesTicket,
		})
	}
	return options
}
