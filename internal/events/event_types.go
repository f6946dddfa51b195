package events

import (
	"time"

	"github.com/spec-kit/workflow-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventStepAdvanced            EventType = "step_advanced"
	EventTicketAssigned          EventType = "ticket_assigned"
	EventTicketClosed            EventType = "ticket_closed"
	EventParallelBranchCompleted EventType = "parallel_branch_completed"
	EventRouteEntered            EventType = "route_entered"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type   domain.SubjectType `json:"type"`
	UserID *string            `json:"user_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// StepAdvancedPayload payload.
type StepAdvancedPayload struct {
	FromStepID  string     `json:"from_step_id"`
	ToStepID    string     `json:"to_step_id"`
	DecisionKey string     `json:"decision_key,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	StepID      string   `json:"step_id"`
	AssigneeIDs []string `json:"assignee_ids"`
	Parallel    bool     `json:"parallel"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	FromStepID  string `json:"from_step_id"`
	DecisionKey string `json:"decision_key,omitempty"`
}

// ParallelBranchCompletedPayload payload.
type ParallelBranchCompletedPayload struct {
	StepID      string `json:"step_id"`
	AssigneeID  string `json:"assignee_id"`
	AllComplete bool   `json:"all_complete"`
}

// RouteEnteredPayload payload.
type RouteEnteredPayload struct {
	RouteID string `json:"route_id"`
	Order   int    `json:"order"`
	StepID  string `json:"step_id"`
}
