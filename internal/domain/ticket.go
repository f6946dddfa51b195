package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "OPEN"
	TicketStatusPaused TicketStatus = "PAUSED"
	TicketStatusClosed TicketStatus = "CLOSED"
)

// TicketState is the workflow-facing projection of a ticket. Ticket content
// (title, fields, attachments) lives in the surrounding service; the engine
// only reads and writes the navigation state.
type TicketState struct {
	ID             string
	SubcategoryID  string
	CreatorID      string
	CurrentStepID  string
	CurrentRouteID *string
	RouteOrder     *int
	AssigneeIDs    []string
	AssignerID     *string
	Status         TicketStatus
	DueAt          *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       *time.Time
}

// OnRoute reports whether the ticket is currently positioned inside a route.
func (t *TicketState) OnRoute() bool {
	return t.CurrentRouteID != nil && t.RouteOrder != nil
}
