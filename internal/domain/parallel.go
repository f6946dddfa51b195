package domain

import "time"

// ParallelInstance tracks one assignee's branch of a parallel step. A parallel
// step advances only when every instance for (ticket, step) is completed.
type ParallelInstance struct {
	ID          string
	TicketID    string
	StepID      string
	AssigneeID  string
	Completed   bool
	CreatedAt   time.Time
	CompletedAt *time.Time
}
