package workflow

import (
	"context"
	"errors"

	"github.com/spec-kit/workflow-service/internal/domain"
	apperrors "github.com/spec-kit/workflow-service/pkg/util/errorutil"
)

// ErrInstanceNotFound is returned by ParallelStore implementations when no
// instance matches (ticket, step, assignee).
var ErrInstanceNotFound = errors.New("parallel instance not found")

// ParallelStore persists parallel-branch bookkeeping. CompleteInstance must be
// atomic: marking the instance complete and decrementing the outstanding count
// happen as one operation, so that exactly one caller for a (ticket, step)
// pair observes the count reaching zero.
type ParallelStore interface {
	CreateInstances(ctx context.Context, instances []*domain.ParallelInstance) error
	// CompleteInstance marks the (ticketID, stepID, assigneeID) instance
	// complete. It returns the number of still-outstanding instances after
	// the update and whether this call changed anything (false when the
	// instance was already complete).
	CompleteInstance(ctx context.Context, ticketID, stepID, assigneeID string) (remaining int, changed bool, err error)
	ListInstances(ctx context.Context, ticketID, stepID string) ([]domain.ParallelInstance, error)
	DeleteInstances(ctx context.Context, ticketID, stepID string) error
}

// Coordinator tracks fan-out of parallel steps and their join condition.
type Coordinator struct {
	store ParallelStore
}

// NewCoordinator creates a parallel step coordinator.
func NewCoordinator(store ParallelStore) *Coordinator {
	return &Coordinator{store: store}
}

// EnterParallelStep creates one incomplete instance per assignee.
func (c *Coordinator) EnterParallelStep(ctx context.Context, ticketID string, step *domain.Step, assignees []string) ([]*domain.ParallelInstance, error) {
	if !step.IsParallel {
		return nil, apperrors.NewInvalidArgument("step is not parallel", map[string]any{"step_id": step.ID})
	}
	if len(assignees) == 0 {
		return nil, apperrors.NewUnresolvableAssignment("parallel step needs at least one assignee", map[string]any{
			"step_id": step.ID,
		})
	}
	instances := make([]*domain.ParallelInstance, 0, len(assignees))
	for _, assignee := range assignees {
		instances = append(instances, &domain.ParallelInstance{
			TicketID:   ticketID,
			StepID:     step.ID,
			AssigneeID: assignee,
		})
	}
	if err := c.store.CreateInstances(ctx, instances); err != nil {
		return nil, apperrors.MapError(err)
	}
	return instances, nil
}

// CompletionResult reports the outcome of a branch completion.
type CompletionResult struct {
	// AllComplete is true for exactly one caller per (ticket, step): the
	// one whose completion left zero outstanding instances.
	AllComplete bool
	// AlreadyComplete is true when the instance had been completed before;
	// repeating a completion is a no-op, not an error.
	AlreadyComplete bool
}

// MarkComplete records that userID finished their branch. Idempotent and safe
// under concurrent completions: the store's atomic decrement guarantees that
// only the completion of the last outstanding instance returns AllComplete.
func (c *Coordinator) MarkComplete(ctx context.Context, ticketID, stepID, userID string) (*CompletionResult, error) {
	remaining, changed, err := c.store.CompleteInstance(ctx, ticketID, stepID, userID)
	if err != nil {
		if errors.Is(err, ErrInstanceNotFound) {
			return nil, apperrors.NewNotFound("parallel instance", map[string]any{
				"ticket_id": ticketID,
				"step_id":   stepID,
				"user_id":   userID,
			})
		}
		return nil, apperrors.MapError(err)
	}
	if !changed {
		return &CompletionResult{AlreadyComplete: true}, nil
	}
	return &CompletionResult{AllComplete: remaining == 0}, nil
}

// OutstandingBranches reports how many branches of (ticket, step) are still
// incomplete. Zero when every branch has completed or none were ever created.
func (c *Coordinator) OutstandingBranches(ctx context.Context, ticketID, stepID string) (int, error) {
	instances, err := c.store.ListInstances(ctx, ticketID, stepID)
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	outstanding := 0
	for _, instance := range instances {
		if !instance.Completed {
			outstanding++
		}
	}
	return outstanding, nil
}

// LeaveParallelStep discards the bookkeeping once the ticket advances past
// the step.
func (c *Coordinator) LeaveParallelStep(ctx context.Context, ticketID, stepID string) error {
	if err := c.store.DeleteInstances(ctx, ticketID, stepID); err != nil {
		return apperrors.MapError(err)
	}
	return nil
}
