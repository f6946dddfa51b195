package workflow

import (
	"context"

	"github.com/spec-kit/workflow-service/internal/domain"
	apperrors "github.com/spec-kit/workflow-service/pkg/util/errorutil"
)

// Directory is the external org-directory lookup the resolver depends on.
type Directory interface {
	// UsersByRole returns active users holding roleID. When regionID is nil
	// no scope filter is applied; otherwise users must match the region or
	// be flagged national.
	UsersByRole(ctx context.Context, roleID string, regionID *string) ([]domain.DirectoryUser, error)
	// SuperiorOf walks the org chart one level up from a position. Returns
	// the holders of the superior position.
	SuperiorOf(ctx context.Context, positionID string) ([]domain.DirectoryUser, error)
}

// FieldValues looks up dynamic field values on a ticket.
type FieldValues interface {
	// Value returns the field's value on the ticket, or ("", nil) when the
	// field has no value.
	Value(ctx context.Context, ticketID, fieldID string) (string, error)
}

// Resolver computes who must act on a step.
type Resolver struct {
	directory Directory
	fields    FieldValues
}

// NewResolver creates an assignment resolver.
func NewResolver(directory Directory, fields FieldValues) *Resolver {
	return &Resolver{directory: directory, fields: fields}
}

// ResolveAssignees returns the user ids that must act on step. The step's
// configuration determines a single strategy; the strategies are mutually
// exclusive, not a fallback chain. ManualSelectionRequired is a signal that
// the caller must supply assignees, not a failure.
func (r *Resolver) ResolveAssignees(ctx context.Context, step *domain.Step, requester *domain.DirectoryUser, ticket *domain.TicketState) ([]string, error) {
	strategy, ok := step.Strategy()
	if !ok {
		return nil, apperrors.NewInvalidWorkflowConfiguration("step must configure exactly one assignment strategy", map[string]any{
			"step_id": step.ID,
		})
	}

	switch strategy {
	case domain.StrategyCreatorAuto:
		return []string{ticket.CreatorID}, nil

	case domain.StrategyBossReference:
		fieldID := *step.BossReferenceFieldID
		value, err := r.fields.Value(ctx, ticket.ID, fieldID)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if value == "" {
			return nil, apperrors.NewMissingBossReference(fieldID)
		}
		return []string{value}, nil

	case domain.StrategyManualSelection:
		return nil, apperrors.NewManualSelectionRequired(step.ID)

	case domain.StrategyRoleBased:
		roleID := *step.AssignedRoleID
		var region *string
		if !step.IsNationalTask {
			region = requester.RegionID
		}
		users, err := r.directory.UsersByRole(ctx, roleID, region)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if len(users) == 0 {
			return nil, apperrors.NewNoEligibleAssignee(roleID, map[string]any{"step_id": step.ID})
		}
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		return ids, nil

	case domain.StrategyHierarchical:
		if requester.PositionID == nil {
			return nil, apperrors.NewNoSuperiorDefined("")
		}
		holders, err := r.directory.SuperiorOf(ctx, *requester.PositionID)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if len(holders) == 0 {
			return nil, apperrors.NewNoSuperiorDefined(*requester.PositionID)
		}
		ids := make([]string, 0, len(holders))
		for _, u := range holders {
			ids = append(ids, u.ID)
		}
		return ids, nil
	}

	return nil, apperrors.NewUnresolvableAssignment("no assignees could be resolved for step", map[string]any{
		"step_id": step.ID,
	})
}
