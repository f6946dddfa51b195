package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/workflow-service/internal/config"
	"github.com/spec-kit/workflow-service/internal/domain"
	"github.com/spec-kit/workflow-service/internal/events"
	"github.com/spec-kit/workflow-service/internal/repository"
	"github.com/spec-kit/workflow-service/internal/workflow"
	apperrors "github.com/spec-kit/workflow-service/pkg/util/errorutil"
)

// AdvancementService orchestrates one ticket transition: navigation,
// deadline, assignment, parallel bookkeeping and persistence. Transitions on
// the same ticket are serialized by the ticket locker and double-checked by
// an optimistic current-step compare at persist time; either the whole new
// state commits or none of it does.
type AdvancementService struct {
	tickets    repository.TicketStateRepository
	flows      repository.WorkflowRepository
	holidays   repository.HolidayRepository
	resolver   *workflow.Resolver
	parallel   *workflow.Coordinator
	locker     TicketLocker
	dispatcher events.Dispatcher
	logger     *zap.Logger
	lockTTL    time.Duration

	// holidayYears > 0 bounds the holiday load to the current year plus
	// that many following years; 0 loads every configured holiday.
	holidayYears int
}

// AdvancementDependencies bundles collaborators.
type AdvancementDependencies struct {
	TicketRepo   repository.TicketStateRepository
	WorkflowRepo repository.WorkflowRepository
	HolidayRepo  repository.HolidayRepository
	Resolver     *workflow.Resolver
	Parallel     *workflow.Coordinator
	Locker       TicketLocker
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
}

// NewAdvancementService creates the service.
func NewAdvancementService(cfg config.WorkflowConfig, deps AdvancementDependencies) *AdvancementService {
	return &AdvancementService{
		tickets:    deps.TicketRepo,
		flows:      deps.WorkflowRepo,
		holidays:   deps.HolidayRepo,
		resolver:   deps.Resolver,
		parallel:   deps.Parallel,
		locker:     deps.Locker,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		lockTTL:    cfg.TicketLockTTL(),

		holidayYears: cfg.HolidayYears,
	}
}

// AdvanceTicket applies a decision to the ticket's current step. Manual
// assignees are only honored when the destination step requires manual
// selection; otherwise the resolver decides.
func (s *AdvancementService) AdvanceTicket(ctx context.Context, requester *domain.DirectoryUser, ticketID, decisionKey string, manualAssignees []string) (*domain.TicketState, error) {
	if requester == nil {
		return nil, apperrors.NewUnauthorized("requester required")
	}

	release, acquired, err := s.locker.Lock(ctx, ticketID, s.lockTTL)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !acquired {
		return nil, apperrors.NewConcurrentAdvancementConflict(ticketID)
	}
	defer release()

	return s.advanceLocked(ctx, requester, ticketID, decisionKey, manualAssignees)
}

func (s *AdvancementService) advanceLocked(ctx context.Context, requester *domain.DirectoryUser, ticketID, decisionKey string, manualAssignees []string) (*domain.TicketState, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	if ticket.Status == domain.TicketStatusClosed {
		return nil, apperrors.NewConflict("ticket is closed", map[string]any{"ticket_id": ticketID})
	}

	graph, err := s.loadGraph(ctx, ticket.SubcategoryID)
	if err != nil {
		return nil, err
	}
	currentStep, err := graph.Step(ticket.CurrentStepID)
	if err != nil {
		return nil, err
	}

	// A parallel step may only be left once every branch has completed.
	if currentStep.IsParallel {
		outstanding, err := s.parallel.OutstandingBranches(ctx, ticketID, ticket.CurrentStepID)
		if err != nil {
			return nil, err
		}
		if outstanding > 0 {
			return nil, apperrors.NewConflict("parallel step has incomplete branches", map[string]any{
				"ticket_id":   ticketID,
				"step_id":     ticket.CurrentStepID,
				"outstanding": outstanding,
			})
		}
	}

	destination, err := s.resolveDestination(graph, ticket, decisionKey)
	if err != nil {
		return nil, err
	}

	previousStepID := ticket.CurrentStepID

	if destination.Closed {
		now := time.Now()
		ticket.Status = domain.TicketStatusClosed
		ticket.ClosedAt = &now
		ticket.AssigneeIDs = nil
		ticket.CurrentRouteID = nil
		ticket.RouteOrder = nil
		ticket.DueAt = nil

		advanced, err := s.tickets.Advance(ctx, ticket, previousStepID)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if !advanced {
			return nil, apperrors.NewConcurrentAdvancementConflict(ticketID)
		}
		if currentStep.IsParallel {
			_ = s.parallel.LeaveParallelStep(ctx, ticketID, previousStepID)
		}
		s.publish(ctx, requester.ID, events.EventTicketClosed, ticketID, events.TicketClosedPayload{
			FromStepID:  previousStepID,
			DecisionKey: decisionKey,
		})
		return ticket, nil
	}

	nextStep := destination.Step
	assignees, err := s.resolveAssignees(ctx, nextStep, requester, ticket, manualAssignees)
	if err != nil {
		return nil, err
	}

	dueAt, err := s.computeDeadline(ctx, nextStep)
	if err != nil {
		return nil, err
	}

	ticket.CurrentStepID = nextStep.ID
	if destination.Route != nil {
		routeID := destination.Route.RouteID
		order := destination.Route.Order
		ticket.CurrentRouteID = &routeID
		ticket.RouteOrder = &order
	} else {
		ticket.CurrentRouteID = nil
		ticket.RouteOrder = nil
	}
	ticket.AssigneeIDs = assignees
	ticket.AssignerID = &requester.ID
	ticket.DueAt = dueAt

	if nextStep.IsParallel {
		if _, err := s.parallel.EnterParallelStep(ctx, ticketID, nextStep, assignees); err != nil {
			return nil, err
		}
	}

	advanced, err := s.tickets.Advance(ctx, ticket, previousStepID)
	if err != nil || !advanced {
		if nextStep.IsParallel {
			// Undo the fan-out; the transition did not commit.
			_ = s.parallel.LeaveParallelStep(ctx, ticketID, nextStep.ID)
		}
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		return nil, apperrors.NewConcurrentAdvancementConflict(ticketID)
	}

	if currentStep.IsParallel {
		_ = s.parallel.LeaveParallelStep(ctx, ticketID, previousStepID)
	}

	s.publish(ctx, requester.ID, events.EventStepAdvanced, ticketID, events.StepAdvancedPayload{
		FromStepID:  previousStepID,
		ToStepID:    nextStep.ID,
		DecisionKey: decisionKey,
		DueAt:       dueAt,
	})
	s.publish(ctx, requester.ID, events.EventTicketAssigned, ticketID, events.TicketAssignedPayload{
		StepID:      nextStep.ID,
		AssigneeIDs: assignees,
		Parallel:    nextStep.IsParallel,
	})
	if destination.Route != nil {
		s.publish(ctx, requester.ID, events.EventRouteEntered, ticketID, events.RouteEnteredPayload{
			RouteID: destination.Route.RouteID,
			Order:   destination.Route.Order,
			StepID:  nextStep.ID,
		})
	}
	return ticket, nil
}

// resolveDestination picks the next position. A ticket inside a route with
// further route steps advances along the route when no decision is supplied;
// at the route's last step (or with an explicit decision) the step's own
// transitions resolve normally and the route is left behind.
func (s *AdvancementService) resolveDestination(graph *workflow.Graph, ticket *domain.TicketState, decisionKey string) (*workflow.Destination, error) {
	if ticket.OnRoute() && decisionKey == "" {
		step, position, err := graph.NextRouteStep(*ticket.CurrentRouteID, *ticket.RouteOrder)
		if err != nil {
			return nil, err
		}
		if step != nil {
			return &workflow.Destination{Step: step, Route: position}, nil
		}
	}
	return graph.NextStep(ticket.CurrentStepID, decisionKey)
}

func (s *AdvancementService) resolveAssignees(ctx context.Context, step *domain.Step, requester *domain.DirectoryUser, ticket *domain.TicketState, manualAssignees []string) ([]string, error) {
	strategy, ok := step.Strategy()
	if !ok {
		return nil, apperrors.NewInvalidWorkflowConfiguration("step must configure exactly one assignment strategy", map[string]any{
			"step_id": step.ID,
		})
	}
	if strategy == domain.StrategyManualSelection {
		if len(manualAssignees) == 0 {
			return nil, apperrors.NewManualSelectionRequired(step.ID)
		}
		return manualAssignees, nil
	}
	if len(manualAssignees) > 0 {
		return nil, apperrors.NewInvalidArgument("step does not accept manual assignees", map[string]any{
			"step_id": step.ID,
		})
	}
	assignees, err := s.resolver.ResolveAssignees(ctx, step, requester, ticket)
	if err != nil {
		return nil, err
	}
	if len(assignees) == 0 {
		return nil, apperrors.NewUnresolvableAssignment("no assignees could be resolved for step", map[string]any{
			"step_id": step.ID,
		})
	}
	return assignees, nil
}

func (s *AdvancementService) computeDeadline(ctx context.Context, step *domain.Step) (*time.Time, error) {
	if step.BusinessHours <= 0 {
		return nil, nil
	}
	holidays, err := s.loadHolidays(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	calendar := workflow.NewCalendar(workflow.NewHolidaySet(holidays))
	dueAt, err := calendar.AddBusinessHours(time.Now(), step.BusinessHours)
	if err != nil {
		return nil, err
	}
	return &dueAt, nil
}

func (s *AdvancementService) loadHolidays(ctx context.Context) ([]domain.Holiday, error) {
	if s.holidayYears <= 0 {
		return s.holidays.ListAll(ctx)
	}
	year := time.Now().Year()
	var all []domain.Holiday
	for y := year; y <= year+s.holidayYears; y++ {
		batch, err := s.holidays.ListByYear(ctx, y)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	return all, nil
}

// CompleteParallelAssignment marks the requester's branch of the ticket's
// current parallel step complete. The completion of the last outstanding
// branch advances the ticket past the step; any earlier completion only
// records progress.
func (s *AdvancementService) CompleteParallelAssignment(ctx context.Context, requester *domain.DirectoryUser, ticketID string) (*domain.TicketState, bool, error) {
	if requester == nil {
		return nil, false, apperrors.NewUnauthorized("requester required")
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return nil, false, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, false, apperrors.MapError(err)
	}

	result, err := s.parallel.MarkComplete(ctx, ticketID, ticket.CurrentStepID, requester.ID)
	if err != nil {
		return nil, false, err
	}
	s.publish(ctx, requester.ID, events.EventParallelBranchCompleted, ticketID, events.ParallelBranchCompletedPayload{
		StepID:      ticket.CurrentStepID,
		AssigneeID:  requester.ID,
		AllComplete: result.AllComplete,
	})
	if !result.AllComplete {
		return ticket, false, nil
	}

	advanced, err := s.AdvanceTicket(ctx, requester, ticketID, "", nil)
	if err != nil {
		return nil, false, err
	}
	return advanced, true, nil
}

// AvailableDecisions lists the decisions selectable on the ticket's current
// step, in definition order.
func (s *AdvancementService) AvailableDecisions(ctx context.Context, ticketID string) ([]workflow.Decision, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	graph, err := s.loadGraph(ctx, ticket.SubcategoryID)
	if err != nil {
		return nil, err
	}
	return graph.AvailableTransitions(ticket.CurrentStepID)
}

// InitialStep returns the first step of the flow configured for a
// subcategory, for ticket intake by the surrounding service.
func (s *AdvancementService) InitialStep(ctx context.Context, subcategoryID string) (*domain.Step, error) {
	graph, err := s.loadGraph(ctx, subcategoryID)
	if err != nil {
		return nil, err
	}
	return graph.FirstStep(), nil
}

func (s *AdvancementService) loadGraph(ctx context.Context, subcategoryID string) (*workflow.Graph, error) {
	flow, err := s.flows.GetFlowBySubcategory(ctx, subcategoryID)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return nil, apperrors.NewInvalidWorkflowConfiguration("no active flow for subcategory", map[string]any{
				"subcategory_id": subcategoryID,
			})
		}
		return nil, apperrors.MapError(err)
	}
	steps, err := s.flows.ListSteps(ctx, flow.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	transitions, err := s.flows.ListTransitions(ctx, flow.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	routes, err := s.flows.ListRoutes(ctx, flow.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return workflow.NewGraph(flow, steps, transitions, routes)
}

func (s *AdvancementService) publish(ctx context.Context, actorID string, eventType events.EventType, ticketID string, payload any) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     events.Actor{Type: domain.SubjectTypeUser, UserID: &actorID},
		Timestamp: time.Now(),
		Payload:   payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}
