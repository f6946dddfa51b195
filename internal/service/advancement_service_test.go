package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/workflow-service/internal/config"
	"github.com/spec-kit/workflow-service/internal/domain"
	"github.com/spec-kit/workflow-service/internal/events"
	"github.com/spec-kit/workflow-service/internal/repository"
	"github.com/spec-kit/workflow-service/internal/workflow"
	apperrors "github.com/spec-kit/workflow-service/pkg/util/errorutil"
)

type fakeTicketRepo struct {
	mu       sync.Mutex
	tickets  map[string]*domain.TicketState
	conflict bool
}

func (f *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.TicketState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.tickets[id]
	if !ok {
		return nil, repository.ErrNoRows
	}
	snapshot := *stored
	return &snapshot, nil
}

func (f *fakeTicketRepo) Advance(_ context.Context, ticket *domain.TicketState, expectedStepID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflict {
		return false, nil
	}
	stored, ok := f.tickets[ticket.ID]
	if !ok {
		return false, repository.ErrNoRows
	}
	if stored.CurrentStepID != expectedStepID || stored.Status == domain.TicketStatusClosed {
		return false, nil
	}
	snapshot := *ticket
	f.tickets[ticket.ID] = &snapshot
	return true, nil
}

type fakeFlowRepo struct {
	flow        *domain.Flow
	steps       []*domain.Step
	transitions []*domain.Transition
	routes      []*domain.Route
}

func (f *fakeFlowRepo) GetFlowBySubcategory(_ context.Context, subcategoryID string) (*domain.Flow, error) {
	if f.flow == nil || f.flow.SubcategoryID != subcategoryID {
		return nil, repository.ErrNoRows
	}
	return f.flow, nil
}

func (f *fakeFlowRepo) GetFlow(_ context.Context, flowID string) (*domain.Flow, error) {
	if f.flow == nil || f.flow.ID != flowID {
		return nil, repository.ErrNoRows
	}
	return f.flow, nil
}

func (f *fakeFlowRepo) ListSteps(_ context.Context, _ string) ([]*domain.Step, error) {
	return f.steps, nil
}

func (f *fakeFlowRepo) ListTransitions(_ context.Context, _ string) ([]*domain.Transition, error) {
	return f.transitions, nil
}

func (f *fakeFlowRepo) ListRoutes(_ context.Context, _ string) ([]*domain.Route, error) {
	return f.routes, nil
}

type fakeHolidayRepo struct {
	holidays []domain.Holiday
}

func (f *fakeHolidayRepo) ListAll(_ context.Context) ([]domain.Holiday, error) {
	return f.holidays, nil
}

func (f *fakeHolidayRepo) ListByYear(_ context.Context, _ int) ([]domain.Holiday, error) {
	return f.holidays, nil
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeDispatcher) Publish(_ context.Context, event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeDispatcher) Subscribe(_ events.EventType, _ events.EventHandler) {}

func (f *fakeDispatcher) typesSeen() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]events.EventType, 0, len(f.events))
	for _, event := range f.events {
		types = append(types, event.Type)
	}
	return types
}

type fakeUserDirectory struct {
	usersByRole map[string][]domain.DirectoryUser
}

func (f *fakeUserDirectory) UsersByRole(_ context.Context, roleID string, regionID *string) ([]domain.DirectoryUser, error) {
	users := f.usersByRole[roleID]
	if regionID == nil {
		return users, nil
	}
	var scoped []domain.DirectoryUser
	for _, u := range users {
		if u.National || (u.RegionID != nil && *u.RegionID == *regionID) {
			scoped = append(scoped, u)
		}
	}
	return scoped, nil
}

func (f *fakeUserDirectory) SuperiorOf(_ context.Context, _ string) ([]domain.DirectoryUser, error) {
	return nil, nil
}

type fakeFieldValues struct {
	values map[string]string
}

func (f *fakeFieldValues) Value(_ context.Context, ticketID, fieldID string) (string, error) {
	return f.values[ticketID+"/"+fieldID], nil
}

type harness struct {
	svc        *AdvancementService
	tickets    *fakeTicketRepo
	store      *workflow.MemoryParallelStore
	dispatcher *fakeDispatcher
	locker     *MemoryTicketLocker
}

func ptr[T any](v T) *T { return &v }

// Fixture flow: s1 branches to an approval step, a manual-selection step, a
// parallel step and a review route; the approval step closes the ticket.
func newHarness(t *testing.T) *harness {
	t.Helper()

	flow := &domain.Flow{ID: "flow-1", Name: "Purchase Approval", SubcategoryID: "sub-1", Status: domain.FlowStatusActive}
	steps := []*domain.Step{
		{ID: "s1", FlowID: "flow-1", OrderIndex: 1, Name: "Intake", AssignedRoleID: ptr("role-agent")},
		{ID: "s2", FlowID: "flow-1", OrderIndex: 2, Name: "Approval", AssignedRoleID: ptr("role-agent"), AllowsClosing: true},
		{ID: "s3", FlowID: "flow-1", OrderIndex: 3, Name: "Specialist Pick", RequiresManualSelection: true, BusinessHours: 8},
		{ID: "s4", FlowID: "flow-1", OrderIndex: 4, Name: "Parallel Review", AssignedRoleID: ptr("role-agent"), IsParallel: true},
		{ID: "s5", FlowID: "flow-1", OrderIndex: 5, Name: "Route Review", AssignedRoleID: ptr("role-agent"), AllowsClosing: true},
	}
	transitions := []*domain.Transition{
		{ID: "t1", OriginStepID: "s1", DestinationStepID: ptr("s2"), DecisionKey: "APPROVE", Label: "Approve", OrderIndex: 1},
		{ID: "t2", OriginStepID: "s1", DestinationStepID: ptr("s3"), DecisionKey: "ESCALATE", Label: "Escalate", OrderIndex: 2},
		{ID: "t3", OriginStepID: "s1", DestinationStepID: ptr("s4"), DecisionKey: "FAN_OUT", Label: "Fan out", OrderIndex: 3},
		{ID: "t4", OriginStepID: "s1", DestinationRouteID: ptr("r1"), DecisionKey: "REVIEW", Label: "Send to review", OrderIndex: 4},
		{ID: "t5", OriginStepID: "s2", DecisionKey: "RESOLVE", Label: "Resolve and close", ClosesTicket: true, OrderIndex: 1},
		{ID: "t6", OriginStepID: "s3", DestinationStepID: ptr("s2"), DecisionKey: "DONE", Label: "Done", OrderIndex: 1},
		{ID: "t7", OriginStepID: "s4", DestinationStepID: ptr("s2"), DecisionKey: "JOIN", Label: "Join", OrderIndex: 1},
	}
	routes := []*domain.Route{
		{ID: "r1", FlowID: "flow-1", Name: "Review Chain", Steps: []domain.RouteStep{
			{RouteID: "r1", StepID: "s5", OrderIndex: 1},
			{RouteID: "r1", StepID: "s2", OrderIndex: 2},
		}},
	}

	directory := &fakeUserDirectory{usersByRole: map[string][]domain.DirectoryUser{
		"role-agent": {
			{ID: "agent-1", RoleID: "role-agent", RegionID: ptr("region-3"), Active: true},
			{ID: "agent-2", RoleID: "role-agent", RegionID: ptr("region-3"), Active: true},
		},
	}}

	tickets := &fakeTicketRepo{tickets: map[string]*domain.TicketState{}}
	store := workflow.NewMemoryParallelStore()
	dispatcher := &fakeDispatcher{}
	locker := NewMemoryTicketLocker()

	svc := NewAdvancementService(config.WorkflowConfig{TicketLockTTLSeconds: 5}, AdvancementDependencies{
		TicketRepo:   tickets,
		WorkflowRepo: &fakeFlowRepo{flow: flow, steps: steps, transitions: transitions, routes: routes},
		HolidayRepo:  &fakeHolidayRepo{},
		Resolver:     workflow.NewResolver(directory, &fakeFieldValues{}),
		Parallel:     workflow.NewCoordinator(store),
		Locker:       locker,
		Dispatcher:   dispatcher,
		Logger:       zap.NewNop(),
	})

	return &harness{svc: svc, tickets: tickets, store: store, dispatcher: dispatcher, locker: locker}
}

func (h *harness) seedTicket(stepID string) *domain.TicketState {
	ticket := &domain.TicketState{
		ID:            "tk-1",
		SubcategoryID: "sub-1",
		CreatorID:     "creator-1",
		CurrentStepID: stepID,
		Status:        domain.TicketStatusOpen,
	}
	h.tickets.tickets[ticket.ID] = ticket
	return ticket
}

func requesterUser() *domain.DirectoryUser {
	return &domain.DirectoryUser{ID: "agent-1", RoleID: "role-agent", RegionID: ptr("region-3"), Active: true}
}

func TestAdvanceTicketMovesToDecidedStep(t *testing.T) {
	h := newHarness(t)
	h.seedTicket("s1")

	ticket, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "APPROVE", nil)
	require.NoError(t, err)
	assert.Equal(t, "s2", ticket.CurrentStepID)
	assert.ElementsMatch(t, []string{"agent-1", "agent-2"}, ticket.AssigneeIDs)
	require.NotNil(t, ticket.AssignerID)
	assert.Equal(t, "agent-1", *ticket.AssignerID)
	assert.Nil(t, ticket.DueAt, "step without an SLA must not stamp a deadline")

	stored, err := h.tickets.GetByID(context.Background(), "tk-1")
	require.NoError(t, err)
	assert.Equal(t, "s2", stored.CurrentStepID)

	assert.Contains(t, h.dispatcher.typesSeen(), events.EventStepAdvanced)
	assert.Contains(t, h.dispatcher.typesSeen(), events.EventTicketAssigned)
}

func TestAdvanceTicketUnknownDecision(t *testing.T) {
	h := newHarness(t)
	h.seedTicket("s1")

	_, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "MAYBE", nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "UNKNOWN_DECISION"))
}

func TestAdvanceTicketNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-missing", "APPROVE", nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "NOT_FOUND"))
}

func TestAdvanceTicketClosedTicket(t *testing.T) {
	h := newHarness(t)
	ticket := h.seedTicket("s2")
	ticket.Status = domain.TicketStatusClosed

	_, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "RESOLVE", nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "CONFLICT"))
}

func TestAdvanceTicketHeldLockConflicts(t *testing.T) {
	h := newHarness(t)
	h.seedTicket("s1")

	release, acquired, err := h.locker.Lock(context.Background(), "tk-1", 0)
	require.NoError(t, err)
	require.True(t, acquired)
	defer release()

	_, err = h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "APPROVE", nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "CONCURRENT_ADVANCEMENT_CONFLICT"))
}

func TestAdvanceTicketOptimisticConflict(t *testing.T) {
	h := newHarness(t)
	h.seedTicket("s1")
	h.tickets.conflict = true

	_, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "APPROVE", nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "CONCURRENT_ADVANCEMENT_CONFLICT"))
}

func TestAdvanceTicketManualSelection(t *testing.T) {
	h := newHarness(t)
	h.seedTicket("s1")

	_, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "ESCALATE", nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "MANUAL_SELECTION_REQUIRED"))

	ticket, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "ESCALATE", []string{"specialist-7"})
	require.NoError(t, err)
	assert.Equal(t, "s3", ticket.CurrentStepID)
	assert.Equal(t, []string{"specialist-7"}, ticket.AssigneeIDs)
	require.NotNil(t, ticket.DueAt, "a step with an SLA must stamp a deadline")
	assert.True(t, ticket.DueAt.After(time.Now()))
}

func TestAdvanceTicketRejectsManualAssigneesOnResolvedStep(t *testing.T) {
	h := newHarness(t)
	h.seedTicket("s1")

	_, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "APPROVE", []string{"specialist-7"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "INVALID_ARGUMENT"))
}

func TestAdvanceTicketCloses(t *testing.T) {
	h := newHarness(t)
	ticket := h.seedTicket("s2")
	ticket.AssigneeIDs = []string{"agent-1"}

	closed, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "RESOLVE", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.Empty(t, closed.AssigneeIDs)
	assert.Contains(t, h.dispatcher.typesSeen(), events.EventTicketClosed)
}

func TestAdvanceTicketEntersRoute(t *testing.T) {
	h := newHarness(t)
	h.seedTicket("s1")

	ticket, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "REVIEW", nil)
	require.NoError(t, err)
	assert.Equal(t, "s5", ticket.CurrentStepID)
	require.NotNil(t, ticket.CurrentRouteID)
	assert.Equal(t, "r1", *ticket.CurrentRouteID)
	require.NotNil(t, ticket.RouteOrder)
	assert.Equal(t, 1, *ticket.RouteOrder)
	assert.Contains(t, h.dispatcher.typesSeen(), events.EventRouteEntered)
}

func TestAdvanceTicketWalksRouteWithoutDecision(t *testing.T) {
	h := newHarness(t)
	ticket := h.seedTicket("s5")
	ticket.CurrentRouteID = ptr("r1")
	ticket.RouteOrder = ptr(1)

	advanced, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "s2", advanced.CurrentStepID)
	require.NotNil(t, advanced.RouteOrder)
	assert.Equal(t, 2, *advanced.RouteOrder)
}

func TestAdvanceTicketLeavesRouteAtItsEnd(t *testing.T) {
	h := newHarness(t)
	ticket := h.seedTicket("s2")
	ticket.CurrentRouteID = ptr("r1")
	ticket.RouteOrder = ptr(2)

	// Past the last route step the step's own transitions apply; s2's only
	// transition closes the ticket.
	closed, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	assert.Nil(t, closed.CurrentRouteID)
	assert.Nil(t, closed.RouteOrder)
}

func TestAdvanceTicketParallelFanOut(t *testing.T) {
	h := newHarness(t)
	h.seedTicket("s1")

	ticket, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "FAN_OUT", nil)
	require.NoError(t, err)
	assert.Equal(t, "s4", ticket.CurrentStepID)

	instances, err := h.store.ListInstances(context.Background(), "tk-1", "s4")
	require.NoError(t, err)
	assert.Len(t, instances, 2)
}

func TestAdvanceTicketCompensatesFanOutOnConflict(t *testing.T) {
	h := newHarness(t)
	h.seedTicket("s1")
	h.tickets.conflict = true

	_, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "FAN_OUT", nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "CONCURRENT_ADVANCEMENT_CONFLICT"))

	instances, err := h.store.ListInstances(context.Background(), "tk-1", "s4")
	require.NoError(t, err)
	assert.Empty(t, instances, "failed transitions must not leave fan-out bookkeeping behind")
}

func TestAdvanceTicketRefusesToLeaveParallelStepWithOutstandingBranches(t *testing.T) {
	h := newHarness(t)
	h.seedTicket("s1")

	_, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "FAN_OUT", nil)
	require.NoError(t, err)

	_, err = h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "JOIN", nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "CONFLICT"))

	stored, err := h.tickets.GetByID(context.Background(), "tk-1")
	require.NoError(t, err)
	assert.Equal(t, "s4", stored.CurrentStepID, "a decision must not move the ticket past incomplete branches")

	// One completed branch out of two is still not enough.
	_, advanced, err := h.svc.CompleteParallelAssignment(context.Background(), requesterUser(), "tk-1")
	require.NoError(t, err)
	require.False(t, advanced)

	_, err = h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "JOIN", nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "CONFLICT"))
}

func TestCompleteParallelAssignmentJoinsOnLastBranch(t *testing.T) {
	h := newHarness(t)
	h.seedTicket("s1")

	_, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "FAN_OUT", nil)
	require.NoError(t, err)

	first := &domain.DirectoryUser{ID: "agent-2", RoleID: "role-agent", RegionID: ptr("region-3"), Active: true}
	ticket, advanced, err := h.svc.CompleteParallelAssignment(context.Background(), first, "tk-1")
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, "s4", ticket.CurrentStepID)

	ticket, advanced, err = h.svc.CompleteParallelAssignment(context.Background(), requesterUser(), "tk-1")
	require.NoError(t, err)
	assert.True(t, advanced, "the last branch completion must advance the ticket")
	assert.Equal(t, "s2", ticket.CurrentStepID)

	instances, err := h.store.ListInstances(context.Background(), "tk-1", "s4")
	require.NoError(t, err)
	assert.Empty(t, instances)

	assert.Contains(t, h.dispatcher.typesSeen(), events.EventParallelBranchCompleted)
}

func TestCompleteParallelAssignmentIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seedTicket("s1")

	_, err := h.svc.AdvanceTicket(context.Background(), requesterUser(), "tk-1", "FAN_OUT", nil)
	require.NoError(t, err)

	_, advanced, err := h.svc.CompleteParallelAssignment(context.Background(), requesterUser(), "tk-1")
	require.NoError(t, err)
	assert.False(t, advanced)

	_, advanced, err = h.svc.CompleteParallelAssignment(context.Background(), requesterUser(), "tk-1")
	require.NoError(t, err)
	assert.False(t, advanced, "repeating a completion must not count twice")
}

func TestAvailableDecisionsInDefinitionOrder(t *testing.T) {
	h := newHarness(t)
	h.seedTicket("s1")

	decisions, err := h.svc.AvailableDecisions(context.Background(), "tk-1")
	require.NoError(t, err)
	require.Len(t, decisions, 4)
	assert.Equal(t, "APPROVE", decisions[0].DecisionKey)
	assert.Equal(t, "ESCALATE", decisions[1].DecisionKey)
	assert.Equal(t, "FAN_OUT", decisions[2].DecisionKey)
	assert.Equal(t, "REVIEW", decisions[3].DecisionKey)
}

func TestInitialStep(t *testing.T) {
	h := newHarness(t)

	step, err := h.svc.InitialStep(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", step.ID)

	_, err = h.svc.InitialStep(context.Background(), "sub-unknown")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "INVALID_WORKFLOW_CONFIGURATION"))
}
