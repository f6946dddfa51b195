package workflow

import (
	"sort"

	"github.com/spec-kit/workflow-service/internal/domain"
	apperrors "github.com/spec-kit/workflow-service/pkg/util/errorutil"
)

// RoutePosition marks a ticket's location inside a route.
type RoutePosition struct {
	RouteID string
	Order   int
}

// Destination is the outcome of a navigation: either the ticket closes, or it
// moves to Step, optionally entering a route at Route.
type Destination struct {
	Closed bool
	Step   *domain.Step
	Route  *RoutePosition
}

// Decision is one selectable transition, for decision UIs.
type Decision struct {
	DecisionKey  string
	Label        string
	ClosesTicket bool
}

// Graph is an immutable snapshot of one flow's steps, transitions and routes,
// validated on construction. Navigation never touches storage.
type Graph struct {
	flow        *domain.Flow
	steps       map[string]*domain.Step
	ordered     []*domain.Step
	transitions map[string][]*domain.Transition
	routes      map[string]*domain.Route
}

// NewGraph indexes and validates a flow configuration. Dangling destination
// ids, empty routes, duplicate decision keys and ambiguous assignment
// configuration all fail with InvalidWorkflowConfiguration.
func NewGraph(flow *domain.Flow, steps []*domain.Step, transitions []*domain.Transition, routes []*domain.Route) (*Graph, error) {
	if flow == nil {
		return nil, apperrors.NewInvalidWorkflowConfiguration("flow is required", nil)
	}
	if len(steps) == 0 {
		return nil, apperrors.NewInvalidWorkflowConfiguration("flow has no steps", map[string]any{"flow_id": flow.ID})
	}

	g := &Graph{
		flow:        flow,
		steps:       make(map[string]*domain.Step, len(steps)),
		ordered:     make([]*domain.Step, 0, len(steps)),
		transitions: make(map[string][]*domain.Transition),
		routes:      make(map[string]*domain.Route, len(routes)),
	}

	for _, step := range steps {
		if _, ok := step.Strategy(); !ok {
			return nil, apperrors.NewInvalidWorkflowConfiguration("step must configure exactly one assignment strategy", map[string]any{
				"step_id": step.ID,
			})
		}
		g.steps[step.ID] = step
		g.ordered = append(g.ordered, step)
	}
	sort.SliceStable(g.ordered, func(i, j int) bool {
		return g.ordered[i].OrderIndex < g.ordered[j].OrderIndex
	})

	for _, route := range routes {
		if len(route.Steps) == 0 {
			return nil, apperrors.NewInvalidWorkflowConfiguration("route has no steps", map[string]any{"route_id": route.ID})
		}
		sort.SliceStable(route.Steps, func(i, j int) bool {
			return route.Steps[i].OrderIndex < route.Steps[j].OrderIndex
		})
		for _, rs := range route.Steps {
			if _, ok := g.steps[rs.StepID]; !ok {
				return nil, apperrors.NewInvalidWorkflowConfiguration("route references unknown step", map[string]any{
					"route_id": route.ID,
					"step_id":  rs.StepID,
				})
			}
		}
		g.routes[route.ID] = route
	}

	for _, tr := range transitions {
		if _, ok := g.steps[tr.OriginStepID]; !ok {
			return nil, apperrors.NewInvalidWorkflowConfiguration("transition origin is not a step of this flow", map[string]any{
				"transition_id": tr.ID,
				"step_id":       tr.OriginStepID,
			})
		}
		if tr.DestinationStepID != nil && tr.DestinationRouteID != nil {
			return nil, apperrors.NewInvalidWorkflowConfiguration("transition destination must be a step or a route, not both", map[string]any{
				"transition_id": tr.ID,
			})
		}
		if tr.DestinationStepID == nil && tr.DestinationRouteID == nil && !tr.ClosesTicket {
			return nil, apperrors.NewInvalidWorkflowConfiguration("transition has no destination", map[string]any{
				"transition_id": tr.ID,
			})
		}
		if tr.DestinationStepID != nil {
			if _, ok := g.steps[*tr.DestinationStepID]; !ok {
				return nil, apperrors.NewInvalidWorkflowConfiguration("transition points at unknown step", map[string]any{
					"transition_id": tr.ID,
					"step_id":       *tr.DestinationStepID,
				})
			}
		}
		if tr.DestinationRouteID != nil {
			if _, ok := g.routes[*tr.DestinationRouteID]; !ok {
				return nil, apperrors.NewInvalidWorkflowConfiguration("transition points at unknown route", map[string]any{
					"transition_id": tr.ID,
					"route_id":      *tr.DestinationRouteID,
				})
			}
		}
		for _, existing := range g.transitions[tr.OriginStepID] {
			if existing.DecisionKey == tr.DecisionKey {
				return nil, apperrors.NewInvalidWorkflowConfiguration("duplicate decision key on step", map[string]any{
					"step_id":      tr.OriginStepID,
					"decision_key": tr.DecisionKey,
				})
			}
		}
		g.transitions[tr.OriginStepID] = append(g.transitions[tr.OriginStepID], tr)
	}

	for _, tl := range g.transitions {
		sort.SliceStable(tl, func(i, j int) bool { return tl[i].OrderIndex < tl[j].OrderIndex })
	}

	for _, step := range g.ordered {
		if len(g.transitions[step.ID]) == 0 && !step.AllowsClosing {
			return nil, apperrors.NewInvalidWorkflowConfiguration("non-terminal step has no outgoing transitions", map[string]any{
				"step_id": step.ID,
			})
		}
	}

	return g, nil
}

// Flow returns the flow definition this graph was built from.
func (g *Graph) Flow() *domain.Flow {
	return g.flow
}

// FirstStep is the flow's initial state.
func (g *Graph) FirstStep() *domain.Step {
	return g.ordered[0]
}

// Step looks up a step by id.
func (g *Graph) Step(stepID string) (*domain.Step, error) {
	step, ok := g.steps[stepID]
	if !ok {
		return nil, apperrors.NewInvalidWorkflowConfiguration("step does not belong to this flow", map[string]any{
			"step_id": stepID,
		})
	}
	return step, nil
}

// Route looks up a route by id.
func (g *Graph) Route(routeID string) (*domain.Route, error) {
	route, ok := g.routes[routeID]
	if !ok {
		return nil, apperrors.NewInvalidWorkflowConfiguration("route does not belong to this flow", map[string]any{
			"route_id": routeID,
		})
	}
	return route, nil
}

// AvailableTransitions lists the decisions selectable from a step, in
// definition order.
func (g *Graph) AvailableTransitions(stepID string) ([]Decision, error) {
	if _, err := g.Step(stepID); err != nil {
		return nil, err
	}
	outgoing := g.transitions[stepID]
	decisions := make([]Decision, 0, len(outgoing))
	for _, tr := range outgoing {
		decisions = append(decisions, Decision{
			DecisionKey:  tr.DecisionKey,
			Label:        tr.Label,
			ClosesTicket: tr.ClosesTicket,
		})
	}
	return decisions, nil
}

// NextStep resolves the destination for a decision taken on the current step.
// A step with a single outgoing transition auto-advances when decisionKey is
// empty; multiple outgoing transitions require an exact decision key. Route
// destinations expand to the route's first step with the route position set.
func (g *Graph) NextStep(currentStepID, decisionKey string) (*Destination, error) {
	current, err := g.Step(currentStepID)
	if err != nil {
		return nil, err
	}

	outgoing := g.transitions[currentStepID]
	var matched *domain.Transition
	switch {
	case len(outgoing) == 0:
		if current.AllowsClosing {
			return &Destination{Closed: true}, nil
		}
		return nil, apperrors.NewInvalidWorkflowConfiguration("step has no outgoing transitions", map[string]any{
			"step_id": currentStepID,
		})
	case len(outgoing) == 1 && decisionKey == "":
		matched = outgoing[0]
	default:
		if decisionKey == "" {
			return nil, apperrors.NewUnknownDecision(currentStepID, decisionKey)
		}
		for _, tr := range outgoing {
			if tr.DecisionKey == decisionKey {
				matched = tr
				break
			}
		}
		if matched == nil {
			return nil, apperrors.NewUnknownDecision(currentStepID, decisionKey)
		}
	}

	if matched.ClosesTicket {
		if !current.AllowsClosing {
			return nil, apperrors.NewInvalidWorkflowConfiguration("closing transition on a step that does not allow closing", map[string]any{
				"step_id":       currentStepID,
				"transition_id": matched.ID,
			})
		}
		return &Destination{Closed: true}, nil
	}

	if matched.DestinationStepID != nil {
		next, err := g.Step(*matched.DestinationStepID)
		if err != nil {
			return nil, err
		}
		return &Destination{Step: next}, nil
	}

	route, err := g.Route(*matched.DestinationRouteID)
	if err != nil {
		return nil, err
	}
	first := route.Steps[0]
	next, err := g.Step(first.StepID)
	if err != nil {
		return nil, err
	}
	return &Destination{
		Step:  next,
		Route: &RoutePosition{RouteID: route.ID, Order: first.OrderIndex},
	}, nil
}

// NextRouteStep resolves the step after the given position within a route, or
// nil when the position is the route's last step (routes are not re-entered).
func (g *Graph) NextRouteStep(routeID string, order int) (*domain.Step, *RoutePosition, error) {
	route, err := g.Route(routeID)
	if err != nil {
		return nil, nil, err
	}
	for _, rs := range route.Steps {
		if rs.OrderIndex > order {
			step, err := g.Step(rs.StepID)
			if err != nil {
				return nil, nil, err
			}
			return step, &RoutePosition{RouteID: routeID, Order: rs.OrderIndex}, nil
		}
	}
	return nil, nil, nil
}
