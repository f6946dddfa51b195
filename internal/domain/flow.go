package domain

import "time"

// FlowStatus enumerates lifecycle states for a workflow definition.
type FlowStatus string

const (
	FlowStatusActive   FlowStatus = "ACTIVE"
	FlowStatusInactive FlowStatus = "INACTIVE"
)

// Flow is a configured workflow: an ordered set of steps bound to a ticket
// subcategory.
type Flow struct {
	ID             string
	Name           string     `validate:"required,min=3"`
	SubcategoryID  string     `validate:"required"`
	ObserverUserID *string
	Status         FlowStatus `validate:"required"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AssignmentStrategy is the resolved assignment variant of a step. Exactly one
// strategy must be derivable from a step's configuration; ambiguous or empty
// configuration is rejected when the step is saved, not at runtime.
type AssignmentStrategy string

const (
	StrategyRoleBased       AssignmentStrategy = "ROLE_BASED"
	StrategyManualSelection AssignmentStrategy = "MANUAL_SELECTION"
	StrategyCreatorAuto     AssignmentStrategy = "CREATOR_AUTO"
	StrategyBossReference   AssignmentStrategy = "BOSS_REFERENCE"
	StrategyHierarchical    AssignmentStrategy = "HIERARCHICAL"
)

// Step is one stage of a flow. BusinessHours is the SLA used to stamp the due
// date when a ticket enters the step.
type Step struct {
	ID                      string
	FlowID                  string `validate:"required"`
	OrderIndex              int    `validate:"gte=1"`
	Name                    string `validate:"required,min=3"`
	Description             string
	BusinessHours           int `validate:"gte=0"`
	AssignedRoleID          *string
	RequiresManualSelection bool
	IsNationalTask          bool
	RequiresApproval        bool
	AllowsClosing           bool
	RequiresBossApproval    bool
	IsParallel              bool
	RequiresSignature       bool
	AssignToCreator         bool
	BossReferenceFieldID    *string
	Hierarchical            bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Strategy derives the tagged assignment variant from the step's configuration
// flags. It returns false when zero or more than one strategy is configured.
func (s *Step) Strategy() (AssignmentStrategy, bool) {
	var (
		strategy AssignmentStrategy
		count    int
	)
	if s.AssignToCreator {
		strategy = StrategyCreatorAuto
		count++
	}
	if s.BossReferenceFieldID != nil {
		strategy = StrategyBossReference
		count++
	}
	if s.RequiresManualSelection {
		strategy = StrategyManualSelection
		count++
	}
	if s.AssignedRoleID != nil {
		strategy = StrategyRoleBased
		count++
	}
	if s.Hierarchical {
		strategy = StrategyHierarchical
		count++
	}
	if count != 1 {
		return "", false
	}
	return strategy, true
}

// Transition is a labeled edge out of a step, keyed by a decision. Destination
// is either a step or a route, mutually exclusive; a closing transition may
// carry neither.
type Transition struct {
	ID                 string
	OriginStepID       string `validate:"required"`
	DestinationStepID  *string
	DestinationRouteID *string
	DecisionKey        string `validate:"required,uppercase"`
	Label              string `validate:"required"`
	ClosesTicket       bool
	OrderIndex         int
}

// Route is a named ordered sub-sequence of steps usable as a transition
// destination; entering a route means entering its first step.
type Route struct {
	ID     string
	FlowID string `validate:"required"`
	Name   string `validate:"required"`
	Steps  []RouteStep
}

// RouteStep binds a step into a route at a position. Order starts at 1.
type RouteStep struct {
	RouteID    string
	StepID     string
	OrderIndex int
}
