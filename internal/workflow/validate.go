package workflow

import (
	"github.com/go-playground/validator/v10"

	"github.com/spec-kit/workflow-service/internal/domain"
	apperrors "github.com/spec-kit/workflow-service/pkg/util/errorutil"
)

// ConfigValidator checks flow configuration before it is accepted. Field
// rules come from the struct tags; the assignment-strategy invariant and the
// referential checks come from graph construction, so a configuration that
// passes here is one the navigator can run.
type ConfigValidator struct {
	validate *validator.Validate
}

// NewConfigValidator creates the validator.
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{validate: validator.New()}
}

// ValidateFlowConfig validates a full flow configuration. It returns
// InvalidWorkflowConfiguration with field details on the first violation.
func (v *ConfigValidator) ValidateFlowConfig(flow *domain.Flow, steps []*domain.Step, transitions []*domain.Transition, routes []*domain.Route) error {
	if err := v.validate.Struct(flow); err != nil {
		return invalidConfig("flow", flow.ID, err)
	}
	for _, step := range steps {
		if err := v.validate.Struct(step); err != nil {
			return invalidConfig("step", step.ID, err)
		}
		if _, ok := step.Strategy(); !ok {
			return apperrors.NewInvalidWorkflowConfiguration("step must configure exactly one assignment strategy", map[string]any{
				"step_id": step.ID,
			})
		}
	}
	for _, tr := range transitions {
		if err := v.validate.Struct(tr); err != nil {
			return invalidConfig("transition", tr.ID, err)
		}
	}
	for _, route := range routes {
		if err := v.validate.Struct(route); err != nil {
			return invalidConfig("route", route.ID, err)
		}
	}

	// Referential and uniqueness checks.
	if _, err := NewGraph(flow, steps, transitions, routes); err != nil {
		return err
	}
	return nil
}

func invalidConfig(kind, id string, err error) error {
	details := map[string]any{kind + "_id": id}
	if fieldErrors, ok := err.(validator.ValidationErrors); ok {
		violations := make([]string, 0, len(fieldErrors))
		for _, fe := range fieldErrors {
			violations = append(violations, fe.Namespace()+" "+fe.Tag())
		}
		details["violations"] = violations
	}
	return apperrors.NewInvalidWorkflowConfiguration("invalid "+kind+" configuration", details)
}
