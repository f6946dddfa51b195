package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

// NewInvalidArgument reports malformed caller input, e.g. negative day counts.
func NewInvalidArgument(message string, details map[string]any) error {
	return NewDomainError("INVALID_ARGUMENT", message, http.StatusBadRequest, details)
}

// NewInvalidWorkflowConfiguration reports dangling references or ambiguous
// step configuration. Not retryable; requires a configuration fix.
func NewInvalidWorkflowConfiguration(message string, details map[string]any) error {
	return NewDomainError("INVALID_WORKFLOW_CONFIGURATION", message, http.StatusUnprocessableEntity, details)
}

// NewUnknownDecision reports a decision key that no transition of the current
// step recognizes.
func NewUnknownDecision(stepID, decisionKey string) error {
	return NewDomainError("UNKNOWN_DECISION", "decision not recognized for current step", http.StatusUnprocessableEntity, map[string]any{
		"step_id":      stepID,
		"decision_key": decisionKey,
	})
}

func NewUnresolvableAssignment(message string, details map[string]any) error {
	return NewDomainError("UNRESOLVABLE_ASSIGNMENT", message, http.StatusUnprocessableEntity, details)
}

func NewNoEligibleAssignee(roleID string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["role_id"] = roleID
	return NewDomainError("NO_ELIGIBLE_ASSIGNEE", "no eligible user holds the required role", http.StatusUnprocessableEntity, details)
}

func NewNoSuperiorDefined(positionID string) error {
	return NewDomainError("NO_SUPERIOR_DEFINED", "requester position has no configured superior", http.StatusUnprocessableEntity, map[string]any{
		"position_id": positionID,
	})
}

func NewMissingBossReference(fieldID string) error {
	return NewDomainError("MISSING_BOSS_REFERENCE", "boss reference field has no value on this ticket", http.StatusUnprocessableEntity, map[string]any{
		"field_id": fieldID,
	})
}

// NewManualSelectionRequired signals that the step needs caller-supplied
// assignees. It is a control-flow signal, not a failure.
func NewManualSelectionRequired(stepID string) error {
	return NewDomainError("MANUAL_SELECTION_REQUIRED", "step requires manual assignee selection", http.StatusConflict, map[string]any{
		"step_id": stepID,
	})
}

// NewConcurrentAdvancementConflict reports that two transitions raced on the
// same ticket. Retryable after re-fetching ticket state.
func NewConcurrentAdvancementConflict(ticketID string) error {
	return NewDomainError("CONCURRENT_ADVANCEMENT_CONFLICT", "ticket was advanced by a concurrent request", http.StatusConflict, map[string]any{
		"ticket_id": ticketID,
	})
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err carries the given DomainError code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
