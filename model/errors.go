package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
)

// Composer-specific error codes. All of them except ErrSaveFailed are
// rejections: the operation was refused and nothing was mutated.
const (
	ErrDuplicatePlacement   = "DUPLICATE_PLACEMENT"
	ErrNoAvailableSubstages = "NO_AVAILABLE_SUBSTAGES"
	ErrEmptySelection       = "EMPTY_SELECTION"
	ErrCrossStageMove       = "CROSS_STAGE_MOVE"
	ErrInvalidDependency    = "INVALID_DEPENDENCY"
	ErrUnknownParameter     = "UNKNOWN_PARAMETER"
	ErrSessionNotFound      = "SESSION_NOT_FOUND"
	ErrSaveFailed           = "SAVE_FAILED"
)

// ErrorEnvelope is the standard error response envelope returned by the API.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IsRejection reports whether err is a user-facing rejection, i.e. an
// envelope whose code means "refused, nothing changed".
func IsRejection(err error) bool {
	var ee *ErrorEnvelope
	if !errors.As(err, &ee) {
		return false
	}
	switch ee.Code {
	case ErrDuplicatePlacement, ErrNoAvailableSubstages, ErrEmptySelection,
		ErrCrossStageMove, ErrInvalidDependency, ErrUnknownParameter,
		ErrValidationError, ErrBadRequest:
		return true
	}
	return false
}

// CodeOf returns the envelope code carried by err, or ErrInternalError.
func CodeOf(err error) string {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ErrInternalError
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The configuration service is temporarily unavailable",
	}
}

// NewDuplicatePlacementError is returned when a substage template is already
// placed in the target stage.
func NewDuplicatePlacementError(substageName, stageName string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDuplicatePlacement,
		Message: fmt.Sprintf("%q already exists in this stage (%s)", substageName, stageName),
	}
}

// NewNoAvailableSubstagesError is returned when the catalogue has no
// substage templates for a stage.
func NewNoAvailableSubstagesError(stageName string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrNoAvailableSubstages,
		Message: fmt.Sprintf("no available substages for stage %q", stageName),
	}
}

// NewEmptySelectionError is returned for bulk operations with nothing selected.
func NewEmptySelectionError(what string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrEmptySelection,
		Message: fmt.Sprintf("select at least one %s", what),
	}
}

// NewCrossStageMoveError is returned when a substage is dragged onto a
// substage of another stage.
func NewCrossStageMoveError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrCrossStageMove,
		Message: "substages can only be reordered within their own stage",
	}
}

// NewInvalidDependencyError is returned when a dependency edge would break
// the "strictly earlier" ordering rule or targets an unknown record.
func NewInvalidDependencyError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidDependency, Message: msg}
}

// NewUnknownParameterError is returned when a parameter name is not editable
// for the record's substage.
func NewUnknownParameterError(name string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUnknownParameter,
		Message: fmt.Sprintf("parameter %q is not defined for this substage", name),
	}
}

// NewSessionNotFoundError returns a SESSION_NOT_FOUND error.
func NewSessionNotFoundError(sessionID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSessionNotFound,
		Message: fmt.Sprintf("editing session %q not found or expired", sessionID),
	}
}

// NewSaveFailedError wraps a persistence failure. Local edits are kept.
func NewSaveFailedError(cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSaveFailed,
		Message: fmt.Sprintf("saving the configuration failed, your edits are kept: %v", cause),
	}
}
