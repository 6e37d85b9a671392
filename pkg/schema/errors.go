package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeConfiguration     = "CONFIGURATION_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeKeyboard          = "KEYBOARD_ERROR"
	ErrCodeMouse             = "MOUSE_ERROR"
	ErrCodeDriver            = "DRIVER_ERROR"
	ErrCodeParallel          = "PARALLEL_EXECUTION_ERROR"
	ErrCodeRoutine           = "ROUTINE_ERROR"
	ErrCodeRegistry          = "REGISTRY_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeExpression        = "EXPRESSION_ERROR"
)

// actionCodes is the ActionError family: failures raised while driving input.
var actionCodes = map[string]bool{
	ErrCodeKeyboard: true,
	ErrCodeMouse:    true,
	ErrCodeDriver:   true,
	ErrCodeParallel: true,
}

// MacroError is the structured error type for all dsmacro operations.
type MacroError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RoutineID *int64         `json:"routine_id,omitempty"`
	Cause     error          `json:"-"`
}

func (e *MacroError) Error() string {
	if e.RoutineID != nil {
		return fmt.Sprintf("[%s] routine %d: %s", e.Code, *e.RoutineID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *MacroError) Unwrap() error {
	return e.Cause
}

// NewError creates a new MacroError.
func NewError(code, message string) *MacroError {
	return &MacroError{Code: code, Message: message}
}

// NewErrorf creates a new MacroError with a formatted message.
func NewErrorf(code, format string, args ...any) *MacroError {
	return &MacroError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithRoutine attaches a routine ID to the error.
func (e *MacroError) WithRoutine(id int64) *MacroError {
	e.RoutineID = &id
	return e
}

// WithCause attaches an underlying cause.
func (e *MacroError) WithCause(err error) *MacroError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *MacroError) WithDetails(details map[string]any) *MacroError {
	e.Details = details
	return e
}

// CodeOf returns the code of the outermost MacroError in err's chain, or "".
func CodeOf(err error) string {
	var me *MacroError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// HasCode reports whether any MacroError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var me *MacroError
		if !errors.As(err, &me) {
			return false
		}
		if me.Code == code {
			return true
		}
		err = me.Cause
	}
	return false
}

// IsActionError reports whether err belongs to the ActionError family
// (keyboard, mouse, driver transport or parallel execution failures).
func IsActionError(err error) bool {
	for err != nil {
		var me *MacroError
		if !errors.As(err, &me) {
			return false
		}
		if actionCodes[me.Code] {
			return true
		}
		err = me.Cause
	}
	return false
}
