package errors

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeBinding     = "BINDING_ERROR"
	CodeRequirement = "REQUIREMENT_ERROR"
	CodeResolution  = "RESOLUTION_ERROR"
	CodeHandler     = "HANDLER_ERROR"
	CodeLoad        = "LOAD_ERROR"
)

// ErrNotStarted is returned when a dispatch is attempted before Load.
var ErrNotStarted = errors.New("dispatch engine not started")

type DispatchError struct {
	Message string
	Code    string
	Context map[string]any
	Cause   error
}

func (e *DispatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *DispatchError) Unwrap() error {
	return e.Cause
}

func (e *DispatchError) WithCause(cause error) *DispatchError {
	e.Cause = cause
	return e
}

// BindingError reports an argument that could not be bound for a command
// whose trigger already matched. Message carries the user-visible text.
type BindingError struct {
	*DispatchError
	Param string
}

func NewBindingError(message, param string) *BindingError {
	return &BindingError{
		DispatchError: &DispatchError{
			Message: message,
			Code:    CodeBinding,
			Context: map[string]any{
				"param": param,
			},
		},
		Param: param,
	}
}

// RequirementError reports a failed access check. An empty Message means
// the failure is silent and no reply is sent.
type RequirementError struct {
	*DispatchError
}

func NewRequirementError(message string) *RequirementError {
	return &RequirementError{
		DispatchError: &DispatchError{
			Message: message,
			Code:    CodeRequirement,
		},
	}
}

// ResolutionError reports a handler that could not be constructed.
type ResolutionError struct {
	*DispatchError
	Handler string
}

func NewResolutionError(handler string, cause error) *ResolutionError {
	return &ResolutionError{
		DispatchError: &DispatchError{
			Message: fmt.Sprintf("failed to resolve handler %s", handler),
			Code:    CodeResolution,
			Context: map[string]any{
				"handler": handler,
			},
			Cause: cause,
		},
		Handler: handler,
	}
}

// HandlerError wraps a fault raised by a handler body.
type HandlerError struct {
	*DispatchError
	Handler string
	Method  string
}

func NewHandlerError(handler, method string, cause error) *HandlerError {
	return &HandlerError{
		DispatchError: &DispatchError{
			Message: fmt.Sprintf("command %s.%s failed", handler, method),
			Code:    CodeHandler,
			Context: map[string]any{
				"handler": handler,
				"method":  method,
			},
			Cause: cause,
		},
		Handler: handler,
		Method:  method,
	}
}

// LoadError reports a table build that was aborted. The previously active
// table, if any, stays in effect.
type LoadError struct {
	*DispatchError
}

func NewLoadError(message string, cause error) *LoadError {
	return &LoadError{
		DispatchError: &DispatchError{
			Message: message,
			Code:    CodeLoad,
			Cause:   cause,
		},
	}
}
