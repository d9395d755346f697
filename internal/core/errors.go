package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeProviderError = "provider_error"
	CodeConflict      = "tool_result_conflict"
	CodeBusy          = "session_busy"
	CodeNotFound      = "session_not_found"
	CodeCancelled     = "turn_cancelled"
)

// AppError is the unified error envelope used across core components.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Status maps the code onto the status carried by error events.
func (e *AppError) Status() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case CodeConflict, CodeBusy:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func NewAppError(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// ErrorCode returns the code of the first AppError in err's chain.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// MarshalJSON keeps the external shape stable and omits the cause.
func (e *AppError) MarshalJSON() ([]byte, error) {
	type wire struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if e == nil {
		return json.Marshal(wire{})
	}
	return json.Marshal(wire{Code: e.Code, Message: e.Message})
}
