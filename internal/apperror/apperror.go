package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes returned to API callers
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodePermission        = "PERMISSION_DENIED"
	CodeConflict          = "CONFLICT"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Error is a domain error carrying a stable code and its HTTP status
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error with the same code, so errors.Is(err, apperror.ErrConflict) works
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons
var (
	ErrValidation        = &Error{Code: CodeValidation, Status: http.StatusBadRequest, Message: "validation failed"}
	ErrNotFound          = &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: "not found"}
	ErrPermission        = &Error{Code: CodePermission, Status: http.StatusForbidden, Message: "permission denied"}
	ErrConflict          = &Error{Code: CodeConflict, Status: http.StatusConflict, Message: "conflict"}
	ErrInsufficientStock = &Error{Code: CodeInsufficientStock, Status: http.StatusBadRequest, Message: "insufficient stock"}
	ErrUnauthorized      = &Error{Code: CodeUnauthorized, Status: http.StatusUnauthorized, Message: "unauthorized"}
)

func Validation(format string, args ...any) error {
	return &Error{Code: CodeValidation, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

func Permission(format string, args ...any) error {
	return &Error{Code: CodePermission, Status: http.StatusForbidden, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Code: CodeConflict, Status: http.StatusConflict, Message: fmt.Sprintf(format, args...)}
}

func InsufficientStock(format string, args ...any) error {
	return &Error{Code: CodeInsufficientStock, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) error {
	return &Error{Code: CodeUnauthorized, Status: http.StatusUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// HTTPStatus resolves the status and code for any error; unknown errors are internal
func HTTPStatus(err error) (int, string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Status, e.Code
	}
	return http.StatusInternalServerError, CodeInternal
}
