package apperror

import (
	"errors"
	"fmt"
)

type Type string

const (
	DecodeError       Type = "decode"
	TransportError    Type = "transport"
	SubscriptionError Type = "subscription"
	ValidationError   Type = "validation"
	ConflictError     Type = "conflict"
	NotFoundError     Type = "not_found"
	StorageError      Type = "storage"
)

type AppError struct {
	Type    Type
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewDecodeError(message string, cause error) *AppError {
	return &AppError{Type: DecodeError, Message: message, Cause: cause}
}

func NewTransportError(message string, cause error) *AppError {
	return &AppError{Type: TransportError, Message: message, Cause: cause}
}

func NewSubscriptionError(message string, cause error) *AppError {
	return &AppError{Type: SubscriptionError, Message: message, Cause: cause}
}

func NewValidationError(message string, cause error) *AppError {
	return &AppError{Type: ValidationError, Message: message, Cause: cause}
}

func NewConflictError(message string, cause error) *AppError {
	return &AppError{Type: ConflictError, Message: message, Cause: cause}
}

func NewNotFoundError(message string, cause error) *AppError {
	return &AppError{Type: NotFoundError, Message: message, Cause: cause}
}

func NewStorageError(message string, cause error) *AppError {
	return &AppError{Type: StorageError, Message: message, Cause: cause}
}

// Is reports whether any error in err's chain is an AppError of type t.
func Is(err error, t Type) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}
