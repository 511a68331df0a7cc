package shopstore

import (
	"errors"
	"fmt"
)

// Error codes
const (
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeStockConflict        = "STOCK_CONFLICT"
	ErrCodeDuplicateOrderNumber = "DUPLICATE_ORDER_NUMBER"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeThrottled            = "THROTTLED"
	ErrCodeTransactionAborted   = "TRANSACTION_ABORTED"
	ErrCodeDecode               = "DECODE_ERROR"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. A *StoreError matches a sentinel when the codes are equal.
var (
	ErrNotFound             = &StoreError{Code: ErrCodeNotFound, Message: "not found"}
	ErrConflict             = &StoreError{Code: ErrCodeConflict, Message: "conflict"}
	ErrStockConflict        = &StoreError{Code: ErrCodeStockConflict, Message: "insufficient stock"}
	ErrDuplicateOrderNumber = &StoreError{Code: ErrCodeDuplicateOrderNumber, Message: "duplicate order number"}
	ErrValidation           = &StoreError{Code: ErrCodeValidation, Message: "validation failed"}
	ErrThrottled            = &StoreError{Code: ErrCodeThrottled, Message: "throttled"}
	ErrTransactionAborted   = &StoreError{Code: ErrCodeTransactionAborted, Message: "transaction aborted"}
	ErrDecode               = &StoreError{Code: ErrCodeDecode, Message: "decode failed"}
	ErrInvalidTransition    = &StoreError{Code: ErrCodeInvalidTransition, Message: "invalid status transition"}
)

// StoreError is the typed error returned by the data-access core
type StoreError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Entity  string                 `json:"entity,omitempty"`
	Key     string                 `json:"key,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

// Error implements the error interface
func (e *StoreError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Entity != "" {
		msg = fmt.Sprintf("%s (%s %s)", msg, e.Entity, e.Key)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying store error, if any
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches on code so callers can compare against the package sentinels
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewStoreError creates a new store error
func NewStoreError(code, message string) *StoreError {
	return &StoreError{Code: code, Message: message}
}

// WithEntity records which row the error refers to
func (e *StoreError) WithEntity(entity, key string) *StoreError {
	e.Entity = entity
	e.Key = key
	return e
}

// WithDetails adds details to the error
func (e *StoreError) WithDetails(details map[string]interface{}) *StoreError {
	e.Details = details
	return e
}

// WithCause attaches the native error the store returned
func (e *StoreError) WithCause(err error) *StoreError {
	e.Err = err
	return e
}

// NewNotFoundError creates a NOT_FOUND error for the given row
func NewNotFoundError(entity, key string) *StoreError {
	return NewStoreError(ErrCodeNotFound, "entity not found").WithEntity(entity, key)
}

// NewConflictError creates a CONFLICT error
func NewConflictError(entity, key, message string) *StoreError {
	return NewStoreError(ErrCodeConflict, message).WithEntity(entity, key)
}

// NewValidationError creates a VALIDATION_ERROR
func NewValidationError(format string, args ...interface{}) *StoreError {
	return NewStoreError(ErrCodeValidation, fmt.Sprintf(format, args...))
}

// NewDecodeError creates a DECODE_ERROR for a row that could not become a typed entity
func NewDecodeError(entity, key, message string) *StoreError {
	return NewStoreError(ErrCodeDecode, message).WithEntity(entity, key)
}

func hasCode(err error, code string) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// ErrorCode returns the code of a *StoreError in the chain, or ErrCodeInternalError
func ErrorCode(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternalError
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsConflict checks if an error is a uniqueness or version conflict
func IsConflict(err error) bool { return hasCode(err, ErrCodeConflict) }

// IsStockConflict checks if an order failed for lack of inventory
func IsStockConflict(err error) bool { return hasCode(err, ErrCodeStockConflict) }

// IsDuplicateOrderNumber checks if the generated order number was already taken
func IsDuplicateOrderNumber(err error) bool { return hasCode(err, ErrCodeDuplicateOrderNumber) }

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsThrottled checks if the store rejected the call for capacity
func IsThrottled(err error) bool { return hasCode(err, ErrCodeThrottled) }

// IsTransactionAborted checks if a multi-item transaction was cancelled
func IsTransactionAborted(err error) bool { return hasCode(err, ErrCodeTransactionAborted) }

// IsRetryable reports whether the same call may be repeated. Only throttling and
// transaction conflicts qualify; condition failures never do.
func IsRetryable(err error) bool {
	var se *StoreError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case ErrCodeThrottled:
		return true
	case ErrCodeTransactionAborted:
		retry, _ := se.Details["retryable"].(bool)
		return retry
	}
	return false
}
