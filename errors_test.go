package shopstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreError_Error(t *testing.T) {
	err := NewNotFoundError("Product", "PRODUCT#7/METADATA")
	assert.Equal(t, "[NOT_FOUND] entity not found (Product PRODUCT#7/METADATA)", err.Error())

	cause := errors.New("ConditionalCheckFailedException")
	err = NewConflictError("Product", "PRODUCT#7/METADATA", "slug already taken").WithCause(cause)
	assert.Contains(t, err.Error(), "slug already taken")
	assert.Contains(t, err.Error(), cause.Error())
	assert.ErrorIs(t, err, cause)
}

func TestStoreError_IsMatchesCode(t *testing.T) {
	wrapped := fmt.Errorf("create order: %w", NewStoreError(ErrCodeStockConflict, "short on MUG-BLUE"))

	assert.ErrorIs(t, wrapped, ErrStockConflict)
	assert.NotErrorIs(t, wrapped, ErrConflict)
	assert.True(t, IsStockConflict(wrapped))
	assert.Equal(t, ErrCodeStockConflict, ErrorCode(wrapped))
}

func TestErrorCode_Plain(t *testing.T) {
	assert.Equal(t, ErrCodeInternalError, ErrorCode(errors.New("boom")))
	assert.Equal(t, ErrCodeInternalError, ErrorCode(nil))
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		err  error
		is   func(error) bool
		name string
	}{
		{NewNotFoundError("Order", "ORDER#1"), IsNotFound, "not found"},
		{NewConflictError("Order", "ORDER#1", "stale"), IsConflict, "conflict"},
		{NewValidationError("quantity must be positive, got %d", 0), IsValidation, "validation"},
		{NewStoreError(ErrCodeDuplicateOrderNumber, "taken"), IsDuplicateOrderNumber, "duplicate order number"},
		{NewStoreError(ErrCodeThrottled, "slow down"), IsThrottled, "throttled"},
		{NewStoreError(ErrCodeTransactionAborted, "cancelled"), IsTransactionAborted, "aborted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.is(tt.err))
			assert.False(t, tt.is(errors.New(tt.name)))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewStoreError(ErrCodeThrottled, "slow down")))
	assert.True(t, IsRetryable(NewStoreError(ErrCodeTransactionAborted, "conflict").
		WithDetails(map[string]interface{}{"retryable": true})))
	assert.False(t, IsRetryable(NewStoreError(ErrCodeTransactionAborted, "condition failed")))
	assert.False(t, IsRetryable(NewConflictError("Order", "ORDER#1", "stale")))
	assert.False(t, IsRetryable(errors.New("network")))
}

func TestNewValidationError_Formats(t *testing.T) {
	err := NewValidationError("line %d: quantity must be positive", 3)
	assert.Equal(t, "line 3: quantity must be positive", err.Message)
	assert.Empty(t, err.Entity)
}
