package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/sicko7947/shopstore"
)

// Cancellation reason codes reported by TransactWriteItems
const (
	ReasonNone                   = "None"
	ReasonConditionalCheckFailed = "ConditionalCheckFailed"
	ReasonTransactionConflict    = "TransactionConflict"
	ReasonThrottlingError        = "ThrottlingError"
)

var throttleCodes = map[string]bool{
	"ThrottlingException":                    true,
	"ProvisionedThroughputExceededException": true,
	"RequestLimitExceeded":                   true,
	"LimitExceededException":                 true,
}

// classify maps a native DynamoDB error into the store taxonomy.
// Errors that are already typed pass through unchanged.
func classify(err error, op, entity string, key Key) error {
	if err == nil {
		return nil
	}

	var se *shopstore.StoreError
	if errors.As(err, &se) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return shopstore.NewConflictError(entity, key.String(), "condition check failed").WithCause(err)
	}

	var ipm *types.IdempotentParameterMismatchException
	if errors.As(err, &ipm) {
		return shopstore.NewConflictError(entity, key.String(), "idempotency token reused with different parameters").WithCause(err)
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		codes := reasonCodes(tce.CancellationReasons)
		retryable := false
		for _, code := range codes {
			if code == ReasonTransactionConflict || code == ReasonThrottlingError {
				retryable = true
			}
		}
		return shopstore.NewStoreError(shopstore.ErrCodeTransactionAborted, "transaction cancelled").
			WithEntity(entity, key.String()).
			WithDetails(map[string]interface{}{"reasons": codes, "retryable": retryable}).
			WithCause(err)
	}

	var tip *types.TransactionInProgressException
	if errors.As(err, &tip) {
		return shopstore.NewStoreError(shopstore.ErrCodeTransactionAborted, "transaction in progress").
			WithEntity(entity, key.String()).
			WithDetails(map[string]interface{}{"retryable": true}).
			WithCause(err)
	}

	var ae smithy.APIError
	if errors.As(err, &ae) && throttleCodes[ae.ErrorCode()] {
		return shopstore.NewStoreError(shopstore.ErrCodeThrottled, ae.ErrorMessage()).
			WithEntity(entity, key.String()).
			WithCause(err)
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}

// CancellationReasons returns the per-item reasons of a cancelled transaction.
// The slice is index-aligned with the submitted TransactItems.
func CancellationReasons(err error) ([]types.CancellationReason, bool) {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		return tce.CancellationReasons, true
	}
	return nil, false
}

// ConditionFailedItem returns the ALL_OLD image attached to a failed
// conditional write, if the request asked for it
func ConditionFailedItem(err error) (map[string]types.AttributeValue, bool) {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ccf.Item, true
	}
	return nil, false
}

func reasonCodes(reasons []types.CancellationReason) []string {
	codes := make([]string, len(reasons))
	for i, r := range reasons {
		codes[i] = aws.ToString(r.Code)
		if codes[i] == "" {
			codes[i] = ReasonNone
		}
	}
	return codes
}

func reasonFailed(r types.CancellationReason) bool {
	return aws.ToString(r.Code) == ReasonConditionalCheckFailed
}

// ReasonFailed reports whether a cancellation reason is a failed condition
func ReasonFailed(r types.CancellationReason) bool {
	return reasonFailed(r)
}

// Classify maps a native DynamoDB error into the store taxonomy for
// coordinators outside this package
func Classify(err error, op, entity string, key Key) error {
	return classify(err, op, entity, key)
}
