package store

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Soft delete and TTL helpers.
//
// deleted_at marks a row as logically deleted; active read paths filter it
// out. ttl is epoch seconds consumed by the table's background expiry, which
// may run long after the deadline, so reads of ephemeral rows also compare it
// against the clock.

// activeFilter excludes soft-deleted rows
func activeFilter() expression.ConditionBuilder {
	return expression.AttributeNotExists(expression.Name(AttrDeletedAt))
}

// unexpiredFilter excludes rows whose ttl has passed
func unexpiredFilter(now time.Time) expression.ConditionBuilder {
	return expression.Or(
		expression.AttributeNotExists(expression.Name(AttrTTL)),
		expression.Name(AttrTTL).GreaterThan(expression.Value(now.Unix())),
	)
}

// IsDeleted reports whether a raw item carries the soft-delete marker
func IsDeleted(item map[string]types.AttributeValue) bool {
	_, ok := item[AttrDeletedAt]
	return ok
}

// IsExpired reports whether a raw item's ttl lies in the past
func IsExpired(item map[string]types.AttributeValue, now time.Time) bool {
	ttl, ok := numberAttr(item, AttrTTL)
	return ok && ttl > 0 && ttl <= now.Unix()
}

// expired reports whether an entity ttl lies in the past
func expired(ttl int64, now time.Time) bool {
	return ttl > 0 && ttl <= now.Unix()
}
