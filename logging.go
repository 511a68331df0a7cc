package shopstore

import (
	"time"

	"github.com/rs/zerolog"
)

// Log event names
const (
	// Repository events
	EventCounterReserved   = "counter_reserved"
	EventEntityCreated     = "entity_created"
	EventEntityUpdated     = "entity_updated"
	EventEntitySoftDeleted = "entity_soft_deleted"
	EventEntityRestored    = "entity_restored"
	EventEntityHardDeleted = "entity_hard_deleted"

	// Order events
	EventOrderCreated        = "order_created"
	EventOrderCreateFailed   = "order_create_failed"
	EventOrderOverflowFailed = "order_overflow_failed"
	EventOrderCancelled      = "order_cancelled"
	EventOrderTransitioned   = "order_transitioned"

	// Collaborator and infrastructure events
	EventFactDropped        = "fact_dropped"
	EventStoreError         = "store_error"
	EventStreamRecordFailed = "stream_record_failed"
)

// LogCounterReserved logs a value handed out by the counter service
func LogCounterReserved(logger zerolog.Logger, counter string, value int64) {
	logger.Debug().
		Str("event", EventCounterReserved).
		Str("counter", counter).
		Int64("value", value).
		Msg("Counter reserved")
}

// LogEntityCreated logs a successful create
func LogEntityCreated(logger zerolog.Logger, entityType, pk, sk string) {
	logger.Info().
		Str("event", EventEntityCreated).
		Str("entity_type", entityType).
		Str("pk", pk).
		Str("sk", sk).
		Msg("Entity created")
}

// LogEntityUpdated logs a successful update
func LogEntityUpdated(logger zerolog.Logger, entityType, pk, sk string, version int64) {
	logger.Debug().
		Str("event", EventEntityUpdated).
		Str("entity_type", entityType).
		Str("pk", pk).
		Str("sk", sk).
		Int64("version", version).
		Msg("Entity updated")
}

// LogEntitySoftDeleted logs a soft delete
func LogEntitySoftDeleted(logger zerolog.Logger, entityType, pk, sk string) {
	logger.Info().
		Str("event", EventEntitySoftDeleted).
		Str("entity_type", entityType).
		Str("pk", pk).
		Str("sk", sk).
		Msg("Entity soft deleted")
}

// LogEntityRestored logs a restore
func LogEntityRestored(logger zerolog.Logger, entityType, pk, sk string) {
	logger.Info().
		Str("event", EventEntityRestored).
		Str("entity_type", entityType).
		Str("pk", pk).
		Str("sk", sk).
		Msg("Entity restored")
}

// LogEntityHardDeleted logs an irreversible removal
func LogEntityHardDeleted(logger zerolog.Logger, entityType, pk, sk string) {
	logger.Warn().
		Str("event", EventEntityHardDeleted).
		Str("entity_type", entityType).
		Str("pk", pk).
		Str("sk", sk).
		Msg("Entity hard deleted")
}

// LogOrderCreated logs a committed order
func LogOrderCreated(logger zerolog.Logger, orderID int64, orderNumber string, lines, pending int, duration time.Duration) {
	logger.Info().
		Str("event", EventOrderCreated).
		Int64("order_id", orderID).
		Str("order_number", orderNumber).
		Int("lines", lines).
		Int("pending_lines", pending).
		Dur("duration", duration).
		Msg("Order created")
}

// LogOrderCreateFailed logs an order transaction that did not commit
func LogOrderCreateFailed(logger zerolog.Logger, orderNumber string, err error) {
	logger.Error().
		Str("event", EventOrderCreateFailed).
		Str("order_number", orderNumber).
		Err(err).
		Msg("Order creation failed")
}

// LogOrderOverflowFailed logs order lines that could not be written after commit
func LogOrderOverflowFailed(logger zerolog.Logger, orderID int64, pending int, err error) {
	logger.Error().
		Str("event", EventOrderOverflowFailed).
		Int64("order_id", orderID).
		Int("pending_lines", pending).
		Err(err).
		Msg("Order overflow lines not written")
}

// LogOrderCancelled logs a cancellation and how many variants were restocked
func LogOrderCancelled(logger zerolog.Logger, orderID int64, restocked int) {
	logger.Info().
		Str("event", EventOrderCancelled).
		Int64("order_id", orderID).
		Int("restocked_variants", restocked).
		Msg("Order cancelled")
}

// LogOrderTransitioned logs an order status change
func LogOrderTransitioned(logger zerolog.Logger, orderID int64, from, to OrderStatus) {
	logger.Info().
		Str("event", EventOrderTransitioned).
		Int64("order_id", orderID).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Order status changed")
}

// LogFactDropped logs a fact the notification collaborator failed to accept
func LogFactDropped(logger zerolog.Logger, kind FactKind, entityID string, err error) {
	logger.Warn().
		Str("event", EventFactDropped).
		Str("kind", string(kind)).
		Str("entity_id", entityID).
		Err(err).
		Msg("Fact dropped")
}

// LogStoreError logs errors returned by the underlying table
func LogStoreError(logger zerolog.Logger, operation string, err error) {
	logger.Error().
		Str("event", EventStoreError).
		Str("operation", operation).
		Str("code", ErrorCode(err)).
		Err(err).
		Msg("Store error")
}

// LogStreamRecordFailed logs a stream record that will be retried
func LogStreamRecordFailed(logger zerolog.Logger, eventID, eventName string, err error) {
	logger.Error().
		Str("event", EventStreamRecordFailed).
		Str("event_id", eventID).
		Str("event_name", eventName).
		Err(err).
		Msg("Stream record failed")
}

// RepositoryLogger creates a logger enriched with repository context
func RepositoryLogger(baseLogger zerolog.Logger, entityType string) zerolog.Logger {
	return baseLogger.With().
		Str("component", "repository").
		Str("entity_type", entityType).
		Logger()
}

// OrderLogger creates a logger enriched with order context
func OrderLogger(baseLogger zerolog.Logger, orderID int64, orderNumber string) zerolog.Logger {
	return baseLogger.With().
		Int64("order_id", orderID).
		Str("order_number", orderNumber).
		Logger()
}
