// Package stream turns table stream records into domain facts and finishes
// the work of background expiry. It is meant to run as a Lambda function
// subscribed to the table stream with NEW_AND_OLD_IMAGES.
package stream

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/sicko7947/shopstore"
	"github.com/sicko7947/shopstore/store"
)

// Items deleted by the TTL service carry this identity
const (
	ttlServiceType      = "Service"
	ttlServicePrincipal = "dynamodb.amazonaws.com"
)

// CartPurger removes the lines of a cart whose header has expired
type CartPurger interface {
	Clear(ctx context.Context, sessionID string) error
}

// Handler processes table stream records. Facts are emitted at least once:
// a record whose handling fails is reported back and redelivered.
type Handler struct {
	carts     CartPurger
	notifier  shopstore.Notifier
	logger    zerolog.Logger
	threshold int64
}

// Option configures the handler
type Option func(*Handler)

// WithLogger sets a custom logger for the handler
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithLowStockThreshold sets the stock level at or below which a variant
// is reported
func WithLowStockThreshold(n int64) Option {
	return func(h *Handler) {
		h.threshold = n
	}
}

// NewHandler creates a stream handler
func NewHandler(carts CartPurger, notifier shopstore.Notifier, opts ...Option) *Handler {
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	h := &Handler{
		carts:     carts,
		notifier:  notifier,
		logger:    defaultLogger,
		threshold: shopstore.DefaultConfig.LowStockThreshold,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes a batch in order. Processing stops at the first failing
// record, which is reported as the batch item failure so the stream resumes
// from it.
func (h *Handler) Handle(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			shopstore.LogStreamRecordFailed(h.logger, record.EventID, record.EventName, err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
				ItemIdentifier: record.Change.SequenceNumber,
			})
			return resp, nil
		}
	}
	return resp, nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	image := record.Change.NewImage
	if record.EventName == string(events.DynamoDBOperationTypeRemove) {
		image = record.Change.OldImage
	}

	switch getStringAttr(image, store.AttrEntityType) {
	case store.EntityTypeVariant:
		if record.EventName == string(events.DynamoDBOperationTypeModify) {
			return h.variantChanged(ctx, record.Change.OldImage, record.Change.NewImage)
		}
	case store.EntityTypeOrder:
		if record.EventName == string(events.DynamoDBOperationTypeModify) {
			return h.orderChanged(ctx, record.Change.OldImage, record.Change.NewImage)
		}
	case store.EntityTypeCart:
		if record.EventName == string(events.DynamoDBOperationTypeRemove) && expiredByTTL(record) {
			return h.cartExpired(ctx, record.Change.OldImage)
		}
	}
	return nil
}

func expiredByTTL(record events.DynamoDBEventRecord) bool {
	id := record.UserIdentity
	return id != nil && id.Type == ttlServiceType && id.PrincipalID == ttlServicePrincipal
}

// variantChanged reports a variant whose stock crossed down to the threshold
func (h *Handler) variantChanged(ctx context.Context, oldImage, newImage map[string]events.DynamoDBAttributeValue) error {
	if hasAttr(newImage, store.AttrDeletedAt) {
		return nil
	}
	before, ok := getNumberAttr(oldImage, "stock")
	if !ok {
		return nil
	}
	after, ok := getNumberAttr(newImage, "stock")
	if !ok || before <= h.threshold || after > h.threshold {
		return nil
	}

	id, _ := getNumberAttr(newImage, "id")
	productID, _ := getNumberAttr(newImage, "product_id")
	sku := getStringAttr(newImage, "sku")

	return h.emit(ctx, shopstore.Fact{
		Kind:       shopstore.FactLowStock,
		EntityType: store.EntityTypeVariant,
		EntityID:   fmt.Sprint(id),
		Message:    fmt.Sprintf("Stock of %s is down to %d", sku, after),
		Attributes: map[string]string{
			"product_id": fmt.Sprint(productID),
			"sku":        sku,
			"stock":      fmt.Sprint(after),
			"threshold":  fmt.Sprint(h.threshold),
		},
	})
}

// orderChanged reports orders that became paid or shipped
func (h *Handler) orderChanged(ctx context.Context, oldImage, newImage map[string]events.DynamoDBAttributeValue) error {
	before := shopstore.OrderStatus(getStringAttr(oldImage, "status"))
	after := shopstore.OrderStatus(getStringAttr(newImage, "status"))
	if before == after {
		return nil
	}

	var kind shopstore.FactKind
	switch after {
	case shopstore.OrderStatusPaid:
		kind = shopstore.FactOrderPaid
	case shopstore.OrderStatusShipped:
		kind = shopstore.FactOrderShipped
	default:
		return nil
	}

	id, _ := getNumberAttr(newImage, "id")
	number := getStringAttr(newImage, "order_number")
	attrs := map[string]string{
		"order_number": number,
		"email":        getStringAttr(newImage, "email"),
		"from":         string(before),
	}
	if tn := getStringAttr(newImage, "tracking_number"); tn != "" {
		attrs["tracking_number"] = tn
	}

	return h.emit(ctx, shopstore.Fact{
		Kind:       kind,
		EntityType: store.EntityTypeOrder,
		EntityID:   fmt.Sprint(id),
		Message:    fmt.Sprintf("Order %s is %s", number, after),
		Attributes: attrs,
	})
}

// cartExpired removes the lines left behind by an expired cart header
func (h *Handler) cartExpired(ctx context.Context, oldImage map[string]events.DynamoDBAttributeValue) error {
	if getStringAttr(oldImage, store.AttrSK) != store.SKMetadata {
		return nil
	}
	session := getStringAttr(oldImage, "session_id")
	if session == "" {
		return nil
	}
	if err := h.carts.Clear(ctx, session); err != nil {
		return fmt.Errorf("failed to purge cart %s: %w", session, err)
	}
	h.logger.Debug().Str("session_id", session).Msg("Expired cart purged")
	return nil
}

func (h *Handler) emit(ctx context.Context, fact shopstore.Fact) error {
	if h.notifier == nil {
		return nil
	}
	if fact.OccurredAt.IsZero() {
		fact.OccurredAt = time.Now().UTC()
	}
	if err := h.notifier.Notify(ctx, fact); err != nil {
		return fmt.Errorf("failed to deliver %s fact: %w", fact.Kind, err)
	}
	return nil
}
