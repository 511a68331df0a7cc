package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sicko7947/shopstore"
	"github.com/sicko7947/shopstore/store"
)

// role says what a transaction item does, so a cancellation reason at the
// same index can be turned into a typed error
type role int

const (
	roleHeader role = iota
	roleGuard
	roleStock
	roleDiscount
	roleLine
)

type txEntry struct {
	role role
	ref  variantRef
	line int
}

// orderTx is the primary order transaction plus the lines that did not fit
type orderTx struct {
	items    []types.TransactWriteItem
	entries  []txEntry
	overflow []*shopstore.OrderItem
}

func (t *orderTx) add(item types.TransactWriteItem, e txEntry) {
	t.items = append(t.items, item)
	t.entries = append(t.entries, e)
}

// CreateOrder places an order. The header, its order-number guard, every
// stock decrement, the discount redemption and as many lines as fit are
// written in one transaction. Lines beyond the transaction limit are
// written afterwards and reported in Receipt.PendingLines if they fail.
//
// A failed stock condition returns STOCK_CONFLICT and a taken order number
// DUPLICATE_ORDER_NUMBER; in both cases nothing was written.
func (c *Coordinator) CreateOrder(ctx context.Context, in OrderInput) (*Receipt, error) {
	startTime := time.Now()

	if err := in.validate(); err != nil {
		return nil, err
	}

	res, err := c.resolve(ctx, in.Lines)
	if err != nil {
		return nil, err
	}

	now := c.now()
	var discount *shopstore.DiscountCode
	if in.DiscountCode != "" {
		discount, err = c.db.Discounts().GetByCode(ctx, in.DiscountCode)
		if err != nil {
			return nil, err
		}
		if !discount.Redeemable(now) {
			return nil, shopstore.NewValidationError("discount code %s cannot be redeemed", discount.Code)
		}
	}

	fixed := 2 + len(res.need)
	if discount != nil {
		fixed++
	}
	if fixed > c.config.MaxTransactItems {
		return nil, shopstore.NewValidationError("order references %d variants and needs %d transaction items, limit is %d",
			len(res.need), fixed, c.config.MaxTransactItems)
	}

	// Counter values consumed by an order that later fails are skipped
	orderID, err := c.db.Counters().Next(ctx, store.CounterOrderID)
	if err != nil {
		return nil, err
	}
	number, err := c.db.Counters().NextOrderNumber(ctx, now)
	if err != nil {
		return nil, err
	}
	logger := shopstore.OrderLogger(c.logger, orderID, number)

	items, subtotal := res.items(orderID, in.Lines)
	order := &shopstore.Order{
		ID:              orderID,
		OrderNumber:     number,
		Email:           strings.TrimSpace(in.Email),
		Status:          shopstore.OrderStatusPending,
		Currency:        in.Currency,
		SubtotalCents:   subtotal,
		ShippingCents:   in.ShippingCents,
		TaxCents:        in.TaxCents,
		ShippingAddress: in.ShippingAddress,
		LineCount:       len(items),
		Lifecycle:       shopstore.Lifecycle{CreatedAt: now, UpdatedAt: now, Version: 1},
	}
	if discount != nil {
		order.DiscountCode = discount.Code
		order.DiscountCents = store.Discount(discount, subtotal)
	}
	order.TotalCents = order.SubtotalCents - order.DiscountCents + order.ShippingCents + order.TaxCents
	for _, it := range items {
		it.Lifecycle = shopstore.Lifecycle{CreatedAt: now, UpdatedAt: now, Version: 1}
	}

	tx, err := c.buildOrderTx(order, items, res, discount)
	if err != nil {
		return nil, err
	}

	token := in.IdempotencyKey
	if token == "" {
		token = uuid.New().String()
	}

	if err := c.submit(ctx, tx.items, token, "create order", store.OrderKey(orderID)); err != nil {
		err = c.orderCancelled(err, tx, order)
		shopstore.LogOrderCreateFailed(logger, number, err)
		return nil, err
	}

	receipt := &Receipt{Order: order, Items: items}
	if len(tx.overflow) > 0 {
		receipt.PendingLines = c.writeOverflow(ctx, order, tx.overflow)
	}

	c.notify(ctx, shopstore.Fact{
		Kind:       shopstore.FactOrderCreated,
		EntityType: store.EntityTypeOrder,
		EntityID:   fmt.Sprint(orderID),
		Message:    fmt.Sprintf("Order %s placed by %s", number, order.Email),
		Attributes: map[string]string{
			"order_number": number,
			"total_cents":  fmt.Sprint(order.TotalCents),
			"currency":     order.Currency,
		},
		OccurredAt: now,
	})
	c.record(ctx, shopstore.AuditEntry{
		Action:     "order.created",
		EntityType: store.EntityTypeOrder,
		EntityID:   fmt.Sprint(orderID),
		Actor:      in.Actor,
		Details:    map[string]string{"order_number": number, "lines": fmt.Sprint(len(items))},
		OccurredAt: now,
	})

	shopstore.LogOrderCreated(logger, orderID, number, len(items), len(receipt.PendingLines), time.Since(startTime))
	return receipt, nil
}

// buildOrderTx lays out the order transaction. Stock decrements are one per
// variant with the quantities of every line summed, in key order.
func (c *Coordinator) buildOrderTx(order *shopstore.Order, items []*shopstore.OrderItem, res *resolved, discount *shopstore.DiscountCode) (*orderTx, error) {
	orders := c.db.Orders()
	tx := &orderTx{}

	header, err := orders.EncodeOrder(order)
	if err != nil {
		return nil, err
	}
	put, err := c.db.PutIfAbsent(header)
	if err != nil {
		return nil, err
	}
	tx.add(put, txEntry{role: roleHeader})

	guard, err := c.db.GuardPut(store.UniqueOrderNumber, order.OrderNumber, store.OrderKey(order.ID))
	if err != nil {
		return nil, err
	}
	tx.add(guard, txEntry{role: roleGuard})

	for _, n := range res.need {
		upd, err := c.db.Products().StockUpdate(n.ref.productID, n.ref.variantID, -n.quantity)
		if err != nil {
			return nil, err
		}
		tx.add(upd, txEntry{role: roleStock, ref: n.ref})
	}

	if discount != nil {
		upd, err := c.db.Discounts().RedeemUpdate(discount)
		if err != nil {
			return nil, err
		}
		tx.add(upd, txEntry{role: roleDiscount})
	}

	for _, it := range items {
		if len(tx.items) >= c.config.MaxTransactItems {
			tx.overflow = append(tx.overflow, it)
			continue
		}
		item, err := orders.EncodeItem(it)
		if err != nil {
			return nil, err
		}
		put, err := c.db.PutIfAbsent(item)
		if err != nil {
			return nil, err
		}
		tx.add(put, txEntry{role: roleLine, line: it.LineNo})
	}
	return tx, nil
}

// orderCancelled maps the index-aligned cancellation reasons of a failed
// order transaction onto the error taxonomy
func (c *Coordinator) orderCancelled(err error, tx *orderTx, order *shopstore.Order) error {
	key := store.OrderKey(order.ID).String()

	reasons, ok := store.CancellationReasons(err)
	if !ok || len(reasons) != len(tx.entries) {
		return store.Classify(err, "create order", store.EntityTypeOrder, store.OrderKey(order.ID))
	}

	var short []int64
	available := make(map[string]int64)
	var missing []int64
	for i, r := range reasons {
		if !store.ReasonFailed(r) {
			continue
		}
		e := tx.entries[i]
		switch e.role {
		case roleGuard:
			return shopstore.NewStoreError(shopstore.ErrCodeDuplicateOrderNumber,
				"order number "+order.OrderNumber+" is already taken").
				WithEntity(store.EntityTypeOrder, key).
				WithCause(err)
		case roleHeader:
			return shopstore.NewConflictError(store.EntityTypeOrder, key, "order id is already in use").WithCause(err)
		case roleLine:
			return shopstore.NewConflictError(store.EntityTypeOrderItem, store.OrderItemKey(order.ID, e.line).String(),
				"order line already exists").WithCause(err)
		case roleDiscount:
			return shopstore.NewConflictError(store.EntityTypeDiscountCode, order.DiscountCode,
				"discount code was used up or disabled").WithCause(err)
		case roleStock:
			if r.Item == nil {
				missing = append(missing, e.ref.variantID)
				continue
			}
			v, derr := c.db.Products().VariantCodec().Decode(r.Item)
			if derr != nil || v.IsDeleted() {
				missing = append(missing, e.ref.variantID)
				continue
			}
			short = append(short, e.ref.variantID)
			available[fmt.Sprint(e.ref.variantID)] = v.Stock
		}
	}

	if len(short) > 0 {
		return stockConflict(short, available, err)
	}
	if len(missing) > 0 {
		return shopstore.NewNotFoundError(store.EntityTypeVariant, fmt.Sprint(missing)).WithCause(err)
	}
	return store.Classify(err, "create order", store.EntityTypeOrder, store.OrderKey(order.ID))
}

// writeOverflow stores the lines that did not fit in the order transaction.
// It returns the line numbers that are still unwritten.
func (c *Coordinator) writeOverflow(ctx context.Context, order *shopstore.Order, lines []*shopstore.OrderItem) []int {
	bySK := make(map[string]int, len(lines))
	encoded := make([]map[string]types.AttributeValue, 0, len(lines))
	var pending []int
	for _, it := range lines {
		item, err := c.db.Orders().EncodeItem(it)
		if err != nil {
			pending = append(pending, it.LineNo)
			continue
		}
		bySK[store.OrderItemKey(order.ID, it.LineNo).SK] = it.LineNo
		encoded = append(encoded, item)
	}

	unprocessed, err := c.db.BatchPut(ctx, encoded)
	for _, item := range unprocessed {
		if sk, ok := item[store.AttrSK].(*types.AttributeValueMemberS); ok {
			pending = append(pending, bySK[sk.Value])
		}
	}
	if err != nil || len(pending) > 0 {
		if err == nil {
			err = errors.New("order lines could not be encoded")
		}
		shopstore.LogOrderOverflowFailed(c.logger, order.ID, len(pending), err)
	}
	return pending
}
