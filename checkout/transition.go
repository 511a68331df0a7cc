package checkout

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/shopstore"
	"github.com/sicko7947/shopstore/store"
	"golang.org/x/sync/errgroup"
)

// TransitionOrder moves an order to next under a version condition.
// Cancellation is delegated to CancelOrder so stock is returned.
func (c *Coordinator) TransitionOrder(ctx context.Context, orderID int64, next shopstore.OrderStatus, actor string) (*shopstore.Order, error) {
	if next == shopstore.OrderStatusCancelled {
		return c.CancelOrder(ctx, orderID, actor)
	}

	o, err := c.db.Orders().Get(ctx, orderID, false)
	if err != nil {
		return nil, err
	}
	after, upd, err := c.db.Orders().TransitionUpdate(o, next)
	if err != nil {
		return nil, err
	}

	key := store.OrderKey(orderID)
	if err := c.submit(ctx, []types.TransactWriteItem{upd}, "", "transition order", key); err != nil {
		return nil, c.statusChangeFailed(err, key, nil)
	}

	shopstore.LogOrderTransitioned(c.logger, orderID, o.Status, next)
	c.record(ctx, shopstore.AuditEntry{
		Action:     "order." + strings.ToLower(string(next)),
		EntityType: store.EntityTypeOrder,
		EntityID:   fmt.Sprint(orderID),
		Actor:      actor,
		Details:    map[string]string{"from": string(o.Status), "to": string(next)},
	})
	return after, nil
}

// CancelOrder cancels an order. Orders that were not yet shipped get the
// stock of every line back, in the same transaction as the status change.
// Variants deleted since the order was placed are skipped.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID int64, actor string) (*shopstore.Order, error) {
	o, err := c.db.Orders().Get(ctx, orderID, false)
	if err != nil {
		return nil, err
	}
	after, upd, err := c.db.Orders().TransitionUpdate(o, shopstore.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}

	tx := []types.TransactWriteItem{upd}
	var restock []variantRef
	if o.Status.RestocksOnCancel() {
		needs, err := c.restockNeeds(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if len(needs)+1 > c.config.MaxTransactItems {
			return nil, shopstore.NewValidationError("order %d restocks %d variants, more than one transaction holds", orderID, len(needs))
		}
		for _, n := range needs {
			su, err := c.db.Products().StockUpdate(n.ref.productID, n.ref.variantID, n.quantity)
			if err != nil {
				return nil, err
			}
			tx = append(tx, su)
			restock = append(restock, n.ref)
		}
	}

	key := store.OrderKey(orderID)
	if err := c.submit(ctx, tx, "", "cancel order", key); err != nil {
		return nil, c.statusChangeFailed(err, key, restock)
	}

	shopstore.LogOrderCancelled(c.logger, orderID, len(restock))
	c.record(ctx, shopstore.AuditEntry{
		Action:     "order.cancelled",
		EntityType: store.EntityTypeOrder,
		EntityID:   fmt.Sprint(orderID),
		Actor:      actor,
		Details:    map[string]string{"from": string(o.Status), "restocked_variants": fmt.Sprint(len(restock))},
	})
	return after, nil
}

// restockNeeds sums the line quantities per variant that still exists
func (c *Coordinator) restockNeeds(ctx context.Context, orderID int64) ([]stockNeed, error) {
	items, err := c.db.Orders().Items(ctx, orderID)
	if err != nil {
		return nil, err
	}

	totals := make(map[variantRef]int64)
	for _, it := range items {
		if it.VariantID != nil {
			totals[variantRef{it.ProductID, *it.VariantID}] += it.Quantity
		}
	}

	var mu sync.Mutex
	var needs []stockNeed
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxLookups)
	for ref, q := range totals {
		g.Go(func() error {
			_, err := c.db.Products().GetVariant(gctx, ref.productID, ref.variantID)
			if shopstore.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			needs = append(needs, stockNeed{ref: ref, quantity: q})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(needs, func(i, j int) bool {
		a, b := needs[i].ref, needs[j].ref
		if a.productID != b.productID {
			return a.productID < b.productID
		}
		return a.variantID < b.variantID
	})
	return needs, nil
}

// statusChangeFailed maps a failed status transaction. Index 0 is always the
// order update; the rest are restock updates in restock order.
func (c *Coordinator) statusChangeFailed(err error, key store.Key, restock []variantRef) error {
	reasons, ok := store.CancellationReasons(err)
	if !ok {
		return store.Classify(err, "update order status", store.EntityTypeOrder, key)
	}
	for i, r := range reasons {
		if !store.ReasonFailed(r) {
			continue
		}
		if i == 0 {
			if r.Item == nil || store.IsDeleted(r.Item) {
				return shopstore.NewNotFoundError(store.EntityTypeOrder, key.String()).WithCause(err)
			}
			return shopstore.NewConflictError(store.EntityTypeOrder, key.String(), "order was modified concurrently").WithCause(err)
		}
		if i-1 < len(restock) {
			ref := restock[i-1]
			return shopstore.NewConflictError(store.EntityTypeVariant, store.VariantKey(ref.productID, ref.variantID).String(),
				"variant was removed while cancelling").WithCause(err)
		}
	}
	return store.Classify(err, "update order status", store.EntityTypeOrder, key)
}
