package checkout

import (
	"context"
	"fmt"
	"sort"

	"github.com/sicko7947/shopstore"
	"golang.org/x/sync/errgroup"
)

// maxLookups bounds the concurrent point reads of one pre-check
const maxLookups = 8

type variantRef struct {
	productID int64
	variantID int64
}

// resolved is the catalog view of an order request
type resolved struct {
	products map[int64]*shopstore.Product
	variants map[variantRef]*shopstore.Variant

	// need is the total quantity requested per variant, in key order
	need []stockNeed
}

type stockNeed struct {
	ref      variantRef
	quantity int64
}

// resolve reads every referenced product and variant in parallel and checks
// that the requested stock is available. The check is advisory: the order
// transaction conditions each decrement again.
func (c *Coordinator) resolve(ctx context.Context, lines []Line) (*resolved, error) {
	var productIDs []int64
	var refs []variantRef
	seen := make(map[int64]bool)
	totals := make(map[variantRef]int64)
	for _, l := range lines {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			productIDs = append(productIDs, l.ProductID)
		}
		if l.VariantID != nil {
			ref := variantRef{l.ProductID, *l.VariantID}
			if _, ok := totals[ref]; !ok {
				refs = append(refs, ref)
			}
			totals[ref] += l.Quantity
		}
	}

	// each lookup owns one slot; nothing reads them before Wait
	products := make([]*shopstore.Product, len(productIDs))
	variants := make([]*shopstore.Variant, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxLookups)

	for i, id := range productIDs {
		g.Go(func() error {
			p, err := c.db.Products().Get(gctx, id, false)
			if err != nil {
				return err
			}
			if p.Status != shopstore.ProductStatusActive {
				return shopstore.NewValidationError("product %d is not available (%s)", id, p.Status)
			}
			products[i] = p
			return nil
		})
	}
	for i, ref := range refs {
		g.Go(func() error {
			v, err := c.db.Products().GetVariant(gctx, ref.productID, ref.variantID)
			if err != nil {
				return err
			}
			variants[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &resolved{
		products: make(map[int64]*shopstore.Product, len(productIDs)),
		variants: make(map[variantRef]*shopstore.Variant, len(refs)),
	}
	for i, id := range productIDs {
		r.products[id] = products[i]
	}
	for i, ref := range refs {
		r.variants[ref] = variants[i]
	}

	for ref, q := range totals {
		r.need = append(r.need, stockNeed{ref: ref, quantity: q})
	}
	sort.Slice(r.need, func(i, j int) bool {
		a, b := r.need[i].ref, r.need[j].ref
		if a.productID != b.productID {
			return a.productID < b.productID
		}
		return a.variantID < b.variantID
	})

	var short []int64
	available := make(map[string]int64)
	for _, n := range r.need {
		v := r.variants[n.ref]
		if v.Stock < n.quantity {
			short = append(short, n.ref.variantID)
			available[fmt.Sprint(n.ref.variantID)] = v.Stock
		}
	}
	if len(short) > 0 {
		return nil, stockConflict(short, available, nil)
	}
	return r, nil
}

// price picks the unit price of a line: the request, then the variant,
// then the product
func (r *resolved) price(l Line) int64 {
	if l.UnitPriceCents > 0 {
		return l.UnitPriceCents
	}
	if l.VariantID != nil {
		if v := r.variants[variantRef{l.ProductID, *l.VariantID}]; v != nil && v.PriceCents > 0 {
			return v.PriceCents
		}
	}
	return r.products[l.ProductID].PriceCents
}

// items turns the request lines into order lines numbered from 1
func (r *resolved) items(orderID int64, lines []Line) ([]*shopstore.OrderItem, int64) {
	items := make([]*shopstore.OrderItem, len(lines))
	var subtotal int64
	for i, l := range lines {
		p := r.products[l.ProductID]
		it := &shopstore.OrderItem{
			OrderID:        orderID,
			LineNo:         i + 1,
			ProductID:      l.ProductID,
			VariantID:      l.VariantID,
			Name:           p.Name,
			Quantity:       l.Quantity,
			UnitPriceCents: r.price(l),
		}
		if l.VariantID != nil {
			v := r.variants[variantRef{l.ProductID, *l.VariantID}]
			it.SKU = v.SKU
			if v.Name != "" {
				it.Name = p.Name + " - " + v.Name
			}
		}
		it.TotalCents = it.UnitPriceCents * it.Quantity
		subtotal += it.TotalCents
		items[i] = it
	}
	return items, subtotal
}

func stockConflict(variantIDs []int64, available map[string]int64, cause error) *shopstore.StoreError {
	err := shopstore.NewStoreError(shopstore.ErrCodeStockConflict,
		fmt.Sprintf("insufficient stock for %d variant(s)", len(variantIDs))).
		WithDetails(map[string]interface{}{"variant_ids": variantIDs, "available": available})
	if cause != nil {
		err = err.WithCause(cause)
	}
	return err
}
