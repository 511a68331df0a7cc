package checkout

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sicko7947/shopstore"
	"github.com/sicko7947/shopstore/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_MoreLookupsThanSlots(t *testing.T) {
	tbl := storetest.New(t)
	db := tbl.Store
	ctx := context.Background()
	co := newCoordinator(tbl)

	var lines []Line
	for i := 0; i < 2*maxLookups+3; i++ {
		p, err := db.Products().Create(ctx, &shopstore.Product{
			Slug:       fmt.Sprintf("item-%d", i),
			Name:       fmt.Sprintf("Item %d", i),
			PriceCents: 100,
			Status:     shopstore.ProductStatusActive,
		})
		require.NoError(t, err)
		v, err := db.Products().CreateVariant(ctx, &shopstore.Variant{ProductID: p.ID, SKU: fmt.Sprintf("ITEM-%d", i), Stock: 4})
		require.NoError(t, err)
		lines = append(lines,
			Line{ProductID: p.ID, VariantID: &v.ID, Quantity: 1},
			Line{ProductID: p.ID, VariantID: &v.ID, Quantity: 2},
		)
	}

	r, err := co.resolve(ctx, lines)
	require.NoError(t, err)

	assert.Len(t, r.products, 2*maxLookups+3)
	assert.Len(t, r.variants, 2*maxLookups+3)
	for id, p := range r.products {
		require.NotNil(t, p, "product %d", id)
		assert.Equal(t, id, p.ID)
	}
	for ref, v := range r.variants {
		require.NotNil(t, v, "variant %d", ref.variantID)
		assert.Equal(t, ref.variantID, v.ID)
	}

	require.Len(t, r.need, 2*maxLookups+3)
	for i, n := range r.need {
		assert.EqualValues(t, 3, n.quantity)
		if i > 0 {
			assert.Less(t, r.need[i-1].ref.productID, n.ref.productID)
		}
	}
}

func TestCreateOrder_ConcurrentCallers(t *testing.T) {
	tbl := storetest.New(t)
	db := tbl.Store
	ctx := context.Background()
	cat := seedCatalog(t, db)
	co := newCoordinator(tbl)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		placed    int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := co.CreateOrder(ctx, OrderInput{
				Email:    "ada@example.com",
				Currency: "USD",
				Lines: []Line{
					{ProductID: cat.product.ID, VariantID: &cat.blue.ID, Quantity: 1},
					{ProductID: cat.product.ID, Quantity: 1},
				},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case shopstore.IsStockConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, placed, "blue starts with 5 in stock")
	assert.Equal(t, callers-5, conflicts)
	assert.Zero(t, stock(t, db, cat.blue))
}
