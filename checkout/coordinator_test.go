package checkout

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	"github.com/sicko7947/shopstore"
	"github.com/sicko7947/shopstore/internal/storetest"
	"github.com/sicko7947/shopstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type catalog struct {
	product *shopstore.Product
	blue    *shopstore.Variant
	red     *shopstore.Variant
}

func seedCatalog(t *testing.T, db *store.DynamoDBStore) catalog {
	t.Helper()
	ctx := context.Background()

	p, err := db.Products().Create(ctx, &shopstore.Product{
		Slug:       "mug",
		Name:       "Mug",
		PriceCents: 1200,
		Status:     shopstore.ProductStatusActive,
	})
	require.NoError(t, err)

	blue, err := db.Products().CreateVariant(ctx, &shopstore.Variant{ProductID: p.ID, SKU: "MUG-BLUE", Name: "Blue", PriceCents: 1500, Stock: 5})
	require.NoError(t, err)
	red, err := db.Products().CreateVariant(ctx, &shopstore.Variant{ProductID: p.ID, SKU: "MUG-RED", Name: "Red", Stock: 3})
	require.NoError(t, err)

	return catalog{product: p, blue: blue, red: red}
}

func stock(t *testing.T, db *store.DynamoDBStore, v *shopstore.Variant) int64 {
	t.Helper()
	got, err := db.Products().GetVariant(context.Background(), v.ProductID, v.ID)
	require.NoError(t, err)
	return got.Stock
}

func newCoordinator(tbl *storetest.Table, opts ...Option) *Coordinator {
	opts = append([]Option{WithLogger(zerolog.Nop()), WithAuditor(tbl.Store.Audit())}, opts...)
	return New(tbl.Store, opts...)
}

func mugOrder(c catalog) OrderInput {
	return OrderInput{
		Email:         "ada@example.com",
		Currency:      "USD",
		ShippingCents: 500,
		Lines: []Line{
			{ProductID: c.product.ID, VariantID: &c.blue.ID, Quantity: 2},
			{ProductID: c.product.ID, VariantID: &c.red.ID, Quantity: 1},
			{ProductID: c.product.ID, VariantID: &c.blue.ID, Quantity: 1},
		},
	}
}

func TestCreateOrder(t *testing.T) {
	tbl := storetest.New(t)
	db := tbl.Store
	ctx := context.Background()
	cat := seedCatalog(t, db)

	var facts []shopstore.Fact
	co := newCoordinator(tbl, WithNotifier(shopstore.NotifierFunc(func(_ context.Context, f shopstore.Fact) error {
		facts = append(facts, f)
		return nil
	})))

	receipt, err := co.CreateOrder(ctx, mugOrder(cat))
	require.NoError(t, err)

	order := receipt.Order
	assert.Regexp(t, regexp.MustCompile(`^ORD-\d{8}-\d{4}$`), order.OrderNumber)
	assert.Equal(t, "ORD-20240315-0001", order.OrderNumber)
	assert.Equal(t, shopstore.OrderStatusPending, order.Status)
	assert.EqualValues(t, 2*1500+1200+1500, order.SubtotalCents)
	assert.EqualValues(t, order.SubtotalCents+500, order.TotalCents)
	assert.Empty(t, receipt.PendingLines)

	t.Run("stock is reduced by the requested quantity", func(t *testing.T) {
		assert.EqualValues(t, 2, stock(t, db, cat.blue))
		assert.EqualValues(t, 2, stock(t, db, cat.red))
	})

	t.Run("header and lines are stored", func(t *testing.T) {
		got, err := db.Orders().GetByNumber(ctx, order.OrderNumber)
		require.NoError(t, err)
		assert.Equal(t, order.ID, got.ID)

		items, err := db.Orders().Items(ctx, order.ID)
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, "Mug - Red", items[1].Name)
		assert.EqualValues(t, 1200, items[1].UnitPriceCents)
	})

	t.Run("facts go to the collaborators", func(t *testing.T) {
		require.Len(t, facts, 1)
		assert.Equal(t, shopstore.FactOrderCreated, facts[0].Kind)
		assert.Equal(t, order.OrderNumber, facts[0].Attributes["order_number"])

		page, err := db.Audit().ListForEntity(ctx, store.EntityTypeOrder, "1", shopstore.PageRequest{})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "order.created", page.Items[0].Action)
	})

	t.Run("the next order gets the next number", func(t *testing.T) {
		in := mugOrder(cat)
		in.Lines = in.Lines[:1]
		in.Lines[0].Quantity = 1
		next, err := co.CreateOrder(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, "ORD-20240315-0002", next.Order.OrderNumber)
	})
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	tbl := storetest.New(t)
	db := tbl.Store
	ctx := context.Background()
	cat := seedCatalog(t, db)
	co := newCoordinator(tbl)

	in := mugOrder(cat)
	in.Lines = append(in.Lines, Line{ProductID: cat.product.ID, VariantID: &cat.red.ID, Quantity: 3})

	_, err := co.CreateOrder(ctx, in)
	require.Error(t, err)
	assert.True(t, shopstore.IsStockConflict(err))

	var se *shopstore.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []int64{cat.red.ID}, se.Details["variant_ids"])

	assert.EqualValues(t, 5, stock(t, db, cat.blue))
	assert.EqualValues(t, 3, stock(t, db, cat.red))
	_, err = db.Orders().Get(ctx, 1, true)
	assert.True(t, shopstore.IsNotFound(err))
}

// The pre-check can pass while a concurrent writer drains stock before the
// transaction lands; the transaction must then write nothing at all.
func TestCreateOrder_TransactionRollsBack(t *testing.T) {
	tbl := storetest.New(t)
	db := tbl.Store
	ctx := context.Background()
	cat := seedCatalog(t, db)
	co := newCoordinator(tbl)

	lines := mugOrder(cat).Lines
	res, err := co.resolve(ctx, lines)
	require.NoError(t, err)

	_, err = db.Products().AdjustStock(ctx, cat.product.ID, cat.blue.ID, -4)
	require.NoError(t, err)

	order := &shopstore.Order{ID: 77, OrderNumber: "ORD-20240315-0077", Email: "ada@example.com", Status: shopstore.OrderStatusPending, Currency: "USD"}
	items, _ := res.items(order.ID, lines)
	tx, err := co.buildOrderTx(order, items, res, nil)
	require.NoError(t, err)

	err = co.orderCancelled(db.Transact(ctx, tx.items, "rollback-test"), tx, order)
	require.True(t, shopstore.IsStockConflict(err))
	var se *shopstore.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, map[string]int64{fmt.Sprint(cat.blue.ID): 1}, se.Details["available"])

	_, err = db.Orders().Get(ctx, order.ID, true)
	assert.True(t, shopstore.IsNotFound(err))
	got, err := db.Orders().Items(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.EqualValues(t, 1, stock(t, db, cat.blue))
	assert.EqualValues(t, 3, stock(t, db, cat.red))
}

func TestCreateOrder_DuplicateOrderNumber(t *testing.T) {
	tbl := storetest.New(t)
	db := tbl.Store
	ctx := context.Background()
	cat := seedCatalog(t, db)
	co := newCoordinator(tbl)

	guard, err := db.GuardPut(store.UniqueOrderNumber, "ORD-20240315-0001", store.OrderKey(999))
	require.NoError(t, err)
	require.NoError(t, db.Transact(ctx, []types.TransactWriteItem{guard}, ""))

	_, err = co.CreateOrder(ctx, mugOrder(cat))
	assert.True(t, shopstore.IsDuplicateOrderNumber(err))
	assert.EqualValues(t, 5, stock(t, db, cat.blue))

	receipt, err := co.CreateOrder(ctx, mugOrder(cat))
	require.NoError(t, err, "the failed number is skipped, not reused")
	assert.Equal(t, "ORD-20240315-0002", receipt.Order.OrderNumber)
}

func TestCreateOrder_Discount(t *testing.T) {
	tbl := storetest.New(t)
	db := tbl.Store
	ctx := context.Background()
	cat := seedCatalog(t, db)
	co := newCoordinator(tbl)

	_, err := db.Discounts().Create(ctx, &shopstore.DiscountCode{Code: "spring", Kind: shopstore.DiscountPercent, Amount: 10, Active: true, MaxRedemptions: 1})
	require.NoError(t, err)

	in := mugOrder(cat)
	in.DiscountCode = "Spring"
	receipt, err := co.CreateOrder(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "SPRING", receipt.Order.DiscountCode)
	assert.EqualValues(t, 570, receipt.Order.DiscountCents)
	assert.EqualValues(t, 5700-570+500, receipt.Order.TotalCents)

	d, err := db.Discounts().GetByCode(ctx, "SPRING")
	require.NoError(t, err)
	assert.EqualValues(t, 1, d.Redemptions)

	in.Lines = in.Lines[:1]
	_, err = co.CreateOrder(ctx, in)
	assert.True(t, shopstore.IsValidation(err), "the cap is reached")
}

func TestCreateOrder_Overflow(t *testing.T) {
	tbl := storetest.New(t, func(c *shopstore.Config) { c.MaxTransactItems = 4 })
	db := tbl.Store
	ctx := context.Background()
	cat := seedCatalog(t, db)
	co := newCoordinator(tbl)

	in := mugOrder(cat)
	in.Lines = []Line{
		{ProductID: cat.product.ID, VariantID: &cat.blue.ID, Quantity: 1},
		{ProductID: cat.product.ID, Quantity: 1},
		{ProductID: cat.product.ID, Quantity: 2},
		{ProductID: cat.product.ID, Quantity: 3},
	}

	receipt, err := co.CreateOrder(ctx, in)
	require.NoError(t, err)
	assert.Empty(t, receipt.PendingLines)

	items, err := db.Orders().Items(ctx, receipt.Order.ID)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.EqualValues(t, 3, items[3].Quantity)
	assert.EqualValues(t, 4, stock(t, db, cat.blue))
}

func TestCreateOrder_Validation(t *testing.T) {
	tbl := storetest.New(t)
	db := tbl.Store
	ctx := context.Background()
	cat := seedCatalog(t, db)
	co := newCoordinator(tbl)

	draft, err := db.Products().Create(ctx, &shopstore.Product{Slug: "draft", Name: "Draft", PriceCents: 100})
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*OrderInput)
		check  func(error) bool
	}{
		{"no lines", func(in *OrderInput) { in.Lines = nil }, shopstore.IsValidation},
		{"no email", func(in *OrderInput) { in.Email = "" }, shopstore.IsValidation},
		{"zero quantity", func(in *OrderInput) { in.Lines[0].Quantity = 0 }, shopstore.IsValidation},
		{"long idempotency key", func(in *OrderInput) { in.IdempotencyKey = "0123456789012345678901234567890123456789" }, shopstore.IsValidation},
		{"draft product", func(in *OrderInput) { in.Lines = []Line{{ProductID: draft.ID, Quantity: 1}} }, shopstore.IsValidation},
		{"missing product", func(in *OrderInput) { in.Lines = []Line{{ProductID: 999, Quantity: 1}} }, shopstore.IsNotFound},
		{"unknown discount", func(in *OrderInput) { in.DiscountCode = "NOPE" }, shopstore.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := mugOrder(cat)
			tt.mutate(&in)
			_, err := co.CreateOrder(ctx, in)
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}
	assert.EqualValues(t, 5, stock(t, db, cat.blue))
}

func TestCreateOrder_IdempotencyKeyReuse(t *testing.T) {
	tbl := storetest.New(t)
	db := tbl.Store
	ctx := context.Background()
	cat := seedCatalog(t, db)
	co := newCoordinator(tbl)

	in := mugOrder(cat)
	in.Lines = in.Lines[:1]
	in.Lines[0].Quantity = 1
	in.IdempotencyKey = "checkout-7f3a"

	_, err := co.CreateOrder(ctx, in)
	require.NoError(t, err)

	_, err = co.CreateOrder(ctx, in)
	assert.True(t, shopstore.IsConflict(err))
	assert.EqualValues(t, 4, stock(t, db, cat.blue))
}
