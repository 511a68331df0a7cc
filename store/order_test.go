package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/shopstore"
	"github.com/sicko7947/shopstore/internal/storetest"
	"github.com/sicko7947/shopstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawItem reads a row as stored, index attributes included
func rawItem(t *testing.T, tbl *storetest.Table, key store.Key) map[string]types.AttributeValue {
	t.Helper()
	out, err := tbl.Local.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName:      aws.String(tbl.Store.TableName()),
		Key:            key.AttributeValues(),
		ConsistentRead: aws.Bool(true),
	})
	require.NoError(t, err)
	require.NotNil(t, out.Item, "no row at %s", key)
	return out.Item
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// putOrder writes an order header the way the checkout transaction does
func putOrder(t *testing.T, tbl *storetest.Table, id int64, status shopstore.OrderStatus, email string, created time.Time) {
	t.Helper()
	o := &shopstore.Order{
		ID:          id,
		OrderNumber: store.FormatOrderNumber(created, id),
		Email:       email,
		Status:      status,
		Currency:    "USD",
	}
	o.CreatedAt = created
	o.UpdatedAt = created
	o.Version = 1

	item, err := tbl.Store.Orders().EncodeOrder(o)
	require.NoError(t, err)
	_, err = tbl.Local.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(tbl.Store.TableName()),
		Item:      item,
	})
	require.NoError(t, err)
}

func orderIDs(orders []*shopstore.Order) []int64 {
	ids := make([]int64, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}

var orderDay = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func seedOrders(t *testing.T, tbl *storetest.Table) {
	t.Helper()
	putOrder(t, tbl, 1, shopstore.OrderStatusPending, "Ada@Example.com", orderDay)
	putOrder(t, tbl, 2, shopstore.OrderStatusPaid, "ada@example.com", orderDay.Add(1*time.Hour))
	putOrder(t, tbl, 3, shopstore.OrderStatusShipped, "grace@example.com", orderDay.Add(2*time.Hour))
	putOrder(t, tbl, 4, shopstore.OrderStatusCancelled, "ada@example.com", orderDay.Add(3*time.Hour))
	putOrder(t, tbl, 5, shopstore.OrderStatusPaid, "grace@example.com", orderDay.Add(4*time.Hour))
}

func TestOrders_ListAcrossStatusesIsOnePage(t *testing.T) {
	tbl := storetest.New(t)
	ctx := context.Background()
	seedOrders(t, tbl)

	page, err := tbl.Store.Orders().List(ctx, shopstore.OrderFilter{}, shopstore.PageRequest{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4, 3}, orderIDs(page.Items), "newest first across partitions")
	assert.Empty(t, page.NextCursor)

	all, err := tbl.Store.Orders().List(ctx, shopstore.OrderFilter{}, shopstore.PageRequest{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, orderIDs(all.Items))
	assert.Empty(t, all.NextCursor)

	_, err = tbl.Store.Orders().List(ctx, shopstore.OrderFilter{}, shopstore.PageRequest{Cursor: "eyJpIjoiIn0"})
	assert.True(t, shopstore.IsValidation(err))
}

func TestOrders_ListByEmailNormalizesFilter(t *testing.T) {
	tbl := storetest.New(t)
	ctx := context.Background()
	seedOrders(t, tbl)

	page, err := tbl.Store.Orders().List(ctx, shopstore.OrderFilter{Email: "  ADA@example.COM "}, shopstore.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2, 1}, orderIDs(page.Items))

	assert.Equal(t, "ORDER_EMAIL#ada@example.com", stringAttr(rawItem(t, tbl, store.OrderKey(1)), store.AttrGSI3PK))

	t.Run("status narrows the email partition", func(t *testing.T) {
		page, err := tbl.Store.Orders().List(ctx, shopstore.OrderFilter{
			Email:  "Ada@example.com",
			Status: shopstore.OrderStatusPaid,
		}, shopstore.PageRequest{})
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, orderIDs(page.Items))
	})
}

func TestOrders_ListDateRangeBoundsSortKey(t *testing.T) {
	tbl := storetest.New(t)
	ctx := context.Background()
	seedOrders(t, tbl)
	orders := tbl.Store.Orders()

	tests := []struct {
		name   string
		filter shopstore.OrderFilter
		want   []int64
	}{
		{"inclusive bounds", shopstore.OrderFilter{From: shopstore.ToPtr(orderDay.Add(time.Hour)), To: shopstore.ToPtr(orderDay.Add(3 * time.Hour))}, []int64{4, 3, 2}},
		{"open end", shopstore.OrderFilter{From: shopstore.ToPtr(orderDay.Add(3 * time.Hour))}, []int64{5, 4}},
		{"open start", shopstore.OrderFilter{To: shopstore.ToPtr(orderDay.Add(30 * time.Minute))}, []int64{1}},
		{"status partition", shopstore.OrderFilter{Status: shopstore.OrderStatusPaid, From: shopstore.ToPtr(orderDay.Add(2 * time.Hour))}, []int64{5}},
		{"email partition", shopstore.OrderFilter{Email: "ada@example.com", To: shopstore.ToPtr(orderDay.Add(2 * time.Hour))}, []int64{2, 1}},
		{"empty window", shopstore.OrderFilter{From: shopstore.ToPtr(orderDay.Add(10 * time.Minute)), To: shopstore.ToPtr(orderDay.Add(20 * time.Minute))}, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := orders.List(ctx, tt.filter, shopstore.PageRequest{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, orderIDs(page.Items))
		})
	}

	_, err := orders.List(ctx, shopstore.OrderFilter{From: shopstore.ToPtr(orderDay.Add(time.Hour)), To: shopstore.ToPtr(orderDay)}, shopstore.PageRequest{})
	assert.True(t, shopstore.IsValidation(err))
}

func TestOrders_ListRejectsCursorFromOtherQuery(t *testing.T) {
	tbl := storetest.New(t)
	ctx := context.Background()
	seedOrders(t, tbl)
	orders := tbl.Store.Orders()

	paid, err := orders.List(ctx, shopstore.OrderFilter{Status: shopstore.OrderStatusPaid}, shopstore.PageRequest{Limit: 1})
	require.NoError(t, err)
	require.NotEmpty(t, paid.NextCursor)

	_, err = orders.List(ctx, shopstore.OrderFilter{Status: shopstore.OrderStatusPending},
		shopstore.PageRequest{Limit: 1, Cursor: paid.NextCursor})
	assert.True(t, shopstore.IsValidation(err), "other partition of the same index")

	_, err = orders.List(ctx, shopstore.OrderFilter{Email: "ada@example.com"},
		shopstore.PageRequest{Limit: 1, Cursor: paid.NextCursor})
	assert.True(t, shopstore.IsValidation(err), "other index")
}

func TestOrders_LastPageHasNoCursor(t *testing.T) {
	tbl := storetest.New(t)
	ctx := context.Background()
	seedOrders(t, tbl)
	orders := tbl.Store.Orders()
	filter := shopstore.OrderFilter{Status: shopstore.OrderStatusPaid}

	first, err := orders.List(ctx, filter, shopstore.PageRequest{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, orderIDs(first.Items))
	require.NotEmpty(t, first.NextCursor)

	second, err := orders.List(ctx, filter, shopstore.PageRequest{Limit: 1, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, orderIDs(second.Items))
	assert.Empty(t, second.NextCursor, "no rows remain after the second order")

	t.Run("rows hidden by the filter do not earn a cursor", func(t *testing.T) {
		require.NoError(t, orders.SoftDelete(ctx, 2))

		page, err := orders.List(ctx, filter, shopstore.PageRequest{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []int64{5}, orderIDs(page.Items))
		assert.Empty(t, page.NextCursor)
	})
}
