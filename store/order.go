package store

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/shopstore"
	"golang.org/x/sync/errgroup"
)

func orderSchema() Schema[*shopstore.Order] {
	return Schema[*shopstore.Order]{
		EntityType: EntityTypeOrder,
		New:        func() *shopstore.Order { return &shopstore.Order{} },
		Key:        func(o *shopstore.Order) Key { return OrderKey(o.ID) },
		Indexes: func(o *shopstore.Order) []IndexKey {
			return []IndexKey{orderNumberIndex(o), orderStatusIndex(o), orderEmailIndex(o)}
		},
		Guards: func(o *shopstore.Order) []Guard {
			return []Guard{{Field: UniqueOrderNumber, Value: o.OrderNumber}}
		},
		Required: []string{"id", "order_number", "email", "status"},
	}
}

func orderItemSchema() Schema[*shopstore.OrderItem] {
	return Schema[*shopstore.OrderItem]{
		EntityType: EntityTypeOrderItem,
		New:        func() *shopstore.OrderItem { return &shopstore.OrderItem{} },
		Key:        func(it *shopstore.OrderItem) Key { return OrderItemKey(it.OrderID, it.LineNo) },
		Required:   []string{"order_id", "line_no", "product_id", "quantity"},
	}
}

// OrderRepository reads and mutates orders. Creation is owned by the
// checkout coordinator, which uses the encoders exposed here.
type OrderRepository struct {
	db     *DynamoDBStore
	orders *Repository[*shopstore.Order]
	items  *Repository[*shopstore.OrderItem]
}

var _ shopstore.OrderStore = (*OrderRepository)(nil)

func newOrderRepository(db *DynamoDBStore) *OrderRepository {
	return &OrderRepository{
		db:     db,
		orders: NewRepository(db, orderSchema()),
		items:  NewRepository(db, orderItemSchema()),
	}
}

// EncodeOrder encodes an order header with all of its index projections
func (r *OrderRepository) EncodeOrder(o *shopstore.Order) (map[string]types.AttributeValue, error) {
	return r.orders.Codec().Encode(o)
}

// EncodeItem encodes one order line
func (r *OrderRepository) EncodeItem(it *shopstore.OrderItem) (map[string]types.AttributeValue, error) {
	return r.items.Codec().Encode(it)
}

// TransitionUpdate builds a transactional status change of o to next,
// conditioned on the version that o was read at. It returns the order as it
// will read after commit.
func (r *OrderRepository) TransitionUpdate(o *shopstore.Order, next shopstore.OrderStatus) (*shopstore.Order, types.TransactWriteItem, error) {
	if err := checkTransition(o, next); err != nil {
		return nil, types.TransactWriteItem{}, err
	}
	after := *o
	after.Status = next
	item, err := r.orders.TransactUpdate(o, &after)
	if err != nil {
		return nil, types.TransactWriteItem{}, err
	}
	return &after, item, nil
}

func checkTransition(o *shopstore.Order, next shopstore.OrderStatus) error {
	if !next.Valid() {
		return shopstore.NewValidationError("unknown order status %q", next)
	}
	if !o.Status.CanTransitionTo(next) {
		return shopstore.NewStoreError(shopstore.ErrCodeInvalidTransition,
			"cannot move order from "+string(o.Status)+" to "+string(next)).
			WithEntity(EntityTypeOrder, OrderKey(o.ID).String()).
			WithDetails(map[string]interface{}{"from": string(o.Status), "to": string(next)})
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id int64, includeDeleted bool) (*shopstore.Order, error) {
	return r.orders.Get(ctx, OrderKey(id), includeDeleted)
}

func (r *OrderRepository) GetByNumber(ctx context.Context, orderNumber string) (*shopstore.Order, error) {
	return r.orders.FindUnique(ctx, UniqueOrderNumber, orderNumber)
}

// Items returns the order lines in line order
func (r *OrderRepository) Items(ctx context.Context, orderID int64) ([]*shopstore.OrderItem, error) {
	return r.items.Children(ctx, OrderKey(orderID).PK, PrefixItem, false)
}

// List pages through orders newest first. Email reads the email index and
// Status the status index; with both, status becomes a filter. With neither,
// every status partition is read in parallel and merged into a single page
// without a continuation cursor.
func (r *OrderRepository) List(ctx context.Context, filter shopstore.OrderFilter, page shopstore.PageRequest) (shopstore.Page[*shopstore.Order], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return shopstore.Page[*shopstore.Order]{}, shopstore.NewValidationError("unknown order status %q", filter.Status)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return shopstore.Page[*shopstore.Order]{}, shopstore.NewValidationError("date range ends before it starts")
	}

	between := createdBetween(filter.From, filter.To)

	switch {
	case filter.Email != "":
		q := ListQuery{
			Index:      IndexSecondary,
			Partition:  orderEmailIndex(&shopstore.Order{Email: filter.Email}).PK,
			SKBetween:  between,
			Descending: true,
		}
		if filter.Status != "" {
			q.Filter = combine([]expression.ConditionBuilder{
				expression.Name("status").Equal(expression.Value(filter.Status)),
			})
		}
		return r.orders.List(ctx, q, page)

	case filter.Status != "":
		return r.orders.List(ctx, r.statusQuery(filter.Status, between), page)
	}

	if page.Cursor != "" {
		return shopstore.Page[*shopstore.Order]{}, shopstore.NewValidationError("cursor is not supported without a status or email filter")
	}
	return r.listAllStatuses(ctx, between, r.db.config.PageLimit(page.Limit))
}

func (r *OrderRepository) statusQuery(status shopstore.OrderStatus, between *[2]string) ListQuery {
	return ListQuery{
		Index:      IndexListing,
		Partition:  orderStatusIndex(&shopstore.Order{Status: status}).PK,
		SKBetween:  between,
		Descending: true,
	}
}

func (r *OrderRepository) listAllStatuses(ctx context.Context, between *[2]string, limit int) (shopstore.Page[*shopstore.Order], error) {
	pages := make([][]*shopstore.Order, len(shopstore.AllOrderStatuses))

	g, gctx := errgroup.WithContext(ctx)
	for i, status := range shopstore.AllOrderStatuses {
		g.Go(func() error {
			p, err := r.orders.List(gctx, r.statusQuery(status, between), shopstore.PageRequest{Limit: limit})
			if err != nil {
				return err
			}
			pages[i] = p.Items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return shopstore.Page[*shopstore.Order]{}, err
	}

	var merged []*shopstore.Order
	for _, p := range pages {
		merged = append(merged, p...)
	}
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []*shopstore.Order{}
	}
	return shopstore.Page[*shopstore.Order]{Items: merged}, nil
}

// createdBetween turns an optional date range into bounds on the
// "<created>#<id>" sort key
func createdBetween(from, to *time.Time) *[2]string {
	if from == nil && to == nil {
		return nil
	}
	lo, hi := "0", "~"
	if from != nil {
		lo = shopstore.SortableTime(*from)
	}
	if to != nil {
		hi = shopstore.SortableTime(*to) + "#~"
	}
	return &[2]string{lo, hi}
}

// Update applies mutate. Status changes must follow the order lifecycle and
// the order number is immutable.
func (r *OrderRepository) Update(ctx context.Context, id int64, mutate func(*shopstore.Order) error) (*shopstore.Order, error) {
	return r.orders.Update(ctx, OrderKey(id), func(o *shopstore.Order) error {
		before := *o
		if err := mutate(o); err != nil {
			return err
		}
		if o.OrderNumber != before.OrderNumber {
			return shopstore.NewValidationError("order number is immutable")
		}
		if o.Status != before.Status {
			return checkTransition(&before, o.Status)
		}
		return nil
	})
}

func (r *OrderRepository) SoftDelete(ctx context.Context, id int64) error {
	return r.orders.SoftDelete(ctx, OrderKey(id))
}

func (r *OrderRepository) Restore(ctx context.Context, id int64) error {
	return r.orders.Restore(ctx, OrderKey(id))
}
