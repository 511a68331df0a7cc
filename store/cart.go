package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sicko7947/shopstore"
)

// cartItemGrace keeps cart lines around a little longer than their header so
// the stream purge, not background expiry, is what removes them
const cartItemGrace = 7 * 24 * time.Hour

func cartSchema() Schema[*shopstore.Cart] {
	return Schema[*shopstore.Cart]{
		EntityType: EntityTypeCart,
		New:        func() *shopstore.Cart { return &shopstore.Cart{} },
		Key:        func(c *shopstore.Cart) Key { return CartKey(c.SessionID) },
		Required:   []string{"session_id"},
	}
}

func cartItemSchema() Schema[*shopstore.CartItem] {
	return Schema[*shopstore.CartItem]{
		EntityType: EntityTypeCartItem,
		New:        func() *shopstore.CartItem { return &shopstore.CartItem{} },
		Key: func(it *shopstore.CartItem) Key {
			return CartItemKey(it.SessionID, it.ProductID, it.VariantID)
		},
		Required: []string{"session_id", "product_id", "quantity"},
	}
}

// CartRepository persists anonymous carts. Every cart write slides the ttl
// forward; rows whose ttl has passed read as absent even before background
// expiry removes them.
type CartRepository struct {
	db    *DynamoDBStore
	carts *Repository[*shopstore.Cart]
	items *Repository[*shopstore.CartItem]
}

var _ shopstore.CartStore = (*CartRepository)(nil)

func newCartRepository(db *DynamoDBStore) *CartRepository {
	return &CartRepository{
		db:    db,
		carts: NewRepository(db, cartSchema()),
		items: NewRepository(db, cartItemSchema()),
	}
}

// Create opens a cart. A session id is generated when none is given.
func (r *CartRepository) Create(ctx context.Context, cart *shopstore.Cart) (*shopstore.Cart, error) {
	if cart.SessionID == "" {
		cart.SessionID = uuid.NewString()
	} else if _, err := uuid.Parse(cart.SessionID); err != nil {
		return nil, shopstore.NewValidationError("session id %q is not a uuid", cart.SessionID)
	}
	if cart.Currency == "" {
		cart.Currency = "USD"
	}
	cart.Email = NormalizeEmail(cart.Email)
	cart.TTL = shopstore.ExpiryFrom(r.db.now(), r.db.config.CartTTL)

	return r.carts.Create(ctx, cart)
}

// Get returns an unexpired cart
func (r *CartRepository) Get(ctx context.Context, sessionID string) (*shopstore.Cart, error) {
	cart, err := r.carts.Get(ctx, CartKey(sessionID), false)
	if err != nil {
		return nil, err
	}
	if expired(cart.TTL, r.db.now()) {
		return nil, shopstore.NewNotFoundError(EntityTypeCart, CartKey(sessionID).String())
	}
	return cart, nil
}

// SetItem writes a cart line, replacing any line for the same product and
// variant, and refreshes the cart ttl in the same transaction. A zero
// quantity removes the line.
func (r *CartRepository) SetItem(ctx context.Context, item *shopstore.CartItem) (*shopstore.CartItem, error) {
	if item.SessionID == "" || item.ProductID <= 0 {
		return nil, shopstore.NewValidationError("cart item needs a session id and product id")
	}
	if item.Quantity < 0 {
		return nil, shopstore.NewValidationError("cart item quantity must not be negative")
	}
	if item.UnitPriceCents < 0 {
		return nil, shopstore.NewValidationError("cart item price must not be negative")
	}
	if item.Quantity == 0 {
		if err := r.RemoveItem(ctx, item.SessionID, item.ProductID, item.VariantID); err != nil && !shopstore.IsNotFound(err) {
			return nil, err
		}
		return item, r.touch(ctx, item.SessionID)
	}

	now := r.db.now()
	cartTTL := shopstore.ExpiryFrom(now, r.db.config.CartTTL)

	item.CreatedAt = now
	item.UpdatedAt = now
	item.Version = 1
	item.DeletedAt = nil
	item.TTL = cartTTL + int64(cartItemGrace/time.Second)

	encoded, err := r.items.Codec().Encode(item)
	if err != nil {
		return nil, err
	}
	touch, err := r.touchItem(now, cartTTL)
	if err != nil {
		return nil, err
	}
	touch.Update.Key = CartKey(item.SessionID).AttributeValues()

	tx := []types.TransactWriteItem{
		touch,
		{Put: &types.Put{TableName: aws.String(r.db.tableName), Item: encoded}},
	}
	if err := r.db.transact(ctx, tx, ""); err != nil {
		if reasons, ok := CancellationReasons(err); ok && len(reasons) > 0 && reasonFailed(reasons[0]) {
			return nil, shopstore.NewNotFoundError(EntityTypeCart, CartKey(item.SessionID).String()).WithCause(err)
		}
		return nil, classify(err, "set cart item", EntityTypeCartItem, CartItemKey(item.SessionID, item.ProductID, item.VariantID))
	}
	return item, nil
}

// touchItem slides the cart ttl forward on an active, unexpired cart. The
// key is filled in by the caller.
func (r *CartRepository) touchItem(now time.Time, ttl int64) (types.TransactWriteItem, error) {
	update := expression.Set(expression.Name(AttrTTL), expression.Value(ttl)).
		Set(expression.Name(AttrUpdatedAt), expression.Value(now.UTC().Format(time.RFC3339Nano))).
		Set(expression.Name(AttrVersion), expression.Name(AttrVersion).Plus(expression.Value(1)))
	cond := expression.AttributeExists(expression.Name(AttrPK)).
		And(activeFilter()).
		And(unexpiredFilter(now))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("failed to build cart expression: %w", err)
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(r.db.tableName),
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		},
	}, nil
}

func (r *CartRepository) touch(ctx context.Context, sessionID string) error {
	now := r.db.now()
	item, err := r.touchItem(now, shopstore.ExpiryFrom(now, r.db.config.CartTTL))
	if err != nil {
		return err
	}
	item.Update.Key = CartKey(sessionID).AttributeValues()
	if err := r.db.transact(ctx, []types.TransactWriteItem{item}, ""); err != nil {
		if reasons, ok := CancellationReasons(err); ok && len(reasons) == 1 && reasonFailed(reasons[0]) {
			return shopstore.NewNotFoundError(EntityTypeCart, CartKey(sessionID).String()).WithCause(err)
		}
		return classify(err, "touch cart", EntityTypeCart, CartKey(sessionID))
	}
	return nil
}

// Items returns the unexpired lines of an unexpired cart
func (r *CartRepository) Items(ctx context.Context, sessionID string) ([]*shopstore.CartItem, error) {
	if _, err := r.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	lines, err := r.items.Children(ctx, CartKey(sessionID).PK, PrefixItem, false)
	if err != nil {
		return nil, err
	}

	now := r.db.now()
	out := lines[:0]
	for _, l := range lines {
		if !expired(l.TTL, now) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *CartRepository) RemoveItem(ctx context.Context, sessionID string, productID int64, variantID *int64) error {
	return r.items.HardDelete(ctx, CartItemKey(sessionID, productID, variantID))
}

// Clear removes every line of a cart, leaving the header. It also runs
// after background expiry has already removed the header.
func (r *CartRepository) Clear(ctx context.Context, sessionID string) error {
	items, err := r.db.queryAll(ctx, CartKey(sessionID).PK, PrefixItem)
	if err != nil {
		return classify(err, "query cart", EntityTypeCart, CartKey(sessionID))
	}
	keys := make([]Key, len(items))
	for i, item := range items {
		keys[i] = itemKey(item)
	}
	return r.db.deleteKeys(ctx, keys)
}
