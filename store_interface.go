package shopstore

import (
	"context"
	"time"
)

// The persistence contracts live in the root package so that the store
// implementation, the checkout coordinator and the HTTP surface can all
// depend on them without import cycles.

// CounterStore hands out unique, increasing integers per counter name
type CounterStore interface {
	Next(ctx context.Context, name string) (int64, error)
	NextOrderNumber(ctx context.Context, now time.Time) (string, error)
}

// ProductStore persists products and their child rows (variants, images)
type ProductStore interface {
	Create(ctx context.Context, p *Product) (*Product, error)
	Get(ctx context.Context, id int64, includeDeleted bool) (*Product, error)
	GetBySlug(ctx context.Context, slug string) (*Product, error)
	List(ctx context.Context, filter ProductFilter, page PageRequest) (Page[*Product], error)
	Update(ctx context.Context, id int64, mutate func(*Product) error) (*Product, error)
	SoftDelete(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error
	HardDelete(ctx context.Context, id int64) error

	CreateVariant(ctx context.Context, v *Variant) (*Variant, error)
	GetVariant(ctx context.Context, productID, variantID int64) (*Variant, error)
	GetVariantBySKU(ctx context.Context, sku string) (*Variant, error)
	Variants(ctx context.Context, productID int64) ([]*Variant, error)
	UpdateVariant(ctx context.Context, productID, variantID int64, mutate func(*Variant) error) (*Variant, error)
	AdjustStock(ctx context.Context, productID, variantID, delta int64) (*Variant, error)
	DeleteVariant(ctx context.Context, productID, variantID int64) error

	AddImage(ctx context.Context, img *Image) (*Image, error)
	Images(ctx context.Context, productID int64) ([]*Image, error)
	RemoveImage(ctx context.Context, productID int64, position int) error

	CategoryIDs(ctx context.Context, productID int64) ([]int64, error)
}

// CategoryStore persists the category tree and category/product links
type CategoryStore interface {
	Create(ctx context.Context, c *Category) (*Category, error)
	Get(ctx context.Context, id int64, includeDeleted bool) (*Category, error)
	GetBySlug(ctx context.Context, slug string) (*Category, error)
	Children(ctx context.Context, parentID *int64) ([]*Category, error)
	Tree(ctx context.Context) (*CategoryTree, error)
	Update(ctx context.Context, id int64, mutate func(*Category) error) (*Category, error)
	Move(ctx context.Context, id int64, parentID *int64) (*Category, error)
	SoftDelete(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error

	AttachProduct(ctx context.Context, categoryID, productID int64) error
	DetachProduct(ctx context.Context, categoryID, productID int64) error
	ProductIDs(ctx context.Context, categoryID int64) ([]int64, error)
}

// OrderStore reads and mutates orders. Orders are created by the checkout
// coordinator because creation spans several entities.
type OrderStore interface {
	Get(ctx context.Context, id int64, includeDeleted bool) (*Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (*Order, error)
	Items(ctx context.Context, orderID int64) ([]*OrderItem, error)
	List(ctx context.Context, filter OrderFilter, page PageRequest) (Page[*Order], error)
	Update(ctx context.Context, id int64, mutate func(*Order) error) (*Order, error)
	SoftDelete(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error
}

// CartStore persists anonymous carts. Cart rows expire through ttl.
type CartStore interface {
	Create(ctx context.Context, cart *Cart) (*Cart, error)
	Get(ctx context.Context, sessionID string) (*Cart, error)
	SetItem(ctx context.Context, item *CartItem) (*CartItem, error)
	Items(ctx context.Context, sessionID string) ([]*CartItem, error)
	RemoveItem(ctx context.Context, sessionID string, productID int64, variantID *int64) error
	Clear(ctx context.Context, sessionID string) error
}

// DiscountStore persists discount codes
type DiscountStore interface {
	Create(ctx context.Context, d *DiscountCode) (*DiscountCode, error)
	Get(ctx context.Context, id int64, includeDeleted bool) (*DiscountCode, error)
	GetByCode(ctx context.Context, code string) (*DiscountCode, error)
	Update(ctx context.Context, id int64, mutate func(*DiscountCode) error) (*DiscountCode, error)
	Redeem(ctx context.Context, code string) (*DiscountCode, error)
	SoftDelete(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error
}

// NotificationStore persists facts for back-office display
type NotificationStore interface {
	Notifier
	Get(ctx context.Context, id string) (*Notification, error)
	ListForEntity(ctx context.Context, entityType, entityID string, page PageRequest) (Page[*Notification], error)
	ListUnread(ctx context.Context, page PageRequest) (Page[*Notification], error)
	MarkRead(ctx context.Context, id string) (*Notification, error)
}

// AuditStore persists the append-only audit trail
type AuditStore interface {
	Auditor
	Get(ctx context.Context, id string) (*AuditLog, error)
	ListByDate(ctx context.Context, day time.Time, page PageRequest) (Page[*AuditLog], error)
	ListForEntity(ctx context.Context, entityType, entityID string, page PageRequest) (Page[*AuditLog], error)
}

// Notifier receives fire-and-forget facts. Implementations must not assume
// delivery is part of any transaction.
type Notifier interface {
	Notify(ctx context.Context, fact Fact) error
}

// Auditor receives append-only "action performed" facts
type Auditor interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, fact Fact) error

// Notify calls f(ctx, fact)
func (f NotifierFunc) Notify(ctx context.Context, fact Fact) error {
	return f(ctx, fact)
}
