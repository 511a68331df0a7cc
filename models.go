package shopstore

import (
	"time"
)

// ProductStatus represents the publication state of a product
type ProductStatus string

const (
	ProductStatusDraft    ProductStatus = "DRAFT"
	ProductStatusActive   ProductStatus = "ACTIVE"
	ProductStatusArchived ProductStatus = "ARCHIVED"
)

// Valid reports whether s is a known product status
func (s ProductStatus) Valid() bool {
	switch s {
	case ProductStatusDraft, ProductStatusActive, ProductStatusArchived:
		return true
	}
	return false
}

func (s ProductStatus) String() string {
	return string(s)
}

// OrderStatus represents the fulfilment state of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

// AllOrderStatuses lists every order status in lifecycle order
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusShipped, OrderStatusRefunded, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered},
	OrderStatusDelivered: {OrderStatusRefunded},
}

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	for _, known := range AllOrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// CanTransitionTo reports whether an order may move from s to next
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RestocksOnCancel reports whether cancelling from s returns stock to inventory
func (s OrderStatus) RestocksOnCancel() bool {
	return s == OrderStatusPending || s == OrderStatusPaid
}

func (s OrderStatus) String() string {
	return string(s)
}

// DiscountKind selects how a discount amount is interpreted
type DiscountKind string

const (
	DiscountPercent DiscountKind = "PERCENT"
	DiscountFixed   DiscountKind = "FIXED"
)

// FactKind identifies a domain fact delivered to the notification collaborator
type FactKind string

const (
	FactOrderCreated FactKind = "ORDER_CREATED"
	FactOrderPaid    FactKind = "ORDER_PAID"
	FactOrderShipped FactKind = "ORDER_SHIPPED"
	FactLowStock     FactKind = "LOW_STOCK"
)

// Lifecycle carries the bookkeeping attributes shared by every stored entity.
// It is embedded so the attributes flatten into the stored item.
type Lifecycle struct {
	CreatedAt time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" dynamodbav:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" dynamodbav:"deleted_at,omitempty"`
	Version   int64      `json:"version" dynamodbav:"version"`
}

// Meta gives generic code access to the embedded lifecycle attributes
func (l *Lifecycle) Meta() *Lifecycle {
	return l
}

// IsDeleted reports whether the soft-delete marker is set
func (l *Lifecycle) IsDeleted() bool {
	return l.DeletedAt != nil
}

// Entity is implemented by every type persisted through a repository
type Entity interface {
	Meta() *Lifecycle
}

// Product is a catalog entry; variants, images and categories are fetched separately
type Product struct {
	ID          int64         `json:"id" dynamodbav:"id"`
	Slug        string        `json:"slug" dynamodbav:"slug"`
	Name        string        `json:"name" dynamodbav:"name"`
	Description string        `json:"description,omitempty" dynamodbav:"description,omitempty"`
	PriceCents  int64         `json:"price_cents" dynamodbav:"price_cents"`
	Currency    string        `json:"currency" dynamodbav:"currency"`
	Status      ProductStatus `json:"status" dynamodbav:"status"`
	Featured    bool          `json:"featured" dynamodbav:"featured"`
	Tags        []string      `json:"tags,omitempty" dynamodbav:"tags,omitempty"`
	Lifecycle
}

// Variant is a purchasable option of a product and owns the stock counter
type Variant struct {
	ID         int64             `json:"id" dynamodbav:"id"`
	ProductID  int64             `json:"product_id" dynamodbav:"product_id"`
	SKU        string            `json:"sku" dynamodbav:"sku"`
	Name       string            `json:"name" dynamodbav:"name"`
	PriceCents int64             `json:"price_cents" dynamodbav:"price_cents"`
	Stock      int64             `json:"stock" dynamodbav:"stock"`
	Options    map[string]string `json:"options,omitempty" dynamodbav:"options,omitempty"`
	Lifecycle
}

// Image is a product picture ordered by position
type Image struct {
	ProductID int64  `json:"product_id" dynamodbav:"product_id"`
	Position  int    `json:"position" dynamodbav:"position"`
	URL       string `json:"url" dynamodbav:"url"`
	Alt       string `json:"alt,omitempty" dynamodbav:"alt,omitempty"`
	Lifecycle
}

// Category is a node in the catalog tree
type Category struct {
	ID           int64  `json:"id" dynamodbav:"id"`
	Slug         string `json:"slug" dynamodbav:"slug"`
	Name         string `json:"name" dynamodbav:"name"`
	Description  string `json:"description,omitempty" dynamodbav:"description,omitempty"`
	ParentID     *int64 `json:"parent_id,omitempty" dynamodbav:"parent_id,omitempty"`
	DisplayOrder int    `json:"display_order" dynamodbav:"display_order"`
	Lifecycle
}

// CategoryLink connects a product to a category. It is stored twice,
// once under each side, so both directions are a single range query.
type CategoryLink struct {
	CategoryID int64 `json:"category_id" dynamodbav:"category_id"`
	ProductID  int64 `json:"product_id" dynamodbav:"product_id"`
	Lifecycle
}

// Address is a shipping destination
type Address struct {
	Name       string `json:"name" dynamodbav:"name"`
	Line1      string `json:"line1" dynamodbav:"line1"`
	Line2      string `json:"line2,omitempty" dynamodbav:"line2,omitempty"`
	City       string `json:"city" dynamodbav:"city"`
	Region     string `json:"region,omitempty" dynamodbav:"region,omitempty"`
	PostalCode string `json:"postal_code" dynamodbav:"postal_code"`
	Country    string `json:"country" dynamodbav:"country"`
}

// Order is the header row of a placed order
type Order struct {
	ID              int64       `json:"id" dynamodbav:"id"`
	OrderNumber     string      `json:"order_number" dynamodbav:"order_number"`
	Email           string      `json:"email" dynamodbav:"email"`
	Status          OrderStatus `json:"status" dynamodbav:"status"`
	Currency        string      `json:"currency" dynamodbav:"currency"`
	SubtotalCents   int64       `json:"subtotal_cents" dynamodbav:"subtotal_cents"`
	DiscountCents   int64       `json:"discount_cents" dynamodbav:"discount_cents"`
	ShippingCents   int64       `json:"shipping_cents" dynamodbav:"shipping_cents"`
	TaxCents        int64       `json:"tax_cents" dynamodbav:"tax_cents"`
	TotalCents      int64       `json:"total_cents" dynamodbav:"total_cents"`
	DiscountCode    string      `json:"discount_code,omitempty" dynamodbav:"discount_code,omitempty"`
	ShippingAddress *Address    `json:"shipping_address,omitempty" dynamodbav:"shipping_address,omitempty"`
	LineCount       int         `json:"line_count" dynamodbav:"line_count"`
	PaymentRef      string      `json:"payment_ref,omitempty" dynamodbav:"payment_ref,omitempty"`
	TrackingNumber  string      `json:"tracking_number,omitempty" dynamodbav:"tracking_number,omitempty"`
	Lifecycle
}

// OrderItem is one line of an order
type OrderItem struct {
	OrderID        int64  `json:"order_id" dynamodbav:"order_id"`
	LineNo         int    `json:"line_no" dynamodbav:"line_no"`
	ProductID      int64  `json:"product_id" dynamodbav:"product_id"`
	VariantID      *int64 `json:"variant_id,omitempty" dynamodbav:"variant_id,omitempty"`
	SKU            string `json:"sku,omitempty" dynamodbav:"sku,omitempty"`
	Name           string `json:"name" dynamodbav:"name"`
	Quantity       int64  `json:"quantity" dynamodbav:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents" dynamodbav:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents" dynamodbav:"total_cents"`
	Lifecycle
}

// Cart is an anonymous shopping session
type Cart struct {
	SessionID string `json:"session_id" dynamodbav:"session_id"`
	Email     string `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Currency  string `json:"currency" dynamodbav:"currency"`
	TTL       int64  `json:"ttl,omitempty" dynamodbav:"ttl,omitempty"`
	Lifecycle
}

// CartItem is one line of a cart
type CartItem struct {
	SessionID      string `json:"session_id" dynamodbav:"session_id"`
	ProductID      int64  `json:"product_id" dynamodbav:"product_id"`
	VariantID      *int64 `json:"variant_id,omitempty" dynamodbav:"variant_id,omitempty"`
	Quantity       int64  `json:"quantity" dynamodbav:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents" dynamodbav:"unit_price_cents"`
	TTL            int64  `json:"ttl,omitempty" dynamodbav:"ttl,omitempty"`
	Lifecycle
}

// DiscountCode is a redeemable promotion
type DiscountCode struct {
	ID             int64        `json:"id" dynamodbav:"id"`
	Code           string       `json:"code" dynamodbav:"code"`
	Kind           DiscountKind `json:"kind" dynamodbav:"kind"`
	Amount         int64        `json:"amount" dynamodbav:"amount"`
	Active         bool         `json:"active" dynamodbav:"active"`
	MaxRedemptions int64        `json:"max_redemptions,omitempty" dynamodbav:"max_redemptions,omitempty"`
	Redemptions    int64        `json:"redemptions" dynamodbav:"redemptions"`
	StartsAt       *time.Time   `json:"starts_at,omitempty" dynamodbav:"starts_at,omitempty"`
	EndsAt         *time.Time   `json:"ends_at,omitempty" dynamodbav:"ends_at,omitempty"`
	Lifecycle
}

// Redeemable reports whether the code can be applied at time now
func (d *DiscountCode) Redeemable(now time.Time) bool {
	if !d.Active || d.IsDeleted() {
		return false
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && !now.Before(*d.EndsAt) {
		return false
	}
	return d.MaxRedemptions == 0 || d.Redemptions < d.MaxRedemptions
}

// Notification is a persisted fact shown to back-office users
type Notification struct {
	ID         string            `json:"id" dynamodbav:"id"`
	Kind       FactKind          `json:"kind" dynamodbav:"kind"`
	EntityType string            `json:"entity_type_ref" dynamodbav:"entity_type_ref"`
	EntityID   string            `json:"entity_id" dynamodbav:"entity_id"`
	Message    string            `json:"message" dynamodbav:"message"`
	Attributes map[string]string `json:"attributes,omitempty" dynamodbav:"attributes,omitempty"`
	Read       bool              `json:"read" dynamodbav:"read"`
	TTL        int64             `json:"ttl,omitempty" dynamodbav:"ttl,omitempty"`
	Lifecycle
}

// AuditLog is an append-only record of an action
type AuditLog struct {
	ID         string            `json:"id" dynamodbav:"id"`
	Action     string            `json:"action" dynamodbav:"action"`
	EntityType string            `json:"entity_type_ref" dynamodbav:"entity_type_ref"`
	EntityID   string            `json:"entity_id" dynamodbav:"entity_id"`
	Actor      string            `json:"actor,omitempty" dynamodbav:"actor,omitempty"`
	Details    map[string]string `json:"details,omitempty" dynamodbav:"details,omitempty"`
	TTL        int64             `json:"ttl,omitempty" dynamodbav:"ttl,omitempty"`
	Lifecycle
}

// Fact is a fire-and-forget domain event keyed by entity id
type Fact struct {
	Kind       FactKind          `json:"kind"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Message    string            `json:"message,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// AuditEntry is an "action performed" fact for the audit collaborator
type AuditEntry struct {
	Action     string
	EntityType string
	EntityID   string
	Actor      string
	Details    map[string]string
	OccurredAt time.Time
}

// PageRequest selects one page of a list operation
type PageRequest struct {
	Limit  int
	Cursor string
}

// Page is one page of results. NextCursor is empty on the last page.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// ProductFilter selects products for listing. Status picks the index;
// the remaining fields are applied to each fetched page.
type ProductFilter struct {
	Status        ProductStatus
	FeaturedOnly  bool
	MinPriceCents *int64
	MaxPriceCents *int64
	Tag           string
	Search        string
}

// OrderFilter selects orders for listing
type OrderFilter struct {
	Status OrderStatus
	Email  string
	From   *time.Time
	To     *time.Time
}
