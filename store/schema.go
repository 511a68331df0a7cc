package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/shopstore"
)

// DynamoDB schema constants for single-table design
const (
	// Table attributes
	AttrPK         = "PK"
	AttrSK         = "SK"
	AttrGSI1PK     = "GSI1PK"
	AttrGSI1SK     = "GSI1SK"
	AttrGSI2PK     = "GSI2PK"
	AttrGSI2SK     = "GSI2SK"
	AttrGSI3PK     = "GSI3PK"
	AttrGSI3SK     = "GSI3SK"
	AttrEntityType = "entity_type"
	AttrTTL        = "ttl"
	AttrDeletedAt  = "deleted_at"
	AttrCreatedAt  = "created_at"
	AttrUpdatedAt  = "updated_at"
	AttrVersion    = "version"
	AttrValue      = "value"
	AttrOwnerPK    = "owner_pk"
	AttrOwnerSK    = "owner_sk"

	// Entity types
	EntityTypeProduct         = "Product"
	EntityTypeVariant         = "Variant"
	EntityTypeImage           = "Image"
	EntityTypeCategory        = "Category"
	EntityTypeCategoryProduct = "CategoryProduct"
	EntityTypeProductCategory = "ProductCategory"
	EntityTypeOrder           = "Order"
	EntityTypeOrderItem       = "OrderItem"
	EntityTypeCart            = "Cart"
	EntityTypeCartItem        = "CartItem"
	EntityTypeDiscountCode    = "DiscountCode"
	EntityTypeNotification    = "Notification"
	EntityTypeAuditLog        = "AuditLog"
	EntityTypeCounter         = "Counter"
	EntityTypeGuard           = "UniqueGuard"

	// Index names
	IndexUnique    = "GSI1" // slug, sku, code, order number
	IndexListing   = "GSI2" // status, parent, entity, date
	IndexSecondary = "GSI3" // email, featured, read state

	// Key prefixes
	PrefixProduct      = "PRODUCT#"
	PrefixVariant      = "VARIANT#"
	PrefixImage        = "IMAGE#"
	PrefixCategory     = "CATEGORY#"
	PrefixOrder        = "ORDER#"
	PrefixItem         = "ITEM#"
	PrefixCart         = "CART#"
	PrefixDiscount     = "DISCOUNT#"
	PrefixNotification = "NOTIFICATION#"
	PrefixAudit        = "AUDIT#"
	PrefixUnique       = "UNIQUE#"

	SKMetadata   = "METADATA"
	PKCounter    = "COUNTER"
	parentRoot   = "ROOT"
	featuredPart = "PRODUCT_FEATURED"

	// Counter names
	CounterProductID  = "PRODUCT_ID"
	CounterVariantID  = "VARIANT_ID"
	CounterCategoryID = "CATEGORY_ID"
	CounterOrderID    = "ORDER_ID"
	CounterDiscountID = "DISCOUNT_ID"

	// Zero-pad widths for sort-significant numbers
	idWidth       = 10
	positionWidth = 4
	orderWidth    = 6
	lineWidth     = 4
)

// Unique field names used in index partitions and guard rows
const (
	UniqueProductSlug  = "PRODUCT_SLUG"
	UniqueVariantSKU   = "VARIANT_SKU"
	UniqueCategorySlug = "CATEGORY_SLUG"
	UniqueOrderNumber  = "ORDER_NUMBER"
	UniqueDiscountCode = "DISCOUNT_CODE"
)

// Key is the primary key of a row
type Key struct {
	PK string
	SK string
}

// String renders the key as PK/SK for logs and errors
func (k Key) String() string {
	return k.PK + "/" + k.SK
}

// AttributeValues returns the key as a DynamoDB key map
func (k Key) AttributeValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: k.PK},
		AttrSK: &types.AttributeValueMemberS{Value: k.SK},
	}
}

// IndexKey is the projection of a row into one secondary index
type IndexKey struct {
	Index string
	PK    string
	SK    string
}

// indexAttrs maps an index name to its key attribute names
var indexAttrs = map[string][2]string{
	IndexUnique:    {AttrGSI1PK, AttrGSI1SK},
	IndexListing:   {AttrGSI2PK, AttrGSI2SK},
	IndexSecondary: {AttrGSI3PK, AttrGSI3SK},
}

// IndexAttributes returns the partition and sort attribute names of index
func IndexAttributes(index string) (string, string) {
	attrs := indexAttrs[index]
	return attrs[0], attrs[1]
}

// structuralAttrs are stripped before decoding a row into an entity
var structuralAttrs = []string{
	AttrPK, AttrSK,
	AttrGSI1PK, AttrGSI1SK,
	AttrGSI2PK, AttrGSI2SK,
	AttrGSI3PK, AttrGSI3SK,
	AttrEntityType,
}

// Generic key builders

// PrimaryKey builds the key of a singleton row: <PREFIX><id>/METADATA
func PrimaryKey(prefix, id string) Key {
	return Key{PK: prefix + id, SK: SKMetadata}
}

// ChildKey builds the key of a child row that shares its parent's partition
func ChildKey(parentPrefix, parentID, childTag, childID string) Key {
	return Key{PK: parentPrefix + parentID, SK: childTag + childID}
}

// IndexKeyFor builds a secondary index projection. Numeric sort values must
// be padded by the caller before they are passed in.
func IndexKeyFor(index, partition, value, sortValue string) IndexKey {
	return IndexKey{Index: index, PK: partition + "#" + value, SK: sortValue}
}

// GuardKey is the row that reserves a unique value
func GuardKey(field, value string) Key {
	return Key{PK: PrefixUnique + field + "#" + value, SK: SKMetadata}
}

// CounterKey is the reserved row of a counter
func CounterKey(name string) Key {
	return Key{PK: PKCounter, SK: name}
}

func idStr(n int64) string {
	return strconv.FormatInt(n, 10)
}

func paddedID(n int64) string {
	return shopstore.Pad(n, idWidth)
}

func createdSort(t time.Time, n int64) string {
	return shopstore.SortableTime(t) + "#" + paddedID(n)
}

// Entity key builders

func ProductKey(productID int64) Key {
	return PrimaryKey(PrefixProduct, idStr(productID))
}

func VariantKey(productID, variantID int64) Key {
	return ChildKey(PrefixProduct, idStr(productID), PrefixVariant, paddedID(variantID))
}

func ImageKey(productID int64, position int) Key {
	return ChildKey(PrefixProduct, idStr(productID), PrefixImage, shopstore.Pad(position, positionWidth))
}

func CategoryKey(categoryID int64) Key {
	return PrimaryKey(PrefixCategory, idStr(categoryID))
}

// CategoryProductKey is the link row under the category partition
func CategoryProductKey(categoryID, productID int64) Key {
	return ChildKey(PrefixCategory, idStr(categoryID), PrefixProduct, paddedID(productID))
}

// ProductCategoryKey is the reciprocal link row under the product partition
func ProductCategoryKey(productID, categoryID int64) Key {
	return ChildKey(PrefixProduct, idStr(productID), PrefixCategory, paddedID(categoryID))
}

func OrderKey(orderID int64) Key {
	return PrimaryKey(PrefixOrder, idStr(orderID))
}

func OrderItemKey(orderID int64, lineNo int) Key {
	return ChildKey(PrefixOrder, idStr(orderID), PrefixItem, shopstore.Pad(lineNo, lineWidth))
}

func CartKey(sessionID string) Key {
	return PrimaryKey(PrefixCart, sessionID)
}

func CartItemKey(sessionID string, productID int64, variantID *int64) Key {
	var vid int64
	if variantID != nil {
		vid = *variantID
	}
	return ChildKey(PrefixCart, sessionID, PrefixItem, paddedID(productID)+"#"+paddedID(vid))
}

func DiscountKey(discountID int64) Key {
	return PrimaryKey(PrefixDiscount, idStr(discountID))
}

func NotificationKey(notificationID string) Key {
	return PrimaryKey(PrefixNotification, notificationID)
}

func AuditKey(auditID string) Key {
	return PrimaryKey(PrefixAudit, auditID)
}

// Index projections

func productSlugIndex(p *shopstore.Product) IndexKey {
	return IndexKeyFor(IndexUnique, UniqueProductSlug, p.Slug, ProductKey(p.ID).PK)
}

func productStatusIndex(p *shopstore.Product) IndexKey {
	return IndexKeyFor(IndexListing, "PRODUCT_STATUS", string(p.Status), createdSort(p.CreatedAt, p.ID))
}

func productFeaturedIndex(p *shopstore.Product) IndexKey {
	return IndexKey{Index: IndexSecondary, PK: featuredPart, SK: createdSort(p.CreatedAt, p.ID)}
}

func variantSKUIndex(v *shopstore.Variant) IndexKey {
	return IndexKeyFor(IndexUnique, UniqueVariantSKU, v.SKU, ProductKey(v.ProductID).PK)
}

func categorySlugIndex(c *shopstore.Category) IndexKey {
	return IndexKeyFor(IndexUnique, UniqueCategorySlug, c.Slug, CategoryKey(c.ID).PK)
}

func categoryParentIndex(c *shopstore.Category) IndexKey {
	return IndexKeyFor(IndexListing, "CATEGORY_PARENT", parentValue(c.ParentID),
		shopstore.Pad(c.DisplayOrder, orderWidth)+"#"+paddedID(c.ID))
}

func parentValue(parentID *int64) string {
	if parentID == nil {
		return parentRoot
	}
	return idStr(*parentID)
}

func orderNumberIndex(o *shopstore.Order) IndexKey {
	return IndexKeyFor(IndexUnique, UniqueOrderNumber, o.OrderNumber, OrderKey(o.ID).PK)
}

func orderStatusIndex(o *shopstore.Order) IndexKey {
	return IndexKeyFor(IndexListing, "ORDER_STATUS", string(o.Status), createdSort(o.CreatedAt, o.ID))
}

func orderEmailIndex(o *shopstore.Order) IndexKey {
	return IndexKeyFor(IndexSecondary, "ORDER_EMAIL", NormalizeEmail(o.Email), createdSort(o.CreatedAt, o.ID))
}

func discountCodeIndex(d *shopstore.DiscountCode) IndexKey {
	return IndexKeyFor(IndexUnique, UniqueDiscountCode, NormalizeCode(d.Code), DiscountKey(d.ID).PK)
}

func notificationEntityIndex(n *shopstore.Notification) IndexKey {
	return IndexKeyFor(IndexListing, "NOTIFICATION_ENTITY", n.EntityType+"#"+n.EntityID, n.ID)
}

func notificationStatusIndex(n *shopstore.Notification) IndexKey {
	state := "UNREAD"
	if n.Read {
		state = "READ"
	}
	return IndexKeyFor(IndexSecondary, "NOTIFICATION_STATUS", state, n.ID)
}

func auditDateIndex(a *shopstore.AuditLog) IndexKey {
	return IndexKeyFor(IndexListing, "AUDIT_DATE", a.CreatedAt.UTC().Format("2006-01-02"), a.ID)
}

func auditEntityIndex(a *shopstore.AuditLog) IndexKey {
	return IndexKeyFor(IndexSecondary, "AUDIT_ENTITY", a.EntityType+"#"+a.EntityID, a.ID)
}

// OrderNumberCounter is the per-day counter behind order numbers
func OrderNumberCounter(day time.Time) string {
	return "ORDER_NUMBER_" + day.UTC().Format("20060102")
}

// FormatOrderNumber renders ORD-YYYYMMDD-XXXX
func FormatOrderNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%s-%s", day.UTC().Format("20060102"), shopstore.Pad(seq, 4))
}

// NormalizeEmail lower-cases and trims an email for index lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeCode upper-cases and trims a discount code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
