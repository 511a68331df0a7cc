package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/shopstore"
)

func productSchema() Schema[*shopstore.Product] {
	return Schema[*shopstore.Product]{
		EntityType: EntityTypeProduct,
		New:        func() *shopstore.Product { return &shopstore.Product{} },
		Key:        func(p *shopstore.Product) Key { return ProductKey(p.ID) },
		Indexes: func(p *shopstore.Product) []IndexKey {
			idx := []IndexKey{productSlugIndex(p), productStatusIndex(p)}
			if p.Featured {
				idx = append(idx, productFeaturedIndex(p))
			}
			return idx
		},
		Guards: func(p *shopstore.Product) []Guard {
			return []Guard{{Field: UniqueProductSlug, Value: p.Slug}}
		},
		Required: []string{"id", "slug", "name", "status"},
	}
}

func variantSchema() Schema[*shopstore.Variant] {
	return Schema[*shopstore.Variant]{
		EntityType: EntityTypeVariant,
		New:        func() *shopstore.Variant { return &shopstore.Variant{} },
		Key:        func(v *shopstore.Variant) Key { return VariantKey(v.ProductID, v.ID) },
		Indexes: func(v *shopstore.Variant) []IndexKey {
			return []IndexKey{variantSKUIndex(v)}
		},
		Guards: func(v *shopstore.Variant) []Guard {
			return []Guard{{Field: UniqueVariantSKU, Value: v.SKU}}
		},
		Required: []string{"id", "product_id", "sku", "stock"},
	}
}

func imageSchema() Schema[*shopstore.Image] {
	return Schema[*shopstore.Image]{
		EntityType: EntityTypeImage,
		New:        func() *shopstore.Image { return &shopstore.Image{} },
		Key:        func(img *shopstore.Image) Key { return ImageKey(img.ProductID, img.Position) },
		Required:   []string{"product_id", "position", "url"},
	}
}

// ProductRepository persists products with their variants, images and
// product-side category links, all in the product partition
type ProductRepository struct {
	db       *DynamoDBStore
	products *Repository[*shopstore.Product]
	variants *Repository[*shopstore.Variant]
	images   *Repository[*shopstore.Image]
	links    *Repository[*shopstore.CategoryLink]
}

var _ shopstore.ProductStore = (*ProductRepository)(nil)

func newProductRepository(db *DynamoDBStore) *ProductRepository {
	return &ProductRepository{
		db:       db,
		products: NewRepository(db, productSchema()),
		variants: NewRepository(db, variantSchema()),
		images:   NewRepository(db, imageSchema()),
		links:    NewRepository(db, productCategorySchema()),
	}
}

// VariantCodec exposes the variant codec to the checkout coordinator
func (r *ProductRepository) VariantCodec() Codec[*shopstore.Variant] {
	return r.variants.Codec()
}

func validateProduct(p *shopstore.Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return shopstore.NewValidationError("product name is required")
	}
	if err := validateSlug(p.Slug); err != nil {
		return err
	}
	if p.PriceCents < 0 {
		return shopstore.NewValidationError("product price must not be negative")
	}
	if !p.Status.Valid() {
		return shopstore.NewValidationError("unknown product status %q", p.Status)
	}
	return nil
}

func validateSlug(slug string) error {
	if slug == "" {
		return shopstore.NewValidationError("slug is required")
	}
	if slug != strings.ToLower(strings.TrimSpace(slug)) || strings.ContainsAny(slug, "# /") {
		return shopstore.NewValidationError("slug %q must be lower case without spaces, '#' or '/'", slug)
	}
	return nil
}

// Create stores a new product. The id comes from the PRODUCT_ID counter
// unless one is set.
func (r *ProductRepository) Create(ctx context.Context, p *shopstore.Product) (*shopstore.Product, error) {
	if p.Status == "" {
		p.Status = shopstore.ProductStatusDraft
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}
	if err := r.db.counters.allocate(ctx, &p.ID, CounterProductID); err != nil {
		return nil, err
	}
	return r.products.Create(ctx, p)
}

func (r *ProductRepository) Get(ctx context.Context, id int64, includeDeleted bool) (*shopstore.Product, error) {
	return r.products.Get(ctx, ProductKey(id), includeDeleted)
}

func (r *ProductRepository) GetBySlug(ctx context.Context, slug string) (*shopstore.Product, error) {
	return r.products.FindUnique(ctx, UniqueProductSlug, slug)
}

// List pages through products newest first. FeaturedOnly reads the featured
// index; otherwise the status index is used, defaulting to ACTIVE. Price, tag
// and search criteria are evaluated as a filter by the store.
func (r *ProductRepository) List(ctx context.Context, filter shopstore.ProductFilter, page shopstore.PageRequest) (shopstore.Page[*shopstore.Product], error) {
	var conds []expression.ConditionBuilder
	q := ListQuery{Descending: true}

	if filter.FeaturedOnly {
		q.Index = IndexSecondary
		q.Partition = featuredPart
		if filter.Status != "" {
			conds = append(conds, expression.Name("status").Equal(expression.Value(filter.Status)))
		}
	} else {
		status := filter.Status
		if status == "" {
			status = shopstore.ProductStatusActive
		}
		if !status.Valid() {
			return shopstore.Page[*shopstore.Product]{}, shopstore.NewValidationError("unknown product status %q", status)
		}
		q.Index = IndexListing
		q.Partition = productStatusIndex(&shopstore.Product{Status: status}).PK
	}

	if filter.MinPriceCents != nil {
		conds = append(conds, expression.Name("price_cents").GreaterThanEqual(expression.Value(*filter.MinPriceCents)))
	}
	if filter.MaxPriceCents != nil {
		conds = append(conds, expression.Name("price_cents").LessThanEqual(expression.Value(*filter.MaxPriceCents)))
	}
	if filter.Tag != "" {
		conds = append(conds, expression.Contains(expression.Name("tags"), filter.Tag))
	}
	if filter.Search != "" {
		conds = append(conds, expression.Contains(expression.Name("name"), filter.Search))
	}
	q.Filter = combine(conds)

	return r.products.List(ctx, q, page)
}

// combine joins conditions with AND; nil when there are none
func combine(conds []expression.ConditionBuilder) *expression.ConditionBuilder {
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return &conds[0]
	}
	c := expression.And(conds[0], conds[1], conds[2:]...)
	return &c
}

// Update applies mutate and rewrites the slug, status and featured
// projections when those fields change
func (r *ProductRepository) Update(ctx context.Context, id int64, mutate func(*shopstore.Product) error) (*shopstore.Product, error) {
	return r.products.Update(ctx, ProductKey(id), func(p *shopstore.Product) error {
		if err := mutate(p); err != nil {
			return err
		}
		return validateProduct(p)
	})
}

func (r *ProductRepository) SoftDelete(ctx context.Context, id int64) error {
	return r.products.SoftDelete(ctx, ProductKey(id))
}

func (r *ProductRepository) Restore(ctx context.Context, id int64) error {
	return r.products.Restore(ctx, ProductKey(id))
}

// HardDelete removes the entire product partition together with the
// category-side links and the guard rows of the product and its variants.
// Rows are removed with batched deletes and the operation is not atomic; a
// partial failure can be finished by calling HardDelete again.
func (r *ProductRepository) HardDelete(ctx context.Context, id int64) error {
	key := ProductKey(id)
	items, err := r.db.queryAll(ctx, key.PK, "")
	if err != nil {
		return classify(err, "query product partition", EntityTypeProduct, key)
	}

	if len(items) == 0 {
		return shopstore.NewNotFoundError(EntityTypeProduct, key.String())
	}

	keys := make([]Key, 0, len(items))
	for _, item := range items {
		keys = append(keys, itemKey(item))

		switch stringAttr(item, AttrEntityType) {
		case EntityTypeProduct:
			if slug := stringAttr(item, "slug"); slug != "" {
				keys = append(keys, GuardKey(UniqueProductSlug, slug))
			}
		case EntityTypeVariant:
			if sku := stringAttr(item, "sku"); sku != "" {
				keys = append(keys, GuardKey(UniqueVariantSKU, sku))
			}
		case EntityTypeProductCategory:
			if cid, ok := numberAttr(item, "category_id"); ok {
				keys = append(keys, CategoryProductKey(cid, id))
			}
		}
	}
	if err := r.db.deleteKeys(ctx, keys); err != nil {
		return err
	}
	shopstore.LogEntityHardDeleted(r.products.logger, EntityTypeProduct, key.PK, key.SK)
	return nil
}

// Variants

func validateVariant(v *shopstore.Variant) error {
	if v.ProductID <= 0 {
		return shopstore.NewValidationError("variant product id is required")
	}
	if strings.TrimSpace(v.SKU) == "" || strings.ContainsAny(v.SKU, "#") {
		return shopstore.NewValidationError("variant sku %q is invalid", v.SKU)
	}
	if v.Stock < 0 {
		return shopstore.NewValidationError("variant stock must not be negative")
	}
	if v.PriceCents < 0 {
		return shopstore.NewValidationError("variant price must not be negative")
	}
	return nil
}

// CreateVariant stores a variant under an active product
func (r *ProductRepository) CreateVariant(ctx context.Context, v *shopstore.Variant) (*shopstore.Variant, error) {
	if err := validateVariant(v); err != nil {
		return nil, err
	}
	if err := r.db.counters.allocate(ctx, &v.ID, CounterVariantID); err != nil {
		return nil, err
	}
	return r.variants.Create(ctx, v, ProductKey(v.ProductID))
}

func (r *ProductRepository) GetVariant(ctx context.Context, productID, variantID int64) (*shopstore.Variant, error) {
	return r.variants.Get(ctx, VariantKey(productID, variantID), false)
}

func (r *ProductRepository) GetVariantBySKU(ctx context.Context, sku string) (*shopstore.Variant, error) {
	return r.variants.FindUnique(ctx, UniqueVariantSKU, sku)
}

// Variants returns the active variants of a product ordered by id
func (r *ProductRepository) Variants(ctx context.Context, productID int64) ([]*shopstore.Variant, error) {
	return r.variants.Children(ctx, ProductKey(productID).PK, PrefixVariant, false)
}

func (r *ProductRepository) UpdateVariant(ctx context.Context, productID, variantID int64, mutate func(*shopstore.Variant) error) (*shopstore.Variant, error) {
	return r.variants.Update(ctx, VariantKey(productID, variantID), func(v *shopstore.Variant) error {
		if err := mutate(v); err != nil {
			return err
		}
		return validateVariant(v)
	})
}

// AdjustStock atomically adds delta to the variant stock. A decrement that
// would take stock below zero fails with STOCK_CONFLICT.
func (r *ProductRepository) AdjustStock(ctx context.Context, productID, variantID, delta int64) (*shopstore.Variant, error) {
	key := VariantKey(productID, variantID)

	expr, err := r.stockExpression(delta)
	if err != nil {
		return nil, err
	}

	result, err := r.db.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.db.tableName),
		Key:                                 key.AttributeValues(),
		UpdateExpression:                    expr.Update(),
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		if old, ok := ConditionFailedItem(err); ok {
			if old == nil || IsDeleted(old) {
				return nil, shopstore.NewNotFoundError(EntityTypeVariant, key.String()).WithCause(err)
			}
			stock, _ := numberAttr(old, "stock")
			return nil, shopstore.NewStoreError(shopstore.ErrCodeStockConflict,
				fmt.Sprintf("insufficient stock: have %d, need %d", stock, -delta)).
				WithEntity(EntityTypeVariant, key.String()).
				WithDetails(map[string]interface{}{"variant_ids": []int64{variantID}, "available": stock}).
				WithCause(err)
		}
		return nil, classify(err, "adjust stock", EntityTypeVariant, key)
	}

	return r.variants.Codec().Decode(result.Attributes)
}

// stockExpression adds delta to stock on an active variant. Decrements are
// conditioned on enough stock remaining.
func (r *ProductRepository) stockExpression(delta int64) (expression.Expression, error) {
	update := expression.Set(expression.Name("stock"), expression.Name("stock").Plus(expression.Value(delta))).
		Set(expression.Name(AttrVersion), expression.Name(AttrVersion).Plus(expression.Value(1))).
		Set(expression.Name(AttrUpdatedAt), expression.Value(r.db.now().UTC().Format(time.RFC3339Nano)))

	cond := expression.AttributeExists(expression.Name(AttrPK)).And(activeFilter())
	if delta < 0 {
		cond = cond.And(expression.Name("stock").GreaterThanEqual(expression.Value(-delta)))
	}

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return expression.Expression{}, fmt.Errorf("failed to build stock expression: %w", err)
	}
	return expr, nil
}

// StockUpdate is the transactional form of AdjustStock. On a failed
// condition the cancellation reason carries the old item.
func (r *ProductRepository) StockUpdate(productID, variantID, delta int64) (types.TransactWriteItem, error) {
	expr, err := r.stockExpression(delta)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                           aws.String(r.db.tableName),
			Key:                                 VariantKey(productID, variantID).AttributeValues(),
			UpdateExpression:                    expr.Update(),
			ConditionExpression:                 expr.Condition(),
			ExpressionAttributeNames:            expr.Names(),
			ExpressionAttributeValues:           expr.Values(),
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}, nil
}

// DeleteVariant removes a variant and releases its SKU
func (r *ProductRepository) DeleteVariant(ctx context.Context, productID, variantID int64) error {
	return r.variants.HardDelete(ctx, VariantKey(productID, variantID))
}

// Images

// AddImage stores an image under an active product. A zero position appends
// after the current last image.
func (r *ProductRepository) AddImage(ctx context.Context, img *shopstore.Image) (*shopstore.Image, error) {
	if img.ProductID <= 0 {
		return nil, shopstore.NewValidationError("image product id is required")
	}
	if strings.TrimSpace(img.URL) == "" {
		return nil, shopstore.NewValidationError("image url is required")
	}
	if img.Position < 0 {
		return nil, shopstore.NewValidationError("image position must not be negative")
	}

	if img.Position == 0 {
		existing, err := r.images.Children(ctx, ProductKey(img.ProductID).PK, PrefixImage, true)
		if err != nil {
			return nil, err
		}
		img.Position = 1
		if n := len(existing); n > 0 {
			img.Position = existing[n-1].Position + 1
		}
	}

	return r.images.Create(ctx, img, ProductKey(img.ProductID))
}

// Images returns the images of a product ordered by position
func (r *ProductRepository) Images(ctx context.Context, productID int64) ([]*shopstore.Image, error) {
	return r.images.Children(ctx, ProductKey(productID).PK, PrefixImage, false)
}

func (r *ProductRepository) RemoveImage(ctx context.Context, productID int64, position int) error {
	return r.images.HardDelete(ctx, ImageKey(productID, position))
}

// CategoryIDs returns the categories a product is linked to
func (r *ProductRepository) CategoryIDs(ctx context.Context, productID int64) ([]int64, error) {
	links, err := r.links.Children(ctx, ProductKey(productID).PK, PrefixCategory, false)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(links))
	for i, l := range links {
		ids[i] = l.CategoryID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
