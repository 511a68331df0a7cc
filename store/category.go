package store

import (
	"context"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sicko7947/shopstore"
)

func categorySchema() Schema[*shopstore.Category] {
	return Schema[*shopstore.Category]{
		EntityType: EntityTypeCategory,
		New:        func() *shopstore.Category { return &shopstore.Category{} },
		Key:        func(c *shopstore.Category) Key { return CategoryKey(c.ID) },
		Indexes: func(c *shopstore.Category) []IndexKey {
			return []IndexKey{categorySlugIndex(c), categoryParentIndex(c)}
		},
		Guards: func(c *shopstore.Category) []Guard {
			return []Guard{{Field: UniqueCategorySlug, Value: c.Slug}}
		},
		Required: []string{"id", "slug", "name"},
	}
}

func categoryProductSchema() Schema[*shopstore.CategoryLink] {
	return Schema[*shopstore.CategoryLink]{
		EntityType: EntityTypeCategoryProduct,
		New:        func() *shopstore.CategoryLink { return &shopstore.CategoryLink{} },
		Key:        func(l *shopstore.CategoryLink) Key { return CategoryProductKey(l.CategoryID, l.ProductID) },
		Required:   []string{"category_id", "product_id"},
	}
}

func productCategorySchema() Schema[*shopstore.CategoryLink] {
	return Schema[*shopstore.CategoryLink]{
		EntityType: EntityTypeProductCategory,
		New:        func() *shopstore.CategoryLink { return &shopstore.CategoryLink{} },
		Key:        func(l *shopstore.CategoryLink) Key { return ProductCategoryKey(l.ProductID, l.CategoryID) },
		Required:   []string{"category_id", "product_id"},
	}
}

// CategoryRepository persists categories and the category side of product links
type CategoryRepository struct {
	db         *DynamoDBStore
	categories *Repository[*shopstore.Category]
	links      *Repository[*shopstore.CategoryLink]
	backlinks  Codec[*shopstore.CategoryLink]
}

var _ shopstore.CategoryStore = (*CategoryRepository)(nil)

func newCategoryRepository(db *DynamoDBStore) *CategoryRepository {
	return &CategoryRepository{
		db:         db,
		categories: NewRepository(db, categorySchema()),
		links:      NewRepository(db, categoryProductSchema()),
		backlinks:  NewCodec(productCategorySchema()),
	}
}

func validateCategory(c *shopstore.Category) error {
	if strings.TrimSpace(c.Name) == "" {
		return shopstore.NewValidationError("category name is required")
	}
	if err := validateSlug(c.Slug); err != nil {
		return err
	}
	if c.DisplayOrder < 0 {
		return shopstore.NewValidationError("display order must not be negative")
	}
	if c.ParentID != nil && *c.ParentID <= 0 {
		return shopstore.NewValidationError("parent id must be positive")
	}
	return nil
}

// Create stores a category. When a parent is set it must exist and be active
// at commit time.
func (r *CategoryRepository) Create(ctx context.Context, c *shopstore.Category) (*shopstore.Category, error) {
	if err := validateCategory(c); err != nil {
		return nil, err
	}
	if err := r.db.counters.allocate(ctx, &c.ID, CounterCategoryID); err != nil {
		return nil, err
	}
	if c.ParentID == nil {
		return r.categories.Create(ctx, c)
	}
	if *c.ParentID == c.ID {
		return nil, shopstore.NewValidationError("category %d cannot be its own parent", c.ID)
	}
	return r.categories.Create(ctx, c, CategoryKey(*c.ParentID))
}

func (r *CategoryRepository) Get(ctx context.Context, id int64, includeDeleted bool) (*shopstore.Category, error) {
	return r.categories.Get(ctx, CategoryKey(id), includeDeleted)
}

func (r *CategoryRepository) GetBySlug(ctx context.Context, slug string) (*shopstore.Category, error) {
	return r.categories.FindUnique(ctx, UniqueCategorySlug, slug)
}

// Children lists the active children of parentID, or the roots when nil,
// in display order
func (r *CategoryRepository) Children(ctx context.Context, parentID *int64) ([]*shopstore.Category, error) {
	return r.categories.ListAll(ctx, ListQuery{
		Index:     IndexListing,
		Partition: categoryParentIndex(&shopstore.Category{ParentID: parentID}).PK,
	})
}

// Tree loads every active category reachable from the roots
func (r *CategoryRepository) Tree(ctx context.Context) (*shopstore.CategoryTree, error) {
	var all []*shopstore.Category
	seen := make(map[int64]bool)

	queue := []*int64{nil}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		children, err := r.Children(ctx, parent)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			all = append(all, c)
			queue = append(queue, shopstore.ToPtr(c.ID))
		}
	}

	tree := shopstore.NewCategoryTree(all)
	if err := tree.Validate(); err != nil {
		return nil, shopstore.NewStoreError(shopstore.ErrCodeInternalError, err.Error()).WithCause(err)
	}
	return tree, nil
}

// Update applies mutate. A changed parent is validated against the current
// tree so the hierarchy stays acyclic.
func (r *CategoryRepository) Update(ctx context.Context, id int64, mutate func(*shopstore.Category) error) (*shopstore.Category, error) {
	return r.categories.Update(ctx, CategoryKey(id), func(c *shopstore.Category) error {
		before := c.ParentID
		if err := mutate(c); err != nil {
			return err
		}
		if err := validateCategory(c); err != nil {
			return err
		}
		if sameParent(before, c.ParentID) {
			return nil
		}
		return r.checkMove(ctx, id, c.ParentID)
	})
}

// Move reparents a category; nil makes it a root
func (r *CategoryRepository) Move(ctx context.Context, id int64, parentID *int64) (*shopstore.Category, error) {
	return r.Update(ctx, id, func(c *shopstore.Category) error {
		c.ParentID = parentID
		return nil
	})
}

func (r *CategoryRepository) checkMove(ctx context.Context, id int64, parentID *int64) error {
	if parentID == nil {
		return nil
	}
	tree, err := r.Tree(ctx)
	if err != nil {
		return err
	}
	if err := tree.CanMove(id, parentID); err != nil {
		return shopstore.NewValidationError("%s", err.Error())
	}
	return nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *CategoryRepository) SoftDelete(ctx context.Context, id int64) error {
	return r.categories.SoftDelete(ctx, CategoryKey(id))
}

func (r *CategoryRepository) Restore(ctx context.Context, id int64) error {
	return r.categories.Restore(ctx, CategoryKey(id))
}

// AttachProduct links a product to a category. Both rows are written in one
// transaction that also checks both sides are active.
func (r *CategoryRepository) AttachProduct(ctx context.Context, categoryID, productID int64) error {
	now := r.db.now()
	link := &shopstore.CategoryLink{
		CategoryID: categoryID,
		ProductID:  productID,
		Lifecycle:  shopstore.Lifecycle{CreatedAt: now, UpdatedAt: now, Version: 1},
	}

	forward, err := r.links.Codec().Encode(link)
	if err != nil {
		return err
	}
	backward, err := r.backlinks.Encode(link)
	if err != nil {
		return err
	}

	var tx []types.TransactWriteItem
	for _, build := range []func() (types.TransactWriteItem, error){
		func() (types.TransactWriteItem, error) { return r.db.checkActive(CategoryKey(categoryID)) },
		func() (types.TransactWriteItem, error) { return r.db.checkActive(ProductKey(productID)) },
		func() (types.TransactWriteItem, error) { return r.db.putIfAbsent(forward) },
		func() (types.TransactWriteItem, error) { return r.db.putIfAbsent(backward) },
	} {
		item, err := build()
		if err != nil {
			return err
		}
		tx = append(tx, item)
	}

	key := CategoryProductKey(categoryID, productID)
	if err := r.db.transact(ctx, tx, ""); err != nil {
		reasons, ok := CancellationReasons(err)
		if !ok || len(reasons) != len(tx) {
			return classify(err, "attach product", EntityTypeCategoryProduct, key)
		}
		switch {
		case reasonFailed(reasons[0]):
			return shopstore.NewNotFoundError(EntityTypeCategory, CategoryKey(categoryID).String()).WithCause(err)
		case reasonFailed(reasons[1]):
			return shopstore.NewNotFoundError(EntityTypeProduct, ProductKey(productID).String()).WithCause(err)
		case reasonFailed(reasons[2]), reasonFailed(reasons[3]):
			return shopstore.NewConflictError(EntityTypeCategoryProduct, key.String(), "product already linked").WithCause(err)
		}
		return classify(err, "attach product", EntityTypeCategoryProduct, key)
	}

	shopstore.LogEntityCreated(r.links.logger, EntityTypeCategoryProduct, key.PK, key.SK)
	return nil
}

// DetachProduct removes both link rows
func (r *CategoryRepository) DetachProduct(ctx context.Context, categoryID, productID int64) error {
	key := CategoryProductKey(categoryID, productID)

	forward, err := r.db.deleteItem(key, true)
	if err != nil {
		return err
	}
	backward, err := r.db.deleteItem(ProductCategoryKey(productID, categoryID), false)
	if err != nil {
		return err
	}

	if err := r.db.transact(ctx, []types.TransactWriteItem{forward, backward}, ""); err != nil {
		if reasons, ok := CancellationReasons(err); ok && len(reasons) > 0 && reasonFailed(reasons[0]) {
			return shopstore.NewNotFoundError(EntityTypeCategoryProduct, key.String()).WithCause(err)
		}
		return classify(err, "detach product", EntityTypeCategoryProduct, key)
	}

	shopstore.LogEntityHardDeleted(r.links.logger, EntityTypeCategoryProduct, key.PK, key.SK)
	return nil
}

// ProductIDs returns the products linked to a category
func (r *CategoryRepository) ProductIDs(ctx context.Context, categoryID int64) ([]int64, error) {
	links, err := r.links.Children(ctx, CategoryKey(categoryID).PK, PrefixProduct, false)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(links))
	for i, l := range links {
		ids[i] = l.ProductID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
