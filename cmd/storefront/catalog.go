package main

import (
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/sicko7947/shopstore"
)

// productPatch carries the product fields a client may change
type productPatch struct {
	Name        *string                  `json:"name"`
	Slug        *string                  `json:"slug"`
	Description *string                  `json:"description"`
	PriceCents  *int64                   `json:"price_cents"`
	Status      *shopstore.ProductStatus `json:"status"`
	Featured    *bool                    `json:"featured"`
	Tags        []string                 `json:"tags"`
}

func (p productPatch) apply(product *shopstore.Product) error {
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Slug != nil {
		product.Slug = *p.Slug
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.PriceCents != nil {
		product.PriceCents = *p.PriceCents
	}
	if p.Status != nil {
		product.Status = *p.Status
	}
	if p.Featured != nil {
		product.Featured = *p.Featured
	}
	if p.Tags != nil {
		product.Tags = p.Tags
	}
	return nil
}

func handleListProducts(c fiber.Ctx) error {
	filter := shopstore.ProductFilter{
		Status:       shopstore.ProductStatus(c.Query("status", string(shopstore.ProductStatusActive))),
		FeaturedOnly: c.Query("featured") == "true",
		Tag:          c.Query("tag"),
		Search:       c.Query("q"),
	}
	if v := c.Query("min_price"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid min_price")
		}
		filter.MinPriceCents = &n
	}
	if v := c.Query("max_price"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid max_price")
		}
		filter.MaxPriceCents = &n
	}

	page, err := db.Products().List(c.Context(), filter, pageRequest(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func handleCreateProduct(c fiber.Ctx) error {
	var product shopstore.Product
	if err := bindJSON(c, &product); err != nil {
		return err
	}
	created, err := db.Products().Create(c.Context(), &product)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func handleGetProduct(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	product, err := db.Products().Get(c.Context(), id, c.Query("deleted") == "true")
	if err != nil {
		return err
	}
	return c.JSON(product)
}

func handleGetProductBySlug(c fiber.Ctx) error {
	product, err := db.Products().GetBySlug(c.Context(), c.Params("slug"))
	if err != nil {
		return err
	}
	variants, err := db.Products().Variants(c.Context(), product.ID)
	if err != nil {
		return err
	}
	images, err := db.Products().Images(c.Context(), product.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"product":  product,
		"variants": variants,
		"images":   images,
	})
}

func handleUpdateProduct(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var patch productPatch
	if err := bindJSON(c, &patch); err != nil {
		return err
	}
	updated, err := db.Products().Update(c.Context(), id, patch.apply)
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

// handleDeleteProduct soft deletes by default; ?hard=true removes the
// product partition
func handleDeleteProduct(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if c.Query("hard") == "true" {
		err = db.Products().HardDelete(c.Context(), id)
	} else {
		err = db.Products().SoftDelete(c.Context(), id)
	}
	if err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func handleRestoreProduct(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := db.Products().Restore(c.Context(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func handleListVariants(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	variants, err := db.Products().Variants(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": variants})
}

func handleCreateVariant(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var variant shopstore.Variant
	if err := bindJSON(c, &variant); err != nil {
		return err
	}
	variant.ProductID = id
	created, err := db.Products().CreateVariant(c.Context(), &variant)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func handleAdjustStock(c fiber.Ctx) error {
	productID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	variantID, err := paramID(c, "variantId")
	if err != nil {
		return err
	}
	var body struct {
		Delta int64 `json:"delta"`
	}
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	variant, err := db.Products().AdjustStock(c.Context(), productID, variantID, body.Delta)
	if err != nil {
		return err
	}
	return c.JSON(variant)
}

func handleCategoryTree(c fiber.Ctx) error {
	tree, err := db.Categories().Tree(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"roots": tree.Roots, "nodes": tree.Nodes})
}

func handleCreateCategory(c fiber.Ctx) error {
	var category shopstore.Category
	if err := bindJSON(c, &category); err != nil {
		return err
	}
	created, err := db.Categories().Create(c.Context(), &category)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// handleGetCategory returns a category with its breadcrumb trail
func handleGetCategory(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	category, err := db.Categories().Get(c.Context(), id, false)
	if err != nil {
		return err
	}
	tree, err := db.Categories().Tree(c.Context())
	if err != nil {
		return err
	}
	ancestors, err := tree.Ancestors(id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"category":    category,
		"ancestors":   ancestors,
		"descendants": tree.Descendants(id),
	})
}

func handleMoveCategory(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		ParentID *int64 `json:"parent_id"`
	}
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	moved, err := db.Categories().Move(c.Context(), id, body.ParentID)
	if err != nil {
		return err
	}
	return c.JSON(moved)
}

func handleCategoryProducts(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ids, err := db.Categories().ProductIDs(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"product_ids": ids})
}

func handleAttachProduct(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	productID, err := paramID(c, "productId")
	if err != nil {
		return err
	}
	if err := db.Categories().AttachProduct(c.Context(), id, productID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func handleDetachProduct(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	productID, err := paramID(c, "productId")
	if err != nil {
		return err
	}
	if err := db.Categories().DetachProduct(c.Context(), id, productID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func handleCreateDiscount(c fiber.Ctx) error {
	var discount shopstore.DiscountCode
	if err := bindJSON(c, &discount); err != nil {
		return err
	}
	created, err := db.Discounts().Create(c.Context(), &discount)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func handleGetDiscount(c fiber.Ctx) error {
	discount, err := db.Discounts().GetByCode(c.Context(), c.Params("code"))
	if err != nil {
		return err
	}
	return c.JSON(discount)
}
