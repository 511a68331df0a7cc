package main

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"github.com/sicko7947/shopstore"
)

// registerRoutes registers all HTTP routes
func registerRoutes(app *fiber.App) {
	// Health check endpoint
	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "shopstore-storefront",
			"table":   db.TableName(),
		})
	})

	v1 := app.Group("/api/v1")

	products := v1.Group("/products")
	products.Get("/", handleListProducts)
	products.Post("/", handleCreateProduct)
	products.Get("/slug/:slug", handleGetProductBySlug)
	products.Get("/:id", handleGetProduct)
	products.Patch("/:id", handleUpdateProduct)
	products.Delete("/:id", handleDeleteProduct)
	products.Post("/:id/restore", handleRestoreProduct)
	products.Get("/:id/variants", handleListVariants)
	products.Post("/:id/variants", handleCreateVariant)
	products.Post("/:id/variants/:variantId/stock", handleAdjustStock)

	categories := v1.Group("/categories")
	categories.Get("/", handleCategoryTree)
	categories.Post("/", handleCreateCategory)
	categories.Get("/:id", handleGetCategory)
	categories.Post("/:id/move", handleMoveCategory)
	categories.Get("/:id/products", handleCategoryProducts)
	categories.Put("/:id/products/:productId", handleAttachProduct)
	categories.Delete("/:id/products/:productId", handleDetachProduct)

	carts := v1.Group("/carts")
	carts.Post("/", handleCreateCart)
	carts.Get("/:session", handleGetCart)
	carts.Put("/:session/items", handleSetCartItem)
	carts.Delete("/:session/items", handleClearCart)

	orders := v1.Group("/orders")
	orders.Get("/", handleListOrders)
	orders.Post("/", handleCreateOrder)
	orders.Get("/number/:number", handleGetOrderByNumber)
	orders.Get("/:id", handleGetOrder)
	orders.Post("/:id/status", handleTransitionOrder)
	orders.Post("/:id/cancel", handleCancelOrder)
	orders.Get("/:id/audit", handleOrderAudit)

	discounts := v1.Group("/discounts")
	discounts.Post("/", handleCreateDiscount)
	discounts.Get("/:code", handleGetDiscount)

	notifications := v1.Group("/notifications")
	notifications.Get("/", handleListUnread)
	notifications.Post("/:id/read", handleMarkRead)
}

// errorHandler maps store errors onto HTTP status codes
func errorHandler(c fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}

	var se *shopstore.StoreError
	if !errors.As(err, &se) {
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}

	status := fiber.StatusInternalServerError
	switch se.Code {
	case shopstore.ErrCodeNotFound:
		status = fiber.StatusNotFound
	case shopstore.ErrCodeValidation, shopstore.ErrCodeInvalidTransition:
		status = fiber.StatusUnprocessableEntity
	case shopstore.ErrCodeConflict, shopstore.ErrCodeStockConflict, shopstore.ErrCodeDuplicateOrderNumber:
		status = fiber.StatusConflict
	case shopstore.ErrCodeThrottled:
		status = fiber.StatusServiceUnavailable
	}
	if status == fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": se})
}

func paramID(c fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func pageRequest(c fiber.Ctx) shopstore.PageRequest {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return shopstore.PageRequest{Limit: limit, Cursor: c.Query("cursor")}
}

func bindJSON(c fiber.Ctx, v any) error {
	if err := c.Bind().JSON(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	return nil
}
