package main

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sicko7947/shopstore"
	"github.com/sicko7947/shopstore/checkout"
	"github.com/sicko7947/shopstore/store"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerActor          = "X-Actor"
)

func handleCreateCart(c fiber.Ctx) error {
	var cart shopstore.Cart
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &cart); err != nil {
			return err
		}
	}
	created, err := db.Carts().Create(c.Context(), &cart)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func handleGetCart(c fiber.Ctx) error {
	session := c.Params("session")
	cart, err := db.Carts().Get(c.Context(), session)
	if err != nil {
		return err
	}
	items, err := db.Carts().Items(c.Context(), session)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"cart": cart, "items": items})
}

// handleSetCartItem replaces one cart line; quantity 0 removes it
func handleSetCartItem(c fiber.Ctx) error {
	var item shopstore.CartItem
	if err := bindJSON(c, &item); err != nil {
		return err
	}
	item.SessionID = c.Params("session")
	saved, err := db.Carts().SetItem(c.Context(), &item)
	if err != nil {
		return err
	}
	return c.JSON(saved)
}

func handleClearCart(c fiber.Ctx) error {
	if err := db.Carts().Clear(c.Context(), c.Params("session")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleCreateOrder places an order. A cart session may be given instead of
// explicit lines; the cart is cleared once the order commits.
func handleCreateOrder(c fiber.Ctx) error {
	var body struct {
		checkout.OrderInput
		CartSession string `json:"cart_session,omitempty"`
	}
	if err := bindJSON(c, &body); err != nil {
		return err
	}

	in := body.OrderInput
	if key := c.Get(headerIdempotencyKey); key != "" {
		in.IdempotencyKey = key
	}
	in.Actor = c.Get(headerActor)

	if body.CartSession != "" && len(in.Lines) == 0 {
		items, err := db.Carts().Items(c.Context(), body.CartSession)
		if err != nil {
			return err
		}
		for _, it := range items {
			in.Lines = append(in.Lines, checkout.Line{
				ProductID:      it.ProductID,
				VariantID:      it.VariantID,
				Quantity:       it.Quantity,
				UnitPriceCents: it.UnitPriceCents,
			})
		}
	}

	receipt, err := coordinator.CreateOrder(c.Context(), in)
	if err != nil {
		return err
	}

	if body.CartSession != "" {
		if err := db.Carts().Clear(c.Context(), body.CartSession); err != nil {
			logger := db.Logger()
			logger.Warn().Err(err).Str("session_id", body.CartSession).Msg("Failed to clear cart after order")
		}
	}
	return c.Status(fiber.StatusCreated).JSON(receipt)
}

func handleListOrders(c fiber.Ctx) error {
	filter := shopstore.OrderFilter{
		Status: shopstore.OrderStatus(c.Query("status")),
		Email:  c.Query("email"),
	}
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
		}
		*dst = &t
	}

	page, err := db.Orders().List(c.Context(), filter, pageRequest(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func handleGetOrder(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	return respondOrder(c, id)
}

func handleGetOrderByNumber(c fiber.Ctx) error {
	order, err := db.Orders().GetByNumber(c.Context(), c.Params("number"))
	if err != nil {
		return err
	}
	return respondOrder(c, order.ID)
}

func respondOrder(c fiber.Ctx, id int64) error {
	order, err := db.Orders().Get(c.Context(), id, false)
	if err != nil {
		return err
	}
	items, err := db.Orders().Items(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(checkout.Receipt{Order: order, Items: items})
}

func handleTransitionOrder(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Status         shopstore.OrderStatus `json:"status"`
		PaymentRef     string                `json:"payment_ref,omitempty"`
		TrackingNumber string                `json:"tracking_number,omitempty"`
	}
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	if !body.Status.Valid() {
		return shopstore.NewValidationError("unknown order status %q", body.Status)
	}

	if body.PaymentRef != "" || body.TrackingNumber != "" {
		if _, err := db.Orders().Update(c.Context(), id, func(o *shopstore.Order) error {
			if body.PaymentRef != "" {
				o.PaymentRef = body.PaymentRef
			}
			if body.TrackingNumber != "" {
				o.TrackingNumber = body.TrackingNumber
			}
			return nil
		}); err != nil {
			return err
		}
	}

	order, err := coordinator.TransitionOrder(c.Context(), id, body.Status, c.Get(headerActor))
	if err != nil {
		return err
	}
	return c.JSON(order)
}

func handleCancelOrder(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	order, err := coordinator.CancelOrder(c.Context(), id, c.Get(headerActor))
	if err != nil {
		return err
	}
	return c.JSON(order)
}

func handleOrderAudit(c fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	page, err := db.Audit().ListForEntity(c.Context(), store.EntityTypeOrder, strconv.FormatInt(id, 10), pageRequest(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func handleListUnread(c fiber.Ctx) error {
	page, err := db.Notifications().ListUnread(c.Context(), pageRequest(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func handleMarkRead(c fiber.Ctx) error {
	notification, err := db.Notifications().MarkRead(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(notification)
}
