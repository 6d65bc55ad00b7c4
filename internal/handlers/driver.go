package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/cart-reconcile/internal/middleware"
	"github.com/foxxcyber/cart-reconcile/internal/models"
)

// GetActiveOrders lists the authenticated driver's active orders with items
func (h *Handler) GetActiveOrders(c *fiber.Ctx) error {
	driverID := middleware.GetUserID(c)

	orders, err := h.store.ActiveOrdersForDriver(c.Context(), driverID, h.cfg.ActiveDeliveryStatuses)
	if err != nil {
		h.log.Error().Err(err).Int("driver_id", driverID).Msg("load active orders")
		return Error(c, fiber.StatusInternalServerError, "failed to load active orders")
	}

	return Success(c, orders)
}

// RemoveItems resolves "remove N of X" requests against the driver's active
// orders and applies them. Unresolved names are reported, not rejected.
func (h *Handler) RemoveItems(c *fiber.Ctx) error {
	driverID := middleware.GetUserID(c)

	var req models.RemoveItemsRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return ValidationError(c, err)
	}

	orders, err := h.store.ActiveOrdersForDriver(c.Context(), driverID, h.cfg.ActiveDeliveryStatuses)
	if err != nil {
		h.log.Error().Err(err).Int("driver_id", driverID).Msg("load active orders")
		return Error(c, fiber.StatusInternalServerError, "failed to load active orders")
	}

	result := h.engine.ApplyRemovals(c.Context(), h.store, orders, req.Lines)
	h.log.Info().
		Int("driver_id", driverID).
		Int("requests", len(req.Lines)).
		Ints("orders_changed", result.OrdersChanged).
		Int("orders_failed", len(result.Failed)).
		Msg("driver removals applied")

	return Success(c, result)
}
