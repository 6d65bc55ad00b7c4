package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/cart-reconcile/internal/database"
	"github.com/foxxcyber/cart-reconcile/internal/middleware"
	"github.com/foxxcyber/cart-reconcile/internal/models"
	"github.com/foxxcyber/cart-reconcile/internal/reconcile"
	"github.com/foxxcyber/cart-reconcile/internal/services"
)

const presignedURLExpiry = time.Hour

// ownedReceipt loads the :id receipt and checks the caller may see it
func (h *Handler) ownedReceipt(c *fiber.Ctx) (*models.ReceiptWithLines, error) {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil || id <= 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid receipt ID")
	}

	receipt, err := h.store.GetReceipt(c.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrReceiptNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "receipt not found")
		}
		h.log.Error().Err(err).Int("receipt_id", id).Msg("load receipt")
		return nil, fiber.NewError(fiber.StatusInternalServerError, "failed to get receipt")
	}

	if receipt.UserID != middleware.GetUserID(c) && middleware.GetUserRole(c) != models.RoleAdmin {
		return nil, fiber.NewError(fiber.StatusForbidden, "access denied")
	}

	return receipt, nil
}

// UploadReceipt stores a receipt photo and creates a pending receipt record
func (h *Handler) UploadReceipt(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)

	file, err := c.FormFile("image")
	if err != nil {
		return Error(c, fiber.StatusBadRequest, "image file is required")
	}

	contentType := file.Header.Get("Content-Type")
	if !services.IsReceiptImageType(contentType) {
		return Error(c, fiber.StatusBadRequest, "invalid image type. Supported: JPEG, PNG, WebP")
	}

	maxBytes := int64(h.cfg.MaxUploadMB) * 1024 * 1024
	if maxBytes <= 0 || maxBytes > services.MaxReceiptImageBytes {
		maxBytes = services.MaxReceiptImageBytes
	}
	if file.Size > maxBytes {
		return Error(c, fiber.StatusBadRequest, "file too large")
	}

	src, err := file.Open()
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to read file")
	}
	defer src.Close()

	key := services.ReceiptImageKey(userID, file.Filename, contentType, time.Now())
	stored, err := h.images.Put(c.Context(), key, src, file.Size, contentType)
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("upload receipt image")
		return Error(c, fiber.StatusInternalServerError, "failed to upload image")
	}

	receipt, err := h.store.CreateReceipt(c.Context(), &models.CreateReceiptRequest{
		UserID:           userID,
		S3Bucket:         stored.Bucket,
		S3Key:            key,
		OriginalFilename: file.Filename,
		ContentType:      contentType,
		FileSizeBytes:    file.Size,
	})
	if err != nil {
		if rmErr := h.images.Remove(c.Context(), key); rmErr != nil {
			h.log.Warn().Err(rmErr).Str("key", key).Msg("clean up receipt image after failed insert")
		}
		h.log.Error().Err(err).Msg("create receipt")
		return Error(c, fiber.StatusInternalServerError, "failed to create receipt record")
	}

	c.Status(fiber.StatusCreated)
	return Success(c, receipt)
}

// GetReceipt returns a receipt with its lines
func (h *Handler) GetReceipt(c *fiber.Ctx) error {
	receipt, err := h.ownedReceipt(c)
	if err != nil {
		return err
	}
	return Success(c, receipt)
}

// GetReceiptImage returns a presigned URL for the receipt photo
func (h *Handler) GetReceiptImage(c *fiber.Ctx) error {
	receipt, err := h.ownedReceipt(c)
	if err != nil {
		return err
	}

	url, err := h.images.PresignedURL(c.Context(), receipt.S3Key, presignedURLExpiry)
	if err != nil {
		h.log.Error().Err(err).Int("receipt_id", receipt.ID).Msg("presign receipt image")
		return Error(c, fiber.StatusInternalServerError, "failed to generate image URL")
	}

	return Success(c, fiber.Map{"url": url})
}

// ReplaceReceiptLines stores extraction service output as the receipt's lines
func (h *Handler) ReplaceReceiptLines(c *fiber.Ctx) error {
	receipt, err := h.ownedReceipt(c)
	if err != nil {
		return err
	}

	extraction, err := services.DecodeExtraction(c.Body())
	if err != nil {
		msg := err.Error()
		if statusErr := h.store.UpdateReceiptStatus(c.Context(), receipt.ID, models.ReceiptStatusError, &msg); statusErr != nil {
			h.log.Warn().Err(statusErr).Int("receipt_id", receipt.ID).Msg("mark receipt as error")
		}
		return Error(c, fiber.StatusBadRequest, "unreadable extraction output")
	}

	lines, err := h.store.ReplaceReceiptLines(c.Context(), receipt.ID, extraction.Items)
	if err != nil {
		h.log.Error().Err(err).Int("receipt_id", receipt.ID).Msg("replace receipt lines")
		return Error(c, fiber.StatusInternalServerError, "failed to save receipt lines")
	}

	receipt.Lines = lines
	receipt.Status = models.ReceiptStatusDone
	return Success(c, fiber.Map{
		"receipt": receipt,
		"store":   extraction.Store,
	})
}

// EditReceiptLines applies correction operations to the receipt's lines
func (h *Handler) EditReceiptLines(c *fiber.Ctx) error {
	receipt, err := h.ownedReceipt(c)
	if err != nil {
		return err
	}

	ops := reconcile.DecodeEditOps(c.Body())
	lines, outcomes := reconcile.ApplyEdits(receipt.Lines, ops)

	changed := false
	for _, oc := range outcomes {
		changed = changed || oc.Applied
	}
	if changed {
		lines, err = h.store.ReplaceReceiptLines(c.Context(), receipt.ID, lines)
		if err != nil {
			h.log.Error().Err(err).Int("receipt_id", receipt.ID).Msg("save edited receipt lines")
			return Error(c, fiber.StatusInternalServerError, "failed to save receipt lines")
		}
	}

	return Success(c, fiber.Map{
		"lines":    lines,
		"outcomes": outcomes,
	})
}

// ReconcileReceipt matches the receipt against candidate orders and stores
// the inferred order and coverage debug on the receipt
func (h *Handler) ReconcileReceipt(c *fiber.Ctx) error {
	receipt, err := h.ownedReceipt(c)
	if err != nil {
		return err
	}

	var req models.ReconcileReceiptRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return Error(c, fiber.StatusBadRequest, "invalid request body")
		}
		if err := h.validate.Struct(&req); err != nil {
			return ValidationError(c, err)
		}
	}

	driverID := middleware.GetUserID(c)
	var orders []models.CandidateOrder
	if len(req.OrderIDs) > 0 {
		orders, err = h.store.CandidateOrders(c.Context(), driverID, req.OrderIDs)
	} else {
		orders, err = h.store.ActiveOrdersForDriver(c.Context(), driverID, h.cfg.ActiveDeliveryStatuses)
	}
	if err != nil {
		h.log.Error().Err(err).Int("receipt_id", receipt.ID).Msg("load candidate orders")
		return Error(c, fiber.StatusInternalServerError, "failed to load candidate orders")
	}
	if missing := missingOrderIDs(req.OrderIDs, orders); len(missing) > 0 {
		h.log.Warn().Int("receipt_id", receipt.ID).Int("driver_id", driverID).Ints("order_ids", missing).
			Msg("reconcile against orders not assigned to driver")
		return Error(c, fiber.StatusNotFound, "order not found")
	}

	result := h.engine.Reconcile(receipt.Lines, orders)

	if err := h.store.SaveReconciliation(c.Context(), receipt.ID, result.Pick.OrderID, result.Coverage.Debug); err != nil {
		h.log.Error().Err(err).Int("receipt_id", receipt.ID).Msg("save reconciliation")
		return Error(c, fiber.StatusInternalServerError, "failed to save reconciliation")
	}

	ev := h.log.Info().
		Int("receipt_id", receipt.ID).
		Int("lines", len(receipt.Lines)).
		Int("candidates", len(orders)).
		Ints("full_matches", result.Coverage.FullMatches)
	if result.Pick.OrderID != nil {
		ev = ev.Int("inferred_order_id", *result.Pick.OrderID)
	}
	ev.Msg("receipt reconciled")

	return Success(c, result)
}

// missingOrderIDs lists requested ids that did not load
func missingOrderIDs(requested []int, loaded []models.CandidateOrder) []int {
	found := make(map[int]bool, len(loaded))
	for _, o := range loaded {
		found[o.ID] = true
	}
	var missing []int
	for _, id := range requested {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// DeleteReceipt removes the receipt photo and record
func (h *Handler) DeleteReceipt(c *fiber.Ctx) error {
	receipt, err := h.ownedReceipt(c)
	if err != nil {
		return err
	}

	if err := h.images.Remove(c.Context(), receipt.S3Key); err != nil {
		h.log.Warn().Err(err).Str("key", receipt.S3Key).Int("receipt_id", receipt.ID).Msg("delete receipt image")
	}

	if err := h.store.DeleteReceipt(c.Context(), receipt.ID); err != nil {
		if errors.Is(err, database.ErrReceiptNotFound) {
			return Error(c, fiber.StatusNotFound, "receipt not found")
		}
		return Error(c, fiber.StatusInternalServerError, "failed to delete receipt")
	}

	return Success(c, fiber.Map{"deleted": receipt.ID})
}
