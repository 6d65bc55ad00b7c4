package handlers

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/foxxcyber/cart-reconcile/internal/config"
	"github.com/foxxcyber/cart-reconcile/internal/middleware"
	"github.com/foxxcyber/cart-reconcile/internal/models"
	"github.com/foxxcyber/cart-reconcile/internal/reconcile"
	"github.com/foxxcyber/cart-reconcile/internal/services"
)

// Store is the persistence the handlers need; *database.DB implements it
type Store interface {
	reconcile.OrderWriter

	ActiveOrdersForDriver(ctx context.Context, driverID int, statuses []string) ([]models.CandidateOrder, error)
	CandidateOrders(ctx context.Context, driverID int, ids []int) ([]models.CandidateOrder, error)

	CreateReceipt(ctx context.Context, req *models.CreateReceiptRequest) (*models.Receipt, error)
	GetReceipt(ctx context.Context, id int) (*models.ReceiptWithLines, error)
	ReplaceReceiptLines(ctx context.Context, receiptID int, lines []models.ReceiptLine) ([]models.ReceiptLine, error)
	SaveReconciliation(ctx context.Context, receiptID int, inferredOrderID *int, debug models.MatchDebugInfo) error
	UpdateReceiptStatus(ctx context.Context, id int, status models.ReceiptStatus, errMsg *string) error
	DeleteReceipt(ctx context.Context, id int) error
}

// ImageStorage holds receipt photos; *services.ReceiptImageStorage implements it
type ImageStorage interface {
	Bucket() string
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (*services.StoredObject, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Remove(ctx context.Context, key string) error
}

// Handler holds all handler dependencies
type Handler struct {
	store    Store
	images   ImageStorage
	engine   *reconcile.Engine
	cfg      *config.Config
	log      zerolog.Logger
	validate *validator.Validate
}

// New creates a new Handler instance
func New(store Store, images ImageStorage, engine *reconcile.Engine, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    store,
		images:   images,
		engine:   engine,
		cfg:      cfg,
		log:      logger,
		validate: validator.New(),
	}
}

// Register mounts every route on app
func (h *Handler) Register(app *fiber.App) {
	app.Get("/health", h.Health)

	api := app.Group("/api", middleware.AuthRequired(h.cfg.JWTSecret), middleware.DriverRequired())

	driver := api.Group("/driver")
	driver.Get("/orders", h.GetActiveOrders)
	driver.Post("/removals", h.RemoveItems)

	receipts := api.Group("/receipts")
	receipts.Post("/upload", h.UploadReceipt)
	receipts.Get("/:id", h.GetReceipt)
	receipts.Get("/:id/image", h.GetReceiptImage)
	receipts.Put("/:id/lines", h.ReplaceReceiptLines)
	receipts.Post("/:id/edits", h.EditReceiptLines)
	receipts.Post("/:id/reconcile", h.ReconcileReceipt)
	receipts.Delete("/:id", h.DeleteReceipt)
}

// Health reports liveness
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "cart-reconcile",
	})
}

// ErrorHandler is a custom error handler for Fiber
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	return Error(c, code, message)
}

// APIResponse is a standard API response structure
type APIResponse struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Success returns a successful response
func Success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
	})
}

// Error returns an error response
func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   message,
	})
}

// ValidationError reports the failing field/tag pairs
func ValidationError(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Error(c, fiber.StatusBadRequest, err.Error())
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe.Namespace())] = fe.Tag()
	}

	return c.Status(fiber.StatusBadRequest).JSON(APIResponse{
		Success: false,
		Error:   "validation failed",
		Fields:  fields,
	})
}

// fieldPath drops the root struct name: "Req.Lines[0].Name" -> "Lines[0].Name"
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
