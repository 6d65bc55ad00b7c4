package models

import (
	"encoding/json"
	"time"
)

// ReceiptStatus represents the processing status of a receipt
type ReceiptStatus string

const (
	ReceiptStatusPending    ReceiptStatus = "pending"
	ReceiptStatusProcessing ReceiptStatus = "processing"
	ReceiptStatusDone       ReceiptStatus = "done"
	ReceiptStatusError      ReceiptStatus = "error"
)

// Receipt represents an uploaded receipt image and its reconciliation outcome
type Receipt struct {
	ID               int            `json:"id"`
	UserID           int            `json:"user_id"`
	S3Bucket         string         `json:"s3_bucket"`
	S3Key            string         `json:"s3_key"`
	OriginalFilename *string        `json:"original_filename,omitempty"`
	ContentType      *string        `json:"content_type,omitempty"`
	FileSizeBytes    *int64         `json:"file_size_bytes,omitempty"`
	Status           ReceiptStatus  `json:"status"`
	ErrorMessage     *string        `json:"error_message,omitempty"`
	InferredOrderID  *int           `json:"inferred_order_id,omitempty"`
	MatchDebug       MatchDebugInfo `json:"match_debug,omitempty"`
	UploadedAt       time.Time      `json:"uploaded_at"`
	ReconciledAt     *time.Time     `json:"reconciled_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// ReceiptWithLines includes the extracted line items
type ReceiptWithLines struct {
	Receipt
	Lines    []ReceiptLine `json:"lines"`
	ImageURL *string       `json:"image_url,omitempty"`
}

// ReceiptLine is one line item extracted from a photographed receipt.
// Quantity is always positive; see CoerceQuantity.
type ReceiptLine struct {
	ID         int            `json:"id,omitempty"`
	ReceiptID  int            `json:"receipt_id,omitempty"`
	Name       string         `json:"name"`
	Quantity   float64        `json:"quantity"`
	UnitPrice  *float64       `json:"unit_price"`
	TotalPrice *float64       `json:"total_price"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// UnmarshalJSON tolerates the noisy output of the extraction service
func (l *ReceiptLine) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         int            `json:"id"`
		ReceiptID  int            `json:"receipt_id"`
		Name       any            `json:"name"`
		Quantity   any            `json:"quantity"`
		UnitPrice  any            `json:"unit_price"`
		TotalPrice any            `json:"total_price"`
		Meta       map[string]any `json:"meta"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*l = ReceiptLine{
		ID:         raw.ID,
		ReceiptID:  raw.ReceiptID,
		Name:       stringOf(raw.Name),
		Quantity:   CoerceQuantity(raw.Quantity),
		UnitPrice:  CoercePrice(raw.UnitPrice),
		TotalPrice: CoercePrice(raw.TotalPrice),
		Meta:       raw.Meta,
	}
	return nil
}

// CreateReceiptRequest is used when uploading a receipt
type CreateReceiptRequest struct {
	UserID           int
	S3Bucket         string
	S3Key            string
	OriginalFilename string
	ContentType      string
	FileSizeBytes    int64
}

// ReconcileReceiptRequest optionally restricts the candidate orders
type ReconcileReceiptRequest struct {
	OrderIDs []int `json:"order_ids" validate:"omitempty,dive,gt=0"`
}
