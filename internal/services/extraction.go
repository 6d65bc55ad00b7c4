package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/foxxcyber/cart-reconcile/internal/models"
)

var ErrUnreadableExtraction = errors.New("extraction output is not a JSON object")

// ExtractedStore is the store header the extraction service reads off a receipt
type ExtractedStore struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Datetime string `json:"datetime"`
}

// Extraction is the decoded output of the receipt extraction service
type Extraction struct {
	Store ExtractedStore       `json:"store"`
	Items []models.ReceiptLine `json:"items"`
}

// DecodeExtraction parses extraction service output. Payloads wrapped in
// prose or code fences are salvaged from the first '{' to the last '}'.
// Items without a name are dropped; quantities and prices are coerced by
// models.ReceiptLine.
func DecodeExtraction(raw []byte) (*Extraction, error) {
	var out Extraction
	if err := json.Unmarshal(raw, &out); err != nil {
		start := bytes.IndexByte(raw, '{')
		end := bytes.LastIndexByte(raw, '}')
		if start < 0 || end <= start {
			return nil, ErrUnreadableExtraction
		}
		out = Extraction{}
		if err := json.Unmarshal(raw[start:end+1], &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableExtraction, err)
		}
	}

	items := make([]models.ReceiptLine, 0, len(out.Items))
	for _, it := range out.Items {
		if it.Name == "" {
			continue
		}
		it.ID, it.ReceiptID = 0, 0
		items = append(items, it)
	}
	out.Items = items

	return &out, nil
}
