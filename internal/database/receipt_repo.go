package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/foxxcyber/cart-reconcile/internal/models"
)

var ErrReceiptNotFound = errors.New("receipt not found")

const receiptColumns = `
	id, user_id, s3_bucket, s3_key, original_filename, content_type, file_size_bytes,
	status, error_message, inferred_order_id, match_debug,
	uploaded_at, reconciled_at, created_at, updated_at`

func scanReceipt(row pgx.Row, r *models.Receipt) error {
	var debug []byte
	err := row.Scan(
		&r.ID, &r.UserID, &r.S3Bucket, &r.S3Key, &r.OriginalFilename, &r.ContentType, &r.FileSizeBytes,
		&r.Status, &r.ErrorMessage, &r.InferredOrderID, &debug,
		&r.UploadedAt, &r.ReconciledAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if len(debug) > 0 {
		if err := json.Unmarshal(debug, &r.MatchDebug); err != nil {
			return fmt.Errorf("decode match_debug: %w", err)
		}
	}
	return nil
}

// CreateReceipt creates a new receipt record
func (db *DB) CreateReceipt(ctx context.Context, req *models.CreateReceiptRequest) (*models.Receipt, error) {
	receipt := &models.Receipt{}

	row := db.Pool.QueryRow(ctx, `
		INSERT INTO receipts (user_id, s3_bucket, s3_key, original_filename, content_type, file_size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		RETURNING `+receiptColumns,
		req.UserID, req.S3Bucket, req.S3Key, req.OriginalFilename, req.ContentType, req.FileSizeBytes)
	if err := scanReceipt(row, receipt); err != nil {
		return nil, err
	}

	return receipt, nil
}

// GetReceipt retrieves a receipt with its lines
func (db *DB) GetReceipt(ctx context.Context, id int) (*models.ReceiptWithLines, error) {
	receipt := &models.ReceiptWithLines{}

	row := db.Pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)
	if err := scanReceipt(row, &receipt.Receipt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}

	lines, err := db.GetReceiptLines(ctx, id)
	if err != nil {
		return nil, err
	}
	receipt.Lines = lines

	return receipt, nil
}

// GetReceiptLines retrieves the extracted lines of a receipt in line order
func (db *DB) GetReceiptLines(ctx context.Context, receiptID int) ([]models.ReceiptLine, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, receipt_id, name, quantity, unit_price, total_price, meta
		FROM receipt_lines
		WHERE receipt_id = $1
		ORDER BY line_number ASC, id ASC
	`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []models.ReceiptLine{}
	for rows.Next() {
		var (
			ln   models.ReceiptLine
			meta []byte
		)
		if err := rows.Scan(&ln.ID, &ln.ReceiptID, &ln.Name, &ln.Quantity, &ln.UnitPrice, &ln.TotalPrice, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ln.Meta); err != nil {
				return nil, fmt.Errorf("decode line meta: %w", err)
			}
		}
		lines = append(lines, ln)
	}

	return lines, rows.Err()
}

// ReplaceReceiptLines swaps the receipt's lines for the given ones in one
// transaction and marks the receipt done
func (db *DB) ReplaceReceiptLines(ctx context.Context, receiptID int, lines []models.ReceiptLine) ([]models.ReceiptLine, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var locked int
	err = tx.QueryRow(ctx, `SELECT id FROM receipts WHERE id = $1 FOR UPDATE`, receiptID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM receipt_lines WHERE receipt_id = $1`, receiptID); err != nil {
		return nil, err
	}

	saved := make([]models.ReceiptLine, 0, len(lines))
	for i, ln := range lines {
		var meta []byte
		if ln.Meta != nil {
			if meta, err = json.Marshal(ln.Meta); err != nil {
				return nil, fmt.Errorf("encode line meta: %w", err)
			}
		}

		ln.ReceiptID = receiptID
		err := tx.QueryRow(ctx, `
			INSERT INTO receipt_lines (receipt_id, line_number, name, quantity, unit_price, total_price, meta)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, receiptID, i+1, ln.Name, ln.Quantity, ln.UnitPrice, ln.TotalPrice, meta).Scan(&ln.ID)
		if err != nil {
			return nil, err
		}
		saved = append(saved, ln)
	}

	_, err = tx.Exec(ctx, `
		UPDATE receipts SET status = 'done', error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`, receiptID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return saved, nil
}

// SaveReconciliation stores the inferred order and per-order coverage debug
func (db *DB) SaveReconciliation(ctx context.Context, receiptID int, inferredOrderID *int, debug models.MatchDebugInfo) error {
	raw, err := json.Marshal(debug)
	if err != nil {
		return fmt.Errorf("encode match_debug: %w", err)
	}

	result, err := db.Pool.Exec(ctx, `
		UPDATE receipts
		SET inferred_order_id = $2, match_debug = $3, reconciled_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, receiptID, inferredOrderID, raw)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrReceiptNotFound
	}

	return nil
}

// UpdateReceiptStatus updates the status and error message
func (db *DB) UpdateReceiptStatus(ctx context.Context, id int, status models.ReceiptStatus, errMsg *string) error {
	result, err := db.Pool.Exec(ctx, `
		UPDATE receipts
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1
	`, id, status, errMsg)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrReceiptNotFound
	}

	return nil
}

// DeleteReceipt deletes a receipt and its lines
func (db *DB) DeleteReceipt(ctx context.Context, id int) error {
	result, err := db.Pool.Exec(ctx, `DELETE FROM receipts WHERE id = $1`, id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrReceiptNotFound
	}

	return nil
}
