package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/foxxcyber/cart-reconcile/internal/models"
	"github.com/foxxcyber/cart-reconcile/internal/reconcile"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderItemNotFound = errors.New("order item not found")
)

var _ reconcile.OrderWriter = (*DB)(nil)

// ActiveOrdersForDriver returns the orders whose delivery is assigned to the
// driver with a status in statuses, most recent delivery first, with items.
// A driver id of zero or less yields no orders.
func (db *DB) ActiveOrdersForDriver(ctx context.Context, driverID int, statuses []string) ([]models.CandidateOrder, error) {
	if driverID <= 0 || len(statuses) == 0 {
		return []models.CandidateOrder{}, nil
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT o.id, d.status, o.store_id, o.created_at
		FROM deliveries d
		JOIN orders o ON o.id = d.order_id
		WHERE d.delivery_person_id = $1 AND d.status = ANY($2)
		ORDER BY d.id DESC
	`, driverID, statuses)
	if err != nil {
		return nil, err
	}

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := db.attachOrderItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CandidateOrders loads the given orders with items, in the order the ids were
// given. Only orders whose delivery is assigned to driverID are returned;
// unknown and foreign ids are skipped.
func (db *DB) CandidateOrders(ctx context.Context, driverID int, ids []int) ([]models.CandidateOrder, error) {
	if driverID <= 0 || len(ids) == 0 {
		return []models.CandidateOrder{}, nil
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT o.id, d.status, o.store_id, o.created_at
		FROM orders o
		JOIN deliveries d ON d.order_id = o.id
		WHERE o.id = ANY($1::int[]) AND d.delivery_person_id = $2
		ORDER BY array_position($1::int[], o.id)
	`, ids, driverID)
	if err != nil {
		return nil, err
	}

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := db.attachOrderItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func scanOrders(rows pgx.Rows) ([]models.CandidateOrder, error) {
	defer rows.Close()

	orders := []models.CandidateOrder{}
	for rows.Next() {
		var o models.CandidateOrder
		if err := rows.Scan(&o.ID, &o.Status, &o.StoreID, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Items = []models.OrderLineItem{}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (db *DB) attachOrderItems(ctx context.Context, orders []models.CandidateOrder) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int, len(orders))
	byID := make(map[int]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = i
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT oi.order_id, oi.item_id, i.name, oi.quantity, oi.price
		FROM order_items oi
		JOIN items i ON i.id = oi.item_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.order_id, oi.id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var it models.OrderLineItem
		if err := rows.Scan(&it.OrderID, &it.ItemID, &it.Name, &it.Quantity, &it.Price); err != nil {
			return err
		}
		i := byID[it.OrderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return rows.Err()
}

// RemoveOrderItems decrements item quantities of one order in a single
// transaction. Quantities floor at zero and rows left at zero are deleted.
// The order row is locked for the duration so concurrent removals against
// the same order serialize.
func (db *DB) RemoveOrderItems(ctx context.Context, orderID int, removals []reconcile.ItemRemoval) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var locked int
	err = tx.QueryRow(ctx, `SELECT id FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return err
	}

	for _, r := range removals {
		tag, err := tx.Exec(ctx, `
			UPDATE order_items
			SET quantity = GREATEST(quantity - $1, 0)
			WHERE order_id = $2 AND item_id = $3
		`, r.Quantity, orderID, r.ItemID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: order %d item %d", ErrOrderItemNotFound, orderID, r.ItemID)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1 AND quantity <= 0`, orderID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET updated_at = NOW() WHERE id = $1`, orderID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
