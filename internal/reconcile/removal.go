package reconcile

import (
	"context"

	"github.com/foxxcyber/cart-reconcile/internal/models"
)

// ItemRemoval asks for Quantity units of an item to be taken out of an order
type ItemRemoval struct {
	ItemID   int
	Quantity float64
}

// OrderWriter persists removals for a single order.
//
// RemoveOrderItems must run in one transaction scoped to orderID: decrement
// each item floored at zero, then delete rows at or below zero. If the order
// or any item row is gone it must roll back and return an error.
type OrderWriter interface {
	RemoveOrderItems(ctx context.Context, orderID int, removals []ItemRemoval) error
}

type orderRemovals struct {
	orderID  int
	removals []ItemRemoval
}

// ApplyRemovals resolves free-text removal requests to (order, item) pairs
// among the driver's active orders and applies them order by order.
//
// A failure on one order does not undo orders already written; OrdersChanged
// lists exactly the orders that committed and Failed holds the rest.
// Running the same removal again is safe: quantities floor at zero and a
// deleted row no longer resolves. A zero quantity resolves but writes nothing.
func (e *Engine) ApplyRemovals(ctx context.Context, w OrderWriter, orders []models.CandidateOrder, requests []models.RemovalRequest) models.RemovalResult {
	res := models.RemovalResult{
		OrdersChanged: []int{},
		Decisions:     []models.Decision{},
	}
	if len(orders) == 0 {
		res.Reason = models.ReasonNoActiveOrders
		return res
	}
	res.OK = true

	pool := NewPool(orders)
	var grouped []*orderRemovals
	byOrder := make(map[int]*orderRemovals)

	for _, req := range requests {
		qty := max(req.Quantity, 0)
		a := e.Match(models.ReceiptLine{Name: req.Name, Quantity: qty}, pool)
		if a.Best == nil {
			res.Decisions = append(res.Decisions, models.Decision{
				Name:     req.Name,
				Resolved: false,
				Reason:   models.ReasonNoMatch,
			})
			continue
		}

		orderID, itemID, score := a.Best.OrderID, a.Best.ItemID, a.Best.Score
		d := models.Decision{
			Name:      req.Name,
			Resolved:  true,
			OrderID:   &orderID,
			ItemID:    &itemID,
			Score:     &score,
			Ambiguous: a.Ambiguous,
		}
		if qty == 0 {
			d.Reason = models.ReasonZeroQuantity
			res.Decisions = append(res.Decisions, d)
			continue
		}
		res.Decisions = append(res.Decisions, d)
		if a.Ambiguous {
			e.log.Info().Str("name", req.Name).Int("order_id", orderID).Int("item_id", itemID).
				Int("score", score).Msg("ambiguous removal match")
		}

		g, ok := byOrder[orderID]
		if !ok {
			g = &orderRemovals{orderID: orderID}
			byOrder[orderID] = g
			grouped = append(grouped, g)
		}
		g.add(itemID, qty)
	}

	for _, g := range grouped {
		if err := w.RemoveOrderItems(ctx, g.orderID, g.removals); err != nil {
			e.log.Warn().Err(err).Int("order_id", g.orderID).Msg("removal transaction failed")
			if res.Failed == nil {
				res.Failed = make(map[int]string)
			}
			res.Failed[g.orderID] = err.Error()
			continue
		}
		res.OrdersChanged = append(res.OrdersChanged, g.orderID)
	}
	return res
}

// add merges repeated requests for the same item into one removal
func (g *orderRemovals) add(itemID int, qty float64) {
	for i := range g.removals {
		if g.removals[i].ItemID == itemID {
			g.removals[i].Quantity += qty
			return
		}
	}
	g.removals = append(g.removals, ItemRemoval{ItemID: itemID, Quantity: qty})
}
