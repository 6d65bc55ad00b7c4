package reconcile

import (
	"sort"

	"github.com/foxxcyber/cart-reconcile/internal/models"
)

type poolEntry struct {
	orderID int
	itemID  int
	display string
	norm    string
}

// Pool is the flattened set of (order, item) names a receipt line is
// compared against. Names are normalized once when the pool is built.
type Pool struct {
	entries []poolEntry
}

// NewPool flattens the items of every order in the given order.
// Items whose name normalizes to nothing are left out.
func NewPool(orders []models.CandidateOrder) *Pool {
	p := &Pool{}
	for _, o := range orders {
		for _, it := range o.Items {
			n := Normalize(it.Name)
			if n == "" {
				continue
			}
			p.entries = append(p.entries, poolEntry{
				orderID: o.ID,
				itemID:  it.ItemID,
				display: it.Name,
				norm:    n,
			})
		}
	}
	return p
}

// Len returns the number of comparable items in the pool
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// Match scores one receipt line against the pool.
//
// The TopK highest-scoring entries are kept, anything under ScoreThreshold is
// dropped, and the first two survivors become best and runner-up. Entries
// with equal scores keep pool order, so the earliest order/item wins a tie.
func (e *Engine) Match(line models.ReceiptLine, pool *Pool) models.LineAssignment {
	out := models.LineAssignment{Line: line}

	q := Normalize(line.Name)
	if q == "" || pool.Len() == 0 {
		return out
	}

	scored := make([]models.MatchCandidate, len(pool.entries))
	for i, pe := range pool.entries {
		scored[i] = models.MatchCandidate{
			OrderID:     pe.orderID,
			ItemID:      pe.itemID,
			DisplayName: pe.display,
			Score:       Score(q, pe.norm),
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > e.opts.TopK {
		scored = scored[:e.opts.TopK]
	}

	var best, second *models.MatchCandidate
	for i := range scored {
		if scored[i].Score < e.opts.ScoreThreshold {
			continue
		}
		if best == nil {
			best = &scored[i]
		} else if second == nil {
			second = &scored[i]
		}
	}

	out.Best = best
	if best != nil && second != nil {
		runnerUp := second.Score
		out.RunnerUpScore = &runnerUp
		out.Ambiguous = best.Score-second.Score < e.opts.AmbiguityGap
	}
	return out
}

// MatchLines builds one pool from orders and matches every line against it
func (e *Engine) MatchLines(lines []models.ReceiptLine, orders []models.CandidateOrder) []models.LineAssignment {
	pool := NewPool(orders)
	out := make([]models.LineAssignment, 0, len(lines))
	for _, ln := range lines {
		out = append(out, e.Match(ln, pool))
	}
	return out
}
