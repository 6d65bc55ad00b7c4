package reconcile

import (
	"strings"

	"github.com/foxxcyber/cart-reconcile/internal/models"
)

// quantityEpsilon absorbs float noise when comparing quantities
const quantityEpsilon = 1e-6

type receiptEntry struct {
	norm     string
	tokens   map[string]struct{}
	quantity float64
}

// receiptIndex maps normalized receipt names to summed quantities,
// remembering first-seen order for deterministic lookups
type receiptIndex struct {
	entries []*receiptEntry
	byName  map[string]*receiptEntry
}

func buildReceiptIndex(lines []models.ReceiptLine) *receiptIndex {
	idx := &receiptIndex{byName: make(map[string]*receiptEntry)}
	for _, ln := range lines {
		n := Normalize(ln.Name)
		if n == "" {
			continue
		}
		if ex, ok := idx.byName[n]; ok {
			ex.quantity += ln.Quantity
			continue
		}
		e := &receiptEntry{norm: n, tokens: tokenSet(n), quantity: ln.Quantity}
		idx.byName[n] = e
		idx.entries = append(idx.entries, e)
	}
	return idx
}

// exact returns the receipt entry with exactly the normalized item name
func (idx *receiptIndex) exact(itemNorm string) (*receiptEntry, bool) {
	if itemNorm == "" {
		return nil, false
	}
	e, ok := idx.byName[itemNorm]
	return e, ok
}

// containing returns an unclaimed receipt entry whose name has every token of
// the item name ("2 milk" covers "milk"). Among several, the one with the
// fewest extra tokens wins, then the first seen.
func (idx *receiptIndex) containing(itemNorm string, claimed map[*receiptEntry]bool) (*receiptEntry, bool) {
	if itemNorm == "" {
		return nil, false
	}

	want := strings.Fields(itemNorm)
	wantLen := len(tokenSet(itemNorm))
	var best *receiptEntry
	bestExtra := 0
	for _, e := range idx.entries {
		if claimed[e] || !containsAll(e.tokens, want) {
			continue
		}
		extra := len(e.tokens) - wantLen
		if best == nil || extra < bestExtra {
			best, bestExtra = e, extra
		}
	}
	return best, best != nil
}

func containsAll(set map[string]struct{}, tokens []string) bool {
	for _, t := range tokens {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// Classify decides, per candidate order, whether the receipt fully covers the
// order's items and quantities, partially overlaps it, or is unrelated.
//
// Extra receipt items never hurt a full match. Orders without items are
// skipped. Every classified order gets a debug entry, full matches included.
func Classify(lines []models.ReceiptLine, orders []models.CandidateOrder) models.CoverageResult {
	idx := buildReceiptIndex(lines)

	res := models.CoverageResult{
		FullMatches:    []int{},
		PartialMatches: []int{},
		Debug:          models.MatchDebugInfo{},
	}

	for _, o := range orders {
		if len(o.Items) == 0 {
			continue
		}

		dbg := models.OrderMatchDebug{
			MissingItems:              []models.MissingItem{},
			InsufficientQuantityItems: []models.InsufficientItem{},
		}
		overlap := 0

		// Exact names claim receipt entries first; the containment fallback
		// only sees entries no item of this order has claimed. Items sharing
		// an entry draw down its quantity in item order.
		entries := make([]*receiptEntry, len(o.Items))
		claimed := make(map[*receiptEntry]bool)
		for i, it := range o.Items {
			if e, ok := idx.exact(Normalize(it.Name)); ok {
				entries[i] = e
				claimed[e] = true
			}
		}
		for i, it := range o.Items {
			if entries[i] != nil {
				continue
			}
			if e, ok := idx.containing(Normalize(it.Name), claimed); ok {
				entries[i] = e
				claimed[e] = true
			}
		}

		used := make(map[*receiptEntry]float64)
		for i, it := range o.Items {
			e := entries[i]
			if e == nil {
				dbg.MissingItems = append(dbg.MissingItems, models.MissingItem{
					ItemID:           it.ItemID,
					Name:             it.Name,
					RequiredQuantity: it.Quantity,
				})
				continue
			}

			overlap++
			available := max(e.quantity-used[e], 0)
			used[e] += it.Quantity
			if available+quantityEpsilon < it.Quantity {
				dbg.InsufficientQuantityItems = append(dbg.InsufficientQuantityItems, models.InsufficientItem{
					ItemID:           it.ItemID,
					Name:             it.Name,
					RequiredQuantity: it.Quantity,
					ReceiptQuantity:  available,
				})
			}
		}

		res.Debug[o.ID] = dbg
		switch {
		case len(dbg.MissingItems) == 0 && len(dbg.InsufficientQuantityItems) == 0:
			res.FullMatches = append(res.FullMatches, o.ID)
		case overlap > 0:
			res.PartialMatches = append(res.PartialMatches, o.ID)
		}
	}

	res.Confidence = coverageConfidence(len(res.FullMatches), len(res.PartialMatches))
	return res
}

// coverageConfidence is advisory only; nothing branches on it
func coverageConfidence(full, partial int) float64 {
	switch {
	case full == 1:
		return 0.99
	case full > 1:
		return 0.9
	case partial > 0:
		return 0.5
	default:
		return 0
	}
}
