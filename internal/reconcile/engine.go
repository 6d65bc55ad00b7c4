// Package reconcile matches photographed receipt lines against a driver's
// active delivery orders.
//
// Everything here except ApplyRemovals is pure: no I/O, no shared mutable
// state, safe to call from any number of goroutines. ApplyRemovals writes
// only through the OrderWriter it is given, one transaction per order.
//
// Two independent decisions are produced for a receipt. Pick is a fuzzy
// "best guess" built from per-line matches; Classify is a strict,
// quantity-aware coverage check. They are returned side by side and never
// merged.
package reconcile

import (
	"github.com/rs/zerolog"

	"github.com/foxxcyber/cart-reconcile/internal/models"
)

// Options holds the matching and picking thresholds
type Options struct {
	// ScoreThreshold is the minimum similarity for a line match to be accepted
	ScoreThreshold int
	// AmbiguityGap is the minimum margin between best and runner-up
	AmbiguityGap int
	// TopK is how many of the highest-scoring pool entries are considered
	TopK int
	// MinCoverage is the minimum share of receipt lines matched to the picked order
	MinCoverage float64
	// MinAvgScore is the minimum mean score of the picked order's matches
	MinAvgScore float64
	// MinGap is the minimum margin between the best and second-best order
	MinGap float64
}

// DefaultOptions returns the stock thresholds
func DefaultOptions() Options {
	return Options{
		ScoreThreshold: 70,
		AmbiguityGap:   8,
		TopK:           3,
		MinCoverage:    0.66,
		MinAvgScore:    75,
		MinGap:         8,
	}
}

// Engine runs receipt reconciliation with a fixed set of thresholds
type Engine struct {
	opts Options
	log  zerolog.Logger
}

// NewEngine creates an engine. Zero-valued thresholds fall back to defaults.
func NewEngine(opts Options, logger zerolog.Logger) *Engine {
	def := DefaultOptions()
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = def.ScoreThreshold
	}
	if opts.AmbiguityGap <= 0 {
		opts.AmbiguityGap = def.AmbiguityGap
	}
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MinCoverage <= 0 {
		opts.MinCoverage = def.MinCoverage
	}
	if opts.MinAvgScore <= 0 {
		opts.MinAvgScore = def.MinAvgScore
	}
	if opts.MinGap <= 0 {
		opts.MinGap = def.MinGap
	}
	return &Engine{opts: opts, log: logger}
}

// Options returns the thresholds in effect
func (e *Engine) Options() Options {
	return e.opts
}

// Reconcile matches every receipt line, picks the most likely order and
// classifies coverage for every candidate order.
func (e *Engine) Reconcile(lines []models.ReceiptLine, orders []models.CandidateOrder) models.Reconciliation {
	assignments := e.MatchLines(lines, orders)
	return models.Reconciliation{
		Assignments: assignments,
		Pick:        e.Pick(assignments),
		Coverage:    Classify(lines, orders),
	}
}
