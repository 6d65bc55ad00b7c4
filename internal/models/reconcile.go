package models

// MatchCandidate is one scored (order, item) pair for a receipt line
type MatchCandidate struct {
	OrderID     int    `json:"order_id"`
	ItemID      int    `json:"item_id"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
}

// LineAssignment is the fuzzy-match outcome for a single receipt line.
// Ambiguous is advisory; Best is kept even when it is set.
type LineAssignment struct {
	Line          ReceiptLine     `json:"line"`
	Best          *MatchCandidate `json:"best"`
	RunnerUpScore *int            `json:"runner_up_score"`
	Ambiguous     bool            `json:"ambiguous"`
}

// OrderPickResult is the single most likely order for a receipt.
// Metrics are populated even when OrderID is nil.
type OrderPickResult struct {
	OrderID       *int    `json:"order_id"`
	Coverage      float64 `json:"coverage"`
	AvgScore      float64 `json:"avg_score"`
	SecondBestGap float64 `json:"second_best_gap"`
}

// MissingItem is an order item with no counterpart on the receipt
type MissingItem struct {
	ItemID           int     `json:"item_id"`
	Name             string  `json:"name"`
	RequiredQuantity float64 `json:"required_quantity"`
}

// InsufficientItem is an order item found on the receipt in a smaller quantity
type InsufficientItem struct {
	ItemID           int     `json:"item_id"`
	Name             string  `json:"name"`
	RequiredQuantity float64 `json:"required_quantity"`
	ReceiptQuantity  float64 `json:"receipt_quantity"`
}

// OrderMatchDebug explains why an order was or was not fully covered
type OrderMatchDebug struct {
	MissingItems              []MissingItem      `json:"missing_items"`
	InsufficientQuantityItems []InsufficientItem `json:"insufficient_quantity_items"`
}

// MatchDebugInfo is keyed by order id and stored verbatim next to the receipt
type MatchDebugInfo map[int]OrderMatchDebug

// CoverageResult is the output of the coverage classifier
type CoverageResult struct {
	FullMatches    []int          `json:"full_matches"`
	PartialMatches []int          `json:"partial_matches"`
	Debug          MatchDebugInfo `json:"debug"`
	Confidence     float64        `json:"confidence"`
}

// Reconciliation bundles both order decisions for one receipt.
// Pick and Coverage are computed independently and may disagree.
type Reconciliation struct {
	Assignments []LineAssignment `json:"assignments"`
	Pick        OrderPickResult  `json:"pick"`
	Coverage    CoverageResult   `json:"coverage"`
}

// Removal decision reasons
const (
	ReasonNoActiveOrders = "no_active_orders"
	ReasonNoMatch        = "no_match"
	ReasonZeroQuantity   = "zero_quantity"
)

// Decision records how one removal request was resolved
type Decision struct {
	Name      string `json:"name"`
	Resolved  bool   `json:"resolved"`
	OrderID   *int   `json:"order_id,omitempty"`
	ItemID    *int   `json:"item_id,omitempty"`
	Score     *int   `json:"score,omitempty"`
	Ambiguous bool   `json:"ambiguous,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// RemovalResult is returned from applying driver removals.
// OrdersChanged lists exactly the orders whose transaction committed.
type RemovalResult struct {
	OK            bool           `json:"ok"`
	Reason        string         `json:"reason,omitempty"`
	OrdersChanged []int          `json:"orders_changed"`
	Decisions     []Decision     `json:"decisions"`
	Failed        map[int]string `json:"failed,omitempty"`
}
