package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// DefaultQuantity is used whenever a quantity is missing or unusable
const DefaultQuantity = 1.0

// CoerceQuantity turns a loosely-typed quantity into a positive number.
// Missing, null, non-numeric, non-finite and non-positive values become 1.
func CoerceQuantity(v any) float64 {
	f, ok := toFloat(v)
	if !ok || f <= 0 {
		return DefaultQuantity
	}
	return f
}

// CoerceRemovalQuantity reads a removal amount. Missing and unusable values
// become 1; zero and negative values become 0, which removes nothing.
func CoerceRemovalQuantity(v any) float64 {
	f, ok := toFloat(v)
	if !ok {
		return DefaultQuantity
	}
	return max(f, 0)
}

// CoercePrice returns nil for anything that is not a finite number
func CoercePrice(v any) *float64 {
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}

// ParseNumber reports whether v holds a finite number (or a numeric string)
func ParseNumber(v any) (float64, bool) {
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// UnmarshalJSON coerces the quantity instead of rejecting the request.
// An explicit 0 is kept.
func (r *RemovalRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name     any `json:"name"`
		Quantity any `json:"quantity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Name = stringOf(raw.Name)
	r.Quantity = CoerceRemovalQuantity(raw.Quantity)
	return nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
