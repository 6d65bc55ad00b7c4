package reconcile

import (
	"encoding/json"
	"strings"

	"github.com/foxxcyber/cart-reconcile/internal/models"
)

// maxLineNameRunes matches the receipt_lines.name column width
const maxLineNameRunes = 256

// EditOp is a correction to a receipt's extracted lines.
// The set of implementations is closed: RemoveOp, UpdateQuantityOp,
// RenameOp, AddOp and UnrecognizedOp.
type EditOp interface {
	Kind() string
	isEditOp()
}

// RemoveOp deletes every line with the given name
type RemoveOp struct {
	Name string
}

// UpdateQuantityOp sets the quantity of every line with the given name.
// Quantity is nil when the requested value was not a number.
type UpdateQuantityOp struct {
	Name     string
	Quantity *float64
}

// RenameOp renames every line called OldName
type RenameOp struct {
	OldName string
	NewName string
}

// AddOp appends a new line
type AddOp struct {
	Name       string
	Quantity   float64
	UnitPrice  *float64
	TotalPrice *float64
	Meta       map[string]any
}

// UnrecognizedOp keeps an operation name nobody understood
type UnrecognizedOp struct {
	Op string
}

func (RemoveOp) Kind() string         { return "remove" }
func (UpdateQuantityOp) Kind() string { return "update_quantity" }
func (RenameOp) Kind() string         { return "rename" }
func (AddOp) Kind() string            { return "add" }
func (u UnrecognizedOp) Kind() string { return u.Op }

func (RemoveOp) isEditOp()         {}
func (UpdateQuantityOp) isEditOp() {}
func (RenameOp) isEditOp()         {}
func (AddOp) isEditOp()            {}
func (UnrecognizedOp) isEditOp()   {}

// Edit outcome reasons
const (
	ReasonMissingName     = "missing_name"
	ReasonInvalidQuantity = "invalid_quantity"
	ReasonNoSuchLine      = "no_such_line"
	ReasonUnrecognized    = "unrecognized_operation"
)

// EditOutcome reports what a single operation did
type EditOutcome struct {
	Op       string `json:"op"`
	Applied  bool   `json:"applied"`
	Affected int    `json:"affected"`
	Reason   string `json:"reason,omitempty"`
}

// DecodeEditOps reads operations from a list, an {"operations": [...]}
// object, or a JSON string holding either. Anything else yields no
// operations. Elements that are not objects or carry no "op" are skipped.
func DecodeEditOps(raw []byte) []EditOp {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil
		}
	}
	if m, ok := v.(map[string]any); ok {
		v = m["operations"]
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	var ops []EditOp
	for _, el := range list {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		op, ok := decodeEditOp(m)
		if !ok {
			continue
		}
		ops = append(ops, op)
	}
	return ops
}

func decodeEditOp(m map[string]any) (EditOp, bool) {
	action := strings.ToLower(strings.TrimSpace(str(m["op"])))
	if action == "" {
		return nil, false
	}

	name := strings.TrimSpace(str(m["name"]))
	switch action {
	case "remove":
		return RemoveOp{Name: name}, true
	case "update_quantity":
		op := UpdateQuantityOp{Name: name}
		if q, ok := models.ParseNumber(m["quantity"]); ok {
			op.Quantity = &q
		}
		return op, true
	case "rename":
		return RenameOp{
			OldName: strings.TrimSpace(str(m["old_name"])),
			NewName: strings.TrimSpace(str(m["new_name"])),
		}, true
	case "add":
		return AddOp{
			Name:       name,
			Quantity:   models.CoerceQuantity(m["quantity"]),
			UnitPrice:  models.CoercePrice(m["unit_price"]),
			TotalPrice: models.CoercePrice(m["total_price"]),
			Meta:       m,
		}, true
	default:
		return UnrecognizedOp{Op: action}, true
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// ApplyEdits applies operations in order to a copy of lines. Names compare
// case-insensitively after trimming. The input slice is not modified.
func ApplyEdits(lines []models.ReceiptLine, ops []EditOp) ([]models.ReceiptLine, []EditOutcome) {
	out := make([]models.ReceiptLine, len(lines))
	copy(out, lines)
	outcomes := make([]EditOutcome, 0, len(ops))

	for _, op := range ops {
		oc := EditOutcome{Op: op.Kind()}

		switch o := op.(type) {
		case RemoveOp:
			if o.Name == "" {
				oc.Reason = ReasonMissingName
				break
			}
			kept := out[:0:0]
			for _, ln := range out {
				if sameName(ln.Name, o.Name) {
					oc.Affected++
					continue
				}
				kept = append(kept, ln)
			}
			out = kept

		case UpdateQuantityOp:
			if o.Name == "" {
				oc.Reason = ReasonMissingName
				break
			}
			if o.Quantity == nil {
				oc.Reason = ReasonInvalidQuantity
				break
			}
			for i := range out {
				if sameName(out[i].Name, o.Name) {
					out[i].Quantity = *o.Quantity
					oc.Affected++
				}
			}

		case RenameOp:
			if o.OldName == "" || o.NewName == "" {
				oc.Reason = ReasonMissingName
				break
			}
			for i := range out {
				if sameName(out[i].Name, o.OldName) {
					out[i].Name = o.NewName
					oc.Affected++
				}
			}

		case AddOp:
			if o.Name == "" {
				oc.Reason = ReasonMissingName
				break
			}
			out = append(out, models.ReceiptLine{
				Name:       truncateRunes(o.Name, maxLineNameRunes),
				Quantity:   o.Quantity,
				UnitPrice:  o.UnitPrice,
				TotalPrice: o.TotalPrice,
				Meta:       o.Meta,
			})
			oc.Affected = 1

		default:
			oc.Reason = ReasonUnrecognized
		}

		if oc.Reason == "" && oc.Affected == 0 {
			oc.Reason = ReasonNoSuchLine
		}
		oc.Applied = oc.Affected > 0
		outcomes = append(outcomes, oc)
	}
	return out, outcomes
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
