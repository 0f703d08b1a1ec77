package shipments

import (
	"sort"

	"github.com/meridian-exim/meridian-exim/internal/shared"
)

// LineBudget is the authoritative quantity state of one PO line at
// validation time. AlreadyShipped sums active shipment lines only.
type LineBudget struct {
	POLineID       int64
	OrderedQty     float64
	CancelledQty   float64
	AlreadyShipped float64
}

// Violation describes one over-shipped PO line.
type Violation struct {
	POLineID       int64   `json:"po_line_id"`
	OrderedQty     float64 `json:"ordered_qty"`
	CancelledQty   float64 `json:"cancelled_qty"`
	AlreadyShipped float64 `json:"already_shipped"`
	RequestedNow   float64 `json:"requested_now"`
}

// ValidateQuantities enforces shipped + cancelled <= ordered per PO line
// across the whole request. requested maps PO line id to the total quantity
// requested now, summed over all mode groups. Over-shipping is a conflict
// with already-committed shipment lines, not a malformed request, so the
// error carries KindConflict and lists every violating line.
func ValidateQuantities(budgets map[int64]LineBudget, requested map[int64]float64) error {
	var violations []Violation
	for lineID, qty := range requested {
		b, ok := budgets[lineID]
		if !ok {
			violations = append(violations, Violation{POLineID: lineID, RequestedNow: qty})
			continue
		}
		if b.AlreadyShipped+b.CancelledQty+qty > b.OrderedQty {
			violations = append(violations, Violation{
				POLineID:       lineID,
				OrderedQty:     b.OrderedQty,
				CancelledQty:   b.CancelledQty,
				AlreadyShipped: b.AlreadyShipped,
				RequestedNow:   qty,
			})
		}
	}
	if len(violations) == 0 {
		return nil
	}
	sort.Slice(violations, func(i, j int) bool { return violations[i].POLineID < violations[j].POLineID })
	return shared.Conflict("requested quantity exceeds remaining order quantity").
		WithField("violations", violations)
}
