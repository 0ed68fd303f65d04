package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// POItemDraft is one grouped purchase order line before it is persisted.
// SourceItemIDs records which project items the line covers; they become
// po_item_sources rows so later reversals hit exactly these items.
type POItemDraft struct {
	ProductID     *int
	Name          string
	Unit          string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Total         decimal.Decimal
	SourceItemIDs []int
}

// GroupPendingItems folds pending demand lines into one draft PO line per
// distinct product, irrespective of which project a line belongs to or what
// price it carries. Per group: quantity is the sum of line quantities and price
// is the maximum unit cost seen — the margin stays protected when the same
// product was costed differently on different projects. Lines without a product
// keep one draft each (nothing to group them by).
//
// Output order is deterministic: grouped products ascending by id, then
// ungrouped lines in input order.
func GroupPendingItems(items []ProjectItem) []POItemDraft {
	byProduct := make(map[int]*POItemDraft)
	var productIDs []int
	var custom []POItemDraft

	for _, item := range items {
		if item.ProductID == nil {
			custom = append(custom, POItemDraft{
				Name:          item.Name,
				Unit:          item.Unit,
				Quantity:      item.Quantity,
				Price:         item.Cost,
				SourceItemIDs: []int{item.ID},
			})
			continue
		}

		pid := *item.ProductID
		draft, ok := byProduct[pid]
		if !ok {
			id := pid
			byProduct[pid] = &POItemDraft{
				ProductID:     &id,
				Name:          item.Name,
				Unit:          item.Unit,
				Quantity:      item.Quantity,
				Price:         item.Cost,
				SourceItemIDs: []int{item.ID},
			}
			productIDs = append(productIDs, pid)
			continue
		}

		draft.Quantity = draft.Quantity.Add(item.Quantity)
		if item.Cost.GreaterThan(draft.Price) {
			draft.Price = item.Cost
		}
		draft.SourceItemIDs = append(draft.SourceItemIDs, item.ID)
	}

	sort.Ints(productIDs)
	drafts := make([]POItemDraft, 0, len(productIDs)+len(custom))
	for _, pid := range productIDs {
		drafts = append(drafts, *byProduct[pid])
	}
	drafts = append(drafts, custom...)

	for i := range drafts {
		drafts[i].Total = drafts[i].Quantity.Mul(drafts[i].Price)
	}
	return drafts
}

// SubtotalOf sums the draft line totals.
func SubtotalOf(drafts []POItemDraft) decimal.Decimal {
	subtotal := decimal.Zero
	for _, d := range drafts {
		subtotal = subtotal.Add(d.Total)
	}
	return subtotal
}
