package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// SortLotsFEFO orders lots first-expired-first-out: ascending expiry with
// no-expiry lots last, ties broken by ascending lot id so allocation order
// is deterministic across callers.
func SortLotsFEFO(lots []InventoryLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i].ExpiryDate, lots[j].ExpiryDate
		switch {
		case a == nil && b == nil:
			return lots[i].ID < lots[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return lots[i].ID < lots[j].ID
		default:
			return a.Before(*b)
		}
	})
}

// PlanAllocation walks FEFO-ordered lots and decides how much to consume
// from each to satisfy qty. It does not mutate the lots; callers apply the
// decrements inside their own transaction. ok is false when the available
// quantity across all lots is short of the request.
func PlanAllocation(lots []InventoryLot, qty decimal.Decimal) (allocs []LotAllocation, ok bool) {
	available := decimal.Zero
	for _, lot := range lots {
		available = available.Add(lot.QtyAvailable)
	}
	if available.LessThan(qty) {
		return nil, false
	}

	remaining := qty
	for _, lot := range lots {
		if !remaining.IsPositive() {
			break
		}
		if !lot.QtyAvailable.IsPositive() {
			continue
		}
		take := decimal.Min(lot.QtyAvailable, remaining)
		allocs = append(allocs, LotAllocation{
			LotID:    lot.ID,
			Qty:      take,
			UnitCost: lot.UnitCost,
		})
		remaining = remaining.Sub(take)
	}
	return allocs, true
}
