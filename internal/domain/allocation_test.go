package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"martpos/backend/internal/domain"
)

func lot(id string, qty int64, expiry *time.Time) domain.InventoryLot {
	return domain.InventoryLot{
		ID:           id,
		ProductID:    "prd-1",
		QtyReceived:  decimal.NewFromInt(qty),
		QtyAvailable: decimal.NewFromInt(qty),
		UnitCost:     decimal.NewFromInt(10000),
		ExpiryDate:   expiry,
	}
}

func days(n int) *time.Time {
	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
	return &ts
}

func TestSortLotsFEFO(t *testing.T) {
	lots := []domain.InventoryLot{
		lot("lot-d", 5, nil),
		lot("lot-c", 5, days(30)),
		lot("lot-a", 5, days(3)),
		lot("lot-b", 5, days(3)),
		lot("lot-e", 5, nil),
	}
	domain.SortLotsFEFO(lots)

	want := []string{"lot-a", "lot-b", "lot-c", "lot-d", "lot-e"}
	for i, id := range want {
		if lots[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, lots[i].ID, id)
		}
	}
}

func TestPlanAllocationSpansLots(t *testing.T) {
	lots := []domain.InventoryLot{
		lot("lot-a", 5, days(1)),
		lot("lot-b", 10, days(5)),
	}
	allocs, ok := domain.PlanAllocation(lots, decimal.NewFromInt(8))
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if len(allocs) != 2 {
		t.Fatalf("got %d allocations, want 2", len(allocs))
	}
	if allocs[0].LotID != "lot-a" || !allocs[0].Qty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("first allocation = %s qty %s", allocs[0].LotID, allocs[0].Qty)
	}
	if allocs[1].LotID != "lot-b" || !allocs[1].Qty.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("second allocation = %s qty %s", allocs[1].LotID, allocs[1].Qty)
	}
}

func TestPlanAllocationSkipsEmptyLots(t *testing.T) {
	lots := []domain.InventoryLot{
		lot("lot-a", 0, days(1)),
		lot("lot-b", 4, days(5)),
	}
	allocs, ok := domain.PlanAllocation(lots, decimal.NewFromInt(2))
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if len(allocs) != 1 || allocs[0].LotID != "lot-b" {
		t.Fatalf("allocations = %+v", allocs)
	}
}

func TestPlanAllocationInsufficientStock(t *testing.T) {
	lots := []domain.InventoryLot{
		lot("lot-a", 3, days(1)),
		lot("lot-b", 2, nil),
	}
	allocs, ok := domain.PlanAllocation(lots, decimal.NewFromInt(6))
	if ok {
		t.Fatal("expected allocation to fail")
	}
	if allocs != nil {
		t.Fatalf("expected nil allocations, got %+v", allocs)
	}
}

func TestPlanAllocationDoesNotMutateLots(t *testing.T) {
	lots := []domain.InventoryLot{lot("lot-a", 5, days(1))}
	if _, ok := domain.PlanAllocation(lots, decimal.NewFromInt(3)); !ok {
		t.Fatal("expected allocation to succeed")
	}
	if !lots[0].QtyAvailable.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("lot qty mutated to %s", lots[0].QtyAvailable)
	}
}

func TestPlanAllocationFractionalQuantity(t *testing.T) {
	lots := []domain.InventoryLot{lot("lot-a", 2, days(1))}
	qty, _ := decimal.NewFromString("1.250")
	allocs, ok := domain.PlanAllocation(lots, qty)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if !allocs[0].Qty.Equal(qty) {
		t.Fatalf("allocated %s, want %s", allocs[0].Qty, qty)
	}
}
