package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"martpos/backend/internal/domain"
	"martpos/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("MARTPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MARTPOS_TEST_DATABASE_URL to run postgres integration tests")
	}

	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func testLoyalty() domain.LoyaltyConfig {
	return domain.LoyaltyConfig{
		EarnThreshold: decimal.RequireFromString("100000"),
		EarnRate:      1,
		PointValue:    decimal.RequireFromString("1000"),
	}
}

func TestCheckoutAndReturnRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	product, err := s.CreateProduct(ctx, domain.Product{
		Name:  "Integration Milk",
		Price: decimal.RequireFromString("50"),
		Unit:  "pcs",
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_lots WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	near := time.Now().UTC().Add(24 * time.Hour)
	far := time.Now().UTC().Add(5 * 24 * time.Hour)
	lotNear, err := s.CreateInventoryLot(ctx, domain.InventoryLot{
		ProductID:   product.ID,
		QtyReceived: decimal.RequireFromString("5"),
		ExpiryDate:  &near,
		SourceType:  domain.LotSourceReceipt,
	})
	if err != nil {
		t.Fatalf("create near lot: %v", err)
	}
	lotFar, err := s.CreateInventoryLot(ctx, domain.InventoryLot{
		ProductID:   product.ID,
		QtyReceived: decimal.RequireFromString("10"),
		ExpiryDate:  &far,
		SourceType:  domain.LotSourceReceipt,
	})
	if err != nil {
		t.Fatalf("create far lot: %v", err)
	}

	shift, err := s.OpenShift(ctx, domain.Shift{
		EmployeeID: "emp-integration-" + lotNear.ID,
		StartCash:  decimal.Zero,
	})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shifts WHERE id = $1`, shift.ID)
	})

	result, err := s.CreateCheckout(ctx, store.CheckoutParams{
		ShiftID:       shift.ID,
		PaymentMethod: domain.PaymentCash,
		Lines: []domain.CartLine{
			{ProductID: product.ID, Qty: decimal.RequireFromString("8"), UnitPrice: decimal.RequireFromString("50")},
		},
		Loyalty: testLoyalty(),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	t.Cleanup(func() {
		txID := result.Transaction.ID
		_, _ = s.db.ExecContext(ctx, `DELETE FROM return_lines WHERE return_id IN (SELECT id FROM returns WHERE transaction_id = $1)`, txID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM returns WHERE transaction_id = $1`, txID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payments WHERE transaction_id = $1`, txID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transaction_lines WHERE transaction_id = $1`, txID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, txID)
	})

	lines := result.Transaction.Lines
	if len(lines) != 2 {
		t.Fatalf("expected 2 allocation lines, got %d", len(lines))
	}
	if lines[0].LotID != lotNear.ID || !lines[0].Qty.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("expected expiring lot drained first, got %+v", lines[0])
	}
	if lines[1].LotID != lotFar.ID || !lines[1].Qty.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("expected 3 from the far lot, got %+v", lines[1])
	}

	ret, err := s.CreateReturn(ctx, store.ReturnParams{
		TransactionID: result.Transaction.ID,
		Lines: []domain.ReturnLineRequest{
			{LineID: lines[1].ID, Qty: decimal.RequireFromString("3"), Reason: "integration"},
		},
		Loyalty: testLoyalty(),
	})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if !ret.Return.RefundTotal.Equal(decimal.RequireFromString("150")) {
		t.Fatalf("expected refund 150, got %s", ret.Return.RefundTotal)
	}

	lots, err := s.ListInventoryLots(ctx, product.ID)
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	for _, lot := range lots {
		if lot.ID == lotFar.ID && !lot.QtyAvailable.Equal(decimal.RequireFromString("10")) {
			t.Fatalf("expected far lot restocked to 10, got %s", lot.QtyAvailable)
		}
	}

	_, err = s.CreateReturn(ctx, store.ReturnParams{
		TransactionID: result.Transaction.ID,
		Lines: []domain.ReturnLineRequest{
			{LineID: lines[1].ID, Qty: decimal.RequireFromString("1")},
		},
		Loyalty: testLoyalty(),
	})
	if !errors.Is(err, store.ErrOverReturn) {
		t.Fatalf("expected ErrOverReturn on fully returned line, got %v", err)
	}
}

func TestReturnAgainstRefundLineRejected(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	product, err := s.CreateProduct(ctx, domain.Product{
		Name:  "Integration Refund Milk",
		Price: decimal.RequireFromString("18000"),
		Unit:  "pcs",
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_lots WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	shift, err := s.OpenShift(ctx, domain.Shift{
		EmployeeID: "emp-integration-" + product.ID,
		StartCash:  decimal.RequireFromString("100000"),
	})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shifts WHERE id = $1`, shift.ID)
	})

	refund, err := s.CreateCheckout(ctx, store.CheckoutParams{
		ShiftID:       shift.ID,
		PaymentMethod: domain.PaymentCash,
		IsRefund:      true,
		Lines: []domain.CartLine{
			{ProductID: product.ID, Qty: decimal.RequireFromString("2"), UnitPrice: decimal.RequireFromString("18000")},
		},
		Loyalty: testLoyalty(),
	})
	if err != nil {
		t.Fatalf("refund checkout: %v", err)
	}
	t.Cleanup(func() {
		txID := refund.Transaction.ID
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payments WHERE transaction_id = $1`, txID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transaction_lines WHERE transaction_id = $1`, txID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, txID)
	})

	_, err = s.CreateReturn(ctx, store.ReturnParams{
		TransactionID: refund.Transaction.ID,
		Lines: []domain.ReturnLineRequest{
			{LineID: refund.Transaction.Lines[0].ID, Qty: decimal.RequireFromString("2")},
		},
		Loyalty: testLoyalty(),
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for a refund line, got %v", err)
	}

	lots, err := s.ListInventoryLots(ctx, product.ID)
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	if len(lots) != 1 || !lots[0].QtyAvailable.Equal(lots[0].QtyReceived) {
		t.Fatalf("restock lot must be untouched, got %+v", lots)
	}
}

func TestOpenShiftUniquePerEmployee(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	employeeID := "emp-unique-" + time.Now().UTC().Format("150405.000000000")
	shift, err := s.OpenShift(ctx, domain.Shift{EmployeeID: employeeID, StartCash: decimal.Zero})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shifts WHERE employee_id = $1`, employeeID)
	})

	_, err = s.OpenShift(ctx, domain.Shift{EmployeeID: employeeID, StartCash: decimal.Zero})
	if !errors.Is(err, store.ErrShiftAlreadyOpen) {
		t.Fatalf("expected ErrShiftAlreadyOpen, got %v", err)
	}

	if _, err := s.CloseShift(ctx, shift.ID, decimal.Zero, time.Now().UTC()); err != nil {
		t.Fatalf("close shift: %v", err)
	}
	_, err = s.CloseShift(ctx, shift.ID, decimal.Zero, time.Now().UTC())
	if !errors.Is(err, store.ErrShiftClosed) {
		t.Fatalf("expected ErrShiftClosed, got %v", err)
	}
}
