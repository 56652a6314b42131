package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"martpos/backend/internal/domain"
	"martpos/backend/internal/service"
	"martpos/backend/internal/store"
	"martpos/backend/internal/store/memory"
)

func testLoyalty() domain.LoyaltyConfig {
	return domain.LoyaltyConfig{
		EarnThreshold: decimal.RequireFromString("100000"),
		EarnRate:      1,
		PointValue:    decimal.RequireFromString("1000"),
	}
}

func newTestService(t *testing.T) (*service.Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	return service.New(repo, testLoyalty()), repo
}

func dec(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", raw, err)
	}
	return parsed
}

func createProduct(t *testing.T, repo *memory.Store, name string, price string) domain.Product {
	t.Helper()
	product, err := repo.CreateProduct(context.Background(), domain.Product{
		Name:  name,
		Price: dec(t, price),
		Unit:  "pcs",
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return *product
}

func createLot(t *testing.T, repo *memory.Store, productID string, qty string, expiry *time.Time) domain.InventoryLot {
	t.Helper()
	lot, err := repo.CreateInventoryLot(context.Background(), domain.InventoryLot{
		ProductID:   productID,
		QtyReceived: dec(t, qty),
		UnitCost:    decimal.Zero,
		ExpiryDate:  expiry,
		SourceType:  domain.LotSourceReceipt,
	})
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}
	return *lot
}

func createCustomer(t *testing.T, repo *memory.Store, name string, points int64) domain.Customer {
	t.Helper()
	customer, err := repo.CreateCustomer(context.Background(), domain.Customer{
		Name:          name,
		LoyaltyPoints: points,
	})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return *customer
}

func openShift(t *testing.T, svc *service.Service, employeeID string, startCash string) domain.Shift {
	t.Helper()
	shift, err := svc.OpenShift(context.Background(), domain.ShiftOpenRequest{
		EmployeeID: employeeID,
		StartCash:  dec(t, startCash),
	})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	return shift
}

func expiryIn(days int) *time.Time {
	expiry := time.Now().UTC().Add(time.Duration(days) * 24 * time.Hour)
	return &expiry
}

func TestCheckoutAllocatesEarliestExpiryFirst(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	milk := createProduct(t, repo, "Milk", "50")
	lotNear := createLot(t, repo, milk.ID, "5", expiryIn(1))
	lotFar := createLot(t, repo, milk.ID, "10", expiryIn(5))
	shift := openShift(t, svc, "emp-1", "0")

	result, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		Lines: []domain.CartLine{
			{ProductID: milk.ID, Qty: dec(t, "8"), UnitPrice: dec(t, "50")},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	lines := result.Transaction.Lines
	if len(lines) != 2 {
		t.Fatalf("expected sale split over 2 lots, got %d lines", len(lines))
	}
	if lines[0].LotID != lotNear.ID || !lines[0].Qty.Equal(dec(t, "5")) {
		t.Fatalf("first line should drain the expiring lot, got lot=%s qty=%s", lines[0].LotID, lines[0].Qty)
	}
	if lines[1].LotID != lotFar.ID || !lines[1].Qty.Equal(dec(t, "3")) {
		t.Fatalf("second line should take the remainder, got lot=%s qty=%s", lines[1].LotID, lines[1].Qty)
	}

	lots, err := svc.ListInventoryLots(ctx, milk.ID)
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	byID := map[string]decimal.Decimal{}
	for _, lot := range lots {
		byID[lot.ID] = lot.QtyAvailable
	}
	if !byID[lotNear.ID].IsZero() {
		t.Fatalf("expiring lot should be empty, has %s", byID[lotNear.ID])
	}
	if !byID[lotFar.ID].Equal(dec(t, "7")) {
		t.Fatalf("far lot should have 7 left, has %s", byID[lotFar.ID])
	}
}

func TestCheckoutAllocatesNoExpiryLotsLast(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	rice := createProduct(t, repo, "Rice", "70")
	noExpiry := createLot(t, repo, rice.ID, "10", nil)
	dated := createLot(t, repo, rice.ID, "10", expiryIn(30))
	shift := openShift(t, svc, "emp-1", "0")

	result, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		Lines: []domain.CartLine{
			{ProductID: rice.ID, Qty: dec(t, "4"), UnitPrice: dec(t, "70")},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(result.Transaction.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(result.Transaction.Lines))
	}
	if result.Transaction.Lines[0].LotID != dated.ID {
		t.Fatalf("expected dated lot %s to be consumed before undated %s", dated.ID, noExpiry.ID)
	}
}

func TestCheckoutInsufficientStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	milk := createProduct(t, repo, "Milk", "50")
	createLot(t, repo, milk.ID, "5", expiryIn(1))
	shift := openShift(t, svc, "emp-1", "0")

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		Lines: []domain.CartLine{
			{ProductID: milk.ID, Qty: dec(t, "6"), UnitPrice: dec(t, "50")},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	// The failed sale must not leave partial allocations behind.
	lots, _ := svc.ListInventoryLots(ctx, milk.ID)
	if !lots[0].QtyAvailable.Equal(dec(t, "5")) {
		t.Fatalf("failed checkout must not touch stock, lot has %s", lots[0].QtyAvailable)
	}
}

func TestCheckoutMultiLineShortageLeavesEarlierLinesUntouched(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	milk := createProduct(t, repo, "Milk", "50")
	milkNear := createLot(t, repo, milk.ID, "5", expiryIn(1))
	milkFar := createLot(t, repo, milk.ID, "10", expiryIn(5))
	bread := createProduct(t, repo, "Bread", "15")
	createLot(t, repo, bread.ID, "2", expiryIn(2))
	shift := openShift(t, svc, "emp-1", "0")

	// The milk line allocates fine, the bread line is short.
	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		Lines: []domain.CartLine{
			{ProductID: milk.ID, Qty: dec(t, "8"), UnitPrice: dec(t, "50")},
			{ProductID: bread.ID, Qty: dec(t, "3"), UnitPrice: dec(t, "15")},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	milkLots, _ := svc.ListInventoryLots(ctx, milk.ID)
	byID := map[string]decimal.Decimal{}
	for _, l := range milkLots {
		byID[l.ID] = l.QtyAvailable
	}
	if !byID[milkNear.ID].Equal(dec(t, "5")) || !byID[milkFar.ID].Equal(dec(t, "10")) {
		t.Fatalf("failed cart must leave every lot at its pre-call quantity, got near=%s far=%s",
			byID[milkNear.ID], byID[milkFar.ID])
	}

	breadLots, _ := svc.ListInventoryLots(ctx, bread.ID)
	if !breadLots[0].QtyAvailable.Equal(dec(t, "2")) {
		t.Fatalf("short line's lot must be untouched, got %s", breadLots[0].QtyAvailable)
	}
}

func TestCheckoutValidation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	milk := createProduct(t, repo, "Milk", "50")
	createLot(t, repo, milk.ID, "5", nil)
	shift := openShift(t, svc, "emp-1", "0")

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("empty cart: expected ErrValidation, got %v", err)
	}

	_, err = svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "barter",
		Lines:         []domain.CartLine{{ProductID: milk.ID, Qty: dec(t, "1"), UnitPrice: dec(t, "50")}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("bad payment method: expected ErrValidation, got %v", err)
	}

	_, err = svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{ProductID: milk.ID, Qty: dec(t, "-2"), UnitPrice: dec(t, "50")}},
	})
	if !errors.Is(err, store.ErrInvalidQuantity) {
		t.Fatalf("negative sale qty: expected ErrInvalidQuantity, got %v", err)
	}
}

func TestCheckoutDiscountCappedAtSubtotal(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	milk := createProduct(t, repo, "Milk", "50")
	createLot(t, repo, milk.ID, "5", nil)
	shift := openShift(t, svc, "emp-1", "0")

	result, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		Discount:      dec(t, "999"),
		Lines:         []domain.CartLine{{ProductID: milk.ID, Qty: dec(t, "2"), UnitPrice: dec(t, "50")}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !result.Transaction.Discount.Equal(dec(t, "100")) {
		t.Fatalf("discount should cap at subtotal 100, got %s", result.Transaction.Discount)
	}
	if !result.Transaction.Total.IsZero() {
		t.Fatalf("paid total must not go negative, got %s", result.Transaction.Total)
	}
}

func TestShiftReconciliation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	soap := createProduct(t, repo, "Soap", "50")
	createLot(t, repo, soap.ID, "100", nil)
	shift := openShift(t, svc, "emp-1", "100")

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{ProductID: soap.ID, Qty: dec(t, "1"), UnitPrice: dec(t, "50")}},
	}); err != nil {
		t.Fatalf("cash sale: %v", err)
	}
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "card",
		Lines:         []domain.CartLine{{ProductID: soap.ID, Qty: dec(t, "1"), UnitPrice: dec(t, "30")}},
	}); err != nil {
		t.Fatalf("card sale: %v", err)
	}

	totals, err := svc.ComputeShiftTotals(ctx, shift.ID)
	if err != nil {
		t.Fatalf("compute totals: %v", err)
	}
	if !totals.CashSales.Equal(dec(t, "50")) {
		t.Fatalf("expected cash sales 50, got %s", totals.CashSales)
	}
	if !totals.CardSales.Equal(dec(t, "30")) {
		t.Fatalf("expected card sales 30, got %s", totals.CardSales)
	}
	// Card money never enters the drawer.
	if !totals.ExpectedCash.Equal(dec(t, "150")) {
		t.Fatalf("expected drawer 150, got %s", totals.ExpectedCash)
	}
	if len(totals.SoldItems) != 1 || !totals.SoldItems[0].Qty.Equal(dec(t, "2")) {
		t.Fatalf("unexpected sold items %+v", totals.SoldItems)
	}

	summary, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{
		ShiftID:     shift.ID,
		CountedCash: dec(t, "150"),
	})
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}
	if !summary.Variance.IsZero() {
		t.Fatalf("expected zero variance, got %s", summary.Variance)
	}
	if summary.Shift.Status != domain.ShiftStatusClosed {
		t.Fatalf("expected shift closed, got %s", summary.Shift.Status)
	}

	_, err = svc.CloseShift(ctx, domain.ShiftCloseRequest{
		ShiftID:     shift.ID,
		CountedCash: dec(t, "150"),
	})
	if !errors.Is(err, store.ErrShiftClosed) {
		t.Fatalf("second close: expected ErrShiftClosed, got %v", err)
	}
}

func TestShiftCloseRecordsVariance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	shift := openShift(t, svc, "emp-1", "100")
	summary, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{
		ShiftID:     shift.ID,
		CountedCash: dec(t, "90"),
	})
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}
	if !summary.Variance.Equal(dec(t, "-10")) {
		t.Fatalf("expected variance -10, got %s", summary.Variance)
	}
}

func TestOpenShiftTwiceRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	openShift(t, svc, "emp-1", "0")
	_, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{
		EmployeeID: "emp-1",
		StartCash:  decimal.Zero,
	})
	if !errors.Is(err, store.ErrShiftAlreadyOpen) {
		t.Fatalf("expected ErrShiftAlreadyOpen, got %v", err)
	}

	// A different employee can still open their own drawer.
	if _, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{
		EmployeeID: "emp-2",
		StartCash:  decimal.Zero,
	}); err != nil {
		t.Fatalf("second employee open: %v", err)
	}
}

func TestCheckoutRejectedOnClosedShift(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	soap := createProduct(t, repo, "Soap", "10")
	createLot(t, repo, soap.ID, "10", nil)
	shift := openShift(t, svc, "emp-1", "0")
	if _, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID, CountedCash: decimal.Zero}); err != nil {
		t.Fatalf("close shift: %v", err)
	}

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{ProductID: soap.ID, Qty: dec(t, "1"), UnitPrice: dec(t, "10")}},
	})
	if !errors.Is(err, store.ErrShiftNotOpen) {
		t.Fatalf("expected ErrShiftNotOpen, got %v", err)
	}
}

func TestLoyaltyAccrual(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	rice := createProduct(t, repo, "Rice", "250000")
	createLot(t, repo, rice.ID, "10", nil)
	customer := createCustomer(t, repo, "Budi", 0)
	shift := openShift(t, svc, "emp-1", "0")

	result, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		CustomerID:    customer.ID,
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{ProductID: rice.ID, Qty: dec(t, "1"), UnitPrice: dec(t, "250000")}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	// 250000 over a 100000 threshold at rate 1 earns 2 points.
	if result.PointsEarned != 2 {
		t.Fatalf("expected 2 points earned, got %d", result.PointsEarned)
	}

	balance, err := svc.GetLoyaltyBalance(ctx, customer.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.LoyaltyPoints != 2 {
		t.Fatalf("expected balance 2, got %d", balance.LoyaltyPoints)
	}
}

func TestLoyaltyNoAccrualWithoutCustomer(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	rice := createProduct(t, repo, "Rice", "250000")
	createLot(t, repo, rice.ID, "10", nil)
	shift := openShift(t, svc, "emp-1", "0")

	result, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{ProductID: rice.ID, Qty: dec(t, "1"), UnitPrice: dec(t, "250000")}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.PointsEarned != 0 {
		t.Fatalf("anonymous sale must not earn points, got %d", result.PointsEarned)
	}
}

func TestLoyaltyRedemptionClampedToTotal(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	soap := createProduct(t, repo, "Soap", "50000")
	createLot(t, repo, soap.ID, "10", nil)
	customer := createCustomer(t, repo, "Budi", 120)
	shift := openShift(t, svc, "emp-1", "0")

	result, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		CustomerID:    customer.ID,
		PaymentMethod: "cash",
		RedeemPoints:  120,
		Lines:         []domain.CartLine{{ProductID: soap.ID, Qty: dec(t, "1"), UnitPrice: dec(t, "50000")}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	// 120 points are worth 120000 but the sale is only 50000, so only
	// 50 points are actually consumed.
	if result.PointsSpent != 50 {
		t.Fatalf("expected 50 points spent, got %d", result.PointsSpent)
	}
	if !result.LoyaltyDiscount.Equal(dec(t, "50000")) {
		t.Fatalf("expected loyalty discount 50000, got %s", result.LoyaltyDiscount)
	}
	if !result.Transaction.Total.IsZero() {
		t.Fatalf("expected zero total after redemption, got %s", result.Transaction.Total)
	}

	balance, _ := svc.GetLoyaltyBalance(ctx, customer.ID)
	if balance.LoyaltyPoints != 70 {
		t.Fatalf("expected balance 70 after spending 50, got %d", balance.LoyaltyPoints)
	}
}

func TestLoyaltyInsufficientPoints(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	soap := createProduct(t, repo, "Soap", "50000")
	createLot(t, repo, soap.ID, "10", nil)
	customer := createCustomer(t, repo, "Budi", 10)
	shift := openShift(t, svc, "emp-1", "0")

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		CustomerID:    customer.ID,
		PaymentMethod: "cash",
		RedeemPoints:  50,
		Lines:         []domain.CartLine{{ProductID: soap.ID, Qty: dec(t, "1"), UnitPrice: dec(t, "50000")}},
	})
	if !errors.Is(err, store.ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
}

func TestMaxRedeemableDiscount(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	customer := createCustomer(t, repo, "Budi", 120)

	redeemable, err := svc.MaxRedeemableDiscount(ctx, customer.ID, dec(t, "50000"))
	if err != nil {
		t.Fatalf("max redeemable: %v", err)
	}
	if redeemable.PointsToUse != 50 || !redeemable.Discount.Equal(dec(t, "50000")) {
		t.Fatalf("unexpected redeemable %+v", redeemable)
	}

	// With a large total the whole balance is usable.
	redeemable, err = svc.MaxRedeemableDiscount(ctx, customer.ID, dec(t, "500000"))
	if err != nil {
		t.Fatalf("max redeemable: %v", err)
	}
	if redeemable.PointsToUse != 120 || !redeemable.Discount.Equal(dec(t, "120000")) {
		t.Fatalf("unexpected redeemable %+v", redeemable)
	}
}

func TestReturnProportionalRefundAndOverReturn(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	milk := createProduct(t, repo, "Milk", "50")
	lot := createLot(t, repo, milk.ID, "20", expiryIn(5))
	shift := openShift(t, svc, "emp-1", "0")

	sale, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{ProductID: milk.ID, Qty: dec(t, "8"), UnitPrice: dec(t, "50")}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	lineID := sale.Transaction.Lines[0].ID
	if !sale.Transaction.Lines[0].LineTotal.Equal(dec(t, "400")) {
		t.Fatalf("expected line total 400, got %s", sale.Transaction.Lines[0].LineTotal)
	}

	result, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		TransactionID: sale.Transaction.ID,
		Lines:         []domain.ReturnLineRequest{{LineID: lineID, Qty: dec(t, "3"), Reason: "damaged"}},
	})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	// 400 / 8 = 50 a unit, 3 units back = 150.
	if !result.Return.RefundTotal.Equal(dec(t, "150")) {
		t.Fatalf("expected refund 150, got %s", result.Return.RefundTotal)
	}
	if len(result.Return.Lines) != 1 || !result.Return.Lines[0].RefundAmount.Equal(dec(t, "150")) {
		t.Fatalf("unexpected return lines %+v", result.Return.Lines)
	}

	// The 3 units go back onto the lot they were sold from.
	lots, _ := svc.ListInventoryLots(ctx, milk.ID)
	for _, l := range lots {
		if l.ID == lot.ID && !l.QtyAvailable.Equal(dec(t, "15")) {
			t.Fatalf("expected lot restocked to 15, got %s", l.QtyAvailable)
		}
	}

	// Only 5 of the original 8 remain returnable.
	_, err = svc.ProcessReturn(ctx, domain.ReturnRequest{
		TransactionID: sale.Transaction.ID,
		Lines:         []domain.ReturnLineRequest{{LineID: lineID, Qty: dec(t, "6")}},
	})
	if !errors.Is(err, store.ErrOverReturn) {
		t.Fatalf("expected ErrOverReturn, got %v", err)
	}

	if _, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		TransactionID: sale.Transaction.ID,
		Lines:         []domain.ReturnLineRequest{{LineID: lineID, Qty: dec(t, "5")}},
	}); err != nil {
		t.Fatalf("returning the remainder should succeed: %v", err)
	}

	_, err = svc.ProcessReturn(ctx, domain.ReturnRequest{
		TransactionID: sale.Transaction.ID,
		Lines:         []domain.ReturnLineRequest{{LineID: lineID, Qty: dec(t, "1")}},
	})
	if !errors.Is(err, store.ErrOverReturn) {
		t.Fatalf("fully returned line must reject further returns, got %v", err)
	}
}

func TestReturnDuplicateLineInOneRequestCounted(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	milk := createProduct(t, repo, "Milk", "50")
	createLot(t, repo, milk.ID, "20", nil)
	shift := openShift(t, svc, "emp-1", "0")

	sale, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{ProductID: milk.ID, Qty: dec(t, "4"), UnitPrice: dec(t, "50")}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	lineID := sale.Transaction.Lines[0].ID

	// Two entries for the same line must be summed before the limit check.
	_, err = svc.ProcessReturn(ctx, domain.ReturnRequest{
		TransactionID: sale.Transaction.ID,
		Lines: []domain.ReturnLineRequest{
			{LineID: lineID, Qty: dec(t, "3")},
			{LineID: lineID, Qty: dec(t, "3")},
		},
	})
	if !errors.Is(err, store.ErrOverReturn) {
		t.Fatalf("expected ErrOverReturn for 6 of 4, got %v", err)
	}
}

func TestReturnRevertsLoyaltyPoints(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	rice := createProduct(t, repo, "Rice", "250000")
	createLot(t, repo, rice.ID, "10", nil)
	customer := createCustomer(t, repo, "Budi", 120)
	shift := openShift(t, svc, "emp-1", "0")

	sale, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		CustomerID:    customer.ID,
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{ProductID: rice.ID, Qty: dec(t, "1"), UnitPrice: dec(t, "250000")}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if sale.PointsEarned != 2 {
		t.Fatalf("expected 2 points earned, got %d", sale.PointsEarned)
	}

	result, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		TransactionID: sale.Transaction.ID,
		Lines:         []domain.ReturnLineRequest{{LineID: sale.Transaction.Lines[0].ID, Qty: dec(t, "1")}},
	})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if result.PointsReverted != 2 {
		t.Fatalf("expected 2 points reverted, got %d", result.PointsReverted)
	}

	balance, _ := svc.GetLoyaltyBalance(ctx, customer.ID)
	if balance.LoyaltyPoints != 120 {
		t.Fatalf("expected balance back at 120, got %d", balance.LoyaltyPoints)
	}
}

func TestReturnRevertNeverDrivesBalanceNegative(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	rice := createProduct(t, repo, "Rice", "250000")
	createLot(t, repo, rice.ID, "10", nil)
	soap := createProduct(t, repo, "Soap", "2000")
	createLot(t, repo, soap.ID, "10", nil)
	customer := createCustomer(t, repo, "Budi", 0)
	shift := openShift(t, svc, "emp-1", "0")

	// Earn 2 points, spend them, then return the earning sale.
	sale, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		CustomerID:    customer.ID,
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{ProductID: rice.ID, Qty: dec(t, "1"), UnitPrice: dec(t, "250000")}},
	})
	if err != nil {
		t.Fatalf("earning sale: %v", err)
	}
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		CustomerID:    customer.ID,
		PaymentMethod: "cash",
		RedeemPoints:  2,
		Lines:         []domain.CartLine{{ProductID: soap.ID, Qty: dec(t, "1"), UnitPrice: dec(t, "2000")}},
	}); err != nil {
		t.Fatalf("spending sale: %v", err)
	}

	if _, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		TransactionID: sale.Transaction.ID,
		Lines:         []domain.ReturnLineRequest{{LineID: sale.Transaction.Lines[0].ID, Qty: dec(t, "1")}},
	}); err != nil {
		t.Fatalf("return: %v", err)
	}

	balance, _ := svc.GetLoyaltyBalance(ctx, customer.ID)
	if balance.LoyaltyPoints != 0 {
		t.Fatalf("expected clamped balance 0, got %d", balance.LoyaltyPoints)
	}
}

func TestReturnUnknownTransaction(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ProcessReturn(context.Background(), domain.ReturnRequest{
		TransactionID: "txn-missing",
		Lines:         []domain.ReturnLineRequest{{LineID: "txl-x", Qty: dec(t, "1")}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRefundCheckoutRestocksNewLotAndDrainsDrawer(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	milk := createProduct(t, repo, "Milk", "18000")
	shift := openShift(t, svc, "emp-1", "100000")

	result, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		IsRefund:      true,
		Lines:         []domain.CartLine{{ProductID: milk.ID, Qty: dec(t, "2"), UnitPrice: dec(t, "18000")}},
	})
	if err != nil {
		t.Fatalf("refund checkout: %v", err)
	}
	if result.Transaction.Status != domain.TxStatusRefund {
		t.Fatalf("expected refund status, got %s", result.Transaction.Status)
	}
	if !result.Transaction.Total.Equal(dec(t, "-36000")) {
		t.Fatalf("expected total -36000, got %s", result.Transaction.Total)
	}

	lots, err := svc.ListInventoryLots(ctx, milk.ID)
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	if len(lots) != 1 {
		t.Fatalf("expected one restock lot, got %d", len(lots))
	}
	if lots[0].SourceType != domain.LotSourceRefund || !lots[0].QtyAvailable.Equal(dec(t, "2")) {
		t.Fatalf("unexpected restock lot %+v", lots[0])
	}

	totals, err := svc.ComputeShiftTotals(ctx, shift.ID)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if !totals.CashRefunds.Equal(dec(t, "36000")) {
		t.Fatalf("expected cash refunds 36000, got %s", totals.CashRefunds)
	}
	if !totals.ExpectedCash.Equal(dec(t, "64000")) {
		t.Fatalf("expected drawer 64000, got %s", totals.ExpectedCash)
	}
}

func TestReturnAgainstRefundLineRejected(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	milk := createProduct(t, repo, "Milk", "18000")
	shift := openShift(t, svc, "emp-1", "100000")

	refund, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		IsRefund:      true,
		Lines:         []domain.CartLine{{ProductID: milk.ID, Qty: dec(t, "2"), UnitPrice: dec(t, "18000")}},
	})
	if err != nil {
		t.Fatalf("refund checkout: %v", err)
	}
	lineID := refund.Transaction.Lines[0].ID

	// A refund line carries negative quantity and must not be returnable,
	// otherwise the drawer pays the refund out twice and the restock lot
	// climbs above what it received.
	_, err = svc.ProcessReturn(ctx, domain.ReturnRequest{
		TransactionID: refund.Transaction.ID,
		Lines:         []domain.ReturnLineRequest{{LineID: lineID, Qty: dec(t, "2")}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	lots, _ := svc.ListInventoryLots(ctx, milk.ID)
	if len(lots) != 1 || !lots[0].QtyAvailable.Equal(lots[0].QtyReceived) {
		t.Fatalf("restock lot must be untouched, got %+v", lots)
	}

	totals, err := svc.ComputeShiftTotals(ctx, shift.ID)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if !totals.CashRefunds.Equal(dec(t, "36000")) {
		t.Fatalf("rejected return must not move the drawer, refunds=%s", totals.CashRefunds)
	}
}

func TestAdjustStockConsumesExpiringLotsFirst(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	bread := createProduct(t, repo, "Bread", "15000")
	near := createLot(t, repo, bread.ID, "2", expiryIn(1))
	far := createLot(t, repo, bread.ID, "10", expiryIn(10))

	adj, err := svc.AdjustStock(ctx, domain.AdjustStockRequest{
		ProductID: bread.ID,
		Qty:       dec(t, "3"),
		Reason:    "mold",
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if len(adj.Lots) != 2 {
		t.Fatalf("expected 2 lot allocations, got %d", len(adj.Lots))
	}
	if adj.Lots[0].LotID != near.ID || !adj.Lots[0].Qty.Equal(dec(t, "2")) {
		t.Fatalf("expected expiring lot consumed first, got %+v", adj.Lots[0])
	}

	lots, _ := svc.ListInventoryLots(ctx, bread.ID)
	for _, l := range lots {
		if l.ID == far.ID && !l.QtyAvailable.Equal(dec(t, "9")) {
			t.Fatalf("expected far lot at 9, got %s", l.QtyAvailable)
		}
	}
}

func TestGetActiveShift(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	opened := openShift(t, svc, "emp-1", "25")
	active, err := svc.GetActiveShift(ctx, "emp-1")
	if err != nil {
		t.Fatalf("active shift: %v", err)
	}
	if active.ID != opened.ID {
		t.Fatalf("expected shift %s, got %s", opened.ID, active.ID)
	}

	_, err = svc.GetActiveShift(ctx, "emp-2")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for employee with no shift, got %v", err)
	}
}

func TestFindTransaction(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	soap := createProduct(t, repo, "Soap", "6000")
	createLot(t, repo, soap.ID, "10", nil)
	shift := openShift(t, svc, "emp-1", "0")

	sale, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "online",
		Lines:         []domain.CartLine{{ProductID: soap.ID, Qty: dec(t, "1"), UnitPrice: dec(t, "6000")}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	found, err := svc.FindTransaction(ctx, sale.Transaction.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.Payment.Method != "online" || !found.Total.Equal(dec(t, "6000")) {
		t.Fatalf("unexpected transaction %+v", found)
	}

	_, err = svc.FindTransaction(ctx, "txn-missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCustomerRegistry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Sari", Phone: "0812000333"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	if created.LoyaltyPoints != 0 {
		t.Fatalf("new customer should start at 0 points, got %d", created.LoyaltyPoints)
	}

	byPhone, err := svc.FindCustomerByPhone(ctx, "0812000333")
	if err != nil {
		t.Fatalf("find by phone: %v", err)
	}
	if byPhone.ID != created.ID {
		t.Fatalf("expected customer %s, got %s", created.ID, byPhone.ID)
	}
}

func TestCheckoutWritesAuditLog(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := service.WithActor(context.Background(), domain.Actor{
		EmployeeID: "emp-1",
		Username:   "kasir1",
		Role:       "cashier",
	})

	soap := createProduct(t, repo, "Soap", "6000")
	createLot(t, repo, soap.ID, "10", nil)
	shift := openShift(t, svc, "emp-1", "0")

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		ShiftID:       shift.ID,
		PaymentMethod: "cash",
		Lines:         []domain.CartLine{{ProductID: soap.ID, Qty: dec(t, "1"), UnitPrice: dec(t, "6000")}},
	}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	var found bool
	for _, entry := range logs {
		if entry.Action == "checkout" && entry.ActorUsername == "kasir1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a checkout audit entry, got %+v", logs)
	}
}
