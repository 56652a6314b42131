package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"martpos/backend/internal/domain"
	"martpos/backend/internal/store"
	"martpos/backend/internal/xid"
)

const maxReturnReasonLen = 500

// Store is a mutex-guarded in-memory Repository. Every mutating method
// validates and plans first, then applies all writes under the same lock,
// so a failed call leaves no partial state.
type Store struct {
	mu           sync.RWMutex
	products     map[string]domain.Product
	lots         map[string]*domain.InventoryLot
	shifts       map[string]*domain.Shift
	transactions map[string]*domain.Transaction
	returns      map[string][]domain.ReturnRecord
	customers    map[string]*domain.Customer
	adjustments  []domain.StockAdjustment
	auditLogs    []domain.AuditLog
	users        map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:     make(map[string]domain.Product),
		lots:         make(map[string]*domain.InventoryLot),
		shifts:       make(map[string]*domain.Shift),
		transactions: make(map[string]*domain.Transaction),
		returns:      make(map[string][]domain.ReturnRecord),
		customers:    make(map[string]*domain.Customer),
		users:        make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with a small catalog, dated lots,
// customers and login accounts, enough to exercise every flow without a
// database.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	seedProducts := []struct {
		id         string
		name       string
		barcode    string
		category   string
		price      string
		unit       string
		perishable bool
		minStock   string
	}{
		{"prd-milk-1l", "Fresh Milk 1L", "8991002001011", "dairy", "18000", "pcs", true, "10"},
		{"prd-yogurt", "Plain Yogurt 500g", "8991002001028", "dairy", "25000", "pcs", true, "8"},
		{"prd-bread", "Wheat Bread Loaf", "8991002001035", "bakery", "15000", "pcs", true, "6"},
		{"prd-rice-5kg", "Rice 5kg", "8991002001042", "staples", "70000", "pcs", false, "5"},
		{"prd-oil-2l", "Cooking Oil 2L", "8991002001059", "staples", "38000", "pcs", false, "5"},
		{"prd-apple", "Apple Fuji", "8991002001066", "produce", "45000", "kg", true, "3"},
		{"prd-eggs", "Eggs Tray 30", "8991002001073", "staples", "32000", "pcs", false, "4"},
		{"prd-soap", "Bath Soap", "8991002001080", "household", "6000", "pcs", false, "12"},
	}
	for _, p := range seedProducts {
		s.products[p.id] = domain.Product{
			ID:         p.id,
			Name:       p.name,
			Barcode:    p.barcode,
			Category:   p.category,
			Price:      decimal.RequireFromString(p.price),
			Unit:       p.unit,
			Perishable: p.perishable,
			MinStock:   decimal.RequireFromString(p.minStock),
			Active:     true,
			CreatedAt:  now,
		}
	}

	day := 24 * time.Hour
	seedLots := []struct {
		productID string
		qty       string
		cost      string
		expiry    *time.Time
	}{
		{"prd-milk-1l", "24", "14000", expiryPtr(now.Add(3 * day))},
		{"prd-milk-1l", "48", "14000", expiryPtr(now.Add(9 * day))},
		{"prd-yogurt", "20", "19000", expiryPtr(now.Add(5 * day))},
		{"prd-bread", "15", "9000", expiryPtr(now.Add(2 * day))},
		{"prd-rice-5kg", "40", "61000", nil},
		{"prd-oil-2l", "30", "33000", nil},
		{"prd-apple", "12.5", "30000", expiryPtr(now.Add(4 * day))},
		{"prd-eggs", "25", "26000", expiryPtr(now.Add(14 * day))},
		{"prd-soap", "60", "4200", nil},
	}
	for _, l := range seedLots {
		qty := decimal.RequireFromString(l.qty)
		lot := &domain.InventoryLot{
			ID:           xid.New("lot"),
			ProductID:    l.productID,
			QtyReceived:  qty,
			QtyAvailable: qty,
			UnitCost:     decimal.RequireFromString(l.cost),
			ExpiryDate:   l.expiry,
			SourceType:   domain.LotSourceReceipt,
			ReceivedAt:   now,
		}
		s.lots[lot.ID] = lot
	}

	s.customers["cus-seed-1"] = &domain.Customer{
		ID: "cus-seed-1", Name: "Budi Santoso", Phone: "0812000111", LoyaltyPoints: 120, CreatedAt: now,
	}
	s.customers["cus-seed-2"] = &domain.Customer{
		ID: "cus-seed-2", Name: "Sari Dewi", Phone: "0812000222", LoyaltyPoints: 0, CreatedAt: now,
	}

	s.seedUsers(now)
	return s
}

func (s *Store) seedUsers(now time.Time) {
	adminPassword := os.Getenv("SEED_ADMIN_PASSWORD")
	if adminPassword == "" {
		adminPassword = "admin12345"
	}
	cashierPassword := os.Getenv("SEED_CASHIER_PASSWORD")
	if cashierPassword == "" {
		cashierPassword = "cashier12345"
	}

	for _, u := range []struct {
		employeeID string
		username   string
		password   string
		role       string
	}{
		{"emp-admin", "admin", adminPassword, "manager"},
		{"emp-kasir-1", "kasir1", cashierPassword, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("[memory] seed user %s skipped: %v", u.username, err)
			continue
		}
		s.users[u.username] = domain.UserAccount{
			EmployeeID: u.employeeID,
			Username:   u.username,
			Password:   string(hash),
			Role:       u.role,
			Active:     true,
			CreatedAt:  now,
		}
	}
}

func expiryPtr(t time.Time) *time.Time {
	d := t.Truncate(24 * time.Hour)
	return &d
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(product.Name) == "" {
		return nil, fmt.Errorf("%w: product name is required", store.ErrValidation)
	}
	if product.Price.IsNegative() {
		return nil, fmt.Errorf("%w: product price must not be negative", store.ErrValidation)
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.Unit == "" {
		product.Unit = "pcs"
	}
	product.Active = true
	product.CreatedAt = time.Now().UTC()
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	found := product
	return &found, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) DeactivateProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	product.Active = false
	s.products[id] = product
	return nil
}

func (s *Store) CreateInventoryLot(_ context.Context, lot domain.InventoryLot) (*domain.InventoryLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[lot.ProductID]; !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, lot.ProductID)
	}
	if !lot.QtyReceived.IsPositive() {
		return nil, fmt.Errorf("%w: lot quantity must be positive", store.ErrInvalidQuantity)
	}
	if lot.UnitCost.IsNegative() {
		return nil, fmt.Errorf("%w: unit cost must not be negative", store.ErrValidation)
	}
	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	lot.QtyReceived = domain.RoundQty(lot.QtyReceived)
	lot.QtyAvailable = lot.QtyReceived
	if lot.SourceType == "" {
		lot.SourceType = domain.LotSourceReceipt
	}
	lot.ReceivedAt = time.Now().UTC()
	stored := lot
	s.lots[lot.ID] = &stored
	created := stored
	return &created, nil
}

func (s *Store) ListInventoryLots(_ context.Context, productID string) ([]domain.InventoryLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	return s.lotsForProductLocked(productID), nil
}

// lotsForProductLocked returns FEFO-ordered copies of the product's lots
// that still hold stock.
func (s *Store) lotsForProductLocked(productID string) []domain.InventoryLot {
	var lots []domain.InventoryLot
	for _, lot := range s.lots {
		if lot.ProductID == productID && lot.QtyAvailable.IsPositive() {
			lots = append(lots, *lot)
		}
	}
	domain.SortLotsFEFO(lots)
	return lots
}

func (s *Store) CreateStockAdjustment(_ context.Context, adj domain.StockAdjustment) (*domain.StockAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[adj.ProductID]; !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, adj.ProductID)
	}
	if !adj.Qty.IsPositive() {
		return nil, fmt.Errorf("%w: adjustment quantity must be positive", store.ErrInvalidQuantity)
	}
	if strings.TrimSpace(adj.Reason) == "" {
		return nil, fmt.Errorf("%w: adjustment reason is required", store.ErrValidation)
	}

	lots := s.lotsForProductLocked(adj.ProductID)
	allocs, ok := domain.PlanAllocation(lots, domain.RoundQty(adj.Qty))
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, adj.ProductID)
	}
	for _, alloc := range allocs {
		lot := s.lots[alloc.LotID]
		lot.QtyAvailable = lot.QtyAvailable.Sub(alloc.Qty)
	}

	adj.ID = xid.New("adj")
	adj.Qty = domain.RoundQty(adj.Qty)
	adj.Lots = allocs
	adj.CreatedAt = time.Now().UTC()
	s.adjustments = append(s.adjustments, adj)
	created := adj
	return &created, nil
}

func (s *Store) OpenShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if shift.EmployeeID == "" {
		return nil, fmt.Errorf("%w: employee id is required", store.ErrValidation)
	}
	if shift.StartCash.IsNegative() {
		return nil, fmt.Errorf("%w: start cash must not be negative", store.ErrValidation)
	}
	for _, existing := range s.shifts {
		if existing.EmployeeID == shift.EmployeeID && existing.Status == domain.ShiftStatusOpen {
			return nil, fmt.Errorf("%w: employee %s", store.ErrShiftAlreadyOpen, shift.EmployeeID)
		}
	}

	shift.ID = xid.New("shift")
	shift.Status = domain.ShiftStatusOpen
	shift.StartCash = domain.RoundMoney(shift.StartCash)
	shift.OpenedAt = time.Now().UTC()
	stored := shift
	s.shifts[shift.ID] = &stored
	created := stored
	return &created, nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shifts[id]
	if !ok {
		return nil, fmt.Errorf("%w: shift %s", store.ErrNotFound, id)
	}
	found := *shift
	return &found, nil
}

func (s *Store) GetActiveShift(_ context.Context, employeeID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, shift := range s.shifts {
		if shift.EmployeeID == employeeID && shift.Status == domain.ShiftStatusOpen {
			found := *shift
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: no open shift for employee %s", store.ErrNotFound, employeeID)
}

func (s *Store) ComputeShiftTotals(_ context.Context, shiftID string) (*domain.ShiftTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.shifts[shiftID]; !ok {
		return nil, fmt.Errorf("%w: shift %s", store.ErrNotFound, shiftID)
	}
	totals := s.shiftTotalsLocked(shiftID)
	return &totals, nil
}

// shiftTotalsLocked aggregates payments of the shift's non-void
// transactions, sign-separated per method and rounded after each
// accumulation step.
func (s *Store) shiftTotalsLocked(shiftID string) domain.ShiftTotals {
	shift := s.shifts[shiftID]
	totals := domain.ShiftTotals{
		ShiftID:       shiftID,
		StartCash:     shift.StartCash,
		CashSales:     decimal.Zero,
		CashRefunds:   decimal.Zero,
		CardSales:     decimal.Zero,
		CardRefunds:   decimal.Zero,
		OnlineSales:   decimal.Zero,
		OnlineRefunds: decimal.Zero,
	}

	soldQty := make(map[string]decimal.Decimal)
	soldAmount := make(map[string]decimal.Decimal)

	txIDs := make([]string, 0, len(s.transactions))
	for id := range s.transactions {
		txIDs = append(txIDs, id)
	}
	sort.Strings(txIDs)

	for _, id := range txIDs {
		tx := s.transactions[id]
		if tx.ShiftID != shiftID || tx.Status == domain.TxStatusVoided {
			continue
		}
		amount := tx.Payment.Amount
		switch tx.Payment.Method {
		case domain.PaymentCash:
			if amount.IsNegative() {
				totals.CashRefunds = domain.RoundMoney(totals.CashRefunds.Add(amount.Abs()))
			} else {
				totals.CashSales = domain.RoundMoney(totals.CashSales.Add(amount))
			}
		case domain.PaymentCard:
			if amount.IsNegative() {
				totals.CardRefunds = domain.RoundMoney(totals.CardRefunds.Add(amount.Abs()))
			} else {
				totals.CardSales = domain.RoundMoney(totals.CardSales.Add(amount))
			}
		default:
			if amount.IsNegative() {
				totals.OnlineRefunds = domain.RoundMoney(totals.OnlineRefunds.Add(amount.Abs()))
			} else {
				totals.OnlineSales = domain.RoundMoney(totals.OnlineSales.Add(amount))
			}
		}
		for _, line := range tx.Lines {
			if !line.Qty.IsPositive() {
				continue
			}
			soldQty[line.ProductID] = soldQty[line.ProductID].Add(line.Qty)
			soldAmount[line.ProductID] = domain.RoundMoney(soldAmount[line.ProductID].Add(line.LineTotal))
		}
	}

	totals.ExpectedCash = domain.RoundMoney(totals.StartCash.Add(totals.CashSales).Sub(totals.CashRefunds))

	productIDs := make([]string, 0, len(soldQty))
	for id := range soldQty {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)
	for _, id := range productIDs {
		name := id
		if p, ok := s.products[id]; ok {
			name = p.Name
		}
		totals.SoldItems = append(totals.SoldItems, domain.ShiftSoldItem{
			ProductID: id,
			Name:      name,
			Qty:       domain.RoundQty(soldQty[id]),
			Amount:    soldAmount[id],
		})
	}
	return totals
}

func (s *Store) CloseShift(_ context.Context, shiftID string, countedCash decimal.Decimal, closedAt time.Time) (*domain.ShiftCloseSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shifts[shiftID]
	if !ok {
		return nil, fmt.Errorf("%w: shift %s", store.ErrNotFound, shiftID)
	}
	if shift.Status == domain.ShiftStatusClosed {
		return nil, fmt.Errorf("%w: shift %s", store.ErrShiftClosed, shiftID)
	}
	if countedCash.IsNegative() {
		return nil, fmt.Errorf("%w: counted cash must not be negative", store.ErrValidation)
	}

	totals := s.shiftTotalsLocked(shiftID)
	counted := domain.RoundMoney(countedCash)
	variance := domain.RoundMoney(counted.Sub(totals.ExpectedCash))

	shift.Status = domain.ShiftStatusClosed
	shift.ExpectedCash = &totals.ExpectedCash
	shift.CountedCash = &counted
	shift.Variance = &variance
	closed := closedAt.UTC()
	shift.ClosedAt = &closed

	return &domain.ShiftCloseSummary{
		Shift:       *shift,
		Totals:      totals,
		CountedCash: counted,
		Variance:    variance,
	}, nil
}

func (s *Store) CreateCheckout(_ context.Context, params store.CheckoutParams) (*domain.CheckoutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(params.Lines) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}
	shift, ok := s.shifts[params.ShiftID]
	if !ok {
		return nil, fmt.Errorf("%w: shift %s", store.ErrNotFound, params.ShiftID)
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, fmt.Errorf("%w: shift %s", store.ErrShiftNotOpen, params.ShiftID)
	}

	var customer *domain.Customer
	if params.CustomerID != "" {
		customer, ok = s.customers[params.CustomerID]
		if !ok {
			return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, params.CustomerID)
		}
	}

	// Totals come strictly from the lines; caller-supplied totals are
	// never trusted.
	subtotal := decimal.Zero
	for _, line := range params.Lines {
		subtotal = subtotal.Add(domain.RoundMoney(line.Qty.Abs().Mul(line.UnitPrice)))
	}
	subtotal = domain.RoundMoney(subtotal)

	discount := params.Discount
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	// A manual discount never exceeds what was rung up.
	discount = decimal.Min(domain.RoundMoney(discount), subtotal)

	var pointsSpent, pointsEarned int64
	loyaltyDiscount := decimal.Zero
	if !params.IsRefund && customer != nil && params.RedeemPoints > 0 {
		if params.RedeemPoints > customer.LoyaltyPoints {
			return nil, fmt.Errorf("%w: requested %d, balance %d", store.ErrInsufficientPoints, params.RedeemPoints, customer.LoyaltyPoints)
		}
		loyaltyDiscount, pointsSpent = params.Loyalty.Redemption(params.RedeemPoints, subtotal)
	}

	finalTotal := domain.RoundMoney(subtotal.Sub(discount).Sub(loyaltyDiscount))
	if params.IsRefund {
		finalTotal = finalTotal.Neg()
	}

	// Plan every line against working copies before mutating anything.
	lotDeltas := make(map[string]decimal.Decimal)
	var newLots []domain.InventoryLot
	var txLines []domain.TransactionLine
	workingLots := make(map[string][]domain.InventoryLot)

	for _, line := range params.Lines {
		if line.Qty.IsZero() {
			continue
		}
		if _, exists := s.products[line.ProductID]; !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}

		if params.IsRefund {
			qty := domain.RoundQty(line.Qty.Abs())
			lot := domain.InventoryLot{
				ID:           xid.New("lot"),
				ProductID:    line.ProductID,
				QtyReceived:  qty,
				QtyAvailable: qty,
				UnitCost:     line.UnitPrice,
				SourceType:   domain.LotSourceRefund,
				ReceivedAt:   time.Now().UTC(),
			}
			newLots = append(newLots, lot)
			txLines = append(txLines, domain.TransactionLine{
				ID:        xid.New("txl"),
				ProductID: line.ProductID,
				LotID:     lot.ID,
				Qty:       qty.Neg(),
				UnitPrice: line.UnitPrice,
				LineTotal: domain.RoundMoney(qty.Mul(line.UnitPrice)).Neg(),
			})
			continue
		}

		if line.Qty.IsNegative() {
			return nil, fmt.Errorf("%w: negative quantity on sale line for product %s", store.ErrInvalidQuantity, line.ProductID)
		}

		lots, planned := workingLots[line.ProductID]
		if !planned {
			lots = s.lotsForProductLocked(line.ProductID)
		}
		allocs, enough := domain.PlanAllocation(lots, domain.RoundQty(line.Qty))
		if !enough {
			return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, line.ProductID)
		}
		for _, alloc := range allocs {
			for i := range lots {
				if lots[i].ID == alloc.LotID {
					lots[i].QtyAvailable = lots[i].QtyAvailable.Sub(alloc.Qty)
				}
			}
			lotDeltas[alloc.LotID] = lotDeltas[alloc.LotID].Add(alloc.Qty)
			txLines = append(txLines, domain.TransactionLine{
				ID:        xid.New("txl"),
				ProductID: line.ProductID,
				LotID:     alloc.LotID,
				Qty:       alloc.Qty,
				UnitPrice: line.UnitPrice,
				LineTotal: domain.RoundMoney(alloc.Qty.Mul(line.UnitPrice)),
			})
		}
		workingLots[line.ProductID] = lots
	}
	if len(txLines) == 0 {
		return nil, fmt.Errorf("%w: cart has no non-zero lines", store.ErrValidation)
	}

	if !params.IsRefund && customer != nil {
		netPaid := finalTotal
		if netPaid.IsNegative() {
			netPaid = decimal.Zero
		}
		pointsEarned = params.Loyalty.AccruedPoints(netPaid)
	}

	status := domain.TxStatusPaid
	if params.IsRefund {
		status = domain.TxStatusRefund
	}
	tx := &domain.Transaction{
		ID:         xid.New("txn"),
		ShiftID:    params.ShiftID,
		CustomerID: params.CustomerID,
		Subtotal:   subtotal,
		Discount:   domain.RoundMoney(discount.Add(loyaltyDiscount)),
		Total:      finalTotal,
		Status:     status,
		Lines:      txLines,
		Payment: domain.Payment{
			ID:     xid.New("pay"),
			Method: params.PaymentMethod,
			Amount: finalTotal,
		},
		CreatedAt: time.Now().UTC(),
	}

	// All checks passed; apply the planned writes.
	for lotID, delta := range lotDeltas {
		lot := s.lots[lotID]
		lot.QtyAvailable = lot.QtyAvailable.Sub(delta)
	}
	for i := range newLots {
		lot := newLots[i]
		s.lots[lot.ID] = &lot
	}
	s.transactions[tx.ID] = tx
	if customer != nil && (pointsSpent > 0 || pointsEarned > 0) {
		customer.LoyaltyPoints = domain.ApplyBalanceDelta(customer.LoyaltyPoints, pointsSpent, pointsEarned)
	}

	return &domain.CheckoutResult{
		Transaction:     cloneTransaction(tx),
		PointsSpent:     pointsSpent,
		PointsEarned:    pointsEarned,
		LoyaltyDiscount: loyaltyDiscount,
	}, nil
}

func (s *Store) CreateReturn(_ context.Context, params store.ReturnParams) (*domain.ReturnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(params.Lines) == 0 {
		return nil, fmt.Errorf("%w: no return lines", store.ErrValidation)
	}
	tx, ok := s.transactions[params.TransactionID]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", store.ErrNotFound, params.TransactionID)
	}
	if tx.Status == domain.TxStatusVoided {
		return nil, fmt.Errorf("%w: transaction %s", store.ErrTransactionVoided, params.TransactionID)
	}

	linesByID := make(map[string]domain.TransactionLine, len(tx.Lines))
	for _, line := range tx.Lines {
		linesByID[line.ID] = line
	}

	returnedQty := make(map[string]decimal.Decimal)
	for _, prior := range s.returns[tx.ID] {
		for _, line := range prior.Lines {
			returnedQty[line.LineID] = returnedQty[line.LineID].Add(line.Qty)
		}
	}

	refundTotal := decimal.Zero
	var retLines []domain.ReturnLine
	lotIncrements := make(map[string]decimal.Decimal)
	var reasons []string
	pending := make(map[string]decimal.Decimal)

	for _, req := range params.Lines {
		line, exists := linesByID[req.LineID]
		if !exists {
			return nil, fmt.Errorf("%w: transaction line %s", store.ErrNotFound, req.LineID)
		}
		qty := domain.RoundQty(req.Qty)
		if !qty.IsPositive() {
			return nil, fmt.Errorf("%w: return quantity must be positive", store.ErrInvalidQuantity)
		}
		// Refund lines carry negative quantities and are not returnable.
		if !line.Qty.IsPositive() {
			return nil, fmt.Errorf("%w: line %s is not returnable", store.ErrValidation, req.LineID)
		}
		remaining := line.Qty.Sub(returnedQty[req.LineID]).Sub(pending[req.LineID])
		if !remaining.IsPositive() || qty.GreaterThan(remaining) {
			return nil, fmt.Errorf("%w: line %s has %s remaining", store.ErrOverReturn, req.LineID, remaining.String())
		}
		pending[req.LineID] = pending[req.LineID].Add(qty)

		unitRefund := domain.UnitRefund(line.LineTotal, line.Qty)
		lineRefund := domain.LineRefund(unitRefund, qty)
		refundTotal = domain.RoundMoney(refundTotal.Add(lineRefund))

		if line.LotID != "" {
			lotIncrements[line.LotID] = lotIncrements[line.LotID].Add(qty)
		}
		if strings.TrimSpace(req.Reason) != "" {
			reasons = append(reasons, strings.TrimSpace(req.Reason))
		}
		retLines = append(retLines, domain.ReturnLine{
			ID:           xid.New("rtl"),
			LineID:       req.LineID,
			Qty:          qty,
			RefundAmount: lineRefund,
		})
	}

	reason := strings.Join(reasons, "; ")
	if reason == "" {
		reason = strings.TrimSpace(params.Reason)
	}
	if len(reason) > maxReturnReasonLen {
		reason = reason[:maxReturnReasonLen]
	}

	var pointsReverted int64
	var customer *domain.Customer
	if tx.CustomerID != "" && refundTotal.IsPositive() {
		if c, exists := s.customers[tx.CustomerID]; exists {
			customer = c
			pointsReverted = params.Loyalty.RevertedPoints(refundTotal)
		}
	}

	record := domain.ReturnRecord{
		ID:            xid.New("ret"),
		TransactionID: tx.ID,
		RefundTotal:   refundTotal,
		Reason:        reason,
		Lines:         retLines,
		CreatedAt:     time.Now().UTC(),
	}

	for lotID, qty := range lotIncrements {
		if lot, exists := s.lots[lotID]; exists {
			lot.QtyAvailable = lot.QtyAvailable.Add(qty)
		}
	}
	s.returns[tx.ID] = append(s.returns[tx.ID], record)
	if customer != nil && pointsReverted > 0 {
		customer.LoyaltyPoints = domain.ApplyBalanceDelta(customer.LoyaltyPoints, pointsReverted, 0)
	}

	return &domain.ReturnResult{Return: record, PointsReverted: pointsReverted}, nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", store.ErrNotFound, id)
	}
	found := cloneTransaction(tx)
	return &found, nil
}

func cloneTransaction(tx *domain.Transaction) domain.Transaction {
	cloned := *tx
	cloned.Lines = append([]domain.TransactionLine(nil), tx.Lines...)
	return cloned
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(customer.Name) == "" {
		return nil, fmt.Errorf("%w: customer name is required", store.ErrValidation)
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.LoyaltyPoints < 0 {
		customer.LoyaltyPoints = 0
	}
	customer.CreatedAt = time.Now().UTC()
	stored := customer
	s.customers[customer.ID] = &stored
	created := stored
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, fmt.Errorf("%w: customer %s", store.ErrNotFound, id)
	}
	found := *customer
	return &found, nil
}

func (s *Store) FindCustomerByPhone(_ context.Context, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, customer := range s.customers {
		if customer.Phone == phone {
			found := *customer
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: customer with phone %s", store.ErrNotFound, phone)
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, *c)
	}
	sort.Slice(customers, func(i, j int) bool { return customers[i].Name < customers[j].Name })
	if limit > 0 && len(customers) > limit {
		customers = customers[:limit]
	}
	return customers, nil
}

func (s *Store) LowStockProducts(_ context.Context) ([]domain.LowStockProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	onHand := make(map[string]decimal.Decimal)
	for _, lot := range s.lots {
		onHand[lot.ProductID] = onHand[lot.ProductID].Add(lot.QtyAvailable)
	}

	var low []domain.LowStockProduct
	for id, product := range s.products {
		if !product.Active {
			continue
		}
		if onHand[id].LessThanOrEqual(product.MinStock) {
			low = append(low, domain.LowStockProduct{
				ProductID: id,
				Name:      product.Name,
				OnHand:    domain.RoundQty(onHand[id]),
				MinStock:  product.MinStock,
			})
		}
	}
	sort.Slice(low, func(i, j int) bool { return low[i].Name < low[j].Name })
	return low, nil
}

func (s *Store) ExpiringLots(_ context.Context, before time.Time) ([]domain.ExpiringLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expiring []domain.ExpiringLot
	for _, lot := range s.lots {
		if lot.ExpiryDate == nil || !lot.QtyAvailable.IsPositive() {
			continue
		}
		if lot.ExpiryDate.After(before) {
			continue
		}
		name := lot.ProductID
		if p, ok := s.products[lot.ProductID]; ok {
			name = p.Name
		}
		expiring = append(expiring, domain.ExpiringLot{
			LotID:        lot.ID,
			ProductID:    lot.ProductID,
			Name:         name,
			QtyAvailable: lot.QtyAvailable,
			ExpiryDate:   *lot.ExpiryDate,
		})
	}
	sort.Slice(expiring, func(i, j int) bool {
		if expiring[i].ExpiryDate.Equal(expiring[j].ExpiryDate) {
			return expiring[i].LotID < expiring[j].LotID
		}
		return expiring[i].ExpiryDate.Before(expiring[j].ExpiryDate)
	})
	return expiring, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	entry.CreatedAt = time.Now().UTC()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := append([]domain.AuditLog(nil), s.auditLogs...)
	sort.Slice(logs, func(i, j int) bool { return logs[i].CreatedAt.After(logs[j].CreatedAt) })
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("%w: username %s already exists", store.ErrValidation, user.Username)
	}
	if user.EmployeeID == "" {
		user.EmployeeID = xid.New("emp")
	}
	user.CreatedAt = time.Now().UTC()
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	user.Password = password
	s.users[username] = user
	return nil
}
