package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"martpos/backend/internal/domain"
	"martpos/backend/internal/store"
	"martpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo    store.Repository
	loyalty domain.LoyaltyConfig
}

func New(repo store.Repository, loyalty domain.LoyaltyConfig) *Service {
	return &Service{
		repo:    repo,
		loyalty: loyalty,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: product name is required", store.ErrValidation)
	}
	if req.Price.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: product price must not be negative", store.ErrValidation)
	}
	if req.MinStock.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: min stock must not be negative", store.ErrValidation)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:       req.Name,
		Barcode:    strings.TrimSpace(req.Barcode),
		Category:   strings.TrimSpace(req.Category),
		Price:      domain.RoundMoney(req.Price),
		Unit:       strings.TrimSpace(req.Unit),
		Perishable: req.Perishable,
		MinStock:   domain.RoundQty(req.MinStock),
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%s", created.Name, created.Price.String()))
	return *created, nil
}

func (s *Service) DeactivateProduct(ctx context.Context, id string) error {
	if err := s.repo.DeactivateProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "product_deactivate", "product", id, "")
	return nil
}

// ReceiveStock creates a new lot from a stock receipt. The expiry date is
// an optional YYYY-MM-DD string from the caller.
func (s *Service) ReceiveStock(ctx context.Context, req domain.ReceiveStockRequest) (domain.InventoryLot, error) {
	if req.ProductID == "" {
		return domain.InventoryLot{}, fmt.Errorf("%w: product id is required", store.ErrValidation)
	}
	if !req.Qty.IsPositive() {
		return domain.InventoryLot{}, fmt.Errorf("%w: receive quantity must be positive", store.ErrInvalidQuantity)
	}

	var expiry *time.Time
	if strings.TrimSpace(req.ExpiryDate) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(req.ExpiryDate))
		if err != nil {
			return domain.InventoryLot{}, fmt.Errorf("%w: expiry_date must be YYYY-MM-DD", store.ErrValidation)
		}
		parsed = parsed.UTC()
		expiry = &parsed
	}

	lot, err := s.repo.CreateInventoryLot(ctx, domain.InventoryLot{
		ProductID:   req.ProductID,
		QtyReceived: req.Qty,
		UnitCost:    req.UnitCost,
		ExpiryDate:  expiry,
		SourceType:  domain.LotSourceReceipt,
	})
	if err != nil {
		return domain.InventoryLot{}, err
	}

	s.logAudit(ctx, "stock_receive", "inventory_lot", lot.ID, fmt.Sprintf("product=%s,qty=%s", lot.ProductID, lot.QtyReceived.String()))
	return *lot, nil
}

func (s *Service) ListInventoryLots(ctx context.Context, productID string) ([]domain.InventoryLot, error) {
	if productID == "" {
		return nil, fmt.Errorf("%w: product id is required", store.ErrValidation)
	}
	return s.repo.ListInventoryLots(ctx, productID)
}

// AdjustStock writes off waste or shrinkage. It consumes lots in the same
// order a sale would, but records a standalone adjustment instead of a
// transaction line.
func (s *Service) AdjustStock(ctx context.Context, req domain.AdjustStockRequest) (domain.StockAdjustment, error) {
	if req.ProductID == "" {
		return domain.StockAdjustment{}, fmt.Errorf("%w: product id is required", store.ErrValidation)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return domain.StockAdjustment{}, fmt.Errorf("%w: adjustment reason is required", store.ErrValidation)
	}

	actorName := ""
	if actor, ok := ActorFromContext(ctx); ok {
		actorName = actor.Username
	}

	adj, err := s.repo.CreateStockAdjustment(ctx, domain.StockAdjustment{
		ProductID: req.ProductID,
		Qty:       req.Qty,
		Reason:    strings.TrimSpace(req.Reason),
		ActorName: actorName,
	})
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	s.logAudit(ctx, "stock_adjust", "product", req.ProductID, fmt.Sprintf("qty=%s,reason=%s", adj.Qty.String(), adj.Reason))
	return *adj, nil
}

// OpenShift opens a cash drawer for the acting employee. The employee id
// comes from the authenticated actor unless the request names one.
func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.Shift, error) {
	employeeID := req.EmployeeID
	if employeeID == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			employeeID = actor.EmployeeID
		}
	}
	if employeeID == "" {
		return domain.Shift{}, fmt.Errorf("%w: employee id is required", store.ErrValidation)
	}
	if req.StartCash.IsNegative() {
		return domain.Shift{}, fmt.Errorf("%w: start cash must not be negative", store.ErrValidation)
	}

	shift, err := s.repo.OpenShift(ctx, domain.Shift{
		EmployeeID: employeeID,
		StartCash:  req.StartCash,
	})
	if err != nil {
		return domain.Shift{}, err
	}

	s.logAudit(ctx, "shift_open", "shift", shift.ID, fmt.Sprintf("employee=%s,start_cash=%s", shift.EmployeeID, shift.StartCash.String()))
	return *shift, nil
}

func (s *Service) GetActiveShift(ctx context.Context, employeeID string) (domain.Shift, error) {
	if employeeID == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			employeeID = actor.EmployeeID
		}
	}
	if employeeID == "" {
		return domain.Shift{}, fmt.Errorf("%w: employee id is required", store.ErrValidation)
	}
	shift, err := s.repo.GetActiveShift(ctx, employeeID)
	if err != nil {
		return domain.Shift{}, err
	}
	return *shift, nil
}

func (s *Service) ComputeShiftTotals(ctx context.Context, shiftID string) (domain.ShiftTotals, error) {
	if shiftID == "" {
		return domain.ShiftTotals{}, fmt.Errorf("%w: shift id is required", store.ErrValidation)
	}
	totals, err := s.repo.ComputeShiftTotals(ctx, shiftID)
	if err != nil {
		return domain.ShiftTotals{}, err
	}
	return *totals, nil
}

func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftCloseSummary, error) {
	if req.ShiftID == "" {
		return domain.ShiftCloseSummary{}, fmt.Errorf("%w: shift id is required", store.ErrValidation)
	}
	if req.CountedCash.IsNegative() {
		return domain.ShiftCloseSummary{}, fmt.Errorf("%w: counted cash must not be negative", store.ErrValidation)
	}

	summary, err := s.repo.CloseShift(ctx, req.ShiftID, req.CountedCash, time.Now().UTC())
	if err != nil {
		return domain.ShiftCloseSummary{}, err
	}

	s.logAudit(ctx, "shift_close", "shift", req.ShiftID, fmt.Sprintf("expected=%s,counted=%s,variance=%s",
		summary.Totals.ExpectedCash.String(), summary.CountedCash.String(), summary.Variance.String()))
	return *summary, nil
}

// Checkout runs one sale or refund against the open shift: stock is
// allocated (or restocked for refunds), the transaction, lines and payment
// are persisted, and any loyalty redemption and accrual applied, all in a
// single atomic unit.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResult, error) {
	if req.ShiftID == "" {
		return domain.CheckoutResult{}, fmt.Errorf("%w: shift id is required", store.ErrValidation)
	}
	if len(req.Lines) == 0 {
		return domain.CheckoutResult{}, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}
	method, err := normalizePaymentMethod(req.PaymentMethod)
	if err != nil {
		return domain.CheckoutResult{}, err
	}
	for _, line := range req.Lines {
		if line.ProductID == "" {
			return domain.CheckoutResult{}, fmt.Errorf("%w: cart line is missing a product id", store.ErrValidation)
		}
		if line.UnitPrice.IsNegative() {
			return domain.CheckoutResult{}, fmt.Errorf("%w: unit price must not be negative", store.ErrValidation)
		}
	}
	if req.RedeemPoints < 0 {
		return domain.CheckoutResult{}, fmt.Errorf("%w: redeem points must not be negative", store.ErrValidation)
	}
	if req.RedeemPoints > 0 && req.CustomerID == "" {
		return domain.CheckoutResult{}, fmt.Errorf("%w: redeeming points requires a customer", store.ErrValidation)
	}

	result, err := s.repo.CreateCheckout(ctx, store.CheckoutParams{
		ShiftID:       req.ShiftID,
		CustomerID:    req.CustomerID,
		PaymentMethod: method,
		IsRefund:      req.IsRefund,
		Discount:      req.Discount,
		RedeemPoints:  req.RedeemPoints,
		Lines:         req.Lines,
		Loyalty:       s.loyalty,
	})
	if err != nil {
		return domain.CheckoutResult{}, err
	}

	s.logAudit(ctx, "checkout", "transaction", result.Transaction.ID, fmt.Sprintf("status=%s,total=%s,lines=%d",
		result.Transaction.Status, result.Transaction.Total.String(), len(result.Transaction.Lines)))
	return *result, nil
}

// ProcessReturn reverses part of a prior sale: it validates the remaining
// returnable quantity per line, refunds proportionally to the recorded
// line totals, restocks the lots the sale consumed, and claws back
// loyalty points earned on the refunded amount.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResult, error) {
	if req.TransactionID == "" {
		return domain.ReturnResult{}, fmt.Errorf("%w: transaction id is required", store.ErrValidation)
	}
	if len(req.Lines) == 0 {
		return domain.ReturnResult{}, fmt.Errorf("%w: no return lines", store.ErrValidation)
	}
	for _, line := range req.Lines {
		if line.LineID == "" {
			return domain.ReturnResult{}, fmt.Errorf("%w: return line is missing a line id", store.ErrValidation)
		}
	}

	result, err := s.repo.CreateReturn(ctx, store.ReturnParams{
		TransactionID: req.TransactionID,
		Reason:        req.Reason,
		Lines:         req.Lines,
		Loyalty:       s.loyalty,
	})
	if err != nil {
		return domain.ReturnResult{}, err
	}

	s.logAudit(ctx, "return", "transaction", req.TransactionID, fmt.Sprintf("refund=%s,lines=%d",
		result.Return.RefundTotal.String(), len(result.Return.Lines)))
	return *result, nil
}

func (s *Service) FindTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	if id == "" {
		return domain.Transaction{}, fmt.Errorf("%w: transaction id is required", store.ErrValidation)
	}
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name is required", store.ErrValidation)
	}
	customer, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:  req.Name,
		Phone: strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", customer.ID, customer.Name)
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, limit)
}

func (s *Service) FindCustomerByPhone(ctx context.Context, phone string) (domain.Customer, error) {
	if strings.TrimSpace(phone) == "" {
		return domain.Customer{}, fmt.Errorf("%w: phone is required", store.ErrValidation)
	}
	customer, err := s.repo.FindCustomerByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) GetLoyaltyBalance(ctx context.Context, customerID string) (domain.LoyaltyBalance, error) {
	if customerID == "" {
		return domain.LoyaltyBalance{}, fmt.Errorf("%w: customer id is required", store.ErrValidation)
	}
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.LoyaltyBalance{}, err
	}
	return domain.LoyaltyBalance{
		CustomerID:    customer.ID,
		LoyaltyPoints: customer.LoyaltyPoints,
	}, nil
}

// MaxRedeemableDiscount answers how much of a given total the customer's
// balance could cover, and the points that would be consumed doing so.
func (s *Service) MaxRedeemableDiscount(ctx context.Context, customerID string, total decimal.Decimal) (domain.RedeemableDiscount, error) {
	if customerID == "" {
		return domain.RedeemableDiscount{}, fmt.Errorf("%w: customer id is required", store.ErrValidation)
	}
	if total.IsNegative() {
		return domain.RedeemableDiscount{}, fmt.Errorf("%w: total must not be negative", store.ErrValidation)
	}
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.RedeemableDiscount{}, err
	}

	discount, pointsUsed := s.loyalty.Redemption(customer.LoyaltyPoints, total)
	return domain.RedeemableDiscount{
		CustomerID:  customer.ID,
		Total:       domain.RoundMoney(total),
		Discount:    discount,
		PointsToUse: pointsUsed,
	}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, limit)
}

func normalizePaymentMethod(method string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case domain.PaymentCash:
		return domain.PaymentCash, nil
	case domain.PaymentCard:
		return domain.PaymentCard, nil
	case domain.PaymentOnline:
		return domain.PaymentOnline, nil
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, method)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("aud"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s: %v", action, err)
	}
}
