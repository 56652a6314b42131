package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"martpos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("invalid input")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInsufficientPoints = errors.New("insufficient loyalty points")
	ErrShiftAlreadyOpen   = errors.New("shift already open")
	ErrShiftNotOpen       = errors.New("shift not open")
	ErrShiftClosed        = errors.New("shift already closed")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrOverReturn         = errors.New("return exceeds remaining quantity")
	ErrTransactionVoided  = errors.New("transaction voided")
)

// CheckoutParams carries everything one checkout needs. The repository
// executes the full flow in a single atomic unit: recompute totals from
// the lines, verify the shift is open, allocate stock lot by lot (or
// restock for refund lines), persist transaction/lines/payment, and apply
// the loyalty delta.
type CheckoutParams struct {
	ShiftID       string
	CustomerID    string
	PaymentMethod string
	IsRefund      bool
	Discount      decimal.Decimal
	RedeemPoints  int64
	Lines         []domain.CartLine
	Loyalty       domain.LoyaltyConfig
}

// ReturnParams describes a partial or full reversal of a prior sale.
type ReturnParams struct {
	TransactionID string
	Reason        string
	Lines         []domain.ReturnLineRequest
	Loyalty       domain.LoyaltyConfig
}

type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	DeactivateProduct(ctx context.Context, id string) error

	CreateInventoryLot(ctx context.Context, lot domain.InventoryLot) (*domain.InventoryLot, error)
	ListInventoryLots(ctx context.Context, productID string) ([]domain.InventoryLot, error)
	CreateStockAdjustment(ctx context.Context, adj domain.StockAdjustment) (*domain.StockAdjustment, error)

	OpenShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, employeeID string) (*domain.Shift, error)
	ComputeShiftTotals(ctx context.Context, shiftID string) (*domain.ShiftTotals, error)
	CloseShift(ctx context.Context, shiftID string, countedCash decimal.Decimal, closedAt time.Time) (*domain.ShiftCloseSummary, error)

	CreateCheckout(ctx context.Context, params CheckoutParams) (*domain.CheckoutResult, error)
	CreateReturn(ctx context.Context, params ReturnParams) (*domain.ReturnResult, error)
	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error)

	LowStockProducts(ctx context.Context) ([]domain.LowStockProduct, error)
	ExpiringLots(ctx context.Context, before time.Time) ([]domain.ExpiringLot, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
