package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Barcode    string          `json:"barcode,omitempty"`
	Category   string          `json:"category,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Unit       string          `json:"unit"`
	Perishable bool            `json:"perishable"`
	MinStock   decimal.Decimal `json:"min_stock"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	Name       string          `json:"name"`
	Barcode    string          `json:"barcode,omitempty"`
	Category   string          `json:"category,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Unit       string          `json:"unit"`
	Perishable bool            `json:"perishable"`
	MinStock   decimal.Decimal `json:"min_stock"`
}

// InventoryLot is a dated quantity of one product acquired together.
// QtyAvailable only decreases on allocation and increases on restock;
// lots are never deleted.
type InventoryLot struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	QtyReceived  decimal.Decimal `json:"qty_received"`
	QtyAvailable decimal.Decimal `json:"qty_available"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
	SourceType   string          `json:"source_type"`
	SourceID     string          `json:"source_id,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// LotAllocation records how much of one lot a single sale line consumed.
type LotAllocation struct {
	LotID    string          `json:"lot_id"`
	Qty      decimal.Decimal `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type ReceiveStockRequest struct {
	ProductID  string          `json:"product_id"`
	Qty        decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	ExpiryDate string          `json:"expiry_date,omitempty"`
}

type AdjustStockRequest struct {
	ProductID string          `json:"product_id"`
	Qty       decimal.Decimal `json:"qty"`
	Reason    string          `json:"reason"`
}

type StockAdjustment struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Qty       decimal.Decimal `json:"qty"`
	Reason    string          `json:"reason"`
	ActorName string          `json:"actor_name,omitempty"`
	Lots      []LotAllocation `json:"lots"`
	CreatedAt time.Time       `json:"created_at"`
}

type Shift struct {
	ID           string           `json:"id"`
	EmployeeID   string           `json:"employee_id"`
	Status       string           `json:"status"`
	StartCash    decimal.Decimal  `json:"start_cash"`
	ExpectedCash *decimal.Decimal `json:"expected_cash,omitempty"`
	CountedCash  *decimal.Decimal `json:"counted_cash,omitempty"`
	Variance     *decimal.Decimal `json:"variance,omitempty"`
	OpenedAt     time.Time        `json:"opened_at"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty"`
}

type ShiftOpenRequest struct {
	EmployeeID string          `json:"employee_id"`
	StartCash  decimal.Decimal `json:"start_cash"`
}

type ShiftCloseRequest struct {
	ShiftID     string          `json:"shift_id"`
	CountedCash decimal.Decimal `json:"counted_cash"`
}

type ShiftSoldItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Qty       decimal.Decimal `json:"qty"`
	Amount    decimal.Decimal `json:"amount"`
}

// ShiftTotals is the reconciliation view of one shift. Sales and refunds are
// accumulated sign-separated per payment method, never netted in place.
type ShiftTotals struct {
	ShiftID       string          `json:"shift_id"`
	StartCash     decimal.Decimal `json:"start_cash"`
	CashSales     decimal.Decimal `json:"cash_sales"`
	CashRefunds   decimal.Decimal `json:"cash_refunds"`
	CardSales     decimal.Decimal `json:"card_sales"`
	CardRefunds   decimal.Decimal `json:"card_refunds"`
	OnlineSales   decimal.Decimal `json:"online_sales"`
	OnlineRefunds decimal.Decimal `json:"online_refunds"`
	ExpectedCash  decimal.Decimal `json:"expected_cash"`
	SoldItems     []ShiftSoldItem `json:"sold_items"`
}

type ShiftCloseSummary struct {
	Shift       Shift           `json:"shift"`
	Totals      ShiftTotals     `json:"totals"`
	CountedCash decimal.Decimal `json:"counted_cash"`
	Variance    decimal.Decimal `json:"variance"`
}

type CartLine struct {
	ProductID string          `json:"product_id"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CheckoutRequest struct {
	ShiftID       string          `json:"shift_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	PaymentMethod string          `json:"payment_method"`
	IsRefund      bool            `json:"is_refund"`
	Discount      decimal.Decimal `json:"discount"`
	RedeemPoints  int64           `json:"redeem_points"`
	Lines         []CartLine      `json:"lines"`
}

type CheckoutResult struct {
	Transaction     Transaction     `json:"transaction"`
	PointsSpent     int64           `json:"points_spent"`
	PointsEarned    int64           `json:"points_earned"`
	LoyaltyDiscount decimal.Decimal `json:"loyalty_discount"`
}

// TransactionLine carries a signed quantity: negative for refund lines.
// LotID is set when the line was filled from a known lot.
type TransactionLine struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	LotID     string          `json:"lot_id,omitempty"`
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Payment struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// Transaction totals are always recomputed from lines, never accepted from
// the caller. Total is signed: negative for refunds.
type Transaction struct {
	ID         string            `json:"id"`
	ShiftID    string            `json:"shift_id"`
	CustomerID string            `json:"customer_id,omitempty"`
	Subtotal   decimal.Decimal   `json:"subtotal"`
	Discount   decimal.Decimal   `json:"discount"`
	Total      decimal.Decimal   `json:"total"`
	Status     string            `json:"status"`
	Lines      []TransactionLine `json:"lines"`
	Payment    Payment           `json:"payment"`
	CreatedAt  time.Time         `json:"created_at"`
}

type Customer struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone,omitempty"`
	LoyaltyPoints int64     `json:"loyalty_points"`
	CreatedAt     time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type LoyaltyBalance struct {
	CustomerID    string `json:"customer_id"`
	LoyaltyPoints int64  `json:"loyalty_points"`
}

type RedeemableDiscount struct {
	CustomerID  string          `json:"customer_id"`
	Total       decimal.Decimal `json:"total"`
	Discount    decimal.Decimal `json:"discount"`
	PointsToUse int64           `json:"points_to_use"`
}

type ReturnLineRequest struct {
	LineID string          `json:"line_id"`
	Qty    decimal.Decimal `json:"qty"`
	Reason string          `json:"reason,omitempty"`
}

type ReturnRequest struct {
	TransactionID string              `json:"transaction_id"`
	Reason        string              `json:"reason,omitempty"`
	Lines         []ReturnLineRequest `json:"lines"`
}

type ReturnLine struct {
	ID           string          `json:"id"`
	LineID       string          `json:"line_id"`
	Qty          decimal.Decimal `json:"qty"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

type ReturnRecord struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	RefundTotal   decimal.Decimal `json:"refund_total"`
	Reason        string          `json:"reason"`
	Lines         []ReturnLine    `json:"lines"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ReturnResult struct {
	Return         ReturnRecord `json:"return"`
	PointsReverted int64        `json:"points_reverted"`
}

type LowStockProduct struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	OnHand    decimal.Decimal `json:"on_hand"`
	MinStock  decimal.Decimal `json:"min_stock"`
}

type ExpiringLot struct {
	LotID        string          `json:"lot_id"`
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	QtyAvailable decimal.Decimal `json:"qty_available"`
	ExpiryDate   time.Time       `json:"expiry_date"`
}

type StockReport struct {
	GeneratedAt  string            `json:"generated_at"`
	WindowDays   int               `json:"window_days"`
	LowStock     []LowStockProduct `json:"low_stock"`
	ExpiringLots []ExpiringLot     `json:"expiring_lots"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	EmployeeID  string `json:"employee_id"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	EmployeeID string
	Username   string
	Role       string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	EmployeeID string
	Username   string
	Password   string
	Role       string
	Active     bool
	CreatedAt  time.Time
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	EmployeeID string    `json:"employee_id"`
	Username   string    `json:"username"`
	Role       string    `json:"role"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	TxStatusPaid   = "paid"
	TxStatusRefund = "refund"
	TxStatusVoided = "voided"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

const (
	PaymentCash   = "cash"
	PaymentCard   = "card"
	PaymentOnline = "online"
)

const (
	LotSourceReceipt = "receipt"
	LotSourceRefund  = "refund"
	LotSourceReturn  = "return"
)
