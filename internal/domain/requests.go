package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is a draft row as edited at the terminal. Rows without an item
// reference are placeholders and are ignored.
type CartLine struct {
	ItemType   ItemType         `json:"item_type"`
	ItemID     int64            `json:"item_id"`
	Mode       SellingMode      `json:"mode,omitempty"`
	Quantity   int              `json:"quantity" validate:"max=100000"`
	UnitPrice  *decimal.Decimal `json:"unit_price,omitempty"`
	TotalPrice *decimal.Decimal `json:"total_price,omitempty"`
}

func (l CartLine) Bound() bool {
	return l.ItemType != "" && l.ItemID > 0
}

type CartQuoteRequest struct {
	Lines              []CartLine      `json:"lines" validate:"max=200,dive"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	Tax                decimal.Decimal `json:"tax"`
}

type CartQuoteLine struct {
	ItemType      ItemType        `json:"item_type"`
	ItemID        int64           `json:"item_id"`
	ItemName      string          `json:"item_name"`
	Mode          SellingMode     `json:"mode"`
	Quantity      int             `json:"quantity"`
	BaseUnits     int             `json:"base_units"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	Profit        decimal.Decimal `json:"profit"`
	StockShortBy  int             `json:"stock_short_by,omitempty"`
	LiveStock     int             `json:"live_stock"`
	Refrigerated  bool            `json:"refrigerated"`
	UnitsPerPack  int             `json:"units_per_pack"`
	PackQuantity  int             `json:"pack_quantity"`
	LooseQuantity int             `json:"loose_quantity"`
}

type CartTotals struct {
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	Tax                decimal.Decimal `json:"tax"`
	Total              decimal.Decimal `json:"total"`
	Profit             decimal.Decimal `json:"profit"`
}

type CartQuoteResponse struct {
	Lines  []CartQuoteLine `json:"lines"`
	Totals CartTotals      `json:"totals"`
}

type SaleCommitRequest struct {
	IdempotencyKey     string          `json:"idempotency_key" validate:"max=128"`
	SalesmanID         int64           `json:"salesman_id"`
	CustomerID         *int64          `json:"customer_id,omitempty"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	Tax                decimal.Decimal `json:"tax"`
	Lines              []CartLine      `json:"lines" validate:"max=200,dive"`
}

type SaleCommitResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type ReturnSelection struct {
	SaleItemID string     `json:"sale_item_id" validate:"required,max=64"`
	Quantity   int        `json:"quantity" validate:"max=100000"`
	ReturnType ReturnType `json:"return_type"`
}

type ReturnRequest struct {
	SaleID      string            `json:"-"`
	Selections  []ReturnSelection `json:"selections" validate:"max=100,dive"`
	Reason      string            `json:"reason" validate:"max=500"`
	ManagerPIN  string            `json:"manager_pin" validate:"required"`
	ProcessedBy string            `json:"-"`
}

type ReturnResult struct {
	Sale        Sale            `json:"sale"`
	Returns     []Return        `json:"returns"`
	RefundTotal decimal.Decimal `json:"refund_total"`
}

type SaleItemEligibility struct {
	SaleItem   SaleItem `json:"sale_item"`
	Remaining  int      `json:"remaining"`
	Selectable bool     `json:"selectable"`
	Reason     string   `json:"reason,omitempty"`
}

type SaleLookup struct {
	Sale       Sale                  `json:"sale"`
	Returnable bool                  `json:"returnable"`
	ExpiresAt  time.Time             `json:"return_window_ends_at"`
	Items      []SaleItemEligibility `json:"items"`
}

type SaleLookupResponse struct {
	Sales []SaleLookup `json:"sales"`
}

type StockAdjustRequest struct {
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes" validate:"max=500"`
}

type CashierCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
