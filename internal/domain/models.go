package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// MaxBaseUnits caps stock counts and the base units one line can move; it
// matches the INTEGER stock and quantity columns.
const MaxBaseUnits = math.MaxInt32

type ItemType string

const (
	ItemTypeMedicine ItemType = "medicine"
	ItemTypeCosmetic ItemType = "cosmetic"
)

func (t ItemType) Valid() bool {
	return t == ItemTypeMedicine || t == ItemTypeCosmetic
}

type SellingMode string

const (
	SellingModeUnit SellingMode = "unit"
	SellingModePack SellingMode = "pack"
)

// Item is a sellable catalog entry. Quantity is the authoritative stock in
// base units; prices are per base unit unless stated otherwise.
type Item struct {
	Type          ItemType            `json:"type" db:"item_type"`
	ID            int64               `json:"id" db:"id"`
	ShopID        string              `json:"shop_id" db:"shop_id"`
	Name          string              `json:"name" db:"name"`
	BatchNo       string              `json:"batch_no" db:"batch_no"`
	Quantity      int                 `json:"quantity" db:"quantity"`
	SellingPrice  decimal.Decimal     `json:"selling_price" db:"selling_price"`
	PurchasePrice decimal.Decimal     `json:"purchase_price" db:"purchase_price"`
	SellingType   SellingMode         `json:"selling_type,omitempty" db:"selling_type"`
	UnitsPerPack  int                 `json:"units_per_pack,omitempty" db:"units_per_pack"`
	PricePerPack  decimal.NullDecimal `json:"price_per_pack" db:"price_per_pack"`
	ExpiryDate    *time.Time          `json:"expiry_date,omitempty" db:"expiry_date"`
	Refrigerated  bool                `json:"refrigerated" db:"refrigerated"`
}

type Salesman struct {
	ID     int64  `json:"id" db:"id"`
	ShopID string `json:"shop_id" db:"shop_id"`
	Name   string `json:"name" db:"name"`
	Active bool   `json:"active" db:"active"`
}

type Customer struct {
	ID             int64           `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	Phone          string          `json:"phone" db:"phone"`
	LoyaltyPoints  int64           `json:"loyalty_points" db:"loyalty_points"`
	TotalPurchases int             `json:"total_purchases" db:"total_purchases"`
	TotalSpent     decimal.Decimal `json:"total_spent" db:"total_spent"`
}

type SaleReturnStatus string

const (
	SaleReturnNone    SaleReturnStatus = "none"
	SaleReturnPartial SaleReturnStatus = "partial"
	SaleReturnFull    SaleReturnStatus = "full"
)

type ItemReturnStatus string

const (
	ItemReturnNone     ItemReturnStatus = "none"
	ItemReturnReturned ItemReturnStatus = "returned"
)

type ReturnType string

const (
	ReturnTypeReturn  ReturnType = "return"
	ReturnTypeReplace ReturnType = "replace"
)

func (t ReturnType) Valid() bool {
	return t == ReturnTypeReturn || t == ReturnTypeReplace
}

type Sale struct {
	ID                 string           `json:"id" db:"id"`
	ShopID             string           `json:"shop_id" db:"shop_id"`
	IdempotencyKey     string           `json:"idempotency_key,omitempty" db:"idempotency_key"`
	SalesmanID         int64            `json:"salesman_id" db:"salesman_id"`
	SalesmanName       string           `json:"salesman_name" db:"salesman_name"`
	CustomerID         *int64           `json:"customer_id,omitempty" db:"customer_id"`
	SaleDate           time.Time        `json:"sale_date" db:"sale_date"`
	Subtotal           decimal.Decimal  `json:"subtotal" db:"subtotal"`
	DiscountPercentage decimal.Decimal  `json:"discount_percentage" db:"discount_percentage"`
	DiscountAmount     decimal.Decimal  `json:"discount_amount" db:"discount_amount"`
	Tax                decimal.Decimal  `json:"tax" db:"tax"`
	TotalAmount        decimal.Decimal  `json:"total_amount" db:"total_amount"`
	TotalProfit        decimal.Decimal  `json:"total_profit" db:"total_profit"`
	LoyaltyPoints      int64            `json:"loyalty_points_earned" db:"loyalty_points_earned"`
	ReturnStatus       SaleReturnStatus `json:"return_status" db:"return_status"`
	ReturnDate         *time.Time       `json:"return_date,omitempty" db:"return_date"`
	ReturnReason       string           `json:"return_reason,omitempty" db:"return_reason"`
	ReturnProcessedBy  string           `json:"return_processed_by,omitempty" db:"return_processed_by"`
	Items              []SaleItem       `json:"items" db:"-"`
}

type SaleItem struct {
	ID             string           `json:"id" db:"id"`
	SaleID         string           `json:"sale_id" db:"sale_id"`
	ItemType       ItemType         `json:"item_type" db:"item_type"`
	ItemID         int64            `json:"item_id" db:"item_id"`
	ItemName       string           `json:"item_name" db:"item_name"`
	BatchNo        string           `json:"batch_no" db:"batch_no"`
	SellingMode    SellingMode      `json:"selling_mode" db:"selling_mode"`
	Quantity       int              `json:"quantity" db:"quantity"`
	UnitPrice      decimal.Decimal  `json:"unit_price" db:"unit_price"`
	TotalPrice     decimal.Decimal  `json:"total_price" db:"total_price"`
	Profit         decimal.Decimal  `json:"profit" db:"profit"`
	UnitsPerPack   int              `json:"units_per_pack" db:"units_per_pack"`
	TotalBaseUnits int              `json:"total_base_units" db:"total_base_units"`
	TotalPacks     int              `json:"total_packs" db:"total_packs"`
	Refrigerated   bool             `json:"refrigerated" db:"refrigerated"`
	ReturnStatus   ItemReturnStatus `json:"return_status" db:"return_status"`
	ReturnQuantity int              `json:"return_quantity" db:"return_quantity"`
	ReturnDate     *time.Time       `json:"return_date,omitempty" db:"return_date"`
}

// BaseUnitsPerRowUnit is how many base units one unit of Quantity stands for.
func (si SaleItem) BaseUnitsPerRowUnit() int {
	if si.SellingMode == SellingModePack && si.UnitsPerPack > 0 {
		return si.UnitsPerPack
	}
	return 1
}

// BaseUnitsFor converts qty row units of this line to base units. ok is
// false when the result would not fit in MaxBaseUnits.
func (si SaleItem) BaseUnitsFor(qty int) (units int, ok bool) {
	per := si.BaseUnitsPerRowUnit()
	if qty < 0 || qty > MaxBaseUnits/per {
		return 0, false
	}
	return qty * per, true
}

func (si SaleItem) RemainingReturnable() int {
	remaining := si.Quantity - si.ReturnQuantity
	if remaining < 0 {
		return 0
	}
	return remaining
}

type Return struct {
	ID           string          `json:"id" db:"id"`
	SaleID       string          `json:"sale_id" db:"sale_id"`
	SaleItemID   string          `json:"sale_item_id" db:"sale_item_id"`
	ReturnType   ReturnType      `json:"return_type" db:"return_type"`
	Quantity     int             `json:"quantity" db:"quantity"`
	RefundAmount decimal.Decimal `json:"refund_amount" db:"refund_amount"`
	Reason       string          `json:"reason" db:"reason"`
	ProcessedBy  string          `json:"processed_by" db:"processed_by"`
	ProcessedAt  time.Time       `json:"processed_at" db:"processed_at"`
}

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string    `db:"username"`
	Password  string    `db:"password_hash"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id" db:"id"`
	ShopID        string    `json:"shop_id" db:"shop_id"`
	ActorUsername string    `json:"actor_username" db:"actor_username"`
	ActorRole     string    `json:"actor_role" db:"actor_role"`
	Action        string    `json:"action" db:"action"`
	EntityType    string    `json:"entity_type" db:"entity_type"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	Detail        string    `json:"detail" db:"detail"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
