// Package pricing resolves what one row unit of an item costs and how many
// base units it stands for.
package pricing

import (
	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/domain"
)

// Quote is the resolved price of one row unit in a given selling mode.
type Quote struct {
	Mode         domain.SellingMode
	UnitPrice    decimal.Decimal
	UnitCost     decimal.Decimal
	UnitsPerPack int
}

// BaseUnits is how many base units one row unit of the quote represents.
func (q Quote) BaseUnits() int {
	if q.Mode == domain.SellingModePack {
		return q.UnitsPerPack
	}
	return 1
}

// UnitsPerPack never returns less than 1.
func UnitsPerPack(item domain.Item) int {
	if item.UnitsPerPack < 1 {
		return 1
	}
	return item.UnitsPerPack
}

// ModeFor is the default selling mode for an item.
func ModeFor(item domain.Item) domain.SellingMode {
	if item.SellingType == domain.SellingModePack {
		return domain.SellingModePack
	}
	return domain.SellingModeUnit
}

func Resolve(item domain.Item, mode domain.SellingMode) Quote {
	if mode != domain.SellingModePack {
		mode = domain.SellingModeUnit
	}
	upp := UnitsPerPack(item)
	unitPrice := nonNegative(item.SellingPrice)
	unitCost := nonNegative(item.PurchasePrice)

	if mode == domain.SellingModePack {
		packs := decimal.NewFromInt(int64(upp))
		if item.PricePerPack.Valid {
			unitPrice = nonNegative(item.PricePerPack.Decimal)
		} else {
			unitPrice = unitPrice.Mul(packs)
		}
		unitCost = unitCost.Mul(packs)
	}

	return Quote{
		Mode:         mode,
		UnitPrice:    unitPrice,
		UnitCost:     unitCost,
		UnitsPerPack: upp,
	}
}

// MaxBaseUnits is the largest base-unit count one row may stand for. It is
// also the ceiling of the stock and quantity columns.
const MaxBaseUnits = domain.MaxBaseUnits

// CheckedBaseUnits converts qty row units to base units. ok is false when
// qty is negative or the result would exceed MaxBaseUnits.
func CheckedBaseUnits(item domain.Item, mode domain.SellingMode, qty int) (units int, ok bool) {
	if qty < 0 {
		return 0, false
	}
	per := 1
	if mode == domain.SellingModePack {
		per = UnitsPerPack(item)
	}
	if qty > MaxBaseUnits/per {
		return 0, false
	}
	return qty * per, true
}

// ToBaseUnits is CheckedBaseUnits for display paths: out-of-range results
// saturate at MaxBaseUnits and negatives read as zero.
func ToBaseUnits(item domain.Item, mode domain.SellingMode, qty int) int {
	if qty < 0 {
		return 0
	}
	units, ok := CheckedBaseUnits(item, mode, qty)
	if !ok {
		return MaxBaseUnits
	}
	return units
}

// Split breaks a base-unit count into whole packs and loose units.
func Split(baseUnits int, unitsPerPack int) (packs int, loose int) {
	if unitsPerPack < 1 {
		unitsPerPack = 1
	}
	if baseUnits < 0 {
		baseUnits = 0
	}
	return baseUnits / unitsPerPack, baseUnits % unitsPerPack
}

func nonNegative(value decimal.Decimal) decimal.Decimal {
	if value.IsNegative() {
		return decimal.Zero
	}
	return value
}
