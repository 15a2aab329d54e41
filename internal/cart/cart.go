// Package cart is the editable draft of a sale. Rows are either placeholders
// waiting for an item or rows bound to a catalog item; only bound rows take
// part in totals and commits.
package cart

import (
	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/pricing"
)

var hundred = decimal.NewFromInt(100)

type Row interface {
	isRow()
}

type EmptyRow struct{}

func (EmptyRow) isRow() {}

// BoundRow is a row keyed to one item. Quantity is counted in the row's
// selling mode (packs or base units); prices are per row unit.
type BoundRow struct {
	Item       domain.Item
	Mode       domain.SellingMode
	Quantity   int
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
	UnitCost   decimal.Decimal
}

func (BoundRow) isRow() {}

func (r BoundRow) Profit() decimal.Decimal {
	return r.UnitPrice.Sub(r.UnitCost).Mul(decimal.NewFromInt(int64(r.Quantity)))
}

func (r BoundRow) BaseUnits() int {
	return pricing.ToBaseUnits(r.Item, r.Mode, r.Quantity)
}

// ExpectedTotal is quantity × unit price, the value TotalPrice must match.
func (r BoundRow) ExpectedTotal() decimal.Decimal {
	return r.UnitPrice.Mul(decimal.NewFromInt(int64(r.Quantity)))
}

type Cart struct {
	rows []Row
}

// New returns a cart with a single placeholder row, ready for entry.
func New() *Cart {
	return &Cart{rows: []Row{EmptyRow{}}}
}

func (c *Cart) Len() int {
	return len(c.rows)
}

func (c *Cart) Row(index int) (Row, bool) {
	if index < 0 || index >= len(c.rows) {
		return nil, false
	}
	return c.rows[index], true
}

// AddRow appends a placeholder and returns its index.
func (c *Cart) AddRow() int {
	c.rows = append(c.rows, EmptyRow{})
	return len(c.rows) - 1
}

func (c *Cart) RemoveRow(index int) bool {
	if index < 0 || index >= len(c.rows) {
		return false
	}
	c.rows = append(c.rows[:index], c.rows[index+1:]...)
	return true
}

// SetLineItem binds a row to an item, resetting quantity to 1 at the
// resolved price for mode.
func (c *Cart) SetLineItem(index int, item domain.Item, mode domain.SellingMode) bool {
	if index < 0 || index >= len(c.rows) {
		return false
	}
	quote := pricing.Resolve(item, mode)
	c.rows[index] = BoundRow{
		Item:       item,
		Mode:       quote.Mode,
		Quantity:   1,
		UnitPrice:  quote.UnitPrice,
		TotalPrice: quote.UnitPrice,
		UnitCost:   quote.UnitCost,
	}
	return true
}

// SetQuantity ignores quantities below 1 and placeholder rows.
func (c *Cart) SetQuantity(index int, qty int) bool {
	row, ok := c.bound(index)
	if !ok || qty < 1 {
		return false
	}
	row.Quantity = qty
	row.TotalPrice = row.ExpectedTotal()
	c.rows[index] = row
	return true
}

func (c *Cart) SetUnitPrice(index int, rate decimal.Decimal) bool {
	row, ok := c.bound(index)
	if !ok || rate.IsNegative() {
		return false
	}
	row.UnitPrice = rate
	row.TotalPrice = row.ExpectedTotal()
	c.rows[index] = row
	return true
}

// SetTotalPrice keeps the given total and derives the unit price from it.
func (c *Cart) SetTotalPrice(index int, total decimal.Decimal) bool {
	row, ok := c.bound(index)
	if !ok || total.IsNegative() || row.Quantity < 1 {
		return false
	}
	row.TotalPrice = total
	row.UnitPrice = total.Div(decimal.NewFromInt(int64(row.Quantity)))
	c.rows[index] = row
	return true
}

// Restore places a row exactly as it was edited elsewhere, without
// recomputing any derived field.
func (c *Cart) Restore(index int, row BoundRow) bool {
	if index < 0 || index >= len(c.rows) {
		return false
	}
	c.rows[index] = row
	return true
}

// Bound lists bound rows in order, skipping placeholders.
func (c *Cart) Bound() []BoundRow {
	out := make([]BoundRow, 0, len(c.rows))
	for _, row := range c.rows {
		if bound, ok := row.(BoundRow); ok {
			out = append(out, bound)
		}
	}
	return out
}

func (c *Cart) Totals(discountPercentage decimal.Decimal, tax decimal.Decimal) domain.CartTotals {
	subtotal := decimal.Zero
	profit := decimal.Zero
	for _, row := range c.Bound() {
		subtotal = subtotal.Add(row.TotalPrice)
		profit = profit.Add(row.Profit())
	}
	discount := subtotal.Mul(discountPercentage).Div(hundred).Round(2)

	return domain.CartTotals{
		Subtotal:           subtotal,
		DiscountPercentage: discountPercentage,
		DiscountAmount:     discount,
		Tax:                tax,
		Total:              subtotal.Sub(discount).Add(tax),
		Profit:             profit,
	}
}

// ShortfallAgainst reports how many base units the row needs beyond
// liveStock. Zero means the row fits.
func (c *Cart) ShortfallAgainst(index int, liveStock int) int {
	row, ok := c.bound(index)
	if !ok {
		return 0
	}
	need := row.BaseUnits()
	if need <= liveStock {
		return 0
	}
	return need - liveStock
}

func (c *Cart) bound(index int) (BoundRow, bool) {
	if index < 0 || index >= len(c.rows) {
		return BoundRow{}, false
	}
	row, ok := c.rows[index].(BoundRow)
	return row, ok
}
