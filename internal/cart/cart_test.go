package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/backend/internal/domain"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func cough() domain.Item {
	return domain.Item{
		Type:          domain.ItemTypeMedicine,
		ID:            7,
		Name:          "Cough Syrup",
		Quantity:      20,
		SellingPrice:  dec("10"),
		PurchasePrice: dec("6"),
	}
}

func strips() domain.Item {
	return domain.Item{
		Type:          domain.ItemTypeMedicine,
		ID:            8,
		Name:          "Ibuprofen strip",
		Quantity:      95,
		SellingPrice:  dec("1.5"),
		PurchasePrice: dec("1"),
		SellingType:   domain.SellingModePack,
		UnitsPerPack:  10,
		PricePerPack:  decimal.NewNullDecimal(dec("14")),
	}
}

func TestSetLineItemResetsQuantityAndPrice(t *testing.T) {
	c := New()
	require.True(t, c.SetLineItem(0, cough(), domain.SellingModeUnit))

	row, ok := c.Row(0)
	require.True(t, ok)
	bound := row.(BoundRow)
	assert.Equal(t, 1, bound.Quantity)
	assert.True(t, bound.TotalPrice.Equal(dec("10")))
	assert.True(t, bound.Profit().Equal(dec("4")))
}

func TestSetQuantityRecomputesTotalAndProfit(t *testing.T) {
	c := New()
	c.SetLineItem(0, cough(), domain.SellingModeUnit)

	require.True(t, c.SetQuantity(0, 5))
	bound := c.Bound()[0]
	assert.True(t, bound.TotalPrice.Equal(dec("50")))
	assert.True(t, bound.Profit().Equal(dec("20")))
}

func TestSetQuantityBelowOneIsNoop(t *testing.T) {
	c := New()
	c.SetLineItem(0, cough(), domain.SellingModeUnit)
	c.SetQuantity(0, 3)

	assert.False(t, c.SetQuantity(0, 0))
	assert.False(t, c.SetQuantity(0, -2))
	assert.Equal(t, 3, c.Bound()[0].Quantity)
}

func TestEditsOnPlaceholderRowsAreIgnored(t *testing.T) {
	c := New()

	assert.False(t, c.SetQuantity(0, 2))
	assert.False(t, c.SetUnitPrice(0, dec("4")))
	assert.False(t, c.SetTotalPrice(0, dec("4")))
	assert.False(t, c.SetQuantity(9, 2))
	assert.Empty(t, c.Bound())
}

func TestSetUnitPriceRejectsNegative(t *testing.T) {
	c := New()
	c.SetLineItem(0, cough(), domain.SellingModeUnit)
	c.SetQuantity(0, 2)

	assert.False(t, c.SetUnitPrice(0, dec("-1")))
	require.True(t, c.SetUnitPrice(0, dec("12.5")))
	assert.True(t, c.Bound()[0].TotalPrice.Equal(dec("25")))
}

func TestSetTotalPriceBackComputesUnitPrice(t *testing.T) {
	c := New()
	c.SetLineItem(0, cough(), domain.SellingModeUnit)
	c.SetQuantity(0, 4)

	assert.False(t, c.SetTotalPrice(0, dec("-5")))
	require.True(t, c.SetTotalPrice(0, dec("36")))

	bound := c.Bound()[0]
	assert.True(t, bound.UnitPrice.Equal(dec("9")))
	assert.True(t, bound.Profit().Equal(dec("12")))
	assert.True(t, bound.ExpectedTotal().Equal(bound.TotalPrice))
}

func TestPackRowUsesPackPriceAndBaseUnits(t *testing.T) {
	c := New()
	c.SetLineItem(0, strips(), domain.SellingModePack)
	c.SetQuantity(0, 3)

	bound := c.Bound()[0]
	assert.Equal(t, 30, bound.BaseUnits())
	assert.True(t, bound.TotalPrice.Equal(dec("42")))
	assert.True(t, bound.Profit().Equal(dec("12")))
	assert.Equal(t, 0, c.ShortfallAgainst(0, 95))

	c.SetQuantity(0, 10)
	assert.Equal(t, 5, c.ShortfallAgainst(0, 95))
}

func TestTotalsIgnorePlaceholderRows(t *testing.T) {
	c := New()
	c.SetLineItem(0, cough(), domain.SellingModeUnit)
	c.SetQuantity(0, 5)
	c.AddRow()

	totals := c.Totals(dec("10"), dec("20"))
	assert.True(t, totals.Subtotal.Equal(dec("50")))
	assert.True(t, totals.DiscountAmount.Equal(dec("5")))
	assert.True(t, totals.Total.Equal(dec("65")))
	assert.True(t, totals.Profit.Equal(dec("20")))
	assert.Equal(t, 2, c.Len())
	assert.Len(t, c.Bound(), 1)
}

func TestRemoveRow(t *testing.T) {
	c := New()
	c.SetLineItem(0, cough(), domain.SellingModeUnit)
	second := c.AddRow()
	c.SetLineItem(second, strips(), domain.SellingModeUnit)

	require.True(t, c.RemoveRow(0))
	assert.False(t, c.RemoveRow(5))
	require.Len(t, c.Bound(), 1)
	assert.Equal(t, "Ibuprofen strip", c.Bound()[0].Item.Name)
}

func TestRestoreKeepsInconsistentDraft(t *testing.T) {
	c := New()
	require.True(t, c.Restore(0, BoundRow{
		Item:       cough(),
		Mode:       domain.SellingModeUnit,
		Quantity:   5,
		UnitPrice:  dec("10"),
		TotalPrice: dec("45"),
		UnitCost:   dec("6"),
	}))

	bound := c.Bound()[0]
	assert.True(t, bound.TotalPrice.Equal(dec("45")))
	assert.True(t, bound.ExpectedTotal().Equal(dec("50")))
}
