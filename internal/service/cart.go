package service

import (
	"context"

	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/apperror"
	"pharmapos/backend/internal/cart"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/pricing"
)

// BuildCart loads a client draft into a cart. Client-supplied prices and
// totals are kept as sent so a commit can reconcile them; omitted prices
// fall back to the catalog price for the row's mode.
func (s *Service) BuildCart(ctx context.Context, lines []domain.CartLine) (*cart.Cart, error) {
	c := cart.New()
	for i, line := range lines {
		index := 0
		if i > 0 {
			index = c.AddRow()
		}
		if !line.Bound() {
			continue
		}

		item, err := s.GetItem(ctx, line.ItemType, line.ItemID)
		if err != nil {
			if appErr, ok := apperror.As(err); ok {
				return nil, appErr.WithDetail("row", i)
			}
			return nil, err
		}

		mode := line.Mode
		if mode == "" {
			mode = pricing.ModeFor(item)
		}
		quote := pricing.Resolve(item, mode)

		row := cart.BoundRow{
			Item:      item,
			Mode:      quote.Mode,
			Quantity:  line.Quantity,
			UnitPrice: quote.UnitPrice,
			UnitCost:  quote.UnitCost,
		}
		if line.UnitPrice != nil {
			row.UnitPrice = *line.UnitPrice
		}
		row.TotalPrice = row.ExpectedTotal()
		if line.TotalPrice != nil {
			row.TotalPrice = *line.TotalPrice
		}
		c.Restore(index, row)
	}
	return c, nil
}

// QuoteCart prices a draft against live stock without writing anything.
// Rows that would oversell are flagged, not rejected.
func (s *Service) QuoteCart(ctx context.Context, req domain.CartQuoteRequest) (domain.CartQuoteResponse, error) {
	if err := validateAdjustments(req.DiscountPercentage, req.Tax); err != nil {
		return domain.CartQuoteResponse{}, err
	}
	c, err := s.BuildCart(ctx, req.Lines)
	if err != nil {
		return domain.CartQuoteResponse{}, err
	}

	lines := make([]domain.CartQuoteLine, 0, c.Len())
	for i := 0; i < c.Len(); i++ {
		raw, _ := c.Row(i)
		row, ok := raw.(cart.BoundRow)
		if !ok {
			continue
		}
		upp := pricing.UnitsPerPack(row.Item)
		baseUnits := row.BaseUnits()
		packs, loose := pricing.Split(baseUnits, upp)
		lines = append(lines, domain.CartQuoteLine{
			ItemType:      row.Item.Type,
			ItemID:        row.Item.ID,
			ItemName:      row.Item.Name,
			Mode:          row.Mode,
			Quantity:      row.Quantity,
			BaseUnits:     baseUnits,
			UnitPrice:     row.UnitPrice,
			TotalPrice:    row.TotalPrice,
			Profit:        row.Profit(),
			StockShortBy:  c.ShortfallAgainst(i, row.Item.Quantity),
			LiveStock:     row.Item.Quantity,
			Refrigerated:  row.Item.Refrigerated,
			UnitsPerPack:  upp,
			PackQuantity:  packs,
			LooseQuantity: loose,
		})
	}

	return domain.CartQuoteResponse{
		Lines:  lines,
		Totals: c.Totals(req.DiscountPercentage, req.Tax),
	}, nil
}

var maxDiscount = decimal.NewFromInt(100)

func validateAdjustments(discountPercentage decimal.Decimal, tax decimal.Decimal) error {
	if discountPercentage.IsNegative() || discountPercentage.GreaterThan(maxDiscount) {
		return apperror.Validation(apperror.CodeInvalidDiscount, "discount percentage must be between 0 and 100").
			WithDetail("discount_percentage", discountPercentage)
	}
	if tax.IsNegative() {
		return apperror.Validation(apperror.CodeInvalidTax, "tax cannot be negative").
			WithDetail("tax", tax)
	}
	return nil
}
