package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmapos/backend/internal/apperror"
	"pharmapos/backend/internal/cart"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/pricing"
	"pharmapos/backend/internal/store"
	"pharmapos/backend/internal/xid"
)

var (
	totalEpsilon = decimal.RequireFromString("0.01")
	pointsPer    = decimal.NewFromInt(100)
)

// CommitRequest is a cart ready to be turned into a Sale.
type CommitRequest struct {
	Cart               *cart.Cart
	SalesmanID         int64
	CustomerID         *int64
	DiscountPercentage decimal.Decimal
	Tax                decimal.Decimal
	// IdempotencyKey makes a retried commit return the first Sale instead
	// of selling twice. Empty disables the check.
	IdempotencyKey string
}

type itemKey struct {
	itemType domain.ItemType
	id       int64
}

// CommitCart builds a cart from client lines and commits it.
func (s *Service) CommitCart(ctx context.Context, req domain.SaleCommitRequest) (domain.SaleCommitResponse, error) {
	c, err := s.BuildCart(ctx, req.Lines)
	if err != nil {
		return domain.SaleCommitResponse{}, err
	}
	return s.CommitSale(ctx, CommitRequest{
		Cart:               c,
		SalesmanID:         req.SalesmanID,
		CustomerID:         req.CustomerID,
		DiscountPercentage: req.DiscountPercentage,
		Tax:                req.Tax,
		IdempotencyKey:     req.IdempotencyKey,
	})
}

// CommitSale validates the cart and, in one unit of work, writes the Sale
// and its SaleItems, takes the sold base units out of stock and accrues
// customer loyalty. Either all of it lands or none of it does.
func (s *Service) CommitSale(ctx context.Context, req CommitRequest) (domain.SaleCommitResponse, error) {
	var rows []cart.BoundRow
	if req.Cart != nil {
		rows = req.Cart.Bound()
	}
	if len(rows) == 0 {
		return domain.SaleCommitResponse{}, apperror.Validation(apperror.CodeEmptyCart, "cart has no items")
	}

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		if existing, err := s.repo.FindSaleByIdempotency(ctx, s.shopID, req.IdempotencyKey); err == nil {
			return domain.SaleCommitResponse{Sale: *existing, Duplicate: true}, nil
		} else if !isNotFound(err) {
			return domain.SaleCommitResponse{}, classify("find sale by idempotency key", err)
		}
	}

	salesman, err := s.resolveSalesman(ctx, req.SalesmanID)
	if err != nil {
		return domain.SaleCommitResponse{}, err
	}
	if err := validateRows(rows); err != nil {
		return domain.SaleCommitResponse{}, err
	}
	if req.CustomerID != nil {
		if _, err := s.repo.GetCustomer(ctx, *req.CustomerID); err != nil {
			if isNotFound(err) {
				return domain.SaleCommitResponse{}, apperror.NotFound(apperror.CodeCustomerNotFound, "customer", *req.CustomerID)
			}
			return domain.SaleCommitResponse{}, classify("get customer", err)
		}
	}

	now := s.now()
	var created domain.Sale
	var touched []domain.ItemType
	err = s.repo.WithinTx(ctx, func(repo store.Repository) error {
		live, err := s.lockItems(ctx, repo, rows)
		if err != nil {
			return err
		}
		need, order, err := baseUnitsNeeded(rows, live)
		if err != nil {
			return err
		}
		for _, key := range order {
			item := live[key]
			if need[key] > item.Quantity {
				return apperror.InsufficientStock(item.Name, need[key], item.Quantity)
			}
		}
		if err := validateAdjustments(req.DiscountPercentage, req.Tax); err != nil {
			return err
		}

		totals := req.Cart.Totals(req.DiscountPercentage, req.Tax)
		sale := domain.Sale{
			ID:                 xid.New("sale"),
			ShopID:             s.shopID,
			IdempotencyKey:     req.IdempotencyKey,
			SalesmanID:         salesman.ID,
			SalesmanName:       salesman.Name,
			CustomerID:         req.CustomerID,
			SaleDate:           now,
			Subtotal:           totals.Subtotal,
			DiscountPercentage: totals.DiscountPercentage,
			DiscountAmount:     totals.DiscountAmount,
			Tax:                totals.Tax,
			TotalAmount:        totals.Total,
			TotalProfit:        totals.Profit,
			LoyaltyPoints:      loyaltyPoints(totals.Total),
			ReturnStatus:       domain.SaleReturnNone,
		}

		inserted, err := repo.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		items := saleItemsFor(inserted.ID, rows, live)
		if err := repo.InsertSaleItems(ctx, items); err != nil {
			return err
		}

		for _, key := range order {
			if err := repo.DecrementStock(ctx, key.itemType, key.id, need[key]); err != nil {
				if errors.Is(err, store.ErrInsufficientStock) {
					item := live[key]
					return apperror.InsufficientStock(item.Name, need[key], item.Quantity).WithCause(err)
				}
				return err
			}
			touched = append(touched, key.itemType)
		}

		if req.CustomerID != nil {
			if err := repo.ApplyLoyaltyAccrual(ctx, *req.CustomerID, inserted.LoyaltyPoints, inserted.TotalAmount); err != nil {
				if isNotFound(err) {
					return apperror.NotFound(apperror.CodeCustomerNotFound, "customer", *req.CustomerID)
				}
				return err
			}
		}

		created = *inserted
		created.Items = items
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) && req.IdempotencyKey != "" {
			if existing, findErr := s.repo.FindSaleByIdempotency(ctx, s.shopID, req.IdempotencyKey); findErr == nil {
				return domain.SaleCommitResponse{Sale: *existing, Duplicate: true}, nil
			}
		}
		return domain.SaleCommitResponse{}, classify("commit sale", err)
	}

	s.invalidateCatalog(ctx, touched...)
	s.logAudit(ctx, "sale_commit", "sale", created.ID, fmt.Sprintf(
		"total=%s,items=%d,salesman=%d,customer=%t,discount_pct=%s,tax=%s",
		created.TotalAmount.StringFixed(2),
		len(created.Items),
		created.SalesmanID,
		created.CustomerID != nil,
		created.DiscountPercentage.String(),
		created.Tax.StringFixed(2),
	))
	s.logger.Info("sale committed",
		zap.String("sale_id", created.ID),
		zap.String("total", created.TotalAmount.StringFixed(2)),
		zap.Int("items", len(created.Items)),
	)

	return domain.SaleCommitResponse{Sale: created}, nil
}

func (s *Service) resolveSalesman(ctx context.Context, id int64) (*domain.Salesman, error) {
	if id <= 0 {
		return nil, apperror.Validation(apperror.CodeSalesmanRequired, "salesman is required")
	}
	salesman, err := s.repo.GetSalesman(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, apperror.NotFound(apperror.CodeSalesmanNotFound, "salesman", id)
		}
		return nil, classify("get salesman", err)
	}
	if !s.ownedBy(salesman.ShopID) {
		return nil, apperror.NotFound(apperror.CodeSalesmanNotFound, "salesman", id)
	}
	if !salesman.Active {
		return nil, apperror.NotFound(apperror.CodeSalesmanNotFound, "salesman", id).WithDetail("reason", "inactive")
	}
	return salesman, nil
}

func validateRows(rows []cart.BoundRow) error {
	for i, row := range rows {
		if !row.Item.Type.Valid() {
			return apperror.Validation(apperror.CodeInvalidItemType, "item type must be medicine or cosmetic").
				WithDetail("row", i).WithDetail("item_type", row.Item.Type)
		}
		if row.Quantity < 1 {
			return apperror.Validation(apperror.CodeInvalidQuantity, fmt.Sprintf("quantity for %s must be at least 1", row.Item.Name)).
				WithDetail("row", i).WithDetail("quantity", row.Quantity)
		}
		if _, ok := pricing.CheckedBaseUnits(row.Item, row.Mode, row.Quantity); !ok {
			return apperror.Validation(apperror.CodeInvalidQuantity, fmt.Sprintf("quantity for %s is too large", row.Item.Name)).
				WithDetail("row", i).WithDetail("quantity", row.Quantity).WithDetail("max_base_units", pricing.MaxBaseUnits)
		}
		if row.UnitPrice.IsNegative() {
			return apperror.Validation(apperror.CodeInvalidUnitPrice, fmt.Sprintf("unit price for %s cannot be negative", row.Item.Name)).
				WithDetail("row", i).WithDetail("unit_price", row.UnitPrice)
		}
		if row.TotalPrice.IsNegative() {
			return apperror.Validation(apperror.CodeInvalidTotal, fmt.Sprintf("total for %s cannot be negative", row.Item.Name)).
				WithDetail("row", i).WithDetail("total_price", row.TotalPrice)
		}
		expected := row.ExpectedTotal()
		if row.TotalPrice.Sub(expected).Abs().GreaterThan(totalEpsilon) {
			return apperror.Validation(apperror.CodeTotalMismatch, fmt.Sprintf("total for %s should be %s", row.Item.Name, expected.StringFixed(2))).
				WithDetail("row", i).
				WithDetail("item", row.Item.Name).
				WithDetail("expected", expected.StringFixed(2)).
				WithDetail("actual", row.TotalPrice.StringFixed(2))
		}
	}
	return nil
}

// lockItems re-reads every referenced item inside the unit of work, in a
// fixed order so concurrent commits lock rows the same way. Items stocked by
// another shop are reported as missing.
func (s *Service) lockItems(ctx context.Context, repo store.Repository, rows []cart.BoundRow) (map[itemKey]domain.Item, error) {
	keys := make([]itemKey, 0, len(rows))
	for _, row := range rows {
		key := itemKey{itemType: row.Item.Type, id: row.Item.ID}
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, func(a, b itemKey) int {
		if c := cmp.Compare(a.itemType, b.itemType); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	live := make(map[itemKey]domain.Item, len(keys))
	for _, key := range keys {
		item, err := repo.GetItemForUpdate(ctx, key.itemType, key.id)
		if err != nil {
			if isNotFound(err) {
				return nil, apperror.NotFound(apperror.CodeItemNotFound, string(key.itemType), key.id)
			}
			return nil, err
		}
		if !s.ownedBy(item.ShopID) {
			return nil, apperror.NotFound(apperror.CodeItemNotFound, string(key.itemType), key.id)
		}
		live[key] = *item
	}
	return live, nil
}

// baseUnitsNeeded sums the base units each item must give up, in first-seen
// row order. Pack sizes come from the live rows, so the range check is
// repeated here.
func baseUnitsNeeded(rows []cart.BoundRow, live map[itemKey]domain.Item) (map[itemKey]int, []itemKey, error) {
	need := make(map[itemKey]int, len(live))
	order := make([]itemKey, 0, len(live))
	for i, row := range rows {
		key := itemKey{itemType: row.Item.Type, id: row.Item.ID}
		units, ok := pricing.CheckedBaseUnits(live[key], row.Mode, row.Quantity)
		if !ok {
			return nil, nil, apperror.Validation(apperror.CodeInvalidQuantity, fmt.Sprintf("quantity for %s is too large", row.Item.Name)).
				WithDetail("row", i).WithDetail("quantity", row.Quantity).WithDetail("max_base_units", pricing.MaxBaseUnits)
		}
		if _, seen := need[key]; !seen {
			order = append(order, key)
		}
		need[key] += units
	}
	return need, order, nil
}

func saleItemsFor(saleID string, rows []cart.BoundRow, live map[itemKey]domain.Item) []domain.SaleItem {
	items := make([]domain.SaleItem, 0, len(rows))
	for _, row := range rows {
		item := live[itemKey{itemType: row.Item.Type, id: row.Item.ID}]
		upp := pricing.UnitsPerPack(item)
		baseUnits := pricing.ToBaseUnits(item, row.Mode, row.Quantity)
		packs, _ := pricing.Split(baseUnits, upp)
		items = append(items, domain.SaleItem{
			ID:             xid.New("si"),
			SaleID:         saleID,
			ItemType:       item.Type,
			ItemID:         item.ID,
			ItemName:       item.Name,
			BatchNo:        item.BatchNo,
			SellingMode:    row.Mode,
			Quantity:       row.Quantity,
			UnitPrice:      row.UnitPrice,
			TotalPrice:     row.TotalPrice,
			Profit:         row.Profit(),
			UnitsPerPack:   upp,
			TotalBaseUnits: baseUnits,
			TotalPacks:     packs,
			Refrigerated:   item.Refrigerated,
			ReturnStatus:   domain.ItemReturnNone,
		})
	}
	return items
}

// loyaltyPoints is one point per full 100 of the sale total.
func loyaltyPoints(total decimal.Decimal) int64 {
	if total.IsNegative() {
		return 0
	}
	return total.Div(pointsPer).Floor().IntPart()
}
