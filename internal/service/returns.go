package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmapos/backend/internal/apperror"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
	"pharmapos/backend/internal/xid"
)

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	sale, err := s.repo.FindSaleByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return domain.Sale{}, apperror.NotFound(apperror.CodeSaleNotFound, "sale", id)
		}
		return domain.Sale{}, classify("find sale", err)
	}
	if !s.ownedBy(sale.ShopID) {
		return domain.Sale{}, apperror.NotFound(apperror.CodeSaleNotFound, "sale", id)
	}
	return *sale, nil
}

// LookupSales finds recent sales whose receipt id contains fragment and
// marks which of their lines can still be returned. Sales past the return
// window are listed but nothing on them is selectable.
func (s *Service) LookupSales(ctx context.Context, fragment string) (domain.SaleLookupResponse, error) {
	sales, err := s.repo.SearchSales(ctx, s.shopID, strings.TrimSpace(fragment), s.lookupLimit)
	if err != nil {
		return domain.SaleLookupResponse{}, classify("search sales", err)
	}

	now := s.now()
	out := make([]domain.SaleLookup, 0, len(sales))
	for _, sale := range sales {
		out = append(out, s.eligibility(sale, now))
	}
	return domain.SaleLookupResponse{Sales: out}, nil
}

func (s *Service) eligibility(sale domain.Sale, now time.Time) domain.SaleLookup {
	returnable := s.withinWindow(sale, now)
	items := make([]domain.SaleItemEligibility, 0, len(sale.Items))
	for _, item := range sale.Items {
		entry := domain.SaleItemEligibility{
			SaleItem:  item,
			Remaining: item.RemainingReturnable(),
		}
		switch {
		case !returnable:
			entry.Reason = "return window expired"
		case item.Refrigerated:
			entry.Reason = "refrigerated or controlled item"
		case entry.Remaining == 0:
			entry.Reason = "fully returned"
		default:
			entry.Selectable = true
		}
		items = append(items, entry)
	}

	return domain.SaleLookup{
		Sale:       sale,
		Returnable: returnable,
		ExpiresAt:  sale.SaleDate.Add(s.returnWindow),
		Items:      items,
	}
}

func (s *Service) withinWindow(sale domain.Sale, now time.Time) bool {
	return now.Sub(sale.SaleDate) <= s.returnWindow
}

// ProcessReturn applies a batch of return and replace selections against
// one sale. Every selection is checked before anything is written, and the
// writes run in one unit of work: a failure leaves the sale, its items and
// stock exactly as they were.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResult, error) {
	if len(req.Selections) == 0 {
		return domain.ReturnResult{}, apperror.Validation(apperror.CodeNoSelections, "select at least one item to return")
	}
	req.SaleID = strings.TrimSpace(req.SaleID)
	req.Reason = strings.TrimSpace(req.Reason)
	req.ProcessedBy = strings.TrimSpace(req.ProcessedBy)
	if req.ProcessedBy == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			req.ProcessedBy = actor.Username
		} else {
			req.ProcessedBy = "system"
		}
	}

	now := s.now()
	var result domain.ReturnResult
	var touched []domain.ItemType
	err := s.repo.WithinTx(ctx, func(repo store.Repository) error {
		sale, err := repo.FindSaleByID(ctx, req.SaleID)
		if err != nil {
			if isNotFound(err) {
				return apperror.NotFound(apperror.CodeSaleNotFound, "sale", req.SaleID)
			}
			return err
		}
		if !s.ownedBy(sale.ShopID) {
			return apperror.NotFound(apperror.CodeSaleNotFound, "sale", req.SaleID)
		}
		if !s.withinWindow(*sale, now) {
			return apperror.Validation(apperror.CodeReturnWindowExpired, "sale is outside the return window").
				WithDetail("sale_id", sale.ID).
				WithDetail("sale_date", sale.SaleDate).
				WithDetail("window_days", int(s.returnWindow/(24*time.Hour)))
		}

		itemsByID := make(map[string]domain.SaleItem, len(sale.Items))
		for _, item := range sale.Items {
			itemsByID[item.ID] = item
		}
		if err := checkSelections(req.Selections, itemsByID); err != nil {
			return err
		}

		refund := decimal.Zero
		returns := make([]domain.Return, 0, len(req.Selections))
		for _, sel := range req.Selections {
			id := strings.TrimSpace(sel.SaleItemID)
			item := itemsByID[id]

			amount := decimal.Zero
			if sel.ReturnType == domain.ReturnTypeReturn {
				amount = item.UnitPrice.Mul(decimal.NewFromInt(int64(sel.Quantity)))
			}
			record := domain.Return{
				ID:           xid.New("ret"),
				SaleID:       sale.ID,
				SaleItemID:   id,
				ReturnType:   sel.ReturnType,
				Quantity:     sel.Quantity,
				RefundAmount: amount,
				Reason:       req.Reason,
				ProcessedBy:  req.ProcessedBy,
				ProcessedAt:  now,
			}
			if err := repo.InsertReturn(ctx, record); err != nil {
				return err
			}

			item.ReturnQuantity += sel.Quantity
			item.ReturnStatus = itemReturnStatus(item)
			item.ReturnDate = &now
			if err := repo.UpdateSaleItemReturnState(ctx, id, item.ReturnQuantity, item.ReturnStatus, now); err != nil {
				return err
			}
			itemsByID[id] = item

			if sel.ReturnType == domain.ReturnTypeReturn {
				restore, _ := item.BaseUnitsFor(sel.Quantity)
				if err := repo.IncrementStock(ctx, item.ItemType, item.ItemID, restore); err != nil {
					if isNotFound(err) {
						return apperror.NotFound(apperror.CodeItemNotFound, string(item.ItemType), item.ItemID)
					}
					return err
				}
				touched = append(touched, item.ItemType)
				refund = refund.Add(amount)
			}
			returns = append(returns, record)
		}

		for i := range sale.Items {
			sale.Items[i] = itemsByID[sale.Items[i].ID]
		}
		status := RecomputeReturnStatus(sale.Items, sale.ReturnStatus)
		if err := repo.UpdateSaleReturnState(ctx, sale.ID, store.SaleReturnUpdate{
			Status:      status,
			ReturnDate:  now,
			Reason:      req.Reason,
			ProcessedBy: req.ProcessedBy,
		}); err != nil {
			return err
		}
		sale.ReturnStatus = status
		sale.ReturnDate = &now
		sale.ReturnReason = req.Reason
		sale.ReturnProcessedBy = req.ProcessedBy

		result = domain.ReturnResult{Sale: *sale, Returns: returns, RefundTotal: refund}
		return nil
	})
	if err != nil {
		return domain.ReturnResult{}, classify("process return", err)
	}

	if len(touched) > 0 {
		s.invalidateCatalog(ctx, touched...)
	}
	s.logAudit(ctx, "sale_return", "sale", result.Sale.ID, fmt.Sprintf(
		"selections=%d,refund=%s,status=%s",
		len(result.Returns),
		result.RefundTotal.StringFixed(2),
		result.Sale.ReturnStatus,
	))
	s.logger.Info("return processed",
		zap.String("sale_id", result.Sale.ID),
		zap.String("refund", result.RefundTotal.StringFixed(2)),
		zap.String("return_status", string(result.Sale.ReturnStatus)),
	)
	return result, nil
}

// checkSelections validates the whole batch. Quantities are summed per sale
// item so two selections cannot together exceed what is left.
func checkSelections(selections []domain.ReturnSelection, itemsByID map[string]domain.SaleItem) error {
	requested := make(map[string]int, len(selections))
	for i, sel := range selections {
		id := strings.TrimSpace(sel.SaleItemID)
		if !sel.ReturnType.Valid() {
			return apperror.Validation(apperror.CodeInvalidReturnType, "return type must be return or replace").
				WithDetail("selection", i).WithDetail("return_type", sel.ReturnType)
		}
		if sel.Quantity < 1 {
			return apperror.Validation(apperror.CodeInvalidQuantity, "return quantity must be at least 1").
				WithDetail("selection", i).WithDetail("quantity", sel.Quantity)
		}
		item, ok := itemsByID[id]
		if !ok {
			return apperror.NotFound(apperror.CodeSaleItemNotFound, "sale item", id).WithDetail("selection", i)
		}
		if item.Refrigerated {
			return apperror.Validation(apperror.CodeItemNotReturnable, fmt.Sprintf("%s cannot be returned", item.ItemName)).
				WithDetail("selection", i).WithDetail("sale_item_id", id)
		}
		if _, ok := item.BaseUnitsFor(sel.Quantity); !ok {
			return apperror.Validation(apperror.CodeInvalidQuantity, fmt.Sprintf("return quantity for %s is too large", item.ItemName)).
				WithDetail("selection", i).WithDetail("quantity", sel.Quantity)
		}
		if sel.Quantity > item.RemainingReturnable() {
			return returnQtyExceeded(i, id, item, sel.Quantity)
		}
		requested[id] += sel.Quantity
		if requested[id] > item.RemainingReturnable() {
			return returnQtyExceeded(i, id, item, requested[id])
		}
	}
	return nil
}

func returnQtyExceeded(selection int, saleItemID string, item domain.SaleItem, requested int) error {
	return apperror.Validation(apperror.CodeReturnQtyExceeded, fmt.Sprintf("only %d of %s can be returned", item.RemainingReturnable(), item.ItemName)).
		WithDetail("selection", selection).
		WithDetail("sale_item_id", saleItemID).
		WithDetail("requested", requested).
		WithDetail("remaining", item.RemainingReturnable())
}

func itemReturnStatus(item domain.SaleItem) domain.ItemReturnStatus {
	if item.ReturnQuantity >= item.Quantity {
		return domain.ItemReturnReturned
	}
	return domain.ItemReturnNone
}

// RecomputeReturnStatus derives a sale's return status from its items. It
// only reads its inputs, so calling it again on the same items gives the
// same answer.
func RecomputeReturnStatus(items []domain.SaleItem, current domain.SaleReturnStatus) domain.SaleReturnStatus {
	if len(items) == 0 {
		return current
	}
	all := true
	some := false
	for _, item := range items {
		if item.ReturnQuantity > 0 {
			some = true
		}
		if item.ReturnQuantity < item.Quantity {
			all = false
		}
	}
	switch {
	case all:
		return domain.SaleReturnFull
	case some:
		return domain.SaleReturnPartial
	default:
		return current
	}
}

func (s *Service) ListReturns(ctx context.Context, saleID string) ([]domain.Return, error) {
	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	returns, err := s.repo.ListReturnsBySale(ctx, sale.ID)
	if err != nil {
		return nil, classify("list returns", err)
	}
	return returns, nil
}
