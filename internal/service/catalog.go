package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pharmapos/backend/internal/apperror"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
)

// ListSellableItems returns in-stock items of one type ordered by name,
// served from the catalog cache when it is warm.
func (s *Service) ListSellableItems(ctx context.Context, itemType domain.ItemType) ([]domain.Item, error) {
	if !itemType.Valid() {
		return nil, apperror.Validation(apperror.CodeInvalidItemType, "item type must be medicine or cosmetic").
			WithDetail("item_type", itemType)
	}

	items, ok, err := s.catalog.GetItems(ctx, s.shopID, itemType)
	if err != nil {
		s.logger.Warn("catalog cache read failed", zap.String("item_type", string(itemType)), zap.Error(err))
	}
	if ok {
		return items, nil
	}

	items, err = s.repo.ListSellableItems(ctx, s.shopID, itemType)
	if err != nil {
		return nil, classify("list sellable items", err)
	}
	if err := s.catalog.SetItems(ctx, s.shopID, itemType, items, s.catalogTTL); err != nil {
		s.logger.Warn("catalog cache write failed", zap.String("item_type", string(itemType)), zap.Error(err))
	}
	return items, nil
}

func (s *Service) GetItem(ctx context.Context, itemType domain.ItemType, id int64) (domain.Item, error) {
	if !itemType.Valid() {
		return domain.Item{}, apperror.Validation(apperror.CodeInvalidItemType, "item type must be medicine or cosmetic").
			WithDetail("item_type", itemType)
	}
	item, err := s.repo.GetItem(ctx, itemType, id)
	if err != nil {
		if isNotFound(err) {
			return domain.Item{}, apperror.NotFound(apperror.CodeItemNotFound, string(itemType), id)
		}
		return domain.Item{}, classify("get item", err)
	}
	if !s.ownedBy(item.ShopID) {
		return domain.Item{}, apperror.NotFound(apperror.CodeItemNotFound, string(itemType), id)
	}
	return *item, nil
}

// AdjustStock overwrites an item's stock with an absolute count. It is the
// direct inventory edit, not a sale or a return.
func (s *Service) AdjustStock(ctx context.Context, itemType domain.ItemType, id int64, req domain.StockAdjustRequest) (domain.Item, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}
	if !itemType.Valid() {
		return domain.Item{}, apperror.Validation(apperror.CodeInvalidItemType, "item type must be medicine or cosmetic").
			WithDetail("item_type", itemType)
	}
	if req.Quantity < 0 {
		return domain.Item{}, apperror.Validation(apperror.CodeInvalidQuantity, "stock cannot be negative").
			WithDetail("quantity", req.Quantity)
	}
	if req.Quantity > domain.MaxBaseUnits {
		return domain.Item{}, apperror.Validation(apperror.CodeInvalidQuantity, "stock is too large").
			WithDetail("quantity", req.Quantity).WithDetail("max_base_units", domain.MaxBaseUnits)
	}

	var before, after domain.Item
	err := s.repo.WithinTx(ctx, func(repo store.Repository) error {
		item, err := repo.GetItemForUpdate(ctx, itemType, id)
		if err != nil {
			if isNotFound(err) {
				return apperror.NotFound(apperror.CodeItemNotFound, string(itemType), id)
			}
			return err
		}
		if !s.ownedBy(item.ShopID) {
			return apperror.NotFound(apperror.CodeItemNotFound, string(itemType), id)
		}
		before = *item
		if err := repo.SetStock(ctx, itemType, id, req.Quantity); err != nil {
			return err
		}
		after = before
		after.Quantity = req.Quantity
		return nil
	})
	if err != nil {
		return domain.Item{}, classify("adjust stock", err)
	}

	s.invalidateCatalog(ctx, itemType)
	s.logAudit(ctx, "stock_adjust", string(itemType), fmt.Sprintf("%d", id),
		fmt.Sprintf("from=%d,to=%d,notes=%s", before.Quantity, after.Quantity, strings.TrimSpace(req.Notes)))
	return after, nil
}

func (s *Service) ListSalesmen(ctx context.Context) ([]domain.Salesman, error) {
	salesmen, err := s.repo.ListSalesmen(ctx, s.shopID)
	if err != nil {
		return nil, classify("list salesmen", err)
	}
	return salesmen, nil
}

// ListAuditLogs returns one UTC day of entries; an empty date means the
// last 24 hours.
func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, apperror.Validation(apperror.CodeInvalidInput, "date must be YYYY-MM-DD").WithDetail("date", date)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	logs, err := s.repo.ListAuditLogs(ctx, s.shopID, from, to, limit)
	if err != nil {
		return nil, classify("list audit logs", err)
	}
	return logs, nil
}
