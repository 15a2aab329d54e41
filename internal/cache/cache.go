package cache

import (
	"context"
	"time"

	"pharmapos/backend/internal/domain"
)

// CatalogCache holds sellable-item listings per shop and item type. A miss
// is reported as ok=false with a nil error.
type CatalogCache interface {
	GetItems(ctx context.Context, shopID string, itemType domain.ItemType) ([]domain.Item, bool, error)
	SetItems(ctx context.Context, shopID string, itemType domain.ItemType, items []domain.Item, ttl time.Duration) error
	Invalidate(ctx context.Context, shopID string, itemTypes ...domain.ItemType) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) GetItems(_ context.Context, _ string, _ domain.ItemType) ([]domain.Item, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetItems(_ context.Context, _ string, _ domain.ItemType, _ []domain.Item, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string, _ ...domain.ItemType) error {
	return nil
}

func catalogKey(shopID string, itemType domain.ItemType) string {
	return "catalog:" + shopID + ":" + string(itemType)
}

// invalidationKeys expands an empty type list to every item type.
func invalidationKeys(shopID string, itemTypes []domain.ItemType) []string {
	if len(itemTypes) == 0 {
		itemTypes = []domain.ItemType{domain.ItemTypeMedicine, domain.ItemTypeCosmetic}
	}
	keys := make([]string, 0, len(itemTypes))
	seen := make(map[domain.ItemType]bool, len(itemTypes))
	for _, itemType := range itemTypes {
		if seen[itemType] {
			continue
		}
		seen[itemType] = true
		keys = append(keys, catalogKey(shopID, itemType))
	}
	return keys
}
