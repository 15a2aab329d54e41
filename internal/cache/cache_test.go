package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/backend/internal/domain"
)

func TestNoopCatalogCacheAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var c CatalogCache = NoopCatalogCache{}

	require.NoError(t, c.SetItems(ctx, "main-shop", domain.ItemTypeMedicine, []domain.Item{{ID: 1}}, time.Minute))
	items, ok, err := c.GetItems(ctx, "main-shop", domain.ItemTypeMedicine)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, items)
	assert.NoError(t, c.Invalidate(ctx, "main-shop"))
}

func TestInvalidationKeysDefaultToEveryType(t *testing.T) {
	assert.Equal(t,
		[]string{"catalog:main-shop:medicine", "catalog:main-shop:cosmetic"},
		invalidationKeys("main-shop", nil),
	)
	assert.Equal(t,
		[]string{"catalog:b:cosmetic"},
		invalidationKeys("b", []domain.ItemType{domain.ItemTypeCosmetic, domain.ItemTypeCosmetic}),
	)
}
