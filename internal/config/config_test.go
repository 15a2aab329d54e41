package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadReturnWindowAndLookupDefaults(t *testing.T) {
	t.Setenv("RETURN_WINDOW_DAYS", "")
	t.Setenv("SALE_LOOKUP_LIMIT", "not-a-number")
	t.Setenv("CATALOG_CACHE_TTL_SECONDS", "-3")

	cfg := Load()
	assert.Equal(t, 7, cfg.ReturnWindowDays)
	assert.Equal(t, 20, cfg.SaleLookupLimit)
	assert.Equal(t, 15, cfg.CatalogCacheTTLSeconds)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("RETURN_WINDOW_DAYS", "14")
	t.Setenv("DEFAULT_SHOP_ID", "branch-2")
	t.Setenv("MIGRATE_ON_START", "true")
	t.Setenv("PORT", "9090")

	cfg := Load()
	assert.Equal(t, 14, cfg.ReturnWindowDays)
	assert.Equal(t, "branch-2", cfg.ShopID)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, ":9090", cfg.Address())
}
