package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/backend/internal/apperror"
	"pharmapos/backend/internal/cache"
	"pharmapos/backend/internal/cart"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
	"pharmapos/backend/internal/store/memory"
)

const testShop = "main-shop"

var errBoom = errors.New("store unavailable")

type fixture struct {
	svc      *Service
	repo     *memory.Store
	now      time.Time
	syrup    domain.Item
	tablets  domain.Item
	insulin  domain.Item
	lipBalm  domain.Item
	customer int64
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func decPtr(value string) *decimal.Decimal {
	d := dec(value)
	return &d
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, nil)
}

// newFixtureWithRepo seeds a memory store and lets wrap swap the repository
// the service sees, for injecting failures.
func newFixtureWithRepo(t *testing.T, wrap func(store.Repository) store.Repository) *fixture {
	t.Helper()
	repo := memory.New()
	f := &fixture{
		repo: repo,
		now:  time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}

	f.syrup = repo.PutItem(domain.Item{
		Type:          domain.ItemTypeMedicine,
		ShopID:        testShop,
		Name:          "Cough Syrup",
		BatchNo:       "CSY-1",
		Quantity:      20,
		SellingPrice:  dec("10"),
		PurchasePrice: dec("6"),
	})
	f.tablets = repo.PutItem(domain.Item{
		Type:          domain.ItemTypeMedicine,
		ShopID:        testShop,
		Name:          "Paracetamol 500mg",
		Quantity:      100,
		SellingPrice:  dec("2.50"),
		PurchasePrice: dec("1.50"),
		SellingType:   domain.SellingModePack,
		UnitsPerPack:  10,
		PricePerPack:  decimal.NewNullDecimal(dec("23")),
	})
	f.insulin = repo.PutItem(domain.Item{
		Type:          domain.ItemTypeMedicine,
		ShopID:        testShop,
		Name:          "Insulin Pen",
		Quantity:      6,
		SellingPrice:  dec("1200"),
		PurchasePrice: dec("950"),
		Refrigerated:  true,
	})
	f.lipBalm = repo.PutItem(domain.Item{
		Type:          domain.ItemTypeCosmetic,
		ShopID:        testShop,
		Name:          "Lip Balm",
		Quantity:      40,
		SellingPrice:  dec("180"),
		PurchasePrice: dec("120"),
	})
	repo.PutSalesman(domain.Salesman{ID: 1, ShopID: testShop, Name: "Ayesha Khan", Active: true})
	repo.PutSalesman(domain.Salesman{ID: 3, ShopID: testShop, Name: "Usman Ali", Active: false})
	f.customer = 7
	repo.PutCustomer(domain.Customer{ID: f.customer, Name: "Sara", TotalSpent: decimal.Zero})

	var r store.Repository = repo
	if wrap != nil {
		r = wrap(repo)
	}
	f.svc = New(r, cache.NoopCatalogCache{}, nil, Options{
		ShopID: testShop,
		Now:    func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) stock(t *testing.T, item domain.Item) int {
	t.Helper()
	got, err := f.repo.GetItem(context.Background(), item.Type, item.ID)
	require.NoError(t, err)
	return got.Quantity
}

func (f *fixture) cartOf(t *testing.T, lines ...domain.CartLine) *cart.Cart {
	t.Helper()
	c, err := f.svc.BuildCart(context.Background(), lines)
	require.NoError(t, err)
	return c
}

func line(item domain.Item, qty int) domain.CartLine {
	return domain.CartLine{ItemType: item.Type, ItemID: item.ID, Quantity: qty}
}

func requireCode(t *testing.T, err error, code string) *apperror.Error {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperror.As(err)
	require.True(t, ok, "expected classified error, got %v", err)
	require.Equal(t, code, appErr.Code, "unexpected error: %v", err)
	return appErr
}

// flakyRepo fails one named write inside a unit of work.
type flakyRepo struct {
	store.Repository
	failOn string
}

func (f *flakyRepo) WithinTx(ctx context.Context, fn func(repo store.Repository) error) error {
	return f.Repository.WithinTx(ctx, func(inner store.Repository) error {
		return fn(&flakyRepo{Repository: inner, failOn: f.failOn})
	})
}

func (f *flakyRepo) ApplyLoyaltyAccrual(ctx context.Context, customerID int64, points int64, amount decimal.Decimal) error {
	if f.failOn == "loyalty" {
		return errBoom
	}
	return f.Repository.ApplyLoyaltyAccrual(ctx, customerID, points, amount)
}

func (f *flakyRepo) UpdateSaleReturnState(ctx context.Context, saleID string, update store.SaleReturnUpdate) error {
	if f.failOn == "sale_return_state" {
		return errBoom
	}
	return f.Repository.UpdateSaleReturnState(ctx, saleID, update)
}

func TestNewAppliesDefaults(t *testing.T) {
	svc := New(memory.New(), nil, nil, Options{})
	if svc.ShopID() != "main-shop" {
		t.Fatalf("expected default shop, got %s", svc.ShopID())
	}
	if svc.returnWindow != 7*24*time.Hour {
		t.Fatalf("expected 7 day return window, got %s", svc.returnWindow)
	}
	if svc.lookupLimit != 20 {
		t.Fatalf("expected lookup limit 20, got %d", svc.lookupLimit)
	}
}

func TestListSellableItemsRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListSellableItems(context.Background(), domain.ItemType("food"))
	requireCode(t, err, apperror.CodeInvalidItemType)
}

func TestListSellableItemsOrdersByName(t *testing.T) {
	f := newFixture(t)
	items, err := f.svc.ListSellableItems(context.Background(), domain.ItemTypeMedicine)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "Cough Syrup", items[0].Name)
	assert.Equal(t, "Insulin Pen", items[1].Name)
	assert.Equal(t, "Paracetamol 500mg", items[2].Name)
}

type countingCache struct {
	cache.NoopCatalogCache
	stored      map[domain.ItemType][]domain.Item
	invalidated int
}

func (c *countingCache) GetItems(_ context.Context, _ string, itemType domain.ItemType) ([]domain.Item, bool, error) {
	items, ok := c.stored[itemType]
	return items, ok, nil
}

func (c *countingCache) SetItems(_ context.Context, _ string, itemType domain.ItemType, items []domain.Item, _ time.Duration) error {
	c.stored[itemType] = items
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, _ string, itemTypes ...domain.ItemType) error {
	c.invalidated++
	for _, itemType := range itemTypes {
		delete(c.stored, itemType)
	}
	return nil
}

func TestCatalogCacheIsInvalidatedByCommit(t *testing.T) {
	f := newFixture(t)
	cc := &countingCache{stored: map[domain.ItemType][]domain.Item{}}
	f.svc.catalog = cc
	ctx := context.Background()

	_, err := f.svc.ListSellableItems(ctx, domain.ItemTypeMedicine)
	require.NoError(t, err)
	require.Contains(t, cc.stored, domain.ItemTypeMedicine)

	_, err = f.svc.CommitSale(ctx, CommitRequest{Cart: f.cartOf(t, line(f.syrup, 2)), SalesmanID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, cc.invalidated)
	assert.NotContains(t, cc.stored, domain.ItemTypeMedicine)
}

func TestAdjustStockRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})

	_, err := f.svc.AdjustStock(ctx, f.syrup.Type, f.syrup.ID, domain.StockAdjustRequest{Quantity: 3})
	requireCode(t, err, apperror.CodeForbidden)
	assert.Equal(t, 20, f.stock(t, f.syrup))
}

func TestAdjustStockOverwritesAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})

	item, err := f.svc.AdjustStock(ctx, f.syrup.Type, f.syrup.ID, domain.StockAdjustRequest{Quantity: 3, Notes: "recount"})
	require.NoError(t, err)
	assert.Equal(t, 3, item.Quantity)
	assert.Equal(t, 3, f.stock(t, f.syrup))

	_, err = f.svc.AdjustStock(ctx, f.syrup.Type, f.syrup.ID, domain.StockAdjustRequest{Quantity: -1})
	requireCode(t, err, apperror.CodeInvalidQuantity)

	_, err = f.svc.AdjustStock(ctx, f.syrup.Type, 999, domain.StockAdjustRequest{Quantity: 1})
	requireCode(t, err, apperror.CodeItemNotFound)

	logs, err := f.svc.ListAuditLogs(ctx, "2026-10-01", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "stock_adjust", logs[0].Action)
	assert.Equal(t, "from=20,to=3,notes=recount", logs[0].Detail)
	assert.Equal(t, "admin", logs[0].ActorUsername)
}

func TestListAuditLogsRejectsBadDate(t *testing.T) {
	f := newFixture(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
	_, err := f.svc.ListAuditLogs(ctx, "01-10-2026", 10)
	requireCode(t, err, apperror.CodeInvalidInput)
}

func TestListSalesmen(t *testing.T) {
	f := newFixture(t)
	salesmen, err := f.svc.ListSalesmen(context.Background())
	require.NoError(t, err)
	require.Len(t, salesmen, 1)
	assert.Equal(t, "Ayesha Khan", salesmen[0].Name)
}
