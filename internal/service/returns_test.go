package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/backend/internal/apperror"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
)

func (f *fixture) commit(t *testing.T, lines ...domain.CartLine) domain.Sale {
	t.Helper()
	resp, err := f.svc.CommitSale(context.Background(), CommitRequest{
		Cart:               f.cartOf(t, lines...),
		SalesmanID:         1,
		DiscountPercentage: dec("10"),
		Tax:                dec("20"),
	})
	require.NoError(t, err)
	return resp.Sale
}

func returnOf(sale domain.Sale, index int, qty int, returnType domain.ReturnType) domain.ReturnRequest {
	return domain.ReturnRequest{
		SaleID: sale.ID,
		Selections: []domain.ReturnSelection{{
			SaleItemID: sale.Items[index].ID,
			Quantity:   qty,
			ReturnType: returnType,
		}},
		Reason: "customer changed mind",
	}
}

func TestProcessReturnScenariosBAndC(t *testing.T) {
	f := newFixture(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "manager", Role: "admin"})
	sale := f.commit(t, line(f.syrup, 5))
	require.Equal(t, 15, f.stock(t, f.syrup))

	f.now = f.now.Add(2 * 24 * time.Hour)
	partial, err := f.svc.ProcessReturn(ctx, returnOf(sale, 0, 3, domain.ReturnTypeReturn))
	require.NoError(t, err)

	require.Len(t, partial.Returns, 1)
	assert.True(t, partial.Returns[0].RefundAmount.Equal(dec("30")))
	assert.True(t, partial.RefundTotal.Equal(dec("30")))
	assert.Equal(t, "manager", partial.Returns[0].ProcessedBy)
	assert.Equal(t, 3, partial.Sale.Items[0].ReturnQuantity)
	assert.Equal(t, domain.ItemReturnNone, partial.Sale.Items[0].ReturnStatus)
	assert.Equal(t, domain.SaleReturnPartial, partial.Sale.ReturnStatus)
	assert.Equal(t, "customer changed mind", partial.Sale.ReturnReason)
	assert.Equal(t, 18, f.stock(t, f.syrup))

	full, err := f.svc.ProcessReturn(ctx, returnOf(sale, 0, 2, domain.ReturnTypeReturn))
	require.NoError(t, err)
	assert.Equal(t, 5, full.Sale.Items[0].ReturnQuantity)
	assert.Equal(t, domain.ItemReturnReturned, full.Sale.Items[0].ReturnStatus)
	assert.Equal(t, domain.SaleReturnFull, full.Sale.ReturnStatus)
	assert.Equal(t, 20, f.stock(t, f.syrup))

	stored, err := f.svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleReturnFull, stored.ReturnStatus)
	require.NotNil(t, stored.ReturnDate)
	assert.Equal(t, f.now, *stored.ReturnDate)
	assert.Equal(t, "manager", stored.ReturnProcessedBy)

	history, err := f.svc.ListReturns(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestProcessReturnScenarioDRefrigeratedItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.commit(t, line(f.syrup, 1), line(f.insulin, 1))

	req := domain.ReturnRequest{
		SaleID: sale.ID,
		Selections: []domain.ReturnSelection{
			{SaleItemID: sale.Items[0].ID, Quantity: 1, ReturnType: domain.ReturnTypeReturn},
			{SaleItemID: sale.Items[1].ID, Quantity: 1, ReturnType: domain.ReturnTypeReturn},
		},
	}
	_, err := f.svc.ProcessReturn(ctx, req)
	requireCode(t, err, apperror.CodeItemNotReturnable)

	history, err := f.svc.ListReturns(ctx, sale.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, 19, f.stock(t, f.syrup))
	assert.Equal(t, 5, f.stock(t, f.insulin))
}

func TestProcessReturnRejectsExpiredWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.commit(t, line(f.syrup, 5))

	f.now = f.now.Add(7*24*time.Hour + time.Second)
	_, err := f.svc.ProcessReturn(ctx, returnOf(sale, 0, 1, domain.ReturnTypeReturn))
	requireCode(t, err, apperror.CodeReturnWindowExpired)
	assert.Equal(t, 15, f.stock(t, f.syrup))
}

func TestProcessReturnAllowsLastMomentOfWindow(t *testing.T) {
	f := newFixture(t)
	sale := f.commit(t, line(f.syrup, 5))

	f.now = f.now.Add(7 * 24 * time.Hour)
	_, err := f.svc.ProcessReturn(context.Background(), returnOf(sale, 0, 1, domain.ReturnTypeReturn))
	require.NoError(t, err)
}

func TestProcessReturnAggregatesQuantityPerItem(t *testing.T) {
	f := newFixture(t)
	sale := f.commit(t, line(f.syrup, 5))

	req := domain.ReturnRequest{
		SaleID: sale.ID,
		Selections: []domain.ReturnSelection{
			{SaleItemID: sale.Items[0].ID, Quantity: 3, ReturnType: domain.ReturnTypeReturn},
			{SaleItemID: sale.Items[0].ID, Quantity: 3, ReturnType: domain.ReturnTypeReplace},
		},
	}
	_, err := f.svc.ProcessReturn(context.Background(), req)
	appErr := requireCode(t, err, apperror.CodeReturnQtyExceeded)
	assert.Equal(t, 6, appErr.Details["requested"])
	assert.Equal(t, 5, appErr.Details["remaining"])
	assert.Equal(t, 15, f.stock(t, f.syrup))
}

func TestProcessReturnSelectionChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.commit(t, line(f.syrup, 2))

	_, err := f.svc.ProcessReturn(ctx, domain.ReturnRequest{SaleID: sale.ID})
	requireCode(t, err, apperror.CodeNoSelections)

	_, err = f.svc.ProcessReturn(ctx, returnOf(sale, 0, 1, domain.ReturnType("refund")))
	requireCode(t, err, apperror.CodeInvalidReturnType)

	_, err = f.svc.ProcessReturn(ctx, returnOf(sale, 0, 0, domain.ReturnTypeReturn))
	requireCode(t, err, apperror.CodeInvalidQuantity)

	req := returnOf(sale, 0, 1, domain.ReturnTypeReturn)
	req.Selections[0].SaleItemID = "si-unknown"
	_, err = f.svc.ProcessReturn(ctx, req)
	requireCode(t, err, apperror.CodeSaleItemNotFound)

	req = returnOf(sale, 0, 1, domain.ReturnTypeReturn)
	req.SaleID = "sale-missing"
	_, err = f.svc.ProcessReturn(ctx, req)
	requireCode(t, err, apperror.CodeSaleNotFound)
}

func TestProcessReturnReplaceKeepsStockAndRefundsNothing(t *testing.T) {
	f := newFixture(t)
	sale := f.commit(t, line(f.syrup, 5))

	result, err := f.svc.ProcessReturn(context.Background(), returnOf(sale, 0, 5, domain.ReturnTypeReplace))
	require.NoError(t, err)
	assert.True(t, result.RefundTotal.IsZero())
	assert.True(t, result.Returns[0].RefundAmount.IsZero())
	assert.Equal(t, domain.ItemReturnReturned, result.Sale.Items[0].ReturnStatus)
	assert.Equal(t, domain.SaleReturnFull, result.Sale.ReturnStatus)
	assert.Equal(t, 15, f.stock(t, f.syrup))
}

func TestProcessReturnRestoresPackBaseUnits(t *testing.T) {
	f := newFixture(t)
	sale := f.commit(t, line(f.tablets, 3), line(f.syrup, 1))
	require.Equal(t, 70, f.stock(t, f.tablets))

	result, err := f.svc.ProcessReturn(context.Background(), returnOf(sale, 0, 3, domain.ReturnTypeReturn))
	require.NoError(t, err)
	assert.Equal(t, 100, f.stock(t, f.tablets))
	assert.True(t, result.RefundTotal.Equal(dec("69")))
	assert.Equal(t, domain.SaleReturnPartial, result.Sale.ReturnStatus)
}

func TestProcessReturnRollsBackWholeBatch(t *testing.T) {
	f := newFixtureWithRepo(t, func(repo store.Repository) store.Repository {
		return &flakyRepo{Repository: repo, failOn: "sale_return_state"}
	})
	ctx := context.Background()
	sale := f.commit(t, line(f.syrup, 5), line(f.lipBalm, 2))

	req := domain.ReturnRequest{
		SaleID: sale.ID,
		Selections: []domain.ReturnSelection{
			{SaleItemID: sale.Items[0].ID, Quantity: 2, ReturnType: domain.ReturnTypeReturn},
			{SaleItemID: sale.Items[1].ID, Quantity: 1, ReturnType: domain.ReturnTypeReturn},
		},
	}
	_, err := f.svc.ProcessReturn(ctx, req)
	require.ErrorIs(t, err, errBoom)

	assert.Equal(t, 15, f.stock(t, f.syrup))
	assert.Equal(t, 38, f.stock(t, f.lipBalm))
	stored, err := f.svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleReturnNone, stored.ReturnStatus)
	for _, item := range stored.Items {
		assert.Equal(t, 0, item.ReturnQuantity)
	}
	history, err := f.svc.ListReturns(ctx, sale.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestReturnQuantityInvariantHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.commit(t, line(f.syrup, 4), line(f.lipBalm, 3))

	steps := []domain.ReturnRequest{
		returnOf(sale, 0, 1, domain.ReturnTypeReturn),
		returnOf(sale, 1, 3, domain.ReturnTypeReplace),
		returnOf(sale, 0, 3, domain.ReturnTypeReturn),
		returnOf(sale, 0, 1, domain.ReturnTypeReturn),
	}
	for i, step := range steps {
		_, err := f.svc.ProcessReturn(ctx, step)
		if i == 3 {
			requireCode(t, err, apperror.CodeReturnQtyExceeded)
		} else {
			require.NoError(t, err)
		}

		stored, err := f.svc.GetSale(ctx, sale.ID)
		require.NoError(t, err)
		for _, item := range stored.Items {
			assert.GreaterOrEqual(t, item.ReturnQuantity, 0)
			assert.LessOrEqual(t, item.ReturnQuantity, item.Quantity)
			assert.Equal(t, item.ReturnQuantity >= item.Quantity, item.ReturnStatus == domain.ItemReturnReturned)
		}
	}
}

func TestRecomputeReturnStatusIsIdempotent(t *testing.T) {
	items := []domain.SaleItem{
		{Quantity: 5, ReturnQuantity: 5},
		{Quantity: 2, ReturnQuantity: 1},
	}

	first := RecomputeReturnStatus(items, domain.SaleReturnNone)
	second := RecomputeReturnStatus(items, first)
	assert.Equal(t, domain.SaleReturnPartial, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, items[1].ReturnQuantity)

	items[1].ReturnQuantity = 2
	assert.Equal(t, domain.SaleReturnFull, RecomputeReturnStatus(items, domain.SaleReturnPartial))
	assert.Equal(t, domain.SaleReturnFull, RecomputeReturnStatus(items, domain.SaleReturnFull))

	untouched := []domain.SaleItem{{Quantity: 3}}
	assert.Equal(t, domain.SaleReturnNone, RecomputeReturnStatus(untouched, domain.SaleReturnNone))
	assert.Equal(t, domain.SaleReturnPartial, RecomputeReturnStatus(nil, domain.SaleReturnPartial))
}

func TestLookupSalesAnnotatesEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.commit(t, line(f.syrup, 1))
	f.now = f.now.Add(10 * 24 * time.Hour)
	recent := f.commit(t, line(f.syrup, 2), line(f.insulin, 1))
	_, err := f.svc.ProcessReturn(ctx, returnOf(recent, 0, 2, domain.ReturnTypeReturn))
	require.NoError(t, err)

	found, err := f.svc.LookupSales(ctx, "SALE-")
	require.NoError(t, err)
	require.Len(t, found.Sales, 2)

	first := found.Sales[0]
	assert.Equal(t, recent.ID, first.Sale.ID)
	assert.True(t, first.Returnable)
	assert.Equal(t, f.now.Add(7*24*time.Hour), first.ExpiresAt)
	require.Len(t, first.Items, 2)
	assert.False(t, first.Items[0].Selectable)
	assert.Equal(t, "fully returned", first.Items[0].Reason)
	assert.False(t, first.Items[1].Selectable)
	assert.Equal(t, "refrigerated or controlled item", first.Items[1].Reason)

	second := found.Sales[1]
	assert.Equal(t, old.ID, second.Sale.ID)
	assert.False(t, second.Returnable)
	require.Len(t, second.Items, 1)
	assert.False(t, second.Items[0].Selectable)
	assert.Equal(t, 1, second.Items[0].Remaining)

	fragment := recent.ID[len(recent.ID)-6:]
	narrowed, err := f.svc.LookupSales(ctx, fragment)
	require.NoError(t, err)
	require.Len(t, narrowed.Sales, 1)
	assert.Equal(t, recent.ID, narrowed.Sales[0].Sale.ID)
}

func TestLookupSalesIsBounded(t *testing.T) {
	f := newFixture(t)
	f.svc.lookupLimit = 2
	for i := 0; i < 3; i++ {
		f.now = f.now.Add(time.Minute)
		f.commit(t, line(f.lipBalm, 1))
	}

	found, err := f.svc.LookupSales(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, found.Sales, 2)
}

func TestProcessReturnRejectsQuantityBeyondBaseUnitRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// a sale line whose quantity no longer fits once multiplied by the pack
	sale, err := f.repo.InsertSale(ctx, domain.Sale{ShopID: testShop, SalesmanID: 1, SaleDate: f.now})
	require.NoError(t, err)
	require.NoError(t, f.repo.InsertSaleItems(ctx, []domain.SaleItem{{
		ID:           "si-huge",
		SaleID:       sale.ID,
		ItemType:     f.tablets.Type,
		ItemID:       f.tablets.ID,
		ItemName:     f.tablets.Name,
		SellingMode:  domain.SellingModePack,
		Quantity:     1844674407370955162,
		UnitPrice:    dec("23"),
		UnitsPerPack: 10,
		ReturnStatus: domain.ItemReturnNone,
	}}))

	_, err = f.svc.ProcessReturn(ctx, domain.ReturnRequest{
		SaleID: sale.ID,
		Selections: []domain.ReturnSelection{{
			SaleItemID: "si-huge",
			Quantity:   1844674407370955162,
			ReturnType: domain.ReturnTypeReturn,
		}},
	})
	appErr := requireCode(t, err, apperror.CodeInvalidQuantity)
	assert.Equal(t, 0, appErr.Details["selection"])
	assert.Equal(t, 100, f.stock(t, f.tablets))

	history, err := f.svc.ListReturns(ctx, sale.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestProcessReturnRejectsEachSelectionOverRemaining(t *testing.T) {
	f := newFixture(t)
	sale := f.commit(t, line(f.syrup, 5))

	req := returnOf(sale, 0, 6, domain.ReturnTypeReturn)
	_, err := f.svc.ProcessReturn(context.Background(), req)
	appErr := requireCode(t, err, apperror.CodeReturnQtyExceeded)
	assert.Equal(t, 6, appErr.Details["requested"])
	assert.Equal(t, 15, f.stock(t, f.syrup))
}
