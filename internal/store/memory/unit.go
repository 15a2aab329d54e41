package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
	"pharmapos/backend/internal/xid"
)

// unit operates on the store data without locking; the caller holds the
// lock. When tracking, every write pushes an undo step so a failed unit of
// work can be rolled back.
type unit struct {
	d        *data
	tracking bool
	undo     []func()
}

func (u *unit) record(step func()) {
	if u.tracking {
		u.undo = append(u.undo, step)
	}
}

func (u *unit) rollback() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.undo = nil
}

func (u *unit) WithinTx(_ context.Context, fn func(repo store.Repository) error) error {
	return fn(u)
}

func (u *unit) ListSellableItems(_ context.Context, shopID string, itemType domain.ItemType) ([]domain.Item, error) {
	items := make([]domain.Item, 0, 32)
	for key, item := range u.d.items {
		if key.itemType != itemType || item.Quantity <= 0 {
			continue
		}
		if shopID != "" && item.ShopID != "" && item.ShopID != shopID {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Name == b.Name {
			return int(a.ID - b.ID)
		}
		return cmpString(a.Name, b.Name)
	})
	return items, nil
}

func (u *unit) GetItem(_ context.Context, itemType domain.ItemType, id int64) (*domain.Item, error) {
	item, exists := u.d.items[itemKey{itemType, id}]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (u *unit) GetItemForUpdate(ctx context.Context, itemType domain.ItemType, id int64) (*domain.Item, error) {
	return u.GetItem(ctx, itemType, id)
}

func (u *unit) adjustStock(itemType domain.ItemType, id int64, next func(current int) (int, error)) error {
	key := itemKey{itemType, id}
	item, exists := u.d.items[key]
	if !exists {
		return store.ErrNotFound
	}
	qty, err := next(item.Quantity)
	if err != nil {
		return err
	}
	previous := item.Quantity
	item.Quantity = qty
	u.d.items[key] = item
	u.record(func() {
		restored := u.d.items[key]
		restored.Quantity = previous
		u.d.items[key] = restored
	})
	return nil
}

func (u *unit) DecrementStock(_ context.Context, itemType domain.ItemType, id int64, qty int) error {
	if qty < 1 {
		return store.ErrInvalidTransaction
	}
	return u.adjustStock(itemType, id, func(current int) (int, error) {
		if current < qty {
			return current, store.ErrInsufficientStock
		}
		return current - qty, nil
	})
}

func (u *unit) IncrementStock(_ context.Context, itemType domain.ItemType, id int64, qty int) error {
	if qty < 1 {
		return store.ErrInvalidTransaction
	}
	return u.adjustStock(itemType, id, func(current int) (int, error) {
		return current + qty, nil
	})
}

func (u *unit) SetStock(_ context.Context, itemType domain.ItemType, id int64, qty int) error {
	if qty < 0 {
		return store.ErrInvalidTransaction
	}
	return u.adjustStock(itemType, id, func(int) (int, error) {
		return qty, nil
	})
}

func (u *unit) GetSalesman(_ context.Context, id int64) (*domain.Salesman, error) {
	salesman, exists := u.d.salesmen[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &salesman, nil
}

func (u *unit) ListSalesmen(_ context.Context, shopID string) ([]domain.Salesman, error) {
	result := make([]domain.Salesman, 0, len(u.d.salesmen))
	for _, salesman := range u.d.salesmen {
		if !salesman.Active {
			continue
		}
		if shopID != "" && salesman.ShopID != "" && salesman.ShopID != shopID {
			continue
		}
		result = append(result, salesman)
	}
	slices.SortFunc(result, func(a, b domain.Salesman) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (u *unit) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	customer, exists := u.d.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (u *unit) ApplyLoyaltyAccrual(_ context.Context, customerID int64, points int64, amountSpent decimal.Decimal) error {
	customer, exists := u.d.customers[customerID]
	if !exists {
		return store.ErrNotFound
	}
	previous := customer
	customer.LoyaltyPoints += points
	customer.TotalPurchases++
	customer.TotalSpent = customer.TotalSpent.Add(amountSpent)
	u.d.customers[customerID] = customer
	u.record(func() { u.d.customers[customerID] = previous })
	return nil
}

func (u *unit) InsertSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if _, exists := u.d.sales[sale.ID]; exists {
		return nil, store.ErrDuplicate
	}
	idem := idempotencyKey(sale.ShopID, sale.IdempotencyKey)
	if sale.IdempotencyKey != "" {
		if _, exists := u.d.salesByIdem[idem]; exists {
			return nil, store.ErrDuplicate
		}
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = time.Now().UTC()
	}
	if sale.ReturnStatus == "" {
		sale.ReturnStatus = domain.SaleReturnNone
	}
	sale.Items = nil

	u.d.sales[sale.ID] = cloneSale(sale)
	if sale.IdempotencyKey != "" {
		u.d.salesByIdem[idem] = sale.ID
	}
	u.record(func() {
		delete(u.d.sales, sale.ID)
		if sale.IdempotencyKey != "" {
			delete(u.d.salesByIdem, idem)
		}
	})

	created := cloneSale(sale)
	return &created, nil
}

func (u *unit) InsertSaleItems(_ context.Context, items []domain.SaleItem) error {
	for _, item := range items {
		if _, exists := u.d.sales[item.SaleID]; !exists {
			return store.ErrNotFound
		}
		if item.Quantity < 1 {
			return store.ErrInvalidTransaction
		}
	}
	for _, item := range items {
		if item.ID == "" {
			item.ID = xid.New("si")
		}
		if item.ReturnStatus == "" {
			item.ReturnStatus = domain.ItemReturnNone
		}
		saleID := item.SaleID
		previous := u.d.saleItemsBySale[saleID]
		u.d.saleItems[item.ID] = item
		u.d.saleItemsBySale[saleID] = append(slices.Clone(previous), item.ID)

		itemID := item.ID
		u.record(func() {
			delete(u.d.saleItems, itemID)
			u.d.saleItemsBySale[saleID] = previous
		})
	}
	return nil
}

func (u *unit) loadSale(id string) (domain.Sale, bool) {
	sale, exists := u.d.sales[id]
	if !exists {
		return domain.Sale{}, false
	}
	sale = cloneSale(sale)
	ids := u.d.saleItemsBySale[id]
	sale.Items = make([]domain.SaleItem, 0, len(ids))
	for _, itemID := range ids {
		sale.Items = append(sale.Items, u.d.saleItems[itemID])
	}
	return sale, true
}

func (u *unit) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	sale, exists := u.loadSale(id)
	if !exists {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

// Idempotency keys are unique per shop, not globally.
func idempotencyKey(shopID string, key string) string {
	return shopID + "\x00" + key
}

func (u *unit) FindSaleByIdempotency(ctx context.Context, shopID string, key string) (*domain.Sale, error) {
	id, exists := u.d.salesByIdem[idempotencyKey(shopID, key)]
	if !exists || key == "" {
		return nil, store.ErrNotFound
	}
	return u.FindSaleByID(ctx, id)
}

func (u *unit) SearchSales(_ context.Context, shopID string, fragment string, limit int) ([]domain.Sale, error) {
	fragment = strings.ToLower(strings.TrimSpace(fragment))
	result := make([]domain.Sale, 0, 16)
	for id, sale := range u.d.sales {
		if shopID != "" && sale.ShopID != shopID {
			continue
		}
		if fragment != "" && !strings.Contains(strings.ToLower(id), fragment) {
			continue
		}
		loaded, _ := u.loadSale(id)
		result = append(result, loaded)
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.SaleDate.Equal(b.SaleDate) {
			return cmpString(b.ID, a.ID)
		}
		if a.SaleDate.After(b.SaleDate) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (u *unit) InsertReturn(_ context.Context, record domain.Return) error {
	if record.Quantity < 1 || !record.ReturnType.Valid() {
		return store.ErrInvalidTransaction
	}
	item, exists := u.d.saleItems[record.SaleItemID]
	if !exists || item.SaleID != record.SaleID {
		return store.ErrNotFound
	}
	if record.ID == "" {
		record.ID = xid.New("ret")
	}
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now().UTC()
	}
	size := len(u.d.returns)
	u.d.returns = append(u.d.returns, record)
	u.record(func() { u.d.returns = u.d.returns[:size] })
	return nil
}

func (u *unit) ListReturnsBySale(_ context.Context, saleID string) ([]domain.Return, error) {
	result := make([]domain.Return, 0, 8)
	for _, record := range u.d.returns {
		if record.SaleID == saleID {
			result = append(result, record)
		}
	}
	return result, nil
}

func (u *unit) UpdateSaleItemReturnState(_ context.Context, saleItemID string, returnQuantity int, status domain.ItemReturnStatus, at time.Time) error {
	item, exists := u.d.saleItems[saleItemID]
	if !exists {
		return store.ErrNotFound
	}
	if returnQuantity < item.ReturnQuantity || returnQuantity > item.Quantity {
		return store.ErrInvalidTransaction
	}
	previous := item
	item.ReturnQuantity = returnQuantity
	item.ReturnStatus = status
	item.ReturnDate = &at
	u.d.saleItems[saleItemID] = item
	u.record(func() { u.d.saleItems[saleItemID] = previous })
	return nil
}

func (u *unit) UpdateSaleReturnState(_ context.Context, saleID string, update store.SaleReturnUpdate) error {
	sale, exists := u.d.sales[saleID]
	if !exists {
		return store.ErrNotFound
	}
	previous := sale
	at := update.ReturnDate
	sale.ReturnStatus = update.Status
	sale.ReturnDate = &at
	sale.ReturnReason = update.Reason
	sale.ReturnProcessedBy = update.ProcessedBy
	u.d.sales[saleID] = sale
	u.record(func() { u.d.sales[saleID] = previous })
	return nil
}

func (u *unit) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	size := len(u.d.auditLogs)
	u.d.auditLogs = append(u.d.auditLogs, entry)
	u.record(func() { u.d.auditLogs = u.d.auditLogs[:size] })
	return nil
}

func (u *unit) ListAuditLogs(_ context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range u.d.auditLogs {
		if shopID != "" && entry.ShopID != shopID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (u *unit) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := u.d.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	u.d.usersByUsername[username] = user
	u.record(func() { delete(u.d.usersByUsername, username) })
	return nil
}

func (u *unit) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, len(u.d.usersByUsername))
	for _, user := range u.d.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (u *unit) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := u.d.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	previous := user
	user.Password = password
	u.d.usersByUsername[username] = user
	u.record(func() { u.d.usersByUsername[username] = previous })
	return nil
}
