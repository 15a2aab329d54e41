package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmapos/backend/internal/credential"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
)

type itemKey struct {
	itemType domain.ItemType
	id       int64
}

type data struct {
	items           map[itemKey]domain.Item
	nextItemID      int64
	salesmen        map[int64]domain.Salesman
	customers       map[int64]domain.Customer
	sales           map[string]domain.Sale
	salesByIdem     map[string]string
	saleItems       map[string]domain.SaleItem
	saleItemsBySale map[string][]string
	returns         []domain.Return
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// Store keeps everything in process memory. Reads take the read lock; a
// WithinTx unit holds the write lock for its whole duration.
type Store struct {
	mu sync.RWMutex
	d  *data
}

func New() *Store {
	return &Store{d: &data{
		items:           make(map[itemKey]domain.Item),
		salesmen:        make(map[int64]domain.Salesman),
		customers:       make(map[int64]domain.Customer),
		sales:           make(map[string]domain.Sale),
		salesByIdem:     make(map[string]string),
		saleItems:       make(map[string]domain.SaleItem),
		saleItemsBySale: make(map[string][]string),
		returns:         make([]domain.Return, 0, 64),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// if unset, dev defaults are used with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		zap.L().Named("memory-store").Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := credential.Hash(u.password)
		if err != nil {
			panic(fmt.Sprintf("memory-store: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  hash,
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small demo catalog for shopID.
func NewSeeded(shopID string) *Store {
	s := New()
	s.d.usersByUsername = seedUsers()

	expiry := time.Now().UTC().AddDate(1, 0, 0)
	price := decimal.RequireFromString
	items := []domain.Item{
		{Type: domain.ItemTypeMedicine, Name: "Paracetamol 500mg", BatchNo: "PCM-2401", Quantity: 400, SellingPrice: price("2.50"), PurchasePrice: price("1.60"), SellingType: domain.SellingModePack, UnitsPerPack: 10, PricePerPack: decimal.NewNullDecimal(price("23.00"))},
		{Type: domain.ItemTypeMedicine, Name: "Amoxicillin 250mg", BatchNo: "AMX-1187", Quantity: 160, SellingPrice: price("6.00"), PurchasePrice: price("4.10"), SellingType: domain.SellingModePack, UnitsPerPack: 8},
		{Type: domain.ItemTypeMedicine, Name: "Cough Syrup 120ml", BatchNo: "CSY-0932", Quantity: 45, SellingPrice: price("140.00"), PurchasePrice: price("98.00")},
		{Type: domain.ItemTypeMedicine, Name: "Insulin Glargine Pen", BatchNo: "INS-7710", Quantity: 12, SellingPrice: price("2450.00"), PurchasePrice: price("2100.00"), Refrigerated: true},
		{Type: domain.ItemTypeCosmetic, Name: "Sunscreen SPF50", BatchNo: "SUN-5012", Quantity: 30, SellingPrice: price("850.00"), PurchasePrice: price("610.00")},
		{Type: domain.ItemTypeCosmetic, Name: "Lip Balm", BatchNo: "LBM-3307", Quantity: 80, SellingPrice: price("180.00"), PurchasePrice: price("120.00")},
		{Type: domain.ItemTypeCosmetic, Name: "Hydrating Face Wash", BatchNo: "HFW-2210", Quantity: 0, SellingPrice: price("520.00"), PurchasePrice: price("390.00")},
	}
	for _, item := range items {
		item.ShopID = shopID
		item.ExpiryDate = &expiry
		s.PutItem(item)
	}

	s.PutSalesman(domain.Salesman{ID: 1, ShopID: shopID, Name: "Ayesha Khan", Active: true})
	s.PutSalesman(domain.Salesman{ID: 2, ShopID: shopID, Name: "Bilal Ahmed", Active: true})
	s.PutSalesman(domain.Salesman{ID: 3, ShopID: shopID, Name: "Usman Tariq", Active: false})
	s.PutCustomer(domain.Customer{ID: 1, Name: "Sara Malik", Phone: "03001234567"})
	s.PutCustomer(domain.Customer{ID: 2, Name: "Hamza Iqbal", Phone: "03217654321"})
	return s
}

// PutItem inserts or replaces a catalog item, assigning an id when zero.
func (s *Store) PutItem(item domain.Item) domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == 0 {
		s.d.nextItemID++
		item.ID = s.d.nextItemID
	} else if item.ID > s.d.nextItemID {
		s.d.nextItemID = item.ID
	}
	if item.SellingType == "" {
		item.SellingType = domain.SellingModeUnit
	}
	s.d.items[itemKey{item.Type, item.ID}] = item
	return item
}

func (s *Store) PutSalesman(salesman domain.Salesman) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.salesmen[salesman.ID] = salesman
}

func (s *Store) PutCustomer(customer domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.customers[customer.ID] = customer
}

func (s *Store) view() *unit {
	return &unit{d: s.d}
}

func (s *Store) WithinTx(ctx context.Context, fn func(repo store.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &unit{d: s.d, tracking: true}
	if err := fn(u); err != nil {
		u.rollback()
		return err
	}
	return nil
}

func (s *Store) ListSellableItems(ctx context.Context, shopID string, itemType domain.ItemType) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListSellableItems(ctx, shopID, itemType)
}

func (s *Store) GetItem(ctx context.Context, itemType domain.ItemType, id int64) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetItem(ctx, itemType, id)
}

func (s *Store) GetItemForUpdate(ctx context.Context, itemType domain.ItemType, id int64) (*domain.Item, error) {
	return s.GetItem(ctx, itemType, id)
}

func (s *Store) DecrementStock(ctx context.Context, itemType domain.ItemType, id int64, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().DecrementStock(ctx, itemType, id, qty)
}

func (s *Store) IncrementStock(ctx context.Context, itemType domain.ItemType, id int64, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().IncrementStock(ctx, itemType, id, qty)
}

func (s *Store) SetStock(ctx context.Context, itemType domain.ItemType, id int64, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().SetStock(ctx, itemType, id, qty)
}

func (s *Store) GetSalesman(ctx context.Context, id int64) (*domain.Salesman, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetSalesman(ctx, id)
}

func (s *Store) ListSalesmen(ctx context.Context, shopID string) ([]domain.Salesman, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListSalesmen(ctx, shopID)
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetCustomer(ctx, id)
}

func (s *Store) ApplyLoyaltyAccrual(ctx context.Context, customerID int64, points int64, amountSpent decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ApplyLoyaltyAccrual(ctx, customerID, points, amountSpent)
}

func (s *Store) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().InsertSale(ctx, sale)
}

func (s *Store) InsertSaleItems(ctx context.Context, items []domain.SaleItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().InsertSaleItems(ctx, items)
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().FindSaleByID(ctx, id)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, shopID string, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().FindSaleByIdempotency(ctx, shopID, key)
}

func (s *Store) SearchSales(ctx context.Context, shopID string, fragment string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().SearchSales(ctx, shopID, fragment, limit)
}

func (s *Store) InsertReturn(ctx context.Context, record domain.Return) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().InsertReturn(ctx, record)
}

func (s *Store) ListReturnsBySale(ctx context.Context, saleID string) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListReturnsBySale(ctx, saleID)
}

func (s *Store) UpdateSaleItemReturnState(ctx context.Context, saleItemID string, returnQuantity int, status domain.ItemReturnStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateSaleItemReturnState(ctx, saleItemID, returnQuantity, status, at)
}

func (s *Store) UpdateSaleReturnState(ctx context.Context, saleID string, update store.SaleReturnUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateSaleReturnState(ctx, saleID, update)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateAuditLog(ctx, entry)
}

func (s *Store) ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListAuditLogs(ctx, shopID, from, to, limit)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateUser(ctx, user)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListUsers(ctx)
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().UpdateUserPassword(ctx, username, password)
}

func cmpString(a string, b string) int {
	return strings.Compare(a, b)
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	if src.CustomerID != nil {
		id := *src.CustomerID
		dup.CustomerID = &id
	}
	dup.Items = slices.Clone(src.Items)
	return dup
}
