package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrDuplicate          = errors.New("duplicate")
)

// SaleReturnUpdate is the set of return fields written back onto a Sale.
type SaleReturnUpdate struct {
	Status      domain.SaleReturnStatus
	ReturnDate  time.Time
	Reason      string
	ProcessedBy string
}

type Repository interface {
	ListSellableItems(ctx context.Context, shopID string, itemType domain.ItemType) ([]domain.Item, error)
	GetItem(ctx context.Context, itemType domain.ItemType, id int64) (*domain.Item, error)
	// GetItemForUpdate reads an item and, where the backend supports it,
	// locks the row until the surrounding WithinTx ends.
	GetItemForUpdate(ctx context.Context, itemType domain.ItemType, id int64) (*domain.Item, error)
	// DecrementStock subtracts qty only if at least qty is on hand, else
	// returns ErrInsufficientStock and leaves stock untouched.
	DecrementStock(ctx context.Context, itemType domain.ItemType, id int64, qty int) error
	IncrementStock(ctx context.Context, itemType domain.ItemType, id int64, qty int) error
	SetStock(ctx context.Context, itemType domain.ItemType, id int64, qty int) error

	GetSalesman(ctx context.Context, id int64) (*domain.Salesman, error)
	ListSalesmen(ctx context.Context, shopID string) ([]domain.Salesman, error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	ApplyLoyaltyAccrual(ctx context.Context, customerID int64, points int64, amountSpent decimal.Decimal) error

	InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	InsertSaleItems(ctx context.Context, items []domain.SaleItem) error
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, shopID string, key string) (*domain.Sale, error)
	SearchSales(ctx context.Context, shopID string, fragment string, limit int) ([]domain.Sale, error)

	InsertReturn(ctx context.Context, record domain.Return) error
	ListReturnsBySale(ctx context.Context, saleID string) ([]domain.Return, error)
	UpdateSaleItemReturnState(ctx context.Context, saleItemID string, returnQuantity int, status domain.ItemReturnStatus, at time.Time) error
	UpdateSaleReturnState(ctx context.Context, saleID string, update SaleReturnUpdate) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	// WithinTx runs fn against a repository bound to one unit of work. If fn
	// returns an error every write made through that repository is undone.
	// Calling WithinTx on the bound repository reuses the same unit.
	WithinTx(ctx context.Context, fn func(repo Repository) error) error
}
