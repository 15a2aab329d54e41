package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
	"pharmapos/backend/internal/xid"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
	sb squirrel.StatementBuilderType
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened pool.
func NewWithDB(db *sql.DB) *Store {
	return &Store{
		db: db,
		q:  db,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx runs fn in a serializable transaction. A store already bound to
// a transaction runs fn directly so nested calls share one unit of work.
func (s *Store) WithinTx(ctx context.Context, fn func(repo store.Repository) error) error {
	if s.tx != nil {
		return fn(s)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	bound := &Store{db: s.db, q: pgTx, tx: pgTx, sb: s.sb}
	if err := fn(bound); err != nil {
		return err
	}
	return pgTx.Commit()
}

var itemColumns = []string{
	"id", "shop_id", "name", "batch_no", "quantity", "selling_price", "purchase_price",
	"selling_type", "units_per_pack", "price_per_pack", "expiry_date", "refrigerated",
}

func itemTable(itemType domain.ItemType) (string, error) {
	switch itemType {
	case domain.ItemTypeMedicine:
		return "medicines", nil
	case domain.ItemTypeCosmetic:
		return "cosmetics", nil
	default:
		return "", store.ErrInvalidTransaction
	}
}

func (s *Store) selectItems(itemType domain.ItemType) (squirrel.SelectBuilder, error) {
	table, err := itemTable(itemType)
	if err != nil {
		return squirrel.SelectBuilder{}, err
	}
	columns := append([]string{fmt.Sprintf("'%s' AS item_type", itemType)}, itemColumns...)
	return s.sb.Select(columns...).From(table), nil
}

func (s *Store) ListSellableItems(ctx context.Context, shopID string, itemType domain.ItemType) ([]domain.Item, error) {
	q, err := s.selectItems(itemType)
	if err != nil {
		return nil, err
	}
	q = q.Where(squirrel.Gt{"quantity": 0}).OrderBy("name ASC", "id ASC")
	if shopID != "" {
		q = q.Where(squirrel.Eq{"shop_id": shopID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	items := make([]domain.Item, 0, 64)
	if err := sqlscan.Select(ctx, s.q, &items, query, args...); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, itemType domain.ItemType, id int64) (*domain.Item, error) {
	return s.getItem(ctx, itemType, id, false)
}

func (s *Store) GetItemForUpdate(ctx context.Context, itemType domain.ItemType, id int64) (*domain.Item, error) {
	return s.getItem(ctx, itemType, id, s.tx != nil)
}

func (s *Store) getItem(ctx context.Context, itemType domain.ItemType, id int64, lock bool) (*domain.Item, error) {
	q, err := s.selectItems(itemType)
	if err != nil {
		return nil, err
	}
	q = q.Where(squirrel.Eq{"id": id})
	if lock {
		q = q.Suffix("FOR UPDATE")
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var item domain.Item
	if err := sqlscan.Get(ctx, s.q, &item, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) DecrementStock(ctx context.Context, itemType domain.ItemType, id int64, qty int) error {
	if qty < 1 {
		return store.ErrInvalidTransaction
	}
	table, err := itemTable(itemType)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET quantity = quantity - $1
		WHERE id = $2 AND quantity >= $1
	`, table), qty, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		found, err := s.exists(ctx, table, "id", id)
		if err != nil {
			return err
		}
		if !found {
			return store.ErrNotFound
		}
		return store.ErrInsufficientStock
	}
	return nil
}

func (s *Store) IncrementStock(ctx context.Context, itemType domain.ItemType, id int64, qty int) error {
	if qty < 1 {
		return store.ErrInvalidTransaction
	}
	return s.updateStock(ctx, itemType, "quantity = quantity + $1", qty, id)
}

func (s *Store) SetStock(ctx context.Context, itemType domain.ItemType, id int64, qty int) error {
	if qty < 0 {
		return store.ErrInvalidTransaction
	}
	return s.updateStock(ctx, itemType, "quantity = $1", qty, id)
}

func (s *Store) updateStock(ctx context.Context, itemType domain.ItemType, set string, qty int, id int64) error {
	table, err := itemTable(itemType)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id = $2`, table, set), qty, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) GetSalesman(ctx context.Context, id int64) (*domain.Salesman, error) {
	var salesman domain.Salesman
	err := sqlscan.Get(ctx, s.q, &salesman, `
		SELECT id, shop_id, name, active
		FROM salesmen
		WHERE id = $1
	`, id)
	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &salesman, nil
}

func (s *Store) ListSalesmen(ctx context.Context, shopID string) ([]domain.Salesman, error) {
	q := s.sb.Select("id", "shop_id", "name", "active").
		From("salesmen").
		Where(squirrel.Eq{"active": true}).
		OrderBy("name ASC")
	if shopID != "" {
		q = q.Where(squirrel.Eq{"shop_id": shopID})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	salesmen := make([]domain.Salesman, 0, 16)
	if err := sqlscan.Select(ctx, s.q, &salesmen, query, args...); err != nil {
		return nil, err
	}
	return salesmen, nil
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var customer domain.Customer
	err := sqlscan.Get(ctx, s.q, &customer, `
		SELECT id, name, phone, loyalty_points, total_purchases, total_spent
		FROM customers
		WHERE id = $1
	`, id)
	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &customer, nil
}

func (s *Store) ApplyLoyaltyAccrual(ctx context.Context, customerID int64, points int64, amountSpent decimal.Decimal) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE customers
		SET loyalty_points = loyalty_points + $2,
			total_purchases = total_purchases + 1,
			total_spent = total_spent + $3
		WHERE id = $1
	`, customerID, points, amountSpent)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const saleColumns = `
	id, shop_id, COALESCE(idempotency_key, '') AS idempotency_key, salesman_id, salesman_name,
	customer_id, sale_date, subtotal, discount_percentage, discount_amount, tax, total_amount,
	total_profit, loyalty_points_earned, return_status, return_date, return_reason, return_processed_by`

var saleItemColumns = []string{
	"id", "sale_id", "item_type", "item_id", "item_name", "batch_no", "selling_mode", "quantity",
	"unit_price", "total_price", "profit", "units_per_pack", "total_base_units", "total_packs",
	"refrigerated", "return_status", "return_quantity", "return_date",
}

func (s *Store) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SaleDate.IsZero() {
		sale.SaleDate = time.Now().UTC()
	}
	if sale.ReturnStatus == "" {
		sale.ReturnStatus = domain.SaleReturnNone
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sales (
			id, shop_id, idempotency_key, salesman_id, salesman_name, customer_id, sale_date,
			subtotal, discount_percentage, discount_amount, tax, total_amount, total_profit,
			loyalty_points_earned, return_status
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		sale.ID, sale.ShopID, nullIfEmpty(sale.IdempotencyKey), sale.SalesmanID, sale.SalesmanName,
		sale.CustomerID, sale.SaleDate, sale.Subtotal, sale.DiscountPercentage, sale.DiscountAmount,
		sale.Tax, sale.TotalAmount, sale.TotalProfit, sale.LoyaltyPoints, sale.ReturnStatus,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := sale
	created.Items = nil
	return &created, nil
}

func (s *Store) InsertSaleItems(ctx context.Context, items []domain.SaleItem) error {
	if len(items) == 0 {
		return nil
	}

	q := s.sb.Insert("sale_items").Columns(saleItemColumns...)
	for _, item := range items {
		if item.Quantity < 1 {
			return store.ErrInvalidTransaction
		}
		if item.ID == "" {
			item.ID = xid.New("si")
		}
		if item.ReturnStatus == "" {
			item.ReturnStatus = domain.ItemReturnNone
		}
		q = q.Values(
			item.ID, item.SaleID, item.ItemType, item.ItemID, item.ItemName, item.BatchNo, item.SellingMode,
			item.Quantity, item.UnitPrice, item.TotalPrice, item.Profit, item.UnitsPerPack,
			item.TotalBaseUnits, item.TotalPacks, item.Refrigerated, item.ReturnStatus,
			item.ReturnQuantity, nullTime(item.ReturnDate),
		)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, squirrel.Eq{"id": id})
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, shopID string, key string) (*domain.Sale, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return s.findSale(ctx, squirrel.Eq{"shop_id": shopID, "idempotency_key": key})
}

func (s *Store) findSale(ctx context.Context, where squirrel.Eq) (*domain.Sale, error) {
	query, args, err := s.sb.Select(saleColumns).From("sales").Where(where).ToSql()
	if err != nil {
		return nil, err
	}
	var sale domain.Sale
	err = sqlscan.Get(ctx, s.q, &sale, query, args...)
	if err != nil {
		if sqlscan.NotFound(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := s.attachItems(ctx, []*domain.Sale{&sale}); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) SearchSales(ctx context.Context, shopID string, fragment string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 20
	}
	q := s.sb.Select(saleColumns).
		From("sales").
		OrderBy("sale_date DESC", "id DESC").
		Limit(uint64(limit))
	if fragment = strings.TrimSpace(fragment); fragment != "" {
		q = q.Where(squirrel.ILike{"id": "%" + escapeLike(fragment) + "%"})
	}
	if shopID != "" {
		q = q.Where(squirrel.Eq{"shop_id": shopID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	sales := make([]domain.Sale, 0, limit)
	if err := sqlscan.Select(ctx, s.q, &sales, query, args...); err != nil {
		return nil, err
	}

	refs := make([]*domain.Sale, 0, len(sales))
	for i := range sales {
		refs = append(refs, &sales[i])
	}
	if err := s.attachItems(ctx, refs); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) attachItems(ctx context.Context, sales []*domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]string, 0, len(sales))
	byID := make(map[string]*domain.Sale, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
		byID[sale.ID] = sale
		sale.Items = make([]domain.SaleItem, 0, 4)
	}

	query, args, err := s.sb.Select(saleItemColumns...).
		From("sale_items").
		Where(squirrel.Eq{"sale_id": ids}).
		OrderBy("sale_id", "seq").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	var items []domain.SaleItem
	if err := sqlscan.Select(ctx, s.q, &items, query, args...); err != nil {
		return err
	}
	for _, item := range items {
		if sale, ok := byID[item.SaleID]; ok {
			sale.Items = append(sale.Items, item)
		}
	}
	return nil
}

func (s *Store) InsertReturn(ctx context.Context, record domain.Return) error {
	if record.Quantity < 1 || !record.ReturnType.Valid() {
		return store.ErrInvalidTransaction
	}
	if record.ID == "" {
		record.ID = xid.New("ret")
	}
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO returns (
			id, sale_id, sale_item_id, return_type, quantity, refund_amount, reason, processed_by, processed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, record.ID, record.SaleID, record.SaleItemID, record.ReturnType, record.Quantity,
		record.RefundAmount, record.Reason, record.ProcessedBy, record.ProcessedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) ListReturnsBySale(ctx context.Context, saleID string) ([]domain.Return, error) {
	records := make([]domain.Return, 0, 8)
	err := sqlscan.Select(ctx, s.q, &records, `
		SELECT id, sale_id, sale_item_id, return_type, quantity, refund_amount, reason, processed_by, processed_at
		FROM returns
		WHERE sale_id = $1
		ORDER BY processed_at ASC, id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) UpdateSaleItemReturnState(ctx context.Context, saleItemID string, returnQuantity int, status domain.ItemReturnStatus, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE sale_items
		SET return_quantity = $2, return_status = $3, return_date = $4
		WHERE id = $1 AND return_quantity <= $2 AND quantity >= $2
	`, saleItemID, returnQuantity, status, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		found, err := s.exists(ctx, "sale_items", "id", saleItemID)
		if err != nil {
			return err
		}
		if !found {
			return store.ErrNotFound
		}
		return store.ErrInvalidTransaction
	}
	return nil
}

func (s *Store) UpdateSaleReturnState(ctx context.Context, saleID string, update store.SaleReturnUpdate) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE sales
		SET return_status = $2, return_date = $3, return_reason = $4, return_processed_by = $5
		WHERE id = $1
	`, saleID, update.Status, update.ReturnDate, update.Reason, update.ProcessedBy)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ShopID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, shopID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	logs := make([]domain.AuditLog, 0, limit)
	err := sqlscan.Select(ctx, s.q, &logs, `
		SELECT id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE shop_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, shopID, from, to, limit)
	if err != nil {
		return nil, err
	}
	for i := range logs {
		logs[i].CreatedAt = logs[i].CreatedAt.UTC()
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO app_users (username, password_hash, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	err := sqlscan.Select(ctx, s.q, &users, `
		SELECT username, password_hash, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].CreatedAt = users[i].CreatedAt.UTC()
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE app_users
		SET password_hash = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) exists(ctx context.Context, table string, column string, value any) (bool, error) {
	var found bool
	err := s.q.QueryRowContext(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)`, table, column), value).Scan(&found)
	return found, err
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func escapeLike(val string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(val)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
