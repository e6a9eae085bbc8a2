package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirkita/backend/internal/domain"
	"kasirkita/backend/internal/store"
	"kasirkita/backend/internal/xid"
)

type Store struct {
	db  *sql.DB
	loc *time.Location
}

func New(ctx context.Context, databaseURL string, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.UTC
	}

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

	return &Store{db: db, loc: loc}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, cost_cents, margin_percent, stock, low_threshold
		FROM products
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		var threshold sql.NullInt64
		if err := rows.Scan(&p.Code, &p.Name, &p.CostCents, &p.MarginPercent, &p.Stock, &threshold); err != nil {
			return nil, err
		}
		if threshold.Valid {
			v := int(threshold.Int64)
			p.LowThreshold = &v
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	var p domain.Product
	var threshold sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT code, name, cost_cents, margin_percent, stock, low_threshold
		FROM products
		WHERE code = $1
	`, code).Scan(&p.Code, &p.Name, &p.CostCents, &p.MarginPercent, &p.Stock, &threshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if threshold.Valid {
		v := int(threshold.Int64)
		p.LowThreshold = &v
	}
	return &p, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	if product.Code == "" || product.CostCents < 0 || product.MarginPercent < 0 || product.Stock < 0 {
		return fmt.Errorf("invalid product %q", product.Code)
	}

	var threshold sql.NullInt64
	if product.LowThreshold != nil {
		threshold = sql.NullInt64{Int64: int64(*product.LowThreshold), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (code, name, cost_cents, margin_percent, stock, low_threshold, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name,
		    cost_cents = EXCLUDED.cost_cents,
		    margin_percent = EXCLUDED.margin_percent,
		    stock = EXCLUDED.stock,
		    low_threshold = EXCLUDED.low_threshold,
		    updated_at = now()
	`, product.Code, product.Name, product.CostCents, product.MarginPercent, product.Stock, threshold)
	return err
}

// CommitSale runs the checkout's read-validate-write sequence in one
// serializable transaction. Row locks on the product rows make concurrent
// commits against the same product serialize; serialization failures map to
// store.ErrConflict so the caller's retry loop re-runs with fresh reads.
func (s *Store) CommitSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error) {
	if len(draft.Lines) == 0 {
		return nil, store.ErrEmptyCart
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	requested := make(map[string]int, len(draft.Lines))
	codes := make([]string, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		if line.Untracked {
			continue
		}
		if _, seen := requested[line.Code]; !seen {
			codes = append(codes, line.Code)
		}
		requested[line.Code] += line.Qty
	}

	costByCode := make(map[string]int64, len(codes))
	if len(codes) > 0 {
		rows, err := pgTx.QueryContext(ctx, `
			SELECT code, cost_cents, stock
			FROM products
			WHERE code = ANY($1)
			FOR UPDATE
		`, codes)
		if err != nil {
			return nil, mapTxError(err)
		}
		stockByCode := make(map[string]int, len(codes))
		for rows.Next() {
			var code string
			var costCents int64
			var stock int
			if err := rows.Scan(&code, &costCents, &stock); err != nil {
				_ = rows.Close()
				return nil, err
			}
			costByCode[code] = costCents
			stockByCode[code] = stock
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, mapTxError(err)
		}
		_ = rows.Close()

		for _, code := range codes {
			if _, exists := costByCode[code]; !exists {
				return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, code)
			}
			if stockByCode[code] < requested[code] {
				return nil, fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, code, stockByCode[code], requested[code])
			}
		}

		for _, code := range codes {
			if _, err := pgTx.ExecContext(ctx, `
				UPDATE products
				SET stock = stock - $1, updated_at = now()
				WHERE code = $2
			`, requested[code], code); err != nil {
				return nil, mapTxError(err)
			}
		}
	}

	now := time.Now().UTC()
	sale := domain.Sale{
		ID:        xid.New("sale"),
		Timestamp: now,
		LocalDate: now.In(s.loc).Format("2006-01-02"),
		Cashier:   draft.Cashier,
	}

	items := make([]domain.SaleItem, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		item := domain.SaleItem{
			Name:           line.Name,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
		}
		if !line.Untracked {
			item.Code = line.Code
			item.UnitCostCents = costByCode[line.Code]
		}
		items = append(items, item)
		sale.TotalCents += line.SubtotalCents()
	}
	sale.Items = items

	if _, err := pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, ts, local_date, cashier, total_cents)
		VALUES ($1,$2,$3,$4,$5)
	`, sale.ID, sale.Timestamp, sale.LocalDate, sale.Cashier, sale.TotalCents); err != nil {
		return nil, mapTxError(err)
	}

	for _, item := range sale.Items {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, code, name, qty, unit_price_cents, unit_cost_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, nullIfEmpty(item.Code), item.Name, item.Qty, item.UnitPriceCents, item.UnitCostCents); err != nil {
			return nil, mapTxError(err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapTxError(err)
	}

	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ts, local_date, cashier, total_cents
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.Timestamp, &sale.LocalDate, &sale.Cashier, &sale.TotalCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.loadItems(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, local_date, cashier, total_cents
		FROM sales
		WHERE ts >= $1 AND ts < $2
		ORDER BY ts DESC, id DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.Timestamp, &sale.LocalDate, &sale.Cashier, &sale.TotalCents); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return sales, nil
	}

	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) loadItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, code, name, qty, unit_price_cents, unit_cost_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY id
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.SaleItem, len(saleIDs))
	for rows.Next() {
		var saleID string
		var code sql.NullString
		var item domain.SaleItem
		if err := rows.Scan(&saleID, &code, &item.Name, &item.Qty, &item.UnitPriceCents, &item.UnitCostCents); err != nil {
			return nil, err
		}
		item.Code = code.String
		out[saleID] = append(out[saleID], item)
	}
	return out, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return fmt.Errorf("invalid user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("user %s already exists", user.Username)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapTxError turns serialization failures and deadlocks into the retryable
// conflict sentinel; everything else passes through.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
