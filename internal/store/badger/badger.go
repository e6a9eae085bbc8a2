// Package badger backs the repository with an embedded document store. It is
// the single-machine deployment option: no external database, but the same
// optimistic commit contract as the postgres store. Concurrent checkouts that
// touch the same product row surface as store.ErrConflict and are replayed by
// the caller.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"kasirkita/backend/internal/domain"
	"kasirkita/backend/internal/store"
	"kasirkita/backend/internal/xid"
)

const (
	productPrefix = "product/"
	salePrefix    = "sale/"
	userPrefix    = "user/"
)

type Store struct {
	db  *badger.DB
	loc *time.Location
}

func Open(dir string, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.UTC
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &Store{db: db, loc: loc}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func productKey(code string) []byte {
	return []byte(productPrefix + code)
}

// saleKey orders sales by commit time so a reverse prefix scan yields
// newest-first without a separate index.
func saleKey(ts time.Time, id string) []byte {
	return []byte(salePrefix + ts.UTC().Format(time.RFC3339Nano) + "/" + id)
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return txn.Set(key, raw)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 128)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(productPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var p domain.Product
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			products = append(products, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(products, func(i, j int) bool { return products[i].Code < products[j].Code })
	return products, nil
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, productKey(code), &p)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	if product.Code == "" || product.CostCents < 0 || product.MarginPercent < 0 || product.Stock < 0 {
		return fmt.Errorf("invalid product %q", product.Code)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, productKey(product.Code), product)
	})
}

// CommitSale reads every product the draft touches inside one optimistic
// transaction, validates stock against those reads, then writes decremented
// products and the sale document. If another commit changed any read key
// before ours lands, badger rejects the commit and the caller retries.
func (s *Store) CommitSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error) {
	if len(draft.Lines) == 0 {
		return nil, store.ErrEmptyCart
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

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

	productByCode := make(map[string]domain.Product, len(codes))
	for _, code := range codes {
		var p domain.Product
		if err := getJSON(txn, productKey(code), &p); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, code)
			}
			return nil, err
		}
		if p.Stock < requested[code] {
			return nil, fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, code, p.Stock, requested[code])
		}
		productByCode[code] = p
	}

	for _, code := range codes {
		p := productByCode[code]
		p.Stock -= requested[code]
		if err := setJSON(txn, productKey(code), p); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	sale := domain.Sale{
		ID:        xid.New("sale"),
		Timestamp: now,
		LocalDate: now.In(s.loc).Format("2006-01-02"),
		Cashier:   draft.Cashier,
	}
	for _, line := range draft.Lines {
		item := domain.SaleItem{
			Name:           line.Name,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
		}
		if !line.Untracked {
			item.Code = line.Code
			item.UnitCostCents = productByCode[line.Code].CostCents
		}
		sale.Items = append(sale.Items, item)
		sale.TotalCents += line.SubtotalCents()
	}

	if err := setJSON(txn, saleKey(sale.Timestamp, sale.ID), sale); err != nil {
		return nil, err
	}

	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	var found *domain.Sale
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(salePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if !strings.HasSuffix(key, "/"+id) {
				continue
			}
			var sale domain.Sale
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sale)
			}); err != nil {
				return err
			}
			found = &sale
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}

	sales := make([]domain.Sale, 0, 64)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(salePrefix)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the whole prefix range.
		seek := []byte(salePrefix + "\xff")
		for it.Seek(seek); it.Valid(); it.Next() {
			var sale domain.Sale
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sale)
			}); err != nil {
				return err
			}
			if sale.Timestamp.Before(from) {
				break
			}
			if !sale.Timestamp.Before(to) {
				continue
			}
			sales = append(sales, sale)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return fmt.Errorf("invalid user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	key := []byte(userPrefix + user.Username)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("user %s already exists", user.Username)
		}
		return setJSON(txn, key, user)
	})
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(userPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var user domain.UserAccount
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &user)
			}); err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	key := []byte(userPrefix + username)
	return s.db.Update(func(txn *badger.Txn) error {
		var user domain.UserAccount
		if err := getJSON(txn, key, &user); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		user.Password = password
		return setJSON(txn, key, user)
	})
}
