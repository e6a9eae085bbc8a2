package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirkita/backend/internal/domain"
	"kasirkita/backend/internal/store"
	"kasirkita/backend/internal/xid"
)

// Store is the in-memory repository for dev and tests. CommitSale holds the
// write lock for the whole read-validate-write sequence, so commits are
// atomic and never conflict; the lock stands in for the transaction
// primitive the durable backends provide.
type Store struct {
	mu              sync.RWMutex
	loc             *time.Location
	products        map[string]domain.Product
	salesByID       map[string]*domain.Sale
	salesOrdered    []string
	usersByUsername map[string]domain.UserAccount
}

func New(loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{
		loc:             loc,
		products:        make(map[string]domain.Product),
		salesByID:       make(map[string]*domain.Sale),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial user accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; unset variables
// fall back to dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
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
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
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

func NewSeeded(loc *time.Location) *Store {
	s := New(loc)

	low := func(n int) *int { return &n }
	products := []domain.Product{
		{Code: "SKU-MIE-01", Name: "Mie Goreng Instan", CostCents: 2700, MarginPercent: 22, Stock: 120, LowThreshold: low(20)},
		{Code: "SKU-TELUR-01", Name: "Telur 10 Butir", CostCents: 23400, MarginPercent: 13, Stock: 80, LowThreshold: low(10)},
		{Code: "SKU-SUSU-01", Name: "Susu UHT 1L", CostCents: 14800, MarginPercent: 28, Stock: 60, LowThreshold: low(12)},
		{Code: "SKU-ROTI-01", Name: "Roti Tawar", CostCents: 13700, MarginPercent: 30, Stock: 40},
		{Code: "SKU-KOPI-01", Name: "Kopi Sachet", CostCents: 1900, MarginPercent: 34, Stock: 200, LowThreshold: low(40)},
		{Code: "SKU-GULA-01", Name: "Gula 1kg", CostCents: 15500, MarginPercent: 12, Stock: 70},
		{Code: "SKU-TEH-01", Name: "Teh Celup", CostCents: 7800, MarginPercent: 26, Stock: 90},
		{Code: "SKU-AIR-01", Name: "Air Mineral 600ml", CostCents: 3300, MarginPercent: 18, Stock: 150, LowThreshold: low(30)},
		{Code: "SKU-KERIPIK-01", Name: "Keripik Singkong", CostCents: 9300, MarginPercent: 37, Stock: 50},
		{Code: "SKU-SABUN-01", Name: "Sabun Mandi", CostCents: 5600, MarginPercent: 32, Stock: 45, LowThreshold: low(15)},
	}
	for _, p := range products {
		s.products[p.Code] = p
	}

	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Code, b.Code)
	})
	return products, nil
}

func (s *Store) GetProductByCode(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[code]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpsertProduct(_ context.Context, product domain.Product) error {
	if product.Code == "" || product.CostCents < 0 || product.MarginPercent < 0 || product.Stock < 0 {
		return fmt.Errorf("invalid product %q", product.Code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.Code] = product
	return nil
}

func (s *Store) CommitSale(_ context.Context, draft domain.SaleDraft) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(draft.Lines) == 0 {
		return nil, store.ErrEmptyCart
	}

	// Validate every tracked line against current state before any write.
	requested := make(map[string]int, len(draft.Lines))
	for _, line := range draft.Lines {
		if line.Untracked {
			continue
		}
		requested[line.Code] += line.Qty
	}
	for code, qty := range requested {
		product, exists := s.products[code]
		if !exists {
			return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, code)
		}
		if product.Stock < qty {
			return nil, fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, code, product.Stock, qty)
		}
	}

	items := make([]domain.SaleItem, 0, len(draft.Lines))
	total := int64(0)
	for _, line := range draft.Lines {
		item := domain.SaleItem{
			Name:           line.Name,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
		}
		if !line.Untracked {
			product := s.products[line.Code]
			item.Code = line.Code
			item.UnitCostCents = product.CostCents
		}
		items = append(items, item)
		total += line.SubtotalCents()
	}

	for code, qty := range requested {
		product := s.products[code]
		product.Stock -= qty
		s.products[code] = product
	}

	now := time.Now().UTC()
	sale := &domain.Sale{
		ID:         xid.New("sale"),
		Timestamp:  now,
		LocalDate:  now.In(s.loc).Format("2006-01-02"),
		Cashier:    draft.Cashier,
		Items:      items,
		TotalCents: total,
	}

	s.salesByID[sale.ID] = sale
	s.salesOrdered = append(s.salesOrdered, sale.ID)

	return cloneSale(sale), nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.salesOrdered))
	for _, id := range s.salesOrdered {
		sale := s.salesByID[id]
		if !from.IsZero() && sale.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !sale.Timestamp.Before(to) {
			continue
		}
		sales = append(sales, *cloneSale(sale))
	}

	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.Timestamp.Equal(b.Timestamp) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.Timestamp.After(b.Timestamp) {
			return -1
		}
		return 1
	})
	return sales, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return fmt.Errorf("invalid user")
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("user %s already exists", user.Username)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneSale(sale *domain.Sale) *domain.Sale {
	out := *sale
	out.Items = make([]domain.SaleItem, len(sale.Items))
	copy(out.Items, sale.Items)
	return &out
}
