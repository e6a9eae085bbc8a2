package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kasirkita/backend/internal/balance"
	"kasirkita/backend/internal/cart"
	"kasirkita/backend/internal/catalog"
	"kasirkita/backend/internal/checkout"
	"kasirkita/backend/internal/config"
	"kasirkita/backend/internal/domain"
	"kasirkita/backend/internal/metrics"
	"kasirkita/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service wires cart sessions, the catalog snapshot, and the checkout
// transaction into the operations the HTTP layer exposes.
type Service struct {
	repo     store.Repository
	snapshot *catalog.Snapshot
	settings *config.Settings
	metrics  *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*cart.Cart
}

func New(repo store.Repository, snapshot *catalog.Snapshot, settings *config.Settings, m *metrics.Metrics) *Service {
	if settings == nil {
		settings = &config.Settings{}
	}
	return &Service{
		repo:     repo,
		snapshot: snapshot,
		settings: settings,
		metrics:  m,
		sessions: make(map[string]*cart.Cart),
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, code string) (*domain.Product, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, store.ErrNotFound
	}
	return s.repo.GetProductByCode(ctx, code)
}

// --- cart sessions ---

func (s *Service) CreateCart() domain.CartCreateResponse {
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = cart.New(s.snapshot)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
	}
	return domain.CartCreateResponse{SessionID: id}
}

func (s *Service) cartFor(sessionID string) (*cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
	}
	return c, nil
}

func (s *Service) dropSession(sessionID string) {
	s.mu.Lock()
	_, existed := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if existed && s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
	}
}

func (s *Service) view(sessionID string, c *cart.Cart) domain.CartView {
	return domain.CartView{
		SessionID:  sessionID,
		Lines:      c.Lines(),
		TotalCents: c.TotalCents(),
		UndoDepth:  c.UndoDepth(),
	}
}

func (s *Service) AddItem(sessionID string, req domain.CartAddRequest) (domain.CartView, error) {
	c, err := s.cartFor(sessionID)
	if err != nil {
		return domain.CartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := c.AddByCode(req.Code, req.Qty); err != nil {
		return domain.CartView{}, err
	}
	return s.view(sessionID, c), nil
}

// AddUntracked accepts either an explicit unit price or a measured weight
// priced at the configured per-kilogram rate.
func (s *Service) AddUntracked(sessionID string, req domain.CartAddUntrackedRequest) (domain.CartView, error) {
	c, err := s.cartFor(sessionID)
	if err != nil {
		return domain.CartView{}, err
	}

	price := req.UnitPriceCents
	if price == 0 && req.Grams > 0 {
		perKg := s.settings.UntrackedPricePerKgCents()
		if perKg <= 0 {
			return domain.CartView{}, fmt.Errorf("no per-kilogram price configured")
		}
		price = cart.PriceForGrams(req.Grams, perKg)
	}
	if price <= 0 {
		return domain.CartView{}, fmt.Errorf("untracked line needs a positive price or weight")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c.AddUntracked(req.Label, price, req.Qty)
	return s.view(sessionID, c), nil
}

func (s *Service) ChangeQuantity(sessionID string, lineKey string, qty int) (domain.CartView, error) {
	c, err := s.cartFor(sessionID)
	if err != nil {
		return domain.CartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := c.ChangeQuantity(lineKey, qty); err != nil {
		return domain.CartView{}, err
	}
	return s.view(sessionID, c), nil
}

func (s *Service) RemoveLine(sessionID string, lineKey string) (domain.CartView, error) {
	c, err := s.cartFor(sessionID)
	if err != nil {
		return domain.CartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := c.RemoveLine(lineKey); err != nil {
		return domain.CartView{}, err
	}
	return s.view(sessionID, c), nil
}

func (s *Service) Undo(sessionID string) (domain.CartView, error) {
	c, err := s.cartFor(sessionID)
	if err != nil {
		return domain.CartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c.Undo()
	return s.view(sessionID, c), nil
}

func (s *Service) CancelCart(sessionID string) error {
	if _, err := s.cartFor(sessionID); err != nil {
		return err
	}
	s.dropSession(sessionID)
	return nil
}

func (s *Service) ViewCart(sessionID string) (domain.CartView, error) {
	c, err := s.cartFor(sessionID)
	if err != nil {
		return domain.CartView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(sessionID, c), nil
}

// --- checkout ---

// Commit checks out a cart session. On success the session is closed; on any
// failure the session and its lines survive untouched so the cashier can
// adjust and retry.
func (s *Service) Commit(ctx context.Context, sessionID string) (*domain.Sale, error) {
	c, err := s.cartFor(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	lines := c.Lines()
	s.mu.Unlock()

	sale, err := s.commitLines(ctx, lines)
	if err != nil {
		return nil, err
	}

	s.dropSession(sessionID)
	return sale, nil
}

// CommitSnapshot checks out a caller-supplied line snapshot without any
// session state, for clients that keep the cart on their side.
func (s *Service) CommitSnapshot(ctx context.Context, lines []domain.CartLine) (*domain.Sale, error) {
	return s.commitLines(ctx, lines)
}

func (s *Service) commitLines(ctx context.Context, lines []domain.CartLine) (*domain.Sale, error) {
	cashier := ""
	if actor, ok := ActorFromContext(ctx); ok {
		cashier = actor.Username
	}

	opts := checkout.Options{
		MaxAttempts: s.settings.CheckoutMaxAttempts(),
		Backoff:     s.settings.CheckoutBackoff(),
	}
	if s.metrics != nil {
		opts.OnConflict = func(attempt int) {
			s.metrics.CheckoutConflicts.Inc()
			log.Printf("[service] WARN: checkout conflict, attempt %d", attempt)
		}
	}

	started := time.Now()
	sale, err := checkout.Commit(ctx, s.repo, domain.SaleDraft{Cashier: cashier, Lines: lines}, opts)
	if s.metrics != nil {
		s.metrics.CheckoutDuration.Observe(time.Since(started).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.CheckoutsTotal.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		return nil, err
	}

	log.Printf("[service] sale %s committed: %d line(s), total %d cents", sale.ID, len(sale.Items), sale.TotalCents)
	return sale, nil
}

// --- sales and reports ---

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.repo.GetSaleByID(ctx, id)
}

func (s *Service) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, from, to)
}

// DailyBalances folds the sales in [from, to) into per-day revenue, cost and
// profit, newest day first.
func (s *Service) DailyBalances(ctx context.Context, from time.Time, to time.Time) ([]domain.DailyBalance, error) {
	sales, err := s.repo.ListSales(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return balance.ComputeDaily(sales), nil
}

// LowStockReport lists tracked products at or below their reorder point. A
// product's own threshold wins over the store-wide default.
func (s *Service) LowStockReport(ctx context.Context) (domain.LowStockResponse, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.LowStockResponse{}, err
	}

	defaultThreshold := s.settings.LowStockThreshold()
	entries := make([]domain.LowStockEntry, 0, 8)
	for _, p := range products {
		threshold := defaultThreshold
		if p.LowThreshold != nil {
			threshold = *p.LowThreshold
		}
		if p.Stock <= threshold {
			entries = append(entries, domain.LowStockEntry{
				Code:      p.Code,
				Name:      p.Name,
				Stock:     p.Stock,
				Threshold: threshold,
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Stock != entries[j].Stock {
			return entries[i].Stock < entries[j].Stock
		}
		return entries[i].Code < entries[j].Code
	})

	return domain.LowStockResponse{Threshold: defaultThreshold, Entries: entries}, nil
}

// --- users ---

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	return s.repo.ListUsers(ctx)
}
