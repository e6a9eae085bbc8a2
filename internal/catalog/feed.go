package catalog

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"kasirkita/backend/internal/cache"
	"kasirkita/backend/internal/domain"
)

// Lister is the slice of the repository the feed reads from.
type Lister interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

// Feed keeps a Snapshot in sync with the persisted catalog. It polls the
// repository, swaps the snapshot when the product set changes, publishes the
// full set to subscribers, and mirrors it into the catalog cache so sibling
// terminals can warm-start without hitting the store.
type Feed struct {
	repo     Lister
	snapshot *Snapshot
	cache    cache.CatalogCache
	cacheTTL time.Duration
	interval time.Duration

	mu       sync.Mutex
	subs     map[int]chan []domain.Product
	nextSub  int
	lastHash string
}

func NewFeed(repo Lister, snapshot *Snapshot, catalogCache cache.CatalogCache, cacheTTL time.Duration, interval time.Duration) *Feed {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Feed{
		repo:     repo,
		snapshot: snapshot,
		cache:    catalogCache,
		cacheTTL: cacheTTL,
		interval: interval,
		subs:     make(map[int]chan []domain.Product),
	}
}

// Subscribe returns a channel receiving the full product set on every change,
// plus a cancel func. Slow subscribers drop events rather than block the feed.
func (f *Feed) Subscribe() (<-chan []domain.Product, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextSub
	f.nextSub++
	ch := make(chan []domain.Product, 1)
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Run warm-starts the snapshot from the cache, then polls the repository
// until the context is done.
func (f *Feed) Run(ctx context.Context) {
	if products, ok, err := f.cache.Get(ctx); err == nil && ok {
		f.apply(ctx, products, false)
		log.Printf("[catalog] warm start from cache (%d products)", len(products))
	}

	if err := f.Refresh(ctx); err != nil {
		log.Printf("[catalog] WARN: initial refresh failed: %v", err)
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Refresh(ctx); err != nil {
				log.Printf("[catalog] WARN: refresh failed: %v", err)
			}
		}
	}
}

// Refresh reloads the product set once and publishes it if it changed.
func (f *Feed) Refresh(ctx context.Context) error {
	products, err := f.repo.ListProducts(ctx)
	if err != nil {
		return err
	}
	f.apply(ctx, products, true)
	return nil
}

func (f *Feed) apply(ctx context.Context, products []domain.Product, mirror bool) {
	sort.Slice(products, func(i, j int) bool { return products[i].Code < products[j].Code })
	hash := fingerprint(products)

	f.mu.Lock()
	changed := hash != f.lastHash
	if changed {
		f.lastHash = hash
	}
	f.mu.Unlock()
	if !changed {
		return
	}

	f.snapshot.Replace(products)

	if mirror {
		if err := f.cache.Set(ctx, products, f.cacheTTL); err != nil {
			log.Printf("[catalog] WARN: cache mirror failed: %v", err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		select {
		case sub <- products:
		default:
		}
	}
}

func fingerprint(products []domain.Product) string {
	payload, err := json.Marshal(products)
	if err != nil {
		return time.Now().String()
	}
	return string(payload)
}
