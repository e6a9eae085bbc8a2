package cache

import (
	"context"
	"time"

	"kasirkita/backend/internal/domain"
)

// CatalogCache shares the latest catalog snapshot between terminals so a
// fresh process can serve a populated snapshot before its first store poll.
type CatalogCache interface {
	Get(ctx context.Context) ([]domain.Product, bool, error)
	Set(ctx context.Context, products []domain.Product, ttl time.Duration) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ []domain.Product, _ time.Duration) error {
	return nil
}
