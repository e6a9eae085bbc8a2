package store

import (
	"context"
	"errors"
	"time"

	"kasirkita/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrUnknownProduct is the cart-side pre-check failure: the code is not
	// in the catalog snapshot the client is working from.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrProductNotFound is the authoritative commit-time failure: a product
	// that passed the pre-check is missing from the persisted catalog. Hard
	// abort, never retried.
	ErrProductNotFound = errors.New("product not found")

	// ErrInsufficientStock is raised both at the local pre-check and,
	// authoritatively, inside the commit transaction.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrConflict signals an optimistic-concurrency collision inside
	// CommitSale. Callers retry the whole read-validate-write sequence.
	ErrConflict = errors.New("transient conflict")

	ErrEmptyCart = errors.New("empty cart")

	// ErrCheckoutFailed surfaces when conflict retries are exhausted.
	ErrCheckoutFailed = errors.New("checkout failed")
)

// Repository is the persistence surface for the checkout engine. CommitSale
// must execute its read-validate-write sequence atomically: stock decrements
// and the sale append become visible together or not at all.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByCode(ctx context.Context, code string) (*domain.Product, error)

	// UpsertProduct is the external catalog collaborator's write surface,
	// used by seeding and by catalog edits outside this engine.
	UpsertProduct(ctx context.Context, product domain.Product) error

	// CommitSale validates the draft against fresh persisted state, stamps
	// unit costs, decrements stock and appends the sale. Returns
	// ErrProductNotFound or ErrInsufficientStock on validation failure and
	// ErrConflict on a concurrent-write collision.
	CommitSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error)

	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
