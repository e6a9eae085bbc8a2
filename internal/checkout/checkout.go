package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kasirkita/backend/internal/domain"
	"kasirkita/backend/internal/store"
)

// Committer is the single store operation a checkout needs.
type Committer interface {
	CommitSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error)
}

// Options bound the optimistic-conflict retry loop. OnConflict, when set, is
// called once per retried attempt (metrics hook).
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	OnConflict  func(attempt int)
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 5
	}
	if o.Backoff <= 0 {
		o.Backoff = 25 * time.Millisecond
	}
	return o
}

// Commit runs the read-validate-write sequence against the store, retrying
// the whole sequence on transient conflicts with fresh reads each attempt.
// Validation failures (missing product, insufficient stock) abort immediately
// and are never retried; exhausted retries surface as ErrCheckoutFailed.
// Once an attempt enters the store transaction it runs to completion.
func Commit(ctx context.Context, repo Committer, draft domain.SaleDraft, opts Options) (*domain.Sale, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		sale, err := repo.CommitSale(ctx, draft)
		if err == nil {
			return sale, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		lastErr = err

		if opts.OnConflict != nil {
			opts.OnConflict(attempt)
		}
		if attempt == opts.MaxAttempts {
			break
		}
		// Linear backoff keeps racing terminals from re-colliding in lockstep.
		if err := sleep(ctx, time.Duration(attempt)*opts.Backoff); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %d attempts exhausted: %v", store.ErrCheckoutFailed, opts.MaxAttempts, lastErr)
}

func validateDraft(draft domain.SaleDraft) error {
	if len(draft.Lines) == 0 {
		return store.ErrEmptyCart
	}
	for _, line := range draft.Lines {
		if line.Qty < 1 {
			return fmt.Errorf("line %q has invalid quantity %d", line.Key, line.Qty)
		}
		if !line.Untracked && line.Code == "" {
			return fmt.Errorf("%w: tracked line %q has no code", store.ErrUnknownProduct, line.Key)
		}
		if line.UnitPriceCents < 0 {
			return fmt.Errorf("line %q has negative unit price", line.Key)
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
