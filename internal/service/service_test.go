package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"kasirkita/backend/internal/catalog"
	"kasirkita/backend/internal/config"
	"kasirkita/backend/internal/domain"
	"kasirkita/backend/internal/store"
	"kasirkita/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()

	repo := memory.New(time.UTC)
	ctx := context.Background()
	seed := []domain.Product{
		{Code: "SKU-MIE-01", Name: "Mie Goreng Instan", CostCents: 100, MarginPercent: 50, Stock: 10},
		{Code: "SKU-KOPI-01", Name: "Kopi Sachet", CostCents: 1900, MarginPercent: 34, Stock: 3},
		{Code: "SKU-GULA-01", Name: "Gula 1kg", CostCents: 15500, MarginPercent: 12, Stock: 1},
	}
	for _, p := range seed {
		if err := repo.UpsertProduct(ctx, p); err != nil {
			t.Fatalf("seed product %s: %v", p.Code, err)
		}
	}

	snapshot := catalog.NewSnapshot()
	snapshot.Replace(seed)

	settings := config.NewSettings(config.Config{
		LowStockThreshold:        2,
		UntrackedPricePerKgCents: 40000,
		CheckoutMaxAttempts:      3,
		CheckoutBackoffMillis:    1,
	})

	return New(repo, snapshot, settings, nil), repo
}

func TestCartSessionLifecycle(t *testing.T) {
	svc, _ := newTestService(t)

	created := svc.CreateCart()
	if created.SessionID == "" {
		t.Fatalf("expected a session id")
	}

	view, err := svc.AddItem(created.SessionID, domain.CartAddRequest{Code: "SKU-MIE-01", Qty: 2})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if view.TotalCents != 300 {
		t.Fatalf("expected total 300, got %d", view.TotalCents)
	}
	if view.UndoDepth != 1 {
		t.Fatalf("expected undo depth 1, got %d", view.UndoDepth)
	}

	if err := svc.CancelCart(created.SessionID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.ViewCart(created.SessionID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected cancelled session to be gone, got %v", err)
	}
}

func TestCommitClosesSessionAndWritesSale(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	created := svc.CreateCart()
	if _, err := svc.AddItem(created.SessionID, domain.CartAddRequest{Code: "SKU-MIE-01", Qty: 2}); err != nil {
		t.Fatalf("add item: %v", err)
	}

	sale, err := svc.Commit(WithActor(ctx, domain.Actor{Username: "kasir-a", Role: "cashier"}), created.SessionID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if sale.Cashier != "kasir-a" {
		t.Fatalf("expected cashier stamp, got %q", sale.Cashier)
	}

	product, err := repo.GetProductByCode(ctx, "SKU-MIE-01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 8 {
		t.Fatalf("expected stock 8 after commit, got %d", product.Stock)
	}

	if _, err := svc.ViewCart(created.SessionID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected session to be closed after commit, got %v", err)
	}
}

func TestFailedCommitLeavesSessionIntact(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	created := svc.CreateCart()
	if _, err := svc.AddItem(created.SessionID, domain.CartAddRequest{Code: "SKU-GULA-01", Qty: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}

	// Another terminal grabs the last unit between the pre-check and commit.
	if _, err := repo.CommitSale(ctx, domain.SaleDraft{Lines: []domain.CartLine{
		{Key: "SKU-GULA-01", Code: "SKU-GULA-01", Name: "Gula 1kg", UnitPriceCents: 17360, Qty: 1},
	}}); err != nil {
		t.Fatalf("rival commit: %v", err)
	}

	_, err := svc.Commit(ctx, created.SessionID)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	view, err := svc.ViewCart(created.SessionID)
	if err != nil {
		t.Fatalf("session should survive failed commit: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].Qty != 1 {
		t.Fatalf("cart lines changed by failed commit: %+v", view.Lines)
	}
}

func TestAddUntrackedPricesByWeight(t *testing.T) {
	svc, _ := newTestService(t)

	created := svc.CreateCart()
	view, err := svc.AddUntracked(created.SessionID, domain.CartAddUntrackedRequest{
		Grams: 350,
		Qty:   1,
		Label: "Tempe Goreng",
	})
	if err != nil {
		t.Fatalf("add untracked: %v", err)
	}
	// 350g at the configured 40000 cents/kg.
	if view.TotalCents != 14000 {
		t.Fatalf("expected total 14000, got %d", view.TotalCents)
	}
}

func TestAddUntrackedRejectsZeroPrice(t *testing.T) {
	svc, _ := newTestService(t)

	created := svc.CreateCart()
	if _, err := svc.AddUntracked(created.SessionID, domain.CartAddUntrackedRequest{Qty: 1}); err == nil {
		t.Fatalf("expected rejection without price or weight")
	}
}

func TestUndoThenCommit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created := svc.CreateCart()
	if _, err := svc.AddItem(created.SessionID, domain.CartAddRequest{Code: "SKU-MIE-01", Qty: 2}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := svc.AddItem(created.SessionID, domain.CartAddRequest{Code: "SKU-KOPI-01", Qty: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}

	view, err := svc.Undo(created.SessionID)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].Code != "SKU-MIE-01" {
		t.Fatalf("undo did not remove the latest add: %+v", view.Lines)
	}

	sale, err := svc.Commit(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(sale.Items) != 1 || sale.Items[0].Code != "SKU-MIE-01" {
		t.Fatalf("unexpected sale items: %+v", sale.Items)
	}
}

func TestCommitSnapshotStatelessCheckout(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CommitSnapshot(context.Background(), []domain.CartLine{
		{Key: "SKU-MIE-01", Code: "SKU-MIE-01", Name: "Mie Goreng Instan", UnitPriceCents: 150, Qty: 2},
	})
	if err != nil {
		t.Fatalf("commit snapshot: %v", err)
	}
	if sale.TotalCents != 300 {
		t.Fatalf("expected total 300, got %d", sale.TotalCents)
	}
}

func TestDailyBalancesFoldTheLedger(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CommitSnapshot(ctx, []domain.CartLine{
		{Key: "SKU-MIE-01", Code: "SKU-MIE-01", Name: "Mie Goreng Instan", UnitPriceCents: 150, Qty: 2},
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := svc.CommitSnapshot(ctx, []domain.CartLine{
		{Key: "line-1", Name: "Tempe Goreng", UnitPriceCents: 2500, Qty: 1, Untracked: true},
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	balances, err := svc.DailyBalances(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("daily balances: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("expected a single day, got %d", len(balances))
	}

	day := balances[0]
	if day.TotalRevenueCents != 2*150+2500 {
		t.Fatalf("unexpected revenue %d", day.TotalRevenueCents)
	}
	if day.TotalCostCents != 2*100 {
		t.Fatalf("unexpected cost %d", day.TotalCostCents)
	}
	if day.TotalProfitCents != day.TotalRevenueCents-day.TotalCostCents {
		t.Fatalf("profit does not reconcile: %+v", day)
	}
}

func TestLowStockReportHonorsPerProductThreshold(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	threshold := 15
	if err := repo.UpsertProduct(ctx, domain.Product{
		Code: "SKU-SUSU-01", Name: "Susu UHT 1L", CostCents: 14800, MarginPercent: 28,
		Stock: 12, LowThreshold: &threshold,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	report, err := svc.LowStockReport(ctx)
	if err != nil {
		t.Fatalf("low stock report: %v", err)
	}
	if report.Threshold != 2 {
		t.Fatalf("expected default threshold 2, got %d", report.Threshold)
	}

	// SKU-GULA-01 (stock 1 <= default 2) and SKU-SUSU-01 (stock 12 <= own 15),
	// lowest stock first.
	if len(report.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", report.Entries)
	}
	if report.Entries[0].Code != "SKU-GULA-01" || report.Entries[1].Code != "SKU-SUSU-01" {
		t.Fatalf("unexpected order: %+v", report.Entries)
	}
	if report.Entries[1].Threshold != 15 {
		t.Fatalf("per-product threshold not reported: %+v", report.Entries[1])
	}
}

func TestListUsersRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.ListUsers(context.Background()); err == nil {
		t.Fatalf("expected rejection without admin actor")
	}
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
	if _, err := svc.ListUsers(ctx); err != nil {
		t.Fatalf("admin list users: %v", err)
	}
}
