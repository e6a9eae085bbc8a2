package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kasirkita/backend/internal/catalog"
	"kasirkita/backend/internal/config"
	"kasirkita/backend/internal/domain"
	"kasirkita/backend/internal/service"
	"kasirkita/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	return newTestAPIWithOptions(t, Options{AllowedOrigin: "*", Location: time.UTC})
}

func newTestAPIWithOptions(t *testing.T, opts Options) *API {
	t.Helper()

	repo := memory.NewSeeded(time.UTC)

	snapshot := catalog.NewSnapshot()
	products, err := repo.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	snapshot.Replace(products)

	settings := config.NewSettings(config.Config{
		LowStockThreshold:        5,
		UntrackedPricePerKgCents: 40000,
		CheckoutMaxAttempts:      3,
		CheckoutBackoffMillis:    1,
	})

	svc := service.New(repo, snapshot, settings, nil)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, opts)
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d (%s)", rec.Code, rec.Body.String())
	}
	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return body.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProductsRequireAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	token := login(t, handler, "cashier", "cashier123")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestCartCheckoutFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/carts", token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cart: %d (%s)", rec.Code, rec.Body.String())
	}
	var created domain.CartCreateResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	base := "/api/v1/carts/" + created.SessionID
	rec = doJSON(t, handler, http.MethodPost, base+"/items", token, domain.CartAddRequest{Code: "SKU-MIE-01", Qty: 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, base+"/untracked", token, domain.CartAddUntrackedRequest{Grams: 250, Qty: 1, Label: "Tempe Goreng"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add untracked: %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, base+"/checkout", token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: %d (%s)", rec.Code, rec.Body.String())
	}

	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout: %v", err)
	}
	if resp.SaleID == "" || len(resp.Items) != 2 {
		t.Fatalf("unexpected checkout response: %+v", resp)
	}
	// 2 x (2700 * 1.22 rounded) + 250g at 40000/kg.
	if resp.TotalCents != 2*3294+10000 {
		t.Fatalf("unexpected total %d", resp.TotalCents)
	}

	// Session is gone once committed.
	rec = doJSON(t, handler, http.MethodGet, base, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after checkout, got %d", rec.Code)
	}
}

func TestCartUndoEndpoint(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "cashier123")

	var created domain.CartCreateResponse
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/carts", token, nil)
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	base := "/api/v1/carts/" + created.SessionID
	doJSON(t, handler, http.MethodPost, base+"/items", token, domain.CartAddRequest{Code: "SKU-MIE-01", Qty: 2})
	doJSON(t, handler, http.MethodPost, base+"/items", token, domain.CartAddRequest{Code: "SKU-KOPI-01", Qty: 1})

	rec = doJSON(t, handler, http.MethodPost, base+"/undo", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("undo: %d (%s)", rec.Code, rec.Body.String())
	}
	var view domain.CartView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].Code != "SKU-MIE-01" {
		t.Fatalf("undo did not remove the latest add: %+v", view.Lines)
	}
}

func TestCheckoutErrorKinds(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "cashier", "cashier123")

	// Unknown product in a stateless checkout surfaces as a conflict with a
	// machine-readable kind.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/checkout", token, domain.CheckoutRequest{
		Lines: []domain.CartLine{{Key: "SKU-GONE-01", Code: "SKU-GONE-01", Name: "Gone", UnitPriceCents: 100, Qty: 1}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (%s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body.Error.Kind != "product_not_found" {
		t.Fatalf("expected kind product_not_found, got %q", body.Error.Kind)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/checkout", token, domain.CheckoutRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty cart, got %d", rec.Code)
	}
}

func TestReportsRequireAdminRole(t *testing.T) {
	handler := newTestAPI(t).Handler()

	cashierToken := login(t, handler, "cashier", "cashier123")
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/reports/daily-balance", cashierToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	adminToken := login(t, handler, "admin", "admin123")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/reports/daily-balance", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestDailyBalanceDateRangeValidation(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/reports/daily-balance?from=03-01-2026", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/reports/daily-balance?from=2026-03-02&to=2026-03-01", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", rec.Code)
	}
}

func TestLowStockReportEndpoint(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/reports/low-stock", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("low stock: %d (%s)", rec.Code, rec.Body.String())
	}
	var report domain.LowStockResponse
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Threshold != 5 {
		t.Fatalf("expected threshold 5, got %d", report.Threshold)
	}
}

func TestLoginRateLimit(t *testing.T) {
	handler := newTestAPI(t).Handler()

	for i := 0; i < 5; i++ {
		payload, _ := json.Marshal(map[string]string{"username": "admin", "password": fmt.Sprintf("wrong-%d", i)})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.9:40000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rec.Code)
		}
	}

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong-final"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.9:40000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", rec.Code)
	}
}

func TestLoginRateLimitHonorsConfiguredBudget(t *testing.T) {
	handler := newTestAPIWithOptions(t, Options{
		AllowedOrigin:    "*",
		Location:         time.UTC,
		LoginMaxAttempts: 2,
		LoginWindow:      time.Minute,
	}).Handler()

	attempt := func(password string) int {
		payload, _ := json.Marshal(map[string]string{"username": "admin", "password": password})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.9:40000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := attempt(fmt.Sprintf("wrong-%d", i)); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, code)
		}
	}
	if code := attempt("wrong-final"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after configured budget, got %d", code)
	}
}
