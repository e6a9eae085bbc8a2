package domain

import (
	"math"
	"time"
)

// Product is the catalog record for one stocked item. Stock is only ever
// mutated by external catalog writes or by a committed checkout.
type Product struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	CostCents     int64   `json:"cost_cents"`
	MarginPercent float64 `json:"margin_percent"`
	Stock         int     `json:"stock"`
	LowThreshold  *int    `json:"low_threshold,omitempty"`
}

// PriceCents derives the selling price from cost and margin.
func (p Product) PriceCents() int64 {
	return int64(math.Round(float64(p.CostCents) * (1 + p.MarginPercent/100)))
}

// CartLine is one line of an in-progress cart. Key addresses the line within
// its cart: the product code for tracked lines, a generated id for untracked
// lines. Untracked lines carry no catalog binding and no stock decrement.
type CartLine struct {
	Key            string `json:"key"`
	Code           string `json:"code,omitempty"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
	Untracked      bool   `json:"untracked"`
}

func (l CartLine) SubtotalCents() int64 {
	return l.UnitPriceCents * int64(l.Qty)
}

// SaleDraft is the input to a checkout commit: the cart lines frozen at the
// moment the cashier confirms, plus the identity to stamp on the sale.
type SaleDraft struct {
	Cashier string     `json:"cashier"`
	Lines   []CartLine `json:"lines"`
}

// SaleItem is one immutable line of a committed sale. UnitCostCents snapshots
// the product cost at the moment of sale (0 for untracked items) so later
// catalog cost edits never change historical profit.
type SaleItem struct {
	Code           string `json:"code,omitempty"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	UnitCostCents  int64  `json:"unit_cost_cents"`
}

// Sale is the append-only ledger record written by a successful checkout.
// LocalDate is the calendar day in the business timezone, used for balance
// grouping; Timestamp is the commit instant in UTC.
type Sale struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	LocalDate  string     `json:"local_date"`
	Cashier    string     `json:"cashier"`
	Items      []SaleItem `json:"items"`
	TotalCents int64      `json:"total_cents"`
}

// DailyBalance is derived from the sale ledger, never stored.
type DailyBalance struct {
	Date              string `json:"date"`
	TotalCostCents    int64  `json:"total_cost_cents"`
	TotalProfitCents  int64  `json:"total_profit_cents"`
	TotalRevenueCents int64  `json:"total_revenue_cents"`
}

// LowStockEntry reports a product at or below its restock threshold.
type LowStockEntry struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	Threshold int    `json:"threshold"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type CartCreateResponse struct {
	SessionID string `json:"session_id"`
}

type CartAddRequest struct {
	Code string `json:"code"`
	Qty  int    `json:"qty"`
}

type CartAddUntrackedRequest struct {
	UnitPriceCents int64  `json:"unit_price_cents,omitempty"`
	Grams          int    `json:"grams,omitempty"`
	Qty            int    `json:"qty"`
	Label          string `json:"label,omitempty"`
}

type CartChangeQtyRequest struct {
	Qty int `json:"qty"`
}

// CartView is the client echo of a cart session after any mutation.
type CartView struct {
	SessionID  string     `json:"session_id"`
	Lines      []CartLine `json:"lines"`
	TotalCents int64      `json:"total_cents"`
	UndoDepth  int        `json:"undo_depth"`
}

type CheckoutRequest struct {
	Lines []CartLine `json:"lines"`
}

type CheckoutResponse struct {
	SaleID     string     `json:"sale_id"`
	LocalDate  string     `json:"local_date"`
	TotalCents int64      `json:"total_cents"`
	Items      []SaleItem `json:"items"`
	CreatedAt  string     `json:"created_at"`
}

type SalesListResponse struct {
	Sales []Sale `json:"sales"`
}

type DailyBalanceResponse struct {
	Balances []DailyBalance `json:"balances"`
}

type LowStockResponse struct {
	Threshold int             `json:"threshold"`
	Entries   []LowStockEntry `json:"entries"`
}
