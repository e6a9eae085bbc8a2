package cart

import (
	"fmt"
	"math"
	"strings"

	"kasirkita/backend/internal/domain"
	"kasirkita/backend/internal/store"
	"kasirkita/backend/internal/xid"
)

// Catalog is the read-only product view a cart validates against. It may be
// stale relative to the persisted catalog; the checkout transaction performs
// the authoritative re-check.
type Catalog interface {
	Get(code string) (domain.Product, bool)
}

type opKind int

const (
	opAddTracked opKind = iota + 1
	opAddUntracked
)

// undoEntry is one compensating record on the undo stack. New operation kinds
// extend the enum without touching the cart's mutation methods.
type undoEntry struct {
	kind opKind
	key  string
	qty  int
}

// Cart holds the line items of one in-progress sale, most-recent-first.
// A cart belongs to exactly one session and is not safe for concurrent use.
type Cart struct {
	catalog Catalog
	lines   []domain.CartLine
	undo    []undoEntry
}

func New(catalog Catalog) *Cart {
	return &Cart{catalog: catalog}
}

// AddByCode validates code against the catalog view, merges into an existing
// line or prepends a new one, and records a compensating undo entry.
// The stock check here is a client-side pre-check only.
func (c *Cart) AddByCode(code string, qty int) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return store.ErrUnknownProduct
	}
	if qty < 1 {
		qty = 1
	}

	product, ok := c.catalog.Get(code)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrUnknownProduct, code)
	}

	existing := 0
	for _, line := range c.lines {
		if !line.Untracked && line.Code == code {
			existing += line.Qty
		}
	}
	if existing+qty > product.Stock {
		return fmt.Errorf("%w: %s has %d in stock, cart wants %d", store.ErrInsufficientStock, code, product.Stock, existing+qty)
	}

	merged := false
	for i := range c.lines {
		if !c.lines[i].Untracked && c.lines[i].Code == code {
			c.lines[i].Qty += qty
			merged = true
			break
		}
	}
	if !merged {
		c.lines = append([]domain.CartLine{{
			Key:            code,
			Code:           code,
			Name:           product.Name,
			UnitPriceCents: product.PriceCents(),
			Qty:            qty,
		}}, c.lines...)
	}

	c.undo = append(c.undo, undoEntry{kind: opAddTracked, key: code, qty: qty})
	return nil
}

// AddUntracked adds a line with no catalog binding, typically priced from a
// measured weight. It is never stock-checked. Returns the generated line key.
func (c *Cart) AddUntracked(name string, unitPriceCents int64, qty int) string {
	if qty < 1 {
		qty = 1
	}
	if strings.TrimSpace(name) == "" {
		name = "Untracked item"
	}

	key := xid.New("line")
	c.lines = append([]domain.CartLine{{
		Key:            key,
		Name:           name,
		UnitPriceCents: unitPriceCents,
		Qty:            qty,
		Untracked:      true,
	}}, c.lines...)

	c.undo = append(c.undo, undoEntry{kind: opAddUntracked, key: key, qty: qty})
	return key
}

// ChangeQuantity sets a line's quantity, clamped to at least 1. Tracked lines
// are pre-checked against the catalog view; untracked lines never are.
// A failed check leaves the cart unchanged.
func (c *Cart) ChangeQuantity(key string, qty int) error {
	if qty < 1 {
		qty = 1
	}

	idx := c.indexOf(key)
	if idx < 0 {
		return store.ErrNotFound
	}

	line := c.lines[idx]
	if !line.Untracked {
		product, ok := c.catalog.Get(line.Code)
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrUnknownProduct, line.Code)
		}
		if qty > product.Stock {
			return fmt.Errorf("%w: %s has %d in stock", store.ErrInsufficientStock, line.Code, product.Stock)
		}
	}

	c.lines[idx].Qty = qty
	return nil
}

// RemoveLine removes the line unconditionally.
func (c *Cart) RemoveLine(key string) error {
	idx := c.indexOf(key)
	if idx < 0 {
		return store.ErrNotFound
	}
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	return nil
}

// Undo pops the most recent compensating entry and applies its inverse:
// the matching line loses the recorded quantity and disappears when it drops
// to zero. Returns false when the stack is empty. A line that was already
// removed by hand makes the popped entry a no-op.
func (c *Cart) Undo() bool {
	if len(c.undo) == 0 {
		return false
	}

	entry := c.undo[len(c.undo)-1]
	c.undo = c.undo[:len(c.undo)-1]

	switch entry.kind {
	case opAddTracked, opAddUntracked:
		idx := c.indexOf(entry.key)
		if idx < 0 {
			return true
		}
		c.lines[idx].Qty -= entry.qty
		if c.lines[idx].Qty <= 0 {
			c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
		}
	}
	return true
}

// Cancel clears all lines and the undo stack.
func (c *Cart) Cancel() {
	c.lines = nil
	c.undo = nil
}

func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

func (c *Cart) UndoDepth() int {
	return len(c.undo)
}

// Lines returns a copy of the cart lines, most-recent-first.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) TotalCents() int64 {
	total := int64(0)
	for _, line := range c.lines {
		total += line.SubtotalCents()
	}
	return total
}

func (c *Cart) indexOf(key string) int {
	for i, line := range c.lines {
		if line.Key == key {
			return i
		}
	}
	return -1
}

// PriceForGrams converts a measured weight into a line price given a
// per-kilogram rate.
func PriceForGrams(grams int, perKgCents int64) int64 {
	return int64(math.Round(float64(grams) / 1000 * float64(perKgCents)))
}
