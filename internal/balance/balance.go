package balance

import (
	"sort"

	"kasirkita/backend/internal/domain"
)

// ComputeDaily folds committed sales into per-day cost/profit/revenue totals.
// It is a pure function of its input: no cached running totals, so re-running
// on an unchanged ledger yields identical output, and permuting the input
// does not change the result. Output is sorted descending by date.
func ComputeDaily(sales []domain.Sale) []domain.DailyBalance {
	byDate := make(map[string]*domain.DailyBalance)
	for _, sale := range sales {
		day, ok := byDate[sale.LocalDate]
		if !ok {
			day = &domain.DailyBalance{Date: sale.LocalDate}
			byDate[sale.LocalDate] = day
		}
		for _, item := range sale.Items {
			qty := int64(item.Qty)
			day.TotalRevenueCents += item.UnitPriceCents * qty
			day.TotalCostCents += item.UnitCostCents * qty
		}
	}

	out := make([]domain.DailyBalance, 0, len(byDate))
	for _, day := range byDate {
		day.TotalProfitCents = day.TotalRevenueCents - day.TotalCostCents
		out = append(out, *day)
	}

	// ISO dates sort lexicographically, newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out
}
