package receipt

import (
	"sort"

	"github.com/shopspring/decimal"
)

// RecentLimit is how many receipts the dashboard lists
const RecentLimit = 5

// ChartPoint is one bar of the spending chart
type ChartPoint struct {
	Date   Date            `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// Summary aggregates a user's receipts for the dashboard
type Summary struct {
	TotalSpent   decimal.Decimal `json:"total_spent"`
	AverageSpent decimal.Decimal `json:"average_spent"`
	Count        int             `json:"count"`
	Recent       []*Receipt      `json:"recent"`
	Series       []ChartPoint    `json:"series"`
}

// Summarize computes the dashboard figures. receipts must already be in
// fetch order (newest first); Recent keeps that order while Series is
// always returned oldest first.
func Summarize(receipts []*Receipt) *Summary {
	s := &Summary{
		TotalSpent:   decimal.Zero,
		AverageSpent: decimal.Zero,
		Count:        len(receipts),
		Recent:       []*Receipt{},
		Series:       []ChartPoint{},
	}

	for _, r := range receipts {
		s.TotalSpent = s.TotalSpent.Add(r.TotalAmount)
	}
	if s.Count > 0 {
		s.AverageSpent = s.TotalSpent.Div(decimal.NewFromInt(int64(s.Count))).Round(2)
	}

	n := min(len(receipts), RecentLimit)
	s.Recent = append(s.Recent, receipts[:n]...)

	dated := make([]*Receipt, 0, len(receipts))
	for _, r := range receipts {
		if r.Date.Valid() {
			dated = append(dated, r)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool {
		if !dated[i].Date.Equal(dated[j].Date.Time) {
			return dated[i].Date.Before(dated[j].Date.Time)
		}
		return dated[i].CreatedAt.Before(dated[j].CreatedAt)
	})
	for _, r := range dated {
		s.Series = append(s.Series, ChartPoint{Date: r.Date, Amount: r.TotalAmount})
	}
	return s
}

// SortNewestFirst orders receipts by date descending with undated receipts
// last. Ties are broken by creation time, newest first.
func SortNewestFirst(receipts []*Receipt) {
	sort.SliceStable(receipts, func(i, j int) bool {
		a, b := receipts[i], receipts[j]
		if a.Date.Valid() != b.Date.Valid() {
			return a.Date.Valid()
		}
		if !a.Date.Equal(b.Date.Time) {
			return a.Date.After(b.Date.Time)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}
