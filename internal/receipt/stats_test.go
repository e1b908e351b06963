package receipt

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

func dated(id string, date Date, total string) *Receipt {
	return &Receipt{
		ID:          id,
		Merchant:    "m-" + id,
		Date:        date,
		TotalAmount: decimal.RequireFromString(total),
		Items:       []LineItem{item("x", 1, total)},
		CreatedAt:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

var _ = Describe("Summarize", func() {
	It("should report zero average for no receipts", func() {
		s := Summarize(nil)
		Expect(s.Count).To(Equal(0))
		Expect(s.TotalSpent.IsZero()).To(BeTrue())
		Expect(s.AverageSpent.IsZero()).To(BeTrue())
		Expect(s.Recent).NotTo(BeNil())
		Expect(s.Series).NotTo(BeNil())
	})

	It("should average 10, 20 and 30 to 20", func() {
		s := Summarize([]*Receipt{
			dated("a", NewDate(2024, 1, 3), "10.00"),
			dated("b", NewDate(2024, 1, 2), "20.00"),
			dated("c", NewDate(2024, 1, 1), "30.00"),
		})
		Expect(s.Count).To(Equal(3))
		Expect(s.TotalSpent.Equal(decimal.NewFromInt(60))).To(BeTrue())
		Expect(s.AverageSpent.StringFixed(2)).To(Equal("20.00"))
	})

	It("should round the average to cents", func() {
		s := Summarize([]*Receipt{
			dated("a", NewDate(2024, 1, 1), "10.00"),
			dated("b", NewDate(2024, 1, 2), "10.00"),
			dated("c", NewDate(2024, 1, 3), "10.01"),
		})
		Expect(s.AverageSpent.String()).To(Equal("10"))
	})

	It("should keep the first five receipts in fetch order as recent", func() {
		var receipts []*Receipt
		for i := 0; i < 7; i++ {
			receipts = append(receipts, dated(string(rune('a'+i)), NewDate(2024, 1, 10-i), "1.00"))
		}
		s := Summarize(receipts)
		Expect(s.Recent).To(HaveLen(RecentLimit))
		Expect(s.Recent[0].ID).To(Equal("a"))
		Expect(s.Recent[4].ID).To(Equal("e"))
	})

	It("should order the chart series oldest first whatever the input order", func() {
		s := Summarize([]*Receipt{
			dated("mid", NewDate(2024, 2, 1), "2.00"),
			dated("new", NewDate(2024, 3, 1), "3.00"),
			dated("old", NewDate(2024, 1, 1), "1.00"),
		})
		Expect(s.Series).To(HaveLen(3))
		Expect(s.Series[0].Date).To(Equal(NewDate(2024, 1, 1)))
		Expect(s.Series[1].Date).To(Equal(NewDate(2024, 2, 1)))
		Expect(s.Series[2].Date).To(Equal(NewDate(2024, 3, 1)))
		Expect(s.Series[2].Amount.String()).To(Equal("3"))
	})

	It("should leave undated receipts out of the chart but not the totals", func() {
		s := Summarize([]*Receipt{
			dated("a", NewDate(2024, 1, 1), "5.00"),
			dated("b", Date{}, "7.00"),
		})
		Expect(s.Series).To(HaveLen(1))
		Expect(s.Count).To(Equal(2))
		Expect(s.TotalSpent.String()).To(Equal("12"))
	})
})

var _ = Describe("SortNewestFirst", func() {
	It("should order by date descending with undated receipts last", func() {
		receipts := []*Receipt{
			dated("none", Date{}, "1.00"),
			dated("old", NewDate(2023, 1, 1), "1.00"),
			dated("new", NewDate(2024, 1, 1), "1.00"),
		}
		SortNewestFirst(receipts)
		Expect([]string{receipts[0].ID, receipts[1].ID, receipts[2].ID}).To(Equal([]string{"new", "old", "none"}))
	})

	It("should break ties by creation time, newest first", func() {
		first := dated("first", NewDate(2024, 1, 1), "1.00")
		second := dated("second", NewDate(2024, 1, 1), "1.00")
		second.CreatedAt = first.CreatedAt.Add(time.Minute)
		receipts := []*Receipt{first, second}
		SortNewestFirst(receipts)
		Expect(receipts[0].ID).To(Equal("second"))
	})
})

var _ = Describe("buildChart", func() {
	It("should scale bars to the largest amount", func() {
		c := buildChart([]ChartPoint{
			{Date: NewDate(2024, 1, 1), Amount: decimal.NewFromInt(5)},
			{Date: NewDate(2024, 1, 2), Amount: decimal.NewFromInt(10)},
		})
		Expect(c.Bars).To(HaveLen(2))
		Expect(c.Bars[1].Height).To(BeNumerically("~", c.Height-10, 0.001))
		Expect(c.Bars[0].Height).To(BeNumerically("~", (c.Height-10)/2, 0.001))
		Expect(c.Bars[0].Amount).To(Equal("$5.00"))
		Expect(c.Bars[0].Label).To(Equal("Jan 1, 2024"))
	})

	It("should have no bars for an empty series", func() {
		Expect(buildChart(nil).Bars).To(BeEmpty())
	})
})
