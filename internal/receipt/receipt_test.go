package receipt

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("Date", func() {
	It("should encode as YYYY-MM-DD", func() {
		data, err := json.Marshal(NewDate(2024, time.March, 5))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`"2024-03-05"`))
	})

	It("should encode the zero date as null", func() {
		data, err := json.Marshal(Date{})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("null"))
	})

	DescribeTable("decoding",
		func(in string, want Date) {
			var d Date
			Expect(json.Unmarshal([]byte(in), &d)).To(Succeed())
			Expect(d).To(Equal(want))
		},
		Entry("a date", `"2024-03-05"`, NewDate(2024, time.March, 5)),
		Entry("null", `null`, Date{}),
		Entry("empty string", `""`, Date{}),
	)

	It("should reject other formats", func() {
		var d Date
		Expect(json.Unmarshal([]byte(`"03/05/2024"`), &d)).NotTo(Succeed())
	})

	It("should drop the time of day", func() {
		d := DateOf(time.Date(2024, 3, 5, 23, 59, 0, 0, time.UTC))
		Expect(d).To(Equal(NewDate(2024, time.March, 5)))
	})
})

var _ = Describe("Receipt", func() {
	Describe("Validate", func() {
		It("should accept a well-formed receipt", func() {
			Expect(validReceipt().Validate()).To(Succeed())
		})

		It("should accept a receipt without a date", func() {
			r := validReceipt()
			r.Date = Date{}
			Expect(r.Validate()).To(Succeed())
		})

		It("should reject a negative total", func() {
			r := validReceipt()
			r.TotalAmount = decimal.RequireFromString("-0.01")
			Expect(r.Validate()).To(MatchError("Total amount cannot be negative."))
		})
	})

	Describe("items codec", func() {
		It("should round-trip items through the stored text", func() {
			items := []LineItem{item("Coffee", 2, "4.50"), item("Bagel", 1, "1.25")}
			text, err := EncodeItems(items)
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(ContainSubstring(`"name":"Coffee"`))

			decoded, err := DecodeItems(text)
			Expect(err).NotTo(HaveOccurred())
			Expect(decoded).To(HaveLen(2))
			Expect(decoded[0].Price.Equal(items[0].Price)).To(BeTrue())
			Expect(decoded[1].Quantity).To(Equal(1))
		})

		It("should encode no items as an empty array", func() {
			text, err := EncodeItems(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("[]"))
		})

		It("should accept numeric prices written by other clients", func() {
			decoded, err := DecodeItems(`[{"name":"Tea","quantity":3,"price":1.5}]`)
			Expect(err).NotTo(HaveOccurred())
			Expect(decoded[0].Price.String()).To(Equal("1.5"))
		})

		It("should fail on corrupt text", func() {
			_, err := DecodeItems(`{not json`)
			Expect(err).To(MatchError(ContainSubstring("decoding items")))
		})
	})
})
