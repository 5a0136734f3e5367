package extract

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/langchou/evreceipts/internal/models"
)

var _ = Describe("Cascade", func() {
	It("should return the first matching pattern", func() {
		c := rx(`Total:\s*\$?([\d.]+)`, `Amount:\s*\$?([\d.]+)`)
		v, ok := c.Match("Amount: $3.00\nTotal: $9.99")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("9.99"))
	})

	It("should be case-insensitive and trim the capture", func() {
		v, ok := EmailPatterns[FieldLocation].Match("LOCATION:   Westfield Parramatta  \nother")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("Westfield Parramatta"))
	})

	It("should report no match", func() {
		_, ok := EmailPatterns[FieldPeakKW].Match("nothing")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Capture", func() {
	It("should let the provider tier win for the fields it covers", func() {
		text := "Energy delivered: 30 kWh\nTotal Energy: 99.0 kWh\nTotal amount: $12"
		fields := Capture(text, AmpolPatterns, EmailPatterns)
		Expect(fields[FieldTotalKWh]).To(Equal("30"))
		Expect(fields[FieldTotalCost]).To(Equal("12"))
	})

	It("should fall through to the generic tier for uncovered fields", func() {
		fields := Capture("Peak Power: 50 kW\nDuration: 1h 10m", AmpolPatterns, EmailPatterns)
		Expect(fields[FieldPeakKW]).To(Equal("50"))
		Expect(fields[FieldDuration]).To(Equal("1h 10m"))
	})

	It("should skip a nil tier", func() {
		fields := Capture("kWh: 4.5", TierFor(models.ProviderTesla), EmailPatterns)
		Expect(fields).To(HaveKeyWithValue(FieldTotalKWh, "4.5"))
	})
})

var _ = Describe("Classifier", func() {
	DescribeTable("EmailClassifier",
		func(subject, body string, want models.Provider) {
			Expect(EmailClassifier.Classify(subject, body)).To(Equal(want))
		},
		Entry("ampol in subject", "Ampol receipt", "", models.ProviderAmpCharge),
		Entry("ampol only in body is ignored", "Receipt", "Paid at Ampol Alexandria", models.ProviderUnknown),
		Entry("evie in body", "Receipt", "evie networks", models.ProviderEvie),
		Entry("bp pulse", "Your BP Pulse session", "", models.ProviderBPPulse),
		Entry("declaration order breaks ties", "Tesla at Chargefox site", "", models.ProviderChargefox),
		Entry("nothing matches", "Hello", "World", models.ProviderUnknown),
	)

	DescribeTable("PDFClassifier",
		func(text string, want models.Provider) {
			Expect(PDFClassifier.Classify("", text)).To(Equal(want))
		},
		Entry("amp charge with a space", "Amp Charge Pty", models.ProviderAmpCharge),
		Entry("supercharger", "Supercharger Session", models.ProviderTesla),
		Entry("ev-up", "EV-UP station", models.ProviderEVUP),
		Entry("bp-pulse", "bp-pulse invoice", models.ProviderBPPulse),
		Entry("unknown", "plain receipt", models.ProviderUnknown),
	)
})

var _ = Describe("InferLocation", func() {
	It("should prefer a named provider site", func() {
		Expect(InferLocation(models.ProviderTesla, "", "Session at Tesla Supercharger Gold Coast")).
			To(Equal("Tesla Supercharger Gold Coast"))
	})

	It("should return empty for unknown providers", func() {
		Expect(InferLocation(models.ProviderUnknown, "Sydney", "")).To(BeEmpty())
	})

	It("should take the first city in declaration order", func() {
		Expect(InferLocation(models.ProviderJolt, "", "Perth to Sydney")).To(Equal("Jolt Sydney"))
	})
})

var _ = Describe("Dates", func() {
	DescribeTable("ParseReceiptDate",
		func(in, want string) {
			t, ok := ParseReceiptDate(in)
			Expect(ok).To(BeTrue())
			Expect(t.Format("2006-01-02")).To(Equal(want))
		},
		Entry("US slash", "1/5/2024", "2024-01-05"),
		Entry("US slash two-digit year", "01/05/24", "2024-01-05"),
		Entry("month name", "March 5, 2024", "2024-03-05"),
		Entry("day first dashes", "05-01-2024", "2024-01-05"),
		Entry("ISO", "2024-02-29", "2024-02-29"),
	)

	It("should reject unknown formats", func() {
		_, ok := ParseReceiptDate("5th of May")
		Expect(ok).To(BeFalse())
	})

	It("should parse 24-hour times", func() {
		t, ok := ParseReceiptTime("07:08:09")
		Expect(ok).To(BeTrue())
		Expect(t.String()).To(Equal("07:08:09"))
	})

	It("should parse lower-case meridiem", func() {
		t, ok := ParseReceiptTime("11:15 am")
		Expect(ok).To(BeTrue())
		Expect(t.String()).To(Equal("11:15:00"))
	})

	It("should find a date token in a file name", func() {
		Expect(DateFromFilename("evie_2023-11-30_receipt.pdf").Format("2006-01-02")).To(Equal("2023-11-30"))
		Expect(DateFromFilename("receipt.pdf")).To(BeNil())
	})
})
