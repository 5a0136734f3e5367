package extract

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/models"
)

var _ = Describe("Extractor", func() {
	var (
		now       time.Time
		extractor *Extractor
	)

	BeforeEach(func() {
		now = time.Date(2024, 6, 1, 9, 30, 15, 0, time.UTC)
		extractor = NewExtractor(zap.NewNop(), WithClock(func() time.Time { return now }), WithWorkers(2))
	})

	Describe("ExtractEmail", func() {
		var (
			doc models.Document
			rec *models.ChargingRecord
			ok  bool
		)

		JustBeforeEach(func() {
			rec, ok = extractor.ExtractEmail(doc)
		})

		When("a Tesla receipt carries energy and total", func() {
			BeforeEach(func() {
				doc = models.Document{
					ID:      "msg-1",
					Subject: "Your Tesla charging receipt",
					Body:    "Thanks for charging.\nEnergy Delivered: 22.4 kWh\nTotal: $11.20\n",
				}
			})

			It("should extract the record", func() {
				Expect(ok).To(BeTrue())
				Expect(rec.Provider).To(Equal(models.ProviderTesla))
				Expect(*rec.TotalKWh).To(BeNumerically("~", 22.4, 1e-9))
				Expect(*rec.TotalCost).To(BeNumerically("~", 11.2, 1e-9))
			})

			It("should derive the rate", func() {
				Expect(rec.CostPerKWh).NotTo(BeNil())
				Expect(*rec.CostPerKWh).To(BeNumerically("~", 0.5, 1e-9))
			})

			It("should keep the email provenance", func() {
				Expect(rec.EmailID).To(Equal("msg-1"))
				Expect(rec.Source).To(BeEmpty())
			})
		})

		When("the receipt has no date and the email has no timestamp", func() {
			BeforeEach(func() {
				doc = models.Document{
					ID:      "msg-2",
					Subject: "Charging session",
					Body:    "Energy Delivered: 10.0 kWh\n",
				}
			})

			It("should fall back to now", func() {
				Expect(ok).To(BeTrue())
				Expect(rec.Date.String()).To(Equal("2024-06-01"))
				Expect(rec.Time.String()).To(Equal("09:30:15"))
			})
		})

		When("the receipt has neither energy nor cost", func() {
			BeforeEach(func() {
				doc = models.Document{
					ID:      "msg-3",
					Subject: "Newsletter from Chargefox",
					Body:    "Check out our new stations in Sydney!\n",
				}
			})

			It("should discard the document", func() {
				Expect(ok).To(BeFalse())
				Expect(rec).To(BeNil())
			})
		})

		When("the body is empty", func() {
			BeforeEach(func() {
				doc = models.Document{ID: "msg-4", Subject: "Tesla"}
			})

			It("should discard the document", func() {
				Expect(ok).To(BeFalse())
			})
		})

		When("the receipt date is missing but the email is dated", func() {
			BeforeEach(func() {
				sent := time.Date(2024, 3, 14, 18, 5, 0, 0, time.UTC)
				doc = models.Document{
					ID:      "msg-5",
					Subject: "Evie receipt",
					Body:    "Total Cost: $7.50\n",
					Date:    &sent,
				}
			})

			It("should use the email date and time", func() {
				Expect(ok).To(BeTrue())
				Expect(rec.Date.String()).To(Equal("2024-03-14"))
				Expect(rec.Time.String()).To(Equal("18:05:00"))
				Expect(rec.TotalKWh).To(BeNil())
				Expect(*rec.TotalCost).To(BeNumerically("~", 7.5, 1e-9))
			})
		})

		When("the receipt carries its own date and a 12-hour time", func() {
			BeforeEach(func() {
				sent := time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC)
				doc = models.Document{
					ID:      "msg-6",
					Subject: "ChargePoint session",
					Body:    "Date: March 5, 2024\nTime: 3:45 PM\nEnergy Delivered: 8.2 kWh\n",
					Date:    &sent,
				}
			})

			It("should prefer the receipt date", func() {
				Expect(rec.Date.String()).To(Equal("2024-03-05"))
				Expect(rec.Time.String()).To(Equal("15:45:00"))
			})
		})

		When("an Ampol receipt uses its own layout", func() {
			BeforeEach(func() {
				doc = models.Document{
					ID:      "msg-7",
					Subject: "Your Ampol AmpCharge receipt",
					Body:    "Location: AmpCharge Alexandria\nEnergy delivered: 30.5 kWh\nTotal amount: $15.25\n",
				}
			})

			It("should use the provider-specific patterns", func() {
				Expect(rec.Provider).To(Equal(models.ProviderAmpCharge))
				Expect(rec.Location).To(Equal("AmpCharge Alexandria"))
				Expect(*rec.TotalKWh).To(BeNumerically("~", 30.5, 1e-9))
				Expect(*rec.TotalCost).To(BeNumerically("~", 15.25, 1e-9))
			})
		})

		When("an Ampol receipt only lists a highway address", func() {
			BeforeEach(func() {
				doc = models.Document{
					ID:      "msg-8",
					Subject: "AmpCharge tax invoice",
					Body:    "Thanks\nPacific Highway 123-125, Wyong 2259\nEnergy consumed: 10.0 kWh\nPaid: $5.00\n",
				}
			})

			It("should compose the address from the highway pattern", func() {
				Expect(rec.Location).To(Equal("AmpCharge Pacific Highway, 123-125, Wyong, 2259"))
			})

			It("should fall through to the generic cost patterns", func() {
				Expect(*rec.TotalCost).To(BeNumerically("~", 5.0, 1e-9))
			})
		})

		When("no location is found for a known provider", func() {
			BeforeEach(func() {
				doc = models.Document{
					ID:      "msg-9",
					Subject: "Chargefox receipt",
					Body:    "Energy Delivered: 12.0 kWh\nThanks for visiting Melbourne\n",
				}
			})

			It("should compose the location from provider and city", func() {
				Expect(rec.Location).To(Equal("Chargefox Melbourne"))
			})
		})

		When("no location and no city is found", func() {
			BeforeEach(func() {
				doc = models.Document{
					ID:      "msg-10",
					Subject: "Jolt receipt",
					Body:    "Energy Delivered: 4.0 kWh\n",
				}
			})

			It("should use the generic station label", func() {
				Expect(rec.Location).To(Equal("Jolt Charging Station"))
			})
		})

		When("the provider is unknown", func() {
			BeforeEach(func() {
				doc = models.Document{
					ID:      "msg-11",
					Subject: "Receipt",
					Body:    "Energy Delivered: 5.5 kWh\n",
				}
			})

			It("should leave location empty", func() {
				Expect(rec.Provider).To(Equal(models.ProviderUnknown))
				Expect(rec.Location).To(BeEmpty())
			})
		})

		When("a numeric capture cannot be parsed", func() {
			BeforeEach(func() {
				doc = models.Document{
					ID:      "msg-12",
					Subject: "Tesla",
					Body:    "Total: $1.2.3\n",
				}
			})

			It("should null the field and discard the document", func() {
				Expect(ok).To(BeFalse())
			})
		})
	})

	Describe("ExtractPDF", func() {
		It("should use the filename date when the text has none", func() {
			rec, ok := extractor.ExtractPDF("receipt-2024-02-10.pdf", "ChargePoint\nEnergy: 18.0 kWh\nCharged $9.00\n")
			Expect(ok).To(BeTrue())
			Expect(rec.Date.String()).To(Equal("2024-02-10"))
			Expect(rec.Time).To(BeNil())
			Expect(rec.Provider).To(Equal(models.ProviderChargePoint))
			Expect(rec.Source).To(Equal(models.SourcePDF))
			Expect(rec.PDFFilename).To(Equal("receipt-2024-02-10.pdf"))
			Expect(*rec.TotalCost).To(BeNumerically("~", 9.0, 1e-9))
			Expect(*rec.CostPerKWh).To(BeNumerically("~", 0.5, 1e-9))
		})

		It("should match looser patterns on scanned text", func() {
			rec, ok := extractor.ExtractPDF("scan.pdf", "Supercharger\n05-01-2024\nSession Length: 40 min\nEnergy: 25 kWh\n")
			Expect(ok).To(BeTrue())
			Expect(rec.Provider).To(Equal(models.ProviderTesla))
			Expect(rec.Date.String()).To(Equal("2024-01-05"))
			Expect(rec.Duration).To(Equal("40 min"))
			Expect(*rec.TotalKWh).To(BeNumerically("~", 25, 1e-9))
		})

		It("should reject empty text", func() {
			_, ok := extractor.ExtractPDF("blank.pdf", "   ")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("ExtractEmails", func() {
		It("should skip unusable documents and keep input order", func() {
			docs := []models.Document{
				{ID: "a", Subject: "Tesla", Body: "Energy Delivered: 1.0 kWh\n"},
				{ID: "b", Subject: "Tesla"},
				{ID: "c", Subject: "Evie", Body: "Total: $3.00\n"},
				{ID: "d", Subject: "Jolt", Body: "Energy Delivered: 2.0 kWh\n"},
			}

			records := extractor.ExtractEmails(docs)

			Expect(records).To(HaveLen(3))
			Expect(records[0].EmailID).To(Equal("a"))
			Expect(records[1].EmailID).To(Equal("c"))
			Expect(records[2].EmailID).To(Equal("d"))
		})

		It("should satisfy the retention rule for every record", func() {
			docs := []models.Document{
				{ID: "1", Subject: "x", Body: "nothing here"},
				{ID: "2", Subject: "x", Body: "Amount: $4.00"},
				{ID: "3", Subject: "x", Body: "kWh: 7.5"},
				{ID: "4", Subject: "x", Body: "Rate: $0.40/kWh"},
			}

			kept := map[string]bool{}
			for _, rec := range extractor.ExtractEmails(docs) {
				Expect(rec.Date).NotTo(BeNil())
				Expect(rec.TotalKWh != nil || rec.TotalCost != nil).To(BeTrue())
				kept[rec.EmailID] = true
			}
			Expect(kept).To(Equal(map[string]bool{"2": true, "3": true}))
		})
	})

	Describe("fanOut", func() {
		It("should skip a document that panics and keep the rest in order", func() {
			names := []string{"a", "b", "c", "d", "e"}
			records := extractor.fanOut(len(names), func(i int) (*models.ChargingRecord, bool) {
				if i == 2 {
					panic("malformed receipt")
				}
				return &models.ChargingRecord{EmailID: names[i]}, true
			}, func(i int) string {
				return names[i]
			})

			Expect(records).To(HaveLen(4))
			got := make([]string, len(records))
			for i, rec := range records {
				got[i] = rec.EmailID
			}
			Expect(got).To(Equal([]string{"a", "b", "d", "e"}))
		})

		It("should complete when every document panics", func() {
			records := extractor.fanOut(3, func(int) (*models.ChargingRecord, bool) {
				panic("boom")
			}, func(int) string { return "x" })
			Expect(records).To(BeEmpty())
		})
	})
})
