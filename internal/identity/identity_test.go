package identity

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/extract"
	"github.com/langchou/evreceipts/internal/models"
)

func csvRecord() *models.ChargingRecord {
	d := models.NewDate(time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC))
	t := models.NewTimeOfDay(time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC))
	return &models.ChargingRecord{
		Date:       &d,
		Time:       &t,
		Provider:   models.ProviderEVCC,
		Source:     models.SourceEVCC,
		Location:   "Home Charging Station",
		TotalKWh:   models.Float(15),
		CostPerKWh: models.Float(0.01),
		TotalCost:  models.Float(0.15),
	}
}

func emailRecord(id string, kwh float64) *models.ChargingRecord {
	return &models.ChargingRecord{
		EmailID:  id,
		Provider: models.ProviderTesla,
		Location: "Tesla Charging Station",
		TotalKWh: models.Float(kwh),
	}
}

var _ = Describe("KindOf", func() {
	DescribeTable("source selection",
		func(rec *models.ChargingRecord, want Kind) {
			Expect(KindOf(rec)).To(Equal(want))
		},
		Entry("EVCC csv", &models.ChargingRecord{Source: models.SourceEVCC, EmailID: "x"}, KindCSV),
		Entry("pdf upload", &models.ChargingRecord{Source: models.SourcePDF}, KindPDF),
		Entry("pdf filename", &models.ChargingRecord{PDFFilename: "a.pdf", EmailID: "x"}, KindPDF),
		Entry("email", &models.ChargingRecord{EmailID: "x"}, KindEmail),
		Entry("generic", &models.ChargingRecord{}, KindGeneric),
	)
})

var _ = Describe("ID", func() {
	It("should be deterministic", func() {
		Expect(ID(csvRecord())).To(Equal(ID(csvRecord())))
		Expect(ID(csvRecord())).To(HaveLen(32))
	})

	It("should tag every field with its name", func() {
		Expect(Key(emailRecord("m1", 2))).To(Equal(
			"email_id=m1|provider=Tesla|location=Tesla Charging Station|total_kwh=2|total_cost=|source=",
		))
	})

	It("should hash an empty record to a stable value", func() {
		Expect(ID(&models.ChargingRecord{})).To(Equal(ID(&models.ChargingRecord{})))
	})

	DescribeTable("changing a field in the csv subset changes the id",
		func(mutate func(*models.ChargingRecord)) {
			rec := csvRecord()
			mutate(rec)
			Expect(ID(rec)).NotTo(Equal(ID(csvRecord())))
		},
		Entry("date", func(r *models.ChargingRecord) {
			d := models.NewDate(time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC))
			r.Date = &d
		}),
		Entry("time", func(r *models.ChargingRecord) { r.Time = nil }),
		Entry("end date", func(r *models.ChargingRecord) { r.EndDate = "2024-01-05 11:00:00" }),
		Entry("energy", func(r *models.ChargingRecord) { r.TotalKWh = models.Float(15.1) }),
		Entry("rate", func(r *models.ChargingRecord) { r.CostPerKWh = models.Float(0.3) }),
		Entry("vehicle", func(r *models.ChargingRecord) { r.Vehicle = "Model Y" }),
		Entry("location", func(r *models.ChargingRecord) { r.Location = "Garage" }),
	)

	DescribeTable("changing a field outside the email subset keeps the id",
		func(mutate func(*models.ChargingRecord)) {
			rec := emailRecord("m1", 2)
			mutate(rec)
			Expect(ID(rec)).To(Equal(ID(emailRecord("m1", 2))))
		},
		Entry("subject", func(r *models.ChargingRecord) { r.EmailSubject = "Fwd: receipt" }),
		Entry("duration", func(r *models.ChargingRecord) { r.Duration = "30 min" }),
		Entry("peak", func(r *models.ChargingRecord) { r.PeakKW = models.Float(120) }),
		Entry("rate", func(r *models.ChargingRecord) { r.CostPerKWh = models.Float(0.5) }),
	)

	It("should change when the email id changes", func() {
		Expect(ID(emailRecord("m1", 2))).NotTo(Equal(ID(emailRecord("m2", 2))))
	})

	It("should change when the pdf file name changes", func() {
		a := &models.ChargingRecord{Source: models.SourcePDF, PDFFilename: "a.pdf", TotalKWh: models.Float(3)}
		b := a.Clone()
		b.PDFFilename = "b.pdf"
		Expect(ID(a)).NotTo(Equal(ID(b)))
	})

	// 同日同电量同地点的两行 CSV 会被视为同一条记录
	It("should collide for csv rows with identical content", func() {
		a, b := csvRecord(), csvRecord()
		Expect(ID(a)).To(Equal(ID(b)))
	})
})

var _ = Describe("Assign", func() {
	It("should keep an existing id", func() {
		rec := emailRecord("m1", 2)
		rec.ID = "fixed"
		Expect(Assign(rec)).To(Equal("fixed"))
	})

	It("should fill a missing id", func() {
		rec := emailRecord("m1", 2)
		Expect(Assign(rec)).To(Equal(ID(emailRecord("m1", 2))))
		Expect(rec.ID).NotTo(BeEmpty())
	})
})

var _ = Describe("Merge", func() {
	ids := func(records []*models.ChargingRecord) []string {
		out := make([]string, len(records))
		for i, r := range records {
			out[i] = r.EmailID
		}
		return out
	}

	It("should append only new records in incoming order", func() {
		existing := []*models.ChargingRecord{emailRecord("a", 1), emailRecord("b", 2)}
		incoming := []*models.ChargingRecord{emailRecord("d", 4), emailRecord("a", 1), emailRecord("c", 3), emailRecord("d", 4)}

		merged, added := Merge(existing, incoming)

		Expect(added).To(Equal(2))
		Expect(ids(merged)).To(Equal([]string{"a", "b", "d", "c"}))
	})

	It("should be idempotent", func() {
		existing := []*models.ChargingRecord{emailRecord("a", 1)}
		incoming := []*models.ChargingRecord{emailRecord("b", 2), emailRecord("c", 3)}

		once, _ := Merge(existing, incoming)
		twice, added := Merge(once, incoming)

		Expect(added).To(BeZero())
		Expect(ids(twice)).To(Equal(ids(once)))
	})

	It("should assign ids to every merged record", func() {
		merged, _ := Merge([]*models.ChargingRecord{emailRecord("a", 1)}, []*models.ChargingRecord{emailRecord("b", 1)})
		for _, rec := range merged {
			Expect(rec.ID).NotTo(BeEmpty())
		}
	})

	It("should not grow when the same email is extracted twice", func() {
		extractor := extract.NewExtractor(zap.NewNop())
		doc := models.Document{
			ID:      "<receipt-42@tesla.com>",
			Subject: "Your Tesla charging receipt",
			Body:    "Date: 2024-03-01\nEnergy Delivered: 22.4 kWh\nTotal: $11.20\n",
		}

		first := extractor.ExtractEmails([]models.Document{doc})
		second := extractor.ExtractEmails([]models.Document{doc})
		Expect(first[0].EmailID).To(Equal(second[0].EmailID))

		stored, _ := Merge(nil, first)
		merged, added := Merge(stored, second)

		Expect(added).To(BeZero())
		Expect(merged).To(HaveLen(len(stored)))
	})
})
