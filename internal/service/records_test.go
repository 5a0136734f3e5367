package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/models"
	"github.com/langchou/evreceipts/internal/repository"
	"github.com/langchou/evreceipts/pkg/ws"
)

func day(y int, m time.Month, d int) *models.Date {
	date := models.NewDate(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	return &date
}

func sampleRecords() []*models.ChargingRecord {
	return []*models.ChargingRecord{
		{ID: "r1", Date: day(2024, 1, 3), Provider: models.ProviderTesla, Location: "Tesla Supercharger Sydney", TotalKWh: models.Float(20), CostPerKWh: models.Float(0.5), TotalCost: models.Float(10)},
		{ID: "r2", Date: day(2024, 1, 20), Provider: models.ProviderEvie, Location: "Evie Networks Melbourne", TotalKWh: models.Float(10), CostPerKWh: models.Float(0.6), TotalCost: models.Float(6)},
		{ID: "r3", Date: day(2024, 2, 11), Provider: models.ProviderEVCC, Location: "Home Charging Station", Source: models.SourceEVCC, TotalKWh: models.Float(30), CostPerKWh: models.Float(0.2), TotalCost: models.Float(6)},
		{ID: "r4", Date: day(2024, 2, 14), Provider: models.ProviderTesla, Location: "Tesla Charging Station", TotalCost: models.Float(5)},
	}
}

var _ = Describe("RecordService", func() {
	var (
		ctx     context.Context
		store   *memStore
		pub     *recorder
		records *RecordService
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newMemStore()
		store.data["me_at_x_dot_com"] = sampleRecords()
		pub = &recorder{}
		records = NewRecordService(zap.NewNop(), NewCollections(store, nil, "default"), pub)
		records.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	})

	ids := func(recs []*models.ChargingRecord) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.ID
		}
		return out
	}

	Describe("List", func() {
		DescribeTable("filters",
			func(f Filter, want []string) {
				got, err := records.List(ctx, "me@x.com", f)
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(got)).To(Equal(want))
			},
			Entry("no filter", Filter{}, []string{"r1", "r2", "r3", "r4"}),
			Entry("provider substring ignores case", Filter{Provider: "TESLA"}, []string{"r1", "r4"}),
			Entry("provider All", Filter{Provider: "All"}, []string{"r1", "r2", "r3", "r4"}),
			Entry("provider exact", Filter{Provider: "evie", ProviderExact: true}, []string{}),
			Entry("location", Filter{Location: "melbourne"}, []string{"r2"}),
			Entry("source", Filter{Source: "evcc csv"}, []string{"r3"}),
			Entry("date range", Filter{StartDate: day(2024, 1, 10), EndDate: day(2024, 2, 11)}, []string{"r2", "r3"}),
			Entry("cost range", Filter{MinCost: models.Float(6), MaxCost: models.Float(6)}, []string{"r2", "r3"}),
			Entry("energy range skips unknown energy", Filter{MinKWh: models.Float(0)}, []string{"r1", "r2", "r3"}),
		)

		It("should return an empty list for an unknown user", func() {
			got, err := records.List(ctx, "other@x.com", Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		})
	})

	Describe("Get", func() {
		It("should find a record by id", func() {
			rec, err := records.Get(ctx, "me@x.com", "r2")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Provider).To(Equal(models.ProviderEvie))
		})

		It("should report a missing record", func() {
			_, err := records.Get(ctx, "me@x.com", "nope")
			Expect(errors.Is(err, repository.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("DeleteRecords", func() {
		It("should delete matching ids and keep order", func() {
			n, err := records.DeleteRecords(ctx, "me@x.com", []string{"r1", "r3", "missing"})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
			Expect(ids(store.data["me_at_x_dot_com"])).To(Equal([]string{"r2", "r4"}))
			Expect(pub.types()).To(Equal([]string{ws.MsgTypeRecordsDeleted}))
		})

		It("should not save when nothing matched", func() {
			n, err := records.DeleteRecords(ctx, "me@x.com", []string{"missing"})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
			Expect(store.saves).To(BeZero())
		})
	})

	Describe("DeleteUser", func() {
		It("should report whether the user existed", func() {
			existed, err := records.DeleteUser(ctx, "me@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(existed).To(BeTrue())

			existed, err = records.DeleteUser(ctx, "me@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(existed).To(BeFalse())
		})
	})

	Describe("Users", func() {
		It("should restore email addresses", func() {
			store.data["default"] = nil
			users, err := records.Users(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(Equal([]string{"default", "me@x.com"}))
		})
	})

	Describe("Summary", func() {
		It("should return nil without records", func() {
			sum, err := records.Summary(ctx, "other@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(sum).To(BeNil())
		})

		It("should summarize the cleaned batch", func() {
			sum, err := records.Summary(ctx, "me@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(sum.RecordCount).To(Equal(4))
			Expect(sum.Providers).To(Equal(3))
			Expect(sum.Locations).To(Equal(4))
			// r4 的电量由中位单价 0.5 回填为 10
			Expect(sum.TotalEnergyKWh).To(BeNumerically("~", 70, 1e-9))
			Expect(sum.TotalCost).To(BeNumerically("~", 27, 1e-9))
			Expect(sum.AvgCostPerKWh).To(BeNumerically("~", 27.0/70, 1e-9))
			Expect(sum.DateRange.FirstDate).To(Equal("2024-01-03"))
			Expect(sum.DateRange.LastDate).To(Equal("2024-02-14"))
			Expect(sum.TopProviders[0].Provider).To(Equal(models.ProviderEVCC))
			Expect(sum.TopProviders[1].Provider).To(Equal(models.ProviderTesla))
			Expect(sum.TopProviders[1].TotalKWh).To(BeNumerically("~", 30, 1e-9))
		})

		It("should not persist the cleaned values", func() {
			_, err := records.Summary(ctx, "me@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(store.data["me_at_x_dot_com"][3].TotalKWh).To(BeNil())
		})
	})

	Describe("Statistics", func() {
		It("should aggregate by month", func() {
			stats, err := records.Statistics(ctx, "me@x.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(stats).To(HaveLen(2))
			Expect(stats[0].Month).To(Equal("2024-01"))
			Expect(stats[0].Sessions).To(Equal(2))
			Expect(stats[0].TotalKWh).To(BeNumerically("~", 30, 1e-9))
			Expect(stats[0].TotalCost).To(BeNumerically("~", 16, 1e-9))
			Expect(stats[1].Month).To(Equal("2024-02"))
			Expect(stats[1].TotalKWh).To(BeNumerically("~", 40, 1e-9))
		})
	})

	Describe("Export", func() {
		It("should write csv with empty cells for unknown values", func() {
			var buf bytes.Buffer
			Expect(records.Export(ctx, "me@x.com", FormatCSV, Filter{}, &buf)).To(Succeed())

			rows, err := csv.NewReader(&buf).ReadAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(5))
			Expect(rows[0]).To(Equal(exportHeaders))
			Expect(rows[1][0]).To(Equal("r1"))
			Expect(rows[1][1]).To(Equal("2024-01-03"))
			Expect(rows[1][6]).To(Equal("20"))
			Expect(rows[4][6]).To(Equal(""))
		})

		It("should write an xlsx workbook with a monthly sheet", func() {
			var buf bytes.Buffer
			Expect(records.Export(ctx, "me@x.com", FormatXLSX, Filter{Provider: "tesla"}, &buf)).To(Succeed())

			f, err := excelize.OpenReader(&buf)
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()

			rows, err := f.GetRows(recordsSheet)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(3))
			Expect(rows[1][5]).To(Equal("Tesla"))

			monthly, err := f.GetRows(monthlySheet)
			Expect(err).NotTo(HaveOccurred())
			Expect(monthly).To(HaveLen(3))
		})

		It("should reject unknown formats", func() {
			err := records.Export(ctx, "me@x.com", "pdf", Filter{}, &bytes.Buffer{})
			Expect(errors.Is(err, ErrUnsupportedFormat)).To(BeTrue())
		})
	})
})
