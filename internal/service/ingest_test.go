package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/csvimport"
	"github.com/langchou/evreceipts/internal/extract"
	"github.com/langchou/evreceipts/internal/models"
	"github.com/langchou/evreceipts/pkg/ws"
)

func newIngest(store *memStore, pub Publisher) *IngestService {
	logger := zap.NewNop()
	return NewIngestService(
		logger,
		NewCollections(store, nil, "default"),
		extract.NewExtractor(logger),
		csvimport.NewParser(logger, 0.01),
		pub,
		0,
	)
}

var teslaMail = models.Document{
	ID:      "<t-1@tesla.com>",
	Subject: "Your Tesla charging receipt",
	Body:    "Date: 2024-03-01\nEnergy Delivered: 22.4 kWh\nTotal: $11.20\n",
}

var evccMail = models.Document{
	ID:      "<evcc-1@home>",
	Subject: "EVCC Charging Data export",
	Body:    "Energy Delivered: 99 kWh\n",
	Attachments: []models.Attachment{
		{Filename: "sessions.csv", ContentType: "text/csv", Data: []byte("Created,Energy (kWh)\n2024-01-05 10:00:00,15.0\n")},
		{Filename: "logo.png", ContentType: "image/png", Data: []byte{0x89}},
	},
}

var _ = Describe("IngestService", func() {
	var (
		ctx    context.Context
		store  *memStore
		pub    *recorder
		ingest *IngestService
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newMemStore()
		pub = &recorder{}
		ingest = newIngest(store, pub)
	})

	Describe("IngestDocuments", func() {
		It("should route EVCC attachments to the csv parser", func() {
			res, err := ingest.IngestDocuments(ctx, "Me@Example.com", []models.Document{teslaMail, evccMail})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.User).To(Equal("me_at_example_dot_com"))
			Expect(res.Extracted).To(Equal(2))
			Expect(res.Added).To(Equal(2))

			records := store.data["me_at_example_dot_com"]
			Expect(records).To(HaveLen(2))
			Expect(records[0].Source).To(Equal(models.SourceEVCC))
			Expect(*records[0].TotalKWh).To(BeNumerically("~", 15, 1e-9))
			Expect(records[1].Provider).To(Equal(models.ProviderTesla))
			Expect(*records[1].CostPerKWh).To(BeNumerically("~", 0.5, 1e-9))
			for _, rec := range records {
				Expect(rec.ID).To(HaveLen(32))
			}
		})

		It("should not grow the collection on a repeated run", func() {
			_, err := ingest.IngestDocuments(ctx, "", []models.Document{teslaMail, evccMail})
			Expect(err).NotTo(HaveOccurred())
			saves := store.saves

			res, err := ingest.IngestDocuments(ctx, "", []models.Document{teslaMail, evccMail})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Added).To(BeZero())
			Expect(res.Total).To(Equal(2))
			Expect(store.saves).To(Equal(saves))
			Expect(store.data).To(HaveKey("default"))
		})

		It("should publish only when records were added", func() {
			_, _ = ingest.IngestDocuments(ctx, "", []models.Document{teslaMail})
			_, _ = ingest.IngestDocuments(ctx, "", []models.Document{teslaMail})
			Expect(pub.types()).To(Equal([]string{ws.MsgTypeRecordsIngested}))
		})

		It("should report an invalid attachment and keep going", func() {
			bad := evccMail
			bad.Attachments = []models.Attachment{{Filename: "bad.csv", Data: []byte("Created,Price\nx,1\n")}}

			res, err := ingest.IngestDocuments(ctx, "", []models.Document{bad, teslaMail})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Added).To(Equal(1))
			Expect(res.Diagnostics).To(ConsistOf(ContainSubstring("Energy (kWh)")))
		})

		It("should count documents without charging data as skipped", func() {
			res, err := ingest.IngestDocuments(ctx, "", []models.Document{{ID: "x", Subject: "hi", Body: "hello"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Extracted).To(BeZero())
			Expect(res.Skipped).To(Equal(1))
		})
	})

	Describe("IngestCSV", func() {
		It("should use the configured default rate", func() {
			res, err := ingest.IngestCSV(ctx, "", "a.csv", strings.NewReader("Created,Energy (kWh)\n2024-01-05 10:00:00,15.0\n"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Added).To(Equal(1))

			rec := store.data["default"][0]
			Expect(rec.Date.String()).To(Equal("2024-01-05"))
			Expect(rec.Provider).To(Equal(models.ProviderEVCC))
			Expect(*rec.CostPerKWh).To(BeNumerically("~", 0.01, 1e-9))
		})

		It("should return an empty result with a diagnostic for a bad header", func() {
			res, err := ingest.IngestCSV(ctx, "", "a.csv", strings.NewReader("Created\n2024-01-05 10:00:00\n"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Extracted).To(BeZero())
			Expect(res.Diagnostics).To(HaveLen(1))
			Expect(res.Diagnostics[0]).To(ContainSubstring("Energy (kWh)"))
			Expect(store.saves).To(BeZero())
		})

		It("should not lose updates under concurrent ingestion for one user", func() {
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					body := fmt.Sprintf("Created,Energy (kWh)\n2024-01-%02d 10:00:00,%d.5\n", i+1, i+1)
					_, err := ingest.IngestCSV(ctx, "", "a.csv", strings.NewReader(body))
					Expect(err).NotTo(HaveOccurred())
				}(i)
			}
			wg.Wait()
			Expect(store.data["default"]).To(HaveLen(10))
		})
	})

	Describe("IngestPDFs", func() {
		It("should succeed with nothing to do", func() {
			res, err := ingest.IngestPDFs(ctx, "", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Extracted).To(BeZero())
		})
	})
})
