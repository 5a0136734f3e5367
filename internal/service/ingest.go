package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/csvimport"
	"github.com/langchou/evreceipts/internal/extract"
	"github.com/langchou/evreceipts/internal/identity"
	"github.com/langchou/evreceipts/internal/metrics"
	"github.com/langchou/evreceipts/internal/models"
	"github.com/langchou/evreceipts/internal/normalize"
	"github.com/langchou/evreceipts/pkg/ws"
)

// 入库来源
const (
	KindEmail = "email"
	KindCSV   = "csv"
	KindPDF   = "pdf"
)

// IngestResult 一次入库的结果
type IngestResult struct {
	User        string   `json:"user"`
	Extracted   int      `json:"extracted"`
	Added       int      `json:"added"`
	Total       int      `json:"total"`
	Skipped     int      `json:"skipped"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// PDFFile 上传的 PDF 原文件
type PDFFile struct {
	Filename string
	Data     []byte
}

// IngestService 解析文档并合并进用户集合
type IngestService struct {
	logger     *zap.Logger
	coll       *Collections
	extractor  *extract.Extractor
	csv        *csvimport.Parser
	publisher  Publisher
	pdfMinText int
}

// NewIngestService 创建入库服务
func NewIngestService(
	logger *zap.Logger,
	coll *Collections,
	extractor *extract.Extractor,
	csvParser *csvimport.Parser,
	publisher Publisher,
	pdfMinText int,
) *IngestService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &IngestService{
		logger:     logger,
		coll:       coll,
		extractor:  extractor,
		csv:        csvParser,
		publisher:  publisher,
		pdfMinText: pdfMinText,
	}
}

// IngestDocuments 解析一批邮件
// 主题带 EVCC 标记且有 CSV 附件的邮件走 CSV 解析，不再解析正文
func (s *IngestService) IngestDocuments(ctx context.Context, user string, docs []models.Document) (*IngestResult, error) {
	defer observe(KindEmail, time.Now())

	res := &IngestResult{}
	var records []*models.ChargingRecord
	var textDocs []models.Document
	for i := range docs {
		if atts := docs[i].CSVAttachments(); len(atts) > 0 {
			for _, a := range atts {
				records = append(records, s.parseCSV(bytes.NewReader(a.Data), a.Filename, res)...)
			}
			continue
		}
		textDocs = append(textDocs, docs[i])
	}

	extracted := s.extractor.ExtractEmails(textDocs)
	metrics.DocumentsProcessed.WithLabelValues(KindEmail, "extracted").Add(float64(len(extracted)))
	metrics.DocumentsProcessed.WithLabelValues(KindEmail, "skipped").Add(float64(len(textDocs) - len(extracted)))
	res.Skipped += len(textDocs) - len(extracted)
	records = append(records, extracted...)

	return s.commit(ctx, user, KindEmail, records, res)
}

// IngestCSV 解析一个 EVCC 导出文件
// 表头不合法时返回空结果，原因写入 Diagnostics
func (s *IngestService) IngestCSV(ctx context.Context, user, filename string, r io.Reader) (*IngestResult, error) {
	defer observe(KindCSV, time.Now())

	res := &IngestResult{}
	records := s.parseCSV(r, filename, res)
	return s.commit(ctx, user, KindCSV, records, res)
}

// IngestPDF 解析单个 PDF 收据
func (s *IngestService) IngestPDF(ctx context.Context, user, filename string, data []byte) (*IngestResult, error) {
	return s.IngestPDFs(ctx, user, []PDFFile{{Filename: filename, Data: data}})
}

// IngestPDFs 解析一批 PDF 收据，无法读取的文件记入 Diagnostics
func (s *IngestService) IngestPDFs(ctx context.Context, user string, files []PDFFile) (*IngestResult, error) {
	defer observe(KindPDF, time.Now())

	res := &IngestResult{}
	texts := make([]extract.PDFText, 0, len(files))
	for _, f := range files {
		text, err := extract.PDFTextFromBytes(f.Data, s.pdfMinText)
		if err != nil {
			s.logger.Warn("Failed to read pdf", zap.String("file", f.Filename), zap.Error(err))
			res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("%s: %v", f.Filename, err))
			res.Skipped++
			continue
		}
		texts = append(texts, extract.PDFText{Filename: f.Filename, Text: text})
	}

	records := s.extractor.ExtractPDFs(texts)
	if missed := len(texts) - len(records); missed > 0 {
		res.Skipped += missed
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("%d pdf file(s) had no recognizable charging data", missed))
	}
	metrics.DocumentsProcessed.WithLabelValues(KindPDF, "extracted").Add(float64(len(records)))
	metrics.DocumentsProcessed.WithLabelValues(KindPDF, "skipped").Add(float64(res.Skipped))

	return s.commit(ctx, user, KindPDF, records, res)
}

func (s *IngestService) parseCSV(r io.Reader, filename string, res *IngestResult) []*models.ChargingRecord {
	parsed, err := s.csv.Parse(r)
	if err != nil {
		var herr *csvimport.HeaderError
		if errors.As(err, &herr) {
			metrics.CSVRejected.Inc()
		} else {
			s.logger.Warn("Failed to read csv", zap.String("file", filename), zap.Error(err))
		}
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("%s: %v", filename, err))
		return nil
	}
	res.Skipped += parsed.Skipped
	metrics.DocumentsProcessed.WithLabelValues(KindCSV, "extracted").Add(float64(len(parsed.Records)))
	metrics.DocumentsProcessed.WithLabelValues(KindCSV, "skipped").Add(float64(parsed.Skipped))
	return parsed.Records
}

// commit 行级清洗后在用户锁内合并保存
func (s *IngestService) commit(ctx context.Context, user, kind string, records []*models.ChargingRecord, res *IngestResult) (*IngestResult, error) {
	for _, rec := range records {
		normalize.Record(rec)
	}

	key := s.coll.Key(user)
	res.User = key
	res.Extracted = len(records)

	var added []*models.ChargingRecord
	err := s.coll.Update(ctx, key, func(existing []*models.ChargingRecord) ([]*models.ChargingRecord, bool, error) {
		merged, n := identity.Merge(existing, records)
		res.Total = len(merged)
		res.Added = n
		added = merged[len(merged)-n:]
		return merged, n > 0, nil
	})
	if err != nil {
		return res, fmt.Errorf("merge %s records: %w", kind, err)
	}

	var energy float64
	for _, rec := range added {
		energy += models.Value(rec.TotalKWh)
	}
	metrics.RecordsAdded.WithLabelValues(kind).Add(float64(res.Added))
	metrics.EnergyIngestedKWh.Add(energy)

	s.logger.Info("Ingested charging records",
		zap.String("user", key),
		zap.String("kind", kind),
		zap.Int("extracted", res.Extracted),
		zap.Int("added", res.Added),
		zap.Int("total", res.Total),
	)

	if res.Added > 0 {
		s.publisher.BroadcastMessage(ws.MsgTypeRecordsIngested, map[string]interface{}{
			"user":    key,
			"kind":    kind,
			"added":   res.Added,
			"total":   res.Total,
			"records": added,
		})
	}
	return res, nil
}

func observe(kind string, start time.Time) {
	metrics.IngestLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
