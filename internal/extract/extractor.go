package extract

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/models"
)

// PDFText 已提取文本的 PDF 收据
type PDFText struct {
	Filename string
	Text     string
}

// Extractor 自由文本收据解析器（邮件正文、PDF 文本）
// 单个文档解析失败只会被跳过，不会中断整批处理
type Extractor struct {
	logger  *zap.Logger
	now     func() time.Time
	workers int
}

// Option Extractor 选项
type Option func(*Extractor)

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// WithWorkers 设置批量解析并发数
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// NewExtractor 创建解析器
func NewExtractor(logger *zap.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		logger:  logger,
		now:     time.Now,
		workers: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// document 统一的解析输入
type document struct {
	provider      models.Provider
	subject       string
	text          string
	fallback      *time.Time
	fallbackClock bool
	generic       PatternSet
}

// ExtractEmail 解析一封邮件，不满足最小字段要求时返回 false
func (e *Extractor) ExtractEmail(doc models.Document) (*models.ChargingRecord, bool) {
	if strings.TrimSpace(doc.Body) == "" {
		return nil, false
	}
	rec := &models.ChargingRecord{
		EmailID:      doc.ID,
		EmailSubject: doc.Subject,
	}
	ok := e.extract(document{
		provider:      EmailClassifier.Classify(doc.Subject, doc.Body),
		subject:       doc.Subject,
		text:          doc.Body,
		fallback:      doc.Date,
		fallbackClock: true,
		generic:       EmailPatterns,
	}, rec)
	if !ok {
		return nil, false
	}
	return rec, true
}

// ExtractPDF 解析一份 PDF 收据的文本
func (e *Extractor) ExtractPDF(filename, text string) (*models.ChargingRecord, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	rec := &models.ChargingRecord{
		PDFFilename: filename,
		Source:      models.SourcePDF,
	}
	ok := e.extract(document{
		provider: PDFClassifier.Classify("", text),
		text:     text,
		fallback: DateFromFilename(filename),
		generic:  PDFPatterns,
	}, rec)
	if !ok {
		return nil, false
	}
	return rec, true
}

func (e *Extractor) extract(doc document, rec *models.ChargingRecord) bool {
	rec.Provider = doc.provider
	fields := Capture(doc.text, TierFor(doc.provider), doc.generic)

	date, tod := resolveDate(fields[FieldDate], doc.fallback, doc.fallbackClock, e.now())
	rec.Date = &date
	if raw, ok := fields[FieldTime]; ok {
		if t, ok := ParseReceiptTime(raw); ok {
			tod = &t
		}
	}
	rec.Time = tod

	rec.Location = fields[FieldLocation]
	rec.Duration = fields[FieldDuration]
	rec.TotalKWh = ParseNumber(fields[FieldTotalKWh])
	rec.PeakKW = ParseNumber(fields[FieldPeakKW])
	rec.CostPerKWh = ParseNumber(fields[FieldCostPerKWh])
	rec.TotalCost = ParseNumber(fields[FieldTotalCost])

	if rec.Location == "" {
		rec.Location = InferLocation(rec.Provider, doc.subject, doc.text)
	}

	rec.DeriveCosts()
	return rec.Retainable()
}

// ParseNumber 数值转换，空串或无法解析返回 nil
func ParseNumber(s string) *float64 {
	s = strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(s, "$", ""), ",", ""))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ExtractEmails 并发解析一批邮件，结果保持输入顺序
func (e *Extractor) ExtractEmails(docs []models.Document) []*models.ChargingRecord {
	return e.fanOut(len(docs), func(i int) (*models.ChargingRecord, bool) {
		return e.ExtractEmail(docs[i])
	}, func(i int) string {
		return docs[i].ID
	})
}

// ExtractPDFs 并发解析一批 PDF 文本
func (e *Extractor) ExtractPDFs(files []PDFText) []*models.ChargingRecord {
	return e.fanOut(len(files), func(i int) (*models.ChargingRecord, bool) {
		return e.ExtractPDF(files[i].Filename, files[i].Text)
	}, func(i int) string {
		return files[i].Filename
	})
}

func (e *Extractor) fanOut(n int, fn func(i int) (*models.ChargingRecord, bool), name func(i int) string) []*models.ChargingRecord {
	results := make([]*models.ChargingRecord, n)
	jobs := make(chan int)

	var wg sync.WaitGroup
	workers := e.workers
	if workers > n {
		workers = n
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = e.safe(i, fn, name)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	out := make([]*models.ChargingRecord, 0, n)
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// safe 单个文档的保护边界，panic 记录后跳过
func (e *Extractor) safe(i int, fn func(i int) (*models.ChargingRecord, bool), name func(i int) string) (rec *models.ChargingRecord) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Failed to parse document",
				zap.String("document", name(i)),
				zap.String("panic", fmt.Sprint(r)),
			)
			rec = nil
		}
	}()

	rec, ok := fn(i)
	if !ok {
		e.logger.Debug("Document skipped, no usable charging data", zap.String("document", name(i)))
		return nil
	}
	return rec
}
