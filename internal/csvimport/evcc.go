package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/models"
)

// EVCC 导出文件列名
const (
	ColCreated       = "Created"
	ColFinished      = "Finished"
	ColChargingPoint = "Charging point"
	ColVehicle       = "Vehicle"
	ColMileage       = "Mileage (km)"
	ColEnergy        = "Energy (kWh)"
	ColDuration      = "Duration"
	ColPrice         = "Price"
	ColPricePerKWh   = "Price/kWh"
)

// RequiredColumns 必需列
var RequiredColumns = []string{ColCreated, ColEnergy}

const (
	DefaultCostPerKWh = 0.01
	DefaultLocation   = "Home Charging Station"
)

// HeaderError 表头缺少必需列，整个文件被拒绝
type HeaderError struct {
	Required []string
	Missing  []string
	Found    []string
}

func (e *HeaderError) Error() string {
	if len(e.Found) == 0 {
		return "csv file appears to be empty or invalid"
	}
	return fmt.Sprintf("invalid EVCC csv: missing columns %s (required: %s, found: %s)",
		strings.Join(e.Missing, ", "),
		strings.Join(e.Required, ", "),
		strings.Join(e.Found, ", "),
	)
}

// dateTimeLayouts 通用日期时间格式
var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	"01/02/2006 15:04:05",
}

// Result 解析结果
type Result struct {
	Records []*models.ChargingRecord
	Skipped int
}

// Parser EVCC CSV 解析器
type Parser struct {
	logger     *zap.Logger
	costPerKWh float64
	now        func() time.Time
}

// NewParser 创建解析器，costPerKWh 为缺省单价
func NewParser(logger *zap.Logger, costPerKWh float64) *Parser {
	if costPerKWh <= 0 {
		costPerKWh = DefaultCostPerKWh
	}
	return &Parser{
		logger:     logger,
		costPerKWh: costPerKWh,
		now:        time.Now,
	}
}

// Parse 解析 EVCC 导出
// 表头缺少必需列时返回空结果和 *HeaderError；单行问题只跳过该行
func (p *Parser) Parse(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &Result{}, &HeaderError{Required: RequiredColumns}
	}
	if err != nil {
		return &Result{}, fmt.Errorf("read csv header: %w", err)
	}
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}

	index := make(map[string]int, len(headers))
	for i, h := range headers {
		index[strings.TrimSpace(h)] = i
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		herr := &HeaderError{Required: RequiredColumns, Missing: missing, Found: headers}
		p.logger.Warn("Rejected EVCC csv", zap.Strings("missing", missing), zap.Strings("found", headers))
		return &Result{}, herr
	}

	result := &Result{}
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			p.logger.Warn("Skipping malformed csv row", zap.Int("line", line), zap.Error(err))
			result.Skipped++
			continue
		}
		if len(row) < len(headers) {
			result.Skipped++
			continue
		}

		rec := p.parseRow(row, index)
		if rec == nil {
			result.Skipped++
			continue
		}
		result.Records = append(result.Records, rec)
	}

	p.logger.Info("Parsed EVCC csv",
		zap.Int("records", len(result.Records)),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (p *Parser) parseRow(row []string, index map[string]int) *models.ChargingRecord {
	get := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	created := get(ColCreated)
	if created == "" {
		return nil
	}
	kwh := parseFloat(get(ColEnergy))
	if kwh == nil {
		return nil
	}

	rec := &models.ChargingRecord{
		Location:   DefaultLocation,
		Provider:   models.ProviderEVCC,
		Source:     models.SourceEVCC,
		TotalKWh:   kwh,
		CostPerKWh: models.Float(p.costPerKWh),
		EndDate:    get(ColFinished),
		Vehicle:    get(ColVehicle),
		Duration:   get(ColDuration),
		Odometer:   parseFloat(get(ColMileage)),
	}

	ts, ok := ParseDateTime(created)
	if !ok {
		ts = p.now()
	}
	date := models.NewDate(ts)
	tod := models.NewTimeOfDay(ts)
	rec.Date = &date
	rec.Time = &tod

	if loc := get(ColChargingPoint); loc != "" {
		rec.Location = loc
	}
	if rate := parseFloat(stripCurrency(get(ColPricePerKWh))); rate != nil {
		rec.CostPerKWh = rate
	}
	rec.TotalCost = parseFloat(stripCurrency(get(ColPrice)))
	if rec.TotalCost == nil {
		rec.TotalCost = models.Float(*rec.TotalKWh * *rec.CostPerKWh)
	}
	return rec
}

// ParseDateTime 通用日期时间解析
func ParseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func stripCurrency(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "$", ""))
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
