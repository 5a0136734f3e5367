package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/models"
	"github.com/langchou/evreceipts/internal/normalize"
)

// 导出格式
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const (
	recordsSheet = "Charging Data"
	monthlySheet = "Monthly"
)

var exportHeaders = []string{
	"id", "date", "time", "end_date", "location", "provider",
	"total_kwh", "peak_kw", "duration", "cost_per_kwh", "total_cost",
	"odometer", "vehicle", "source", "email_id", "email_subject", "pdf_filename",
}

// exportRow 单条记录的导出列，未知数值为 nil
func exportRow(rec *models.ChargingRecord) []interface{} {
	date, tod := "", ""
	if rec.Date != nil {
		date = rec.Date.String()
	}
	if rec.Time != nil {
		tod = rec.Time.String()
	}
	num := func(p *float64) interface{} {
		if p == nil {
			return nil
		}
		return *p
	}
	return []interface{}{
		rec.ID, date, tod, rec.EndDate, rec.Location, string(rec.Provider),
		num(rec.TotalKWh), num(rec.PeakKW), rec.Duration, num(rec.CostPerKWh), num(rec.TotalCost),
		num(rec.Odometer), rec.Vehicle, rec.Source, rec.EmailID, rec.EmailSubject, rec.PDFFilename,
	}
}

// Export 按格式导出用户记录
func (s *RecordService) Export(ctx context.Context, user, format string, f Filter, w io.Writer) error {
	records, err := s.List(ctx, user, f)
	if err != nil {
		return err
	}

	switch format {
	case FormatCSV, "":
		err = writeCSV(w, records)
	case FormatXLSX:
		err = writeXLSX(w, records, Monthly(normalize.Clean(records, s.now())))
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return err
	}

	s.logger.Info("Exported charging records",
		zap.String("user", s.coll.Key(user)),
		zap.String("format", format),
		zap.Int("rows", len(records)),
	)
	return nil
}

func writeCSV(w io.Writer, records []*models.ChargingRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeaders); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(exportHeaders))
	for _, rec := range records {
		for i, v := range exportRow(rec) {
			switch x := v.(type) {
			case nil:
				row[i] = ""
			case float64:
				row[i] = strconv.FormatFloat(x, 'f', -1, 64)
			default:
				row[i] = fmt.Sprint(x)
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, records []*models.ChargingRecord, stats []models.MonthlyStat) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", recordsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headers := make([]interface{}, len(exportHeaders))
	for i, h := range exportHeaders {
		headers[i] = h
	}
	if err := f.SetSheetRow(recordsSheet, "A1", &headers); err != nil {
		return fmt.Errorf("xlsx header: %w", err)
	}
	for i, rec := range records {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := exportRow(rec)
		if err := f.SetSheetRow(recordsSheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+2, err)
		}
	}
	_ = f.SetColWidth(recordsSheet, "A", "A", 34)
	_ = f.SetColWidth(recordsSheet, "E", "E", 40)
	_ = f.SetColWidth(recordsSheet, "P", "Q", 40)

	if _, err := f.NewSheet(monthlySheet); err != nil {
		return fmt.Errorf("xlsx monthly sheet: %w", err)
	}
	monthlyHeaders := []interface{}{"month", "sessions", "total_kwh", "total_cost", "cost_per_kwh"}
	if err := f.SetSheetRow(monthlySheet, "A1", &monthlyHeaders); err != nil {
		return fmt.Errorf("xlsx monthly header: %w", err)
	}
	for i, st := range stats {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{st.Month, st.Sessions, st.TotalKWh, st.TotalCost, st.CostPerKWh}
		if err := f.SetSheetRow(monthlySheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx monthly row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
