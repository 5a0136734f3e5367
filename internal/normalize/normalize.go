package normalize

import (
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/langchou/evreceipts/internal/models"
)

var (
	hoursRe   = regexp.MustCompile(`(?i)(\d+)\s*h`)
	minutesRe = regexp.MustCompile(`(?i)(\d+)\s*m`)
	minRe     = regexp.MustCompile(`(?i)(\d+)\s*min`)
)

// ParseDurationHours 将 "1h 30m"、"45 min" 之类的时长换算为小时
func ParseDurationHours(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}

	var hours float64
	matched := false
	if m := hoursRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		hours += float64(n)
		matched = true
	}
	if m := minutesRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		hours += float64(n) / 60
		matched = true
	} else if m := minRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		hours += float64(n) / 60
		matched = true
	}
	return hours, matched
}

// Median 中位数，空切片返回 false
func Median(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2, true
}

// Record 单条记录的精确清洗：峰值功率推算与费用三角补全
func Record(rec *models.ChargingRecord) {
	inferPeak(rec)
	deriveCosts(rec)
}

// Clean 批量清洗，返回副本，输入不被修改
// 顺序：峰值功率 → 精确费用推导 → 中位数回填 → 补零；每一步只处理仍为空的字段
func Clean(records []*models.ChargingRecord, now time.Time) []*models.ChargingRecord {
	out := make([]*models.ChargingRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}

	for _, rec := range out {
		inferPeak(rec)
	}
	for _, rec := range out {
		deriveCosts(rec)
	}

	var rates []float64
	for _, rec := range out {
		if rec.CostPerKWh != nil {
			rates = append(rates, *rec.CostPerKWh)
		}
	}
	if median, ok := Median(rates); ok {
		for _, rec := range out {
			backfill(rec, median)
		}
	}

	today := models.NewDate(now)
	for _, rec := range out {
		zeroFill(rec)
		if rec.Date == nil {
			d := today
			rec.Date = &d
		}
	}
	return out
}

func inferPeak(rec *models.ChargingRecord) {
	if rec.PeakKW != nil || rec.TotalKWh == nil {
		return
	}
	hours, ok := ParseDurationHours(rec.Duration)
	if !ok || hours <= 0 {
		return
	}
	rec.PeakKW = models.Float(*rec.TotalKWh / hours)
}

func deriveCosts(rec *models.ChargingRecord) {
	// AmpCharge 单价总是按实付金额重算
	if rec.Provider == models.ProviderAmpCharge && rec.TotalCost != nil && rec.TotalKWh != nil && *rec.TotalKWh != 0 {
		rec.CostPerKWh = models.Float(*rec.TotalCost / *rec.TotalKWh)
		return
	}
	rec.DeriveCosts()
	// 金额和单价已知时电量直接反推，不走中位数
	if rec.TotalKWh == nil && rec.TotalCost != nil && rec.CostPerKWh != nil && *rec.CostPerKWh != 0 {
		rec.TotalKWh = models.Float(*rec.TotalCost / *rec.CostPerKWh)
	}
}

func backfill(rec *models.ChargingRecord, median float64) {
	if rec.TotalCost == nil && rec.TotalKWh != nil {
		rec.TotalCost = models.Float(*rec.TotalKWh * median)
		if rec.CostPerKWh == nil {
			rec.CostPerKWh = models.Float(median)
		}
	}
	if rec.TotalKWh == nil && rec.TotalCost != nil && median != 0 {
		rec.TotalKWh = models.Float(*rec.TotalCost / median)
		if rec.CostPerKWh == nil {
			rec.CostPerKWh = models.Float(median)
		}
	}
}

// zeroFill 剩余空数值置 0，未知与真实的 0 无法再区分
func zeroFill(rec *models.ChargingRecord) {
	for _, f := range []**float64{&rec.TotalKWh, &rec.PeakKW, &rec.CostPerKWh, &rec.TotalCost} {
		if *f == nil {
			*f = models.Float(0)
		}
	}
}
