package identity

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/langchou/evreceipts/internal/models"
)

// Kind 记录来源类型，决定参与哈希的字段
type Kind int

const (
	KindGeneric Kind = iota
	KindCSV
	KindPDF
	KindEmail
)

func (k Kind) String() string {
	switch k {
	case KindCSV:
		return "csv"
	case KindPDF:
		return "pdf"
	case KindEmail:
		return "email"
	default:
		return "generic"
	}
}

// KindOf 判断记录来源类型
func KindOf(rec *models.ChargingRecord) Kind {
	switch {
	case rec.Source == models.SourceEVCC:
		return KindCSV
	case rec.Source == models.SourcePDF || rec.PDFFilename != "":
		return KindPDF
	case rec.EmailID != "":
		return KindEmail
	default:
		return KindGeneric
	}
}

type field struct {
	name  string
	value func(*models.ChargingRecord) string
}

func str(name string, get func(*models.ChargingRecord) string) field {
	return field{name: name, value: get}
}

func num(name string, get func(*models.ChargingRecord) *float64) field {
	return field{name: name, value: func(r *models.ChargingRecord) string {
		p := get(r)
		if p == nil {
			return ""
		}
		return strconv.FormatFloat(*p, 'f', -1, 64)
	}}
}

var (
	fDate = str("date", func(r *models.ChargingRecord) string {
		if r.Date == nil {
			return ""
		}
		return r.Date.String()
	})
	fTime = str("time", func(r *models.ChargingRecord) string {
		if r.Time == nil {
			return ""
		}
		return r.Time.String()
	})
	fEndDate     = str("end_date", func(r *models.ChargingRecord) string { return r.EndDate })
	fProvider    = str("provider", func(r *models.ChargingRecord) string { return string(r.Provider) })
	fLocation    = str("location", func(r *models.ChargingRecord) string { return r.Location })
	fVehicle     = str("vehicle", func(r *models.ChargingRecord) string { return r.Vehicle })
	fSource      = str("source", func(r *models.ChargingRecord) string { return r.Source })
	fDuration    = str("duration", func(r *models.ChargingRecord) string { return r.Duration })
	fEmailID     = str("email_id", func(r *models.ChargingRecord) string { return r.EmailID })
	fPDFFilename = str("pdf_filename", func(r *models.ChargingRecord) string { return r.PDFFilename })
	fTotalKWh    = num("total_kwh", func(r *models.ChargingRecord) *float64 { return r.TotalKWh })
	fPeakKW      = num("peak_kw", func(r *models.ChargingRecord) *float64 { return r.PeakKW })
	fCostPerKWh  = num("cost_per_kwh", func(r *models.ChargingRecord) *float64 { return r.CostPerKWh })
	fTotalCost   = num("total_cost", func(r *models.ChargingRecord) *float64 { return r.TotalCost })
)

// fieldSets 各来源参与哈希的字段，顺序固定
var fieldSets = map[Kind][]field{
	KindCSV: {
		fDate, fTime, fEndDate, fTotalKWh, fPeakKW, fDuration, fCostPerKWh, fTotalCost,
		fProvider, fLocation, fVehicle, fSource,
	},
	KindPDF:     {fPDFFilename, fProvider, fLocation, fTotalKWh, fTotalCost, fSource},
	KindEmail:   {fEmailID, fProvider, fLocation, fTotalKWh, fTotalCost, fSource},
	KindGeneric: {fProvider, fLocation, fTotalKWh, fPeakKW, fDuration, fTotalCost, fSource},
}

// Key 哈希前的规范字符串
func Key(rec *models.ChargingRecord) string {
	fields := fieldSets[KindOf(rec)]
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.name + "=" + f.value(rec)
	}
	return strings.Join(parts, "|")
}

// ID 记录内容哈希（MD5 十六进制）
// 同一来源内字段完全相同的两条记录会得到同一个 ID，合并时视为重复
func ID(rec *models.ChargingRecord) string {
	sum := md5.Sum([]byte(Key(rec)))
	return hex.EncodeToString(sum[:])
}

// Assign 为缺少 ID 的记录补齐 ID
func Assign(rec *models.ChargingRecord) string {
	if rec.ID == "" {
		rec.ID = ID(rec)
	}
	return rec.ID
}

// Merge 将 incoming 中的新记录追加到 existing 之后
// 已有记录顺序不变，新记录按 incoming 顺序追加，重复合并不会增长
func Merge(existing, incoming []*models.ChargingRecord) (merged []*models.ChargingRecord, added int) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged = make([]*models.ChargingRecord, 0, len(existing)+len(incoming))
	for _, rec := range existing {
		seen[Assign(rec)] = struct{}{}
		merged = append(merged, rec)
	}
	for _, rec := range incoming {
		id := Assign(rec)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, rec)
		added++
	}
	return merged, added
}
