package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Provider 充电网络运营商
type Provider string

const (
	ProviderAmpCharge        Provider = "AmpCharge"
	ProviderEvie             Provider = "Evie Networks"
	ProviderChargefox        Provider = "Chargefox"
	ProviderChargePoint      Provider = "ChargePoint"
	ProviderTesla            Provider = "Tesla"
	ProviderElectrifyAmerica Provider = "Electrify America"
	ProviderJolt             Provider = "Jolt"
	ProviderEVUP             Provider = "EVUP"
	ProviderBPPulse          Provider = "BPPulse"
	ProviderEVCC             Provider = "EVCC"
	ProviderUnknown          Provider = "Unknown"
)

// Known 是否为已识别的运营商
func (p Provider) Known() bool {
	return p != "" && p != ProviderUnknown
}

// 数据来源标记
const (
	SourceEVCC = "EVCC CSV"
	SourcePDF  = "PDF Upload"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Date 日历日期，不含时分秒
type Date struct {
	time.Time
}

// NewDate 截断到日
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate 解析 ISO 日期，兼容带时间的旧数据
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateLayout, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDate(t), nil
		}
	}
	return Date{}, fmt.Errorf("parse date %q", s)
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeOfDay 一天中的时刻
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// NewTimeOfDay 取 t 的时分秒
func NewTimeOfDay(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

// ParseTimeOfDay 解析 HH:MM:SS 或 HH:MM
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{TimeLayout, "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimeOfDay(t), nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("parse time %q", s)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ChargingRecord 充电记录
// 数值字段为 nil 表示未知
type ChargingRecord struct {
	ID           string     `json:"id,omitempty"`
	Date         *Date      `json:"date,omitempty"`
	Time         *TimeOfDay `json:"time,omitempty"`
	EndDate      string     `json:"end_date,omitempty"` // EVCC Finished 列原样保留
	Location     string     `json:"location,omitempty"`
	Provider     Provider   `json:"provider,omitempty"`
	TotalKWh     *float64   `json:"total_kwh"`
	PeakKW       *float64   `json:"peak_kw"`
	Duration     string     `json:"duration,omitempty"`
	CostPerKWh   *float64   `json:"cost_per_kwh"`
	TotalCost    *float64   `json:"total_cost"`
	Odometer     *float64   `json:"odometer,omitempty"`
	Vehicle      string     `json:"vehicle,omitempty"`
	Source       string     `json:"source,omitempty"`
	EmailID      string     `json:"email_id,omitempty"`
	EmailSubject string     `json:"email_subject,omitempty"`
	PDFFilename  string     `json:"pdf_filename,omitempty"`
}

// Retainable 满足最小字段要求：有日期，且电量或费用至少一项已知
func (r *ChargingRecord) Retainable() bool {
	return r.Date != nil && (r.TotalKWh != nil || r.TotalCost != nil)
}

// DeriveCosts 行级费用推导：已知电量时由单价求总价，或由总价求单价
func (r *ChargingRecord) DeriveCosts() {
	if r.TotalKWh == nil || *r.TotalKWh == 0 {
		return
	}
	switch {
	case r.TotalCost == nil && r.CostPerKWh != nil:
		r.TotalCost = Float(*r.TotalKWh * *r.CostPerKWh)
	case r.CostPerKWh == nil && r.TotalCost != nil:
		r.CostPerKWh = Float(*r.TotalCost / *r.TotalKWh)
	}
}

// Clone 深拷贝
func (r *ChargingRecord) Clone() *ChargingRecord {
	c := *r
	if r.Date != nil {
		d := *r.Date
		c.Date = &d
	}
	if r.Time != nil {
		t := *r.Time
		c.Time = &t
	}
	c.TotalKWh = cloneFloat(r.TotalKWh)
	c.PeakKW = cloneFloat(r.PeakKW)
	c.CostPerKWh = cloneFloat(r.CostPerKWh)
	c.TotalCost = cloneFloat(r.TotalCost)
	c.Odometer = cloneFloat(r.Odometer)
	return &c
}

// Float 返回 v 的指针
func Float(v float64) *float64 {
	return &v
}

// Value 取值，nil 视为 0
func Value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
