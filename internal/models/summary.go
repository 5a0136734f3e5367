package models

// Summary 充电数据汇总
type Summary struct {
	RecordCount    int             `json:"record_count"`
	Locations      int             `json:"locations"`
	Providers      int             `json:"providers"`
	TotalEnergyKWh float64         `json:"total_energy_kwh"`
	TotalCost      float64         `json:"total_cost"`
	AvgCostPerKWh  float64         `json:"avg_cost_per_kwh"`
	DateRange      *DateRange      `json:"date_range,omitempty"`
	TopProviders   []ProviderTotal `json:"top_providers"`
	TopLocations   []LocationTotal `json:"top_locations"`
}

// DateRange 日期范围
type DateRange struct {
	FirstDate string `json:"first_date"`
	LastDate  string `json:"last_date"`
}

// ProviderTotal 运营商累计电量
type ProviderTotal struct {
	Provider Provider `json:"provider"`
	TotalKWh float64  `json:"total_kwh"`
}

// LocationTotal 站点累计电量
type LocationTotal struct {
	Location string  `json:"location"`
	TotalKWh float64 `json:"total_kwh"`
}

// MonthlyStat 月度统计
type MonthlyStat struct {
	Month      string  `json:"month"` // YYYY-MM
	Sessions   int     `json:"sessions"`
	TotalKWh   float64 `json:"total_kwh"`
	TotalCost  float64 `json:"total_cost"`
	CostPerKWh float64 `json:"cost_per_kwh"`
}
