package extract

import (
	"regexp"
	"strings"

	"github.com/langchou/evreceipts/internal/models"
)

// Field 收据中可提取的字段
type Field string

const (
	FieldDate       Field = "date"
	FieldTime       Field = "time"
	FieldLocation   Field = "location"
	FieldTotalKWh   Field = "total_kwh"
	FieldPeakKW     Field = "peak_kw"
	FieldDuration   Field = "duration"
	FieldCostPerKWh Field = "cost_per_kwh"
	FieldTotalCost  Field = "total_cost"
)

// Fields 字段提取顺序
var Fields = []Field{
	FieldDate,
	FieldTime,
	FieldLocation,
	FieldTotalKWh,
	FieldPeakKW,
	FieldDuration,
	FieldCostPerKWh,
	FieldTotalCost,
}

// Pattern 单条匹配规则
type Pattern struct {
	re   *regexp.Regexp
	join func(groups []string) string
}

// Match 返回捕获结果；多分组规则由 join 组合
func (p Pattern) Match(text string) (string, bool) {
	m := p.re.FindStringSubmatch(text)
	if m == nil || len(m) < 2 {
		return "", false
	}
	if p.join != nil {
		return strings.TrimSpace(p.join(m[1:])), true
	}
	return strings.TrimSpace(m[1]), true
}

// Cascade 有序规则列表，首个命中生效
type Cascade []Pattern

// Match 依次尝试规则
func (c Cascade) Match(text string) (string, bool) {
	for _, p := range c {
		if v, ok := p.Match(text); ok {
			return v, true
		}
	}
	return "", false
}

// PatternSet 字段到规则列表的映射
type PatternSet map[Field]Cascade

// Capture 按层级提取字段：先专属层，未覆盖或未命中的字段再走通用层
func Capture(text string, tiers ...PatternSet) map[Field]string {
	out := make(map[Field]string)
	for _, tier := range tiers {
		if tier == nil {
			continue
		}
		for _, f := range Fields {
			if _, done := out[f]; done {
				continue
			}
			cascade, ok := tier[f]
			if !ok {
				continue
			}
			if v, ok := cascade.Match(text); ok {
				out[f] = v
			}
		}
	}
	return out
}

func rx(exprs ...string) Cascade {
	c := make(Cascade, 0, len(exprs))
	for _, e := range exprs {
		c = append(c, Pattern{re: regexp.MustCompile(`(?i)` + e)})
	}
	return c
}

func joined(prefix, expr string) Pattern {
	return Pattern{
		re: regexp.MustCompile(`(?i)` + expr),
		join: func(groups []string) string {
			parts := make([]string, 0, len(groups))
			for _, g := range groups {
				if g = strings.TrimSpace(g); g != "" {
					parts = append(parts, g)
				}
			}
			return prefix + strings.Join(parts, ", ")
		},
	}
}

var (
	dateCommon = []string{
		`Date:\s*(\d{1,2}/\d{1,2}/\d{2,4})`,
		`Date:\s*(\w+ \d{1,2}, \d{4})`,
		`Charging Date:\s*(\d{1,2}-\d{1,2}-\d{2,4})`,
		`Transaction Date:\s*(\d{4}-\d{2}-\d{2})`,
	}
	timeCommon = []string{
		`Time:\s*(\d{1,2}:\d{2} [APM]{2})`,
		`Start Time:\s*(\d{1,2}:\d{2}:\d{2})`,
		`Charging Time:\s*(\d{1,2}:\d{2} [APM]{2})`,
	}
	locationLabels = []string{
		`Location:\s*(.+?)(?:\n|\r|$)`,
		`Station:\s*(.+?)(?:\n|\r|$)`,
		`Charger Location:\s*(.+?)(?:\n|\r|$)`,
	}
	kwhCommon = []string{
		`Energy Delivered:\s*([\d.]+)\s*kWh`,
		`Total Energy:\s*([\d.]+)\s*kWh`,
		`kWh:\s*([\d.]+)`,
		`(\d+\.\d+)\s*kWh`,
	}
	peakCommon = []string{
		`Peak Power:\s*([\d.]+)\s*kW`,
		`Max Power:\s*([\d.]+)\s*kW`,
		`Peak kW:\s*([\d.]+)`,
	}
	durationCommon = []string{
		`Duration:\s*(.+?)(?:\n|\r|$)`,
		`Charging Time:\s*(.+?)(?:\n|\r|$)`,
		`Time Connected:\s*(.+?)(?:\n|\r|$)`,
	}
	rateCommon = []string{
		`Rate:\s*\$?([\d.]+)/kWh`,
		`Price per kWh:\s*\$?([\d.]+)`,
		`\$?([\d.]+)\s*per kWh`,
		`Rate:\s*\$?([\d.]+)\s*kWh`,
		`@\s*\$?([\d.]+)/kWh`,
		`Cost/kWh:\s*\$?([\d.]+)`,
		`Price/kWh:\s*\$?([\d.]+)`,
		`Unit Price:\s*\$?([\d.]+)`,
		`@\s*\$?([\d.]+)`,
		`at\s*\$?([\d.]+)/kWh`,
	}
	costCommon = []string{
		`Total:\s*\$?([\d.]+)`,
		`Amount:\s*\$?([\d.]+)`,
		`Total Cost:\s*\$?([\d.]+)`,
		`Total Amount:\s*\$?([\d.]+)`,
		`Cost:\s*\$?([\d.]+)`,
		`Payment Amount:\s*\$?([\d.]+)`,
		`Charged:\s*\$?([\d.]+)`,
		`Bill Amount:\s*\$?([\d.]+)`,
		`Total Charge:\s*\$?([\d.]+)`,
		`Fee:\s*\$?([\d.]+)`,
		`Amount Paid:\s*\$?([\d.]+)`,
		`Total Payment:\s*\$?([\d.]+)`,
		`Paid:\s*\$?([\d.]+)`,
		`USD\s*([\d.]+)`,
	}
)

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// EmailPatterns 邮件收据通用规则
var EmailPatterns = PatternSet{
	FieldDate: rx(dateCommon...),
	FieldTime: rx(timeCommon...),
	FieldLocation: rx(concat(locationLabels, []string{
		`Charging Station:\s*(.+?)(?:\n|\r|$)`,
		`Address:\s*(.+?)(?:\n|\r|$)`,
		`Station Address:\s*(.+?)(?:\n|\r|$)`,
		`at\s+(.+?)\s+charging station`,
		`Thank you for charging at\s+(.+?)[\.\n\r]`,
		`You charged at\s+(.+?)[,\.\n\r]`,
		`Your charging session receipt\s*\n+.*\n+\s*(.+?)\s*\n`,
		`Warners Bay Grove\s*[\n\r]+\s*(.+?)[,\.\n\r]`,
		`(\d+\s+[A-Za-z]+\s+(?:Rd|Road|St|Street|Ave|Avenue|Blvd|Boulevard|Dr|Drive)[^\n\r,]*)`,
		`Your charging session at\s+(.+?)[,\.\n\r]`,
		`\n(\d+\s+[^\n,]+(?:Road|Rd|Street|St|Avenue|Ave|Drive|Dr|Hwy|Highway|Lane|Ln)[^\n,]*)`,
		`^\s*([^\n]+?)\s*\n+(?:Your charging session|Charging session)`,
	})...),
	FieldTotalKWh:   rx(kwhCommon...),
	FieldPeakKW:     rx(peakCommon...),
	FieldDuration:   rx(durationCommon...),
	FieldCostPerKWh: rx(rateCommon...),
	FieldTotalCost:  rx(costCommon...),
}

// PDFPatterns PDF 文本通用规则，OCR 文本标签不稳定，追加了更宽松的兜底规则
var PDFPatterns = PatternSet{
	FieldDate: rx(concat(dateCommon, []string{
		`(\d{1,2}/\d{1,2}/\d{2,4})`,
		`(\d{2}-\d{2}-\d{4})`,
	})...),
	FieldTime: rx(concat(timeCommon, []string{
		`(\d{1,2}:\d{2} [APM]{2})`,
	})...),
	FieldLocation: rx(concat(locationLabels, []string{
		`Address:\s*(.+?)(?:\n|\r|$)`,
	})...),
	FieldTotalKWh: rx(concat(kwhCommon, []string{
		`Energy:\s*([\d.]+)\s*kWh`,
	})...),
	FieldPeakKW: rx(concat(peakCommon, []string{
		`Power:\s*([\d.]+)\s*kW`,
	})...),
	FieldDuration: rx(concat(durationCommon, []string{
		`Session Length:\s*(.+?)(?:\n|\r|$)`,
	})...),
	FieldCostPerKWh: rx(rateCommon...),
	FieldTotalCost: rx(concat(costCommon, []string{
		`\$\s*([\d.]+)`,
	})...),
}

// AmpolPatterns Ampol AmpCharge 收据专属规则
var AmpolPatterns = PatternSet{
	FieldLocation: append(rx(
		`Location:\s*(.+?)(?:\n|\r|$)`,
		`Charging station:\s*(.+?)(?:\n|\r|$)`,
		`AmpCharge Pty Ltd\s*\n+\s*([^,\n]+(?:Highway|Road|Street|Avenue|Lane|Drive)(?:[^,\n]+)?,\s*[^,\n]+\s*\d{4})`,
	),
		joined("AmpCharge ", `((?:Pacific|Princes|Hume|Western|Eastern|Northern|Southern)\s+Highway)\s+(\d+-\d+|\d+),\s*([^,\n]+?)\s+(\d{4})`),
		rx(`(?:AmpCharge|Ampol)[^\n]*\n+([^\n]+(?:Highway|Road|Street|Avenue|Lane|Drive)[^\n]*(?:,|\n)[^\n]*\d{4})`)[0],
	),
	FieldTotalKWh: rx(
		`Energy delivered:\s*([\d.]+)\s*kWh`,
		`Energy consumed:\s*([\d.]+)\s*kWh`,
	),
	FieldTotalCost: rx(
		`Total amount:\s*\$?([\d.]+)`,
		`Amount:\s*\$?([\d.]+)`,
	),
}

// providerTiers 运营商专属规则层
var providerTiers = map[models.Provider]PatternSet{
	models.ProviderAmpCharge: AmpolPatterns,
}

// TierFor 返回运营商专属规则层，没有则为 nil
func TierFor(p models.Provider) PatternSet {
	return providerTiers[p]
}
