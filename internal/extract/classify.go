package extract

import (
	"regexp"
	"strings"

	"github.com/langchou/evreceipts/internal/models"
)

// providerRule 运营商识别规则
type providerRule struct {
	provider    models.Provider
	subjectOnly bool
	patterns    []*regexp.Regexp
}

// Classifier 运营商分类器
// 规则按声明顺序匹配，首个命中的运营商生效；关键字重叠时以顺序为准
type Classifier struct {
	rules []providerRule
}

// Classify 根据主题和正文判断运营商，无法识别返回 Unknown
func (c *Classifier) Classify(subject, body string) models.Provider {
	for _, r := range c.rules {
		for _, p := range r.patterns {
			if p.MatchString(subject) {
				return r.provider
			}
			if !r.subjectOnly && p.MatchString(body) {
				return r.provider
			}
		}
	}
	return models.ProviderUnknown
}

func keywords(words ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(words))
	for _, w := range words {
		out = append(out, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(w)))
	}
	return out
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+e))
	}
	return out
}

// EmailClassifier 邮件收据分类器，Ampol 只看主题
var EmailClassifier = &Classifier{rules: []providerRule{
	{provider: models.ProviderAmpCharge, subjectOnly: true, patterns: keywords("ampol", "ampcharge")},
	{provider: models.ProviderEvie, patterns: keywords("evie")},
	{provider: models.ProviderChargefox, patterns: keywords("chargefox")},
	{provider: models.ProviderChargePoint, patterns: keywords("chargepoint")},
	{provider: models.ProviderTesla, patterns: keywords("tesla")},
	{provider: models.ProviderElectrifyAmerica, patterns: keywords("electrify")},
	{provider: models.ProviderJolt, patterns: keywords("jolt")},
	{provider: models.ProviderEVUP, patterns: keywords("evup")},
	{provider: models.ProviderBPPulse, patterns: keywords("bp pulse")},
}}

// PDFClassifier PDF 全文分类器
var PDFClassifier = &Classifier{rules: []providerRule{
	{provider: models.ProviderAmpCharge, patterns: patterns(`Amp[ -]?Charge`, `Ampol`)},
	{provider: models.ProviderEvie, patterns: patterns(`Evie`)},
	{provider: models.ProviderChargefox, patterns: patterns(`Chargefox`)},
	{provider: models.ProviderChargePoint, patterns: patterns(`ChargePoint`)},
	{provider: models.ProviderTesla, patterns: patterns(`Tesla`, `Supercharger`)},
	{provider: models.ProviderElectrifyAmerica, patterns: patterns(`Electrify`)},
	{provider: models.ProviderJolt, patterns: patterns(`Jolt`)},
	{provider: models.ProviderEVUP, patterns: patterns(`EV[ -]?UP`)},
	{provider: models.ProviderBPPulse, patterns: patterns(`BP[ -]?Pulse`)},
}}

// Cities 通用站点名使用的城市关键字，按顺序匹配
var Cities = []string{"Sydney", "Melbourne", "Brisbane", "Perth", "Adelaide", "Canberra"}

// siteHint 运营商已知站点
type siteHint struct {
	patterns []*regexp.Regexp
	names    []string
}

var siteHints = map[models.Provider]siteHint{
	models.ProviderAmpCharge: {names: []string{
		"AmpCharge Alexandria", "AmpCharge Belconnen", "AmpCharge Melbourne CBD",
		"AmpCharge Brisbane", "AmpCharge Sydney Airport", "AmpCharge Perth",
		"AmpCharge Adelaide", "AmpCharge Canberra",
	}},
	models.ProviderEvie: {
		patterns: patterns(
			`(?:Warners Bay Grove|[A-Za-z\s]+(?:Hub|Station|Grove|Centre))\s*\n+\s*([^\n]+?(?:Rd|Road|St|Street|Ave|Avenue|Dr|Drive|Hwy|Highway)[^\n]*(?:,|\n)[^\n]*)`,
			`(\d+\s+[A-Za-z\s]+(?:Rd|Road|St|Street|Ave|Avenue|Dr|Drive|Hwy|Highway)\s+[A-Za-z\s]+,\s*[A-Z]{2,3}\s+\d{4})`,
		),
		names: []string{
			"Evie Networks Brisbane", "Evie Networks Sydney", "Evie Networks Melbourne",
			"Evie Networks Perth", "Evie Networks Adelaide", "Evie Networks Canberra",
			"Evie Networks Hobart", "Evie Networks Darwin",
		},
	},
	models.ProviderChargefox: {names: []string{
		"Chargefox Sydney CBD", "Chargefox Melbourne CBD", "Chargefox Brisbane CBD",
		"Chargefox Perth CBD", "Chargefox Adelaide CBD", "Chargefox Canberra CBD",
		"Chargefox Hobart", "Chargefox Darwin",
	}},
	models.ProviderTesla: {names: []string{
		"Tesla Supercharger Sydney", "Tesla Supercharger Melbourne",
		"Tesla Supercharger Brisbane", "Tesla Supercharger Perth",
		"Tesla Supercharger Adelaide", "Tesla Supercharger Canberra",
		"Tesla Supercharger Hobart", "Tesla Supercharger Darwin",
		"Tesla Supercharger Gold Coast", "Tesla Supercharger Newcastle",
	}},
}

// InferLocation 站点字段缺失时推断站点名
// 依次尝试：运营商已知站点、"<运营商> <城市>"、"<运营商> Charging Station"
func InferLocation(p models.Provider, subject, body string) string {
	if !p.Known() {
		return ""
	}
	if hint, ok := siteHints[p]; ok {
		for _, re := range hint.patterns {
			if m := re.FindStringSubmatch(body); len(m) > 1 {
				if loc := strings.TrimSpace(m[1]); loc != "" {
					return loc
				}
			}
		}
		for _, name := range hint.names {
			if containsFold(body, name) || containsFold(subject, name) {
				return name
			}
		}
	}
	for _, city := range Cities {
		if containsFold(body, city) || containsFold(subject, city) {
			return string(p) + " " + city
		}
	}
	return string(p) + " Charging Station"
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
