package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/langchou/evreceipts/internal/models"
)

// DateLayouts 收据日期格式，按顺序尝试
var DateLayouts = []string{
	"1/2/2006",
	"1/2/06",
	"January 2, 2006",
	"2-1-2006",
	"2-1-06",
	"2006-01-02",
}

// ParseReceiptDate 按 DateLayouts 顺序解析收据日期
func ParseReceiptDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseReceiptTime 解析收据时间：含 AM/PM 按 12 小时制，否则按 HH:MM:SS
func ParseReceiptTime(s string) (models.TimeOfDay, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	layout := "15:04:05"
	if strings.Contains(s, "AM") || strings.Contains(s, "PM") {
		layout = "3:04 PM"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return models.TimeOfDay{}, false
	}
	return models.NewTimeOfDay(t), true
}

var filenameDate = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)

// DateFromFilename 从文件名中提取 YYYY-MM-DD
func DateFromFilename(name string) *time.Time {
	m := filenameDate.FindStringSubmatch(name)
	if m == nil {
		return nil
	}
	t, err := time.Parse("2006-01-02", m[1])
	if err != nil {
		return nil
	}
	return &t
}

// resolveDate 确定记录日期与时刻
// 优先收据内日期，其次文档时间戳，最后取当前时间；fallbackClock 表示时间戳是否带有效时刻
func resolveDate(captured string, fallback *time.Time, fallbackClock bool, now time.Time) (models.Date, *models.TimeOfDay) {
	if t, ok := ParseReceiptDate(captured); ok {
		return models.NewDate(t), nil
	}
	if fallback != nil && !fallback.IsZero() {
		if !fallbackClock {
			return models.NewDate(*fallback), nil
		}
		tod := models.NewTimeOfDay(*fallback)
		return models.NewDate(*fallback), &tod
	}
	tod := models.NewTimeOfDay(now)
	return models.NewDate(now), &tod
}
