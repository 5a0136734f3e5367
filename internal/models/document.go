package models

import (
	"path/filepath"
	"strings"
	"time"
)

// EVCCSubjectMarker 携带 EVCC CSV 附件的邮件主题标记
const EVCCSubjectMarker = "EVCC Charging Data"

// Document 待解析的邮件
type Document struct {
	ID          string       `json:"id"`
	Subject     string       `json:"subject"`
	From        string       `json:"from,omitempty"`
	Body        string       `json:"body"`
	Date        *time.Time   `json:"date,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment 邮件附件
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// IsCSV 附件是否为 CSV
func (a Attachment) IsCSV() bool {
	ct := strings.ToLower(a.ContentType)
	if ct == "csv" || strings.Contains(ct, "text/csv") || strings.Contains(ct, "application/csv") {
		return true
	}
	return strings.EqualFold(filepath.Ext(a.Filename), ".csv")
}

// CSVAttachments 返回 EVCC 邮件中的 CSV 附件，非 EVCC 邮件返回 nil
func (d *Document) CSVAttachments() []Attachment {
	if !strings.Contains(d.Subject, EVCCSubjectMarker) {
		return nil
	}
	var out []Attachment
	for _, a := range d.Attachments {
		if a.IsCSV() {
			out = append(out, a)
		}
	}
	return out
}
