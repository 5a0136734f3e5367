package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dslipak/pdf"
	"github.com/gen2brain/go-fitz"
)

// DefaultMinPDFText 直接提取的文本少于该长度时视为扫描件
const DefaultMinPDFText = 100

// PDFTextFromBytes 提取 PDF 纯文本
// 先用纯 Go 解析器读取文本层，文本过短再用 MuPDF 逐页提取，取较长结果
func PDFTextFromBytes(data []byte, minLen int) (string, error) {
	if minLen <= 0 {
		minLen = DefaultMinPDFText
	}

	direct, directErr := plainText(data)
	if directErr == nil && len(strings.TrimSpace(direct)) > minLen {
		return direct, nil
	}

	rendered, fitzErr := fitzText(data)
	if fitzErr != nil {
		if strings.TrimSpace(direct) != "" {
			return direct, nil
		}
		if directErr != nil {
			return "", fmt.Errorf("extract pdf text: %w", directErr)
		}
		return "", fmt.Errorf("extract pdf text: %w", fitzErr)
	}

	if len(strings.TrimSpace(rendered)) > len(strings.TrimSpace(direct)) {
		return rendered, nil
	}
	return direct, nil
}

func plainText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	rd, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read plain text: %w", err)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return "", fmt.Errorf("read plain text: %w", err)
	}
	return string(b), nil
}

func fitzText(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("open pdf with mupdf: %w", err)
	}
	defer doc.Close()

	var sb strings.Builder
	for n := 0; n < doc.NumPage(); n++ {
		text, err := doc.Text(n)
		if err != nil {
			return "", fmt.Errorf("page %d text: %w", n, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
