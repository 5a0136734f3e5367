package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/models"
	"github.com/langchou/evreceipts/internal/service"
)

// documentSchema POST /api/documents 请求体
const documentSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "subject", "body"],
    "properties": {
      "id": {"type": "string", "minLength": 1},
      "subject": {"type": "string"},
      "from": {"type": "string"},
      "body": {"type": "string"},
      "date": {"type": ["string", "null"], "format": "date-time"},
      "attachments": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["filename", "data"],
          "properties": {
            "filename": {"type": "string", "minLength": 1},
            "content_type": {"type": "string"},
            "data": {"type": "string"}
          }
        }
      }
    }
  }
}`

func compileDocumentSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource("documents.json", strings.NewReader(documentSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("documents.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// IngestDocuments 导入已取回的邮件
func (h *Handler) IngestDocuments(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.opts.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}
	if int64(len(body)) > h.opts.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
		return
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if err := h.docSchema.Validate(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Documents do not match schema", "details": err.Error()})
		return
	}

	var docs []models.Document
	if err := json.Unmarshal(body, &docs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid documents", "details": err.Error()})
		return
	}

	res, err := h.ingest.IngestDocuments(c.Request.Context(), user(c), docs)
	if err != nil {
		h.logger.Error("Failed to ingest documents", zap.Int("documents", len(docs)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest documents"})
		return
	}
	h.respondIngest(c, res)
}

// UploadCSV 上传 EVCC 导出
func (h *Handler) UploadCSV(c *gin.Context) {
	fh, data, ok := h.readUpload(c, ".csv")
	if !ok {
		return
	}

	res, err := h.ingest.IngestCSV(c.Request.Context(), user(c), fh.Filename, bytes.NewReader(data))
	if err != nil {
		h.logger.Error("Failed to ingest csv", zap.String("filename", fh.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest csv"})
		return
	}
	h.respondIngest(c, res)
}

// UploadPDF 上传 PDF 收据
func (h *Handler) UploadPDF(c *gin.Context) {
	fh, data, ok := h.readUpload(c, ".pdf")
	if !ok {
		return
	}

	res, err := h.ingest.IngestPDF(c.Request.Context(), user(c), fh.Filename, data)
	if err != nil {
		h.logger.Error("Failed to ingest pdf", zap.String("filename", fh.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest pdf"})
		return
	}
	h.respondIngest(c, res)
}

// readUpload 读取 multipart 的 file 字段
func (h *Handler) readUpload(c *gin.Context, ext string) (*multipart.FileHeader, []byte, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file"})
		return nil, nil, false
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ext) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Expected a %s file", ext)})
		return nil, nil, false
	}
	if fh.Size > h.opts.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return nil, nil, false
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to open upload"})
		return nil, nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return nil, nil, false
	}
	return fh, data, true
}

// respondIngest 没有解析出任何记录且有诊断信息时返回 422
func (h *Handler) respondIngest(c *gin.Context, res *service.IngestResult) {
	if res.Extracted == 0 && len(res.Diagnostics) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": res.Diagnostics[0], "data": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}
