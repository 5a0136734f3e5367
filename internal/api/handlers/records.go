package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/models"
	"github.com/langchou/evreceipts/internal/repository"
	"github.com/langchou/evreceipts/internal/service"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// ListRecords 获取充电记录列表
func (h *Handler) ListRecords(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}

	records, err := h.records.List(c.Request.Context(), user(c), filter)
	if err != nil {
		h.logger.Error("Failed to list charging records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list charging records"})
		return
	}

	total := len(records)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, gin.H{
		"count": total,
		"data":  records[start:end],
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetRecord 获取单条记录
func (h *Handler) GetRecord(c *gin.Context) {
	rec, err := h.records.Get(c.Request.Context(), user(c), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get charging record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get charging record"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// DeleteRecord 删除单条记录
func (h *Handler) DeleteRecord(c *gin.Context) {
	n, err := h.records.DeleteRecords(c.Request.Context(), user(c), []string{c.Param("id")})
	if err != nil {
		h.logger.Error("Failed to delete charging record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete charging record"})
		return
	}
	if n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

type deleteRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// DeleteRecords 批量删除记录
func (h *Handler) DeleteRecords(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	n, err := h.records.DeleteRecords(c.Request.Context(), user(c), req.IDs)
	if err != nil {
		h.logger.Error("Failed to delete charging records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete charging records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// DeleteAllRecords 删除用户的全部记录
func (h *Handler) DeleteAllRecords(c *gin.Context) {
	existed, err := h.records.DeleteUser(c.Request.Context(), user(c))
	if err != nil {
		h.logger.Error("Failed to delete user records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": existed})
}

// GetSummary 汇总
func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.records.Summary(c.Request.Context(), user(c))
	if err != nil {
		h.logger.Error("Failed to summarize charging records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to summarize charging records"})
		return
	}
	if summary == nil {
		c.JSON(http.StatusOK, gin.H{"status": "no_data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// GetStatistics 月度统计
func (h *Handler) GetStatistics(c *gin.Context) {
	stats, err := h.records.Statistics(c.Request.Context(), user(c))
	if err != nil {
		h.logger.Error("Failed to compute statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute statistics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// Export 导出 CSV 或 Excel
func (h *Handler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", service.FormatCSV)
	var contentType string
	switch format {
	case service.FormatCSV:
		contentType = "text/csv; charset=utf-8"
	case service.FormatXLSX:
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported export format"})
		return
	}

	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("charging_data_%s.%s", time.Now().Format("20060102"), format)
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)

	if err := h.records.Export(c.Request.Context(), user(c), format, filter, c.Writer); err != nil {
		// 响应头已写出，只能记录
		h.logger.Error("Failed to export charging records", zap.String("format", format), zap.Error(err))
	}
}

// ListUsers 列出所有用户
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.records.Users(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(users), "data": users})
}

// parseFilter 从查询参数构造过滤条件
func parseFilter(c *gin.Context) (service.Filter, error) {
	var f service.Filter

	for _, p := range []struct {
		name string
		dst  **models.Date
	}{
		{"start_date", &f.StartDate},
		{"end_date", &f.EndDate},
	} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		d, err := models.ParseDate(raw)
		if err != nil {
			return f, fmt.Errorf("invalid %s, expected YYYY-MM-DD", p.name)
		}
		*p.dst = &d
	}

	for _, p := range []struct {
		name string
		dst  **float64
	}{
		{"min_cost", &f.MinCost},
		{"max_cost", &f.MaxCost},
		{"min_kwh", &f.MinKWh},
		{"max_kwh", &f.MaxKWh},
	} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return f, fmt.Errorf("invalid %s", p.name)
		}
		*p.dst = &v
	}

	f.Provider = c.Query("provider")
	f.ProviderExact = c.Query("provider_exact") == "true"
	f.Location = c.Query("location")
	f.Source = c.Query("source")
	return f, nil
}
