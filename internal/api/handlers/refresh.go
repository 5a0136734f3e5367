package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/service"
)

func (h *Handler) requireRefresher(c *gin.Context) bool {
	if h.refresher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Mail refresh is not configured"})
		return false
	}
	return true
}

// RefreshStatus 刷新状态
func (h *Handler) RefreshStatus(c *gin.Context) {
	if !h.requireRefresher(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.refresher.Status()})
}

// TriggerRefresh 立即刷新一次
func (h *Handler) TriggerRefresh(c *gin.Context) {
	if !h.requireRefresher(c) {
		return
	}

	res, err := h.refresher.TriggerNow(c.Request.Context())
	if errors.Is(err, service.ErrRefreshRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": "Refresh already running"})
		return
	}
	if err != nil {
		h.logger.Error("Manual refresh failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "status": h.refresher.Status()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res, "status": h.refresher.Status()})
}

// StartRefresh 启动定时刷新
func (h *Handler) StartRefresh(c *gin.Context) {
	if !h.requireRefresher(c) {
		return
	}
	// 调度循环的生命周期不能跟随请求
	if err := h.refresher.Start(context.WithoutCancel(c.Request.Context())); err != nil {
		h.logger.Error("Failed to start refresher", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start refresher"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.refresher.Status()})
}

// StopRefresh 停止定时刷新
func (h *Handler) StopRefresh(c *gin.Context) {
	if !h.requireRefresher(c) {
		return
	}
	h.refresher.Stop()
	c.JSON(http.StatusOK, gin.H{"data": h.refresher.Status()})
}
