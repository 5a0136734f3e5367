package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/langchou/evreceipts/internal/metrics"
	"github.com/langchou/evreceipts/internal/service"
	"github.com/langchou/evreceipts/pkg/ws"
)

// Options 处理器配置
type Options struct {
	APIKey   string
	AdminKey string
	// MaxUploadBytes 单个上传文件的大小上限
	MaxUploadBytes int64
}

// Handler HTTP 处理器
type Handler struct {
	logger    *zap.Logger
	records   *service.RecordService
	ingest    *service.IngestService
	refresher *service.Refresher // 未配置邮件源时为 nil
	wsHub     *ws.Hub
	opts      Options
	docSchema *jsonschema.Schema
	upgrader  websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	records *service.RecordService,
	ingest *service.IngestService,
	refresher *service.Refresher,
	wsHub *ws.Hub,
	opts Options,
) (*Handler, error) {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	schema, err := compileDocumentSchema()
	if err != nil {
		return nil, err
	}
	return &Handler{
		logger:    logger,
		records:   records,
		ingest:    ingest,
		refresher: refresher,
		wsHub:     wsHub,
		opts:      opts,
		docSchema: schema,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(requestIDMiddleware(), metrics.Middleware(), corsMiddleware())

	r.GET("/api/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API 路由
	api := r.Group("/api", h.authMiddleware())
	{
		// 充电记录
		api.GET("/charging-data", h.ListRecords)
		api.GET("/charging-data/:id", h.GetRecord)
		api.DELETE("/charging-data/:id", h.DeleteRecord)
		api.POST("/charging-data/delete", h.DeleteRecords)
		api.DELETE("/charging-data", h.DeleteAllRecords)

		// 统计
		api.GET("/summary", h.GetSummary)
		api.GET("/statistics", h.GetStatistics)
		api.GET("/export", h.Export)

		// 导入
		api.POST("/upload/csv", h.UploadCSV)
		api.POST("/upload/pdf", h.UploadPDF)
		api.POST("/documents", h.IngestDocuments)

		// 后台刷新
		api.GET("/refresh/status", h.RefreshStatus)
		api.POST("/refresh", h.TriggerRefresh)
		api.POST("/refresh/start", h.StartRefresh)
		api.POST("/refresh/stop", h.StopRefresh)

		// 管理
		api.GET("/users", h.adminMiddleware(), h.ListUsers)
	}

	// WebSocket
	r.GET("/ws", h.authMiddleware(), h.HandleWebSocket)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	resp := gin.H{
		"status":     "ok",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"ws_clients": h.wsHub.ClientCount(),
	}
	if h.refresher != nil {
		resp["refresh"] = h.refresher.Status().State
	}
	c.JSON(http.StatusOK, resp)
}

// user 请求对应的用户，email 参数为空时使用默认集合
func user(c *gin.Context) string {
	return c.Query("email")
}
