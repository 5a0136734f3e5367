package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 入库
	DocumentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evreceipts_documents_processed_total",
		Help: "Documents seen by the ingest pipeline",
	}, []string{"kind", "outcome"})

	RecordsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evreceipts_records_added_total",
		Help: "New charging records merged into user collections",
	}, []string{"kind"})

	EnergyIngestedKWh = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evreceipts_energy_ingested_kwh_total",
		Help: "Energy of newly merged records in kWh",
	})

	CSVRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evreceipts_csv_rejected_total",
		Help: "CSV files rejected for missing required columns",
	})

	IngestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evreceipts_ingest_duration_seconds",
		Help:    "Duration of ingest calls including merge and save",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// 刷新任务
	RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evreceipts_refresh_runs_total",
		Help: "Background refresh runs",
	}, []string{"status"})

	// HTTP
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evreceipts_http_requests_total",
		Help: "HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evreceipts_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Middleware 记录请求数量与耗时，按路由模板聚合
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
