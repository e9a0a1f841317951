package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	StreamConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_stream_connections",
		Help: "Current number of open chat stream connections",
	})
	StreamOverflowTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_stream_overflow_total",
		Help: "Total number of stream connections closed because their queue was full",
	}, []string{"transport"})
	MessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of chat messages published",
	})
	MessagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_rejected_total",
		Help: "Total number of chat messages rejected by validation",
	}, []string{"reason"})
	BusListenerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_bus_listener_failures_total",
		Help: "Total number of bus listener invocations that errored or panicked",
	}, []string{"kind"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		StreamConnections,
		StreamOverflowTotal,
		MessagesTotal,
		MessagesRejected,
		BusListenerFailures,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
// 流式端点的耗时即连接时长，单独按路径区分即可。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
