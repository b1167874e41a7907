package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/teambind/payment-server/services/payment/internal/metrics"
	"github.com/teambind/payment-server/services/payment/internal/telemetry"
)

// NewRouter gin 라우터 구성
func NewRouter(
	serviceName string,
	httpHandler *HTTPHandler,
	registry *prometheus.Registry,
	paymentMetrics metrics.PaymentMetrics,
	logger *zap.Logger,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware(serviceName))
	r.Use(AccessLogMiddleware(paymentMetrics, logger))

	r.GET("/health", httpHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		payments := v1.Group("/payments")
		{
			payments.POST("", httpHandler.PreparePayment)
			payments.POST("/confirm", httpHandler.ConfirmPayment)
			payments.GET("/:paymentId", httpHandler.GetPayment)
			payments.POST("/:paymentId/cancel", httpHandler.CancelPayment)
			payments.POST("/:paymentId/refund", httpHandler.RefundPayment)
		}

		v1.POST("/cancel", httpHandler.CancelByReservation)
		v1.POST("/refund", httpHandler.RefundByReservation)
		v1.GET("/refunds/:refundId", httpHandler.GetRefund)
	}

	return r
}

// AccessLogMiddleware 요청 로그와 지연 시간 메트릭 기록
func AccessLogMiddleware(paymentMetrics metrics.PaymentMetrics, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		paymentMetrics.ObserveHTTPRequest(c.Request.Method, route, status, duration)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.String("clientIp", c.ClientIP()),
			zap.String("traceId", c.Writer.Header().Get(telemetry.TraceIDHeader)),
		}

		switch {
		case status >= 500:
			logger.Error("http request", fields...)
		case status >= 400:
			logger.Warn("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}
