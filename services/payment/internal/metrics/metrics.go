package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics 결제 서버 메트릭 인터페이스
type PaymentMetrics interface {
	IncPaymentPrepared(source string, created bool)
	IncPaymentConfirmed(result string)
	IncPaymentCancelled(result string)
	IncRefund(result string)
	ObserveRefundAmount(amount int64, tier string)
	ObserveGatewayCall(operation, code string, duration time.Duration)
	IncEventConsumed(topic, result string)
	IncOutboxPublished(topic, result string)
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)
}

// 결과 라벨
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

type paymentMetrics struct {
	paymentsPrepared *prometheus.CounterVec
	paymentsStatus   *prometheus.CounterVec
	refunds          *prometheus.CounterVec
	refundAmount     *prometheus.HistogramVec
	gatewayDuration  *prometheus.HistogramVec
	eventsConsumed   *prometheus.CounterVec
	outboxPublished  *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewPaymentMetrics 레지스트리에 결제 메트릭 등록
func NewPaymentMetrics(registry prometheus.Registerer) PaymentMetrics {
	factory := promauto.With(registry)

	return &paymentMetrics{
		paymentsPrepared: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_prepared_total",
				Help: "Prepare calls by trigger path and whether a new payment row was created",
			},
			[]string{"source", "created"},
		),
		paymentsStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_operations_total",
				Help: "Confirm and cancel operations by result",
			},
			[]string{"operation", "result"},
		),
		refunds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refunds_total",
				Help: "Refund attempts by result",
			},
			[]string{"result"},
		),
		refundAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "refund_amount",
				Help:    "Refunded amounts distribution",
				Buckets: prometheus.ExponentialBuckets(1000, 10, 5),
			},
			[]string{"tier"},
		),
		gatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "Payment gateway call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "code"},
		),
		eventsConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_consumed_total",
				Help: "Consumed broker messages by topic and result",
			},
			[]string{"topic", "result"},
		),
		outboxPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_events_published_total",
				Help: "Outbox events relayed to the broker",
			},
			[]string{"topic", "result"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

func (m *paymentMetrics) IncPaymentPrepared(source string, created bool) {
	label := "false"
	if created {
		label = "true"
	}
	m.paymentsPrepared.WithLabelValues(source, label).Inc()
}

func (m *paymentMetrics) IncPaymentConfirmed(result string) {
	m.paymentsStatus.WithLabelValues("confirm", result).Inc()
}

func (m *paymentMetrics) IncPaymentCancelled(result string) {
	m.paymentsStatus.WithLabelValues("cancel", result).Inc()
}

func (m *paymentMetrics) IncRefund(result string) {
	m.refunds.WithLabelValues(result).Inc()
}

func (m *paymentMetrics) ObserveRefundAmount(amount int64, tier string) {
	m.refundAmount.WithLabelValues(tier).Observe(float64(amount))
}

// ObserveGatewayCall code는 성공 시 "OK", 실패 시 에러 코드
func (m *paymentMetrics) ObserveGatewayCall(operation, code string, duration time.Duration) {
	m.gatewayDuration.WithLabelValues(operation, code).Observe(duration.Seconds())
}

func (m *paymentMetrics) IncEventConsumed(topic, result string) {
	m.eventsConsumed.WithLabelValues(topic, result).Inc()
}

func (m *paymentMetrics) IncOutboxPublished(topic, result string) {
	m.outboxPublished.WithLabelValues(topic, result).Inc()
}

func (m *paymentMetrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpDuration.WithLabelValues(method, route, statusLabel(status)).Observe(duration.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
