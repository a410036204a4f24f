package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Webhook 配置指标
	WebhooksCreated prometheus.Counter
	WebhooksDeleted prometheus.Counter
	WebhooksActive  prometheus.Gauge

	// 事件分发指标
	EventsTriggered  *prometheus.CounterVec
	EventsFanedOut   prometheus.Counter
	EventsFiltered   prometheus.Counter
	EventsRateLimits prometheus.Counter

	// 投递指标
	DeliveryAttempts  *prometheus.CounterVec
	DeliveryDuration  *prometheus.HistogramVec
	DeliveriesRetried prometheus.Counter
	DeliveriesDead    prometheus.Counter
	EventsPending     prometheus.Gauge

	// 调度指标
	SweepRuns     prometheus.Counter
	SweepResubmit prometheus.Counter
	EventsPruned  prometheus.Counter

	// 系统指标
	SystemUptime        prometheus.Gauge
	DatabaseConnections prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		// HTTP 请求指标
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitalbucket_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digitalbucket_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digitalbucket_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digitalbucket_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// Webhook 配置指标
		WebhooksCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digitalbucket_webhooks_created_total",
				Help: "Total number of webhooks created",
			},
		),

		WebhooksDeleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digitalbucket_webhooks_deleted_total",
				Help: "Total number of webhooks deleted",
			},
		),

		WebhooksActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digitalbucket_webhooks_active",
				Help: "Number of active webhooks",
			},
		),

		// 事件分发指标
		EventsTriggered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitalbucket_events_triggered_total",
				Help: "Total number of domain events triggered",
			},
			[]string{"event_type"},
		),

		EventsFanedOut: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digitalbucket_events_fanned_out_total",
				Help: "Total number of webhook event records created",
			},
		),

		EventsFiltered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digitalbucket_events_filtered_total",
				Help: "Total number of deliveries skipped by payload filters",
			},
		),

		EventsRateLimits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digitalbucket_events_rate_limited_total",
				Help: "Total number of deliveries delayed by per-webhook rate limits",
			},
		),

		// 投递指标
		DeliveryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitalbucket_delivery_attempts_total",
				Help: "Total number of delivery attempts",
			},
			[]string{"outcome"},
		),

		DeliveryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digitalbucket_delivery_duration_seconds",
				Help:    "Delivery attempt duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		DeliveriesRetried: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digitalbucket_deliveries_retried_total",
				Help: "Total number of deliveries scheduled for retry",
			},
		),

		DeliveriesDead: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digitalbucket_deliveries_dead_total",
				Help: "Total number of deliveries that exhausted their retry budget",
			},
		),

		EventsPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digitalbucket_events_pending",
				Help: "Number of event records awaiting delivery or retry",
			},
		),

		// 调度指标
		SweepRuns: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digitalbucket_sweep_runs_total",
				Help: "Total number of retry scheduler sweeps",
			},
		),

		SweepResubmit: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digitalbucket_sweep_resubmitted_total",
				Help: "Total number of due events resubmitted by the scheduler",
			},
		),

		EventsPruned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digitalbucket_events_pruned_total",
				Help: "Total number of terminal event records pruned",
			},
		),

		// 系统指标
		SystemUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digitalbucket_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		DatabaseConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "digitalbucket_database_connections",
				Help: "Number of database connections",
			},
		),

		// 错误指标
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitalbucket_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digitalbucket_panics_total",
				Help: "Total number of panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordWebhookCreated 记录 Webhook 创建
func (m *Metrics) RecordWebhookCreated() {
	m.WebhooksCreated.Inc()
}

// RecordWebhookDeleted 记录 Webhook 删除
func (m *Metrics) RecordWebhookDeleted() {
	m.WebhooksDeleted.Inc()
}

// RecordEventTriggered 记录领域事件触发
func (m *Metrics) RecordEventTriggered(eventType string) {
	m.EventsTriggered.WithLabelValues(eventType).Inc()
}

// RecordEventFanout 记录事件记录创建
func (m *Metrics) RecordEventFanout(count int) {
	m.EventsFanedOut.Add(float64(count))
}

// RecordEventFiltered 记录被过滤器跳过的投递
func (m *Metrics) RecordEventFiltered() {
	m.EventsFiltered.Inc()
}

// RecordRateLimited 记录被限速延迟的投递
func (m *Metrics) RecordRateLimited() {
	m.EventsRateLimits.Inc()
}

// RecordDeliveryAttempt 记录一次投递尝试
func (m *Metrics) RecordDeliveryAttempt(success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.DeliveryAttempts.WithLabelValues(outcome).Inc()
	m.DeliveryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordDeliveryRetryScheduled 记录一次重试排期
func (m *Metrics) RecordDeliveryRetryScheduled() {
	m.DeliveriesRetried.Inc()
}

// RecordDeliveryDead 记录一次重试预算耗尽
func (m *Metrics) RecordDeliveryDead() {
	m.DeliveriesDead.Inc()
}

// RecordSweep 记录一次调度扫描及其重新提交的记录数
func (m *Metrics) RecordSweep(resubmitted int) {
	m.SweepRuns.Inc()
	m.SweepResubmit.Add(float64(resubmitted))
}

// RecordEventsPruned 记录保留期清理数量
func (m *Metrics) RecordEventsPruned(count int) {
	m.EventsPruned.Add(float64(count))
}

// UpdateWebhooksActive 更新活跃 Webhook 数
func (m *Metrics) UpdateWebhooksActive(count int) {
	m.WebhooksActive.Set(float64(count))
}

// UpdateEventsPending 更新待投递事件数
func (m *Metrics) UpdateEventsPending(count int) {
	m.EventsPending.Set(float64(count))
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	m.DatabaseConnections.Set(float64(count))
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
