// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 寄付の検証フロー、アラートキュー、HTTP層から利用する。
type MetricsCollector interface {
	RecordDonation(method string, amount int64)
	RecordVerificationFailure(method, code string)
	RecordLogin(outcome string)
	RecordProviderLatency(provider string, duration time.Duration)
	RecordAlertDispatched()
	SetQueueDepth(depth int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	donations        *prometheus.CounterVec
	donationAmount   *prometheus.CounterVec
	verificationFail *prometheus.CounterVec
	logins           *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	alertsDispatched prometheus.Counter
	queueDepth       prometheus.Gauge
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		donations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donalert_donations_total",
			Help: "支払い方法別の記録済み寄付数",
		}, []string{"method"}),
		donationAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donalert_donation_amount_total",
			Help: "支払い方法別の寄付金額の合計",
		}, []string{"method"}),
		verificationFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donalert_verification_failures_total",
			Help: "支払い方法・エラーコード別の検証失敗数",
		}, []string{"method", "code"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donalert_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "donalert_provider_latency_seconds",
			Help:    "外部検証プロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		alertsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "donalert_alerts_dispatched_total",
			Help: "配信したアラートの合計数",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "donalert_alert_queue_depth",
			Help: "配信待ちのアラート数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donalert_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.donations,
		c.donationAmount,
		c.verificationFail,
		c.logins,
		c.providerLatency,
		c.alertsDispatched,
		c.queueDepth,
		c.httpStatus,
	)

	return c
}

// RecordDonation は記録した寄付を計上する。
func (c *Collector) RecordDonation(method string, amount int64) {
	c.donations.WithLabelValues(method).Inc()
	c.donationAmount.WithLabelValues(method).Add(float64(amount))
}

// RecordVerificationFailure は検証失敗を記録する。
func (c *Collector) RecordVerificationFailure(method, code string) {
	c.verificationFail.WithLabelValues(method, code).Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordProviderLatency はプロバイダー呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(provider string, duration time.Duration) {
	c.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordAlertDispatched はアラート配信を記録する。
func (c *Collector) RecordAlertDispatched() {
	c.alertsDispatched.Inc()
}

// SetQueueDepth は配信待ちのアラート数を設定する。
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
