// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// session.Recorder、session.Gauge、middleware.HTTPRecorderを満たす。
type Collector struct {
	authOperations    *prometheus.CounterVec
	profileFetches    *prometheus.CounterVec
	analyticsFailures *prometheus.CounterVec
	activeControllers prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpLatency       prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hirescout_auth_operations_total",
			Help: "ログイン・サインアップ・ログアウト・プロフィール更新の実行数",
		}, []string{"operation", "result"}),
		profileFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hirescout_profile_fetch_total",
			Help: "プロフィール取得の実行数",
		}, []string{"result"}),
		analyticsFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hirescout_analytics_failures_total",
			Help: "利用ログの記録に失敗した数",
		}, []string{"action"}),
		activeControllers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hirescout_active_controllers",
			Help: "保持中のセッションコントローラ数",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hirescout_http_requests_total",
			Help: "HTTPステータスコード別のリクエスト数",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hirescout_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.authOperations,
		c.profileFetches,
		c.analyticsFailures,
		c.activeControllers,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordAuthOperation は操作の結果を記録する。
func (c *Collector) RecordAuthOperation(operation string, success bool) {
	c.authOperations.WithLabelValues(operation, resultLabel(success)).Inc()
}

// RecordProfileFetch はプロフィール取得の結果を記録する。
func (c *Collector) RecordProfileFetch(success bool) {
	c.profileFetches.WithLabelValues(resultLabel(success)).Inc()
}

// RecordAnalyticsFailure は利用ログの記録失敗を記録する。
func (c *Collector) RecordAnalyticsFailure(action string) {
	c.analyticsFailures.WithLabelValues(action).Inc()
}

// SetActiveControllers は保持中のコントローラ数を設定する。
func (c *Collector) SetActiveControllers(n int) {
	c.activeControllers.Set(float64(n))
}

// RecordHTTPRequest はHTTPリクエストのステータスと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
