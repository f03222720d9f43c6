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
// ロール解決・サインアップフロー・HTTPレスポンスの各メトリクスを保持する。
type Collector struct {
	roleResolution *prometheus.CounterVec
	reconciliation *prometheus.CounterVec
	signupAttempts prometheus.Counter
	signupRetries  prometheus.Counter
	signupFailures *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	resolveLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		roleResolution: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tienda_role_resolution_total",
			Help: "ロール解決の結果別合計数（by_id / by_email / default）",
		}, []string{"outcome"}),
		reconciliation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tienda_profile_reconciliation_total",
			Help: "プロフィール照合更新の結果別合計数",
		}, []string{"result"}),
		signupAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tienda_signup_rpc_attempts_total",
			Help: "プロフィール作成RPC試行の合計数",
		}),
		signupRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tienda_signup_rpc_retries_total",
			Help: "プロフィール作成RPC再試行の合計数",
		}),
		signupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tienda_signup_failures_total",
			Help: "サインアップ失敗の理由別合計数",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tienda_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		resolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tienda_role_resolve_latency_seconds",
			Help:    "ロール解決のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.roleResolution,
		c.reconciliation,
		c.signupAttempts,
		c.signupRetries,
		c.signupFailures,
		c.httpStatus,
		c.resolveLatency,
	)

	return c
}

// RecordRoleResolution はロール解決の結果を記録する。
func (c *Collector) RecordRoleResolution(outcome string) {
	c.roleResolution.WithLabelValues(outcome).Inc()
}

// RecordReconciliation はプロフィール照合更新の結果を記録する。
func (c *Collector) RecordReconciliation(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.reconciliation.WithLabelValues(result).Inc()
}

// RecordSignupAttempt はプロフィール作成RPC試行を記録する。
func (c *Collector) RecordSignupAttempt() {
	c.signupAttempts.Inc()
}

// RecordSignupRetry はプロフィール作成RPC再試行を記録する。
func (c *Collector) RecordSignupRetry() {
	c.signupRetries.Inc()
}

// RecordSignupFailure はサインアップ失敗を理由別に記録する。
func (c *Collector) RecordSignupFailure(reason string) {
	c.signupFailures.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ObserveResolveLatency はロール解決のレイテンシを記録する。
func (c *Collector) ObserveResolveLatency(d time.Duration) {
	c.resolveLatency.Observe(d.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
