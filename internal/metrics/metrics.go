// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector は報酬操作のメトリクスを収集する。
// アウトカムラベルはreward.Outcome*定数に対応する。
type Collector struct {
	signTotal            *prometheus.CounterVec
	spinTotal            *prometheus.CounterVec
	purchaseTotal        *prometheus.CounterVec
	remoteFailTotal      *prometheus.CounterVec
	compensationFailures prometheus.Counter
	remoteDuration       *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "luckywheel_sign_total",
			Help: "アウトカム別のサインイン試行数",
		}, []string{"outcome"}),
		spinTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "luckywheel_spin_total",
			Help: "アウトカム別の抽選試行数",
		}, []string{"outcome"}),
		purchaseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "luckywheel_purchase_total",
			Help: "アウトカム別の追加回数購入試行数",
		}, []string{"outcome"}),
		remoteFailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "luckywheel_remote_failure_total",
			Help: "操作別のDoneHub API失敗数",
		}, []string{"operation"}),
		compensationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "luckywheel_compensation_failure_total",
			Help: "補償失敗の合計数。増加時は残高の手動確認が必要",
		}),
		remoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "luckywheel_remote_duration_seconds",
			Help:    "DoneHub API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.signTotal,
		c.spinTotal,
		c.purchaseTotal,
		c.remoteFailTotal,
		c.compensationFailures,
		c.remoteDuration,
	)

	return c
}

// RecordSign はサインイン試行のアウトカムを記録する。
func (c *Collector) RecordSign(outcome string) {
	c.signTotal.WithLabelValues(outcome).Inc()
}

// RecordSpin は抽選試行のアウトカムを記録する。
func (c *Collector) RecordSpin(outcome string) {
	c.spinTotal.WithLabelValues(outcome).Inc()
}

// RecordPurchase は追加回数購入試行のアウトカムを記録する。
func (c *Collector) RecordPurchase(outcome string) {
	c.purchaseTotal.WithLabelValues(outcome).Inc()
}

// RecordRemoteFailure はDoneHub API失敗を操作別に記録する。
func (c *Collector) RecordRemoteFailure(operation string) {
	c.remoteFailTotal.WithLabelValues(operation).Inc()
}

// RecordCompensationFailure は補償失敗を記録する。
func (c *Collector) RecordCompensationFailure() {
	c.compensationFailures.Inc()
}

// ObserveRemoteDuration はDoneHub API呼び出しのレイテンシを記録する。
func (c *Collector) ObserveRemoteDuration(operation string, seconds float64) {
	c.remoteDuration.WithLabelValues(operation).Observe(seconds)
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
