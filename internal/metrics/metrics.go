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
// Webhookハンドラー、会話ディスパッチャー、ワーカーから利用する。
type MetricsCollector interface {
	RecordDelivery(statusCode int)
	RecordEvent(mode string)
	RecordExternalCall(service string, duration time.Duration, err error)
	RecordAvailabilityPolls(polls int)
	RecordStateConflict()
	RecordCandidatesCleared(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	deliveries        *prometheus.CounterVec
	events            *prometheus.CounterVec
	externalLatency   *prometheus.HistogramVec
	externalFailures  *prometheus.CounterVec
	availabilityPolls prometheus.Histogram
	stateConflicts    prometheus.Counter
	candidatesCleared prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libfinder_webhook_deliveries_total",
			Help: "Webhook配信の応答ステータス別の合計数",
		}, []string{"status_code"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libfinder_events_total",
			Help: "会話モード別のイベント処理数",
		}, []string{"mode"}),
		externalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "libfinder_external_call_duration_seconds",
			Help:    "外部サービス呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"service"}),
		externalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libfinder_external_call_failures_total",
			Help: "外部サービス呼び出し失敗の合計数",
		}, []string{"service"}),
		availabilityPolls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "libfinder_availability_polls",
			Help:    "蔵書検索1回あたりの再問い合わせ回数",
			Buckets: prometheus.LinearBuckets(0, 1, 16),
		}),
		stateConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libfinder_state_conflicts_total",
			Help: "会話状態の条件付き更新が競合した回数",
		}),
		candidatesCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libfinder_candidates_cleared_total",
			Help: "期限切れで破棄された候補図書館リストの合計数",
		}),
	}

	reg.MustRegister(
		c.deliveries,
		c.events,
		c.externalLatency,
		c.externalFailures,
		c.availabilityPolls,
		c.stateConflicts,
		c.candidatesCleared,
	)

	return c
}

// RecordDelivery はWebhook配信の応答ステータスを記録する。
func (c *Collector) RecordDelivery(statusCode int) {
	c.deliveries.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordEvent は判定された会話モードを記録する。
func (c *Collector) RecordEvent(mode string) {
	c.events.WithLabelValues(mode).Inc()
}

// RecordExternalCall は外部サービス呼び出しのレイテンシと失敗を記録する。
func (c *Collector) RecordExternalCall(service string, duration time.Duration, err error) {
	c.externalLatency.WithLabelValues(service).Observe(duration.Seconds())
	if err != nil {
		c.externalFailures.WithLabelValues(service).Inc()
	}
}

// RecordAvailabilityPolls は蔵書検索の再問い合わせ回数を記録する。
func (c *Collector) RecordAvailabilityPolls(polls int) {
	c.availabilityPolls.Observe(float64(polls))
}

// RecordStateConflict は条件付き更新の競合を記録する。
func (c *Collector) RecordStateConflict() {
	c.stateConflicts.Inc()
}

// RecordCandidatesCleared は破棄した候補図書館リストの件数を記録する。
func (c *Collector) RecordCandidatesCleared(count int64) {
	c.candidatesCleared.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスが単独でスクレイプを受ける場合に使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
