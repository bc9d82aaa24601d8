// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッションレジストリとWebSocketハブから利用する。
type MetricsCollector interface {
	SetActiveSessions(count int)
	SetActiveParticipants(count int)
	RecordMessageRelayed(messageType string)
	RecordChangePersisted(field string)
	RecordPersistFailure(field string)
	RecordConflictResolution(outcome string)
	RecordPersistLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	activeSessions      prometheus.Gauge
	activeParticipants  prometheus.Gauge
	messagesRelayed     *prometheus.CounterVec
	changesPersisted    *prometheus.CounterVec
	persistFailures     *prometheus.CounterVec
	conflictResolutions *prometheus.CounterVec
	persistLatency      prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collab_active_sessions",
			Help: "アクティブなコラボレーションセッション数",
		}),
		activeParticipants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collab_active_participants",
			Help: "全セッション合計のオンライン参加者数",
		}),
		messagesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_messages_relayed_total",
			Help: "メッセージ種別ごとの中継メッセージ数",
		}, []string{"type"}),
		changesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_changes_persisted_total",
			Help: "フィールド別の永続化済み変更数",
		}, []string{"field"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_persist_failures_total",
			Help: "フィールド別の永続化失敗数",
		}, []string{"field"}),
		conflictResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_conflict_resolutions_total",
			Help: "結果別の競合解消数（merged / fallback）",
		}, []string{"outcome"}),
		persistLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "collab_persist_latency_seconds",
			Help:    "変更永続化のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.activeSessions,
		c.activeParticipants,
		c.messagesRelayed,
		c.changesPersisted,
		c.persistFailures,
		c.conflictResolutions,
		c.persistLatency,
	)

	return c
}

// SetActiveSessions はアクティブセッション数を設定する。
func (c *Collector) SetActiveSessions(count int) {
	c.activeSessions.Set(float64(count))
}

// SetActiveParticipants はオンライン参加者の合計数を設定する。
func (c *Collector) SetActiveParticipants(count int) {
	c.activeParticipants.Set(float64(count))
}

// RecordMessageRelayed は中継したメッセージを種別ラベル付きで記録する。
func (c *Collector) RecordMessageRelayed(messageType string) {
	c.messagesRelayed.WithLabelValues(messageType).Inc()
}

// RecordChangePersisted は永続化した変更をフィールドラベル付きで記録する。
func (c *Collector) RecordChangePersisted(field string) {
	c.changesPersisted.WithLabelValues(field).Inc()
}

// RecordPersistFailure は永続化の失敗を記録する。
func (c *Collector) RecordPersistFailure(field string) {
	c.persistFailures.WithLabelValues(field).Inc()
}

// RecordConflictResolution は競合解消の結果を記録する。
// outcomeは"merged"または"fallback"。
func (c *Collector) RecordConflictResolution(outcome string) {
	c.conflictResolutions.WithLabelValues(outcome).Inc()
}

// RecordPersistLatency は永続化のレイテンシを記録する。
func (c *Collector) RecordPersistLatency(duration time.Duration) {
	c.persistLatency.Observe(duration.Seconds())
}

// NopCollector は何も記録しないMetricsCollector実装。テストで使用する。
type NopCollector struct{}

func (NopCollector) SetActiveSessions(count int)               {}
func (NopCollector) SetActiveParticipants(count int)           {}
func (NopCollector) RecordMessageRelayed(messageType string)   {}
func (NopCollector) RecordChangePersisted(field string)        {}
func (NopCollector) RecordPersistFailure(field string)         {}
func (NopCollector) RecordConflictResolution(outcome string)   {}
func (NopCollector) RecordPersistLatency(duration time.Duration) {}

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

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
