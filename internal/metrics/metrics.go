// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 上流クライアント、解答キャッシュ、同期ワーカーから利用する。
type MetricsCollector interface {
	RecordUpstreamRequest(operation, outcome string, duration time.Duration)
	RecordUpstreamRetry(operation string)
	RecordBreakerState(name string, open bool)
	RecordCodeFetch(outcome string)
	RecordSyncRun(outcome string, saved, skipped int, duration time.Duration)
	RecordBatchRun(outcome string, profiles int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	upstreamRetries  *prometheus.CounterVec
	breakerOpen      *prometheus.GaugeVec
	codeFetches      *prometheus.CounterVec
	syncRuns         *prometheus.CounterVec
	syncItems        *prometheus.CounterVec
	syncLatency      prometheus.Histogram
	batchRuns        *prometheus.CounterVec
	batchProfiles    prometheus.Counter
	batchLatency     prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leetsync_upstream_requests_total",
			Help: "LeetCode GraphQLリクエストの結果別合計数",
		}, []string{"operation", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leetsync_upstream_latency_seconds",
			Help:    "LeetCode GraphQLリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		upstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leetsync_upstream_retries_total",
			Help: "LeetCode GraphQLリクエストの再試行回数",
		}, []string{"operation"}),
		breakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "leetsync_circuit_breaker_open",
			Help: "サーキットブレーカーが開いている場合は1",
		}, []string{"name"}),
		codeFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leetsync_code_fetch_total",
			Help: "解答コード取得の結果別合計数",
		}, []string{"outcome"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leetsync_sync_runs_total",
			Help: "ユーザー単位の同期実行の合計数",
		}, []string{"outcome"}),
		syncItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leetsync_sync_items_total",
			Help: "同期で処理された提出数",
		}, []string{"result"}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leetsync_sync_duration_seconds",
			Help:    "ユーザー単位の同期の所要時間（秒）",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		batchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leetsync_batch_runs_total",
			Help: "バッチ同期の実行結果別合計数",
		}, []string{"outcome"}),
		batchProfiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leetsync_batch_profiles_total",
			Help: "バッチ同期で処理されたプロフィールの合計数",
		}),
		batchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leetsync_batch_duration_seconds",
			Help:    "バッチ同期の所要時間（秒）",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600},
		}),
	}

	reg.MustRegister(
		c.upstreamRequests,
		c.upstreamLatency,
		c.upstreamRetries,
		c.breakerOpen,
		c.codeFetches,
		c.syncRuns,
		c.syncItems,
		c.syncLatency,
		c.batchRuns,
		c.batchProfiles,
		c.batchLatency,
	)

	return c
}

// RecordUpstreamRequest は上流リクエストの結果とレイテンシを記録する。
func (c *Collector) RecordUpstreamRequest(operation, outcome string, duration time.Duration) {
	c.upstreamRequests.WithLabelValues(operation, outcome).Inc()
	c.upstreamLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordUpstreamRetry は上流リクエストの再試行を記録する。
func (c *Collector) RecordUpstreamRetry(operation string) {
	c.upstreamRetries.WithLabelValues(operation).Inc()
}

// RecordBreakerState はサーキットブレーカーの開閉状態を記録する。
func (c *Collector) RecordBreakerState(name string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	c.breakerOpen.WithLabelValues(name).Set(v)
}

// RecordCodeFetch は解答コード取得の結果を記録する。
func (c *Collector) RecordCodeFetch(outcome string) {
	c.codeFetches.WithLabelValues(outcome).Inc()
}

// RecordSyncRun はユーザー単位の同期結果を記録する。
func (c *Collector) RecordSyncRun(outcome string, saved, skipped int, duration time.Duration) {
	c.syncRuns.WithLabelValues(outcome).Inc()
	c.syncItems.WithLabelValues("saved").Add(float64(saved))
	c.syncItems.WithLabelValues("skipped").Add(float64(skipped))
	c.syncLatency.Observe(duration.Seconds())
}

// RecordBatchRun はバッチ同期の結果を記録する。
func (c *Collector) RecordBatchRun(outcome string, profiles int, duration time.Duration) {
	c.batchRuns.WithLabelValues(outcome).Inc()
	c.batchProfiles.Add(float64(profiles))
	c.batchLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordUpstreamRequest(string, string, time.Duration) {}
func (Nop) RecordUpstreamRetry(string) {}
func (Nop) RecordBreakerState(string, bool) {}
func (Nop) RecordCodeFetch(string) {}
func (Nop) RecordSyncRun(string, int, int, time.Duration) {}
func (Nop) RecordBatchRun(string, int, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
