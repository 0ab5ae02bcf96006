// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/shelfmate/internal/model"
)

// IngestCollector はカタログ取り込みワーカー向けのメトリクス収集インターフェース。
type IngestCollector interface {
	RecordFetchSuccess(sourceID string)
	RecordFetchFailure(sourceID string, reason string)
	RecordParseFailure(sourceID string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordBooksUpserted(count int)
}

// 取り込み結果ラベル。
const (
	fetchResultSuccess    = "success"
	fetchResultFailure    = "failure"
	fetchResultParseError = "parse_error"
)

// Collector はPrometheusメトリクスを収集する実装。
// 本棚操作（shelf.Recorder）とカタログ取り込み（IngestCollector）の両方を扱う。
type Collector struct {
	transitions   *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	completions   prometheus.Counter
	snapshotCache *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	booksUpserted prometheus.Counter
	rateLimited   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfmate_shelf_transitions_total",
			Help: "遷移先ステータス別の本棚状態遷移数",
		}, []string{"to"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfmate_shelf_conflicts_total",
			Help: "読書中競合チェックの結果別件数",
		}, []string{"outcome"}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shelfmate_shelf_completions_total",
			Help: "読了に到達した件数",
		}),
		snapshotCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfmate_snapshot_cache_total",
			Help: "本棚スナップショットキャッシュのヒット/ミス数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfmate_http_status_total",
			Help: "取り込み元から返されたHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfmate_ingest_fetch_total",
			Help: "カタログ取り込みフェッチの結果別件数",
		}, []string{"result"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shelfmate_ingest_latency_seconds",
			Help:    "カタログ取り込みフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		booksUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shelfmate_ingest_books_upserted_total",
			Help: "アップサートされた書籍の合計数",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfmate_rate_limited_total",
			Help: "レート制限で拒否したリクエスト数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.transitions,
		c.conflicts,
		c.completions,
		c.snapshotCache,
		c.httpStatus,
		c.fetches,
		c.fetchLatency,
		c.booksUpserted,
		c.rateLimited,
	)

	return c
}

// RecordRateLimited はレート制限で拒否したリクエストを種別ごとに数える。
func (c *Collector) RecordRateLimited(kind string) {
	c.rateLimited.WithLabelValues(kind).Inc()
}

// RecordTransition は本棚状態の遷移を記録する。
func (c *Collector) RecordTransition(to model.ShelfStatus) {
	c.transitions.WithLabelValues(to.String()).Inc()
}

// RecordConflict は競合チェックの結果を記録する。
func (c *Collector) RecordConflict(outcome string) {
	c.conflicts.WithLabelValues(outcome).Inc()
}

// RecordCompletion は読了到達を記録する。
func (c *Collector) RecordCompletion() {
	c.completions.Inc()
}

// RecordSnapshot はスナップショットキャッシュの参照結果を記録する。
func (c *Collector) RecordSnapshot(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.snapshotCache.WithLabelValues(result).Inc()
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess(sourceID string) {
	c.fetches.WithLabelValues(fetchResultSuccess).Inc()
}

// RecordFetchFailure はフェッチ失敗を記録する。
func (c *Collector) RecordFetchFailure(sourceID string, reason string) {
	c.fetches.WithLabelValues(fetchResultFailure).Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure(sourceID string) {
	c.fetches.WithLabelValues(fetchResultParseError).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordBooksUpserted はアップサートされた書籍数を記録する。
func (c *Collector) RecordBooksUpserted(count int) {
	c.booksUpserted.Add(float64(count))
}

var _ IngestCollector = (*Collector)(nil)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
