// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 遷移結果のラベル値。
const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Recorder はメトリクス収集のインターフェース。
// 状態遷移コントローラ、通知、期限切れスイーパーから利用する。
type Recorder interface {
	RecordTransition(operation, outcome string, duration time.Duration)
	RecordSignal(event, outcome string)
	RecordExpiredLocks(count int)
	RecordPointsCredited(amount int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	transitions       *prometheus.CounterVec
	transitionLatency *prometheus.HistogramVec
	signals           *prometheus.CounterVec
	expiredLocks      prometheus.Counter
	pointsCredited    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockerclaim_transitions_total",
			Help: "受取申請の状態遷移の実行回数（操作・結果別）",
		}, []string{"operation", "outcome"}),
		transitionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lockerclaim_transition_duration_seconds",
			Help:    "状態遷移トランザクションの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockerclaim_locker_signals_total",
			Help: "ロッカーへの通知の送信結果",
		}, []string{"event", "outcome"}),
		expiredLocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lockerclaim_expired_locks_total",
			Help: "スイーパーが解放した期限切れロックの合計数",
		}),
		pointsCredited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lockerclaim_points_credited_total",
			Help: "拾得者に付与したポイントの合計",
		}),
	}

	reg.MustRegister(
		c.transitions,
		c.transitionLatency,
		c.signals,
		c.expiredLocks,
		c.pointsCredited,
	)

	return c
}

// RecordTransition は状態遷移の結果と所要時間を記録する。
func (c *Collector) RecordTransition(operation, outcome string, duration time.Duration) {
	c.transitions.WithLabelValues(operation, outcome).Inc()
	c.transitionLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSignal はロッカー通知の送信結果を記録する。
func (c *Collector) RecordSignal(event, outcome string) {
	c.signals.WithLabelValues(event, outcome).Inc()
}

// RecordExpiredLocks は解放した期限切れロック数を記録する。
func (c *Collector) RecordExpiredLocks(count int) {
	c.expiredLocks.Add(float64(count))
}

// RecordPointsCredited は付与したポイントを記録する。
func (c *Collector) RecordPointsCredited(amount int) {
	c.pointsCredited.Add(float64(amount))
}

// Nop は何も記録しないRecorder。
type Nop struct{}

func (Nop) RecordTransition(string, string, time.Duration) {}
func (Nop) RecordSignal(string, string)                    {}
func (Nop) RecordExpiredLocks(int)                         {}
func (Nop) RecordPointsCredited(int)                       {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
