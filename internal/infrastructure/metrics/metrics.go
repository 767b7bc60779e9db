// Package metrics exposes ledger and HTTP metrics to Prometheus.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"xoracle/internal/application/port"
	"xoracle/internal/domain"
	"xoracle/internal/domain/model"
)

const namespace = "xoracle"

// LedgerMetrics 实现 port.LedgerMetrics
type LedgerMetrics struct {
	Ops            *prometheus.CounterVec
	HistoryLength  prometheus.Gauge
	LatestPrice    prometheus.Gauge
	LatestRecorded prometheus.Gauge
	PriceAge       prometheus.Gauge
	Heartbeat      prometheus.Gauge
	Stale          prometheus.Gauge
	NotifyFailures prometheus.Counter
	HTTPRequests   *prometheus.CounterVec
	HTTPLatency    *prometheus.HistogramVec
	WatchdogChecks *prometheus.CounterVec
}

// New registers all metrics on reg. Pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *LedgerMetrics {
	f := promauto.With(reg)
	return &LedgerMetrics{
		Ops: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations by name and result",
			},
			[]string{"op", "result"},
		),
		HistoryLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "history_length",
			Help:      "Number of price entries ever recorded",
		}),
		LatestPrice: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "latest_price",
			Help:      "Latest recorded price in raw fixed-point units",
		}),
		LatestRecorded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "latest_recorded_at_seconds",
			Help:      "Unix time of the latest recorded price",
		}),
		PriceAge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "latest_price_age_seconds",
			Help:      "Seconds since the latest price was recorded",
		}),
		Heartbeat: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "heartbeat_seconds",
			Help:      "Current heartbeat window",
		}),
		Stale: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "stale",
			Help:      "1 when the latest price is older than the heartbeat or unset",
		}),
		NotifyFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "notify_failures_total",
			Help:      "Events that failed to reach at least one notifier",
		}),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		HTTPLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		WatchdogChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "watchdog",
				Name:      "checks_total",
				Help:      "Staleness watchdog checks by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *LedgerMetrics) ObserveOp(op string, err error) {
	m.Ops.WithLabelValues(op, Result(err)).Inc()
}

func (m *LedgerMetrics) ObserveState(length uint64, latest model.PriceEntry, heartbeatSec uint64) {
	m.HistoryLength.Set(float64(length))
	m.Heartbeat.Set(float64(heartbeatSec))
	if length > 0 {
		m.LatestPrice.Set(float64(latest.Price))
		m.LatestRecorded.Set(float64(latest.RecordedAt))
	}
}

func (m *LedgerMetrics) ObserveNotifyFailure() {
	m.NotifyFailures.Inc()
}

// ObserveFreshness 由 watchdog 定期调用
func (m *LedgerMetrics) ObserveFreshness(outcome string, ageSec int64, stale bool) {
	m.WatchdogChecks.WithLabelValues(outcome).Inc()
	m.PriceAge.Set(float64(ageSec))
	if stale {
		m.Stale.Set(1)
	} else {
		m.Stale.Set(0)
	}
}

func (m *LedgerMetrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Result 将错误归类为低基数的标签值
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrNoPriceSet):
		return "no_price"
	case errors.Is(err, domain.ErrStaleData):
		return "stale"
	case errors.Is(err, domain.ErrIndexOutOfRange):
		return "out_of_range"
	case errors.Is(err, domain.ErrUpstreamCallFailed):
		return "upstream_failed"
	case errors.Is(err, domain.ErrInvalidOwner):
		return "invalid_owner"
	default:
		return "error"
	}
}

var _ port.LedgerMetrics = (*LedgerMetrics)(nil)
