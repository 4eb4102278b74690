package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	runs         *prometheus.CounterVec
	pushed       prometheus.Counter
	pulled       prometheus.Counter
	skippedTicks prometheus.Counter
	duration     prometheus.Histogram
	watermark    prometheus.Gauge
}

// newMetrics registers on reg. A nil reg yields unregistered collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "regisync",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconciliation runs by outcome.",
		}, []string{"outcome"}),
		pushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "regisync",
			Subsystem: "reconcile",
			Name:      "pushed_sales_total",
			Help:      "Sales written to the cloud store.",
		}),
		pulled: f.NewCounter(prometheus.CounterOpts{
			Namespace: "regisync",
			Subsystem: "reconcile",
			Name:      "pulled_sales_total",
			Help:      "Cloud sales materialized into the local ledger.",
		}),
		skippedTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "regisync",
			Subsystem: "reconcile",
			Name:      "skipped_ticks_total",
			Help:      "Timer ticks dropped because a run was already in flight.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "regisync",
			Subsystem: "reconcile",
			Name:      "run_duration_seconds",
			Help:      "Wall time of reconciliation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		watermark: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "regisync",
			Subsystem: "reconcile",
			Name:      "watermark_timestamp_seconds",
			Help:      "Unix time of the current sync watermark.",
		}),
	}
}
