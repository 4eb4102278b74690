package shadow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	replayed *prometheus.CounterVec
	pruned   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		replayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "regisync",
			Subsystem: "shadow",
			Name:      "replayed_files_total",
			Help:      "Shadow files visited by replay, by result.",
		}, []string{"result"}),
		pruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "regisync",
			Subsystem: "shadow",
			Name:      "pruned_files_total",
			Help:      "Shadow files deleted by retention.",
		}),
	}
}
