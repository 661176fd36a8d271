package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dicomcore/pkg/domain"
)

// Metrics exposes the ingest counters of a ServerIndex. A nil Metrics is
// valid and records nothing.
type Metrics struct {
	storeOutcomes *prometheus.CounterVec
	storeSeconds  prometheus.Histogram
	recycled      prometheus.Counter
	stabilized    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		storeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dicomcore_store_total",
			Help: "Instances processed by the ingest path, by outcome.",
		}, []string{"status"}),
		storeSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dicomcore_store_duration_seconds",
			Help:    "Wall time of one Store call.",
			Buckets: prometheus.DefBuckets,
		}),
		recycled: factory.NewCounter(prometheus.CounterOpts{
			Name: "dicomcore_recycled_patients_total",
			Help: "Patients evicted by the recycling engine.",
		}),
		stabilized: factory.NewCounter(prometheus.CounterOpts{
			Name: "dicomcore_stabilized_resources_total",
			Help: "Resources promoted to stable by the monitor.",
		}),
	}
}

func (m *Metrics) observeStore(start time.Time, status domain.StoreStatus) {
	if m == nil {
		return
	}
	m.storeOutcomes.WithLabelValues(status.String()).Inc()
	m.storeSeconds.Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeRecycled() {
	if m == nil {
		return
	}
	m.recycled.Inc()
}

func (m *Metrics) observeStabilized() {
	if m == nil {
		return
	}
	m.stabilized.Inc()
}
