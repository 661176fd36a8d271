package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the accessor. A nil *Metrics disables instrumentation.
type Metrics struct {
	createDuration prometheus.Histogram
	readDuration   prometheus.Histogram
	removeDuration prometheus.Histogram
	writtenBytes   prometheus.Counter
	readBytes      prometheus.Counter
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
}

// NewMetrics registers the accessor metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		createDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "dicomcore_storage_create_duration_seconds",
			Help: "Time spent writing one attachment to the storage area.",
		}),
		readDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "dicomcore_storage_read_duration_seconds",
			Help: "Time spent reading one attachment from the storage area.",
		}),
		removeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "dicomcore_storage_remove_duration_seconds",
			Help: "Time spent removing one attachment from the storage area.",
		}),
		writtenBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "dicomcore_storage_written_bytes_total",
			Help: "Bytes handed to the storage area, after compression.",
		}),
		readBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "dicomcore_storage_read_bytes_total",
			Help: "Bytes served to attachment readers, after decompression.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "dicomcore_storage_cache_hits_total",
			Help: "Attachment reads served from the in-memory cache.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "dicomcore_storage_cache_misses_total",
			Help: "Attachment reads that had to touch the storage area.",
		}),
	}
}

func (m *Metrics) observeCreate(start time.Time, bytes int) {
	if m == nil {
		return
	}
	m.createDuration.Observe(time.Since(start).Seconds())
	m.writtenBytes.Add(float64(bytes))
}

func (m *Metrics) observeRead(start time.Time, bytes int) {
	if m == nil {
		return
	}
	m.readDuration.Observe(time.Since(start).Seconds())
	m.readBytes.Add(float64(bytes))
}

func (m *Metrics) observeRemove(start time.Time) {
	if m == nil {
		return
	}
	m.removeDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeCacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) observeCacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}
