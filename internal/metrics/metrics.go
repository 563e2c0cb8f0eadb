// Package metrics exposes filesystem counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "cratefs"

// Registry holds all Prometheus metrics. A nil *Registry discards every
// event.
type Registry struct {
	*prometheus.Registry

	// Cache metrics
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	cacheEvicted   prometheus.Counter
	cacheResident  prometheus.Gauge

	// Archive metrics
	archivesDiscovered prometheus.Gauge
	archivesIndexed    prometheus.Counter
	archivesFailed     prometheus.Counter
	indexDuration      prometheus.Histogram
	indexedEntries     prometheus.Counter

	// Read path
	bytesRead   prometheus.Counter
	readOps     prometheus.Counter
	handlesOpen prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of block cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of block cache misses",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of archives evicted from the block cache",
		}),
		cacheEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evicted_bytes_total",
			Help:      "Total decompressed bytes evicted from the block cache",
		}),
		cacheResident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_resident_bytes",
			Help:      "Decompressed bytes currently held in the block cache",
		}),
	}

	reg.MustRegister(r.cacheHits)
	reg.MustRegister(r.cacheMisses)
	reg.MustRegister(r.cacheEvictions)
	reg.MustRegister(r.cacheEvicted)
	reg.MustRegister(r.cacheResident)

	r.archivesDiscovered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "archives_discovered",
		Help:      "Number of archives found in the source directory",
	})
	r.archivesIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archives_indexed_total",
		Help:      "Total number of archives indexed",
	})
	r.archivesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archives_failed_total",
		Help:      "Total number of archives that failed to index",
	})
	r.indexDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "index_duration_seconds",
		Help:      "Archive indexing duration in seconds",
		Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30},
	})
	r.indexedEntries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "indexed_entries_total",
		Help:      "Total number of entries recorded while indexing",
	})

	reg.MustRegister(r.archivesDiscovered)
	reg.MustRegister(r.archivesIndexed)
	reg.MustRegister(r.archivesFailed)
	reg.MustRegister(r.indexDuration)
	reg.MustRegister(r.indexedEntries)

	r.bytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "read_bytes_total",
		Help:      "Total bytes returned to readers",
	})
	r.readOps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reads_total",
		Help:      "Total number of successful reads",
	})
	r.handlesOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "handles_open",
		Help:      "Number of open file handles",
	})

	reg.MustRegister(r.bytesRead)
	reg.MustRegister(r.readOps)
	reg.MustRegister(r.handlesOpen)

	return r
}

// CacheHit records a block served from memory.
func (r *Registry) CacheHit() {
	if r == nil {
		return
	}
	r.cacheHits.Inc()
}

// CacheMiss records a block that had to be decompressed.
func (r *Registry) CacheMiss() {
	if r == nil {
		return
	}
	r.cacheMisses.Inc()
}

// CacheEviction records an archive evicted from the cache.
func (r *Registry) CacheEviction(bytes int64) {
	if r == nil {
		return
	}
	r.cacheEvictions.Inc()
	r.cacheEvicted.Add(float64(bytes))
}

// CacheResident sets the resident byte count.
func (r *Registry) CacheResident(bytes int64) {
	if r == nil {
		return
	}
	r.cacheResident.Set(float64(bytes))
}

// ArchivesDiscovered sets the number of known archives.
func (r *Registry) ArchivesDiscovered(n int) {
	if r == nil {
		return
	}
	r.archivesDiscovered.Set(float64(n))
}

// ArchiveIndexed records a completed indexing pass.
func (r *Registry) ArchiveIndexed(d time.Duration, entries int) {
	if r == nil {
		return
	}
	r.archivesIndexed.Inc()
	r.indexDuration.Observe(d.Seconds())
	r.indexedEntries.Add(float64(entries))
}

// ArchiveFailed records an archive that could not be indexed.
func (r *Registry) ArchiveFailed() {
	if r == nil {
		return
	}
	r.archivesFailed.Inc()
}

// BytesRead records a successful read of n bytes.
func (r *Registry) BytesRead(n int) {
	if r == nil {
		return
	}
	r.readOps.Inc()
	r.bytesRead.Add(float64(n))
}

// HandlesOpen sets the number of open handles.
func (r *Registry) HandlesOpen(n int64) {
	if r == nil {
		return
	}
	r.handlesOpen.Set(float64(n))
}
