// Package metrics counts clones, chunks, cache rebuilds and lock waits. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "clonefs"

// ResultOK labels successful clones; failures are labelled with their error kind.
const ResultOK = "ok"

type Collector struct {
	registry *prometheus.Registry

	clones       *prometheus.CounterVec
	cloneLatency prometheus.Histogram
	chunks       prometheus.Counter
	chunkBytes   prometheus.Counter
	rebuilds     prometheus.Counter
	volumes      prometheus.Gauge
	lockWait     prometheus.Histogram
}

// NewCollector registers every metric on a fresh registry, so independent
// providers never collide.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		clones: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clones_total",
			Help:      "Clone requests by result.",
		}, []string{"result"}),
		cloneLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clone_duration_seconds",
			Help:      "Time spent per clone request, lock wait included.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Duplicate-extent calls issued.",
		}),
		chunkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Bytes covered by duplicate-extent calls, cluster rounding included.",
		}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "volume_cache_rebuilds_total",
			Help:      "Volume cache rebuilds.",
		}),
		volumes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "volumes",
			Help:      "Volumes in the current cache snapshot.",
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the clone lock.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 12),
		}),
	}

	for _, collector := range []prometheus.Collector{
		c.clones, c.cloneLatency, c.chunks, c.chunkBytes, c.rebuilds, c.volumes, c.lockWait,
	} {
		if err := c.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return c, nil
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveClone records one finished clone request.
func (c *Collector) ObserveClone(result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.clones.WithLabelValues(result).Inc()
	c.cloneLatency.Observe(duration.Seconds())
}

func (c *Collector) ObserveChunk(length int64) {
	if c == nil {
		return
	}
	c.chunks.Inc()
	c.chunkBytes.Add(float64(length))
}

func (c *Collector) ObserveRebuild(volumes int) {
	if c == nil {
		return
	}
	c.rebuilds.Inc()
	c.volumes.Set(float64(volumes))
}

func (c *Collector) ObserveLockWait(wait time.Duration) {
	if c == nil {
		return
	}
	c.lockWait.Observe(wait.Seconds())
}

// WriteTextfile dumps the current values in the node exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.registry)
}
