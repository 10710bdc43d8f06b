// Copyright 2024 The bitcraps Authors
// This file is part of the bitcraps library.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps the Prometheus counters/gauges for error
// taxonomy plus mesh substrate bookkeeping (queue depth, dedup evictions).
type Registry struct {
	errors      *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	dedupEvict  prometheus.Counter
	viewChanges prometheus.Counter
	committed   prometheus.Counter
	cpuPercent  prometheus.Gauge
	memPercent  prometheus.Gauge
}

// New registers a fresh set of collectors against reg. Passing
// prometheus.NewRegistry() keeps tests isolated from the global default
// registry.
func New(reg *prometheus.Registry) *Registry {
	m := &Registry{
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitcraps",
			Name:      "errors_total",
			Help:      "Count of errors by stable code and category, ",
		}, []string{"category", "code"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bitcraps",
			Name:      "mesh_queue_depth",
			Help:      "Current depth of the mesh inbound priority queue.",
		}),
		dedupEvict: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bitcraps",
			Name:      "mesh_dedup_evictions_total",
			Help:      "Count of (sender, nonce) entries evicted from the dedup LRU before expiry.",
		}),
		viewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bitcraps",
			Name:      "consensus_view_changes_total",
			Help:      "Count of view changes initiated by this validator.",
		}),
		committed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bitcraps",
			Name:      "consensus_committed_sequences_total",
			Help:      "Count of sequences this validator has committed.",
		}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bitcraps",
			Name:      "process_cpu_percent",
			Help:      "Process CPU utilization percent, sampled from gopsutil.",
		}),
		memPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bitcraps",
			Name:      "process_mem_percent",
			Help:      "Process resident memory percent, sampled from gopsutil.",
		}),
	}
	reg.MustRegister(m.errors, m.queueDepth, m.dedupEvict, m.viewChanges, m.committed, m.cpuPercent, m.memPercent)
	return m
}

// RecordError increments the error counter for code, deriving its category
// from the stable taxonomy so callers never have to keep the two in sync.
func (m *Registry) RecordError(code Code) {
	cat, ok := categoryOf[code]
	if !ok {
		cat = CategoryInternalInvariant
	}
	m.errors.WithLabelValues(string(cat), string(code)).Inc()
}

// SetQueueDepth reports the mesh inbound queue's current depth.
func (m *Registry) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// AddDedupEvictions increments the dedup eviction counter by n.
func (m *Registry) AddDedupEvictions(n uint64) { m.dedupEvict.Add(float64(n)) }

// IncViewChange increments the view-change counter.
func (m *Registry) IncViewChange() { m.viewChanges.Inc() }

// IncCommitted increments the committed-sequence counter.
func (m *Registry) IncCommitted() { m.committed.Inc() }

// SetProcessUsage reports process-level CPU and memory utilization percent.
func (m *Registry) SetProcessUsage(cpuPct, memPct float64) {
	m.cpuPercent.Set(cpuPct)
	m.memPercent.Set(memPct)
}
