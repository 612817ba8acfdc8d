package core

import "time"

// MetricsSnapshot is a point-in-time view of a node's runtime
// metrics, piggybacked on discovery heartbeats (spec.md §3/§6
// updateMetrics).
type MetricsSnapshot struct {
	Timestamp      time.Time
	ActiveJobs     int
	WaitingJobs    int
	HeapUsedBytes  uint64
	HeapMaxBytes   uint64
	CPULoad        float64
	LastUpdateTime time.Time
}

// MetricsProvider supplies a fresh MetricsSnapshot on demand. The
// Discovery Manager never polls this itself. In this module the only
// reader is the metrics Registry, which exports the snapshot as ops
// gauges; no component sends snapshots through a DiscoveryTransport.
type MetricsProvider interface {
	Snapshot() MetricsSnapshot
}

// MetricsProviderFunc adapts a function to a MetricsProvider.
type MetricsProviderFunc func() MetricsSnapshot

func (f MetricsProviderFunc) Snapshot() MetricsSnapshot { return f() }
