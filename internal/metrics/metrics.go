// Package metrics backs core.MetricsProvider with live process and
// OpenTelemetry-exported figures, and exposes the gauges the ops
// surface scrapes over Prometheus.
package metrics

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/otterscale/gridnode/internal/core"
)

// Provider implements core.MetricsProvider by sampling runtime.MemStats
// and the job counters last reported through SetJobCounts. ActiveJobs and
// WaitingJobs are placeholders for a future compute-grid component
// (spec.md explicitly scopes split/reduce out); they are wired to
// zero-valued atomics so the snapshot shape matches spec.md §6
// verbatim without inventing a job queue that doesn't exist yet.
type Provider struct {
	activeJobs  atomic.Int64
	waitingJobs atomic.Int64
}

// NewProvider returns a ready-to-use Provider.
func NewProvider() *Provider {
	return &Provider{}
}

// SetJobCounts lets a future compute component report queue depth
// without this package needing to know about it.
func (p *Provider) SetJobCounts(active, waiting int64) {
	p.activeJobs.Store(active)
	p.waitingJobs.Store(waiting)
}

// Snapshot implements core.MetricsProvider.
func (p *Provider) Snapshot() core.MetricsSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	now := time.Now()
	return core.MetricsSnapshot{
		Timestamp:      now,
		ActiveJobs:     int(p.activeJobs.Load()),
		WaitingJobs:    int(p.waitingJobs.Load()),
		HeapUsedBytes:  m.HeapAlloc,
		HeapMaxBytes:   m.HeapSys,
		CPULoad:        0, // no portable stdlib source; left at zero rather than faked
		LastUpdateTime: now,
	}
}

// Registry holds the OpenTelemetry instruments backing the node's
// /metrics endpoint. Gauges are registered once and fed by a callback
// polling the Discovery Manager and Deployment Store, the same
// push-on-scrape pattern the teacher uses via
// otel.SetMeterProvider in registerOpsHandlers.
type Registry struct {
	topologyVersion metric.Int64ObservableGauge
	nodeCount       metric.Int64ObservableGauge
	segmented       metric.Int64ObservableGauge
	deploymentCount metric.Int64ObservableGauge
	heapUsedBytes   metric.Int64ObservableGauge
	activeJobs      metric.Int64ObservableGauge
	waitingJobs     metric.Int64ObservableGauge
}

// NewRegistry creates and registers the gauges on meter, sourcing
// topology and deployment values from manager and store, and process
// figures from provider, at each collection.
func NewRegistry(meter metric.Meter, manager *core.DiscoveryManager, store *core.DeploymentStore, provider *Provider) (*Registry, error) {
	r := &Registry{}

	var err error
	r.topologyVersion, err = meter.Int64ObservableGauge(
		"gridnode.topology.version",
		metric.WithDescription("current topology version"),
	)
	if err != nil {
		return nil, err
	}
	r.nodeCount, err = meter.Int64ObservableGauge(
		"gridnode.topology.node_count",
		metric.WithDescription("number of nodes in the current topology snapshot"),
	)
	if err != nil {
		return nil, err
	}
	r.segmented, err = meter.Int64ObservableGauge(
		"gridnode.segmentation.segmented",
		metric.WithDescription("1 if the local node believes it is segmented, 0 otherwise"),
	)
	if err != nil {
		return nil, err
	}
	r.deploymentCount, err = meter.Int64ObservableGauge(
		"gridnode.deployment.count",
		metric.WithDescription("number of alive deployments in the local store"),
	)
	if err != nil {
		return nil, err
	}
	r.heapUsedBytes, err = meter.Int64ObservableGauge(
		"gridnode.process.heap_used_bytes",
		metric.WithDescription("heap bytes in use, per runtime.MemStats"),
	)
	if err != nil {
		return nil, err
	}
	r.activeJobs, err = meter.Int64ObservableGauge(
		"gridnode.process.active_jobs",
		metric.WithDescription("jobs currently executing, as reported to the metrics provider"),
	)
	if err != nil {
		return nil, err
	}
	r.waitingJobs, err = meter.Int64ObservableGauge(
		"gridnode.process.waiting_jobs",
		metric.WithDescription("jobs queued but not yet executing, as reported to the metrics provider"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		dc := manager.CurrentDiscoCache()
		o.ObserveInt64(r.topologyVersion, int64(manager.TopologyVersion()))
		if dc != nil {
			o.ObserveInt64(r.nodeCount, int64(len(dc.AllNodes())))
		}
		segmented := int64(0)
		if manager.Segmented() {
			segmented = 1
		}
		o.ObserveInt64(r.segmented, segmented)
		o.ObserveInt64(r.deploymentCount, int64(store.AliveCount()))

		snap := provider.Snapshot()
		o.ObserveInt64(r.heapUsedBytes, int64(snap.HeapUsedBytes))
		o.ObserveInt64(r.activeJobs, int64(snap.ActiveJobs))
		o.ObserveInt64(r.waitingJobs, int64(snap.WaitingJobs))
		return nil
	}, r.topologyVersion, r.nodeCount, r.segmented, r.deploymentCount, r.heapUsedBytes, r.activeJobs, r.waitingJobs)

	return r, err
}
