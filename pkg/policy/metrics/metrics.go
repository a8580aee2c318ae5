// Package metrics registers Prometheus collectors for the index and
// reconciler counters the ambient stack tracks: server conflicts, patch
// backpressure, patch-apply failures, and reindex-all sweeps. Registration
// only; scraping/serving the /metrics endpoint is the out-of-scope metrics
// infrastructure (spec.md §1).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "policy_controller"

// StatusIndex is the subset of *status.Index this package reads counters
// from, kept as an interface so this package never imports pkg/policy/status
// (avoiding the reverse: status importing metrics).
type StatusIndex interface {
	PatchEnqueues() int64
	PatchChannelFulls() int64
}

// Registry bundles every collector this controller exposes. The conflict,
// reindex and patch-apply-failure counters are exported for callers to Inc;
// no index or controller package in this module increments them. Patch
// backpressure is read on each scrape
// directly from a live *status.Index via GaugeFunc, since that counter
// already lives there as an atomic.Int64 and duplicating it here would risk
// drift.
type Registry struct {
	ServerConflictsTotal prometheus.Counter
	ReindexTotal         prometheus.Counter
	PatchApplyFailures   prometheus.Counter

	patchEnqueues     prometheus.GaugeFunc
	patchChannelFulls prometheus.GaugeFunc
}

// NewRegistry constructs a Registry reading patch-channel counters from
// statusIdx. Call Register to add every collector to a prometheus.Registerer.
func NewRegistry(statusIdx StatusIndex) *Registry {
	return &Registry{
		ServerConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_conflicts_total",
			Help:      "Total number of inbound server port conflicts resolved by first-seen-wins.",
		}),
		ReindexTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reindex_all_total",
			Help:      "Total number of explicit reindex-all signals processed.",
		}),
		PatchApplyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_patch_apply_failures_total",
			Help:      "Total number of status patches that failed to apply.",
		}),
		patchEnqueues: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_patch_enqueues_total",
			Help:      "Total number of status patches successfully enqueued.",
		}, func() float64 { return float64(statusIdx.PatchEnqueues()) }),
		patchChannelFulls: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_patch_channel_fulls_total",
			Help:      "Total number of status patches dropped because the bounded patch channel was full.",
		}, func() float64 { return float64(statusIdx.PatchChannelFulls()) }),
	}
}

// Register adds every collector in r to reg.
func (r *Registry) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		r.ServerConflictsTotal,
		r.ReindexTotal,
		r.PatchApplyFailures,
		r.patchEnqueues,
		r.patchChannelFulls,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
