package status

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/meshcontrol/policy-controller/pkg/policy/watch"
)

// PatchApplier applies one patch to its target's status subresource. The
// real implementation is the Kubernetes API client, injected so this
// package stays free of any particular client or Gateway API version;
// tests supply a fake.
type PatchApplier interface {
	ApplyPatch(ctx context.Context, patch Patch) error
}

// ControllerConfig holds the tunables for Run.
type ControllerConfig struct {
	// ApplyTimeout bounds each individual PatchApplier.ApplyPatch call.
	ApplyTimeout time.Duration
	// ReconcileInterval, if non-zero, ticks ReconcileAll periodically so a
	// dropped patch or a missed leadership window is eventually corrected
	// (spec.md §9 Open Question (b)).
	ReconcileInterval time.Duration
	// ApplyRateLimit caps the steady-state rate of PatchApplier.ApplyPatch
	// calls, in patches/sec; zero disables limiting. A reindex storm (e.g.
	// a NetworkAuthentication change triggering ReindexAll across every
	// namespace) can otherwise produce a burst of patches that saturates
	// the apiserver.
	ApplyRateLimit rate.Limit
	// ApplyBurst is the limiter's burst size; zero defaults to 1 when
	// ApplyRateLimit is set.
	ApplyBurst int
}

func (c ControllerConfig) applyTimeout() time.Duration {
	if c.ApplyTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ApplyTimeout
}

func (c ControllerConfig) limiter() *rate.Limiter {
	if c.ApplyRateLimit <= 0 {
		return nil
	}
	burst := c.ApplyBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(c.ApplyRateLimit, burst)
}

// Run drains idx's patch channel and applies each patch via applier, but
// only while leader reports true. Patches observed while not leader are
// dropped: the leader that eventually takes over will reconstruct the same
// status from its own index, seeded by the periodic ReconcileAll sweep if
// nothing else. Run blocks until ctx is done.
func Run(ctx context.Context, idx *Index, leader *watch.Receiver[bool], applier PatchApplier, cfg ControllerConfig, log logr.Logger) {
	isLeader := false
	limiter := cfg.limiter()

	var ticker *time.Ticker
	var tick <-chan time.Time
	if cfg.ReconcileInterval > 0 {
		ticker = time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case claim, ok := <-leader.C():
			if !ok {
				return
			}
			isLeader = claim
			log.Info("leadership claim changed", "leader", isLeader)

		case patch, ok := <-idx.Patches():
			if !ok {
				return
			}
			if !isLeader {
				continue
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}
			applyWithTimeout(ctx, applier, patch, cfg.applyTimeout(), log)

		case <-tick:
			if isLeader {
				idx.ReconcileAll()
			}
		}
	}
}

func applyWithTimeout(ctx context.Context, applier PatchApplier, patch Patch, timeout time.Duration, log logr.Logger) {
	applyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := applier.ApplyPatch(applyCtx, patch); err != nil {
		log.Error(err, "failed to apply status patch", "target", patch.Target, "routeKind", patch.RouteKind)
	}
}
