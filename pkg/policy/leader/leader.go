// Package leader adapts a client-go leader elector into the same
// coalescing observable the rest of this module uses for everything else,
// so the status controller can select over a leader-claim channel exactly
// like it selects over a patch channel.
package leader

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/meshcontrol/policy-controller/pkg/policy/watch"
)

// Config holds the lease identity and timing for one Elector.
type Config struct {
	// Lock is the resourcelock backing the election (a LeaseLock in
	// production; an in-memory fake in tests).
	Lock resourcelock.Interface

	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration
}

func (c Config) leaseDuration() time.Duration {
	if c.LeaseDuration <= 0 {
		return 15 * time.Second
	}
	return c.LeaseDuration
}

func (c Config) renewDeadline() time.Duration {
	if c.RenewDeadline <= 0 {
		return 10 * time.Second
	}
	return c.RenewDeadline
}

func (c Config) retryPeriod() time.Duration {
	if c.RetryPeriod <= 0 {
		return 2 * time.Second
	}
	return c.RetryPeriod
}

// Elector runs a client-go leader election loop and republishes the
// resulting claim as a watch.Value[bool], so every subscriber — today,
// just the status controller loop — observes claim transitions the same
// way it observes any other index projection. Indices themselves run
// unconditionally regardless of this value; only the status controller's
// patch-apply step gates on it (spec.md §9).
type Elector struct {
	cfg   Config
	log   logr.Logger
	claim *watch.Value[bool]
}

// NewElector returns an Elector whose claim starts false until the
// underlying election reports this process as leader.
func NewElector(cfg Config, log logr.Logger) *Elector {
	return &Elector{cfg: cfg, log: log, claim: watch.NewValue(false)}
}

// Subscribe returns a receiver for this Elector's leader-claim value.
func (e *Elector) Subscribe() *watch.Receiver[bool] {
	return e.claim.Subscribe()
}

// Run returns the error from building the LeaderElector if the election
// config is invalid. Otherwise it runs client-go's election loop, which
// keeps retrying acquisition, and returns nil when ctx is done or once a
// lease this process held is lost (the claim is then published false). Run
// does not start a new election after returning.
func (e *Elector) Run(ctx context.Context) error {
	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            e.cfg.Lock,
		LeaseDuration:   e.cfg.leaseDuration(),
		RenewDeadline:   e.cfg.renewDeadline(),
		RetryPeriod:     e.cfg.retryPeriod(),
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(context.Context) {
				e.log.Info("acquired leadership")
				e.claim.Publish(true)
			},
			OnStoppedLeading: func() {
				e.log.Info("lost leadership")
				e.claim.Publish(false)
			},
			OnNewLeader: func(identity string) {
				e.log.Info("observed leader", "identity", identity)
			},
		},
	})
	if err != nil {
		return err
	}

	elector.Run(ctx)
	return nil
}
