// Package main is the entrypoint for the policy controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
	"github.com/meshcontrol/policy-controller/pkg/policy/authn"
	"github.com/meshcontrol/policy-controller/pkg/policy/inbound"
	"github.com/meshcontrol/policy-controller/pkg/policy/leader"
	"github.com/meshcontrol/policy-controller/pkg/policy/metrics"
	"github.com/meshcontrol/policy-controller/pkg/policy/outbound"
	"github.com/meshcontrol/policy-controller/pkg/policy/status"
	"github.com/meshcontrol/policy-controller/pkg/policy/watch"
)

var setupLog = ctrl.Log.WithName("setup")

func main() {
	var (
		metricsAddr       string
		controllerName    string
		annotationDomain  string
		identityDomain    string
		defaultPolicy     string
		clusterNetworks   string
		probeNetworks     string
		leaseNamespace    string
		leaseName         string
		patchBuffer       int
		applyTimeout      time.Duration
		reconcileInterval time.Duration
		enableLeaderElect bool
	)
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	flag.StringVar(&controllerName, "controller-name", "policy.mesh.io/policy-controller", "The controllerName written into every status patch this instance produces.")
	flag.StringVar(&annotationDomain, "annotation-domain", "mesh.io", "DNS suffix for balancer./timeout. service annotations.")
	flag.StringVar(&identityDomain, "identity-domain", "cluster.local", "Trust domain for mesh TLS identities.")
	flag.StringVar(&defaultPolicy, "default-policy", string(api.AllUnauthenticated), "Cluster-wide default authorization policy for ports with no matching Server.")
	flag.StringVar(&clusterNetworks, "cluster-networks", "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16", "Comma-separated CIDRs considered in-cluster.")
	flag.StringVar(&probeNetworks, "probe-networks", "", "Comma-separated CIDRs allowed to perform liveness/readiness probes without mesh identity.")
	flag.StringVar(&leaseNamespace, "lease-namespace", "policy-system", "Namespace of the leader-election Lease.")
	flag.StringVar(&leaseName, "lease-name", "policy-controller", "Name of the leader-election Lease.")
	flag.IntVar(&patchBuffer, "patch-buffer", 256, "Capacity of the bounded status-patch channel.")
	flag.DurationVar(&applyTimeout, "apply-timeout", 10*time.Second, "Timeout for a single status patch apply call.")
	flag.DurationVar(&reconcileInterval, "reconcile-interval", 30*time.Second, "Interval of the periodic full status reconciliation sweep.")
	flag.BoolVar(&enableLeaderElect, "leader-elect", true, "Gate status patch application on leader election.")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	log := zap.New(zap.UseFlagOptions(&opts))
	ctrl.SetLogger(log)

	cluster, err := parseClusterDefaults(defaultPolicy, identityDomain, annotationDomain, clusterNetworks, probeNetworks)
	if err != nil {
		setupLog.Error(err, "invalid cluster defaults")
		os.Exit(1)
	}

	authnIdx := authn.NewIndex()
	inboundIdx := inbound.NewIndex(cluster, authnIdx, log.WithName("inbound"))
	outboundIdx := outbound.NewIndex(log.WithName("outbound"))
	statusIdx := status.NewIndex(controllerName, patchBuffer)

	// The cluster watch client that drives inboundIdx/outboundIdx/statusIdx's
	// Apply*/Delete* methods from informer events, and the gRPC server that
	// serves PodServerRx/OutboundPolicyRx to proxies, are the external
	// collaborators spec.md §1 places out of scope for this core; wiring
	// them is the remaining assembly step once those transports exist.
	_, _ = inboundIdx, outboundIdx

	cfg := ctrl.GetConfigOrDie()

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		setupLog.Error(err, "unable to build kubernetes client")
		os.Exit(1)
	}

	dynClient, err := dynamic.NewForConfig(cfg)
	if err != nil {
		setupLog.Error(err, "unable to build dynamic client")
		os.Exit(1)
	}

	hostname, _ := os.Hostname()
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Namespace: leaseNamespace,
			Name:      leaseName,
		},
		Client: clientset.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: hostname,
		},
	}

	elector := leader.NewElector(leader.Config{Lock: lock}, log.WithName("leader"))

	registry := metrics.NewRegistry(statusIdx)
	promReg := prometheus.NewRegistry()
	if err := registry.Register(promReg); err != nil {
		setupLog.Error(err, "unable to register metrics")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go serveMetrics(ctx, metricsAddr, promReg, log.WithName("metrics"))

	if enableLeaderElect {
		go func() {
			if err := elector.Run(ctx); err != nil {
				setupLog.Error(err, "leader election stopped")
			}
		}()
	}

	applier := newDynamicPatchApplier(dynClient)
	leaderRx := elector.Subscribe()
	if !enableLeaderElect {
		// No election runs, so this instance applies every patch.
		leaderRx = watch.NewValue(true).Subscribe()
	}

	setupLog.Info("starting status controller",
		"controllerName", controllerName, "patchBuffer", patchBuffer, "reconcileInterval", reconcileInterval)
	status.Run(ctx, statusIdx, leaderRx, applier, status.ControllerConfig{
		ApplyTimeout:      applyTimeout,
		ReconcileInterval: reconcileInterval,
	}, log.WithName("status"))

	setupLog.Info("shutting down")
}

func parseClusterDefaults(defaultPolicy, identityDomain, annotationDomain, clusterNetworks, probeNetworks string) (api.ClusterDefaults, error) {
	clusterNets, err := parseNetworks(clusterNetworks)
	if err != nil {
		return api.ClusterDefaults{}, fmt.Errorf("cluster-networks: %w", err)
	}
	probeNets, err := parseNetworks(probeNetworks)
	if err != nil {
		return api.ClusterDefaults{}, fmt.Errorf("probe-networks: %w", err)
	}
	return api.ClusterDefaults{
		DefaultPolicy:        api.DefaultPolicy(defaultPolicy),
		DefaultDetectTimeout: 10 * time.Second,
		ProbeNetworks:        probeNets,
		ClusterNetworks:      clusterNets,
		IdentityDomain:       identityDomain,
		AnnotationDomain:     annotationDomain,
	}, nil
}

func parseNetworks(raw string) ([]api.NetworkMatch, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []api.NetworkMatch
	for _, cidr := range strings.Split(raw, ",") {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", cidr, err)
		}
		out = append(out, api.NetworkMatch{CIDR: prefix})
	}
	return out, nil
}

// statusLogger is the subset of logr.Logger serveMetrics needs, kept narrow
// so this file doesn't have to import go-logr just to name the parameter
// type (main already holds a concrete logr.Logger from zap.New).
type statusLogger interface {
	Info(msg string, keysAndValues ...any)
	Error(err error, msg string, keysAndValues ...any)
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log statusLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", "address", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error(err, "metrics server stopped unexpectedly")
	}
}
