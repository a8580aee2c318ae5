package inbound

import (
	"fmt"
	"reflect"

	"github.com/go-logr/logr"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
	"github.com/meshcontrol/policy-controller/pkg/policy/authn"
	"github.com/meshcontrol/policy-controller/pkg/policy/watch"
)

// workloadKind distinguishes Pods from ExternalWorkloads so reindexServers
// can share one implementation for both, per §4.4.
type workloadKind int

const (
	kindPod workloadKind = iota
	kindExternalWorkload
)

// workloadMeta is the mutable, equality-checked half of a workload: its
// labels and annotation-derived settings.
type workloadMeta struct {
	Labels   map[string]string
	Settings api.PodSettings
}

// portServer is the observable state of a single (workload, port): which
// Server (if any) currently owns it, and the published InboundServer
// projection.
type portServer struct {
	currentName *string
	value       *watch.Value[api.InboundServer]
}

// workload is the generalized Pod/ExternalWorkload record: named ports
// (immutable after first insert), probe paths (Pods only), and the
// per-port observable table.
type workload struct {
	kind workloadKind
	meta workloadMeta

	// portNames maps a container port name to the numeric ports it expands
	// to. A Pod name may expand to more than one numeric port (multiple
	// containers sharing a name); an ExternalWorkload name expands to
	// exactly one.
	portNames map[string]api.PortSet
	probes    map[api.Port][]string

	portServers map[api.Port]*portServer
}

func newWorkload(kind workloadKind, meta workloadMeta, portNames map[string]api.PortSet, probes map[api.Port][]string) *workload {
	return &workload{
		kind:        kind,
		meta:        meta,
		portNames:   portNames,
		probes:      probes,
		portServers: make(map[api.Port]*portServer),
	}
}

// updateWorkload applies §4.4's update semantics. ok reports whether a
// reindex of this workload is required; err is api.ErrIllegalUpdate when
// portNames would change.
func updateWorkload(existing *workload, meta workloadMeta, portNames map[string]api.PortSet, probes map[api.Port][]string) (ok bool, err error) {
	if existing.portNames != nil && len(existing.portNames) > 0 && !reflect.DeepEqual(existing.portNames, portNames) {
		return false, fmt.Errorf("%w: port-name map is immutable", api.ErrIllegalUpdate)
	}
	metaEqual := reflect.DeepEqual(existing.meta, meta)
	probesEqual := reflect.DeepEqual(existing.probes, probes)
	if metaEqual && probesEqual {
		return false, nil
	}
	existing.meta = meta
	existing.probes = probes
	return true, nil
}

// resolvePortRef expands a Server's PortRef into the set of numeric ports
// it refers to on this workload. ok is false when a named ref names a port
// this workload does not have — the Server silently does not match.
func resolvePortRef(ref api.PortRef, portNames map[string]api.PortSet) (api.PortSet, bool) {
	if !ref.IsNamed() {
		return api.NewPortSet(ref.Number), true
	}
	set, ok := portNames[ref.Name]
	return set, ok
}

func selectorMatchesWorkload(sel api.Selector, kind workloadKind, selectsExternal bool, labels map[string]string) bool {
	if selectsExternal != (kind == kindExternalWorkload) {
		return false
	}
	return sel.Matches("", labels)
}

// reindexServers recomputes every port_server for this workload from the
// current policy index and authentication index, per §4.4.
func (w *workload) reindexServers(policy *PolicyIndex, authns *authn.Index, cluster api.ClusterDefaults, log logr.Logger) {
	unmatched := make(map[api.Port]struct{}, len(w.portServers))
	for port := range w.portServers {
		unmatched[port] = struct{}{}
	}

	matchedBy := make(map[api.Port]string)
	for _, name := range policy.orderedServerNames() {
		server := policy.servers[name]
		if !selectorMatchesWorkload(server.Selector, w.kind, server.SelectsExternalWorkloads, w.meta.Labels) {
			continue
		}
		ports, ok := resolvePortRef(server.Port, w.portNames)
		if !ok {
			continue
		}
		for port := range ports {
			if owner, taken := matchedBy[port]; taken {
				if owner != name {
					log.Info("server port conflict, keeping first-seen owner",
						"port", port, "owner", owner, "rejected", name)
				}
				continue
			}
			matchedBy[port] = name
			probePaths := w.probes[port]
			projection := policy.inboundServer(name, server, authns, probePaths)
			w.updateServer(port, name, projection)
			delete(unmatched, port)
		}
	}

	for port := range unmatched {
		w.setDefaultServer(port, cluster)
	}
}

// updateServer upserts the projection for (w, port) as owned by the named
// Server, publishing only when the (name, projection) pair actually
// changed.
func (w *workload) updateServer(port api.Port, name string, projection api.InboundServer) {
	ps, ok := w.portServers[port]
	if !ok {
		ps = &portServer{currentName: &name, value: watch.NewValue(projection)}
		w.portServers[port] = ps
		return
	}
	if ps.currentName != nil && *ps.currentName == name {
		ps.value.PublishIfModified(projection, inboundServerEqual)
		return
	}
	ps.currentName = &name
	ps.value.PublishIfModified(projection, inboundServerEqual)
}

// setDefaultServer marks (w, port) as using the cluster default policy.
func (w *workload) setDefaultServer(port api.Port, cluster api.ClusterDefaults) {
	probePaths := w.probes[port]
	projection := DefaultInboundServer(port, w.meta.Settings, probePaths, cluster)

	ps, ok := w.portServers[port]
	if !ok {
		ps = &portServer{currentName: nil, value: watch.NewValue(projection)}
		w.portServers[port] = ps
		return
	}
	ps.currentName = nil
	ps.value.PublishIfModified(projection, inboundServerEqual)
}

// portServerOrDefault lazily creates a default PortServer on first
// subscription for a port no Server has ever selected. This is the only
// point at which a read can add to the index.
func (w *workload) portServerOrDefault(port api.Port, cluster api.ClusterDefaults) *portServer {
	if ps, ok := w.portServers[port]; ok {
		return ps
	}
	w.setDefaultServer(port, cluster)
	return w.portServers[port]
}

func inboundServerEqual(a, b api.InboundServer) bool {
	return reflect.DeepEqual(a, b)
}
