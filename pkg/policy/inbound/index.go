package inbound

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
	"github.com/meshcontrol/policy-controller/pkg/policy/authn"
	"github.com/meshcontrol/policy-controller/pkg/policy/durationutil"
	"github.com/meshcontrol/policy-controller/pkg/policy/watch"
)

type namespaceState struct {
	pods              map[string]*workload
	externalWorkloads map[string]*workload
	policy            *PolicyIndex
}

func newNamespaceState(ns string, cluster api.ClusterDefaults) *namespaceState {
	return &namespaceState{
		pods:              make(map[string]*workload),
		externalWorkloads: make(map[string]*workload),
		policy:            newPolicyIndex(ns, cluster),
	}
}

func (n *namespaceState) isEmpty() bool {
	return len(n.pods) == 0 && len(n.externalWorkloads) == 0 && n.policy.isEmpty()
}

// Index is the top-level inbound coordinator: it composes the
// authentication index, per-namespace policy indices, and per-namespace
// workload tables, and exposes PodServerRx/ExternalWorkloadServerRx.
type Index struct {
	mu         sync.RWMutex
	cluster    api.ClusterDefaults
	authns     *authn.Index
	log        logr.Logger
	namespaces map[string]*namespaceState

	// podsByIP is the global address->pod reverse index (spec.md §3/§5),
	// written by ApplyPod/DeletePod and read by LookupPodByIP.
	podsByIP map[string]api.NamespacedName
	podIPs   map[api.NamespacedName]string
}

// NewIndex returns an empty Index seeded with cluster and backed by authns.
// Server/port ownership conflicts (§7) are reported through log.
func NewIndex(cluster api.ClusterDefaults, authns *authn.Index, log logr.Logger) *Index {
	return &Index{
		cluster:    cluster,
		authns:     authns,
		log:        log,
		namespaces: make(map[string]*namespaceState),
		podsByIP:   make(map[string]api.NamespacedName),
		podIPs:     make(map[api.NamespacedName]string),
	}
}

// LookupPodByIP resolves a pod IP to its namespace/name, for address-based
// client lookups (spec.md §3/§5).
func (idx *Index) LookupPodByIP(ip string) (api.NamespacedName, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ref, ok := idx.podsByIP[ip]
	return ref, ok
}

// updatePodIPLocked replaces ref's reverse-index entry with ip, evicting
// the prior entry (if any). An empty ip removes the entry entirely.
func (idx *Index) updatePodIPLocked(ref api.NamespacedName, ip string) {
	if old, ok := idx.podIPs[ref]; ok {
		delete(idx.podsByIP, old)
	}
	if ip == "" {
		delete(idx.podIPs, ref)
		return
	}
	idx.podIPs[ref] = ip
	idx.podsByIP[ip] = ref
}

func (idx *Index) namespace(ns string) *namespaceState {
	n, ok := idx.namespaces[ns]
	if !ok {
		n = newNamespaceState(ns, idx.cluster)
		idx.namespaces[ns] = n
	}
	return n
}

func (idx *Index) pruneNamespaceLocked(ns string) {
	if n, ok := idx.namespaces[ns]; ok && n.isEmpty() {
		delete(idx.namespaces, ns)
	}
}

// PodServerRx returns a receive-only endpoint carrying InboundServer values
// for (ns, pod, port). Returns api.ErrNotFound if the pod is not indexed.
func (idx *Index) PodServerRx(ns, pod string, port api.Port) (*watch.Receiver[api.InboundServer], error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.namespaces[ns]
	if !ok {
		return nil, api.ErrNotFound
	}
	wl, ok := n.pods[pod]
	if !ok {
		return nil, api.ErrNotFound
	}
	ps := wl.portServerOrDefault(port, idx.cluster)
	return ps.value.Subscribe(), nil
}

// ExternalWorkloadServerRx is the ExternalWorkload analogue of PodServerRx.
func (idx *Index) ExternalWorkloadServerRx(ns, name string, port api.Port) (*watch.Receiver[api.InboundServer], error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.namespaces[ns]
	if !ok {
		return nil, api.ErrNotFound
	}
	wl, ok := n.externalWorkloads[name]
	if !ok {
		return nil, api.ErrNotFound
	}
	ps := wl.portServerOrDefault(port, idx.cluster)
	return ps.value.Subscribe(), nil
}

// parsePodSettingsLocked parses the raw Pod/ExternalWorkload annotations via
// durationutil, logging (not failing) any malformed family so the caller
// falls back to that field's zero value (§7 "illegal spec").
func (idx *Index) parsePodSettingsLocked(ns, name string, annotations map[string]string) api.PodSettings {
	settings, errs := durationutil.ParsePodSettings(annotations)
	for _, err := range errs {
		idx.log.Info("ignoring malformed pod annotation", "namespace", ns, "name", name, "error", err.Error())
	}
	return settings
}

// ApplyPod upserts a Pod's metadata, named ports, and probe paths, then
// reindexes just that pod. annotations is parsed into PodSettings
// internally; ip populates the pods-by-IP reverse index (§3/§5).
func (idx *Index) ApplyPod(ns, name string, labels, annotations map[string]string, ip string, portNames map[string]api.PortSet, probes map[api.Port][]string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.updatePodIPLocked(api.NamespacedName{Namespace: ns, Name: name}, ip)

	n := idx.namespace(ns)
	settings := idx.parsePodSettingsLocked(ns, name, annotations)
	meta := workloadMeta{Labels: labels, Settings: settings}
	wl, ok := n.pods[name]
	if !ok {
		wl = newWorkload(kindPod, meta, portNames, probes)
		n.pods[name] = wl
		wl.reindexServers(n.policy, idx.authns, idx.cluster, idx.log)
		return nil
	}
	changed, err := updateWorkload(wl, meta, portNames, probes)
	if err != nil {
		return err
	}
	if changed {
		wl.reindexServers(n.policy, idx.authns, idx.cluster, idx.log)
	}
	return nil
}

// DeletePod removes a pod from its namespace index and its pods-by-IP
// reverse-index entry.
func (idx *Index) DeletePod(ns, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.updatePodIPLocked(api.NamespacedName{Namespace: ns, Name: name}, "")
	n, ok := idx.namespaces[ns]
	if !ok {
		return
	}
	if wl, ok := n.pods[name]; ok {
		for _, ps := range wl.portServers {
			ps.value.Close()
		}
	}
	delete(n.pods, name)
	idx.pruneNamespaceLocked(ns)
}

// ApplyExternalWorkload is the ExternalWorkload analogue of ApplyPod. It
// shares the pods-by-IP reverse index: an ExternalWorkload's IP resolves
// the same way a Pod's does (spec.md §5).
func (idx *Index) ApplyExternalWorkload(ns, name string, labels, annotations map[string]string, ip string, portNames map[string]api.PortSet) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.updatePodIPLocked(api.NamespacedName{Namespace: ns, Name: name}, ip)

	n := idx.namespace(ns)
	settings := idx.parsePodSettingsLocked(ns, name, annotations)
	meta := workloadMeta{Labels: labels, Settings: settings}
	wl, ok := n.externalWorkloads[name]
	if !ok {
		wl = newWorkload(kindExternalWorkload, meta, portNames, nil)
		n.externalWorkloads[name] = wl
		wl.reindexServers(n.policy, idx.authns, idx.cluster, idx.log)
		return nil
	}
	changed, err := updateWorkload(wl, meta, portNames, nil)
	if err != nil {
		return err
	}
	if changed {
		wl.reindexServers(n.policy, idx.authns, idx.cluster, idx.log)
	}
	return nil
}

// DeleteExternalWorkload removes an external workload from its namespace
// index and its pods-by-IP reverse-index entry.
func (idx *Index) DeleteExternalWorkload(ns, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.updatePodIPLocked(api.NamespacedName{Namespace: ns, Name: name}, "")
	n, ok := idx.namespaces[ns]
	if !ok {
		return
	}
	if wl, ok := n.externalWorkloads[name]; ok {
		for _, ps := range wl.portServers {
			ps.value.Close()
		}
	}
	delete(n.externalWorkloads, name)
	idx.pruneNamespaceLocked(ns)
}

func (idx *Index) reindexNamespace(ns string) {
	n, ok := idx.namespaces[ns]
	if !ok {
		return
	}
	for _, wl := range n.pods {
		wl.reindexServers(n.policy, idx.authns, idx.cluster, idx.log)
	}
	for _, wl := range n.externalWorkloads {
		wl.reindexServers(n.policy, idx.authns, idx.cluster, idx.log)
	}
}

// ReindexAll recomputes every workload in every namespace. Called after a
// MeshTLSAuthentication or NetworkAuthentication change, which may be
// referenced by an AuthorizationPolicy in any namespace (§4.2, §9).
func (idx *Index) ReindexAll() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for ns := range idx.namespaces {
		idx.reindexNamespace(ns)
	}
}

// ApplyServer upserts a Server and, if changed, reindexes its namespace.
func (idx *Index) ApplyServer(ns, name string, value api.Server) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n := idx.namespace(ns)
	if n.policy.updateServer(name, value) {
		idx.reindexNamespace(ns)
	}
}

// DeleteServer removes a Server and reindexes its namespace.
func (idx *Index) DeleteServer(ns, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n, ok := idx.namespaces[ns]
	if !ok {
		return
	}
	n.policy.deleteServer(name)
	idx.reindexNamespace(ns)
	idx.pruneNamespaceLocked(ns)
}

// ApplyServerAuthorization upserts a ServerAuthorization and, if changed,
// reindexes its namespace.
func (idx *Index) ApplyServerAuthorization(ns, name string, value api.ServerAuthorization) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n := idx.namespace(ns)
	if n.policy.updateServerAuthorization(name, value) {
		idx.reindexNamespace(ns)
	}
}

// DeleteServerAuthorization removes a ServerAuthorization and reindexes its
// namespace.
func (idx *Index) DeleteServerAuthorization(ns, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n, ok := idx.namespaces[ns]
	if !ok {
		return
	}
	n.policy.deleteServerAuthorization(name)
	idx.reindexNamespace(ns)
	idx.pruneNamespaceLocked(ns)
}

// ApplyAuthorizationPolicy upserts an AuthorizationPolicy and, if changed,
// reindexes its namespace.
func (idx *Index) ApplyAuthorizationPolicy(ns, name string, value api.AuthorizationPolicy) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n := idx.namespace(ns)
	if n.policy.updateAuthorizationPolicy(name, value) {
		idx.reindexNamespace(ns)
	}
}

// DeleteAuthorizationPolicy removes an AuthorizationPolicy and reindexes its
// namespace.
func (idx *Index) DeleteAuthorizationPolicy(ns, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n, ok := idx.namespaces[ns]
	if !ok {
		return
	}
	n.policy.deleteAuthorizationPolicy(name)
	idx.reindexNamespace(ns)
	idx.pruneNamespaceLocked(ns)
}

// ApplyHTTPRoute upserts an HTTPRoute binding and, if changed, reindexes
// its namespace. serverParents lists the names of the Servers this route
// names as parents; each is recorded as a Server-kind parent.
func (idx *Index) ApplyHTTPRoute(ns string, gkn api.GroupKindName, serverParents []string, projection api.HTTPRouteProjection) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n := idx.namespace(ns)
	parents := make([]routeParent, len(serverParents))
	for i, name := range serverParents {
		parents[i] = routeParent{Kind: "Server", Name: name}
	}
	if n.policy.updateHTTPRoute(gkn, parents, projection) {
		idx.reindexNamespace(ns)
	}
}

// DeleteHTTPRoute removes an HTTPRoute binding and reindexes its
// namespace.
func (idx *Index) DeleteHTTPRoute(ns string, gkn api.GroupKindName) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n, ok := idx.namespaces[ns]
	if !ok {
		return
	}
	n.policy.deleteHTTPRoute(gkn)
	idx.reindexNamespace(ns)
	idx.pruneNamespaceLocked(ns)
}

// UpdateMeshTLSAuthentication applies a MeshTLSAuthentication change and, if
// the stored identities actually changed, triggers a global reindex.
func (idx *Index) UpdateMeshTLSAuthentication(ns, name string, identities []api.IdentityMatch) {
	if idx.authns.UpdateMeshTLS(ns, name, identities) {
		idx.ReindexAll()
	}
}

// DeleteMeshTLSAuthentication removes a MeshTLSAuthentication and reindexes
// all namespaces.
func (idx *Index) DeleteMeshTLSAuthentication(ns, name string) {
	idx.authns.DeleteMeshTLS(ns, name)
	idx.ReindexAll()
}

// UpdateNetworkAuthentication applies a NetworkAuthentication change and, if
// changed, triggers a global reindex.
func (idx *Index) UpdateNetworkAuthentication(ns, name string, networks []api.NetworkMatch) {
	if idx.authns.UpdateNetwork(ns, name, networks) {
		idx.ReindexAll()
	}
}

// DeleteNetworkAuthentication removes a NetworkAuthentication and reindexes
// all namespaces.
func (idx *Index) DeleteNetworkAuthentication(ns, name string) {
	idx.authns.DeleteNetwork(ns, name)
	idx.ReindexAll()
}
