// Package authn implements the cross-namespace Authentication index
// (MeshTLSAuthentication and NetworkAuthentication), shared read-only by
// every namespace's policy reindex calls.
package authn

import (
	"reflect"
	"sync"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
)

// Index holds MeshTLSAuthentication and NetworkAuthentication resources
// keyed by namespace and name. It is safe for concurrent use; callers
// mutate through UpdateMeshTLS/UpdateNetwork/DeleteMeshTLS/DeleteNetwork
// and read through LookupMeshTLS/LookupNetwork.
type Index struct {
	mu   sync.RWMutex
	byNS map[string]*namespaceEntry
}

type namespaceEntry struct {
	meshtls map[string][]api.IdentityMatch
	network map[string][]api.NetworkMatch
}

func (e *namespaceEntry) empty() bool {
	return len(e.meshtls) == 0 && len(e.network) == 0
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{byNS: make(map[string]*namespaceEntry)}
}

func (idx *Index) entry(ns string) *namespaceEntry {
	e, ok := idx.byNS[ns]
	if !ok {
		e = &namespaceEntry{
			meshtls: make(map[string][]api.IdentityMatch),
			network: make(map[string][]api.NetworkMatch),
		}
		idx.byNS[ns] = e
	}
	return e
}

// UpdateMeshTLS inserts or replaces a MeshTLSAuthentication's identity list.
// It returns false, making no change, when identities is structurally equal
// to what is already stored — callers use this to skip an unnecessary
// global reindex.
func (idx *Index) UpdateMeshTLS(ns, name string, identities []api.IdentityMatch) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e := idx.entry(ns)
	if existing, ok := e.meshtls[name]; ok && reflect.DeepEqual(existing, identities) {
		return false
	}
	e.meshtls[name] = identities
	return true
}

// UpdateNetwork inserts or replaces a NetworkAuthentication's network list.
func (idx *Index) UpdateNetwork(ns, name string, networks []api.NetworkMatch) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e := idx.entry(ns)
	if existing, ok := e.network[name]; ok && reflect.DeepEqual(existing, networks) {
		return false
	}
	e.network[name] = networks
	return true
}

// DeleteMeshTLS removes a MeshTLSAuthentication. When the namespace's
// meshtls and network tables are both then empty, the namespace entry
// itself is dropped.
func (idx *Index) DeleteMeshTLS(ns, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.deleteLocked(ns, func(e *namespaceEntry) { delete(e.meshtls, name) })
}

// DeleteNetwork removes a NetworkAuthentication.
func (idx *Index) DeleteNetwork(ns, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.deleteLocked(ns, func(e *namespaceEntry) { delete(e.network, name) })
}

func (idx *Index) deleteLocked(ns string, remove func(*namespaceEntry)) {
	e, ok := idx.byNS[ns]
	if !ok {
		return
	}
	remove(e)
	if e.empty() {
		delete(idx.byNS, ns)
	}
}

// LookupMeshTLS returns the identity list for (ns, name) and whether it was
// found.
func (idx *Index) LookupMeshTLS(ns, name string) ([]api.IdentityMatch, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byNS[ns]
	if !ok {
		return nil, false
	}
	identities, ok := e.meshtls[name]
	return identities, ok
}

// LookupNetwork returns the network list for (ns, name) and whether it was
// found.
func (idx *Index) LookupNetwork(ns, name string) ([]api.NetworkMatch, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byNS[ns]
	if !ok {
		return nil, false
	}
	networks, ok := e.network[name]
	return networks, ok
}
