package status

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshcontrol/policy-controller/pkg/policy/api"
)

// Index is the status reconciler's own route/parent/backend table,
// independent of the inbound and outbound indices (§4.7). It computes
// RouteParentStatus condition lists and enqueues bounded JSON-merge-patch
// updates for a leader-elected controller to apply.
type Index struct {
	mu sync.RWMutex

	controllerName string
	now            func() time.Time

	routeRefs    map[api.NamespacedGKN]routeRef
	servers      map[api.NamespacedName]struct{}
	services     map[api.NamespacedName]serviceParentInfo
	unmeshedNets map[api.NamespacedName]struct{}

	patches chan Patch

	patchEnqueues     atomic.Int64
	patchChannelFulls atomic.Int64
}

// NewIndex returns an empty Index. controllerName is the value written
// into every RouteParentStatus.ControllerName this instance produces, and
// is used to distinguish this controller's own status entries from ones
// written by other controllers when reconciling. patchBuffer sizes the
// bounded patch channel (§5's backpressure rule: full channel drops with a
// counter rather than blocking the mutator).
func NewIndex(controllerName string, patchBuffer int) *Index {
	return &Index{
		controllerName: controllerName,
		now:            time.Now,
		routeRefs:      make(map[api.NamespacedGKN]routeRef),
		servers:        make(map[api.NamespacedName]struct{}),
		services:       make(map[api.NamespacedName]serviceParentInfo),
		unmeshedNets:   make(map[api.NamespacedName]struct{}),
		patches:        make(chan Patch, patchBuffer),
	}
}

// Patches returns the receive-only endpoint of the patch channel, drained
// by the controller loop.
func (idx *Index) Patches() <-chan Patch {
	return idx.patches
}

// PatchEnqueues reports how many patches this index has successfully
// enqueued since construction.
func (idx *Index) PatchEnqueues() int64 { return idx.patchEnqueues.Load() }

// PatchChannelFulls reports how many patches were dropped because the
// bounded channel was full.
func (idx *Index) PatchChannelFulls() int64 { return idx.patchChannelFulls.Load() }

// ApplyServer records that a Server parent exists.
func (idx *Index) ApplyServer(ns, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.servers[api.NamespacedName{Namespace: ns, Name: name}] = struct{}{}
}

// DeleteServer removes a Server parent.
func (idx *Index) DeleteServer(ns, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.servers, api.NamespacedName{Namespace: ns, Name: name})
}

// ApplyService records a Service parent's cluster-IP-having status.
func (idx *Index) ApplyService(ns, name string, hasClusterIP bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.services[api.NamespacedName{Namespace: ns, Name: name}] = serviceParentInfo{HasClusterIP: hasClusterIP}
}

// DeleteService removes a Service parent.
func (idx *Index) DeleteService(ns, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.services, api.NamespacedName{Namespace: ns, Name: name})
}

// ApplyUnmeshedNetwork records that an UnmeshedNetwork parent exists.
func (idx *Index) ApplyUnmeshedNetwork(ns, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.unmeshedNets[api.NamespacedName{Namespace: ns, Name: name}] = struct{}{}
}

// DeleteUnmeshedNetwork removes an UnmeshedNetwork parent.
func (idx *Index) DeleteUnmeshedNetwork(ns, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.unmeshedNets, api.NamespacedName{Namespace: ns, Name: name})
}

// ApplyRoute upserts a route's parents/backends/prior-observed-statuses. If
// the route is new or changed, every tracked route is re-evaluated and a
// patch enqueued for any whose computed status changed (§9: the reconciler
// emits unconditionally; only the controller task gates on the leader
// claim). A topology change to one route's parents can flip another
// route's conflict status on a shared parent, which is why this re-walks
// the whole table rather than just the route that was applied — matching
// the teacher's own apply-triggers-reconcile behavior. Returns whether
// this route's own table entry changed.
func (idx *Index) ApplyRoute(gkn api.NamespacedGKN, routeType RouteType, parents []ParentReference, backends []BackendReference, priorStatuses []RouteParentStatus) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	next := routeRef{routeType: routeType, parents: parents, backends: backends, statuses: priorStatuses}
	existing, ok := idx.routeRefs[gkn]
	changed := !ok || !routeRefEqual(existing, next)
	idx.routeRefs[gkn] = next
	if !changed {
		return false
	}

	idx.reconcileAllLocked()
	return true
}

// DeleteRoute removes a route from the table. Per invariant 4, a route
// absent from the index produces no further status for this controller;
// no patch is emitted on deletion (deletion leaves whatever status was
// last written, which is the orchestrator's prerogative to garbage
// collect along with the deleted resource).
func (idx *Index) DeleteRoute(gkn api.NamespacedGKN) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.routeRefs, gkn)
}

// ReconcileAll recomputes every tracked route's status and enqueues a
// patch for any that differ from what was last observed. This is the
// periodic full-reconciliation sweep that recovers from a dropped patch
// or a missed leadership window (spec.md §9 Open Question (b); the sweep
// interval itself is supplied by the caller, not this package).
func (idx *Index) ReconcileAll() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.reconcileAllLocked()
}

func (idx *Index) reconcileAllLocked() {
	for gkn, route := range idx.routeRefs {
		if patch, changed := idx.makeRoutePatchLocked(gkn, route); changed {
			if !idx.enqueueLocked(patch) {
				// Keep the prior statuses so a later reconcile recomputes
				// and re-enqueues this patch.
				idx.routeRefs[gkn] = route
			}
		}
	}
}

func (idx *Index) enqueueLocked(patch Patch) bool {
	select {
	case idx.patches <- patch:
		idx.patchEnqueues.Add(1)
		return true
	default:
		idx.patchChannelFulls.Add(1)
		return false
	}
}

// makeRoutePatchLocked computes the new status list for route and, if it
// differs (time-insensitively) from what is stored, returns the patch to
// apply and records the new statuses as the route's current state.
func (idx *Index) makeRoutePatchLocked(gkn api.NamespacedGKN, route routeRef) (Patch, bool) {
	var unowned []RouteParentStatus
	for _, s := range route.statuses {
		if s.ControllerName != idx.controllerName {
			unowned = append(unowned, s)
		}
	}

	backendCond := idx.backendConditionLocked(route.backends)
	var computed []RouteParentStatus
	for _, parent := range route.parents {
		if s, ok := idx.parentStatusLocked(gkn, route.routeType, parent, backendCond); ok {
			computed = append(computed, s)
		}
	}

	all := append(append([]RouteParentStatus{}, unowned...), computed...)
	if eqTimeInsensitive(all, route.statuses) {
		return Patch{}, false
	}

	doc, err := buildMergePatch(route.statuses, all)
	if err != nil {
		return Patch{}, false
	}

	updated := route
	updated.statuses = all
	idx.routeRefs[gkn] = updated

	return Patch{Target: gkn, RouteKind: gkn.GKN.Kind, Document: doc}, true
}

func (idx *Index) parentStatusLocked(gkn api.NamespacedGKN, routeType RouteType, parent ParentReference, backendCond Condition) (RouteParentStatus, bool) {
	switch parent.Kind {
	case ParentServer:
		var cond Condition
		if _, ok := idx.servers[parent.namespacedName()]; !ok {
			cond = noMatchingParentCondition(idx.now)
		} else if idx.parentHasConflictingRoutesLocked(parent, routeType) {
			cond = routeConflictedCondition(idx.now)
		} else {
			cond = acceptedCondition(idx.now)
		}
		return RouteParentStatus{ParentRef: parent, ControllerName: idx.controllerName, Conditions: []Condition{cond}}, true

	case ParentService:
		info, exists := idx.services[parent.namespacedName()]
		var cond Condition
		switch {
		case !exists:
			cond = noMatchingParentCondition(idx.now)
		case !info.HasClusterIP:
			cond = headlessParentCondition(idx.now)
		case idx.parentHasConflictingRoutesLocked(parent, routeType):
			cond = routeConflictedCondition(idx.now)
		default:
			cond = acceptedCondition(idx.now)
		}
		return RouteParentStatus{ParentRef: parent, ControllerName: idx.controllerName, Conditions: []Condition{cond, backendCond}}, true

	case ParentUnmeshedNetwork:
		_, exists := idx.unmeshedNets[parent.namespacedName()]
		var cond Condition
		switch {
		case !exists:
			cond = noMatchingParentCondition(idx.now)
		case idx.parentHasConflictingRoutesLocked(parent, routeType):
			cond = routeConflictedCondition(idx.now)
		default:
			cond = acceptedCondition(idx.now)
		}
		return RouteParentStatus{ParentRef: parent, ControllerName: idx.controllerName, Conditions: []Condition{cond, backendCond}}, true

	default:
		return RouteParentStatus{}, false
	}
}

// parentHasConflictingRoutesLocked reports whether any OTHER tracked route
// bound to parent has a strictly more specific route type than
// candidateType.
func (idx *Index) parentHasConflictingRoutesLocked(parent ParentReference, candidateType RouteType) bool {
	for _, route := range idx.routeRefs {
		if !route.routeType.moreSpecificThan(candidateType) {
			continue
		}
		for _, p := range route.parents {
			if p == parent {
				return true
			}
		}
	}
	return false
}

func (idx *Index) backendConditionLocked(backends []BackendReference) Condition {
	for _, b := range backends {
		if b.Kind == BackendUnknown {
			return invalidBackendKindCondition(idx.now)
		}
	}
	for _, b := range backends {
		switch b.Kind {
		case BackendService:
			if _, ok := idx.services[b.namespacedName()]; !ok {
				return backendNotFoundCondition(idx.now)
			}
		case BackendUnmeshedNetwork:
			if _, ok := idx.unmeshedNets[b.namespacedName()]; !ok {
				return backendNotFoundCondition(idx.now)
			}
		}
	}
	return resolvedRefsCondition(idx.now)
}
